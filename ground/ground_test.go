package ground_test

import (
	"errors"
	"testing"

	"github.com/benbjohnson/cegqi"
	"github.com/benbjohnson/cegqi/ground"
	"github.com/google/go-cmp/cmp"
)

func TestEngine_Merge(t *testing.T) {
	t.Run("Transitive", func(t *testing.T) {
		e := ground.NewEngine()
		a, b, c := cegqi.NewVar("a", cegqi.IntType), cegqi.NewVar("b", cegqi.IntType), cegqi.NewVar("c", cegqi.IntType)
		MustMerge(t, e, a, b)
		MustMerge(t, e, c, b)

		if rep := e.Representative(c); rep != cegqi.Term(a) {
			t.Fatalf("unexpected representative: %s", rep)
		} else if diff := cmp.Diff(termStrings(e.EqClass(a)), []string{"a", "b", "c"}); diff != "" {
			t.Fatal(diff)
		} else if got, want := e.Stats().MergeN, 2; got != want {
			t.Fatalf("MergeN=%d, want %d", got, want)
		}
	})

	t.Run("Congruence", func(t *testing.T) {
		e := ground.NewEngine()
		a, b := cegqi.NewVar("a", cegqi.IntType), cegqi.NewVar("b", cegqi.IntType)
		f := cegqi.NewFunc("f", []*cegqi.Type{cegqi.IntType}, cegqi.IntType)
		fa, fb := cegqi.NewApply(f, a), cegqi.NewApply(f, b)
		MustAddTerm(t, e, fa)
		MustAddTerm(t, e, fb)
		if cegqi.TermEqual(e.Representative(fa), e.Representative(fb)) {
			t.Fatal("expected distinct classes")
		}

		MustMerge(t, e, a, b)
		if rep := e.Representative(fb); !cegqi.TermEqual(rep, fa) {
			t.Fatalf("unexpected representative: %s", rep)
		}
	})

	t.Run("SelectorOfConstructor", func(t *testing.T) {
		e := ground.NewEngine()
		list := NewListType()
		cons, null := list.Constructors[0], list.Constructors[1]
		d := cegqi.NewVar("d", list)

		MustMerge(t, e, d, cegqi.NewConstructorApp(cons, cegqi.NewIntConst(1), cegqi.NewConstructorApp(null)))
		head := cegqi.NewSelectorApp(cons.Selectors[0], d)
		MustAddTerm(t, e, head)
		if rep := e.Representative(head); rep.String() != "1" {
			t.Fatalf("unexpected representative: %s", rep)
		} else if v := e.ModelValue(head); v.String() != "1" {
			t.Fatalf("unexpected value: %s", v)
		}
	})

	t.Run("ErrConflict", func(t *testing.T) {
		e := ground.NewEngine()
		a, b := cegqi.NewVar("a", cegqi.IntType), cegqi.NewVar("b", cegqi.IntType)
		MustMerge(t, e, a, cegqi.NewIntConst(1))
		MustMerge(t, e, b, cegqi.NewIntConst(2))
		if err := e.Merge(a, b); !errors.Is(err, ground.ErrConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestEngine_Assert(t *testing.T) {
	t.Run("Facts", func(t *testing.T) {
		e := ground.NewEngine()
		x := cegqi.NewVar("x", cegqi.IntType)
		lower, upper := cegqi.NewGeq(x, cegqi.NewIntConst(1)), cegqi.NewLt(x, cegqi.NewIntConst(5))
		MustAssert(t, e, lower)
		MustAssert(t, e, upper)

		if diff := cmp.Diff(termStrings(e.Facts(cegqi.TheoryArith)), []string{"(>= x 1)", "(not (>= x 5))"}); diff != "" {
			t.Fatal(diff)
		} else if len(e.Facts(cegqi.TheoryUF)) != 0 {
			t.Fatal("expected no uf facts")
		} else if rep := e.Representative(lower); rep != cegqi.Term(cegqi.True) {
			t.Fatalf("unexpected representative: %s", rep)
		} else if rep := e.Representative(cegqi.NewGeq(x, cegqi.NewIntConst(5))); rep != cegqi.Term(cegqi.False) {
			t.Fatalf("unexpected representative: %s", rep)
		}
	})

	t.Run("Equality", func(t *testing.T) {
		e := ground.NewEngine()
		x, y := cegqi.NewVar("x", cegqi.RealType), cegqi.NewVar("y", cegqi.RealType)
		MustAssert(t, e, cegqi.NewEq(x, y))
		if !cegqi.TermEqual(e.Representative(y), e.Representative(x)) {
			t.Fatal("expected x and y to be merged")
		}
	})

	t.Run("Disequality", func(t *testing.T) {
		e := ground.NewEngine()
		x, y := cegqi.NewVar("x", cegqi.IntType), cegqi.NewVar("y", cegqi.IntType)
		MustAssert(t, e, cegqi.NewNot(cegqi.NewEq(x, y)))
		if err := e.Merge(x, y); !errors.Is(err, ground.ErrConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("ErrNotLiteral", func(t *testing.T) {
		e := ground.NewEngine()
		p, q := cegqi.NewVar("p", cegqi.BoolType), cegqi.NewVar("q", cegqi.BoolType)
		if err := e.Assert(cegqi.TheoryBool, cegqi.NewOr(p, q)); !errors.Is(err, ground.ErrNotLiteral) {
			t.Fatalf("unexpected error: %v", err)
		} else if err := e.Assert(cegqi.TheoryArith, cegqi.NewIntConst(1)); !errors.Is(err, ground.ErrNotLiteral) {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestLiteralTheory(t *testing.T) {
	x, y := cegqi.NewVar("x", cegqi.IntType), cegqi.NewVar("y", cegqi.IntType)
	u := cegqi.NewSortType("U")
	a, b := cegqi.NewVar("a", u), cegqi.NewVar("b", u)
	bv := cegqi.NewVar("v", cegqi.NewBitVecType(8))
	p := cegqi.NewFunc("p", []*cegqi.Type{u}, cegqi.BoolType)

	for _, tt := range []struct {
		lit  cegqi.Term
		want cegqi.TheoryID
	}{
		{cegqi.NewGeq(x, y), cegqi.TheoryArith},
		{cegqi.NewNot(cegqi.NewEq(x, y)), cegqi.TheoryArith},
		{cegqi.NewEq(a, b), cegqi.TheoryUF},
		{cegqi.NewApply(p, a), cegqi.TheoryUF},
		{cegqi.NewBVUlt(bv, cegqi.NewBVConst(3, 8)), cegqi.TheoryBV},
		{cegqi.NewVar("q", cegqi.BoolType), cegqi.TheoryBool},
	} {
		if got := ground.LiteralTheory(tt.lit); got != tt.want {
			t.Errorf("LiteralTheory(%s)=%s, want %s", tt.lit, got, tt.want)
		}
	}
}

func TestEngine_ModelValue(t *testing.T) {
	t.Run("Explicit", func(t *testing.T) {
		e := ground.NewEngine()
		x := cegqi.NewVar("x", cegqi.IntType)
		e.SetValue(x, cegqi.NewIntConst(3))
		if v := e.ModelValue(cegqi.NewPlus(x, cegqi.NewIntConst(1))); v.String() != "4" {
			t.Fatalf("unexpected value: %s", v)
		}
	})

	t.Run("Class", func(t *testing.T) {
		e := ground.NewEngine()
		x := cegqi.NewVar("x", cegqi.RealType)
		MustMerge(t, e, x, cegqi.NewRealConst(5, 2))
		if v := e.ModelValue(x); v.String() != "(/ 5 2)" {
			t.Fatalf("unexpected value: %s", v)
		}
	})

	t.Run("Application", func(t *testing.T) {
		e := ground.NewEngine()
		x, y := cegqi.NewVar("x", cegqi.IntType), cegqi.NewVar("y", cegqi.IntType)
		f := cegqi.NewFunc("f", []*cegqi.Type{cegqi.IntType}, cegqi.IntType)
		MustMerge(t, e, cegqi.NewApply(f, y), cegqi.NewIntConst(7))
		e.SetValue(x, cegqi.NewIntConst(3))
		e.SetValue(y, cegqi.NewIntConst(3))

		if v := e.ModelValue(cegqi.NewApply(f, x)); v.String() != "7" {
			t.Fatalf("unexpected value: %s", v)
		}
	})

	t.Run("ClassApplication", func(t *testing.T) {
		e := ground.NewEngine()
		x, y := cegqi.NewVar("x", cegqi.IntType), cegqi.NewVar("y", cegqi.IntType)
		sum := cegqi.NewPlus(y, cegqi.NewIntConst(1))
		MustMerge(t, e, x, sum)

		if v := e.ModelValue(x); v.String() != "1" {
			t.Fatalf("M(x)=%s", v)
		} else if v := e.ModelValue(sum); v.String() != "1" {
			t.Fatalf("M(y+1)=%s", v)
		} else if v := e.ModelValue(y); v.String() != "0" {
			t.Fatalf("M(y)=%s", v)
		}

		e.SetValue(y, cegqi.NewIntConst(4))
		if v := e.ModelValue(x); v.String() != "5" {
			t.Fatalf("M(x)=%s", v)
		}
	})

	t.Run("ClassConstructor", func(t *testing.T) {
		e := ground.NewEngine()
		list := NewListType()
		a, d := cegqi.NewVar("a", cegqi.IntType), cegqi.NewVar("d", list)
		e.SetValue(a, cegqi.NewIntConst(2))
		MustMerge(t, e, d, cegqi.NewConstructorApp(list.Constructors[0], a, cegqi.NewConstructorApp(list.Constructors[1])))
		if v := e.ModelValue(d); v.String() != "(cons 2 nil)" {
			t.Fatalf("unexpected value: %s", v)
		}
	})

	t.Run("ClassCycle", func(t *testing.T) {
		e := ground.NewEngine()
		x := cegqi.NewVar("x", cegqi.IntType)
		succ := cegqi.NewPlus(x, cegqi.NewIntConst(1))
		MustMerge(t, e, x, succ)
		if vx, vs := e.ModelValue(x), e.ModelValue(succ); !cegqi.TermEqual(vx, vs) {
			t.Fatalf("M(x)=%s, M(x+1)=%s", vx, vs)
		}
	})

	t.Run("Atom", func(t *testing.T) {
		e := ground.NewEngine()
		x := cegqi.NewVar("x", cegqi.IntType)
		MustAssert(t, e, cegqi.NewGeq(x, cegqi.NewIntConst(2)))
		if v := e.ModelValue(cegqi.NewGeq(x, cegqi.NewIntConst(2))); v != cegqi.Term(cegqi.True) {
			t.Fatalf("unexpected value: %s", v)
		}
	})

	t.Run("Default", func(t *testing.T) {
		e := ground.NewEngine()
		for _, tt := range []struct {
			typ  *cegqi.Type
			want string
		}{
			{cegqi.IntType, "0"},
			{cegqi.RealType, "0"},
			{cegqi.BoolType, "false"},
			{cegqi.NewBitVecType(4), "(_ bv0 4)"},
			{NewListType(), "nil"},
			{cegqi.NewSortType("U"), "@U"},
		} {
			if v := e.ModelValue(cegqi.NewVar("z", tt.typ)); v.String() != tt.want {
				t.Errorf("ModelValue(%s)=%s, want %s", tt.typ, v, tt.want)
			}
		}
		if got, want := e.Stats().ModelValueN, 6; got != want {
			t.Fatalf("ModelValueN=%d, want %d", got, want)
		}
	})
}

func TestEngine_EqClasses(t *testing.T) {
	e := ground.NewEngine()
	a, b := cegqi.NewVar("a", cegqi.IntType), cegqi.NewVar("b", cegqi.IntType)
	MustAddTerm(t, e, a)
	MustAddTerm(t, e, b)
	if diff := cmp.Diff(termStrings(e.EqClasses()), []string{"true", "false", "a", "b"}); diff != "" {
		t.Fatal(diff)
	}

	MustMerge(t, e, b, a)
	if diff := cmp.Diff(termStrings(e.EqClasses()), []string{"true", "false", "a"}); diff != "" {
		t.Fatal(diff)
	} else if e.HasTerm(cegqi.NewVar("c", cegqi.IntType)) {
		t.Fatal("expected unknown term")
	} else if c := cegqi.NewVar("c", cegqi.IntType); e.Representative(c) != cegqi.Term(c) {
		t.Fatal("expected unknown term to represent itself")
	}
}

// NewListType returns a list of integers with cons declared before nil.
func NewListType() *cegqi.Type {
	list := cegqi.NewDatatype("List")
	list.AddConstructor("cons", cegqi.NewSelector("head", cegqi.IntType), cegqi.NewSelector("tail", list))
	list.AddConstructor("nil")
	return list
}

// MustAddTerm registers t with the engine. Fatal on error.
func MustAddTerm(tb testing.TB, e *ground.Engine, t cegqi.Term) {
	tb.Helper()
	if err := e.AddTerm(t); err != nil {
		tb.Fatal(err)
	}
}

// MustMerge merges a and b. Fatal on error.
func MustMerge(tb testing.TB, e *ground.Engine, a, b cegqi.Term) {
	tb.Helper()
	if err := e.Merge(a, b); err != nil {
		tb.Fatal(err)
	}
}

// MustAssert asserts lit to its theory. Fatal on error.
func MustAssert(tb testing.TB, e *ground.Engine, lit cegqi.Term) {
	tb.Helper()
	if err := e.Assert(ground.LiteralTheory(lit), lit); err != nil {
		tb.Fatal(err)
	}
}

func termStrings(a []cegqi.Term) []string {
	other := make([]string, len(a))
	for i, t := range a {
		other[i] = t.String()
	}
	return other
}
