package cegqi_test

import (
	"math/big"
	"strings"
	"testing"

	"github.com/benbjohnson/cegqi"
	"github.com/benbjohnson/cegqi/ground"
	"github.com/google/go-cmp/cmp"
)

func TestCegInstantiator_Check(t *testing.T) {
	t.Run("TightestLowerBound", func(t *testing.T) {
		h := NewHarness()
		h.MustRegister(t, "(forall ((x Int)) (or (< x 3) (< x 5)))")
		h.MustAssert(t, "(>= x 3)", "(>= x 5)")
		h.MustSetValue(t, "x", "7")

		if !h.CI.Check() {
			t.Fatal("expected instantiation")
		} else if diff := cmp.Diff(instStrings(h.Output.Insts), [][]string{{"5"}}); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("Zero", func(t *testing.T) {
		h := NewHarness()
		h.MustDeclareFunc(t, "g", []*cegqi.Type{cegqi.RealType}, cegqi.RealType)
		h.MustRegister(t, "(forall ((x Real)) (< (g x) 0))")
		h.MustAssert(t, "(>= (g x) 0)")

		if !h.CI.Check() {
			t.Fatal("expected instantiation")
		} else if diff := cmp.Diff(instStrings(h.Output.Insts), [][]string{{"0"}}); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("Theta", func(t *testing.T) {
		h := NewHarness()
		h.MustRegister(t, "(forall ((x Int) (y Int)) (< (* 2 x) y))")
		h.MustAssert(t, "(>= (* 2 x) y)")
		h.MustSetValue(t, "x", "3")
		h.MustSetValue(t, "y", "5")

		if !h.CI.Check() {
			t.Fatal("expected instantiation")
		} else if diff := cmp.Diff(instStrings(h.Output.Insts), [][]string{{"1", "1"}}); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("CoefficientNormalized", func(t *testing.T) {
		for _, roundUp := range []bool{false, true} {
			h := NewHarness()
			h.CI.RoundUpLowerLIA = roundUp
			h.MustRegister(t, "(forall ((x Int)) (< (* 2 x) 3))")
			h.MustAssert(t, "(>= (* 2 x) 3)")
			h.MustSetValue(t, "x", "2")

			if !h.CI.Check() {
				t.Fatal("expected instantiation")
			} else if diff := cmp.Diff(instStrings(h.Output.Insts), [][]string{{"2"}}); diff != "" {
				t.Fatalf("roundUp=%v: %s", roundUp, diff)
			} else if typ := h.Output.Insts[0][0].Type(); !typ.IsSubtypeOf(cegqi.IntType) {
				t.Fatalf("unexpected type: %s", typ)
			}
		}
	})

	t.Run("CallerOrder", func(t *testing.T) {
		h := NewHarness()
		h.MustRegister(t, "(forall ((n Int) (r Real)) (or (< n 2) (< r 7)))")
		h.MustAssert(t, "(>= n 2)", "(>= r 7)")

		if !h.CI.Check() {
			t.Fatal("expected instantiation")
		} else if diff := cmp.Diff(instStrings(h.Output.Insts), [][]string{{"2", "7"}}); diff != "" {
			t.Fatal(diff)
		} else if diff := cmp.Diff(termStrings(h.CI.Vars()), []string{"n!ce", "r!ce"}); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("NoDuplicateAttempts", func(t *testing.T) {
		h := NewHarness()
		h.Output.Reject = -1
		h.MustRegister(t, "(forall ((x Int)) (or (< x 3) (not (= x 3))))")
		h.MustAssert(t, "(>= x 3)", "(= x 3)")

		// The equal term, the equality and the bound all give 3. It is tried
		// once per effort.
		if h.CI.Check() {
			t.Fatal("expected no instantiation")
		} else if diff := cmp.Diff(instStrings(h.Output.Insts), [][]string{{"3"}, {"3"}}); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("NonOptimal", func(t *testing.T) {
		h := NewHarness()
		h.Output.Reject = 1
		h.MustRegister(t, "(forall ((x Int)) (or (< x 3) (< x 5)))")
		h.MustAssert(t, "(>= x 3)", "(>= x 5)")
		h.MustSetValue(t, "x", "7")

		if !h.CI.Check() {
			t.Fatal("expected instantiation")
		} else if diff := cmp.Diff(instStrings(h.Output.Insts), [][]string{{"5"}, {"3"}}); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("NoModel", func(t *testing.T) {
		h := NewHarness()
		h.CI.Model = false
		h.MustRegister(t, "(forall ((x Int)) (or (< x 3) (< x 5)))")
		h.MustAssert(t, "(>= x 3)", "(>= x 5)")
		h.MustSetValue(t, "x", "7")

		if !h.CI.Check() {
			t.Fatal("expected instantiation")
		} else if diff := cmp.Diff(instStrings(h.Output.Insts), [][]string{{"3"}}); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("NeedCheck", func(t *testing.T) {
		h := NewHarness()
		h.MustRegister(t, "(forall ((x Int)) (< x 3))")
		h.MustAssert(t, "(>= x 3)")
		h.Engine.SetNeedCheck(true)

		if h.CI.Check() {
			t.Fatal("expected no instantiation")
		} else if len(h.Output.Insts) != 0 {
			t.Fatalf("unexpected instantiations: %v", h.Output.Insts)
		}
	})

	t.Run("Datatype", func(t *testing.T) {
		t.Run("EqualTerm", func(t *testing.T) {
			h := NewDatatypeHarness(t)
			if !h.CI.Check() {
				t.Fatal("expected instantiation")
			} else if diff := cmp.Diff(instStrings(h.Output.Insts), [][]string{{"(cons a t)"}}); diff != "" {
				t.Fatal(diff)
			}
		})

		// With every instantiation rejected, the search solves the
		// selectors of d as sub-variables before falling back to the model,
		// where d takes the value of (cons a t).
		t.Run("Selectors", func(t *testing.T) {
			h := NewDatatypeHarness(t)
			h.Output.Reject = -1
			if h.CI.Check() {
				t.Fatal("expected no instantiation")
			} else if diff := cmp.Diff(instStrings(h.Output.Insts), [][]string{
				{"(cons a t)"},
				{"(cons 0 t)"},
				{"(cons 0 nil)"},
				{"(cons 0 nil)"},
			}); diff != "" {
				t.Fatal(diff)
			}
		})
	})

	t.Run("Dump", func(t *testing.T) {
		h := NewHarness()
		h.MustRegister(t, "(forall ((x Int)) (< x 3))")
		h.MustAssert(t, "(>= x 3)")
		h.CI.Check()

		if s := h.CI.Dump(); !strings.Contains(s, "VARS: [x!ce]") {
			t.Fatalf("unexpected dump: %s", s)
		} else if !strings.Contains(s, "ASSERTIONS[arith]:\n  (>= x!ce 3)\n") {
			t.Fatalf("unexpected dump: %s", s)
		}
	})
}

func TestCegInstantiator_RegisterCounterexampleLemma(t *testing.T) {
	t.Run("Atoms", func(t *testing.T) {
		h := NewHarness()
		h.MustRegister(t, "(forall ((x Int)) (or (< x 3) (< x 5)))")
		if diff := cmp.Diff(termStrings(h.CI.CeAtoms()), []string{"(>= x!ce 3)", "(>= x!ce 5)"}); diff != "" {
			t.Fatal(diff)
		} else if h.CI.IsNestedQuantified() {
			t.Fatal("expected no nested quantifier")
		} else if diff := cmp.Diff(h.CI.Theories(), []cegqi.TheoryID{cegqi.TheoryUF, cegqi.TheoryArith}); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("NestedQuantifier", func(t *testing.T) {
		h := NewHarness()
		h.MustRegister(t, "(forall ((x Int)) (or (>= x 0) (forall ((y Int)) (>= y x))))")
		if !h.CI.IsNestedQuantified() {
			t.Fatal("expected nested quantifier")
		} else if diff := cmp.Diff(termStrings(h.CI.CeAtoms()), []string{"(>= x!ce 0)"}); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("DatatypeTheories", func(t *testing.T) {
		h := NewDatatypeHarness(t)
		if diff := cmp.Diff(h.CI.Theories(), []cegqi.TheoryID{cegqi.TheoryUF, cegqi.TheoryDatatypes, cegqi.TheoryArith}); diff != "" {
			t.Fatal(diff)
		}
	})
}

func TestCegInstantiator_TryInstantiation(t *testing.T) {
	t.Run("Propagate", func(t *testing.T) {
		h := NewHarness()
		h.Output.Reject = -1
		h.MustRegister(t, "(forall ((x Int) (y Int)) (> x y))")
		x, y := h.CeVars[0], h.CeVars[1]

		sf := cegqi.NewSolvedForm()
		sf.Push(cegqi.Substitution{Var: x, Term: h.MustParse(t, "(+ y 1)")})
		before := sf.Dump()

		if h.CI.TryInstantiation(sf, 1, y, cegqi.NewIntConst(5), nil) {
			t.Fatal("expected rejection")
		} else if diff := cmp.Diff(instStrings(h.Output.Insts), [][]string{{"6", "5"}}); diff != "" {
			t.Fatal(diff)
		} else if diff := cmp.Diff(sf.Dump(), before); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("PropagateCoefficient", func(t *testing.T) {
		h := NewHarness()
		h.Output.Reject = -1
		h.MustRegister(t, "(forall ((x Int) (y Int)) (> x y))")
		x, y := h.CeVars[0], h.CeVars[1]

		sf := cegqi.NewSolvedForm()
		sf.Push(cegqi.Substitution{Var: x, Term: h.MustParse(t, "(+ y 1)")})

		if h.CI.TryInstantiation(sf, 1, y, cegqi.NewIntConst(4), big2) {
			t.Fatal("expected rejection")
		} else if diff := cmp.Diff(instStrings(h.Output.Insts), [][]string{{"3", "2"}}); diff != "" {
			t.Fatal(diff)
		} else if sf.Theta() != nil {
			t.Fatalf("unexpected theta: %s", sf.Theta())
		} else if n := len(sf.HasCoeff()); n != 0 {
			t.Fatalf("unexpected coefficient variables: %d", n)
		} else if diff := cmp.Diff(termStrings(sf.Terms()), []string{"(+ 1 y!ce)"}); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("Accept", func(t *testing.T) {
		h := NewHarness()
		h.MustRegister(t, "(forall ((x Int) (y Int)) (> x y))")
		x, y := h.CeVars[0], h.CeVars[1]

		sf := cegqi.NewSolvedForm()
		sf.Push(cegqi.Substitution{Var: x, Term: h.MustParse(t, "(* 3 y)")})
		if !h.CI.TryInstantiation(sf, 1, y, cegqi.NewIntConst(2), nil) {
			t.Fatal("expected instantiation")
		} else if diff := cmp.Diff(instStrings(h.Output.Insts), [][]string{{"6", "2"}}); diff != "" {
			t.Fatal(diff)
		}
	})
}

func TestCegInstantiator_MarkTried(t *testing.T) {
	h := NewHarness()
	h.MustRegister(t, "(forall ((x Int) (y Int)) (> x y))")
	x, y := h.CeVars[0], h.CeVars[1]
	one := cegqi.NewIntConst(1)

	for _, tt := range []struct {
		term  cegqi.Term
		coeff *big.Rat
		want  bool
	}{
		{term: cegqi.NewPlus(y, one), want: true},
		{term: cegqi.NewPlus(one, y), want: false},
		{term: cegqi.NewPlus(y, one), coeff: big2, want: true},
		{term: cegqi.NewPlus(y, one), coeff: big.NewRat(4, 2), want: false},
		{term: cegqi.NewPlus(y, one), coeff: big.NewRat(3, 1), want: true},
		{term: cegqi.NewPlus(y, cegqi.NewIntConst(2)), want: true},
		{term: y, want: true},
	} {
		if got := h.CI.MarkTried(x, tt.term, tt.coeff); got != tt.want {
			t.Errorf("MarkTried(%s, %v)=%v, want %v", tt.term, tt.coeff, got, tt.want)
		}
	}

	// Tried pairs are tracked per variable.
	if !h.CI.MarkTried(y, cegqi.NewPlus(y, one), nil) {
		t.Fatal("expected untried pair for y")
	}
}

func TestCegInstantiator_ProcessInstantiationCoeff(t *testing.T) {
	for _, tt := range []struct {
		roundUp bool
		y       int64
		want    string
	}{
		{roundUp: true, y: 7, want: "4"},
		{roundUp: true, y: 8, want: "4"},
		{roundUp: true, y: -3, want: "(- 1)"},
		{roundUp: false, y: 7, want: "3"},
		{roundUp: false, y: -3, want: "(- 2)"},
	} {
		h := NewHarness()
		h.CI.RoundUpLowerLIA = tt.roundUp
		h.MustRegister(t, "(forall ((x Int) (y Int)) (> x y))")
		x, y := h.CeVars[0], h.CeVars[1]

		sf := cegqi.NewSolvedForm()
		sf.Push(cegqi.Substitution{Var: x, Term: y, Coeff: big2, BoundType: cegqi.BoundLower})
		if !h.CI.ProcessInstantiationCoeff(sf) {
			t.Fatal("expected success")
		}

		e := sf.Entry(0)
		if e.Coeff != nil {
			t.Fatalf("unexpected coefficient: %s", e.Coeff)
		}
		got := cegqi.Substitute(e.Term, []cegqi.Term{y}, []cegqi.Term{cegqi.NewIntConst(tt.y)})
		if got.String() != tt.want {
			t.Fatalf("roundUp=%v y=%d: got %s, want %s", tt.roundUp, tt.y, got, tt.want)
		}
	}
}

var big2 = big.NewRat(2, 1)

// Output is a test implementation of cegqi.Output that records everything
// it receives.
type Output struct {
	// Reports terms as ineligible. Defaults to quantified terms.
	Ineligible func(t cegqi.Term) bool

	// Number of instantiations to reject before accepting. Negative
	// rejects all of them.
	Reject int

	Insts  [][]cegqi.Term
	Lemmas []cegqi.Term
}

func (o *Output) IsEligibleForInstantiation(t cegqi.Term) bool {
	if o.Ineligible != nil {
		return !o.Ineligible(t)
	}
	return !cegqi.HasQuantifier(t)
}

func (o *Output) AddInstantiation(subs []cegqi.Term) bool {
	o.Insts = append(o.Insts, append([]cegqi.Term(nil), subs...))
	if o.Reject < 0 {
		return false
	} else if o.Reject > 0 {
		o.Reject--
		return false
	}
	return true
}

func (o *Output) AddLemma(lem cegqi.Term) bool {
	o.Lemmas = append(o.Lemmas, lem)
	return true
}

// Harness wires an instantiator to an in-memory ground engine.
type Harness struct {
	Parser *cegqi.Parser
	Engine *ground.Engine
	Output *Output
	CI     *cegqi.CegInstantiator

	Quantifier *cegqi.Forall
	Lemmas     []cegqi.Term
	CeVars     []cegqi.Term
}

// NewHarness returns a new instance of Harness.
func NewHarness() *Harness {
	h := &Harness{
		Parser: cegqi.NewParser(),
		Engine: ground.NewEngine(),
		Output: &Output{},
	}
	h.CI = cegqi.NewCegInstantiator(h.Engine, h.Output)
	return h
}

// NewDatatypeHarness returns a harness registered for a single list
// variable d with the fact d = (cons a t).
func NewDatatypeHarness(tb testing.TB) *Harness {
	tb.Helper()
	h := NewHarness()
	list := NewListType()
	if err := h.Parser.DeclareType(list); err != nil {
		tb.Fatal(err)
	} else if err := h.Parser.DeclareConstructors(list); err != nil {
		tb.Fatal(err)
	}
	h.MustDeclareConst(tb, "a", cegqi.IntType)
	h.MustDeclareConst(tb, "t", list)
	h.MustRegister(tb, "(forall ((d List)) (not (= d (cons a t))))")
	h.MustAssert(tb, "(= d (cons a t))")
	return h
}

// MustDeclareConst declares a free constant. Fatal on error.
func (h *Harness) MustDeclareConst(tb testing.TB, name string, typ *cegqi.Type) *cegqi.Var {
	tb.Helper()
	v := cegqi.NewVar(name, typ)
	if err := h.Parser.DeclareConst(v); err != nil {
		tb.Fatal(err)
	}
	return v
}

// MustDeclareFunc declares an uninterpreted function. Fatal on error.
func (h *Harness) MustDeclareFunc(tb testing.TB, name string, domain []*cegqi.Type, rng *cegqi.Type) *cegqi.Func {
	tb.Helper()
	f := cegqi.NewFunc(name, domain, rng)
	if err := h.Parser.DeclareFunc(f); err != nil {
		tb.Fatal(err)
	}
	return f
}

// MustParse parses a term. Fatal on error.
func (h *Harness) MustParse(tb testing.TB, s string) cegqi.Term {
	tb.Helper()
	t, err := h.Parser.ParseTerm(s)
	if err != nil {
		tb.Fatal(err)
	}
	return t
}

// MustRegister parses a quantified formula and registers its counterexample
// lemma. The lemma and its atoms are added to the engine and the names of
// the bound variables refer to the counterexample variables afterward.
func (h *Harness) MustRegister(tb testing.TB, s string) {
	tb.Helper()
	q, ok := h.MustParse(tb, s).(*cegqi.Forall)
	if !ok {
		tb.Fatalf("not a quantified formula: %s", s)
	}

	lemma, ceVars := cegqi.Skolemize(q)
	for i, v := range q.Vars {
		if err := h.Parser.Bind(v.Name, ceVars[i].(*cegqi.Var)); err != nil {
			tb.Fatal(err)
		}
	}
	h.Quantifier, h.CeVars = q, ceVars
	h.Lemmas = h.CI.RegisterCounterexampleLemma([]cegqi.Term{lemma}, ceVars)

	for _, t := range append(append([]cegqi.Term(nil), h.Lemmas...), h.CI.CeAtoms()...) {
		if err := h.Engine.AddTerm(t); err != nil {
			tb.Fatal(err)
		}
	}
}

// MustAssert parses and asserts facts to their theories. Fatal on error.
func (h *Harness) MustAssert(tb testing.TB, facts ...string) {
	tb.Helper()
	for _, s := range facts {
		h.MustAssertTerm(tb, h.MustParse(tb, s))
	}
}

// MustAssertTerm asserts a literal to its theory. Fatal on error.
func (h *Harness) MustAssertTerm(tb testing.TB, lit cegqi.Term) {
	tb.Helper()
	if err := h.Engine.Assert(ground.LiteralTheory(lit), lit); err != nil {
		tb.Fatal(err)
	}
}

// MustSetValue fixes the model value of a term. Fatal on error.
func (h *Harness) MustSetValue(tb testing.TB, term, value string) {
	tb.Helper()
	h.Engine.SetValue(h.MustParse(tb, term), h.MustParse(tb, value))
}

// NewListType returns a datatype of integer lists.
func NewListType() *cegqi.Type {
	list := cegqi.NewDatatype("List")
	list.AddConstructor("cons", cegqi.NewSelector("head", cegqi.IntType), cegqi.NewSelector("tail", list))
	list.AddConstructor("nil")
	return list
}

func termStrings(a []cegqi.Term) []string {
	other := make([]string, len(a))
	for i, t := range a {
		other[i] = t.String()
	}
	return other
}

func instStrings(insts [][]cegqi.Term) [][]string {
	other := make([][]string, len(insts))
	for i, subs := range insts {
		other[i] = termStrings(subs)
	}
	return other
}
