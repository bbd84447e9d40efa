package cegqi_test

import (
	"math/big"
	"testing"

	"github.com/benbjohnson/cegqi"
	"github.com/google/go-cmp/cmp"
)

func TestSolvedForm_Push(t *testing.T) {
	x, y := cegqi.NewVar("x", cegqi.IntType), cegqi.NewVar("y", cegqi.IntType)

	sf := cegqi.NewSolvedForm()
	sf.Push(cegqi.Substitution{Var: x, Term: cegqi.NewIntConst(1)})
	sf.Push(cegqi.Substitution{Var: y, Term: x, Coeff: big.NewRat(3, 1), BoundType: cegqi.BoundUpper})

	if n := sf.Len(); n != 2 {
		t.Fatalf("unexpected len: %d", n)
	} else if diff := cmp.Diff(termStrings(sf.Vars()), []string{"x", "y"}); diff != "" {
		t.Fatal(diff)
	} else if diff := cmp.Diff(termStrings(sf.Terms()), []string{"1", "x"}); diff != "" {
		t.Fatal(diff)
	} else if diff := cmp.Diff(termStrings(sf.HasCoeff()), []string{"y"}); diff != "" {
		t.Fatal(diff)
	} else if theta := sf.Theta(); theta == nil || theta.RatString() != "3" {
		t.Fatalf("unexpected theta: %v", theta)
	} else if coeffs := sf.Coeffs(); coeffs[0] != nil || coeffs[1].RatString() != "3" {
		t.Fatalf("unexpected coefficients: %v", coeffs)
	}

	if got, want := sf.Dump(), "SOLVED FORM (theta=3)\n  [0] 1 * x -> 1\n  [1] 3 * y -> x (upper)\n"; got != want {
		t.Fatalf("Dump()=%q, want %q", got, want)
	}
}

func TestSolvedForm_Restore(t *testing.T) {
	x, y := cegqi.NewVar("x", cegqi.IntType), cegqi.NewVar("y", cegqi.IntType)

	sf := cegqi.NewSolvedForm()
	sf.Push(cegqi.Substitution{Var: x, Term: cegqi.NewIntConst(1), Coeff: big.NewRat(2, 1)})
	cp := sf.Checkpoint()
	before := sf.Dump()

	sf.Push(cegqi.Substitution{Var: y, Term: x, Coeff: big.NewRat(5, 1)})
	if theta := sf.Theta(); theta.RatString() != "10" {
		t.Fatalf("unexpected theta: %s", theta)
	}

	sf.Restore(cp)
	if diff := cmp.Diff(sf.Dump(), before); diff != "" {
		t.Fatal(diff)
	} else if diff := cmp.Diff(termStrings(sf.HasCoeff()), []string{"x"}); diff != "" {
		t.Fatal(diff)
	} else if theta := sf.Theta(); theta.RatString() != "2" {
		t.Fatalf("unexpected theta: %s", theta)
	}
}

func TestSolvedForm_Clone(t *testing.T) {
	x, y := cegqi.NewVar("x", cegqi.IntType), cegqi.NewVar("y", cegqi.IntType)

	sf := cegqi.NewSolvedForm()
	sf.Push(cegqi.Substitution{Var: x, Term: cegqi.NewIntConst(1)})

	other := sf.Clone()
	other.Push(cegqi.Substitution{Var: y, Term: cegqi.NewIntConst(2), Coeff: big.NewRat(2, 1)})

	if n := sf.Len(); n != 1 {
		t.Fatalf("unexpected len: %d", n)
	} else if sf.Theta() != nil {
		t.Fatalf("unexpected theta: %s", sf.Theta())
	} else if n := other.Len(); n != 2 {
		t.Fatalf("unexpected clone len: %d", n)
	}
}

func TestBoundType_String(t *testing.T) {
	for bt, want := range map[cegqi.BoundType]string{
		cegqi.BoundNone:  "none",
		cegqi.BoundLower: "lower",
		cegqi.BoundUpper: "upper",
	} {
		if got := bt.String(); got != want {
			t.Fatalf("String()=%s, want %s", got, want)
		}
	}
}
