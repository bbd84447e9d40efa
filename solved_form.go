package cegqi

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/benbjohnson/immutable"
)

// BoundType records which side of a bound produced a substitution.
type BoundType int

// Bound types.
const (
	BoundNone  = BoundType(0)
	BoundLower = BoundType(1)
	BoundUpper = BoundType(-1)
)

// String returns the name of the bound type.
func (bt BoundType) String() string {
	switch bt {
	case BoundLower:
		return "lower"
	case BoundUpper:
		return "upper"
	default:
		return "none"
	}
}

// Substitution is a single entry of a SolvedForm: Coeff*Var = Term.
// A nil Coeff means 1.
type Substitution struct {
	Var       Term
	Term      Term
	Coeff     *big.Rat
	BoundType BoundType
}

// SolvedForm is the partial substitution accumulated while instantiating
// variables in order.
//
// All state is held in persistent structures so a checkpoint is a value copy
// and restoring one undoes every change made since, exactly.
type SolvedForm struct {
	entries  *immutable.List // Substitution
	hasCoeff *immutable.List // Term, variables with a non-nil coefficient
	theta    *big.Rat        // product of coefficients, nil means 1
}

// NewSolvedForm returns an empty solved form.
func NewSolvedForm() *SolvedForm {
	return &SolvedForm{
		entries:  immutable.NewList(),
		hasCoeff: immutable.NewList(),
	}
}

// Len returns the number of substitutions.
func (sf *SolvedForm) Len() int { return sf.entries.Len() }

// Entry returns the substitution at index i.
func (sf *SolvedForm) Entry(i int) Substitution {
	return sf.entries.Get(i).(Substitution)
}

// Entries returns all substitutions in order.
func (sf *SolvedForm) Entries() []Substitution {
	a := make([]Substitution, 0, sf.entries.Len())
	itr := sf.entries.Iterator()
	for !itr.Done() {
		_, v := itr.Next()
		a = append(a, v.(Substitution))
	}
	return a
}

// Vars returns the substituted variables in order.
func (sf *SolvedForm) Vars() []Term {
	a := make([]Term, sf.Len())
	for i := range a {
		a[i] = sf.Entry(i).Var
	}
	return a
}

// Terms returns the substituted terms in order.
func (sf *SolvedForm) Terms() []Term {
	a := make([]Term, sf.Len())
	for i := range a {
		a[i] = sf.Entry(i).Term
	}
	return a
}

// Coeffs returns the coefficients in order.
func (sf *SolvedForm) Coeffs() []*big.Rat {
	a := make([]*big.Rat, sf.Len())
	for i := range a {
		a[i] = sf.Entry(i).Coeff
	}
	return a
}

// HasCoeff returns the variables whose substitution carries a coefficient.
func (sf *SolvedForm) HasCoeff() []Term {
	a := make([]Term, 0, sf.hasCoeff.Len())
	itr := sf.hasCoeff.Iterator()
	for !itr.Done() {
		_, v := itr.Next()
		a = append(a, v.(Term))
	}
	return a
}

// Theta returns the product of all coefficients introduced so far, or nil.
func (sf *SolvedForm) Theta() *big.Rat { return sf.theta }

// Push appends a substitution. A coefficient is folded into theta and marks
// the variable as carrying a coefficient.
func (sf *SolvedForm) Push(e Substitution) {
	sf.entries = sf.entries.Append(e)
	if e.Coeff != nil {
		sf.theta = mulCoeff(sf.theta, e.Coeff)
		sf.addHasCoeff(e.Var)
	}
}

// set replaces the substitution at index i.
func (sf *SolvedForm) set(i int, e Substitution) {
	sf.entries = sf.entries.Set(i, e)
}

// addHasCoeff marks v as carrying a coefficient.
func (sf *SolvedForm) addHasCoeff(v Term) {
	sf.hasCoeff = sf.hasCoeff.Append(v)
}

// solvedFormCheckpoint is a snapshot of a SolvedForm.
type solvedFormCheckpoint SolvedForm

// checkpoint returns a snapshot that restore can return to.
func (sf *SolvedForm) checkpoint() solvedFormCheckpoint {
	return solvedFormCheckpoint(*sf)
}

// restore reverts sf to a snapshot.
func (sf *SolvedForm) restore(cp solvedFormCheckpoint) {
	*sf = SolvedForm(cp)
}

// Clone returns an independent copy of sf.
func (sf *SolvedForm) Clone() *SolvedForm {
	other := *sf
	return &other
}

// Dump returns a debug representation of the solved form.
func (sf *SolvedForm) Dump() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "SOLVED FORM (theta=%s)\n", formatCoeff(sf.theta))
	for i, e := range sf.Entries() {
		fmt.Fprintf(&buf, "  [%d] %s * %s -> %s", i, formatCoeff(e.Coeff), e.Var, e.Term)
		if e.BoundType != BoundNone {
			fmt.Fprintf(&buf, " (%s)", e.BoundType)
		}
		buf.WriteString("\n")
	}
	return buf.String()
}

func formatCoeff(c *big.Rat) string {
	if c == nil {
		return "1"
	}
	return c.RatString()
}
