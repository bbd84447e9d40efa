package cegqi

import (
	"fmt"
	"math/big"
	"sort"
)

var (
	ratZero     = new(big.Rat)
	ratOne      = big.NewRat(1, 1)
	ratMinusOne = big.NewRat(-1, 1)
	ratHalf     = big.NewRat(1, 2)
)

// Monomial is a rational coefficient times an atomic term.
// A nil Term denotes the constant monomial.
type Monomial struct {
	Term  Term
	Coeff *big.Rat
}

func (m Monomial) term() Term {
	if m.Term == nil {
		return NewConst(m.Coeff)
	} else if m.Coeff.Cmp(ratOne) == 0 {
		return m.Term
	}
	return &App{Op: MULT, Args: []Term{NewConst(m.Coeff), m.Term}}
}

// MonomialSum is a linear combination of atomic terms. Monomials are kept in
// term order with the constant first and no zero coefficients. Sums are
// never modified in place.
type MonomialSum []Monomial

// GetMonomialSum decomposes an arithmetic term into a linear combination of
// atoms. Non-linear products and non-arithmetic operators are atoms.
func GetMonomialSum(t Term) (MonomialSum, bool) {
	if !t.Type().IsArith() {
		return nil, false
	}
	return monomialSum(t), true
}

func monomialSum(t Term) MonomialSum {
	switch t := t.(type) {
	case *Const:
		return MonomialSum(nil).add(nil, t.Value)
	case *App:
		switch t.Op {
		case PLUS:
			var s MonomialSum
			for _, arg := range t.Args {
				s = s.Add(monomialSum(arg))
			}
			return s
		case MULT:
			if c, ok := t.Args[0].(*Const); ok && len(t.Args) == 2 {
				return monomialSum(t.Args[1]).Scale(c.Value)
			}
		}
	}
	return MonomialSum(nil).add(t, ratOne)
}

// GetMonomialSumLit decomposes an arithmetic (>= a b) or (= a b) literal into
// the sum a-b, so that the literal holds iff the sum is >= 0 or = 0.
func GetMonomialSumLit(lit Term) (MonomialSum, bool) {
	app, ok := lit.(*App)
	if !ok || (app.Op != GEQ && app.Op != EQ) || !app.Args[0].Type().IsArith() {
		return nil, false
	}
	return monomialSum(app.Args[0]).Add(monomialSum(app.Args[1]).Scale(ratMinusOne)), true
}

func (s MonomialSum) index(t Term) (int, bool) {
	i := sort.Search(len(s), func(i int) bool { return CompareTerm(s[i].Term, t) >= 0 })
	return i, i < len(s) && TermEqual(s[i].Term, t)
}

func (s MonomialSum) add(t Term, c *big.Rat) MonomialSum {
	if c.Sign() == 0 {
		return s
	}

	i, ok := s.index(t)
	other := make(MonomialSum, 0, len(s)+1)
	other = append(other, s[:i]...)
	if ok {
		if sum := new(big.Rat).Add(s[i].Coeff, c); sum.Sign() != 0 {
			other = append(other, Monomial{Term: s[i].Term, Coeff: sum})
		}
		return append(other, s[i+1:]...)
	}
	other = append(other, Monomial{Term: t, Coeff: new(big.Rat).Set(c)})
	return append(other, s[i:]...)
}

// Add returns the sum of s and other.
func (s MonomialSum) Add(other MonomialSum) MonomialSum {
	for _, m := range other {
		s = s.add(m.Term, m.Coeff)
	}
	return s
}

// Scale returns s multiplied by c.
func (s MonomialSum) Scale(c *big.Rat) MonomialSum {
	if c.Sign() == 0 {
		return nil
	}
	other := make(MonomialSum, len(s))
	for i, m := range s {
		other[i] = Monomial{Term: m.Term, Coeff: new(big.Rat).Mul(m.Coeff, c)}
	}
	return other
}

// Coeff returns the coefficient of t, or nil if t does not occur.
func (s MonomialSum) Coeff(t Term) *big.Rat {
	if i, ok := s.index(t); ok {
		return s[i].Coeff
	}
	return nil
}

// Constant returns the constant monomial of s.
func (s MonomialSum) Constant() *big.Rat {
	if c := s.Coeff(nil); c != nil {
		return c
	}
	return ratZero
}

// Without returns s with the monomial of t removed.
func (s MonomialSum) Without(t Term) MonomialSum {
	i, ok := s.index(t)
	if !ok {
		return s
	}
	other := make(MonomialSum, 0, len(s)-1)
	other = append(other, s[:i]...)
	return append(other, s[i+1:]...)
}

// ToTerm returns the normal-form term denoted by s.
func (s MonomialSum) ToTerm() Term {
	switch len(s) {
	case 0:
		return NewIntConst(0)
	case 1:
		return s[0].term()
	}
	args := make([]Term, len(s))
	for i, m := range s {
		args[i] = m.term()
	}
	return &App{Op: PLUS, Args: args}
}

// String returns a debug representation of the sum.
func (s MonomialSum) String() string {
	return fmt.Sprintf("msum%s", s.ToTerm())
}

// Isolate solves the literal s >= 0 (op GEQ) or s = 0 (op EQ) for v.
//
// The literal is rewritten as coeff*v >= val when dir is 1 and as
// coeff*v <= val when dir is -1; equalities always yield dir 1. A nil coeff
// means 1. For non-integral v the coefficient is divided into val. A zero
// dir means v does not occur in s.
func Isolate(v Term, s MonomialSum, op Op) (coeff *big.Rat, val Term, dir int) {
	r := s.Coeff(v)
	if r == nil {
		return nil, nil, 0
	}

	rest := s.Without(v)
	if abs := new(big.Rat).Abs(r); abs.Cmp(ratOne) != 0 {
		if v.Type().IsInteger() {
			coeff = abs
		} else {
			rest = rest.Scale(new(big.Rat).Inv(abs))
		}
	}
	if r.Sign() > 0 {
		rest = rest.Scale(ratMinusOne)
	}

	if r.Sign() > 0 || op == EQ {
		return coeff, rest.ToTerm(), 1
	}
	return coeff, rest.ToTerm(), -1
}

// NewPlus returns the normalized sum of args.
func NewPlus(args ...Term) Term {
	var s MonomialSum
	for _, arg := range args {
		assert(arg.Type().IsArith(), "plus: non-arithmetic operand: %s", arg)
		s = s.Add(monomialSum(arg))
	}
	return s.ToTerm()
}

// NewSub returns the normalized difference a-b.
func NewSub(a, b Term) Term {
	return monomialSum(a).Add(monomialSum(b).Scale(ratMinusOne)).ToTerm()
}

// NewNeg returns the normalized negation of a.
func NewNeg(a Term) Term {
	return monomialSum(a).Scale(ratMinusOne).ToTerm()
}

// NewScale returns c*a in normal form.
func NewScale(c *big.Rat, a Term) Term {
	return monomialSum(a).Scale(c).ToTerm()
}

// NewMult returns the normalized product of args. Products of more than one
// non-constant factor are kept as atoms.
func NewMult(args ...Term) Term {
	c := new(big.Rat).SetInt64(1)
	var factors []Term
	for _, arg := range args {
		assert(arg.Type().IsArith(), "mult: non-arithmetic operand: %s", arg)
		s := monomialSum(arg)
		switch {
		case len(s) == 0:
			return NewIntConst(0)
		case len(s) == 1 && s[0].Term == nil:
			c.Mul(c, s[0].Coeff)
		case len(s) == 1:
			c.Mul(c, s[0].Coeff)
			if app, ok := s[0].Term.(*App); ok && app.Op == MULT {
				factors = append(factors, app.Args...)
			} else {
				factors = append(factors, s[0].Term)
			}
		default:
			factors = append(factors, arg)
		}
	}

	switch len(factors) {
	case 0:
		return NewConst(c)
	case 1:
		return NewScale(c, factors[0])
	}
	sort.Slice(factors, func(i, j int) bool { return CompareTerm(factors[i], factors[j]) < 0 })
	return MonomialSum(nil).add(&App{Op: MULT, Args: factors}, c).ToTerm()
}

// NewGeq returns the normalized literal a >= b. The constant part is moved
// to the right-hand side.
func NewGeq(a, b Term) Term {
	s := monomialSum(a).Add(monomialSum(b).Scale(ratMinusOne))
	c := s.Constant()
	rest := s.Without(nil)
	if len(rest) == 0 {
		return NewBoolConst(c.Sign() >= 0)
	}
	return &App{Op: GEQ, Args: []Term{rest.ToTerm(), NewConst(new(big.Rat).Neg(c))}}
}

// NewLeq returns a <= b.
func NewLeq(a, b Term) Term { return NewGeq(b, a) }

// NewGt returns a > b.
func NewGt(a, b Term) Term { return NewNot(NewGeq(b, a)) }

// NewLt returns a < b.
func NewLt(a, b Term) Term { return NewNot(NewGeq(a, b)) }

// NewIntDiv returns the total integer division of a by b. Division by zero
// yields zero.
func NewIntDiv(a, b Term) Term {
	if ac, bc, ok := intConsts(a, b); ok {
		if bc.Sign() == 0 {
			return NewIntConst(0)
		}
		return NewConst(new(big.Rat).SetInt(new(big.Int).Div(ac, bc)))
	} else if c, ok := b.(*Const); ok && c.IsOne() && a.Type().IsInteger() {
		return a
	}
	return &App{Op: INTDIV, Args: []Term{a, b}}
}

// NewIntMod returns the total integer remainder of a by b. The remainder by
// zero is a itself.
func NewIntMod(a, b Term) Term {
	if ac, bc, ok := intConsts(a, b); ok {
		if bc.Sign() == 0 {
			return a
		}
		return NewConst(new(big.Rat).SetInt(new(big.Int).Mod(ac, bc)))
	} else if c, ok := b.(*Const); ok && c.IsOne() && a.Type().IsInteger() {
		return NewIntConst(0)
	}
	return &App{Op: INTMOD, Args: []Term{a, b}}
}

// NewToInt returns the floor of a.
func NewToInt(a Term) Term {
	if c, ok := a.(*Const); ok {
		return NewConst(new(big.Rat).SetInt(ratFloor(c.Value)))
	} else if a.Type().IsInteger() {
		return a
	}
	return &App{Op: TOINT, Args: []Term{a}}
}

func intConsts(a, b Term) (*big.Int, *big.Int, bool) {
	ac, ok := a.(*Const)
	if !ok || !ac.Value.IsInt() {
		return nil, nil, false
	}
	bc, ok := b.(*Const)
	if !ok || !bc.Value.IsInt() {
		return nil, nil, false
	}
	return ac.Value.Num(), bc.Value.Num(), true
}

// ratFloor returns the largest integer not greater than r.
func ratFloor(r *big.Rat) *big.Int {
	// Euclidean division by a positive denominator rounds toward -inf.
	return new(big.Int).Div(r.Num(), r.Denom())
}

// coeffOrOne returns c, treating nil as one.
func coeffOrOne(c *big.Rat) *big.Rat {
	if c == nil {
		return ratOne
	}
	return c
}

// mulCoeff multiplies two optional coefficients.
func mulCoeff(a, b *big.Rat) *big.Rat {
	if a == nil {
		return b
	} else if b == nil {
		return a
	}
	return new(big.Rat).Mul(a, b)
}

func ratMul(a, b *big.Rat) *big.Rat { return new(big.Rat).Mul(a, b) }
func ratAdd(a, b *big.Rat) *big.Rat { return new(big.Rat).Add(a, b) }
func ratSub(a, b *big.Rat) *big.Rat { return new(big.Rat).Sub(a, b) }
func ratInv(a *big.Rat) *big.Rat    { return new(big.Rat).Inv(a) }
func ratNeg(a *big.Rat) *big.Rat    { return new(big.Rat).Neg(a) }

// ratEqual compares two optional rationals.
func ratEqual(a, b *big.Rat) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Cmp(b) == 0
}

// constValue returns the rational value of a numeral term.
func constValue(t Term) (*big.Rat, bool) {
	if c, ok := t.(*Const); ok {
		return c.Value, true
	}
	return nil, false
}
