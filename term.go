package cegqi

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Term represents a typed, immutable symbolic term.
type Term interface {
	fmt.Stringer

	// Type returns the type of the term.
	Type() *Type

	// Hash returns a structural hash. Structurally equal terms hash equally.
	Hash() uint64

	term()
}

func (*Var) term()       {}
func (*Const) term()     {}
func (*BoolConst) term() {}
func (*BVConst) term()   {}
func (*App) term()       {}
func (*Forall) term()    {}

// Symbol is the head symbol of an application: a *Func, *Constructor, or *Selector.
type Symbol interface {
	SymbolName() string
	symbol()
}

func (*Func) symbol()        {}
func (*Constructor) symbol() {}
func (*Selector) symbol()    {}

// SymbolName returns the name of the function.
func (f *Func) SymbolName() string { return f.Name }

// SymbolName returns the name of the constructor.
func (c *Constructor) SymbolName() string { return c.Name }

// SymbolName returns the name of the selector.
func (s *Selector) SymbolName() string { return s.Name }

// Op represents an application operator.
type Op int

// Application operators.
const (
	bool_op_begin = Op(iota)
	NOT
	AND
	OR
	ITE
	EQ
	bool_op_end

	arith_op_begin
	PLUS
	MULT
	GEQ
	INTDIV
	INTMOD
	TOINT
	arith_op_end

	APPLY
	CONSTRUCTOR
	SELECTOR

	bv_op_begin
	BVADD
	BVULT
	BVULE
	bv_op_end
)

var ops = [...]string{
	NOT:         "not",
	AND:         "and",
	OR:          "or",
	ITE:         "ite",
	EQ:          "=",
	PLUS:        "+",
	MULT:        "*",
	GEQ:         ">=",
	INTDIV:      "div",
	INTMOD:      "mod",
	TOINT:       "to_int",
	APPLY:       "apply",
	CONSTRUCTOR: "constructor",
	SELECTOR:    "selector",
	BVADD:       "bvadd",
	BVULT:       "bvult",
	BVULE:       "bvule",
}

// String returns the SMT-LIB name of the operator.
func (op Op) String() string {
	if op >= 0 && op < Op(len(ops)) && ops[op] != "" {
		return ops[op]
	}
	return fmt.Sprintf("Op<%d>", op)
}

// IsBoolConnective returns true if op combines boolean formulas.
func (op Op) IsBoolConnective() bool {
	return op > bool_op_begin && op < bool_op_end && op != EQ
}

// IsArith returns true if op is an arithmetic operator.
func (op Op) IsArith() bool {
	return op > arith_op_begin && op < arith_op_end
}

// IsBV returns true if op is a bit-vector operator.
func (op Op) IsBV() bool {
	return op > bv_op_begin && op < bv_op_end
}

// Var represents a free symbol: a variable to instantiate, a skolem constant,
// an auxiliary variable, or a quantifier-bound variable.
type Var struct {
	Name string
	typ  *Type
	hash uint64
}

// NewVar returns a new symbol of the given type.
func NewVar(name string, typ *Type) *Var {
	return &Var{Name: name, typ: typ}
}

// Type returns the type of the symbol.
func (v *Var) Type() *Type { return v.typ }

// Hash returns the structural hash of the symbol.
func (v *Var) Hash() uint64 {
	if v.hash == 0 {
		h := newTermHash(termKindVar)
		h.writeString(v.Name)
		h.writeString(v.typ.String())
		v.hash = h.sum()
	}
	return v.hash
}

func (v *Var) String() string { return v.Name }

// Const represents a rational numeral. Integral values have integer type.
type Const struct {
	Value *big.Rat
	hash  uint64
}

// NewConst returns a numeral with a copy of value.
func NewConst(value *big.Rat) *Const {
	return &Const{Value: new(big.Rat).Set(value)}
}

// NewIntConst returns an integer numeral.
func NewIntConst(value int64) *Const {
	return &Const{Value: new(big.Rat).SetInt64(value)}
}

// NewRealConst returns the numeral num/den.
func NewRealConst(num, den int64) *Const {
	return &Const{Value: big.NewRat(num, den)}
}

// Type returns Int for integral values and Real otherwise.
func (c *Const) Type() *Type {
	if c.Value.IsInt() {
		return IntType
	}
	return RealType
}

// Hash returns the structural hash of the numeral.
func (c *Const) Hash() uint64 {
	if c.hash == 0 {
		h := newTermHash(termKindConst)
		h.writeString(c.Value.RatString())
		c.hash = h.sum()
	}
	return c.hash
}

func (c *Const) String() string {
	if c.Value.Sign() < 0 {
		return fmt.Sprintf("(- %s)", formatRat(new(big.Rat).Neg(c.Value)))
	}
	return formatRat(c.Value)
}

func formatRat(r *big.Rat) string {
	if r.IsInt() {
		return r.Num().String()
	}
	return fmt.Sprintf("(/ %s %s)", r.Num(), r.Denom())
}

// IsZero returns true if the numeral is zero.
func (c *Const) IsZero() bool { return c.Value.Sign() == 0 }

// IsOne returns true if the numeral is one.
func (c *Const) IsOne() bool { return c.Value.Cmp(ratOne) == 0 }

// BoolConst represents a boolean constant.
type BoolConst struct {
	Value bool
}

// Boolean constants.
var (
	True  = &BoolConst{Value: true}
	False = &BoolConst{Value: false}
)

// NewBoolConst returns True or False.
func NewBoolConst(value bool) *BoolConst {
	if value {
		return True
	}
	return False
}

// Type returns the boolean type.
func (c *BoolConst) Type() *Type { return BoolType }

// Hash returns the structural hash of the constant.
func (c *BoolConst) Hash() uint64 {
	h := newTermHash(termKindBoolConst)
	if c.Value {
		h.writeUint64(1)
	} else {
		h.writeUint64(0)
	}
	return h.sum()
}

func (c *BoolConst) String() string {
	if c.Value {
		return "true"
	}
	return "false"
}

// BVConst represents a bit-vector constant.
type BVConst struct {
	Value uint64
	Width uint
}

// NewBVConst returns a bit-vector constant truncated to width bits.
func NewBVConst(value uint64, width uint) *BVConst {
	assert(width > 0 && width <= 64, "invalid bit-vector width: %d", width)
	return &BVConst{Value: value & bvMask(width), Width: width}
}

func bvMask(width uint) uint64 {
	if width >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << width) - 1
}

// Type returns the bit-vector type of the constant.
func (c *BVConst) Type() *Type { return NewBitVecType(c.Width) }

// Hash returns the structural hash of the constant.
func (c *BVConst) Hash() uint64 {
	h := newTermHash(termKindBVConst)
	h.writeUint64(c.Value)
	h.writeUint64(uint64(c.Width))
	return h.sum()
}

func (c *BVConst) String() string {
	return fmt.Sprintf("(_ bv%d %d)", c.Value, c.Width)
}

// App represents an operator or symbol applied to arguments.
// Applications should be built with NewApp or the specific constructors so
// that they are kept in normal form.
type App struct {
	Op   Op
	Sym  Symbol // function, constructor, or selector
	Args []Term

	typ  *Type
	hash uint64
}

// Type returns the result type of the application.
func (a *App) Type() *Type {
	if a.typ == nil {
		a.typ = appType(a.Op, a.Sym, a.Args)
	}
	return a.typ
}

func appType(op Op, sym Symbol, args []Term) *Type {
	switch op {
	case NOT, AND, OR, EQ, GEQ, BVULT, BVULE:
		return BoolType
	case ITE:
		return joinType(args[1].Type(), args[2].Type())
	case PLUS, MULT:
		for _, arg := range args {
			if !arg.Type().IsInteger() {
				return RealType
			}
		}
		return IntType
	case INTDIV, INTMOD, TOINT:
		return IntType
	case APPLY:
		return sym.(*Func).Range
	case CONSTRUCTOR:
		return sym.(*Constructor).Type
	case SELECTOR:
		return sym.(*Selector).Range
	case BVADD:
		return args[0].Type()
	default:
		panic("unreachable")
	}
}

// joinType returns the least common supertype of two types.
func joinType(a, b *Type) *Type {
	if a.IsSubtypeOf(b) {
		return b
	}
	return a
}

// Hash returns the structural hash of the application.
func (a *App) Hash() uint64 {
	if a.hash == 0 {
		h := newTermHash(termKindApp)
		h.writeUint64(uint64(a.Op))
		if a.Sym != nil {
			h.writeString(a.Sym.SymbolName())
		}
		for _, arg := range a.Args {
			h.writeUint64(arg.Hash())
		}
		a.hash = h.sum()
	}
	return a.hash
}

func (a *App) String() string {
	var buf bytes.Buffer
	buf.WriteString("(")
	if a.Sym != nil {
		if len(a.Args) == 0 {
			return a.Sym.SymbolName()
		}
		buf.WriteString(a.Sym.SymbolName())
	} else {
		buf.WriteString(a.Op.String())
	}
	for _, arg := range a.Args {
		buf.WriteString(" ")
		buf.WriteString(arg.String())
	}
	buf.WriteString(")")
	return buf.String()
}

// Forall represents a universally quantified formula.
type Forall struct {
	Vars []*Var
	Body Term

	hash uint64
}

// NewForall returns a universal quantifier over vars.
func NewForall(vars []*Var, body Term) Term {
	if len(vars) == 0 {
		return body
	} else if _, ok := body.(*BoolConst); ok {
		return body
	}
	return &Forall{Vars: vars, Body: body}
}

// Type returns the boolean type.
func (q *Forall) Type() *Type { return BoolType }

// Hash returns the structural hash of the quantifier.
func (q *Forall) Hash() uint64 {
	if q.hash == 0 {
		h := newTermHash(termKindForall)
		for _, v := range q.Vars {
			h.writeUint64(v.Hash())
		}
		h.writeUint64(q.Body.Hash())
		q.hash = h.sum()
	}
	return q.hash
}

func (q *Forall) String() string {
	a := make([]string, len(q.Vars))
	for i, v := range q.Vars {
		a[i] = fmt.Sprintf("(%s %s)", v.Name, v.Type())
	}
	return fmt.Sprintf("(forall (%s) %s)", strings.Join(a, " "), q.Body)
}

const (
	termKindBoolConst = iota + 1
	termKindConst
	termKindBVConst
	termKindVar
	termKindApp
	termKindForall
)

func termKind(t Term) int {
	switch t.(type) {
	case *BoolConst:
		return termKindBoolConst
	case *Const:
		return termKindConst
	case *BVConst:
		return termKindBVConst
	case *Var:
		return termKindVar
	case *App:
		return termKindApp
	case *Forall:
		return termKindForall
	default:
		panic("unreachable")
	}
}

// termHash accumulates the structural hash of a term.
type termHash struct {
	d   *xxhash.Digest
	buf [8]byte
}

func newTermHash(kind int) *termHash {
	h := &termHash{d: xxhash.New()}
	h.writeUint64(uint64(kind))
	return h
}

func (h *termHash) writeUint64(v uint64) {
	binary.LittleEndian.PutUint64(h.buf[:], v)
	h.d.Write(h.buf[:])
}

func (h *termHash) writeString(s string) {
	h.d.WriteString(s)
	h.d.Write([]byte{0})
}

func (h *termHash) sum() uint64 {
	if v := h.d.Sum64(); v != 0 {
		return v
	}
	return 1
}

// IsConstant returns true if t is a boolean, numeral, or bit-vector constant.
func IsConstant(t Term) bool {
	switch t.(type) {
	case *BoolConst, *Const, *BVConst:
		return true
	default:
		return false
	}
}

// IsValue returns true if t is a constant or a constructor applied to values.
func IsValue(t Term) bool {
	if IsConstant(t) {
		return true
	} else if t, ok := t.(*App); ok && t.Op == CONSTRUCTOR {
		for _, arg := range t.Args {
			if !IsValue(arg) {
				return false
			}
		}
		return true
	}
	return false
}

// TermEqual returns true if a and b are structurally equal.
func TermEqual(a, b Term) bool {
	if a == b {
		return true
	} else if a == nil || b == nil {
		return false
	}
	return a.Hash() == b.Hash() && CompareTerm(a, b) == 0
}

// CompareTerm returns an integer comparing two terms in a fixed total order.
// Constants sort before symbols, symbols before applications.
func CompareTerm(a, b Term) int {
	if a == b {
		return 0
	} else if a == nil {
		return -1
	} else if b == nil {
		return 1
	}

	if ak, bk := termKind(a), termKind(b); ak < bk {
		return -1
	} else if ak > bk {
		return 1
	}

	switch a := a.(type) {
	case *BoolConst:
		return compareBool(a.Value, b.(*BoolConst).Value)
	case *Const:
		return a.Value.Cmp(b.(*Const).Value)
	case *BVConst:
		b := b.(*BVConst)
		if cmp := compareUint64(uint64(a.Width), uint64(b.Width)); cmp != 0 {
			return cmp
		}
		return compareUint64(a.Value, b.Value)
	case *Var:
		b := b.(*Var)
		if cmp := strings.Compare(a.Name, b.Name); cmp != 0 {
			return cmp
		}
		return strings.Compare(a.typ.String(), b.typ.String())
	case *App:
		return compareApp(a, b.(*App))
	case *Forall:
		return compareForall(a, b.(*Forall))
	default:
		panic("unreachable")
	}
}

func compareApp(a, b *App) int {
	if a.Op < b.Op {
		return -1
	} else if a.Op > b.Op {
		return 1
	}

	if a.Sym != nil && b.Sym != nil {
		if cmp := strings.Compare(a.Sym.SymbolName(), b.Sym.SymbolName()); cmp != 0 {
			return cmp
		}
	}

	if cmp := compareUint64(uint64(len(a.Args)), uint64(len(b.Args))); cmp != 0 {
		return cmp
	}
	for i := range a.Args {
		if cmp := CompareTerm(a.Args[i], b.Args[i]); cmp != 0 {
			return cmp
		}
	}
	return 0
}

func compareForall(a, b *Forall) int {
	if cmp := compareUint64(uint64(len(a.Vars)), uint64(len(b.Vars))); cmp != 0 {
		return cmp
	}
	for i := range a.Vars {
		if cmp := CompareTerm(a.Vars[i], b.Vars[i]); cmp != 0 {
			return cmp
		}
	}
	return CompareTerm(a.Body, b.Body)
}

func compareBool(a, b bool) int {
	if a == b {
		return 0
	} else if !a {
		return -1
	}
	return 1
}

func compareUint64(a, b uint64) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}

// NewApp returns the normal form of op applied to args.
// Sym is required for APPLY, CONSTRUCTOR, and SELECTOR.
func NewApp(op Op, sym Symbol, args ...Term) Term {
	switch op {
	case NOT:
		return NewNot(args[0])
	case AND:
		return NewAnd(args...)
	case OR:
		return NewOr(args...)
	case ITE:
		return NewIte(args[0], args[1], args[2])
	case EQ:
		return NewEq(args[0], args[1])
	case PLUS:
		return NewPlus(args...)
	case MULT:
		return NewMult(args...)
	case GEQ:
		return NewGeq(args[0], args[1])
	case INTDIV:
		return NewIntDiv(args[0], args[1])
	case INTMOD:
		return NewIntMod(args[0], args[1])
	case TOINT:
		return NewToInt(args[0])
	case APPLY:
		return NewApply(sym.(*Func), args...)
	case CONSTRUCTOR:
		return NewConstructorApp(sym.(*Constructor), args...)
	case SELECTOR:
		return NewSelectorApp(sym.(*Selector), args[0])
	case BVADD:
		return NewBVAdd(args[0], args[1])
	case BVULT:
		return NewBVUlt(args[0], args[1])
	case BVULE:
		return NewBVUle(args[0], args[1])
	default:
		panic(fmt.Sprintf("NewApp: invalid operator: %s", op))
	}
}

// NewNot returns the negation of t.
func NewNot(t Term) Term {
	switch t := t.(type) {
	case *BoolConst:
		return NewBoolConst(!t.Value)
	case *App:
		if t.Op == NOT {
			return t.Args[0]
		}
	}
	return &App{Op: NOT, Args: []Term{t}}
}

// NewAnd returns the conjunction of args, flattening nested conjunctions.
func NewAnd(args ...Term) Term {
	return newJunction(AND, args)
}

// NewOr returns the disjunction of args, flattening nested disjunctions.
func NewOr(args ...Term) Term {
	return newJunction(OR, args)
}

func newJunction(op Op, args []Term) Term {
	// The absorbing element of AND is false, of OR is true.
	absorb := op == OR

	a := make([]Term, 0, len(args))
	for _, arg := range args {
		switch arg := arg.(type) {
		case *BoolConst:
			if arg.Value == absorb {
				return arg
			}
			continue
		case *App:
			if arg.Op == op {
				a = append(a, arg.Args...)
				continue
			}
		}
		a = append(a, arg)
	}

	switch len(a) {
	case 0:
		return NewBoolConst(!absorb)
	case 1:
		return a[0]
	}
	return &App{Op: op, Args: a}
}

// NewImplies returns (or (not a) b).
func NewImplies(a, b Term) Term {
	return NewOr(NewNot(a), b)
}

// NewIte returns an if-then-else term.
func NewIte(cond, then, els Term) Term {
	if c, ok := cond.(*BoolConst); ok {
		if c.Value {
			return then
		}
		return els
	} else if TermEqual(then, els) {
		return then
	}
	return &App{Op: ITE, Args: []Term{cond, then, els}}
}

// NewEq returns the equality of a and b with operands in term order.
func NewEq(a, b Term) Term {
	if TermEqual(a, b) {
		return True
	} else if IsValue(a) && IsValue(b) {
		return False
	}

	// Boolean equality with a constant reduces to the other side.
	if c, ok := a.(*BoolConst); ok {
		if c.Value {
			return b
		}
		return NewNot(b)
	} else if c, ok := b.(*BoolConst); ok {
		if c.Value {
			return a
		}
		return NewNot(a)
	}

	if CompareTerm(a, b) > 0 {
		a, b = b, a
	}
	return &App{Op: EQ, Args: []Term{a, b}}
}

// NewApply returns an uninterpreted function application.
func NewApply(f *Func, args ...Term) Term {
	assert(len(args) == len(f.Domain), "apply %s: expected %d arguments, got %d", f.Name, len(f.Domain), len(args))
	return &App{Op: APPLY, Sym: f, Args: args}
}

// NewConstructorApp returns a datatype constructor application.
func NewConstructorApp(c *Constructor, args ...Term) Term {
	assert(len(args) == len(c.Selectors), "constructor %s: expected %d arguments, got %d", c.Name, len(c.Selectors), len(args))
	return &App{Op: CONSTRUCTOR, Sym: c, Args: args}
}

// NewSelectorApp returns a selector application. Selecting from a matching
// constructor application reduces to the selected argument.
func NewSelectorApp(s *Selector, arg Term) Term {
	if app, ok := arg.(*App); ok && app.Op == CONSTRUCTOR && app.Sym == s.Constructor {
		return app.Args[s.index]
	}
	return &App{Op: SELECTOR, Sym: s, Args: []Term{arg}}
}

// NewBVAdd returns the modular sum of two bit-vectors.
func NewBVAdd(a, b Term) Term {
	if ac, ok := a.(*BVConst); ok {
		if bc, ok := b.(*BVConst); ok {
			return NewBVConst(ac.Value+bc.Value, ac.Width)
		}
	}
	if CompareTerm(a, b) > 0 {
		a, b = b, a
	}
	return &App{Op: BVADD, Args: []Term{a, b}}
}

// NewBVUlt returns the unsigned less-than comparison of two bit-vectors.
func NewBVUlt(a, b Term) Term {
	if ac, ok := a.(*BVConst); ok {
		if bc, ok := b.(*BVConst); ok {
			return NewBoolConst(ac.Value < bc.Value)
		}
	}
	return &App{Op: BVULT, Args: []Term{a, b}}
}

// NewBVUle returns the unsigned less-or-equal comparison of two bit-vectors.
func NewBVUle(a, b Term) Term {
	if ac, ok := a.(*BVConst); ok {
		if bc, ok := b.(*BVConst); ok {
			return NewBoolConst(ac.Value <= bc.Value)
		}
	}
	return &App{Op: BVULE, Args: []Term{a, b}}
}

// TermVisitor represents a visitor that can be passed to WalkTerm().
type TermVisitor interface {
	// Executed for every visited term. Return nil to skip the children.
	Visit(t Term) TermVisitor
}

// WalkTerm traverses t in depth-first order. Quantifier bodies are visited.
func WalkTerm(v TermVisitor, t Term) {
	if v = v.Visit(t); v == nil {
		return
	}

	switch t := t.(type) {
	case *App:
		for _, arg := range t.Args {
			WalkTerm(v, arg)
		}
	case *Forall:
		for _, bv := range t.Vars {
			WalkTerm(v, bv)
		}
		WalkTerm(v, t.Body)
	}
}

type termVisitorFunc func(Term) bool

func (fn termVisitorFunc) Visit(t Term) TermVisitor {
	if fn(t) {
		return fn
	}
	return nil
}

// ContainsTerm returns true if s occurs as a subterm of t.
func ContainsTerm(t, s Term) bool {
	var found bool
	WalkTerm(termVisitorFunc(func(n Term) bool {
		if found {
			return false
		} else if TermEqual(n, s) {
			found = true
			return false
		}
		return true
	}), t)
	return found
}

// HasQuantifier returns true if t contains a quantified subformula.
func HasQuantifier(t Term) bool {
	var found bool
	WalkTerm(termVisitorFunc(func(n Term) bool {
		if _, ok := n.(*Forall); ok {
			found = true
		}
		return !found
	}), t)
	return found
}

// Substitute simultaneously replaces every occurrence of from[i] in t with
// to[i] and returns the normalized result. Bound variables of nested
// quantifiers are not replaced.
func Substitute(t Term, from, to []Term) Term {
	assert(len(from) == len(to), "substitute: length mismatch: %d != %d", len(from), len(to))
	if len(from) == 0 {
		return t
	}

	m := NewTermMap[Term]()
	for i := range from {
		m.Set(from[i], to[i])
	}
	return substitute(t, m)
}

func substitute(t Term, m *TermMap[Term]) Term {
	if other, ok := m.Get(t); ok {
		return other
	}

	switch t := t.(type) {
	case *App:
		var changed bool
		args := make([]Term, len(t.Args))
		for i, arg := range t.Args {
			if args[i] = substitute(arg, m); args[i] != arg {
				changed = true
			}
		}
		if !changed {
			return t
		}
		return NewApp(t.Op, t.Sym, args...)

	case *Forall:
		inner := m
		for _, v := range t.Vars {
			if inner.Has(v) {
				inner = inner.Without(v)
			}
		}
		if body := substitute(t.Body, inner); body != t.Body {
			return NewForall(t.Vars, body)
		}
	}
	return t
}
