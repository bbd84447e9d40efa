package cegqi

import (
	"math/big"
	"strconv"
	"strings"
	"unicode"

	"github.com/pkg/errors"
)

// Parser reads types and terms written as SMT-LIB s-expressions. Symbols
// must be declared before they are referenced.
type Parser struct {
	types  map[string]*Type
	funcs  map[string]*Func
	consts map[string]*Var
	ctors  map[string]*Constructor
	sels   map[string]*Selector

	// Bound variables of enclosing quantifiers, innermost last.
	scope []map[string]*Var
}

// NewParser returns a parser that knows the builtin types.
func NewParser() *Parser {
	return &Parser{
		types: map[string]*Type{
			"Bool": BoolType,
			"Int":  IntType,
			"Real": RealType,
		},
		funcs:  make(map[string]*Func),
		consts: make(map[string]*Var),
		ctors:  make(map[string]*Constructor),
		sels:   make(map[string]*Selector),
	}
}

// DeclareType registers an uninterpreted sort or a datatype by name.
func (p *Parser) DeclareType(t *Type) error {
	if _, ok := p.types[t.Name]; ok {
		return errors.Wrapf(ErrDuplicateSymbol, "type %q", t.Name)
	}
	p.types[t.Name] = t
	return nil
}

// DeclareConstructors registers the constructors and selectors of a datatype.
func (p *Parser) DeclareConstructors(t *Type) error {
	for _, c := range t.Constructors {
		if p.defined(c.Name) {
			return errors.Wrapf(ErrDuplicateSymbol, "constructor %q", c.Name)
		}
		p.ctors[c.Name] = c

		for _, sel := range c.Selectors {
			if p.defined(sel.Name) {
				return errors.Wrapf(ErrDuplicateSymbol, "selector %q", sel.Name)
			}
			p.sels[sel.Name] = sel
		}
	}
	return nil
}

// DeclareFunc registers an uninterpreted function.
func (p *Parser) DeclareFunc(f *Func) error {
	if p.defined(f.Name) {
		return errors.Wrapf(ErrDuplicateSymbol, "function %q", f.Name)
	}
	p.funcs[f.Name] = f
	return nil
}

// DeclareConst registers a free constant.
func (p *Parser) DeclareConst(v *Var) error {
	if p.defined(v.Name) {
		return errors.Wrapf(ErrDuplicateSymbol, "constant %q", v.Name)
	}
	p.consts[v.Name] = v
	return nil
}

// Bind registers v under name, which may differ from the name of v.
func (p *Parser) Bind(name string, v *Var) error {
	if p.defined(name) {
		return errors.Wrapf(ErrDuplicateSymbol, "constant %q", name)
	}
	p.consts[name] = v
	return nil
}

// Const returns the declared constant with the given name, if any.
func (p *Parser) Const(name string) *Var { return p.consts[name] }

// Type returns the declared type with the given name, if any.
func (p *Parser) Type(name string) *Type { return p.types[name] }

func (p *Parser) defined(name string) bool {
	_, f := p.funcs[name]
	_, v := p.consts[name]
	_, c := p.ctors[name]
	_, s := p.sels[name]
	return f || v || c || s
}

// ParseType parses a type such as Int or (_ BitVec 8).
func (p *Parser) ParseType(s string) (*Type, error) {
	e, err := parseOne(s)
	if err != nil {
		return nil, err
	}
	return p.typ(e)
}

// ParseTerm parses a single term.
func (p *Parser) ParseTerm(s string) (Term, error) {
	e, err := parseOne(s)
	if err != nil {
		return nil, err
	}
	return p.term(e)
}

func (p *Parser) typ(e *sexpr) (*Type, error) {
	if !e.isList {
		if t := p.types[e.atom]; t != nil {
			return t, nil
		}
		return nil, errors.Wrapf(ErrUnknownSymbol, "type %q", e.atom)
	}

	if len(e.list) == 3 && e.list[0].atom == "_" && e.list[1].atom == "BitVec" {
		width, err := strconv.ParseUint(e.list[2].atom, 10, 7)
		if err != nil || width == 0 || width > 64 {
			return nil, errors.Wrapf(ErrInvalidNumeral, "bit-vector width %q", e.list[2].atom)
		}
		return NewBitVecType(uint(width)), nil
	}
	return nil, errors.Wrapf(ErrUnexpectedToken, "type %s", e)
}

func (p *Parser) term(e *sexpr) (Term, error) {
	if !e.isList {
		return p.atom(e.atom)
	} else if len(e.list) == 0 {
		return nil, errors.Wrap(ErrUnexpectedToken, "empty list")
	}

	head := e.list[0]
	if head.isList {
		return nil, errors.Wrapf(ErrUnexpectedToken, "application head %s", head)
	}

	switch head.atom {
	case "_":
		return p.indexed(e)
	case "forall":
		return p.forall(e)
	}

	args := make([]Term, len(e.list)-1)
	for i, arg := range e.list[1:] {
		t, err := p.term(arg)
		if err != nil {
			return nil, err
		}
		args[i] = t
	}
	return p.apply(head.atom, args)
}

func (p *Parser) atom(s string) (Term, error) {
	switch s {
	case "":
		return nil, errors.Wrap(ErrUnexpectedToken, "empty symbol")
	case "true":
		return True, nil
	case "false":
		return False, nil
	}

	switch {
	case s[0] >= '0' && s[0] <= '9':
		r, ok := new(big.Rat).SetString(s)
		if !ok {
			return nil, errors.Wrapf(ErrInvalidNumeral, "%q", s)
		}
		return NewConst(r), nil
	case strings.HasPrefix(s, "#b"):
		v, err := strconv.ParseUint(s[2:], 2, 64)
		if err != nil || len(s) == 2 {
			return nil, errors.Wrapf(ErrInvalidNumeral, "%q", s)
		}
		return NewBVConst(v, uint(len(s)-2)), nil
	case strings.HasPrefix(s, "#x"):
		v, err := strconv.ParseUint(s[2:], 16, 64)
		if err != nil || len(s) == 2 {
			return nil, errors.Wrapf(ErrInvalidNumeral, "%q", s)
		}
		return NewBVConst(v, uint(4*(len(s)-2))), nil
	}

	for i := len(p.scope) - 1; i >= 0; i-- {
		if v := p.scope[i][s]; v != nil {
			return v, nil
		}
	}
	if v := p.consts[s]; v != nil {
		return v, nil
	} else if c := p.ctors[s]; c != nil {
		if len(c.Selectors) != 0 {
			return nil, errors.Wrapf(ErrWrongArgumentCnt, "constructor %q", s)
		}
		return NewConstructorApp(c), nil
	}
	return nil, errors.Wrapf(ErrUnknownSymbol, "%q", s)
}

// indexed parses (_ bvN W).
func (p *Parser) indexed(e *sexpr) (Term, error) {
	if len(e.list) != 3 || e.list[1].isList || !strings.HasPrefix(e.list[1].atom, "bv") {
		return nil, errors.Wrapf(ErrUnexpectedToken, "indexed term %s", e)
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(e.list[1].atom, "bv"), 10, 64)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidNumeral, "%s", e)
	}
	width, err := strconv.ParseUint(e.list[2].atom, 10, 7)
	if err != nil || width == 0 || width > 64 {
		return nil, errors.Wrapf(ErrInvalidNumeral, "%s", e)
	}
	return NewBVConst(v, uint(width)), nil
}

// forall parses (forall ((x T) ...) body).
func (p *Parser) forall(e *sexpr) (Term, error) {
	if len(e.list) != 3 || !e.list[1].isList {
		return nil, errors.Wrapf(ErrUnexpectedToken, "quantifier %s", e)
	}

	scope := make(map[string]*Var)
	vars := make([]*Var, 0, len(e.list[1].list))
	for _, decl := range e.list[1].list {
		if !decl.isList || len(decl.list) != 2 || decl.list[0].isList {
			return nil, errors.Wrapf(ErrUnexpectedToken, "variable declaration %s", decl)
		}
		typ, err := p.typ(decl.list[1])
		if err != nil {
			return nil, err
		}
		v := NewVar(decl.list[0].atom, typ)
		scope[v.Name] = v
		vars = append(vars, v)
	}

	p.scope = append(p.scope, scope)
	body, err := p.term(e.list[2])
	p.scope = p.scope[:len(p.scope)-1]
	if err != nil {
		return nil, err
	} else if !body.Type().IsBool() {
		return nil, errors.Wrapf(ErrTypeMismatch, "quantifier body %s", body)
	}
	return NewForall(vars, body), nil
}

func (p *Parser) apply(name string, args []Term) (Term, error) {
	switch name {
	case "not":
		if err := checkArgs(name, args, 1, 1, (*Type).IsBool); err != nil {
			return nil, err
		}
		return NewNot(args[0]), nil
	case "and", "or":
		if err := checkArgs(name, args, 1, -1, (*Type).IsBool); err != nil {
			return nil, err
		} else if name == "and" {
			return NewAnd(args...), nil
		}
		return NewOr(args...), nil
	case "=>":
		if err := checkArgs(name, args, 2, -1, (*Type).IsBool); err != nil {
			return nil, err
		}
		ret := args[len(args)-1]
		for i := len(args) - 2; i >= 0; i-- {
			ret = NewImplies(args[i], ret)
		}
		return ret, nil
	case "ite":
		if err := checkArgs(name, args, 3, 3, nil); err != nil {
			return nil, err
		} else if !args[0].Type().IsBool() || !compatibleTypes(args[1], args[2]) {
			return nil, errors.Wrapf(ErrTypeMismatch, "ite")
		}
		return NewIte(args[0], args[1], args[2]), nil
	case "=", "distinct":
		if err := checkArgs(name, args, 2, -1, nil); err != nil {
			return nil, err
		}
		var a []Term
		for i := range args {
			for j := i + 1; j < len(args); j++ {
				if !compatibleTypes(args[i], args[j]) {
					return nil, errors.Wrapf(ErrTypeMismatch, "%s %s %s", name, args[i], args[j])
				}
				if name == "=" {
					if j == i+1 {
						a = append(a, NewEq(args[i], args[j]))
					}
				} else {
					a = append(a, NewNot(NewEq(args[i], args[j])))
				}
			}
		}
		return NewAnd(a...), nil
	case "+", "*":
		if err := checkArgs(name, args, 1, -1, (*Type).IsArith); err != nil {
			return nil, err
		} else if name == "+" {
			return NewPlus(args...), nil
		}
		return NewMult(args...), nil
	case "-":
		if err := checkArgs(name, args, 1, -1, (*Type).IsArith); err != nil {
			return nil, err
		} else if len(args) == 1 {
			return NewNeg(args[0]), nil
		}
		ret := args[0]
		for _, arg := range args[1:] {
			ret = NewSub(ret, arg)
		}
		return ret, nil
	case "/":
		if err := checkArgs(name, args, 2, 2, (*Type).IsArith); err != nil {
			return nil, err
		}
		c, ok := args[1].(*Const)
		if !ok || c.IsZero() {
			return nil, errors.Wrapf(ErrTypeMismatch, "division by non-constant %s", args[1])
		}
		return NewScale(ratInv(c.Value), args[0]), nil
	case ">=", "<=", ">", "<":
		if err := checkArgs(name, args, 2, 2, (*Type).IsArith); err != nil {
			return nil, err
		}
		switch name {
		case ">=":
			return NewGeq(args[0], args[1]), nil
		case "<=":
			return NewLeq(args[0], args[1]), nil
		case ">":
			return NewGt(args[0], args[1]), nil
		default:
			return NewLt(args[0], args[1]), nil
		}
	case "div", "mod":
		if err := checkArgs(name, args, 2, 2, (*Type).IsInteger); err != nil {
			return nil, err
		} else if name == "div" {
			return NewIntDiv(args[0], args[1]), nil
		}
		return NewIntMod(args[0], args[1]), nil
	case "to_int":
		if err := checkArgs(name, args, 1, 1, (*Type).IsArith); err != nil {
			return nil, err
		}
		return NewToInt(args[0]), nil
	case "to_real":
		if err := checkArgs(name, args, 1, 1, (*Type).IsArith); err != nil {
			return nil, err
		}
		return args[0], nil
	case "bvadd", "bvult", "bvule":
		if err := checkArgs(name, args, 2, 2, isBitVec); err != nil {
			return nil, err
		} else if !args[0].Type().Equal(args[1].Type()) {
			return nil, errors.Wrapf(ErrTypeMismatch, "%s: width", name)
		}
		switch name {
		case "bvadd":
			return NewBVAdd(args[0], args[1]), nil
		case "bvult":
			return NewBVUlt(args[0], args[1]), nil
		default:
			return NewBVUle(args[0], args[1]), nil
		}
	}

	if f := p.funcs[name]; f != nil {
		if len(args) != len(f.Domain) {
			return nil, errors.Wrapf(ErrWrongArgumentCnt, "%s: expected %d, got %d", name, len(f.Domain), len(args))
		}
		for i, arg := range args {
			if !arg.Type().IsSubtypeOf(f.Domain[i]) {
				return nil, errors.Wrapf(ErrTypeMismatch, "%s: argument %d: %s", name, i, arg)
			}
		}
		return NewApply(f, args...), nil
	} else if c := p.ctors[name]; c != nil {
		if len(args) != len(c.Selectors) {
			return nil, errors.Wrapf(ErrWrongArgumentCnt, "%s: expected %d, got %d", name, len(c.Selectors), len(args))
		}
		for i, arg := range args {
			if !arg.Type().IsSubtypeOf(c.Selectors[i].Range) {
				return nil, errors.Wrapf(ErrTypeMismatch, "%s: argument %d: %s", name, i, arg)
			}
		}
		return NewConstructorApp(c, args...), nil
	} else if sel := p.sels[name]; sel != nil {
		if len(args) != 1 {
			return nil, errors.Wrapf(ErrWrongArgumentCnt, "%s: expected 1, got %d", name, len(args))
		} else if !args[0].Type().Equal(sel.Constructor.Type) {
			return nil, errors.Wrapf(ErrTypeMismatch, "%s: %s", name, args[0])
		}
		return NewSelectorApp(sel, args[0]), nil
	}
	return nil, errors.Wrapf(ErrUnknownSymbol, "%q", name)
}

// checkArgs validates the argument count (hi < 0 means unbounded) and,
// if fn is set, the type of every argument.
func checkArgs(name string, args []Term, lo, hi int, fn func(*Type) bool) error {
	if len(args) < lo || (hi >= 0 && len(args) > hi) {
		return errors.Wrapf(ErrWrongArgumentCnt, "%s: got %d", name, len(args))
	}
	if fn != nil {
		for i, arg := range args {
			if !fn(arg.Type()) {
				return errors.Wrapf(ErrTypeMismatch, "%s: argument %d: %s has type %s", name, i, arg, arg.Type())
			}
		}
	}
	return nil
}

func compatibleTypes(a, b Term) bool {
	return a.Type().IsSubtypeOf(b.Type()) || b.Type().IsSubtypeOf(a.Type())
}

func isBitVec(t *Type) bool { return t.Kind == BitVecKind }

// sexpr is an atom or a parenthesized list.
type sexpr struct {
	atom   string
	list   []*sexpr
	isList bool
}

func (e *sexpr) String() string {
	if !e.isList {
		return e.atom
	}
	a := make([]string, len(e.list))
	for i, x := range e.list {
		a[i] = x.String()
	}
	return "(" + strings.Join(a, " ") + ")"
}

// parseOne reads exactly one s-expression from s.
func parseOne(s string) (*sexpr, error) {
	a, err := parseSexprs(s)
	if err != nil {
		return nil, err
	} else if len(a) == 0 {
		return nil, ErrUnexpectedEOF
	} else if len(a) > 1 {
		return nil, errors.Wrapf(ErrUnexpectedToken, "trailing input %s", a[1])
	}
	return a[0], nil
}

// parseSexprs reads a sequence of s-expressions. Comments run from ';' to
// the end of the line and |...| quotes a symbol.
func parseSexprs(s string) ([]*sexpr, error) {
	var stack [][]*sexpr
	var top []*sexpr

	for i := 0; i < len(s); {
		ch := rune(s[i])
		switch {
		case unicode.IsSpace(ch):
			i++
		case ch == ';':
			for i < len(s) && s[i] != '\n' {
				i++
			}
		case ch == '(':
			stack = append(stack, top)
			top = nil
			i++
		case ch == ')':
			if len(stack) == 0 {
				return nil, errors.Wrapf(ErrUnexpectedToken, "unbalanced ')' at offset %d", i)
			}
			e := &sexpr{list: top, isList: true}
			top = append(stack[len(stack)-1], e)
			stack = stack[:len(stack)-1]
			i++
		case ch == '|':
			j := strings.IndexByte(s[i+1:], '|')
			if j == -1 {
				return nil, errors.Wrapf(ErrUnexpectedEOF, "unterminated symbol at offset %d", i)
			}
			top = append(top, &sexpr{atom: s[i+1 : i+1+j]})
			i += j + 2
		default:
			j := i
			for j < len(s) && !unicode.IsSpace(rune(s[j])) && s[j] != '(' && s[j] != ')' && s[j] != ';' {
				j++
			}
			top = append(top, &sexpr{atom: s[i:j]})
			i = j
		}
	}

	if len(stack) != 0 {
		return nil, errors.Wrap(ErrUnexpectedEOF, "unbalanced '('")
	}
	return top, nil
}
