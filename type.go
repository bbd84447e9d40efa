package cegqi

import (
	"fmt"
)

// TypeKind represents the category of a type.
type TypeKind int

// Type kinds.
const (
	BoolKind = TypeKind(iota + 1)
	IntKind
	RealKind
	BitVecKind
	DatatypeKind
	SortKind
)

// Type represents the sort of a term.
type Type struct {
	Kind  TypeKind
	Width uint   // bit-vector width
	Name  string // datatype or uninterpreted sort name

	// Constructors of a datatype, in declaration order.
	Constructors []*Constructor
}

// Builtin types.
var (
	BoolType = &Type{Kind: BoolKind}
	IntType  = &Type{Kind: IntKind}
	RealType = &Type{Kind: RealKind}
)

// NewBitVecType returns a bit-vector type of the given width.
func NewBitVecType(width uint) *Type {
	assert(width > 0, "bit-vector width must be positive")
	return &Type{Kind: BitVecKind, Width: width}
}

// NewSortType returns an uninterpreted sort.
func NewSortType(name string) *Type {
	return &Type{Kind: SortKind, Name: name}
}

// NewDatatype returns a datatype without constructors.
// Constructors are added with AddConstructor so that selectors may refer
// back to the datatype itself.
func NewDatatype(name string) *Type {
	return &Type{Kind: DatatypeKind, Name: name}
}

// AddConstructor appends a constructor to a datatype.
func (t *Type) AddConstructor(name string, selectors ...*Selector) *Constructor {
	assert(t.Kind == DatatypeKind, "AddConstructor: not a datatype: %s", t)
	c := &Constructor{Name: name, Selectors: selectors, Type: t, index: len(t.Constructors)}
	for i, sel := range selectors {
		sel.Constructor, sel.index = c, i
	}
	t.Constructors = append(t.Constructors, c)
	return c
}

// Constructor returns the datatype constructor with the given name, if any.
func (t *Type) Constructor(name string) *Constructor {
	for _, c := range t.Constructors {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Equal returns true if t and other denote the same type.
// Datatypes are nominal and only equal to themselves.
func (t *Type) Equal(other *Type) bool {
	if t == other {
		return true
	} else if t == nil || other == nil || t.Kind != other.Kind {
		return false
	}

	switch t.Kind {
	case BitVecKind:
		return t.Width == other.Width
	case SortKind:
		return t.Name == other.Name
	case DatatypeKind:
		return false
	default:
		return true
	}
}

// IsSubtypeOf returns true if every value of t is a value of other.
// Integers are a subtype of reals.
func (t *Type) IsSubtypeOf(other *Type) bool {
	if t.Equal(other) {
		return true
	}
	return t.Kind == IntKind && other.Kind == RealKind
}

// BaseType returns the maximal supertype of t.
func (t *Type) BaseType() *Type {
	if t.Kind == IntKind {
		return RealType
	}
	return t
}

// IsArith returns true for integer and real types.
func (t *Type) IsArith() bool { return t.Kind == IntKind || t.Kind == RealKind }

// IsInteger returns true for the integer type.
func (t *Type) IsInteger() bool { return t.Kind == IntKind }

// IsBool returns true for the boolean type.
func (t *Type) IsBool() bool { return t.Kind == BoolKind }

// IsDatatype returns true for datatypes.
func (t *Type) IsDatatype() bool { return t.Kind == DatatypeKind }

// IsClosedEnumerable returns true if values of t can be written down as
// closed terms without reference to uninterpreted elements.
func (t *Type) IsClosedEnumerable() bool {
	return t.isClosedEnumerable(make(map[*Type]struct{}))
}

func (t *Type) isClosedEnumerable(visited map[*Type]struct{}) bool {
	switch t.Kind {
	case SortKind:
		return false
	case DatatypeKind:
		if _, ok := visited[t]; ok {
			return true
		}
		visited[t] = struct{}{}
		for _, c := range t.Constructors {
			for _, sel := range c.Selectors {
				if !sel.Range.isClosedEnumerable(visited) {
					return false
				}
			}
		}
	}
	return true
}

// String returns the SMT-LIB name of the type.
func (t *Type) String() string {
	switch t.Kind {
	case BoolKind:
		return "Bool"
	case IntKind:
		return "Int"
	case RealKind:
		return "Real"
	case BitVecKind:
		return fmt.Sprintf("(_ BitVec %d)", t.Width)
	case DatatypeKind, SortKind:
		return t.Name
	default:
		return fmt.Sprintf("TypeKind<%d>", t.Kind)
	}
}

// TheoryOf returns the theory owning values of the type.
func TheoryOf(t *Type) TheoryID {
	switch t.Kind {
	case BoolKind:
		return TheoryBool
	case IntKind, RealKind:
		return TheoryArith
	case BitVecKind:
		return TheoryBV
	case DatatypeKind:
		return TheoryDatatypes
	case SortKind:
		return TheoryUF
	default:
		return TheoryBuiltin
	}
}

// Constructor represents a datatype constructor.
type Constructor struct {
	Name      string
	Selectors []*Selector
	Type      *Type

	index int
}

// Index returns the position of the constructor within its datatype.
func (c *Constructor) Index() int { return c.index }

// Selector represents a datatype field accessor.
type Selector struct {
	Name        string
	Range       *Type
	Constructor *Constructor

	index int
}

// NewSelector returns a selector returning values of type rng.
func NewSelector(name string, rng *Type) *Selector {
	return &Selector{Name: name, Range: rng}
}

// Index returns the argument position the selector extracts.
func (s *Selector) Index() int { return s.index }

// Func represents an uninterpreted function symbol.
type Func struct {
	Name   string
	Domain []*Type
	Range  *Type
}

// NewFunc returns a new uninterpreted function symbol.
func NewFunc(name string, domain []*Type, rng *Type) *Func {
	return &Func{Name: name, Domain: domain, Range: rng}
}
