package cegqi

import (
	"errors"
	"fmt"
)

// TheoryID identifies the ground theory that owns a type or a literal.
type TheoryID int

// Ground theories.
const (
	TheoryBuiltin = TheoryID(iota)
	TheoryBool
	TheoryUF
	TheoryArith
	TheoryDatatypes
	TheoryBV
)

var theoryNames = [...]string{
	TheoryBuiltin:   "builtin",
	TheoryBool:      "bool",
	TheoryUF:        "uf",
	TheoryArith:     "arith",
	TheoryDatatypes: "datatypes",
	TheoryBV:        "bv",
}

// String returns the name of the theory.
func (id TheoryID) String() string {
	if id >= 0 && id < TheoryID(len(theoryNames)) {
		return theoryNames[id]
	}
	return fmt.Sprintf("TheoryID<%d>", id)
}

// Search efforts used by the two attempts of a check.
const (
	EffortStructural = 0
	EffortModel      = 1
	EffortForceModel = 2
)

// MaxPresolveConjuncts bounds the number of conjuncts in a presolve lemma.
const MaxPresolveConjuncts = 1000

var (
	ErrUnknownSymbol    = errors.New("cegqi: unknown symbol")
	ErrUnexpectedEOF    = errors.New("cegqi: unexpected end of input")
	ErrUnexpectedToken  = errors.New("cegqi: unexpected token")
	ErrTypeMismatch     = errors.New("cegqi: type mismatch")
	ErrNotQuantified    = errors.New("cegqi: formula is not a universal quantifier")
	ErrInvalidNumeral   = errors.New("cegqi: invalid numeral")
	ErrDuplicateSymbol  = errors.New("cegqi: duplicate symbol")
	ErrWrongArgumentCnt = errors.New("cegqi: wrong number of arguments")
)

// assert panics if condition is false.
func assert(condition bool, format string, args ...interface{}) {
	if !condition {
		panic(fmt.Sprintf("assert: "+format, args...))
	}
}
