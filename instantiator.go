package cegqi

import (
	"log"
	"math/big"
	"sort"
)

// Instantiator is the per-variable strategy chosen by the variable's type.
// The set of strategies is closed: ArithInstantiator, DatatypeInstantiator,
// EprInstantiator, BvInstantiator, ModelValueInstantiator and
// GenericInstantiator. The orchestrator dispatches on the concrete type.
type Instantiator interface {
	instantiator()
}

func (*ArithInstantiator) instantiator()      {}
func (*DatatypeInstantiator) instantiator()   {}
func (*EprInstantiator) instantiator()        {}
func (*BvInstantiator) instantiator()         {}
func (*ModelValueInstantiator) instantiator() {}
func (*GenericInstantiator) instantiator()    {}

// ArithInstantiator instantiates integer and real variables from bounds
// using model-based projection.
type ArithInstantiator struct {
	Type *Type
}

// DatatypeInstantiator instantiates datatype variables with constructor
// applications over selector sub-variables.
type DatatypeInstantiator struct {
	Type *Type
}

// EprInstantiator instantiates variables of uninterpreted sorts with equal
// ground terms, ranked by how well they match the counterexample atoms.
type EprInstantiator struct {
	Type *Type

	// Equal terms collected for the current attempt.
	equalTerms []Term
}

// BvInstantiator instantiates bit-vector variables. It has no bound
// extraction and relies on model values.
type BvInstantiator struct {
	Type *Type
}

// ModelValueInstantiator instantiates boolean variables with their model value.
type ModelValueInstantiator struct {
	Type *Type
}

// GenericInstantiator is used for any other type and relies on model values.
type GenericInstantiator struct {
	Type *Type
}

// NewInstantiator returns the instantiator for variables of type typ.
func NewInstantiator(typ *Type) Instantiator {
	switch typ.Kind {
	case IntKind, RealKind:
		return &ArithInstantiator{Type: typ}
	case SortKind:
		return &EprInstantiator{Type: typ}
	case DatatypeKind:
		return &DatatypeInstantiator{Type: typ}
	case BitVecKind:
		return &BvInstantiator{Type: typ}
	case BoolKind:
		return &ModelValueInstantiator{Type: typ}
	default:
		return &GenericInstantiator{Type: typ}
	}
}

// resetInstantiator clears per-attempt state of inst.
func (ci *CegInstantiator) resetInstantiator(inst Instantiator, pv Term, effort int) {
	switch inst := inst.(type) {
	case *EprInstantiator:
		inst.equalTerms = inst.equalTerms[:0]
	}
}

// processEqualTerm offers a single member n of pv's equivalence class.
func (ci *CegInstantiator) processEqualTerm(inst Instantiator, sf *SolvedForm, pv Term, coeff *big.Rat, n Term, effort int) bool {
	switch inst := inst.(type) {
	case *EprInstantiator:
		if ci.EprMatching {
			// Defer until all equal terms are known and can be ranked.
			inst.equalTerms = append(inst.equalTerms, n)
			return false
		}
	}
	return ci.doAddInstantiationInc(pv, n, coeff, BoundNone, sf, effort)
}

// processEqualTerms offers pv's equivalence class as a whole.
func (ci *CegInstantiator) processEqualTerms(inst Instantiator, sf *SolvedForm, pv Term, eqc []Term, effort int) bool {
	switch inst := inst.(type) {
	case *DatatypeInstantiator:
		return ci.processDatatypeEqualTerms(sf, pv, eqc, effort)
	case *EprInstantiator:
		if ci.EprMatching {
			return ci.processEprEqualTerms(inst, sf, pv, effort)
		}
	}
	return false
}

// processDatatypeEqualTerms looks for a constructor application C(t1..tn)
// in the class and proposes C(sel1(pv)..seln(pv)), pushing each selector
// application as a sub-variable to be solved next.
func (ci *CegInstantiator) processDatatypeEqualTerms(sf *SolvedForm, pv Term, eqc []Term, effort int) bool {
	for _, n := range eqc {
		app, ok := n.(*App)
		if !ok || app.Op != CONSTRUCTOR {
			continue
		}
		log.Printf("[inst] try constructor %s for %s", n, pv)

		c := app.Sym.(*Constructor)
		args := make([]Term, len(c.Selectors))
		for i, sel := range c.Selectors {
			args[i] = NewSelectorApp(sel, pv)
			ci.pushStackVar(args[i])
		}
		if ci.doAddInstantiationInc(pv, NewConstructorApp(c, args...), nil, BoundNone, sf, effort) {
			return true
		}
		for range c.Selectors {
			ci.popStackVar()
		}
	}
	return false
}

// processEprEqualTerms tries the collected equal terms in descending order
// of match score against the counterexample atoms.
func (ci *CegInstantiator) processEprEqualTerms(inst *EprInstantiator, sf *SolvedForm, pv Term, effort int) bool {
	scores := NewTermMap[int]()
	for _, catom := range ci.ceAtoms {
		ci.computeMatchScore(pv, catom, catom, scores)
	}

	terms := append([]Term(nil), inst.equalTerms...)
	sort.SliceStable(terms, func(i, j int) bool {
		si, _ := scores.Get(terms[i])
		sj, _ := scores.Get(terms[j])
		if si != sj {
			return si > sj
		}
		return CompareTerm(terms[i], terms[j]) < 0
	})

	for _, n := range terms {
		if ci.doAddInstantiationInc(pv, n, nil, BoundNone, sf, effort) {
			return true
		}
	}
	return false
}

// hasProcessAssertion returns true if inst uses ground literals.
func (ci *CegInstantiator) hasProcessAssertion(inst Instantiator) bool {
	switch inst.(type) {
	case *ArithInstantiator:
		return true
	default:
		return false
	}
}

// processAssertion offers a single relevant literal. Without model-guided
// bound selection each bound is tried as soon as it is found.
func (ci *CegInstantiator) processAssertion(inst Instantiator, sf *SolvedForm, pv Term, lit Term, effort int) bool {
	switch inst.(type) {
	case *ArithInstantiator:
		if !ci.Model {
			return ci.tryArithBounds(sf, pv, lit, effort)
		}
	}
	return false
}

// processAssertions offers all relevant literals at once.
func (ci *CegInstantiator) processAssertions(inst Instantiator, sf *SolvedForm, pv Term, lits []Term, effort int) bool {
	switch inst.(type) {
	case *ArithInstantiator:
		if ci.Model {
			return ci.processModelBasedProjection(sf, pv, lits, effort)
		}
	}
	return false
}

// useModelValue returns true if inst prefers the model value of pv.
func (ci *CegInstantiator) useModelValue(inst Instantiator) bool {
	switch inst.(type) {
	case *BvInstantiator, *ModelValueInstantiator, *GenericInstantiator:
		return true
	default:
		return false
	}
}

// allowModelValue returns true if the model value may be used for pv at all.
func (ci *CegInstantiator) allowModelValue(inst Instantiator, pv Term) bool {
	return pv.Type().IsClosedEnumerable()
}

// needsPostProcess returns true if the substitution of inst's variable
// must be normalized before it is reported.
func (ci *CegInstantiator) needsPostProcess(inst Instantiator, sf *SolvedForm) bool {
	switch inst.(type) {
	case *ArithInstantiator:
		return sf.hasCoeff.Len() > 0
	default:
		return false
	}
}

// postProcess normalizes the substitution for pv in sf.
func (ci *CegInstantiator) postProcess(inst Instantiator, sf *SolvedForm, pv Term) bool {
	switch inst.(type) {
	case *ArithInstantiator:
		return ci.processInstantiationCoeffFor(sf, pv)
	default:
		return true
	}
}
