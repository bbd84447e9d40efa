package cegqi

import (
	"log"

	"github.com/hashicorp/go-set/v2"
	"golang.org/x/tools/container/intsets"
)

// Harvest rebuilds the per-check caches from the ground layer: the relevant
// literals of each theory, the equivalence classes of relevant types and the
// program variables of every term seen. It is called by Check and must run
// again whenever the ground context changes.
func (ci *CegInstantiator) Harvest() {
	log.Printf("[harvest] begin: vars=%d aux=%d nested=%v", len(ci.vars), len(ci.auxVars), ci.isNestedQuant)

	ci.progVars = NewTermMap[*intsets.Sparse]()
	ci.inelig = NewTermSet()
	ci.currAsserts = make(map[TheoryID][]Term)
	ci.currEqc = NewTermMap[[]Term]()
	ci.currTypeEqc = make(map[string][]Term)

	for _, pv := range ci.vars {
		if !ci.ground.HasTerm(pv) {
			continue
		}
		if pvr := ci.ground.Representative(pv); !ci.currEqc.Has(pvr) {
			ci.currEqc.Set(pvr, ci.ground.EqClass(pvr))
		}
	}

	// Collect literals of the relevant theories.
	auxSubs := NewTermMap[Term]()
	for _, tid := range ci.theories {
		var lits []Term
		for _, lit := range ci.ground.Facts(tid) {
			atom := lit
			if app, ok := lit.(*App); ok && app.Op == NOT {
				atom = app.Args[0]
			}

			if ci.isNestedQuant || ci.All || ci.ceAtomSet.Has(atom) {
				lits = append(lits, lit)
			} else {
				log.Printf("[harvest] skip %s literal %s: not a counterexample atom", tid, lit)
			}

			if eqs, ok := ci.auxEq.Get(lit); ok {
				for _, eq := range eqs {
					log.Printf("[harvest] %s implies %s = %s", lit, eq.v, eq.t)
					auxSubs.Set(eq.v, eq.t)
				}
			}
		}
		ci.currAsserts[tid] = lits
	}

	// Collect equivalence classes of the relevant theories.
	tids := set.From(ci.theories)
	for _, r := range ci.ground.EqClasses() {
		rtn := r.Type()
		if !tids.Contains(TheoryOf(rtn)) {
			continue
		}
		key := typeKey(rtn.BaseType())
		ci.currTypeEqc[key] = append(ci.currTypeEqc[key], r)
		if !ci.currEqc.Has(r) {
			ci.currEqc.Set(r, ci.ground.EqClass(r))
		}
	}

	// Eliminate auxiliary variables using the equalities implied by the
	// current context.
	var lhs, rhs []Term
	for _, k := range ci.auxVars {
		if t, ok := auxSubs.Get(k); ok {
			lhs, rhs = addToAuxVarSubstitution(lhs, rhs, k, t)
		} else {
			log.Printf("[harvest] no substitution for auxiliary variable %s", k)
		}
	}
	if len(lhs) > 0 {
		for _, tid := range ci.theories {
			lits := ci.currAsserts[tid]
			for i := range lits {
				lits[i] = Substitute(lits[i], lhs, rhs)
			}
		}
		for _, r := range ci.currEqc.Keys() {
			eqc, _ := ci.currEqc.Get(r)
			other := make([]Term, len(eqc))
			for i := range eqc {
				other[i] = Substitute(eqc[i], lhs, rhs)
			}
			ci.currEqc.Set(r, other)
		}
	}

	// Keep eligible literals that mention a variable.
	for _, tid := range ci.theories {
		var keep []Term
		for _, lit := range ci.currAsserts[tid] {
			if ci.isIneligible(lit) {
				log.Printf("[harvest] remove %s literal %s: ineligible", tid, lit)
				continue
			} else if ci.computeProgVars(lit).IsEmpty() {
				log.Printf("[harvest] remove %s literal %s: no variables", tid, lit)
				continue
			}
			log.Printf("[harvest] %s literal: %s", tid, lit)
			keep = append(keep, lit)
		}
		ci.currAsserts[tid] = keep
	}

	// Remove duplicate members.
	for _, r := range ci.currEqc.Keys() {
		eqc, _ := ci.currEqc.Get(r)
		seen := NewTermSet()
		var other []Term
		for _, n := range eqc {
			if seen.Add(n) {
				other = append(other, n)
			}
		}
		ci.currEqc.Set(r, other)
	}

	ci.termDB = newTermDatabase(ci.ground)
}

// addToAuxVarSubstitution appends l -> r to the substitution, first applying
// the substitution to r and then l -> r to the existing right-hand sides.
func addToAuxVarSubstitution(lhs, rhs []Term, l, r Term) ([]Term, []Term) {
	r = Substitute(r, lhs, rhs)
	for i := range rhs {
		rhs[i] = Substitute(rhs[i], []Term{l}, []Term{r})
	}
	return append(lhs, l), append(rhs, r)
}

// Assertions returns the relevant literals of a theory found by the last Harvest.
func (ci *CegInstantiator) Assertions(tid TheoryID) []Term {
	return ci.currAsserts[tid]
}

// EqClass returns the members of the class of rep found by the last Harvest.
func (ci *CegInstantiator) EqClass(rep Term) []Term {
	eqc, _ := ci.currEqc.Get(rep)
	return eqc
}

// Theories returns the theories relevant to the registered variables.
func (ci *CegInstantiator) Theories() []TheoryID { return ci.theories }

// addTheory appends tid to the relevant theories if not yet present.
func (ci *CegInstantiator) addTheory(tids *set.Set[TheoryID], tid TheoryID) {
	if tids.Insert(tid) {
		ci.theories = append(ci.theories, tid)
	}
}

// collectTheoryIDs adds the theory of t and, for datatypes, the theories of
// all selector ranges.
func (ci *CegInstantiator) collectTheoryIDs(t *Type, visited map[*Type]struct{}, tids *set.Set[TheoryID]) {
	if _, ok := visited[t]; ok {
		return
	}
	visited[t] = struct{}{}

	ci.addTheory(tids, TheoryOf(t))
	if t.IsDatatype() {
		for _, c := range t.Constructors {
			for _, sel := range c.Selectors {
				ci.collectTheoryIDs(sel.Range, visited, tids)
			}
		}
	}
}

// typeKey returns the key of t in the type equivalence class index.
func typeKey(t *Type) string { return t.String() }
