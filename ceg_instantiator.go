package cegqi

import (
	"bytes"
	"fmt"
	"log"
	"math/big"
	"sort"

	"github.com/hashicorp/go-set/v2"
	"golang.org/x/tools/container/intsets"
)

// Ground represents the ground-theory layer: an equality engine, the facts
// asserted to each theory and a model of the current context.
type Ground interface {
	// Returns true if a ground theory still has pending work.
	NeedCheck() bool

	// Returns true if t is registered with the equality engine.
	HasTerm(t Term) bool

	// Returns the representative of t's equivalence class, or t itself
	// if t is unknown to the equality engine.
	Representative(t Term) Term

	// Returns the representatives of all equivalence classes.
	EqClasses() []Term

	// Returns the members of the class represented by rep.
	EqClass(rep Term) []Term

	// Returns the literals currently asserted to a theory.
	Facts(id TheoryID) []Term

	// Returns the value of t in the current model.
	ModelValue(t Term) Term
}

// Output receives the instantiations and lemmas produced by the instantiator.
type Output interface {
	// Returns false for terms that cannot soundly appear in an instantiation.
	IsEligibleForInstantiation(t Term) bool

	// Commits an instantiation given in the caller's variable order.
	// Returns true if the instantiation was useful.
	AddInstantiation(subs []Term) bool

	// Adds a lemma to the ground solver.
	AddLemma(lem Term) bool
}

// CegInstantiator searches for an instantiation of the variables of a
// counterexample lemma from the equalities, assertions and model of the
// ground theories.
//
// A CegInstantiator is created once per quantified formula and reused
// across checks. It is not safe for concurrent use.
type CegInstantiator struct {
	ground Ground
	out    Output

	vars          []Term   // variables in search order
	varSet        *TermSet // variables to instantiate
	inputVars     []Term   // variables in caller order
	varOrderIndex []int    // caller index to search index, nil if unchanged
	theories      []TheoryID

	auxVars []Term
	auxEq   *TermMap[[]auxEquality] // literal to implied aux equalities

	ceAtoms       []Term
	ceAtomSet     *TermSet
	isNestedQuant bool

	// Instantiators are created lazily and live as long as ci.
	instantiators map[int]Instantiator
	varIDs        *TermMap[int]
	varsByID      []Term

	// Search state.
	currIndex    map[int]int
	currSubsProc map[int]*TermMap[[]*big.Rat]
	stackVars    []pendingVar

	// Per-check caches.
	progVars    *TermMap[*intsets.Sparse]
	inelig      *TermSet
	currAsserts map[TheoryID][]Term
	currEqc     *TermMap[[]Term]
	currTypeEqc map[string][]Term
	termDB      *termDatabase

	// Virtual term symbols, created on first use.
	vtsDelta *Var
	vtsInf   map[TypeKind]*Var

	symbolN int

	// Use a virtual infinitesimal for strict bounds.
	UseVtsDelta bool

	// Use virtual infinity for unbounded variables, per type.
	UseVtsInf  bool
	UseInfInt  bool
	UseInfReal bool

	// Select the tightest bound using the model. When false, every bound
	// is tried in the order the literals are found.
	Model bool

	// Also try the midpoint of the best lower and upper bound of reals.
	Midpoint bool

	// Process the side with fewer bounds first.
	MinBounds bool

	// Try non-optimal bounds after the optimal ones.
	NonOptimal bool

	// Round integer divisions up for substitutions from lower bounds.
	RoundUpLowerLIA bool

	// Rank equal terms of uninterpreted sorts by matching.
	EprMatching bool

	// Treat every ground literal as relevant, not only counterexample atoms.
	All bool
}

// NewCegInstantiator returns a new instance of CegInstantiator.
func NewCegInstantiator(ground Ground, out Output) *CegInstantiator {
	return &CegInstantiator{
		ground: ground,
		out:    out,

		varSet:    NewTermSet(),
		auxEq:     NewTermMap[[]auxEquality](),
		ceAtomSet: NewTermSet(),

		instantiators: make(map[int]Instantiator),
		varIDs:        NewTermMap[int](),
		currIndex:     make(map[int]int),
		currSubsProc:  make(map[int]*TermMap[[]*big.Rat]),

		progVars:    NewTermMap[*intsets.Sparse](),
		inelig:      NewTermSet(),
		currAsserts: make(map[TheoryID][]Term),
		currEqc:     NewTermMap[[]Term](),
		currTypeEqc: make(map[string][]Term),

		vtsInf: make(map[TypeKind]*Var),

		UseVtsDelta: true,
		Model:       true,
		NonOptimal:  true,
		EprMatching: true,
	}
}

// Vars returns the variables to instantiate in the caller's order.
func (ci *CegInstantiator) Vars() []Term { return ci.inputVars }

// AuxVars returns the auxiliary variables introduced by ITE removal.
func (ci *CegInstantiator) AuxVars() []Term { return ci.auxVars }

// CeAtoms returns the atoms of the counterexample lemma.
func (ci *CegInstantiator) CeAtoms() []Term { return ci.ceAtoms }

// IsNestedQuantified returns true if the counterexample lemma contains a
// nested quantifier.
func (ci *CegInstantiator) IsNestedQuantified() bool { return ci.isNestedQuant }

// RegisterCounterexampleLemma records the variables to instantiate and the
// atoms of the counterexample lemmas. Non-boolean if-then-else terms are
// replaced with auxiliary variables; the rewritten lemmas, including the
// definitions of the auxiliary variables, are returned and should be
// asserted in place of lems.
func (ci *CegInstantiator) RegisterCounterexampleLemma(lems []Term, ceVars []Term) []Term {
	log.Printf("[register] counterexample lemma: lemmas=%d vars=%d", len(lems), len(ceVars))

	ci.inputVars = append([]Term(nil), ceVars...)
	ci.vars = append([]Term(nil), ceVars...)
	ci.varSet = NewTermSet(ceVars...)
	for _, v := range ci.vars {
		ci.varID(v)
	}

	// Reals are solved before integers so real bounds can inform integer ones.
	ci.varOrderIndex = nil
	if hasMixedTypes(ci.vars) {
		pos := NewTermMap[int]()
		for i, v := range ci.vars {
			pos.Set(v, i)
		}
		sort.SliceStable(ci.vars, func(i, j int) bool {
			return varTypeRank(ci.vars[i].Type()) < varTypeRank(ci.vars[j].Type())
		})
		ci.varOrderIndex = make([]int, len(ci.vars))
		for i, v := range ci.vars {
			orig, _ := pos.Get(v)
			ci.varOrderIndex[orig] = i
		}
	}

	// Determine the theories relevant to the variables.
	ci.theories = ci.theories[:0]
	tids := set.New[TheoryID](0)
	ci.addTheory(tids, TheoryUF)
	visited := make(map[*Type]struct{})
	for _, v := range ci.vars {
		ci.collectTheoryIDs(v.Type(), visited, tids)
	}

	lems = ci.removeITEs(lems)

	ci.ceAtoms, ci.ceAtomSet, ci.isNestedQuant = nil, NewTermSet(), false
	for _, lem := range lems {
		ci.collectCeAtoms(lem)
	}
	return lems
}

func hasMixedTypes(vars []Term) bool {
	for _, v := range vars[min(1, len(vars)):] {
		if !v.Type().Equal(vars[0].Type()) {
			return true
		}
	}
	return false
}

func varTypeRank(t *Type) int {
	if t.Kind == RealKind {
		return 0
	}
	return 1
}

// collectCeAtoms records the maximal non-connective subformulas of n.
func (ci *CegInstantiator) collectCeAtoms(n Term) {
	if _, ok := n.(*Forall); ok {
		ci.isNestedQuant = true
		return
	}

	if app, ok := n.(*App); ok && isBoolConnective(app) {
		for _, arg := range app.Args {
			ci.collectCeAtoms(arg)
		}
		return
	}

	if ci.ceAtomSet.Add(n) {
		log.Printf("[register] ce atom: %s", n)
		ci.ceAtoms = append(ci.ceAtoms, n)
	}
}

func isBoolConnective(app *App) bool {
	if app.Op == EQ {
		return app.Args[0].Type().IsBool()
	} else if app.Op == ITE {
		return app.Type().IsBool()
	}
	return app.Op.IsBoolConnective()
}

// Check searches for an instantiation and reports it to the output.
// Returns false if no instantiation was found or the output rejected it.
func (ci *CegInstantiator) Check() bool {
	if ci.ground.NeedCheck() {
		log.Printf("[check] ground theories have pending work")
		return false
	}

	ci.Harvest()

	for _, effort := range []int{EffortStructural, EffortForceModel} {
		log.Printf("[check] begin: effort=%d vars=%d", effort, len(ci.vars))
		ci.stackVars = ci.stackVars[:0]
		if ci.doAddInstantiation(NewSolvedForm(), 0, effort) {
			log.Printf("[check] end: instantiated")
			return true
		}
	}
	log.Printf("[check] end: no instantiation")
	return false
}

// pendingVar is a sub-variable waiting to be solved.
type pendingVar struct {
	v Term
}

// pushStackVar schedules a sub-variable to be solved before the next variable.
func (ci *CegInstantiator) pushStackVar(v Term) {
	ci.stackVars = append(ci.stackVars, pendingVar{v: v})
}

// popStackVar removes the most recently pushed sub-variable.
func (ci *CegInstantiator) popStackVar() pendingVar {
	assert(len(ci.stackVars) > 0, "pop from empty variable stack")
	p := ci.stackVars[len(ci.stackVars)-1]
	ci.stackVars = ci.stackVars[:len(ci.stackVars)-1]
	return p
}

// varID returns the integer identifier of a variable or sub-variable.
func (ci *CegInstantiator) varID(v Term) int {
	if id, ok := ci.varIDs.Get(v); ok {
		return id
	}
	id := len(ci.varsByID)
	ci.varIDs.Set(v, id)
	ci.varsByID = append(ci.varsByID, v)
	return id
}

func (ci *CegInstantiator) lookupVarID(v Term) (int, bool) {
	return ci.varIDs.Get(v)
}

// instantiator returns the instantiator of v, creating it on first use.
func (ci *CegInstantiator) instantiator(v Term) Instantiator {
	id := ci.varID(v)
	inst, ok := ci.instantiators[id]
	if !ok {
		inst = NewInstantiator(v.Type())
		ci.instantiators[id] = inst
	}
	return inst
}

func (ci *CegInstantiator) registerInstantiationVariable(v Term, index int) {
	id := ci.varID(v)
	ci.currIndex[id] = index
	ci.currSubsProc[id] = NewTermMap[[]*big.Rat]()
}

func (ci *CegInstantiator) unregisterInstantiationVariable(v Term) {
	id := ci.varID(v)
	delete(ci.currIndex, id)
	delete(ci.currSubsProc, id)
}

// computeProgVars returns the ids of the variables occurring in n, treating
// selectors applied to variables as variables. Terms containing a subterm the
// output deems ineligible are recorded as ineligible.
func (ci *CegInstantiator) computeProgVars(n Term) *intsets.Sparse {
	if s, ok := ci.progVars.Get(n); ok {
		return s
	}

	s := new(intsets.Sparse)
	if ci.varSet.Has(n) {
		s.Insert(ci.varID(n))
	} else if !ci.out.IsEligibleForInstantiation(n) {
		ci.inelig.Add(n)
	}

	var children []Term
	switch n := n.(type) {
	case *App:
		children = n.Args
	case *Forall:
		children = []Term{n.Body}
	}
	for _, child := range children {
		s.UnionWith(ci.computeProgVars(child))
		if ci.inelig.Has(child) {
			ci.inelig.Add(n)
		}
	}

	if app, ok := n.(*App); ok && app.Op == SELECTOR {
		if id, ok := ci.lookupVarID(app.Args[0]); ok && s.Has(id) {
			s.Insert(ci.varID(n))
		}
	}

	ci.progVars.Set(n, s)
	return s
}

// hasVar returns true if the variable pv occurs in n.
func (ci *CegInstantiator) hasVar(n, pv Term) bool {
	id, ok := ci.lookupVarID(pv)
	return ok && ci.computeProgVars(n).Has(id)
}

// isIneligible returns true if n contains a term the output cannot use.
func (ci *CegInstantiator) isIneligible(n Term) bool {
	ci.computeProgVars(n)
	return ci.inelig.Has(n)
}

// doAddInstantiation instantiates the variable at index i, or the top of the
// sub-variable stack, and recurses. Returns true once a complete
// instantiation is accepted by the output.
func (ci *CegInstantiator) doAddInstantiation(sf *SolvedForm, i int, effort int) bool {
	if i == len(ci.vars) && len(ci.stackVars) == 0 {
		return ci.doAddInstantiationFinal(sf)
	}

	var pv Term
	var isCV bool
	if len(ci.stackVars) == 0 {
		pv = ci.vars[i]
	} else {
		pv, isCV = ci.popStackVar().v, true
	}
	pvtn := pv.Type()
	pvr := pv
	if ci.ground.HasTerm(pv) {
		pvr = ci.ground.Representative(pv)
	}

	ci.registerInstantiationVariable(pv, i)
	inst := ci.instantiator(pv)
	ci.resetInstantiator(inst, pv, effort)
	log.Printf("[inst] variable %s: index=%d effort=%d rep=%s", pv, i, effort, pvr)

	if i+1 < len(ci.vars) || effort != EffortForceModel {
		// [1] Try terms in the variable's equivalence class.
		if eqc, ok := ci.currEqc.Get(pvr); ok {
			for _, n := range eqc {
				if TermEqual(n, pv) || ci.isIneligible(n) {
					continue
				}
				ns := n
				if !ci.computeProgVars(n).IsEmpty() {
					var ok bool
					if ns, _, ok = ci.applySubstitutionSF(pvtn, n, sf, false); !ok || ci.hasVar(ns, pv) {
						continue
					}
				}
				if !ns.Type().IsSubtypeOf(pvtn) {
					continue
				}
				if ci.processEqualTerm(inst, sf, pv, nil, ns, effort) {
					return true
				}
			}
			if ci.processEqualTerms(inst, sf, pv, eqc, effort) {
				return true
			}
		}

		// [2] Solve equalities between terms of the variable's base type.
		if ci.solveEqualities(sf, pv, effort) {
			return true
		}

		// [3] Use the relevant ground literals.
		if ci.hasProcessAssertion(inst) {
			lits := ci.relevantLiterals(pvtn)
			for _, lit := range lits {
				if ci.processAssertion(inst, sf, pv, lit, effort) {
					return true
				}
			}
			if ci.processAssertions(inst, sf, pv, lits, effort) {
				return true
			}
		}
	}

	// [4] Fall back to the model value.
	useModel := ci.useModelValue(inst)
	if (effort > EffortStructural || useModel || isCV) && ci.allowModelValue(inst, pv) {
		mv := ci.ground.ModelValue(pv)
		newEffort := EffortModel
		if useModel {
			newEffort = effort
		}
		log.Printf("[inst] variable %s: model value %s", pv, mv)
		if mv != nil && mv.Type().IsSubtypeOf(pvtn) {
			if ci.doAddInstantiationInc(pv, mv, nil, BoundNone, sf, newEffort) {
				return true
			}
		}
	}

	log.Printf("[inst] variable %s: failed", pv)
	if isCV {
		ci.pushStackVar(pv)
	}
	ci.unregisterInstantiationVariable(pv)
	return false
}

// solveEqualities pairs up the members of each equivalence class of pv's
// base type and solves the resulting equalities for pv.
func (ci *CegInstantiator) solveEqualities(sf *SolvedForm, pv Term, effort int) bool {
	pvtn := pv.Type()
	pvtnb := pvtn.BaseType()
	if !pvtnb.IsArith() && !pvtnb.IsDatatype() {
		return false
	}

	for _, r := range ci.currTypeEqc[typeKey(pvtnb)] {
		eqc, _ := ci.currEqc.Get(r)

		var lhs []Term
		var lhsV []bool
		var lhsCoeff []*big.Rat
		for _, n := range eqc {
			if ci.isIneligible(n) {
				continue
			}
			ns, pvCoeff, ok := ci.applySubstitutionSF(pvtn, n, sf, true)
			if !ok {
				continue
			}
			hasVar := ci.hasVar(ns, pv)

			for j := range lhs {
				if !hasVar && !lhsV[j] {
					continue
				}

				if pvtnb.IsArith() {
					// Equate lhs[j]/lhsCoeff[j] and ns/pvCoeff.
					eqLHS, eqRHS := lhs[j], ns
					if !ratEqual(pvCoeff, lhsCoeff[j]) {
						if pvCoeff != nil {
							eqLHS = NewScale(pvCoeff, eqLHS)
						}
						if lhsCoeff[j] != nil {
							eqRHS = NewScale(lhsCoeff[j], eqRHS)
						}
					}
					eq := NewEq(eqLHS, eqRHS)
					log.Printf("[inst] solve %s for %s", eq, pv)
					if sol, ires := ci.solveArith(pv, eq); ires != 0 {
						if ci.doAddInstantiationInc(pv, sol.val, sol.coeff, BoundNone, sf, effort) {
							return true
						}
					}
				} else {
					if val := ci.solveDt(pv, lhs[j], ns, lhs[j], ns); val != nil {
						if ci.doAddInstantiationInc(pv, val, nil, BoundNone, sf, effort) {
							return true
						}
					}
				}
			}

			lhs = append(lhs, ns)
			lhsV = append(lhsV, hasVar)
			lhsCoeff = append(lhsCoeff, pvCoeff)
		}
	}
	return false
}

// solveDt solves a = b for v. The terms sa and sb are what a and b stand
// for; they differ from a and b once a side is only known through
// selectors. A nil b matches anything. It returns nil if no solution is found.
func (ci *CegInstantiator) solveDt(v, a, b, sa, sb Term) Term {
	var ret Term
	if a != nil && TermEqual(a, v) {
		ret = sb
	} else if b != nil && TermEqual(b, v) {
		ret = sa
	} else {
		aa, aok := a.(*App)
		ba, bok := b.(*App)
		aok = aok && aa.Op == CONSTRUCTOR
		bok = bok && ba.Op == CONSTRUCTOR

		switch {
		case aok && bok:
			if aa.Sym == ba.Sym {
				for i := range aa.Args {
					if s := ci.solveDt(v, aa.Args[i], ba.Args[i], sa.(*App).Args[i], sb.(*App).Args[i]); s != nil {
						return s
					}
				}
			}
		case aok:
			c := aa.Sym.(*Constructor)
			for i, sel := range c.Selectors {
				if s := ci.solveDt(v, aa.Args[i], nil, sa.(*App).Args[i], NewSelectorApp(sel, sb)); s != nil {
					return s
				}
			}
		case bok:
			return ci.solveDt(v, b, a, sb, sa)
		}
	}

	if ret != nil && ContainsTerm(ret, v) {
		return nil
	}
	return ret
}

// relevantLiterals returns the harvested literals of the theory of typ and
// of uninterpreted functions, without duplicates.
func (ci *CegInstantiator) relevantLiterals(typ *Type) []Term {
	tids := []TheoryID{TheoryOf(typ)}
	if tids[0] != TheoryUF {
		tids = append(tids, TheoryUF)
	}

	seen := NewTermSet()
	var lits []Term
	for _, tid := range tids {
		for _, lit := range ci.currAsserts[tid] {
			if seen.Add(lit) {
				lits = append(lits, lit)
			}
		}
	}
	return lits
}

// markTried records n with coeff as tried for the variable id. Returns false
// if the pair was tried before.
func (ci *CegInstantiator) markTried(id int, n Term, coeff *big.Rat) bool {
	m := ci.currSubsProc[id]
	coeffs, _ := m.Get(n)
	for _, c := range coeffs {
		if ratEqual(c, coeff) {
			return false
		}
	}
	m.Set(n, append(coeffs[:len(coeffs):len(coeffs)], coeff))
	return true
}

// doAddInstantiationInc extends sf with coeff*pv = n and continues the
// search. The substitution is propagated into every earlier entry that
// mentions pv. On failure sf is restored exactly.
func (ci *CegInstantiator) doAddInstantiationInc(pv, n Term, coeff *big.Rat, bt BoundType, sf *SolvedForm, effort int) bool {
	id := ci.varID(pv)
	if !ci.markTried(id, n, coeff) {
		log.Printf("[inst] %s -> %s already tried", pv, n)
		return false
	}
	assert(n.Type().IsSubtypeOf(pv.Type()), "substitution type mismatch: %s (%s) for %s (%s)", n, n.Type(), pv, pv.Type())
	assert(!ci.isIneligible(n), "ineligible substitution: %s for %s", n, pv)

	log.Printf("[inst] try %s * %s -> %s (%s)", formatCoeff(coeff), pv, n, bt)

	cp := sf.checkpoint()

	// Propagate the new substitution into previous ones.
	aVars, aSubs, aCoeffs := []Term{pv}, []Term{n}, []*big.Rat{coeff}
	var aHasCoeff []Term
	if coeff != nil {
		aHasCoeff = []Term{pv}
	}
	for j, e := range sf.Entries() {
		if !ci.hasVar(e.Term, pv) {
			continue
		}
		sub, subCoeff, ok := ci.applySubstitution(e.Var.Type(), e.Term, aVars, aSubs, aCoeffs, aHasCoeff, true)
		if !ok {
			log.Printf("[inst] cannot propagate %s -> %s into %s", pv, n, e.Var)
			sf.restore(cp)
			return false
		}
		e.Term = sub
		if subCoeff != nil {
			if e.Coeff == nil {
				sf.addHasCoeff(e.Var)
			}
			e.Coeff = mulCoeff(e.Coeff, subCoeff)
		}
		sf.set(j, e)
		assert(!ci.isIneligible(sub), "ineligible substitution after propagation: %s", sub)
	}

	sf.Push(Substitution{Var: pv, Term: n, Coeff: coeff, BoundType: bt})

	next := ci.currIndex[id]
	if len(ci.stackVars) == 0 {
		next++
	}
	if ci.doAddInstantiation(sf, next, effort) {
		return true
	}

	log.Printf("[inst] revert %s -> %s", pv, n)
	sf.restore(cp)
	return false
}

// doAddInstantiationFinal post-processes a complete solved form and reports it.
func (ci *CegInstantiator) doAddInstantiationFinal(sf *SolvedForm) bool {
	var pp []Term
	for _, e := range sf.Entries() {
		if ci.needsPostProcess(ci.instantiator(e.Var), sf) {
			pp = append(pp, e.Var)
		}
	}

	if len(pp) > 0 {
		// Post-processing is not reversible; work on a copy.
		tmp := sf.Clone()
		for _, v := range pp {
			if !ci.postProcess(ci.instantiator(v), tmp, v) {
				return false
			}
		}
		sf = tmp
	}
	return ci.report(sf)
}

// report sends the substitutions of sf to the output in caller order.
func (ci *CegInstantiator) report(sf *SolvedForm) bool {
	entries := sf.Entries()
	for _, e := range entries {
		assert(e.Term.Type().IsSubtypeOf(e.Var.Type()), "substitution type mismatch: %s for %s", e.Term, e.Var)
		assert(!ContainsTerm(e.Term, e.Var), "substitution for %s contains itself: %s", e.Var, e.Term)
	}

	subs := make([]Term, 0, len(ci.vars))
	if len(entries) > len(ci.vars) {
		m := NewTermMap[Term]()
		for _, e := range entries {
			m.Set(e.Var, e.Term)
		}
		for _, v := range ci.vars {
			t, ok := m.Get(v)
			assert(ok, "no substitution for %s", v)
			subs = append(subs, t)
		}
	} else {
		for _, e := range entries {
			subs = append(subs, e.Term)
		}
	}

	if ci.varOrderIndex != nil {
		orig := subs
		subs = make([]Term, len(orig))
		for i := range orig {
			subs[i] = orig[ci.varOrderIndex[i]]
		}
	}

	log.Printf("[inst] add instantiation: %v", subs)
	return ci.out.AddInstantiation(subs)
}

// applySubstitutionSF applies the substitutions of sf to n.
func (ci *CegInstantiator) applySubstitutionSF(tn *Type, n Term, sf *SolvedForm, tryCoeff bool) (Term, *big.Rat, bool) {
	return ci.applySubstitution(tn, n, sf.Vars(), sf.Terms(), sf.Coeffs(), sf.HasCoeff(), tryCoeff)
}

// applySubstitution replaces vars[i] with subs[i] in n, where
// coeffs[i]*vars[i] = subs[i].
//
// If no variable with a coefficient occurs in n this is plain substitution.
// For non-integral tn the coefficients are divided out. For integral tn the
// result is returned as a term r and coefficient c such that r/c is the
// substituted n; this requires tryCoeff. The final result reports false if
// the substitution could not be applied.
func (ci *CegInstantiator) applySubstitution(tn *Type, n Term, vars, subs []Term, coeffs []*big.Rat, hasCoeff []Term, tryCoeff bool) (Term, *big.Rat, bool) {
	pvs := ci.computeProgVars(n)
	var reqCoeff bool
	for _, v := range hasCoeff {
		if id, ok := ci.lookupVarID(v); ok && pvs.Has(id) {
			reqCoeff = true
			break
		}
	}

	if !reqCoeff {
		return Substitute(n, vars, subs), nil, true
	}

	if !tn.IsInteger() {
		nsubs := make([]Term, len(subs))
		for i := range subs {
			if coeffs[i] != nil {
				nsubs[i] = NewScale(ratInv(coeffs[i]), subs[i])
			} else {
				nsubs[i] = subs[i]
			}
		}
		return Substitute(n, vars, nsubs), nil, true
	} else if !tryCoeff {
		return nil, nil, false
	}

	msum, ok := GetMonomialSum(n)
	if !ok {
		return nil, nil, false
	}

	index := NewTermMap[int]()
	for i, v := range vars {
		index.Set(v, i)
	}
	coeffVars := NewTermSet(hasCoeff...)

	// Combined coefficient of all substituted variables.
	var pvCoeff *big.Rat
	for _, m := range msum {
		if m.Term == nil {
			continue
		}
		if i, ok := index.Get(m.Term); ok && coeffs[i] != nil {
			pvCoeff = mulCoeff(pvCoeff, coeffs[i])
		}
	}
	if pvCoeff == nil {
		return nil, nil, false
	}

	var children MonomialSum
	for _, m := range msum {
		c := new(big.Rat).Set(pvCoeff)
		var t Term
		if m.Term != nil {
			if i, ok := index.Get(m.Term); ok {
				if coeffs[i] != nil {
					c = new(big.Rat).Quo(pvCoeff, coeffs[i])
				}
				t = subs[i]
			} else {
				// Variables with coefficients nested inside an atom cannot be factored.
				for _, v := range coeffVars.Terms() {
					if ci.hasVar(m.Term, v) {
						return nil, nil, false
					}
				}
				t = Substitute(m.Term, vars, subs)
			}
		}
		c.Mul(c, m.Coeff)
		if t == nil {
			children = children.add(nil, c)
		} else {
			children = children.Add(monomialSum(t).Scale(c))
		}
	}
	return children.ToTerm(), pvCoeff, true
}

// ProcessInstantiationCoeff normalizes every substitution of sf that carries
// a coefficient into an integer division.
func (ci *CegInstantiator) ProcessInstantiationCoeff(sf *SolvedForm) bool {
	for _, v := range sf.HasCoeff() {
		if !ci.processInstantiationCoeffFor(sf, v) {
			return false
		}
	}
	return true
}

// processInstantiationCoeffFor rewrites c*v = t into v = t div c. For lower
// bounds, if rounding up is enabled, one is added when the division is inexact.
func (ci *CegInstantiator) processInstantiationCoeffFor(sf *SolvedForm, v Term) bool {
	index := -1
	for i, e := range sf.Entries() {
		if TermEqual(e.Var, v) {
			index = i
			break
		}
	}
	if index == -1 {
		return true
	}

	e := sf.Entry(index)
	if e.Coeff == nil {
		return true
	}
	assert(e.Var.Type().IsInteger(), "coefficient on non-integer variable: %s", e.Var)

	eq := NewEq(NewScale(e.Coeff, e.Var), e.Term)
	msum, ok := GetMonomialSumLit(eq)
	if !ok {
		log.Printf("[inst] cannot normalize %s: no monomial sum", eq)
		return false
	}
	c, val, dir := Isolate(e.Var, msum, EQ)
	if dir == 0 {
		log.Printf("[inst] cannot normalize %s: failed to isolate", eq)
		return false
	}

	sub := val
	if c != nil {
		cterm := NewConst(c)
		sub = NewIntDiv(val, cterm)
		if e.BoundType == BoundLower && ci.RoundUpLowerLIA {
			sub = NewPlus(sub, NewIte(NewEq(NewIntMod(val, cterm), NewIntConst(0)), NewIntConst(0), NewIntConst(1)))
		}
	}
	log.Printf("[inst] normalize %s * %s = %s: %s -> %s", formatCoeff(e.Coeff), e.Var, e.Term, e.Var, sub)

	e.Term, e.Coeff = sub, nil
	sf.set(index, e)
	return true
}

// VtsDelta returns the virtual infinitesimal symbol, creating it if create is set.
func (ci *CegInstantiator) VtsDelta(create bool) *Var {
	if ci.vtsDelta == nil && create {
		ci.vtsDelta = NewVar(ci.freshName("vts_delta"), RealType)
	}
	return ci.vtsDelta
}

// VtsInfinity returns the virtual infinity symbol of an arithmetic type,
// creating it if create is set.
func (ci *CegInstantiator) VtsInfinity(typ *Type, create bool) *Var {
	v := ci.vtsInf[typ.Kind]
	if v == nil && create {
		v = NewVar(ci.freshName("vts_inf_"+typ.String()), typ)
		ci.vtsInf[typ.Kind] = v
	}
	return v
}

// freshName returns a unique symbol name with the given prefix.
func (ci *CegInstantiator) freshName(prefix string) string {
	ci.symbolN++
	return fmt.Sprintf("%s!%d", prefix, ci.symbolN)
}

// Dump returns a debug representation of the registered lemma and the
// state harvested by the last check.
func (ci *CegInstantiator) Dump() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "VARS: %v\n", ci.vars)
	if ci.varOrderIndex != nil {
		fmt.Fprintf(&buf, "ORDER: %v\n", ci.varOrderIndex)
	}
	fmt.Fprintf(&buf, "AUX: %v\n", ci.auxVars)
	fmt.Fprintf(&buf, "CE ATOMS (nested=%v):\n", ci.isNestedQuant)
	for _, atom := range ci.ceAtoms {
		fmt.Fprintf(&buf, "  %s\n", atom)
	}
	for _, tid := range ci.theories {
		fmt.Fprintf(&buf, "ASSERTIONS[%s]:\n", tid)
		for _, lit := range ci.currAsserts[tid] {
			fmt.Fprintf(&buf, "  %s\n", lit)
		}
	}
	for _, r := range ci.currEqc.Keys() {
		eqc, _ := ci.currEqc.Get(r)
		fmt.Fprintf(&buf, "EQC[%s]: %v\n", r, eqc)
	}
	return buf.String()
}
