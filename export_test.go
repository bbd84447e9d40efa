package cegqi

import "math/big"

type SolvedFormCheckpoint = solvedFormCheckpoint

func (sf *SolvedForm) Checkpoint() SolvedFormCheckpoint { return sf.checkpoint() }

func (sf *SolvedForm) Restore(cp SolvedFormCheckpoint) { sf.restore(cp) }

// TryInstantiation extends sf with coeff*pv = n as the substitution for the
// variable at index i and continues the search from there.
func (ci *CegInstantiator) TryInstantiation(sf *SolvedForm, i int, pv, n Term, coeff *big.Rat) bool {
	ci.registerInstantiationVariable(pv, i)
	defer ci.unregisterInstantiationVariable(pv)
	return ci.doAddInstantiationInc(pv, n, coeff, BoundNone, sf, EffortStructural)
}

// MarkTried records n with coeff as tried for pv in the current search.
func (ci *CegInstantiator) MarkTried(pv, n Term, coeff *big.Rat) bool {
	id := ci.varID(pv)
	if _, ok := ci.currSubsProc[id]; !ok {
		ci.registerInstantiationVariable(pv, 0)
	}
	return ci.markTried(id, n, coeff)
}
