package cegqi

import (
	"log"
	"math/big"
)

// arithBound is a candidate bound on a variable pv: coeff*pv >= val for a
// lower bound and coeff*pv <= val for an upper bound. The virtual infinity
// and delta symbols carry separate coefficients so bounds can be compared
// before the symbols are substituted.
type arithBound struct {
	val      Term
	coeff    *big.Rat
	vtsInf   *big.Rat
	vtsDelta *big.Rat
	bt       BoundType
	lit      Term
	value    Term // model value of val
}

// solveArith isolates pv in an arithmetic atom. The returned direction is
// 1 if the atom bounds coeff*pv from below (or is an equality) and -1 if it
// bounds it from above; zero means pv could not be isolated.
func (ci *CegInstantiator) solveArith(pv, atom Term) (b arithBound, dir int) {
	msum, ok := GetMonomialSumLit(atom)
	if !ok {
		log.Printf("[bound] no monomial sum: %s", atom)
		return b, 0
	}
	op := atom.(*App).Op
	pvtn := pv.Type()
	pvCoeff := msum.Coeff(pv)

	// Remove the virtual term symbols from the sum, scaling their
	// coefficients the way isolation will scale the rest.
	var syms [2]Term
	if inf := ci.VtsInfinity(pvtn, false); inf != nil {
		syms[0] = inf
	}
	if delta := ci.VtsDelta(false); delta != nil {
		syms[1] = delta
	}
	var vts [2]*big.Rat
	for t, sym := range syms {
		if sym == nil {
			continue
		}
		c := msum.Coeff(sym)
		if c == nil {
			continue
		}
		if pvCoeff != nil {
			if !pvtn.IsInteger() {
				c = ratMul(ratNeg(ratInv(pvCoeff)), c)
			} else if pvCoeff.Sign() > 0 {
				c = ratNeg(c)
			}
		}
		vts[t] = c
		msum = msum.Without(sym)
	}

	coeff, val, dir := Isolate(pv, msum, op)
	if dir == 0 {
		return b, 0
	}

	// Split integer and real parts when solving an integer variable.
	if pvtn.IsInteger() && ((coeff != nil && !coeff.IsInt()) || !val.Type().IsInteger()) {
		lcm := big.NewInt(1)
		for _, m := range msum {
			if m.Term == nil || m.Term.Type().IsInteger() {
				lcm = lcmInt(lcm, m.Coeff.Denom())
			}
		}
		rcoeff := new(big.Rat).SetInt(lcm)
		msum = msum.Scale(rcoeff)

		var realPart MonomialSum
		for _, m := range msum {
			if m.Term != nil && !m.Term.Type().IsInteger() {
				realPart = realPart.add(m.Term, m.Coeff)
			}
		}
		if vts[0] != nil {
			vts[0] = ratMul(rcoeff, vts[0])
		}
		rp := realPart.ToTerm()

		if coeff, val, dir = Isolate(pv, msum, op); dir != 0 {
			if msum.Coeff(pv).Sign() > 0 {
				val = NewSub(NewPlus(val, rp), NewToInt(rp))
			} else {
				val = NewPlus(NewSub(val, rp), NewToInt(rp))
			}
			log.Printf("[bound] mixed isolate: %s * %s %s %s (real part %s)", formatCoeff(coeff), pv, op, val, rp)
		}
	}
	if dir == 0 || ContainsTerm(val, pv) {
		return b, 0
	}

	// Infinitesimals have no meaning for integer variables.
	if pvtn.IsInteger() {
		vts[1] = nil
	}

	return arithBound{val: val, coeff: coeff, vtsInf: vts[0], vtsDelta: vts[1]}, dir
}

func lcmInt(a, b *big.Int) *big.Int {
	gcd := new(big.Int).GCD(nil, nil, a, b)
	ret := new(big.Int).Mul(a, b)
	return ret.Quo(ret.Abs(ret), gcd)
}

// literalBounds returns the bounds on pv implied by the literal lit after
// applying sf. Inequalities give one bound. A disequality gives a strict
// bound on the side of the model value when the model guides selection and
// both bounds otherwise.
func (ci *CegInstantiator) literalBounds(sf *SolvedForm, pv, lit Term) []arithBound {
	pvtn := pv.Type()

	atom, pol := lit, true
	if app, ok := lit.(*App); ok && app.Op == NOT {
		atom, pol = app.Args[0], false
	}
	app, ok := atom.(*App)
	if !ok {
		return nil
	}

	var lhs, rhs Term
	switch {
	case app.Op == GEQ:
		lhs, rhs = app.Args[0], app.Args[1]
	case app.Op == EQ && !pol && app.Args[0].Type().IsArith():
		lhs, rhs = NewSub(app.Args[0], app.Args[1]), NewIntConst(0)
	default:
		return nil
	}
	if ci.isIneligible(lhs) {
		return nil
	}

	if !ci.computeProgVars(lhs).IsEmpty() {
		slhs, c, ok := ci.applySubstitutionSF(pvtn, lhs, sf, true)
		if !ok {
			return nil
		}
		lhs = slhs
		if c != nil {
			rhs = NewScale(c, rhs)
		}
	}
	if !ci.hasVar(lhs, pv) {
		return nil
	}

	var satom Term
	if app.Op == GEQ {
		satom = NewGeq(lhs, rhs)
	} else {
		satom = NewEq(lhs, rhs)
	}
	log.Printf("[bound] %s from %s: substituted %s", pv, lit, satom)

	b, ires := ci.solveArith(pv, satom)
	if ires == 0 {
		return nil
	}
	b.lit = lit

	if app.Op == GEQ {
		uires, val := ires, b.val
		if !pol {
			uires = -ires
			if pvtn.IsInteger() {
				val = NewPlus(val, NewIntConst(int64(uires)))
			} else {
				uires *= 2
			}
		}
		return []arithBound{ci.newBound(b, val, uires)}
	}

	// A disequality is a strict bound in one of two directions.
	var uppers []bool
	if ci.Model {
		var isUpper bool
		if b.vtsInf != nil {
			isUpper = b.vtsInf.Sign() > 0
		} else {
			lhsValue := ci.ground.ModelValue(pv)
			if b.coeff != nil {
				lhsValue = NewScale(b.coeff, lhsValue)
			}
			rhsValue := ci.ground.ModelValue(b.val)
			if TermEqual(lhsValue, rhsValue) {
				log.Printf("[bound] disequality %s is false in the model", lit)
				return nil
			}
			cmp, ok := NewGeq(lhsValue, rhsValue).(*BoolConst)
			if !ok {
				log.Printf("[bound] cannot compare model values %s and %s", lhsValue, rhsValue)
				return nil
			}
			isUpper = !cmp.Value
		}
		uppers = []bool{isUpper}
	} else {
		uppers = []bool{true, false}
	}

	bounds := make([]arithBound, 0, len(uppers))
	for _, isUpper := range uppers {
		uires, val := 1, b.val
		if isUpper {
			uires = -1
		}
		if pvtn.IsInteger() {
			val = NewPlus(val, NewIntConst(int64(uires)))
		} else {
			uires *= 2
		}
		bounds = append(bounds, ci.newBound(b, val, uires))
	}
	return bounds
}

// newBound sets the value and side of b. A strict real bound (|uires| = 2)
// is made non-strict with the virtual delta.
func (ci *CegInstantiator) newBound(b arithBound, val Term, uires int) arithBound {
	b.val = val
	if uires > 0 {
		b.bt = BoundLower
	} else {
		b.bt = BoundUpper
	}

	if ci.UseVtsDelta && (uires == 2 || uires == -2) {
		d := big.NewRat(int64(uires/2), 1)
		if ci.Model {
			if b.vtsDelta == nil {
				b.vtsDelta = d
			} else {
				b.vtsDelta = ratAdd(b.vtsDelta, d)
			}
		} else {
			delta := ci.VtsDelta(true)
			if uires > 0 {
				b.val = NewPlus(b.val, delta)
			} else {
				b.val = NewSub(b.val, delta)
			}
		}
	}

	log.Printf("[bound] %s bound %s * var -> %s (inf=%s delta=%s)", b.bt, formatCoeff(b.coeff), b.val, formatOptRat(b.vtsInf), formatOptRat(b.vtsDelta))
	return b
}

// tryArithBounds tries every bound of lit as soon as it is found.
func (ci *CegInstantiator) tryArithBounds(sf *SolvedForm, pv, lit Term, effort int) bool {
	for _, b := range ci.literalBounds(sf, pv, lit) {
		val := ci.addVirtualTerms(pv, b.val, b.vtsInf, b.vtsDelta)
		if ci.doAddInstantiationInc(pv, val, b.coeff, b.bt, sf, effort) {
			return true
		}
	}
	return false
}

// processModelBasedProjection collects the bounds on pv from lits and tries
// the tightest lower and upper bound in the current model, then
// optionally the midpoint and the remaining bounds.
func (ci *CegInstantiator) processModelBasedProjection(sf *SolvedForm, pv Term, lits []Term, effort int) bool {
	pvtn := pv.Type()
	pvValue := ci.ground.ModelValue(pv)
	theta := sf.Theta()

	// Index 0 holds lower bounds, index 1 upper bounds.
	var bounds [2][]arithBound
	for _, lit := range lits {
		for _, b := range ci.literalBounds(sf, pv, lit) {
			b.value = ci.ground.ModelValue(b.val)
			if b.bt == BoundLower {
				bounds[0] = append(bounds[0], b)
			} else {
				bounds[1] = append(bounds[1], b)
			}
		}
	}
	log.Printf("[bound] %s: M=%s lower=%d upper=%d", pv, pvValue, len(bounds[0]), len(bounds[1]))

	var useInf bool
	if pvtn.IsInteger() {
		useInf = ci.UseVtsInf && ci.UseInfInt
	} else {
		useInf = ci.UseVtsInf && ci.UseInfReal
	}
	upperFirst := ci.MinBounds && len(bounds[1]) < len(bounds[0])

	// Try the optimal bound of each side.
	best := [2]int{-1, -1}
	for r := 0; r < 2; r++ {
		rr := r
		if upperFirst {
			rr = 1 - r
		}

		if len(bounds[rr]) == 0 {
			if useInf {
				val := Term(ci.VtsInfinity(pvtn, true))
				if rr == 0 {
					val = NewNeg(val)
				}
				log.Printf("[bound] %s: no %s bounds, try %s", pv, sideName(rr), val)
				if ci.doAddInstantiationInc(pv, val, nil, BoundNone, sf, effort) {
					return true
				}
			}
			continue
		}

		best[rr] = bestBound(bounds[rr], rr == 0)
		if best[rr] == -1 {
			continue
		}
		b := bounds[rr][best[rr]]
		log.Printf("[bound] %s: best %s bound is %s", pv, sideName(rr), b.val)

		// With midpoints, strict bounds are only used through the midpoint.
		if !ci.Midpoint || pvtn.IsInteger() || b.vtsDelta == nil {
			val := ci.modelBasedProjectionValue(pv, b.val, rr == 0, b.coeff, pvValue, b.value, theta, b.vtsInf, b.vtsDelta)
			if ci.doAddInstantiationInc(pv, val, b.coeff, b.bt, sf, effort) {
				return true
			}
		}
	}

	// Without bounds or infinity use zero, corrected for theta.
	if !useInf && len(bounds[0]) == 0 && len(bounds[1]) == 0 {
		zero := NewIntConst(0)
		val := ci.modelBasedProjectionValue(pv, zero, true, nil, pvValue, zero, theta, nil, nil)
		if ci.doAddInstantiationInc(pv, val, nil, BoundNone, sf, effort) {
			return true
		}
	}

	if ci.Midpoint && !pvtn.IsInteger() {
		var vals [2]Term
		for rr := 0; rr < 2; rr++ {
			if best[rr] == -1 {
				continue
			}
			b := bounds[rr][best[rr]]
			vals[rr] = ci.modelBasedProjectionValue(pv, b.val, rr == 0, nil, pvValue, b.value, theta, b.vtsInf, nil)
		}

		var val Term
		switch {
		case vals[0] != nil && vals[1] != nil:
			if TermEqual(vals[0], vals[1]) {
				val = vals[0]
			} else {
				val = NewScale(ratHalf, NewPlus(vals[0], vals[1]))
			}
		case vals[0] != nil:
			val = NewPlus(vals[0], NewIntConst(1))
		case vals[1] != nil:
			val = NewSub(vals[1], NewIntConst(1))
		}
		if val != nil {
			log.Printf("[bound] %s: midpoint %s", pv, val)
			if ci.doAddInstantiationInc(pv, val, nil, BoundNone, sf, effort) {
				return true
			}
		}
	}

	if ci.NonOptimal {
		for r := 0; r < 2; r++ {
			rr := r
			if upperFirst {
				rr = 1 - r
			}
			for j, b := range bounds[rr] {
				if j == best[rr] || (ci.Midpoint && b.vtsDelta != nil) {
					continue
				}
				val := ci.modelBasedProjectionValue(pv, b.val, rr == 0, b.coeff, pvValue, b.value, theta, b.vtsInf, b.vtsDelta)
				if ci.doAddInstantiationInc(pv, val, b.coeff, b.bt, sf, effort) {
					return true
				}
			}
		}
	}
	return false
}

func sideName(rr int) string {
	if rr == 0 {
		return "lower"
	}
	return "upper"
}

// bestBound returns the index of the tightest bound: the greatest lower
// bound or the least upper bound, comparing the infinite part, the model
// value of the finite part and the infinitesimal part in that order, each
// divided by the bound's coefficient. Among equal bounds the last wins.
// Bounds whose model value is not a numeral are skipped.
func bestBound(bounds []arithBound, lower bool) int {
	best := -1
	var bestKey [3]*big.Rat
	for j, b := range bounds {
		key, ok := boundKey(b)
		if !ok {
			log.Printf("[bound] skip bound %s: model value %s is not a numeral", b.val, b.value)
			continue
		}

		if best != -1 {
			cmp := compareBoundKeys(key, bestKey)
			if (lower && cmp < 0) || (!lower && cmp > 0) {
				continue
			}
		}
		best, bestKey = j, key
	}
	return best
}

func boundKey(b arithBound) (key [3]*big.Rat, ok bool) {
	value, ok := constValue(b.value)
	if !ok {
		return key, false
	}

	key = [3]*big.Rat{ratZero, value, ratZero}
	if b.vtsInf != nil {
		key[0] = b.vtsInf
	}
	if b.vtsDelta != nil {
		key[2] = b.vtsDelta
	}
	if b.coeff != nil {
		inv := ratInv(b.coeff)
		for i := range key {
			key[i] = ratMul(inv, key[i])
		}
	}
	return key, true
}

func compareBoundKeys(a, b [3]*big.Rat) int {
	for i := range a {
		if cmp := a[i].Cmp(b[i]); cmp != 0 {
			return cmp
		}
	}
	return 0
}

// modelBasedProjectionValue returns the substitution for c*pv derived from
// the bound t. For integer variables under a non-trivial coefficient the
// value is shifted by rho = (c*M(pv) - M(t)) mod theta*c for lower bounds
// (and the reverse for upper bounds) so that it agrees with the model
// modulo the accumulated coefficients. The virtual symbols are then added
// back with their coefficients.
func (ci *CegInstantiator) modelBasedProjectionValue(pv, t Term, isLower bool, c *big.Rat, me, mt Term, theta, inf, delta *big.Rat) Term {
	val := t

	ceValue, newTheta := me, theta
	if c != nil {
		ceValue = NewScale(c, ceValue)
		newTheta = mulCoeff(newTheta, c)
	}

	if newTheta != nil && pv.Type().IsInteger() {
		var rho Term
		if isLower {
			rho = NewSub(ceValue, mt)
		} else {
			rho = NewSub(mt, ceValue)
		}
		rho = NewIntMod(rho, NewConst(newTheta))
		log.Printf("[bound] rho for %s: %s (theta=%s)", pv, rho, formatCoeff(newTheta))

		if isLower {
			val = NewPlus(val, rho)
		} else {
			val = NewSub(val, rho)
		}
	}
	return ci.addVirtualTerms(pv, val, inf, delta)
}

// addVirtualTerms returns val + inf*INF + delta*DELTA for nil-able coefficients.
func (ci *CegInstantiator) addVirtualTerms(pv, val Term, inf, delta *big.Rat) Term {
	if inf != nil {
		val = NewPlus(val, NewScale(inf, ci.VtsInfinity(pv.Type(), true)))
	}
	if delta != nil {
		val = NewPlus(val, NewScale(delta, ci.VtsDelta(true)))
	}
	return val
}

func formatOptRat(r *big.Rat) string {
	if r == nil {
		return "-"
	}
	return r.RatString()
}
