package cegqi

import "log"

// auxEquality records that a literal implies the auxiliary variable v equals t.
type auxEquality struct {
	v Term
	t Term
}

// removeITEs replaces every non-boolean if-then-else outside of quantifiers
// with a fresh auxiliary variable k and appends its definition
// ite(c, k = a, k = b) to the lemmas. Both equalities are recorded so a
// later check can eliminate k using whichever branch holds.
func (ci *CegInstantiator) removeITEs(lems []Term) []Term {
	ci.auxVars = nil
	ci.auxEq = NewTermMap[[]auxEquality]()

	cache := NewTermMap[Term]()
	var defs []Term
	other := make([]Term, 0, len(lems))
	for _, lem := range lems {
		other = append(other, ci.removeITE(lem, cache, &defs))
	}
	return append(other, defs...)
}

func (ci *CegInstantiator) removeITE(t Term, cache *TermMap[Term], defs *[]Term) Term {
	app, ok := t.(*App)
	if !ok {
		return t
	} else if ret, ok := cache.Get(t); ok {
		return ret
	}

	var changed bool
	args := make([]Term, len(app.Args))
	for i, arg := range app.Args {
		args[i] = ci.removeITE(arg, cache, defs)
		changed = changed || !TermEqual(args[i], arg)
	}
	ret := t
	if changed {
		ret = NewApp(app.Op, app.Sym, args...)
	}

	if ite, ok := ret.(*App); ok && ite.Op == ITE && !ite.Type().IsBool() {
		k := NewVar(ci.freshName("ite"), ite.Type())
		eqThen, eqElse := NewEq(k, ite.Args[1]), NewEq(k, ite.Args[2])
		def := NewIte(ite.Args[0], eqThen, eqElse)
		log.Printf("[register] auxiliary variable %s: %s", k, def)

		ci.auxVars = append(ci.auxVars, k)
		*defs = append(*defs, def)
		if d, ok := def.(*App); ok && d.Op == ITE {
			ci.addAuxEquality(eqThen, k, ite.Args[1])
			ci.addAuxEquality(eqElse, k, ite.Args[2])
		}
		ret = k
	}

	cache.Set(t, ret)
	return ret
}

func (ci *CegInstantiator) addAuxEquality(lit, v, t Term) {
	eqs, _ := ci.auxEq.Get(lit)
	ci.auxEq.Set(lit, append(eqs, auxEquality{v: v, t: t}))
}
