package cegqi

import "log"

// Presolve adds the lemma g OR (c1 AND ... AND cn) for a fresh boolean g,
// where each ci is the body of q instantiated with ground terms the body
// equates with its bound variables. It is called once before any check and
// does nothing if the body contains a quantifier, if no such instantiation
// exists or if the conjunction folds to a constant. At most
// MaxPresolveConjuncts conjuncts are generated.
func (ci *CegInstantiator) Presolve(q *Forall) bool {
	if HasQuantifier(q.Body) {
		return false
	}

	vars := make([]Term, len(q.Vars))
	teq := NewTermMap[[]Term]()
	for i, v := range q.Vars {
		vars[i] = v
		teq.Set(v, nil)
	}
	collectPresolveEqTerms(q.Body, teq, NewTermSet(vars...))

	var conj []Term
	presolveConjuncts(vars, nil, teq, q.Body, &conj)
	if len(conj) == 0 {
		return false
	}

	// A constant conjunction gives the guard nothing to choose.
	body := NewAnd(conj...)
	if _, ok := body.(*BoolConst); ok {
		log.Printf("[presolve] conjunction folds to %s", body)
		return false
	}

	g := NewVar(ci.freshName("g"), BoolType)
	lem := NewOr(g, body)
	log.Printf("[presolve] lemma: %s", lem)
	return ci.out.AddLemma(lem)
}

// collectPresolveEqTerms records, for each bound variable, the terms free of
// bound variables it is equated with outside of nested quantifiers.
func collectPresolveEqTerms(n Term, teq *TermMap[[]Term], bound *TermSet) {
	app, ok := n.(*App)
	if !ok {
		return
	}

	if app.Op == EQ {
		for i := 0; i < 2; i++ {
			terms, ok := teq.Get(app.Args[i])
			if !ok {
				continue
			}
			other := app.Args[1-i]
			if containsAnyTerm(other, bound) || containsTermEqual(terms, other) {
				continue
			}
			log.Printf("[presolve] %s = %s", app.Args[i], other)
			teq.Set(app.Args[i], append(terms, other))
		}
	}
	for _, arg := range app.Args {
		collectPresolveEqTerms(arg, teq, bound)
	}
}

func presolveConjuncts(vars, terms []Term, teq *TermMap[[]Term], body Term, conj *[]Term) {
	if len(*conj) >= MaxPresolveConjuncts {
		return
	} else if len(terms) == len(vars) {
		*conj = append(*conj, Substitute(body, vars, terms))
		return
	}

	cands, _ := teq.Get(vars[len(terms)])
	for _, t := range cands {
		presolveConjuncts(vars, append(terms[:len(terms):len(terms)], t), teq, body, conj)
	}
}

// containsAnyTerm returns true if t has a subterm in s.
func containsAnyTerm(t Term, s *TermSet) bool {
	var found bool
	WalkTerm(termVisitorFunc(func(n Term) bool {
		if found {
			return false
		} else if s.Has(n) {
			found = true
			return false
		}
		return true
	}), t)
	return found
}

func containsTermEqual(a []Term, t Term) bool {
	for _, x := range a {
		if TermEqual(x, t) {
			return true
		}
	}
	return false
}
