package cegqi

// Skolemize returns the counterexample lemma of q, which is the negated body
// with each bound variable replaced by a fresh constant, along with those
// constants in the order of the bound variables.
func Skolemize(q *Forall) (lemma Term, ceVars []Term) {
	from := make([]Term, len(q.Vars))
	ceVars = make([]Term, len(q.Vars))
	for i, v := range q.Vars {
		from[i] = v
		ceVars[i] = NewVar(v.Name+"!ce", v.Type())
	}
	return NewNot(Substitute(q.Body, from, ceVars)), ceVars
}
