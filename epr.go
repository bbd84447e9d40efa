package cegqi

import "log"

// termArgTrie indexes applications of one symbol by the representatives of
// their arguments.
type termArgTrie struct {
	children *TermMap[*termArgTrie]
	data     Term
}

func newTermArgTrie() *termArgTrie {
	return &termArgTrie{children: NewTermMap[*termArgTrie]()}
}

// add inserts n under the argument representatives args. The first term
// inserted under a path is kept.
func (t *termArgTrie) add(args []Term, n Term) {
	for _, arg := range args {
		child, ok := t.children.Get(arg)
		if !ok {
			child = newTermArgTrie()
			t.children.Set(arg, child)
		}
		t = child
	}
	if t.data == nil {
		t.data = n
	}
}

// lookup returns the term stored under args, or nil.
func (t *termArgTrie) lookup(args []Term) Term {
	for _, arg := range args {
		child, ok := t.children.Get(arg)
		if !ok {
			return nil
		}
		t = child
	}
	return t.data
}

// termDatabase indexes the ground applications of uninterpreted functions
// and selectors by the representative of the application and its symbol.
type termDatabase struct {
	tries *TermMap[map[string]*termArgTrie]
}

func newTermDatabase(g Ground) *termDatabase {
	db := &termDatabase{tries: NewTermMap[map[string]*termArgTrie]()}
	for _, r := range g.EqClasses() {
		for _, n := range g.EqClass(r) {
			app, ok := n.(*App)
			if !ok || !isAtomicTrigger(app) {
				continue
			}
			reps := make([]Term, len(app.Args))
			for i, arg := range app.Args {
				reps[i] = g.Representative(arg)
			}
			db.trie(r, app.Sym.SymbolName(), true).add(reps, n)
		}
	}
	return db
}

// trie returns the trie of symbol op within the class of rep.
func (db *termDatabase) trie(rep Term, op string, create bool) *termArgTrie {
	m, ok := db.tries.Get(rep)
	if !ok {
		if !create {
			return nil
		}
		m = make(map[string]*termArgTrie)
		db.tries.Set(rep, m)
	}

	t := m[op]
	if t == nil && create {
		t = newTermArgTrie()
		m[op] = t
	}
	return t
}

// isAtomicTrigger returns true for applications that can be matched against
// ground terms.
func isAtomicTrigger(app *App) bool {
	return app.Op == APPLY || app.Op == SELECTOR
}

// computeMatchScore matches the counterexample atom catom against ground
// applications in the class of eqc. Each ground argument in a position
// where catom has pv gains one point; other arguments are matched
// recursively.
func (ci *CegInstantiator) computeMatchScore(pv, catom, eqc Term, scores *TermMap[int]) {
	app, ok := catom.(*App)
	if !ok || !isAtomicTrigger(app) || !ContainsTerm(catom, pv) {
		return
	} else if ci.termDB == nil || !ci.ground.HasTerm(eqc) {
		return
	}

	reps := make([]Term, len(app.Args))
	for i, arg := range app.Args {
		reps[i] = ci.ground.Representative(arg)
	}

	tat := ci.termDB.trie(ci.ground.Representative(eqc), app.Sym.SymbolName(), false)
	if tat == nil {
		return
	}
	g, ok := tat.lookup(reps).(*App)
	if !ok {
		return
	}
	log.Printf("[inst] matched %s with %s", catom, g)

	for i, arg := range app.Args {
		if TermEqual(arg, pv) {
			score, _ := scores.Get(g.Args[i])
			scores.Set(g.Args[i], score+1)
		} else {
			ci.computeMatchScore(pv, arg, g.Args[i], scores)
		}
	}
}
