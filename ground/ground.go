package ground

import (
	"errors"
	"fmt"

	"github.com/benbjohnson/cegqi"
	"github.com/benbjohnson/immutable"
)

// Ensure engine implements interface.
var _ cegqi.Ground = (*Engine)(nil)

var (
	// ErrConflict is returned when an assertion makes the context inconsistent.
	ErrConflict = errors.New("ground: conflict")

	// ErrNotLiteral is returned when asserting a term that is not a literal.
	ErrNotLiteral = errors.New("ground: not a literal")
)

// Engine is an in-memory ground-theory layer. It maintains a congruence
// closed equality engine over registered terms, the literals asserted to
// each theory and a partial model.
//
// The representative of a class is always its oldest member.
type Engine struct {
	ids    *cegqi.TermMap[int]
	terms  []cegqi.Term
	parent []int
	value  []cegqi.Term // value member of a class, indexed by root

	// Members of each class keyed by root id, in id order.
	classes *immutable.SortedMap

	diseqs [][2]int
	facts  map[cegqi.TheoryID][]cegqi.Term
	values *cegqi.TermMap[cegqi.Term]

	needCheck bool
	stats     Stats
}

// NewEngine returns a new instance of Engine.
func NewEngine() *Engine {
	e := &Engine{
		ids:     cegqi.NewTermMap[int](),
		classes: immutable.NewSortedMap(&intComparer{}),
		facts:   make(map[cegqi.TheoryID][]cegqi.Term),
		values:  cegqi.NewTermMap[cegqi.Term](),
	}
	e.register(cegqi.True)
	e.register(cegqi.False)
	return e
}

// Stats returns statistics for the engine.
func (e *Engine) Stats() Stats {
	return e.stats
}

// NeedCheck returns true if the engine was marked as having pending work.
func (e *Engine) NeedCheck() bool { return e.needCheck }

// SetNeedCheck sets the pending work flag.
func (e *Engine) SetNeedCheck(v bool) { e.needCheck = v }

// HasTerm returns true if t has been registered.
func (e *Engine) HasTerm(t cegqi.Term) bool { return e.ids.Has(t) }

// AddTerm registers t and its subterms with the equality engine.
func (e *Engine) AddTerm(t cegqi.Term) error {
	if e.ids.Has(t) {
		return nil
	}
	e.register(t)
	return e.propagate()
}

// register adds t and its application arguments without propagating.
func (e *Engine) register(t cegqi.Term) int {
	if id, ok := e.ids.Get(t); ok {
		return id
	}
	if app, ok := t.(*cegqi.App); ok {
		for _, arg := range app.Args {
			e.register(arg)
		}
	}

	id := len(e.terms)
	e.ids.Set(t, id)
	e.terms = append(e.terms, t)
	e.parent = append(e.parent, id)
	if cegqi.IsValue(t) {
		e.value = append(e.value, t)
	} else {
		e.value = append(e.value, nil)
	}
	e.classes = e.classes.Set(id, []int{id})
	return id
}

// Merge asserts that a and b are equal.
func (e *Engine) Merge(a, b cegqi.Term) error {
	if err := e.AddTerm(a); err != nil {
		return err
	} else if err := e.AddTerm(b); err != nil {
		return err
	}

	ia, _ := e.ids.Get(a)
	ib, _ := e.ids.Get(b)
	if err := e.union(ia, ib); err != nil {
		return err
	}
	return e.propagate()
}

// Assert asserts lit to the theory id. Equalities merge their sides and
// disequalities are checked against the classes. The atom of lit joins the
// class of true or false according to its polarity.
func (e *Engine) Assert(id cegqi.TheoryID, lit cegqi.Term) error {
	if !lit.Type().IsBool() {
		return fmt.Errorf("%w: %s", ErrNotLiteral, lit)
	}

	atom, pol := lit, true
	if app, ok := lit.(*cegqi.App); ok && app.Op == cegqi.NOT {
		atom, pol = app.Args[0], false
	}
	if app, ok := atom.(*cegqi.App); ok && (app.Op == cegqi.AND || app.Op == cegqi.OR) {
		return fmt.Errorf("%w: %s", ErrNotLiteral, lit)
	}

	if err := e.AddTerm(atom); err != nil {
		return err
	}
	if app, ok := atom.(*cegqi.App); ok && app.Op == cegqi.EQ {
		if pol {
			if err := e.Merge(app.Args[0], app.Args[1]); err != nil {
				return err
			}
		} else {
			ia, _ := e.ids.Get(app.Args[0])
			ib, _ := e.ids.Get(app.Args[1])
			e.diseqs = append(e.diseqs, [2]int{ia, ib})
		}
	}
	if err := e.Merge(atom, cegqi.NewBoolConst(pol)); err != nil {
		return err
	}

	e.facts[id] = append(e.facts[id], lit)
	return nil
}

// LiteralTheory returns the theory a literal is asserted to.
func LiteralTheory(lit cegqi.Term) cegqi.TheoryID {
	if app, ok := lit.(*cegqi.App); ok && app.Op == cegqi.NOT {
		lit = app.Args[0]
	}

	app, ok := lit.(*cegqi.App)
	if !ok {
		return cegqi.TheoryOf(lit.Type())
	}
	switch {
	case app.Op == cegqi.EQ:
		return cegqi.TheoryOf(app.Args[0].Type())
	case app.Op.IsArith():
		return cegqi.TheoryArith
	case app.Op.IsBV():
		return cegqi.TheoryBV
	case app.Op == cegqi.APPLY:
		return cegqi.TheoryUF
	case app.Op == cegqi.SELECTOR:
		return cegqi.TheoryDatatypes
	default:
		return cegqi.TheoryBuiltin
	}
}

// Facts returns the literals asserted to the theory id, in assertion order.
func (e *Engine) Facts(id cegqi.TheoryID) []cegqi.Term {
	return e.facts[id]
}

// SetValue fixes the model value of t.
func (e *Engine) SetValue(t, value cegqi.Term) {
	e.values.Set(t, value)
}

// Representative returns the oldest member of t's class, or t if unknown.
func (e *Engine) Representative(t cegqi.Term) cegqi.Term {
	id, ok := e.ids.Get(t)
	if !ok {
		return t
	}
	return e.terms[e.find(id)]
}

// EqClasses returns the representatives of all classes in id order.
func (e *Engine) EqClasses() []cegqi.Term {
	a := make([]cegqi.Term, 0, e.classes.Len())
	itr := e.classes.Iterator()
	for !itr.Done() {
		k, _ := itr.Next()
		a = append(a, e.terms[k.(int)])
	}
	return a
}

// EqClass returns the members of the class of rep in id order.
func (e *Engine) EqClass(rep cegqi.Term) []cegqi.Term {
	id, ok := e.ids.Get(rep)
	if !ok {
		return nil
	}
	members := e.members(e.find(id))
	a := make([]cegqi.Term, len(members))
	for i, m := range members {
		a[i] = e.terms[m]
	}
	return a
}

func (e *Engine) members(root int) []int {
	v, _ := e.classes.Get(root)
	return v.([]int)
}

func (e *Engine) find(id int) int {
	for e.parent[id] != id {
		e.parent[id] = e.parent[e.parent[id]]
		id = e.parent[id]
	}
	return id
}

// union merges the classes of a and b. Returns ErrConflict if both classes
// contain distinct values.
func (e *Engine) union(a, b int) error {
	ra, rb := e.find(a), e.find(b)
	if ra == rb {
		return nil
	} else if rb < ra {
		ra, rb = rb, ra
	}

	va, vb := e.value[ra], e.value[rb]
	if va != nil && vb != nil && !cegqi.TermEqual(va, vb) {
		return fmt.Errorf("%w: %s = %s", ErrConflict, va, vb)
	}
	if va == nil {
		e.value[ra] = vb
	}

	e.parent[rb] = ra
	e.classes = e.classes.Set(ra, mergeIDs(e.members(ra), e.members(rb)))
	e.classes = e.classes.Delete(rb)
	e.stats.MergeN++
	return nil
}

// mergeIDs returns the sorted union of two sorted, disjoint id lists.
func mergeIDs(a, b []int) []int {
	other := make([]int, 0, len(a)+len(b))
	for len(a) > 0 && len(b) > 0 {
		if a[0] < b[0] {
			other, a = append(other, a[0]), a[1:]
		} else {
			other, b = append(other, b[0]), b[1:]
		}
	}
	other = append(other, a...)
	return append(other, b...)
}

// propagate merges congruent applications and selectors applied to
// constructor applications until a fixed point is reached.
func (e *Engine) propagate() error {
	for changed := true; changed; {
		changed = false

		sigs := make(map[string]int)
		for id, t := range e.terms {
			app, ok := t.(*cegqi.App)
			if !ok {
				continue
			}

			sig := e.signature(app)
			if other, ok := sigs[sig]; !ok {
				sigs[sig] = id
			} else if e.find(other) != e.find(id) {
				if err := e.union(other, id); err != nil {
					return err
				}
				changed = true
			}

			if app.Op != cegqi.SELECTOR {
				continue
			}
			sel := app.Sym.(*cegqi.Selector)
			argID, _ := e.ids.Get(app.Args[0])
			for _, m := range e.members(e.find(argID)) {
				c, ok := e.terms[m].(*cegqi.App)
				if !ok || c.Op != cegqi.CONSTRUCTOR || c.Sym != sel.Constructor {
					continue
				}
				fieldID, _ := e.ids.Get(c.Args[sel.Index()])
				if e.find(fieldID) != e.find(id) {
					if err := e.union(fieldID, id); err != nil {
						return err
					}
					changed = true
				}
			}
		}
	}

	for _, d := range e.diseqs {
		if e.find(d[0]) == e.find(d[1]) {
			return fmt.Errorf("%w: %s != %s", ErrConflict, e.terms[d[0]], e.terms[d[1]])
		}
	}
	return nil
}

// signature returns a key identifying app up to the classes of its arguments.
func (e *Engine) signature(app *cegqi.App) string {
	var name string
	if app.Sym != nil {
		name = app.Sym.SymbolName()
	}
	reps := make([]int, len(app.Args))
	for i, arg := range app.Args {
		id, _ := e.ids.Get(arg)
		reps[i] = e.find(id)
	}
	return fmt.Sprintf("%d/%s/%v", app.Op, name, reps)
}

// ModelValue returns the value of t in the current model. Values are taken,
// in order, from explicit values, from the class of t and by evaluating t
// over the values of its arguments. Anything else gets the default value of
// its type. All members of a class get the same value.
func (e *Engine) ModelValue(t cegqi.Term) cegqi.Term {
	e.stats.ModelValueN++
	return e.modelValue(t, cegqi.NewTermMap[cegqi.Term]())
}

func (e *Engine) modelValue(t cegqi.Term, memo *cegqi.TermMap[cegqi.Term]) cegqi.Term {
	if cegqi.IsValue(t) {
		return t
	}

	// Registered terms are evaluated once per class, keyed by representative.
	key := t
	if id, ok := e.ids.Get(t); ok {
		key = e.terms[e.find(id)]
	} else if v, ok := e.values.Get(t); ok {
		return v
	}

	// A nil entry marks a class being evaluated.
	if v, ok := memo.Get(key); ok {
		if v == nil {
			return defaultValue(t.Type(), make(map[*cegqi.Type]struct{}))
		}
		return v
	}
	memo.Set(key, nil)

	v := e.evaluate(t, memo)
	memo.Set(key, v)
	return v
}

func (e *Engine) evaluate(t cegqi.Term, memo *cegqi.TermMap[cegqi.Term]) cegqi.Term {
	if id, ok := e.ids.Get(t); ok {
		root := e.find(id)
		if v := e.classValue(root); v != nil {
			return v
		}
		for _, m := range e.members(root) {
			if app, ok := e.terms[m].(*cegqi.App); ok {
				if v := e.evaluateApp(app, memo); v != nil {
					return v
				}
			}
		}
	} else if app, ok := t.(*cegqi.App); ok {
		if v := e.evaluateApp(app, memo); v != nil {
			return v
		}
	}
	return defaultValue(t.Type(), make(map[*cegqi.Type]struct{}))
}

// evaluateApp computes app over the values of its arguments. Returns nil if
// the result is not a value.
func (e *Engine) evaluateApp(app *cegqi.App, memo *cegqi.TermMap[cegqi.Term]) cegqi.Term {
	args := make([]cegqi.Term, len(app.Args))
	for i, arg := range app.Args {
		args[i] = e.modelValue(arg, memo)
	}

	if app.Op == cegqi.APPLY || app.Op == cegqi.SELECTOR {
		if v := e.lookupApp(app, args, memo); v != nil {
			return v
		}
	}
	if app.Op != cegqi.APPLY {
		if v := cegqi.NewApp(app.Op, app.Sym, args...); cegqi.IsValue(v) {
			return v
		}
	}
	return nil
}

// classValue returns the value member of a class or an explicit value of
// one of its members.
func (e *Engine) classValue(root int) cegqi.Term {
	if v := e.value[root]; v != nil {
		return v
	}
	for _, m := range e.members(root) {
		if v, ok := e.values.Get(e.terms[m]); ok {
			return v
		}
	}
	return nil
}

// lookupApp returns the class value of a registered application with the
// same symbol as app whose arguments have the values args.
func (e *Engine) lookupApp(app *cegqi.App, args []cegqi.Term, memo *cegqi.TermMap[cegqi.Term]) cegqi.Term {
	for id, t := range e.terms {
		other, ok := t.(*cegqi.App)
		if !ok || other.Op != app.Op || other.Sym != app.Sym || cegqi.TermEqual(other, app) {
			continue
		}

		match := true
		for i, arg := range other.Args {
			if !cegqi.TermEqual(e.modelValue(arg, memo), args[i]) {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		if v := e.classValue(e.find(id)); v != nil {
			return v
		}
	}
	return nil
}

// defaultValue returns the value used for terms the model says nothing about.
func defaultValue(typ *cegqi.Type, visited map[*cegqi.Type]struct{}) cegqi.Term {
	switch typ.Kind {
	case cegqi.BoolKind:
		return cegqi.False
	case cegqi.IntKind, cegqi.RealKind:
		return cegqi.NewIntConst(0)
	case cegqi.BitVecKind:
		return cegqi.NewBVConst(0, typ.Width)
	case cegqi.DatatypeKind:
		return defaultDatatypeValue(typ, visited)
	default:
		return cegqi.NewVar("@"+typ.Name, typ)
	}
}

// defaultDatatypeValue builds the first constructor that does not recurse
// into a datatype already being built.
func defaultDatatypeValue(typ *cegqi.Type, visited map[*cegqi.Type]struct{}) cegqi.Term {
	visited[typ] = struct{}{}
	defer delete(visited, typ)

	for _, c := range typ.Constructors {
		ok := true
		for _, sel := range c.Selectors {
			if _, found := visited[sel.Range]; found {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}

		args := make([]cegqi.Term, len(c.Selectors))
		for i, sel := range c.Selectors {
			args[i] = defaultValue(sel.Range, visited)
		}
		return cegqi.NewConstructorApp(c, args...)
	}
	return cegqi.NewVar("@"+typ.Name, typ)
}

// Stats represents statistics for the engine.
type Stats struct {
	MergeN      int
	ModelValueN int
}

// intComparer compares two ints. Implements immutable.Comparer.
type intComparer struct{}

// Compare returns -1 if a is less than b, returns 1 if a is greater than b, and
// returns 0 if a is equal to b. Panic if a or b is not an int.
func (c *intComparer) Compare(a, b interface{}) int {
	if i, j := a.(int), b.(int); i < j {
		return -1
	} else if i > j {
		return 1
	}
	return 0
}
