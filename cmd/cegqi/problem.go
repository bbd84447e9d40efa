package main

import (
	"os"
	"sort"

	"github.com/benbjohnson/cegqi"
	"github.com/benbjohnson/cegqi/ground"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Problem is a quantified formula together with the ground context it is
// checked against, as read from a YAML file.
type Problem struct {
	Sorts     []string       `yaml:"sorts"`
	Datatypes []DatatypeDecl `yaml:"datatypes"`
	Funcs     []FuncDecl     `yaml:"funcs"`
	Consts    []ConstDecl    `yaml:"consts"`

	// A single forall s-expression.
	Formula string `yaml:"formula"`

	// Ground literals and classes of equal terms. Bound variables of the
	// formula refer to their counterexample constants.
	Facts      []string   `yaml:"facts"`
	Equalities [][]string `yaml:"equalities"`

	// Model values keyed by term.
	Model map[string]string `yaml:"model"`
}

// DatatypeDecl declares a datatype.
type DatatypeDecl struct {
	Name         string            `yaml:"name"`
	Constructors []ConstructorDecl `yaml:"constructors"`
}

// ConstructorDecl declares a datatype constructor.
type ConstructorDecl struct {
	Name      string         `yaml:"name"`
	Selectors []SelectorDecl `yaml:"selectors"`
}

// SelectorDecl declares a constructor field.
type SelectorDecl struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// FuncDecl declares an uninterpreted function.
type FuncDecl struct {
	Name   string   `yaml:"name"`
	Domain []string `yaml:"domain"`
	Range  string   `yaml:"range"`
}

// ConstDecl declares a free constant.
type ConstDecl struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// ReadProblem reads a problem from a YAML file.
func ReadProblem(path string) (*Problem, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var p Problem
	if err := yaml.Unmarshal(buf, &p); err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	return &p, nil
}

// Instance is a parsed problem.
type Instance struct {
	Quantifier *cegqi.Forall

	// Counterexample lemma and its constants, one per bound variable.
	Lemma  cegqi.Term
	CeVars []cegqi.Term

	Facts      []cegqi.Term
	Equalities [][]cegqi.Term
	Values     [][2]cegqi.Term
}

// Parse declares the symbols of the problem and parses its terms.
func (p *Problem) Parse() (*Instance, error) {
	parser := cegqi.NewParser()
	if err := p.declare(parser); err != nil {
		return nil, err
	}

	t, err := parser.ParseTerm(p.Formula)
	if err != nil {
		return nil, errors.Wrap(err, "formula")
	}
	q, ok := t.(*cegqi.Forall)
	if !ok {
		return nil, errors.Wrapf(cegqi.ErrNotQuantified, "formula %s", t)
	}

	inst := &Instance{Quantifier: q}
	inst.Lemma, inst.CeVars = cegqi.Skolemize(q)
	for i, v := range q.Vars {
		if err := parser.Bind(v.Name, inst.CeVars[i].(*cegqi.Var)); err != nil {
			return nil, errors.Wrap(err, "bound variable")
		}
	}

	for _, s := range p.Facts {
		t, err := parser.ParseTerm(s)
		if err != nil {
			return nil, errors.Wrapf(err, "fact %q", s)
		} else if !t.Type().IsBool() {
			return nil, errors.Wrapf(cegqi.ErrTypeMismatch, "fact %q", s)
		}
		inst.Facts = append(inst.Facts, conjuncts(t)...)
	}

	for _, a := range p.Equalities {
		terms := make([]cegqi.Term, len(a))
		for i, s := range a {
			if terms[i], err = parser.ParseTerm(s); err != nil {
				return nil, errors.Wrapf(err, "equality %q", s)
			}
		}
		inst.Equalities = append(inst.Equalities, terms)
	}

	keys := make([]string, 0, len(p.Model))
	for k := range p.Model {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		t, err := parser.ParseTerm(k)
		if err != nil {
			return nil, errors.Wrapf(err, "model term %q", k)
		}
		v, err := parser.ParseTerm(p.Model[k])
		if err != nil {
			return nil, errors.Wrapf(err, "model value %q", p.Model[k])
		} else if !cegqi.IsValue(v) || !v.Type().IsSubtypeOf(t.Type()) {
			return nil, errors.Wrapf(cegqi.ErrTypeMismatch, "model value %s for %s", v, t)
		}
		inst.Values = append(inst.Values, [2]cegqi.Term{t, v})
	}
	return inst, nil
}

func (p *Problem) declare(parser *cegqi.Parser) error {
	for _, name := range p.Sorts {
		if err := parser.DeclareType(cegqi.NewSortType(name)); err != nil {
			return err
		}
	}

	// Declare all datatype names first so constructors may refer to them.
	dts := make([]*cegqi.Type, len(p.Datatypes))
	for i, decl := range p.Datatypes {
		dts[i] = cegqi.NewDatatype(decl.Name)
		if err := parser.DeclareType(dts[i]); err != nil {
			return err
		}
	}
	for i, decl := range p.Datatypes {
		for _, c := range decl.Constructors {
			sels := make([]*cegqi.Selector, len(c.Selectors))
			for j, sel := range c.Selectors {
				typ, err := parser.ParseType(sel.Type)
				if err != nil {
					return errors.Wrapf(err, "selector %s", sel.Name)
				}
				sels[j] = cegqi.NewSelector(sel.Name, typ)
			}
			dts[i].AddConstructor(c.Name, sels...)
		}
		if err := parser.DeclareConstructors(dts[i]); err != nil {
			return err
		}
	}

	for _, decl := range p.Funcs {
		domain := make([]*cegqi.Type, len(decl.Domain))
		for i, s := range decl.Domain {
			typ, err := parser.ParseType(s)
			if err != nil {
				return errors.Wrapf(err, "function %s", decl.Name)
			}
			domain[i] = typ
		}
		rng, err := parser.ParseType(decl.Range)
		if err != nil {
			return errors.Wrapf(err, "function %s", decl.Name)
		}
		if err := parser.DeclareFunc(cegqi.NewFunc(decl.Name, domain, rng)); err != nil {
			return err
		}
	}

	for _, decl := range p.Consts {
		typ, err := parser.ParseType(decl.Type)
		if err != nil {
			return errors.Wrapf(err, "constant %s", decl.Name)
		}
		if err := parser.DeclareConst(cegqi.NewVar(decl.Name, typ)); err != nil {
			return err
		}
	}
	return nil
}

// conjuncts splits a conjunction into its literals.
func conjuncts(t cegqi.Term) []cegqi.Term {
	if app, ok := t.(*cegqi.App); ok && app.Op == cegqi.AND {
		return app.Args
	}
	return []cegqi.Term{t}
}

// Load asserts the ground context of the instance to e. The atoms of the
// counterexample lemma are registered first so the variables have classes.
func (inst *Instance) Load(e *ground.Engine, atoms []cegqi.Term) error {
	for _, atom := range atoms {
		if err := e.AddTerm(atom); err != nil {
			return err
		}
	}

	for _, lit := range inst.Facts {
		if err := e.Assert(ground.LiteralTheory(lit), lit); err != nil {
			return errors.Wrapf(err, "assert %s", lit)
		}
	}

	for _, terms := range inst.Equalities {
		for i := 1; i < len(terms); i++ {
			if err := e.Merge(terms[0], terms[i]); err != nil {
				return errors.Wrapf(err, "merge %s = %s", terms[0], terms[i])
			}
		}
	}

	for _, kv := range inst.Values {
		e.SetValue(kv[0], kv[1])
	}
	return nil
}
