package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/benbjohnson/cegqi"
	"github.com/benbjohnson/cegqi/ground"
	"github.com/davecgh/go-spew/spew"
)

// CheckCommand represents a command for searching an instantiation of a
// quantified formula against a ground context.
type CheckCommand struct {
	Stdout io.Writer
}

// NewCheckCommand returns a new instance of CheckCommand.
func NewCheckCommand() *CheckCommand {
	return &CheckCommand{Stdout: os.Stdout}
}

// Run executes the "check" subcommand.
func (cmd *CheckCommand) Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("cegqi-check", flag.ContinueOnError)
	verbose := fs.Bool("v", false, "verbose")
	delta := fs.Bool("delta", true, "use virtual delta for strict bounds")
	inf := fs.Bool("inf", false, "use virtual infinity for unbounded variables")
	midpoint := fs.Bool("midpoint", false, "try midpoints of real bounds")
	roundUp := fs.Bool("round-up", false, "round integer divisions up for lower bounds")
	fs.Usage = cmd.usage
	if err := fs.Parse(args); err != nil {
		return err
	} else if fs.NArg() == 0 {
		return fmt.Errorf("problem file required")
	} else if fs.NArg() > 1 {
		return fmt.Errorf("too many problem files specified")
	}

	log.SetFlags(0)
	if !*verbose {
		log.SetOutput(io.Discard)
	}

	p, err := ReadProblem(fs.Arg(0))
	if err != nil {
		return err
	}
	inst, err := p.Parse()
	if err != nil {
		return err
	}

	e := ground.NewEngine()
	out := &printer{w: cmd.Stdout, q: inst.Quantifier}
	ci := cegqi.NewCegInstantiator(e, out)
	ci.UseVtsDelta = *delta
	ci.UseVtsInf, ci.UseInfInt, ci.UseInfReal = *inf, *inf, *inf
	ci.Midpoint = *midpoint
	ci.RoundUpLowerLIA = *roundUp

	log.Printf("[begin] %s", inst.Quantifier)
	lems := ci.RegisterCounterexampleLemma([]cegqi.Term{inst.Lemma}, inst.CeVars)
	ci.Presolve(inst.Quantifier)

	if err := inst.Load(e, append(lems, ci.CeAtoms()...)); err != nil {
		return err
	}

	ok := ci.Check()
	log.Print(ci.Dump())
	log.Print(spew.Sdump(e.Stats()))
	log.Print("[end]")

	if !ok {
		fmt.Fprintln(cmd.Stdout, "no instantiation")
	}
	return nil
}

func (cmd *CheckCommand) usage() {
	fmt.Fprintln(os.Stderr, `
usage: cegqi check [arguments] FILE

Arguments:

	-v
	    Enable verbose logging.
	-delta
	    Use a virtual infinitesimal for strict bounds. Defaults to true.
	-inf
	    Use virtual infinity for unbounded variables.
	-midpoint
	    Also try the midpoint of real bounds.
	-round-up
	    Round integer divisions up for lower bounds.
`[1:])
}

// printer writes instantiations and lemmas to w. It accepts every
// instantiation that does not contain a quantifier.
type printer struct {
	w io.Writer
	q *cegqi.Forall
}

func (p *printer) IsEligibleForInstantiation(t cegqi.Term) bool {
	return !cegqi.HasQuantifier(t)
}

func (p *printer) AddInstantiation(subs []cegqi.Term) bool {
	vars := make([]cegqi.Term, len(p.q.Vars))
	a := make([]string, len(p.q.Vars))
	for i, v := range p.q.Vars {
		vars[i] = v
		a[i] = fmt.Sprintf("%s -> %s", v.Name, subs[i])
	}
	fmt.Fprintln(p.w, strings.Join(a, "\n"))
	fmt.Fprintf(p.w, "instance: %s\n", cegqi.Substitute(p.q.Body, vars, subs))
	return true
}

func (p *printer) AddLemma(lem cegqi.Term) bool {
	fmt.Fprintf(p.w, "lemma: %s\n", lem)
	return true
}
