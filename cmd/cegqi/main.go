package main

import (
	"context"
	"flag"
	"fmt"
	"os"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err == flag.ErrHelp {
		os.Exit(1)
	} else if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	var cmd string
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "", "-h", "--help", "help":
		usage()
		return flag.ErrHelp
	case "check":
		return NewCheckCommand().Run(ctx, args)
	default:
		return fmt.Errorf(`cegqi %s: unknown command`, cmd)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `
Cegqi searches instantiations of universally quantified formulas
from counterexamples to them.

Usage:

	cegqi <command> [arguments]

The commands are:

	check       find an instantiation for a problem file
	help        this screen
`[1:])
}
