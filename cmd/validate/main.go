// SPDX-License-Identifier: MIT

// Command validate checks a bookd configuration file without starting the
// engine. It applies the same loader the daemon uses, so environment
// overrides and strict YAML parsing are part of the check.
//
// Exit codes:
//   - 0: configuration is valid
//   - 1: configuration is invalid (parse or validation error)
//   - 2: usage error
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/prepstack/bookd/internal/config"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	file := fs.String("f", "", "path to YAML configuration file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *file == "" {
		fmt.Fprintln(stderr, "usage: validate -f config.yaml")
		return 2
	}

	cfg, err := config.Load(*file)
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", *file, err)
		return 1
	}

	fmt.Fprintf(stdout, "%s is valid (store=%s listen=%s)\n", *file, cfg.Store.Driver, cfg.Listen)
	return 0
}
