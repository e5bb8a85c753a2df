// Command rebuildregistries replays a plane's ledger to regenerate its
// derived registries (file ownership, package state) from scratch.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/control-plane/governor/internal/cliutil"
	"github.com/control-plane/governor/internal/derived"
	"github.com/control-plane/governor/pkg/version"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("rebuildregistries", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	root := fs.String("root", "", "plane root (required)")
	ledgerRel := fs.String("ledger", filepath.Join("ledger", "governance.jsonl"), "ledger path, relative to --root")
	dryRun := fs.Bool("dry-run", false, "compute the rebuild but don't write the registries")
	asJSON := fs.Bool("json", false, "emit JSON")
	showVersion := fs.Bool("version", false, "print build information and exit")
	if err := fs.Parse(args); err != nil {
		cliutil.Fatalf("%v", err)
	}
	if *showVersion {
		fmt.Println(version.Banner("rebuildregistries"))
		return 0
	}
	if *root == "" {
		fmt.Println(`Usage:
  rebuildregistries --root <plane-root> [--ledger <rel-path>] [--dry-run] [--json]`)
		cliutil.Fatalf("--root is required")
	}

	ledgerPath := filepath.Join(*root, *ledgerRel)
	result, err := derived.Rebuild(*root, ledgerPath)
	if err != nil {
		cliutil.Fatalf("%v", err)
	}

	if !*dryRun {
		if err := derived.Write(*root, result, logViolation); err != nil {
			cliutil.Fatalf("%v", err)
		}
	}

	printErr := cliutil.PrintResult(result, *asJSON, func() {
		fmt.Printf("ownership rows: %d\n", len(result.OwnershipRows))
		fmt.Printf("state rows:     %d\n", len(result.StateRows))
		fmt.Printf("conflicts:      %d\n", len(result.Conflicts))
		for _, c := range result.Conflicts {
			fmt.Printf("  conflict: %s owned by %s, claimed by %s\n", c.Path, c.ExistingOwner, c.IncomingPackage)
		}
	})
	if printErr != nil {
		cliutil.Fatalf("%v", printErr)
	}

	if result.HasConflicts() {
		return 2
	}
	return 0
}

func logViolation(path, reason string) {
	fmt.Fprintf(os.Stderr, "violation: %s: %s\n", path, reason)
}
