// Command sealguard runs the Seal Guard's pre-install, post-install,
// drift, and quarantine checks against an already-resolved plane.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/control-plane/governor/internal/cliutil"
	"github.com/control-plane/governor/internal/plane"
	"github.com/control-plane/governor/internal/sealguard"
	"github.com/control-plane/governor/internal/tier"
	"github.com/control-plane/governor/pkg/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		cliutil.Fatalf("%v", err)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		printUsage()
		return fmt.Errorf("no command specified")
	}
	switch args[0] {
	case "preflight":
		return handlePreflight(args[1:])
	case "postflight":
		return handlePostflight(args[1:])
	case "drift-check":
		return handleDriftCheck(args[1:])
	case "quarantine":
		return handleQuarantine(args[1:])
	case "version", "--version":
		fmt.Println(version.Banner("sealguard"))
		return nil
	case "help", "-h", "--help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printUsage() {
	fmt.Println(`sealguard - pre/post-install integrity checks

Usage:
  sealguard preflight --archive <path> --root <plane-root> [--json]
  sealguard postflight --root <plane-root> --package-id <id> [--json]
  sealguard drift-check --root <plane-root> [--json]
  sealguard quarantine --root <plane-root> --package-id <id> --reason <text> [--json]`)
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func resolvePlane(root string) *plane.Context {
	return &plane.Context{
		Type:         tier.HO2,
		Root:         root,
		InstalledDir: filepath.Join(root, "installed"),
		ReceiptsDir:  filepath.Join(root, "installed"),
	}
}

func printResult(result *sealguard.Result, root string, asJSON bool) error {
	logger := cliutil.NewLogger("sealguard")
	ctx := cliutil.InvocationContext(root, "")
	for _, c := range result.Checks {
		logger.LogGateResult(ctx, c.Name, c.Passed, "", 0)
	}

	return cliutil.PrintResult(result, asJSON, func() {
		for _, c := range result.Checks {
			status := "PASS"
			if !c.Passed {
				status = "FAIL"
			}
			fmt.Printf("%-22s %-4s %s\n", c.Name, status, c.Message)
		}
		if result.Passed {
			fmt.Println("result: PASS")
		} else {
			fmt.Println("result: FAIL")
			os.Exit(1)
		}
	})
}

func handlePreflight(args []string) error {
	fs := newFlagSet("preflight")
	archive := fs.String("archive", "", "archive path (required)")
	root := fs.String("root", "", "target plane root (required)")
	asJSON := fs.Bool("json", false, "emit JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *archive == "" || *root == "" {
		return fmt.Errorf("--archive and --root are required")
	}

	result, err := sealguard.Preflight(*archive, resolvePlane(*root), nil)
	if err != nil {
		return err
	}
	return printResult(result, *root, *asJSON)
}

func handlePostflight(args []string) error {
	fs := newFlagSet("postflight")
	root := fs.String("root", "", "plane root (required)")
	packageID := fs.String("package-id", "", "installed package id (required)")
	asJSON := fs.Bool("json", false, "emit JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *root == "" || *packageID == "" {
		return fmt.Errorf("--root and --package-id are required")
	}

	result, err := sealguard.Postflight(resolvePlane(*root), *packageID)
	if err != nil {
		return err
	}
	return printResult(result, *root, *asJSON)
}

func handleDriftCheck(args []string) error {
	fs := newFlagSet("drift-check")
	root := fs.String("root", "", "plane root (required)")
	asJSON := fs.Bool("json", false, "emit JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *root == "" {
		return fmt.Errorf("--root is required")
	}

	result, err := sealguard.DriftCheck(resolvePlane(*root))
	if err != nil {
		return err
	}
	return printResult(result, *root, *asJSON)
}

func handleQuarantine(args []string) error {
	fs := newFlagSet("quarantine")
	root := fs.String("root", "", "plane root (required)")
	packageID := fs.String("package-id", "", "package to quarantine (required)")
	reason := fs.String("reason", "", "quarantine reason (required)")
	asJSON := fs.Bool("json", false, "emit JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *root == "" || *packageID == "" || *reason == "" {
		return fmt.Errorf("--root, --package-id, and --reason are required")
	}

	ctx := resolvePlane(*root)
	ledgerPath := filepath.Join(*root, "ledger", "governance.jsonl")
	client, err := cliutil.OpenLedger(*root, ledgerPath)
	if err != nil {
		return err
	}
	defer client.Close()

	result, err := sealguard.Quarantine(ctx, *packageID, *reason, client)
	if err != nil {
		return err
	}
	return printResult(result, *root, *asJSON)
}
