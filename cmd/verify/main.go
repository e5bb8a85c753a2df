// Command verify runs the Verification Harness's four levels — gates,
// unit tests, import smoke, and an opt-in end-to-end smoke check — over
// an installed plane.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/control-plane/governor/internal/cliutil"
	"github.com/control-plane/governor/internal/plane"
	"github.com/control-plane/governor/internal/tier"
	"github.com/control-plane/governor/internal/verifyharness"
	"github.com/control-plane/governor/pkg/version"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	root := fs.String("root", "", "installed plane root (required)")
	gatesOnly := fs.Bool("gates-only", false, "run only the gates level")
	e2e := fs.Bool("e2e", false, "also run the opt-in end-to-end smoke level")
	apiKeyEnv := fs.String("e2e-key-env", "CONTROL_PLANE_E2E_KEY", "environment variable that gates the E2E level")
	e2eCmd := fs.String("e2e-cmd", "", "comma-separated argv of the command that drives one E2E round")
	importModules := fs.String("import-modules", "", "comma-separated Go import paths to smoke-check")
	asJSON := fs.Bool("json", false, "emit JSON")
	showVersion := fs.Bool("version", false, "print build information and exit")
	if err := fs.Parse(args); err != nil {
		cliutil.Fatalf("%v", err)
	}
	if *showVersion {
		fmt.Println(version.Banner("verify"))
		return 0
	}
	if *root == "" {
		fmt.Println(`Usage:
  verify --root <installed-plane-root> [--gates-only] [--e2e] [--e2e-key-env <name>] [--e2e-cmd <argv,...>] [--import-modules <path,...>] [--json]`)
		cliutil.Fatalf("--root is required")
	}

	ctx := &plane.Context{
		Type:         tier.HO2,
		Root:         *root,
		InstalledDir: filepath.Join(*root, "installed"),
		ReceiptsDir:  filepath.Join(*root, "installed"),
	}

	opts := verifyharness.Options{
		GatesOnly:     *gatesOnly,
		RunE2E:        *e2e,
		APIKeyEnvVar:  *apiKeyEnv,
		E2ECommand:    splitNonEmpty(*e2eCmd),
		ImportModules: splitNonEmpty(*importModules),
	}

	report, exitCode, err := verifyharness.Run(ctx, opts)
	if err != nil {
		cliutil.Fatalf("%v", err)
	}

	logger := cliutil.NewLogger("verify")
	logCtx := cliutil.InvocationContext(*root, "")
	for _, c := range report.Gates.Details {
		logger.LogGateResult(logCtx, c.Name, c.Passed, "", 0)
	}

	printErr := cliutil.PrintResult(report, *asJSON, func() {
		fmt.Printf("gates:   %s\n", report.Gates.Status)
		fmt.Printf("tests:   %s\n", report.Tests.Status)
		fmt.Printf("imports: %s\n", report.Imports.Status)
		fmt.Printf("e2e:     %s\n", report.E2E.Status)
		fmt.Printf("result:  %s\n", report.Result)
	})
	if printErr != nil {
		cliutil.Fatalf("%v", printErr)
	}

	return exitCode
}

func splitNonEmpty(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
