// Command cpplane manages plane lifecycle (tier creation, work-order and
// session instances) and chain operations (summarize-up, policy push and
// apply) over an already-governed directory tree.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/control-plane/governor/internal/chainops"
	"github.com/control-plane/governor/internal/cliutil"
	"github.com/control-plane/governor/internal/ledgerfactory"
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
	case "init-tier":
		return handleInitTier(args[1:])
	case "create-work-order":
		return handleCreateWorkOrder(args[1:])
	case "create-session":
		return handleCreateSession(args[1:])
	case "list-instances":
		return handleListInstances(args[1:])
	case "info":
		return handleInfo(args[1:])
	case "summarize-up":
		return handleSummarizeUp(args[1:])
	case "push-policy":
		return handlePushPolicy(args[1:])
	case "apply-policy":
		return handleApplyPolicy(args[1:])
	case "version", "--version":
		fmt.Println(version.Banner("cpplane"))
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
	fmt.Println(`cpplane - plane lifecycle and chain operations

Usage:
  cpplane init-tier --root <dir> --tier <HO3|HO2|HO1> [--parent-ledger <path>]
  cpplane create-work-order --root <dir> --id <work-order-id>
  cpplane create-session --root <dir> --id <session-id>
  cpplane list-instances --root <dir> [--json]
  cpplane info --root <dir> [--json]
  cpplane summarize-up --root <dir> [--json]
  cpplane push-policy --root <dir> --policy <id> --version <v> [--json]
  cpplane apply-policy --root <dir> --id <instance-id> [--json]`)
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func handleInitTier(args []string) error {
	fs := newFlagSet("init-tier")
	root := fs.String("root", "", "tier root directory (required)")
	tierName := fs.String("tier", "", "HO3, HO2, or HO1 (required)")
	parentLedger := fs.String("parent-ledger", "", "parent tier's ledger path, for genesis linkage")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *root == "" || *tierName == "" {
		return fmt.Errorf("--root and --tier are required")
	}
	name, ok := tier.Normalize(*tierName)
	if !ok {
		return fmt.Errorf("unrecognized tier %q", *tierName)
	}

	m, client, err := ledgerfactory.CreateTier(name, *root, ledgerfactory.CreateTierOptions{ParentLedger: *parentLedger})
	if err != nil {
		return err
	}
	defer client.Close()

	fmt.Printf("initialized %s tier at %s (ledger: %s)\n", m.Tier, *root, m.AbsoluteLedgerPath())
	return nil
}

func handleCreateWorkOrder(args []string) error {
	fs := newFlagSet("create-work-order")
	root := fs.String("root", "", "parent HO2 root (required)")
	id := fs.String("id", "", "work order id (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *root == "" || *id == "" {
		return fmt.Errorf("--root and --id are required")
	}

	m, client, err := ledgerfactory.CreateWorkOrderInstance(*root, *id)
	if err != nil {
		return err
	}
	defer client.Close()
	fmt.Printf("created work order %s at %s\n", *id, m.TierRoot())
	return nil
}

func handleCreateSession(args []string) error {
	fs := newFlagSet("create-session")
	root := fs.String("root", "", "parent HO1 root (required)")
	id := fs.String("id", "", "session id (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *root == "" || *id == "" {
		return fmt.Errorf("--root and --id are required")
	}

	m, client, err := ledgerfactory.CreateSessionInstance(*root, *id)
	if err != nil {
		return err
	}
	defer client.Close()
	fmt.Printf("created session %s at %s\n", *id, m.TierRoot())
	return nil
}

func handleListInstances(args []string) error {
	fs := newFlagSet("list-instances")
	root := fs.String("root", "", "base root (required)")
	asJSON := fs.Bool("json", false, "emit JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *root == "" {
		return fmt.Errorf("--root is required")
	}

	instances, err := ledgerfactory.ListInstances(*root)
	if err != nil {
		return err
	}

	return cliutil.PrintResult(instances, *asJSON, func() {
		for _, inst := range instances {
			fmt.Printf("%s\t%s\n", inst.ID, inst.Root)
		}
	})
}

func handleInfo(args []string) error {
	fs := newFlagSet("info")
	root := fs.String("root", "", "tier root (required)")
	asJSON := fs.Bool("json", false, "emit JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *root == "" {
		return fmt.Errorf("--root is required")
	}

	m, err := tier.Load(*root)
	if err != nil {
		return err
	}

	return cliutil.PrintResult(m, *asJSON, func() {
		fmt.Printf("tier:        %s\n", m.Tier)
		fmt.Printf("root:        %s\n", m.TierRoot())
		fmt.Printf("ledger:      %s\n", m.AbsoluteLedgerPath())
		if m.WorkOrderID != "" {
			fmt.Printf("work order:  %s\n", m.WorkOrderID)
		}
		if m.SessionID != "" {
			fmt.Printf("session:     %s\n", m.SessionID)
		}
	})
}

func handleSummarizeUp(args []string) error {
	fs := newFlagSet("summarize-up")
	root := fs.String("root", "", "parent tier root (required)")
	asJSON := fs.Bool("json", false, "emit JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *root == "" {
		return fmt.Errorf("--root is required")
	}

	m, err := tier.Load(*root)
	if err != nil {
		return err
	}
	client, err := cliutil.OpenLedger(*root, m.AbsoluteLedgerPath())
	if err != nil {
		return err
	}
	defer client.Close()

	result, err := chainops.SummarizeUp(*root, client)
	if err != nil {
		return err
	}

	logger := cliutil.NewLogger("cpplane")
	logCtx := cliutil.InvocationContext(*root, string(m.Tier))
	for _, r := range result.Results {
		logger.LogChainOp(logCtx, "summarize_up", r.Instance, r.Status == "summarized")
	}

	return cliutil.PrintResult(result, *asJSON, func() {
		fmt.Printf("summarized: %d, skipped: %d\n", result.Summarized, result.Skipped)
	})
}

func handlePushPolicy(args []string) error {
	fs := newFlagSet("push-policy")
	root := fs.String("root", "", "parent tier root (required)")
	policyID := fs.String("policy", "", "policy id (required)")
	version := fs.String("version", "", "policy version (required)")
	asJSON := fs.Bool("json", false, "emit JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *root == "" || *policyID == "" || *version == "" {
		return fmt.Errorf("--root, --policy, and --version are required")
	}

	result, err := chainops.PushPolicy(*root, *policyID, *version)
	if err != nil {
		return err
	}

	logger := cliutil.NewLogger("cpplane")
	logCtx := cliutil.InvocationContext(*root, "")
	for _, r := range result.Results {
		logger.LogChainOp(logCtx, "push_policy", r.Instance, r.Status == "pushed")
	}

	return cliutil.PrintResult(result, *asJSON, func() {
		fmt.Printf("pushed: %d, skipped: %d\n", result.Pushed, result.Skipped)
	})
}

func handleApplyPolicy(args []string) error {
	fs := newFlagSet("apply-policy")
	root := fs.String("root", "", "instance root (required)")
	id := fs.String("id", "", "instance id, for the applied-policy ledger record (required)")
	asJSON := fs.Bool("json", false, "emit JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *root == "" || *id == "" {
		return fmt.Errorf("--root and --id are required")
	}

	m, err := tier.Load(*root)
	if err != nil {
		return err
	}
	client, err := cliutil.OpenLedger(*root, m.AbsoluteLedgerPath())
	if err != nil {
		return err
	}
	defer client.Close()

	result, err := chainops.ApplyPolicy(*root, client, *id)
	if err != nil {
		return err
	}

	logger := cliutil.NewLogger("cpplane")
	logCtx := cliutil.InvocationContext(*root, string(m.Tier))
	for _, r := range result.Results {
		logger.LogChainOp(logCtx, "apply_policy", r.PolicyID+":"+r.Version, r.Status == "applied")
	}

	return cliutil.PrintResult(result, *asJSON, func() {
		fmt.Printf("applied: %d, skipped: %d\n", result.Applied, result.Skipped)
	})
}
