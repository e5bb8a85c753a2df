package chainops

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/control-plane/governor/internal/ledger"
	"github.com/control-plane/governor/internal/ledgerfactory"
	"github.com/control-plane/governor/internal/tier"
)

func newParentWithChild(t *testing.T) (parentRoot string, parentClient *ledger.Client, childID string) {
	t.Helper()
	parentRoot = t.TempDir()
	_, pClient, err := ledgerfactory.CreateTier(tier.HO2, parentRoot, ledgerfactory.CreateTierOptions{})
	require.NoError(t, err)

	_, woClient, err := ledgerfactory.CreateWorkOrderInstance(parentRoot, "WO-1")
	require.NoError(t, err)

	e := ledger.NewEntry("PACKAGE_BUILD", "PKG-A", "PASSED", "built")
	_, err = woClient.Write(e)
	require.NoError(t, err)
	require.NoError(t, woClient.Flush())
	require.NoError(t, woClient.Close())

	return parentRoot, pClient, "WO-1"
}

func TestSummarizeUp_WritesSummaryEntryForChild(t *testing.T) {
	parentRoot, parentClient, childID := newParentWithChild(t)
	defer parentClient.Close()

	result, err := SummarizeUp(parentRoot, parentClient)
	require.NoError(t, err)
	require.Equal(t, 1, result.Summarized)
	require.Equal(t, childID, result.Results[0].Instance)

	entries, err := parentClient.ReadAll()
	require.NoError(t, err)

	var sawSummary bool
	for _, e := range entries {
		if e.EventType == "SUMMARY_UP" {
			sawSummary = true
		}
	}
	require.True(t, sawSummary)
}

func TestSummarizeUp_SecondRunSkipsAlreadySummarized(t *testing.T) {
	parentRoot, parentClient, _ := newParentWithChild(t)
	defer parentClient.Close()

	_, err := SummarizeUp(parentRoot, parentClient)
	require.NoError(t, err)

	second, err := SummarizeUp(parentRoot, parentClient)
	require.NoError(t, err)
	require.Equal(t, 0, second.Summarized)
	require.Equal(t, 1, second.Skipped)
	require.Equal(t, "no_new_entries", second.Results[0].Reason)
}

func TestPushPolicy_PushesToChildAndIsIdempotent(t *testing.T) {
	parentRoot, parentClient, childID := newParentWithChild(t)
	defer parentClient.Close()

	result, err := PushPolicy(parentRoot, "POL-1", "1.0")
	require.NoError(t, err)
	require.Equal(t, 1, result.Pushed)
	require.Equal(t, childID, result.Results[0].Instance)

	second, err := PushPolicy(parentRoot, "POL-1", "1.0")
	require.NoError(t, err)
	require.Equal(t, 0, second.Pushed)
	require.Equal(t, 1, second.Skipped)
}

func TestApplyPolicy_AppliesPushedPolicyAndIsIdempotent(t *testing.T) {
	parentRoot, parentClient, childID := newParentWithChild(t)
	defer parentClient.Close()

	_, err := PushPolicy(parentRoot, "POL-1", "1.0")
	require.NoError(t, err)

	childRoot := filepath.Join(parentRoot, "work_orders", childID)
	childManifest, err := tier.Load(childRoot)
	require.NoError(t, err)

	childClient, err := ledger.New(childRoot, childManifest.AbsoluteLedgerPath(), ledger.Options{EnableIndex: false, BatchSize: 1})
	require.NoError(t, err)
	defer childClient.Close()

	result, err := ApplyPolicy(childRoot, childClient, childID)
	require.NoError(t, err)
	require.Equal(t, 1, result.Applied)
	require.Equal(t, "POL-1", result.Results[0].PolicyID)

	second, err := ApplyPolicy(childRoot, childClient, childID)
	require.NoError(t, err)
	require.Equal(t, 0, second.Applied)
	require.Equal(t, 1, second.Skipped)
	require.Equal(t, "already_applied", second.Results[0].Reason)
}
