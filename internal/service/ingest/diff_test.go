package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ledgermodel "neoledger/internal/model/ledger"
)

func canonicalWithFields(fields map[string]interface{}, outgoing []interface{}) map[string]interface{} {
	wrapped := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		wrapped[k] = wrapFieldTree(v)
	}
	return map[string]interface{}{
		"version":   CanonicalVersion,
		"fields":    wrapped,
		"relations": map[string]interface{}{"outgoing": outgoing},
	}
}

func wrapFieldTree(value interface{}) interface{} {
	if obj, ok := value.(map[string]interface{}); ok {
		out := make(map[string]interface{}, len(obj))
		for k, child := range obj {
			out[k] = wrapFieldTree(child)
		}
		return out
	}
	return map[string]interface{}{"value": value, "sources": []interface{}{}}
}

func TestComputeCollectChangedSummary_NoChangesReturnsNil(t *testing.T) {
	fields := map[string]interface{}{
		"identity": map[string]interface{}{"hostname": "web01"},
		"os":       map[string]interface{}{"version": "22.04"},
	}
	prev := canonicalWithFields(fields, nil)
	next := canonicalWithFields(fields, nil)

	assert.Nil(t, ComputeCollectChangedSummary(ledgermodel.AssetTypeVM, prev, next, 0, 0))
}

func TestComputeCollectChangedSummary_DetectsKeyPathChange(t *testing.T) {
	prev := canonicalWithFields(map[string]interface{}{
		"os": map[string]interface{}{"version": "22.04"},
	}, nil)
	next := canonicalWithFields(map[string]interface{}{
		"os": map[string]interface{}{"version": "24.04"},
	}, nil)

	summary := ComputeCollectChangedSummary(ledgermodel.AssetTypeVM, prev, next, 0, 0)
	require.NotNil(t, summary)
	require.Len(t, summary.Changes, 1)
	assert.Equal(t, "os.version", summary.Changes[0].Path)
	assert.Equal(t, "22.04", summary.Changes[0].Before)
	assert.Equal(t, "24.04", summary.Changes[0].After)
}

func TestComputeCollectChangedSummary_IgnoresNonKeyPaths(t *testing.T) {
	prev := canonicalWithFields(map[string]interface{}{
		"attributes": map[string]interface{}{"annotation": "old note"},
	}, nil)
	next := canonicalWithFields(map[string]interface{}{
		"attributes": map[string]interface{}{"annotation": "new note"},
	}, nil)

	assert.Nil(t, ComputeCollectChangedSummary(ledgermodel.AssetTypeVM, prev, next, 0, 0))
}

func TestComputeCollectChangedSummary_SummarizesStringArrays(t *testing.T) {
	prev := canonicalWithFields(map[string]interface{}{
		"network": map[string]interface{}{"ip_addresses": []interface{}{"10.0.0.2", "10.0.0.1", "10.0.0.1"}},
	}, nil)
	next := canonicalWithFields(map[string]interface{}{
		"network": map[string]interface{}{"ip_addresses": []interface{}{"10.0.0.3"}},
	}, nil)

	summary := ComputeCollectChangedSummary(ledgermodel.AssetTypeVM, prev, next, 0, 0)
	require.NotNil(t, summary)
	require.Len(t, summary.Changes, 1)
	assert.Equal(t, "10.0.0.1;10.0.0.2", summary.Changes[0].Before)
	assert.Equal(t, "10.0.0.3", summary.Changes[0].After)
}

func TestComputeCollectChangedSummary_FieldLimit(t *testing.T) {
	prev := canonicalWithFields(map[string]interface{}{
		"identity": map[string]interface{}{"hostname": "a", "caption": "b"},
		"os":       map[string]interface{}{"name": "x", "version": "1", "fingerprint": "f1"},
	}, nil)
	next := canonicalWithFields(map[string]interface{}{
		"identity": map[string]interface{}{"hostname": "a2", "caption": "b2"},
		"os":       map[string]interface{}{"name": "y", "version": "2", "fingerprint": "f2"},
	}, nil)

	summary := ComputeCollectChangedSummary(ledgermodel.AssetTypeVM, prev, next, 2, 3)
	require.NotNil(t, summary)
	assert.Len(t, summary.Changes, 2)
}

func TestComputeCollectChangedSummary_RelationChanges(t *testing.T) {
	prev := canonicalWithFields(map[string]interface{}{}, []interface{}{
		map[string]interface{}{
			"type": "runs_on",
			"to":   map[string]interface{}{"asset_uuid": "host-uuid-1"},
		},
	})
	next := canonicalWithFields(map[string]interface{}{}, []interface{}{
		map[string]interface{}{
			"type": "runs_on",
			"to":   map[string]interface{}{"asset_uuid": "host-uuid-2"},
		},
	})

	summary := ComputeCollectChangedSummary(ledgermodel.AssetTypeVM, prev, next, 0, 0)
	require.NotNil(t, summary)
	require.Len(t, summary.RelationChanges, 1)
	assert.Equal(t, "runs_on", summary.RelationChanges[0].Type)
	assert.Equal(t, "host-uuid-1", summary.RelationChanges[0].Before)
	assert.Equal(t, "host-uuid-2", summary.RelationChanges[0].After)
}

func TestSummarizeValue_TruncatesLongObjects(t *testing.T) {
	long := map[string]interface{}{"blob": strings.Repeat("x", 500)}
	got := summarizeValue(long)
	assert.Len(t, []rune(got), 201)
	assert.True(t, strings.HasSuffix(got, "…"))
}

func TestStableStringify_KeyOrderIndependent(t *testing.T) {
	a := map[string]interface{}{"x": 1, "y": []interface{}{"b", "a"}}
	b := map[string]interface{}{"y": []interface{}{"b", "a"}, "x": 1}
	assert.Equal(t, stableStringify(a), stableStringify(b))
}
