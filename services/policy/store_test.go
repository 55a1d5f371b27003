package policy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zerotrust-labs/agent-gate/models"
	"go.uber.org/zap"
)

const testPolicyYAML = `
version: 1
rules:
  - action: read_file
    allowed: true
    sensitivity_weight: 10
  - action: write_file
    allowed: true
    sensitivity_weight: 20
    constraints:
      - name: workspace_only
        expr: 'params.path.startsWith("/workspace")'
    limits:
      requests: 5
      period: 30s
  - action: delete_file
    allowed: false
    sensitivity_weight: 40
`

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(zap.NewNop())
	require.NoError(t, err)
	return store
}

func loadTestPolicy(t *testing.T, store *Store) {
	t.Helper()
	doc, err := ParseDocument([]byte(testPolicyYAML))
	require.NoError(t, err)
	require.NoError(t, store.LoadDocument(doc))
}

func TestParseDocument(t *testing.T) {
	doc, err := ParseDocument([]byte(testPolicyYAML))
	require.NoError(t, err)
	require.Len(t, doc.Rules, 3)

	write := doc.Rules[1]
	assert.Equal(t, models.ActionWriteFile, write.Action)
	assert.True(t, write.Allowed)
	require.NotNil(t, write.Limits)
	assert.Equal(t, 5, write.Limits.Requests)
	assert.Equal(t, 30*time.Second, write.Limits.Period)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testPolicyYAML), 0o600))

	store := newTestStore(t)
	require.NoError(t, store.LoadFile(path))

	snap := store.Current()
	_, ok := snap.Rule(models.ActionReadFile)
	assert.True(t, ok)
	assert.Equal(t, uint64(1), snap.Version)
}

func TestEvaluate(t *testing.T) {
	store := newTestStore(t)
	loadTestPolicy(t, store)
	snap := store.Current()

	t.Run("allowed action", func(t *testing.T) {
		req := models.NewActionRequest("agent1", models.ActionReadFile, map[string]string{"path": "/workspace/a.txt"})
		res := store.Evaluate(snap, req)
		assert.True(t, res.RuleFound)
		assert.True(t, res.Allowed)
		assert.Equal(t, 10, res.SensitivityWeight)
	})

	t.Run("constraint satisfied", func(t *testing.T) {
		req := models.NewActionRequest("agent1", models.ActionWriteFile, map[string]string{
			"path":    "/workspace/notes.txt",
			"content": "hi",
		})
		res := store.Evaluate(snap, req)
		assert.True(t, res.Allowed)
		assert.Empty(t, res.FailedConstraint)
	})

	t.Run("constraint violated", func(t *testing.T) {
		req := models.NewActionRequest("agent1", models.ActionWriteFile, map[string]string{
			"path":    "/tmp/notes.txt",
			"content": "hi",
		})
		res := store.Evaluate(snap, req)
		assert.True(t, res.RuleFound)
		assert.False(t, res.Allowed)
		assert.Equal(t, "workspace_only", res.FailedConstraint)
	})

	t.Run("constraint referencing missing key fails closed", func(t *testing.T) {
		req := models.NewActionRequest("agent1", models.ActionWriteFile, map[string]string{"content": "hi"})
		res := store.Evaluate(snap, req)
		assert.False(t, res.Allowed)
		assert.Equal(t, "workspace_only", res.FailedConstraint)
	})

	t.Run("explicitly denied action", func(t *testing.T) {
		req := models.NewActionRequest("agent1", models.ActionDeleteFile, map[string]string{"path": "/workspace/a.txt"})
		res := store.Evaluate(snap, req)
		assert.True(t, res.RuleFound)
		assert.False(t, res.Allowed)
		assert.Equal(t, 40, res.SensitivityWeight)
	})

	t.Run("unknown action is implicit deny", func(t *testing.T) {
		req := models.NewActionRequest("agent1", models.ActionListDir, map[string]string{"path": "/workspace"})
		res := store.Evaluate(snap, req)
		assert.False(t, res.RuleFound)
		assert.False(t, res.Allowed)
	})
}

func TestLoadDocumentRejectsBadConstraints(t *testing.T) {
	store := newTestStore(t)
	loadTestPolicy(t, store)
	before := store.Current()

	bad := &models.PolicyDocument{
		Version: 2,
		Rules: []models.PolicyRule{{
			Action:  models.ActionReadFile,
			Allowed: true,
			Constraints: []models.Constraint{{
				Name: "broken",
				Expr: "params.path.startsWith(",
			}},
		}},
	}
	err := store.LoadDocument(bad)
	require.Error(t, err)

	// Failed reload leaves the previous snapshot live
	assert.Same(t, before, store.Current())
}

func TestLoadDocumentRejectsNonBoolConstraint(t *testing.T) {
	store := newTestStore(t)
	err := store.LoadDocument(&models.PolicyDocument{
		Rules: []models.PolicyRule{{
			Action:      models.ActionReadFile,
			Allowed:     true,
			Constraints: []models.Constraint{{Name: "size", Expr: `params.size`}},
		}},
	})
	assert.Error(t, err)
}

func TestLoadDocumentRejectsDuplicates(t *testing.T) {
	store := newTestStore(t)
	err := store.LoadDocument(&models.PolicyDocument{
		Rules: []models.PolicyRule{
			{Action: models.ActionReadFile, Allowed: true},
			{Action: models.ActionReadFile, Allowed: false},
		},
	})
	assert.Error(t, err)
}

func TestSnapshotVersionIncrements(t *testing.T) {
	store := newTestStore(t)
	loadTestPolicy(t, store)
	assert.Equal(t, uint64(1), store.Current().Version)
	loadTestPolicy(t, store)
	assert.Equal(t, uint64(2), store.Current().Version)
}
