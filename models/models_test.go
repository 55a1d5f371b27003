package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActionTypeIsKnown(t *testing.T) {
	for _, at := range KnownActionTypes {
		assert.True(t, at.IsKnown(), string(at))
	}
	assert.False(t, ActionType("format_disk").IsKnown())
	assert.False(t, ActionType("").IsKnown())
}

func TestSchemaFor(t *testing.T) {
	t.Run("write_file schema", func(t *testing.T) {
		schema, ok := SchemaFor(ActionWriteFile)
		require.True(t, ok)

		path, ok := schema.Field("path")
		require.True(t, ok)
		assert.True(t, path.Required)
		assert.True(t, path.PathLike)

		content, ok := schema.Field("content")
		require.True(t, ok)
		assert.True(t, content.Required)
		assert.False(t, content.PathLike)
	})

	t.Run("unknown action has no schema", func(t *testing.T) {
		_, ok := SchemaFor(ActionType("spawn_process"))
		assert.False(t, ok)
	})

	t.Run("unknown field lookup", func(t *testing.T) {
		schema, ok := SchemaFor(ActionReadFile)
		require.True(t, ok)
		_, ok = schema.Field("mode")
		assert.False(t, ok)
	})
}

func TestNewActionRequest(t *testing.T) {
	req := NewActionRequest("agent1", ActionReadFile, map[string]string{"path": "/workspace/a.txt"})

	assert.NotEqual(t, uuid.Nil, req.RequestID)
	assert.Equal(t, "agent1", req.ActorID)
	assert.Equal(t, ActionReadFile, req.ActionType)
	assert.False(t, req.Timestamp.IsZero())

	v, ok := req.Param("path")
	require.True(t, ok)
	assert.Equal(t, "/workspace/a.txt", v)

	_, ok = req.Param("content")
	assert.False(t, ok)
}

func TestDecisionConstructors(t *testing.T) {
	id := uuid.New()

	deny := NewDenial(id, ReasonRateLimit, "window exhausted", RiskScore{Value: 10, Level: RiskLow})
	assert.Equal(t, VerdictDeny, deny.Verdict)
	assert.Equal(t, ReasonRateLimit, deny.ReasonCode)
	assert.False(t, deny.Allowed())

	allow := NewAllowance(id, RiskScore{Value: 5, Level: RiskLow})
	assert.Equal(t, VerdictAllow, allow.Verdict)
	assert.Equal(t, ReasonOK, allow.ReasonCode)
	assert.True(t, allow.Allowed())
}

func TestLevelFor(t *testing.T) {
	tests := []struct {
		score int
		want  RiskLevel
	}{
		{0, RiskLow},
		{39, RiskLow},
		{40, RiskMedium},
		{69, RiskMedium},
		{70, RiskHigh},
		{100, RiskHigh},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LevelFor(tt.score), "score %d", tt.score)
	}
}
