package utils

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleDTO struct {
	ActorID string `validate:"required,max=8"`
	Action  string `validate:"required,oneof=read_file write_file"`
}

func TestValidateStruct(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, ValidateStruct(&sampleDTO{ActorID: "agent1", Action: "read_file"}))
	})

	t.Run("missing required field", func(t *testing.T) {
		err := ValidateStruct(&sampleDTO{Action: "read_file"})
		require.Error(t, err)

		var verr *ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Contains(t, verr.Fields, "ActorID")
		assert.Contains(t, verr.Fields["ActorID"], "required")
	})

	t.Run("oneof violation", func(t *testing.T) {
		err := ValidateStruct(&sampleDTO{ActorID: "agent1", Action: "launch_rocket"})
		require.Error(t, err)

		var verr *ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Contains(t, verr.Fields["Action"], "must be one of")
	})

	t.Run("max violation", func(t *testing.T) {
		err := ValidateStruct(&sampleDTO{ActorID: "way-too-long-actor", Action: "read_file"})
		var verr *ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Contains(t, verr.Fields, "ActorID")
	})
}

func TestValidationErrorDetails(t *testing.T) {
	err := ValidateStruct(&sampleDTO{})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))

	details := verr.Details()
	assert.Len(t, details, 2)
	assert.Equal(t, "Validation failed", verr.Error())
}
