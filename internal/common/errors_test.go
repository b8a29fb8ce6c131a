package common

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationError_MatchesSentinel(t *testing.T) {
	err := fmt.Errorf("resolve: %w", NewValidationError("direction", "d1", "pixel_id", "required for site_leads"))

	assert.ErrorIs(t, err, ErrValidation)

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "pixel_id", ve.Field)
	assert.Equal(t, "resolve: invalid direction d1: pixel_id: required for site_leads", err.Error())
}

func TestValidationError_WithoutID(t *testing.T) {
	err := NewValidationError("creative input", "", "media", "no media assets")
	assert.Equal(t, "invalid creative input: media: no media assets", err.Error())
	assert.False(t, errors.Is(err, ErrorNotFound))
}
