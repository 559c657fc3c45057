package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONSchemaValidator(t *testing.T) {
	v := NewJSONSchemaValidator()
	require.NoError(t, v.LoadSchema("reading", `{
		"type": "object",
		"required": ["code", "level"],
		"properties": {
			"code": {"type": "string", "minLength": 1},
			"level": {"type": "integer", "minimum": 0, "maximum": 5}
		}
	}`))

	assert.NoError(t, v.Validate("reading", []byte(`{"code":"KKS-A","level":3}`)))

	err := v.Validate("reading", []byte(`{"code":"","level":7}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "code")
	assert.Contains(t, err.Error(), "level")

	err = v.Validate("reading", []byte(`not json`))
	assert.ErrorIs(t, err, ErrValidation)

	err = v.Validate("missing", []byte(`{}`))
	assert.ErrorContains(t, err, "schema missing not found")

	assert.Error(t, v.LoadSchema("broken", `{"type": 12}`))
	assert.Panics(t, func() { v.MustLoadSchema("broken", `{"type": 12}`) })
}
