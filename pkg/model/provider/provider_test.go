package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wincontrol/deskagent/pkg/config"
	"github.com/wincontrol/deskagent/pkg/environment"
)

func TestNew(t *testing.T) {
	t.Parallel()

	env := environment.MapProvider{"DESKAGENT_API_KEY": "sk-test"}

	prov, err := New(t.Context(), &config.ModelConfig{Model: "qwen-vl-max", BaseURL: "http://localhost:8000/v1"}, env)
	require.NoError(t, err)
	assert.Equal(t, "openai/qwen-vl-max", prov.ID())
}

func TestNewWithoutConfig(t *testing.T) {
	t.Parallel()

	prov, err := New(t.Context(), nil, environment.MapProvider{})
	require.ErrorContains(t, err, "model configuration is required")
	assert.Nil(t, prov)
}
