package family

import (
	"encoding/json"
	"testing"

	"clproxy/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodexTransformBodyPrunesUnknownKeys(t *testing.T) {
	a := NewCodex()
	body := []byte(`{"model":"gpt-5","input":"hi","max_output_tokens":100,"service_tier":"flex"}`)
	out, err := a.TransformBody(TransformInput{Body: body})
	require.NoError(t, err)

	var obj map[string]any
	require.NoError(t, json.Unmarshal(out.Body, &obj))
	_, hasMaxTokens := obj["max_output_tokens"]
	_, hasServiceTier := obj["service_tier"]
	assert.False(t, hasMaxTokens)
	assert.False(t, hasServiceTier)
	assert.Equal(t, "gpt-5", obj["model"])
}

func TestCodexTransformBodyBackfillsDefaults(t *testing.T) {
	a := NewCodex()
	out, err := a.TransformBody(TransformInput{Body: []byte(`{"model":"gpt-5"}`)})
	require.NoError(t, err)

	var obj map[string]any
	require.NoError(t, json.Unmarshal(out.Body, &obj))
	assert.Equal(t, false, obj["store"])
	assert.Equal(t, true, obj["stream"])
	assert.Equal(t, codexFullInstructions, obj["instructions"])
	text := obj["text"].(map[string]any)
	format := text["format"].(map[string]any)
	assert.Equal(t, "text", format["type"])
}

func TestCodexTransformBodyAppliesPerModelReasoningDefaults(t *testing.T) {
	a := NewCodex()
	settings := &model.SystemSettings{
		EffortByModel:    map[string]string{"gpt-5": "high"},
		VerbosityByModel: map[string]string{"gpt-5": "low"},
		SummaryByModel:   map[string]string{"gpt-5": "auto"},
	}
	out, err := a.TransformBody(TransformInput{Body: []byte(`{"model":"gpt-5"}`), Settings: settings})
	require.NoError(t, err)

	var obj map[string]any
	require.NoError(t, json.Unmarshal(out.Body, &obj))
	reasoning := obj["reasoning"].(map[string]any)
	assert.Equal(t, "high", reasoning["effort"])
	assert.Equal(t, "auto", reasoning["summary"])
	text := obj["text"].(map[string]any)
	assert.Equal(t, "low", text["verbosity"])
}

func TestCodexTransformBodyDoesNotOverrideExplicitInstructions(t *testing.T) {
	a := NewCodex()
	out, err := a.TransformBody(TransformInput{Body: []byte(`{"model":"gpt-5","instructions":"custom"}`)})
	require.NoError(t, err)

	var obj map[string]any
	require.NoError(t, json.Unmarshal(out.Body, &obj))
	assert.Equal(t, "custom", obj["instructions"])
}

func TestCodexUpstreamHeadersRefusesCompressionWhenStreaming(t *testing.T) {
	a := NewCodex()
	assert.Equal(t, "identity", a.UpstreamHeaders(true).Get("Accept-Encoding"))
	assert.Empty(t, a.UpstreamHeaders(false).Get("Accept-Encoding"))
}
