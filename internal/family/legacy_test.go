package family

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLegacyTransformBodyMatchesClientStreamFlag(t *testing.T) {
	a := NewLegacy()
	out, err := a.TransformBody(TransformInput{Body: []byte(`{"model":"gpt-4"}`), ClientWantsStream: true})
	require.NoError(t, err)

	var obj map[string]any
	require.NoError(t, json.Unmarshal(out.Body, &obj))
	assert.Equal(t, true, obj["stream"])
	assert.Nil(t, out.ForceStream)
}

func TestLegacyTransformBodyForcesNonStreamingWithTools(t *testing.T) {
	a := NewLegacy()
	body := []byte(`{"model":"gpt-4","tools":[{"type":"function"}]}`)
	out, err := a.TransformBody(TransformInput{Body: body, ClientWantsStream: true})
	require.NoError(t, err)

	var obj map[string]any
	require.NoError(t, json.Unmarshal(out.Body, &obj))
	assert.Equal(t, false, obj["stream"])
	require.NotNil(t, out.ForceStream)
	assert.False(t, *out.ForceStream)
}

func TestLegacyTransformBodyAllowsToolsWithoutStreaming(t *testing.T) {
	a := NewLegacy()
	body := []byte(`{"model":"gpt-4","tools":[{"type":"function"}]}`)
	out, err := a.TransformBody(TransformInput{Body: body, ClientWantsStream: false})
	require.NoError(t, err)
	assert.Nil(t, out.ForceStream)

	var obj map[string]any
	require.NoError(t, json.Unmarshal(out.Body, &obj))
	assert.Equal(t, false, obj["stream"])
}

func TestLegacyUpstreamHeadersRefusesCompressionWhenStreaming(t *testing.T) {
	a := NewLegacy()
	assert.Equal(t, "identity", a.UpstreamHeaders(true).Get("Accept-Encoding"))
	assert.Empty(t, a.UpstreamHeaders(false).Get("Accept-Encoding"))
}
