package usage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseClaudeJSON(t *testing.T) {
	body := []byte(`{"usage":{"input_tokens":100,"cache_creation_input_tokens":10,"cache_read_input_tokens":5,"output_tokens":20}}`)
	m := Parse(FamilyClaude, body)
	assert.Equal(t, int64(100), m.Input)
	assert.Equal(t, int64(10), m.CachedCreate)
	assert.Equal(t, int64(5), m.CachedRead)
	assert.Equal(t, int64(20), m.Output)
	assert.Equal(t, int64(120), m.Total)
}

func TestParseClaudeSSELastEventWins(t *testing.T) {
	body := []byte("event: message_delta\n" +
		"data: {\"usage\":{\"input_tokens\":1,\"output_tokens\":1}}\n\n" +
		"event: message_stop\n" +
		"data: {\"usage\":{\"input_tokens\":50,\"output_tokens\":30}}\n\n" +
		"data: [DONE]\n\n")
	m := Parse(FamilyClaude, body)
	assert.Equal(t, int64(50), m.Input)
	assert.Equal(t, int64(30), m.Output)
}

func TestParseCodexJSONWithDetails(t *testing.T) {
	body := []byte(`{"response":{"usage":{"input_tokens":200,"output_tokens":40,"input_tokens_details":{"cached_tokens":15},"output_tokens_details":{"reasoning_tokens":8}}}}`)
	m := Parse(FamilyCodex, body)
	assert.Equal(t, int64(200), m.Input)
	assert.Equal(t, int64(40), m.Output)
	assert.Equal(t, int64(15), m.CachedRead)
	assert.Equal(t, int64(8), m.Reasoning)
}

func TestDisplayInputExcludesCachedRead(t *testing.T) {
	m := Parse(FamilyCodex, []byte(`{"usage":{"input_tokens":200,"input_tokens_details":{"cached_tokens":15}}}`))
	assert.Equal(t, int64(200-15), DisplayInput(m))
}

func TestParseLegacyJSON(t *testing.T) {
	body := []byte(`{"usage":{"prompt_tokens":30,"completion_tokens":10,"total_tokens":40}}`)
	m := Parse(FamilyLegacy, body)
	assert.Equal(t, int64(30), m.Input)
	assert.Equal(t, int64(10), m.Output)
	assert.Equal(t, int64(40), m.Total)
}

func TestParseLegacyMissingTotalSumsInputOutput(t *testing.T) {
	body := []byte(`{"usage":{"prompt_tokens":30,"completion_tokens":10}}`)
	m := Parse(FamilyLegacy, body)
	assert.Equal(t, int64(40), m.Total)
}

func TestParseMalformedBodyYieldsZeros(t *testing.T) {
	m := Parse(FamilyClaude, []byte(`not json at all`))
	assert.Equal(t, int64(0), m.Total)
}

func TestParseEmptyBodyYieldsZeros(t *testing.T) {
	m := Parse(FamilyClaude, nil)
	assert.Equal(t, int64(0), m.Total)
}

func TestParseNoUsageObjectYieldsZeros(t *testing.T) {
	m := Parse(FamilyClaude, []byte(`{"foo":"bar"}`))
	assert.Equal(t, int64(0), m.Total)
}
