package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"clproxy/internal/model"
)

func TestApplyReplace(t *testing.T) {
	e := New(model.FilterDocument{
		{Source: "sk-live-XYZ", Op: model.FilterOpReplace, Target: "sk-***"},
	})
	out := e.Apply([]byte(`{"key":"sk-live-XYZ"}`))
	assert.Equal(t, `{"key":"sk-***"}`, string(out))
}

func TestApplyRemove(t *testing.T) {
	e := New(model.FilterDocument{
		{Source: "DEBUG:", Op: model.FilterOpRemove},
	})
	out := e.Apply([]byte(`DEBUG: hello`))
	assert.Equal(t, ` hello`, string(out))
}

func TestApplyOrderMatters(t *testing.T) {
	e := New(model.FilterDocument{
		{Source: "a", Op: model.FilterOpReplace, Target: "b"},
		{Source: "b", Op: model.FilterOpReplace, Target: "c"},
	})
	out := e.Apply([]byte("a"))
	assert.Equal(t, "c", string(out))
}

func TestApplyIdempotentOnNonMatchingInput(t *testing.T) {
	e := New(model.FilterDocument{
		{Source: "secret", Op: model.FilterOpReplace, Target: "***"},
	})
	in := []byte("nothing to see here")
	out := e.Apply(in)
	assert.Equal(t, string(in), string(out))
}

func TestEmptySourceRulesAreSkipped(t *testing.T) {
	e := New(model.FilterDocument{
		{Source: "", Op: model.FilterOpReplace, Target: "whatever"},
	})
	assert.Empty(t, e.Rules())
	out := e.Apply([]byte("unchanged"))
	assert.Equal(t, "unchanged", string(out))
}

func TestApplyMultipleOccurrences(t *testing.T) {
	e := New(model.FilterDocument{
		{Source: "x", Op: model.FilterOpRemove},
	})
	out := e.Apply([]byte("xaxbxcx"))
	assert.Equal(t, "abc", string(out))
}
