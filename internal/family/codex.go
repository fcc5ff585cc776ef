package family

import (
	"net/http"

	"clproxy/internal/model"
)

// codexAllowedKeys is the set of top-level fields Codex's Responses API
// accepts; anything else (e.g. max_output_tokens, service_tier, leftovers
// from a client written against a different API) is pruned rather than
// risk an upstream 400.
var codexAllowedKeys = map[string]bool{
	"model": true, "instructions": true, "input": true, "tool_choice": true,
	"parallel_tool_calls": true, "reasoning": true, "store": true, "stream": true,
	"include": true, "prompt_cache_key": true, "tools": true, "text": true,
	"messages": true, "metadata": true, "previous_response_id": true,
}

const codexFullInstructions = "You are Codex, a coding agent based on the GPT-5 model."

// codexAdapter speaks the OpenAI Responses wire format.
type codexAdapter struct{}

// NewCodex returns the Codex family adapter.
func NewCodex() Adapter { return codexAdapter{} }

func (codexAdapter) Name() Name { return Codex }

func (codexAdapter) CanonicalPath() string { return "/v1/responses" }

func (codexAdapter) NormalizePath(path string) (string, bool) { return path, false }

// TransformBody prunes fields the Responses API rejects, backfills
// instructions/store/stream defaults, and applies the operator's per-model
// reasoning effort/verbosity/summary preferences.
func (codexAdapter) TransformBody(in TransformInput) (TransformResult, error) {
	obj, err := decodeObject(in.Body)
	if err != nil {
		return TransformResult{}, err
	}

	for k := range obj {
		if !codexAllowedKeys[k] {
			delete(obj, k)
		}
	}

	if v, ok := obj["instructions"]; !ok || v == "" {
		obj["instructions"] = codexFullInstructions
	}
	if _, ok := obj["store"]; !ok {
		obj["store"] = false
	}
	if _, ok := obj["stream"]; !ok {
		obj["stream"] = true
	}

	model, _ := obj["model"].(string)
	applyCodexTextSettings(obj, in.Settings, model)
	applyCodexReasoning(obj, in.Settings, model)

	body, err := encodeObject(obj)
	if err != nil {
		return TransformResult{}, err
	}
	return TransformResult{Body: body}, nil
}

func applyCodexTextSettings(obj map[string]any, settings *model.SystemSettings, modelName string) {
	text, ok := obj["text"].(map[string]any)
	if !ok {
		text = map[string]any{}
	}
	if _, ok := text["format"]; !ok {
		text["format"] = map[string]any{"type": "text"}
	}
	if _, ok := text["verbosity"]; !ok && settings != nil {
		if v, ok := settings.VerbosityByModel[modelName]; ok {
			text["verbosity"] = v
		}
	}
	obj["text"] = text
}

func applyCodexReasoning(obj map[string]any, settings *model.SystemSettings, modelName string) {
	if settings == nil {
		return
	}
	effort, hasEffort := settings.EffortByModel[modelName]
	summary, hasSummary := settings.SummaryByModel[modelName]
	if !hasEffort && !hasSummary {
		return
	}
	reasoning, ok := obj["reasoning"].(map[string]any)
	if !ok {
		reasoning = map[string]any{}
	}
	if hasEffort {
		if _, ok := reasoning["effort"]; !ok {
			reasoning["effort"] = effort
		}
	}
	if hasSummary {
		if _, ok := reasoning["summary"]; !ok {
			reasoning["summary"] = summary
		}
	}
	obj["reasoning"] = reasoning
}

func (codexAdapter) UpstreamHeaders(streaming bool) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Connection", "keep-alive")
	if streaming {
		h.Set("Accept", "text/event-stream")
		// A compressed SSE body can't be teed raw into the capture buffer
		// and usage parser, so refuse compression once streaming.
		h.Set("Accept-Encoding", "identity")
	} else {
		h.Set("Accept", "application/json")
	}
	h.Set("OpenAI-Beta", "responses=experimental")
	return h
}
