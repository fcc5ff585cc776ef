// Package usage extracts token-usage metrics from upstream response bodies,
// one grammar per family. Parsing runs as a sink on the streaming
// forwarder's tee and never fails the request: a malformed payload yields
// zeroed metrics.
package usage

import (
	"bytes"
	"encoding/json"
	"strings"

	"clproxy/internal/model"
	"clproxy/internal/obslog"
)

var log = obslog.New("usage")

// Family identifies which grammar to apply.
type Family string

const (
	FamilyClaude Family = "claude"
	FamilyCodex  Family = "codex"
	FamilyLegacy Family = "legacy"
)

// Parse extracts usage metrics from a complete response body, which may be
// raw JSON or a full SSE stream (event:/data: lines). Parser failures are
// logged and yield zeroed metrics rather than propagating an error.
func Parse(family Family, body []byte) model.UsageMetrics {
	text := strings.TrimSpace(string(body))
	if text == "" {
		return model.UsageMetrics{}
	}

	var raw map[string]json.RawMessage
	if looksLikeSSE(text) {
		raw = lastUsageFromSSE(family, text)
	} else {
		var payload map[string]json.RawMessage
		if err := json.Unmarshal([]byte(text), &payload); err != nil {
			log.Warn("parse failed", "family", string(family), "error", err)
			return model.UsageMetrics{}
		}
		raw = extractUsageObject(family, payload)
	}
	if raw == nil {
		return model.UsageMetrics{}
	}

	switch family {
	case FamilyClaude:
		return parseClaudeUsage(raw).Normalize()
	case FamilyCodex:
		return parseCodexUsage(raw).Normalize()
	default:
		return parseLegacyUsage(raw).Normalize()
	}
}

func looksLikeSSE(text string) bool {
	return strings.HasPrefix(text, "event:") || strings.Contains(text, "\ndata:") || strings.HasPrefix(text, "data:")
}

// lastUsageFromSSE scans an SSE stream event-by-event, keeping the last
// payload that carries a recognizable usage object. Later events in a
// stream supersede earlier partial ones.
func lastUsageFromSSE(family Family, text string) map[string]json.RawMessage {
	var last map[string]json.RawMessage
	for _, chunk := range strings.Split(text, "\n\n") {
		for _, line := range strings.Split(chunk, "\n") {
			line = strings.TrimSpace(line)
			data, ok := strings.CutPrefix(line, "data:")
			if !ok {
				continue
			}
			data = strings.TrimSpace(data)
			if data == "" || data == "[DONE]" {
				continue
			}
			var payload map[string]json.RawMessage
			if err := json.Unmarshal([]byte(data), &payload); err != nil {
				continue
			}
			if u := extractUsageObject(family, payload); u != nil {
				last = u
			}
		}
	}
	return last
}

func extractUsageObject(family Family, payload map[string]json.RawMessage) map[string]json.RawMessage {
	if u := rawObjectField(payload, "usage"); u != nil {
		return u
	}
	nested := "message"
	if family != FamilyClaude {
		nested = "response"
	}
	if inner := rawObjectField(payload, nested); inner != nil {
		return rawObjectField(inner, "usage")
	}
	return nil
}

func rawObjectField(obj map[string]json.RawMessage, key string) map[string]json.RawMessage {
	raw, ok := obj[key]
	if !ok {
		return nil
	}
	var nested map[string]json.RawMessage
	if err := json.Unmarshal(raw, &nested); err != nil {
		return nil
	}
	return nested
}

func intField(obj map[string]json.RawMessage, key string) int64 {
	raw, ok := obj[key]
	if !ok {
		return 0
	}
	var f float64
	if err := json.Unmarshal(bytes.TrimSpace(raw), &f); err != nil {
		return 0
	}
	return int64(f)
}

func parseClaudeUsage(raw map[string]json.RawMessage) model.UsageMetrics {
	return model.UsageMetrics{
		Input:        intField(raw, "input_tokens"),
		CachedCreate: intField(raw, "cache_creation_input_tokens"),
		CachedRead:   intField(raw, "cache_read_input_tokens"),
		Output:       intField(raw, "output_tokens"),
	}
}

func parseCodexUsage(raw map[string]json.RawMessage) model.UsageMetrics {
	m := model.UsageMetrics{
		Input:  intField(raw, "input_tokens"),
		Output: intField(raw, "output_tokens"),
	}
	if details := rawObjectField(raw, "input_tokens_details"); details != nil {
		m.CachedRead = intField(details, "cached_tokens")
	}
	if details := rawObjectField(raw, "output_tokens_details"); details != nil {
		m.Reasoning = intField(details, "reasoning_tokens")
	}
	return m
}

func parseLegacyUsage(raw map[string]json.RawMessage) model.UsageMetrics {
	m := model.UsageMetrics{
		Input:  intField(raw, "prompt_tokens"),
		Output: intField(raw, "completion_tokens"),
	}
	if t, ok := raw["total_tokens"]; ok {
		var f float64
		if json.Unmarshal(t, &f) == nil {
			m.Total = int64(f)
		}
	}
	return m
}

// DisplayInput returns the token count the Codex UI shows as "input": total
// input minus the cached-read portion, which is surfaced separately rather
// than double-counted.
func DisplayInput(m model.UsageMetrics) int64 {
	v := m.Input - m.CachedRead
	if v < 0 {
		return 0
	}
	return v
}
