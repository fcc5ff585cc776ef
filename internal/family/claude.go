package family

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
)

// claudeAdapter speaks the Anthropic Messages wire format.
type claudeAdapter struct{}

// NewClaude returns the Claude family adapter.
func NewClaude() Adapter { return claudeAdapter{} }

func (claudeAdapter) Name() Name { return Claude }

func (claudeAdapter) CanonicalPath() string { return "/v1/messages" }

func (claudeAdapter) NormalizePath(path string) (string, bool) {
	if path == "/v1/chat/completions" {
		return "/v1/messages", true
	}
	return path, false
}

// TransformBody backfills the metadata.user_id field Anthropic's API uses to
// correlate a CLI session, and converts an OpenAI-shaped chat-completions
// body into the Messages shape when the client called the alternate route.
func (claudeAdapter) TransformBody(in TransformInput) (TransformResult, error) {
	obj, err := decodeObject(in.Body)
	if err != nil {
		return TransformResult{}, err
	}

	if in.FromAlternatePath {
		obj = chatCompletionsToMessages(obj)
	}

	if _, ok := obj["metadata"]; !ok {
		obj["metadata"] = map[string]any{"user_id": syntheticSessionUserID()}
	} else if meta, ok := obj["metadata"].(map[string]any); ok {
		if _, ok := meta["user_id"]; !ok {
			meta["user_id"] = syntheticSessionUserID()
		}
	}

	body, err := encodeObject(obj)
	if err != nil {
		return TransformResult{}, err
	}
	return TransformResult{Body: body}, nil
}

// chatCompletionsToMessages lifts any role:"system" messages out of the
// OpenAI-shaped messages array into Anthropic's top-level "system" field,
// leaving the remaining user/assistant turns as the Messages "messages"
// array (the two shapes agree on that part closely enough to pass through).
func chatCompletionsToMessages(obj map[string]any) map[string]any {
	rawMessages, ok := obj["messages"].([]any)
	if !ok {
		return obj
	}

	var system string
	var rest []any
	for _, m := range rawMessages {
		msg, ok := m.(map[string]any)
		if !ok {
			rest = append(rest, m)
			continue
		}
		if role, _ := msg["role"].(string); role == "system" {
			if text, ok := msg["content"].(string); ok {
				if system != "" {
					system += "\n"
				}
				system += text
			}
			continue
		}
		rest = append(rest, msg)
	}

	obj["messages"] = rest
	if system != "" {
		obj["system"] = system
	}
	if _, ok := obj["max_tokens"]; !ok {
		obj["max_tokens"] = 4096
	}
	delete(obj, "frequency_penalty")
	delete(obj, "presence_penalty")
	delete(obj, "logit_bias")
	return obj
}

// syntheticSessionUserID mints an identifier in the
// user_<hex>_cli_proxy_account__session_<hex> shape Anthropic's API expects
// to see from a CLI client.
func syntheticSessionUserID() string {
	account := randomHex(32)
	session := randomHex(16)
	return "user_" + account + "_cli_proxy_account__session_" + session
}

func randomHex(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func (claudeAdapter) UpstreamHeaders(streaming bool) http.Header {
	h := http.Header{}
	h.Set("Accept", "application/json")
	h.Set("Accept-Encoding", "gzip, deflate")
	if streaming {
		h.Set("Accept", "text/event-stream")
		// A compressed SSE body can't be teed raw into the capture buffer
		// and usage parser, so refuse compression once streaming.
		h.Set("Accept-Encoding", "identity")
	}
	h.Set("Accept-Language", "*")
	h.Set("Anthropic-Beta", "claude-code-20250219,interleaved-thinking-2025-05-14,fine-grained-tool-streaming-2025-05-14")
	h.Set("Anthropic-Dangerous-Direct-Browser-Access", "true")
	h.Set("Anthropic-Version", "2023-06-01")
	h.Set("Connection", "keep-alive")
	h.Set("Content-Type", "application/json")
	h.Set("Sec-Fetch-Mode", "cors")
	h.Set("User-Agent", "claude-cli/2.0.0 (external, cli)")
	h.Set("X-App", "cli")
	h.Set("X-Stainless-Lang", "js")
	h.Set("X-Stainless-Runtime", "node")
	h.Set("X-Stainless-Package-Version", "0.55.1")
	return h
}
