package sse

import (
	"encoding/json"
	"io"
	"time"

	"github.com/google/uuid"
)

// chatChunk mirrors the OpenAI chat.completion.chunk shape well enough to
// marshal the fields the synthesis contract requires.
type chatChunk struct {
	ID      string          `json:"id"`
	Object  string          `json:"object"`
	Created int64           `json:"created"`
	Model   string          `json:"model,omitempty"`
	Choices []chunkChoice   `json:"choices"`
	Usage   json.RawMessage `json:"usage,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

type chunkChoice struct {
	Index        int            `json:"index"`
	Delta        map[string]any `json:"delta"`
	FinishReason *string        `json:"finish_reason"`
}

// upstreamChatCompletion is the subset of a non-streamed OpenAI chat
// completion response synthesis needs to read.
type upstreamChatCompletion struct {
	ID      string          `json:"id"`
	Created int64           `json:"created"`
	Model   string          `json:"model"`
	Usage   json.RawMessage `json:"usage"`
	Error   *struct {
		Message json.RawMessage `json:"message"`
	} `json:"error"`
	Choices []struct {
		FinishReason *string `json:"finish_reason"`
		Message      struct {
			Role      string          `json:"role"`
			Content   json.RawMessage `json:"content"`
			ToolCalls json.RawMessage `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
}

// SynthesizeChatCompletion converts a buffered, non-streamed chat-completion
// JSON body into the fixed SSE shape clients expect: one role chunk, the
// content/tool_calls delta, one terminal chunk with finish_reason, then
// [DONE]. now is reused as `created` across every chunk of the response.
func SynthesizeChatCompletion(w io.Writer, body []byte, now time.Time) error {
	var upstream upstreamChatCompletion
	if err := json.Unmarshal(body, &upstream); err != nil {
		return writeRawError(w, body, now)
	}

	id := upstream.ID
	if id == "" {
		id = "chatcmpl-" + uuid.NewString()
	}
	created := upstream.Created
	if created == 0 {
		created = now.Unix()
	}

	if upstream.Error != nil {
		return writeErrorEvent(w, id, created, upstream.Model, body)
	}

	var content string
	var toolCalls json.RawMessage
	finishReason := "stop"
	if len(upstream.Choices) > 0 {
		choice := upstream.Choices[0]
		content = decodeContent(choice.Message.Content)
		toolCalls = choice.Message.ToolCalls
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			finishReason = *choice.FinishReason
		}
	}
	if len(toolCalls) > 0 && string(toolCalls) != "null" {
		finishReason = "tool_calls"
	}

	roleChunk := chatChunk{
		ID: id, Object: "chat.completion.chunk", Created: created, Model: upstream.Model,
		Choices: []chunkChoice{{Delta: map[string]any{"role": "assistant", "content": ""}}},
	}
	if err := writeChunk(w, roleChunk); err != nil {
		return err
	}

	deltaContent := map[string]any{"content": content}
	if len(toolCalls) > 0 && string(toolCalls) != "null" {
		var parsed any
		if json.Unmarshal(toolCalls, &parsed) == nil {
			deltaContent["tool_calls"] = parsed
		}
	}
	contentChunk := chatChunk{
		ID: id, Object: "chat.completion.chunk", Created: created, Model: upstream.Model,
		Choices: []chunkChoice{{Delta: deltaContent}},
	}
	if err := writeChunk(w, contentChunk); err != nil {
		return err
	}

	reason := finishReason
	terminal := chatChunk{
		ID: id, Object: "chat.completion.chunk", Created: created, Model: upstream.Model,
		Choices: []chunkChoice{{Delta: map[string]any{"content": ""}, FinishReason: &reason}},
		Usage:   upstream.Usage,
	}
	if err := writeChunk(w, terminal); err != nil {
		return err
	}

	return WriteDone(w)
}

func writeErrorEvent(w io.Writer, id string, created int64, model string, body []byte) error {
	reason := "error"
	errChunk := chatChunk{
		ID: id, Object: "chat.completion.chunk", Created: created, Model: model,
		Choices: []chunkChoice{{Delta: map[string]any{"content": "upstream error"}, FinishReason: &reason}},
		Error:   body,
	}
	if err := writeChunk(w, errChunk); err != nil {
		return err
	}
	return WriteDone(w)
}

// writeRawError handles the case where the upstream body isn't valid JSON
// at all: still synthesize a single error event and terminate cleanly
// rather than closing the stream silently.
func writeRawError(w io.Writer, body []byte, now time.Time) error {
	reason := "error"
	chunk := chatChunk{
		ID: "chatcmpl-" + uuid.NewString(), Object: "chat.completion.chunk", Created: now.Unix(),
		Choices: []chunkChoice{{Delta: map[string]any{"content": "upstream error"}, FinishReason: &reason}},
	}
	if err := writeChunk(w, chunk); err != nil {
		return err
	}
	return WriteDone(w)
}

func writeChunk(w io.Writer, c chatChunk) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return WriteEvent(w, data)
}

// decodeContent handles both the plain-string and content-block-array
// shapes a chat message's content field may take.
func decodeContent(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var blocks []struct {
		Text string `json:"text"`
	}
	if json.Unmarshal(raw, &blocks) == nil {
		out := ""
		for _, b := range blocks {
			out += b.Text
		}
		return out
	}
	return ""
}
