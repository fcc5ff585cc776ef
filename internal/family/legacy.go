package family

import "net/http"

// legacyAdapter speaks the OpenAI Chat Completions wire format.
type legacyAdapter struct{}

// NewLegacy returns the Legacy family adapter.
func NewLegacy() Adapter { return legacyAdapter{} }

func (legacyAdapter) Name() Name { return Legacy }

func (legacyAdapter) CanonicalPath() string { return "/v1/chat/completions" }

func (legacyAdapter) NormalizePath(path string) (string, bool) { return path, false }

// TransformBody forces the upstream call to non-streaming when the request
// carries tools and the client asked to stream: some upstreams don't emit
// well-formed SSE deltas alongside tool_calls, so the pipeline instead
// fetches a single JSON response and synthesizes the SSE contract itself.
// In every other case the body's stream field is set to match the client's
// request exactly, so the two never disagree on the wire.
func (legacyAdapter) TransformBody(in TransformInput) (TransformResult, error) {
	obj, err := decodeObject(in.Body)
	if err != nil {
		return TransformResult{}, err
	}

	hasTools := false
	if tools, ok := obj["tools"].([]any); ok && len(tools) > 0 {
		hasTools = true
	}

	var forceStream *bool
	if hasTools && in.ClientWantsStream {
		obj["stream"] = false
		forceStream = boolPtr(false)
	} else {
		obj["stream"] = in.ClientWantsStream
	}

	body, err := encodeObject(obj)
	if err != nil {
		return TransformResult{}, err
	}
	return TransformResult{Body: body, ForceStream: forceStream}, nil
}

func (legacyAdapter) UpstreamHeaders(streaming bool) http.Header {
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
	return h
}
