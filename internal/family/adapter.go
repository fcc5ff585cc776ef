// Package family holds the per-family specifics the shared pipeline can't
// express generically: canonical route paths, request body backfill, and
// upstream header shaping.
package family

import (
	"encoding/json"
	"fmt"
	"net/http"

	"clproxy/internal/model"
)

// Name identifies one of the three proxy families.
type Name string

const (
	Claude Name = "claude"
	Codex  Name = "codex"
	Legacy Name = "legacy"
)

// TransformInput carries everything a family adapter's body backfill needs
// beyond the raw bytes: which path the client actually called, whether it
// asked for a streamed response, and the operator's per-model defaults.
type TransformInput struct {
	Body              []byte
	FromAlternatePath bool
	ClientWantsStream bool
	Settings          *model.SystemSettings
}

// TransformResult is the outcome of a family adapter's body backfill.
type TransformResult struct {
	Body []byte
	// ForceStream, if non-nil, overrides the effective upstream streaming
	// decision the pipeline would otherwise make from ClientWantsStream.
	ForceStream *bool
}

// Adapter is the per-family seam in the pipeline's Transform and Forward
// steps.
type Adapter interface {
	Name() Name

	// CanonicalPath is the family's own route, e.g. "/v1/messages".
	CanonicalPath() string

	// NormalizePath rewrites a client-supplied alternate path to the
	// canonical one, reporting whether a rewrite happened.
	NormalizePath(path string) (canonical string, rewrote bool)

	// TransformBody applies family-specific JSON backfill (defaults,
	// pruning, synthetic fields, cross-protocol body conversion) to the
	// request body.
	TransformBody(in TransformInput) (TransformResult, error)

	// UpstreamHeaders returns the family-canonical headers to attach to
	// the upstream call, given whether the final request will stream.
	UpstreamHeaders(streaming bool) http.Header
}

// ApplyCredentials sets exactly one of Authorization/x-api-key from cfg,
// per the invariant that the two are mutually exclusive on the wire.
func ApplyCredentials(h http.Header, cfg *model.UpstreamConfig) {
	h.Del("Authorization")
	h.Del("X-Api-Key")
	if cfg.AuthToken != "" {
		h.Set("Authorization", "Bearer "+cfg.AuthToken)
		return
	}
	h.Set("X-Api-Key", cfg.APIKey)
}

// decodeObject parses body as a generic JSON object, treating an empty body
// or a JSON null as an empty object. Used by the family backfill helpers.
func decodeObject(body []byte) (map[string]any, error) {
	var obj map[string]any
	if len(body) == 0 {
		return map[string]any{}, nil
	}
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("family: decode body: %w", err)
	}
	if obj == nil {
		obj = map[string]any{}
	}
	return obj, nil
}

func encodeObject(obj map[string]any) ([]byte, error) {
	return json.Marshal(obj)
}

func boolPtr(b bool) *bool { return &b }
