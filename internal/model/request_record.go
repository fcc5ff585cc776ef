package model

import "time"

// Status is the lifecycle stage of a RequestRecord. It only ever advances
// PENDING -> STREAMING -> {COMPLETED, FAILED}, never regresses.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusStreaming  Status = "STREAMING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// rank gives the total order used to enforce monotonic advancement.
var rank = map[Status]int{
	StatusPending:   0,
	StatusStreaming: 1,
	StatusCompleted: 2,
	StatusFailed:    2,
}

// CanAdvance reports whether transitioning from s to next is a legal,
// non-regressing move.
func (s Status) CanAdvance(next Status) bool {
	return rank[next] >= rank[s]
}

// RequestRecord is one persisted JSONL line: the full lifecycle of a single
// client request through the pipeline.
type RequestRecord struct {
	RequestID      string    `json:"request_id"`
	TimestampStart time.Time `json:"timestamp_start"`
	TimestampEnd   time.Time `json:"timestamp_end,omitzero"`
	Service        string    `json:"service"`
	Channel        string    `json:"channel,omitempty"`
	Method         string    `json:"method"`
	Path           string    `json:"path"`
	ModelOriginal  string    `json:"model_original,omitempty"`
	ModelFinal     string    `json:"model_final,omitempty"`
	StatusCode     int       `json:"status_code,omitempty"`
	DurationMs     int64     `json:"duration_ms,omitempty"`
	Status         Status    `json:"status"`

	OriginalBody    string            `json:"original_body"`           // base64
	FilteredBody    string            `json:"filtered_body,omitempty"` // base64
	ResponseHeaders map[string]string `json:"response_headers,omitempty"`
	ResponseContent string            `json:"response_content,omitempty"` // base64, truncated
	Truncated       bool              `json:"truncated,omitempty"`

	Usage        UsageMetrics `json:"usage"`
	ErrorMessage string       `json:"error_message,omitempty"`
	Overflow     bool         `json:"overflow,omitempty"`
}

// Advance moves the record to next, returning false (and leaving the
// record untouched) if that would regress the lifecycle.
func (r *RequestRecord) Advance(next Status) bool {
	if !r.Status.CanAdvance(next) {
		return false
	}
	r.Status = next
	return true
}
