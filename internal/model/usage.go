package model

// UsageMetrics is the token-accounting block attached to a RequestRecord
// and aggregated per (family, channel). All fields are non-negative.
type UsageMetrics struct {
	Input        int64 `json:"input"`
	CachedCreate int64 `json:"cached_create"`
	CachedRead   int64 `json:"cached_read"`
	Output       int64 `json:"output"`
	Reasoning    int64 `json:"reasoning"`
	Total        int64 `json:"total"`
}

// Add returns the element-wise sum of m and o.
func (m UsageMetrics) Add(o UsageMetrics) UsageMetrics {
	return UsageMetrics{
		Input:        m.Input + o.Input,
		CachedCreate: m.CachedCreate + o.CachedCreate,
		CachedRead:   m.CachedRead + o.CachedRead,
		Output:       m.Output + o.Output,
		Reasoning:    m.Reasoning + o.Reasoning,
		Total:        m.Total + o.Total,
	}
}

// Normalize fills Total when the parser left it at zero but input/output are
// known, and clamps Total up so the total>=input+output invariant holds.
func (m UsageMetrics) Normalize() UsageMetrics {
	floor := m.Input + m.Output
	if m.Total < floor {
		m.Total = floor
	}
	return m
}

// UsageAggregate is one hourly bucket of usage for a (family, channel) pair,
// persisted to the optional analytics store. Purely additive to the JSONL
// request log, which remains the system of record.
type UsageAggregate struct {
	Family       string `db:"family"`
	Channel      string `db:"channel"`
	WindowStart  int64  `db:"window_start"` // unix seconds, truncated to the hour
	Input        int64  `db:"input"`
	CachedCreate int64  `db:"cached_create"`
	CachedRead   int64  `db:"cached_read"`
	Output       int64  `db:"output"`
	Reasoning    int64  `db:"reasoning"`
	Total        int64  `db:"total"`
	RequestCount int64  `db:"request_count"`
}
