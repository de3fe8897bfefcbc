package analytics

import "time"

type EventType string

const (
	EventSearch       EventType = "search"
	EventZeroResult   EventType = "zero_result"
	EventSearchFailed EventType = "search_failed"
)

// SearchEvent describes one executed query. Source tells interactive API
// traffic apart from harness runs.
type SearchEvent struct {
	Type        EventType `json:"type"`
	Source      string    `json:"source"`
	Query       string    `json:"query"`
	Fields      []string  `json:"fields"`
	Terms       []string  `json:"terms"`
	TotalHits   int       `json:"total_hits"`
	Returned    int       `json:"returned"`
	LatencyMs   int64     `json:"latency_ms"`
	CacheStatus string    `json:"cache_status"`
	Generation  uint64    `json:"generation"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	RequestID   string    `json:"request_id,omitempty"`
}

// TypeFor classifies a finished query.
func TypeFor(totalHits int, err error) EventType {
	switch {
	case err != nil:
		return EventSearchFailed
	case totalHits == 0:
		return EventZeroResult
	default:
		return EventSearch
	}
}
