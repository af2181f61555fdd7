package models

import (
	"sync"
	"time"
)

// TraceEntry is one structured log record of an engine step.
type TraceEntry struct {
	StepName      string         `json:"step_name"`
	Timestamp     time.Time      `json:"timestamp"`
	DurationMS    int64          `json:"duration_ms"`
	InputSummary  string         `json:"input_summary,omitempty"`
	OutputSummary string         `json:"output_summary,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// TraceChain is the append-only step log of a negotiation. Durations are
// measured by the caller on the monotonic clock (time.Since); entries are
// appended in emit order.
type TraceChain struct {
	NegotiationID string      `json:"negotiation_id"`
	StartedAt     time.Time   `json:"started_at"`
	CompletedAt   *time.Time  `json:"completed_at,omitempty"`
	Entries       []TraceEntry `json:"entries"`

	mu sync.Mutex
}

// NewTraceChain creates a trace chain started now.
func NewTraceChain(negotiationID string) *TraceChain {
	return &TraceChain{
		NegotiationID: negotiationID,
		StartedAt:     time.Now(),
	}
}

// Append records a step with its duration and optional summaries.
func (t *TraceChain) Append(stepName string, duration time.Duration, inputSummary, outputSummary string, metadata map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Entries = append(t.Entries, TraceEntry{
		StepName:      stepName,
		Timestamp:     time.Now(),
		DurationMS:    duration.Milliseconds(),
		InputSummary:  inputSummary,
		OutputSummary: outputSummary,
		Metadata:      metadata,
	})
}

// Complete stamps the chain's completion time. Idempotent.
func (t *TraceChain) Complete() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.CompletedAt == nil {
		now := time.Now()
		t.CompletedAt = &now
	}
}

// Snapshot returns a copy of the entries appended so far.
func (t *TraceChain) Snapshot() []TraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TraceEntry, len(t.Entries))
	copy(out, t.Entries)
	return out
}
