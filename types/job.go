package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/RezaEskandarii/pgqueue/internal/state"
)

// Job is a row of the jobs table.
type Job struct {
	ID         int64           `json:"id"`
	Category   string          `json:"category"`
	Args       json.RawMessage `json:"args"`
	Queue      string          `json:"queue"`
	Status     state.JobStatus `json:"status"`
	Priority   int             `json:"priority"`
	Timeout    time.Duration   `json:"timeout"`
	CreatedAt  time.Time       `json:"created_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
}

// NewJob is what a publisher hands to the store for insertion.
type NewJob struct {
	Category string
	Args     json.RawMessage
	Queue    string
	Priority int
	Timeout  time.Duration
}

// CanonicalArgs re-encodes raw JSON so that two documents with the same content
// compare equal byte for byte: object keys are sorted, insignificant whitespace
// dropped and numbers kept in their literal form.
func CanonicalArgs(raw json.RawMessage) (json.RawMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage("null"), nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode args: %w", err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode args: %w", err)
	}
	return out, nil
}

// SameWork reports whether a and b would run the same handler with the same
// arguments, which is the condition for coalescing them into one execution.
func SameWork(a, b Job) bool {
	if a.Category != b.Category {
		return false
	}
	ca, err := CanonicalArgs(a.Args)
	if err != nil {
		return false
	}
	cb, err := CanonicalArgs(b.Args)
	if err != nil {
		return false
	}
	return bytes.Equal(ca, cb)
}
