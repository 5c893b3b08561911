// Package output provides JSONL output for catalog searches.
//
// Output is structured as typed record envelopes containing matches,
// errors, and progress updates. Each line is a self-contained JSON
// object that can be parsed independently.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: deploybot.<type>.v<version>
const (
	// TypeEntry identifies catalog match records.
	TypeEntry = "deploybot.entry.v1"

	// TypeError identifies error records.
	TypeError = "deploybot.error.v1"

	// TypeProgress identifies progress update records.
	TypeProgress = "deploybot.progress.v1"

	// TypeSummary identifies final summary records.
	TypeSummary = "deploybot.summary.v1"
)

// Record is the envelope for all JSONL output.
//
// The type field determines how to interpret the Data payload.
type Record struct {
	Type string    `json:"type"`
	TS   time.Time `json:"ts"`

	// RunID correlates every record of one invocation.
	RunID string `json:"run_id"`

	// Source identifies the CI server (its base URL).
	Source string `json:"source"`

	Data json.RawMessage `json:"data"`
}

// Entry kinds.
const (
	KindJob    = "job"
	KindFolder = "folder"
)

// EntryRecord is the data payload for a single catalog match.
type EntryRecord struct {
	// Kind is KindJob or KindFolder.
	Kind string `json:"kind"`
	Name string `json:"name"`

	// Path is the normalized path relative to the catalog root.
	Path string `json:"path"`
}

// ErrorRecord is the data payload for errors.
//
// Errors are emitted as records rather than failing the whole run,
// allowing partial results when some folders cannot be listed.
type ErrorRecord struct {
	Code    string `json:"code"`
	Message string `json:"message"`

	// Path is the folder related to this error, if applicable.
	Path string `json:"path,omitempty"`
}

// Error codes for ErrorRecord.
const (
	// ErrCodeTimeout indicates the search deadline expired.
	ErrCodeTimeout = "TIMEOUT"

	// ErrCodeUnreachable indicates some folders could not be listed.
	ErrCodeUnreachable = "UNREACHABLE"

	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal = "INTERNAL"
)

// ProgressRecord is the data payload for progress updates.
type ProgressRecord struct {
	// Processed is the number of folders fetched so far.
	Processed int `json:"processed"`

	// Total is the number of folders discovered so far.
	Total int `json:"total"`
}

// SummaryRecord is the data payload for final summaries.
type SummaryRecord struct {
	Query   string `json:"query"`
	Jobs    int    `json:"jobs"`
	Folders int    `json:"folders"`

	// Processed and Total are the final progress counters.
	Processed int `json:"processed"`
	Total     int `json:"total"`

	Errors  int  `json:"errors"`
	Partial bool `json:"partial"`
	Cached  bool `json:"cached"`

	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`

	Roots []string `json:"roots,omitempty"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
