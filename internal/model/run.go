package model

import "time"

// RunStatus is the state of one step execution in the ledger.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is one recorded step execution.
type Run struct {
	ID          string     `json:"id"`
	Step        string     `json:"step"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Rows        int64      `json:"rows"`
	Error       string     `json:"error,omitempty"`
}

// SourceKind tags what an ingested source fed.
type SourceKind string

const (
	SourceReport SourceKind = "report"
	SourceStatus SourceKind = "status"
)

// ConsumedSource is an input file that has already been merged into a store.
type ConsumedSource struct {
	Source     string     `json:"source"`
	Kind       SourceKind `json:"kind"`
	Rows       int        `json:"rows"`
	ConsumedAt time.Time  `json:"consumed_at"`
}
