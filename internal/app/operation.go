package app

import (
	"strings"
	"time"
)

// Operation statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Operation describes the CLI command an app instance was created for.
// Its ID tags every log line written while the command runs.
type Operation struct {
	ID         string
	Name       string
	Parameters string
	StartedAt  time.Time
	Status     string
}

// NewOperation creates an operation started at now. The ID is the UTC start
// time, which sorts log lines of consecutive commands in order.
func NewOperation(name, parameters string, now time.Time) *Operation {
	return &Operation{
		ID:         now.UTC().Format("20060102T150405Z"),
		Name:       name,
		Parameters: parameters,
		StartedAt:  now,
		Status:     StatusSuccess,
	}
}

// Fail marks the operation as failed.
func (op *Operation) Fail() { op.Status = StatusError }

// Failed reports whether Fail was called.
func (op *Operation) Failed() bool { return op.Status == StatusError }

// LogID returns the identifier written in the log: "<ID>/<Name>".
func (op *Operation) LogID() string {
	if op.Name == "" {
		return op.ID
	}
	return op.ID + "/" + strings.ToLower(op.Name)
}
