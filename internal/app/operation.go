package app

import "time"

// Operation describes one CLI invocation. Its ID tags every log line the
// invocation writes.
type Operation struct {
	Name       string
	Parameters string
	StartedAt  time.Time
	Status     string // "success" or "error"
}

// NewOperation creates an operation that started at now.
func NewOperation(name, parameters string, now time.Time) *Operation {
	return &Operation{
		Name:       name,
		Parameters: parameters,
		StartedAt:  now.UTC(),
		Status:     "success",
	}
}

// ID is <name>-<UTC start time>, e.g. Upload-20260115T103000Z.
func (op *Operation) ID() string {
	return op.Name + "-" + op.StartedAt.Format("20060102T150405Z")
}

// Fail marks the operation as failed if err is non-nil.
func (op *Operation) Fail(err error) {
	if err != nil {
		op.Status = "error"
	}
}
