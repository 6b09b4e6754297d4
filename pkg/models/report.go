package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StepStatus is the outcome of a single step of a multi-step operation.
type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepWarning StepStatus = "warning"
	StepFatal   StepStatus = "fatal"
)

// StepResult records what one step did.
type StepResult struct {
	Name    string     `json:"name"`
	Status  StepStatus `json:"status"`
	Message string     `json:"message,omitempty"`
	Error   string     `json:"error,omitempty"`
	At      time.Time  `json:"at"`
}

// Report collects every step of a multi-step operation so diagnostics are never lost.
type Report struct {
	ID        string       `json:"id"`
	Operation string       `json:"operation"`
	FlowID    string       `json:"flow_id,omitempty"`
	Steps     []StepResult `json:"steps"`
	CreatedAt time.Time    `json:"created_at"`
}

func NewReport(operation, flowID string) *Report {
	return &Report{
		ID:        uuid.NewString(),
		Operation: operation,
		FlowID:    flowID,
		Steps:     []StepResult{},
		CreatedAt: time.Now().UTC(),
	}
}

func (r *Report) add(name string, status StepStatus, message string, err error) {
	step := StepResult{Name: name, Status: status, Message: message, At: time.Now().UTC()}
	if err != nil {
		step.Error = err.Error()
	}

	r.Steps = append(r.Steps, step)
}

// Succeed records a successful step.
func (r *Report) Succeed(name, format string, args ...any) {
	r.add(name, StepSuccess, fmt.Sprintf(format, args...), nil)
}

// Warn records a step that failed without aborting the operation.
func (r *Report) Warn(name string, err error) {
	r.add(name, StepWarning, "", err)
}

// Warnf records a warning without an underlying error.
func (r *Report) Warnf(name, format string, args ...any) {
	r.add(name, StepWarning, fmt.Sprintf(format, args...), nil)
}

// Fail records a step that aborted the operation.
func (r *Report) Fail(name string, err error) {
	r.add(name, StepFatal, "", err)
}

// Merge appends the steps of other, prefixing their names.
func (r *Report) Merge(prefix string, other *Report) {
	if other == nil {
		return
	}

	for _, s := range other.Steps {
		if prefix != "" {
			s.Name = prefix + "." + s.Name
		}

		r.Steps = append(r.Steps, s)
	}
}

// HasFatal reports whether any step aborted the operation.
func (r *Report) HasFatal() bool {
	for _, s := range r.Steps {
		if s.Status == StepFatal {
			return true
		}
	}

	return false
}

// Warnings returns the warning steps.
func (r *Report) Warnings() []StepResult {
	var out []StepResult

	for _, s := range r.Steps {
		if s.Status == StepWarning {
			out = append(out, s)
		}
	}

	return out
}

// Step finds the last step with the given name.
func (r *Report) Step(name string) (StepResult, bool) {
	for i := len(r.Steps) - 1; i >= 0; i-- {
		if r.Steps[i].Name == name {
			return r.Steps[i], true
		}
	}

	return StepResult{}, false
}
