package models

import "time"

// ExecutionStatus is the state of one workflow run against one contact.
type ExecutionStatus string

const (
	ExecutionStatusRunning      ExecutionStatus = "running"
	ExecutionStatusWaitingDelay ExecutionStatus = "waiting_delay"
	ExecutionStatusCompleted    ExecutionStatus = "completed"
	ExecutionStatusFailed       ExecutionStatus = "failed"
	ExecutionStatusCancelled    ExecutionStatus = "cancelled"
)

// IsTerminal reports whether no further transition is possible from the status.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	case ExecutionStatusRunning, ExecutionStatusWaitingDelay:
		return false
	default:
		return false
	}
}

// NonTerminalStatuses lists the statuses of in-flight executions.
func NonTerminalStatuses() []ExecutionStatus {
	return []ExecutionStatus{ExecutionStatusRunning, ExecutionStatusWaitingDelay}
}

// Context keys of an execution.
const (
	ContextContact   = "contact"
	ContextTrigger   = "trigger"
	ContextVariables = "variables"
	ContextWorkflow  = "workflow"
)

// Execution is one run of a workflow against one contact.
type Execution struct {
	ID              string          `json:"id"`
	WorkflowID      string          `json:"workflow_id"`
	WorkflowVersion int             `json:"workflow_version"`
	ContactID       string          `json:"contact_id"`
	CurrentStepID   string          `json:"current_step_id"`
	Status          ExecutionStatus `json:"status"`
	// Steps is the step graph captured when the execution started.
	Steps        []*Step        `json:"steps"`
	Context      map[string]any `json:"context,omitempty"`
	Error        string         `json:"error,omitempty"`
	CancelReason string         `json:"cancel_reason,omitempty"`
	// Version is the optimistic concurrency counter; stores bump it on every update.
	Version     int        `json:"version"`
	StartedAt   time.Time  `json:"started_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ResumeAt    *time.Time `json:"resume_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsTerminal reports whether the execution reached a final state.
func (e *Execution) IsTerminal() bool {
	return e.Status.IsTerminal()
}

// CurrentStep returns the step the execution is positioned at.
func (e *Execution) CurrentStep() (*Step, bool) {
	return findStep(e.Steps, e.CurrentStepID)
}

// IsDue reports whether a waiting execution may be resumed at now.
func (e *Execution) IsDue(now time.Time) bool {
	return e.Status == ExecutionStatusWaitingDelay && e.ResumeAt != nil && !now.Before(*e.ResumeAt)
}

// Clone returns a copy safe to mutate without affecting the receiver's scalar fields and step slice.
func (e *Execution) Clone() *Execution {
	clone := *e

	if e.Steps != nil {
		clone.Steps = append([]*Step(nil), e.Steps...)
	}

	if e.Context != nil {
		clone.Context = make(map[string]any, len(e.Context))
		for k, v := range e.Context {
			clone.Context[k] = v
		}
	}

	return &clone
}
