package persistence

import (
	"slices"
	"time"

	"github.com/dukex/drip/pkg/models"
)

// WorkflowFilter selects workflows. Zero fields match everything.
type WorkflowFilter struct {
	Status      models.WorkflowStatus
	TriggerType models.TriggerType
}

// Matches reports whether the workflow passes the filter.
func (f WorkflowFilter) Matches(w *models.Workflow) bool {
	if f.Status != "" && w.Status != f.Status {
		return false
	}

	if f.TriggerType != "" && w.Trigger.Type != f.TriggerType {
		return false
	}

	return true
}

// MonthDay is a calendar day without a year.
type MonthDay struct {
	Month time.Month
	Day   int
}

// MonthDayOf returns the calendar day of t in UTC.
func MonthDayOf(t time.Time) MonthDay {
	t = t.UTC()

	return MonthDay{Month: t.Month(), Day: t.Day()}
}

// RecurringDays returns the calendar days whose yearly recurrence falls on today.
// On Feb 28 of a non-leap year this includes Feb 29.
func RecurringDays(today time.Time) []MonthDay {
	md := MonthDayOf(today)
	days := []MonthDay{md}

	if md.Month == time.February && md.Day == 28 && !isLeap(today.UTC().Year()) {
		days = append(days, MonthDay{Month: time.February, Day: 29})
	}

	return days
}

func isLeap(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// ContactFilter selects contacts. Zero fields match everything.
type ContactFilter struct {
	Tag string
	// CreatedOn keeps contacts whose creation day (UTC) is one of the listed days.
	CreatedOn []MonthDay
}

// Matches reports whether the contact passes the filter.
func (f ContactFilter) Matches(c *models.Contact) bool {
	if f.Tag != "" && !c.HasTag(f.Tag) {
		return false
	}

	if len(f.CreatedOn) > 0 {
		if c.CreatedAt.IsZero() || !slices.Contains(f.CreatedOn, MonthDayOf(c.CreatedAt)) {
			return false
		}
	}

	return true
}

// ExecutionFilter selects executions. Zero fields match everything.
type ExecutionFilter struct {
	WorkflowID string
	ContactID  string
	Statuses   []models.ExecutionStatus
	// ResumeDueBefore keeps executions whose ResumeAt is set and not after the given time.
	ResumeDueBefore *time.Time
	// StartedSince keeps executions started at or after the given time.
	StartedSince *time.Time
	// Limit caps the result size when positive.
	Limit int
}

// Matches reports whether the execution passes the filter.
func (f ExecutionFilter) Matches(e *models.Execution) bool {
	if f.WorkflowID != "" && e.WorkflowID != f.WorkflowID {
		return false
	}

	if f.ContactID != "" && e.ContactID != f.ContactID {
		return false
	}

	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, e.Status) {
		return false
	}

	if f.ResumeDueBefore != nil {
		if e.ResumeAt == nil || e.ResumeAt.After(*f.ResumeDueBefore) {
			return false
		}
	}

	if f.StartedSince != nil && e.StartedAt.Before(*f.StartedSince) {
		return false
	}

	return true
}

// Apply truncates sorted results to the filter limit.
func (f ExecutionFilter) Apply(executions []*models.Execution) []*models.Execution {
	if f.Limit > 0 && len(executions) > f.Limit {
		return executions[:f.Limit]
	}

	return executions
}
