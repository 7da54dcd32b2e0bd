package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// CaseStatus identifies one lifecycle state of a case.
type CaseStatus string

// Case status values in lifecycle order.
const (
	StatusCreated      CaseStatus = "created"
	StatusPretrial     CaseStatus = "pretrial"
	StatusTrial        CaseStatus = "trial"
	StatusDeliberating CaseStatus = "deliberating"
	StatusVerdict      CaseStatus = "verdict"
	StatusExported     CaseStatus = "exported"
	StatusArchived     CaseStatus = "archived"
)

// statusOrder stores the only legal progression through case states.
var statusOrder = []CaseStatus{
	StatusCreated,
	StatusPretrial,
	StatusTrial,
	StatusDeliberating,
	StatusVerdict,
	StatusExported,
	StatusArchived,
}

// Statuses returns all case statuses in lifecycle order.
func Statuses() []CaseStatus {
	return append([]CaseStatus(nil), statusOrder...)
}

// ParseCaseStatus canonicalizes one status value.
func ParseCaseStatus(raw string) (CaseStatus, error) {
	status := CaseStatus(strings.TrimSpace(strings.ToLower(raw)))
	if !slices.Contains(statusOrder, status) {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
	return status, nil
}

// IsTerminal reports whether no operation can leave the status.
func (s CaseStatus) IsTerminal() bool {
	return s == StatusArchived
}

// Operation names one guarded lifecycle transition.
type Operation string

// Lifecycle operations, one per forward step.
const (
	OpCompleteIntake    Operation = "complete_intake"
	OpStartTrial        Operation = "start_trial"
	OpBeginDeliberation Operation = "begin_deliberation"
	OpRecordVerdict     Operation = "record_verdict"
	OpExportRecord      Operation = "export_record"
	OpArchive           Operation = "archive"
)

// Transition describes the single legal edge for one operation.
type Transition struct {
	Operation Operation
	From      CaseStatus
	To        CaseStatus
}

// transitions stores the lifecycle edge table.
var transitions = []Transition{
	{Operation: OpCompleteIntake, From: StatusCreated, To: StatusPretrial},
	{Operation: OpStartTrial, From: StatusPretrial, To: StatusTrial},
	{Operation: OpBeginDeliberation, From: StatusTrial, To: StatusDeliberating},
	{Operation: OpRecordVerdict, From: StatusDeliberating, To: StatusVerdict},
	{Operation: OpExportRecord, From: StatusVerdict, To: StatusExported},
	{Operation: OpArchive, From: StatusExported, To: StatusArchived},
}

// Transitions returns the lifecycle edge table in progression order.
func Transitions() []Transition {
	return append([]Transition(nil), transitions...)
}

// LookupTransition resolves the edge for one operation.
func LookupTransition(op Operation) (Transition, error) {
	for _, t := range transitions {
		if t.Operation == op {
			return t, nil
		}
	}
	return Transition{}, fmt.Errorf("%w: %q", ErrUnknownOperation, op)
}

// Next computes the status an operation produces from the current status.
func Next(current CaseStatus, op Operation) (CaseStatus, error) {
	t, err := LookupTransition(op)
	if err != nil {
		return "", err
	}
	if current != t.From {
		return "", &TransitionError{
			Operation: op,
			Required:  t.From,
			Actual:    current,
		}
	}
	return t.To, nil
}

// CanApply reports whether an operation is legal from the current status.
func CanApply(current CaseStatus, op Operation) bool {
	_, err := Next(current, op)
	return err == nil
}

// Apply runs one lifecycle operation against the case and returns the
// status it held before the change.
func (c *Case) Apply(op Operation, now time.Time) (CaseStatus, error) {
	next, err := Next(c.Status, op)
	if err != nil {
		return "", err
	}
	prev := c.Status
	c.Status = next
	c.UpdatedAt = now.UTC()
	return prev, nil
}

// TransitionError reports an operation invoked from the wrong status.
type TransitionError struct {
	Operation Operation
	Required  CaseStatus
	Actual    CaseStatus
}

// Error implements error.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s: case must be in %s status, current status is %s", e.Operation, e.Required, e.Actual)
}

// Unwrap lets errors.Is match ErrInvalidTransition.
func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
