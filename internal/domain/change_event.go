package domain

import "time"

// ChangeOperation describes a persisted activity operation for a case.
type ChangeOperation string

// ChangeOperation values used by the case activity ledger. Lifecycle
// transitions record their Operation name instead.
const (
	ChangeOperationCreate ChangeOperation = "create"
	ChangeOperationUpdate ChangeOperation = "update"
	ChangeOperationDelete ChangeOperation = "delete"
)

// ChangeEvent represents a single activity-log entry for one case.
type ChangeEvent struct {
	ID         int64
	CaseID     string
	OrgID      string
	Operation  ChangeOperation
	FromStatus CaseStatus
	ToStatus   CaseStatus
	ActorID    string
	ActorRole  Role
	Metadata   map[string]string
	OccurredAt time.Time
}

// TransitionEvent builds the ledger entry for one lifecycle transition.
func TransitionEvent(c Case, op Operation, from CaseStatus, actorID string, actorRole Role) ChangeEvent {
	return ChangeEvent{
		CaseID:     c.ID,
		OrgID:      c.OrgID,
		Operation:  ChangeOperation(op),
		FromStatus: from,
		ToStatus:   c.Status,
		ActorID:    actorID,
		ActorRole:  actorRole,
		OccurredAt: c.UpdatedAt,
	}
}
