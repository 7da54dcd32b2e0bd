package app

import (
	"context"

	"github.com/hylla/courtroom/internal/domain"
)

// ListCasesFilter narrows one paginated case listing.
type ListCasesFilter struct {
	OrgID  string
	Offset int
	Limit  int
}

// Repository is the persistence collaborator for cases.
type Repository interface {
	CreateCase(context.Context, domain.Case) error
	GetCase(context.Context, string) (domain.Case, error)
	ListCases(context.Context, ListCasesFilter) ([]domain.Case, int, error)
	UpdateCaseDetails(context.Context, domain.Case) error
	DeleteCase(context.Context, string) error

	// UpdateCaseStatus writes c.Status only when the stored status still
	// equals from, and records the event in the same transaction. It returns
	// ErrStaleStatus when the stored status moved and ErrNotFound when the
	// case is gone.
	UpdateCaseStatus(ctx context.Context, c domain.Case, from domain.CaseStatus, event domain.ChangeEvent) error
	ListCaseEvents(context.Context, string, int) ([]domain.ChangeEvent, error)
}
