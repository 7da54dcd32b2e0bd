// Package common provides transport-agnostic server contracts used by HTTP and MCP adapters.
package common

import (
	"context"
	"time"

	"github.com/hylla/courtroom/internal/app"
	"github.com/hylla/courtroom/internal/domain"
)

// CaseService is the case surface both transports call. Every method
// authorizes the context caller before doing any work.
type CaseService interface {
	CreateCase(context.Context, CreateCaseRequest) (CaseView, error)
	GetCase(context.Context, string) (CaseView, error)
	ListCases(context.Context, ListCasesRequest) (CaseList, error)
	UpdateCase(context.Context, UpdateCaseRequest) (CaseView, error)
	DeleteCase(context.Context, string) error
	ListCaseEvents(context.Context, string, int) ([]CaseEventView, error)
	TransitionCase(context.Context, string, app.OperationID) (CaseView, error)
}

// CreateCaseRequest is the transport payload for case creation.
type CreateCaseRequest struct {
	Title        string `json:"title"`
	Jurisdiction string `json:"jurisdiction"`
	CaseType     string `json:"case_type"`
}

// UpdateCaseRequest is the transport payload for case edits. Status is
// accepted only so it can be rejected with a field error.
type UpdateCaseRequest struct {
	ID           string  `json:"-"`
	Title        *string `json:"title,omitempty"`
	Jurisdiction *string `json:"jurisdiction,omitempty"`
	Status       *string `json:"status,omitempty"`
}

// ListCasesRequest selects one page of cases.
type ListCasesRequest struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

// CaseView is the wire representation of one case.
type CaseView struct {
	ID           string    `json:"id"`
	OrgID        string    `json:"org_id"`
	Title        string    `json:"title"`
	Jurisdiction string    `json:"jurisdiction"`
	CaseType     string    `json:"case_type"`
	Status       string    `json:"status"`
	CreatedBy    string    `json:"created_by"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Pagination describes one page of a listing.
type Pagination struct {
	Page       int    `json:"page"`
	Limit      int    `json:"limit"`
	Total      int    `json:"total"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// CaseList is one page of cases.
type CaseList struct {
	Data       []CaseView `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// CaseEventView is the wire representation of one activity entry.
type CaseEventView struct {
	ID         int64             `json:"id"`
	CaseID     string            `json:"case_id"`
	Operation  string            `json:"operation"`
	FromStatus string            `json:"from_status,omitempty"`
	ToStatus   string            `json:"to_status,omitempty"`
	ActorID    string            `json:"actor_id"`
	ActorRole  string            `json:"actor_role,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// NewCaseView converts one domain case.
func NewCaseView(c domain.Case) CaseView {
	return CaseView{
		ID:           c.ID,
		OrgID:        c.OrgID,
		Title:        c.Title,
		Jurisdiction: c.Jurisdiction,
		CaseType:     string(c.CaseType),
		Status:       string(c.Status),
		CreatedBy:    c.CreatedBy,
		CreatedAt:    c.CreatedAt.UTC(),
		UpdatedAt:    c.UpdatedAt.UTC(),
	}
}

// newCaseList converts one app page.
func newCaseList(page app.CasePage) CaseList {
	data := make([]CaseView, 0, len(page.Cases))
	for _, c := range page.Cases {
		data = append(data, NewCaseView(c))
	}
	return CaseList{
		Data: data,
		Pagination: Pagination{
			Page:       page.Page,
			Limit:      page.Limit,
			Total:      page.Total,
			HasMore:    page.HasMore,
			NextCursor: page.NextCursor,
		},
	}
}

// newCaseEventView converts one ledger entry.
func newCaseEventView(event domain.ChangeEvent) CaseEventView {
	return CaseEventView{
		ID:         event.ID,
		CaseID:     event.CaseID,
		Operation:  string(event.Operation),
		FromStatus: string(event.FromStatus),
		ToStatus:   string(event.ToStatus),
		ActorID:    event.ActorID,
		ActorRole:  string(event.ActorRole),
		Metadata:   event.Metadata,
		OccurredAt: event.OccurredAt.UTC(),
	}
}
