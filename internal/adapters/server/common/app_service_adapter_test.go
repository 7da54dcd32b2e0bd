package common

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/hylla/courtroom/internal/adapters/storage/sqlite"
	"github.com/hylla/courtroom/internal/app"
	"github.com/hylla/courtroom/internal/domain"
)

// newTestAdapter wires the adapter over an in-memory sqlite repository.
func newTestAdapter(t *testing.T) *AppServiceAdapter {
	t.Helper()
	repo, err := sqlite.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() {
		_ = repo.Close()
	})
	next := 0
	svc := app.NewService(repo, func() string {
		next++
		return "case-" + strconv.Itoa(next)
	}, func() time.Time {
		return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	}, app.ServiceConfig{})
	return NewAppServiceAdapter(svc, nil)
}

func asRole(role domain.Role) context.Context {
	return app.WithCaller(context.Background(), app.Caller{UserID: "u-" + string(role), OrgID: "org-a", Role: role})
}

// TestAppServiceAdapterAuthorizesEveryCall verifies policy enforcement ahead of service work.
func TestAppServiceAdapterAuthorizesEveryCall(t *testing.T) {
	adapter := newTestAdapter(t)

	if _, err := adapter.CreateCase(context.Background(), CreateCaseRequest{Title: "A", CaseType: "civil"}); !errors.Is(err, app.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if _, err := adapter.CreateCase(asRole(domain.RoleParticipant), CreateCaseRequest{Title: "A", CaseType: "civil"}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	created, err := adapter.CreateCase(asRole(domain.RoleFacilitator), CreateCaseRequest{Title: "A", CaseType: "civil"})
	if err != nil {
		t.Fatalf("CreateCase() error = %v", err)
	}
	if created.Status != string(domain.StatusCreated) || created.OrgID != "org-a" {
		t.Fatalf("unexpected case %#v", created)
	}

	if _, err := adapter.GetCase(asRole(domain.RoleObserver), created.ID); err != nil {
		t.Fatalf("GetCase(observer) error = %v", err)
	}
	if err := adapter.DeleteCase(asRole(domain.RoleFacilitator), created.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected facilitator delete to be forbidden, got %v", err)
	}
	if _, err := adapter.TransitionCase(asRole(domain.RoleParticipant), created.ID, app.OpCaseCompleteIntake); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected participant transition to be forbidden, got %v", err)
	}
}

// TestAppServiceAdapterTransitionsAndEvents verifies lifecycle calls and event views.
func TestAppServiceAdapterTransitionsAndEvents(t *testing.T) {
	adapter := newTestAdapter(t)
	ctx := asRole(domain.RoleOwner)
	created, err := adapter.CreateCase(ctx, CreateCaseRequest{Title: "A", CaseType: "criminal"})
	if err != nil {
		t.Fatalf("CreateCase() error = %v", err)
	}

	if _, err := adapter.TransitionCase(ctx, created.ID, app.OpCaseGet); !errors.Is(err, app.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for non-lifecycle op, got %v", err)
	}
	view, err := adapter.TransitionCase(ctx, created.ID, app.OpCaseCompleteIntake)
	if err != nil {
		t.Fatalf("TransitionCase() error = %v", err)
	}
	if view.Status != string(domain.StatusPretrial) {
		t.Fatalf("status = %q, want pretrial", view.Status)
	}

	events, err := adapter.ListCaseEvents(asRole(domain.RoleObserver), created.ID, 10)
	if err != nil {
		t.Fatalf("ListCaseEvents() error = %v", err)
	}
	if len(events) != 2 || events[0].ToStatus != string(domain.StatusPretrial) || events[0].ActorRole != string(domain.RoleOwner) {
		t.Fatalf("unexpected events %#v", events)
	}

	list, err := adapter.ListCases(ctx, ListCasesRequest{})
	if err != nil {
		t.Fatalf("ListCases() error = %v", err)
	}
	if list.Pagination.Total != 1 || len(list.Data) != 1 || list.Pagination.Page != 1 {
		t.Fatalf("unexpected list %#v", list)
	}
}

// TestCaseETagTracksContent verifies entity tags change with the representation.
func TestCaseETagTracksContent(t *testing.T) {
	view := CaseView{ID: "c1", Title: "A", Status: "created"}
	first, err := CaseETag(view)
	if err != nil {
		t.Fatalf("CaseETag() error = %v", err)
	}
	again, _ := CaseETag(view)
	if first != again {
		t.Fatalf("etag not stable: %s != %s", first, again)
	}
	view.Status = "pretrial"
	changed, _ := CaseETag(view)
	if changed == first {
		t.Fatal("expected etag to change with status")
	}
}
