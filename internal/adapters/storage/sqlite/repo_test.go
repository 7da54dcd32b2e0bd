package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/hylla/courtroom/internal/app"
	"github.com/hylla/courtroom/internal/domain"
	_ "modernc.org/sqlite"
)

func newCase(t *testing.T, id, orgID string, now time.Time) domain.Case {
	t.Helper()
	c, err := domain.NewCase(domain.CaseInput{
		ID:           id,
		OrgID:        orgID,
		Title:        "People v. " + id,
		Jurisdiction: "CA",
		CaseType:     domain.CaseTypeCriminal,
		CreatedBy:    "u-1",
	}, now)
	if err != nil {
		t.Fatalf("NewCase() error = %v", err)
	}
	return c
}

func openTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() {
		_ = repo.Close()
	})
	return repo
}

func TestRepository_CaseLifecycle(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "courtroom.db")
	repo, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		_ = repo.Close()
	})

	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	c := newCase(t, "c1", "org-a", now)
	if err := repo.CreateCase(ctx, c); err != nil {
		t.Fatalf("CreateCase() error = %v", err)
	}

	loaded, err := repo.GetCase(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetCase() error = %v", err)
	}
	if loaded.Title != c.Title || loaded.Status != domain.StatusCreated || !loaded.CreatedAt.Equal(now) {
		t.Fatalf("unexpected case %#v", loaded)
	}

	if err := loaded.UpdateDetails("Renamed", "NY", now.Add(time.Minute)); err != nil {
		t.Fatalf("UpdateDetails() error = %v", err)
	}
	if err := repo.UpdateCaseDetails(ctx, loaded); err != nil {
		t.Fatalf("UpdateCaseDetails() error = %v", err)
	}

	prev, err := loaded.Apply(domain.OpCompleteIntake, now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	event := domain.TransitionEvent(loaded, domain.OpCompleteIntake, prev, "u-2", domain.RoleFacilitator)
	if err := repo.UpdateCaseStatus(ctx, loaded, prev, event); err != nil {
		t.Fatalf("UpdateCaseStatus() error = %v", err)
	}

	reloaded, err := repo.GetCase(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetCase() error = %v", err)
	}
	if reloaded.Status != domain.StatusPretrial || reloaded.Title != "Renamed" || reloaded.Jurisdiction != "NY" {
		t.Fatalf("unexpected reloaded case %#v", reloaded)
	}

	events, err := repo.ListCaseEvents(ctx, c.ID, 10)
	if err != nil {
		t.Fatalf("ListCaseEvents() error = %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %#v", events)
	}
	if events[0].Operation != domain.ChangeOperation(domain.OpCompleteIntake) || events[0].FromStatus != domain.StatusCreated || events[0].ToStatus != domain.StatusPretrial {
		t.Fatalf("unexpected transition event %#v", events[0])
	}
	if events[0].ActorID != "u-2" || events[0].ActorRole != domain.RoleFacilitator {
		t.Fatalf("unexpected transition actor %#v", events[0])
	}
	if events[1].Operation != domain.ChangeOperationUpdate || events[1].Metadata["changed_fields"] != "title,jurisdiction" {
		t.Fatalf("unexpected update event %#v", events[1])
	}
	if events[2].Operation != domain.ChangeOperationCreate || events[2].ActorID != "u-1" {
		t.Fatalf("unexpected create event %#v", events[2])
	}

	if err := repo.DeleteCase(ctx, c.ID); err != nil {
		t.Fatalf("DeleteCase() error = %v", err)
	}
	if _, err := repo.GetCase(ctx, c.ID); err != app.ErrNotFound {
		t.Fatalf("expected app.ErrNotFound, got %v", err)
	}
	events, err = repo.ListCaseEvents(ctx, c.ID, 0)
	if err != nil {
		t.Fatalf("ListCaseEvents() error = %v", err)
	}
	if len(events) != 4 || events[0].Operation != domain.ChangeOperationDelete {
		t.Fatalf("expected delete event to survive the case, got %#v", events)
	}
}

func TestRepository_NotFoundCases(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)

	if _, err := repo.GetCase(ctx, "missing"); err != app.ErrNotFound {
		t.Fatalf("expected app.ErrNotFound for case, got %v", err)
	}
	if err := repo.DeleteCase(ctx, "missing"); err != app.ErrNotFound {
		t.Fatalf("expected app.ErrNotFound for delete, got %v", err)
	}
	if err := repo.UpdateCaseDetails(ctx, newCase(t, "missing", "org-a", now)); err != app.ErrNotFound {
		t.Fatalf("expected app.ErrNotFound for update, got %v", err)
	}
	ghost := newCase(t, "ghost", "org-a", now)
	ghost.Status = domain.StatusPretrial
	if err := repo.UpdateCaseStatus(ctx, ghost, domain.StatusCreated, domain.ChangeEvent{CaseID: "ghost"}); err != app.ErrNotFound {
		t.Fatalf("expected app.ErrNotFound for status update, got %v", err)
	}
}

func TestRepository_UpdateCaseStatusCompareAndSwap(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	c := newCase(t, "c1", "org-a", now)
	if err := repo.CreateCase(ctx, c); err != nil {
		t.Fatalf("CreateCase() error = %v", err)
	}

	// Two writers loaded the same created case.
	first, second := c, c
	prev, _ := first.Apply(domain.OpCompleteIntake, now.Add(time.Minute))
	if err := repo.UpdateCaseStatus(ctx, first, prev, domain.TransitionEvent(first, domain.OpCompleteIntake, prev, "u-1", domain.RoleOwner)); err != nil {
		t.Fatalf("UpdateCaseStatus(first) error = %v", err)
	}
	prev, _ = second.Apply(domain.OpCompleteIntake, now.Add(2*time.Minute))
	err := repo.UpdateCaseStatus(ctx, second, prev, domain.TransitionEvent(second, domain.OpCompleteIntake, prev, "u-2", domain.RoleOwner))
	if !errors.Is(err, app.ErrStaleStatus) {
		t.Fatalf("expected app.ErrStaleStatus, got %v", err)
	}

	events, err := repo.ListCaseEvents(ctx, c.ID, 10)
	if err != nil {
		t.Fatalf("ListCaseEvents() error = %v", err)
	}
	transitions := 0
	for _, event := range events {
		if event.Operation == domain.ChangeOperation(domain.OpCompleteIntake) {
			transitions++
		}
	}
	if transitions != 1 {
		t.Fatalf("expected one recorded transition, got %d", transitions)
	}
}

func TestRepository_ConcurrentTransitionsThroughService(t *testing.T) {
	repo := openTestRepo(t)
	svc := app.NewService(repo, func() string { return "c1" }, nil, app.ServiceConfig{})
	ctx := app.WithCaller(context.Background(), app.Caller{UserID: "u-1", OrgID: "org-a", Role: domain.RoleFacilitator})
	if _, err := svc.CreateCase(ctx, app.CreateCaseInput{Title: "A", CaseType: "civil"}); err != nil {
		t.Fatalf("CreateCase() error = %v", err)
	}

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CompleteIntake(ctx, "c1")
			if err != nil && !errors.Is(err, domain.ErrInvalidTransition) {
				t.Errorf("CompleteIntake() unexpected error = %v", err)
				return
			}
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if successes != 1 {
		t.Fatalf("successes = %d, want 1", successes)
	}
}

func TestRepository_ListCasesPagination(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	for i := range 5 {
		c := newCase(t, "a"+strconv.Itoa(i), "org-a", base.Add(time.Duration(i)*time.Minute))
		if err := repo.CreateCase(ctx, c); err != nil {
			t.Fatalf("CreateCase() error = %v", err)
		}
	}
	if err := repo.CreateCase(ctx, newCase(t, "b0", "org-b", base)); err != nil {
		t.Fatalf("CreateCase() error = %v", err)
	}

	page, total, err := repo.ListCases(ctx, app.ListCasesFilter{OrgID: "org-a", Offset: 0, Limit: 2})
	if err != nil {
		t.Fatalf("ListCases() error = %v", err)
	}
	if total != 5 || len(page) != 2 {
		t.Fatalf("total=%d len=%d, want 5 and 2", total, len(page))
	}
	if page[0].ID != "a4" || page[1].ID != "a3" {
		t.Fatalf("expected newest first, got %s, %s", page[0].ID, page[1].ID)
	}

	tail, _, err := repo.ListCases(ctx, app.ListCasesFilter{OrgID: "org-a", Offset: 4, Limit: 2})
	if err != nil {
		t.Fatalf("ListCases() error = %v", err)
	}
	if len(tail) != 1 || tail[0].ID != "a0" {
		t.Fatalf("unexpected tail %#v", tail)
	}

	all, total, err := repo.ListCases(ctx, app.ListCasesFilter{Limit: 50})
	if err != nil {
		t.Fatalf("ListCases(all orgs) error = %v", err)
	}
	if total != 6 || len(all) != 6 {
		t.Fatalf("total=%d len=%d, want 6", total, len(all))
	}
}

func TestRepository_MigrateIsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "courtroom.db")
	for range 2 {
		repo, err := Open(dbPath)
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		_ = repo.Close()
	}

	db, err := sql.Open(driverName, dbPath)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	for _, table := range []string{"cases", "change_events", "idempotency_records"} {
		var name string
		if err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name); err != nil {
			t.Fatalf("expected table %s: %v", table, err)
		}
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}
