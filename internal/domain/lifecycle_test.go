package domain

import (
	"errors"
	"testing"
	"time"
)

func newTestCase(t *testing.T, status CaseStatus) Case {
	t.Helper()
	c, err := NewCase(CaseInput{
		ID:       "c1",
		OrgID:    "org1",
		Title:    "State v. Doe",
		CaseType: CaseTypeCriminal,
	}, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("NewCase() error = %v", err)
	}
	c.Status = status
	return c
}

func TestCreatedCaseTransitions(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	c := newTestCase(t, StatusCreated)
	_, err := c.Apply(OpStartTrial, now)
	var transitionErr *TransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
	if transitionErr.Required != StatusPretrial || transitionErr.Actual != StatusCreated {
		t.Fatalf("unexpected transition error %#v", transitionErr)
	}
	if c.Status != StatusCreated {
		t.Fatalf("status changed on failed transition: %q", c.Status)
	}

	prev, err := c.Apply(OpCompleteIntake, now)
	if err != nil {
		t.Fatalf("Apply(complete_intake) error = %v", err)
	}
	if prev != StatusCreated || c.Status != StatusPretrial {
		t.Fatalf("unexpected transition %q -> %q", prev, c.Status)
	}
	if !c.UpdatedAt.Equal(now) {
		t.Fatalf("updated_at = %v, want %v", c.UpdatedAt, now)
	}
}

func TestPretrialCaseTransitions(t *testing.T) {
	now := time.Now()
	c := newTestCase(t, StatusPretrial)
	if _, err := c.Apply(OpCompleteIntake, now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if _, err := c.Apply(OpStartTrial, now); err != nil {
		t.Fatalf("Apply(start_trial) error = %v", err)
	}
	if c.Status != StatusTrial {
		t.Fatalf("status = %q, want trial", c.Status)
	}
}

func TestLifecycleGridAllowsOnlyForwardSingleSteps(t *testing.T) {
	statuses := Statuses()
	for _, tr := range Transitions() {
		for _, current := range statuses {
			next, err := Next(current, tr.Operation)
			if current == tr.From {
				if err != nil {
					t.Fatalf("Next(%q, %q) error = %v", current, tr.Operation, err)
				}
				if next != tr.To {
					t.Fatalf("Next(%q, %q) = %q, want %q", current, tr.Operation, next, tr.To)
				}
				continue
			}
			if !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("Next(%q, %q) expected ErrInvalidTransition, got %v", current, tr.Operation, err)
			}
		}
	}
}

func TestLifecycleWalksToArchived(t *testing.T) {
	c := newTestCase(t, StatusCreated)
	now := time.Now()
	for _, tr := range Transitions() {
		if _, err := c.Apply(tr.Operation, now); err != nil {
			t.Fatalf("Apply(%q) error = %v", tr.Operation, err)
		}
	}
	if c.Status != StatusArchived || !c.Status.IsTerminal() {
		t.Fatalf("status = %q, want terminal archived", c.Status)
	}
	for _, tr := range Transitions() {
		if CanApply(c.Status, tr.Operation) {
			t.Fatalf("terminal status accepted %q", tr.Operation)
		}
	}
}

func TestTransitionsAreMonotonic(t *testing.T) {
	order := map[CaseStatus]int{}
	for idx, status := range Statuses() {
		order[status] = idx
	}
	for _, tr := range Transitions() {
		if order[tr.To] != order[tr.From]+1 {
			t.Fatalf("transition %q skips or reverses: %q -> %q", tr.Operation, tr.From, tr.To)
		}
	}
}

func TestUnknownOperation(t *testing.T) {
	if _, err := Next(StatusCreated, Operation("reopen")); !errors.Is(err, ErrUnknownOperation) {
		t.Fatalf("expected ErrUnknownOperation, got %v", err)
	}
}

func TestTransitionErrorMessage(t *testing.T) {
	_, err := Next(StatusTrial, OpCompleteIntake)
	want := "cannot complete_intake: case must be in created status, current status is trial"
	if err == nil || err.Error() != want {
		t.Fatalf("error = %v, want %q", err, want)
	}
}

func TestParseCaseStatus(t *testing.T) {
	status, err := ParseCaseStatus(" Verdict ")
	if err != nil || status != StatusVerdict {
		t.Fatalf("ParseCaseStatus() = %q, %v", status, err)
	}
	if _, err := ParseCaseStatus("closed"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}
