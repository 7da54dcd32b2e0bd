package domain

import (
	"strings"
	"testing"
	"time"
)

func TestNewCaseDefaults(t *testing.T) {
	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.FixedZone("x", 3600))
	c, err := NewCase(CaseInput{
		ID:           " c1 ",
		OrgID:        "org1",
		Title:        "  People v. Smith ",
		Jurisdiction: " CA ",
		CaseType:     "Criminal",
		CreatedBy:    "u1",
	}, now)
	if err != nil {
		t.Fatalf("NewCase() error = %v", err)
	}
	if c.ID != "c1" || c.Title != "People v. Smith" || c.Jurisdiction != "CA" {
		t.Fatalf("unexpected normalized case %#v", c)
	}
	if c.CaseType != CaseTypeCriminal {
		t.Fatalf("case type = %q, want criminal", c.CaseType)
	}
	if c.Status != StatusCreated {
		t.Fatalf("status = %q, want created", c.Status)
	}
	if c.CreatedAt.Location() != time.UTC {
		t.Fatalf("expected UTC timestamps, got %v", c.CreatedAt.Location())
	}
}

func TestNewCaseValidation(t *testing.T) {
	now := time.Now()
	base := CaseInput{ID: "c1", OrgID: "org1", Title: "x", CaseType: CaseTypeCivil}

	in := base
	in.ID = ""
	if _, err := NewCase(in, now); err != ErrInvalidID {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
	in = base
	in.Title = "   "
	if _, err := NewCase(in, now); err != ErrInvalidTitle {
		t.Fatalf("expected ErrInvalidTitle, got %v", err)
	}
	in = base
	in.CaseType = "admiralty"
	if _, err := NewCase(in, now); err != ErrInvalidCaseType {
		t.Fatalf("expected ErrInvalidCaseType, got %v", err)
	}
	in = base
	in.Jurisdiction = strings.Repeat("j", 201)
	if _, err := NewCase(in, now); err != ErrInvalidJurisdiction {
		t.Fatalf("expected ErrInvalidJurisdiction, got %v", err)
	}
}

func TestCaseUpdateDetailsKeepsStatus(t *testing.T) {
	now := time.Now()
	c, err := NewCase(CaseInput{ID: "c1", OrgID: "org1", Title: "x", CaseType: CaseTypeCivil}, now)
	if err != nil {
		t.Fatalf("NewCase() error = %v", err)
	}
	c.Status = StatusTrial
	if err := c.UpdateDetails(" Renamed ", "NY", now.Add(time.Minute)); err != nil {
		t.Fatalf("UpdateDetails() error = %v", err)
	}
	if c.Title != "Renamed" || c.Jurisdiction != "NY" || c.Status != StatusTrial {
		t.Fatalf("unexpected case after update %#v", c)
	}
	if err := c.UpdateDetails("", "", now); err != ErrInvalidTitle {
		t.Fatalf("expected ErrInvalidTitle, got %v", err)
	}
}

func TestTransitionEvent(t *testing.T) {
	now := time.Now()
	c, err := NewCase(CaseInput{ID: "c1", OrgID: "org1", Title: "x", CaseType: CaseTypeCivil}, now)
	if err != nil {
		t.Fatalf("NewCase() error = %v", err)
	}
	prev, err := c.Apply(OpCompleteIntake, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	event := TransitionEvent(c, OpCompleteIntake, prev, "u1", RoleFacilitator)
	if event.FromStatus != StatusCreated || event.ToStatus != StatusPretrial {
		t.Fatalf("unexpected event statuses %#v", event)
	}
	if event.Operation != ChangeOperation(OpCompleteIntake) || event.ActorRole != RoleFacilitator {
		t.Fatalf("unexpected event %#v", event)
	}
}
