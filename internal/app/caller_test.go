package app

import (
	"context"
	"testing"

	"github.com/hylla/courtroom/internal/domain"
)

// TestCallerContextRoundTrip verifies normalization and retrieval from context.
func TestCallerContextRoundTrip(t *testing.T) {
	ctx := WithCaller(context.Background(), Caller{
		UserID: " u-1 ",
		OrgID:  " org-1 ",
		Role:   " Admin ",
	})
	caller, ok := CallerFromContext(ctx)
	if !ok {
		t.Fatal("CallerFromContext() expected caller")
	}
	if caller.UserID != "u-1" {
		t.Fatalf("UserID = %q, want u-1", caller.UserID)
	}
	if caller.OrgID != "org-1" {
		t.Fatalf("OrgID = %q, want org-1", caller.OrgID)
	}
	if caller.Role != domain.RoleAdmin {
		t.Fatalf("Role = %q, want admin", caller.Role)
	}
}

// TestCallerContextDefaultsAndAbsence verifies observer defaulting and missing identities.
func TestCallerContextDefaultsAndAbsence(t *testing.T) {
	if _, ok := CallerFromContext(context.Background()); ok {
		t.Fatal("CallerFromContext() expected no caller for empty context")
	}
	if _, ok := CallerFromContext(WithCaller(context.Background(), Caller{Role: domain.RoleOwner})); ok {
		t.Fatal("CallerFromContext() expected no caller without a user id")
	}
	caller, ok := CallerFromContext(WithCaller(context.Background(), Caller{UserID: "u-1"}))
	if !ok {
		t.Fatal("CallerFromContext() expected caller")
	}
	if caller.Role != domain.RoleObserver {
		t.Fatalf("Role = %q, want observer default", caller.Role)
	}
}
