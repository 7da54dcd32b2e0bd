// Package storetest holds behavior checks shared by every idempotency.Store
// backend.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hylla/courtroom/internal/idempotency"
)

// Harness builds a fresh store with the given TTL and advances its notion of
// time.
type Harness struct {
	Open    func(t *testing.T, ttl time.Duration) idempotency.Store
	Advance func(d time.Duration)
}

// Run exercises claim, complete, release and expiry semantics.
func Run(t *testing.T, h Harness) {
	t.Helper()

	t.Run("fresh then pending", func(t *testing.T) {
		store := h.Open(t, time.Hour)
		ctx := context.Background()
		res, err := store.Claim(ctx, "u1:k1", "fp-1")
		if err != nil {
			t.Fatalf("Claim() error = %v", err)
		}
		if res.Outcome != idempotency.ClaimFresh {
			t.Fatalf("first claim outcome = %v, want fresh", res.Outcome)
		}
		res, err = store.Claim(ctx, "u1:k1", "fp-1")
		if err != nil {
			t.Fatalf("Claim() error = %v", err)
		}
		if res.Outcome != idempotency.ClaimPending || res.Fingerprint != "fp-1" {
			t.Fatalf("second claim = %#v, want pending fp-1", res)
		}
	})

	t.Run("complete then replay", func(t *testing.T) {
		store := h.Open(t, time.Hour)
		ctx := context.Background()
		if _, err := store.Claim(ctx, "u1:k2", "fp-2"); err != nil {
			t.Fatalf("Claim() error = %v", err)
		}
		want := idempotency.Response{
			Status:      201,
			ContentType: "application/json",
			Headers:     map[string]string{"Location": "/api/v1/cases/c1"},
			Body:        []byte(`{"id":"c1"}`),
		}
		if err := store.Complete(ctx, "u1:k2", want); err != nil {
			t.Fatalf("Complete() error = %v", err)
		}
		res, err := store.Claim(ctx, "u1:k2", "fp-2")
		if err != nil {
			t.Fatalf("Claim() error = %v", err)
		}
		if res.Outcome != idempotency.ClaimCompleted {
			t.Fatalf("outcome = %v, want completed", res.Outcome)
		}
		if res.Fingerprint != "fp-2" || res.Response.Status != 201 || res.Response.ContentType != want.ContentType || string(res.Response.Body) != string(want.Body) {
			t.Fatalf("unexpected replay %#v", res)
		}
		if got := res.Response.Headers["Location"]; got != "/api/v1/cases/c1" {
			t.Fatalf("replayed Location = %q, want /api/v1/cases/c1", got)
		}
	})

	t.Run("complete unknown key is ignored", func(t *testing.T) {
		store := h.Open(t, time.Hour)
		if err := store.Complete(context.Background(), "u1:missing", idempotency.Response{Status: 200}); err != nil {
			t.Fatalf("Complete() error = %v", err)
		}
		res, err := store.Claim(context.Background(), "u1:missing", "fp")
		if err != nil {
			t.Fatalf("Claim() error = %v", err)
		}
		if res.Outcome != idempotency.ClaimFresh {
			t.Fatalf("outcome = %v, want fresh", res.Outcome)
		}
	})

	t.Run("release frees pending key only", func(t *testing.T) {
		store := h.Open(t, time.Hour)
		ctx := context.Background()
		if _, err := store.Claim(ctx, "u1:k3", "fp-3"); err != nil {
			t.Fatalf("Claim() error = %v", err)
		}
		if err := store.Release(ctx, "u1:k3"); err != nil {
			t.Fatalf("Release() error = %v", err)
		}
		res, err := store.Claim(ctx, "u1:k3", "fp-3")
		if err != nil {
			t.Fatalf("Claim() error = %v", err)
		}
		if res.Outcome != idempotency.ClaimFresh {
			t.Fatalf("outcome after release = %v, want fresh", res.Outcome)
		}
		if err := store.Complete(ctx, "u1:k3", idempotency.Response{Status: 200}); err != nil {
			t.Fatalf("Complete() error = %v", err)
		}
		if err := store.Release(ctx, "u1:k3"); err != nil {
			t.Fatalf("Release() error = %v", err)
		}
		res, err = store.Claim(ctx, "u1:k3", "fp-3")
		if err != nil {
			t.Fatalf("Claim() error = %v", err)
		}
		if res.Outcome != idempotency.ClaimCompleted {
			t.Fatalf("outcome = %v, want completed record to survive release", res.Outcome)
		}
	})

	t.Run("expiry frees key regardless of state", func(t *testing.T) {
		store := h.Open(t, time.Minute)
		ctx := context.Background()
		for _, key := range []string{"u1:pending", "u1:done"} {
			if _, err := store.Claim(ctx, key, "fp"); err != nil {
				t.Fatalf("Claim() error = %v", err)
			}
		}
		if err := store.Complete(ctx, "u1:done", idempotency.Response{Status: 200}); err != nil {
			t.Fatalf("Complete() error = %v", err)
		}
		h.Advance(2 * time.Minute)
		for _, key := range []string{"u1:pending", "u1:done"} {
			res, err := store.Claim(ctx, key, "fp-new")
			if err != nil {
				t.Fatalf("Claim() error = %v", err)
			}
			if res.Outcome != idempotency.ClaimFresh {
				t.Fatalf("%s outcome after expiry = %v, want fresh", key, res.Outcome)
			}
		}
	})

	t.Run("concurrent claims have one winner", func(t *testing.T) {
		store := h.Open(t, time.Hour)
		const workers = 32
		var (
			wg    sync.WaitGroup
			mu    sync.Mutex
			fresh int
		)
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := store.Claim(context.Background(), "u1:race", "fp")
				if err != nil {
					t.Errorf("Claim() error = %v", err)
					return
				}
				if res.Outcome == idempotency.ClaimFresh {
					mu.Lock()
					fresh++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		if fresh != 1 {
			t.Fatalf("fresh claims = %d, want 1", fresh)
		}
	})
}
