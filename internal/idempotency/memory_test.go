package idempotency_test

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hylla/courtroom/internal/idempotency"
	"github.com/hylla/courtroom/internal/idempotency/storetest"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryStore(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	storetest.Run(t, storetest.Harness{
		Open: func(_ *testing.T, ttl time.Duration) idempotency.Store {
			return idempotency.NewMemoryStore(ttl, clock.Now)
		},
		Advance: clock.Advance,
	})
}

func TestMemoryStoreLenDropsExpired(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	store := idempotency.NewMemoryStore(time.Minute, clock.Now)
	if _, err := store.Claim(t.Context(), "a:1", "fp"); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if got := store.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1", got)
	}
	clock.Advance(time.Minute)
	if got := store.Len(); got != 0 {
		t.Fatalf("Len() after ttl = %d, want 0", got)
	}
}

func TestMemoryStorePurgeExpiredWhileIdle(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	store := idempotency.NewMemoryStore(time.Minute, clock.Now)
	for _, key := range []string{"a:1", "a:2"} {
		if _, err := store.Claim(t.Context(), key, "fp"); err != nil {
			t.Fatalf("Claim(%q) error = %v", key, err)
		}
	}
	clock.Advance(30 * time.Second)
	if _, err := store.Claim(t.Context(), "a:3", "fp"); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}

	purged, err := store.PurgeExpired(t.Context())
	if err != nil || purged != 0 {
		t.Fatalf("PurgeExpired() before ttl = %d, %v; want 0, nil", purged, err)
	}
	clock.Advance(30 * time.Second)
	purged, err = store.PurgeExpired(t.Context())
	if err != nil || purged != 2 {
		t.Fatalf("PurgeExpired() = %d, %v; want 2, nil", purged, err)
	}
	clock.Advance(30 * time.Second)
	purged, err = store.PurgeExpired(t.Context())
	if err != nil || purged != 1 {
		t.Fatalf("PurgeExpired() = %d, %v; want 1, nil", purged, err)
	}
}

func TestValidKey(t *testing.T) {
	cases := []struct {
		key  string
		want bool
	}{
		{key: "abc-123_XYZ", want: true},
		{key: "a", want: true},
		{key: strings.Repeat("k", 255), want: true},
		{key: strings.Repeat("k", 256), want: false},
		{key: "", want: false},
		{key: "has space", want: false},
		{key: "semi;colon", want: false},
		{key: "ünicode", want: false},
	}
	for _, tc := range cases {
		if got := idempotency.ValidKey(tc.key); got != tc.want {
			t.Fatalf("ValidKey(%q) = %v, want %v", tc.key, got, tc.want)
		}
	}
}
