package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hylla/courtroom/internal/idempotency"
)

// IdempotencyStore keeps idempotency records in the case database.
type IdempotencyStore struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// IdempotencyStore returns a store sharing this repository's database.
func (r *Repository) IdempotencyStore(ttl time.Duration, now func() time.Time) *IdempotencyStore {
	if ttl <= 0 {
		ttl = idempotency.DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &IdempotencyStore{db: r.db, ttl: ttl, now: now}
}

// Claim implements idempotency.Store. The expired-row purge and the insert
// share one transaction so only one caller can win a key.
func (s *IdempotencyStore) Claim(ctx context.Context, key, fingerprint string) (res idempotency.ClaimResult, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return idempotency.ClaimResult{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := s.now().UTC()
	if _, err = tx.ExecContext(ctx, `DELETE FROM idempotency_records WHERE key = ? AND expires_at <= ?`, key, now.UnixNano()); err != nil {
		return idempotency.ClaimResult{}, fmt.Errorf("purge idempotency record: %w", err)
	}
	inserted, err := tx.ExecContext(ctx, `
		INSERT INTO idempotency_records(key, state, fingerprint, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO NOTHING
	`, key, string(idempotency.StatePending), fingerprint, now.Add(s.ttl).UnixNano())
	if err != nil {
		return idempotency.ClaimResult{}, fmt.Errorf("claim idempotency record: %w", err)
	}
	affected, err := inserted.RowsAffected()
	if err != nil {
		return idempotency.ClaimResult{}, err
	}
	if affected == 1 {
		res = idempotency.ClaimResult{Outcome: idempotency.ClaimFresh}
	} else {
		res, err = loadIdempotencyRecord(ctx, tx, key)
		if err != nil {
			return idempotency.ClaimResult{}, err
		}
	}

	err = tx.Commit()
	return res, err
}

// Complete implements idempotency.Store.
func (s *IdempotencyStore) Complete(ctx context.Context, key string, resp idempotency.Response) error {
	headersJSON, err := json.Marshal(resp.Headers)
	if err != nil {
		return fmt.Errorf("encode idempotency headers: %w", err)
	}
	if resp.Headers == nil {
		headersJSON = []byte("{}")
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE idempotency_records
		SET state = ?, status = ?, content_type = ?, headers_json = ?, body = ?
		WHERE key = ? AND expires_at > ?
	`, string(idempotency.StateCompleted), resp.Status, resp.ContentType, string(headersJSON), resp.Body, key, s.now().UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("complete idempotency record: %w", err)
	}
	return nil
}

// Release implements idempotency.Store.
func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_records WHERE key = ? AND state = ?`, key, string(idempotency.StatePending))
	if err != nil {
		return fmt.Errorf("release idempotency record: %w", err)
	}
	return nil
}

// PurgeExpired deletes every expired record and reports how many went.
func (s *IdempotencyStore) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_records WHERE expires_at <= ?`, s.now().UTC().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("purge idempotency records: %w", err)
	}
	return res.RowsAffected()
}

// loadIdempotencyRecord reads the live record for key.
func loadIdempotencyRecord(ctx context.Context, q queryRower, key string) (idempotency.ClaimResult, error) {
	var (
		state       string
		fingerprint string
		status      int
		contentType string
		headersJSON string
		body        []byte
	)
	err := q.QueryRowContext(ctx, `
		SELECT state, fingerprint, status, content_type, headers_json, body
		FROM idempotency_records
		WHERE key = ?
	`, key).Scan(&state, &fingerprint, &status, &contentType, &headersJSON, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return idempotency.ClaimResult{}, fmt.Errorf("load idempotency record %q: vanished during claim", key)
	}
	if err != nil {
		return idempotency.ClaimResult{}, fmt.Errorf("load idempotency record: %w", err)
	}
	if idempotency.State(state) == idempotency.StateCompleted {
		var headers map[string]string
		if err := json.Unmarshal([]byte(headersJSON), &headers); err != nil {
			return idempotency.ClaimResult{}, fmt.Errorf("decode idempotency headers: %w", err)
		}
		if len(headers) == 0 {
			headers = nil
		}
		return idempotency.ClaimResult{
			Outcome:     idempotency.ClaimCompleted,
			Fingerprint: fingerprint,
			Response:    idempotency.Response{Status: status, ContentType: contentType, Headers: headers, Body: body},
		}, nil
	}
	return idempotency.ClaimResult{Outcome: idempotency.ClaimPending, Fingerprint: fingerprint}, nil
}
