// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package store provides a Postgres-backed history of classification
// results.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bcem/triage/internal/models"
)

// Sources of a recorded result.
const (
	SourceStream   = "stream"
	SourceFallback = "fallback"
)

// Record is one stored result, keyed on (email_id, action).
type Record struct {
	ID             int64
	EmailID        int64
	Action         models.Action
	Classification models.Label
	Reasoning      string
	AIDraft        string
	Cached         bool
	Source         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Result returns the record in the shared result shape.
func (r Record) Result() models.Result {
	return models.Result{
		EmailID:        r.EmailID,
		Classification: r.Classification,
		Reasoning:      r.Reasoning,
		AIDraft:        r.AIDraft,
		Cached:         r.Cached,
	}
}

// Store provides CRUD operations for classification records.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a store backed by pool and ensures its table exists.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure classification schema: %w", err)
	}
	slog.Info("classification store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS email_classifications (
			id             BIGSERIAL PRIMARY KEY,
			email_id       BIGINT NOT NULL,
			action         TEXT NOT NULL,
			classification TEXT NOT NULL,
			reasoning      TEXT DEFAULT '',
			ai_draft       TEXT DEFAULT '',
			cached         BOOLEAN DEFAULT FALSE,
			source         TEXT DEFAULT 'stream',
			created_at     TIMESTAMPTZ DEFAULT NOW(),
			updated_at     TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE(email_id, action)
		);
		CREATE INDEX IF NOT EXISTS idx_classifications_updated ON email_classifications(updated_at DESC);
	`)
	return err
}

// Save inserts or replaces the result for (res.EmailID, action).
func (s *Store) Save(ctx context.Context, action models.Action, source string, res models.Result) error {
	if res.EmailID <= 0 {
		return fmt.Errorf("save classification: invalid email id %d", res.EmailID)
	}
	if !action.Valid() {
		return fmt.Errorf("save classification: unknown action %q", action)
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO email_classifications
			(email_id, action, classification, reasoning, ai_draft, cached, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (email_id, action) DO UPDATE SET
			classification = EXCLUDED.classification,
			reasoning      = EXCLUDED.reasoning,
			ai_draft       = EXCLUDED.ai_draft,
			cached         = EXCLUDED.cached,
			source         = EXCLUDED.source,
			updated_at     = NOW()
	`, res.EmailID, string(action), string(res.Classification), res.Reasoning, res.AIDraft, res.Cached, source)
	if err != nil {
		return fmt.Errorf("save classification for email %d: %w", res.EmailID, err)
	}
	return nil
}

// Get returns the record for an email and action, or nil if none exists.
func (s *Store) Get(ctx context.Context, emailID int64, action models.Action) (*Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, email_id, action, classification, reasoning, ai_draft,
		       cached, source, created_at, updated_at
		FROM email_classifications
		WHERE email_id = $1 AND action = $2
	`, emailID, string(action))
	return scanRecord(row)
}

// List returns the most recently updated records, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, email_id, action, classification, reasoning, ai_draft,
		       cached, source, created_at, updated_at
		FROM email_classifications
		ORDER BY updated_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecords(rows)
}

// Delete removes every record of an email.
func (s *Store) Delete(ctx context.Context, emailID int64) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM email_classifications WHERE email_id = $1
	`, emailID)
	return err
}

func scanRecord(row pgx.Row) (*Record, error) {
	r, err := scan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func collectRecords(rows pgx.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func scan(row pgx.Row) (Record, error) {
	var (
		r             Record
		action, label string
	)
	err := row.Scan(
		&r.ID, &r.EmailID, &action, &label, &r.Reasoning, &r.AIDraft,
		&r.Cached, &r.Source, &r.CreatedAt, &r.UpdatedAt,
	)
	r.Action = models.Action(action)
	r.Classification = models.Label(label)
	return r, err
}
