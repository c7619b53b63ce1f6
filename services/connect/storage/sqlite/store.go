// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sqlite provides the SQLite-backed word cache implementation.
//
// The driver is modernc.org/sqlite (pure Go), so the service builds with
// CGO_ENABLED=0 and the container image needs no C runtime. The database
// file lives on the /data volume and survives container replacement.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/AleutianAI/renshuu-connect/services/connect/storage"
	"github.com/AleutianAI/renshuu-connect/services/connect/storage/sqlite/migrations"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Store persists cached words and list memberships in SQLite.
type Store struct {
	sqlDB *sql.DB
}

// Open opens the cache database at path and applies embedded migrations.
//
// WAL keeps concurrent readers off the writer's back during list warms,
// and the busy timeout covers the brief write bursts a warm produces.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(context.Background(), sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// UpsertWord inserts or refreshes one word keyed by RenshuuID.
//
// An empty incoming JmdictID never blanks a stored one: Renshuu omits the
// JMdict number on some endpoints, and losing it would degrade the
// strongest lookup key.
func (s *Store) UpsertWord(ctx context.Context, word storage.Word) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	renshuuID := strings.TrimSpace(word.RenshuuID)
	if renshuuID == "" {
		return fmt.Errorf("renshuu id is required")
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO words (renshuu_id, japanese, reading, jmdict_id)
		 VALUES (?, ?, ?, NULLIF(?, ''))
		 ON CONFLICT (renshuu_id) DO UPDATE SET
		   japanese  = excluded.japanese,
		   reading   = excluded.reading,
		   jmdict_id = COALESCE(excluded.jmdict_id, jmdict_id)`,
		renshuuID,
		word.Japanese,
		word.Reading,
		strings.TrimSpace(word.JmdictID),
	)
	if err != nil {
		return fmt.Errorf("upsert word: %w", err)
	}
	return nil
}

// GetWordByJmdictID returns the word carrying the given JMdict id.
func (s *Store) GetWordByJmdictID(ctx context.Context, jmdictID string) (storage.Word, error) {
	if err := ctx.Err(); err != nil {
		return storage.Word{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Word{}, fmt.Errorf("storage is not configured")
	}
	jmdictID = strings.TrimSpace(jmdictID)
	if jmdictID == "" {
		return storage.Word{}, fmt.Errorf("jmdict id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT renshuu_id, japanese, reading, jmdict_id
		   FROM words
		  WHERE jmdict_id = ?
		  ORDER BY renshuu_id ASC
		  LIMIT 1`,
		jmdictID,
	)
	return scanWord(row, "get word by jmdict id")
}

// GetWordByForm returns the word with the given written form and reading.
func (s *Store) GetWordByForm(ctx context.Context, japanese, reading string) (storage.Word, error) {
	if err := ctx.Err(); err != nil {
		return storage.Word{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Word{}, fmt.Errorf("storage is not configured")
	}
	if japanese == "" {
		return storage.Word{}, fmt.Errorf("japanese form is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT renshuu_id, japanese, reading, jmdict_id
		   FROM words
		  WHERE japanese = ? AND reading = ?
		  ORDER BY renshuu_id ASC
		  LIMIT 1`,
		japanese,
		reading,
	)
	return scanWord(row, "get word by form")
}

// AddListMembership records that a word is scheduled on a list.
//
// The word must already be cached: memberships reference words and the
// foreign key is enforced. A duplicate pair returns
// storage.ErrAlreadyExists so callers can count deduplications.
func (s *Store) AddListMembership(ctx context.Context, listID, renshuuID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	listID = strings.TrimSpace(listID)
	renshuuID = strings.TrimSpace(renshuuID)
	if listID == "" {
		return fmt.Errorf("list id is required")
	}
	if renshuuID == "" {
		return fmt.Errorf("renshuu id is required")
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO list_memberships (list_id, renshuu_id) VALUES (?, ?)`,
		listID,
		renshuuID,
	)
	if err != nil {
		if isMembershipUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("add list membership: %w", err)
	}
	return nil
}

// HasListMembership reports whether the (list, word) pair is recorded.
func (s *Store) HasListMembership(ctx context.Context, listID, renshuuID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s == nil || s.sqlDB == nil {
		return false, fmt.Errorf("storage is not configured")
	}

	var found int
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT 1 FROM list_memberships WHERE list_id = ? AND renshuu_id = ?`,
		strings.TrimSpace(listID),
		strings.TrimSpace(renshuuID),
	)
	if err := row.Scan(&found); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("has list membership: %w", err)
	}
	return true, nil
}

// CountListMemberships returns how many words are recorded on a list.
func (s *Store) CountListMemberships(ctx context.Context, listID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}

	var count int64
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT COUNT(*) FROM list_memberships WHERE list_id = ?`,
		strings.TrimSpace(listID),
	)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count list memberships: %w", err)
	}
	return count, nil
}

// DeleteListMemberships removes every membership row for a list and
// returns how many rows went away. The cached words stay.
func (s *Store) DeleteListMemberships(ctx context.Context, listID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	listID = strings.TrimSpace(listID)
	if listID == "" {
		return 0, fmt.Errorf("list id is required")
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`DELETE FROM list_memberships WHERE list_id = ?`,
		listID,
	)
	if err != nil {
		return 0, fmt.Errorf("delete list memberships: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete list memberships rows affected: %w", err)
	}
	return deleted, nil
}

// FindTermIDs returns numeric ids of cached words matching the query terms.
//
// Terms match either the written form or the reading. When listIDs is
// non-empty only members of those lists match; when terms is empty every
// member of the given lists matches (a deck-only query). Ids that do not
// parse as integers are skipped because Anki clients expect integer note
// ids. Both slices empty means no criteria, which matches nothing.
func (s *Store) FindTermIDs(ctx context.Context, listIDs, terms []string) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if len(listIDs) == 0 && len(terms) == 0 {
		return nil, nil
	}

	var (
		conds []string
		args  []any
	)
	query := `SELECT DISTINCT w.renshuu_id FROM words w`
	if len(listIDs) > 0 {
		query += ` JOIN list_memberships m ON m.renshuu_id = w.renshuu_id`
		conds = append(conds, `m.list_id IN (`+placeholders(len(listIDs))+`)`)
		for _, id := range listIDs {
			args = append(args, id)
		}
	}
	if len(terms) > 0 {
		marks := placeholders(len(terms))
		conds = append(conds, `(w.japanese IN (`+marks+`) OR w.reading IN (`+marks+`))`)
		for _, term := range terms {
			args = append(args, term)
		}
		for _, term := range terms {
			args = append(args, term)
		}
	}
	query += ` WHERE ` + strings.Join(conds, " AND ") + ` ORDER BY w.renshuu_id ASC`

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find term ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("find term ids: %w", err)
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find term ids: %w", err)
	}
	return ids, nil
}

// Summary reports total cached words, distinct lists, and memberships.
func (s *Store) Summary(ctx context.Context) (storage.Summary, error) {
	if err := ctx.Err(); err != nil {
		return storage.Summary{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Summary{}, fmt.Errorf("storage is not configured")
	}

	var summary storage.Summary
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT
		   (SELECT COUNT(*) FROM words),
		   (SELECT COUNT(DISTINCT list_id) FROM list_memberships),
		   (SELECT COUNT(*) FROM list_memberships)`,
	)
	if err := row.Scan(&summary.Words, &summary.Lists, &summary.Memberships); err != nil {
		return storage.Summary{}, fmt.Errorf("cache summary: %w", err)
	}
	return summary, nil
}

func scanWord(row *sql.Row, op string) (storage.Word, error) {
	var word storage.Word
	var jmdictID sql.NullString
	err := row.Scan(&word.RenshuuID, &word.Japanese, &word.Reading, &jmdictID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Word{}, storage.ErrNotFound
		}
		return storage.Word{}, fmt.Errorf("%s: %w", op, err)
	}
	if jmdictID.Valid {
		word.JmdictID = jmdictID.String
	}
	return word, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func isMembershipUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint failed") &&
		strings.Contains(message, "list_memberships")
}

var _ storage.Store = (*Store)(nil)
