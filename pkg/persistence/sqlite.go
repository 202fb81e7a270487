// Copyright 2026 Nexiot GmbH
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

package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nexiot/shadow-core/pkg/models"
)

// sqliteStore persists shadow documents in a single SQLite table with the
// version held in its own column so the compare-and-swap can be expressed
// as `UPDATE ... WHERE device_id = ? AND version = ?`.
type sqliteStore struct {
	db     *sql.DB
	closed bool
}

// NewSQLiteStore opens (creating if necessary) a SQLite-backed shadow
// store at dbPath. WAL mode with a busy timeout; a single connection,
// since all writes funnel through the coordinator anyway.
func NewSQLiteStore(dbPath string) (Store, error) {
	db, err := sql.Open("sqlite3", buildConnectionString(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	schema := `CREATE TABLE IF NOT EXISTS shadows (
		device_id TEXT PRIMARY KEY,
		version INTEGER NOT NULL,
		updated_at TEXT NOT NULL,
		data BLOB NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to create shadows table: %w", err)
	}

	return &sqliteStore{db: db}, nil
}

func buildConnectionString(dbPath string) string {
	baseParams := "?cache=shared&mode=rwc&_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000&_cache_size=-64000"

	if runtime.GOOS == "darwin" {
		baseParams += "&_fullfsync=1"
	}

	return dbPath + baseParams
}

func (s *sqliteStore) Get(ctx context.Context, deviceID string) (*models.ShadowDocument, bool, error) {
	if s.closed {
		return nil, false, ErrStoreClosed
	}

	var data []byte

	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM shadows WHERE device_id = ?`, deviceID).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}

		return nil, false, fmt.Errorf("failed to get document: %w", err)
	}

	var doc models.ShadowDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal document: %w", err)
	}

	return &doc, true, nil
}

func (s *sqliteStore) CompareAndSwap(ctx context.Context, deviceID string, expectedVersion int64, mutate Mutator) (*models.ShadowDocument, error) {
	if s.closed {
		return nil, ErrStoreClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	var (
		storedVersion int64
		data          []byte
	)

	err = tx.QueryRowContext(ctx,
		`SELECT version, data FROM shadows WHERE device_id = ?`, deviceID).
		Scan(&storedVersion, &data)

	exists := true

	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("failed to read document: %w", err)
		}

		exists = false
	}

	var working *models.ShadowDocument

	switch {
	case expectedVersion == CreateVersion:
		if exists {
			return nil, ErrVersionConflict
		}

		working = &models.ShadowDocument{
			DeviceID: deviceID,
			Reported: models.PropertyMap{},
			Desired:  models.PropertyMap{},
		}
	case !exists:
		return nil, ErrNotFound
	case storedVersion != expectedVersion:
		return nil, ErrVersionConflict
	default:
		working = &models.ShadowDocument{}
		if err := json.Unmarshal(data, working); err != nil {
			return nil, fmt.Errorf("failed to unmarshal document: %w", err)
		}
	}

	next, err := mutate(working)
	if err != nil {
		return nil, err
	}

	next.DeviceID = deviceID
	next.Version = expectedVersion + 1
	next.UpdatedAt = time.Now().UTC()

	encoded, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}

	if exists {
		result, err := tx.ExecContext(ctx,
			`UPDATE shadows SET version = ?, updated_at = ?, data = ? WHERE device_id = ? AND version = ?`,
			next.Version, next.UpdatedAt.Format(time.RFC3339Nano), encoded, deviceID, expectedVersion)
		if err != nil {
			return nil, fmt.Errorf("failed to update document: %w", err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to get rows affected: %w", err)
		}

		if affected == 0 {
			return nil, ErrVersionConflict
		}
	} else {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO shadows (device_id, version, updated_at, data) VALUES (?, ?, ?, ?)`,
			deviceID, next.Version, next.UpdatedAt.Format(time.RFC3339Nano), encoded)
		if err != nil {
			return nil, fmt.Errorf("failed to insert document: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return next, nil
}

func (s *sqliteStore) Delete(ctx context.Context, deviceID string) error {
	if s.closed {
		return ErrStoreClosed
	}

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM shadows WHERE device_id = ?`, deviceID)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *sqliteStore) Close() error {
	if s.closed {
		return nil
	}

	s.closed = true

	return s.db.Close()
}
