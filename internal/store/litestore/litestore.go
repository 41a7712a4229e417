// Package litestore backs the Store contract with an embedded SQLite file.
// It serves single-machine deployments that want durability without running
// Postgres; subscriptions are process-local.
package litestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"nexus/internal/store"
)

type Litestore struct {
	db     *sql.DB
	fanout *store.Fanout
}

func Open(ctx context.Context, path string) (*Litestore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serializes writers anyway; one connection avoids SQLITE_BUSY
	// churn under concurrent CAS retries.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS store_entries (
			path       TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			version    INTEGER NOT NULL DEFAULT 1,
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store_entries: %w", err)
	}
	return &Litestore{db: db, fanout: store.NewFanout()}, nil
}

func (l *Litestore) Close() error {
	return l.db.Close()
}

func (l *Litestore) Read(ctx context.Context, path string) (store.Entry, error) {
	var value string
	var entry store.Entry
	err := l.db.QueryRowContext(ctx, `
		SELECT value, version FROM store_entries WHERE path = ?
	`, path).Scan(&value, &entry.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Entry{}, store.ErrNotFound
	}
	if err != nil {
		return store.Entry{}, err
	}
	entry.Value = []byte(value)
	return entry, nil
}

func (l *Litestore) Write(ctx context.Context, path string, value any) error {
	raw, err := store.Marshal(value)
	if err != nil {
		return err
	}
	var version int64
	err = l.db.QueryRowContext(ctx, `
		INSERT INTO store_entries (path, value)
		VALUES (?, ?)
		ON CONFLICT (path) DO UPDATE
		SET value = excluded.value,
		    version = store_entries.version + 1,
		    updated_at = datetime('now')
		RETURNING version
	`, path, string(raw)).Scan(&version)
	if err != nil {
		return err
	}
	l.fanout.Publish(store.Event{
		Path:  path,
		Kind:  store.EventPut,
		Entry: store.Entry{Value: raw, Version: version},
	})
	return nil
}

func (l *Litestore) CompareAndSwap(ctx context.Context, path string, value any, version int64) error {
	raw, err := store.Marshal(value)
	if err != nil {
		return err
	}
	if version == 0 {
		res, err := l.db.ExecContext(ctx, `
			INSERT INTO store_entries (path, value)
			VALUES (?, ?)
			ON CONFLICT (path) DO NOTHING
		`, path, string(raw))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("create %s: %w", path, store.ErrVersionConflict)
		}
		l.fanout.Publish(store.Event{
			Path:  path,
			Kind:  store.EventPut,
			Entry: store.Entry{Value: raw, Version: 1},
		})
		return nil
	}

	res, err := l.db.ExecContext(ctx, `
		UPDATE store_entries
		SET value = ?, version = version + 1, updated_at = datetime('now')
		WHERE path = ? AND version = ?
	`, string(raw), path, version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("swap %s at v%d: %w", path, version, store.ErrVersionConflict)
	}
	l.fanout.Publish(store.Event{
		Path:  path,
		Kind:  store.EventPut,
		Entry: store.Entry{Value: raw, Version: version + 1},
	})
	return nil
}

func (l *Litestore) Patch(ctx context.Context, writes map[string]any) error {
	for path, value := range writes {
		if err := l.Write(ctx, path, value); err != nil {
			return err
		}
	}
	return nil
}

func (l *Litestore) Increment(ctx context.Context, path string, delta int64) (int64, error) {
	var next, version int64
	err := l.db.QueryRowContext(ctx, `
		INSERT INTO store_entries (path, value)
		VALUES (?, CAST(? AS TEXT))
		ON CONFLICT (path) DO UPDATE
		SET value = CAST(CAST(store_entries.value AS INTEGER) + ? AS TEXT),
		    version = store_entries.version + 1,
		    updated_at = datetime('now')
		RETURNING CAST(value AS INTEGER), version
	`, path, delta, delta).Scan(&next, &version)
	if err != nil {
		return 0, err
	}
	l.fanout.Publish(store.Event{
		Path:  path,
		Kind:  store.EventPut,
		Entry: store.Entry{Value: []byte(fmt.Sprintf("%d", next)), Version: version},
	})
	return next, nil
}

func (l *Litestore) Delete(ctx context.Context, path string) error {
	res, err := l.db.ExecContext(ctx, `DELETE FROM store_entries WHERE path = ?`, path)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		l.fanout.Publish(store.Event{Path: path, Kind: store.EventDelete})
	}
	return nil
}

func (l *Litestore) List(ctx context.Context, prefix string) (map[string]store.Entry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT path, value, version FROM store_entries
		WHERE path = ? OR path LIKE ? || '/%'
	`, prefix, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]store.Entry{}
	for rows.Next() {
		var path, value string
		var entry store.Entry
		if err := rows.Scan(&path, &value, &entry.Version); err != nil {
			return nil, err
		}
		entry.Value = []byte(value)
		out[path] = entry
	}
	return out, rows.Err()
}

func (l *Litestore) Subscribe(ctx context.Context, prefix string) (<-chan store.Event, error) {
	existing, err := l.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	snapshot := make([]store.Event, 0, len(existing))
	for path, entry := range existing {
		snapshot = append(snapshot, store.Event{Path: path, Kind: store.EventPut, Entry: entry})
	}
	return l.fanout.Register(ctx, prefix, snapshot), nil
}
