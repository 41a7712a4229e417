// Package pgstore backs the Store contract with Postgres. Documents live in
// one jsonb table; every write raises a pg_notify so other hub processes see
// the change, and Subscribe bridges LISTEN into the local fanout.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"nexus/internal/store"
)

const notifyChannel = "store_changes"

type PGStore struct {
	pool   *pgxpool.Pool
	log    *slog.Logger
	fanout *store.Fanout
	dsn    string
}

func Connect(ctx context.Context, databaseURL string, logger *slog.Logger) (*PGStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 20
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 10 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &PGStore{
		pool:   pool,
		log:    logger,
		fanout: store.NewFanout(),
		dsn:    databaseURL,
	}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	go s.listen(ctx)
	return s, nil
}

func (s *PGStore) Close() {
	s.pool.Close()
}

func (s *PGStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS store_entries (
			path       text PRIMARY KEY,
			value      jsonb NOT NULL,
			version    bigint NOT NULL DEFAULT 1,
			updated_at timestamptz NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("migrate store_entries: %w", err)
	}
	return nil
}

func (s *PGStore) Read(ctx context.Context, path string) (store.Entry, error) {
	var entry store.Entry
	err := s.pool.QueryRow(ctx, `
		SELECT value, version
		FROM store_entries
		WHERE path = $1
	`, path).Scan(&entry.Value, &entry.Version)
	if err == pgx.ErrNoRows {
		return store.Entry{}, store.ErrNotFound
	}
	if err != nil {
		return store.Entry{}, err
	}
	return entry, nil
}

func (s *PGStore) Write(ctx context.Context, path string, value any) error {
	raw, err := store.Marshal(value)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO store_entries (path, value)
		VALUES ($1, $2::jsonb)
		ON CONFLICT (path) DO UPDATE
		SET value = $2::jsonb,
		    version = store_entries.version + 1,
		    updated_at = now()
	`, path, string(raw))
	if err != nil {
		return err
	}
	return s.notify(ctx, path)
}

func (s *PGStore) CompareAndSwap(ctx context.Context, path string, value any, version int64) error {
	raw, err := store.Marshal(value)
	if err != nil {
		return err
	}
	if version == 0 {
		cmd, err := s.pool.Exec(ctx, `
			INSERT INTO store_entries (path, value)
			VALUES ($1, $2::jsonb)
			ON CONFLICT (path) DO NOTHING
		`, path, string(raw))
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			return fmt.Errorf("create %s: %w", path, store.ErrVersionConflict)
		}
		return s.notify(ctx, path)
	}

	cmd, err := s.pool.Exec(ctx, `
		UPDATE store_entries
		SET value = $2::jsonb,
		    version = version + 1,
		    updated_at = now()
		WHERE path = $1 AND version = $3
	`, path, string(raw), version)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("swap %s at v%d: %w", path, version, store.ErrVersionConflict)
	}
	return s.notify(ctx, path)
}

func (s *PGStore) Patch(ctx context.Context, writes map[string]any) error {
	// Independent writes per the contract; no surrounding transaction.
	for path, value := range writes {
		if err := s.Write(ctx, path, value); err != nil {
			return err
		}
	}
	return nil
}

func (s *PGStore) Increment(ctx context.Context, path string, delta int64) (int64, error) {
	var next int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO store_entries (path, value)
		VALUES ($1, to_jsonb($2::bigint))
		ON CONFLICT (path) DO UPDATE
		SET value = to_jsonb(COALESCE((store_entries.value #>> '{}')::bigint, 0) + $2),
		    version = store_entries.version + 1,
		    updated_at = now()
		RETURNING (value #>> '{}')::bigint
	`, path, delta).Scan(&next)
	if err != nil {
		return 0, err
	}
	if err := s.notify(ctx, path); err != nil {
		return next, err
	}
	return next, nil
}

func (s *PGStore) Delete(ctx context.Context, path string) error {
	cmd, err := s.pool.Exec(ctx, `DELETE FROM store_entries WHERE path = $1`, path)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() > 0 {
		return s.notify(ctx, path)
	}
	return nil
}

func (s *PGStore) List(ctx context.Context, prefix string) (map[string]store.Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT path, value, version
		FROM store_entries
		WHERE path = $1 OR path LIKE $1 || '/%'
	`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]store.Entry{}
	for rows.Next() {
		var path string
		var entry store.Entry
		if err := rows.Scan(&path, &entry.Value, &entry.Version); err != nil {
			return nil, err
		}
		out[path] = entry
	}
	return out, rows.Err()
}

func (s *PGStore) Subscribe(ctx context.Context, prefix string) (<-chan store.Event, error) {
	existing, err := s.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	snapshot := make([]store.Event, 0, len(existing))
	for path, entry := range existing {
		snapshot = append(snapshot, store.Event{Path: path, Kind: store.EventPut, Entry: entry})
	}
	return s.fanout.Register(ctx, prefix, snapshot), nil
}

func (s *PGStore) notify(ctx context.Context, path string) error {
	_, err := s.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, path)
	return err
}

// listen holds a dedicated connection on LISTEN and republishes each
// notification into the local fanout. The payload is the changed path; the
// current value is re-read so subscribers always see the latest entry
// (at-least-once, not every intermediate state).
func (s *PGStore) listen(ctx context.Context) {
	for ctx.Err() == nil {
		if err := s.listenOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.Error("store listener lost, reconnecting", "err", err)
			if err := sleepListen(ctx); err != nil {
				return
			}
		}
	}
}

func (s *PGStore) listenOnce(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, s.dsn)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, `LISTEN `+notifyChannel); err != nil {
		return err
	}
	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		path := notification.Payload
		entry, err := s.Read(ctx, path)
		if errors.Is(err, store.ErrNotFound) {
			s.fanout.Publish(store.Event{Path: path, Kind: store.EventDelete})
			continue
		}
		if err != nil {
			return err
		}
		s.fanout.Publish(store.Event{Path: path, Kind: store.EventPut, Entry: entry})
	}
}

func sleepListen(ctx context.Context) error {
	t := time.NewTimer(2 * time.Second)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
