// Package store defines the path-addressed replicated state store that every
// game protocol reads and writes. Values are JSON documents keyed by
// slash-separated paths ("users/alice", "core/state"). Each entry carries a
// version; protocols update shared records with CompareAndSwap and retry on
// conflict instead of trusting a last-write-wins race.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound        = errors.New("store: path not found")
	ErrVersionConflict = errors.New("store: version conflict")
)

// Entry is one stored document plus the version CAS operates on.
type Entry struct {
	Value   json.RawMessage
	Version int64
}

func (e Entry) Decode(v any) error {
	if len(e.Value) == 0 {
		return ErrNotFound
	}
	return json.Unmarshal(e.Value, v)
}

type EventKind int

const (
	EventPut EventKind = iota + 1
	EventDelete
)

// Event is one change delivered on a subscription channel.
type Event struct {
	Path  string
	Kind  EventKind
	Entry Entry
}

type Store interface {
	// Read returns the entry at path, or ErrNotFound.
	Read(ctx context.Context, path string) (Entry, error)
	// Write overwrites path, creating it if absent, and bumps the version.
	Write(ctx context.Context, path string, value any) error
	// CompareAndSwap writes path only if its version still equals version.
	// version 0 means "create; the path must not exist yet". Returns
	// ErrVersionConflict when the precondition fails.
	CompareAndSwap(ctx context.Context, path string, value any, version int64) error
	// Patch applies several writes. The writes are independent operations,
	// not a transaction; a failure may leave a prefix applied.
	Patch(ctx context.Context, writes map[string]any) error
	// Increment atomically adds delta to the numeric entry at path,
	// creating it at delta when absent, and returns the new value.
	Increment(ctx context.Context, path string, delta int64) (int64, error)
	Delete(ctx context.Context, path string) error
	// List returns every entry whose path equals prefix or sits under
	// prefix + "/".
	List(ctx context.Context, prefix string) (map[string]Entry, error)
	// Subscribe delivers one EventPut per existing entry under prefix,
	// then every subsequent change until ctx is done. Delivery is
	// at-least-once with no ordering guarantee across distinct paths.
	Subscribe(ctx context.Context, prefix string) (<-chan Event, error)
}

const (
	maxUpdateAttempts = 8
	baseRetryDelay    = 75 * time.Millisecond
	maxRetryDelay     = 1200 * time.Millisecond
)

// Update runs the read-validate-CAS loop shared by every protocol: read the
// current entry (nil raw when absent), apply the caller's mutation, and CAS
// the result back, retrying with doubling backoff while other writers win
// the race. Errors other than ErrVersionConflict abort immediately.
func Update(ctx context.Context, s Store, path string, apply func(cur json.RawMessage) (any, error)) error {
	delay := baseRetryDelay
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		var cur json.RawMessage
		var version int64
		entry, err := s.Read(ctx, path)
		switch {
		case err == nil:
			cur = entry.Value
			version = entry.Version
		case errors.Is(err, ErrNotFound):
			// version stays 0: create-if-absent.
		default:
			return err
		}

		next, err := apply(cur)
		if err != nil {
			return err
		}

		err = s.CompareAndSwap(ctx, path, next, version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return err
		}
		if err := sleepWithContext(ctx, delay); err != nil {
			return err
		}
		if delay < maxRetryDelay {
			delay *= 2
		}
	}
	return fmt.Errorf("update %s: %w", path, ErrVersionConflict)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Marshal normalizes a value into the raw JSON form the backends persist.
func Marshal(value any) (json.RawMessage, error) {
	if raw, ok := value.(json.RawMessage); ok {
		return raw, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("store: marshal value: %w", err)
	}
	return raw, nil
}

// Under reports whether path is prefix itself or a descendant of it.
// The empty prefix matches everything.
func Under(path, prefix string) bool {
	if prefix == "" || path == prefix {
		return true
	}
	return len(path) > len(prefix) && path[:len(prefix)] == prefix && path[len(prefix)] == '/'
}
