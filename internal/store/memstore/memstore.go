// Package memstore is the in-process Store backend. It backs single-node dev
// runs and every package test; semantics (versioning, CAS, subscription
// snapshot-then-changes) match the Postgres backend.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"nexus/internal/store"
)

type Memstore struct {
	mu      sync.RWMutex
	entries map[string]store.Entry
	fanout  *store.Fanout
}

func New() *Memstore {
	return &Memstore{
		entries: map[string]store.Entry{},
		fanout:  store.NewFanout(),
	}
}

func (m *Memstore) Read(_ context.Context, path string) (store.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[path]
	if !ok {
		return store.Entry{}, store.ErrNotFound
	}
	return entry, nil
}

func (m *Memstore) Write(_ context.Context, path string, value any) error {
	raw, err := store.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	entry := store.Entry{Value: raw, Version: m.entries[path].Version + 1}
	m.entries[path] = entry
	m.mu.Unlock()

	m.fanout.Publish(store.Event{Path: path, Kind: store.EventPut, Entry: entry})
	return nil
}

func (m *Memstore) CompareAndSwap(_ context.Context, path string, value any, version int64) error {
	raw, err := store.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	cur, exists := m.entries[path]
	if version == 0 && exists {
		m.mu.Unlock()
		return fmt.Errorf("create %s: %w", path, store.ErrVersionConflict)
	}
	if version != 0 && (!exists || cur.Version != version) {
		m.mu.Unlock()
		return fmt.Errorf("swap %s at v%d: %w", path, version, store.ErrVersionConflict)
	}
	entry := store.Entry{Value: raw, Version: cur.Version + 1}
	m.entries[path] = entry
	m.mu.Unlock()

	m.fanout.Publish(store.Event{Path: path, Kind: store.EventPut, Entry: entry})
	return nil
}

func (m *Memstore) Patch(ctx context.Context, writes map[string]any) error {
	// Deterministic order, but still independent writes: an error leaves
	// the earlier paths applied.
	paths := make([]string, 0, len(writes))
	for p := range writes {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		if err := m.Write(ctx, p, writes[p]); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memstore) Increment(_ context.Context, path string, delta int64) (int64, error) {
	m.mu.Lock()
	cur := int64(0)
	if entry, ok := m.entries[path]; ok {
		if err := json.Unmarshal(entry.Value, &cur); err != nil {
			m.mu.Unlock()
			return 0, fmt.Errorf("increment %s: non-numeric entry", path)
		}
	}
	next := cur + delta
	entry := store.Entry{
		Value:   json.RawMessage(strconv.FormatInt(next, 10)),
		Version: m.entries[path].Version + 1,
	}
	m.entries[path] = entry
	m.mu.Unlock()

	m.fanout.Publish(store.Event{Path: path, Kind: store.EventPut, Entry: entry})
	return next, nil
}

func (m *Memstore) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	_, existed := m.entries[path]
	delete(m.entries, path)
	m.mu.Unlock()

	if existed {
		m.fanout.Publish(store.Event{Path: path, Kind: store.EventDelete})
	}
	return nil
}

func (m *Memstore) List(_ context.Context, prefix string) (map[string]store.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := map[string]store.Entry{}
	for path, entry := range m.entries {
		if store.Under(path, prefix) {
			out[path] = entry
		}
	}
	return out, nil
}

func (m *Memstore) Subscribe(ctx context.Context, prefix string) (<-chan store.Event, error) {
	m.mu.RLock()
	var snapshot []store.Event
	for path, entry := range m.entries {
		if store.Under(path, prefix) {
			snapshot = append(snapshot, store.Event{Path: path, Kind: store.EventPut, Entry: entry})
		}
	}
	m.mu.RUnlock()

	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].Path < snapshot[j].Path })
	return m.fanout.Register(ctx, prefix, snapshot), nil
}
