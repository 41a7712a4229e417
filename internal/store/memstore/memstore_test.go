package memstore

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"nexus/internal/store"
)

func TestReadWriteVersions(t *testing.T) {
	ctx := context.Background()
	m := New()

	if _, err := m.Read(ctx, "users/alice"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := m.Write(ctx, "users/alice", map[string]int{"balance": 250}); err != nil {
		t.Fatalf("write: %v", err)
	}
	entry, err := m.Read(ctx, "users/alice")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if entry.Version != 1 {
		t.Fatalf("version after create = %d, want 1", entry.Version)
	}

	if err := m.Write(ctx, "users/alice", map[string]int{"balance": 300}); err != nil {
		t.Fatalf("write: %v", err)
	}
	entry, _ = m.Read(ctx, "users/alice")
	if entry.Version != 2 {
		t.Fatalf("version after overwrite = %d, want 2", entry.Version)
	}
}

func TestCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	m := New()

	if err := m.CompareAndSwap(ctx, "core/state", map[string]int{"hp": 100}, 0); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := m.CompareAndSwap(ctx, "core/state", map[string]int{"hp": 99}, 0); !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("create over existing: got %v, want conflict", err)
	}
	if err := m.CompareAndSwap(ctx, "core/state", map[string]int{"hp": 99}, 1); err != nil {
		t.Fatalf("swap at current version: %v", err)
	}
	if err := m.CompareAndSwap(ctx, "core/state", map[string]int{"hp": 98}, 1); !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("swap at stale version: got %v, want conflict", err)
	}
}

func TestIncrement(t *testing.T) {
	ctx := context.Background()
	m := New()

	got, err := m.Increment(ctx, "metrics/plays/vault", 1)
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	if got != 1 {
		t.Fatalf("first increment = %d, want 1", got)
	}
	got, _ = m.Increment(ctx, "metrics/plays/vault", 4)
	if got != 5 {
		t.Fatalf("second increment = %d, want 5", got)
	}
	got, _ = m.Increment(ctx, "metrics/plays/vault", -2)
	if got != 3 {
		t.Fatalf("negative delta = %d, want 3", got)
	}
}

func TestListPrefix(t *testing.T) {
	ctx := context.Background()
	m := New()
	for _, p := range []string{"users/alice", "users/bob", "usersx", "auction/state"} {
		if err := m.Write(ctx, p, 1); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}

	got, err := m.List(ctx, "users")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("list users = %d entries, want 2", len(got))
	}
	if _, ok := got["usersx"]; ok {
		t.Fatalf("prefix match leaked sibling path usersx")
	}
}

func TestSubscribeSnapshotThenChanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := New()

	if err := m.Write(ctx, "map/0_0", map[string]string{"owner": "alice"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	ch, err := m.Subscribe(ctx, "map")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	ev := recvEvent(t, ch)
	if ev.Path != "map/0_0" || ev.Kind != store.EventPut {
		t.Fatalf("snapshot event = %+v", ev)
	}

	if err := m.Write(ctx, "map/1_1", map[string]string{"owner": "bob"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	ev = recvEvent(t, ch)
	if ev.Path != "map/1_1" {
		t.Fatalf("change event path = %q, want map/1_1", ev.Path)
	}

	if err := m.Delete(ctx, "map/0_0"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	ev = recvEvent(t, ch)
	if ev.Path != "map/0_0" || ev.Kind != store.EventDelete {
		t.Fatalf("delete event = %+v", ev)
	}

	// Changes outside the prefix stay invisible.
	if err := m.Write(ctx, "users/alice", 1); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %+v for path outside prefix", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUpdateRetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	m := New()

	if err := m.Write(ctx, "treasury/state", map[string]int64{"pool": 1000}); err != nil {
		t.Fatalf("write: %v", err)
	}

	interfered := false
	err := store.Update(ctx, m, "treasury/state", func(cur json.RawMessage) (any, error) {
		var state map[string]int64
		if err := json.Unmarshal(cur, &state); err != nil {
			return nil, err
		}
		if !interfered {
			interfered = true
			// A concurrent writer lands between our read and our CAS.
			if err := m.Write(ctx, "treasury/state", map[string]int64{"pool": 1010}); err != nil {
				return nil, err
			}
		}
		state["pool"] += 5
		return state, nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	entry, _ := m.Read(ctx, "treasury/state")
	var state map[string]int64
	if err := entry.Decode(&state); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if state["pool"] != 1015 {
		t.Fatalf("pool = %d, want 1015 (retry must reread the interfering write)", state["pool"])
	}
}

func TestUpdateCreatesAbsentPath(t *testing.T) {
	ctx := context.Background()
	m := New()

	err := store.Update(ctx, m, "events/e1", func(cur json.RawMessage) (any, error) {
		if cur != nil {
			t.Fatalf("expected nil raw for absent path")
		}
		return map[string]string{"status": "OPEN"}, nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	entry, err := m.Read(ctx, "events/e1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if entry.Version != 1 {
		t.Fatalf("version = %d, want 1", entry.Version)
	}
}

func recvEvent(t *testing.T, ch <-chan store.Event) store.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatalf("subscription channel closed early")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for event")
		return store.Event{}
	}
}
