package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"castellan-hq/portcullis/pkg/policy"
	"castellan-hq/portcullis/pkg/policy/storage"
)

const policyYAML = `policies:
  - id: curfew
    name: night curfew
    priority: 10
    scope: global
    active: true
    condition:
      kind: time_window
      start: "06:00"
      end: "22:00"
  - id: weekday-providers
    name: provider weekdays
    priority: 20
    scope: provider
    active: true
    condition:
      kind: day_of_week
      days: [monday, tuesday, wednesday, thursday, friday]
`

func TestActiveSetReadThrough(t *testing.T) {
	store := storage.NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	mustCreate := func(id string, priority int, active bool) {
		t.Helper()
		err := store.Create(ctx, &policy.Policy{
			ID:       id,
			Name:     id,
			Priority: priority,
			Scope:    policy.ScopeGlobal,
			Active:   active,
			Condition: policy.Condition{
				Kind: policy.ConditionRequireAuth,
			},
		})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	mustCreate("second", 20, true)
	mustCreate("first", 10, true)
	mustCreate("dormant", 5, false)

	set := NewActiveSet(store, nil)

	got, err := set.Policies(ctx)
	if err != nil {
		t.Fatalf("Policies failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 active policies, got %d", len(got))
	}
	if got[0].ID != "first" || got[1].ID != "second" {
		t.Errorf("expected evaluation order [first second], got [%s %s]", got[0].ID, got[1].ID)
	}

	// A store change is invisible until invalidation.
	mustCreate("third", 30, true)
	got, _ = set.Policies(ctx)
	if len(got) != 2 {
		t.Errorf("expected cached set of 2, got %d", len(got))
	}

	set.Invalidate()
	got, _ = set.Policies(ctx)
	if len(got) != 3 {
		t.Errorf("expected reloaded set of 3, got %d", len(got))
	}
}

func TestFileSourceLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policies.yaml")
	if err := os.WriteFile(path, []byte(policyYAML), 0o644); err != nil {
		t.Fatalf("failed to write policy file: %v", err)
	}

	src := NewFileSource(path, nil)
	policies, err := src.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(policies) != 2 {
		t.Fatalf("expected 2 policies, got %d", len(policies))
	}
	if policies[0].ID != "curfew" || policies[0].Condition.Kind != policy.ConditionTimeWindow {
		t.Errorf("unexpected first policy: %+v", policies[0])
	}
	if policies[1].Scope != "provider" || len(policies[1].Condition.Days) != 5 {
		t.Errorf("unexpected second policy: %+v", policies[1])
	}
}

func TestFileSourceLoadDirectorySkipsInvalid(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "good.yaml"), []byte(policyYAML), 0o644); err != nil {
		t.Fatalf("failed to write policy file: %v", err)
	}
	bad := "policies:\n  - id: broken\n    condition:\n      kind: mystery\n"
	if err := os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte(bad), 0o644); err != nil {
		t.Fatalf("failed to write policy file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	src := NewFileSource(dir, nil)
	policies, err := src.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(policies) != 2 {
		t.Errorf("expected 2 policies from the valid file, got %d", len(policies))
	}
}

func TestFileSourceRejectsMalformedSingleFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policies.yaml")
	bad := "policies:\n  - id: broken\n    condition:\n      kind: time_window\n      start: \"25:00\"\n      end: \"06:00\"\n"
	if err := os.WriteFile(path, []byte(bad), 0o644); err != nil {
		t.Fatalf("failed to write policy file: %v", err)
	}

	src := NewFileSource(path, nil)
	if _, err := src.Load(context.Background()); err == nil {
		t.Error("expected error loading malformed policy file")
	}
}

func TestFileSourceSync(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policies.yaml")
	if err := os.WriteFile(path, []byte(policyYAML), 0o644); err != nil {
		t.Fatalf("failed to write policy file: %v", err)
	}

	store := storage.NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	src := NewFileSource(path, nil)
	set := NewActiveSet(store, nil)

	if err := src.Sync(ctx, store, set); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	policies, _ := set.Policies(ctx)
	if len(policies) != 2 {
		t.Fatalf("expected 2 policies after sync, got %d", len(policies))
	}

	// Second sync updates in place instead of failing on duplicates.
	if err := src.Sync(ctx, store, set); err != nil {
		t.Fatalf("repeated Sync failed: %v", err)
	}
	all, _ := store.List(ctx)
	if len(all) != 2 {
		t.Errorf("expected 2 policies in store after repeated sync, got %d", len(all))
	}
}

// wrappingPolicyStore decorates Update to wrap the not-found sentinel
// the way an instrumented backend might.
type wrappingPolicyStore struct {
	policy.Store
}

func (w wrappingPolicyStore) Update(ctx context.Context, p *policy.Policy) error {
	if err := w.Store.Update(ctx, p); err != nil {
		return fmt.Errorf("policy upsert: %w", err)
	}
	return nil
}

func TestFileSourceSyncHandlesWrappedNotFound(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policies.yaml")
	if err := os.WriteFile(path, []byte(policyYAML), 0o644); err != nil {
		t.Fatalf("failed to write policy file: %v", err)
	}

	store := storage.NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	src := NewFileSource(path, nil)
	if err := src.Sync(ctx, wrappingPolicyStore{store}, nil); err != nil {
		t.Fatalf("Sync failed on wrapped not-found sentinel: %v", err)
	}

	all, _ := store.List(ctx)
	if len(all) != 2 {
		t.Errorf("expected 2 policies created through the wrapper, got %d", len(all))
	}
}

func TestDebouncerCollapsesBursts(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	var fired atomic.Int32
	for i := 0; i < 5; i++ {
		d.Trigger(func() { fired.Add(1) })
	}

	time.Sleep(100 * time.Millisecond)
	if got := fired.Load(); got != 1 {
		t.Errorf("expected 1 callback after burst, got %d", got)
	}
}

func TestFileWatcherTriggersReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policies.yaml")
	if err := os.WriteFile(path, []byte(policyYAML), 0o644); err != nil {
		t.Fatalf("failed to write policy file: %v", err)
	}

	config := DefaultFileWatcherConfig()
	config.Path = dir
	config.DebounceInterval = 10 * time.Millisecond

	fw, err := NewFileWatcher(config, nil)
	if err != nil {
		t.Fatalf("NewFileWatcher failed: %v", err)
	}

	reloaded := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = fw.Watch(ctx, func() error {
			select {
			case reloaded <- struct{}{}:
			default:
			}
			return nil
		})
	}()

	// Give the watcher time to register the directory.
	time.Sleep(50 * time.Millisecond)

	if err := os.WriteFile(path, []byte(policyYAML+"\n"), 0o644); err != nil {
		t.Fatalf("failed to modify policy file: %v", err)
	}

	select {
	case <-reloaded:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a reload after file modification")
	}
}
