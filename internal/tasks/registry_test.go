package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeSender struct {
	mu    sync.Mutex
	sent  []string
	fails map[string]error
}

func newFakeSender() *fakeSender {
	return &fakeSender{fails: make(map[string]error)}
}

func (s *fakeSender) SendFile(ctx context.Context, groupID, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.fails[groupID]; ok {
		return err
	}
	s.sent = append(s.sent, groupID)
	return nil
}

func newTestRegistry(t *testing.T) (*Registry, *fakeSender) {
	t.Helper()
	sender := newFakeSender()
	return NewRegistry(NewMemoryStore(), sender, zerolog.Nop(), nil), sender
}

func TestRegistryCreateRejectsActiveDuplicate(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	first, err := r.Create(ctx, CreateRequest{Name: "news", TargetGroups: []string{"g1", "g2"}})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	_, err = r.Create(ctx, CreateRequest{Name: "news", TargetGroups: []string{"g3"}})
	var dup *DuplicateTaskError
	if !errors.As(err, &dup) {
		t.Fatalf("Create() duplicate error = %v, want *DuplicateTaskError", err)
	}
	if len(dup.ConflictingIDs) != 1 || dup.ConflictingIDs[0] != first.ID {
		t.Errorf("ConflictingIDs = %v, want [%s]", dup.ConflictingIDs, first.ID)
	}

	// Archiving the original frees the name for a fresh create.
	archived := StatusArchived
	if _, err := r.Update(ctx, first.ID, Patch{Status: &archived}); err != nil {
		t.Fatalf("Update(archive) error = %v", err)
	}
	retried, err := r.Create(ctx, CreateRequest{Name: "news", TargetGroups: []string{"g3"}})
	if err != nil {
		t.Fatalf("Create() after archive error = %v", err)
	}
	if retried.ID == first.ID {
		t.Errorf("retried create reused id %q", retried.ID)
	}
}

func TestRegistryCreateUnicodeExactNames(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	if _, err := r.Create(ctx, CreateRequest{Name: "עדכונים", TargetGroups: []string{"g"}}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	// Case differs: a distinct name, not a conflict.
	if _, err := r.Create(ctx, CreateRequest{Name: "News", TargetGroups: []string{"g"}}); err != nil {
		t.Fatalf("Create(News) error = %v", err)
	}
	if _, err := r.Create(ctx, CreateRequest{Name: "עדכונים", TargetGroups: []string{"g"}}); err == nil {
		t.Fatalf("Create() exact duplicate error = nil, want DuplicateTaskError")
	}
}

func TestRegistryConcurrentCreatesSameName(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	const attempts = 16
	var created, conflicted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Create(ctx, CreateRequest{Name: "race", TargetGroups: []string{"g"}})
			switch {
			case err == nil:
				created.Add(1)
			case errors.As(err, new(*DuplicateTaskError)):
				conflicted.Add(1)
			default:
				t.Errorf("Create() unexpected error = %v", err)
			}
		}()
	}
	wg.Wait()

	if created.Load() != 1 {
		t.Errorf("created = %d, want exactly 1", created.Load())
	}
	if conflicted.Load() != attempts-1 {
		t.Errorf("conflicted = %d, want %d", conflicted.Load(), attempts-1)
	}

	active, err := r.store.List(ctx, Filter{Status: StatusActive, Name: "race"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(active) != 1 {
		t.Errorf("active rows named race = %d, want 1", len(active))
	}
}

func TestRegistryUpdateRejectsCollidingRename(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	if _, err := r.Create(ctx, CreateRequest{Name: "alpha", TargetGroups: []string{"g"}}); err != nil {
		t.Fatalf("Create(alpha) error = %v", err)
	}
	beta, err := r.Create(ctx, CreateRequest{Name: "beta", TargetGroups: []string{"g"}})
	if err != nil {
		t.Fatalf("Create(beta) error = %v", err)
	}

	rename := "alpha"
	if _, err := r.Update(ctx, beta.ID, Patch{Name: &rename}); !errors.As(err, new(*DuplicateTaskError)) {
		t.Fatalf("Update(rename to alpha) error = %v, want DuplicateTaskError", err)
	}

	// Renaming to itself is not a conflict.
	same := "beta"
	if _, err := r.Update(ctx, beta.ID, Patch{Name: &same}); err != nil {
		t.Fatalf("Update(rename to own name) error = %v", err)
	}
}

func TestRegistryReactivationChecksName(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	first, err := r.Create(ctx, CreateRequest{Name: "news", TargetGroups: []string{"g"}})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	archived := StatusArchived
	if _, err := r.Update(ctx, first.ID, Patch{Status: &archived}); err != nil {
		t.Fatalf("Update(archive) error = %v", err)
	}
	if _, err := r.Create(ctx, CreateRequest{Name: "news", TargetGroups: []string{"g"}}); err != nil {
		t.Fatalf("Create() replacement error = %v", err)
	}

	active := StatusActive
	if _, err := r.Update(ctx, first.ID, Patch{Status: &active}); !errors.As(err, new(*DuplicateTaskError)) {
		t.Fatalf("Update(reactivate) error = %v, want DuplicateTaskError", err)
	}
}

func TestRegistryExecutePartialFailure(t *testing.T) {
	r, sender := newTestRegistry(t)
	ctx := context.Background()

	task, err := r.Create(ctx, CreateRequest{Name: "digest", TargetGroups: []string{"g1", "g2", "g3"}})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	sender.fails["g2"] = fmt.Errorf("group unavailable")

	res, err := r.Execute(ctx, task.ID)
	if err != nil {
		t.Fatalf("Execute() error = %v, partial failure must not raise", err)
	}
	if res.Succeeded != 2 || res.Failed != 1 {
		t.Fatalf("result = %d ok / %d failed, want 2/1", res.Succeeded, res.Failed)
	}
	if len(res.Groups) != 3 {
		t.Fatalf("outcomes = %d, want 3", len(res.Groups))
	}
	if res.Groups[1].Sent || res.Groups[1].Error == "" {
		t.Errorf("g2 outcome = %+v, want failure with error text", res.Groups[1])
	}

	got, err := r.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.LastActivity == nil {
		t.Errorf("LastActivity not recorded after partial success")
	}
}

func TestRegistryExecuteCancelledMidBatch(t *testing.T) {
	r, sender := newTestRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())

	task, err := r.Create(ctx, CreateRequest{Name: "big", TargetGroups: []string{"g1", "g2", "g3"}})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// Cancel after the first send; remaining groups must stay unrecorded.
	cancelAfterFirst := &cancellingSender{inner: sender, cancel: cancel, after: 1}
	r.sender = cancelAfterFirst

	res, err := r.Execute(ctx, task.ID)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.Succeeded != 1 {
		t.Errorf("Succeeded = %d, want 1", res.Succeeded)
	}
	if len(res.Groups) != 1 {
		t.Errorf("outcomes = %d, want only the group sent before cancellation", len(res.Groups))
	}

	got, err := r.Get(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.LastActivity == nil {
		t.Errorf("sent group not recorded after cancellation")
	}
}

type cancellingSender struct {
	inner  Sender
	cancel context.CancelFunc
	after  int
	calls  int
}

func (s *cancellingSender) SendFile(ctx context.Context, groupID, filePath string) error {
	err := s.inner.SendFile(ctx, groupID, filePath)
	s.calls++
	if s.calls == s.after {
		s.cancel()
	}
	return err
}

func TestRegistryReconcileKeepsNewest(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	// Seed duplicate state directly through the store, the way a legacy bug
	// would have left it.
	older, err := r.store.Insert(ctx, Task{Name: "news", TargetGroups: []string{"g1"}})
	if err != nil {
		t.Fatalf("Insert(older) error = %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	newer, err := r.store.Insert(ctx, Task{Name: "news", TargetGroups: []string{"g2"}})
	if err != nil {
		t.Fatalf("Insert(newer) error = %v", err)
	}

	report, err := r.ReconcileDuplicates(ctx)
	if err != nil {
		t.Fatalf("ReconcileDuplicates() error = %v", err)
	}
	if len(report.Actions) != 1 {
		t.Fatalf("actions = %d, want 1", len(report.Actions))
	}
	action := report.Actions[0]
	if action.KeptID != newer.ID {
		t.Errorf("KeptID = %q, want newest %q", action.KeptID, newer.ID)
	}
	if len(action.ArchivedIDs) != 1 || action.ArchivedIDs[0] != older.ID {
		t.Errorf("ArchivedIDs = %v, want [%s]", action.ArchivedIDs, older.ID)
	}

	gotOlder, _ := r.store.Get(ctx, older.ID)
	if gotOlder.Status != StatusArchived {
		t.Errorf("older status = %q, want archived (never silently deleted)", gotOlder.Status)
	}

	// Repair is idempotent.
	again, err := r.ReconcileDuplicates(ctx)
	if err != nil {
		t.Fatalf("ReconcileDuplicates() rerun error = %v", err)
	}
	if len(again.Actions) != 0 {
		t.Errorf("rerun actions = %d, want 0", len(again.Actions))
	}
}

func TestRegistryActiveSummary(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	count, next, err := r.ActiveSummary(ctx)
	if err != nil || count != 0 || next != nil {
		t.Fatalf("ActiveSummary(empty) = (%d, %v, %v), want (0, nil, nil)", count, next, err)
	}

	if _, err := r.Create(ctx, CreateRequest{Name: "manual", TargetGroups: []string{"g"}}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := r.Create(ctx, CreateRequest{Name: "hourly", TargetGroups: []string{"g"}, Schedule: "0 * * * *"}); err != nil {
		t.Fatalf("Create(scheduled) error = %v", err)
	}

	count, next, err = r.ActiveSummary(ctx)
	if err != nil {
		t.Fatalf("ActiveSummary() error = %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
	if next == nil || !next.After(time.Now().Add(-time.Minute)) {
		t.Errorf("next = %v, want upcoming hourly run", next)
	}
}

func TestRegistryMutationNotifier(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	var fired atomic.Int64
	r.SetNotifier(func() { fired.Add(1) })

	task, err := r.Create(ctx, CreateRequest{Name: "n", TargetGroups: []string{"g"}})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if fired.Load() != 1 {
		t.Errorf("notifier after create = %d, want 1", fired.Load())
	}
	if err := r.Delete(ctx, task.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := r.Delete(ctx, task.ID); err != nil {
		t.Fatalf("Delete() repeat error = %v, want nil (idempotent)", err)
	}
	if fired.Load() != 3 {
		t.Errorf("notifier count = %d, want 3", fired.Load())
	}
}

func TestRegistryCreateRejectsBadSchedule(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := r.Create(context.Background(), CreateRequest{
		Name:         "bad",
		TargetGroups: []string{"g"},
		Schedule:     "not a cron expr",
	})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Create() error = %v, want *ValidationError", err)
	}
}

func TestRegistryExecuteDueAdvancesSchedule(t *testing.T) {
	r, sender := newTestRegistry(t)
	ctx := context.Background()

	task, err := r.Create(ctx, CreateRequest{
		Name:         "minutely",
		TargetGroups: []string{"g1"},
		Schedule:     "* * * * *",
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// Force the task due by rewinding its next run.
	past := time.Now().UTC().Add(-time.Minute)
	if _, err := r.store.Update(ctx, task.ID, Patch{NextRun: &past}); err != nil {
		t.Fatalf("rewind next_run: %v", err)
	}

	now := time.Now().UTC()
	if err := r.ExecuteDue(ctx, now); err != nil {
		t.Fatalf("ExecuteDue() error = %v", err)
	}
	if len(sender.sent) != 1 || sender.sent[0] != "g1" {
		t.Fatalf("sent = %v, want [g1]", sender.sent)
	}

	got, err := r.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.NextRun == nil || !got.NextRun.After(now) {
		t.Errorf("NextRun = %v, want advanced past %v", got.NextRun, now)
	}
}

func TestRegistryClearingScheduleClearsNextRun(t *testing.T) {
	r, sender := newTestRegistry(t)
	ctx := context.Background()

	task, err := r.Create(ctx, CreateRequest{
		Name:         "hourly",
		TargetGroups: []string{"g1"},
		Schedule:     "0 * * * *",
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if task.NextRun == nil {
		t.Fatal("scheduled create left NextRun nil")
	}

	empty := ""
	updated, err := r.Update(ctx, task.ID, Patch{Schedule: &empty})
	if err != nil {
		t.Fatalf("Update(clear schedule) error = %v", err)
	}
	if updated.NextRun != nil {
		t.Fatalf("NextRun after clearing schedule = %v, want nil", updated.NextRun)
	}

	// A now-manual task must never fire on the sweep.
	if err := r.ExecuteDue(ctx, time.Now().UTC().Add(time.Hour)); err != nil {
		t.Fatalf("ExecuteDue() error = %v", err)
	}
	if len(sender.sent) != 0 {
		t.Errorf("manual-only task fired %d times via sweep, want 0", len(sender.sent))
	}
}

func TestRegistryExecuteDueRepairsStaleNextRun(t *testing.T) {
	r, sender := newTestRegistry(t)
	ctx := context.Background()

	// An old row can carry a next-run time with no schedule, e.g. written
	// before schedule clearing also cleared next_run. Seed one directly.
	past := time.Now().UTC().Add(-time.Minute)
	seeded, err := r.store.Insert(ctx, Task{
		Name:         "orphaned",
		TargetGroups: []string{"g1"},
		Status:       StatusActive,
		NextRun:      &past,
	})
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := r.ExecuteDue(ctx, time.Now().UTC()); err != nil {
			t.Fatalf("ExecuteDue() sweep %d error = %v", i+1, err)
		}
	}
	if len(sender.sent) != 0 {
		t.Errorf("manual-only task fired %d times via sweep, want 0", len(sender.sent))
	}

	got, err := r.Get(ctx, seeded.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.NextRun != nil {
		t.Errorf("NextRun = %v, want cleared by the sweep", got.NextRun)
	}
}

func TestRegistryUpdateRejectsEmptyName(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	task, err := r.Create(ctx, CreateRequest{Name: "named", TargetGroups: []string{"g"}})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	for _, name := range []string{"", "   "} {
		_, err := r.Update(ctx, task.ID, Patch{Name: &name})
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("Update(name=%q) error = %v, want *ValidationError", name, err)
		}
	}

	got, err := r.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Name != "named" {
		t.Errorf("Name = %q, want unchanged", got.Name)
	}
}
