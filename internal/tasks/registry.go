package tasks

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/Nitzan94/WhatsApp-Group-Summary-Bot-sub001/internal/observability"
)

// Sender is the send capability of the bot session collaborator.
type Sender interface {
	SendFile(ctx context.Context, groupID, filePath string) error
}

// Registry is the only writer path for tasks. It owns the duplicate
// prevention policy: a create or rename that collides with an active task's
// name is rejected, and the check+insert pair runs under a per-name critical
// section so concurrent creates cannot both pass the check.
type Registry struct {
	store   Store
	sender  Sender
	log     zerolog.Logger
	metrics *observability.Metrics

	names nameMutex

	notifyMu sync.RWMutex
	notify   func()
}

func NewRegistry(store Store, sender Sender, log zerolog.Logger, metrics *observability.Metrics) *Registry {
	return &Registry{
		store:   store,
		sender:  sender,
		log:     log.With().Str("component", "registry").Logger(),
		metrics: metrics,
	}
}

// SetNotifier installs the hook fired after every mutation, used to trigger
// an immediate snapshot recomputation.
func (r *Registry) SetNotifier(fn func()) {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()
	r.notify = fn
}

func (r *Registry) notifyMutation() {
	r.notifyMu.RLock()
	fn := r.notify
	r.notifyMu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (r *Registry) countMutation(op, outcome string) {
	if r.metrics != nil {
		r.metrics.TaskMutations.WithLabelValues(op, outcome).Inc()
	}
}

// Create inserts a new task after the active-name uniqueness check. Names
// compare case-sensitive and Unicode-exact. The store lookup and insert are
// the only calls made under the per-name lock.
func (r *Registry) Create(ctx context.Context, req CreateRequest) (Task, error) {
	t := Task{
		Name:         req.Name,
		TargetGroups: req.TargetGroups,
		FilePath:     req.FilePath,
		Type:         req.Type,
		Schedule:     req.Schedule,
		Status:       StatusActive,
	}
	if err := validateInsert(t); err != nil {
		r.countMutation("create", "invalid")
		return Task{}, err
	}
	nextRun, err := nextRunFromSchedule(req.Schedule, time.Now().UTC())
	if err != nil {
		r.countMutation("create", "invalid")
		return Task{}, err
	}
	t.NextRun = nextRun

	unlock := r.names.lock(t.Name)
	defer unlock()

	if err := r.checkNameConflict(ctx, t.Name, ""); err != nil {
		r.countMutation("create", "conflict")
		return Task{}, err
	}

	created, err := r.store.Insert(ctx, t)
	if err != nil {
		r.countMutation("create", "error")
		return Task{}, err
	}

	r.log.Info().Str("task_id", created.ID).Str("name", created.Name).
		Int("groups", len(created.TargetGroups)).Msg("task created")
	r.countMutation("create", "ok")
	r.notifyMutation()
	return created, nil
}

// Update applies a partial update. A rename, or a status change back to
// active, is checked against the active-name invariant first.
func (r *Registry) Update(ctx context.Context, id string, patch Patch) (Task, error) {
	if patch.Schedule != nil {
		nextRun, err := nextRunFromSchedule(*patch.Schedule, time.Now().UTC())
		if err != nil {
			r.countMutation("update", "invalid")
			return Task{}, err
		}
		if nextRun == nil {
			// Schedule removed: the task is manual-only from now on, so the
			// old next-run time must not survive.
			patch.ClearNextRun = true
		} else {
			patch.NextRun = nextRun
		}
	}
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		r.countMutation("update", "invalid")
		return Task{}, &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if patch.TargetGroups != nil && len(*patch.TargetGroups) == 0 {
		r.countMutation("update", "invalid")
		return Task{}, &ValidationError{Field: "target_groups", Reason: "must not be empty"}
	}

	needsCheck := patch.Name != nil || (patch.Status != nil && *patch.Status == StatusActive)
	if needsCheck {
		current, err := r.store.Get(ctx, id)
		if err != nil {
			r.countMutation("update", "error")
			return Task{}, err
		}
		name := current.Name
		if patch.Name != nil {
			name = *patch.Name
		}
		willBeActive := current.Status == StatusActive
		if patch.Status != nil {
			willBeActive = *patch.Status == StatusActive
		}
		if willBeActive {
			unlock := r.names.lock(name)
			defer unlock()
			if err := r.checkNameConflict(ctx, name, id); err != nil {
				r.countMutation("update", "conflict")
				return Task{}, err
			}
		}
	}

	updated, err := r.store.Update(ctx, id, patch)
	if err != nil {
		r.countMutation("update", "error")
		return Task{}, err
	}

	r.log.Info().Str("task_id", id).Msg("task updated")
	r.countMutation("update", "ok")
	r.notifyMutation()
	return updated, nil
}

// Delete removes a task. Deleting an absent id is a no-op.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if err := r.store.Delete(ctx, id); err != nil {
		r.countMutation("delete", "error")
		return err
	}
	r.log.Info().Str("task_id", id).Msg("task deleted")
	r.countMutation("delete", "ok")
	r.notifyMutation()
	return nil
}

// List returns tasks ordered by (name, created_at), optionally narrowed to
// one caller-defined type.
func (r *Registry) List(ctx context.Context, taskType string) ([]Task, error) {
	return r.store.List(ctx, Filter{Type: taskType})
}

// Get returns one task by id.
func (r *Registry) Get(ctx context.Context, id string) (Task, error) {
	return r.store.Get(ctx, id)
}

// Execute sends the task payload to every target group. One group failing
// never aborts the rest; the result reports each outcome. If ctx is
// cancelled mid-batch, already-sent groups stay recorded and unsent groups
// are simply absent from the result.
func (r *Registry) Execute(ctx context.Context, id string) (ExecutionResult, error) {
	t, err := r.store.Get(ctx, id)
	if err != nil {
		return ExecutionResult{}, err
	}

	res := ExecutionResult{
		TaskID:    t.ID,
		StartedAt: time.Now().UTC(),
	}
	for _, group := range t.TargetGroups {
		if ctx.Err() != nil {
			break
		}
		if err := r.sender.SendFile(ctx, group, t.FilePath); err != nil {
			res.Groups = append(res.Groups, GroupOutcome{Group: group, Error: err.Error()})
			res.Failed++
			if r.metrics != nil {
				r.metrics.SendOutcomes.WithLabelValues("failed").Inc()
			}
			r.log.Warn().Str("task_id", t.ID).Str("group", group).Err(err).Msg("group send failed")
			continue
		}
		res.Groups = append(res.Groups, GroupOutcome{Group: group, Sent: true})
		res.Succeeded++
		if r.metrics != nil {
			r.metrics.SendOutcomes.WithLabelValues("sent").Inc()
		}
	}

	if res.Succeeded > 0 {
		// Record activity even when ctx was cancelled mid-batch; sent
		// groups must stay recorded.
		now := time.Now().UTC()
		bookCtx := context.WithoutCancel(ctx)
		if _, err := r.store.Update(bookCtx, t.ID, Patch{LastActivity: &now}); err != nil {
			r.log.Warn().Str("task_id", t.ID).Err(err).Msg("recording last activity failed")
		}
	}

	r.log.Info().Str("task_id", t.ID).Int("succeeded", res.Succeeded).
		Int("failed", res.Failed).Msg("task executed")
	r.notifyMutation()
	return res, nil
}

// ExecuteDue runs every active task whose next-run time has passed and
// advances its schedule. Used by the scheduler loop.
func (r *Registry) ExecuteDue(ctx context.Context, now time.Time) error {
	due, err := r.store.List(ctx, Filter{Status: StatusActive})
	if err != nil {
		return err
	}
	for _, t := range due {
		if t.Schedule == "" {
			// Manual-only tasks never run on the sweep. A leftover next-run
			// time on such a row would fire it on every tick, so repair it.
			if t.NextRun != nil {
				if _, err := r.store.Update(ctx, t.ID, Patch{ClearNextRun: true}); err != nil {
					r.log.Error().Str("task_id", t.ID).Err(err).Msg("clearing stale next run failed")
				}
			}
			continue
		}
		if t.NextRun == nil || t.NextRun.After(now) {
			continue
		}
		if _, err := r.Execute(ctx, t.ID); err != nil {
			r.log.Error().Str("task_id", t.ID).Err(err).Msg("scheduled execution failed")
			continue
		}
		nextRun, err := nextRunFromSchedule(t.Schedule, now)
		if err != nil {
			r.log.Error().Str("task_id", t.ID).Err(err).Msg("stored schedule no longer parses")
			continue
		}
		if _, err := r.store.Update(ctx, t.ID, Patch{NextRun: nextRun}); err != nil {
			r.log.Error().Str("task_id", t.ID).Err(err).Msg("advancing next run failed")
		}
	}
	return nil
}

// ActiveSummary reports the active task count and the earliest next-run time
// across them, for status aggregation.
func (r *Registry) ActiveSummary(ctx context.Context) (int, *time.Time, error) {
	active, err := r.store.List(ctx, Filter{Status: StatusActive})
	if err != nil {
		return 0, nil, err
	}
	var next *time.Time
	for _, t := range active {
		if t.NextRun == nil {
			continue
		}
		if next == nil || t.NextRun.Before(*next) {
			v := *t.NextRun
			next = &v
		}
	}
	return len(active), next, nil
}

// ReconcileDuplicates repairs duplicate state left behind by older bugs or
// races: for each active name held by more than one row, the row with the
// greatest created_at (ties broken by id) stays active and the rest are
// archived. Every archived row is logged. Re-running is a no-op. Never
// invoked implicitly.
func (r *Registry) ReconcileDuplicates(ctx context.Context) (ReconcileReport, error) {
	active, err := r.store.List(ctx, Filter{Status: StatusActive})
	if err != nil {
		return ReconcileReport{}, err
	}

	report := ReconcileReport{Actions: []ReconcileAction{}}
	byName := make(map[string][]Task)
	order := make([]string, 0)
	for _, t := range active {
		if _, seen := byName[t.Name]; !seen {
			order = append(order, t.Name)
		}
		byName[t.Name] = append(byName[t.Name], t)
	}

	for _, name := range order {
		group := byName[name]
		if len(group) < 2 {
			continue
		}
		keep := group[0]
		for _, t := range group[1:] {
			if t.CreatedAt.After(keep.CreatedAt) ||
				(t.CreatedAt.Equal(keep.CreatedAt) && t.ID > keep.ID) {
				keep = t
			}
		}

		action := ReconcileAction{Name: name, KeptID: keep.ID}
		archived := StatusArchived
		for _, t := range group {
			if t.ID == keep.ID {
				continue
			}
			if _, err := r.store.Update(ctx, t.ID, Patch{Status: &archived}); err != nil {
				return report, err
			}
			action.ArchivedIDs = append(action.ArchivedIDs, t.ID)
			r.log.Warn().Str("name", name).Str("archived_id", t.ID).
				Str("kept_id", keep.ID).Msg("archived duplicate task")
		}
		report.Actions = append(report.Actions, action)
	}

	if len(report.Actions) > 0 {
		r.countMutation("reconcile", "ok")
		r.notifyMutation()
	}
	return report, nil
}

func (r *Registry) checkNameConflict(ctx context.Context, name, excludeID string) error {
	existing, err := r.store.List(ctx, Filter{Status: StatusActive, Name: name})
	if err != nil {
		return err
	}
	conflicting := make([]string, 0, len(existing))
	for _, t := range existing {
		if t.ID != excludeID {
			conflicting = append(conflicting, t.ID)
		}
	}
	if len(conflicting) > 0 {
		return &DuplicateTaskError{Name: name, ConflictingIDs: conflicting}
	}
	return nil
}

// nextRunFromSchedule parses a standard 5-field cron expression. An empty
// schedule means the task only runs on explicit execute.
func nextRunFromSchedule(expr string, from time.Time) (*time.Time, error) {
	if expr == "" {
		return nil, nil
	}
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, &ValidationError{Field: "schedule", Reason: err.Error()}
	}
	next := sched.Next(from)
	return &next, nil
}

// nameMutex serializes operations on a single task name. Entries are
// refcounted and removed once unused.
type nameMutex struct {
	mu    sync.Mutex
	locks map[string]*nameLock
}

type nameLock struct {
	mu   sync.Mutex
	refs int
}

func (n *nameMutex) lock(name string) func() {
	n.mu.Lock()
	if n.locks == nil {
		n.locks = make(map[string]*nameLock)
	}
	e := n.locks[name]
	if e == nil {
		e = &nameLock{}
		n.locks[name] = e
	}
	e.refs++
	n.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		n.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(n.locks, name)
		}
		n.mu.Unlock()
	}
}
