package status

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/Nitzan94/WhatsApp-Group-Summary-Bot-sub001/internal/bot"
	"github.com/Nitzan94/WhatsApp-Group-Summary-Bot-sub001/internal/observability"
)

// BotSource reports the live messaging session state.
type BotSource interface {
	State(ctx context.Context) (bot.State, error)
}

// TaskSource reports the active task count and earliest next-run time.
type TaskSource interface {
	ActiveSummary(ctx context.Context) (int, *time.Time, error)
}

// CredentialSource reports credential presence and the management group list.
type CredentialSource interface {
	Credential(ctx context.Context) (present bool, masked string, err error)
	ManagementGroups(ctx context.Context) ([]string, error)
}

// Publisher receives every computed snapshot.
type Publisher interface {
	Publish(s Snapshot)
}

// Aggregator folds the three collaborators into one snapshot, on a fixed
// cadence and immediately after task mutations. A failing collaborator
// degrades its own sub-object; it never fails the whole computation.
type Aggregator struct {
	botSrc   BotSource
	taskSrc  TaskSource
	credSrc  CredentialSource
	pub      Publisher
	interval time.Duration
	trigger  chan struct{}
	log      zerolog.Logger
	metrics  *observability.Metrics
}

func NewAggregator(botSrc BotSource, taskSrc TaskSource, credSrc CredentialSource, pub Publisher, interval time.Duration, log zerolog.Logger, metrics *observability.Metrics) *Aggregator {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Aggregator{
		botSrc:   botSrc,
		taskSrc:  taskSrc,
		credSrc:  credSrc,
		pub:      pub,
		interval: interval,
		trigger:  make(chan struct{}, 1),
		log:      log.With().Str("component", "aggregator").Logger(),
		metrics:  metrics,
	}
}

// Notify requests an immediate recomputation. Non-blocking; concurrent
// notifications coalesce into one pending trigger.
func (a *Aggregator) Notify() {
	select {
	case a.trigger <- struct{}{}:
	default:
	}
}

// Snapshot computes a fresh snapshot from current collaborator state. Pure
// function of its inputs at call time; no memoized state.
func (a *Aggregator) Snapshot(ctx context.Context) Snapshot {
	started := time.Now()
	snap := Snapshot{
		GeneratedAt: time.Now().UTC(),
		Web:         WebStatus{ManagementGroups: []string{}},
	}

	if state, err := a.botSrc.State(ctx); err != nil {
		a.degraded("bot", err)
	} else {
		snap.Bot = BotStatus{
			Connected:     state.Connected,
			Account:       state.Account,
			UptimeSeconds: int64(state.Uptime.Seconds()),
			ActiveGroups:  state.ActiveGroups,
			TotalMessages: state.TotalMessages,
			LastActivity:  state.LastActivity,
		}
	}

	if count, next, err := a.taskSrc.ActiveSummary(ctx); err != nil {
		a.degraded("tasks", err)
	} else {
		snap.Web.ActiveTasks = count
		snap.Web.NextScheduledTask = next
	}

	if groups, err := a.credSrc.ManagementGroups(ctx); err != nil {
		a.degraded("settings", err)
	} else {
		snap.Web.ManagementGroups = groups
	}

	if present, masked, err := a.credSrc.Credential(ctx); err != nil {
		a.degraded("credential", err)
	} else {
		snap.Credential = CredentialStatus{Present: present, Masked: masked}
	}

	if a.metrics != nil {
		a.metrics.ObserveSnapshotLatency(time.Since(started))
	}
	return snap
}

// Run drives the aggregation loop: one snapshot per tick plus one per
// mutation trigger, each published to the feed. Returns when ctx ends.
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.publish(ctx, "startup")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.publish(ctx, "tick")
		case <-a.trigger:
			a.publish(ctx, "mutation")
		}
	}
}

func (a *Aggregator) publish(ctx context.Context, trigger string) {
	snap := a.Snapshot(ctx)
	if a.metrics != nil {
		a.metrics.SnapshotsComputed.WithLabelValues(trigger).Inc()
	}
	if a.pub != nil {
		a.pub.Publish(snap)
	}
}

func (a *Aggregator) degraded(collaborator string, err error) {
	a.log.Warn().Str("collaborator", collaborator).Err(err).Msg("collaborator unavailable, sub-status degraded")
	if a.metrics != nil {
		a.metrics.CollaboratorErrors.WithLabelValues(collaborator).Inc()
	}
}
