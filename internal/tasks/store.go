package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Status Status
	Type   string
	Name   string
}

// Store is durable CRUD over task rows. Implementations guarantee:
//   - Insert assigns the id and created_at; an empty target group list is a
//     ValidationError.
//   - Update returns ErrNotFound for an absent id.
//   - Delete of an absent id is a no-op, not an error.
//   - List is ordered by (name, created_at, id) so duplicate names are
//     adjacent and stable for display.
//   - Target group lists round-trip losslessly: order and exact string
//     content preserved, empty list distinct from null.
type Store interface {
	Insert(ctx context.Context, t Task) (Task, error)
	Update(ctx context.Context, id string, patch Patch) (Task, error)
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (Task, error)
	List(ctx context.Context, f Filter) ([]Task, error)
	Close() error
}

func newTaskID() string {
	return "tsk_" + uuid.NewString()
}

func validateInsert(t Task) error {
	if strings.TrimSpace(t.Name) == "" {
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if len(t.TargetGroups) == 0 {
		return &ValidationError{Field: "target_groups", Reason: "must not be empty"}
	}
	return nil
}

// encodeGroups serializes a target group list as a JSON array. JSON keeps
// order and exact string content, and "[]" stays distinct from NULL.
func encodeGroups(groups []string) (string, error) {
	if groups == nil {
		groups = []string{}
	}
	raw, err := json.Marshal(groups)
	if err != nil {
		return "", fmt.Errorf("encode target groups: %w", err)
	}
	return string(raw), nil
}

func decodeGroups(raw string) ([]string, error) {
	var groups []string
	if err := json.Unmarshal([]byte(raw), &groups); err != nil {
		return nil, &ValidationError{Field: "target_groups", Reason: fmt.Sprintf("unparsable serialization: %v", err)}
	}
	if groups == nil {
		groups = []string{}
	}
	return groups, nil
}

func applyPatch(t *Task, patch Patch, now time.Time) {
	if patch.Name != nil {
		t.Name = *patch.Name
	}
	if patch.TargetGroups != nil {
		groups := make([]string, len(*patch.TargetGroups))
		copy(groups, *patch.TargetGroups)
		t.TargetGroups = groups
	}
	if patch.FilePath != nil {
		t.FilePath = *patch.FilePath
	}
	if patch.Type != nil {
		t.Type = *patch.Type
	}
	if patch.Schedule != nil {
		t.Schedule = *patch.Schedule
	}
	if patch.Status != nil {
		t.Status = *patch.Status
	}
	if patch.LastActivity != nil {
		t.LastActivity = patch.LastActivity
	}
	if patch.ClearNextRun {
		t.NextRun = nil
	} else if patch.NextRun != nil {
		t.NextRun = patch.NextRun
	}
	t.UpdatedAt = now
}

func matches(t Task, f Filter) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	if f.Name != "" && t.Name != f.Name {
		return false
	}
	return true
}

func sortTasks(out []Task) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
}
