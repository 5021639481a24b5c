package tasks

import "time"

type Status string

const (
	StatusActive   Status = "active"
	StatusDisabled Status = "disabled"
	StatusArchived Status = "archived"
)

// Task is a named, schedulable broadcast definition.
type Task struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	TargetGroups []string   `json:"target_groups"`
	FilePath     string     `json:"file_path,omitempty"`
	Type         string     `json:"type,omitempty"`
	Schedule     string     `json:"schedule,omitempty"`
	NextRun      *time.Time `json:"next_run,omitempty"`
	Status       Status     `json:"status"`
	LastActivity *time.Time `json:"last_activity,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (t Task) Clone() Task {
	out := t
	if t.TargetGroups != nil {
		out.TargetGroups = make([]string, len(t.TargetGroups))
		copy(out.TargetGroups, t.TargetGroups)
	}
	return out
}

type CreateRequest struct {
	Name         string   `json:"name"`
	TargetGroups []string `json:"target_groups"`
	FilePath     string   `json:"file_path"`
	Type         string   `json:"type"`
	Schedule     string   `json:"schedule"`
}

// Patch is a partial update; nil fields are left untouched.
type Patch struct {
	Name         *string    `json:"name,omitempty"`
	TargetGroups *[]string  `json:"target_groups,omitempty"`
	FilePath     *string    `json:"file_path,omitempty"`
	Type         *string    `json:"type,omitempty"`
	Schedule     *string    `json:"schedule,omitempty"`
	Status       *Status    `json:"status,omitempty"`
	LastActivity *time.Time `json:"-"`
	NextRun      *time.Time `json:"-"`
	// ClearNextRun sets next_run to null; a nil NextRun alone leaves it
	// untouched.
	ClearNextRun bool `json:"-"`
}

// GroupOutcome records one send attempt during task execution.
type GroupOutcome struct {
	Group string `json:"group"`
	Sent  bool   `json:"sent"`
	Error string `json:"error,omitempty"`
}

// ExecutionResult reports the per-group outcome of one executeTask call.
// A failed group never aborts the rest of the batch.
type ExecutionResult struct {
	TaskID    string         `json:"task_id"`
	StartedAt time.Time      `json:"started_at"`
	Groups    []GroupOutcome `json:"groups"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
}

// ReconcileAction records one duplicate group resolved by ReconcileDuplicates.
type ReconcileAction struct {
	Name        string   `json:"name"`
	KeptID      string   `json:"kept_id"`
	ArchivedIDs []string `json:"archived_ids"`
}

type ReconcileReport struct {
	Actions []ReconcileAction `json:"actions"`
}
