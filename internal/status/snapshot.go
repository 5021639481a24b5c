package status

import "time"

// Snapshot is one immutable, fully-computed view of system-wide status.
// A new snapshot is the only update mechanism; consumers never see a
// snapshot change in place.
type Snapshot struct {
	Bot         BotStatus        `json:"bot"`
	Web         WebStatus        `json:"web"`
	Credential  CredentialStatus `json:"credential"`
	GeneratedAt time.Time        `json:"generated_at"`
}

type BotStatus struct {
	Connected     bool       `json:"connected"`
	Account       string     `json:"account,omitempty"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	ActiveGroups  int        `json:"active_groups"`
	TotalMessages int64      `json:"total_messages"`
	LastActivity  *time.Time `json:"last_activity,omitempty"`
}

type WebStatus struct {
	ManagementGroups  []string   `json:"management_groups"`
	ActiveTasks       int        `json:"active_tasks"`
	NextScheduledTask *time.Time `json:"next_scheduled_task,omitempty"`
}

type CredentialStatus struct {
	Present bool   `json:"present"`
	Masked  string `json:"masked,omitempty"`
}
