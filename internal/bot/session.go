package bot

import (
	"context"
	"time"
)

// State is what the messaging session reports about itself at one instant.
type State struct {
	Connected     bool
	Account       string
	Uptime        time.Duration
	ActiveGroups  int
	TotalMessages int64
	LastActivity  *time.Time
}

// Session is the external messaging transport the dashboard observes and
// sends through. The dashboard never owns the connection lifecycle; it only
// queries state and dispatches broadcasts.
type Session interface {
	State(ctx context.Context) (State, error)
	SendFile(ctx context.Context, groupID, filePath string) error
}
