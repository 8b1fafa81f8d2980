package model

import "context"

type SessionRepository interface {
	// Load returns the state for id, or a fresh empty state when none is stored.
	Load(ctx context.Context, id string) (*SessionState, error)

	// Save persists the full state.
	Save(ctx context.Context, state *SessionState) error

	// Delete removes the state and run history for id.
	Delete(ctx context.Context, id string) error

	// AppendRun records a stage run for id.
	AppendRun(ctx context.Context, id string, run StageRun) error

	// ListRuns returns the recorded runs for id, oldest first.
	ListRuns(ctx context.Context, id string) ([]StageRun, error)
}
