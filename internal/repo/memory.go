package repo

import (
	"context"
	"fmt"
	"sync"

	"github.com/ss2dbx/server/internal/migration/model"
)

// MemorySessionRepository keeps sessions in process memory. The HTTP server may
// serve several sessions at once, so access is guarded by a mutex.
type MemorySessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]*model.SessionState
	runs     map[string][]model.StageRun
}

func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{
		sessions: map[string]*model.SessionState{},
		runs:     map[string][]model.StageRun{},
	}
}

func (r *MemorySessionRepository) Load(_ context.Context, sessionID string) (*model.SessionState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.sessions[sessionID]; ok {
		return s.Clone(), nil
	}
	return model.NewSessionState(sessionID), nil
}

func (r *MemorySessionRepository) Save(_ context.Context, state *model.SessionState) error {
	if state == nil || state.ID == "" {
		return fmt.Errorf("session state without id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[state.ID] = state.Clone()
	return nil
}

func (r *MemorySessionRepository) Delete(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
	delete(r.runs, sessionID)
	return nil
}

func (r *MemorySessionRepository) AppendRun(_ context.Context, sessionID string, run model.StageRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[sessionID] = append(r.runs[sessionID], run)
	return nil
}

func (r *MemorySessionRepository) ListRuns(_ context.Context, sessionID string) ([]model.StageRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.StageRun, len(r.runs[sessionID]))
	copy(out, r.runs[sessionID])
	return out, nil
}

var _ model.SessionRepository = (*MemorySessionRepository)(nil)
