package repo

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ss2dbx/server/internal/migration/model"
	"github.com/ss2dbx/server/pkg/sqlite"
)

func newRedisRepo(t *testing.T) (*RedisSessionRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisSessionRepository(rdb, time.Hour), mr
}

func newSQLiteRepo(t *testing.T) *SQLiteSessionRepository {
	t.Helper()
	cfg := sqlite.Config{Path: filepath.Join(t.TempDir(), "nested", "sessions.db"), BusyTimeout: 1000}
	db, err := cfg.New(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	r, err := NewSQLiteSessionRepository(context.Background(), db)
	require.NoError(t, err)
	return r
}

func repositories(t *testing.T) map[string]model.SessionRepository {
	redisRepo, _ := newRedisRepo(t)
	return map[string]model.SessionRepository{
		"memory": NewMemorySessionRepository(),
		"redis":  redisRepo,
		"sqlite": newSQLiteRepo(t),
	}
}

func sampleState(id string) *model.SessionState {
	s := model.NewSessionState(id)
	s.Document = `{"pipeline":"p1"}`
	s.AdditionalPrompts = "treat Orders as the driving table"
	s.Attachment = "glossary"
	s.AttachmentName = "glossary.md"
	s.Prefill = model.PrefillRecord{TargetTableName: "cat.sch.tbl", PrimaryKeys: "id"}
	s.Stage2Form = model.PrefillRecord{TargetTableName: "cat.sch.tbl2", PrimaryKeys: "id"}
	s.Stage1Visible = "Summary text."
	s.LastStage = model.Stage1
	return s
}

func TestRepositoryLoadUnknownReturnsEmptyState(t *testing.T) {
	for name, r := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			s, err := r.Load(context.Background(), "nobody")
			require.NoError(t, err)
			assert.Equal(t, "nobody", s.ID)
			assert.Empty(t, s.Document)
			assert.True(t, s.Prefill.IsEmpty())
			assert.Equal(t, model.StageIdle, s.LastStage)
		})
	}
}

func TestRepositorySaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, r := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			want := sampleState("s1")
			require.NoError(t, r.Save(ctx, want))

			got, err := r.Load(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, want.Document, got.Document)
			assert.Equal(t, want.AdditionalPrompts, got.AdditionalPrompts)
			assert.Equal(t, want.AttachmentName, got.AttachmentName)
			assert.Equal(t, want.Prefill, got.Prefill)
			assert.Equal(t, want.Stage2Form, got.Stage2Form)
			assert.Equal(t, want.Stage1Visible, got.Stage1Visible)
			assert.Equal(t, model.Stage1, got.LastStage)
			assert.WithinDuration(t, want.CreatedAt, got.CreatedAt, time.Millisecond)

			// overwrite
			got.Stage2Output = "stage 2 raw"
			got.LastStage = model.Stage2
			require.NoError(t, r.Save(ctx, got))
			again, err := r.Load(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, "stage 2 raw", again.Stage2Output)
			assert.Equal(t, model.Stage2, again.LastStage)
		})
	}
}

func TestRepositoryRunsAndDelete(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

	for name, r := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			runs, err := r.ListRuns(ctx, "s1")
			require.NoError(t, err)
			assert.Empty(t, runs)

			require.NoError(t, r.Save(ctx, sampleState("s1")))
			require.NoError(t, r.AppendRun(ctx, "s1", model.StageRun{
				ID: "r1", SessionID: "s1", Stage: model.Stage1, Model: "m", Status: model.RunStatusOK,
				PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30, CostUSD: 0.5,
				StartedAt: start, EndedAt: start.Add(time.Second),
			}))
			require.NoError(t, r.AppendRun(ctx, "s1", model.StageRun{
				ID: "r2", SessionID: "s1", Stage: model.Stage2, Model: "m", Status: model.RunStatusFailed,
				Error: "Stage 2 failed", StartedAt: start.Add(time.Minute), EndedAt: start.Add(time.Minute),
			}))

			runs, err = r.ListRuns(ctx, "s1")
			require.NoError(t, err)
			require.Len(t, runs, 2)
			assert.Equal(t, "r1", runs[0].ID)
			assert.Equal(t, model.Stage1, runs[0].Stage)
			assert.Equal(t, 30, runs[0].TotalTokens)
			assert.InDelta(t, 0.5, runs[0].CostUSD, 1e-9)
			assert.True(t, start.Equal(runs[0].StartedAt))
			assert.Equal(t, "r2", runs[1].ID)
			assert.Equal(t, model.RunStatusFailed, runs[1].Status)
			assert.Equal(t, "Stage 2 failed", runs[1].Error)

			require.NoError(t, r.Delete(ctx, "s1"))
			s, err := r.Load(ctx, "s1")
			require.NoError(t, err)
			assert.Empty(t, s.Document)
			runs, err = r.ListRuns(ctx, "s1")
			require.NoError(t, err)
			assert.Empty(t, runs)
		})
	}
}

func TestRepositorySaveRejectsMissingID(t *testing.T) {
	for name, r := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, r.Save(context.Background(), &model.SessionState{}))
		})
	}
}

func TestMemoryRepositoryIsolatesCopies(t *testing.T) {
	ctx := context.Background()
	r := NewMemorySessionRepository()
	s := sampleState("s1")
	require.NoError(t, r.Save(ctx, s))

	s.Document = "mutated after save"
	got, err := r.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, `{"pipeline":"p1"}`, got.Document)

	got.Document = "mutated after load"
	again, err := r.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, `{"pipeline":"p1"}`, again.Document)
}

func TestRedisRepositoryKeysAndTTL(t *testing.T) {
	ctx := context.Background()
	r, mr := newRedisRepo(t)

	require.NoError(t, r.Save(ctx, sampleState("abc")))
	require.NoError(t, r.AppendRun(ctx, "abc", model.StageRun{ID: "r1", Stage: model.Stage1}))

	assert.True(t, mr.Exists("session:abc:state"))
	assert.True(t, mr.Exists("session:abc:runs"))
	assert.Equal(t, time.Hour, mr.TTL("session:abc:state"))
	assert.Equal(t, time.Hour, mr.TTL("session:abc:runs"))

	mr.FastForward(2 * time.Hour)
	s, err := r.Load(ctx, "abc")
	require.NoError(t, err)
	assert.Empty(t, s.Document)
}

func TestRedisRepositoryCorruptState(t *testing.T) {
	r, mr := newRedisRepo(t)
	require.NoError(t, mr.Set("session:bad:state", "{not json"))

	_, err := r.Load(context.Background(), "bad")
	assert.Error(t, err)
}
