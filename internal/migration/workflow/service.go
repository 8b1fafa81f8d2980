package workflow

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	errx "github.com/ss2dbx/server/internal/core/error"
	"github.com/ss2dbx/server/internal/migration/graph"
	"github.com/ss2dbx/server/internal/migration/graph/prompts"
	"github.com/ss2dbx/server/internal/migration/model"
	logx "github.com/ss2dbx/server/pkg/logger"
)

// User-facing messages.
const (
	MsgStage1NoDocument = "Please upload the StreamSets JSON."
	MsgStage2NoDocument = "Stage 2 requires the original StreamSets JSON from Stage 1."
	MsgStage3NoDocument = "Please complete Stage 1 first to load the StreamSets JSON."

	MsgStage1Failed = "Stage 1 failed"
	MsgStage2Failed = "Stage 2 failed"
	MsgStage3Failed = "Notebook generation failed"

	NoticeNoPrefill         = "The response carried no Stage 2 prefill block; Stage 2 fields start empty."
	NoticeBadPrefill        = "The Stage 2 prefill block could not be parsed; Stage 2 fields start empty."
	NoticeNoStage2Narrative = "Stage 2 has not been run; the notebook is generated without its narrative."
)

// Config carries the per-stage completion settings.
type Config struct {
	Stage1             model.StageParams
	Stage2             model.StageParams
	Stage3             model.StageParams
	AttachmentMaxChars int
}

// Attachment is optional reference text supplied with Stage 1.
type Attachment struct {
	Name string
	Text string
}

// Stage1Request holds the Stage 1 inputs. Nil fields keep the values already
// stored in the session.
type Stage1Request struct {
	Document          *string
	AdditionalPrompts *string
	Attachment        *Attachment
}

// Stage2Request optionally edits the Stage 2 form before the run.
type Stage2Request struct {
	Patch model.FieldPatch
}

// Stage3Request holds the optional notebook context.
type Stage3Request struct {
	NotebookContext string
}

// StageResult is what a successful stage action returns to the caller.
type StageResult struct {
	Stage   model.Stage         `json:"stage"`
	Visible string              `json:"visible"`
	Fields  model.PrefillRecord `json:"fields"`
	// PrefillFound reports whether Stage 1 carried a prefill block.
	PrefillFound bool     `json:"prefill_found"`
	Notices      []string `json:"notices,omitempty"`

	RunID            string  `json:"run_id"`
	Model            string  `json:"model"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

// Service runs the three stages against a session store. Each action loads the
// session, validates, makes at most one completion call and saves the session
// only when the call succeeded.
type Service struct {
	runner graph.Runner
	repo   model.SessionRepository
	cfg    Config

	locksMu sync.Mutex
	locks   map[string]*sessionLock
	now     func() time.Time
	newID   func() string
}

func NewService(runner graph.Runner, repo model.SessionRepository, cfg Config) *Service {
	if cfg.AttachmentMaxChars <= 0 {
		cfg.AttachmentMaxChars = prompts.DefaultAttachmentMaxChars
	}
	return &Service{
		runner: runner,
		repo:   repo,
		cfg:    cfg,
		locks:  make(map[string]*sessionLock),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
}

// NewSessionID returns a fresh session id.
func (s *Service) NewSessionID() string {
	return s.newID()
}

// sessionLock is held by the running action and counts the ones waiting on it.
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// lock serialises actions on one session. The entry is dropped once no action
// holds or waits on it, so the map only tracks sessions in flight.
func (s *Service) lock(sessionID string) func() {
	s.locksMu.Lock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sessionLock{}
		s.locks[sessionID] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, sessionID)
		}
		s.locksMu.Unlock()
	}
}

// Session returns the stored state, or an empty one for an unknown id.
func (s *Service) Session(ctx context.Context, sessionID string) (*model.SessionState, error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}
	return s.repo.Load(ctx, sessionID)
}

// Reset forgets everything stored for the session, including run records.
func (s *Service) Reset(ctx context.Context, sessionID string) error {
	if err := validateSessionID(sessionID); err != nil {
		return err
	}
	defer s.lock(sessionID)()

	if err := s.repo.Delete(ctx, sessionID); err != nil {
		return err
	}
	logx.Info().Str("session_id", sessionID).Msg("Session reset")
	return nil
}

// Runs lists the session's stage runs, oldest first.
func (s *Service) Runs(ctx context.Context, sessionID string) ([]model.StageRun, error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}
	return s.repo.ListRuns(ctx, sessionID)
}

// UpdateFields applies user edits to the Stage 2 form and returns the result.
func (s *Service) UpdateFields(ctx context.Context, sessionID string, patch model.FieldPatch) (model.PrefillRecord, error) {
	if err := validateSessionID(sessionID); err != nil {
		return model.PrefillRecord{}, err
	}
	defer s.lock(sessionID)()

	state, err := s.repo.Load(ctx, sessionID)
	if err != nil {
		return model.PrefillRecord{}, err
	}
	form, err := state.Stage2Form.Apply(patch)
	if err != nil {
		return model.PrefillRecord{}, errx.Validation(err.Error())
	}

	state.Stage2Form = form
	state.UpdatedAt = s.now()
	if err := s.repo.Save(ctx, state); err != nil {
		return model.PrefillRecord{}, err
	}
	return form, nil
}

// RunStage1 parses and visualizes the pipeline. On success the Stage 2 form is
// replaced by the prefill parsed from the response.
func (s *Service) RunStage1(ctx context.Context, sessionID string, req Stage1Request) (*StageResult, error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}
	defer s.lock(sessionID)()

	state, err := s.repo.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	next := state.Clone()
	var notices []string
	if req.Document != nil && strings.TrimSpace(*req.Document) != "" {
		next.Document = *req.Document
	}
	if req.AdditionalPrompts != nil {
		next.AdditionalPrompts = *req.AdditionalPrompts
	}
	if req.Attachment != nil {
		text, truncated := prompts.TruncateAttachment(req.Attachment.Text, s.cfg.AttachmentMaxChars)
		if truncated {
			notices = append(notices, prompts.TruncationNotice(s.cfg.AttachmentMaxChars))
		}
		next.Attachment = text
		next.AttachmentName = req.Attachment.Name
	}

	if strings.TrimSpace(next.Document) == "" {
		return nil, errx.Validation(MsgStage1NoDocument)
	}

	out, run, err := s.run(ctx, model.StageRequest{
		SessionID: sessionID,
		Stage:     model.Stage1,
		Params:    s.cfg.Stage1,
		Stage1: &model.Stage1Input{
			Document:          next.Document,
			AdditionalPrompts: next.AdditionalPrompts,
			Attachment:        next.Attachment,
		},
	}, MsgStage1Failed)
	if err != nil {
		return nil, err
	}

	switch {
	case !out.PrefillFound:
		notices = append(notices, NoticeNoPrefill)
	case !out.PrefillDecoded:
		notices = append(notices, NoticeBadPrefill)
	}

	next.Prefill = out.Prefill
	next.Stage2Form = out.Prefill
	next.Stage1Visible = out.Visible
	next.LastStage = model.Stage1
	next.UpdatedAt = s.now()
	if err := s.repo.Save(ctx, next); err != nil {
		return nil, err
	}

	res := newResult(out, run, notices)
	res.Fields = next.Stage2Form
	res.PrefillFound = out.PrefillFound
	return res, nil
}

// RunStage2 aligns the pipeline with the confirmed field values.
func (s *Service) RunStage2(ctx context.Context, sessionID string, req Stage2Request) (*StageResult, error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}
	defer s.lock(sessionID)()

	state, err := s.repo.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(state.Document) == "" {
		return nil, errx.Validation(MsgStage2NoDocument)
	}

	form, err := state.Stage2Form.Apply(req.Patch)
	if err != nil {
		return nil, errx.Validation(err.Error())
	}
	form = form.Trimmed()

	out, run, err := s.run(ctx, model.StageRequest{
		SessionID: sessionID,
		Stage:     model.Stage2,
		Params:    s.cfg.Stage2,
		Stage2: &model.Stage2Input{
			Document:          state.Document,
			Fields:            form,
			AdditionalPrompts: state.AdditionalPrompts,
			Attachment:        state.Attachment,
		},
	}, MsgStage2Failed)
	if err != nil {
		return nil, err
	}

	next := state.Clone()
	next.Stage2Form = form
	next.Stage2Output = out.Raw
	next.Stage2Visible = out.Visible
	next.LastStage = model.Stage2
	next.UpdatedAt = s.now()
	if err := s.repo.Save(ctx, next); err != nil {
		return nil, err
	}

	res := newResult(out, run, nil)
	res.Fields = form
	return res, nil
}

// RunStage3 generates the notebook from the document and Stage 2's narrative.
func (s *Service) RunStage3(ctx context.Context, sessionID string, req Stage3Request) (*StageResult, error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}
	defer s.lock(sessionID)()

	state, err := s.repo.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(state.Document) == "" {
		return nil, errx.Validation(MsgStage3NoDocument)
	}

	var notices []string
	if strings.TrimSpace(state.Stage2Output) == "" {
		notices = append(notices, NoticeNoStage2Narrative)
	}

	out, run, err := s.run(ctx, model.StageRequest{
		SessionID: sessionID,
		Stage:     model.Stage3,
		Params:    s.cfg.Stage3,
		Stage3: &model.Stage3Input{
			Document:          state.Document,
			NotebookContext:   req.NotebookContext,
			AdditionalPrompts: state.AdditionalPrompts,
			Stage2Narrative:   state.Stage2Output,
		},
	}, MsgStage3Failed)
	if err != nil {
		return nil, err
	}

	next := state.Clone()
	next.Stage3Notebook = out.Raw
	next.LastStage = model.Stage3
	next.UpdatedAt = s.now()
	if err := s.repo.Save(ctx, next); err != nil {
		return nil, err
	}

	return newResult(out, run, notices), nil
}

// run makes the completion call and records the attempt whatever its outcome.
func (s *Service) run(ctx context.Context, req model.StageRequest, failMsg string) (*model.StageOutcome, model.StageRun, error) {
	run := model.StageRun{
		ID:        s.newID(),
		SessionID: req.SessionID,
		Stage:     req.Stage,
		Model:     req.Params.Model,
		StartedAt: s.now(),
	}

	logx.Info().Str("session_id", req.SessionID).Str("stage", req.Stage.Short()).Str("run_id", run.ID).Msg("Stage started")
	out, err := s.runner.Run(ctx, req)
	run.EndedAt = s.now()

	if err != nil {
		run.Status = model.RunStatusFailed
		run.Error = err.Error()
		s.record(ctx, run)
		logx.Error().Err(err).Str("session_id", req.SessionID).Str("stage", req.Stage.Short()).Msg("Stage failed")
		return nil, run, errx.WrapCompletion(err, failMsg)
	}

	run.Status = model.RunStatusOK
	if out.Model != "" {
		run.Model = out.Model
	}
	if out.Usage != nil {
		run.PromptTokens = out.Usage.PromptTokens
		run.CompletionTokens = out.Usage.CompletionTokens
		run.TotalTokens = out.Usage.TotalTokens
	}
	run.CostUSD = out.CostUSD
	s.record(ctx, run)

	logx.Info().
		Str("session_id", req.SessionID).
		Str("stage", req.Stage.Short()).
		Str("model", run.Model).
		Int("total_tokens", run.TotalTokens).
		Float64("cost_usd", run.CostUSD).
		Dur("elapsed", run.EndedAt.Sub(run.StartedAt)).
		Msg("Stage completed")
	return out, run, nil
}

// record stores the run; a failure here never fails the action.
func (s *Service) record(ctx context.Context, run model.StageRun) {
	if err := s.repo.AppendRun(context.WithoutCancel(ctx), run.SessionID, run); err != nil {
		logx.Warn().Err(err).Str("session_id", run.SessionID).Str("run_id", run.ID).Msg("Failed to record stage run")
	}
}

func newResult(out *model.StageOutcome, run model.StageRun, notices []string) *StageResult {
	return &StageResult{
		Stage:            out.Stage,
		Visible:          out.Visible,
		Notices:          notices,
		RunID:            run.ID,
		Model:            run.Model,
		PromptTokens:     run.PromptTokens,
		CompletionTokens: run.CompletionTokens,
		CostUSD:          run.CostUSD,
	}
}

func validateSessionID(id string) error {
	if strings.TrimSpace(id) == "" {
		return errx.Validation("session id is required")
	}
	if strings.ContainsAny(id, " \t\r\n:") || len(id) > 128 {
		return errx.Validation("session id must be at most 128 characters without whitespace or ':'")
	}
	return nil
}
