package model

import (
	"time"
)

// SessionState is the per-session record carried between stages.
// It is loaded from a SessionRepository at the start of every action and
// saved back only when the action succeeds.
type SessionState struct {
	ID string `json:"id"`

	// Stage 1 inputs, carried over into Stage 2 and Stage 3 prompts.
	Document          string `json:"document"`
	AdditionalPrompts string `json:"additional_prompts"`
	Attachment        string `json:"attachment"`
	AttachmentName    string `json:"attachment_name,omitempty"`

	// Prefill is the record parsed from the last Stage 1 response.
	Prefill PrefillRecord `json:"prefill"`
	// Stage2Form holds the editable Stage 2 values; overwritten by every
	// successful Stage 1 run.
	Stage2Form PrefillRecord `json:"stage2_form"`

	Stage1Visible  string `json:"stage1_visible"`
	Stage2Output   string `json:"stage2_output"`
	Stage2Visible  string `json:"stage2_visible"`
	Stage3Notebook string `json:"stage3_notebook"`

	LastStage Stage     `json:"last_stage"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSessionState returns the empty state a session starts with.
func NewSessionState(id string) *SessionState {
	now := time.Now().UTC()
	return &SessionState{ID: id, CreatedAt: now, UpdatedAt: now}
}

// Clone returns a copy that can be mutated without touching the original.
func (s *SessionState) Clone() *SessionState {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// Run statuses recorded for each stage action.
const (
	RunStatusOK     = "ok"
	RunStatusFailed = "failed"
)

// StageRun is an audit entry for one stage action.
type StageRun struct {
	ID               string    `json:"id"`
	SessionID        string    `json:"session_id"`
	Stage            Stage     `json:"stage"`
	Model            string    `json:"model"`
	Status           string    `json:"status"`
	Error            string    `json:"error,omitempty"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	CostUSD          float64   `json:"cost_usd"`
	StartedAt        time.Time `json:"started_at"`
	EndedAt          time.Time `json:"ended_at"`
}
