package model

import (
	"github.com/cloudwego/eino/schema"
)

// Stage1Input is what the Stage 1 prompt is built from.
type Stage1Input struct {
	Document          string
	AdditionalPrompts string
	Attachment        string
}

// Stage2Input is what the Stage 2 prompt is built from.
type Stage2Input struct {
	Document          string
	Fields            PrefillRecord
	AdditionalPrompts string
	Attachment        string
}

// Stage3Input is what the Stage 3 prompt is built from.
type Stage3Input struct {
	Document          string
	NotebookContext   string
	AdditionalPrompts string
	Stage2Narrative   string
}

// StageRequest is the graph input. Exactly one of Stage1/Stage2/Stage3 is set,
// matching Stage.
type StageRequest struct {
	SessionID string
	Stage     Stage
	Params    StageParams

	Stage1 *Stage1Input
	Stage2 *Stage2Input
	Stage3 *Stage3Input
}

// StageOutcome is the graph output.
type StageOutcome struct {
	Stage   Stage
	Raw     string
	Visible string

	// Prefill is only meaningful when PrefillFound is true.
	Prefill        PrefillRecord
	PrefillFound   bool
	PrefillDecoded bool
	Warnings       []string

	Model   string
	Usage   *schema.TokenUsage
	CostUSD float64
}

// StageState stores per-invocation state for the stage graph.
// Concurrency model:
//   - Registered as graph local state via compose.WithGenLocalState.
//   - All reads/writes happen inside eino state handlers or compose.ProcessState,
//     which serialise access, so no extra locking is required.
type StageState struct {
	SessionID string
	Stage     Stage
	Model     string
	Usage     *schema.TokenUsage
	CostUSD   float64
}
