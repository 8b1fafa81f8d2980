package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/ss2dbx/server/internal/migration/graph/handoff"
	"github.com/ss2dbx/server/internal/migration/graph/prompts"
	"github.com/ss2dbx/server/internal/migration/model"
	logx "github.com/ss2dbx/server/pkg/logger"
)

// Node names
const (
	NodePromptComposer = "PromptComposer"
	NodeChatModel      = "ChatModel"
	NodeHandoffDecoder = "HandoffDecoder"
	NodeVerbatim       = "Verbatim"
)

// NewPromptComposerPreHandler records who is running which stage before the
// prompt is built.
func NewPromptComposerPreHandler(defaultModel string) func(context.Context, model.StageRequest, *model.StageState) (model.StageRequest, error) {
	return func(ctx context.Context, in model.StageRequest, s *model.StageState) (model.StageRequest, error) {
		s.SessionID = in.SessionID
		s.Stage = in.Stage
		s.Model = in.Params.Model
		if s.Model == "" {
			s.Model = defaultModel
		}
		s.Usage = nil
		s.CostUSD = 0
		return in, nil
	}
}

// NewPromptComposerNode builds the single user message for the requested stage.
func NewPromptComposerNode(c *prompts.Composer) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in model.StageRequest) ([]*schema.Message, error) {
		text, err := c.Compose(in)
		if err != nil {
			return nil, fmt.Errorf("compose prompt: %w", err)
		}

		msgs, err := prompts.Render(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("render prompt: %w", err)
		}

		logx.Debug().
			Str("session_id", in.SessionID).
			Str("stage", in.Stage.Short()).
			Int("prompt_chars", len(text)).
			Msg("Prompt composed")
		return msgs, nil
	})
}

// NewChatModelPostHandler computes and logs usage cost for the stage call.
func NewChatModelPostHandler() func(context.Context, *schema.Message, *model.StageState) (*schema.Message, error) {
	return func(ctx context.Context, out *schema.Message, state *model.StageState) (*schema.Message, error) {
		if out == nil || out.ResponseMeta == nil || out.ResponseMeta.Usage == nil {
			return out, nil
		}

		usage := out.ResponseMeta.Usage
		pricing := model.ResolvePricing(state.Model)
		inC, outC, totalC := model.ComputeCost(usage, pricing)
		if out.Extra == nil {
			out.Extra = map[string]any{}
		}
		out.Extra["usage_cost"] = map[string]any{
			"currency":          "USD",
			"model":             state.Model,
			"prompt_tokens":     usage.PromptTokens,
			"completion_tokens": usage.CompletionTokens,
			"total_tokens":      usage.TotalTokens,
			"input_cost":        inC,
			"output_cost":       outC,
			"total_cost":        totalC,
		}
		logx.Debug().
			Str("session_id", state.SessionID).
			Str("stage", state.Stage.Short()).
			Str("node", NodeChatModel).
			Str("model", state.Model).
			Int("prompt_tokens", usage.PromptTokens).
			Int("completion_tokens", usage.CompletionTokens).
			Int("total_tokens", usage.TotalTokens).
			Float64("input_cost_usd", inC).
			Float64("output_cost_usd", outC).
			Float64("total_cost_usd", totalC).
			Msg("LLM usage")

		state.Usage = usage
		state.CostUSD += totalC
		return out, nil
	}
}

// NewStageOutputCondition routes Stage 1 and Stage 2 responses through the
// handoff decoder; the Stage 3 notebook is kept verbatim.
func NewStageOutputCondition() func(context.Context, *schema.Message) (string, error) {
	return func(ctx context.Context, _ *schema.Message) (string, error) {
		var stage model.Stage
		err := compose.ProcessState(ctx, func(_ context.Context, state *model.StageState) error {
			stage = state.Stage
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("failed to access state: %w", err)
		}

		if stage == model.Stage3 {
			logx.Debug().Msg("Routing to Verbatim - notebook output")
			return NodeVerbatim, nil
		}
		logx.Debug().Str("stage", stage.Short()).Msg("Routing to HandoffDecoder")
		return NodeHandoffDecoder, nil
	}
}

// NewHandoffDecoderNode splits the hidden prefill block from the visible text.
func NewHandoffDecoderNode() *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, resp *schema.Message) (*model.StageOutcome, error) {
		out, err := newOutcome(ctx, resp)
		if err != nil {
			return nil, err
		}

		res := handoff.Decode(out.Raw)
		out.Visible = res.Visible
		out.Prefill = res.Prefill
		out.PrefillFound = res.Found
		out.PrefillDecoded = res.Decoded
		out.Warnings = res.Warnings

		if out.Stage == model.Stage1 && !res.Found {
			logx.Warn().Msg("Stage 1 response carried no prefill block; Stage 2 fields start empty")
		}
		return out, nil
	})
}

// NewVerbatimNode passes the response through untouched.
func NewVerbatimNode() *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, resp *schema.Message) (*model.StageOutcome, error) {
		out, err := newOutcome(ctx, resp)
		if err != nil {
			return nil, err
		}
		out.Visible = out.Raw
		return out, nil
	})
}

func newOutcome(ctx context.Context, resp *schema.Message) (*model.StageOutcome, error) {
	out := &model.StageOutcome{}
	if resp != nil {
		out.Raw = resp.Content
	}
	err := compose.ProcessState(ctx, func(_ context.Context, state *model.StageState) error {
		out.Stage = state.Stage
		out.Model = state.Model
		out.Usage = state.Usage
		out.CostUSD = state.CostUSD
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to access state: %w", err)
	}

	if strings.TrimSpace(out.Raw) == "" {
		logx.Warn().Str("stage", out.Stage.Short()).Msg("Completion returned empty text")
	}
	return out, nil
}
