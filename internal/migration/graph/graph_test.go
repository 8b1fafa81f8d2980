package graph

import (
	"context"
	"errors"
	"sync"
	"testing"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ss2dbx/server/internal/migration/graph/nodes"
	"github.com/ss2dbx/server/internal/migration/graph/prompts"
	"github.com/ss2dbx/server/internal/migration/model"
)

// fakeChatModel answers every call with a fixed reply and records what it got.
type fakeChatModel struct {
	mu      sync.Mutex
	reply   string
	usage   *schema.TokenUsage
	err     error
	prompts []string
	options []*einomodel.Options
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(input) > 0 {
		f.prompts = append(f.prompts, input[len(input)-1].Content)
	}
	f.options = append(f.options, einomodel.GetCommonOptions(&einomodel.Options{}, opts...))
	if f.err != nil {
		return nil, f.err
	}
	msg := schema.AssistantMessage(f.reply, nil)
	if f.usage != nil {
		msg.ResponseMeta = &schema.ResponseMeta{Usage: f.usage}
	}
	return msg, nil
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := f.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func newTestRunner(t *testing.T, fake *fakeChatModel) Runner {
	t.Helper()
	r, err := NewRunner(context.Background(), &GraphConfig{
		ChatModel: &nodes.ChatModel{Model: fake, Provider: nodes.ProviderClaude, ModelName: "claude-3-5-sonnet-20241022"},
		Composer:  prompts.NewComposer("BASE"),
	})
	require.NoError(t, err)
	return r
}

func TestRunStage1DecodesPrefill(t *testing.T) {
	fake := &fakeChatModel{
		reply: "Summary text.\n===STAGE2_PREFILL_JSON===\n```json\n{\"target_table_name\":\"cat.sch.tbl\",\"primary_keys\":\"id\"}\n```\n",
		usage: &schema.TokenUsage{PromptTokens: 1000, CompletionTokens: 2000, TotalTokens: 3000},
	}
	r := newTestRunner(t, fake)

	out, err := r.Run(context.Background(), model.StageRequest{
		SessionID: "s1",
		Stage:     model.Stage1,
		Params:    model.StageParams{MaxTokens: 3500, Temperature: 0.3},
		Stage1:    &model.Stage1Input{Document: `{"pipeline":"p1"}`},
	})

	require.NoError(t, err)
	assert.Equal(t, model.Stage1, out.Stage)
	assert.Equal(t, "Summary text.", out.Visible)
	assert.Equal(t, fake.reply, out.Raw)
	assert.True(t, out.PrefillFound)
	assert.True(t, out.PrefillDecoded)
	assert.Equal(t, model.PrefillRecord{TargetTableName: "cat.sch.tbl", PrimaryKeys: "id"}, out.Prefill)
	assert.Equal(t, "claude-3-5-sonnet-20241022", out.Model)
	require.NotNil(t, out.Usage)
	assert.Equal(t, 3000, out.Usage.TotalTokens)
	assert.InDelta(t, 0.033, out.CostUSD, 1e-9)

	require.Len(t, fake.prompts, 1)
	assert.Contains(t, fake.prompts[0], "```json\n{\"pipeline\":\"p1\"}\n```")
	require.Len(t, fake.options, 1)
	require.NotNil(t, fake.options[0].MaxTokens)
	assert.Equal(t, 3500, *fake.options[0].MaxTokens)
	require.NotNil(t, fake.options[0].Temperature)
	assert.InDelta(t, 0.3, *fake.options[0].Temperature, 1e-6)
	assert.Nil(t, fake.options[0].Model)
}

func TestRunStage2StripsButKeepsRaw(t *testing.T) {
	fake := &fakeChatModel{reply: "## Alignment\n\ndone"}
	r := newTestRunner(t, fake)

	out, err := r.Run(context.Background(), model.StageRequest{
		Stage:  model.Stage2,
		Params: model.StageParams{Model: "claude-3-5-haiku-20241022"},
		Stage2: &model.Stage2Input{Document: "{}", Fields: model.PrefillRecord{TargetTableName: "a.b.c"}},
	})

	require.NoError(t, err)
	assert.Equal(t, "## Alignment\n\ndone", out.Raw)
	assert.Equal(t, out.Raw, out.Visible)
	assert.False(t, out.PrefillFound)
	assert.Equal(t, "claude-3-5-haiku-20241022", out.Model)
	assert.Nil(t, out.Usage)
	assert.Zero(t, out.CostUSD)

	require.Len(t, fake.options, 1)
	require.NotNil(t, fake.options[0].Model)
	assert.Equal(t, "claude-3-5-haiku-20241022", *fake.options[0].Model)
	assert.Contains(t, fake.prompts[0], "### Target Table Name\na.b.c")
}

func TestRunStage3IsVerbatim(t *testing.T) {
	reply := "# Databricks notebook source\n===STAGE2_PREFILL_JSON===\n```json\n{}\n```"
	fake := &fakeChatModel{reply: reply}
	r := newTestRunner(t, fake)

	out, err := r.Run(context.Background(), model.StageRequest{
		Stage:  model.Stage3,
		Stage3: &model.Stage3Input{Document: "{}", Stage2Narrative: "narrative"},
	})

	require.NoError(t, err)
	assert.Equal(t, model.Stage3, out.Stage)
	assert.Equal(t, reply, out.Visible)
	assert.False(t, out.PrefillFound)
}

func TestRunCompletionFailure(t *testing.T) {
	boom := errors.New("upstream 529 overloaded")
	r := newTestRunner(t, &fakeChatModel{err: boom})

	_, err := r.Run(context.Background(), model.StageRequest{
		Stage:  model.Stage1,
		Stage1: &model.Stage1Input{Document: "{}"},
	})

	require.Error(t, err)
	assert.ErrorContains(t, err, "upstream 529 overloaded")
}

func TestRunMissingStageInput(t *testing.T) {
	fake := &fakeChatModel{reply: "x"}
	r := newTestRunner(t, fake)

	_, err := r.Run(context.Background(), model.StageRequest{Stage: model.Stage2})

	require.Error(t, err)
	assert.Empty(t, fake.prompts)
}

func TestBuildGraphValidatesConfig(t *testing.T) {
	ctx := context.Background()

	_, err := BuildGraph(ctx, nil)
	assert.Error(t, err)

	_, err = BuildGraph(ctx, &GraphConfig{Composer: prompts.NewComposer("x")})
	assert.Error(t, err)

	_, err = BuildGraph(ctx, &GraphConfig{ChatModel: &nodes.ChatModel{Model: &fakeChatModel{}}})
	assert.Error(t, err)
}

func TestCallOptions(t *testing.T) {
	opts := einomodel.GetCommonOptions(&einomodel.Options{}, callOptions(model.StageParams{Model: "m", MaxTokens: 10, Temperature: 0.5})...)
	require.NotNil(t, opts.Model)
	assert.Equal(t, "m", *opts.Model)
	assert.Equal(t, 10, *opts.MaxTokens)
	assert.InDelta(t, 0.5, *opts.Temperature, 1e-6)

	opts = einomodel.GetCommonOptions(&einomodel.Options{}, callOptions(model.StageParams{})...)
	assert.Nil(t, opts.Model)
	assert.Nil(t, opts.MaxTokens)
}
