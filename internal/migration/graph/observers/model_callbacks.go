package observers

import (
	"context"
	"time"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"

	logx "github.com/ss2dbx/server/pkg/logger"
)

type modelStartKey struct{}

// newModelHandler logs the size of each completion call and its outcome.
// Prompt and response bodies are only logged at trace level since a pipeline
// document can be very large.
func newModelHandler() *callbackHelper.ModelCallbackHandler {
	return &callbackHelper.ModelCallbackHandler{
		OnStart: func(ctx context.Context, info *einocb.RunInfo, input *model.CallbackInput) context.Context {
			ev := logx.Debug().Str("component", info.Type).Str("node", info.Name)
			if input != nil {
				chars := 0
				for _, m := range input.Messages {
					if m != nil {
						chars += len(m.Content)
					}
				}
				ev = ev.Int("messages", len(input.Messages)).Int("prompt_chars", chars)
				if input.Config != nil {
					ev = ev.Str("model", input.Config.Model).
						Int("max_tokens", input.Config.MaxTokens).
						Float32("temperature", input.Config.Temperature)
				}
			}
			ev.Msg("Completion started")
			return context.WithValue(ctx, modelStartKey{}, time.Now())
		},
		OnEnd: func(ctx context.Context, info *einocb.RunInfo, output *model.CallbackOutput) context.Context {
			ev := logx.Debug().Str("component", info.Type).Str("node", info.Name)
			if start, ok := ctx.Value(modelStartKey{}).(time.Time); ok {
				ev = ev.Dur("elapsed", time.Since(start))
			}
			if output != nil && output.Message != nil {
				ev = ev.Int("response_chars", len(output.Message.Content))
				logx.Trace().Str("node", info.Name).Str("response", output.Message.Content).Msg("Completion response")
			}
			if output != nil && output.TokenUsage != nil {
				ev = ev.Int("prompt_tokens", output.TokenUsage.PromptTokens).
					Int("completion_tokens", output.TokenUsage.CompletionTokens)
			}
			ev.Msg("Completion finished")
			return ctx
		},
		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			logx.Error().Err(err).Str("component", info.Type).Str("node", info.Name).Msg("Completion failed")
			return ctx
		},
	}
}
