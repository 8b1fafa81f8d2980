package prompts

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

const stageMessagesKey = "stage_messages"

// stageTemplate passes the composed prompt through an eino prompt component so
// prompt callbacks fire. The text is never interpolated, which keeps the JSON
// braces in documents and instructions intact.
var stageTemplate = prompt.FromMessages(
	schema.FString,
	schema.MessagesPlaceholder(stageMessagesKey, false),
)

// Render wraps the composed prompt text into the user message sent to the
// chat model.
func Render(ctx context.Context, text string) ([]*schema.Message, error) {
	msgs, err := stageTemplate.Format(ctx, map[string]any{
		stageMessagesKey: []*schema.Message{schema.UserMessage(text)},
	})
	if err != nil {
		return nil, fmt.Errorf("stage prompt callbacks: %w", err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return nil, fmt.Errorf("stage prompt callbacks: empty result")
	}
	return msgs, nil
}
