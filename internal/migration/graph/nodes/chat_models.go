package nodes

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	einomodel "github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"

	errx "github.com/ss2dbx/server/internal/core/error"
	"github.com/ss2dbx/server/internal/migration/model"
	logx "github.com/ss2dbx/server/pkg/logger"
)

// Supported completion providers.
const (
	ProviderClaude = "claude"
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// DefaultModels is the model used per provider when none is configured.
var DefaultModels = map[string]string{
	ProviderClaude: "claude-3-5-sonnet-20241022",
	ProviderGemini: "gemini-2.5-flash",
	ProviderOpenAI: "gpt-4o",
}

// ChatModelConfig holds the configuration for chat model creation.
type ChatModelConfig struct {
	Completion model.CompletionConfig
	// Defaults are the construction-time settings; each stage overrides them
	// per call.
	Defaults model.StageParams
}

// ChatModel is the provider-backed completion boundary plus the model id it
// was built with.
type ChatModel struct {
	Model     einomodel.BaseChatModel
	Provider  string
	ModelName string
}

// NormalizeProvider maps provider aliases to the supported names.
func NormalizeProvider(p string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(p)) {
	case "", ProviderClaude, "anthropic":
		return ProviderClaude, nil
	case ProviderGemini, "google":
		return ProviderGemini, nil
	case ProviderOpenAI:
		return ProviderOpenAI, nil
	}
	return "", fmt.Errorf("unsupported LLM provider %q (want claude, gemini or openai)", p)
}

// NewChatModel creates the chat model for the configured provider.
func NewChatModel(ctx context.Context, config ChatModelConfig) (*ChatModel, error) {
	provider, err := NormalizeProvider(config.Completion.Provider)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(config.Completion.APIKey) == "" {
		return nil, errx.Validation("LLM_API_KEY is required to call the completion service")
	}

	modelName := config.Completion.Model
	if modelName == "" {
		modelName = config.Defaults.Model
	}
	if modelName == "" {
		modelName = DefaultModels[provider]
	}
	maxTokens := config.Defaults.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4000
	}
	temperature := config.Defaults.Temperature

	var cm einomodel.BaseChatModel
	switch provider {
	case ProviderClaude:
		cfg := &claude.Config{
			APIKey:      config.Completion.APIKey,
			Model:       modelName,
			MaxTokens:   maxTokens,
			Temperature: &temperature,
		}
		if config.Completion.BaseURL != "" {
			cfg.BaseURL = &config.Completion.BaseURL
		}
		cm, err = claude.NewChatModel(ctx, cfg)
		if err != nil {
			logx.Error().Err(err).Msg("Error creating Claude model")
			return nil, fmt.Errorf("error creating Claude model: %w", err)
		}

	case ProviderGemini:
		clientCfg := &genai.ClientConfig{
			APIKey:  config.Completion.APIKey,
			Backend: genai.BackendGeminiAPI,
		}
		if config.Completion.BaseURL != "" {
			clientCfg.HTTPOptions.BaseURL = config.Completion.BaseURL
		}
		if config.Completion.Timeout > 0 {
			clientCfg.HTTPClient = &http.Client{Timeout: config.Completion.Timeout}
		}
		client, err := genai.NewClient(ctx, clientCfg)
		if err != nil {
			logx.Error().Err(err).Msg("Error creating Gemini client")
			return nil, fmt.Errorf("error creating Gemini client: %w", err)
		}
		cm, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client:      client,
			Model:       modelName,
			Temperature: &temperature,
			MaxTokens:   &maxTokens,
		})
		if err != nil {
			logx.Error().Err(err).Msg("Error creating Gemini model")
			return nil, fmt.Errorf("error creating Gemini model: %w", err)
		}

	case ProviderOpenAI:
		cm, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL:     config.Completion.BaseURL,
			APIKey:      config.Completion.APIKey,
			Model:       modelName,
			Temperature: &temperature,
			MaxTokens:   &maxTokens,
			Timeout:     config.Completion.Timeout,
		})
		if err != nil {
			logx.Error().Err(err).Msg("Error creating OpenAI model")
			return nil, fmt.Errorf("error creating OpenAI model: %w", err)
		}
	}

	logx.Debug().Str("provider", provider).Str("model", modelName).Msg("Chat model created")
	return &ChatModel{Model: cm, Provider: provider, ModelName: modelName}, nil
}
