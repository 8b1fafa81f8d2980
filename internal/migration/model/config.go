package model

import "time"

// ================ Config ================

// CompletionConfig selects the completion provider shared by all stages.
type CompletionConfig struct {
	Provider string        `envconfig:"LLM_PROVIDER" default:"claude"`
	APIKey   string        `envconfig:"LLM_API_KEY"`
	BaseURL  string        `envconfig:"LLM_BASE_URL"`
	Model    string        `envconfig:"LLM_MODEL"`
	Timeout  time.Duration `envconfig:"LLM_TIMEOUT" default:"10m"`
}

// StageParams is what a single completion call needs besides the prompt.
type StageParams struct {
	Model       string
	MaxTokens   int
	Temperature float32
}

type Stage1ModelConfig struct {
	Model       string  `envconfig:"STAGE1_MODEL"`
	MaxTokens   int     `envconfig:"STAGE1_MAX_TOKENS" default:"3500"`
	Temperature float32 `envconfig:"STAGE1_TEMPERATURE" default:"0.3"`
}

func (c Stage1ModelConfig) Params() StageParams {
	return StageParams{Model: c.Model, MaxTokens: c.MaxTokens, Temperature: c.Temperature}
}

type Stage2ModelConfig struct {
	Model       string  `envconfig:"STAGE2_MODEL"`
	MaxTokens   int     `envconfig:"STAGE2_MAX_TOKENS" default:"3500"`
	Temperature float32 `envconfig:"STAGE2_TEMPERATURE" default:"0.3"`
}

func (c Stage2ModelConfig) Params() StageParams {
	return StageParams{Model: c.Model, MaxTokens: c.MaxTokens, Temperature: c.Temperature}
}

type Stage3ModelConfig struct {
	Model       string  `envconfig:"STAGE3_MODEL"`
	MaxTokens   int     `envconfig:"STAGE3_MAX_TOKENS" default:"4000"`
	Temperature float32 `envconfig:"STAGE3_TEMPERATURE" default:"0.3"`
}

func (c Stage3ModelConfig) Params() StageParams {
	return StageParams{Model: c.Model, MaxTokens: c.MaxTokens, Temperature: c.Temperature}
}

// PromptConfig controls the base instruction set and attachment handling.
type PromptConfig struct {
	BasePromptPath     string `envconfig:"BASE_PROMPT_PATH" default:"prompt.txt"`
	AttachmentMaxChars int    `envconfig:"ATTACHMENT_MAX_CHARS" default:"20000"`
}

// SessionConfig selects and tunes the session store.
type SessionConfig struct {
	Store string        `envconfig:"SESSION_STORE" default:"sqlite"`
	TTL   time.Duration `envconfig:"SESSION_TTL" default:"72h"`
}
