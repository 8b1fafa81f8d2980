package prompts

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	logx "github.com/ss2dbx/server/pkg/logger"
)

//go:embed template/base_prompt.txt
var defaultBaseInstructions string

// DefaultBaseInstructions returns the built-in instruction set used when no
// prompt file is configured.
func DefaultBaseInstructions() string {
	return strings.TrimRight(defaultBaseInstructions, "\n")
}

// LoadBaseInstructions reads the base instruction set from path. A missing
// file falls back to the built-in instructions; any other read error is
// returned.
func LoadBaseInstructions(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultBaseInstructions(), nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logx.Debug().Str("path", path).Msg("Base prompt file not found, using built-in instructions")
			return DefaultBaseInstructions(), nil
		}
		return "", fmt.Errorf("read base prompt %s: %w", path, err)
	}

	logx.Debug().Str("path", path).Int("bytes", len(b)).Msg("Loaded base prompt")
	return string(b), nil
}
