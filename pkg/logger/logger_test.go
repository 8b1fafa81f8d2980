package logx

import (
	"bytes"
	"testing"

	"github.com/ss2dbx/server/internal/core"
	"github.com/stretchr/testify/assert"
)

func TestInitProductionWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	Init(LoggerOpts{Environment: core.Production, Output: &buf})

	Debug().Msg("hidden")
	Info().Str("stage", "1").Msg("stage completed")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"stage":"1"`)
	assert.Contains(t, out, `"message":"stage completed"`)
}

func TestInitLevelOverride(t *testing.T) {
	var buf bytes.Buffer
	Init(LoggerOpts{Environment: core.Development, Output: &buf, Level: "warn"})

	Info().Msg("quiet")
	Warn().Msg("loud")

	assert.NotContains(t, buf.String(), "quiet")
	assert.Contains(t, buf.String(), "loud")
}
