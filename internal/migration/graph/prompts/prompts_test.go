package prompts

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ss2dbx/server/internal/migration/graph/handoff"
	"github.com/ss2dbx/server/internal/migration/model"
)

const testBase = "BASE INSTRUCTIONS"

func TestStage1OmitsBlankOptionalSections(t *testing.T) {
	c := NewComposer(testBase)

	out := c.Stage1(model.Stage1Input{
		Document:          `{"pipeline":"p1"}`,
		AdditionalPrompts: "   \n\t",
	})

	assert.True(t, strings.HasPrefix(out, testBase+"\n\nNow execute **Stage 1** using the JSON below.\n```json\n{\"pipeline\":\"p1\"}\n```"))
	assert.NotContains(t, out, "Additional Prompts")
	assert.NotContains(t, out, "Attached Documentation")
	assert.Contains(t, out, handoff.Marker)
}

func TestStage1IncludesTrimmedAdditionalPromptsOnce(t *testing.T) {
	c := NewComposer(testBase)

	out := c.Stage1(model.Stage1Input{
		Document:          `{"pipeline":"p1"}`,
		AdditionalPrompts: "\n  treat Orders as the driving table  \n",
		Attachment:        "  glossary text  ",
	})

	assert.Equal(t, 1, strings.Count(out, "### Additional Prompts"))
	assert.Contains(t, out, "### Additional Prompts\ntreat Orders as the driving table\n\n### Attached Documentation (verbatim)\n```text\nglossary text\n```")
	assert.Equal(t, 1, strings.Count(out, "treat Orders as the driving table"))
}

func TestStage1HandoffBlockListsAllKeys(t *testing.T) {
	out := NewComposer(testBase).Stage1(model.Stage1Input{Document: "{}"})

	idx := strings.Index(out, handoff.Marker)
	require.GreaterOrEqual(t, idx, 0)
	tail := out[idx:]
	for _, k := range model.PrefillKeys {
		assert.Contains(t, tail, `"`+k+`": ""`)
	}
	assert.True(t, strings.HasSuffix(out, "\"flow_design\": \"\"\n}\n```\n"))

	// the instruction itself is recognised by the codec
	prefill, _ := handoff.Split(tail)
	assert.True(t, prefill.IsEmpty())
}

func TestStage1DocumentIsVerbatim(t *testing.T) {
	doc := "{\n  \"stages\": [ {\"name\": \"Origin\"} ]\n}\n"

	out := NewComposer(testBase).Stage1(model.Stage1Input{Document: doc})

	assert.Contains(t, out, "```json\n"+doc+"\n```")
}

func TestStage2FieldsOrderAndOmission(t *testing.T) {
	c := NewComposer(testBase)
	fields := model.PrefillRecord{
		TargetTableName:      " cat.sch.tbl ",
		PrimaryKeys:          "id",
		TargetTableStructure: "id BIGINT\nname STRING",
		FlowDesign:           "read then merge",
	}

	out := c.Stage2(model.Stage2Input{
		Document:          `{"pipeline":"p1"}`,
		Fields:            fields,
		AdditionalPrompts: "keep nulls",
	})

	assert.True(t, strings.HasPrefix(out, testBase+"\n\nNow execute **Stage 2: Databricks Alignment** using the following inputs.\n"))
	assert.Contains(t, out, "### Target Table Name\ncat.sch.tbl\n")
	assert.Contains(t, out, "### Target Table Structure (DDL / JSON)\n```text\nid BIGINT\nname STRING\n```\n")
	assert.Contains(t, out, "### Transformation Flow Design (overview)\n```text\nread then merge\n```\n")
	assert.NotContains(t, out, "### Business Keys")
	assert.NotContains(t, out, "### Foreign Key Resolution")

	iTarget := strings.Index(out, "### Target Table Name")
	iPK := strings.Index(out, "### Primary Keys")
	iFlow := strings.Index(out, "### Transformation Flow Design")
	iDoc := strings.Index(out, "### Original StreamSets JSON\n```json\n{\"pipeline\":\"p1\"}\n```")
	iCarry := strings.Index(out, "**Carry-over Additional Prompts:**\nkeep nulls")
	assert.True(t, iTarget < iPK && iPK < iFlow && iFlow < iDoc && iDoc < iCarry, out)
	assert.NotContains(t, out, "Carry-over Attached Documentation")
}

func TestStage3Sections(t *testing.T) {
	c := NewComposer(testBase)

	out := c.Stage3(model.Stage3Input{
		Document:        `{"pipeline":"p1"}`,
		NotebookContext: "use Unity Catalog",
		Stage2Narrative: "## Stage 2\nall good",
	})

	assert.Contains(t, out, "Now execute **Stage 3**. Generate a full Databricks notebook")
	assert.Contains(t, out, "### Additional context\nuse Unity Catalog\n")
	assert.Contains(t, out, "### Original StreamSets JSON\n```json\n{\"pipeline\":\"p1\"}\n```")
	assert.Contains(t, out, "```markdown\n## Stage 2\nall good\n```")
	assert.NotContains(t, out, "Carry-over Additional Prompts")
	assert.Less(t, strings.Index(out, "### Original StreamSets JSON"), strings.Index(out, "### Stage 2 Consolidated Narrative"))

	padded := c.Stage3(model.Stage3Input{Document: "{}", Stage2Narrative: "\n  ## Stage 2\n\n"})
	assert.Contains(t, padded, "```markdown\n\n  ## Stage 2\n\n\n```")

	blank := c.Stage3(model.Stage3Input{Document: "{}", Stage2Narrative: " \n\t"})
	assert.NotContains(t, blank, "Stage 2 Consolidated Narrative")

	bare := c.Stage3(model.Stage3Input{Document: "{}"})
	assert.NotContains(t, bare, "### Additional context")
	assert.NotContains(t, bare, "Stage 2 Consolidated Narrative")
}

func TestComposeRejectsMissingInput(t *testing.T) {
	c := NewComposer(testBase)

	_, err := c.Compose(model.StageRequest{Stage: model.Stage2})
	assert.Error(t, err)

	_, err = c.Compose(model.StageRequest{Stage: model.StageIdle})
	assert.Error(t, err)

	out, err := c.Compose(model.StageRequest{Stage: model.Stage3, Stage3: &model.Stage3Input{Document: "{}"}})
	require.NoError(t, err)
	assert.Contains(t, out, "**Stage 3**")
}

func TestLoadBaseInstructions(t *testing.T) {
	dir := t.TempDir()

	got, err := LoadBaseInstructions(filepath.Join(dir, "missing.txt"))
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseInstructions(), got)
	assert.Contains(t, got, "SCD2 merge")

	path := filepath.Join(dir, "prompt.txt")
	require.NoError(t, os.WriteFile(path, []byte("custom base"), 0o644))
	got, err = LoadBaseInstructions(path)
	require.NoError(t, err)
	assert.Equal(t, "custom base", got)

	// a directory is not a missing file
	_, err = LoadBaseInstructions(dir)
	assert.Error(t, err)
}

func TestTruncateAttachment(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		max       int
		want      string
		truncated bool
	}{
		{name: "short", text: "abc", max: 5, want: "abc"},
		{name: "exact", text: "abcde", max: 5, want: "abcde"},
		{name: "long", text: "abcdefgh", max: 5, want: "abcde", truncated: true},
		{name: "runes", text: "ééééé", max: 3, want: "ééé", truncated: true},
		{name: "multibyte within limit", text: "éé", max: 3, want: "éé"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, truncated := TruncateAttachment(tt.text, tt.max)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.truncated, truncated)
		})
	}

	long := strings.Repeat("x", DefaultAttachmentMaxChars+10)
	got, truncated := TruncateAttachment(long, 0)
	assert.True(t, truncated)
	assert.Len(t, got, DefaultAttachmentMaxChars)
}

func TestTruncationNotice(t *testing.T) {
	assert.Equal(t, "Attached documentation truncated to 20,000 characters.", TruncationNotice(20000))
	assert.Equal(t, "Attached documentation truncated to 500 characters.", TruncationNotice(500))
}

func TestRenderKeepsBracesIntact(t *testing.T) {
	text := `Document: {"a": {"b": "{c}"}}`

	msgs, err := Render(context.Background(), text)

	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, schema.User, msgs[0].Role)
	assert.Equal(t, text, msgs[0].Content)
}
