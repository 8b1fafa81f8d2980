package prompts

import (
	"fmt"
	"strings"

	"github.com/ss2dbx/server/internal/migration/graph/handoff"
	"github.com/ss2dbx/server/internal/migration/model"
)

// Composer assembles the single text prompt sent for each stage. It only does
// string assembly; callers validate required inputs beforehand.
type Composer struct {
	base string
}

func NewComposer(base string) *Composer {
	return &Composer{base: base}
}

// Base returns the instruction set every prompt starts with.
func (c *Composer) Base() string {
	return c.base
}

// fieldSection describes how one Stage 2 field is rendered.
type fieldSection struct {
	key    string
	title  string
	fenced bool
}

// stage2Fields is the order the Stage 2 inputs appear in the prompt.
var stage2Fields = []fieldSection{
	{key: model.KeyTargetTableName, title: "Target Table Name"},
	{key: model.KeyPrimaryKeys, title: "Primary Keys"},
	{key: model.KeyBusinessKeys, title: "Business Keys"},
	{key: model.KeyForeignKeys, title: "Foreign Keys"},
	{key: model.KeyTargetTableStructure, title: "Target Table Structure (DDL / JSON)", fenced: true},
	{key: model.KeyAuditColumns, title: "Audit Columns"},
	{key: model.KeySourceTableRealignment, title: "Source Table Realignment (Streamsets Source → Databricks Source Table)", fenced: true},
	{key: model.KeySourceToTargetMapping, title: "Source → Target Column Mapping", fenced: true},
	{key: model.KeyForeignKeyResolution, title: "Foreign Key Resolution", fenced: true},
	{key: model.KeyFlowDesign, title: "Transformation Flow Design (overview)", fenced: true},
}

// Compose builds the prompt for req.Stage from the matching input.
func (c *Composer) Compose(req model.StageRequest) (string, error) {
	switch req.Stage {
	case model.Stage1:
		if req.Stage1 == nil {
			return "", fmt.Errorf("missing stage 1 input")
		}
		return c.Stage1(*req.Stage1), nil
	case model.Stage2:
		if req.Stage2 == nil {
			return "", fmt.Errorf("missing stage 2 input")
		}
		return c.Stage2(*req.Stage2), nil
	case model.Stage3:
		if req.Stage3 == nil {
			return "", fmt.Errorf("missing stage 3 input")
		}
		return c.Stage3(*req.Stage3), nil
	}
	return "", fmt.Errorf("unsupported stage %d", int(req.Stage))
}

// Stage1 asks for the parse/visualize narrative followed by the hidden
// prefill block.
func (c *Composer) Stage1(in model.Stage1Input) string {
	var b strings.Builder
	b.WriteString(c.base)
	b.WriteString("\n\nNow execute **Stage 1** using the JSON below.\n")
	writeFenced(&b, "json", in.Document)

	if p := strings.TrimSpace(in.AdditionalPrompts); p != "" {
		b.WriteString("\n\n### Additional Prompts\n")
		b.WriteString(p)
	}
	if d := strings.TrimSpace(in.Attachment); d != "" {
		b.WriteString("\n\n### Attached Documentation (verbatim)\n")
		writeFenced(&b, "text", d)
	}

	b.WriteString("\n\n")
	b.WriteString(HandoffInstruction())
	return b.String()
}

// Stage2 lists the user-confirmed fields, then the original document and the
// Stage 1 context carried over.
func (c *Composer) Stage2(in model.Stage2Input) string {
	var b strings.Builder
	b.WriteString(c.base)
	b.WriteString("\n\nNow execute **Stage 2: Databricks Alignment** using the following inputs.\n")

	for _, f := range stage2Fields {
		v, _ := in.Fields.Get(f.key)
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		b.WriteString("### " + f.title + "\n")
		if f.fenced {
			writeFenced(&b, "text", v)
		} else {
			b.WriteString(v)
		}
		b.WriteString("\n")
	}

	b.WriteString("\n---\n")
	b.WriteString("### Original StreamSets JSON\n")
	writeFenced(&b, "json", in.Document)
	b.WriteString("\n")

	if p := strings.TrimSpace(in.AdditionalPrompts); p != "" {
		b.WriteString("\n**Carry-over Additional Prompts:**\n")
		b.WriteString(p)
		b.WriteString("\n")
	}
	if d := strings.TrimSpace(in.Attachment); d != "" {
		b.WriteString("\n**Carry-over Attached Documentation (verbatim):**\n")
		writeFenced(&b, "text", d)
		b.WriteString("\n")
	}
	return b.String()
}

// Stage3 asks for the notebook, referencing Stage 2's full narrative.
func (c *Composer) Stage3(in model.Stage3Input) string {
	var b strings.Builder
	b.WriteString(c.base)
	b.WriteString("\n\nNow execute **Stage 3**. Generate a full Databricks notebook based on the StreamSets JSON and Stage 2 Finalised Target & Keys.")

	if nc := strings.TrimSpace(in.NotebookContext); nc != "" {
		b.WriteString("\n\n### Additional context\n")
		b.WriteString(nc)
		b.WriteString("\n")
	}
	if p := strings.TrimSpace(in.AdditionalPrompts); p != "" {
		b.WriteString("\n**Carry-over Additional Prompts:**\n")
		b.WriteString(p)
		b.WriteString("\n")
	}

	b.WriteString("\n### Original StreamSets JSON\n")
	writeFenced(&b, "json", in.Document)

	if strings.TrimSpace(in.Stage2Narrative) != "" {
		b.WriteString("\n### Stage 2 Consolidated Narrative (for your reference, use for code, not re-analysis)\n")
		writeFenced(&b, "markdown", in.Stage2Narrative)
		b.WriteString("\n")
	}
	return b.String()
}

// HandoffInstruction tells the model to end its Stage 1 answer with the marker
// line and a JSON object holding the ten prefill keys.
func HandoffInstruction() string {
	var b strings.Builder
	b.WriteString("At the very end of your response, AFTER a line containing exactly:\n")
	b.WriteString(handoff.Marker + "\n")
	b.WriteString("output ONLY a fenced JSON block with these exact keys. ")
	b.WriteString("Use strings; if unknown, use an empty string. Do not explain this block.\n")
	b.WriteString("```json\n{\n")
	for i, k := range model.PrefillKeys {
		b.WriteString(fmt.Sprintf("  %q: \"\"", k))
		if i < len(model.PrefillKeys)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString("}\n```\n")
	return b.String()
}

// writeFenced writes body verbatim inside a fenced block tagged lang.
func writeFenced(b *strings.Builder, lang, body string) {
	b.WriteString("```" + lang + "\n")
	b.WriteString(body)
	b.WriteString("\n```")
}
