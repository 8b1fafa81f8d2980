package model

import (
	"encoding/json"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrefillRecordGetSet(t *testing.T) {
	var r PrefillRecord
	for _, k := range PrefillKeys {
		require.True(t, r.Set(k, "v-"+k), k)
	}
	for _, k := range PrefillKeys {
		v, ok := r.Get(k)
		require.True(t, ok)
		assert.Equal(t, "v-"+k, v)
	}
	assert.False(t, r.Set("not_a_key", "x"))
	_, ok := r.Get("not_a_key")
	assert.False(t, ok)
	assert.Len(t, r.Map(), 10)
}

func TestPrefillRecordJSONKeys(t *testing.T) {
	b, err := json.Marshal(PrefillRecord{TargetTableName: "cat.sch.tbl"})
	require.NoError(t, err)

	var m map[string]string
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Len(t, m, len(PrefillKeys))
	for _, k := range PrefillKeys {
		assert.Contains(t, m, k)
	}
	assert.Equal(t, "cat.sch.tbl", m[KeyTargetTableName])
}

func TestPrefillRecordApply(t *testing.T) {
	base := PrefillRecord{TargetTableName: "a.b.c", PrimaryKeys: "id"}

	out, err := base.Apply(FieldPatch{KeyPrimaryKeys: "order_id", KeyFlowDesign: "join then merge"})
	require.NoError(t, err)
	assert.Equal(t, "a.b.c", out.TargetTableName)
	assert.Equal(t, "order_id", out.PrimaryKeys)
	assert.Equal(t, "join then merge", out.FlowDesign)
	assert.Equal(t, "id", base.PrimaryKeys, "apply must not mutate the receiver")

	_, err = base.Apply(FieldPatch{"primary_key": "x", "zzz": "y"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "primary_key, zzz")
}

func TestPrefillRecordIsEmptyAndTrimmed(t *testing.T) {
	assert.True(t, PrefillRecord{}.IsEmpty())
	assert.True(t, PrefillRecord{AuditColumns: "  \n"}.IsEmpty())

	r := PrefillRecord{AuditColumns: "  meta_CreatedDate \n"}
	assert.False(t, r.IsEmpty())
	assert.Equal(t, "meta_CreatedDate", r.Trimmed().AuditColumns)
}

func TestStageParsing(t *testing.T) {
	for in, want := range map[string]Stage{"1": Stage1, "stage2": Stage2, "Stage 3": Stage3} {
		got, err := ParseStage(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseStage("4")
	assert.Error(t, err)

	b, err := json.Marshal(struct {
		S Stage `json:"s"`
	}{Stage2})
	require.NoError(t, err)
	assert.JSONEq(t, `{"s":"stage2"}`, string(b))

	var s Stage
	require.NoError(t, s.UnmarshalText([]byte("idle")))
	assert.Equal(t, StageIdle, s)
	assert.Equal(t, "Stage 1: Parse & Visualize", Stage1.String())
}

func TestComputeCost(t *testing.T) {
	usage := &schema.TokenUsage{PromptTokens: 1_000_000, CompletionTokens: 200_000, TotalTokens: 1_200_000}

	in, out, total := ComputeCost(usage, ResolvePricing("claude-3-5-sonnet-20241022"))
	assert.InDelta(t, 3.0, in, 1e-9)
	assert.InDelta(t, 3.0, out, 1e-9)
	assert.InDelta(t, 6.0, total, 1e-9)

	_, _, total = ComputeCost(nil, ResolvePricing("gpt-4o"))
	assert.Zero(t, total)

	assert.Equal(t, ResolvePricing("claude-sonnet-4-5"), ResolvePricing("claude-sonnet-4-5-20250929"))
	assert.Equal(t, Pricing{}, ResolvePricing("mystery-model"))
}

func TestSessionClone(t *testing.T) {
	s := NewSessionState("abc")
	c := s.Clone()
	c.Document = "changed"
	assert.Empty(t, s.Document)
	assert.Nil(t, (*SessionState)(nil).Clone())
}
