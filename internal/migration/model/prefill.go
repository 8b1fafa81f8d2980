package model

import (
	"fmt"
	"sort"
	"strings"
)

// Keys of the Stage 2 prefill record, in the order the model is asked to emit them.
const (
	KeyTargetTableName        = "target_table_name"
	KeyPrimaryKeys            = "primary_keys"
	KeyBusinessKeys           = "business_keys"
	KeyForeignKeys            = "foreign_keys"
	KeyAuditColumns           = "audit_columns"
	KeyTargetTableStructure   = "target_table_structure"
	KeySourceTableRealignment = "source_table_realignment"
	KeySourceToTargetMapping  = "source_to_target_mapping"
	KeyForeignKeyResolution   = "foreign_key_resolution"
	KeyFlowDesign             = "flow_design"
)

// PrefillKeys lists the ten record keys in canonical order.
var PrefillKeys = []string{
	KeyTargetTableName,
	KeyPrimaryKeys,
	KeyBusinessKeys,
	KeyForeignKeys,
	KeyAuditColumns,
	KeyTargetTableStructure,
	KeySourceTableRealignment,
	KeySourceToTargetMapping,
	KeyForeignKeyResolution,
	KeyFlowDesign,
}

// PrefillRecord is the fixed-shape Stage 2 field set. The same shape holds the
// values parsed from Stage 1 and the values the user edits before Stage 2.
type PrefillRecord struct {
	TargetTableName        string `json:"target_table_name" yaml:"target_table_name"`
	PrimaryKeys            string `json:"primary_keys" yaml:"primary_keys"`
	BusinessKeys           string `json:"business_keys" yaml:"business_keys"`
	ForeignKeys            string `json:"foreign_keys" yaml:"foreign_keys"`
	AuditColumns           string `json:"audit_columns" yaml:"audit_columns"`
	TargetTableStructure   string `json:"target_table_structure" yaml:"target_table_structure"`
	SourceTableRealignment string `json:"source_table_realignment" yaml:"source_table_realignment"`
	SourceToTargetMapping  string `json:"source_to_target_mapping" yaml:"source_to_target_mapping"`
	ForeignKeyResolution   string `json:"foreign_key_resolution" yaml:"foreign_key_resolution"`
	FlowDesign             string `json:"flow_design" yaml:"flow_design"`
}

func (r *PrefillRecord) field(key string) *string {
	switch key {
	case KeyTargetTableName:
		return &r.TargetTableName
	case KeyPrimaryKeys:
		return &r.PrimaryKeys
	case KeyBusinessKeys:
		return &r.BusinessKeys
	case KeyForeignKeys:
		return &r.ForeignKeys
	case KeyAuditColumns:
		return &r.AuditColumns
	case KeyTargetTableStructure:
		return &r.TargetTableStructure
	case KeySourceTableRealignment:
		return &r.SourceTableRealignment
	case KeySourceToTargetMapping:
		return &r.SourceToTargetMapping
	case KeyForeignKeyResolution:
		return &r.ForeignKeyResolution
	case KeyFlowDesign:
		return &r.FlowDesign
	}
	return nil
}

// Get returns the value for key and whether key is one of the ten known keys.
func (r PrefillRecord) Get(key string) (string, bool) {
	p := r.field(key)
	if p == nil {
		return "", false
	}
	return *p, true
}

// Set assigns value to key. It returns false for unknown keys.
func (r *PrefillRecord) Set(key, value string) bool {
	p := r.field(key)
	if p == nil {
		return false
	}
	*p = value
	return true
}

// IsEmpty reports whether every field is blank.
func (r PrefillRecord) IsEmpty() bool {
	for _, k := range PrefillKeys {
		if v, _ := r.Get(k); strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Map returns the record as a key/value map with all ten keys present.
func (r PrefillRecord) Map() map[string]string {
	m := make(map[string]string, len(PrefillKeys))
	for _, k := range PrefillKeys {
		m[k], _ = r.Get(k)
	}
	return m
}

// FieldPatch holds user overrides keyed by record key.
type FieldPatch map[string]string

// Validate rejects keys that are not part of the record.
func (p FieldPatch) Validate() error {
	var unknown []string
	for k := range p {
		if _, ok := (PrefillRecord{}).Get(k); !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return fmt.Errorf("unknown field(s): %s (known: %s)", strings.Join(unknown, ", "), strings.Join(PrefillKeys, ", "))
}

// Apply returns a copy of r with the patch applied.
func (r PrefillRecord) Apply(p FieldPatch) (PrefillRecord, error) {
	if err := p.Validate(); err != nil {
		return r, err
	}
	out := r
	for k, v := range p {
		out.Set(k, v)
	}
	return out, nil
}

// Trimmed returns a copy with surrounding whitespace removed from every field.
func (r PrefillRecord) Trimmed() PrefillRecord {
	out := r
	for _, k := range PrefillKeys {
		v, _ := out.Get(k)
		out.Set(k, strings.TrimSpace(v))
	}
	return out
}
