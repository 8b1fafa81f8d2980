package model

import (
	"fmt"
	"strings"
)

// Stage identifies one step of the three-step workflow. Idle means no stage
// has completed yet for the session.
type Stage int

const (
	StageIdle Stage = iota
	Stage1
	Stage2
	Stage3
)

func (s Stage) String() string {
	switch s {
	case Stage1:
		return "Stage 1: Parse & Visualize"
	case Stage2:
		return "Stage 2: Databricks Alignment"
	case Stage3:
		return "Stage 3: Generate Notebook"
	default:
		return "Idle"
	}
}

// Short is the compact label used in logs, run records and CLI arguments.
func (s Stage) Short() string {
	switch s {
	case Stage1, Stage2, Stage3:
		return fmt.Sprintf("stage%d", int(s))
	default:
		return "idle"
	}
}

// ParseStage accepts "1", "stage1" or "stage 1" (case-insensitive).
func ParseStage(v string) (Stage, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	v = strings.TrimPrefix(v, "stage")
	switch strings.TrimSpace(v) {
	case "1":
		return Stage1, nil
	case "2":
		return Stage2, nil
	case "3":
		return Stage3, nil
	}
	return StageIdle, fmt.Errorf("unknown stage %q", v)
}

// MarshalText renders the stage in its short form for JSON and YAML.
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.Short()), nil
}

func (s *Stage) UnmarshalText(b []byte) error {
	if strings.EqualFold(string(b), "idle") || len(b) == 0 {
		*s = StageIdle
		return nil
	}
	parsed, err := ParseStage(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
