package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	errx "github.com/ss2dbx/server/internal/core/error"
	"github.com/ss2dbx/server/internal/migration/model"
)

// Download file names.
const (
	DocumentationFilename = "Documentation.txt"
	NotebookFilename      = "generated_notebook.py"
)

// Artifact is a downloadable stage output.
type Artifact struct {
	Filename    string
	ContentType string
	Content     string
}

// DocumentationArtifact is the visible Stage 2 narrative.
func DocumentationArtifact(state *model.SessionState) (Artifact, error) {
	if state == nil || strings.TrimSpace(state.Stage2Visible) == "" {
		return Artifact{}, errx.NotFound("no Stage 2 documentation yet; run Stage 2 first")
	}
	return Artifact{Filename: DocumentationFilename, ContentType: "text/plain; charset=utf-8", Content: state.Stage2Visible}, nil
}

// NotebookArtifact is the Stage 3 notebook text.
func NotebookArtifact(state *model.SessionState) (Artifact, error) {
	if state == nil || strings.TrimSpace(state.Stage3Notebook) == "" {
		return Artifact{}, errx.NotFound("no notebook yet; run Stage 3 first")
	}
	return Artifact{Filename: NotebookFilename, ContentType: "text/x-python; charset=utf-8", Content: state.Stage3Notebook}, nil
}

// Export writes every available artifact into dir and returns the paths written.
func Export(dir string, state *model.SessionState) ([]string, error) {
	var artifacts []Artifact
	if a, err := DocumentationArtifact(state); err == nil {
		artifacts = append(artifacts, a)
	}
	if a, err := NotebookArtifact(state); err == nil {
		artifacts = append(artifacts, a)
	}
	if len(artifacts) == 0 {
		return nil, errx.NotFound("nothing to export; run Stage 2 or Stage 3 first")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	paths := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		p := filepath.Join(dir, a.Filename)
		if err := os.WriteFile(p, []byte(a.Content), 0o644); err != nil {
			return paths, fmt.Errorf("write %s: %w", a.Filename, err)
		}
		paths = append(paths, p)
	}
	return paths, nil
}
