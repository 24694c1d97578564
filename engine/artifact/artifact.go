// Package artifact implements the deterministic-path JSON artifact store
// described in spec.md §4.2: every stage output is written to
// {data_root}/{environment}/{speaker}/{stage}/{content_type}/{id}.json.
package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/discoursekg/discoursekg/engine/domain"
)

// Store writes and reads stage artifacts under a fixed directory layout.
type Store struct {
	dataRoot    string
	environment string
}

// New creates a Store rooted at dataRoot for the given environment.
func New(dataRoot, environment string) *Store {
	return &Store{dataRoot: dataRoot, environment: environment}
}

// Path returns the on-disk path for an artifact without touching the
// filesystem. contentType may be domain.ContentUnknown when the stage
// producing the artifact has not yet classified it.
func (s *Store) Path(speaker string, stage domain.Stage, contentType domain.ContentType, id string) string {
	if contentType == "" {
		contentType = domain.ContentUnknown
	}
	return filepath.Join(s.dataRoot, s.environment, sanitize(speaker), string(stage), string(contentType), id+".json")
}

// sanitize replaces path separators in a user-controlled component so it
// cannot escape the intended directory.
func sanitize(component string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", "..", "_")
	return r.Replace(component)
}

// Save marshals v to indented JSON and writes it to the artifact path,
// creating parent directories as needed. Writes go to a temp file in the
// same directory followed by a rename, so a reader never observes a
// partially-written artifact.
func (s *Store) Save(speaker string, stage domain.Stage, contentType domain.ContentType, id string, v any) (string, error) {
	path := s.Path(speaker, stage, contentType, id)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("artifact: mkdir %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("artifact: marshal %s: %w", id, err)
	}

	tmp, err := os.CreateTemp(dir, ".artifact-*.tmp")
	if err != nil {
		return "", fmt.Errorf("artifact: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("artifact: write %s: %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("artifact: close temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("artifact: rename %s: %w", id, err)
	}
	return path, nil
}

// Load reads the artifact at path into v. A missing file surfaces as
// domain.ErrArtifactMissing; an unparsable file as domain.ErrArtifactCorrupt.
func Load(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("artifact: load %s: %w", path, domain.ErrArtifactMissing)
		}
		return fmt.Errorf("artifact: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("artifact: parse %s: %w", path, domain.ErrArtifactCorrupt)
	}
	return nil
}

// LoadFor is a convenience wrapper that resolves the stored path for
// (speaker, stage, contentType, id) via the given state's FilePaths, then
// loads it. It returns domain.ErrArtifactMissing if no path is recorded.
func LoadFor(state *domain.PipelineState, stage domain.Stage, v any) error {
	path, ok := state.FilePaths[stage]
	if !ok || path == "" {
		return fmt.Errorf("artifact: no recorded path for stage %s on item %s: %w", stage, state.ID, domain.ErrArtifactMissing)
	}
	return Load(path, v)
}
