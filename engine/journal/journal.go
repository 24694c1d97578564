// Package journal implements the append-only, file-backed state journal
// described in spec.md §4.1: one PipelineState per item, persisted as
// JSONL, rebuilt into an in-memory index on open and rewritten
// atomically (write-to-temp, then rename) on every mutation.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/discoursekg/discoursekg/engine/domain"
)

// Journal owns the on-disk JSONL file and an in-memory index built from
// it at Open time. All mutating methods hold mu for the duration of the
// read-modify-rename cycle; the journal is safe for concurrent use by
// multiple goroutines within one process, but is a single-writer file —
// two processes must not open the same path concurrently.
type Journal struct {
	mu    sync.RWMutex
	path  string
	byID  map[string]*domain.PipelineState
	order []string // insertion order, for stable iteration
}

// Open reads path (if it exists) into memory. A missing file is treated
// as an empty journal; subsequent mutations create it.
func Open(path string) (*Journal, error) {
	j := &Journal{path: path, byID: make(map[string]*domain.PipelineState)}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return j, nil
		}
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var s domain.PipelineState
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("journal: %s line %d: %w", path, line, domain.ErrArtifactCorrupt)
		}
		j.index(&s)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("journal: scan %s: %w", path, err)
	}
	return j, nil
}

// index records s in the in-memory structures, preserving first-seen
// order for items not already present.
func (j *Journal) index(s *domain.PipelineState) {
	if _, ok := j.byID[s.ID]; !ok {
		j.order = append(j.order, s.ID)
	}
	j.byID[s.ID] = s
}

// Create adds a brand-new item at the first stage of the sequence.
// Returns domain.ErrDuplicateSourceURL if an item with the same
// SourceURL is already present and not invalidated.
func (j *Journal) Create(id, speaker, sourceURL string, contentType domain.ContentType, now time.Time) (*domain.PipelineState, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	for _, existingID := range j.order {
		existing := j.byID[existingID]
		if existing.SourceURL == sourceURL && !existing.Invalidated {
			return nil, fmt.Errorf("journal: create %s: %w", sourceURL, domain.ErrDuplicateSourceURL)
		}
	}

	s := &domain.PipelineState{
		ID:           id,
		RunTimestamp: now,
		Speaker:      speaker,
		ContentType:  contentType,
		SourceURL:    sourceURL,
		NextStage:    domain.NextStage(""),
		FilePaths:    map[domain.Stage]string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	j.index(s)
	if err := j.flushLocked(); err != nil {
		delete(j.byID, id)
		j.order = j.order[:len(j.order)-1]
		return nil, err
	}
	return s.Clone(), nil
}

// Get returns a copy of the item's state, or domain.ErrArtifactMissing.
func (j *Journal) Get(id string) (*domain.PipelineState, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	s, ok := j.byID[id]
	if !ok {
		return nil, fmt.Errorf("journal: get %s: %w", id, domain.ErrArtifactMissing)
	}
	return s.Clone(), nil
}

// FindBySourceURL returns the item with the given SourceURL, if any,
// including invalidated ones (the caller decides how to treat them).
func (j *Journal) FindBySourceURL(sourceURL string) (*domain.PipelineState, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	for _, id := range j.order {
		if s := j.byID[id]; s.SourceURL == sourceURL {
			return s.Clone(), true
		}
	}
	return nil, false
}

// ItemsReadyFor returns, in journal order, copies of every non-invalidated
// item whose NextStage equals stage.
func (j *Journal) ItemsReadyFor(stage domain.Stage) []*domain.PipelineState {
	j.mu.RLock()
	defer j.mu.RUnlock()
	var out []*domain.PipelineState
	for _, id := range j.order {
		s := j.byID[id]
		if !s.Invalidated && s.NextStage == stage {
			out = append(out, s.Clone())
		}
	}
	return out
}

// All returns copies of every item in journal order.
func (j *Journal) All() []*domain.PipelineState {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]*domain.PipelineState, 0, len(j.order))
	for _, id := range j.order {
		out = append(out, j.byID[id].Clone())
	}
	return out
}

// UpdateOnSuccess advances an item past stage: records the artifact path,
// merges non-empty metadata fields (never overwriting an existing
// non-empty value with an empty one), sets LatestCompletedStage/NextStage,
// clears RetryCount/ErrorMessage/FailedOutput, and stamps ProcessingTime
// and UpdatedAt.
func (j *Journal) UpdateOnSuccess(id string, stage domain.Stage, artifactPath string, meta domain.StageMetadata, elapsed time.Duration, now time.Time) (*domain.PipelineState, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	orig, ok := j.byID[id]
	if !ok {
		return nil, fmt.Errorf("journal: update %s: %w", id, domain.ErrArtifactMissing)
	}
	s := orig.Clone()

	if s.FilePaths == nil {
		s.FilePaths = map[domain.Stage]string{}
	}
	s.FilePaths[stage] = artifactPath

	if meta.Title != "" {
		s.Title = meta.Title
	}
	if meta.ContentDate != "" {
		s.ContentDate = meta.ContentDate
	}
	if meta.ContentType != "" {
		s.ContentType = meta.ContentType
	}

	s.LatestCompletedStage = stage
	s.NextStage = domain.NextStage(stage)
	s.ProcessingTimeSeconds = elapsed.Seconds()
	s.RetryCount = 0
	s.ErrorMessage = ""
	s.FailedOutput = ""
	s.UpdatedAt = now

	j.byID[id] = s
	if err := j.flushLocked(); err != nil {
		j.byID[id] = orig
		return nil, err
	}
	return s.Clone(), nil
}

// UpdateOnFailure records a failed attempt: increments RetryCount, stores
// ErrorMessage and a FailedOutput capped at domain.MaxFailedOutputBytes,
// stamps ProcessingTime and UpdatedAt. NextStage is left unchanged so the
// item remains eligible for retry.
func (j *Journal) UpdateOnFailure(id string, errMsg, failedOutput string, elapsed time.Duration, now time.Time) (*domain.PipelineState, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	orig, ok := j.byID[id]
	if !ok {
		return nil, fmt.Errorf("journal: update %s: %w", id, domain.ErrArtifactMissing)
	}
	s := orig.Clone()

	if len(failedOutput) > domain.MaxFailedOutputBytes {
		failedOutput = failedOutput[:domain.MaxFailedOutputBytes]
	}

	s.RetryCount++
	s.ErrorMessage = errMsg
	s.FailedOutput = failedOutput
	s.ProcessingTimeSeconds = elapsed.Seconds()
	s.UpdatedAt = now

	j.byID[id] = s
	if err := j.flushLocked(); err != nil {
		j.byID[id] = orig
		return nil, err
	}
	return s.Clone(), nil
}

// Invalidate marks an item so it is skipped by ItemsReadyFor and excluded
// from the duplicate-SourceURL check on future Create calls.
func (j *Journal) Invalidate(id string, now time.Time) (*domain.PipelineState, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	orig, ok := j.byID[id]
	if !ok {
		return nil, fmt.Errorf("journal: invalidate %s: %w", id, domain.ErrArtifactMissing)
	}
	s := orig.Clone()
	s.Invalidated = true
	s.UpdatedAt = now
	j.byID[id] = s
	if err := j.flushLocked(); err != nil {
		j.byID[id] = orig
		return nil, err
	}
	return s.Clone(), nil
}

// flushLocked rewrites the entire journal file atomically: every record
// is marshaled to one JSON line, written to a temp file in the same
// directory, then renamed over the original. Callers must hold mu.
func (j *Journal) flushLocked() error {
	dir := filepath.Dir(j.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("journal: mkdir %s: %w", dir, domain.ErrJournalIO)
		}
	}

	tmp, err := os.CreateTemp(dir, ".journal-*.tmp")
	if err != nil {
		return fmt.Errorf("journal: create temp: %w", domain.ErrJournalIO)
	}
	tmpPath := tmp.Name()

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	for _, id := range j.order {
		if err := enc.Encode(j.byID[id]); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("journal: encode %s: %w", id, domain.ErrJournalIO)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("journal: flush: %w", domain.ErrJournalIO)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("journal: close temp: %w", domain.ErrJournalIO)
	}
	if err := os.Rename(tmpPath, j.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("journal: rename: %w", domain.ErrJournalIO)
	}
	return nil
}
