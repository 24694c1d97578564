package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/discoursekg/discoursekg/engine/artifact"
	"github.com/discoursekg/discoursekg/engine/domain"
	"github.com/discoursekg/discoursekg/engine/journal"
)

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	dir := t.TempDir()
	j, err := journal.Open(filepath.Join(dir, "journal.jsonl"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	return &Runtime{
		Journal:   j,
		Artifacts: artifact.New(filepath.Join(dir, "artifacts"), "test"),
		Now:       time.Now,
	}
}

func seedScrapeReady(t *testing.T, r *Runtime, id string) *domain.PipelineState {
	t.Helper()
	state, err := r.Journal.Create(id, "Jane Doe", "https://example.com/"+id, domain.ContentSpeech, time.Now())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	path, err := r.Artifacts.Save(state.Speaker, domain.StageDiscover, state.ContentType, state.ID, domain.DiscoverArtifact{ID: id})
	if err != nil {
		t.Fatalf("save discover artifact: %v", err)
	}
	if _, err := r.Journal.UpdateOnSuccess(id, domain.StageDiscover, path, domain.StageMetadata{}, time.Second, time.Now()); err != nil {
		t.Fatalf("update on success: %v", err)
	}
	return state
}

type fakeProcessor struct {
	stage    domain.Stage
	required []domain.Stage
	handle   func(ctx context.Context, state *domain.PipelineState, prior map[domain.Stage]json.RawMessage) (StageResult, error)
}

func (p *fakeProcessor) Stage() domain.Stage            { return p.stage }
func (p *fakeProcessor) RequiredStages() []domain.Stage { return p.required }
func (p *fakeProcessor) Process(ctx context.Context, state *domain.PipelineState, prior map[domain.Stage]json.RawMessage) (StageResult, error) {
	return p.handle(ctx, state, prior)
}

func TestRunStageSuccessAdvancesJournal(t *testing.T) {
	r := newTestRuntime(t)
	seedScrapeReady(t, r, "item-1")

	proc := &fakeProcessor{
		stage:    domain.StageScrape,
		required: []domain.Stage{domain.StageDiscover},
		handle: func(ctx context.Context, state *domain.PipelineState, prior map[domain.Stage]json.RawMessage) (StageResult, error) {
			if _, ok := prior[domain.StageDiscover]; !ok {
				t.Fatal("expected discover artifact to be preloaded")
			}
			return StageResult{Artifact: domain.ScrapeArtifact{FullText: "hello", WordCount: 1}}, nil
		},
	}

	report, err := r.RunStage(context.Background(), proc)
	if err != nil {
		t.Fatalf("run stage: %v", err)
	}
	if report.Succeeded != 1 || report.Failed != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}

	state, err := r.Journal.Get("item-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if state.NextStage != domain.StageSummarize {
		t.Errorf("next_stage = %s, want %s", state.NextStage, domain.StageSummarize)
	}
	if state.RetryCount != 0 {
		t.Errorf("retry_count = %d, want 0", state.RetryCount)
	}
}

func TestRunStageFailureIncrementsRetryAndLeavesNextStage(t *testing.T) {
	r := newTestRuntime(t)
	seedScrapeReady(t, r, "item-1")

	proc := &fakeProcessor{
		stage:    domain.StageScrape,
		required: []domain.Stage{domain.StageDiscover},
		handle: func(ctx context.Context, state *domain.PipelineState, prior map[domain.Stage]json.RawMessage) (StageResult, error) {
			return StageResult{}, errors.New("boom")
		},
	}

	report, err := r.RunStage(context.Background(), proc)
	if err != nil {
		t.Fatalf("run stage: %v", err)
	}
	if report.Failed != 1 || report.Succeeded != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}

	state, err := r.Journal.Get("item-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if state.NextStage != domain.StageScrape {
		t.Errorf("next_stage = %s, want unchanged %s", state.NextStage, domain.StageScrape)
	}
	if state.RetryCount != 1 {
		t.Errorf("retry_count = %d, want 1", state.RetryCount)
	}
	if state.ErrorMessage != "boom" {
		t.Errorf("error_message = %q, want boom", state.ErrorMessage)
	}
}

func TestRunStageTimeoutRecordsTimeoutMessage(t *testing.T) {
	r := newTestRuntime(t)
	r.Timeout = 10 * time.Millisecond
	seedScrapeReady(t, r, "item-1")

	proc := &fakeProcessor{
		stage:    domain.StageScrape,
		required: []domain.Stage{domain.StageDiscover},
		handle: func(ctx context.Context, state *domain.PipelineState, prior map[domain.Stage]json.RawMessage) (StageResult, error) {
			<-ctx.Done()
			return StageResult{}, ctx.Err()
		},
	}

	report, err := r.RunStage(context.Background(), proc)
	if err != nil {
		t.Fatalf("run stage: %v", err)
	}
	if report.Failed != 1 {
		t.Fatalf("expected timeout to count as failure, got %+v", report)
	}
	state, err := r.Journal.Get("item-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if state.ErrorMessage != "timeout" {
		t.Errorf("error_message = %q, want timeout", state.ErrorMessage)
	}
}

func TestRunStageRespectsFanOutBound(t *testing.T) {
	r := newTestRuntime(t)
	r.FanOut = 2
	for i := 0; i < 6; i++ {
		seedScrapeReady(t, r, "item-"+string(rune('a'+i)))
	}

	var inFlight, maxInFlight int64
	proc := &fakeProcessor{
		stage:    domain.StageScrape,
		required: []domain.Stage{domain.StageDiscover},
		handle: func(ctx context.Context, state *domain.PipelineState, prior map[domain.Stage]json.RawMessage) (StageResult, error) {
			n := atomic.AddInt64(&inFlight, 1)
			for {
				cur := atomic.LoadInt64(&maxInFlight)
				if n <= cur || atomic.CompareAndSwapInt64(&maxInFlight, cur, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt64(&inFlight, -1)
			return StageResult{Artifact: domain.ScrapeArtifact{}}, nil
		},
	}

	report, err := r.RunStage(context.Background(), proc)
	if err != nil {
		t.Fatalf("run stage: %v", err)
	}
	if report.Succeeded != 6 {
		t.Fatalf("expected all 6 to succeed, got %+v", report)
	}
	if maxInFlight > 2 {
		t.Errorf("max concurrent = %d, want <= 2", maxInFlight)
	}
}

func TestRunStageNoItemsReady(t *testing.T) {
	r := newTestRuntime(t)
	proc := &fakeProcessor{stage: domain.StageScrape}
	report, err := r.RunStage(context.Background(), proc)
	if err != nil {
		t.Fatalf("run stage: %v", err)
	}
	if report.ItemsTotal != 0 {
		t.Errorf("items_total = %d, want 0", report.ItemsTotal)
	}
}

func TestRunStageAbortsOnJournalIOFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journal.jsonl")
	j, err := journal.Open(path)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	r := &Runtime{Journal: j, Artifacts: artifact.New(filepath.Join(dir, "artifacts"), "test"), Now: time.Now}
	seedScrapeReady(t, r, "item-1")

	// Replace the journal file with a directory so the next write fails,
	// simulating a disk error underneath flushLocked.
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove journal file: %v", err)
	}
	if err := os.Mkdir(path, 0o755); err != nil {
		t.Fatalf("mkdir journal path: %v", err)
	}

	proc := &fakeProcessor{
		stage:    domain.StageScrape,
		required: []domain.Stage{domain.StageDiscover},
		handle: func(ctx context.Context, state *domain.PipelineState, prior map[domain.Stage]json.RawMessage) (StageResult, error) {
			return StageResult{Artifact: domain.ScrapeArtifact{FullText: "hello", WordCount: 1}}, nil
		},
	}

	report, err := r.RunStage(context.Background(), proc)
	if err == nil {
		t.Fatal("expected journal IO failure to abort the run")
	}
	if !errors.Is(err, domain.ErrJournalIO) {
		t.Errorf("error = %v, want wrapping domain.ErrJournalIO", err)
	}
	if report.Succeeded != 0 || report.Failed != 0 {
		t.Errorf("unexpected report on aborted run: %+v", report)
	}
}

func TestRunStageFreshlyCreatedItemNotReadyForScrape(t *testing.T) {
	r := newTestRuntime(t)
	if _, err := r.Journal.Create("item-1", "Jane Doe", "https://example.com/x", domain.ContentSpeech, time.Now()); err != nil {
		t.Fatalf("create: %v", err)
	}
	proc := &fakeProcessor{stage: domain.StageScrape, required: []domain.Stage{domain.StageDiscover}}
	report, err := r.RunStage(context.Background(), proc)
	if err != nil {
		t.Fatalf("run stage: %v", err)
	}
	if report.ItemsTotal != 0 {
		t.Fatalf("item without a completed discover stage should not be ready for scrape: %+v", report)
	}
}
