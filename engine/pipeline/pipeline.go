// Package pipeline implements the Runtime described in spec.md §4.3: it
// drives one stage across all items the Journal reports ready for it,
// bounded by a worker fan-out built on pkg/fn.ParMap, with a per-attempt
// timeout and an OTel span per (item, stage) attempt.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/discoursekg/discoursekg/engine/artifact"
	"github.com/discoursekg/discoursekg/engine/domain"
	"github.com/discoursekg/discoursekg/engine/journal"
	"github.com/discoursekg/discoursekg/pkg/fn"
)

// DefaultFanOut is F from spec.md §5: the default number of items
// processed concurrently within one run_stage invocation.
const DefaultFanOut = 4

// DefaultStageTimeout bounds a single processor invocation.
const DefaultStageTimeout = 10 * time.Minute

// StageResult is what a Processor returns for one item, per spec.md §6.
type StageResult struct {
	Artifact any
	Metadata domain.StageMetadata
}

// Processor satisfies spec.md §4.4: it declares the prior stages whose
// artifacts it needs and processes one item at a time. Processors never
// touch the Journal or Artifact Store directly.
type Processor interface {
	Stage() domain.Stage
	RequiredStages() []domain.Stage
	Process(ctx context.Context, state *domain.PipelineState, priorArtifacts map[domain.Stage]json.RawMessage) (StageResult, error)
}

// Runtime drives stages across the Journal and Artifact Store.
type Runtime struct {
	Journal  *journal.Journal
	Artifacts *artifact.Store
	Log      *slog.Logger

	// FanOut bounds concurrent item processing per RunStage invocation.
	// Zero selects DefaultFanOut.
	FanOut int
	// Timeout bounds a single processor invocation. Zero selects
	// DefaultStageTimeout.
	Timeout time.Duration

	// Now lets tests substitute a deterministic clock. Defaults to
	// time.Now.
	Now func() time.Time
}

// StageReport summarizes one RunStage invocation, per spec.md §4.3.
type StageReport struct {
	Stage       domain.Stage    `json:"stage"`
	ItemsTotal  int             `json:"items_total"`
	Succeeded   int             `json:"succeeded"`
	Failed      int             `json:"failed"`
	Durations   []time.Duration `json:"durations"`
}

func (r *Runtime) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Runtime) fanOut() int {
	if r.FanOut > 0 {
		return r.FanOut
	}
	return DefaultFanOut
}

func (r *Runtime) timeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return DefaultStageTimeout
}

func (r *Runtime) logger() *slog.Logger {
	if r.Log != nil {
		return r.Log
	}
	return slog.Default()
}

// RunStage drives proc.Stage() across every item the Journal reports
// ready for it, up to r.fanOut() concurrently via pkg/fn.ParMap, per
// spec.md §4.3. A journal write failure (domain.ErrJournalIO) is
// infrastructure, not a per-item failure: per spec.md §4.1/§7 it aborts
// the invocation instead of being folded into report.Failed.
func (r *Runtime) RunStage(ctx context.Context, proc Processor) (StageReport, error) {
	stage := proc.Stage()
	items := r.Journal.ItemsReadyFor(stage)
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })

	report := StageReport{Stage: stage, ItemsTotal: len(items)}
	if len(items) == 0 {
		return report, nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		succeeded bool
		duration  time.Duration
		skipped   bool
	}

	var fatalMu sync.Mutex
	var fatal error

	outcomes := fn.ParMap(items, r.fanOut(), func(item *domain.PipelineState) outcome {
		if runCtx.Err() != nil {
			return outcome{skipped: true}
		}
		succeeded, duration, err := r.runOne(runCtx, proc, item)
		if err != nil {
			fatalMu.Lock()
			if fatal == nil {
				fatal = err
			}
			fatalMu.Unlock()
			cancel()
			return outcome{skipped: true}
		}
		return outcome{succeeded: succeeded, duration: duration}
	})

	for _, o := range outcomes {
		if o.skipped {
			continue
		}
		report.Durations = append(report.Durations, o.duration)
		if o.succeeded {
			report.Succeeded++
		} else {
			report.Failed++
		}
	}

	if fatal != nil {
		return report, fmt.Errorf("pipeline: %s: %w", stage, fatal)
	}
	return report, nil
}

// runOne processes a single item end to end: load prior artifacts,
// invoke the processor under a per-attempt timeout and span, then record
// success or failure in the Journal. A non-nil fatal return means the
// Journal itself could not be written (domain.ErrJournalIO) and the
// caller must stop the invocation rather than count this as a failure.
func (r *Runtime) runOne(ctx context.Context, proc Processor, item *domain.PipelineState) (succeeded bool, duration time.Duration, fatal error) {
	log := r.logger().With("stage", proc.Stage(), "id", item.ID, "speaker", item.Speaker, "attempt", item.RetryCount+1)

	attemptCtx, span := otel.Tracer("engine/pipeline").Start(ctx, "stage.attempt")
	defer span.End()

	attemptCtx, cancel := context.WithTimeout(attemptCtx, r.timeout())
	defer cancel()

	start := r.now()
	priorArtifacts, err := r.loadPriorArtifacts(item, proc.RequiredStages())
	if err != nil {
		return r.fail(log, span, item, start, err)
	}

	result, err := proc.Process(attemptCtx, item, priorArtifacts)
	elapsed := r.now().Sub(start)

	if attemptCtx.Err() != nil {
		return r.fail(log, span, item, start, fmt.Errorf("timeout"))
	}
	if err != nil {
		return r.fail(log, span, item, start, err)
	}

	path, err := r.Artifacts.Save(item.Speaker, proc.Stage(), item.ContentType, item.ID, result.Artifact)
	if err != nil {
		return r.fail(log, span, item, start, err)
	}

	if _, err := r.Journal.UpdateOnSuccess(item.ID, proc.Stage(), path, result.Metadata, elapsed, r.now()); err != nil {
		if errors.Is(err, domain.ErrJournalIO) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.Error("journal write failed", "error", err)
			return false, r.now().Sub(start), err
		}
		return r.fail(log, span, item, start, err)
	}

	log.Info("stage succeeded", "elapsed", elapsed)
	return true, elapsed, nil
}

func (r *Runtime) fail(log *slog.Logger, span trace.Span, item *domain.PipelineState, start time.Time, cause error) (bool, time.Duration, error) {
	elapsed := r.now().Sub(start)
	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())
	log.Error("stage failed", "error", cause, "elapsed", elapsed)
	if _, err := r.Journal.UpdateOnFailure(item.ID, cause.Error(), "", elapsed, r.now()); err != nil {
		log.Error("failed to record failure in journal", "error", err)
		if errors.Is(err, domain.ErrJournalIO) {
			return false, elapsed, err
		}
	}
	return false, elapsed, nil
}

// loadPriorArtifacts loads one artifact per stage proc declares it needs.
func (r *Runtime) loadPriorArtifacts(item *domain.PipelineState, required []domain.Stage) (map[domain.Stage]json.RawMessage, error) {
	out := make(map[domain.Stage]json.RawMessage, len(required))
	for _, stage := range required {
		path, ok := item.FilePaths[stage]
		if !ok || path == "" {
			return nil, fmt.Errorf("pipeline: %s requires %s artifact: %w", item.ID, stage, domain.ErrArtifactMissing)
		}
		var raw json.RawMessage
		if err := artifact.Load(path, &raw); err != nil {
			return nil, err
		}
		out[stage] = raw
	}
	return out, nil
}
