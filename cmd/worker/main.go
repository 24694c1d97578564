// Command worker is a reference external orchestrator for DiscourseKG: a
// NATS subscriber that triggers a single pipeline stage per message,
// retrying with an incremented retry count on invocation failure and
// publishing to a dead letter subject after MaxWorkerRetries.
//
// It is optional. `discoursekg run <stage>` alone satisfies the CLI
// surface without NATS running; cmd/worker exists to demonstrate how an
// out-of-band trigger wraps run_stage with retry/DLQ semantics.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/discoursekg/discoursekg/engine/artifact"
	"github.com/discoursekg/discoursekg/engine/domain"
	"github.com/discoursekg/discoursekg/engine/graph"
	"github.com/discoursekg/discoursekg/engine/journal"
	"github.com/discoursekg/discoursekg/engine/llm"
	"github.com/discoursekg/discoursekg/engine/pipeline"
	"github.com/discoursekg/discoursekg/engine/processor"
	"github.com/discoursekg/discoursekg/pkg/natsutil"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const (
	subjectPrefix = "discoursekg.run."
	dlqSuffix     = ".dlq"
	// MaxWorkerRetries before a trigger message is sent to the DLQ.
	MaxWorkerRetries = 3
)

// triggerMsg is the payload on discoursekg.run.<stage>. RetryCount tracks
// republish attempts, generalized from the teacher's X-Retry-Count NATS
// header (engine/ingest.StartConsumer) into the typed JSON envelope
// natsutil.Publish/Subscribe expect.
type triggerMsg struct {
	RetryCount int `json:"retry_count"`
}

// dlqMsg is published to <subject>.dlq after MaxWorkerRetries.
type dlqMsg struct {
	Stage      string `json:"stage"`
	Error      string `json:"error"`
	RetryCount int    `json:"retry_count"`
}

func main() {
	maxprocs.Set()
	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(log)

	natsURL := envOr("NATS_URL", nats.DefaultURL)
	environment := envOr("ENVIRONMENT", "test")
	dataRoot := envOr("DATA_ROOT", "/tmp/discoursekg-data")

	nc, err := nats.Connect(natsURL)
	if err != nil {
		log.Error("connect nats failed", "error", err, "url", natsURL)
		os.Exit(1)
	}
	defer nc.Close()

	j, err := journal.Open(filepath.Join(dataRoot, "state", fmt.Sprintf("pipeline_state_%s.jsonl", environment)))
	if err != nil {
		log.Error("open journal failed", "error", err)
		os.Exit(1)
	}
	store := artifact.New(dataRoot, environment)

	rt := &pipeline.Runtime{Journal: j, Artifacts: store, Log: log}
	procs := buildProcessors()

	for stage, proc := range procs {
		if _, err := subscribeStage(nc, log, rt, stage, proc); err != nil {
			log.Error("subscribe failed", "error", err, "stage", stage)
			os.Exit(1)
		}
		log.Info("worker listening", "subject", subjectPrefix+string(stage))
	}

	select {}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// buildProcessors wires the same Example Stage Processors the CLI uses,
// minus discover (which takes a speaker/date-range request, not a
// fan-out trigger, and so has no natural "run discover" NATS subject).
func buildProcessors() map[domain.Stage]pipeline.Processor {
	var llmClient *llm.Client
	if apiKey := os.Getenv("LLM_API_KEY"); apiKey != "" {
		llmClient = llm.New(envOr("OLLAMA_URL", "http://localhost:11434"), envOr("OLLAMA_MODEL", "llama3"))
	}

	procs := map[domain.Stage]pipeline.Processor{
		domain.StageScrape:    processor.NewScraper(),
		domain.StageSummarize: processor.NewSummarizer(llmClient),
	}
	if llmClient != nil {
		procs[domain.StageCategorize] = processor.NewLLMCategorizer(llmClient)
	} else {
		procs[domain.StageCategorize] = processor.NewHeuristicCategorizer()
	}
	if driver, err := neo4j.NewDriverWithContext(envOr("GRAPH_URL", "neo4j://localhost:7687"),
		neo4j.BasicAuth(envOr("GRAPH_USER", "neo4j"), envOr("GRAPH_PASSWORD", "discoursekg"), "")); err == nil {
		speakers := graph.SpeakerDirectory{}
		path := filepath.Join(envOr("DATA_ROOT", "/tmp/discoursekg-data"), envOr("ENVIRONMENT", "test"), "speakers.json")
		if data, err := os.ReadFile(path); err == nil {
			var records []graph.Speaker
			if err := json.Unmarshal(data, &records); err != nil {
				slog.Default().Error("parse speakers.json failed", "error", err, "path", path)
			}
			for _, r := range records {
				speakers[r.Name] = r
			}
		}
		builder := graph.NewBuilder(graph.New(driver), slog.Default())
		procs[domain.StageGraph] = processor.NewGraphStage(builder, speakers)
	}
	return procs
}

// subscribeStage registers a handler for discoursekg.run.<stage> that runs
// one RunStage invocation per trigger message. Invocation-level errors
// (journal I/O, not per-item failures already recorded in the
// StageReport) drive the retry/DLQ envelope; per-item failures are left
// for an operator to inspect via `status --failed` per spec.md §9's Open
// Question decision not to auto-invalidate.
func subscribeStage(nc *nats.Conn, log *slog.Logger, rt *pipeline.Runtime, stage domain.Stage, proc pipeline.Processor) (*nats.Subscription, error) {
	subject := subjectPrefix + string(stage)
	dlqSubject := subject + dlqSuffix

	return natsutil.Subscribe(nc, subject, func(ctx context.Context, trigger triggerMsg) {
		runCtx, cancel := context.WithTimeout(ctx, 30*time.Minute)
		defer cancel()

		report, err := rt.RunStage(runCtx, proc)
		if err != nil {
			retries := trigger.RetryCount + 1
			log.Error("run_stage failed", "error", err, "stage", stage, "retry", retries)
			if retries >= MaxWorkerRetries {
				if pubErr := natsutil.Publish(ctx, nc, dlqSubject, dlqMsg{Stage: string(stage), Error: err.Error(), RetryCount: retries}); pubErr != nil {
					log.Error("dlq publish failed", "error", pubErr, "stage", stage)
				}
				return
			}
			if pubErr := natsutil.Publish(ctx, nc, subject, triggerMsg{RetryCount: retries}); pubErr != nil {
				log.Error("retry publish failed", "error", pubErr, "stage", stage)
			}
			return
		}

		log.Info("run_stage complete", "stage", stage, "total", report.ItemsTotal,
			"succeeded", report.Succeeded, "failed", report.Failed)
	})
}
