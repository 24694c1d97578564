// Command discoursekg drives the DiscourseKG pipeline: discover, scrape,
// summarize, categorize, and graph stages over a file-backed Journal and
// Artifact Store, plus status and invalidate operations.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/discoursekg/discoursekg/engine/artifact"
	"github.com/discoursekg/discoursekg/engine/domain"
	"github.com/discoursekg/discoursekg/engine/graph"
	"github.com/discoursekg/discoursekg/engine/journal"
	"github.com/discoursekg/discoursekg/engine/llm"
	"github.com/discoursekg/discoursekg/engine/pipeline"
	"github.com/discoursekg/discoursekg/engine/processor"
	"github.com/discoursekg/discoursekg/pkg/metrics"
	"github.com/discoursekg/discoursekg/pkg/mid"
)

const (
	exitOK            = 0
	exitItemFailed    = 1
	exitOperatorError = 2
)

var met = metrics.New()

var (
	mRunsTotal      = func(stage string) *metrics.Counter { return met.Counter(metrics.WithLabels("discoursekg_runs_total", "stage", stage), "Total run_stage invocations") }
	mItemsSucceeded = func(stage string) *metrics.Counter { return met.Counter(metrics.WithLabels("discoursekg_items_succeeded_total", "stage", stage), "Items succeeded per stage") }
	mItemsFailed    = func(stage string) *metrics.Counter { return met.Counter(metrics.WithLabels("discoursekg_items_failed_total", "stage", stage), "Items failed per stage") }
	mStageDuration  = func(stage string) *metrics.Histogram { return met.Histogram(metrics.WithLabels("discoursekg_stage_duration_seconds", "stage", stage), "Per-item stage duration", nil) }
)

type config struct {
	environment string
	dataRoot    string
	graphURL    string
	graphUser   string
	graphPass   string
	llmAPIKey   string
}

func configFromEnv() config {
	return config{
		environment: envOr("ENVIRONMENT", "test"),
		dataRoot:    envOr("DATA_ROOT", "/tmp/discoursekg-data"),
		graphURL:    envOr("GRAPH_URL", "neo4j://localhost:7687"),
		graphUser:   envOr("GRAPH_USER", "neo4j"),
		graphPass:   envOr("GRAPH_PASSWORD", "discoursekg"),
		llmAPIKey:   os.Getenv("LLM_API_KEY"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	maxprocs.Set()

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: discoursekg <run|status|invalidate> [flags]")
		os.Exit(exitOperatorError)
	}

	log := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel()}))
	slog.SetDefault(log)

	cfg := configFromEnv()
	journalPath := filepath.Join(cfg.dataRoot, "state", fmt.Sprintf("pipeline_state_%s.jsonl", cfg.environment))

	j, err := journal.Open(journalPath)
	if err != nil {
		log.Error("open journal failed", "error", err, "path", journalPath)
		os.Exit(exitOperatorError)
	}
	store := artifact.New(cfg.dataRoot, cfg.environment)

	serveStatus(log)

	var code int
	switch os.Args[1] {
	case "run":
		code = runCmd(context.Background(), log, cfg, j, store, os.Args[2:])
	case "status":
		code = statusCmd(j, os.Args[2:])
	case "invalidate":
		code = invalidateCmd(j, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		code = exitOperatorError
	}
	os.Exit(code)
}

func logLevel() slog.Level {
	switch envOr("LOG_LEVEL", "info") {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func metricsPort() int {
	port, err := strconv.Atoi(envOr("METRICS_PORT", "9091"))
	if err != nil {
		return 9091
	}
	return port
}

// serveStatus exposes /metrics behind the same Logger/Recover/OTel chain
// the teacher wraps its API handlers with, rather than the bare handler
// met.ServeAsync would install.
func serveStatus(log *slog.Logger) {
	handler := mid.Chain(met.Handler(),
		mid.Logger(log),
		mid.Recover(log),
		mid.OTel("discoursekg"),
	)
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	addr := fmt.Sprintf(":%d", metricsPort())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error("status server exited", "error", err)
		}
	}()
}

func runCmd(ctx context.Context, log *slog.Logger, cfg config, j *journal.Journal, store *artifact.Store, args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: discoursekg run <discover|scrape|summarize|categorize|graph> [flags]")
		return exitOperatorError
	}
	stageName := args[0]
	fs := flag.NewFlagSet("run "+stageName, flag.ContinueOnError)
	fanOut := fs.Int("fanout", pipeline.DefaultFanOut, "concurrent items processed")
	timeout := fs.Int("timeout", int(pipeline.DefaultStageTimeout.Seconds()), "per-item timeout in seconds")
	dryRun := fs.Bool("dry-run", false, "report which items would be processed without running them")
	speaker := fs.String("speaker", "", "speaker name (discover only)")
	from := fs.String("from", "", "start date YYYY-MM-DD (discover only)")
	to := fs.String("to", "", "end date YYYY-MM-DD (discover only)")
	if err := fs.Parse(args[1:]); err != nil {
		return exitOperatorError
	}

	rt := &pipeline.Runtime{
		Journal:   j,
		Artifacts: store,
		Log:       log,
		FanOut:    *fanOut,
		Timeout:   time.Duration(*timeout) * time.Second,
	}

	if stageName == "discover" {
		if *speaker == "" {
			fmt.Fprintln(os.Stderr, "run discover requires --speaker")
			return exitOperatorError
		}
		disc := processor.NewDiscoverer()
		if urlsFile := os.Getenv("DISCOURSEKG_DISCOVER_URLS_FILE"); urlsFile != "" {
			disc.URLsFile = urlsFile
		}
		if *dryRun {
			fmt.Printf("dry-run: would discover for speaker=%s from=%s to=%s\n", *speaker, *from, *to)
			return exitOK
		}
		report, err := rt.RunDiscover(ctx, disc, *speaker, *from, *to)
		if err != nil {
			log.Error("discover failed", "error", err)
			return exitOperatorError
		}
		return reportResult(log, report)
	}

	stage := domain.Stage(stageName)
	if domain.IndexOf(stage) < 0 {
		fmt.Fprintf(os.Stderr, "unknown stage %q\n", stageName)
		return exitOperatorError
	}

	if *dryRun {
		items := j.ItemsReadyFor(stage)
		fmt.Printf("dry-run: %d item(s) ready for %s\n", len(items), stage)
		for _, it := range items {
			fmt.Printf("  %s\t%s\n", it.ID, it.SourceURL)
		}
		return exitOK
	}

	proc, err := buildProcessor(cfg, stage)
	if err != nil {
		log.Error("build processor failed", "error", err, "stage", stage)
		return exitOperatorError
	}

	mRunsTotal(string(stage)).Inc()
	start := time.Now()
	report, err := rt.RunStage(ctx, proc)
	mStageDuration(string(stage)).Observe(time.Since(start).Seconds())
	if err != nil {
		log.Error("run_stage failed", "error", err, "stage", stage)
		return exitOperatorError
	}
	mItemsSucceeded(string(stage)).Add(int64(report.Succeeded))
	mItemsFailed(string(stage)).Add(int64(report.Failed))
	return reportResult(log, report)
}

func reportResult(log *slog.Logger, report pipeline.StageReport) int {
	log.Info("stage complete", "stage", report.Stage, "total", report.ItemsTotal,
		"succeeded", report.Succeeded, "failed", report.Failed)
	if report.Failed > 0 {
		return exitItemFailed
	}
	return exitOK
}

func buildProcessor(cfg config, stage domain.Stage) (pipeline.Processor, error) {
	switch stage {
	case domain.StageScrape:
		return processor.NewScraper(), nil
	case domain.StageSummarize:
		var client *llm.Client
		if cfg.llmAPIKey != "" {
			client = llm.New(envOr("OLLAMA_URL", "http://localhost:11434"), envOr("OLLAMA_MODEL", "llama3"))
		}
		return processor.NewSummarizer(client), nil
	case domain.StageCategorize:
		if cfg.llmAPIKey != "" {
			client := llm.New(envOr("OLLAMA_URL", "http://localhost:11434"), envOr("OLLAMA_MODEL", "llama3"))
			return processor.NewLLMCategorizer(client), nil
		}
		return processor.NewHeuristicCategorizer(), nil
	case domain.StageGraph:
		driver, err := neo4j.NewDriverWithContext(cfg.graphURL, neo4j.BasicAuth(cfg.graphUser, cfg.graphPass, ""))
		if err != nil {
			return nil, fmt.Errorf("connect graph store: %w", err)
		}
		speakers, err := loadSpeakers(cfg)
		if err != nil {
			return nil, err
		}
		builder := graph.NewBuilder(graph.New(driver), slog.Default())
		return processor.NewGraphStage(builder, speakers), nil
	default:
		return nil, fmt.Errorf("no processor registered for stage %q", stage)
	}
}

// speakerRecord mirrors spec.md §3's Speaker attribute table as it
// appears on disk in speakers.json.
type speakerRecord struct {
	Name           string  `json:"name"`
	DisplayName    string  `json:"display_name"`
	Role           string  `json:"role"`
	Organization   string  `json:"organization"`
	Industry       string  `json:"industry"`
	Region         string  `json:"region"`
	DateOfBirth    string  `json:"date_of_birth,omitempty"`
	Bio            string  `json:"bio,omitempty"`
	InfluenceScore float64 `json:"influence_score,omitempty"`
}

func loadSpeakers(cfg config) (graph.SpeakerDirectory, error) {
	path := filepath.Join(cfg.dataRoot, cfg.environment, "speakers.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return graph.SpeakerDirectory{}, nil
		}
		return nil, fmt.Errorf("read speakers.json: %w", err)
	}
	var records []speakerRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse speakers.json: %w", err)
	}
	dir := make(graph.SpeakerDirectory, len(records))
	for _, r := range records {
		dir[r.Name] = graph.Speaker{
			Name: r.Name, DisplayName: r.DisplayName, Role: r.Role,
			Organization: r.Organization, Industry: r.Industry, Region: r.Region,
			DateOfBirth: r.DateOfBirth, Bio: r.Bio, InfluenceScore: r.InfluenceScore,
		}
	}
	return dir, nil
}

type statusRow struct {
	ID           string `json:"id"`
	Speaker      string `json:"speaker"`
	NextStage    string `json:"next_stage"`
	RetryCount   int    `json:"retry_count"`
	ErrorMessage string `json:"error_message,omitempty"`
}

func statusCmd(j *journal.Journal, args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	stageFilter := fs.String("stage", "", "filter by next_stage")
	failedOnly := fs.Bool("failed", false, "only show items with a non-empty error_message")
	asJSON := fs.Bool("json", false, "emit JSON instead of a table")
	if err := fs.Parse(args); err != nil {
		return exitOperatorError
	}

	all := j.All()
	var rows []statusRow
	counts := map[domain.Stage]int{}
	for _, item := range all {
		if *failedOnly && item.ErrorMessage == "" {
			continue
		}
		if *stageFilter != "" && string(item.NextStage) != *stageFilter {
			continue
		}
		counts[item.NextStage]++
		rows = append(rows, statusRow{
			ID: item.ID, Speaker: item.Speaker, NextStage: string(item.NextStage),
			RetryCount: item.RetryCount, ErrorMessage: item.ErrorMessage,
		})
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rows); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitOperatorError
		}
		return exitOK
	}

	for stage, n := range counts {
		label := string(stage)
		if label == "" {
			label = "(complete)"
		}
		fmt.Printf("%-12s %d\n", label, n)
	}
	for _, r := range rows {
		fmt.Printf("%s\t%s\t%s\tretries=%d\t%s\n", r.ID, r.Speaker, r.NextStage, r.RetryCount, r.ErrorMessage)
	}
	return exitOK
}

func invalidateCmd(j *journal.Journal, args []string) int {
	fs := flag.NewFlagSet("invalidate", flag.ContinueOnError)
	id := fs.String("id", "", "item id to invalidate")
	if err := fs.Parse(args); err != nil {
		return exitOperatorError
	}
	if *id == "" {
		fmt.Fprintln(os.Stderr, "invalidate requires --id")
		return exitOperatorError
	}
	if _, err := j.Invalidate(*id, time.Now()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitOperatorError
	}
	return exitOK
}
