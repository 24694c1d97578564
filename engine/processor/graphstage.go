package processor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/discoursekg/discoursekg/engine/domain"
	"github.com/discoursekg/discoursekg/engine/graph"
	"github.com/discoursekg/discoursekg/engine/pipeline"
)

// GraphStage wraps graph.Builder (spec.md §4.5) as a Stage Processor.
type GraphStage struct {
	Builder  *graph.Builder
	Speakers graph.SpeakerDirectory
}

// NewGraphStage creates a GraphStage writing through builder, restricted
// to the given known speakers.
func NewGraphStage(builder *graph.Builder, speakers graph.SpeakerDirectory) *GraphStage {
	return &GraphStage{Builder: builder, Speakers: speakers}
}

func (g *GraphStage) Stage() domain.Stage { return domain.StageGraph }

func (g *GraphStage) RequiredStages() []domain.Stage {
	return []domain.Stage{domain.StageScrape, domain.StageSummarize, domain.StageCategorize}
}

func (g *GraphStage) Process(ctx context.Context, state *domain.PipelineState, prior map[domain.Stage]json.RawMessage) (pipeline.StageResult, error) {
	var scrape domain.ScrapeArtifact
	if err := json.Unmarshal(prior[domain.StageScrape], &scrape); err != nil {
		return pipeline.StageResult{}, fmt.Errorf("graph: decode scrape artifact: %w", err)
	}
	var summarize domain.SummarizeArtifact
	if err := json.Unmarshal(prior[domain.StageSummarize], &summarize); err != nil {
		return pipeline.StageResult{}, fmt.Errorf("graph: decode summarize artifact: %w", err)
	}
	var cat domain.CategorizeArtifact
	if err := json.Unmarshal(prior[domain.StageCategorize], &cat); err != nil {
		return pipeline.StageResult{}, fmt.Errorf("graph: decode categorize artifact: %w", err)
	}

	report, err := g.Builder.Build(ctx, state, scrape, summarize, cat, g.Speakers)
	if err != nil {
		return pipeline.StageResult{}, err
	}
	return pipeline.StageResult{Artifact: report}, nil
}
