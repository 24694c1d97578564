package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/discoursekg/discoursekg/engine/domain"
	"github.com/discoursekg/discoursekg/engine/llm"
	"github.com/discoursekg/discoursekg/engine/pipeline"
)

// Categorizer is the Categorize stage processor. In heuristic mode it is
// a deterministic regex/keyword extractor, grounded on pkg/vehiclenlp's
// alias-table-plus-regex idiom (generalized from make/model extraction
// to organization/person/location entity names plus a fixed
// keyword-to-topic map). In LLM mode it delegates to llm.Client,
// instructed to answer with a CategorizeArtifact-shaped JSON object.
// Both modes satisfy the same validation rules.
type Categorizer struct {
	LLM *llm.Client
}

// NewHeuristicCategorizer creates a Categorizer that never calls an LLM.
func NewHeuristicCategorizer() *Categorizer { return &Categorizer{} }

// NewLLMCategorizer creates a Categorizer backed by client.
func NewLLMCategorizer(client *llm.Client) *Categorizer { return &Categorizer{LLM: client} }

func (c *Categorizer) Stage() domain.Stage { return domain.StageCategorize }

func (c *Categorizer) RequiredStages() []domain.Stage {
	return []domain.Stage{domain.StageScrape, domain.StageSummarize}
}

func (c *Categorizer) Process(ctx context.Context, state *domain.PipelineState, prior map[domain.Stage]json.RawMessage) (pipeline.StageResult, error) {
	var summarize domain.SummarizeArtifact
	if err := json.Unmarshal(prior[domain.StageSummarize], &summarize); err != nil {
		return pipeline.StageResult{}, fmt.Errorf("categorize: decode summarize artifact: %w", err)
	}

	var artifact domain.CategorizeArtifact
	var err error
	if c.LLM != nil {
		artifact, err = c.categorizeLLM(ctx, summarize.Summary)
	} else {
		artifact = c.categorizeHeuristic(summarize.Summary)
	}
	if err != nil {
		return pipeline.StageResult{}, err
	}

	if err := domain.ValidateCategorize(artifact); err != nil {
		return pipeline.StageResult{}, err
	}
	artifact = domain.NormalizeCategorize(artifact)

	return pipeline.StageResult{Artifact: artifact}, nil
}

func (c *Categorizer) categorizeLLM(ctx context.Context, text string) (domain.CategorizeArtifact, error) {
	var artifact domain.CategorizeArtifact
	prompt := categorizeSystemPrompt + "\n\nCommunication:\n" + text
	if err := c.LLM.GenerateJSON(ctx, categorizeSystemPrompt, prompt, &artifact); err != nil {
		return domain.CategorizeArtifact{}, fmt.Errorf("categorize: llm: %w", err)
	}
	return artifact, nil
}

const categorizeSystemPrompt = "Identify organizations, people, locations, programs, products, and events discussed, the topic(s) and surrounding context for each, and any quoted opinions with their sentiment. Answer with a single JSON object matching the CategorizeArtifact schema."

// entityPattern matches capitalized multi-word sequences, a coarse
// stand-in for named-entity recognition — good enough to exercise the
// pipeline end to end, not a real NLP system.
var entityPattern = regexp.MustCompile(`\b([A-Z][a-zA-Z.]+(?:\s+[A-Z][a-zA-Z.]+){0,3})\b`)

// topicKeywords maps a lowercase keyword to the topic it implies,
// checked in the order below so earlier entries win on overlap.
var topicKeywords = []struct {
	keyword string
	topic   domain.Topic
}{
	{"economy", domain.TopicEconomics}, {"jobs", domain.TopicEconomics}, {"inflation", domain.TopicEconomics},
	{"technology", domain.TopicTechnology}, {"artificial intelligence", domain.TopicTechnology}, {"internet", domain.TopicTechnology},
	{"foreign policy", domain.TopicForeignAffairs}, {"trade", domain.TopicForeignAffairs}, {"diplomacy", domain.TopicForeignAffairs},
	{"health", domain.TopicHealthcare}, {"hospital", domain.TopicHealthcare}, {"medicare", domain.TopicHealthcare},
	{"energy", domain.TopicEnergy}, {"oil", domain.TopicEnergy}, {"climate", domain.TopicEnergy},
	{"defense", domain.TopicDefense}, {"military", domain.TopicDefense}, {"security", domain.TopicDefense},
	{"education", domain.TopicSocial}, {"housing", domain.TopicSocial}, {"immigration", domain.TopicSocial},
	{"regulation", domain.TopicRegulation}, {"law", domain.TopicRegulation}, {"policy", domain.TopicRegulation},
}

var positiveKeywords = []string{"support", "praised", "welcomed", "thanked", "commended"}
var negativeKeywords = []string{"criticized", "condemned", "opposed", "rejected", "blamed"}

// categorizeHeuristic builds a CategorizeArtifact from plain keyword and
// regex matching: it is a fixture generator for tests and offline runs,
// not production extraction intelligence.
func (c *Categorizer) categorizeHeuristic(text string) domain.CategorizeArtifact {
	lower := strings.ToLower(text)

	names := map[string]bool{}
	for _, m := range entityPattern.FindAllString(text, -1) {
		if len(strings.Fields(m)) == 0 {
			continue
		}
		names[m] = true
	}

	sorted := make([]string, 0, len(names))
	for n := range names {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)

	var entities []domain.EntityMention
	for _, name := range sorted {
		topic := dominantTopic(lower)
		sentiment := dominantSentiment(lower)
		entities = append(entities, domain.EntityMention{
			EntityName: name,
			EntityType: domain.EntityOther,
			Mentions: []domain.TopicMention{
				{
					Topic:   topic,
					Context: excerpt(text, name),
					Subjects: []domain.Subject{
						{SubjectName: "general remarks", Sentiment: sentiment, Quotes: []string{excerpt(text, name)}},
					},
				},
			},
		})
	}
	return domain.CategorizeArtifact{Entities: entities}
}

func dominantTopic(lower string) domain.Topic {
	for _, tk := range topicKeywords {
		if strings.Contains(lower, tk.keyword) {
			return tk.topic
		}
	}
	return domain.TopicOther
}

func dominantSentiment(lower string) domain.Sentiment {
	for _, kw := range positiveKeywords {
		if strings.Contains(lower, kw) {
			return domain.SentimentPositive
		}
	}
	for _, kw := range negativeKeywords {
		if strings.Contains(lower, kw) {
			return domain.SentimentNegative
		}
	}
	return domain.SentimentNeutral
}

// excerpt returns a bounded window of text around name's first
// occurrence, satisfying the [10,500]-rune context-length invariant.
func excerpt(text, name string) string {
	idx := strings.Index(text, name)
	if idx < 0 {
		if len(text) > 200 {
			return text[:200]
		}
		return text
	}
	start := idx - 80
	if start < 0 {
		start = 0
	}
	end := idx + len(name) + 80
	if end > len(text) {
		end = len(text)
	}
	window := strings.TrimSpace(text[start:end])
	if len(window) < 10 {
		window = window + strings.Repeat(".", 10-len(window))
	}
	return window
}
