package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/discoursekg/discoursekg/engine/domain"
)

// SpeakerDirectory is the out-of-band speakers.json lookup referenced by
// spec.md §4.5 step 1: speaker name -> the Speaker record to upsert, or
// absence meaning SPEAKER_UNKNOWN.
type SpeakerDirectory map[string]Speaker

// Builder is the GRAPH stage processor (§4.5): given a fully-processed
// item, it assembles nodes and edges and upserts them with merge-on-key
// semantics.
type Builder struct {
	store *GraphStore
	log   *slog.Logger
}

// NewBuilder creates a Builder writing through store.
func NewBuilder(store *GraphStore, log *slog.Logger) *Builder {
	if log == nil {
		log = slog.Default()
	}
	return &Builder{store: store, log: log}
}

// Build assembles and upserts the graph for one item, following the
// ordered algorithm in spec.md §4.5: Speaker, Communication, Entity,
// Mention, Subject, then edges, all in a single transaction.
func (b *Builder) Build(
	ctx context.Context,
	state *domain.PipelineState,
	scrape domain.ScrapeArtifact,
	summarize domain.SummarizeArtifact,
	cat domain.CategorizeArtifact,
	speakers SpeakerDirectory,
) (domain.GraphReport, error) {
	var report domain.GraphReport

	speaker, known := speakers[state.Speaker]
	if !known {
		return report, fmt.Errorf("graph: speaker %q: %w", state.Speaker, domain.ErrSpeakerUnknown)
	}

	if err := domain.ValidateCategorize(cat); err != nil {
		return report, err
	}
	cat = domain.NormalizeCategorize(cat)

	comm := Communication{
		ID:               state.ID,
		Speaker:          state.Speaker,
		SourceURL:        state.SourceURL,
		Title:            state.Title,
		ContentDate:      state.ContentDate,
		ContentType:      state.ContentType,
		Summary:          summarize.Summary,
		FullText:         scrape.FullText,
		WordCount:        scrape.WordCount,
		WasSummarized:    summarize.WasSummarized,
		CompressionRatio: summarize.CompressionRatio,
	}

	entities := make([]Entity, 0, len(cat.Entities))
	mentions := make([]Mention, 0)
	subjects := make([]SubjectNode, 0)
	edges := make([]Edge, 0)
	seenMentionKeys := make(map[string]bool)

	edges = append(edges, Edge{Type: EdgeDelivered, From: state.Speaker, To: state.ID})

	for _, em := range cat.Entities {
		canonical := foldCanonical(em.EntityName)
		entityType := em.EntityType

		if existing, err := b.store.GetEntity(ctx, canonical); err == nil {
			if existing.EntityType != "" && existing.EntityType != entityType {
				msg := fmt.Sprintf("entity %q: keeping existing entity_type %q over incoming %q", canonical, existing.EntityType, entityType)
				b.log.Warn("entity_type conflict", "entity", canonical, "existing_type", existing.EntityType, "incoming_type", entityType)
				report.Warnings = append(report.Warnings, msg)
				entityType = existing.EntityType
			}
		}
		entities = append(entities, Entity{CanonicalName: canonical, EntityType: entityType})
		edges = append(edges, Edge{Type: EdgeRefersTo, From: "", To: canonical}) // From filled in per-mention below

		for _, tm := range em.Mentions {
			m := Mention{
				CommunicationID: state.ID,
				EntityName:      canonical,
				Topic:           tm.Topic,
				Context:         tm.Context,
			}
			key := m.Key()
			if seenMentionKeys[key] {
				return report, fmt.Errorf("graph: %s/%s/%s: %w", state.ID, canonical, tm.Topic, domain.ErrMentionDuplicate)
			}
			seenMentionKeys[key] = true

			m.AggregatedSentiment = aggregateSentiment(tm.Subjects)
			mentions = append(mentions, m)

			edges = append(edges, Edge{Type: EdgeHasMention, From: state.ID, To: key})
			edges = append(edges, Edge{Type: EdgeRefersTo, From: key, To: canonical})

			for _, s := range tm.Subjects {
				subjects = append(subjects, SubjectNode{
					MentionKey:  key,
					SubjectName: s.SubjectName,
					Sentiment:   s.Sentiment,
					Quotes:      s.Quotes,
				})
				edges = append(edges, Edge{Type: EdgeHasSubject, From: key, To: key + "\x00" + s.SubjectName})
			}
		}
	}

	// drop the placeholder REFERS_TO edges emitted before a mention exists
	edges = filterEdges(edges, func(e Edge) bool { return !(e.Type == EdgeRefersTo && e.From == "") })

	counters, err := b.upsertAll(ctx, speaker, comm, entities, mentions, subjects, edges)
	if err != nil {
		return report, err
	}

	totalAttempted := 2 + len(entities) + len(mentions) + len(subjects)
	report.NodesCreated = counters.nodesCreated
	report.NodesMerged = totalAttempted - report.NodesCreated
	report.EdgesCreated = counters.edgesCreated
	report.MentionCount = len(mentions)
	report.SubjectCount = len(subjects)
	return report, nil
}

func filterEdges(edges []Edge, keep func(Edge) bool) []Edge {
	out := edges[:0]
	for _, e := range edges {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// foldCanonical case-folds and trims an entity name for use as its
// natural key, per spec.md §4.5 step 3a.
func foldCanonical(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// aggregateSentiment computes the {sentiment_value: {count, prop}} map
// over a Mention's Subjects, per spec.md §4.5 step 3b and the rounding
// decision in DESIGN.md. Returns an empty, non-nil map for zero subjects.
func aggregateSentiment(subjects []domain.Subject) map[string]SentimentAgg {
	out := map[string]SentimentAgg{}
	if len(subjects) == 0 {
		return out
	}
	counts := map[domain.Sentiment]int{}
	for _, s := range subjects {
		counts[s.Sentiment]++
	}
	total := float64(len(subjects))
	for sentiment, n := range counts {
		prop := math.Round(float64(n)/total*1000) / 1000
		out[string(sentiment)] = SentimentAgg{Count: n, Prop: prop}
	}
	return out
}

// upsertAll writes Speaker, Communication, Entity, Mention, Subject nodes
// and then edges, in that order, in a single managed transaction — all
// MERGE-keyed so the whole procedure is idempotent across re-runs.
func (b *Builder) upsertAll(
	ctx context.Context,
	speaker Speaker,
	comm Communication,
	entities []Entity,
	mentions []Mention,
	subjects []SubjectNode,
	edges []Edge,
) (*upsertCounters, error) {
	sess := b.store.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	counters, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		c := &upsertCounters{}

		if err := c.run(ctx, tx, `MERGE (s:Speaker {name: $name}) SET s += $props`,
			map[string]any{"name": speaker.Name, "props": speakerProps(speaker)}); err != nil {
			return nil, err
		}
		if err := c.run(ctx, tx, `MERGE (c:Communication {id: $id}) SET c += $props`,
			map[string]any{"id": comm.ID, "props": communicationProps(comm)}); err != nil {
			return nil, err
		}
		for _, e := range entities {
			if err := c.run(ctx, tx, `MERGE (n:Entity {canonical_name: $key}) SET n.entity_type = $type`,
				map[string]any{"key": e.CanonicalName, "type": string(e.EntityType)}); err != nil {
				return nil, err
			}
		}
		for _, m := range mentions {
			if err := c.run(ctx, tx, `MERGE (n:Mention {key: $key}) SET n += $props`,
				map[string]any{"key": m.Key(), "props": mentionProps(m)}); err != nil {
				return nil, err
			}
		}
		for _, s := range subjects {
			key := s.MentionKey + "\x00" + s.SubjectName
			if err := c.run(ctx, tx, `MERGE (n:Subject {key: $key}) SET n += $props`,
				map[string]any{"key": key, "props": subjectProps(s)}); err != nil {
				return nil, err
			}
		}
		for _, e := range edges {
			if err := mergeEdge(ctx, tx, c, e); err != nil {
				return nil, err
			}
		}
		return c, nil
	})
	if err != nil {
		return nil, fmt.Errorf("graph: upsert: %w", err)
	}
	return counters.(*upsertCounters), nil
}

// upsertCounters accumulates Neo4j's own node/relationship creation
// counters across every statement in one Build transaction, so
// GraphReport reflects what actually happened rather than a naive count
// of inputs (a MERGE that matches an existing node creates nothing).
type upsertCounters struct {
	nodesCreated int
	edgesCreated int
}

func (c *upsertCounters) run(ctx context.Context, tx neo4j.ManagedTransaction, cypher string, params map[string]any) error {
	result, err := tx.Run(ctx, cypher, params)
	if err != nil {
		return err
	}
	summary, err := result.Consume(ctx)
	if err != nil {
		return err
	}
	stats := summary.Counters()
	c.nodesCreated += stats.NodesCreated()
	c.edgesCreated += stats.RelationshipsCreated()
	return nil
}

func mergeEdge(ctx context.Context, tx neo4j.ManagedTransaction, c *upsertCounters, e Edge) error {
	fromLabel, fromKey := edgeEndpoint(e.Type, true)
	toLabel, toKey := edgeEndpoint(e.Type, false)

	cypher := fmt.Sprintf(
		`MATCH (a:%s {%s: $from}), (b:%s {%s: $to}) MERGE (a)-[:%s]->(b)`,
		fromLabel, fromKey, toLabel, toKey, string(e.Type),
	)
	return c.run(ctx, tx, cypher, map[string]any{"from": e.From, "to": e.To})
}

// edgeEndpoint returns the node label and key property name for one side
// of an edge type. The five-node model makes this a closed, static table.
func edgeEndpoint(t EdgeType, isFrom bool) (label, keyProp string) {
	switch t {
	case EdgeDelivered:
		if isFrom {
			return "Speaker", "name"
		}
		return "Communication", "id"
	case EdgeHasMention:
		if isFrom {
			return "Communication", "id"
		}
		return "Mention", "key"
	case EdgeRefersTo:
		if isFrom {
			return "Mention", "key"
		}
		return "Entity", "canonical_name"
	case EdgeHasSubject:
		if isFrom {
			return "Mention", "key"
		}
		return "Subject", "key"
	default:
		return "", ""
	}
}

func speakerProps(s Speaker) map[string]any {
	return map[string]any{
		"name": s.Name, "display_name": s.DisplayName, "role": s.Role,
		"organization": s.Organization, "industry": s.Industry, "region": s.Region,
		"date_of_birth": s.DateOfBirth, "bio": s.Bio, "influence_score": s.InfluenceScore,
	}
}

func communicationProps(c Communication) map[string]any {
	return map[string]any{
		"id": c.ID, "speaker": c.Speaker, "source_url": c.SourceURL,
		"title": c.Title, "content_date": c.ContentDate,
		"content_type": string(c.ContentType), "summary": c.Summary,
		"full_text": c.FullText, "word_count": c.WordCount,
		"was_summarized": c.WasSummarized, "compression_ratio": c.CompressionRatio,
	}
}

// mentionProps flattens AggregatedSentiment into a JSON string property:
// Neo4j node properties may be primitives or arrays of primitives, not
// nested maps, so the {sentiment: {count, prop}} structure is encoded
// rather than stored directly.
func mentionProps(m Mention) map[string]any {
	agg, _ := json.Marshal(m.AggregatedSentiment)
	return map[string]any{
		"key": m.Key(), "communication_id": m.CommunicationID,
		"entity_name": m.EntityName, "topic": string(m.Topic),
		"context": m.Context, "aggregated_sentiment_json": string(agg),
	}
}

func subjectProps(s SubjectNode) map[string]any {
	return map[string]any{
		"key": s.MentionKey + "\x00" + s.SubjectName,
		"subject_name": s.SubjectName, "sentiment": string(s.Sentiment),
		"quotes": s.Quotes,
	}
}
