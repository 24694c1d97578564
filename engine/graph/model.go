// Package graph assembles validated nodes and edges from a fully
// processed item and upserts them into a Neo4j knowledge graph with
// merge-on-key semantics, per spec.md §4.5.
package graph

import "github.com/discoursekg/discoursekg/engine/domain"

// Speaker is the person or organization a Communication is attributed to.
// Key: Name.
type Speaker struct {
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

// Communication is one discovered, scraped, and summarized item.
// Key: ID.
type Communication struct {
	ID               string             `json:"id"`
	Speaker          string             `json:"speaker"`
	SourceURL        string             `json:"source_url"`
	Title            string             `json:"title"`
	ContentDate      string             `json:"content_date"`
	ContentType      domain.ContentType `json:"content_type"`
	Summary          string             `json:"summary"`
	FullText         string             `json:"full_text"`
	WordCount        int                `json:"word_count"`
	WasSummarized    bool               `json:"was_summarized"`
	CompressionRatio float64            `json:"compression_ratio"`
}

// Entity is a named thing discussed across communications.
// Key: CanonicalName.
type Entity struct {
	CanonicalName string            `json:"canonical_name"`
	EntityType    domain.EntityType `json:"entity_type"`
}

// Mention is one entity discussed under one topic within one
// communication. Key: (CommunicationID, EntityName, Topic).
type Mention struct {
	CommunicationID    string                  `json:"communication_id"`
	EntityName         string                  `json:"entity_name"`
	Topic               domain.Topic           `json:"topic"`
	Context             string                 `json:"context"`
	AggregatedSentiment map[string]SentimentAgg `json:"aggregated_sentiment"`
}

// Key returns the Mention's natural key as a single opaque string,
// suitable for use as the merge-on property and for detecting duplicates
// within one categorize artifact.
func (m Mention) Key() string {
	return m.CommunicationID + "\x00" + m.EntityName + "\x00" + string(m.Topic)
}

// SentimentAgg is one bucket of Mention.AggregatedSentiment.
type SentimentAgg struct {
	Count int     `json:"count"`
	Prop  float64 `json:"prop"`
}

// SubjectNode is a 2-3 word aspect of an entity within a mention. Key:
// (MentionKey, SubjectName).
type SubjectNode struct {
	MentionKey  string          `json:"mention_key"`
	SubjectName string          `json:"subject_name"`
	Sentiment   domain.Sentiment `json:"sentiment"`
	Quotes      []string        `json:"quotes"`
}

// EdgeType enumerates the four typed, directed edges spec.md §3 allows.
// No other edges exist in the graph.
type EdgeType string

const (
	EdgeDelivered  EdgeType = "DELIVERED"
	EdgeHasMention EdgeType = "HAS_MENTION"
	EdgeRefersTo   EdgeType = "REFERS_TO"
	EdgeHasSubject EdgeType = "HAS_SUBJECT"
)

// Edge connects two nodes identified by their natural keys.
type Edge struct {
	Type EdgeType
	From string
	To   string
}
