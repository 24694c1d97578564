// Package domain defines the core types, enums, and validation shared by
// every stage of the DiscourseKG pipeline. It is the validation gate at
// every pipeline boundary: the Journal, the Artifact Store, and the Graph
// Builder all depend on it, but it depends on none of them.
package domain

import "time"

// Stage identifies one step in the fixed processing sequence.
type Stage string

const (
	StageDiscover   Stage = "discover"
	StageScrape     Stage = "scrape"
	StageSummarize  Stage = "summarize"
	StageCategorize Stage = "categorize"
	StageGraph      Stage = "graph"
)

// Sequence is the static, ordered list of stages every item passes through.
var Sequence = []Stage{StageDiscover, StageScrape, StageSummarize, StageCategorize, StageGraph}

// NextStage returns the stage following s, or "" if s is the last stage.
// NextStage("") returns the first stage, matching a freshly-created item.
func NextStage(s Stage) Stage {
	if s == "" {
		return Sequence[0]
	}
	for i, cur := range Sequence {
		if cur == s && i+1 < len(Sequence) {
			return Sequence[i+1]
		}
	}
	return ""
}

// IndexOf returns the position of s in Sequence, or -1 if s is "" or unknown.
func IndexOf(s Stage) int {
	for i, cur := range Sequence {
		if cur == s {
			return i
		}
	}
	return -1
}

// ContentType classifies the kind of communication.
type ContentType string

const (
	ContentSpeech    ContentType = "speech"
	ContentInterview ContentType = "interview"
	ContentDebate    ContentType = "debate"
	ContentOther     ContentType = "other"
	// ContentUnknown is the artifact-path-layout default before discover
	// assigns a real content type; it is never a valid metadata value.
	ContentUnknown ContentType = "unknown"
)

// ValidContentTypes excludes ContentUnknown, which is a path-layout sentinel,
// not a value a processor may assign as metadata.
var ValidContentTypes = map[ContentType]bool{
	ContentSpeech:    true,
	ContentInterview: true,
	ContentDebate:    true,
	ContentOther:     true,
}

// EntityType classifies an Entity node.
type EntityType string

const (
	EntityOrganization EntityType = "organization"
	EntityLocation     EntityType = "location"
	EntityPerson       EntityType = "person"
	EntityProgram      EntityType = "program"
	EntityProduct      EntityType = "product"
	EntityEvent        EntityType = "event"
	EntityOther        EntityType = "other"
)

// ValidEntityTypes is the closed set of recognized entity types.
var ValidEntityTypes = map[EntityType]bool{
	EntityOrganization: true, EntityLocation: true, EntityPerson: true,
	EntityProgram: true, EntityProduct: true, EntityEvent: true, EntityOther: true,
}

// Topic classifies a Mention.
type Topic string

const (
	TopicEconomics      Topic = "economics"
	TopicTechnology     Topic = "technology"
	TopicForeignAffairs Topic = "foreign_affairs"
	TopicHealthcare     Topic = "healthcare"
	TopicEnergy         Topic = "energy"
	TopicDefense        Topic = "defense"
	TopicSocial         Topic = "social"
	TopicRegulation     Topic = "regulation"
	TopicOther          Topic = "other"
)

// ValidTopics is the closed set of recognized topics.
var ValidTopics = map[Topic]bool{
	TopicEconomics: true, TopicTechnology: true, TopicForeignAffairs: true,
	TopicHealthcare: true, TopicEnergy: true, TopicDefense: true,
	TopicSocial: true, TopicRegulation: true, TopicOther: true,
}

// Sentiment classifies a Subject's disposition within a Mention.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
	SentimentUnclear  Sentiment = "unclear"
)

// ValidSentiments is the closed set of recognized sentiment values.
var ValidSentiments = map[Sentiment]bool{
	SentimentPositive: true, SentimentNegative: true, SentimentNeutral: true, SentimentUnclear: true,
}

// PipelineState is the unit of progress tracking: one record per item,
// owned exclusively by the Journal.
type PipelineState struct {
	ID           string      `json:"id"`
	RunTimestamp time.Time   `json:"run_timestamp"`
	Speaker      string      `json:"speaker"`
	ContentType  ContentType `json:"content_type"`
	SourceURL    string      `json:"source_url"`
	Title        string      `json:"title,omitempty"`
	// ContentDate is an ISO8601 date string, free-form until a stage sets it.
	ContentDate string `json:"content_date,omitempty"`

	LatestCompletedStage Stage `json:"latest_completed_stage,omitempty"`
	NextStage            Stage `json:"next_stage,omitempty"`

	// FilePaths maps stage name to the artifact path for that stage. Grows
	// monotonically; entries are never removed.
	FilePaths map[Stage]string `json:"file_paths,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// ProcessingTimeSeconds is the duration of the most recent stage
	// attempt (successful or failed), not a cumulative sum across stages
	// (see DESIGN.md open question decisions).
	ProcessingTimeSeconds float64 `json:"processing_time_seconds,omitempty"`

	RetryCount   int    `json:"retry_count"`
	ErrorMessage string `json:"error_message,omitempty"`
	// FailedOutput is capped at MaxFailedOutputBytes by the caller before
	// being stored here.
	FailedOutput string `json:"failed_output,omitempty"`

	Invalidated bool `json:"invalidated,omitempty"`
}

// MaxFailedOutputBytes caps FailedOutput per spec.md §9's recommendation.
const MaxFailedOutputBytes = 64 * 1024

// IsComplete reports whether the item has finished every stage.
func (s *PipelineState) IsComplete() bool {
	return s.NextStage == "" && s.LatestCompletedStage == Sequence[len(Sequence)-1]
}

// Clone returns a deep copy suitable for safe handoff across goroutines.
func (s *PipelineState) Clone() *PipelineState {
	if s == nil {
		return nil
	}
	c := *s
	if s.FilePaths != nil {
		c.FilePaths = make(map[Stage]string, len(s.FilePaths))
		for k, v := range s.FilePaths {
			c.FilePaths[k] = v
		}
	}
	return &c
}

// StageMetadata is what a processor may contribute back to PipelineState on
// success. Empty string fields never overwrite a non-empty existing value
// (see Journal.UpdateOnSuccess).
type StageMetadata struct {
	Title       string      `json:"title,omitempty"`
	ContentDate string      `json:"content_date,omitempty"`
	ContentType ContentType `json:"content_type,omitempty"`
}
