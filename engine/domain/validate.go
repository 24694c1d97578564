package domain

import (
	"fmt"
	"strings"
)

const (
	minContextLen = 10
	maxContextLen = 500
	minSubjectTokens = 2
	maxSubjectTokens = 3
)

// ValidateDiscover checks a DiscoverArtifact before it is journaled.
func ValidateDiscover(a DiscoverArtifact) error {
	if strings.TrimSpace(a.SourceURL) == "" {
		return NewValidationError("source_url", a.SourceURL, ErrEmptyField)
	}
	if strings.TrimSpace(a.Speaker) == "" {
		return NewValidationError("speaker", a.Speaker, ErrEmptyField)
	}
	if a.ContentType != "" && a.ContentType != ContentUnknown && !ValidContentTypes[a.ContentType] {
		return NewValidationError("content_type", string(a.ContentType), ErrInvalidStage)
	}
	return nil
}

// ValidateScrape checks a ScrapeArtifact.
func ValidateScrape(a ScrapeArtifact) error {
	if strings.TrimSpace(a.FullText) == "" {
		return NewValidationError("full_text", "", ErrEmptyField)
	}
	if a.WordCount < 0 {
		return NewValidationError("word_count", fmt.Sprintf("%d", a.WordCount), ErrEmptyField)
	}
	return nil
}

// ValidateCategorize enforces the schema rules from spec.md §6: entity
// names unique across the list, topics unique per entity, context length
// bounds, subject-name token count, quote-list length, and enum
// membership for entity_type/topic/sentiment.
func ValidateCategorize(a CategorizeArtifact) error {
	seenEntities := make(map[string]bool, len(a.Entities))
	for _, em := range a.Entities {
		name := strings.TrimSpace(em.EntityName)
		if name == "" {
			return NewValidationError("entity_name", em.EntityName, ErrEmptyField)
		}
		key := strings.ToLower(name)
		if seenEntities[key] {
			return NewValidationError("entity_name", name, ErrMentionDuplicate)
		}
		seenEntities[key] = true

		if !ValidEntityTypes[em.EntityType] {
			return NewValidationError("entity_type", string(em.EntityType), ErrUnknownEntityType)
		}

		seenTopics := make(map[Topic]bool, len(em.Mentions))
		for _, tm := range em.Mentions {
			if seenTopics[tm.Topic] {
				return NewValidationError("topic", string(tm.Topic), ErrMentionDuplicate)
			}
			seenTopics[tm.Topic] = true

			if !ValidTopics[tm.Topic] {
				return NewValidationError("topic", string(tm.Topic), ErrUnknownTopic)
			}

			ctx := strings.TrimSpace(tm.Context)
			n := len([]rune(ctx))
			if n < minContextLen || n > maxContextLen {
				return NewValidationError("context", ctx, ErrEmptyField)
			}

			for _, s := range tm.Subjects {
				subj := strings.TrimSpace(s.SubjectName)
				tokens := strings.Fields(subj)
				if len(tokens) < minSubjectTokens || len(tokens) > maxSubjectTokens {
					return NewValidationError("subject_name", subj, ErrEmptyField)
				}
				if !ValidSentiments[s.Sentiment] {
					return NewValidationError("sentiment", string(s.Sentiment), ErrUnknownSentiment)
				}
				if len(s.Quotes) < 1 || len(s.Quotes) > MaxQuotes {
					return NewValidationError("quotes", fmt.Sprintf("%d", len(s.Quotes)), ErrEmptyField)
				}
			}
		}
	}
	return nil
}

// NormalizeCategorize trims every string field and truncates each
// Subject's Quotes to the first MaxQuotes, matching spec.md §4.5 step 3.
// Call after ValidateCategorize succeeds.
func NormalizeCategorize(a CategorizeArtifact) CategorizeArtifact {
	out := CategorizeArtifact{Entities: make([]EntityMention, len(a.Entities))}
	for i, em := range a.Entities {
		nem := EntityMention{
			EntityName: strings.TrimSpace(em.EntityName),
			EntityType: em.EntityType,
			Mentions:   make([]TopicMention, len(em.Mentions)),
		}
		for j, tm := range em.Mentions {
			ntm := TopicMention{
				Topic:    tm.Topic,
				Context:  strings.TrimSpace(tm.Context),
				Subjects: make([]Subject, len(tm.Subjects)),
			}
			for k, s := range tm.Subjects {
				quotes := s.Quotes
				if len(quotes) > MaxQuotes {
					quotes = quotes[:MaxQuotes]
				}
				trimmed := make([]string, len(quotes))
				for qi, q := range quotes {
					trimmed[qi] = strings.TrimSpace(q)
				}
				ntm.Subjects[k] = Subject{
					SubjectName: strings.ToLower(strings.TrimSpace(s.SubjectName)),
					Sentiment:   s.Sentiment,
					Quotes:      trimmed,
				}
			}
			nem.Mentions[j] = ntm
		}
		out.Entities[i] = nem
	}
	return out
}
