package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/discoursekg/discoursekg/engine/domain"
	"github.com/discoursekg/discoursekg/engine/pipeline"
)

// Scraper is the Scrape stage processor: it resolves a discovered
// item's source_url to full text. Grounded on the teacher's
// YouTubeScraper http.Client conventions (timeout, context-bound
// requests), generalized from a single video-transcript source to a
// scheme-dispatched fetch (file:// for tests, http(s):// live).
type Scraper struct {
	HTTPClient *http.Client
}

// NewScraper creates a Scraper with a conservative default timeout.
func NewScraper() *Scraper {
	return &Scraper{HTTPClient: &http.Client{Timeout: 30 * time.Second}}
}

func (s *Scraper) Stage() domain.Stage { return domain.StageScrape }

func (s *Scraper) RequiredStages() []domain.Stage {
	return []domain.Stage{domain.StageDiscover}
}

func (s *Scraper) Process(ctx context.Context, state *domain.PipelineState, prior map[domain.Stage]json.RawMessage) (pipeline.StageResult, error) {
	var disc domain.DiscoverArtifact
	if err := json.Unmarshal(prior[domain.StageDiscover], &disc); err != nil {
		return pipeline.StageResult{}, fmt.Errorf("scrape: decode discover artifact: %w", err)
	}

	text, err := s.fetch(ctx, disc.SourceURL)
	if err != nil {
		return pipeline.StageResult{}, err
	}

	artifact := domain.ScrapeArtifact{
		FullText:    text,
		WordCount:   len(strings.Fields(text)),
		Title:       disc.Title,
		ContentDate: disc.ContentDate,
		ContentType: disc.ContentType,
		SourceURL:   disc.SourceURL,
	}
	if err := domain.ValidateScrape(artifact); err != nil {
		return pipeline.StageResult{}, err
	}
	return pipeline.StageResult{
		Artifact: artifact,
		Metadata: domain.StageMetadata{Title: disc.Title, ContentDate: disc.ContentDate, ContentType: disc.ContentType},
	}, nil
}

func (s *Scraper) fetch(ctx context.Context, sourceURL string) (string, error) {
	u, err := url.Parse(sourceURL)
	if err != nil {
		return "", fmt.Errorf("scrape: parse source_url: %w", err)
	}

	switch u.Scheme {
	case "file":
		body, err := os.ReadFile(u.Path)
		if err != nil {
			return "", fmt.Errorf("scrape: read %s: %w", u.Path, err)
		}
		return string(body), nil
	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
		if err != nil {
			return "", fmt.Errorf("scrape: build request: %w", err)
		}
		resp, err := s.HTTPClient.Do(req)
		if err != nil {
			return "", fmt.Errorf("scrape: fetch %s: %w", sourceURL, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("scrape: %s: status %d", sourceURL, resp.StatusCode)
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", fmt.Errorf("scrape: read body: %w", err)
		}
		return string(body), nil
	default:
		return "", fmt.Errorf("scrape: unsupported scheme %q in %s", u.Scheme, sourceURL)
	}
}
