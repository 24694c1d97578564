package processor

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"golang.org/x/time/rate"

	"github.com/discoursekg/discoursekg/engine/domain"
)

// Discoverer implements pipeline.DiscoverProcessor. It is deliberately
// not a production extraction system: per SPEC_FULL.md §13 it either
// returns deterministic synthetic items (for tests) or reads one URL
// per line from a file, grounded on the teacher's YouTubeScraper search
// loop and rate limiting.
type Discoverer struct {
	// URLsFile, when set, is a newline-delimited list of source URLs.
	// Each line becomes one discovered item. Blank lines and lines
	// starting with '#' are skipped.
	URLsFile string
	// ContentType is assigned to every discovered item when URLsFile is
	// used; synthetic items ignore it and cycle through content types.
	ContentType domain.ContentType
	// Limiter bounds the rate at which items are produced, mirroring
	// the teacher's per-request throttling of the YouTube Data API.
	Limiter *rate.Limiter
}

// NewDiscoverer creates a Discoverer with a conservative default rate
// limit of 5 items/second, burst 5.
func NewDiscoverer() *Discoverer {
	return &Discoverer{
		ContentType: domain.ContentSpeech,
		Limiter:     rate.NewLimiter(rate.Limit(5), 5),
	}
}

// Discover satisfies pipeline.DiscoverProcessor.
func (d *Discoverer) Discover(ctx context.Context, speaker, startDate, endDate string) ([]domain.DiscoverArtifact, error) {
	if d.URLsFile != "" {
		return d.discoverFromFile(ctx, speaker)
	}
	return d.discoverSynthetic(speaker, startDate, endDate), nil
}

func (d *Discoverer) discoverFromFile(ctx context.Context, speaker string) ([]domain.DiscoverArtifact, error) {
	f, err := os.Open(d.URLsFile)
	if err != nil {
		return nil, fmt.Errorf("discover: open urls file: %w", err)
	}
	defer f.Close()

	var items []domain.DiscoverArtifact
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || line[0] == '#' {
			continue
		}
		if d.Limiter != nil {
			if err := d.Limiter.Wait(ctx); err != nil {
				return items, fmt.Errorf("discover: rate limit: %w", err)
			}
		}
		items = append(items, domain.DiscoverArtifact{
			SourceURL:   line,
			ContentType: d.ContentType,
			Speaker:     speaker,
		})
	}
	if err := scanner.Err(); err != nil {
		return items, fmt.Errorf("discover: scan urls file: %w", err)
	}
	return items, nil
}

// discoverSynthetic produces a small, deterministic fixture set keyed
// only by speaker and the date range, so tests never depend on network
// access or wall-clock time.
func (d *Discoverer) discoverSynthetic(speaker, startDate, endDate string) []domain.DiscoverArtifact {
	types := []domain.ContentType{domain.ContentSpeech, domain.ContentInterview}
	items := make([]domain.DiscoverArtifact, 0, 2)
	for i, ct := range types {
		items = append(items, domain.DiscoverArtifact{
			SourceURL:   fmt.Sprintf("file://synthetic/%s/%s-%d.txt", speaker, startDate, i),
			ContentType: ct,
			Title:       fmt.Sprintf("%s remarks %d", speaker, i+1),
			ContentDate: startDate,
			Speaker:     speaker,
		})
	}
	return items
}
