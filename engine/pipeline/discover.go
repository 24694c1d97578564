package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/discoursekg/discoursekg/engine/domain"
)

// DiscoverProcessor is the special-cased entry point described in
// spec.md §4.3: unlike every other stage, Discover does not iterate
// items_ready_for — it takes a {speaker, start_date, end_date} request
// and is the only processor that creates new Journal records.
type DiscoverProcessor interface {
	Discover(ctx context.Context, speaker, startDate, endDate string) ([]domain.DiscoverArtifact, error)
}

// RunDiscover runs proc once for (speaker, startDate, endDate) and
// creates one Journal record plus one discover artifact per item it
// returns. An item whose source_url already has a (non-invalidated)
// Journal record is skipped rather than failed, matching spec.md's
// idempotence guarantee for re-running Discover over overlapping ranges.
func (r *Runtime) RunDiscover(ctx context.Context, proc DiscoverProcessor, speaker, startDate, endDate string) (StageReport, error) {
	log := r.logger().With("stage", domain.StageDiscover, "speaker", speaker)

	found, err := proc.Discover(ctx, speaker, startDate, endDate)
	if err != nil {
		return StageReport{Stage: domain.StageDiscover}, err
	}

	report := StageReport{Stage: domain.StageDiscover, ItemsTotal: len(found)}
	for _, item := range found {
		if r.createOne(log, item, speaker) {
			report.Succeeded++
		} else {
			report.Failed++
		}
	}
	return report, nil
}

func (r *Runtime) createOne(log *slog.Logger, item domain.DiscoverArtifact, speaker string) bool {
	start := r.now()
	item.Speaker = speaker

	if err := domain.ValidateDiscover(item); err != nil {
		log.Error("discover: invalid artifact", "error", err, "source_url", item.SourceURL)
		return false
	}

	if existing, ok := r.Journal.FindBySourceURL(item.SourceURL); ok && !existing.Invalidated {
		log.Info("discover: source_url already known, skipping", "source_url", item.SourceURL, "id", existing.ID)
		return true
	}

	id := item.ID
	if id == "" {
		id = uuid.NewString()
	}

	state, err := r.Journal.Create(id, speaker, item.SourceURL, item.ContentType, r.now())
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateSourceURL) {
			log.Info("discover: source_url already known, skipping", "source_url", item.SourceURL)
			return true
		}
		log.Error("discover: create failed", "error", err, "source_url", item.SourceURL)
		return false
	}

	item.ID = state.ID
	path, err := r.Artifacts.Save(speaker, domain.StageDiscover, item.ContentType, state.ID, item)
	if err != nil {
		log.Error("discover: artifact save failed", "error", err, "id", state.ID)
		return false
	}

	elapsed := r.now().Sub(start)
	meta := domain.StageMetadata{Title: item.Title, ContentDate: item.ContentDate, ContentType: item.ContentType}
	if _, err := r.Journal.UpdateOnSuccess(state.ID, domain.StageDiscover, path, meta, elapsed, r.now()); err != nil {
		log.Error("discover: journal update failed", "error", err, "id", state.ID)
		return false
	}

	log.Info("discover: created item", "id", state.ID, "source_url", item.SourceURL)
	return true
}
