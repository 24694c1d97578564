package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/discoursekg/discoursekg/engine/domain"
)

func TestCreateAndGet(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(filepath.Join(dir, "state.jsonl"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s, err := j.Create("item-1", "Jane Doe", "https://example.com/a", domain.ContentUnknown, now)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if s.NextStage != domain.StageDiscover {
		t.Errorf("NextStage = %q, want %q", s.NextStage, domain.StageDiscover)
	}

	got, err := j.Get("item-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.SourceURL != "https://example.com/a" {
		t.Errorf("SourceURL = %q", got.SourceURL)
	}
}

func TestCreateDuplicateSourceURL(t *testing.T) {
	dir := t.TempDir()
	j, _ := Open(filepath.Join(dir, "state.jsonl"))
	now := time.Now()
	if _, err := j.Create("item-1", "Jane", "https://x", domain.ContentUnknown, now); err != nil {
		t.Fatal(err)
	}
	if _, err := j.Create("item-2", "Jane", "https://x", domain.ContentUnknown, now); err == nil {
		t.Error("expected duplicate source url error")
	}
}

func TestGetMissing(t *testing.T) {
	dir := t.TempDir()
	j, _ := Open(filepath.Join(dir, "state.jsonl"))
	if _, err := j.Get("nope"); err == nil {
		t.Error("expected error for missing item")
	}
}

func TestItemsReadyForAndUpdateOnSuccess(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.jsonl")
	j, _ := Open(path)
	now := time.Now()
	j.Create("item-1", "Jane", "https://x", domain.ContentUnknown, now)

	ready := j.ItemsReadyFor(domain.StageDiscover)
	if len(ready) != 1 {
		t.Fatalf("expected 1 item ready for discover, got %d", len(ready))
	}

	updated, err := j.UpdateOnSuccess("item-1", domain.StageDiscover, "/data/item-1/discover.json",
		domain.StageMetadata{Title: "A Speech", ContentType: domain.ContentSpeech}, 2*time.Second, now)
	if err != nil {
		t.Fatalf("UpdateOnSuccess: %v", err)
	}
	if updated.NextStage != domain.StageScrape {
		t.Errorf("NextStage = %q, want %q", updated.NextStage, domain.StageScrape)
	}
	if updated.Title != "A Speech" {
		t.Errorf("Title not merged: %q", updated.Title)
	}
	if updated.ProcessingTimeSeconds != 2 {
		t.Errorf("ProcessingTimeSeconds = %v, want 2", updated.ProcessingTimeSeconds)
	}

	stillReady := j.ItemsReadyFor(domain.StageDiscover)
	if len(stillReady) != 0 {
		t.Error("item should no longer be ready for discover")
	}
	nowReady := j.ItemsReadyFor(domain.StageScrape)
	if len(nowReady) != 1 {
		t.Error("item should now be ready for scrape")
	}
}

func TestUpdateOnSuccessDoesNotOverwriteWithEmpty(t *testing.T) {
	dir := t.TempDir()
	j, _ := Open(filepath.Join(dir, "state.jsonl"))
	now := time.Now()
	j.Create("item-1", "Jane", "https://x", domain.ContentUnknown, now)
	j.UpdateOnSuccess("item-1", domain.StageDiscover, "/p1", domain.StageMetadata{Title: "Kept"}, time.Second, now)
	updated, err := j.UpdateOnSuccess("item-1", domain.StageScrape, "/p2", domain.StageMetadata{}, time.Second, now)
	if err != nil {
		t.Fatal(err)
	}
	if updated.Title != "Kept" {
		t.Errorf("Title was overwritten with empty: %q", updated.Title)
	}
}

func TestUpdateOnFailureIncrementsRetryAndCapsOutput(t *testing.T) {
	dir := t.TempDir()
	j, _ := Open(filepath.Join(dir, "state.jsonl"))
	now := time.Now()
	j.Create("item-1", "Jane", "https://x", domain.ContentUnknown, now)

	big := make([]byte, domain.MaxFailedOutputBytes+500)
	for i := range big {
		big[i] = 'x'
	}
	updated, err := j.UpdateOnFailure("item-1", "boom", string(big), time.Second, now)
	if err != nil {
		t.Fatal(err)
	}
	if updated.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", updated.RetryCount)
	}
	if len(updated.FailedOutput) != domain.MaxFailedOutputBytes {
		t.Errorf("FailedOutput len = %d, want %d", len(updated.FailedOutput), domain.MaxFailedOutputBytes)
	}
	if updated.NextStage != domain.StageDiscover {
		t.Error("NextStage should not advance on failure")
	}

	updated2, _ := j.UpdateOnFailure("item-1", "boom again", "", time.Second, now)
	if updated2.RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2", updated2.RetryCount)
	}
}

func TestInvalidateExcludesFromReadyAndDuplicateCheck(t *testing.T) {
	dir := t.TempDir()
	j, _ := Open(filepath.Join(dir, "state.jsonl"))
	now := time.Now()
	j.Create("item-1", "Jane", "https://x", domain.ContentUnknown, now)

	if _, err := j.Invalidate("item-1", now); err != nil {
		t.Fatal(err)
	}
	if ready := j.ItemsReadyFor(domain.StageDiscover); len(ready) != 0 {
		t.Error("invalidated item should not be ready for any stage")
	}
	if _, err := j.Create("item-2", "Jane", "https://x", domain.ContentUnknown, now); err != nil {
		t.Errorf("re-creating over an invalidated source url should succeed, got %v", err)
	}
}

func TestReopenRebuildsIndex(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.jsonl")
	now := time.Now()

	j1, _ := Open(path)
	j1.Create("item-1", "Jane", "https://x", domain.ContentUnknown, now)
	j1.Create("item-2", "Jane", "https://y", domain.ContentUnknown, now)

	j2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	all := j2.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 items after reopen, got %d", len(all))
	}
}

func TestOpenMissingFileIsEmpty(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(filepath.Join(dir, "does-not-exist.jsonl"))
	if err != nil {
		t.Fatalf("Open of missing file should succeed, got %v", err)
	}
	if len(j.All()) != 0 {
		t.Error("expected empty journal")
	}
}
