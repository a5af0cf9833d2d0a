package services

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/commitlore/backend/internal/models"
)

func TestPlaceholderSummary(t *testing.T) {
	tests := []struct {
		name     string
		message  string
		expected string
	}{
		{"short message", "Fix login redirect", "Fix login redirect"},
		{"multiline keeps first line", "Fix login redirect\n\nAlso tidy up the handler.", "Fix login redirect"},
		{"empty message", "", "No summary available"},
		{"whitespace only", "   \n\n", "No summary available"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PlaceholderSummary(tt.message); got != tt.expected {
				t.Errorf("PlaceholderSummary(%q) = %q, expected %q", tt.message, got, tt.expected)
			}
		})
	}
}

func TestPlaceholderSummary_TruncatesLongFirstLine(t *testing.T) {
	long := strings.Repeat("x", 250)
	got := PlaceholderSummary(long)

	if len(got) != PlaceholderMaxChars+3 {
		t.Errorf("len = %d, expected %d", len(got), PlaceholderMaxChars+3)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("truncated placeholder should end with ellipsis: %q", got)
	}
	if !strings.HasPrefix(got, "xxx") {
		t.Errorf("placeholder should start with original text: %q", got)
	}
}

func TestPlaceholderSummary_MultibyteFirstLine(t *testing.T) {
	// The ASCII prefix puts the byte cut inside a 3-byte rune.
	long := "re" + strings.Repeat("修", 120)
	got := PlaceholderSummary(long)

	if !utf8.ValidString(got) {
		t.Fatalf("placeholder must be valid UTF-8: %q", got)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("truncated placeholder should end with ellipsis: %q", got)
	}
	if len(got) > PlaceholderMaxChars+3 {
		t.Errorf("len = %d, must not exceed %d", len(got), PlaceholderMaxChars+3)
	}
}

func TestSummaryCache_GetOrCreateMiss(t *testing.T) {
	db := newTestDB(t)
	broker := newFakeBroker()
	cache := NewSummaryCacheService(db, broker, newFakeLocker())

	commit := &ResolvedCommit{
		SHA:     "abc123def456",
		Message: "Add rate limiting\n\nDetails here.",
		Author:  "alice",
		Date:    time.Now(),
		Diff:    "diff --git a/x b/x",
	}

	result, err := cache.GetOrCreate(context.Background(), commit, "acme/api", 1)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	if result.FromCache {
		t.Error("miss should not report FromCache")
	}
	if result.JobID == "" {
		t.Error("miss should carry the enqueued job id")
	}
	if result.Summary != "Add rate limiting" {
		t.Errorf("miss should return placeholder, got %q", result.Summary)
	}

	jobs := broker.jobsOn(QueueSummary)
	if len(jobs) != 1 {
		t.Fatalf("expected 1 summary job, got %d", len(jobs))
	}
	payload, ok := jobs[0].Payload.(*SummaryJobPayload)
	if !ok {
		t.Fatalf("unexpected payload type %T", jobs[0].Payload)
	}
	if payload.SHA != commit.SHA || payload.Repository != "acme/api" || payload.ReportID != 1 {
		t.Errorf("payload mismatch: %+v", payload)
	}
}

func TestSummaryCache_GetOrCreateHit(t *testing.T) {
	db := newTestDB(t)
	broker := newFakeBroker()
	cache := NewSummaryCacheService(db, broker, newFakeLocker())

	stored := &models.CommitSummary{
		Repository: "acme/api",
		CommitSHA:  "abc123def456",
		Message:    "Add rate limiting",
		Author:     "alice",
		Date:       time.Now().Add(-time.Hour),
		Summary:    "Introduces a token bucket limiter on the login route.",
	}
	if err := cache.Store(stored); err != nil {
		t.Fatalf("store: %v", err)
	}

	commit := &ResolvedCommit{SHA: "abc123def456", Message: "Add rate limiting", Author: "alice"}
	result, err := cache.GetOrCreate(context.Background(), commit, "acme/api", 1)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	if !result.FromCache {
		t.Error("expected cache hit")
	}
	if result.Summary != stored.Summary {
		t.Errorf("hit should return stored summary, got %q", result.Summary)
	}
	if len(broker.enqueued) != 0 {
		t.Errorf("hit must not enqueue jobs, got %d", len(broker.enqueued))
	}
}

func TestSummaryCache_HitScopedToRepository(t *testing.T) {
	db := newTestDB(t)
	broker := newFakeBroker()
	cache := NewSummaryCacheService(db, broker, newFakeLocker())

	cache.Store(&models.CommitSummary{
		Repository: "acme/api",
		CommitSHA:  "abc123",
		Summary:    "api summary",
	})

	commit := &ResolvedCommit{SHA: "abc123", Message: "same sha, other repo"}
	result, err := cache.GetOrCreate(context.Background(), commit, "acme/web", 1)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	if result.FromCache {
		t.Error("summary cache must be keyed by repository as well as commit id")
	}
	if len(broker.jobsOn(QueueSummary)) != 1 {
		t.Error("expected a job for the other repository")
	}
}

func TestSummaryCache_LockLoserRechecksCache(t *testing.T) {
	db := newTestDB(t)
	broker := newFakeBroker()
	locks := newFakeLocker()
	locks.denied[SummaryLockKey("acme/api", "abc123")] = true
	cache := NewSummaryCacheService(db, broker, locks)

	// The lock holder has already written the summary by the time the
	// loser re-checks.
	cache.Store(&models.CommitSummary{
		Repository: "acme/api",
		CommitSHA:  "abc123",
		Summary:    "written by the lock holder",
	})

	commit := &ResolvedCommit{SHA: "abc123", Message: "msg"}
	result, err := cache.GetOrCreate(context.Background(), commit, "acme/api", 1)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	if !result.FromCache {
		t.Error("lock loser should pick up the freshly cached summary")
	}
	if len(broker.enqueued) != 0 {
		t.Errorf("no job should be enqueued, got %d", len(broker.enqueued))
	}
}

func TestSummaryCache_StoreUpserts(t *testing.T) {
	db := newTestDB(t)
	cache := NewSummaryCacheService(db, newFakeBroker(), newFakeLocker())

	first := &models.CommitSummary{
		Repository: "acme/api",
		CommitSHA:  "abc123",
		Summary:    "first pass",
	}
	if err := cache.Store(first); err != nil {
		t.Fatalf("store: %v", err)
	}

	second := &models.CommitSummary{
		Repository: "acme/api",
		CommitSHA:  "abc123",
		Summary:    "second pass",
	}
	if err := cache.Store(second); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	var count int64
	db.Model(&models.CommitSummary{}).Count(&count)
	if count != 1 {
		t.Errorf("upsert should keep a single row, got %d", count)
	}

	got := cache.Lookup("acme/api", "abc123")
	if got == nil || got.Summary != "second pass" {
		t.Errorf("upsert should overwrite the summary, got %+v", got)
	}
}

func TestSummaryCache_EvictStale(t *testing.T) {
	db := newTestDB(t)
	cache := NewSummaryCacheService(db, newFakeBroker(), newFakeLocker())

	old := &models.CommitSummary{Repository: "acme/api", CommitSHA: "old1", Summary: "s"}
	cache.Store(old)
	db.Model(old).UpdateColumn("last_accessed", time.Now().Add(-200*24*time.Hour))

	cache.Store(&models.CommitSummary{Repository: "acme/api", CommitSHA: "new1", Summary: "s"})

	removed, err := cache.EvictStale(SummaryCacheMaxAge)
	if err != nil {
		t.Fatalf("evict: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, expected 1", removed)
	}
	if cache.Lookup("acme/api", "old1") != nil {
		t.Error("stale summary should be gone")
	}
	if cache.Lookup("acme/api", "new1") == nil {
		t.Error("fresh summary should survive")
	}
}
