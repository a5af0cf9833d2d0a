package services

import (
	"context"
	"testing"
	"time"

	"github.com/commitlore/backend/internal/models"
)

func TestComputeCommitsFingerprint_OrderInsensitive(t *testing.T) {
	a := ComputeCommitsFingerprint([]string{"a1", "b2", "c3"})
	b := ComputeCommitsFingerprint([]string{"c3", "a1", "b2"})
	c := ComputeCommitsFingerprint([]string{"b2", "c3", "a1"})

	if a != b || b != c {
		t.Errorf("fingerprint should not depend on order: %s / %s / %s", a, b, c)
	}
	if len(a) != 64 {
		t.Errorf("fingerprint should be 64 hex chars, got %d", len(a))
	}
}

func TestComputeCommitsFingerprint_DistinctSets(t *testing.T) {
	a := ComputeCommitsFingerprint([]string{"a1", "b2"})
	b := ComputeCommitsFingerprint([]string{"a1", "b2", "c3"})
	c := ComputeCommitsFingerprint([]string{"a1"})

	if a == b || a == c || b == c {
		t.Error("different commit sets must produce different fingerprints")
	}
}

func TestComputeCommitsFingerprint_DoesNotMutateInput(t *testing.T) {
	ids := []string{"zz", "aa", "mm"}
	ComputeCommitsFingerprint(ids)

	if ids[0] != "zz" || ids[1] != "aa" || ids[2] != "mm" {
		t.Errorf("input slice was mutated: %v", ids)
	}
}

func TestReportCache_LookupScopedToUser(t *testing.T) {
	db := newTestDB(t)
	cache := NewReportCacheService(db, newFakeBlobs())

	fp := ComputeCommitsFingerprint([]string{"a1", "b2"})
	report := &models.Report{
		UserID:             1,
		Name:               "r1",
		Repository:         "acme/api",
		CommitsFingerprint: fp,
		PDFKey:             models.ArtifactPending,
		AccessCount:        1,
		LastAccessed:       time.Now(),
	}
	if err := db.Create(report).Error; err != nil {
		t.Fatalf("create report: %v", err)
	}

	if got := cache.Lookup(1, fp); got == nil {
		t.Fatal("expected lookup hit for owning user")
	}
	if got := cache.Lookup(2, fp); got != nil {
		t.Error("fingerprint cache must be scoped per user")
	}
	if got := cache.Lookup(1, "deadbeef"); got != nil {
		t.Error("unexpected hit for unknown fingerprint")
	}
}

func TestReportCache_BumpAccess(t *testing.T) {
	db := newTestDB(t)
	cache := NewReportCacheService(db, newFakeBlobs())

	report := &models.Report{
		UserID:             1,
		Repository:         "acme/api",
		CommitsFingerprint: "fp1",
		AccessCount:        1,
		LastAccessed:       time.Now().Add(-time.Hour),
	}
	db.Create(report)

	cache.BumpAccess(report)
	cache.BumpAccess(report)

	var got models.Report
	db.First(&got, report.ID)
	if got.AccessCount != 3 {
		t.Errorf("AccessCount = %d, expected 3", got.AccessCount)
	}
	if time.Since(got.LastAccessed) > time.Minute {
		t.Error("LastAccessed should be refreshed")
	}
}

func TestReportCache_CleanupEvictsStaleOnly(t *testing.T) {
	db := newTestDB(t)
	blobs := newFakeBlobs()
	cache := NewReportCacheService(db, blobs)
	ctx := context.Background()

	blobs.Put(ctx, "reports/stale.pdf", []byte("x"), "application/pdf")

	stale := &models.Report{
		UserID:             1,
		Repository:         "acme/api",
		CommitsFingerprint: "fp-stale",
		PDFKey:             "reports/stale.pdf",
		AccessCount:        1,
		LastAccessed:       time.Now().Add(-100 * 24 * time.Hour),
	}
	popular := &models.Report{
		UserID:             1,
		Repository:         "acme/api",
		CommitsFingerprint: "fp-popular",
		PDFKey:             "reports/popular.pdf",
		AccessCount:        9,
		LastAccessed:       time.Now().Add(-100 * 24 * time.Hour),
	}
	fresh := &models.Report{
		UserID:             1,
		Repository:         "acme/api",
		CommitsFingerprint: "fp-fresh",
		PDFKey:             models.ArtifactPending,
		AccessCount:        1,
		LastAccessed:       time.Now(),
	}
	db.Create(stale)
	db.Create(popular)
	db.Create(fresh)

	removed, err := cache.Cleanup(ctx, DefaultReportMaxAge, DefaultReportMinAccessCount)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, expected 1", removed)
	}

	var count int64
	db.Model(&models.Report{}).Count(&count)
	if count != 2 {
		t.Errorf("remaining reports = %d, expected 2", count)
	}

	if exists, _ := blobs.Exists(ctx, "reports/stale.pdf"); exists {
		t.Error("evicted report's artifact should be deleted")
	}
}

func TestReportCache_Stats(t *testing.T) {
	db := newTestDB(t)
	cache := NewReportCacheService(db, newFakeBlobs())

	db.Create(&models.Report{UserID: 1, Repository: "r", CommitsFingerprint: "f1", AccessCount: 5, LastAccessed: time.Now()})
	db.Create(&models.Report{UserID: 1, Repository: "r", CommitsFingerprint: "f2", AccessCount: 1, LastAccessed: time.Now()})

	stats, err := cache.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalReports != 2 {
		t.Errorf("TotalReports = %d, expected 2", stats.TotalReports)
	}
	if stats.TotalAccesses != 6 {
		t.Errorf("TotalAccesses = %d, expected 6", stats.TotalAccesses)
	}
	if stats.CacheHits != 4 {
		t.Errorf("CacheHits = %d, expected 4", stats.CacheHits)
	}
}
