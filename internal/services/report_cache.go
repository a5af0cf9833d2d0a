package services

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/commitlore/backend/internal/models"
	"github.com/commitlore/backend/pkg/logger"
	"gorm.io/gorm"
)

// Default report cache eviction thresholds.
const (
	DefaultReportMaxAge         = 90 * 24 * time.Hour
	DefaultReportMinAccessCount = 2
)

// ReportCacheService dedupes reports by the fingerprint of their
// commit set, scoped per user.
type ReportCacheService struct {
	db    *gorm.DB
	blobs BlobStore
}

func NewReportCacheService(db *gorm.DB, blobs BlobStore) *ReportCacheService {
	return &ReportCacheService{db: db, blobs: blobs}
}

// ComputeCommitsFingerprint returns the SHA-256 hex digest identifying
// a commit set. Order-insensitive: the ids are sorted before hashing.
func ComputeCommitsFingerprint(commitIDs []string) string {
	sorted := make([]string, len(commitIDs))
	copy(sorted, commitIDs)
	sort.Strings(sorted)

	h := sha256.Sum256([]byte(strings.Join(sorted, ",")))
	return fmt.Sprintf("%x", h)
}

// Lookup finds the user's report for a fingerprint, in-flight or
// completed, with its commit rows preloaded.
func (s *ReportCacheService) Lookup(userID uint, fingerprint string) *models.Report {
	var report models.Report
	err := s.db.Preload("Commits").
		Where("user_id = ? AND commits_fingerprint = ?", userID, fingerprint).
		First(&report).Error
	if err != nil {
		return nil
	}

	logger.Infof("[ReportCache] Cache HIT: user=%d, fingerprint=%s..., report=%d",
		userID, fingerprint[:8], report.ID)
	return &report
}

// BumpAccess records a cache hit on an existing report.
func (s *ReportCacheService) BumpAccess(report *models.Report) {
	s.db.Model(report).UpdateColumns(map[string]interface{}{
		"access_count":  gorm.Expr("access_count + 1"),
		"last_accessed": time.Now(),
	})
}

// CacheStats summarizes report cache effectiveness for the admin
// surface.
type CacheStats struct {
	TotalReports   int64           `json:"total_reports"`
	TotalAccesses  int64           `json:"total_accesses"`
	CacheHits      int64           `json:"cache_hits"`
	HitRate        float64         `json:"hit_rate"`
	PopularReports []models.Report `json:"popular_reports"`
	RecentReports  []models.Report `json:"recent_reports"`
}

// Stats computes cache totals. Every access beyond a report's first is
// a hit.
func (s *ReportCacheService) Stats() (*CacheStats, error) {
	stats := &CacheStats{}

	if err := s.db.Model(&models.Report{}).Count(&stats.TotalReports).Error; err != nil {
		return nil, err
	}

	var totalAccesses *int64
	err := s.db.Model(&models.Report{}).
		Select("SUM(access_count)").Scan(&totalAccesses).Error
	if err != nil {
		return nil, err
	}
	if totalAccesses != nil {
		stats.TotalAccesses = *totalAccesses
	}

	stats.CacheHits = stats.TotalAccesses - stats.TotalReports
	if stats.CacheHits < 0 {
		stats.CacheHits = 0
	}
	if stats.TotalAccesses > 0 {
		stats.HitRate = float64(stats.CacheHits) / float64(stats.TotalAccesses)
	}

	if err := s.db.Order("access_count DESC").Limit(5).Find(&stats.PopularReports).Error; err != nil {
		return nil, err
	}
	if err := s.db.Order("last_accessed DESC").Limit(5).Find(&stats.RecentReports).Error; err != nil {
		return nil, err
	}

	return stats, nil
}

// Cleanup evicts reports not accessed since maxAge whose access count
// is below minAccessCount, deleting their stored artifacts first.
// Returns the number of reports removed.
func (s *ReportCacheService) Cleanup(ctx context.Context, maxAge time.Duration, minAccessCount int) (int, error) {
	cutoff := time.Now().Add(-maxAge)

	var stale []models.Report
	err := s.db.Where("last_accessed < ? AND access_count < ?", cutoff, minAccessCount).
		Find(&stale).Error
	if err != nil {
		return 0, err
	}

	removed := 0
	for i := range stale {
		report := &stale[i]
		if report.HasArtifact() {
			if err := s.blobs.Delete(ctx, report.PDFKey); err != nil {
				logger.Warnf("[ReportCache] Failed to delete artifact %s: %v", report.PDFKey, err)
			}
		}
		if err := s.db.Select("Commits").Delete(report).Error; err != nil {
			logger.Warnf("[ReportCache] Failed to delete report %d: %v", report.ID, err)
			continue
		}
		removed++
	}

	if removed > 0 {
		logger.Infof("[ReportCache] Evicted %d stale reports (older than %s, fewer than %d accesses)",
			removed, maxAge, minAccessCount)
	}
	return removed, nil
}
