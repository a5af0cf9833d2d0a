package services

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/commitlore/backend/internal/models"
	"github.com/commitlore/backend/pkg/logger"
	"gorm.io/gorm"
)

// Sweeper retention thresholds.
const (
	CompletedJobMaxAge  = 24 * time.Hour
	FailedJobMaxAge     = 7 * 24 * time.Hour
	OrphanedReportGrace = 24 * time.Hour
	SummaryCacheMaxAge  = 180 * 24 * time.Hour
)

// Sweeper runs the background maintenance jobs: broker cleanup,
// orphaned-report reconciliation and cache eviction.
type Sweeper struct {
	db            *gorm.DB
	broker        JobBroker
	reports       *ReportCacheService
	summaries     *SummaryCacheService
	blobs         BlobStore
	cronScheduler *cron.Cron
}

func NewSweeper(db *gorm.DB, broker JobBroker, reports *ReportCacheService, summaries *SummaryCacheService, blobs BlobStore) *Sweeper {
	return &Sweeper{
		db:        db,
		broker:    broker,
		reports:   reports,
		summaries: summaries,
		blobs:     blobs,
	}
}

// Start schedules the maintenance jobs: broker cleanup hourly, report
// reconciliation and cache eviction daily.
func (s *Sweeper) Start() {
	s.cronScheduler = cron.New()

	s.cronScheduler.AddFunc("@hourly", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := s.broker.Cleanup(ctx, CompletedJobMaxAge, FailedJobMaxAge); err != nil {
			logger.Warnf("[Sweeper] Broker cleanup error: %v", err)
		}
	})

	s.cronScheduler.AddFunc("@daily", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		s.ReconcileOrphanedReports(ctx)
		if _, err := s.reports.Cleanup(ctx, DefaultReportMaxAge, DefaultReportMinAccessCount); err != nil {
			logger.Warnf("[Sweeper] Report cache cleanup error: %v", err)
		}
		if evicted, err := s.summaries.EvictStale(SummaryCacheMaxAge); err != nil {
			logger.Warnf("[Sweeper] Summary cache cleanup error: %v", err)
		} else if evicted > 0 {
			logger.Infof("[Sweeper] Evicted %d stale commit summaries", evicted)
		}
	})

	s.cronScheduler.Start()
	logger.Infof("[Sweeper] Maintenance scheduler started")
}

// Stop halts the scheduler. Running jobs finish.
func (s *Sweeper) Stop() {
	if s.cronScheduler != nil {
		s.cronScheduler.Stop()
	}
}

// ReconcileOrphanedReports deletes reports whose artifact never
// materialized: pdf still pending past the grace period, or an
// artifact key that no longer exists in the blob store.
func (s *Sweeper) ReconcileOrphanedReports(ctx context.Context) {
	cutoff := time.Now().Add(-OrphanedReportGrace)

	var stuck []models.Report
	err := s.db.Where("pdf_key = ? AND created_at < ?", models.ArtifactPending, cutoff).
		Find(&stuck).Error
	if err != nil {
		logger.Warnf("[Sweeper] Orphan scan error: %v", err)
		return
	}

	var withArtifact []models.Report
	err = s.db.Where("pdf_key NOT IN ?", []string{models.ArtifactPending, models.ArtifactFailed}).
		Find(&withArtifact).Error
	if err != nil {
		logger.Warnf("[Sweeper] Artifact scan error: %v", err)
		return
	}
	for i := range withArtifact {
		exists, err := s.blobs.Exists(ctx, withArtifact[i].PDFKey)
		if err != nil {
			continue
		}
		if !exists {
			stuck = append(stuck, withArtifact[i])
		}
	}

	removed := 0
	for i := range stuck {
		if err := s.db.Select("Commits").Delete(&stuck[i]).Error; err != nil {
			logger.Warnf("[Sweeper] Failed to delete orphaned report %d: %v", stuck[i].ID, err)
			continue
		}
		removed++
	}

	if removed > 0 {
		logger.Infof("[Sweeper] Removed %d orphaned reports", removed)
	}
}
