package services

import (
	"context"
	"strings"
	"time"

	"github.com/commitlore/backend/internal/models"
	"github.com/commitlore/backend/pkg/logger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PlaceholderMaxChars caps the placeholder text shown while a summary
// job is in flight.
const PlaceholderMaxChars = 100

// SummaryJobPayload is the summary queue task body.
type SummaryJobPayload struct {
	ReportID     uint      `json:"report_id"`
	Repository   string    `json:"repository"`
	SHA          string    `json:"sha"`
	Message      string    `json:"message"`
	Author       string    `json:"author"`
	Date         time.Time `json:"date"`
	Diff         string    `json:"diff"`
	FilesChanged int       `json:"files_changed"`
}

// SummaryResult is what GetOrCreate hands back to the orchestrator:
// either a cached summary or a placeholder plus the job generating the
// real one.
type SummaryResult struct {
	SHA       string
	Message   string
	Author    string
	Date      time.Time
	Summary   string
	FromCache bool
	JobID     string
}

// SummaryCacheService memoizes commit summaries keyed by
// (repository, commit id).
type SummaryCacheService struct {
	db     *gorm.DB
	broker JobBroker
	locks  DedupLocker
}

func NewSummaryCacheService(db *gorm.DB, broker JobBroker, locks DedupLocker) *SummaryCacheService {
	return &SummaryCacheService{db: db, broker: broker, locks: locks}
}

// PlaceholderSummary derives the stand-in text shown while a summary
// is being generated: first line of the commit message, truncated.
func PlaceholderSummary(message string) string {
	line := firstLine(message)
	if line == "" {
		return "No summary available"
	}
	if len(line) > PlaceholderMaxChars {
		return truncateRunes(line, PlaceholderMaxChars) + "..."
	}
	return line
}

// Lookup returns the cached summary row for a commit, or nil.
func (s *SummaryCacheService) Lookup(repository, sha string) *models.CommitSummary {
	var summary models.CommitSummary
	err := s.db.Where("repository = ? AND commit_id = ?", repository, sha).First(&summary).Error
	if err != nil {
		return nil
	}
	return &summary
}

// GetOrCreate returns the cached summary for a commit or, on a miss,
// enqueues a generation job and returns a placeholder. Concurrent
// misses for the same commit coalesce on a short Redis lock: the loser
// re-checks the cache before enqueueing its own job.
func (s *SummaryCacheService) GetOrCreate(ctx context.Context, commit *ResolvedCommit, repository string, reportID uint) (*SummaryResult, error) {
	if cached := s.Lookup(repository, commit.SHA); cached != nil {
		s.touch(cached)
		logger.Infof("[SummaryCache] Cache HIT: repo=%s, commit=%s", repository, shortSHA(commit.SHA))
		return &SummaryResult{
			SHA:       commit.SHA,
			Message:   cached.Message,
			Author:    cached.Author,
			Date:      cached.Date,
			Summary:   cached.Summary,
			FromCache: true,
		}, nil
	}

	// Best-effort dedup: if another request holds the lock it is about
	// to enqueue (or has just finished) the same summary, so re-check
	// once before committing to our own job.
	lock, err := s.locks.Obtain(ctx, SummaryLockKey(repository, commit.SHA), 30*time.Second)
	if err == ErrLockNotObtained {
		if cached := s.Lookup(repository, commit.SHA); cached != nil {
			s.touch(cached)
			return &SummaryResult{
				SHA:       commit.SHA,
				Message:   cached.Message,
				Author:    cached.Author,
				Date:      cached.Date,
				Summary:   cached.Summary,
				FromCache: true,
			}, nil
		}
	} else if err != nil {
		logger.Warnf("[SummaryCache] Lock error for %s, proceeding: %v", shortSHA(commit.SHA), err)
	} else {
		defer lock.Release(ctx)
	}

	payload := &SummaryJobPayload{
		ReportID:     reportID,
		Repository:   repository,
		SHA:          commit.SHA,
		Message:      commit.Message,
		Author:       commit.Author,
		Date:         commit.Date,
		Diff:         commit.Diff,
		FilesChanged: commit.FilesChanged,
	}
	handle, err := s.broker.Enqueue(ctx, QueueSummary, TaskTypeSummary, payload)
	if err != nil {
		return nil, err
	}

	logger.Infof("[SummaryCache] Cache MISS: repo=%s, commit=%s, job=%s",
		repository, shortSHA(commit.SHA), handle.ID)

	return &SummaryResult{
		SHA:       commit.SHA,
		Message:   commit.Message,
		Author:    commit.Author,
		Date:      commit.Date,
		Summary:   PlaceholderSummary(commit.Message),
		FromCache: false,
		JobID:     handle.ID,
	}, nil
}

// Store upserts a generated summary. The worker may race another
// worker generating the same commit; last write wins and both writes
// carry the same text modulo model nondeterminism.
func (s *SummaryCacheService) Store(summary *models.CommitSummary) error {
	summary.LastAccessed = time.Now()
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "repository"}, {Name: "commit_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"message", "author", "date", "summary", "files_changed", "last_accessed",
		}),
	}).Create(summary).Error
}

// List returns cached summaries for a repository, most recently used
// first.
func (s *SummaryCacheService) List(repository string, limit, offset int) ([]models.CommitSummary, int64, error) {
	query := s.db.Model(&models.CommitSummary{})
	if repository != "" {
		query = query.Where("repository = ?", repository)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var summaries []models.CommitSummary
	err := query.Order("last_accessed DESC").Limit(limit).Offset(offset).Find(&summaries).Error
	return summaries, total, err
}

// EvictStale deletes summaries not touched since the cutoff. Returns
// the number of rows removed.
func (s *SummaryCacheService) EvictStale(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	result := s.db.Where("last_accessed < ?", cutoff).Delete(&models.CommitSummary{})
	return result.RowsAffected, result.Error
}

func (s *SummaryCacheService) touch(summary *models.CommitSummary) {
	s.db.Model(summary).UpdateColumn("last_accessed", time.Now())
}

// joinShort formats commit ids for log lines.
func joinShort(ids []string) string {
	short := make([]string, 0, len(ids))
	for _, id := range ids {
		short = append(short, shortSHA(id))
	}
	return strings.Join(short, ",")
}
