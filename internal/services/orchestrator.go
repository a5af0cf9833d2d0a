package services

import (
	"context"
	"fmt"
	"time"

	"github.com/commitlore/backend/internal/models"
	"github.com/commitlore/backend/pkg/logger"
	"github.com/commitlore/backend/pkg/response"
	"gorm.io/gorm"
)

// ReportJobPayload is the report queue task body.
type ReportJobPayload struct {
	ReportID    uint   `json:"report_id"`
	UserID      uint   `json:"user_id"`
	Repository  string `json:"repository"`
	Title       string `json:"title"`
	Branch      string `json:"branch"`
	Author      string `json:"author"`
	CommitCount int    `json:"commit_count"`
}

// PDFJobPayload is the pdf queue task body.
type PDFJobPayload struct {
	ReportID uint `json:"report_id"`
}

// CreateReportRequest is the validated create-report input.
type CreateReportRequest struct {
	Name       string
	Repository string
	Branch     string
	Author     string
	StartDate  time.Time
	EndDate    time.Time
	CommitIDs  []string
}

// CreateReportResult tells the caller whether the report was served
// from the cache or a fresh pipeline run was started.
type CreateReportResult struct {
	Report *models.Report `json:"report"`
	Cached bool           `json:"cached"`
}

// Orchestrator drives the summary -> report -> pdf pipeline. All
// collaborators are injected so the flow can be exercised with fakes.
type Orchestrator struct {
	db        *gorm.DB
	broker    JobBroker
	summaries *SummaryCacheService
	reports   *ReportCacheService
	usage     *UsageService
	resolver  CommitResolver
	llm       LLMClient
	renderer  PDFRenderer
	blobs     BlobStore
	locks     DedupLocker
}

func NewOrchestrator(
	db *gorm.DB,
	broker JobBroker,
	summaries *SummaryCacheService,
	reports *ReportCacheService,
	usage *UsageService,
	resolver CommitResolver,
	llm LLMClient,
	renderer PDFRenderer,
	blobs BlobStore,
	locks DedupLocker,
) *Orchestrator {
	return &Orchestrator{
		db:        db,
		broker:    broker,
		summaries: summaries,
		reports:   reports,
		usage:     usage,
		resolver:  resolver,
		llm:       llm,
		renderer:  renderer,
		blobs:     blobs,
		locks:     locks,
	}
}

// CreateReport runs the synchronous half of the pipeline: cache
// lookup, quota gate, commit resolution, report row creation and
// summary job fan-out. The queue processors take over from there.
func (o *Orchestrator) CreateReport(ctx context.Context, user *models.User, req *CreateReportRequest) (*CreateReportResult, error) {
	ids := dedupeIDs(req.CommitIDs)
	if len(ids) == 0 {
		return nil, response.NewBadRequest("at least one commit is required")
	}
	if req.Repository == "" {
		return nil, response.NewBadRequest("repository is required")
	}

	// Quota gate runs at request entry, before the cache is even
	// consulted. An over-quota user is rejected outright; hits are not
	// a loophole.
	if _, err := o.usage.CheckLimit(user, len(ids)); err != nil {
		return nil, err
	}

	fingerprint := ComputeCommitsFingerprint(ids)

	// Cache hit short-circuits everything else: no quota charge, no jobs.
	if existing := o.reports.Lookup(user.ID, fingerprint); existing != nil {
		o.reports.BumpAccess(existing)
		return &CreateReportResult{Report: existing, Cached: true}, nil
	}

	resolved, missing, err := o.resolver.ResolveCommits(ctx, user.GitHubToken, req.Repository, ids)
	if err != nil {
		return nil, response.NewBadRequest(fmt.Sprintf("failed to resolve commits: %v", err))
	}
	if len(missing) > 0 {
		logger.Warnf("[Orchestrator] %d of %d commits unresolved for %s: %s",
			len(missing), len(ids), req.Repository, joinShort(missing))
	}

	report := &models.Report{
		UserID:             user.ID,
		Name:               req.Name,
		Repository:         req.Repository,
		Branch:             req.Branch,
		Author:             req.Author,
		StartDate:          req.StartDate,
		EndDate:            req.EndDate,
		CommitsFingerprint: fingerprint,
		SummaryStatus:      models.StagePending,
		ReportStatus:       models.StagePending,
		PDFStatus:          models.StagePending,
		PDFKey:             models.ArtifactPending,
		AccessCount:        1,
		LastAccessed:       time.Now(),
	}
	if report.Name == "" {
		report.Name = fmt.Sprintf("%s report, %d commits", req.Repository, len(resolved))
	}

	if err := o.db.Create(report).Error; err != nil {
		// A concurrent identical request may have won the unique index
		// race; serve its row as a cache hit.
		if existing := o.reports.Lookup(user.ID, fingerprint); existing != nil {
			o.reports.BumpAccess(existing)
			return &CreateReportResult{Report: existing, Cached: true}, nil
		}
		return nil, err
	}

	pendingJobs := 0
	commits := make([]models.ReportCommit, 0, len(resolved))
	for _, commit := range resolved {
		result, err := o.summaries.GetOrCreate(ctx, commit, req.Repository, report.ID)
		if err != nil {
			return nil, err
		}

		row := models.ReportCommit{
			ReportID:  report.ID,
			CommitSHA: result.SHA,
			Message:   result.Message,
			Author:    result.Author,
			Date:      result.Date,
			Summary:   result.Summary,
		}
		if !result.FromCache {
			row.JobID = result.JobID
			row.JobStatus = models.StagePending
			pendingJobs++
		}
		commits = append(commits, row)
	}

	if err := o.db.Create(&commits).Error; err != nil {
		return nil, err
	}
	report.Commits = commits

	logger.Infof("[Orchestrator] Report %d created: %d commits, %d summary jobs, %d cache hits",
		report.ID, len(commits), pendingJobs, len(commits)-pendingJobs)

	if pendingJobs == 0 {
		// All summaries were cached; skip the summaries stage entirely.
		if err := o.completeSummariesStage(ctx, report.ID); err != nil {
			return nil, err
		}
		o.db.First(report, report.ID)
	}

	return &CreateReportResult{Report: report, Cached: false}, nil
}

// onSummaryResolved records one summary job's outcome and, once no
// jobs remain pending, advances the report to the narrative stage.
// A failed summary leaves its placeholder text in place so the report
// can still be generated.
func (o *Orchestrator) onSummaryResolved(ctx context.Context, reportID uint, sha, summaryText string, ok bool) error {
	updates := map[string]interface{}{
		"job_status": models.StageCompleted,
	}
	if !ok {
		updates["job_status"] = models.StageFailed
	} else if summaryText != "" {
		updates["summary"] = summaryText
	}

	err := o.db.Model(&models.ReportCommit{}).
		Where("report_id = ? AND commit_sha = ?", reportID, sha).
		Updates(updates).Error
	if err != nil {
		return err
	}

	var remaining int64
	err = o.db.Model(&models.ReportCommit{}).
		Where("report_id = ? AND job_status = ?", reportID, models.StagePending).
		Count(&remaining).Error
	if err != nil {
		return err
	}
	if remaining > 0 {
		return nil
	}

	return o.completeSummariesStage(ctx, reportID)
}

// completeSummariesStage marks the summaries stage done and enqueues
// the report job exactly once. Concurrent summary completions race
// here, so the transition is guarded by a lock plus a conditional
// update.
func (o *Orchestrator) completeSummariesStage(ctx context.Context, reportID uint) error {
	lockKey := fmt.Sprintf("lock:report:enqueue:%d", reportID)
	lock, err := o.locks.Obtain(ctx, lockKey, 30*time.Second)
	if err == ErrLockNotObtained {
		// The racing completion will enqueue the report job.
		return nil
	}
	if err == nil {
		defer lock.Release(ctx)
	}

	result := o.db.Model(&models.Report{}).
		Where("id = ? AND summary_status = ?", reportID, models.StagePending).
		Update("summary_status", models.StageCompleted)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// Already transitioned.
		return nil
	}

	return o.enqueueReportJob(ctx, reportID)
}

func (o *Orchestrator) enqueueReportJob(ctx context.Context, reportID uint) error {
	var report models.Report
	if err := o.db.First(&report, reportID).Error; err != nil {
		return err
	}

	var commitCount int64
	o.db.Model(&models.ReportCommit{}).Where("report_id = ?", reportID).Count(&commitCount)

	payload := &ReportJobPayload{
		ReportID:    report.ID,
		UserID:      report.UserID,
		Repository:  report.Repository,
		Title:       report.Name,
		Branch:      report.Branch,
		Author:      report.Author,
		CommitCount: int(commitCount),
	}
	handle, err := o.broker.Enqueue(ctx, QueueReport, TaskTypeReport, payload)
	if err != nil {
		return err
	}

	return o.db.Model(&report).Update("report_job_id", handle.ID).Error
}

func (o *Orchestrator) enqueuePDFJob(ctx context.Context, reportID uint) error {
	handle, err := o.broker.Enqueue(ctx, QueuePDF, TaskTypePDF, &PDFJobPayload{ReportID: reportID})
	if err != nil {
		return err
	}
	return o.db.Model(&models.Report{}).Where("id = ?", reportID).
		Update("pdf_job_id", handle.ID).Error
}

func dedupeIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
