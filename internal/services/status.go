package services

import (
	"context"
	"fmt"

	"github.com/commitlore/backend/internal/models"
	"gorm.io/gorm"
)

// Pipeline stage names as exposed on the status endpoint.
const (
	StageSummaries = "summaries"
	StageReport    = "report"
	StagePDF       = "pdf"
)

// StageStatus is the client-facing view of one pipeline stage.
type StageStatus struct {
	Status   string `json:"status"` // pending, active, completed, failed
	Progress int    `json:"progress"`
	Error    string `json:"error,omitempty"`
}

// StatusAggregator translates persisted report state and live broker
// state into per-stage status snapshots.
type StatusAggregator struct {
	db     *gorm.DB
	broker JobBroker
}

func NewStatusAggregator(db *gorm.DB, broker JobBroker) *StatusAggregator {
	return &StatusAggregator{db: db, broker: broker}
}

// StageStatus reports one stage of a report's pipeline. Persisted
// terminal state wins; otherwise the broker is consulted for the live
// job. A job the broker no longer knows about counts as pending rather
// than failing the status call.
func (a *StatusAggregator) StageStatus(ctx context.Context, report *models.Report, stage string) (*StageStatus, error) {
	switch stage {
	case StageSummaries:
		return a.summariesStatus(ctx, report)
	case StageReport:
		return a.jobStatus(ctx, report.ReportStatus, report.ReportError, QueueReport, report.ReportJobID)
	case StagePDF:
		return a.jobStatus(ctx, report.PDFStatus, report.PDFError, QueuePDF, report.PDFJobID)
	default:
		return nil, fmt.Errorf("unknown stage: %s", stage)
	}
}

// summariesStatus aggregates the per-commit summary jobs. Progress is
// resolved jobs over total jobs; cache hits never had a job and do not
// count.
func (a *StatusAggregator) summariesStatus(ctx context.Context, report *models.Report) (*StageStatus, error) {
	switch report.SummaryStatus {
	case models.StageCompleted:
		return &StageStatus{Status: models.StageCompleted, Progress: 100}, nil
	case models.StageFailed:
		return &StageStatus{Status: models.StageFailed, Progress: 100}, nil
	}

	var commits []models.ReportCommit
	err := a.db.Where("report_id = ? AND job_id <> ''", report.ID).Find(&commits).Error
	if err != nil {
		return nil, err
	}

	total := len(commits)
	if total == 0 {
		// Everything came from the cache; the stage is trivially done.
		return &StageStatus{Status: models.StageCompleted, Progress: 100}, nil
	}

	resolved := 0
	var firstPending *models.ReportCommit
	for i := range commits {
		switch commits[i].JobStatus {
		case models.StageCompleted, models.StageFailed:
			resolved++
		default:
			if firstPending == nil {
				firstPending = &commits[i]
			}
		}
	}

	if resolved == total {
		return &StageStatus{Status: models.StageCompleted, Progress: 100}, nil
	}

	status := models.StagePending
	if resolved > 0 {
		status = JobStateActive
	} else if firstPending != nil {
		// Nothing resolved yet; peek at one live job to distinguish
		// queued from running.
		if js, err := a.broker.Status(ctx, QueueSummary, firstPending.JobID); err == nil && js.State == JobStateActive {
			status = JobStateActive
		}
	}

	return &StageStatus{
		Status:   status,
		Progress: resolved * 100 / total,
	}, nil
}

// jobStatus handles the single-job report and pdf stages.
func (a *StatusAggregator) jobStatus(ctx context.Context, persisted, persistedErr, queue, jobID string) (*StageStatus, error) {
	switch persisted {
	case models.StageCompleted:
		return &StageStatus{Status: models.StageCompleted, Progress: 100}, nil
	case models.StageFailed:
		return &StageStatus{Status: models.StageFailed, Progress: 100, Error: persistedErr}, nil
	}

	if jobID == "" {
		// Stage not reached yet.
		return &StageStatus{Status: models.StagePending, Progress: 0}, nil
	}

	js, err := a.broker.Status(ctx, queue, jobID)
	if err == ErrJobNotFound {
		return &StageStatus{Status: models.StagePending, Progress: 0}, nil
	}
	if err != nil {
		return nil, err
	}

	status := models.StagePending
	switch js.State {
	case JobStateActive:
		status = JobStateActive
	case JobStateCompleted:
		status = models.StageCompleted
	case JobStateFailed:
		status = models.StageFailed
	}

	return &StageStatus{
		Status:   status,
		Progress: js.Progress,
		Error:    js.Error,
	}, nil
}
