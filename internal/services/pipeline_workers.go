package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/commitlore/backend/internal/models"
	"github.com/commitlore/backend/pkg/logger"
)

// RegisterHandlers wires the pipeline processors onto their queue
// workers.
func (o *Orchestrator) RegisterHandlers(summary, report, pdf *Worker) {
	summary.Handle(TaskTypeSummary, o.HandleSummaryTask)
	report.Handle(TaskTypeReport, o.HandleReportTask)
	pdf.Handle(TaskTypePDF, o.HandlePDFTask)
}

// HandleSummaryTask generates one commit summary. Another worker may
// already have written the row, in which case the cached text is used
// without a model call.
func (o *Orchestrator) HandleSummaryTask(ctx context.Context, t *asynq.Task) error {
	var payload SummaryJobPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal summary payload: %v: %w", err, asynq.SkipRetry)
	}

	if cached := o.summaries.Lookup(payload.Repository, payload.SHA); cached != nil {
		logger.Infof("[Pipeline] Summary for %s already cached, skipping model call", shortSHA(payload.SHA))
		return o.onSummaryResolved(ctx, payload.ReportID, payload.SHA, cached.Summary, true)
	}

	completion, err := o.llm.SummarizeCommit(ctx, &SummarizeRequest{
		Repository: payload.Repository,
		SHA:        payload.SHA,
		Message:    payload.Message,
		Author:     payload.Author,
		Diff:       payload.Diff,
	})
	if err != nil {
		if IsLastAttempt(ctx) {
			// The placeholder on the commit row stands in as the final
			// text so the report stage still runs.
			if cbErr := o.onSummaryResolved(ctx, payload.ReportID, payload.SHA, "", false); cbErr != nil {
				logger.Errorf("[Pipeline] Failed to record summary failure for report %d: %v", payload.ReportID, cbErr)
			}
		}
		return fmt.Errorf("summarize %s: %w", shortSHA(payload.SHA), err)
	}

	if err := o.summaries.Store(&models.CommitSummary{
		Repository:   payload.Repository,
		CommitSHA:    payload.SHA,
		Message:      payload.Message,
		Author:       payload.Author,
		Date:         payload.Date,
		Summary:      completion.Text,
		FilesChanged: payload.FilesChanged,
	}); err != nil {
		return fmt.Errorf("store summary %s: %w", shortSHA(payload.SHA), err)
	}

	if report := o.loadReport(payload.ReportID); report != nil {
		if err := o.usage.RecordTokens(report.UserID, completion.Usage, completion.Model); err != nil {
			logger.Warnf("[Pipeline] Failed to record summary tokens: %v", err)
		}
	}

	return o.onSummaryResolved(ctx, payload.ReportID, payload.SHA, completion.Text, true)
}

// HandleReportTask generates the narrative from the report's final
// summary texts and hands off to the pdf stage.
func (o *Orchestrator) HandleReportTask(ctx context.Context, t *asynq.Task) error {
	var payload ReportJobPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal report payload: %v: %w", err, asynq.SkipRetry)
	}

	var report models.Report
	if err := o.db.Preload("Commits").First(&report, payload.ReportID).Error; err != nil {
		return fmt.Errorf("load report %d: %v: %w", payload.ReportID, err, asynq.SkipRetry)
	}
	if report.ReportStatus == models.StageCompleted {
		// A retry can land here after the narrative was persisted but
		// the pdf hand-off failed. Recover it instead of stranding the
		// report on the pdf stage.
		if report.PDFJobID == "" && report.PDFKey == models.ArtifactPending {
			return o.enqueuePDFJob(ctx, report.ID)
		}
		return nil
	}

	digests := make([]CommitDigest, 0, len(report.Commits))
	for _, c := range report.Commits {
		digests = append(digests, CommitDigest{
			SHA:     c.CommitSHA,
			Message: c.Message,
			Author:  c.Author,
			Date:    c.Date,
			Summary: c.Summary,
		})
	}

	completion, err := o.llm.GenerateNarrative(ctx, &NarrativeRequest{
		Repository: report.Repository,
		Title:      report.Name,
		Branch:     report.Branch,
		Author:     report.Author,
		Commits:    digests,
	})
	if err != nil {
		if IsLastAttempt(ctx) {
			o.db.Model(&report).Updates(map[string]interface{}{
				"report_status": models.StageFailed,
				"report_error":  err.Error(),
			})
		}
		return fmt.Errorf("generate narrative for report %d: %w", report.ID, err)
	}

	err = o.db.Model(&report).Updates(map[string]interface{}{
		"content":       completion.Text,
		"report_status": models.StageCompleted,
		"report_error":  "",
	}).Error
	if err != nil {
		return fmt.Errorf("persist report %d content: %w", report.ID, err)
	}

	class := o.classifyFor(report.UserID, len(report.Commits))
	if err := o.usage.RecordCompletion(report.UserID, class, len(report.Commits), completion.Usage, completion.Model); err != nil {
		logger.Errorf("[Pipeline] Failed to record usage for report %d: %v", report.ID, err)
	}

	logger.Infof("[Pipeline] Report %d narrative completed (%d chars)", report.ID, len(completion.Text))
	return o.enqueuePDFJob(ctx, report.ID)
}

// HandlePDFTask renders and uploads the report artifact.
func (o *Orchestrator) HandlePDFTask(ctx context.Context, t *asynq.Task) error {
	var payload PDFJobPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal pdf payload: %v: %w", err, asynq.SkipRetry)
	}

	var report models.Report
	if err := o.db.Preload("Commits").First(&report, payload.ReportID).Error; err != nil {
		return fmt.Errorf("load report %d: %v: %w", payload.ReportID, err, asynq.SkipRetry)
	}
	if report.HasArtifact() {
		return nil
	}

	render := func() (string, error) {
		if report.Content == nil {
			return "", fmt.Errorf("report %d has no content to render", report.ID)
		}
		data, err := o.renderer.Render(&ReportDocument{
			Title:       report.Name,
			Repository:  report.Repository,
			Author:      report.Author,
			Branch:      report.Branch,
			CommitCount: len(report.Commits),
			GeneratedAt: time.Now(),
			Content:     *report.Content,
		})
		if err != nil {
			return "", fmt.Errorf("render report %d: %w", report.ID, err)
		}

		key := fmt.Sprintf("reports/%s.pdf", uuid.New().String())
		if err := o.blobs.Put(ctx, key, data, "application/pdf"); err != nil {
			return "", fmt.Errorf("upload report %d artifact: %w", report.ID, err)
		}
		return key, nil
	}

	key, err := render()
	if err != nil {
		if IsLastAttempt(ctx) {
			o.db.Model(&report).Updates(map[string]interface{}{
				"pdf_status": models.StageFailed,
				"pdf_key":    models.ArtifactFailed,
				"pdf_error":  err.Error(),
			})
		}
		return err
	}

	err = o.db.Model(&report).Updates(map[string]interface{}{
		"pdf_key":    key,
		"pdf_status": models.StageCompleted,
		"pdf_error":  "",
	}).Error
	if err != nil {
		return fmt.Errorf("persist report %d artifact key: %w", report.ID, err)
	}

	logger.Infof("[Pipeline] Report %d artifact stored at %s", report.ID, key)
	return nil
}

func (o *Orchestrator) loadReport(id uint) *models.Report {
	var report models.Report
	if err := o.db.First(&report, id).Error; err != nil {
		return nil
	}
	return &report
}

// classifyFor resolves the user's plan to decide which quota bucket a
// finished report lands in.
func (o *Orchestrator) classifyFor(userID uint, commitCount int) string {
	var user models.User
	if err := o.db.Preload("Plan").First(&user, userID).Error; err != nil || user.Plan == nil {
		plan := models.FallbackPlan()
		return ClassifyReport(&plan, commitCount)
	}
	return ClassifyReport(user.Plan, commitCount)
}
