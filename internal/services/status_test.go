package services

import (
	"context"
	"testing"
	"time"

	"github.com/commitlore/backend/internal/models"
)

func TestSummariesStatus_Progress(t *testing.T) {
	db := newTestDB(t)
	broker := newFakeBroker()
	agg := NewStatusAggregator(db, broker)
	ctx := context.Background()

	report := &models.Report{
		UserID:             1,
		Repository:         "acme/api",
		CommitsFingerprint: "fp",
		SummaryStatus:      models.StagePending,
		LastAccessed:       time.Now(),
	}
	db.Create(report)

	commits := []models.ReportCommit{
		{ReportID: report.ID, CommitSHA: "a", JobID: "job-1", JobStatus: models.StageCompleted},
		{ReportID: report.ID, CommitSHA: "b", JobID: "job-2", JobStatus: models.StagePending},
		{ReportID: report.ID, CommitSHA: "c", JobID: "job-3", JobStatus: models.StagePending},
		{ReportID: report.ID, CommitSHA: "d", JobID: "job-4", JobStatus: models.StageFailed},
	}
	db.Create(&commits)

	status, err := agg.StageStatus(ctx, report, StageSummaries)
	if err != nil {
		t.Fatalf("stage status: %v", err)
	}
	if status.Status != JobStateActive {
		t.Errorf("Status = %s, expected active once some jobs resolved", status.Status)
	}
	if status.Progress != 50 {
		t.Errorf("Progress = %d, expected 50 (2 of 4 resolved)", status.Progress)
	}
}

func TestSummariesStatus_CacheHitsDoNotCount(t *testing.T) {
	db := newTestDB(t)
	agg := NewStatusAggregator(db, newFakeBroker())
	ctx := context.Background()

	report := &models.Report{
		UserID:             1,
		Repository:         "acme/api",
		CommitsFingerprint: "fp",
		SummaryStatus:      models.StagePending,
		LastAccessed:       time.Now(),
	}
	db.Create(report)

	// Two cache hits (no job id), one pending job.
	commits := []models.ReportCommit{
		{ReportID: report.ID, CommitSHA: "a"},
		{ReportID: report.ID, CommitSHA: "b"},
		{ReportID: report.ID, CommitSHA: "c", JobID: "job-1", JobStatus: models.StagePending},
	}
	db.Create(&commits)

	status, err := agg.StageStatus(ctx, report, StageSummaries)
	if err != nil {
		t.Fatalf("stage status: %v", err)
	}
	if status.Progress != 0 {
		t.Errorf("Progress = %d, expected 0 (cache hits excluded from the denominator)", status.Progress)
	}
}

func TestSummariesStatus_PersistedTerminalWins(t *testing.T) {
	db := newTestDB(t)
	agg := NewStatusAggregator(db, newFakeBroker())
	ctx := context.Background()

	report := &models.Report{
		UserID:             1,
		Repository:         "acme/api",
		CommitsFingerprint: "fp",
		SummaryStatus:      models.StageCompleted,
		LastAccessed:       time.Now(),
	}
	db.Create(report)

	status, err := agg.StageStatus(ctx, report, StageSummaries)
	if err != nil {
		t.Fatalf("stage status: %v", err)
	}
	if status.Status != models.StageCompleted || status.Progress != 100 {
		t.Errorf("persisted completed should win: %+v", status)
	}
}

func TestSummariesStatus_AllCachedIsCompleted(t *testing.T) {
	db := newTestDB(t)
	agg := NewStatusAggregator(db, newFakeBroker())
	ctx := context.Background()

	report := &models.Report{
		UserID:             1,
		Repository:         "acme/api",
		CommitsFingerprint: "fp",
		SummaryStatus:      models.StagePending,
		LastAccessed:       time.Now(),
	}
	db.Create(report)
	db.Create(&[]models.ReportCommit{
		{ReportID: report.ID, CommitSHA: "a"},
		{ReportID: report.ID, CommitSHA: "b"},
	})

	status, err := agg.StageStatus(ctx, report, StageSummaries)
	if err != nil {
		t.Fatalf("stage status: %v", err)
	}
	if status.Status != models.StageCompleted || status.Progress != 100 {
		t.Errorf("all-cached stage should read completed: %+v", status)
	}
}

func TestJobStatus_StageNotReached(t *testing.T) {
	db := newTestDB(t)
	agg := NewStatusAggregator(db, newFakeBroker())
	ctx := context.Background()

	report := &models.Report{ReportStatus: models.StagePending, ReportJobID: ""}
	status, err := agg.StageStatus(ctx, report, StageReport)
	if err != nil {
		t.Fatalf("stage status: %v", err)
	}
	if status.Status != models.StagePending || status.Progress != 0 {
		t.Errorf("unreached stage should be pending at 0%%: %+v", status)
	}
}

func TestJobStatus_BrokerStates(t *testing.T) {
	db := newTestDB(t)
	broker := newFakeBroker()
	agg := NewStatusAggregator(db, broker)
	ctx := context.Background()

	handle, _ := broker.Enqueue(ctx, QueueReport, TaskTypeReport, nil)
	report := &models.Report{ReportStatus: models.StagePending, ReportJobID: handle.ID}

	tests := []struct {
		brokerState string
		expected    string
		progress    int
	}{
		{JobStateWaiting, models.StagePending, 0},
		{JobStateActive, JobStateActive, 50},
		{JobStateCompleted, models.StageCompleted, 100},
		{JobStateFailed, models.StageFailed, 100},
	}

	for _, tt := range tests {
		broker.setState(handle.ID, tt.brokerState)
		status, err := agg.StageStatus(ctx, report, StageReport)
		if err != nil {
			t.Fatalf("stage status (%s): %v", tt.brokerState, err)
		}
		if status.Status != tt.expected {
			t.Errorf("broker %s -> %s, expected %s", tt.brokerState, status.Status, tt.expected)
		}
		if status.Progress != tt.progress {
			t.Errorf("broker %s -> progress %d, expected %d", tt.brokerState, status.Progress, tt.progress)
		}
	}
}

func TestJobStatus_UnknownJobIsPending(t *testing.T) {
	db := newTestDB(t)
	agg := NewStatusAggregator(db, newFakeBroker())
	ctx := context.Background()

	// The broker evicted the job (retention expired) but the stage has
	// not persisted a terminal status.
	report := &models.Report{PDFStatus: models.StagePending, PDFJobID: "gone"}
	status, err := agg.StageStatus(ctx, report, StagePDF)
	if err != nil {
		t.Fatalf("stage status: %v", err)
	}
	if status.Status != models.StagePending {
		t.Errorf("evicted job should read pending, got %s", status.Status)
	}
}

func TestJobStatus_PersistedFailureCarriesError(t *testing.T) {
	db := newTestDB(t)
	agg := NewStatusAggregator(db, newFakeBroker())
	ctx := context.Background()

	report := &models.Report{
		ReportStatus: models.StageFailed,
		ReportError:  "model unavailable",
	}
	status, err := agg.StageStatus(ctx, report, StageReport)
	if err != nil {
		t.Fatalf("stage status: %v", err)
	}
	if status.Status != models.StageFailed || status.Error != "model unavailable" {
		t.Errorf("persisted failure should surface its error: %+v", status)
	}
}

func TestStageStatus_UnknownStage(t *testing.T) {
	agg := NewStatusAggregator(newTestDB(t), newFakeBroker())
	if _, err := agg.StageStatus(context.Background(), &models.Report{}, "render"); err == nil {
		t.Error("unknown stage name should error")
	}
}
