package models

import (
	"time"
)

// Stage status values shared by the summary, report and pdf stages.
const (
	StagePending   = "pending"
	StageCompleted = "completed"
	StageFailed    = "failed"
)

// Artifact key sentinels used while the PDF does not exist yet.
const (
	ArtifactPending = "pending"
	ArtifactFailed  = "failed"
)

// Report is one narrative artifact for a (repository, commit set, user)
// triple. CommitsFingerprint is the cache key: unique per user and commit
// set, so a repeated request for the same commits lands on the same row.
type Report struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	UserID     uint   `gorm:"not null;uniqueIndex:idx_reports_user_fingerprint" json:"user_id"`
	User       *User  `gorm:"foreignKey:UserID" json:"-"`
	Name       string `gorm:"size:300;not null" json:"name"`
	Repository string `gorm:"size:300;not null" json:"repository"`
	Branch     string `gorm:"size:300" json:"branch"`
	Author     string `gorm:"size:500" json:"author"`

	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`

	Commits []ReportCommit `gorm:"foreignKey:ReportID" json:"commits,omitempty"`

	// The unique index spans (user_id, commits_fingerprint) so concurrent
	// identical requests by the same user coalesce onto one row.
	CommitsFingerprint string `gorm:"size:64;not null;uniqueIndex:idx_reports_user_fingerprint" json:"commits_fingerprint"`

	Content *string `gorm:"type:text" json:"content,omitempty"`

	// PDFKey holds the blob-store object key, or the pending/failed
	// sentinels until the pdf stage finishes.
	PDFKey string `gorm:"size:500;default:pending" json:"pdf_key"`

	SummaryStatus string `gorm:"size:20" json:"summary_status"`
	ReportStatus  string `gorm:"size:20" json:"report_status"`
	PDFStatus     string `gorm:"size:20" json:"pdf_status"`

	ReportError string `gorm:"type:text" json:"report_error,omitempty"`
	PDFError    string `gorm:"type:text" json:"pdf_error,omitempty"`

	ReportJobID string `gorm:"size:64" json:"report_job_id"`
	PDFJobID    string `gorm:"size:64" json:"pdf_job_id"`

	AccessCount  int       `gorm:"default:1" json:"access_count"`
	LastAccessed time.Time `json:"last_accessed"`

	// Deletes are hard deletes: a soft-deleted row would keep occupying
	// the (user_id, commits_fingerprint) unique index.
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ReportCommit is one constituent commit of a Report, including the summary
// text used for the narrative and the handle of the summary job that produced
// it (empty when the summary came straight from the cache).
type ReportCommit struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	ReportID  uint      `gorm:"index;not null" json:"-"`
	CommitSHA string    `gorm:"size:100;not null" json:"sha"`
	Message   string    `gorm:"type:text" json:"message"`
	Author    string    `gorm:"size:200" json:"author"`
	Date      time.Time `json:"date"`
	Summary   string    `gorm:"type:text" json:"summary"`

	JobID     string `gorm:"size:64" json:"job_id,omitempty"`
	JobStatus string `gorm:"size:20" json:"job_status,omitempty"` // pending/completed/failed, empty for cache hits
}

func (Report) TableName() string       { return "reports" }
func (ReportCommit) TableName() string { return "report_commits" }

// HasArtifact reports whether the pdf stage produced a real object key.
func (r *Report) HasArtifact() bool {
	return r.PDFKey != "" && r.PDFKey != ArtifactPending && r.PDFKey != ArtifactFailed
}
