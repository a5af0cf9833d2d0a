package models

import "time"

// CommitSummary is one memoized LLM summary for a (repository, commit) pair.
// Immutable once written, except for last-accessed bookkeeping on cache hits.
type CommitSummary struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Repository   string    `gorm:"size:300;not null;uniqueIndex:idx_summaries_repo_commit" json:"repository"`
	CommitSHA    string    `gorm:"column:commit_id;size:100;not null;uniqueIndex:idx_summaries_repo_commit" json:"commit_id"`
	Message      string    `gorm:"type:text;not null" json:"message"`
	Author       string    `gorm:"size:200" json:"author"`
	Date         time.Time `json:"date"`
	Summary      string    `gorm:"type:text;not null" json:"summary"`
	FilesChanged int       `gorm:"default:0" json:"files_changed"`
	LastAccessed time.Time `gorm:"index" json:"last_accessed"`
	CreatedAt    time.Time `json:"created_at"`
}

func (CommitSummary) TableName() string { return "commit_summaries" }
