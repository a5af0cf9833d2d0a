package models

import "time"

// UsageStats is the monthly usage ledger row: at most one per (user, month),
// maintained by atomic upsert-increments after successful report generation.
// Month is YYYY-MM.
type UsageStats struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	UserID uint   `gorm:"not null;uniqueIndex:idx_usage_user_month" json:"user_id"`
	Month  string `gorm:"size:7;not null;uniqueIndex:idx_usage_user_month" json:"month"`

	ReportsStandard int64 `gorm:"default:0" json:"reports_standard"`
	ReportsLarge    int64 `gorm:"default:0" json:"reports_large"`
	CommitsTotal    int64 `gorm:"default:0" json:"commits_total"`

	TokensTotal  int64 `gorm:"default:0" json:"tokens_total"`
	TokensInput  int64 `gorm:"default:0" json:"tokens_input"`
	TokensOutput int64 `gorm:"default:0" json:"tokens_output"`

	CostTotal  float64 `gorm:"default:0" json:"cost_total"`
	CostInput  float64 `gorm:"default:0" json:"cost_input"`
	CostOutput float64 `gorm:"default:0" json:"cost_output"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UsageModelStats breaks the monthly token/cost totals down by model, one row
// per (user, month, model), upserted the same way as UsageStats.
type UsageModelStats struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	UserID uint   `gorm:"not null;uniqueIndex:idx_usage_user_month_model" json:"user_id"`
	Month  string `gorm:"size:7;not null;uniqueIndex:idx_usage_user_month_model" json:"month"`
	Model  string `gorm:"size:100;not null;uniqueIndex:idx_usage_user_month_model" json:"model"`

	TokensTotal  int64   `gorm:"default:0" json:"tokens_total"`
	TokensInput  int64   `gorm:"default:0" json:"tokens_input"`
	TokensOutput int64   `gorm:"default:0" json:"tokens_output"`
	CostTotal    float64 `gorm:"default:0" json:"cost_total"`
	CostInput    float64 `gorm:"default:0" json:"cost_input"`
	CostOutput   float64 `gorm:"default:0" json:"cost_output"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (UsageStats) TableName() string      { return "usage_stats" }
func (UsageModelStats) TableName() string { return "usage_model_stats" }
