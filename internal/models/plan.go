package models

import "time"

// Plan is a named quota policy. Read-only from the pipeline's perspective;
// the quota gate consults it before any report work is enqueued.
type Plan struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	Name        string `gorm:"uniqueIndex;size:100;not null" json:"name"`
	DisplayName string `gorm:"size:200" json:"display_name"`
	Description string `gorm:"size:500" json:"description"`

	ReportsPerMonth          int `gorm:"default:50" json:"reports_per_month"`
	CommitsPerStandardReport int `gorm:"default:5" json:"commits_per_standard_report"`
	CommitsPerLargeReport    int `gorm:"default:20" json:"commits_per_large_report"`

	IsActive  bool      `gorm:"default:true" json:"is_active"`
	IsDefault bool      `gorm:"default:false" json:"is_default"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Plan) TableName() string { return "plans" }

// LargeReportLimit returns the monthly allowance for large reports: a fixed
// fraction (10%) of the standard allowance, not an independent pool.
func (p *Plan) LargeReportLimit() int {
	return p.ReportsPerMonth / 10
}

// FallbackPlan is the quota policy applied to users with no plan row.
// Matches the seeded Free plan.
func FallbackPlan() Plan {
	return Plan{
		Name:                     "Free",
		DisplayName:              "Free Plan",
		ReportsPerMonth:          50,
		CommitsPerStandardReport: 5,
		CommitsPerLargeReport:    20,
		IsActive:                 true,
		IsDefault:                true,
	}
}
