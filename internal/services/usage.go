package services

import (
	"time"

	"github.com/commitlore/backend/internal/config"
	"github.com/commitlore/backend/internal/models"
	"github.com/commitlore/backend/pkg/logger"
	"github.com/commitlore/backend/pkg/response"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Report classes for quota accounting.
const (
	ReportClassStandard = "standard"
	ReportClassLarge    = "large"
)

// Quota errors surfaced to the create-report endpoint.
var (
	ErrReportLimitReached = response.NewForbidden("monthly report limit reached")
	ErrLargeLimitReached  = response.NewForbidden("monthly large report limit reached")
	ErrTooManyCommits     = response.NewBadRequest("commit count exceeds the plan's large report size")
)

// UsageService maintains the monthly usage ledger and enforces plan
// quotas.
type UsageService struct {
	db      *gorm.DB
	pricing map[string]config.ModelPricing
}

func NewUsageService(db *gorm.DB, pricing map[string]config.ModelPricing) *UsageService {
	return &UsageService{db: db, pricing: pricing}
}

// CurrentMonth returns the ledger month key, YYYY-MM in UTC.
func CurrentMonth() string {
	return time.Now().UTC().Format("2006-01")
}

// ClassifyReport maps a commit count onto the plan's report classes.
func ClassifyReport(plan *models.Plan, commitCount int) string {
	if commitCount <= plan.CommitsPerStandardReport {
		return ReportClassStandard
	}
	return ReportClassLarge
}

// CheckLimit decides whether a user may start a report with the given
// commit count. Returns the report class on success.
func (s *UsageService) CheckLimit(user *models.User, commitCount int) (string, error) {
	plan := user.Plan
	if plan == nil {
		fallback := models.FallbackPlan()
		plan = &fallback
	}

	class := ClassifyReport(plan, commitCount)
	if class == ReportClassLarge && commitCount > plan.CommitsPerLargeReport {
		return "", ErrTooManyCommits
	}

	var stats models.UsageStats
	err := s.db.Where("user_id = ? AND month = ?", user.ID, CurrentMonth()).First(&stats).Error
	if err != nil && err != gorm.ErrRecordNotFound {
		return "", err
	}

	switch class {
	case ReportClassLarge:
		if stats.ReportsLarge >= int64(plan.LargeReportLimit()) {
			return "", ErrLargeLimitReached
		}
	default:
		if stats.ReportsStandard >= int64(plan.ReportsPerMonth) {
			return "", ErrReportLimitReached
		}
	}

	return class, nil
}

// costsFor prices a model call. Unknown models cost zero.
func (s *UsageService) costsFor(model string, usage *TokenUsage) (in, out float64) {
	pricing, ok := s.pricing[model]
	if !ok || usage == nil {
		return 0, 0
	}
	return float64(usage.PromptTokens) * pricing.Input,
		float64(usage.CompletionTokens) * pricing.Output
}

// RecordCompletion increments the user's monthly ledger after a report
// finishes generating. Cache hits never reach this path, so repeated
// requests for the same report are not re-charged.
func (s *UsageService) RecordCompletion(userID uint, class string, commitCount int, usage *TokenUsage, model string) error {
	stdInc, largeInc := int64(1), int64(0)
	if class == ReportClassLarge {
		stdInc, largeInc = 0, 1
	}
	if err := s.increment(userID, stdInc, largeInc, int64(commitCount), usage, model); err != nil {
		return err
	}

	logger.Infof("[Usage] Recorded %s report for user=%d: commits=%d, tokens=%d",
		class, userID, commitCount, tokenTotal(usage))
	return nil
}

// RecordTokens charges token usage without counting a report, used by
// the per-commit summary jobs.
func (s *UsageService) RecordTokens(userID uint, usage *TokenUsage, model string) error {
	return s.increment(userID, 0, 0, 0, usage, model)
}

func tokenTotal(usage *TokenUsage) int {
	if usage == nil {
		return 0
	}
	return usage.TotalTokens
}

func (s *UsageService) increment(userID uint, stdInc, largeInc, commitInc int64, usage *TokenUsage, model string) error {
	month := CurrentMonth()
	if usage == nil {
		usage = &TokenUsage{}
	}
	costIn, costOut := s.costsFor(model, usage)

	row := &models.UsageStats{
		UserID:          userID,
		Month:           month,
		ReportsStandard: stdInc,
		ReportsLarge:    largeInc,
		CommitsTotal:    commitInc,
		TokensTotal:     int64(usage.TotalTokens),
		TokensInput:     int64(usage.PromptTokens),
		TokensOutput:    int64(usage.CompletionTokens),
		CostTotal:       costIn + costOut,
		CostInput:       costIn,
		CostOutput:      costOut,
	}

	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "month"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"reports_standard": gorm.Expr("reports_standard + ?", stdInc),
			"reports_large":    gorm.Expr("reports_large + ?", largeInc),
			"commits_total":    gorm.Expr("commits_total + ?", commitInc),
			"tokens_total":     gorm.Expr("tokens_total + ?", usage.TotalTokens),
			"tokens_input":     gorm.Expr("tokens_input + ?", usage.PromptTokens),
			"tokens_output":    gorm.Expr("tokens_output + ?", usage.CompletionTokens),
			"cost_total":       gorm.Expr("cost_total + ?", costIn+costOut),
			"cost_input":       gorm.Expr("cost_input + ?", costIn),
			"cost_output":      gorm.Expr("cost_output + ?", costOut),
			"updated_at":       time.Now(),
		}),
	}).Create(row).Error
	if err != nil {
		return err
	}

	if model != "" {
		modelRow := &models.UsageModelStats{
			UserID:       userID,
			Month:        month,
			Model:        model,
			TokensTotal:  int64(usage.TotalTokens),
			TokensInput:  int64(usage.PromptTokens),
			TokensOutput: int64(usage.CompletionTokens),
			CostTotal:    costIn + costOut,
			CostInput:    costIn,
			CostOutput:   costOut,
		}
		err = s.db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "month"}, {Name: "model"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"tokens_total":  gorm.Expr("tokens_total + ?", usage.TotalTokens),
				"tokens_input":  gorm.Expr("tokens_input + ?", usage.PromptTokens),
				"tokens_output": gorm.Expr("tokens_output + ?", usage.CompletionTokens),
				"cost_total":    gorm.Expr("cost_total + ?", costIn+costOut),
				"cost_input":    gorm.Expr("cost_input + ?", costIn),
				"cost_output":   gorm.Expr("cost_output + ?", costOut),
				"updated_at":    time.Now(),
			}),
		}).Create(modelRow).Error
		if err != nil {
			return err
		}
	}

	return nil
}

// UserUsage is the usage endpoint's projection: the current month's
// ledger plus the all-time aggregate.
type UserUsage struct {
	Month        string                  `json:"month"`
	CurrentMonth models.UsageStats       `json:"current_month"`
	ByModel      []models.UsageModelStats `json:"by_model"`
	AllTime      UsageTotals             `json:"all_time"`
}

// UsageTotals aggregates the ledger across months.
type UsageTotals struct {
	ReportsStandard int64   `json:"reports_standard"`
	ReportsLarge    int64   `json:"reports_large"`
	CommitsTotal    int64   `json:"commits_total"`
	TokensTotal     int64   `json:"tokens_total"`
	CostTotal       float64 `json:"cost_total"`
}

// GetUserUsage returns the current month's row (zero-valued when the
// user has no activity yet) plus per-model breakdown and all-time
// totals.
func (s *UsageService) GetUserUsage(userID uint) (*UserUsage, error) {
	month := CurrentMonth()
	result := &UserUsage{Month: month}

	err := s.db.Where("user_id = ? AND month = ?", userID, month).
		First(&result.CurrentMonth).Error
	if err != nil && err != gorm.ErrRecordNotFound {
		return nil, err
	}
	result.CurrentMonth.UserID = userID
	result.CurrentMonth.Month = month

	err = s.db.Where("user_id = ? AND month = ?", userID, month).
		Order("tokens_total DESC").Find(&result.ByModel).Error
	if err != nil {
		return nil, err
	}

	err = s.db.Model(&models.UsageStats{}).
		Select("COALESCE(SUM(reports_standard),0) AS reports_standard, "+
			"COALESCE(SUM(reports_large),0) AS reports_large, "+
			"COALESCE(SUM(commits_total),0) AS commits_total, "+
			"COALESCE(SUM(tokens_total),0) AS tokens_total, "+
			"COALESCE(SUM(cost_total),0) AS cost_total").
		Where("user_id = ?", userID).
		Scan(&result.AllTime).Error
	if err != nil {
		return nil, err
	}

	return result, nil
}
