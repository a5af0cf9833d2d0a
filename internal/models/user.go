package models

import (
	"time"

	"gorm.io/gorm"
)

// User represents an account that requests reports.
type User struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Username    string         `gorm:"uniqueIndex;size:100;not null" json:"username"`
	Password    string         `gorm:"size:255" json:"-"` // bcrypt hash
	Email       string         `gorm:"size:255" json:"email"`
	Role        string         `gorm:"size:50;default:user" json:"role"` // admin, user
	GitHubToken string         `gorm:"column:github_token;size:500" json:"-"` // access token used by the commit resolver
	PlanID      uint           `json:"plan_id"`
	Plan        *Plan          `gorm:"foreignKey:PlanID" json:"plan,omitempty"`
	IsActive    bool           `gorm:"default:true" json:"is_active"`
	LastLogin   *time.Time     `json:"last_login"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

func (User) TableName() string { return "users" }
