package models

import (
	"time"

	"gorm.io/gorm"
)

// SLA 策略；同一公司同一优先级至多一条启用策略
type SLAPolicy struct {
	ID                   uint           `gorm:"primaryKey" json:"id"`
	CompanyID            uint           `gorm:"index;not null" json:"company_id"`
	Name                 string         `gorm:"not null" json:"name"`
	Priority             string         `gorm:"not null;index" json:"priority"` // low, medium, high, urgent
	FirstResponseMinutes int            `gorm:"not null" json:"first_response_minutes"`
	ResolutionMinutes    int            `gorm:"not null" json:"resolution_minutes"`
	Active               bool           `json:"active"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
	DeletedAt            gorm.DeletedAt `gorm:"index" json:"-"`
}
