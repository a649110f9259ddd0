package models

import (
	"time"

	"gorm.io/gorm"
)

// Gmail 接入配置；token 由外部授权流程写入
type GmailIntegration struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	CompanyID       uint           `gorm:"index;not null" json:"company_id"`
	EmailAddress    string         `gorm:"uniqueIndex;not null" json:"email_address"`
	AccessToken     string         `json:"-"`
	RefreshToken    string         `json:"-"`
	TokenExpiry     *time.Time     `json:"token_expiry"`
	HistoryID       uint64         `json:"history_id"`
	DefaultClientID *uint          `json:"default_client_id"`
	LastSyncedAt    *time.Time     `json:"last_synced_at"`
	Active          bool           `json:"active"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
}

// 已导入的邮件会话，thread_id 在同一接入下唯一
type GmailThread struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	IntegrationID  uint      `gorm:"uniqueIndex:idx_gmail_thread;not null" json:"integration_id"`
	ThreadID       string    `gorm:"uniqueIndex:idx_gmail_thread;not null" json:"thread_id"`
	TicketID       uint      `gorm:"index;not null" json:"ticket_id"`
	FirstMessageID string    `json:"first_message_id"` // 作为工单描述导入的消息
	LastMessageID  string    `json:"last_message_id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
