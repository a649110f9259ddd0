package models

import (
	"time"

	"gorm.io/gorm"
)

// 知识库文章（Markdown 正文）；ClientID 为空表示公司内所有客户可见
type KnowledgeArticle struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	CompanyID   uint           `gorm:"uniqueIndex:idx_article_company_slug;not null" json:"company_id"`
	ClientID    *uint          `gorm:"index" json:"client_id"`
	Title       string         `gorm:"not null" json:"title"`
	Slug        string         `gorm:"uniqueIndex:idx_article_company_slug;not null" json:"slug"`
	Body        string         `gorm:"type:text" json:"body"`
	Category    string         `json:"category"`
	Tags        string         `json:"tags"` // 标签，逗号分隔
	Published   bool           `gorm:"default:false" json:"published"`
	PublishedAt *time.Time     `json:"published_at"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}
