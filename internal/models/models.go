package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// 公司（租户），所有业务数据的隔离边界
type Company struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Name      string         `gorm:"not null" json:"name"`
	Slug      string         `gorm:"uniqueIndex;not null" json:"slug"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Clients []Client `gorm:"foreignKey:CompanyID" json:"clients,omitempty"`
}

// 客户组织（公司的客户），进一步划分表单/工单/门户访问
type Client struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	CompanyID    uint           `gorm:"uniqueIndex:idx_client_company_slug;not null" json:"company_id"`
	Name         string         `gorm:"not null" json:"name"`
	Slug         string         `gorm:"uniqueIndex:idx_client_company_slug;not null" json:"slug"`
	EmailDomains string         `json:"email_domains"` // 逗号分隔，用于邮件来源匹配
	Active       bool           `json:"active"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

// Domains 返回规范化后的邮件域名列表
func (c *Client) Domains() []string {
	var out []string
	for _, d := range strings.Split(c.EmailDomains, ",") {
		d = strings.ToLower(strings.TrimSpace(d))
		d = strings.TrimPrefix(d, "@")
		if d != "" {
			out = append(out, d)
		}
	}
	return out
}

// 员工用户
type User struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Email     string         `gorm:"uniqueIndex;not null" json:"email"`
	Name      string         `json:"name"`
	LastLogin *time.Time     `json:"last_login"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Memberships []Membership `gorm:"foreignKey:UserID" json:"memberships,omitempty"`
}

const (
	RoleOwner = "owner"
	RoleAdmin = "admin"
	RoleAgent = "agent"
)

// 员工与公司的成员关系
type Membership struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CompanyID uint      `gorm:"uniqueIndex:idx_membership_company_user;not null" json:"company_id"`
	UserID    uint      `gorm:"uniqueIndex:idx_membership_company_user;not null" json:"user_id"`
	Role      string    `gorm:"default:'agent'" json:"role"` // owner, admin, agent
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	User User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// AllModels 返回需要迁移的全部模型，顺序即建表顺序
func AllModels() []interface{} {
	return []interface{}{
		&Company{}, &Client{}, &User{}, &Membership{},
		&SLAPolicy{},
		&PortalAccess{}, &PortalOTP{},
		&Ticket{}, &TicketComment{}, &TicketStatusChange{}, &TicketAttachment{},
		&Form{}, &FormSubmission{},
		&KnowledgeArticle{},
		&GmailIntegration{}, &GmailThread{},
	}
}
