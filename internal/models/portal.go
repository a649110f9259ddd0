package models

import (
	"time"

	"gorm.io/gorm"
)

// 门户访问身份：客户组织下的外部联系人，与员工账号相互独立
type PortalAccess struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	CompanyID   uint           `gorm:"index;not null" json:"company_id"`
	ClientID    uint           `gorm:"uniqueIndex:idx_portal_client_email;not null" json:"client_id"`
	Email       string         `gorm:"uniqueIndex:idx_portal_client_email;not null" json:"email"`
	Name        string         `json:"name"`
	AccessToken string         `gorm:"uniqueIndex;not null" json:"-"`
	Active      bool           `json:"active"`
	LastLoginAt *time.Time     `json:"last_login_at"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

// DisplayName 名称为空时退回邮箱
func (p *PortalAccess) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Email
}

// 一次性登录验证码，仅保存 bcrypt 哈希
type PortalOTP struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	PortalAccessID uint       `gorm:"index;not null" json:"portal_access_id"`
	CodeHash       string     `gorm:"not null" json:"-"`
	ExpiresAt      time.Time  `json:"expires_at"`
	Attempts       int        `gorm:"default:0" json:"attempts"`
	ConsumedAt     *time.Time `json:"consumed_at"`
	CreatedAt      time.Time  `json:"created_at"`
}
