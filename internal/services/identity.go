package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"supportdesk/internal/models"
	"supportdesk/internal/rules"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Contact 匿名提交时由提交者自填的联系方式
type Contact struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// IdentityResolver 将请求会话解析为表单提交者
type IdentityResolver struct {
	db     *gorm.DB
	logger *logrus.Logger
	tenant *TenantService
}

// NewIdentityResolver 创建身份解析器
func NewIdentityResolver(db *gorm.DB, logger *logrus.Logger, tenant *TenantService) *IdentityResolver {
	if logger == nil {
		logger = logrus.New()
	}
	return &IdentityResolver{db: db, logger: logger, tenant: tenant}
}

// ResolveSubmitter 员工会话需属于表单所在公司，门户会话需属于同一客户组织；
// 其余情况按匿名处理，使用自填联系方式
func (r *IdentityResolver) ResolveSubmitter(ctx context.Context, sess Session, companyID, clientID uint, contact Contact) (rules.Submitter, error) {
	anonymous := rules.Submitter{
		Name:  strings.TrimSpace(contact.Name),
		Email: strings.ToLower(strings.TrimSpace(contact.Email)),
	}

	if sess.Staff != nil && sess.Staff.CompanyID == companyID {
		if _, err := r.tenant.GetMembership(ctx, companyID, sess.Staff.UserID); err == nil {
			var user models.User
			if err := r.db.WithContext(ctx).First(&user, sess.Staff.UserID).Error; err != nil {
				if !errors.Is(err, gorm.ErrRecordNotFound) {
					return rules.Submitter{}, fmt.Errorf("failed to load user: %w", err)
				}
			} else {
				id := user.ID
				return rules.Submitter{Name: user.Name, Email: user.Email, StaffUserID: &id}, nil
			}
		} else if !errors.Is(err, ErrNotFound) {
			return rules.Submitter{}, err
		}
		r.logger.Debugf("Staff session for user %d does not belong to company %d", sess.Staff.UserID, companyID)
	}

	if sess.Portal != nil && sess.Portal.ClientID == clientID {
		var access models.PortalAccess
		err := r.db.WithContext(ctx).
			Where("client_id = ? AND active = ?", clientID, true).
			First(&access, sess.Portal.PortalAccessID).Error
		if err == nil {
			id := access.ID
			return rules.Submitter{Name: access.DisplayName(), Email: access.Email, PortalAccessID: &id}, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return rules.Submitter{}, fmt.Errorf("failed to load portal access: %w", err)
		}
		r.logger.Debugf("Portal session %d not valid for client %d", sess.Portal.PortalAccessID, clientID)
	}

	return anonymous, nil
}
