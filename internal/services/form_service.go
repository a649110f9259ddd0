package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"supportdesk/internal/config"
	"supportdesk/internal/models"
	"supportdesk/internal/rules"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// FormService 表单构建与发布
type FormService struct {
	db     *gorm.DB
	logger *logrus.Logger
	tenant *TenantService
	cfg    config.FormsConfig
}

// NewFormService 创建表单服务
func NewFormService(db *gorm.DB, logger *logrus.Logger, tenant *TenantService, cfg config.FormsConfig) *FormService {
	if logger == nil {
		logger = logrus.New()
	}
	return &FormService{db: db, logger: logger, tenant: tenant, cfg: cfg}
}

// FormCreateRequest 创建表单请求
type FormCreateRequest struct {
	ClientID              uint                `json:"client_id" binding:"required"`
	Name                  string              `json:"name" binding:"required"`
	Slug                  string              `json:"slug"`
	Description           string              `json:"description"`
	Fields                []models.FormField  `json:"fields"`
	TicketRules           []models.TicketRule `json:"ticket_rules"`
	Published             bool                `json:"published"`
	RequireAuthentication bool                `json:"require_authentication"`
	ConfirmationMessage   string              `json:"confirmation_message"`
}

// FormUpdateRequest 更新表单请求；fields 与 ticket_rules 整体替换
type FormUpdateRequest struct {
	Name                  *string              `json:"name"`
	Description           *string              `json:"description"`
	Fields                *[]models.FormField  `json:"fields"`
	TicketRules           *[]models.TicketRule `json:"ticket_rules"`
	Published             *bool                `json:"published"`
	RequireAuthentication *bool                `json:"require_authentication"`
	ConfirmationMessage   *string              `json:"confirmation_message"`
}

// CreateForm 创建表单
func (s *FormService) CreateForm(ctx context.Context, companyID uint, req *FormCreateRequest) (*models.Form, error) {
	if _, err := s.tenant.GetClient(ctx, companyID, req.ClientID); err != nil {
		return nil, err
	}

	slug := Slugify(req.Slug)
	if slug == "" {
		slug = Slugify(req.Name)
	}
	if slug == "" {
		return nil, &FieldError{Field: "slug", Reason: "is required"}
	}

	ruleList, err := s.checkSchema(ctx, companyID, req.Fields, req.TicketRules)
	if err != nil {
		return nil, err
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Form{}).
		Where("company_id = ? AND client_id = ? AND slug = ?", companyID, req.ClientID, slug).
		Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to check form slug: %w", err)
	}
	if count > 0 {
		return nil, fmt.Errorf("form slug %q already taken: %w", slug, ErrConflict)
	}

	form := &models.Form{
		CompanyID:             companyID,
		ClientID:              req.ClientID,
		Name:                  strings.TrimSpace(req.Name),
		Slug:                  slug,
		Description:           req.Description,
		Fields:                datatypes.JSONSlice[models.FormField](req.Fields),
		TicketRules:           datatypes.JSONSlice[models.TicketRule](ruleList),
		Published:             req.Published,
		RequireAuthentication: req.RequireAuthentication,
		ConfirmationMessage:   req.ConfirmationMessage,
	}
	if form.Fields == nil {
		form.Fields = datatypes.JSONSlice[models.FormField]{}
	}
	if form.TicketRules == nil {
		form.TicketRules = datatypes.JSONSlice[models.TicketRule]{}
	}
	if err := s.db.WithContext(ctx).Create(form).Error; err != nil {
		return nil, fmt.Errorf("failed to create form: %w", err)
	}
	s.logger.Infof("Created form %d (%s) with %d fields and %d rules", form.ID, form.Slug, len(form.Fields), len(form.TicketRules))
	return form, nil
}

// checkSchema 写入前校验字段与规则，并为缺少 id 的规则生成 id
func (s *FormService) checkSchema(ctx context.Context, companyID uint, fields []models.FormField, ruleList []models.TicketRule) ([]models.TicketRule, error) {
	if s.cfg.MaxFieldsPerForm > 0 && len(fields) > s.cfg.MaxFieldsPerForm {
		return nil, &FieldError{Field: "fields", Reason: fmt.Sprintf("at most %d fields allowed", s.cfg.MaxFieldsPerForm)}
	}
	if s.cfg.MaxRulesPerForm > 0 && len(ruleList) > s.cfg.MaxRulesPerForm {
		return nil, &FieldError{Field: "ticket_rules", Reason: fmt.Sprintf("at most %d rules allowed", s.cfg.MaxRulesPerForm)}
	}
	if err := rules.ValidateFields(fields); err != nil {
		return nil, schemaError(err)
	}
	if err := rules.ValidateRules(fields, ruleList); err != nil {
		return nil, schemaError(err)
	}

	out := make([]models.TicketRule, len(ruleList))
	for i, r := range ruleList {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if r.AssignTo != nil && *r.AssignTo != 0 {
			if _, err := s.tenant.GetMembership(ctx, companyID, *r.AssignTo); err != nil {
				if errors.Is(err, ErrNotFound) {
					return nil, &FieldError{Field: fmt.Sprintf("ticket_rules[%d].assign_to", i), Reason: "is not a member of this company"}
				}
				return nil, err
			}
		}
		out[i] = r
	}
	return out, nil
}

func schemaError(err error) error {
	var se *rules.SchemaError
	if errors.As(err, &se) {
		return &FieldError{Field: se.Path, Reason: se.Reason}
	}
	return fmt.Errorf("%w: %v", ErrBadRequest, err)
}

// GetForm 获取表单
func (s *FormService) GetForm(ctx context.Context, companyID, formID uint) (*models.Form, error) {
	var form models.Form
	if err := s.db.WithContext(ctx).Where("company_id = ?", companyID).First(&form, formID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("form")
		}
		return nil, fmt.Errorf("failed to get form: %w", err)
	}
	return &form, nil
}

// ListForms 列出表单，可按客户组织过滤
func (s *FormService) ListForms(ctx context.Context, companyID uint, clientID *uint) ([]models.Form, error) {
	q := s.db.WithContext(ctx).Where("company_id = ?", companyID)
	if clientID != nil {
		q = q.Where("client_id = ?", *clientID)
	}
	var forms []models.Form
	if err := q.Order("created_at DESC").Find(&forms).Error; err != nil {
		return nil, fmt.Errorf("failed to list forms: %w", err)
	}
	return forms, nil
}

// UpdateForm 更新表单
func (s *FormService) UpdateForm(ctx context.Context, companyID, formID uint, req *FormUpdateRequest) (*models.Form, error) {
	form, err := s.GetForm(ctx, companyID, formID)
	if err != nil {
		return nil, err
	}

	fields := []models.FormField(form.Fields)
	if req.Fields != nil {
		fields = *req.Fields
	}
	updates := map[string]interface{}{}
	// 字段或规则任一变化都要重新校验规则引用
	if req.Fields != nil || req.TicketRules != nil {
		ruleList := []models.TicketRule(form.TicketRules)
		if req.TicketRules != nil {
			ruleList = *req.TicketRules
		}
		if req.TicketRules == nil {
			// 仅修改字段时，已保存规则的悬空引用不阻止保存
			if err := rules.ValidateFields(fields); err != nil {
				return nil, schemaError(err)
			}
		} else {
			checked, err := s.checkSchema(ctx, companyID, fields, ruleList)
			if err != nil {
				return nil, err
			}
			ruleList = checked
		}
		updates["fields"] = datatypes.JSONSlice[models.FormField](fields)
		updates["ticket_rules"] = datatypes.JSONSlice[models.TicketRule](ruleList)
	}
	if req.Name != nil {
		updates["name"] = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.Published != nil {
		updates["published"] = *req.Published
	}
	if req.RequireAuthentication != nil {
		updates["require_authentication"] = *req.RequireAuthentication
	}
	if req.ConfirmationMessage != nil {
		updates["confirmation_message"] = *req.ConfirmationMessage
	}

	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(form).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("failed to update form: %w", err)
		}
	}
	s.logger.Infof("Updated form %d", formID)
	return s.GetForm(ctx, companyID, formID)
}

// DeleteForm 删除表单；已有提交记录保留
func (s *FormService) DeleteForm(ctx context.Context, companyID, formID uint) error {
	res := s.db.WithContext(ctx).Where("company_id = ?", companyID).Delete(&models.Form{}, formID)
	if res.Error != nil {
		return fmt.Errorf("failed to delete form: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound("form")
	}
	return nil
}

// GetPublishedForm 按 公司/客户/表单 slug 查找已发布表单；未发布视为不存在
func (s *FormService) GetPublishedForm(ctx context.Context, companySlug, clientSlug, formSlug string) (*models.Form, *models.Client, error) {
	company, client, err := s.tenant.ResolveClient(ctx, companySlug, clientSlug)
	if err != nil {
		return nil, nil, err
	}
	var form models.Form
	err = s.db.WithContext(ctx).
		Where("company_id = ? AND client_id = ? AND slug = ? AND published = ?", company.ID, client.ID, formSlug, true).
		First(&form).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, notFound("form")
		}
		return nil, nil, fmt.Errorf("failed to get form: %w", err)
	}
	return &form, client, nil
}

// ConfirmationMessage 表单未配置时使用默认确认语
func (s *FormService) ConfirmationMessage(form *models.Form) string {
	if strings.TrimSpace(form.ConfirmationMessage) != "" {
		return form.ConfirmationMessage
	}
	if s.cfg.DefaultConfirmationMessage != "" {
		return s.cfg.DefaultConfirmationMessage
	}
	return "Thank you! Your response has been submitted."
}
