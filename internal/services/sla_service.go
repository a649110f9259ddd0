package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"supportdesk/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// SLAService SLA 策略与到期时间计算
type SLAService struct {
	db     *gorm.DB
	logger *logrus.Logger
	tracer trace.Tracer
}

// NewSLAService 创建SLA服务
func NewSLAService(db *gorm.DB, logger *logrus.Logger) *SLAService {
	if logger == nil {
		logger = logrus.New()
	}

	return &SLAService{
		db:     db,
		logger: logger,
		tracer: otel.Tracer("supportdesk.sla"),
	}
}

// WithTx 返回绑定到事务的副本
func (s *SLAService) WithTx(tx *gorm.DB) *SLAService {
	cp := *s
	cp.db = tx
	return &cp
}

// SLAPolicyCreateRequest 创建SLA策略请求
type SLAPolicyCreateRequest struct {
	Name                 string `json:"name" binding:"required"`
	Priority             string `json:"priority" binding:"required"`                         // low, medium, high, urgent
	FirstResponseMinutes int    `json:"first_response_minutes" binding:"required,min=1"` // 分钟
	ResolutionMinutes    int    `json:"resolution_minutes" binding:"required,min=1"`     // 分钟
	Active               *bool  `json:"active"`
}

// SLAPolicyUpdateRequest 更新SLA策略请求
type SLAPolicyUpdateRequest struct {
	Name                 *string `json:"name"`
	Priority             *string `json:"priority"`
	FirstResponseMinutes *int    `json:"first_response_minutes"`
	ResolutionMinutes    *int    `json:"resolution_minutes"`
	Active               *bool   `json:"active"`
}

// SLAPolicyListRequest SLA策略列表请求
type SLAPolicyListRequest struct {
	Page     int      `form:"page,default=1"`
	PageSize int      `form:"page_size,default=20"`
	Priority []string `form:"priority"`
	Active   *bool    `form:"active"`
}

// SLABreach 逾期工单
type SLABreach struct {
	TicketID  uint          `json:"ticket_id"`
	Subject   string        `json:"subject"`
	Priority  string        `json:"priority"`
	Kind      string        `json:"kind"` // first_response, resolution
	DueAt     time.Time     `json:"due_at"`
	OverdueBy time.Duration `json:"overdue_by"`
}

// CreatePolicy 创建SLA策略
func (s *SLAService) CreatePolicy(ctx context.Context, companyID uint, req *SLAPolicyCreateRequest) (*models.SLAPolicy, error) {
	ctx, span := s.tracer.Start(ctx, "sla.create_policy")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("company.id", int64(companyID)),
		attribute.String("sla.policy.priority", req.Priority),
		attribute.Int("sla.policy.first_response_minutes", req.FirstResponseMinutes),
		attribute.Int("sla.policy.resolution_minutes", req.ResolutionMinutes),
	)

	if !models.ValidPriority(req.Priority) {
		return nil, &FieldError{Field: "priority", Reason: fmt.Sprintf("invalid priority %q", req.Priority)}
	}
	// 验证时间逻辑
	if req.FirstResponseMinutes >= req.ResolutionMinutes {
		return nil, &FieldError{Field: "first_response_minutes", Reason: "must be less than resolution_minutes"}
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	if active {
		if err := s.ensureNoActive(ctx, companyID, req.Priority, 0); err != nil {
			return nil, err
		}
	}

	policy := &models.SLAPolicy{
		CompanyID:            companyID,
		Name:                 req.Name,
		Priority:             req.Priority,
		FirstResponseMinutes: req.FirstResponseMinutes,
		ResolutionMinutes:    req.ResolutionMinutes,
		Active:               active,
	}
	if err := s.db.WithContext(ctx).Create(policy).Error; err != nil {
		span.RecordError(err)
		s.logger.Errorf("Failed to create SLA policy: %v", err)
		return nil, fmt.Errorf("failed to create SLA policy: %w", err)
	}

	s.logger.Infof("Created SLA policy %d: company=%d priority=%s first_response=%dm resolution=%dm",
		policy.ID, companyID, req.Priority, req.FirstResponseMinutes, req.ResolutionMinutes)
	return policy, nil
}

// ensureNoActive 同一公司同一优先级只允许一条启用策略
func (s *SLAService) ensureNoActive(ctx context.Context, companyID uint, priority string, exceptID uint) error {
	var count int64
	q := s.db.WithContext(ctx).Model(&models.SLAPolicy{}).
		Where("company_id = ? AND priority = ? AND active = ?", companyID, priority, true)
	if exceptID != 0 {
		q = q.Where("id <> ?", exceptID)
	}
	if err := q.Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check existing policy: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("active SLA policy for priority %q already exists: %w", priority, ErrConflict)
	}
	return nil
}

// GetPolicy 获取SLA策略
func (s *SLAService) GetPolicy(ctx context.Context, companyID, id uint) (*models.SLAPolicy, error) {
	ctx, span := s.tracer.Start(ctx, "sla.get_policy")
	defer span.End()

	span.SetAttributes(attribute.Int64("sla.policy.id", int64(id)))

	var policy models.SLAPolicy
	if err := s.db.WithContext(ctx).Where("company_id = ?", companyID).First(&policy, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("SLA policy")
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get SLA policy: %w", err)
	}
	return &policy, nil
}

// ListPolicies 获取SLA策略列表
func (s *SLAService) ListPolicies(ctx context.Context, companyID uint, req *SLAPolicyListRequest) ([]models.SLAPolicy, int64, error) {
	ctx, span := s.tracer.Start(ctx, "sla.list_policies")
	defer span.End()

	query := s.db.WithContext(ctx).Model(&models.SLAPolicy{}).Where("company_id = ?", companyID)
	if len(req.Priority) > 0 {
		query = query.Where("priority IN ?", req.Priority)
	}
	if req.Active != nil {
		query = query.Where("active = ?", *req.Active)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		span.RecordError(err)
		return nil, 0, fmt.Errorf("failed to count SLA policies: %w", err)
	}

	page, size := normalizePage(req.Page, req.PageSize)
	var policies []models.SLAPolicy
	if err := query.Order("created_at DESC").Offset((page - 1) * size).Limit(size).Find(&policies).Error; err != nil {
		span.RecordError(err)
		return nil, 0, fmt.Errorf("failed to list SLA policies: %w", err)
	}

	span.SetAttributes(attribute.Int64("sla.policies.total", total))
	return policies, total, nil
}

// UpdatePolicy 更新SLA策略
func (s *SLAService) UpdatePolicy(ctx context.Context, companyID, id uint, req *SLAPolicyUpdateRequest) (*models.SLAPolicy, error) {
	ctx, span := s.tracer.Start(ctx, "sla.update_policy")
	defer span.End()

	span.SetAttributes(attribute.Int64("sla.policy.id", int64(id)))

	policy, err := s.GetPolicy(ctx, companyID, id)
	if err != nil {
		return nil, err
	}

	// 合并后再校验
	merged := *policy
	updates := map[string]interface{}{}
	if req.Name != nil {
		merged.Name = *req.Name
		updates["name"] = *req.Name
	}
	if req.Priority != nil {
		if !models.ValidPriority(*req.Priority) {
			return nil, &FieldError{Field: "priority", Reason: fmt.Sprintf("invalid priority %q", *req.Priority)}
		}
		merged.Priority = *req.Priority
		updates["priority"] = *req.Priority
	}
	if req.FirstResponseMinutes != nil {
		merged.FirstResponseMinutes = *req.FirstResponseMinutes
		updates["first_response_minutes"] = *req.FirstResponseMinutes
	}
	if req.ResolutionMinutes != nil {
		merged.ResolutionMinutes = *req.ResolutionMinutes
		updates["resolution_minutes"] = *req.ResolutionMinutes
	}
	if req.Active != nil {
		merged.Active = *req.Active
		updates["active"] = *req.Active
	}
	if merged.FirstResponseMinutes < 1 || merged.FirstResponseMinutes >= merged.ResolutionMinutes {
		return nil, &FieldError{Field: "first_response_minutes", Reason: "must be positive and less than resolution_minutes"}
	}
	if merged.Active {
		if err := s.ensureNoActive(ctx, companyID, merged.Priority, id); err != nil {
			return nil, err
		}
	}

	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(policy).Updates(updates).Error; err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to update SLA policy: %w", err)
		}
	}
	s.logger.Infof("Updated SLA policy %d", id)
	return s.GetPolicy(ctx, companyID, id)
}

// DeletePolicy 删除SLA策略；已计算的工单到期时间保持不变
func (s *SLAService) DeletePolicy(ctx context.Context, companyID, id uint) error {
	ctx, span := s.tracer.Start(ctx, "sla.delete_policy")
	defer span.End()

	res := s.db.WithContext(ctx).Where("company_id = ?", companyID).Delete(&models.SLAPolicy{}, id)
	if res.Error != nil {
		span.RecordError(res.Error)
		return fmt.Errorf("failed to delete SLA policy: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound("SLA policy")
	}
	s.logger.Infof("Deleted SLA policy %d", id)
	return nil
}

// ActivePolicyFor 返回公司在该优先级下启用的策略，没有时返回 nil
func (s *SLAService) ActivePolicyFor(ctx context.Context, companyID uint, priority string) (*models.SLAPolicy, error) {
	var policy models.SLAPolicy
	err := s.db.WithContext(ctx).
		Where("company_id = ? AND priority = ? AND active = ?", companyID, priority, true).
		First(&policy).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load SLA policy: %w", err)
	}
	return &policy, nil
}

// ApplyPolicy 按工单优先级计算首次响应与解决到期时间（以创建时间为起点）
func (s *SLAService) ApplyPolicy(ctx context.Context, ticket *models.Ticket) error {
	ctx, span := s.tracer.Start(ctx, "sla.apply_policy")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("ticket.id", int64(ticket.ID)),
		attribute.String("ticket.priority", ticket.Priority),
	)

	policy, err := s.ActivePolicyFor(ctx, ticket.CompanyID, ticket.Priority)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if policy == nil {
		ticket.SLAPolicyID = nil
		ticket.FirstResponseDueAt = nil
		ticket.ResolutionDueAt = nil
		return nil
	}

	start := ticket.CreatedAt
	if start.IsZero() {
		start = time.Now()
	}
	firstDue := start.Add(time.Duration(policy.FirstResponseMinutes) * time.Minute)
	resolveDue := start.Add(time.Duration(policy.ResolutionMinutes) * time.Minute)
	ticket.SLAPolicyID = &policy.ID
	ticket.FirstResponseDueAt = &firstDue
	ticket.ResolutionDueAt = &resolveDue
	return nil
}

// ListBreaches 列出已逾期且未完成的工单
func (s *SLAService) ListBreaches(ctx context.Context, companyID uint, now time.Time) ([]SLABreach, error) {
	ctx, span := s.tracer.Start(ctx, "sla.list_breaches")
	defer span.End()

	var tickets []models.Ticket
	err := s.db.WithContext(ctx).
		Where("company_id = ? AND status NOT IN ?", companyID, []string{models.TicketStatusResolved, models.TicketStatusClosed}).
		Where("(first_responded_at IS NULL AND first_response_due_at < ?) OR resolution_due_at < ?", now, now).
		Order("id ASC").
		Find(&tickets).Error
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list SLA breaches: %w", err)
	}

	var breaches []SLABreach
	for _, t := range tickets {
		if t.FirstRespondedAt == nil && t.FirstResponseDueAt != nil && t.FirstResponseDueAt.Before(now) {
			breaches = append(breaches, SLABreach{
				TicketID: t.ID, Subject: t.Subject, Priority: t.Priority,
				Kind: "first_response", DueAt: *t.FirstResponseDueAt, OverdueBy: now.Sub(*t.FirstResponseDueAt),
			})
		}
		if t.ResolutionDueAt != nil && t.ResolutionDueAt.Before(now) {
			breaches = append(breaches, SLABreach{
				TicketID: t.ID, Subject: t.Subject, Priority: t.Priority,
				Kind: "resolution", DueAt: *t.ResolutionDueAt, OverdueBy: now.Sub(*t.ResolutionDueAt),
			})
		}
	}
	span.SetAttributes(attribute.Int("sla.breaches", len(breaches)))
	return breaches, nil
}

func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}
	if size > 100 {
		size = 100
	}
	return page, size
}
