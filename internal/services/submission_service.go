package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"supportdesk/internal/metrics"
	"supportdesk/internal/models"
	"supportdesk/internal/rules"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SubmissionService 表单提交处理：校验、保存、按规则生成工单
type SubmissionService struct {
	db       *gorm.DB
	logger   *logrus.Logger
	forms    *FormService
	identity *IdentityResolver
	tickets  *TicketService
	tracer   trace.Tracer
}

// NewSubmissionService 创建提交服务
func NewSubmissionService(db *gorm.DB, logger *logrus.Logger, forms *FormService, identity *IdentityResolver, tickets *TicketService) *SubmissionService {
	if logger == nil {
		logger = logrus.New()
	}
	return &SubmissionService{
		db:       db,
		logger:   logger,
		forms:    forms,
		identity: identity,
		tickets:  tickets,
		tracer:   otel.Tracer("supportdesk.submissions"),
	}
}

// SubmitRequest 表单提交请求；slug 来自路由
type SubmitRequest struct {
	CompanySlug string                 `json:"-"`
	ClientSlug  string                 `json:"-"`
	FormSlug    string                 `json:"-"`
	Data        map[string]interface{} `json:"data"`
	Contact     *Contact               `json:"contact"`
	Description string                 `json:"description"`
}

// SubmissionResult 提交结果
type SubmissionResult struct {
	Success       bool   `json:"success"`
	SubmissionID  uint   `json:"submission_id"`
	TicketCreated bool   `json:"ticket_created"`
	TicketID      *uint  `json:"ticket_id,omitempty"`
	Message       string `json:"message"`
}

// SubmissionListRequest 提交记录列表请求
type SubmissionListRequest struct {
	Page      int   `form:"page,default=1"`
	PageSize  int   `form:"page_size,default=20"`
	FormID    *uint `form:"form_id"`
	HasTicket *bool `form:"has_ticket"`
}

// Submit 处理一次表单提交。校验失败时不写入任何数据；
// 提交记录、工单与 ticket_id 回填在同一事务内完成
func (s *SubmissionService) Submit(ctx context.Context, req *SubmitRequest, sess Session) (*SubmissionResult, error) {
	ctx, span := s.tracer.Start(ctx, "submission.submit")
	defer span.End()
	span.SetAttributes(
		attribute.String("form.company", req.CompanySlug),
		attribute.String("form.client", req.ClientSlug),
		attribute.String("form.slug", req.FormSlug),
	)

	form, _, err := s.forms.GetPublishedForm(ctx, req.CompanySlug, req.ClientSlug, req.FormSlug)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int64("form.id", int64(form.ID)))

	var contact Contact
	if req.Contact != nil {
		contact = *req.Contact
	}
	who, err := s.identity.ResolveSubmitter(ctx, sess, form.CompanyID, form.ClientID, contact)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if form.RequireAuthentication && who.Anonymous() {
		return nil, fmt.Errorf("%w: form %q requires authentication", ErrUnauthorized, form.Slug)
	}

	data := req.Data
	if data == nil {
		data = map[string]interface{}{}
	}
	if err := rules.ValidateSubmission(form, data); err != nil {
		var ie *rules.InputError
		if errors.As(err, &ie) {
			return nil, &FieldError{Field: ie.Label, Reason: ie.Reason}
		}
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}

	sub := &models.FormSubmission{
		CompanyID:         form.CompanyID,
		FormID:            form.ID,
		SubmitterName:     who.Name,
		SubmitterEmail:    who.Email,
		SubmittedByUserID: who.StaffUserID,
		PortalAccessID:    who.PortalAccessID,
		Data:              datatypes.JSONMap(data),
		Description:       strings.TrimSpace(req.Description),
	}

	var ticket *models.Ticket
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(sub).Error; err != nil {
			return fmt.Errorf("failed to save submission: %w", err)
		}
		draft := rules.FirstTicket(form, sub, who)
		if draft == nil {
			return nil
		}
		metrics.IncRuleMatch()
		span.SetAttributes(attribute.String("rule.id", draft.RuleID))

		t, err := s.tickets.WithTx(tx).CreateFromDraft(ctx, draft)
		if err != nil {
			return err
		}
		if err := tx.Model(sub).Update("ticket_id", t.ID).Error; err != nil {
			return fmt.Errorf("failed to link ticket: %w", err)
		}
		sub.TicketID = &t.ID
		ticket = t
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	metrics.IncFormSubmission()
	result := &SubmissionResult{
		Success:      true,
		SubmissionID: sub.ID,
		Message:      s.forms.ConfirmationMessage(form),
	}
	if ticket != nil {
		s.tickets.Notify(ticket.CompanyID, EventTicketCreated, ticket)
		result.TicketCreated = true
		result.TicketID = &ticket.ID
		s.logger.Infof("Submission %d on form %s created ticket %d", sub.ID, form.Slug, ticket.ID)
	} else {
		s.logger.Infof("Submission %d on form %s stored, no rule matched", sub.ID, form.Slug)
	}
	span.SetAttributes(
		attribute.Int64("submission.id", int64(sub.ID)),
		attribute.Bool("submission.ticket_created", result.TicketCreated),
	)
	return result, nil
}

// CreateTicketFromSubmission 手动为提交记录生成工单；已有工单时返回 ErrConflict。
// 优先使用第一条命中的规则，否则按表单默认主题创建
func (s *SubmissionService) CreateTicketFromSubmission(ctx context.Context, companyID, submissionID, userID uint) (*models.Ticket, error) {
	ctx, span := s.tracer.Start(ctx, "submission.create_ticket")
	defer span.End()
	span.SetAttributes(attribute.Int64("submission.id", int64(submissionID)))

	sub, err := s.GetSubmission(ctx, companyID, submissionID)
	if err != nil {
		return nil, err
	}
	if sub.TicketID != nil {
		return nil, fmt.Errorf("submission %d already has ticket %d: %w", sub.ID, *sub.TicketID, ErrConflict)
	}
	if sub.Form == nil {
		return nil, notFound("form")
	}

	who := rules.Submitter{
		Name:           sub.SubmitterName,
		Email:          sub.SubmitterEmail,
		StaffUserID:    sub.SubmittedByUserID,
		PortalAccessID: sub.PortalAccessID,
	}
	rule, ok := rules.FirstMatch(sub.Form, map[string]any(sub.Data))
	if !ok {
		rule = models.TicketRule{CreateTicket: true}
	}
	draft := rules.BuildTicket(rule, sub, sub.Form, who)
	if draft.CreatedByID == nil {
		draft.CreatedByID = nonZero(userID)
	}

	var ticket *models.Ticket
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := s.tickets.WithTx(tx).CreateFromDraft(ctx, draft)
		if err != nil {
			return err
		}
		// 条件更新保证每条提交最多关联一个工单
		res := tx.Model(&models.FormSubmission{}).
			Where("id = ? AND ticket_id IS NULL", sub.ID).
			Update("ticket_id", t.ID)
		if res.Error != nil {
			return fmt.Errorf("failed to link ticket: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("submission %d already has a ticket: %w", sub.ID, ErrConflict)
		}
		ticket = t
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.tickets.Notify(ticket.CompanyID, EventTicketCreated, ticket)
	s.logger.Infof("Created ticket %d from submission %d", ticket.ID, sub.ID)
	return ticket, nil
}

// GetSubmission 获取提交记录（含表单）
func (s *SubmissionService) GetSubmission(ctx context.Context, companyID, submissionID uint) (*models.FormSubmission, error) {
	var sub models.FormSubmission
	err := s.db.WithContext(ctx).Preload("Form").
		Where("company_id = ?", companyID).
		First(&sub, submissionID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("submission")
		}
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}
	return &sub, nil
}

// ListSubmissions 列出提交记录
func (s *SubmissionService) ListSubmissions(ctx context.Context, companyID uint, req *SubmissionListRequest) ([]models.FormSubmission, int64, error) {
	page, size := normalizePage(req.Page, req.PageSize)
	q := s.db.WithContext(ctx).Model(&models.FormSubmission{}).Where("company_id = ?", companyID)
	if req.FormID != nil {
		q = q.Where("form_id = ?", *req.FormID)
	}
	if req.HasTicket != nil {
		if *req.HasTicket {
			q = q.Where("ticket_id IS NOT NULL")
		} else {
			q = q.Where("ticket_id IS NULL")
		}
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count submissions: %w", err)
	}
	var list []models.FormSubmission
	if err := q.Order("created_at DESC, id DESC").Offset((page - 1) * size).Limit(size).Find(&list).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list submissions: %w", err)
	}
	return list, total, nil
}

// GetSubmissionForTicket 通过外部关联查找工单的来源提交
func (s *SubmissionService) GetSubmissionForTicket(ctx context.Context, companyID, ticketID uint) (*models.FormSubmission, error) {
	ticket, err := s.tickets.GetTicket(ctx, companyID, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.ExternalType != models.ExternalTypeFormSubmission {
		return nil, notFound("submission")
	}
	id, err := strconv.ParseUint(ticket.ExternalID, 10, 64)
	if err != nil {
		return nil, notFound("submission")
	}
	return s.GetSubmission(ctx, companyID, uint(id))
}
