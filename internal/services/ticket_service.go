package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"supportdesk/internal/metrics"
	"supportdesk/internal/models"
	"supportdesk/internal/rules"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// TicketService 工单管理服务
type TicketService struct {
	db         *gorm.DB
	logger     *logrus.Logger
	slaService *SLAService
	hub        *EventHub
	inTx       bool
}

// NewTicketService 创建工单服务
func NewTicketService(db *gorm.DB, logger *logrus.Logger, slaService *SLAService) *TicketService {
	if logger == nil {
		logger = logrus.New()
	}

	return &TicketService{
		db:         db,
		logger:     logger,
		slaService: slaService,
	}
}

// SetEventHub 注入实时事件中心（可选）
func (s *TicketService) SetEventHub(hub *EventHub) {
	s.hub = hub
}

// WithTx 返回绑定到事务的副本；事务内不推送事件，由调用方提交后调用 Notify
func (s *TicketService) WithTx(tx *gorm.DB) *TicketService {
	cp := *s
	cp.db = tx
	cp.inTx = true
	if s.slaService != nil {
		cp.slaService = s.slaService.WithTx(tx)
	}
	return &cp
}

// TicketCreateRequest 创建工单请求
type TicketCreateRequest struct {
	ClientID       uint   `json:"client_id" binding:"required"`
	Subject        string `json:"subject" binding:"required"`
	Description    string `json:"description"`
	Priority       string `json:"priority"`
	Source         string `json:"source"`
	AssigneeID     *uint  `json:"assignee_id"`
	RequesterName  string `json:"requester_name"`
	RequesterEmail string `json:"requester_email"`

	// 以下字段由服务端填充
	CompanyID      uint   `json:"-"`
	PortalAccessID *uint  `json:"-"`
	CreatedByID    *uint  `json:"-"`
	ExternalID     string `json:"-"`
	ExternalType   string `json:"-"`
}

// TicketUpdateRequest 更新工单请求
type TicketUpdateRequest struct {
	Subject     *string `json:"subject"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
	Priority    *string `json:"priority"`
	AssigneeID  *uint   `json:"assignee_id"`
}

// TicketListRequest 工单列表请求
type TicketListRequest struct {
	Page           int      `form:"page,default=1"`
	PageSize       int      `form:"page_size,default=20"`
	Status         []string `form:"status"`
	Priority       []string `form:"priority"`
	Source         []string `form:"source"`
	ClientID       *uint    `form:"client_id"`
	AssigneeID     *uint    `form:"assignee_id"`
	PortalAccessID *uint    `form:"-"`
	Search         string   `form:"search"`
	SortBy         string   `form:"sort_by,default=created_at"`
	SortOrder      string   `form:"sort_order,default=desc"`
}

// CommentCreateRequest 添加评论请求
type CommentCreateRequest struct {
	Body     string `json:"body" binding:"required"`
	Internal bool   `json:"internal"`
}

// CommentAuthor 评论作者；员工与门户用户二选一，都为空表示外部来源（如邮件）
type CommentAuthor struct {
	UserID         *uint
	PortalAccessID *uint
	Name           string
	Email          string
	Source         string
	ExternalID     string
}

var ticketSortFields = map[string]bool{
	"created_at": true, "updated_at": true, "priority": true, "status": true, "id": true,
}

// CreateTicket 创建工单
func (s *TicketService) CreateTicket(ctx context.Context, req *TicketCreateRequest) (*models.Ticket, error) {
	if strings.TrimSpace(req.Subject) == "" {
		return nil, &FieldError{Field: "subject", Reason: "is required"}
	}
	// 验证客户组织属于该公司
	var client models.Client
	if err := s.db.WithContext(ctx).Where("company_id = ?", req.CompanyID).First(&client, req.ClientID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("client")
		}
		return nil, fmt.Errorf("failed to load client: %w", err)
	}

	// 设置默认值
	if req.Priority == "" {
		req.Priority = models.PriorityMedium
	}
	if !models.ValidPriority(req.Priority) {
		return nil, &FieldError{Field: "priority", Reason: fmt.Sprintf("invalid priority %q", req.Priority)}
	}
	if req.Source == "" {
		req.Source = models.SourceWeb
	}
	if req.AssigneeID != nil {
		if err := s.ensureStaff(ctx, req.CompanyID, *req.AssigneeID); err != nil {
			return nil, err
		}
	}

	ticket := &models.Ticket{
		CompanyID:      req.CompanyID,
		ClientID:       req.ClientID,
		Subject:        strings.TrimSpace(req.Subject),
		Description:    req.Description,
		Status:         models.TicketStatusOpen,
		Priority:       req.Priority,
		Source:         req.Source,
		AssigneeID:     req.AssigneeID,
		PortalAccessID: req.PortalAccessID,
		CreatedByID:    req.CreatedByID,
		RequesterName:  req.RequesterName,
		RequesterEmail: strings.ToLower(strings.TrimSpace(req.RequesterEmail)),
		ExternalID:     req.ExternalID,
		ExternalType:   req.ExternalType,
		CreatedAt:      time.Now(),
	}
	if s.slaService != nil {
		if err := s.slaService.ApplyPolicy(ctx, ticket); err != nil {
			return nil, err
		}
	}

	if err := s.db.WithContext(ctx).Create(ticket).Error; err != nil {
		return nil, fmt.Errorf("failed to create ticket: %w", err)
	}

	// 记录状态变更历史
	if err := s.recordStatusChange(ctx, ticket.ID, req.CreatedByID, "", models.TicketStatusOpen, "ticket created"); err != nil {
		return nil, err
	}

	metrics.IncTicketCreated(ticket.Source)
	s.logger.Infof("Created ticket %d for client %d (source %s)", ticket.ID, ticket.ClientID, ticket.Source)

	if !s.inTx {
		s.Notify(ticket.CompanyID, EventTicketCreated, ticket)
	}
	return ticket, nil
}

// CreateFromDraft 由规则生成的草稿创建工单
func (s *TicketService) CreateFromDraft(ctx context.Context, draft *rules.TicketDraft) (*models.Ticket, error) {
	return s.CreateTicket(ctx, &TicketCreateRequest{
		CompanyID:      draft.CompanyID,
		ClientID:       draft.ClientID,
		Subject:        draft.Subject,
		Description:    draft.Description,
		Priority:       draft.Priority,
		Source:         draft.Source,
		AssigneeID:     draft.AssigneeID,
		PortalAccessID: draft.PortalAccessID,
		CreatedByID:    draft.CreatedByID,
		RequesterName:  draft.RequesterName,
		RequesterEmail: draft.RequesterEmail,
		ExternalID:     draft.ExternalID,
		ExternalType:   draft.ExternalType,
	})
}

// Notify 推送工单事件
func (s *TicketService) Notify(companyID uint, eventType string, data interface{}) {
	if s.hub != nil {
		s.hub.Publish(companyID, eventType, data)
	}
}

// GetTicket 根据ID获取工单（含评论、附件与状态历史）
func (s *TicketService) GetTicket(ctx context.Context, companyID, ticketID uint) (*models.Ticket, error) {
	var ticket models.Ticket
	err := s.db.WithContext(ctx).
		Preload("Client").
		Preload("Assignee").
		Preload("Comments", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC, id ASC").Preload("Attachments")
		}).
		Preload("Attachments").
		Preload("StatusHistory", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC, id ASC")
		}).
		Where("company_id = ?", companyID).
		First(&ticket, ticketID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("ticket")
		}
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}
	return &ticket, nil
}

// GetTicketForPortal 门户用户只能查看本客户组织的工单，且看不到内部备注
func (s *TicketService) GetTicketForPortal(ctx context.Context, companyID, clientID, ticketID uint) (*models.Ticket, error) {
	ticket, err := s.GetTicket(ctx, companyID, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.ClientID != clientID {
		return nil, notFound("ticket")
	}
	public := ticket.Comments[:0]
	visible := map[uint]bool{}
	for _, c := range ticket.Comments {
		if !c.Internal {
			public = append(public, c)
			visible[c.ID] = true
		}
	}
	ticket.Comments = public
	files := ticket.Attachments[:0]
	for _, a := range ticket.Attachments {
		if a.CommentID == nil || visible[*a.CommentID] {
			files = append(files, a)
		}
	}
	ticket.Attachments = files
	ticket.StatusHistory = nil
	return ticket, nil
}

// FindByExternal 按外部关联查找工单
func (s *TicketService) FindByExternal(ctx context.Context, companyID uint, externalType, externalID string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := s.db.WithContext(ctx).
		Where("company_id = ? AND external_type = ? AND external_id = ?", companyID, externalType, externalID).
		First(&ticket).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("ticket")
		}
		return nil, fmt.Errorf("failed to find ticket: %w", err)
	}
	return &ticket, nil
}

// ListTickets 获取工单列表
func (s *TicketService) ListTickets(ctx context.Context, companyID uint, req *TicketListRequest) ([]models.Ticket, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Ticket{}).Where("company_id = ?", companyID)

	// 应用过滤条件
	if len(req.Status) > 0 {
		query = query.Where("status IN ?", req.Status)
	}
	if len(req.Priority) > 0 {
		query = query.Where("priority IN ?", req.Priority)
	}
	if len(req.Source) > 0 {
		query = query.Where("source IN ?", req.Source)
	}
	if req.ClientID != nil {
		query = query.Where("client_id = ?", *req.ClientID)
	}
	if req.AssigneeID != nil {
		query = query.Where("assignee_id = ?", *req.AssigneeID)
	}
	if req.PortalAccessID != nil {
		query = query.Where("portal_access_id = ?", *req.PortalAccessID)
	}

	// 搜索条件
	if search := strings.TrimSpace(req.Search); search != "" {
		searchTerm := "%" + strings.ToLower(search) + "%"
		query = query.Where("LOWER(subject) LIKE ? OR LOWER(description) LIKE ? OR LOWER(requester_email) LIKE ?",
			searchTerm, searchTerm, searchTerm)
	}

	// 获取总数
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count tickets: %w", err)
	}

	// 排序
	sortBy := req.SortBy
	if !ticketSortFields[sortBy] {
		sortBy = "created_at"
	}
	sortOrder := strings.ToLower(req.SortOrder)
	if sortOrder != "asc" {
		sortOrder = "desc"
	}

	// 分页
	page, size := normalizePage(req.Page, req.PageSize)
	var tickets []models.Ticket
	if err := query.Preload("Client").
		Order(fmt.Sprintf("%s %s, id %s", sortBy, sortOrder, sortOrder)).
		Offset((page - 1) * size).Limit(size).
		Find(&tickets).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list tickets: %w", err)
	}

	return tickets, total, nil
}

// UpdateTicket 更新工单
func (s *TicketService) UpdateTicket(ctx context.Context, companyID, ticketID uint, req *TicketUpdateRequest, userID uint) (*models.Ticket, error) {
	oldTicket, err := s.GetTicket(ctx, companyID, ticketID)
	if err != nil {
		return nil, err
	}

	updates := make(map[string]interface{})
	if req.Subject != nil {
		if strings.TrimSpace(*req.Subject) == "" {
			return nil, &FieldError{Field: "subject", Reason: "is required"}
		}
		updates["subject"] = strings.TrimSpace(*req.Subject)
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.AssigneeID != nil {
		if *req.AssigneeID == 0 {
			updates["assignee_id"] = nil
		} else {
			if err := s.ensureStaff(ctx, companyID, *req.AssigneeID); err != nil {
				return nil, err
			}
			updates["assignee_id"] = *req.AssigneeID
		}
	}

	priorityChanged := false
	if req.Priority != nil && *req.Priority != oldTicket.Priority {
		if !models.ValidPriority(*req.Priority) {
			return nil, &FieldError{Field: "priority", Reason: fmt.Sprintf("invalid priority %q", *req.Priority)}
		}
		updates["priority"] = *req.Priority
		priorityChanged = true
	}

	statusChanged := false
	if req.Status != nil && *req.Status != oldTicket.Status {
		if !models.ValidStatus(*req.Status) {
			return nil, &FieldError{Field: "status", Reason: fmt.Sprintf("invalid status %q", *req.Status)}
		}
		updates["status"] = *req.Status
		statusChanged = true

		// 设置特殊状态的时间戳
		now := time.Now()
		switch *req.Status {
		case models.TicketStatusResolved:
			updates["resolved_at"] = &now
		case models.TicketStatusClosed:
			updates["closed_at"] = &now
			if oldTicket.ResolvedAt == nil {
				updates["resolved_at"] = &now
			}
		default:
			// 重新打开
			updates["resolved_at"] = nil
			updates["closed_at"] = nil
		}
	}

	if priorityChanged && s.slaService != nil {
		probe := *oldTicket
		probe.Priority = *req.Priority
		if err := s.slaService.ApplyPolicy(ctx, &probe); err != nil {
			return nil, err
		}
		updates["sla_policy_id"] = probe.SLAPolicyID
		updates["first_response_due_at"] = probe.FirstResponseDueAt
		updates["resolution_due_at"] = probe.ResolutionDueAt
	}

	if len(updates) == 0 {
		return oldTicket, nil
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Ticket{}).Where("id = ?", ticketID).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to update ticket: %w", err)
		}
		if statusChanged {
			return s.WithTx(tx).recordStatusChange(ctx, ticketID, nonZero(userID), oldTicket.Status, *req.Status, "status updated")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Infof("Updated ticket %d by user %d", ticketID, userID)

	updated, err := s.GetTicket(ctx, companyID, ticketID)
	if err != nil {
		return nil, err
	}
	if !s.inTx {
		s.Notify(companyID, EventTicketUpdated, updated)
	}
	return updated, nil
}

// AssignTicket 分配工单给员工
func (s *TicketService) AssignTicket(ctx context.Context, companyID, ticketID, assigneeID, assignerID uint) (*models.Ticket, error) {
	return s.UpdateTicket(ctx, companyID, ticketID, &TicketUpdateRequest{AssigneeID: &assigneeID}, assignerID)
}

// CloseTicket 关闭工单
func (s *TicketService) CloseTicket(ctx context.Context, companyID, ticketID, userID uint) (*models.Ticket, error) {
	status := models.TicketStatusClosed
	return s.UpdateTicket(ctx, companyID, ticketID, &TicketUpdateRequest{Status: &status}, userID)
}

// AddComment 添加评论；员工的第一条公开回复记为首次响应
func (s *TicketService) AddComment(ctx context.Context, companyID, ticketID uint, req *CommentCreateRequest, author CommentAuthor) (*models.TicketComment, error) {
	if strings.TrimSpace(req.Body) == "" {
		return nil, &FieldError{Field: "body", Reason: "is required"}
	}
	if author.PortalAccessID != nil && req.Internal {
		return nil, fmt.Errorf("portal users cannot add internal notes: %w", ErrForbidden)
	}

	var ticket models.Ticket
	if err := s.db.WithContext(ctx).Where("company_id = ?", companyID).First(&ticket, ticketID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("ticket")
		}
		return nil, fmt.Errorf("failed to load ticket: %w", err)
	}

	source := author.Source
	if source == "" {
		source = models.SourceWeb
		if author.PortalAccessID != nil {
			source = models.SourcePortal
		}
	}
	comment := &models.TicketComment{
		TicketID:             ticketID,
		AuthorUserID:         author.UserID,
		AuthorPortalAccessID: author.PortalAccessID,
		AuthorName:           author.Name,
		AuthorEmail:          author.Email,
		Body:                 req.Body,
		Internal:             req.Internal,
		Source:               source,
		ExternalID:           author.ExternalID,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(comment).Error; err != nil {
			return fmt.Errorf("failed to create comment: %w", err)
		}
		updates := map[string]interface{}{"updated_at": time.Now()}
		if author.UserID != nil && !req.Internal && ticket.FirstRespondedAt == nil {
			updates["first_responded_at"] = comment.CreatedAt
		}
		// 客户回复后，等待中的工单重新打开
		if author.UserID == nil && ticket.Status == models.TicketStatusPending {
			updates["status"] = models.TicketStatusOpen
			if err := s.WithTx(tx).recordStatusChange(ctx, ticketID, nil, ticket.Status, models.TicketStatusOpen, "customer replied"); err != nil {
				return err
			}
		}
		return tx.Model(&models.Ticket{}).Where("id = ?", ticketID).Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}

	if !s.inTx {
		s.Notify(companyID, EventTicketComment, comment)
	}
	return comment, nil
}

// ensureStaff 指派对象必须是该公司的员工
func (s *TicketService) ensureStaff(ctx context.Context, companyID, userID uint) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Membership{}).
		Where("company_id = ? AND user_id = ?", companyID, userID).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check assignee: %w", err)
	}
	if count == 0 {
		return &FieldError{Field: "assignee_id", Reason: fmt.Sprintf("user %d is not a member of this company", userID)}
	}
	return nil
}

func (s *TicketService) recordStatusChange(ctx context.Context, ticketID uint, userID *uint, from, to, reason string) error {
	change := &models.TicketStatusChange{
		TicketID:   ticketID,
		UserID:     userID,
		FromStatus: from,
		ToStatus:   to,
		Reason:     reason,
	}
	if err := s.db.WithContext(ctx).Create(change).Error; err != nil {
		return fmt.Errorf("failed to record status change: %w", err)
	}
	return nil
}

func nonZero(id uint) *uint {
	if id == 0 {
		return nil
	}
	return &id
}
