package handlers

import (
	"net/http"
	"time"

	"supportdesk/internal/models"
	"supportdesk/internal/services"

	"github.com/gin-gonic/gin"
)

// TicketHandler 工单管理处理器
// @Tags 工单
type TicketHandler struct {
	ticketService     *services.TicketService
	slaService        *services.SLAService
	submissionService *services.SubmissionService
}

// NewTicketHandler 创建工单处理器
func NewTicketHandler(ticketService *services.TicketService, slaService *services.SLAService, submissionService *services.SubmissionService) *TicketHandler {
	return &TicketHandler{
		ticketService:     ticketService,
		slaService:        slaService,
		submissionService: submissionService,
	}
}

// AssignRequest 分配工单请求
type AssignRequest struct {
	AssigneeID uint `json:"assignee_id" binding:"required"`
}

// CreateTicket 创建工单
// @Summary 创建工单
// @Tags 工单
// @Accept json
// @Produce json
// @Param ticket body services.TicketCreateRequest true "工单信息"
// @Success 201 {object} models.Ticket
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse "客户不存在"
// @Router /api/tickets [post]
func (h *TicketHandler) CreateTicket(c *gin.Context) {
	var req services.TicketCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}
	companyID, userID := staffIDs(c)
	req.CompanyID = companyID
	if userID != 0 {
		req.CreatedByID = &userID
	}

	ticket, err := h.ticketService.CreateTicket(c.Request.Context(), &req)
	if err != nil {
		respondError(c, "CREATE_FAILED", err)
		return
	}
	c.JSON(http.StatusCreated, ticket)
}

// GetTicket 获取工单详情
// @Summary 获取工单详情
// @Tags 工单
// @Produce json
// @Param id path int true "工单ID"
// @Success 200 {object} models.Ticket
// @Failure 404 {object} ErrorResponse
// @Router /api/tickets/{id} [get]
func (h *TicketHandler) GetTicket(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	companyID, _ := staffIDs(c)
	ticket, err := h.ticketService.GetTicket(c.Request.Context(), companyID, id)
	if err != nil {
		respondError(c, "GET_FAILED", err)
		return
	}
	c.JSON(http.StatusOK, ticket)
}

// ListTickets 获取工单列表
// @Summary 获取工单列表
// @Tags 工单
// @Produce json
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(20)
// @Param status query []string false "状态筛选" collectionFormat(multi)
// @Param priority query []string false "优先级筛选" collectionFormat(multi)
// @Param search query string false "关键字"
// @Success 200 {object} PaginatedResponse
// @Failure 400 {object} ErrorResponse
// @Router /api/tickets [get]
func (h *TicketHandler) ListTickets(c *gin.Context) {
	var req services.TicketListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		invalidRequest(c, err)
		return
	}
	companyID, _ := staffIDs(c)
	tickets, total, err := h.ticketService.ListTickets(c.Request.Context(), companyID, &req)
	if err != nil {
		respondError(c, "LIST_FAILED", err)
		return
	}
	c.JSON(http.StatusOK, paginated(tickets, total, req.Page, req.PageSize))
}

// UpdateTicket 更新工单
// @Summary 更新工单
// @Tags 工单
// @Accept json
// @Produce json
// @Param id path int true "工单ID"
// @Param ticket body services.TicketUpdateRequest true "更新内容"
// @Success 200 {object} models.Ticket
// @Router /api/tickets/{id} [put]
func (h *TicketHandler) UpdateTicket(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req services.TicketUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}
	companyID, userID := staffIDs(c)
	ticket, err := h.ticketService.UpdateTicket(c.Request.Context(), companyID, id, &req, userID)
	if err != nil {
		respondError(c, "UPDATE_FAILED", err)
		return
	}
	c.JSON(http.StatusOK, ticket)
}

// AssignTicket 分配工单
// @Summary 分配工单
// @Tags 工单
// @Accept json
// @Param id path int true "工单ID"
// @Param body body AssignRequest true "处理人"
// @Success 200 {object} models.Ticket
// @Router /api/tickets/{id}/assign [post]
func (h *TicketHandler) AssignTicket(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}
	companyID, userID := staffIDs(c)
	ticket, err := h.ticketService.AssignTicket(c.Request.Context(), companyID, id, req.AssigneeID, userID)
	if err != nil {
		respondError(c, "ASSIGN_FAILED", err)
		return
	}
	c.JSON(http.StatusOK, ticket)
}

// CloseTicket 关闭工单
// @Summary 关闭工单
// @Tags 工单
// @Param id path int true "工单ID"
// @Success 200 {object} models.Ticket
// @Router /api/tickets/{id}/close [post]
func (h *TicketHandler) CloseTicket(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	companyID, userID := staffIDs(c)
	ticket, err := h.ticketService.CloseTicket(c.Request.Context(), companyID, id, userID)
	if err != nil {
		respondError(c, "CLOSE_FAILED", err)
		return
	}
	c.JSON(http.StatusOK, ticket)
}

// AddComment 添加评论或内部备注
// @Summary 添加评论
// @Tags 工单
// @Accept json
// @Param id path int true "工单ID"
// @Param body body services.CommentCreateRequest true "评论"
// @Success 201 {object} models.TicketComment
// @Router /api/tickets/{id}/comments [post]
func (h *TicketHandler) AddComment(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req services.CommentCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}
	companyID, userID := staffIDs(c)
	author := services.CommentAuthor{UserID: &userID, Source: models.SourceWeb}
	comment, err := h.ticketService.AddComment(c.Request.Context(), companyID, id, &req, author)
	if err != nil {
		respondError(c, "COMMENT_FAILED", err)
		return
	}
	c.JSON(http.StatusCreated, comment)
}

// GetTicketSubmission 查看工单来源的表单提交
// @Summary 工单来源提交
// @Tags 工单
// @Param id path int true "工单ID"
// @Success 200 {object} models.FormSubmission
// @Failure 404 {object} ErrorResponse "非表单工单"
// @Router /api/tickets/{id}/submission [get]
func (h *TicketHandler) GetTicketSubmission(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	companyID, _ := staffIDs(c)
	sub, err := h.submissionService.GetSubmissionForTicket(c.Request.Context(), companyID, id)
	if err != nil {
		respondError(c, "GET_FAILED", err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

// ListBreaches 列出已逾期的工单
// @Summary SLA 逾期工单
// @Tags SLA
// @Produce json
// @Success 200 {array} services.SLABreach
// @Router /api/sla/breaches [get]
func (h *TicketHandler) ListBreaches(c *gin.Context) {
	companyID, _ := staffIDs(c)
	breaches, err := h.slaService.ListBreaches(c.Request.Context(), companyID, time.Now())
	if err != nil {
		respondError(c, "LIST_FAILED", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": breaches, "total": len(breaches)})
}
