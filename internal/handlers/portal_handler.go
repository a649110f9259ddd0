package handlers

import (
	"net/http"
	"strconv"

	"supportdesk/internal/middleware"
	"supportdesk/internal/models"
	"supportdesk/internal/services"

	"github.com/gin-gonic/gin"
)

// PortalHandler 客户门户：登录、工单与知识库
type PortalHandler struct {
	portalService    *services.PortalService
	ticketService    *services.TicketService
	knowledgeService *services.KnowledgeService
}

// NewPortalHandler 创建门户处理器
func NewPortalHandler(portalService *services.PortalService, ticketService *services.TicketService, knowledgeService *services.KnowledgeService) *PortalHandler {
	return &PortalHandler{
		portalService:    portalService,
		ticketService:    ticketService,
		knowledgeService: knowledgeService,
	}
}

// TokenExchangeRequest 访问令牌换会话
type TokenExchangeRequest struct {
	AccessToken string `json:"access_token" binding:"required"`
}

// OTPRequest 请求验证码
type OTPRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// OTPVerifyRequest 校验验证码
type OTPVerifyRequest struct {
	Email string `json:"email" binding:"required,email"`
	Code  string `json:"code" binding:"required"`
}

// PortalTicketRequest 门户用户提交工单
type PortalTicketRequest struct {
	Subject     string `json:"subject" binding:"required"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
}

// PortalAccessView 员工端看到的门户身份，包含访问令牌
type PortalAccessView struct {
	*models.PortalAccess
	AccessToken string `json:"access_token"`
}

// ExchangeToken 访问令牌登录
// @Summary 访问令牌换取门户会话
// @Tags 门户
// @Accept json
// @Param body body TokenExchangeRequest true "访问令牌"
// @Success 200 {object} services.PortalLogin
// @Failure 401 {object} ErrorResponse
// @Router /portal/token [post]
func (h *PortalHandler) ExchangeToken(c *gin.Context) {
	var req TokenExchangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}
	login, err := h.portalService.ExchangeToken(c.Request.Context(), req.AccessToken)
	if err != nil {
		respondError(c, "LOGIN_FAILED", err)
		return
	}
	c.JSON(http.StatusOK, login)
}

// RequestOTP 发送登录验证码
// @Summary 请求验证码
// @Description 邮箱不存在时同样返回 202
// @Tags 门户
// @Param company path string true "公司 slug"
// @Param client path string true "客户 slug"
// @Param body body OTPRequest true "邮箱"
// @Success 202 {object} SuccessResponse
// @Router /portal/{company}/{client}/otp/request [post]
func (h *PortalHandler) RequestOTP(c *gin.Context) {
	var req OTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}
	if err := h.portalService.RequestOTP(c.Request.Context(), c.Param("company"), c.Param("client"), req.Email); err != nil {
		respondError(c, "OTP_FAILED", err)
		return
	}
	c.JSON(http.StatusAccepted, SuccessResponse{Message: "如果该邮箱已开通门户，验证码已发送"})
}

// VerifyOTP 校验验证码并登录
// @Summary 校验验证码
// @Tags 门户
// @Param company path string true "公司 slug"
// @Param client path string true "客户 slug"
// @Param body body OTPVerifyRequest true "邮箱与验证码"
// @Success 200 {object} services.PortalLogin
// @Failure 401 {object} ErrorResponse
// @Router /portal/{company}/{client}/otp/verify [post]
func (h *PortalHandler) VerifyOTP(c *gin.Context) {
	var req OTPVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}
	login, err := h.portalService.VerifyOTP(c.Request.Context(), c.Param("company"), c.Param("client"), req.Email, req.Code)
	if err != nil {
		respondError(c, "LOGIN_FAILED", err)
		return
	}
	c.JSON(http.StatusOK, login)
}

// ListTickets 门户用户查看本组织工单
// @Summary 门户工单列表
// @Tags 门户
// @Success 200 {object} PaginatedResponse
// @Router /portal/tickets [get]
func (h *PortalHandler) ListTickets(c *gin.Context) {
	claims, _ := middleware.PortalFrom(c)
	var req services.TicketListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		invalidRequest(c, err)
		return
	}
	req.ClientID = &claims.ClientID
	req.AssigneeID = nil
	tickets, total, err := h.ticketService.ListTickets(c.Request.Context(), claims.CompanyID, &req)
	if err != nil {
		respondError(c, "LIST_FAILED", err)
		return
	}
	c.JSON(http.StatusOK, paginated(tickets, total, req.Page, req.PageSize))
}

// CreateTicket 门户用户提交工单
// @Summary 门户提交工单
// @Tags 门户
// @Param body body PortalTicketRequest true "工单"
// @Success 201 {object} models.Ticket
// @Router /portal/tickets [post]
func (h *PortalHandler) CreateTicket(c *gin.Context) {
	claims, _ := middleware.PortalFrom(c)
	var req PortalTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}
	access, err := h.portalService.GetAccess(c.Request.Context(), claims.CompanyID, claims.PortalAccessID)
	if err != nil {
		respondError(c, "CREATE_FAILED", err)
		return
	}
	ticket, err := h.ticketService.CreateTicket(c.Request.Context(), &services.TicketCreateRequest{
		CompanyID:      claims.CompanyID,
		ClientID:       claims.ClientID,
		Subject:        req.Subject,
		Description:    req.Description,
		Priority:       req.Priority,
		Source:         models.SourcePortal,
		RequesterName:  access.DisplayName(),
		RequesterEmail: access.Email,
		PortalAccessID: &access.ID,
	})
	if err != nil {
		respondError(c, "CREATE_FAILED", err)
		return
	}
	c.JSON(http.StatusCreated, ticket)
}

// GetTicket 门户工单详情，不含内部备注
// @Summary 门户工单详情
// @Tags 门户
// @Param id path int true "工单ID"
// @Success 200 {object} models.Ticket
// @Router /portal/tickets/{id} [get]
func (h *PortalHandler) GetTicket(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	claims, _ := middleware.PortalFrom(c)
	ticket, err := h.ticketService.GetTicketForPortal(c.Request.Context(), claims.CompanyID, claims.ClientID, id)
	if err != nil {
		respondError(c, "GET_FAILED", err)
		return
	}
	c.JSON(http.StatusOK, ticket)
}

// AddComment 门户用户回复工单
// @Summary 门户回复
// @Tags 门户
// @Param id path int true "工单ID"
// @Param body body services.CommentCreateRequest true "回复"
// @Success 201 {object} models.TicketComment
// @Router /portal/tickets/{id}/comments [post]
func (h *PortalHandler) AddComment(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	claims, _ := middleware.PortalFrom(c)
	var req services.CommentCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	// 只能回复本组织的工单
	if _, err := h.ticketService.GetTicketForPortal(ctx, claims.CompanyID, claims.ClientID, id); err != nil {
		respondError(c, "COMMENT_FAILED", err)
		return
	}
	access, err := h.portalService.GetAccess(ctx, claims.CompanyID, claims.PortalAccessID)
	if err != nil {
		respondError(c, "COMMENT_FAILED", err)
		return
	}
	comment, err := h.ticketService.AddComment(ctx, claims.CompanyID, id, &req, services.CommentAuthor{
		PortalAccessID: &access.ID,
		Name:           access.DisplayName(),
		Email:          access.Email,
	})
	if err != nil {
		respondError(c, "COMMENT_FAILED", err)
		return
	}
	c.JSON(http.StatusCreated, comment)
}

// ListArticles 门户可见的已发布文章
// @Summary 门户知识库
// @Tags 门户
// @Param search query string false "关键字"
// @Success 200 {object} PaginatedResponse
// @Router /portal/articles [get]
func (h *PortalHandler) ListArticles(c *gin.Context) {
	claims, _ := middleware.PortalFrom(c)
	var req services.ArticleListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		invalidRequest(c, err)
		return
	}
	articles, total, err := h.knowledgeService.ListForClient(c.Request.Context(), claims.CompanyID, claims.ClientID, &req)
	if err != nil {
		respondError(c, "LIST_FAILED", err)
		return
	}
	c.JSON(http.StatusOK, paginated(articles, total, req.Page, req.PageSize))
}

// GetArticle 门户文章详情（含渲染后的 HTML）
// @Summary 门户文章详情
// @Tags 门户
// @Param slug path string true "文章 slug"
// @Success 200 {object} services.ArticleView
// @Router /portal/articles/{slug} [get]
func (h *PortalHandler) GetArticle(c *gin.Context) {
	claims, _ := middleware.PortalFrom(c)
	view, err := h.knowledgeService.GetForClient(c.Request.Context(), claims.CompanyID, claims.ClientID, c.Param("slug"))
	if err != nil {
		respondError(c, "GET_FAILED", err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// CreateAccess 员工为客户联系人开通门户
// @Summary 开通门户访问
// @Tags 门户管理
// @Param body body services.PortalAccessCreateRequest true "联系人"
// @Success 201 {object} PortalAccessView
// @Router /api/portal-accesses [post]
func (h *PortalHandler) CreateAccess(c *gin.Context) {
	var req services.PortalAccessCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}
	companyID, _ := staffIDs(c)
	access, err := h.portalService.CreateAccess(c.Request.Context(), companyID, &req)
	if err != nil {
		respondError(c, "CREATE_FAILED", err)
		return
	}
	c.JSON(http.StatusCreated, PortalAccessView{PortalAccess: access, AccessToken: access.AccessToken})
}

// ListAccesses 门户访问列表
// @Summary 门户访问列表
// @Tags 门户管理
// @Param client_id query int false "客户ID"
// @Success 200 {object} SuccessResponse
// @Router /api/portal-accesses [get]
func (h *PortalHandler) ListAccesses(c *gin.Context) {
	var clientID *uint
	if raw := c.Query("client_id"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "INVALID_QUERY", Message: "无效的 client_id"})
			return
		}
		id := uint(v)
		clientID = &id
	}
	companyID, _ := staffIDs(c)
	accesses, err := h.portalService.ListAccesses(c.Request.Context(), companyID, clientID)
	if err != nil {
		respondError(c, "LIST_FAILED", err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "ok", Data: accesses})
}

// SetActive 启用或停用门户访问，停用后已签发的会话随即失效
// @Summary 启用/停用门户访问
// @Tags 门户管理
// @Param id path int true "门户访问ID"
// @Success 200 {object} models.PortalAccess
// @Router /api/portal-accesses/{id}/activate [post]
// @Router /api/portal-accesses/{id}/deactivate [post]
func (h *PortalHandler) SetActive(active bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c, "id")
		if !ok {
			return
		}
		companyID, _ := staffIDs(c)
		access, err := h.portalService.SetActive(c.Request.Context(), companyID, id, active)
		if err != nil {
			respondError(c, "UPDATE_FAILED", err)
			return
		}
		c.JSON(http.StatusOK, access)
	}
}

// RotateToken 重置访问令牌
// @Summary 重置门户访问令牌
// @Tags 门户管理
// @Param id path int true "门户访问ID"
// @Success 200 {object} PortalAccessView
// @Router /api/portal-accesses/{id}/rotate-token [post]
func (h *PortalHandler) RotateToken(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	companyID, _ := staffIDs(c)
	access, err := h.portalService.RotateToken(c.Request.Context(), companyID, id)
	if err != nil {
		respondError(c, "UPDATE_FAILED", err)
		return
	}
	c.JSON(http.StatusOK, PortalAccessView{PortalAccess: access, AccessToken: access.AccessToken})
}
