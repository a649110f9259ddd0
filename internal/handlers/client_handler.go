package handlers

import (
	"net/http"

	"supportdesk/internal/services"

	"github.com/gin-gonic/gin"
)

// ClientHandler 客户组织管理
type ClientHandler struct {
	tenantService *services.TenantService
}

// NewClientHandler 创建客户组织处理器
func NewClientHandler(tenantService *services.TenantService) *ClientHandler {
	return &ClientHandler{tenantService: tenantService}
}

// CreateClient 创建客户组织
// @Summary 创建客户组织
// @Tags 客户
// @Accept json
// @Produce json
// @Param client body services.ClientCreateRequest true "客户信息"
// @Success 201 {object} models.Client
// @Failure 409 {object} ErrorResponse "slug 已存在"
// @Router /api/clients [post]
func (h *ClientHandler) CreateClient(c *gin.Context) {
	var req services.ClientCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}
	companyID, _ := staffIDs(c)
	client, err := h.tenantService.CreateClient(c.Request.Context(), companyID, &req)
	if err != nil {
		respondError(c, "CREATE_FAILED", err)
		return
	}
	c.JSON(http.StatusCreated, client)
}

// ListClients 列出客户组织
// @Summary 客户组织列表
// @Tags 客户
// @Produce json
// @Success 200 {object} SuccessResponse
// @Router /api/clients [get]
func (h *ClientHandler) ListClients(c *gin.Context) {
	companyID, _ := staffIDs(c)
	clients, err := h.tenantService.ListClients(c.Request.Context(), companyID)
	if err != nil {
		respondError(c, "LIST_FAILED", err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "ok", Data: clients})
}

// GetClient 获取客户组织
// @Summary 客户组织详情
// @Tags 客户
// @Param id path int true "客户ID"
// @Success 200 {object} models.Client
// @Router /api/clients/{id} [get]
func (h *ClientHandler) GetClient(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	companyID, _ := staffIDs(c)
	client, err := h.tenantService.GetClient(c.Request.Context(), companyID, id)
	if err != nil {
		respondError(c, "GET_FAILED", err)
		return
	}
	c.JSON(http.StatusOK, client)
}

// UpdateClient 更新客户组织
// @Summary 更新客户组织
// @Tags 客户
// @Accept json
// @Param id path int true "客户ID"
// @Param client body services.ClientUpdateRequest true "更新内容"
// @Success 200 {object} models.Client
// @Router /api/clients/{id} [put]
func (h *ClientHandler) UpdateClient(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req services.ClientUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}
	companyID, _ := staffIDs(c)
	client, err := h.tenantService.UpdateClient(c.Request.Context(), companyID, id, &req)
	if err != nil {
		respondError(c, "UPDATE_FAILED", err)
		return
	}
	c.JSON(http.StatusOK, client)
}
