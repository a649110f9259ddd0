package handlers

import (
	"net/http"

	"supportdesk/internal/services"

	"github.com/gin-gonic/gin"
)

// SLAHandler SLA策略管理处理器
// @Tags SLA
type SLAHandler struct {
	slaService *services.SLAService
}

// NewSLAHandler 创建SLA处理器
func NewSLAHandler(slaService *services.SLAService) *SLAHandler {
	return &SLAHandler{slaService: slaService}
}

// CreatePolicy 创建SLA策略
// @Summary 创建SLA策略
// @Description 每个优先级最多一个启用中的策略
// @Tags SLA
// @Accept json
// @Produce json
// @Param policy body services.SLAPolicyCreateRequest true "SLA策略"
// @Success 201 {object} models.SLAPolicy "创建成功"
// @Failure 400 {object} ErrorResponse "请求参数错误"
// @Failure 409 {object} ErrorResponse "该优先级已有启用策略"
// @Router /api/sla/policies [post]
func (h *SLAHandler) CreatePolicy(c *gin.Context) {
	var req services.SLAPolicyCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}
	companyID, _ := staffIDs(c)
	policy, err := h.slaService.CreatePolicy(c.Request.Context(), companyID, &req)
	if err != nil {
		respondError(c, "CREATE_FAILED", err)
		return
	}
	c.JSON(http.StatusCreated, policy)
}

// GetPolicy 获取SLA策略详情
// @Summary 获取SLA策略详情
// @Tags SLA
// @Produce json
// @Param id path int true "策略ID"
// @Success 200 {object} models.SLAPolicy
// @Failure 404 {object} ErrorResponse "策略不存在"
// @Router /api/sla/policies/{id} [get]
func (h *SLAHandler) GetPolicy(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	companyID, _ := staffIDs(c)
	policy, err := h.slaService.GetPolicy(c.Request.Context(), companyID, id)
	if err != nil {
		respondError(c, "GET_FAILED", err)
		return
	}
	c.JSON(http.StatusOK, policy)
}

// ListPolicies 获取SLA策略列表
// @Summary 获取SLA策略列表
// @Tags SLA
// @Produce json
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(20)
// @Param priority query []string false "优先级筛选" collectionFormat(multi)
// @Param active query boolean false "是否启用"
// @Success 200 {object} PaginatedResponse
// @Router /api/sla/policies [get]
func (h *SLAHandler) ListPolicies(c *gin.Context) {
	var req services.SLAPolicyListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "INVALID_QUERY",
			Message: "查询参数错误: " + err.Error(),
		})
		return
	}
	companyID, _ := staffIDs(c)
	policies, total, err := h.slaService.ListPolicies(c.Request.Context(), companyID, &req)
	if err != nil {
		respondError(c, "LIST_FAILED", err)
		return
	}
	c.JSON(http.StatusOK, paginated(policies, total, req.Page, req.PageSize))
}

// UpdatePolicy 更新SLA策略
// @Summary 更新SLA策略
// @Tags SLA
// @Accept json
// @Param id path int true "策略ID"
// @Param policy body services.SLAPolicyUpdateRequest true "更新内容"
// @Success 200 {object} models.SLAPolicy
// @Router /api/sla/policies/{id} [put]
func (h *SLAHandler) UpdatePolicy(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req services.SLAPolicyUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}
	companyID, _ := staffIDs(c)
	policy, err := h.slaService.UpdatePolicy(c.Request.Context(), companyID, id, &req)
	if err != nil {
		respondError(c, "UPDATE_FAILED", err)
		return
	}
	c.JSON(http.StatusOK, policy)
}

// DeletePolicy 删除SLA策略
// @Summary 删除SLA策略
// @Tags SLA
// @Param id path int true "策略ID"
// @Success 200 {object} SuccessResponse
// @Router /api/sla/policies/{id} [delete]
func (h *SLAHandler) DeletePolicy(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	companyID, _ := staffIDs(c)
	if err := h.slaService.DeletePolicy(c.Request.Context(), companyID, id); err != nil {
		respondError(c, "DELETE_FAILED", err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "SLA策略已删除"})
}
