package handlers

import (
	"net/http"
	"strconv"

	"supportdesk/internal/services"

	"github.com/gin-gonic/gin"
)

// FormHandler 表单与提交记录管理（员工端）
type FormHandler struct {
	formService       *services.FormService
	submissionService *services.SubmissionService
}

// NewFormHandler 创建表单处理器
func NewFormHandler(formService *services.FormService, submissionService *services.SubmissionService) *FormHandler {
	return &FormHandler{formService: formService, submissionService: submissionService}
}

// CreateForm 创建表单
// @Summary 创建表单
// @Description 保存字段定义与建单规则，规则按顺序求值
// @Tags 表单
// @Accept json
// @Produce json
// @Param form body services.FormCreateRequest true "表单定义"
// @Success 201 {object} models.Form
// @Failure 400 {object} ErrorResponse "字段或规则不合法"
// @Failure 409 {object} ErrorResponse "slug 已存在"
// @Router /api/forms [post]
func (h *FormHandler) CreateForm(c *gin.Context) {
	var req services.FormCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}
	companyID, _ := staffIDs(c)
	form, err := h.formService.CreateForm(c.Request.Context(), companyID, &req)
	if err != nil {
		respondError(c, "CREATE_FAILED", err)
		return
	}
	c.JSON(http.StatusCreated, form)
}

// ListForms 表单列表
// @Summary 表单列表
// @Tags 表单
// @Param client_id query int false "客户ID"
// @Success 200 {object} SuccessResponse
// @Router /api/forms [get]
func (h *FormHandler) ListForms(c *gin.Context) {
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
	forms, err := h.formService.ListForms(c.Request.Context(), companyID, clientID)
	if err != nil {
		respondError(c, "LIST_FAILED", err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "ok", Data: forms})
}

// GetForm 表单详情
// @Summary 表单详情
// @Tags 表单
// @Param id path int true "表单ID"
// @Success 200 {object} models.Form
// @Router /api/forms/{id} [get]
func (h *FormHandler) GetForm(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	companyID, _ := staffIDs(c)
	form, err := h.formService.GetForm(c.Request.Context(), companyID, id)
	if err != nil {
		respondError(c, "GET_FAILED", err)
		return
	}
	c.JSON(http.StatusOK, form)
}

// UpdateForm 更新表单
// @Summary 更新表单
// @Tags 表单
// @Accept json
// @Param id path int true "表单ID"
// @Param form body services.FormUpdateRequest true "更新内容"
// @Success 200 {object} models.Form
// @Router /api/forms/{id} [put]
func (h *FormHandler) UpdateForm(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req services.FormUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}
	companyID, _ := staffIDs(c)
	form, err := h.formService.UpdateForm(c.Request.Context(), companyID, id, &req)
	if err != nil {
		respondError(c, "UPDATE_FAILED", err)
		return
	}
	c.JSON(http.StatusOK, form)
}

// DeleteForm 删除表单
// @Summary 删除表单
// @Tags 表单
// @Param id path int true "表单ID"
// @Success 200 {object} SuccessResponse
// @Router /api/forms/{id} [delete]
func (h *FormHandler) DeleteForm(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	companyID, _ := staffIDs(c)
	if err := h.formService.DeleteForm(c.Request.Context(), companyID, id); err != nil {
		respondError(c, "DELETE_FAILED", err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "表单已删除"})
}

// ListSubmissions 提交记录列表
// @Summary 提交记录列表
// @Tags 表单
// @Param form_id query int false "表单ID"
// @Param has_ticket query boolean false "是否已建单"
// @Success 200 {object} PaginatedResponse
// @Router /api/submissions [get]
func (h *FormHandler) ListSubmissions(c *gin.Context) {
	var req services.SubmissionListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "INVALID_QUERY", Message: "查询参数错误: " + err.Error()})
		return
	}
	companyID, _ := staffIDs(c)
	subs, total, err := h.submissionService.ListSubmissions(c.Request.Context(), companyID, &req)
	if err != nil {
		respondError(c, "LIST_FAILED", err)
		return
	}
	c.JSON(http.StatusOK, paginated(subs, total, req.Page, req.PageSize))
}

// GetSubmission 提交记录详情
// @Summary 提交记录详情
// @Tags 表单
// @Param id path int true "提交ID"
// @Success 200 {object} models.FormSubmission
// @Router /api/submissions/{id} [get]
func (h *FormHandler) GetSubmission(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	companyID, _ := staffIDs(c)
	sub, err := h.submissionService.GetSubmission(c.Request.Context(), companyID, id)
	if err != nil {
		respondError(c, "GET_FAILED", err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

// CreateTicketFromSubmission 手动为提交记录建单
// @Summary 手动建单
// @Description 未命中规则的提交可由员工手动建单；已建单时返回 409
// @Tags 表单
// @Param id path int true "提交ID"
// @Success 201 {object} models.Ticket
// @Failure 409 {object} ErrorResponse "已存在工单"
// @Router /api/submissions/{id}/ticket [post]
func (h *FormHandler) CreateTicketFromSubmission(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	companyID, userID := staffIDs(c)
	ticket, err := h.submissionService.CreateTicketFromSubmission(c.Request.Context(), companyID, id, userID)
	if err != nil {
		respondError(c, "CREATE_FAILED", err)
		return
	}
	c.JSON(http.StatusCreated, ticket)
}
