package handlers

import (
	"net/http"

	"supportdesk/internal/middleware"
	"supportdesk/internal/models"
	"supportdesk/internal/services"

	"github.com/gin-gonic/gin"
)

// PublicFormHandler 公开表单的展示与提交
type PublicFormHandler struct {
	formService       *services.FormService
	submissionService *services.SubmissionService
}

// NewPublicFormHandler 创建公开表单处理器
func NewPublicFormHandler(formService *services.FormService, submissionService *services.SubmissionService) *PublicFormHandler {
	return &PublicFormHandler{formService: formService, submissionService: submissionService}
}

// PublicForm 对外展示的表单，不含建单规则
type PublicForm struct {
	Name                  string             `json:"name"`
	Slug                  string             `json:"slug"`
	Description           string             `json:"description"`
	ClientName            string             `json:"client_name"`
	Fields                []models.FormField `json:"fields"`
	RequireAuthentication bool               `json:"require_authentication"`
}

// GetForm 获取已发布表单
// @Summary 获取公开表单
// @Tags 公开
// @Param company path string true "公司 slug"
// @Param client path string true "客户 slug"
// @Param form path string true "表单 slug"
// @Success 200 {object} PublicForm
// @Failure 404 {object} ErrorResponse
// @Router /public/{company}/{client}/forms/{form} [get]
func (h *PublicFormHandler) GetForm(c *gin.Context) {
	form, client, err := h.formService.GetPublishedForm(c.Request.Context(), c.Param("company"), c.Param("client"), c.Param("form"))
	if err != nil {
		respondError(c, "FORM_NOT_FOUND", err)
		return
	}
	c.JSON(http.StatusOK, PublicForm{
		Name:                  form.Name,
		Slug:                  form.Slug,
		Description:           form.Description,
		ClientName:            client.Name,
		Fields:                form.Fields,
		RequireAuthentication: form.RequireAuthentication,
	})
}

// Submit 提交表单
// @Summary 提交表单
// @Description 校验、保存提交并按规则建单；可携带员工或门户会话
// @Tags 公开
// @Accept json
// @Produce json
// @Param company path string true "公司 slug"
// @Param client path string true "客户 slug"
// @Param form path string true "表单 slug"
// @Param body body services.SubmitRequest true "提交内容"
// @Success 201 {object} services.SubmissionResult
// @Failure 400 {object} ErrorResponse "字段校验失败"
// @Failure 401 {object} ErrorResponse "表单要求登录"
// @Router /public/{company}/{client}/forms/{form}/submit [post]
func (h *PublicFormHandler) Submit(c *gin.Context) {
	var req services.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}
	req.CompanySlug = c.Param("company")
	req.ClientSlug = c.Param("client")
	req.FormSlug = c.Param("form")

	result, err := h.submissionService.Submit(c.Request.Context(), &req, middleware.SessionFrom(c))
	if err != nil {
		respondError(c, "SUBMIT_FAILED", err)
		return
	}
	c.JSON(http.StatusCreated, result)
}
