package handlers

import (
	"errors"
	"net/http"

	"supportdesk/internal/services"
	"supportdesk/pkg/gmail"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// GmailHandler Gmail 接入管理与推送回调
type GmailHandler struct {
	syncService *services.GmailSyncService
	logger      *logrus.Logger
}

// NewGmailHandler 创建 Gmail 处理器
func NewGmailHandler(syncService *services.GmailSyncService, logger *logrus.Logger) *GmailHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &GmailHandler{syncService: syncService, logger: logger}
}

// CreateIntegration 新增 Gmail 接入
// @Summary 新增 Gmail 接入
// @Tags Gmail
// @Param body body services.GmailIntegrationRequest true "邮箱与令牌"
// @Success 201 {object} models.GmailIntegration
// @Failure 409 {object} ErrorResponse "邮箱已接入"
// @Router /api/integrations/gmail [post]
func (h *GmailHandler) CreateIntegration(c *gin.Context) {
	var req services.GmailIntegrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}
	companyID, _ := staffIDs(c)
	integration, err := h.syncService.CreateIntegration(c.Request.Context(), companyID, &req)
	if err != nil {
		respondError(c, "CREATE_FAILED", err)
		return
	}
	c.JSON(http.StatusCreated, integration)
}

// ListIntegrations Gmail 接入列表
// @Summary Gmail 接入列表
// @Tags Gmail
// @Success 200 {object} SuccessResponse
// @Router /api/integrations/gmail [get]
func (h *GmailHandler) ListIntegrations(c *gin.Context) {
	companyID, _ := staffIDs(c)
	list, err := h.syncService.ListIntegrations(c.Request.Context(), companyID)
	if err != nil {
		respondError(c, "LIST_FAILED", err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "ok", Data: list})
}

// DeleteIntegration 删除 Gmail 接入
// @Summary 删除 Gmail 接入
// @Tags Gmail
// @Param id path int true "接入ID"
// @Success 200 {object} SuccessResponse
// @Router /api/integrations/gmail/{id} [delete]
func (h *GmailHandler) DeleteIntegration(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	companyID, _ := staffIDs(c)
	if err := h.syncService.DeleteIntegration(c.Request.Context(), companyID, id); err != nil {
		respondError(c, "DELETE_FAILED", err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "Gmail 接入已删除"})
}

// SyncIntegration 立即同步一个接入
// @Summary 手动同步
// @Tags Gmail
// @Param id path int true "接入ID"
// @Success 200 {object} services.SyncResult
// @Router /api/integrations/gmail/{id}/sync [post]
func (h *GmailHandler) SyncIntegration(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	companyID, _ := staffIDs(c)
	ctx := c.Request.Context()
	integration, err := h.syncService.GetIntegration(ctx, companyID, id)
	if err != nil {
		respondError(c, "SYNC_FAILED", err)
		return
	}
	result, err := h.syncService.SyncIntegration(ctx, integration)
	if err != nil {
		respondError(c, "SYNC_FAILED", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Push Pub/Sub 推送回调
// @Summary Gmail 推送
// @Description 未知邮箱返回 204 以免 Pub/Sub 重复投递
// @Tags Gmail
// @Accept json
// @Param body body gmail.PushEnvelope true "Pub/Sub 推送"
// @Success 200 {object} services.SyncResult
// @Success 204
// @Router /webhooks/gmail [post]
func (h *GmailHandler) Push(c *gin.Context) {
	var env gmail.PushEnvelope
	if err := c.ShouldBindJSON(&env); err != nil {
		invalidRequest(c, err)
		return
	}
	n, err := gmail.DecodePush(env)
	if err != nil {
		invalidRequest(c, err)
		return
	}
	result, err := h.syncService.HandlePush(c.Request.Context(), n)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			h.logger.Warnf("Gmail push for unknown mailbox %s ignored", n.EmailAddress)
			c.Status(http.StatusNoContent)
			return
		}
		h.logger.Errorf("Gmail push sync failed for %s: %v", n.EmailAddress, err)
		respondError(c, "SYNC_FAILED", err)
		return
	}
	c.JSON(http.StatusOK, result)
}
