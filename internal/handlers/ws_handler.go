package handlers

import (
	"net/http"

	"supportdesk/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// EventStreamHandler 员工端实时工单事件
type EventStreamHandler struct {
	hub    *services.EventHub
	logger *logrus.Logger
}

// NewEventStreamHandler 创建实时事件处理器
func NewEventStreamHandler(hub *services.EventHub, logger *logrus.Logger) *EventStreamHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &EventStreamHandler{hub: hub, logger: logger}
}

// Connect 升级为 websocket，推送本公司的 ticket.* 事件
// @Summary 实时工单事件
// @Tags 工单
// @Router /api/ws [get]
func (h *EventStreamHandler) Connect(c *gin.Context) {
	companyID, userID := staffIDs(c)
	if err := h.hub.Serve(c.Writer, c.Request, companyID, userID); err != nil {
		h.logger.Warnf("Event stream for user %d rejected: %v", userID, err)
		if !c.Writer.Written() {
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "STREAM_UNAVAILABLE", Message: err.Error()})
		}
	}
}

// Stats 连接统计
// @Summary 实时连接数
// @Tags 工单
// @Router /api/ws/stats [get]
func (h *EventStreamHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "client_count": h.hub.GetClientCount()})
}
