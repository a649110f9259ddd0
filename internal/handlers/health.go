package handlers

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"supportdesk/internal/config"
	appmetrics "supportdesk/internal/metrics"
	"supportdesk/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// HealthHandler 健康检查与指标
type HealthHandler struct {
	config  *config.Config
	db      *gorm.DB
	hub     *services.EventHub
	version string
	logger  *logrus.Logger
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(cfg *config.Config, db *gorm.DB, hub *services.EventHub, version string, logger *logrus.Logger) *HealthHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &HealthHandler{config: cfg, db: db, hub: hub, version: version, logger: logger}
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Timestamp time.Time              `json:"timestamp"`
	Services  map[string]ServiceInfo `json:"services"`
	System    SystemInfo             `json:"system"`
}

// ServiceInfo 依赖状态
type ServiceInfo struct {
	Status  string      `json:"status"`
	Latency string      `json:"latency,omitempty"`
	Error   string      `json:"error,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// SystemInfo 进程信息
type SystemInfo struct {
	Uptime    string `json:"uptime"`
	GoVersion string `json:"go_version"`
}

var startTime = time.Now()

// Health 健康检查端点；数据库不可用时返回 503
// @Summary 健康检查
// @Tags 系统
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:    "healthy",
		Version:   h.version,
		Timestamp: time.Now(),
		Services:  make(map[string]ServiceInfo),
		System: SystemInfo{
			Uptime:    time.Since(startTime).Round(time.Second).String(),
			GoVersion: runtime.Version(),
		},
	}

	dbInfo := h.checkDatabase(ctx)
	response.Services["database"] = dbInfo

	if h.hub != nil {
		response.Services["event_hub"] = ServiceInfo{
			Status:  "healthy",
			Details: map[string]interface{}{"clients": h.hub.GetClientCount()},
		}
	}

	if h.config != nil {
		gmailInfo := ServiceInfo{Status: "disabled"}
		if h.config.Gmail.Enabled {
			gmailInfo = ServiceInfo{
				Status:  "enabled",
				Details: map[string]interface{}{"poll_interval": h.config.Gmail.PollInterval.String()},
			}
		}
		response.Services["gmail"] = gmailInfo
	}

	statusCode := http.StatusOK
	if dbInfo.Status != "healthy" {
		response.Status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, response)
}

func (h *HealthHandler) checkDatabase(ctx context.Context) ServiceInfo {
	start := time.Now()
	if h.db == nil {
		return ServiceInfo{Status: "unhealthy", Error: "database connection not initialized"}
	}
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	info := ServiceInfo{Status: "healthy", Latency: time.Since(start).String()}
	if err != nil {
		h.logger.Warnf("Database health check failed: %v", err)
		info.Status = "unhealthy"
		info.Error = err.Error()
		return info
	}
	info.Details = map[string]interface{}{"driver": h.db.Dialector.Name()}
	return info
}

// Metrics Prometheus 文本格式指标
// @Summary 运行指标
// @Tags 系统
// @Produce plain
// @Router /metrics [get]
func (h *HealthHandler) Metrics(c *gin.Context) {
	c.Header("Content-Type", "text/plain; version=0.0.4")
	c.Status(http.StatusOK)
	appmetrics.WritePrometheus(c.Writer)
	if h.hub != nil {
		fmt.Fprintf(c.Writer, "# HELP supportdesk_event_hub_clients Connected staff websockets\n# TYPE supportdesk_event_hub_clients gauge\nsupportdesk_event_hub_clients %d\n", h.hub.GetClientCount())
	}
}
