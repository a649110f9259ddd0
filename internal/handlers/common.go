package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"supportdesk/internal/middleware"
	"supportdesk/internal/services"

	"github.com/gin-gonic/gin"
)

// ErrorResponse 错误响应结构
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
}

// PaginatedResponse 分页响应结构
type PaginatedResponse struct {
	Data     interface{} `json:"data"`
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
	Pages    int         `json:"pages"`
}

// SuccessResponse 成功响应结构
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// respondError 将服务层错误映射为 HTTP 状态码
func respondError(c *gin.Context, code string, err error) {
	status := http.StatusInternalServerError
	var fe *services.FieldError
	switch {
	case errors.As(err, &fe):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "INVALID_FIELD",
			Message: err.Error(),
			Code:    http.StatusBadRequest,
		})
		return
	case errors.Is(err, services.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, services.ErrUnauthorized):
		status, code = http.StatusUnauthorized, "UNAUTHORIZED"
	case errors.Is(err, services.ErrForbidden):
		status, code = http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, services.ErrBadRequest):
		status, code = http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, services.ErrConflict):
		status, code = http.StatusConflict, "CONFLICT"
	}
	c.JSON(status, ErrorResponse{Error: code, Message: err.Error(), Code: status})
}

func invalidRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:   "INVALID_REQUEST",
		Message: "请求参数格式错误: " + err.Error(),
		Code:    http.StatusBadRequest,
	})
}

// parseID 解析路径中的数字 ID，失败时直接写出 400
func parseID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "INVALID_ID",
			Message: "无效的ID: " + c.Param(name),
			Code:    http.StatusBadRequest,
		})
		return 0, false
	}
	return uint(id), true
}

func paginated(data interface{}, total int64, page, pageSize int) PaginatedResponse {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return PaginatedResponse{
		Data:     data,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		Pages:    int((total + int64(pageSize) - 1) / int64(pageSize)),
	}
}

// staffIDs 取出员工会话中的公司与用户
func staffIDs(c *gin.Context) (companyID, userID uint) {
	if claims, ok := middleware.StaffFrom(c); ok {
		return claims.CompanyID, claims.UserID
	}
	return 0, 0
}
