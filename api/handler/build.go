package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/ios-xr/iosxrv-x64-vbox/internal/database"
	"github.com/ios-xr/iosxrv-x64-vbox/internal/model"
	"github.com/ios-xr/iosxrv-x64-vbox/internal/service"
	"github.com/ios-xr/iosxrv-x64-vbox/pkg/logger"
)

// ErrorResponse 错误响应
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// BuildHandler 构建任务处理器
type BuildHandler struct {
	builder *service.BuilderService
}

// NewBuildHandler 创建构建任务处理器
func NewBuildHandler(builder *service.BuilderService) *BuildHandler {
	return &BuildHandler{
		builder: builder,
	}
}

// StartBuild 提交构建任务
// @Summary 提交ISO到Vagrant box的构建任务
// @Description 接收ISO路径异步启动构建，立即返回任务ID
// @Tags builds
// @Accept json
// @Produce json
// @Param request body service.BuildRequest true "构建请求"
// @Success 202 {object} gin.H "已受理"
// @Failure 400 {object} ErrorResponse "请求参数错误"
// @Failure 500 {object} ErrorResponse "服务器内部错误"
// @Router /api/v1/builds [post]
func (h *BuildHandler) StartBuild(c *gin.Context) {
	var request service.BuildRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		logger.Error("Invalid request parameters", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_PARAMS",
			Message: "invalid request parameters: " + err.Error(),
		})
		return
	}

	taskID, err := h.builder.Submit(&request)
	if err != nil {
		logger.Error("Failed to submit build", "iso", request.ISOPath, "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "SUBMIT_FAILED",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"task_id": taskID,
		"status":  model.BuildStatusRunning,
	})
}

// GetStatus 获取构建任务状态
// @Summary 获取构建任务的状态与步骤日志
// @Tags builds
// @Produce json
// @Param task_id path string true "任务ID"
// @Success 200 {object} gin.H "任务状态"
// @Failure 404 {object} ErrorResponse "任务不存在"
// @Router /api/v1/builds/{task_id}/status [get]
func (h *BuildHandler) GetStatus(c *gin.Context) {
	taskID := c.Param("task_id")
	if taskID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "MISSING_TASK_ID",
			Message: "task_id is required",
		})
		return
	}

	db := database.GetDB()
	if db == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Code:    "NO_DATABASE",
			Message: "task persistence is not enabled",
		})
		return
	}

	var task model.BuildTask
	if err := db.WithContext(c.Request.Context()).First(&task, "id = ?", taskID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Code:    "TASK_NOT_FOUND",
				Message: "build task not found: " + taskID,
			})
			return
		}
		logger.Error("Failed to query build task", "task_id", taskID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "QUERY_FAILED",
			Message: err.Error(),
		})
		return
	}

	var steps []model.BuildLog
	if err := db.WithContext(c.Request.Context()).
		Where("task_id = ?", taskID).
		Order("id asc").
		Find(&steps).Error; err != nil {
		logger.Warn("failed to load build steps: ", err)
	}

	c.JSON(http.StatusOK, gin.H{
		"task":  task,
		"steps": steps,
	})
}

// List 列出构建任务
// @Summary 按时间倒序列出构建任务
// @Tags builds
// @Produce json
// @Param limit query int false "返回条数，默认20"
// @Success 200 {object} gin.H "任务列表"
// @Router /api/v1/builds [get]
func (h *BuildHandler) List(c *gin.Context) {
	db := database.GetDB()
	if db == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Code:    "NO_DATABASE",
			Message: "task persistence is not enabled",
		})
		return
	}

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	var tasks []model.BuildTask
	if err := db.WithContext(c.Request.Context()).
		Order("created_at desc").
		Limit(limit).
		Find(&tasks).Error; err != nil {
		logger.Error("Failed to list build tasks", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "QUERY_FAILED",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total": len(tasks),
		"tasks": tasks,
	})
}

// Health 健康检查
// @Summary 服务健康检查
// @Tags system
// @Produce json
// @Success 200 {object} gin.H "服务正常"
// @Router /api/v1/health [get]
func (h *BuildHandler) Health(c *gin.Context) {
	status := gin.H{
		"status":  "healthy",
		"service": "iosxrv-x64-vbox",
	}
	if database.GetDB() != nil {
		if err := database.Health(); err != nil {
			status["status"] = "degraded"
			status["database"] = err.Error()
		} else {
			status["database"] = "ok"
		}
	}
	c.JSON(http.StatusOK, status)
}
