package handler

import (
	"errors"
	"net/http"

	"github.com/fyerfyer/pdf-transcriber/api/middleware"
	"github.com/fyerfyer/pdf-transcriber/api/model"
	"github.com/fyerfyer/pdf-transcriber/internal/models"
	"github.com/fyerfyer/pdf-transcriber/internal/repository"
	"github.com/fyerfyer/pdf-transcriber/pkg/taskqueue"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// JobHandler 处理转写作业相关的API请求
type JobHandler struct {
	queue  taskqueue.Queue          // 任务队列
	repo   repository.JobRepository // 作业历史仓储，可能为nil
	logger *logrus.Logger           // 日志记录器
}

// NewJobHandler 创建新的作业处理器
// repo为nil时作业历史相关的接口返回不可用错误
func NewJobHandler(queue taskqueue.Queue, repo repository.JobRepository) *JobHandler {
	return &JobHandler{
		queue:  queue,
		repo:   repo,
		logger: middleware.GetLogger(),
	}
}

// SubmitJob 提交转写任务
// POST /api/jobs
func (h *JobHandler) SubmitJob(c *gin.Context) {
	var req model.SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WithError(err).Warn("Invalid job submit request")
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			"无效的任务提交请求",
		))
		return
	}

	taskType := taskqueue.TaskTranscribe
	if req.Classify {
		taskType = taskqueue.TaskClassify
	}

	payload := &taskqueue.TranscribePayload{InputPath: req.InputPath}
	taskID, err := h.queue.Enqueue(c.Request.Context(), taskType, req.InputPath, payload)
	if err != nil {
		h.logger.WithError(err).WithField("input_path", req.InputPath).Error("Failed to enqueue task")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"任务入队失败: "+err.Error(),
		))
		return
	}

	h.logger.WithFields(logrus.Fields{
		"task_id":    taskID,
		"task_type":  taskType,
		"input_path": req.InputPath,
	}).Info("Task enqueued")

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.SubmitJobResponse{
		TaskID:    taskID,
		InputPath: req.InputPath,
		Status:    string(taskqueue.StatusPending),
	}))
}

// GetTaskStatus 获取队列任务状态
// GET /api/tasks/:id
func (h *JobHandler) GetTaskStatus(c *gin.Context) {
	taskID := c.Param("id")
	if taskID == "" {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			"任务ID不能为空",
		))
		return
	}

	task, err := h.queue.GetTask(c.Request.Context(), taskID)
	if err != nil {
		if errors.Is(err, taskqueue.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, model.NewErrorResponse(
				http.StatusNotFound,
				"任务未找到",
			))
			return
		}

		h.logger.WithError(err).WithField("task_id", taskID).Error("Failed to get task")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"获取任务状态失败: "+err.Error(),
		))
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.TaskStatusResponse{
		TaskID:      task.ID,
		Type:        string(task.Type),
		InputPath:   task.InputPath,
		Status:      string(task.Status),
		Result:      task.Result,
		Error:       task.Error,
		Attempts:    task.Attempts,
		CreatedAt:   task.CreatedAt,
		UpdatedAt:   task.UpdatedAt,
		CompletedAt: task.CompletedAt,
	}))
}

// GetJob 获取作业详情
// GET /api/jobs/:id
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("id")
	if jobID == "" {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			"作业ID不能为空",
		))
		return
	}

	if h.repo == nil {
		c.JSON(http.StatusServiceUnavailable, model.NewErrorResponse(
			http.StatusServiceUnavailable,
			"作业历史记录未启用",
		))
		return
	}

	record, err := h.repo.GetByJobID(jobID)
	if err != nil {
		if errors.Is(err, models.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, model.NewErrorResponse(
				http.StatusNotFound,
				"作业未找到",
			))
			return
		}

		h.logger.WithError(err).WithField("job_id", jobID).Error("Failed to get job record")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"获取作业失败: "+err.Error(),
		))
		return
	}

	resp := model.JobStatusResponse{JobInfo: jobInfoFromRecord(record)}
	if len(record.Report) > 0 {
		resp.Report = []byte(record.Report)
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(resp))
}

// ListJobs 获取作业列表
// GET /api/jobs
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req model.JobListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			"无效的分页参数",
		))
		return
	}

	if h.repo == nil {
		c.JSON(http.StatusServiceUnavailable, model.NewErrorResponse(
			http.StatusServiceUnavailable,
			"作业历史记录未启用",
		))
		return
	}

	page := req.GetPage()
	size := req.GetPageSize()
	offset := (page - 1) * size

	records, total, err := h.repo.List(offset, size, models.JobStatus(req.Status))
	if err != nil {
		h.logger.WithError(err).Error("Failed to list job records")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"获取作业列表失败: "+err.Error(),
		))
		return
	}

	jobs := make([]model.JobInfo, 0, len(records))
	for _, record := range records {
		jobs = append(jobs, jobInfoFromRecord(record))
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.JobListResponse{
		Total: total,
		Page:  page,
		Size:  size,
		Jobs:  jobs,
	}))
}

// jobInfoFromRecord 把数据库记录转换为API响应结构
func jobInfoFromRecord(record *models.JobRecord) model.JobInfo {
	return model.JobInfo{
		JobID:       record.JobID,
		InputPath:   record.InputPath,
		PageCount:   record.PageCount,
		Tier:        string(record.Tier),
		Engine:      record.Engine,
		Status:      string(record.Status),
		ChunkCount:  record.ChunkCount,
		FailedCount: record.FailedCount,
		JobDir:      record.JobDir,
		Error:       record.Error,
		StartedAt:   record.StartedAt,
		FinishedAt:  record.FinishedAt,
	}
}
