package taskqueue

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/pdf-transcriber/internal/pipeline"
)

// TranscribeHandler 转写任务处理器
// 消费transcribe和classify任务并驱动流水线执行
type TranscribeHandler struct {
	pipeline *pipeline.Pipeline
	queue    Queue
	logger   *logrus.Logger
}

// NewTranscribeHandler 创建转写任务处理器
func NewTranscribeHandler(p *pipeline.Pipeline, queue Queue, logger *logrus.Logger) *TranscribeHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &TranscribeHandler{
		pipeline: p,
		queue:    queue,
		logger:   logger,
	}
}

// GetTaskTypes 返回此处理器支持的任务类型
func (h *TranscribeHandler) GetTaskTypes() []TaskType {
	return []TaskType{TaskTranscribe, TaskClassify}
}

// ProcessTask 处理任务
func (h *TranscribeHandler) ProcessTask(ctx context.Context, task *Task) error {
	switch task.Type {
	case TaskTranscribe:
		return h.processTranscribe(ctx, task)
	case TaskClassify:
		return h.processClassify(ctx, task)
	default:
		return fmt.Errorf("unsupported task type: %s", task.Type)
	}
}

// processTranscribe 执行完整转写
// 流水线级致命错误返回error触发队列重试，分块级失败进入结果
func (h *TranscribeHandler) processTranscribe(ctx context.Context, task *Task) error {
	var payload TranscribePayload
	if err := UnmarshalPayload(task.Payload, &payload); err != nil {
		return fmt.Errorf("invalid transcribe payload: %w", err)
	}

	h.logger.WithFields(logrus.Fields{
		"task_id": task.ID,
		"input":   payload.InputPath,
	}).Info("Processing transcribe task")

	result, err := h.pipeline.Run(ctx, payload.InputPath)
	if err != nil {
		return fmt.Errorf("transcribe failed: %w", err)
	}

	taskResult := TranscribeResult{
		JobID:          result.JobID,
		Status:         string(result.Status),
		JobDir:         result.JobDir,
		PageCount:      result.Report.PageCount,
		ChunkCount:     result.Report.ChunkCount,
		FailedChunks:   result.Report.FailedChunks,
		ElapsedSeconds: result.Report.ElapsedSeconds,
		ShortCircuited: result.ShortCircuited,
	}

	return h.queue.UpdateTaskStatus(ctx, task.ID, StatusCompleted, taskResult, "")
}

// processClassify 只做质量探针和策略决策
func (h *TranscribeHandler) processClassify(ctx context.Context, task *Task) error {
	var payload TranscribePayload
	if err := UnmarshalPayload(task.Payload, &payload); err != nil {
		return fmt.Errorf("invalid classify payload: %w", err)
	}

	classification, err := h.pipeline.Classify(ctx, payload.InputPath)
	if err != nil {
		return fmt.Errorf("classify failed: %w", err)
	}

	return h.queue.UpdateTaskStatus(ctx, task.ID, StatusCompleted, classification, "")
}
