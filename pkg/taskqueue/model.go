package taskqueue

import (
	"encoding/json"
	"errors"
	"time"
)

// TaskType 任务类型
type TaskType string

const (
	// TaskTranscribe 完整文档转写任务
	TaskTranscribe TaskType = "transcribe"
	// TaskClassify 只做质量探针和策略决策的任务
	TaskClassify TaskType = "classify"
)

// TaskStatus 任务状态
type TaskStatus string

const (
	// StatusPending 等待处理
	StatusPending TaskStatus = "pending"
	// StatusProcessing 处理中
	StatusProcessing TaskStatus = "processing"
	// StatusCompleted 已完成
	StatusCompleted TaskStatus = "completed"
	// StatusFailed 处理失败
	StatusFailed TaskStatus = "failed"
)

var (
	// ErrTaskNotFound 任务不存在
	ErrTaskNotFound = errors.New("task not found")
	// ErrTaskTimeout 等待任务完成超时
	ErrTaskTimeout = errors.New("timeout waiting for task")
)

// Task 队列任务
// 队列状态与任务目录产物解耦，任务的权威结果始终在任务目录里
type Task struct {
	ID          string          `json:"id"`           // 任务唯一标识符
	Type        TaskType        `json:"type"`         // 任务类型
	InputPath   string          `json:"input_path"`   // 输入文档路径
	Status      TaskStatus      `json:"status"`       // 任务状态
	Payload     json.RawMessage `json:"payload"`      // 任务载荷数据
	Result      json.RawMessage `json:"result"`       // 任务结果数据
	Error       string          `json:"error"`        // 错误信息（如果处理失败）
	CreatedAt   time.Time       `json:"created_at"`   // 创建时间
	UpdatedAt   time.Time       `json:"updated_at"`   // 更新时间
	StartedAt   *time.Time      `json:"started_at"`   // 开始处理时间
	CompletedAt *time.Time      `json:"completed_at"` // 完成时间
	Attempts    int             `json:"attempts"`     // 尝试次数
	MaxRetries  int             `json:"max_retries"`  // 最大重试次数
}

// TranscribePayload 转写任务载荷
type TranscribePayload struct {
	InputPath string `json:"input_path"` // 输入文档路径
}

// TranscribeResult 转写任务结果
type TranscribeResult struct {
	JobID          string  `json:"job_id"`          // 任务指纹
	Status         string  `json:"status"`          // 任务状态：success/partial/failed
	JobDir         string  `json:"job_dir"`         // 任务输出目录
	PageCount      int     `json:"page_count"`      // 文档页数
	ChunkCount     int     `json:"chunk_count"`     // 计划分块数
	FailedChunks   int     `json:"failed_chunks"`   // 失败分块数
	ElapsedSeconds float64 `json:"elapsed_seconds"` // 执行耗时
	ShortCircuited bool    `json:"short_circuited"` // 是否命中幂等短路
}

// MarshalPayload 序列化任务载荷
func MarshalPayload(payload interface{}) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(payload)
}

// UnmarshalPayload 反序列化任务载荷
func UnmarshalPayload(data json.RawMessage, out interface{}) error {
	return json.Unmarshal(data, out)
}
