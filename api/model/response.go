package model

import (
	"encoding/json"
	"time"
)

// Response 通用响应结构
type Response struct {
	Code    int         `json:"code"`               // 响应状态码，0表示成功
	Message string      `json:"message"`            // 响应消息
	Data    interface{} `json:"data,omitempty"`     // 响应数据，可能为空
	TraceID string      `json:"trace_id,omitempty"` // 调用链追踪ID
}

// NewSuccessResponse 创建成功响应
func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Code:    0,
		Message: "success",
		Data:    data,
	}
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(code int, message string) *Response {
	return &Response{
		Code:    code,
		Message: message,
	}
}

// SubmitJobResponse 任务提交响应
type SubmitJobResponse struct {
	TaskID    string `json:"task_id"`    // 队列任务ID
	InputPath string `json:"input_path"` // 输入文档路径
	Status    string `json:"status"`     // 任务状态
}

// TaskStatusResponse 任务状态响应
type TaskStatusResponse struct {
	TaskID      string          `json:"task_id"`                // 任务ID
	Type        string          `json:"type"`                   // 任务类型
	InputPath   string          `json:"input_path"`             // 输入文档路径
	Status      string          `json:"status"`                 // 任务状态
	Result      json.RawMessage `json:"result,omitempty"`       // 任务结果
	Error       string          `json:"error,omitempty"`        // 错误信息
	Attempts    int             `json:"attempts"`               // 尝试次数
	CreatedAt   time.Time       `json:"created_at"`             // 创建时间
	UpdatedAt   time.Time       `json:"updated_at"`             // 更新时间
	CompletedAt *time.Time      `json:"completed_at,omitempty"` // 完成时间
}

// JobInfo 作业信息
type JobInfo struct {
	JobID       string     `json:"job_id"`                // 作业ID
	InputPath   string     `json:"input_path"`            // 输入文档路径
	PageCount   int        `json:"page_count"`            // 页数
	Tier        string     `json:"tier"`                  // 文档质量分级
	Engine      string     `json:"engine"`                // 使用的转写引擎
	Status      string     `json:"status"`                // 作业状态
	ChunkCount  int        `json:"chunk_count"`           // 分块数量
	FailedCount int        `json:"failed_count"`          // 失败分块数
	JobDir      string     `json:"job_dir"`               // 作业目录
	Error       string     `json:"error,omitempty"`       // 错误信息
	StartedAt   time.Time  `json:"started_at"`            // 开始时间
	FinishedAt  *time.Time `json:"finished_at,omitempty"` // 结束时间
}

// JobStatusResponse 作业状态响应
type JobStatusResponse struct {
	JobInfo
	Report json.RawMessage `json:"report,omitempty"` // 作业报告
}

// JobListResponse 作业列表响应
type JobListResponse struct {
	Total int64     `json:"total"` // 总记录数
	Page  int       `json:"page"`  // 当前页码
	Size  int       `json:"size"`  // 每页大小
	Jobs  []JobInfo `json:"jobs"`  // 作业列表
}
