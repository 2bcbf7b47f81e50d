package taskqueue

import (
	"context"
	"fmt"
	"time"
)

// Queue 任务队列接口
// 负责任务的入队、状态查询和结果等待
type Queue interface {
	// Enqueue 将任务加入队列
	Enqueue(ctx context.Context, taskType TaskType, inputPath string, payload interface{}) (string, error)

	// GetTask 获取任务信息
	GetTask(ctx context.Context, taskID string) (*Task, error)

	// GetTasksByInput 获取同一输入文档的所有任务
	GetTasksByInput(ctx context.Context, inputPath string) ([]*Task, error)

	// WaitForTask 等待任务完成并返回结果
	// timeout为0表示不设置超时
	WaitForTask(ctx context.Context, taskID string, timeout time.Duration) (*Task, error)

	// UpdateTaskStatus 更新任务状态和结果
	UpdateTaskStatus(ctx context.Context, taskID string, status TaskStatus, result interface{}, errorMsg string) error

	// DeleteTask 删除任务
	DeleteTask(ctx context.Context, taskID string) error

	// Close 关闭队列连接
	Close() error
}

// Handler 任务处理器接口
type Handler interface {
	// ProcessTask 处理任务
	ProcessTask(ctx context.Context, task *Task) error

	// GetTaskTypes 返回此处理器支持的任务类型
	GetTaskTypes() []TaskType
}

// Worker 工作者接口
// 运行一组Handler来消费队列中的任务
type Worker interface {
	// RegisterHandler 注册任务处理器
	RegisterHandler(taskType TaskType, handler Handler)

	// Start 启动工作者，开始处理任务
	Start() error

	// Stop 停止工作者
	Stop()
}

// Config 队列配置
type Config struct {
	Type          string        // 队列类型：memory 或 redis
	RedisAddr     string        // Redis地址
	RedisPassword string        // Redis密码
	RedisDB       int           // Redis数据库
	Concurrency   int           // 并发处理任务数
	RetryLimit    int           // 队列级最大重试次数
	RetryDelay    time.Duration // 重试延迟
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Type:        "memory",
		RedisAddr:   "localhost:6379",
		Concurrency: 2,
		RetryLimit:  1,
		RetryDelay:  30 * time.Second,
	}
}

// NewQueue 根据配置创建队列实例
func NewQueue(cfg *Config) (Queue, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	switch cfg.Type {
	case "", "memory":
		return NewMemoryQueue(cfg), nil
	case "redis":
		return NewRedisQueue(cfg)
	default:
		return nil, fmt.Errorf("unsupported queue type: %s", cfg.Type)
	}
}
