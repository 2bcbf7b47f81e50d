package taskqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// MemoryQueue 进程内任务队列
// 单机serve模式的默认实现，同时实现Queue和Worker
type MemoryQueue struct {
	cfg      *Config
	logger   *logrus.Logger
	mu       sync.RWMutex
	tasks    map[string]*Task
	byInput  map[string][]string
	jobs     chan string
	handlers map[TaskType]Handler
	done     chan struct{}
	wg       sync.WaitGroup
	started  bool
	closed   bool
}

// NewMemoryQueue 创建进程内任务队列
func NewMemoryQueue(cfg *Config) *MemoryQueue {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	return &MemoryQueue{
		cfg:      cfg,
		logger:   logger,
		tasks:    make(map[string]*Task),
		byInput:  make(map[string][]string),
		jobs:     make(chan string, 1024),
		handlers: make(map[TaskType]Handler),
		done:     make(chan struct{}),
	}
}

// Enqueue 将任务加入队列
func (q *MemoryQueue) Enqueue(ctx context.Context, taskType TaskType, inputPath string, payload interface{}) (string, error) {
	payloadBytes, err := MarshalPayload(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	task := &Task{
		ID:         uuid.New().String(),
		Type:       taskType,
		InputPath:  inputPath,
		Status:     StatusPending,
		Payload:    payloadBytes,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
		MaxRetries: q.cfg.RetryLimit,
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", fmt.Errorf("queue is closed")
	}
	q.tasks[task.ID] = task
	if inputPath != "" {
		q.byInput[inputPath] = append(q.byInput[inputPath], task.ID)
	}
	q.mu.Unlock()

	select {
	case q.jobs <- task.ID:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	return task.ID, nil
}

// GetTask 获取任务信息
func (q *MemoryQueue) GetTask(ctx context.Context, taskID string) (*Task, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}

	copied := *task
	return &copied, nil
}

// GetTasksByInput 获取同一输入文档的所有任务
func (q *MemoryQueue) GetTasksByInput(ctx context.Context, inputPath string) ([]*Task, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	ids := q.byInput[inputPath]
	tasks := make([]*Task, 0, len(ids))
	for _, id := range ids {
		if task, ok := q.tasks[id]; ok {
			copied := *task
			tasks = append(tasks, &copied)
		}
	}
	return tasks, nil
}

// WaitForTask 等待任务完成并返回结果
func (q *MemoryQueue) WaitForTask(ctx context.Context, taskID string, timeout time.Duration) (*Task, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		task, err := q.GetTask(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if task.Status == StatusCompleted || task.Status == StatusFailed {
			return task, nil
		}

		select {
		case <-ctx.Done():
			return nil, ErrTaskTimeout
		case <-ticker.C:
		}
	}
}

// UpdateTaskStatus 更新任务状态和结果
func (q *MemoryQueue) UpdateTaskStatus(ctx context.Context, taskID string, status TaskStatus, result interface{}, errorMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}

	now := time.Now()
	task.Status = status
	task.UpdatedAt = now

	if status == StatusProcessing && task.StartedAt == nil {
		task.StartedAt = &now
	}
	if status == StatusCompleted || status == StatusFailed {
		task.CompletedAt = &now
	}

	if result != nil {
		resultBytes, err := MarshalPayload(result)
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		task.Result = resultBytes
	}
	if errorMsg != "" {
		task.Error = errorMsg
	}
	return nil
}

// DeleteTask 删除任务
func (q *MemoryQueue) DeleteTask(ctx context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}

	delete(q.tasks, taskID)
	if task.InputPath != "" {
		ids := q.byInput[task.InputPath]
		for i, id := range ids {
			if id == taskID {
				q.byInput[task.InputPath] = append(ids[:i], ids[i+1:]...)
				break
			}
		}
	}
	return nil
}

// Close 关闭队列并停止工作者
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	started := q.started
	q.mu.Unlock()

	if started {
		close(q.done)
		q.wg.Wait()
	}
	return nil
}

// RegisterHandler 注册任务处理器
func (q *MemoryQueue) RegisterHandler(taskType TaskType, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[taskType] = handler
}

// Start 启动工作者协程
func (q *MemoryQueue) Start() error {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return fmt.Errorf("worker already started")
	}
	q.started = true
	concurrency := q.cfg.Concurrency
	q.mu.Unlock()

	if concurrency < 1 {
		concurrency = 1
	}

	for i := 0; i < concurrency; i++ {
		q.wg.Add(1)
		go q.workLoop()
	}
	return nil
}

// Stop 停止工作者
func (q *MemoryQueue) Stop() {
	_ = q.Close()
}

// workLoop 消费任务直到队列关闭
func (q *MemoryQueue) workLoop() {
	defer q.wg.Done()

	for {
		select {
		case <-q.done:
			return
		case taskID := <-q.jobs:
			q.process(taskID)
		}
	}
}

// process 执行单个任务，失败时按重试上限重新入队
func (q *MemoryQueue) process(taskID string) {
	ctx := context.Background()

	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return
	}

	q.mu.RLock()
	handler, ok := q.handlers[task.Type]
	q.mu.RUnlock()
	if !ok {
		_ = q.UpdateTaskStatus(ctx, taskID, StatusFailed, nil,
			fmt.Sprintf("no handler registered for task type %s", task.Type))
		return
	}

	q.mu.Lock()
	if stored, ok := q.tasks[taskID]; ok {
		stored.Attempts++
	}
	q.mu.Unlock()

	_ = q.UpdateTaskStatus(ctx, taskID, StatusProcessing, nil, "")

	if err := handler.ProcessTask(ctx, task); err != nil {
		current, getErr := q.GetTask(ctx, taskID)
		if getErr != nil {
			return
		}

		if current.Attempts <= current.MaxRetries {
			q.logger.WithFields(logrus.Fields{
				"task_id": taskID,
				"attempt": current.Attempts,
			}).WithError(err).Warn("task failed, requeueing")
			_ = q.UpdateTaskStatus(ctx, taskID, StatusPending, nil, err.Error())
			q.jobs <- taskID
			return
		}

		_ = q.UpdateTaskStatus(ctx, taskID, StatusFailed, nil, err.Error())
		return
	}

	// 处理器可能已经写入终态，只在仍是processing时补写completed
	if current, err := q.GetTask(ctx, taskID); err == nil && current.Status == StatusProcessing {
		_ = q.UpdateTaskStatus(ctx, taskID, StatusCompleted, nil, "")
	}
}
