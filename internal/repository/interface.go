package repository

import "github.com/fyerfyer/pdf-transcriber/internal/models"

// JobRepository 任务历史仓储接口
// 负责任务记录的存储和检索，正确性不依赖数据库可用
type JobRepository interface {
	// Create 创建任务记录
	Create(job *models.JobRecord) error

	// Update 更新任务记录
	Update(job *models.JobRecord) error

	// GetByJobID 根据任务ID获取记录
	GetByJobID(jobID string) (*models.JobRecord, error)

	// List 列出任务记录，支持分页和按状态筛选
	List(offset, limit int, status models.JobStatus) ([]*models.JobRecord, int64, error)

	// UpdateStatus 更新任务状态和错误信息
	UpdateStatus(jobID string, status models.JobStatus, errorMsg string) error

	// Delete 删除任务记录
	Delete(jobID string) error
}
