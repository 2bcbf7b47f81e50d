package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/fyerfyer/pdf-transcriber/internal/database"
	"github.com/fyerfyer/pdf-transcriber/internal/models"
)

// jobRepository 任务历史仓储实现
type jobRepository struct {
	db *gorm.DB
}

// NewJobRepository 创建任务仓储实例
func NewJobRepository() JobRepository {
	return &jobRepository{db: database.MustDB()}
}

// NewJobRepositoryWithDB 使用指定的数据库连接创建任务仓储实例
func NewJobRepositoryWithDB(db *gorm.DB) JobRepository {
	if db == nil {
		db = database.MustDB()
	}
	return &jobRepository{db: db}
}

// Create 创建任务记录
func (r *jobRepository) Create(job *models.JobRecord) error {
	if job.JobID == "" {
		return errors.New("job ID cannot be empty")
	}
	return r.db.Create(job).Error
}

// Update 更新任务记录
func (r *jobRepository) Update(job *models.JobRecord) error {
	if job.JobID == "" {
		return errors.New("job ID cannot be empty")
	}
	return r.db.Save(job).Error
}

// GetByJobID 根据任务ID获取最近一次记录
func (r *jobRepository) GetByJobID(jobID string) (*models.JobRecord, error) {
	var job models.JobRecord
	err := r.db.Where("job_id = ?", jobID).Order("started_at DESC").First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrJobNotFound
		}
		return nil, err
	}
	return &job, nil
}

// List 列出任务记录，status为空时不筛选
func (r *jobRepository) List(offset, limit int, status models.JobStatus) ([]*models.JobRecord, int64, error) {
	var jobs []*models.JobRecord
	var total int64

	query := r.db.Model(&models.JobRecord{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.Order("started_at DESC").Offset(offset).Limit(limit).Find(&jobs).Error
	if err != nil {
		return nil, 0, err
	}

	return jobs, total, nil
}

// UpdateStatus 更新任务状态和错误信息
func (r *jobRepository) UpdateStatus(jobID string, status models.JobStatus, errorMsg string) error {
	updates := map[string]interface{}{
		"status":     status,
		"error":      errorMsg,
		"updated_at": time.Now(),
	}
	if status != models.JobStatusRunning {
		now := time.Now()
		updates["finished_at"] = &now
	}

	result := r.db.Model(&models.JobRecord{}).Where("job_id = ?", jobID).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrJobNotFound
	}
	return nil
}

// Delete 删除任务记录
func (r *jobRepository) Delete(jobID string) error {
	result := r.db.Where("job_id = ?", jobID).Delete(&models.JobRecord{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrJobNotFound
	}
	return nil
}
