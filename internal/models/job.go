package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// JobStatus 任务整体状态类型
type JobStatus string

const (
	// JobStatusRunning 任务执行中
	JobStatusRunning JobStatus = "running"
	// JobStatusSuccess 全部分块成功
	JobStatusSuccess JobStatus = "success"
	// JobStatusPartial 部分分块失败但产出了尽力而为的转写结果
	JobStatusPartial JobStatus = "partial"
	// JobStatusFailed 任务致命失败，没有可用产出
	JobStatusFailed JobStatus = "failed"
)

// QualityTier 文档质量分级
type QualityTier string

const (
	// TierHighText 文本层完整，原生提取即可
	TierHighText QualityTier = "high_text"
	// TierMixedText 文本层部分可用，需要外部引擎按页补OCR
	TierMixedText QualityTier = "mixed_text"
	// TierScan 纯扫描件，整页强制OCR
	TierScan QualityTier = "scan"
	// TierAuto 未强制分级，由探针结果决定
	TierAuto QualityTier = "auto"
)

// JobRecord 任务历史数据模型
// 每次run产生一行，按任务指纹索引，保存分类、策略与最终报告
type JobRecord struct {
	ID          uint           `gorm:"primaryKey;autoIncrement"` // 主键ID
	JobID       string         `gorm:"not null;index;size:64"`   // 任务指纹（内容哈希+配置哈希）
	InputPath   string         `gorm:"not null"`                 // 输入文件路径
	InputBytes  int64          `gorm:"not null"`                 // 输入文件大小（字节）
	PageCount   int            `gorm:"not null"`                 // 页数
	Tier        QualityTier    `gorm:"size:20;index"`            // 分类结果
	Engine      string         `gorm:"size:40"`                  // 选择的提取引擎
	Status      JobStatus      `gorm:"not null;size:20;index"`   // 任务状态
	ChunkCount  int            `gorm:"not null;default:0"`       // 计划分块数
	FailedCount int            `gorm:"not null;default:0"`       // 失败分块数
	JobDir      string         `gorm:""`                         // 任务输出目录
	Report      datatypes.JSON `gorm:"type:json"`                // 最终报告，JSON格式
	Error       string         `gorm:"type:text"`                // 致命错误信息
	StartedAt   time.Time      `gorm:"not null;index"`           // 开始时间
	FinishedAt  *time.Time     `gorm:"index"`                    // 结束时间
	UpdatedAt   time.Time      `gorm:"not null"`                 // 更新时间
}

// BeforeCreate GORM的钩子函数，创建记录前自动设置时间
func (j *JobRecord) BeforeCreate(tx *gorm.DB) (err error) {
	if j.StartedAt.IsZero() {
		j.StartedAt = time.Now()
	}
	j.UpdatedAt = time.Now()
	return nil
}

// BeforeUpdate GORM的钩子函数，更新记录前自动设置更新时间
func (j *JobRecord) BeforeUpdate(tx *gorm.DB) (err error) {
	j.UpdatedAt = time.Now()
	return nil
}

// TableName 明确指定表名
func (JobRecord) TableName() string {
	return "job_records"
}
