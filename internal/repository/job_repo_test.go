package repository

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/fyerfyer/pdf-transcriber/internal/database"
	"github.com/fyerfyer/pdf-transcriber/internal/models"
)

func setupTestDB(t *testing.T) (*gorm.DB, func()) {
	// 使用唯一的内存数据库标识符
	dbName := fmt.Sprintf("file:memdb_%d?mode=memory", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dbName), &gorm.Config{})
	require.NoError(t, err, "Failed to open in-memory database")

	err = db.AutoMigrate(&models.JobRecord{})
	require.NoError(t, err, "Failed to run migrations")

	originalDB := database.DB
	database.DB = db

	cleanup := func() {
		database.DB = originalDB
	}

	return db, cleanup
}

func sampleJob(jobID string, status models.JobStatus) *models.JobRecord {
	return &models.JobRecord{
		JobID:      jobID,
		InputPath:  "/data/input.pdf",
		InputBytes: 1024,
		PageCount:  100,
		Tier:       models.TierHighText,
		Engine:     "native_text",
		Status:     status,
		ChunkCount: 3,
	}
}

func TestJobRepository_CreateAndGet(t *testing.T) {
	_, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewJobRepository()

	job := sampleJob("job-1", models.JobStatusRunning)
	require.NoError(t, repo.Create(job))
	assert.False(t, job.StartedAt.IsZero(), "创建时应自动填充开始时间")

	got, err := repo.GetByJobID("job-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", got.JobID)
	assert.Equal(t, models.TierHighText, got.Tier)
	assert.Equal(t, 3, got.ChunkCount)
}

func TestJobRepository_CreateEmptyID(t *testing.T) {
	_, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewJobRepository()
	err := repo.Create(&models.JobRecord{})
	assert.Error(t, err, "空任务ID不应入库")
}

func TestJobRepository_GetMissing(t *testing.T) {
	_, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewJobRepository()
	_, err := repo.GetByJobID("ghost")
	assert.True(t, errors.Is(err, models.ErrJobNotFound))
}

func TestJobRepository_UpdateStatus(t *testing.T) {
	_, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewJobRepository()
	require.NoError(t, repo.Create(sampleJob("job-1", models.JobStatusRunning)))

	require.NoError(t, repo.UpdateStatus("job-1", models.JobStatusPartial, "2 chunks failed"))

	got, err := repo.GetByJobID("job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPartial, got.Status)
	assert.Equal(t, "2 chunks failed", got.Error)
	assert.NotNil(t, got.FinishedAt, "终态应记录结束时间")

	err = repo.UpdateStatus("ghost", models.JobStatusFailed, "")
	assert.True(t, errors.Is(err, models.ErrJobNotFound))
}

func TestJobRepository_List(t *testing.T) {
	_, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewJobRepository()
	require.NoError(t, repo.Create(sampleJob("job-1", models.JobStatusSuccess)))
	require.NoError(t, repo.Create(sampleJob("job-2", models.JobStatusFailed)))
	require.NoError(t, repo.Create(sampleJob("job-3", models.JobStatusSuccess)))

	all, total, err := repo.List(0, 10, "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, all, 3)

	succeeded, total, err := repo.List(0, 10, models.JobStatusSuccess)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, succeeded, 2)

	paged, total, err := repo.List(0, 1, "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, paged, 1)
}

func TestJobRepository_Delete(t *testing.T) {
	_, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewJobRepository()
	require.NoError(t, repo.Create(sampleJob("job-1", models.JobStatusSuccess)))

	require.NoError(t, repo.Delete("job-1"))

	_, err := repo.GetByJobID("job-1")
	assert.True(t, errors.Is(err, models.ErrJobNotFound))

	assert.True(t, errors.Is(repo.Delete("job-1"), models.ErrJobNotFound))
}
