package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fyerfyer/pdf-transcriber/api/handler"
	"github.com/fyerfyer/pdf-transcriber/api/model"
	"github.com/fyerfyer/pdf-transcriber/internal/database"
	"github.com/fyerfyer/pdf-transcriber/internal/models"
	"github.com/fyerfyer/pdf-transcriber/internal/repository"
	"github.com/fyerfyer/pdf-transcriber/pkg/taskqueue"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// 测试环境配置
type testEnv struct {
	Router *gin.Engine
	Queue  *taskqueue.MemoryQueue
	Repo   repository.JobRepository
}

// 创建测试环境
// 队列不启动worker，入队的任务保持pending状态
func setupTestEnv(t *testing.T) *testEnv {
	// 设置测试模式
	gin.SetMode(gin.TestMode)

	// 创建内存队列
	queue := taskqueue.NewMemoryQueue(taskqueue.DefaultConfig())
	t.Cleanup(func() {
		_ = queue.Close()
	})

	// 创建内存数据库
	dsn := fmt.Sprintf("file:apidb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err, "无法创建内存数据库")
	require.NoError(t, db.AutoMigrate(&models.JobRecord{}), "无法迁移数据表")

	// 替换全局数据库连接
	oldDB := database.DB
	database.DB = db
	t.Cleanup(func() {
		database.DB = oldDB
	})

	repo := repository.NewJobRepositoryWithDB(db)

	jobHandler := handler.NewJobHandler(queue, repo)
	router := SetupRouter(jobHandler)

	return &testEnv{
		Router: router,
		Queue:  queue,
		Repo:   repo,
	}
}

// 执行请求并解析通用响应
func performRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}) (*httptest.ResponseRecorder, *model.Response) {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp model.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "响应不是合法的JSON")
	return w, &resp
}

// 把响应的Data字段重新解析为目标结构
func decodeData(t *testing.T, resp *model.Response, out interface{}) {
	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, out))
}

func seedJobRecord(t *testing.T, repo repository.JobRepository, jobID string, status models.JobStatus) {
	report, _ := json.Marshal(map[string]interface{}{"job_id": jobID, "status": string(status)})
	err := repo.Create(&models.JobRecord{
		JobID:      jobID,
		InputPath:  "/data/input.pdf",
		InputBytes: 2048,
		PageCount:  12,
		Tier:       models.TierHighText,
		Engine:     "native_text",
		Status:     status,
		ChunkCount: 3,
		JobDir:     "/out/" + jobID,
		Report:     datatypes.JSON(report),
		StartedAt:  time.Now(),
	})
	require.NoError(t, err, "无法写入作业记录")
}

func TestSubmitJobAndGetTaskStatus(t *testing.T) {
	env := setupTestEnv(t)

	w, resp := performRequest(t, env.Router, http.MethodPost, "/api/jobs",
		model.SubmitJobRequest{InputPath: "/data/input.pdf"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, resp.Code)

	var submit model.SubmitJobResponse
	decodeData(t, resp, &submit)
	require.NotEmpty(t, submit.TaskID, "任务ID不能为空")
	assert.Equal(t, "/data/input.pdf", submit.InputPath)
	assert.Equal(t, string(taskqueue.StatusPending), submit.Status)

	// 任务应当可以通过任务接口查询到
	w, resp = performRequest(t, env.Router, http.MethodGet, "/api/tasks/"+submit.TaskID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var task model.TaskStatusResponse
	decodeData(t, resp, &task)
	assert.Equal(t, submit.TaskID, task.TaskID)
	assert.Equal(t, string(taskqueue.TaskTranscribe), task.Type)
	assert.Equal(t, string(taskqueue.StatusPending), task.Status)
	assert.Equal(t, "/data/input.pdf", task.InputPath)
}

func TestSubmitJobClassifyOnly(t *testing.T) {
	env := setupTestEnv(t)

	w, resp := performRequest(t, env.Router, http.MethodPost, "/api/jobs",
		model.SubmitJobRequest{InputPath: "/data/input.pdf", Classify: true})
	require.Equal(t, http.StatusOK, w.Code)

	var submit model.SubmitJobResponse
	decodeData(t, resp, &submit)

	task, err := env.Queue.GetTask(context.Background(), submit.TaskID)
	require.NoError(t, err)
	assert.Equal(t, taskqueue.TaskClassify, task.Type)
}

func TestSubmitJobMissingInput(t *testing.T) {
	env := setupTestEnv(t)

	w, resp := performRequest(t, env.Router, http.MethodPost, "/api/jobs", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotEqual(t, 0, resp.Code)
}

func TestGetTaskStatusNotFound(t *testing.T) {
	env := setupTestEnv(t)

	w, _ := performRequest(t, env.Router, http.MethodGet, "/api/tasks/no-such-task", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetJob(t *testing.T) {
	env := setupTestEnv(t)
	seedJobRecord(t, env.Repo, "job-aaa", models.JobStatusSuccess)

	w, resp := performRequest(t, env.Router, http.MethodGet, "/api/jobs/job-aaa", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var job model.JobStatusResponse
	decodeData(t, resp, &job)
	assert.Equal(t, "job-aaa", job.JobID)
	assert.Equal(t, "success", job.Status)
	assert.Equal(t, 12, job.PageCount)
	assert.Equal(t, "high_text", job.Tier)
	require.NotEmpty(t, job.Report, "作业报告不能为空")

	var report map[string]interface{}
	require.NoError(t, json.Unmarshal(job.Report, &report))
	assert.Equal(t, "job-aaa", report["job_id"])
}

func TestGetJobNotFound(t *testing.T) {
	env := setupTestEnv(t)

	w, _ := performRequest(t, env.Router, http.MethodGet, "/api/jobs/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListJobs(t *testing.T) {
	env := setupTestEnv(t)
	seedJobRecord(t, env.Repo, "job-1", models.JobStatusSuccess)
	seedJobRecord(t, env.Repo, "job-2", models.JobStatusFailed)
	seedJobRecord(t, env.Repo, "job-3", models.JobStatusSuccess)

	w, resp := performRequest(t, env.Router, http.MethodGet, "/api/jobs", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var list model.JobListResponse
	decodeData(t, resp, &list)
	assert.Equal(t, int64(3), list.Total)
	assert.Len(t, list.Jobs, 3)

	// 按状态过滤
	w, resp = performRequest(t, env.Router, http.MethodGet, "/api/jobs?status=success", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decodeData(t, resp, &list)
	assert.Equal(t, int64(2), list.Total)
	for _, job := range list.Jobs {
		assert.Equal(t, "success", job.Status)
	}

	// 分页
	w, resp = performRequest(t, env.Router, http.MethodGet, "/api/jobs?page=1&page_size=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decodeData(t, resp, &list)
	assert.Equal(t, int64(3), list.Total)
	assert.Len(t, list.Jobs, 2)
	assert.Equal(t, 2, list.Size)
}

func TestJobHistoryDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)

	queue := taskqueue.NewMemoryQueue(taskqueue.DefaultConfig())
	defer queue.Close()

	jobHandler := handler.NewJobHandler(queue, nil)
	router := SetupRouter(jobHandler)

	w, _ := performRequest(t, router, http.MethodGet, "/api/jobs/job-1", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w, _ = performRequest(t, router, http.MethodGet, "/api/jobs", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHealthCheck(t *testing.T) {
	env := setupTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	env.Router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestTraceIDHeader(t *testing.T) {
	env := setupTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	env.Router.ServeHTTP(w, req)
	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"), "响应应当带有追踪ID")

	// 客户端传入的追踪ID应当原样返回
	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Trace-ID", "trace-123")
	w = httptest.NewRecorder()
	env.Router.ServeHTTP(w, req)
	assert.Equal(t, "trace-123", w.Header().Get("X-Trace-ID"))
}
