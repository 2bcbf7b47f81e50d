package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/fyerfyer/pdf-transcriber/config"
	"github.com/fyerfyer/pdf-transcriber/internal/models"
	"github.com/fyerfyer/pdf-transcriber/internal/repository"
	"github.com/fyerfyer/pdf-transcriber/pkg/storage"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// createTestPDF 生成指定页数的PDF文件
func createTestPDF(t *testing.T, pages int) string {
	t.Helper()
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	for i := 1; i <= pages; i++ {
		pdf.AddPage()
		pdf.Cell(40, 10, fmt.Sprintf("page %d content", i))
	}
	path := filepath.Join(t.TempDir(), "input.pdf")
	require.NoError(t, pdf.OutputFileAndClose(path))
	return path
}

// okEngineScript 始终成功的模拟引擎
const okEngineScript = `input=$(cat)
case "$input" in
*'"cmd":"capabilities"'*)
  printf '%s\n' '{"ok":true,"engine_version":"fake-docling 2.0","supported_options":["do_table_structure","ocr_langs","num_threads"]}'
  ;;
*)
  idx=$(printf '%s' "$input" | sed 's/.*"chunk_index"://;s/,.*//')
  printf '{"ok":true,"markdown":"transcribed text %s"}\n' "$idx"
  ;;
esac`

// failChunk1Script 分块1固定失败的模拟引擎
const failChunk1Script = `input=$(cat)
case "$input" in
*'"cmd":"capabilities"'*)
  printf '%s\n' '{"ok":true,"engine_version":"fake-docling 2.0","supported_options":["do_table_structure"]}'
  ;;
*'"chunk_index":1,'*)
  printf '%s\n' '{"ok":false,"error":"simulated conversion failure"}'
  ;;
*)
  printf '%s\n' '{"ok":true,"markdown":"chunk content"}'
  ;;
esac`

// newTestConfig 配好临时目录和模拟引擎的配置
func newTestConfig(t *testing.T, engineScript string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.OutDir = filepath.Join(t.TempDir(), "out")
	cfg.Chunking.TargetPagesPerChunk = 2
	cfg.Chunking.MaxPagesPerChunk = 4
	cfg.Classification.ForcedTier = "scan"
	cfg.Executor.Concurrency = 2
	cfg.Logging.WriteToFile = false

	scriptPath := filepath.Join(t.TempDir(), "engine.sh")
	require.NoError(t, os.WriteFile(scriptPath, []byte("#!/bin/sh\n"+engineScript+"\n"), 0755))
	cfg.Engine.Command = []string{"/bin/sh", scriptPath}

	return cfg
}

func TestRunSuccess(t *testing.T) {
	cfg := newTestConfig(t, okEngineScript)
	input := createTestPDF(t, 5)

	p := New(cfg, testLogger())
	result, err := p.Run(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusSuccess, result.Status)
	assert.False(t, result.ShortCircuited)
	assert.Len(t, result.JobID, 64, "任务ID应为sha256十六进制")

	report := result.Report
	assert.Equal(t, 5, report.PageCount)
	assert.Equal(t, models.TierScan, report.Tier)
	assert.True(t, report.ForcedTier)
	assert.Equal(t, "docling", report.Engine)
	assert.Equal(t, "fake-docling 2.0", report.EngineVersion)
	assert.Equal(t, 3, report.ChunkCount, "5页按每块2页应分3块")
	assert.Equal(t, 0, report.FailedChunks)

	// 最终产物齐全
	for _, name := range []string{"transcript.md", "transcript.txt", "report.json", "effective_config.json"} {
		_, err := os.Stat(filepath.Join(result.JobDir, "final", name))
		assert.NoError(t, err, "产物应存在: %s", name)
	}

	// 分块工件落盘
	for i := 0; i < 3; i++ {
		_, err := os.Stat(filepath.Join(result.JobDir, "chunks", fmt.Sprintf("chunk_%05d.json", i)))
		assert.NoError(t, err)
	}

	// 合并顺序按分块序号
	md, err := os.ReadFile(filepath.Join(result.JobDir, "final", "transcript.md"))
	require.NoError(t, err)
	text := string(md)
	assert.Less(t, strings.Index(text, "transcribed text 0"), strings.Index(text, "transcribed text 1"))
	assert.Less(t, strings.Index(text, "transcribed text 1"), strings.Index(text, "transcribed text 2"))

	// 每个分块工件都带引擎忽略的选项信息
	for _, chunk := range report.Chunks {
		assert.Equal(t, "docling", chunk.Engine)
		assert.Contains(t, chunk.IgnoredFlags, "images_scale", "引擎不支持的选项应记录为已忽略")
		assert.NotContains(t, chunk.IgnoredFlags, "do_table_structure")
	}
}

func TestRunNativeHighText(t *testing.T) {
	cfg := newTestConfig(t, okEngineScript)
	cfg.Classification.ForcedTier = "high_text"
	input := createTestPDF(t, 2)

	p := New(cfg, testLogger())
	result, err := p.Run(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusSuccess, result.Status)
	assert.Equal(t, models.TierHighText, result.Report.Tier)
	assert.Equal(t, "native_text", result.Report.Engine)
	assert.Equal(t, 0, result.Report.FailedChunks)

	// 原生提取的转写内容来自PDF自身的文本层
	md, err := os.ReadFile(filepath.Join(result.JobDir, "final", "transcript.md"))
	require.NoError(t, err)
	assert.Contains(t, string(md), "page 1 content")
	assert.Contains(t, string(md), "page 2 content")
	assert.NotContains(t, string(md), "transcribed text", "高文本层文档不应走外部引擎")
}

func TestRunShortCircuit(t *testing.T) {
	cfg := newTestConfig(t, okEngineScript)
	input := createTestPDF(t, 5)

	p := New(cfg, testLogger())
	first, err := p.Run(context.Background(), input)
	require.NoError(t, err)
	require.False(t, first.ShortCircuited)

	second, err := p.Run(context.Background(), input)
	require.NoError(t, err)
	assert.True(t, second.ShortCircuited, "产物完整时重跑应直接短路")
	assert.Equal(t, first.JobID, second.JobID)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.Report.ChunkCount, second.Report.ChunkCount)
}

func TestRunPartialFailure(t *testing.T) {
	cfg := newTestConfig(t, failChunk1Script)
	input := createTestPDF(t, 5)

	p := New(cfg, testLogger())
	result, err := p.Run(context.Background(), input)
	require.NoError(t, err, "分块失败不应上升为任务错误")

	assert.Equal(t, models.JobStatusPartial, result.Status)
	assert.Equal(t, 1, result.Report.FailedChunks)

	md, err := os.ReadFile(filepath.Join(result.JobDir, "final", "transcript.md"))
	require.NoError(t, err)
	assert.Contains(t, string(md), "chunk 1", "失败分块应留下占位标记")
	assert.Contains(t, string(md), "unavailable")

	// 纯文本转写同样不能丢掉失败分块
	txt, err := os.ReadFile(filepath.Join(result.JobDir, "final", "transcript.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(txt), "chunk 1")
	assert.Contains(t, string(txt), "unavailable")
}

func TestRunConcurrentJobLogsIsolated(t *testing.T) {
	cfg := newTestConfig(t, okEngineScript)
	cfg.Logging.WriteToFile = true
	inputs := []string{createTestPDF(t, 3), createTestPDF(t, 5)}

	logger := testLogger()
	processOut := logger.Out
	p := New(cfg, logger)

	results := make([]*Result, len(inputs))
	errs := make([]error, len(inputs))
	var wg sync.WaitGroup
	for i, input := range inputs {
		wg.Add(1)
		go func(i int, input string) {
			defer wg.Done()
			results[i], errs[i] = p.Run(context.Background(), input)
		}(i, input)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.NotEqual(t, results[0].JobID, results[1].JobID)

	assert.Equal(t, processOut, logger.Out, "并发任务不应改动进程级logger的输出")

	// 每个任务的日志文件只包含自己的任务ID
	for i, result := range results {
		other := results[1-i]
		data, err := os.ReadFile(filepath.Join(result.JobDir, "logs", "job.log"))
		require.NoError(t, err)
		assert.Contains(t, string(data), shortID(result.JobID))
		assert.NotContains(t, string(data), shortID(other.JobID), "任务日志不应混入其他任务")
	}
}

func TestRunRejectsURLInput(t *testing.T) {
	cfg := newTestConfig(t, okEngineScript)

	p := New(cfg, testLogger())
	_, err := p.Run(context.Background(), "https://example.com/doc.pdf")
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrUnreadableInput))
}

func TestRunMissingInput(t *testing.T) {
	cfg := newTestConfig(t, okEngineScript)

	p := New(cfg, testLogger())
	_, err := p.Run(context.Background(), "/no/such/file.pdf")
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrUnreadableInput))
}

func TestRunEngineUnavailable(t *testing.T) {
	cfg := newTestConfig(t, okEngineScript)
	cfg.Engine.Command = []string{"/nonexistent/engine"}
	input := createTestPDF(t, 5)

	p := New(cfg, testLogger())
	_, err := p.Run(context.Background(), input)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrEngineUnavailable))
}

func TestRunRecordsJobHistory(t *testing.T) {
	cfg := newTestConfig(t, okEngineScript)
	input := createTestPDF(t, 5)

	dbName := fmt.Sprintf("file:memdb_%d?mode=memory", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dbName), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.JobRecord{}))
	repo := repository.NewJobRepositoryWithDB(db)

	p := New(cfg, testLogger()).WithRepository(repo)
	result, err := p.Run(context.Background(), input)
	require.NoError(t, err)

	record, err := repo.GetByJobID(result.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSuccess, record.Status)
	assert.Equal(t, 5, record.PageCount)
	assert.Equal(t, 3, record.ChunkCount)
	assert.Equal(t, models.TierScan, record.Tier)
	assert.NotNil(t, record.FinishedAt)
	assert.NotEmpty(t, record.Report, "最终报告应存入任务历史")
}

func TestRunArchivesFinalArtifacts(t *testing.T) {
	cfg := newTestConfig(t, okEngineScript)
	input := createTestPDF(t, 5)

	archive, err := storage.NewLocalStorage(storage.LocalConfig{Path: t.TempDir()})
	require.NoError(t, err)

	p := New(cfg, testLogger()).WithArchive(archive)
	result, err := p.Run(context.Background(), input)
	require.NoError(t, err)

	exists, err := archive.Exists(context.Background(), result.JobID+"/final/transcript.md")
	require.NoError(t, err)
	assert.True(t, exists, "最终产物应已归档")
}

func TestBuildPlanChunkingThresholds(t *testing.T) {
	cfg := newTestConfig(t, okEngineScript)
	cfg.Limits.RequireChunkingOverPages = 100
	input := createTestPDF(t, 5)

	p := New(cfg, testLogger())
	preview, err := p.PlanOnly(context.Background(), input)
	require.NoError(t, err)

	assert.Len(t, preview.Plan.Chunks, 1, "低于分块阈值的文档应折叠为单块")
	assert.Equal(t, 0, preview.Plan.Chunks[0].Start)
	assert.Equal(t, 5, preview.Plan.Chunks[0].End)
}

func TestClassify(t *testing.T) {
	cfg := newTestConfig(t, okEngineScript)
	input := createTestPDF(t, 5)

	p := New(cfg, testLogger())
	result, err := p.Classify(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, 5, result.Signal.PageCount)
	assert.Equal(t, models.TierScan, result.Policy.Tier, "强制分级应生效")
	assert.True(t, result.Policy.Forced)
}

func TestPlanOnlyDeterministic(t *testing.T) {
	cfg := newTestConfig(t, okEngineScript)
	input := createTestPDF(t, 5)

	p := New(cfg, testLogger())
	first, err := p.PlanOnly(context.Background(), input)
	require.NoError(t, err)
	second, err := p.PlanOnly(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, first.JobID, second.JobID, "同输入同配置应得到相同任务ID")
	assert.Equal(t, first.Plan, second.Plan)
	assert.False(t, first.AlreadyComplete)
}

func TestDoctor(t *testing.T) {
	cfg := newTestConfig(t, okEngineScript)

	p := New(cfg, testLogger())
	checks := p.Doctor(context.Background())
	require.Len(t, checks, 2)

	byName := make(map[string]CheckResult)
	for _, c := range checks {
		byName[c.Name] = c
	}

	assert.True(t, byName["out_dir"].OK)
	assert.True(t, byName["docling_engine"].OK)
	assert.Contains(t, byName["docling_engine"].Detail, "fake-docling 2.0")
}

func TestDoctorEngineDown(t *testing.T) {
	cfg := newTestConfig(t, okEngineScript)
	cfg.Engine.Command = []string{"/nonexistent/engine"}

	p := New(cfg, testLogger())
	checks := p.Doctor(context.Background())

	for _, c := range checks {
		if c.Name == "docling_engine" {
			assert.False(t, c.OK)
		}
	}
}
