package taskqueue

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyerfyer/pdf-transcriber/config"
	"github.com/fyerfyer/pdf-transcriber/internal/pipeline"
)

// newTestPipeline 配好模拟引擎的流水线
func newTestPipeline(t *testing.T) *pipeline.Pipeline {
	t.Helper()

	script := `input=$(cat)
case "$input" in
*'"cmd":"capabilities"'*)
  printf '%s\n' '{"ok":true,"engine_version":"fake 1.0","supported_options":["do_table_structure"]}'
  ;;
*)
  printf '%s\n' '{"ok":true,"markdown":"chunk content"}'
  ;;
esac`
	scriptPath := filepath.Join(t.TempDir(), "engine.sh")
	require.NoError(t, os.WriteFile(scriptPath, []byte("#!/bin/sh\n"+script+"\n"), 0755))

	cfg := config.Default()
	cfg.Paths.OutDir = filepath.Join(t.TempDir(), "out")
	cfg.Classification.ForcedTier = "scan"
	cfg.Engine.Command = []string{"/bin/sh", scriptPath}
	cfg.Logging.WriteToFile = false

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return pipeline.New(cfg, logger)
}

func createHandlerTestPDF(t *testing.T, pages int) string {
	t.Helper()
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	for i := 1; i <= pages; i++ {
		pdf.AddPage()
		pdf.Cell(40, 10, fmt.Sprintf("page %d", i))
	}
	path := filepath.Join(t.TempDir(), "input.pdf")
	require.NoError(t, pdf.OutputFileAndClose(path))
	return path
}

func TestTranscribeHandlerEndToEnd(t *testing.T) {
	p := newTestPipeline(t)
	input := createHandlerTestPDF(t, 3)

	q := NewMemoryQueue(DefaultConfig())
	t.Cleanup(func() { _ = q.Close() })

	handler := NewTranscribeHandler(p, q, nil)
	for _, taskType := range handler.GetTaskTypes() {
		q.RegisterHandler(taskType, handler)
	}
	require.NoError(t, q.Start())

	ctx := context.Background()
	taskID, err := q.Enqueue(ctx, TaskTranscribe, input, TranscribePayload{InputPath: input})
	require.NoError(t, err)

	task, err := q.WaitForTask(ctx, taskID, 30*time.Second)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, task.Status, "任务应成功完成: %s", task.Error)

	var result TranscribeResult
	require.NoError(t, UnmarshalPayload(task.Result, &result))
	assert.Equal(t, "success", result.Status)
	assert.Equal(t, 3, result.PageCount)
	assert.NotEmpty(t, result.JobID)

	// 产物应落在任务目录
	_, err = os.Stat(filepath.Join(result.JobDir, "final", "transcript.md"))
	assert.NoError(t, err)
}

func TestClassifyHandler(t *testing.T) {
	p := newTestPipeline(t)
	input := createHandlerTestPDF(t, 3)

	q := NewMemoryQueue(DefaultConfig())
	t.Cleanup(func() { _ = q.Close() })

	handler := NewTranscribeHandler(p, q, nil)
	q.RegisterHandler(TaskClassify, handler)
	require.NoError(t, q.Start())

	ctx := context.Background()
	taskID, err := q.Enqueue(ctx, TaskClassify, input, TranscribePayload{InputPath: input})
	require.NoError(t, err)

	task, err := q.WaitForTask(ctx, taskID, 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, task.Status)
	assert.NotEmpty(t, task.Result)
}

func TestTranscribeHandlerBadPayload(t *testing.T) {
	p := newTestPipeline(t)

	q := NewMemoryQueue(DefaultConfig())
	t.Cleanup(func() { _ = q.Close() })

	handler := NewTranscribeHandler(p, q, nil)
	err := handler.ProcessTask(context.Background(), &Task{
		ID:      "t1",
		Type:    TaskTranscribe,
		Payload: []byte("not json"),
	})
	assert.Error(t, err)
}
