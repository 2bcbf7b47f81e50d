package jobdir

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyerfyer/pdf-transcriber/config"
	"github.com/fyerfyer/pdf-transcriber/internal/models"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.OutDir = t.TempDir()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewManager(cfg, logger)
}

func TestEnsureLayout(t *testing.T) {
	m := newTestManager(t)

	layout, err := m.EnsureLayout("job123")
	require.NoError(t, err)

	for _, dir := range []string{layout.ChunksDir, layout.FinalDir, layout.LogsDir} {
		info, err := os.Stat(dir)
		require.NoError(t, err, "目录应已创建: %s", dir)
		assert.True(t, info.IsDir())
	}

	// 重复调用应幂等
	_, err = m.EnsureLayout("job123")
	assert.NoError(t, err)
}

func TestWriteJSONAtomic(t *testing.T) {
	m := newTestManager(t)
	layout, err := m.EnsureLayout("job123")
	require.NoError(t, err)

	path := filepath.Join(layout.FinalDir, "report.json")
	require.NoError(t, m.WriteJSON(path, map[string]int{"pages": 42}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"pages": 42`)

	// 不应留下临时文件
	entries, err := os.ReadDir(layout.FinalDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestChunkArtifactPath(t *testing.T) {
	m := newTestManager(t)
	layout, err := m.EnsureLayout("job123")
	require.NoError(t, err)

	path := m.ChunkArtifactPath(layout, 3)
	assert.Equal(t, "chunk_00003.json", filepath.Base(path))

	require.NoError(t, m.WriteChunkArtifact(layout, 3, map[string]string{"status": "success"}))
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestIndexLifecycle(t *testing.T) {
	m := newTestManager(t)

	assert.False(t, m.IsComplete("job123"), "未写入index前任务不应视为完整")

	layout, err := m.EnsureLayout("job123")
	require.NoError(t, err)

	index := &Index{
		JobID:      "job123",
		Status:     models.JobStatusSuccess,
		FinishedAt: time.Now().UTC(),
		Files:      []string{"final/transcript.md", "final/report.json"},
	}
	require.NoError(t, m.WriteIndex(layout, index))

	assert.True(t, m.IsComplete("job123"))

	got, err := m.ReadIndex("job123")
	require.NoError(t, err)
	assert.Equal(t, index.JobID, got.JobID)
	assert.Equal(t, index.Status, got.Status)
	assert.Equal(t, index.Files, got.Files)
}

func TestReadIndexMissing(t *testing.T) {
	m := newTestManager(t)

	_, err := m.ReadIndex("no-such-job")
	assert.True(t, errors.Is(err, models.ErrJobNotFound))
}

func TestReadFinalJSON(t *testing.T) {
	m := newTestManager(t)
	layout, err := m.EnsureLayout("job123")
	require.NoError(t, err)

	type report struct {
		Pages int `json:"pages"`
	}
	require.NoError(t, m.WriteJSON(filepath.Join(layout.FinalDir, "report.json"), report{Pages: 7}))

	var got report
	require.NoError(t, m.ReadFinalJSON("job123", "report.json", &got))
	assert.Equal(t, 7, got.Pages)

	err = m.ReadFinalJSON("job123", "missing.json", &got)
	assert.True(t, errors.Is(err, models.ErrJobNotFound))
}

func TestWriteJSONToMissingDir(t *testing.T) {
	m := newTestManager(t)

	err := m.WriteJSON(filepath.Join(m.JobDir("ghost"), "final", "report.json"), map[string]int{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrJobIO), "IO故障应包装为ErrJobIO")
}
