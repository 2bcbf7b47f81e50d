package chunker

import (
	"path/filepath"
	"testing"

	"github.com/jung-kurt/gofpdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyerfyer/pdf-transcriber/config"
)

func createTestPDF(t *testing.T, pages int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.pdf")

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	for i := 0; i < pages; i++ {
		pdf.AddPage()
		pdf.Cell(40, 10, "test page")
	}
	require.NoError(t, pdf.OutputFileAndClose(path))
	return path
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

// TestMaterializePhysicalSplit 测试物理拆分物化
func TestMaterializePhysicalSplit(t *testing.T) {
	cfg := config.Default()
	cfg.Chunking.Strategy = "physical_split"
	cfg.Chunking.TargetPagesPerChunk = 2
	cfg.Chunking.MaxPagesPerChunk = 4

	input := createTestPDF(t, 5)
	chunksDir := t.TempDir()

	plan := BuildPlan(cfg, 5)
	require.Len(t, plan.Chunks, 3)

	splitter := NewSplitter(cfg, testLogger())
	inputs, err := splitter.Materialize(plan, input, chunksDir)
	require.NoError(t, err)
	require.Len(t, inputs, 3)

	for i, in := range inputs {
		assert.True(t, in.TempFile)
		assert.False(t, in.UsePageRange)
		assert.NotEqual(t, input, in.InputPDF, "物理拆分应产生独立子文档")

		count, err := api.PageCountFile(in.InputPDF)
		require.NoError(t, err)
		assert.Equal(t, plan.Chunks[i].Pages(), count)
	}
}

// TestMaterializePageRange 测试page_range策略不做物化
func TestMaterializePageRange(t *testing.T) {
	cfg := config.Default()
	cfg.Chunking.Strategy = "page_range"
	cfg.Chunking.TargetPagesPerChunk = 2
	cfg.Chunking.MaxPagesPerChunk = 4

	input := createTestPDF(t, 5)
	plan := BuildPlan(cfg, 5)

	splitter := NewSplitter(cfg, testLogger())
	inputs, err := splitter.Materialize(plan, input, t.TempDir())
	require.NoError(t, err)

	for _, in := range inputs {
		assert.Equal(t, input, in.InputPDF, "page_range策略直接引用原文件")
		assert.True(t, in.UsePageRange)
		assert.False(t, in.TempFile)
	}
}

// TestMaterializeSingleChunk 测试单块计划不做物理拆分
func TestMaterializeSingleChunk(t *testing.T) {
	cfg := config.Default()
	input := createTestPDF(t, 2)

	plan := SinglePlan(2, StrategyPhysicalSplit)
	splitter := NewSplitter(cfg, testLogger())
	inputs, err := splitter.Materialize(plan, input, t.TempDir())
	require.NoError(t, err)
	require.Len(t, inputs, 1)
	assert.Equal(t, input, inputs[0].InputPDF)
	assert.False(t, inputs[0].UsePageRange)
}

// TestMaterializeFallback 测试物理拆分失败时回退page_range
func TestMaterializeFallback(t *testing.T) {
	cfg := config.Default()
	cfg.Chunking.Strategy = "physical_split"
	cfg.Chunking.TargetPagesPerChunk = 2
	cfg.Chunking.MaxPagesPerChunk = 4

	// 输入不是合法PDF，物理拆分必然失败
	plan := BuildPlan(cfg, 5)
	splitter := NewSplitter(cfg, testLogger())
	inputs, err := splitter.Materialize(plan, filepath.Join(t.TempDir(), "missing.pdf"), t.TempDir())
	require.NoError(t, err, "回退后不应报错")
	require.Len(t, inputs, 5/2+1)

	for _, in := range inputs {
		assert.False(t, in.TempFile)
		assert.True(t, in.UsePageRange, "回退后应使用页区间寻址")
	}
}
