package pdfinfo

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jung-kurt/gofpdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyerfyer/pdf-transcriber/config"
	"github.com/fyerfyer/pdf-transcriber/internal/models"
)

// createTempPDF 生成一个多页测试PDF，每页写入对应的文本
func createTempPDF(t *testing.T, pageTexts []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.pdf")

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	for _, text := range pageTexts {
		pdf.AddPage()
		pdf.MultiCell(0, 10, text, "", "", false)
	}
	require.NoError(t, pdf.OutputFileAndClose(path))
	return path
}

// TestProbeTextPDF 测试文本PDF的探针统计
func TestProbeTextPDF(t *testing.T) {
	cfg := config.Default()
	dense := strings.Repeat("This page is full of embedded text content. ", 40)
	path := createTempPDF(t, []string{dense, dense, dense})

	signal, err := Probe(cfg, path)
	require.NoError(t, err)

	assert.Equal(t, 3, signal.PageCount)
	assert.Equal(t, 3, signal.SampledPages)
	assert.Greater(t, signal.AvgCharsPerPage, 0, "文本页应该有非零字符统计")
	assert.Len(t, signal.Pages, 3)
	assert.Greater(t, signal.FileBytes, int64(0))
}

// TestProbeUnreadableInput 测试无法解析的输入返回ErrUnreadableInput
func TestProbeUnreadableInput(t *testing.T) {
	cfg := config.Default()
	path := filepath.Join(t.TempDir(), "broken.pdf")
	require.NoError(t, os.WriteFile(path, []byte("this is not a pdf at all"), 0644))

	_, err := Probe(cfg, path)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrUnreadableInput)
}

// TestProbeLimits 测试输入限制检查
func TestProbeLimits(t *testing.T) {
	t.Run("max file bytes", func(t *testing.T) {
		cfg := config.Default()
		cfg.Limits.MaxInputFileBytes = 10

		path := createTempPDF(t, []string{"page one"})
		_, err := Probe(cfg, path)
		assert.Error(t, err)
		assert.NotErrorIs(t, err, models.ErrUnreadableInput, "超限不是解析失败")
	})

	t.Run("max pages", func(t *testing.T) {
		cfg := config.Default()
		cfg.Limits.MaxInputPages = 2

		path := createTempPDF(t, []string{"a", "b", "c"})
		_, err := Probe(cfg, path)
		assert.Error(t, err)
	})
}

// TestProbeSampling 测试采样页数不超过配置
func TestProbeSampling(t *testing.T) {
	cfg := config.Default()
	cfg.Classification.SamplePages = 2

	texts := make([]string, 6)
	for i := range texts {
		texts[i] = "sample page text"
	}
	path := createTempPDF(t, texts)

	signal, err := Probe(cfg, path)
	require.NoError(t, err)
	assert.Equal(t, 6, signal.PageCount)
	assert.LessOrEqual(t, signal.SampledPages, 2)
	// 采样应覆盖首尾
	assert.Equal(t, 1, signal.Pages[0].Page)
	assert.Equal(t, 6, signal.Pages[len(signal.Pages)-1].Page)
}

// TestSamplePages 测试均匀采样的边界情况
func TestSamplePages(t *testing.T) {
	assert.Equal(t, []int{1}, samplePages(1, 12))
	assert.Equal(t, []int{1, 2, 3}, samplePages(3, 12))
	assert.Equal(t, []int{1, 10}, samplePages(10, 2))

	pages := samplePages(100, 5)
	assert.Len(t, pages, 5)
	assert.Equal(t, 1, pages[0])
	assert.Equal(t, 100, pages[len(pages)-1])
}

// TestExtractRangeText 测试原生文本路径的页区间提取
func TestExtractRangeText(t *testing.T) {
	cfg := config.Default()
	path := createTempPDF(t, []string{
		"first page marker alpha",
		"second page marker beta",
		"third page marker gamma",
	})

	text, err := ExtractRangeText(cfg, path, 0, 2)
	require.NoError(t, err)
	assert.Contains(t, text, "alpha")
	assert.Contains(t, text, "beta")
	assert.NotContains(t, text, "gamma", "区间外的页不应被提取")
}

// TestExtractRangeTextLightMarkdown 测试轻量Markdown页标题
func TestExtractRangeTextLightMarkdown(t *testing.T) {
	cfg := config.Default()
	cfg.NativeText.LightMarkdown = true
	path := createTempPDF(t, []string{"page body"})

	text, err := ExtractRangeText(cfg, path, 0, 1)
	require.NoError(t, err)
	assert.Contains(t, text, "## Page 1")
}

// TestNormalizeText 测试文本归一化
func TestNormalizeText(t *testing.T) {
	cfg := config.Default()

	t.Run("fix hyphenation", func(t *testing.T) {
		out := NormalizeText(cfg, "exam-\nple")
		assert.Equal(t, "example", out)
	})

	t.Run("collapse whitespace", func(t *testing.T) {
		out := NormalizeText(cfg, "a\t\t b   c  ")
		assert.Equal(t, "a b c", out)
	})

	t.Run("disabled", func(t *testing.T) {
		cfg2 := config.Default()
		cfg2.NativeText.FixHyphenation = false
		cfg2.NativeText.CollapseWhitespace = false
		cfg2.NativeText.NormalizeUnicode = false
		out := NormalizeText(cfg2, "exam-\nple  ")
		assert.Equal(t, "exam-\nple  ", out)
	})
}

// TestSplitRange 测试物理拆分出的子文档独立可打开且页数正确
func TestSplitRange(t *testing.T) {
	path := createTempPDF(t, []string{"p1", "p2", "p3", "p4", "p5"})
	outPath := filepath.Join(t.TempDir(), ChunkFilename(0, 1, 3))

	require.NoError(t, SplitRange(path, outPath, 1, 3))

	count, err := api.PageCountFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, 2, count, "子文档应该恰好包含区间内的页")
}

// TestSplitRangeInvalid 测试非法区间
func TestSplitRangeInvalid(t *testing.T) {
	path := createTempPDF(t, []string{"p1"})
	err := SplitRange(path, filepath.Join(t.TempDir(), "out.pdf"), 2, 2)
	assert.Error(t, err)
}

// TestChunkFilename 测试子文档命名
func TestChunkFilename(t *testing.T) {
	assert.Equal(t, "chunk_00000_p00001-p00003.pdf", ChunkFilename(0, 0, 3))
	assert.Equal(t, "chunk_00012_p00101-p00140.pdf", ChunkFilename(12, 100, 140))
}
