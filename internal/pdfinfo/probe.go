package pdfinfo

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/fyerfyer/pdf-transcriber/config"
	"github.com/fyerfyer/pdf-transcriber/internal/models"
)

// PageStats 单页文本层统计
type PageStats struct {
	Page            int     `json:"page"` // 页码（1起）
	Chars           int     `json:"chars"`
	GarbageRatio    float64 `json:"garbage_ratio"`
	WhitespaceRatio float64 `json:"whitespace_ratio"`
}

// ClassificationSignal 文档级分类信号
// 由探针一次性计算，之后不可变
type ClassificationSignal struct {
	Path            string      `json:"path"`
	FileBytes       int64       `json:"file_bytes"`
	PageCount       int         `json:"page_count"`
	SampledPages    int         `json:"sampled_pages"`
	AvgCharsPerPage int         `json:"avg_chars_per_page"`
	GarbageRatio    float64     `json:"garbage_ratio"`
	WhitespaceRatio float64     `json:"whitespace_ratio"`
	Pages           []PageStats `json:"pages"`
}

// Probe 读取输入PDF的文本层统计并产出分类信号
// 只走低成本的文本层访问，不调用外部引擎；无法解析的输入返回ErrUnreadableInput
func Probe(cfg *config.Config, inputPath string) (*ClassificationSignal, error) {
	info, err := os.Stat(inputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat input: %w", err)
	}

	if cfg.Limits.MaxInputFileBytes > 0 && info.Size() > cfg.Limits.MaxInputFileBytes {
		return nil, fmt.Errorf("input exceeds max_input_file_bytes: %d", info.Size())
	}

	conf := model.NewDefaultConfiguration()
	if err := api.ValidateFile(inputPath, conf); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUnreadableInput, err)
	}

	pageCount, err := api.PageCountFile(inputPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUnreadableInput, err)
	}

	if cfg.Limits.MaxInputPages > 0 && pageCount > cfg.Limits.MaxInputPages {
		return nil, fmt.Errorf("input exceeds max_input_pages: %d", pageCount)
	}

	signal := &ClassificationSignal{
		Path:      inputPath,
		FileBytes: info.Size(),
		PageCount: pageCount,
	}

	// 零页文档是合法输入，产出空转写而不是错误
	if pageCount == 0 {
		return signal, nil
	}

	sampled := samplePages(pageCount, cfg.Classification.SamplePages)

	var totalChars, totalGarbage, totalWhitespace int
	for _, page := range sampled {
		text, err := ExtractPageText(inputPath, page)
		if err != nil {
			// 单页提取失败按零文本页计入，不中断探针
			signal.Pages = append(signal.Pages, PageStats{Page: page})
			continue
		}

		chars, garbage, whitespace := countRunes(text)
		stats := PageStats{Page: page, Chars: chars}
		if chars > 0 {
			stats.GarbageRatio = float64(garbage) / float64(chars)
			stats.WhitespaceRatio = float64(whitespace) / float64(chars)
		}
		signal.Pages = append(signal.Pages, stats)

		totalChars += chars
		totalGarbage += garbage
		totalWhitespace += whitespace
	}

	signal.SampledPages = len(sampled)
	signal.AvgCharsPerPage = totalChars / len(sampled)
	if totalChars > 0 {
		signal.GarbageRatio = float64(totalGarbage) / float64(totalChars)
		signal.WhitespaceRatio = float64(totalWhitespace) / float64(totalChars)
	}

	return signal, nil
}

// samplePages 在[1,pageCount]上均匀采样k页，页码升序
func samplePages(pageCount, sample int) []int {
	if sample < 1 {
		sample = 1
	}
	k := sample
	if k > pageCount {
		k = pageCount
	}
	if k == 1 {
		return []int{1}
	}

	seen := make(map[int]bool, k)
	pages := make([]int, 0, k)
	for i := 0; i < k; i++ {
		p := 1 + int(math.Round(float64(i)*float64(pageCount-1)/float64(k-1)))
		if !seen[p] {
			seen[p] = true
			pages = append(pages, p)
		}
	}
	sort.Ints(pages)
	return pages
}

// countRunes 统计字符数、乱码字符数和空白字符数
// 替换符和不可打印的非空白字符计为乱码
func countRunes(text string) (chars, garbage, whitespace int) {
	for _, r := range text {
		chars++
		switch {
		case r == unicode.ReplacementChar:
			garbage++
		case unicode.IsSpace(r):
			whitespace++
		case !unicode.IsPrint(r):
			garbage++
		}
	}
	return chars, garbage, whitespace
}

// ExtractPageText 提取指定页（1起）的文本内容
// 通过pdfcpu把页内容抽取到临时目录再读回，内存占用与文档总大小无关
func ExtractPageText(inputPath string, page int) (string, error) {
	tmpDir, err := os.MkdirTemp("", "pdfcpu_extract_")
	if err != nil {
		return "", fmt.Errorf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	conf := model.NewDefaultConfiguration()
	if err := api.ExtractContentFile(inputPath, tmpDir, []string{strconv.Itoa(page)}, conf); err != nil {
		return "", fmt.Errorf("failed to extract page %d content: %v", page, err)
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		return "", fmt.Errorf("failed to read extracted content dir: %v", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".txt") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(tmpDir, name))
		if err != nil {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.Write(data)
	}

	return sb.String(), nil
}
