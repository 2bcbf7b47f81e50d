package pdfinfo

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/fyerfyer/pdf-transcriber/config"
)

var (
	hyphenRe = regexp.MustCompile(`(\w)-\n(\w)`)
	spaceRe  = regexp.MustCompile(`[\t\f\r ]+`)
)

// ExtractRangeText 原生文本路径：提取页区间[start,end)（0起半开）的文本
// 不经过外部引擎，直接读文本层并按配置做归一化
func ExtractRangeText(cfg *config.Config, inputPath string, start, end int) (string, error) {
	if end < start {
		return "", fmt.Errorf("invalid page range: [%d,%d)", start, end)
	}

	parts := make([]string, 0, end-start)
	for page := start + 1; page <= end; page++ {
		text, err := ExtractPageText(inputPath, page)
		if err != nil {
			return "", fmt.Errorf("failed to extract text of page %d: %v", page, err)
		}
		text = NormalizeText(cfg, text)
		if cfg.NativeText.LightMarkdown {
			parts = append(parts, fmt.Sprintf("## Page %d\n\n%s", page, text))
		} else {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, "\n\n"), nil
}

// NormalizeText 按原生文本配置归一化提取出的文本
func NormalizeText(cfg *config.Config, text string) string {
	if cfg.NativeText.NormalizeUnicode {
		text = norm.NFKC.String(text)
	}
	if cfg.NativeText.FixHyphenation {
		// 合并 "exam-\nple" 形式的断字换行
		text = hyphenRe.ReplaceAllString(text, "$1$2")
	}
	if cfg.NativeText.CollapseWhitespace {
		lines := strings.Split(text, "\n")
		for i, line := range lines {
			lines[i] = strings.TrimSpace(spaceRe.ReplaceAllString(line, " "))
		}
		text = strings.Join(lines, "\n")
	}
	return text
}
