package merge

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/unicode/norm"

	"github.com/fyerfyer/pdf-transcriber/config"
	"github.com/fyerfyer/pdf-transcriber/internal/executor"
)

// 分块之间的拼接分隔符
const chunkSeparator = "\n\n---\n\n"

// Merger 合并引擎
// 按分块序号拼接转写内容并做全文后处理
type Merger struct {
	cfg    *config.Config
	logger *logrus.Logger
}

// NewMerger 创建合并引擎
func NewMerger(cfg *config.Config, logger *logrus.Logger) *Merger {
	return &Merger{
		cfg:    cfg,
		logger: logger,
	}
}

// Merge 按分块序号拼接全文
// 失败的分块留下占位标记，输出只由工件集合决定，与完成顺序无关
func (m *Merger) Merge(artifacts []executor.ChunkArtifact) string {
	sorted := make([]executor.ChunkArtifact, len(artifacts))
	copy(sorted, artifacts)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ChunkIndex < sorted[j].ChunkIndex
	})

	parts := make([]string, 0, len(sorted))
	for _, a := range sorted {
		if a.Status == executor.StatusSuccess {
			parts = append(parts, strings.TrimSpace(a.Markdown))
		} else {
			parts = append(parts, placeholder(a))
		}
	}

	return strings.Join(parts, chunkSeparator)
}

// placeholder 失败分块的占位标记
func placeholder(a executor.ChunkArtifact) string {
	return fmt.Sprintf("<!-- chunk %d (pages %d-%d) unavailable: %s -->",
		a.ChunkIndex, a.StartPage+1, a.EndPage, a.Status)
}

// Postprocess 对拼接后的全文做清理
// 处理顺序固定：换行归一、Unicode归一、行尾空白、重复行、正则剔除
func (m *Merger) Postprocess(text string) string {
	pp := m.cfg.Postprocess

	if pp.NormalizeNewlines {
		text = strings.ReplaceAll(text, "\r\n", "\n")
		text = strings.ReplaceAll(text, "\r", "\n")
	}
	if pp.NormalizeUnicode {
		text = norm.NFKC.String(text)
	}

	lines := strings.Split(text, "\n")

	if pp.TrimTrailingWhitespace {
		for i, line := range lines {
			lines[i] = strings.TrimRight(line, " \t")
		}
	}

	if pp.RemoveRepeatedLines {
		lines = m.removeRepeatedLines(lines)
	}

	if pp.RemoveByRegex {
		lines = m.removeByRegex(lines)
	}

	return strings.TrimSpace(strings.Join(lines, "\n")) + "\n"
}

// removeRepeatedLines 剔除高频出现的短行
// 目标是贯穿全文的页眉页脚，长行和低频行不受影响
func (m *Merger) removeRepeatedLines(lines []string) []string {
	pp := m.cfg.Postprocess

	counts := make(map[string]int)
	for _, line := range lines {
		key := strings.TrimSpace(line)
		if key == "" || len(key) > pp.RepeatedLineMaxLength {
			continue
		}
		counts[key]++
	}

	out := lines[:0]
	removed := 0
	for _, line := range lines {
		key := strings.TrimSpace(line)
		if key != "" && len(key) <= pp.RepeatedLineMaxLength && counts[key] >= pp.RepeatedLineMinOccurrences {
			removed++
			continue
		}
		out = append(out, line)
	}

	if removed > 0 {
		m.logger.WithField("lines", removed).Debug("removed repeated header/footer lines")
	}
	return out
}

// removeByRegex 按配置的正则剔除匹配行
func (m *Merger) removeByRegex(lines []string) []string {
	patterns := make([]*regexp.Regexp, 0, len(m.cfg.Postprocess.RegexPatterns))
	for _, p := range m.cfg.Postprocess.RegexPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			m.logger.WithField("pattern", p).WithError(err).Warn("skipping invalid postprocess pattern")
			continue
		}
		patterns = append(patterns, re)
	}
	if len(patterns) == 0 {
		return lines
	}

	out := lines[:0]
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		matched := false
		for _, re := range patterns {
			if trimmed != "" && re.MatchString(trimmed) {
				matched = true
				break
			}
		}
		if !matched {
			out = append(out, line)
		}
	}
	return out
}

var (
	mdHeadingRe  = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	mdImageRe    = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	mdLinkRe     = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	mdEmphasisRe = regexp.MustCompile(`(\*{1,3}|_{1,3})([^*_]+)(\*{1,3}|_{1,3})`)
	mdCommentRe  = regexp.MustCompile(`(?s)<!--.*?-->`)
	mdChunkGapRe = regexp.MustCompile(`<!--\s*(chunk \d+ \(pages \d+-\d+\) unavailable:[^>]*?)\s*-->`)
	mdFenceRe    = regexp.MustCompile("(?m)^```[^\n]*$")
)

// MarkdownToText 把Markdown转写结果降级为纯文本
// 只剥离标记语法，不重排内容；失败分块的占位标记改写为可见文本，不允许丢失
func MarkdownToText(md string) string {
	text := mdChunkGapRe.ReplaceAllString(md, "[$1]")
	text = mdCommentRe.ReplaceAllString(text, "")
	text = mdImageRe.ReplaceAllString(text, "$1")
	text = mdLinkRe.ReplaceAllString(text, "$1")
	text = mdHeadingRe.ReplaceAllString(text, "")
	text = mdFenceRe.ReplaceAllString(text, "")
	text = mdEmphasisRe.ReplaceAllString(text, "$2")
	text = strings.ReplaceAll(text, "`", "")

	// 压掉连续空行
	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(text) + "\n"
}
