package chunker

import (
	"github.com/fyerfyer/pdf-transcriber/config"
)

// Strategy 分块物化策略
type Strategy string

const (
	// StrategyPhysicalSplit 物理拆分为独立子文档
	StrategyPhysicalSplit Strategy = "physical_split"
	// StrategyPageRange 不物化，让引擎按页区间处理原文件
	StrategyPageRange Strategy = "page_range"
)

// Range 页区间，0起半开[Start,End)
type Range struct {
	Index int `json:"index"`      // 块序号，顺序有意义
	Start int `json:"start_page"` // 起始页（含）
	End   int `json:"end_page"`   // 结束页（不含）
}

// Pages 区间包含的页数
func (r Range) Pages() int {
	return r.End - r.Start
}

// Plan 分块计划
// 有序、无缝、不重叠地覆盖[0,PageCount)；确定性：相同输入永远产生相同计划
type Plan struct {
	PageCount int      `json:"page_count"`
	Strategy  Strategy `json:"strategy"`
	Chunks    []Range  `json:"chunks"`
}

// BuildPlan 由页数和分块配置产出分块计划
// 每块不超过target页（明确配置min_pages_per_chunk>1时尾块并入可达max上限）；
// 页数为0产出空计划；target不小于页数时产出单块
func BuildPlan(cfg *config.Config, pageCount int) Plan {
	target := cfg.Chunking.TargetPagesPerChunk
	if target < 1 {
		target = 1
	}
	maxPages := cfg.Chunking.MaxPagesPerChunk
	if maxPages < target {
		maxPages = target
	}
	minPages := cfg.Chunking.MinPagesPerChunk
	if minPages < 1 {
		minPages = 1
	}

	plan := Plan{
		PageCount: pageCount,
		Strategy:  Strategy(cfg.Chunking.Strategy),
	}

	p := 0
	for p < pageCount {
		end := p + target
		if end > pageCount {
			end = pageCount
		}

		// 余下不足min_pages_per_chunk的尾巴并入当前块，但不超过硬上限
		remaining := pageCount - end
		if remaining > 0 && remaining < minPages && end-p+remaining <= maxPages {
			end = pageCount
		}

		plan.Chunks = append(plan.Chunks, Range{
			Index: len(plan.Chunks),
			Start: p,
			End:   end,
		})
		p = end
	}

	return plan
}

// SinglePlan 覆盖整个文档的单块计划
// 小输入不值得分块时使用
func SinglePlan(pageCount int, strategy Strategy) Plan {
	plan := Plan{PageCount: pageCount, Strategy: strategy}
	if pageCount > 0 {
		plan.Chunks = []Range{{Index: 0, Start: 0, End: pageCount}}
	}
	return plan
}
