package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fyerfyer/pdf-transcriber/internal/engine"
)

// CheckResult doctor子命令的单项检查结果
type CheckResult struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// Doctor 检查运行环境：输出目录可写、外部引擎可用
func (p *Pipeline) Doctor(ctx context.Context) []CheckResult {
	return []CheckResult{
		p.checkOutDir(),
		p.checkEngine(ctx),
	}
}

// checkOutDir 确认输出根目录可创建且可写
func (p *Pipeline) checkOutDir() CheckResult {
	check := CheckResult{Name: "out_dir"}

	dir := p.cfg.Paths.OutDir
	if err := os.MkdirAll(dir, 0755); err != nil {
		check.Detail = fmt.Sprintf("cannot create %s: %v", dir, err)
		return check
	}

	probe := filepath.Join(dir, ".doctor-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0644); err != nil {
		check.Detail = fmt.Sprintf("cannot write to %s: %v", dir, err)
		return check
	}
	os.Remove(probe)

	check.OK = true
	check.Detail = dir
	return check
}

// checkEngine 探测外部引擎能力
func (p *Pipeline) checkEngine(ctx context.Context) CheckResult {
	check := CheckResult{Name: "docling_engine"}

	eng := engine.NewDoclingEngine(p.cfg, p.logger)
	caps, err := eng.Capabilities(ctx)
	if err != nil {
		check.Detail = err.Error()
		return check
	}

	check.OK = true
	check.Detail = fmt.Sprintf("%s (%d options)", caps.EngineVersion, len(caps.SupportedOptions))
	return check
}
