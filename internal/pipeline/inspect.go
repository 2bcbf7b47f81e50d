package pipeline

import (
	"context"
	"fmt"

	"github.com/fyerfyer/pdf-transcriber/internal/chunker"
	"github.com/fyerfyer/pdf-transcriber/internal/identity"
	"github.com/fyerfyer/pdf-transcriber/internal/pdfinfo"
	"github.com/fyerfyer/pdf-transcriber/internal/policy"
)

// Classification classify子命令的输出
type Classification struct {
	Signal *pdfinfo.ClassificationSignal `json:"signal"`
	Policy policy.Policy                 `json:"policy"`
}

// Classify 只做质量探针和策略决策，不执行转换
func (p *Pipeline) Classify(ctx context.Context, inputPath string) (*Classification, error) {
	if err := p.validateInput(inputPath); err != nil {
		return nil, err
	}

	signal, err := pdfinfo.Probe(p.cfg, inputPath)
	if err != nil {
		return nil, err
	}

	pol := policy.Decide(p.cfg, signal)
	return &Classification{
		Signal: signal,
		Policy: pol,
	}, nil
}

// PlanPreview plan子命令的输出
type PlanPreview struct {
	JobID           string                        `json:"job_id"`
	InputHash       string                        `json:"input_hash"`
	ConfigHash      string                        `json:"config_hash"`
	Signal          *pdfinfo.ClassificationSignal `json:"signal"`
	Policy          policy.Policy                 `json:"policy"`
	Plan            chunker.Plan                  `json:"plan"`
	JobDir          string                        `json:"job_dir"`
	AlreadyComplete bool                          `json:"already_complete"`
}

// PlanOnly 计算任务指纹、分类和分块计划，不执行转换
func (p *Pipeline) PlanOnly(ctx context.Context, inputPath string) (*PlanPreview, error) {
	if err := p.validateInput(inputPath); err != nil {
		return nil, err
	}

	id, err := identity.Compute(p.cfg, inputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to compute job identity: %v", err)
	}

	signal, err := pdfinfo.Probe(p.cfg, inputPath)
	if err != nil {
		return nil, err
	}

	pol := policy.Decide(p.cfg, signal)
	plan := p.buildPlan(signal)

	return &PlanPreview{
		JobID:           id.JobID,
		InputHash:       id.InputHash,
		ConfigHash:      id.ConfigHash,
		Signal:          signal,
		Policy:          pol,
		Plan:            plan,
		JobDir:          p.dirs.JobDir(id.JobID),
		AlreadyComplete: p.dirs.IsComplete(id.JobID),
	}, nil
}
