package chunker

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/pdf-transcriber/config"
	"github.com/fyerfyer/pdf-transcriber/internal/pdfinfo"
)

// ChunkInput 一个分块的执行输入
// physical_split策略下指向独立子文档；page_range策略下指向原文件加页区间
type ChunkInput struct {
	Range        Range  `json:"range"`
	InputPDF     string `json:"input_pdf"`
	UsePageRange bool   `json:"use_page_range"` // 引擎按页区间处理原文件
	TempFile     bool   `json:"-"`              // 是否为可清理的中间产物
}

// Splitter 物理拆分器
// 把分块计划物化为可独立执行的输入
type Splitter struct {
	cfg    *config.Config
	logger *logrus.Logger
}

// NewSplitter 创建拆分器
func NewSplitter(cfg *config.Config, logger *logrus.Logger) *Splitter {
	return &Splitter{cfg: cfg, logger: logger}
}

// Materialize 按计划的策略物化所有分块输入
// physical_split失败时回退到page_range并告警；单块计划不做物理拆分
func (s *Splitter) Materialize(plan Plan, inputPath, chunksDir string) ([]ChunkInput, error) {
	strategy := plan.Strategy
	if strategy == StrategyPhysicalSplit && len(plan.Chunks) > 1 {
		inputs, err := s.physicalSplit(plan, inputPath, chunksDir)
		if err == nil {
			return inputs, nil
		}
		// 物理拆分失败不致命，降级为页区间寻址
		s.logger.WithError(err).Warn("physical split failed, falling back to page_range strategy")
		strategy = StrategyPageRange
	}

	usePageRange := strategy == StrategyPageRange && len(plan.Chunks) > 1
	inputs := make([]ChunkInput, 0, len(plan.Chunks))
	for _, r := range plan.Chunks {
		inputs = append(inputs, ChunkInput{
			Range:        r,
			InputPDF:     inputPath,
			UsePageRange: usePageRange,
		})
	}
	return inputs, nil
}

// physicalSplit 把每个分块拆为独立子文档
func (s *Splitter) physicalSplit(plan Plan, inputPath, chunksDir string) ([]ChunkInput, error) {
	if err := os.MkdirAll(chunksDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create chunks dir: %v", err)
	}

	inputs := make([]ChunkInput, 0, len(plan.Chunks))
	for _, r := range plan.Chunks {
		outPath := filepath.Join(chunksDir, pdfinfo.ChunkFilename(r.Index, r.Start, r.End))
		if err := pdfinfo.SplitRange(inputPath, outPath, r.Start, r.End); err != nil {
			return nil, fmt.Errorf("failed to materialize chunk %d: %w", r.Index, err)
		}

		if s.cfg.Chunking.CapChunkBytes && s.cfg.Chunking.MaxChunkBytes > 0 {
			if info, err := os.Stat(outPath); err == nil && info.Size() > s.cfg.Chunking.MaxChunkBytes {
				s.logger.WithFields(logrus.Fields{
					"chunk": r.Index,
					"bytes": info.Size(),
					"limit": s.cfg.Chunking.MaxChunkBytes,
				}).Warn("chunk exceeds max_chunk_bytes")
			}
		}

		inputs = append(inputs, ChunkInput{
			Range:    r,
			InputPDF: outPath,
			TempFile: true,
		})
	}
	return inputs, nil
}

// Cleanup 删除物理拆分产生的中间子文档
// keep_split_pdfs开启时保留
func (s *Splitter) Cleanup(inputs []ChunkInput) {
	if s.cfg.Chunking.KeepSplitPDFs {
		return
	}
	for _, in := range inputs {
		if in.TempFile {
			if err := os.Remove(in.InputPDF); err != nil && !os.IsNotExist(err) {
				s.logger.WithError(err).WithField("path", in.InputPDF).Debug("failed to remove split pdf")
			}
		}
	}
}
