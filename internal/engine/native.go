package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyerfyer/pdf-transcriber/config"
	"github.com/fyerfyer/pdf-transcriber/internal/pdfinfo"
)

// NativeEngine 基于PDF自带文本层的进程内提取引擎
// 不依赖外部子进程，适用于文本质量高的文档
type NativeEngine struct {
	cfg *config.Config
}

// NewNativeEngine 创建原生文本引擎
func NewNativeEngine(cfg *config.Config) *NativeEngine {
	return &NativeEngine{cfg: cfg}
}

// Name 返回引擎名称
func (e *NativeEngine) Name() string {
	return "native_text"
}

// Capabilities 原生引擎不支持任何外部引擎选项
// 请求的docling选项在能力交集后会全部落入ignored_flags
func (e *NativeEngine) Capabilities(ctx context.Context) (Capabilities, error) {
	return Capabilities{
		EngineVersion:    "native_text",
		SupportedOptions: []string{},
	}, nil
}

// Convert 提取指定页区间的文本层内容
func (e *NativeEngine) Convert(ctx context.Context, req ConvertRequest) (ConvertResult, error) {
	if err := ctx.Err(); err != nil {
		return ConvertResult{}, err
	}

	start, end := req.StartPage, req.EndPage
	if !req.UsePageRange {
		// 物理子文档从第一页开始
		start, end = 0, req.EndPage-req.StartPage
	}

	text, err := pdfinfo.ExtractRangeText(e.cfg, req.InputPDF, start, end)
	if err != nil {
		return ConvertResult{}, fmt.Errorf("native text extraction failed: %v", err)
	}
	if strings.TrimSpace(text) == "" {
		// 文本层为空时报错，让执行器有机会回退到外部引擎
		return ConvertResult{}, fmt.Errorf("native text extraction produced no text for pages %d-%d", req.StartPage+1, req.EndPage)
	}

	return ConvertResult{
		Markdown: text,
		Meta: map[string]interface{}{
			"engine": e.Name(),
		},
	}, nil
}
