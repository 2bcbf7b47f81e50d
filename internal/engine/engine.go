package engine

import (
	"context"

	"github.com/fyerfyer/pdf-transcriber/config"
)

// Capabilities 引擎能力快照
type Capabilities struct {
	EngineVersion    string   `json:"engine_version"`    // 引擎自报的版本串
	SupportedOptions []string `json:"supported_options"` // 引擎支持的选项名
}

// ConvertRequest 单个分块的转换请求
// 页码区间为0起始的左闭右开区间，翻译成引擎线协议时再转换
type ConvertRequest struct {
	InputPDF         string                 // 分块对应的输入PDF（物理子文档或原文档）
	OutDir           string                 // 引擎可用的工作目录
	ChunkIndex       int                    // 分块序号
	StartPage        int                    // 起始页（0起始，含）
	EndPage          int                    // 结束页（0起始，不含）
	UsePageRange     bool                   // 是否让引擎只处理页码区间
	DoOCR            bool                   // 是否启用OCR
	ForceFullPageOCR bool                   // 是否整页强制OCR
	Options          map[string]interface{} // 能力交集过滤后的选项集
}

// ConvertResult 单个分块的转换结果
type ConvertResult struct {
	Markdown string                 // 引擎产出的Markdown文本
	Warnings []string               // 引擎报告的非致命告警
	Meta     map[string]interface{} // 引擎附带的元信息
}

// Engine 文档提取引擎
// 同一个任务内的所有分块使用同一个引擎实例
type Engine interface {
	Name() string
	Capabilities(ctx context.Context) (Capabilities, error)
	Convert(ctx context.Context, req ConvertRequest) (ConvertResult, error)
}

// OptionMap 把配置中的引擎选项展开成按名字索引的键值表
// 键名与引擎线协议中的选项名一致
func OptionMap(opts config.EngineOptions) map[string]interface{} {
	m := map[string]interface{}{
		"do_table_structure": opts.DoTableStructure,
		"force_backend_text": opts.ForceBackendText,
	}
	if opts.ImagesScale > 0 {
		m["images_scale"] = opts.ImagesScale
	}
	if opts.NumThreads > 0 {
		m["num_threads"] = opts.NumThreads
	}
	if opts.QueueMaxSize > 0 {
		m["queue_max_size"] = opts.QueueMaxSize
	}
	if opts.LayoutBatchSize > 0 {
		m["layout_batch_size"] = opts.LayoutBatchSize
	}
	if opts.TableBatchSize > 0 {
		m["table_batch_size"] = opts.TableBatchSize
	}
	if opts.PageBatchSize > 0 {
		m["page_batch_size"] = opts.PageBatchSize
	}
	if opts.OCREngine != "" {
		m["ocr_engine"] = opts.OCREngine
	}
	if len(opts.OCRLangs) > 0 {
		m["ocr_langs"] = opts.OCRLangs
	}
	if opts.BitmapAreaThreshold > 0 {
		m["bitmap_area_threshold"] = opts.BitmapAreaThreshold
	}
	return m
}
