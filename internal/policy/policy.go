package policy

import (
	"github.com/fyerfyer/pdf-transcriber/config"
	"github.com/fyerfyer/pdf-transcriber/internal/models"
	"github.com/fyerfyer/pdf-transcriber/internal/pdfinfo"
)

// EngineKind 提取引擎种类
type EngineKind string

const (
	// EngineNativeText 进程内原生文本提取，不调用外部引擎
	EngineNativeText EngineKind = "native_text"
	// EngineDocling 外部docling引擎子进程
	EngineDocling EngineKind = "docling"
)

// OCRMode OCR行为
type OCRMode string

const (
	// OCROff 不做OCR
	OCROff OCRMode = "off"
	// OCRAuto 只对文本层不足的页做OCR
	OCRAuto OCRMode = "auto"
	// OCRForcedFullPage 全页强制OCR
	OCRForcedFullPage OCRMode = "forced_full_page"
)

// Policy 提取策略
// 由分类信号或强制分级一次性决定，任务期间不可变
type Policy struct {
	Tier              models.QualityTier   `json:"tier"`
	Forced            bool                 `json:"forced"` // 是否来自强制分级
	Engine            EngineKind           `json:"engine"`
	OCRMode           OCRMode              `json:"ocr_mode"`
	StructureRecovery bool                 `json:"structure_recovery"`
	Options           config.EngineOptions `json:"options"` // 请求的引擎选项集
}

// Decide 纯函数：由分类信号和配置阈值决定提取策略
// 强制分级无条件生效；否则按固定顺序比较页均字符数、乱码比例、空白比例
func Decide(cfg *config.Config, signal *pdfinfo.ClassificationSignal) Policy {
	if forced := forcedTier(cfg); forced != models.TierAuto {
		p := defaultsFor(cfg, forced)
		p.Forced = true
		return p
	}
	return defaultsFor(cfg, classify(cfg, signal))
}

// classify 按阈值分类
func classify(cfg *config.Config, signal *pdfinfo.ClassificationSignal) models.QualityTier {
	cls := cfg.Classification
	avg := signal.AvgCharsPerPage

	// 页均字符数不足时至多是mixed/scan
	if avg < cls.MinAvgCharsPerPageForHighText {
		if avg <= cls.MaxAvgCharsPerPageForScan {
			return models.TierScan
		}
		return models.TierMixedText
	}

	// 字符数充足但乱码比例超限，说明文本层损坏，降级
	if signal.GarbageRatio > cls.MaxGarbageRatioForHighText {
		return models.TierMixedText
	}

	// 空白比例极端时按扫描样处理
	if signal.WhitespaceRatio > cls.MaxWhitespaceRatioForHighText {
		return models.TierMixedText
	}

	return models.TierHighText
}

// defaultsFor 分级对应的默认策略，配置覆盖逐字段合并在之上
func defaultsFor(cfg *config.Config, tier models.QualityTier) Policy {
	p := Policy{
		Tier:    tier,
		Options: cfg.Engine.Options,
	}

	switch tier {
	case models.TierHighText:
		p.Engine = EngineKind(cfg.Engine.HighTextEngine)
		p.OCRMode = OCROff
		p.StructureRecovery = false
	case models.TierMixedText:
		p.Engine = EngineKind(cfg.Engine.MixedTextEngine)
		p.OCRMode = OCRAuto
		// 结构恢复默认开启，配置可显式关闭
		p.StructureRecovery = cfg.Engine.Options.DoTableStructure
	case models.TierScan:
		p.Engine = EngineKind(cfg.Engine.ScanEngine)
		p.OCRMode = OCRForcedFullPage
		p.StructureRecovery = cfg.Engine.Options.DoTableStructure
	}
	p.Options.DoTableStructure = p.StructureRecovery

	return p
}

// forcedTier 解析强制分级配置，auto或非法值表示不强制
func forcedTier(cfg *config.Config) models.QualityTier {
	switch cfg.Classification.ForcedTier {
	case "high_text":
		return models.TierHighText
	case "mixed_text":
		return models.TierMixedText
	case "scan":
		return models.TierScan
	default:
		return models.TierAuto
	}
}
