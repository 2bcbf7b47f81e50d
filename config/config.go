package config

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config 应用程序配置结构体
type Config struct {
	Paths          PathsConfig          `mapstructure:"paths" json:"-"`
	Hashing        HashingConfig        `mapstructure:"hashing" json:"hashing"`
	Limits         LimitsConfig         `mapstructure:"limits" json:"limits"`
	Classification ClassificationConfig `mapstructure:"classification" json:"classification"`
	Chunking       ChunkingConfig       `mapstructure:"chunking" json:"chunking"`
	Engine         EngineConfig         `mapstructure:"engine" json:"engine"`
	NativeText     NativeTextConfig     `mapstructure:"native_text" json:"native_text"`
	Executor       ExecutorConfig       `mapstructure:"executor" json:"executor"`
	Postprocess    PostprocessConfig    `mapstructure:"postprocess" json:"postprocess"`
	Output         OutputConfig         `mapstructure:"output" json:"output"`
	Resume         ResumeConfig         `mapstructure:"resume" json:"-"`
	Security       SecurityConfig       `mapstructure:"security" json:"-"`
	Cache          CacheConfig          `mapstructure:"cache" json:"-"`
	Database       DatabaseConfig       `mapstructure:"database" json:"-"`
	Queue          QueueConfig          `mapstructure:"queue" json:"-"`
	Storage        StorageConfig        `mapstructure:"storage" json:"-"`
	Server         ServerConfig         `mapstructure:"server" json:"-"`
	Logging        LoggingConfig        `mapstructure:"logging" json:"-"`
}

// PathsConfig 路径配置
type PathsConfig struct {
	OutDir  string `mapstructure:"out_dir"`  // 任务输出根目录
	WorkDir string `mapstructure:"work_dir"` // 临时工作目录
}

// HashingConfig 输入指纹配置
type HashingConfig struct {
	Mode            string `mapstructure:"mode" json:"mode" validate:"oneof=full_sha256 fast_window"` // 哈希模式
	FastWindowBytes int64  `mapstructure:"fast_window_bytes" json:"fast_window_bytes"`                // fast_window模式的首尾窗口大小
}

// LimitsConfig 输入与任务限制配置
type LimitsConfig struct {
	MaxInputFileBytes        int64 `mapstructure:"max_input_file_bytes" json:"max_input_file_bytes"`                 // 输入文件大小上限
	MaxInputPages            int   `mapstructure:"max_input_pages" json:"max_input_pages"`                           // 输入页数上限
	RequireChunkingOverPages int   `mapstructure:"require_chunking_over_pages" json:"require_chunking_over_pages"`   // 超过该页数才真正分块
	RequireChunkingOverBytes int64 `mapstructure:"require_chunking_over_bytes" json:"require_chunking_over_bytes"`   // 超过该字节数才真正分块
	JobTimeoutSeconds        int   `mapstructure:"job_timeout_seconds" json:"job_timeout_seconds" validate:"gte=0"` // 整体任务超时（0为不限）
}

// ClassificationConfig 质量分类阈值配置
type ClassificationConfig struct {
	SamplePages                   int     `mapstructure:"sample_pages" json:"sample_pages" validate:"gte=1"`                                 // 探针采样页数
	MinAvgCharsPerPageForHighText int     `mapstructure:"min_avg_chars_per_page_for_high_text" json:"min_avg_chars_per_page_for_high_text"` // 高文本层的页均字符数下限
	MaxAvgCharsPerPageForScan     int     `mapstructure:"max_avg_chars_per_page_for_scan" json:"max_avg_chars_per_page_for_scan"`           // 扫描件的页均字符数上限
	MaxGarbageRatioForHighText    float64 `mapstructure:"max_garbage_ratio_for_high_text" json:"max_garbage_ratio_for_high_text"`           // 高文本层允许的乱码比例上限
	MaxWhitespaceRatioForHighText float64 `mapstructure:"max_whitespace_ratio_for_high_text" json:"max_whitespace_ratio_for_high_text"`     // 高文本层允许的空白比例上限
	ForcedTier                    string  `mapstructure:"forced_tier" json:"forced_tier" validate:"oneof=auto high_text mixed_text scan"`   // 强制分级（auto表示不强制）
}

// ChunkingConfig 分块配置
type ChunkingConfig struct {
	Strategy            string `mapstructure:"strategy" json:"strategy" validate:"oneof=physical_split page_range"` // 分块策略
	TargetPagesPerChunk int    `mapstructure:"target_pages_per_chunk" json:"target_pages_per_chunk" validate:"gte=1"`
	MaxPagesPerChunk    int    `mapstructure:"max_pages_per_chunk" json:"max_pages_per_chunk"` // 单块页数硬上限
	MinPagesPerChunk    int    `mapstructure:"min_pages_per_chunk" json:"min_pages_per_chunk"` // 尾块并入阈值（1表示不并入）
	CapChunkBytes       bool   `mapstructure:"cap_chunk_bytes" json:"cap_chunk_bytes"`         // 是否检查分块文件大小
	MaxChunkBytes       int64  `mapstructure:"max_chunk_bytes" json:"max_chunk_bytes"`         // 分块文件大小上限（仅告警）
	KeepSplitPDFs       bool   `mapstructure:"keep_split_pdfs" json:"keep_split_pdfs"`         // 保留物理拆分出的子文档
}

// EngineConfig 外部提取引擎配置
type EngineConfig struct {
	Command                   []string          `mapstructure:"command" json:"command"`                                         // 引擎调用命令及参数
	HighTextEngine            string            `mapstructure:"high_text_engine" json:"high_text_engine"`                       // high_text层使用的引擎
	MixedTextEngine           string            `mapstructure:"mixed_text_engine" json:"mixed_text_engine"`                     // mixed_text层使用的引擎
	ScanEngine                string            `mapstructure:"scan_engine" json:"scan_engine"`                                 // scan层使用的引擎
	PDFBackend                string            `mapstructure:"pdf_backend" json:"pdf_backend"`                                 // 引擎内部PDF后端
	CapabilityTimeoutSeconds  int               `mapstructure:"capability_timeout_seconds" json:"capability_timeout_seconds"`   // 能力探测超时
	Env                       map[string]string `mapstructure:"env" json:"env"`                                                 // 传给引擎进程的环境变量
	Options                   EngineOptions     `mapstructure:"options" json:"options"`                                         // 请求的引擎选项集
}

// EngineOptions 请求的引擎选项集
// 执行前会与探测到的能力集求交集，不支持的选项记入ignored_flags
type EngineOptions struct {
	DoTableStructure    bool     `mapstructure:"do_table_structure" json:"do_table_structure"` // 结构恢复（表格）
	ForceBackendText    bool     `mapstructure:"force_backend_text" json:"force_backend_text"` // 强制使用后端文本层
	ImagesScale         float64  `mapstructure:"images_scale" json:"images_scale"`             // 渲染图像缩放
	NumThreads          int      `mapstructure:"num_threads" json:"num_threads"`
	QueueMaxSize        int      `mapstructure:"queue_max_size" json:"queue_max_size"`
	LayoutBatchSize     int      `mapstructure:"layout_batch_size" json:"layout_batch_size"`
	TableBatchSize      int      `mapstructure:"table_batch_size" json:"table_batch_size"`
	PageBatchSize       int      `mapstructure:"page_batch_size" json:"page_batch_size"`
	OCREngine           string   `mapstructure:"ocr_engine" json:"ocr_engine"` // easyocr / tesseract / tesseract_cli
	OCRLangs            []string `mapstructure:"ocr_langs" json:"ocr_langs"`
	BitmapAreaThreshold float64  `mapstructure:"bitmap_area_threshold" json:"bitmap_area_threshold"` // 触发局部OCR的位图面积比
}

// NativeTextConfig 原生文本提取配置
type NativeTextConfig struct {
	NormalizeUnicode   bool `mapstructure:"normalize_unicode" json:"normalize_unicode"`     // NFKC归一化
	CollapseWhitespace bool `mapstructure:"collapse_whitespace" json:"collapse_whitespace"` // 压缩行内空白
	FixHyphenation     bool `mapstructure:"fix_hyphenation" json:"fix_hyphenation"`         // 合并断字换行
	LightMarkdown      bool `mapstructure:"light_markdown" json:"light_markdown"`           // 输出带页标题的轻量Markdown
}

// ExecutorConfig 分块执行器配置
type ExecutorConfig struct {
	Concurrency         int `mapstructure:"concurrency" json:"concurrency" validate:"gte=1"`               // 并行执行槽数量
	ChunkTimeoutSeconds int `mapstructure:"chunk_timeout_seconds" json:"chunk_timeout_seconds" validate:"gte=0"` // 单块超时（0为不限）
	RetryCount          int `mapstructure:"retry_count" json:"retry_count" validate:"gte=0"`               // 单块额外重试次数
}

// PostprocessConfig 合并后处理配置
type PostprocessConfig struct {
	NormalizeUnicode           bool     `mapstructure:"normalize_unicode" json:"normalize_unicode"`
	NormalizeNewlines          bool     `mapstructure:"normalize_newlines" json:"normalize_newlines"`
	TrimTrailingWhitespace     bool     `mapstructure:"trim_trailing_whitespace" json:"trim_trailing_whitespace"`
	RemoveRepeatedLines        bool     `mapstructure:"remove_repeated_lines" json:"remove_repeated_lines"` // 剔除近似重复的页眉页脚行
	RepeatedLineMinOccurrences int      `mapstructure:"repeated_line_min_occurrences" json:"repeated_line_min_occurrences"`
	RepeatedLineMaxLength      int      `mapstructure:"repeated_line_max_length" json:"repeated_line_max_length"`
	RemoveByRegex              bool     `mapstructure:"remove_by_regex" json:"remove_by_regex"`
	RegexPatterns              []string `mapstructure:"regex_patterns" json:"regex_patterns"` // 按行匹配后丢弃
}

// OutputConfig 产物输出配置
type OutputConfig struct {
	WriteMarkdown       bool   `mapstructure:"write_markdown" json:"write_markdown"`
	WriteText           bool   `mapstructure:"write_text" json:"write_text"`
	WriteReportJSON     bool   `mapstructure:"write_report_json" json:"write_report_json"`
	WriteChunkJSON      bool   `mapstructure:"write_chunk_json" json:"write_chunk_json"`
	MarkdownFilename    string `mapstructure:"markdown_filename" json:"markdown_filename"`
	TextFilename        string `mapstructure:"text_filename" json:"text_filename"`
	ReportFilename      string `mapstructure:"report_filename" json:"report_filename"`
	DumpEffectiveConfig bool   `mapstructure:"dump_effective_config" json:"dump_effective_config"`
	KeepIntermediates   bool   `mapstructure:"keep_intermediates" json:"keep_intermediates"`
}

// ResumeConfig 重复执行行为配置
type ResumeConfig struct {
	Enable       bool `mapstructure:"enable"`        // 允许复用已存在的任务目录
	ShortCircuit bool `mapstructure:"short_circuit"` // 任务目录完整时直接返回已有报告
}

// SecurityConfig 输入安全检查配置
type SecurityConfig struct {
	RejectURLInputs bool `mapstructure:"reject_url_inputs"` // 拒绝URL形式的输入路径
}

// CacheConfig 缓存配置
type CacheConfig struct {
	Enable     bool   `mapstructure:"enable"`      // 是否启用能力探测结果缓存
	Type       string `mapstructure:"type"`        // 缓存类型：memory 或 redis
	Address    string `mapstructure:"address"`     // Redis地址
	Password   string `mapstructure:"password"`    // Redis密码
	DB         int    `mapstructure:"db"`          // Redis数据库
	TTLSeconds int    `mapstructure:"ttl_seconds"` // 缓存TTL（秒）
}

// DatabaseConfig 任务历史数据库配置
type DatabaseConfig struct {
	Enable bool   `mapstructure:"enable"` // 是否记录任务历史
	Type   string `mapstructure:"type"`   // 数据库类型：sqlite
	DSN    string `mapstructure:"dsn"`    // 数据源名称
}

// QueueConfig 任务队列配置（serve模式）
type QueueConfig struct {
	Enable        bool   `mapstructure:"enable"`         // 是否启用异步任务队列
	Type          string `mapstructure:"type"`           // 队列类型：redis或memory
	RedisAddr     string `mapstructure:"redis_addr"`     // Redis地址
	RedisPassword string `mapstructure:"redis_password"` // Redis密码
	RedisDB       int    `mapstructure:"redis_db"`       // Redis数据库编号
	Concurrency   int    `mapstructure:"concurrency"`    // 队列处理并发数
	RetryLimit    int    `mapstructure:"retry_limit"`    // 队列级重试次数
}

// StorageConfig 最终产物归档配置
type StorageConfig struct {
	Enable    bool   `mapstructure:"enable"`   // 任务完成后归档最终产物
	Type      string `mapstructure:"type"`     // 归档类型：local 或 minio
	Path      string `mapstructure:"path"`     // 本地归档路径
	Bucket    string `mapstructure:"bucket"`   // MinIO桶名称
	Endpoint  string `mapstructure:"endpoint"` // MinIO端点
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// ServerConfig 服务器配置（serve模式）
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"` // gin运行模式 (debug/release)
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level       string `mapstructure:"level"`         // 日志级别
	JSONFormat  bool   `mapstructure:"json_format"`   // JSON格式输出
	WriteToFile bool   `mapstructure:"write_to_file"` // run时写入任务目录下的日志文件
	MaxSizeMB   int    `mapstructure:"max_size_mb"`   // 单个日志文件大小上限
	MaxBackups  int    `mapstructure:"max_backups"`   // 保留的历史日志文件数
	MaxAgeDays  int    `mapstructure:"max_age_days"`  // 日志保留天数
}

// Load 从文件和环境变量加载配置
func Load(configPath string) (*Config, error) {
	var config Config

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %v", err)
		}
	} else {
		// 默认在当前目录寻找transcriber.yaml
		v.SetConfigName("transcriber")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %v", err)
			}
			log.Printf("Warning: no config file found, using defaults")
		}
	}

	setDefaults(v)

	// 支持环境变量覆盖
	v.SetEnvPrefix("transcriber")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %v", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Default 返回全默认值的配置
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		// 默认值解析失败属于编程错误
		panic(fmt.Sprintf("failed to build default config: %v", err))
	}
	return &config
}

// Validate 校验配置合法性
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %v", err)
	}
	if c.Chunking.MaxPagesPerChunk < c.Chunking.TargetPagesPerChunk {
		return fmt.Errorf("invalid config: max_pages_per_chunk (%d) < target_pages_per_chunk (%d)",
			c.Chunking.MaxPagesPerChunk, c.Chunking.TargetPagesPerChunk)
	}
	return nil
}

// Normalized 返回参与任务指纹计算的配置的规范化序列化
// 只包含影响提取结果的分段；运行环境类配置（日志、数据库、服务器等）不参与指纹。
// 相同的有效配置必须产生相同的字节串。
func (c *Config) Normalized() ([]byte, error) {
	// json标签将运行环境类分段标记为"-"，map键由encoding/json排序，序列化是确定性的
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize config: %v", err)
	}
	return data, nil
}

// setDefaults 设置配置的默认值
func setDefaults(v *viper.Viper) {
	// 路径默认配置
	v.SetDefault("paths.out_dir", "out")
	v.SetDefault("paths.work_dir", ".transcriber-work")

	// 指纹默认配置
	v.SetDefault("hashing.mode", "fast_window")
	v.SetDefault("hashing.fast_window_bytes", 16*1024*1024)

	// 限制默认配置
	v.SetDefault("limits.max_input_file_bytes", 2*1024*1024*1024)
	v.SetDefault("limits.max_input_pages", 20000)
	v.SetDefault("limits.require_chunking_over_pages", 0)
	v.SetDefault("limits.require_chunking_over_bytes", 0)
	v.SetDefault("limits.job_timeout_seconds", 0)

	// 分类默认配置
	v.SetDefault("classification.sample_pages", 12)
	v.SetDefault("classification.min_avg_chars_per_page_for_high_text", 1200)
	v.SetDefault("classification.max_avg_chars_per_page_for_scan", 80)
	v.SetDefault("classification.max_garbage_ratio_for_high_text", 0.02)
	v.SetDefault("classification.max_whitespace_ratio_for_high_text", 0.55)
	v.SetDefault("classification.forced_tier", "auto")

	// 分块默认配置
	v.SetDefault("chunking.strategy", "physical_split")
	v.SetDefault("chunking.target_pages_per_chunk", 40)
	v.SetDefault("chunking.max_pages_per_chunk", 80)
	v.SetDefault("chunking.min_pages_per_chunk", 1)
	v.SetDefault("chunking.cap_chunk_bytes", true)
	v.SetDefault("chunking.max_chunk_bytes", 50*1000*1000)
	v.SetDefault("chunking.keep_split_pdfs", true)

	// 引擎默认配置
	v.SetDefault("engine.command", []string{"python3", "scripts/docling_runner.py"})
	v.SetDefault("engine.high_text_engine", "native_text")
	v.SetDefault("engine.mixed_text_engine", "docling")
	v.SetDefault("engine.scan_engine", "docling")
	v.SetDefault("engine.pdf_backend", "auto")
	v.SetDefault("engine.capability_timeout_seconds", 60)
	v.SetDefault("engine.options.do_table_structure", true)
	v.SetDefault("engine.options.force_backend_text", false)
	v.SetDefault("engine.options.images_scale", 2.0)
	v.SetDefault("engine.options.num_threads", 4)
	v.SetDefault("engine.options.queue_max_size", 8)
	v.SetDefault("engine.options.layout_batch_size", 16)
	v.SetDefault("engine.options.table_batch_size", 8)
	v.SetDefault("engine.options.page_batch_size", 8)
	v.SetDefault("engine.options.ocr_engine", "easyocr")
	v.SetDefault("engine.options.ocr_langs", []string{"en"})
	v.SetDefault("engine.options.bitmap_area_threshold", 0.25)

	// 原生文本提取默认配置
	v.SetDefault("native_text.normalize_unicode", true)
	v.SetDefault("native_text.collapse_whitespace", true)
	v.SetDefault("native_text.fix_hyphenation", true)
	v.SetDefault("native_text.light_markdown", false)

	// 执行器默认配置
	v.SetDefault("executor.concurrency", 1)
	v.SetDefault("executor.chunk_timeout_seconds", 600)
	v.SetDefault("executor.retry_count", 0)

	// 后处理默认配置
	v.SetDefault("postprocess.normalize_unicode", true)
	v.SetDefault("postprocess.normalize_newlines", true)
	v.SetDefault("postprocess.trim_trailing_whitespace", true)
	v.SetDefault("postprocess.remove_repeated_lines", true)
	v.SetDefault("postprocess.repeated_line_min_occurrences", 6)
	v.SetDefault("postprocess.repeated_line_max_length", 120)
	v.SetDefault("postprocess.remove_by_regex", true)
	v.SetDefault("postprocess.regex_patterns", []string{
		`^(page\s+\d+|\d+\s*/\s*\d+)$`,
		`^[A-Z0-9\s\-]{12,}$`,
	})

	// 输出默认配置
	v.SetDefault("output.write_markdown", true)
	v.SetDefault("output.write_text", true)
	v.SetDefault("output.write_report_json", true)
	v.SetDefault("output.write_chunk_json", true)
	v.SetDefault("output.markdown_filename", "transcript.md")
	v.SetDefault("output.text_filename", "transcript.txt")
	v.SetDefault("output.report_filename", "report.json")
	v.SetDefault("output.dump_effective_config", true)
	v.SetDefault("output.keep_intermediates", true)

	// 续跑默认配置
	v.SetDefault("resume.enable", true)
	v.SetDefault("resume.short_circuit", true)

	// 安全默认配置
	v.SetDefault("security.reject_url_inputs", true)

	// 缓存默认配置
	v.SetDefault("cache.enable", true)
	v.SetDefault("cache.type", "memory")
	v.SetDefault("cache.ttl_seconds", 3600)

	// 数据库默认配置
	v.SetDefault("database.enable", true)
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "data/transcriber.db")

	// 队列默认配置
	v.SetDefault("queue.enable", false)
	v.SetDefault("queue.type", "memory")
	v.SetDefault("queue.redis_addr", "localhost:6379")
	v.SetDefault("queue.redis_db", 0)
	v.SetDefault("queue.concurrency", 2)
	v.SetDefault("queue.retry_limit", 0)

	// 归档默认配置
	v.SetDefault("storage.enable", false)
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.path", "./archive")
	v.SetDefault("storage.bucket", "transcripts")
	v.SetDefault("storage.use_ssl", false)

	// 服务器默认配置
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	// 日志默认配置
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.json_format", false)
	v.SetDefault("logging.write_to_file", true)
	v.SetDefault("logging.max_size_mb", 20)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 14)
}
