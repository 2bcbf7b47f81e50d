package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/datatypes"

	"github.com/fyerfyer/pdf-transcriber/config"
	"github.com/fyerfyer/pdf-transcriber/internal/cache"
	"github.com/fyerfyer/pdf-transcriber/internal/chunker"
	"github.com/fyerfyer/pdf-transcriber/internal/engine"
	"github.com/fyerfyer/pdf-transcriber/internal/executor"
	"github.com/fyerfyer/pdf-transcriber/internal/identity"
	"github.com/fyerfyer/pdf-transcriber/internal/jobdir"
	"github.com/fyerfyer/pdf-transcriber/internal/merge"
	"github.com/fyerfyer/pdf-transcriber/internal/models"
	"github.com/fyerfyer/pdf-transcriber/internal/pdfinfo"
	"github.com/fyerfyer/pdf-transcriber/internal/policy"
	"github.com/fyerfyer/pdf-transcriber/internal/repository"
	"github.com/fyerfyer/pdf-transcriber/pkg/storage"
)

// Pipeline 转写流水线
// 串起探针、策略、分块、执行、合并和落盘，一次Run处理一个文档
type Pipeline struct {
	cfg     *config.Config
	logger  *logrus.Logger
	dirs    *jobdir.Manager
	cache   cache.Cache              // 能力快照缓存，可为nil
	repo    repository.JobRepository // 任务历史，可为nil
	archive storage.Storage          // 产物归档，可为nil
}

// New 创建转写流水线
func New(cfg *config.Config, logger *logrus.Logger) *Pipeline {
	var snapshotCache cache.Cache
	if cfg.Cache.Enable {
		c, err := cache.NewCache(cache.Config{
			Type:          cfg.Cache.Type,
			RedisAddr:     cfg.Cache.Address,
			RedisPassword: cfg.Cache.Password,
			RedisDB:       cfg.Cache.DB,
			DefaultTTL:    time.Duration(cfg.Cache.TTLSeconds) * time.Second,
		})
		if err != nil {
			logger.WithError(err).Warn("capability cache unavailable, probing every run")
		} else {
			snapshotCache = c
		}
	}

	return &Pipeline{
		cfg:    cfg,
		logger: logger,
		dirs:   jobdir.NewManager(cfg, logger),
		cache:  snapshotCache,
	}
}

// WithRepository 启用任务历史记录
func (p *Pipeline) WithRepository(repo repository.JobRepository) *Pipeline {
	p.repo = repo
	return p
}

// WithArchive 启用最终产物归档
func (p *Pipeline) WithArchive(s storage.Storage) *Pipeline {
	p.archive = s
	return p
}

// Result 一次Run的结果
type Result struct {
	JobID          string
	Identity       *identity.JobIdentity
	Status         models.JobStatus
	Report         *merge.JobReport
	JobDir         string
	ShortCircuited bool // 产物已完整，本次未执行任何转换
}

// Run 执行完整的转写任务
// 分块级失败体现在Result.Status里，error只代表任务级致命失败
func (p *Pipeline) Run(ctx context.Context, inputPath string) (*Result, error) {
	startedAt := time.Now()

	if err := p.validateInput(inputPath); err != nil {
		return nil, err
	}

	id, err := identity.Compute(p.cfg, inputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to compute job identity: %v", err)
	}

	log := p.logger.WithField("job_id", shortID(id.JobID))

	// 幂等短路：任务目录完整时直接返回已有结果
	if p.cfg.Resume.Enable && p.cfg.Resume.ShortCircuit && p.dirs.IsComplete(id.JobID) {
		return p.shortCircuit(id, log)
	}

	if p.cfg.Limits.JobTimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(p.cfg.Limits.JobTimeoutSeconds)*time.Second)
		defer cancel()
	}

	layout, err := p.dirs.EnsureLayout(id.JobID)
	if err != nil {
		return nil, err
	}

	// 任务日志用独立logger落到任务目录，进程logger不做任何改动，
	// serve模式下并发任务互不串日志
	runLogger := p.logger
	if p.cfg.Logging.WriteToFile {
		scoped, closeLog := p.jobLogger(layout)
		defer closeLog()
		runLogger = scoped
	}
	log = runLogger.WithField("job_id", shortID(id.JobID))

	p.recordStart(id, inputPath, log)

	signal, err := pdfinfo.Probe(p.cfg, inputPath)
	if err != nil {
		p.recordFailure(id.JobID, err, log)
		return nil, err
	}

	pol := policy.Decide(p.cfg, signal)
	log.WithFields(logrus.Fields{
		"pages":  signal.PageCount,
		"tier":   pol.Tier,
		"engine": pol.Engine,
	}).Info("document classified")

	plan := p.buildPlan(signal)

	report := &merge.JobReport{
		JobID:      id.JobID,
		Input:      inputPath,
		InputHash:  id.InputHash,
		ConfigHash: id.ConfigHash,
		PageCount:  signal.PageCount,
		FileBytes:  signal.FileBytes,
		Tier:       pol.Tier,
		ForcedTier: pol.Forced,
		Engine:     string(pol.Engine),
		Strategy:   string(plan.Strategy),
		ChunkCount: len(plan.Chunks),
		StartedAt:  startedAt.UTC(),
	}

	var artifacts []executor.ChunkArtifact
	if len(plan.Chunks) > 0 {
		artifacts, err = p.execute(ctx, runLogger, layout, pol, plan, inputPath, report)
		if err != nil {
			p.recordFailure(id.JobID, err, log)
			return nil, err
		}
	}

	status := models.JobStatusSuccess
	if len(plan.Chunks) > 0 {
		status = merge.JobStatusFor(artifacts)
	}

	report.Status = status
	report.FailedChunks = merge.CountFailed(artifacts)
	report.Chunks = merge.BuildChunkReports(artifacts)
	report.FinishedAt = time.Now().UTC()
	report.ElapsedSeconds = time.Since(startedAt).Seconds()

	files, err := p.writeFinal(runLogger, layout, report, artifacts)
	if err != nil {
		p.recordFailure(id.JobID, err, log)
		return nil, err
	}

	if err := p.dirs.WriteIndex(layout, &jobdir.Index{
		JobID:      id.JobID,
		Status:     status,
		FinishedAt: report.FinishedAt,
		Files:      files,
	}); err != nil {
		p.recordFailure(id.JobID, err, log)
		return nil, err
	}

	p.archiveFinal(ctx, id.JobID, layout, log)
	p.recordFinish(id.JobID, report, log)

	// 全部成功后按配置清理分块检查点，partial保留以便排查
	if !p.cfg.Output.KeepIntermediates && status == models.JobStatusSuccess {
		if err := os.RemoveAll(layout.ChunksDir); err != nil {
			log.WithError(err).Warn("failed to remove chunk checkpoints")
		}
	}

	log.WithFields(logrus.Fields{
		"status":        status,
		"chunks":        report.ChunkCount,
		"failed_chunks": report.FailedChunks,
		"elapsed":       report.ElapsedSeconds,
	}).Info("job finished")

	return &Result{
		JobID:    id.JobID,
		Identity: id,
		Status:   status,
		Report:   report,
		JobDir:   layout.Root,
	}, nil
}

// validateInput 输入安全与可达性检查
func (p *Pipeline) validateInput(inputPath string) error {
	if p.cfg.Security.RejectURLInputs && strings.Contains(inputPath, "://") {
		return fmt.Errorf("%w: URL inputs are not accepted: %s", models.ErrUnreadableInput, inputPath)
	}

	info, err := os.Stat(inputPath)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrUnreadableInput, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: input is a directory: %s", models.ErrUnreadableInput, inputPath)
	}
	return nil
}

// shortCircuit 返回已有的完整结果
func (p *Pipeline) shortCircuit(id *identity.JobIdentity, log *logrus.Entry) (*Result, error) {
	index, err := p.dirs.ReadIndex(id.JobID)
	if err != nil {
		return nil, err
	}

	var report merge.JobReport
	if err := p.dirs.ReadFinalJSON(id.JobID, p.cfg.Output.ReportFilename, &report); err != nil {
		return nil, err
	}

	log.WithField("status", index.Status).Info("job directory already complete, skipping run")

	return &Result{
		JobID:          id.JobID,
		Identity:       id,
		Status:         index.Status,
		Report:         &report,
		JobDir:         p.dirs.JobDir(id.JobID),
		ShortCircuited: true,
	}, nil
}

// buildPlan 结合强制分块阈值生成分块计划
// 文档小于阈值时折叠为单块，避免无谓的物理拆分
func (p *Pipeline) buildPlan(signal *pdfinfo.ClassificationSignal) chunker.Plan {
	limits := p.cfg.Limits

	overPages := limits.RequireChunkingOverPages > 0 && signal.PageCount > limits.RequireChunkingOverPages
	overBytes := limits.RequireChunkingOverBytes > 0 && signal.FileBytes > limits.RequireChunkingOverBytes
	thresholdsSet := limits.RequireChunkingOverPages > 0 || limits.RequireChunkingOverBytes > 0

	if thresholdsSet && !overPages && !overBytes {
		return chunker.SinglePlan(signal.PageCount, chunker.StrategyPageRange)
	}

	return chunker.BuildPlan(p.cfg, signal.PageCount)
}

// execute 物化分块输入并运行执行器
func (p *Pipeline) execute(ctx context.Context, logger *logrus.Logger, layout *jobdir.Layout,
	pol policy.Policy, plan chunker.Plan, inputPath string, report *merge.JobReport) ([]executor.ChunkArtifact, error) {

	splitter := chunker.NewSplitter(p.cfg, logger)
	inputs, err := splitter.Materialize(plan, inputPath, layout.ChunksDir)
	if err != nil {
		return nil, err
	}
	defer splitter.Cleanup(inputs)

	primary, fallback, err := p.bindEngines(ctx, logger, pol, report)
	if err != nil {
		return nil, err
	}

	var sink executor.Sink
	if p.cfg.Output.WriteChunkJSON {
		sink = func(a executor.ChunkArtifact) error {
			return p.dirs.WriteChunkArtifact(layout, a.ChunkIndex, a)
		}
	}

	exec := executor.NewExecutor(p.cfg, logger, primary, fallback)
	return exec.Run(ctx, pol, inputs, layout.ChunksDir, sink)
}

// bindEngines 创建引擎实例并完成一次性的能力探测
// 主引擎探测失败是致命错误，后备引擎探测失败只是放弃回退
func (p *Pipeline) bindEngines(ctx context.Context, logger *logrus.Logger, pol policy.Policy, report *merge.JobReport) (executor.Binding, *executor.Binding, error) {
	requested := engine.OptionMap(pol.Options)
	detector := engine.NewDetector(p.cfg, p.cache, logger)

	primaryEngine := p.engineFor(pol.Engine, logger)
	snap, err := detector.Detect(ctx, primaryEngine)
	if err != nil {
		return executor.Binding{}, nil, fmt.Errorf("engine %s unusable: %w", primaryEngine.Name(), err)
	}
	report.EngineVersion = snap.EngineVersion

	applied, ignored := engine.Intersect(requested, snap)
	primary := executor.Binding{
		Engine:       primaryEngine,
		Options:      applied,
		IgnoredFlags: ignored,
	}

	if pol.Engine != policy.EngineNativeText {
		return primary, nil, nil
	}

	// 原生提取失败的分块回退到外部引擎
	fallbackEngine := engine.NewDoclingEngine(p.cfg, logger)
	fbSnap, err := detector.Detect(ctx, fallbackEngine)
	if err != nil {
		logger.WithError(err).Warn("fallback engine unavailable, native failures will not be retried")
		return primary, nil, nil
	}

	fbApplied, fbIgnored := engine.Intersect(requested, fbSnap)
	return primary, &executor.Binding{
		Engine:       fallbackEngine,
		Options:      fbApplied,
		IgnoredFlags: fbIgnored,
	}, nil
}

// engineFor 按策略选择引擎实现
func (p *Pipeline) engineFor(kind policy.EngineKind, logger *logrus.Logger) engine.Engine {
	if kind == policy.EngineNativeText {
		return engine.NewNativeEngine(p.cfg)
	}
	return engine.NewDoclingEngine(p.cfg, logger)
}

// writeFinal 写出最终产物，返回相对任务目录的产物路径列表
func (p *Pipeline) writeFinal(logger *logrus.Logger, layout *jobdir.Layout,
	report *merge.JobReport, artifacts []executor.ChunkArtifact) ([]string, error) {

	out := p.cfg.Output
	var files []string

	merger := merge.NewMerger(p.cfg, logger)
	markdown := merger.Postprocess(merger.Merge(artifacts))

	if out.WriteMarkdown {
		path := filepath.Join(layout.FinalDir, out.MarkdownFilename)
		if err := p.dirs.WriteText(path, markdown); err != nil {
			return nil, err
		}
		files = append(files, "final/"+out.MarkdownFilename)
	}

	if out.WriteText {
		path := filepath.Join(layout.FinalDir, out.TextFilename)
		if err := p.dirs.WriteText(path, merge.MarkdownToText(markdown)); err != nil {
			return nil, err
		}
		files = append(files, "final/"+out.TextFilename)
	}

	if out.WriteReportJSON {
		path := filepath.Join(layout.FinalDir, out.ReportFilename)
		if err := p.dirs.WriteJSON(path, report); err != nil {
			return nil, err
		}
		files = append(files, "final/"+out.ReportFilename)
	}

	if out.DumpEffectiveConfig {
		data, err := p.cfg.Normalized()
		if err != nil {
			return nil, fmt.Errorf("failed to serialize effective config: %v", err)
		}
		path := filepath.Join(layout.FinalDir, "effective_config.json")
		if err := p.dirs.WriteText(path, string(data)+"\n"); err != nil {
			return nil, err
		}
		files = append(files, "final/effective_config.json")
	}

	return files, nil
}

// archiveFinal 归档最终产物，失败只告警不影响任务结果
func (p *Pipeline) archiveFinal(ctx context.Context, jobID string, layout *jobdir.Layout, log *logrus.Entry) {
	if p.archive == nil {
		return
	}

	archived, err := storage.ArchiveJob(ctx, p.archive, jobID, layout.FinalDir)
	if err != nil {
		log.WithError(err).Warn("failed to archive final artifacts")
		return
	}
	log.WithField("objects", len(archived)).Info("final artifacts archived")
}

// jobLogger 创建本次任务专用的logger，日志同时写到进程输出和任务目录下的日志文件
// 进程级logger保持不变，并发任务各写各的文件
func (p *Pipeline) jobLogger(layout *jobdir.Layout) (*logrus.Logger, func()) {
	fileLogger := &lumberjack.Logger{
		Filename:   p.dirs.LogFilePath(layout),
		MaxSize:    p.cfg.Logging.MaxSizeMB,
		MaxBackups: p.cfg.Logging.MaxBackups,
		MaxAge:     p.cfg.Logging.MaxAgeDays,
	}

	scoped := logrus.New()
	scoped.SetFormatter(p.logger.Formatter)
	scoped.SetLevel(p.logger.GetLevel())
	scoped.SetOutput(io.MultiWriter(p.logger.Out, fileLogger))

	return scoped, func() {
		if err := fileLogger.Close(); err != nil {
			p.logger.WithError(err).Warn("failed to close job log file")
		}
	}
}

// recordStart 写入running状态的任务记录
func (p *Pipeline) recordStart(id *identity.JobIdentity, inputPath string, log *logrus.Entry) {
	if p.repo == nil {
		return
	}

	info, err := os.Stat(inputPath)
	var size int64
	if err == nil {
		size = info.Size()
	}

	record := &models.JobRecord{
		JobID:      id.JobID,
		InputPath:  inputPath,
		InputBytes: size,
		Status:     models.JobStatusRunning,
		JobDir:     p.dirs.JobDir(id.JobID),
	}
	if err := p.repo.Create(record); err != nil {
		log.WithError(err).Warn("failed to record job start")
	}
}

// recordFailure 把致命失败写入任务历史
func (p *Pipeline) recordFailure(jobID string, cause error, log *logrus.Entry) {
	if p.repo == nil {
		return
	}
	if err := p.repo.UpdateStatus(jobID, models.JobStatusFailed, cause.Error()); err != nil {
		log.WithError(err).Warn("failed to record job failure")
	}
}

// recordFinish 把最终报告写入任务历史
func (p *Pipeline) recordFinish(jobID string, report *merge.JobReport, log *logrus.Entry) {
	if p.repo == nil {
		return
	}

	record, err := p.repo.GetByJobID(jobID)
	if err != nil {
		log.WithError(err).Warn("failed to load job record")
		return
	}

	reportJSON, err := json.Marshal(report)
	if err != nil {
		log.WithError(err).Warn("failed to serialize report for job history")
		reportJSON = nil
	}

	now := time.Now()
	record.Status = report.Status
	record.PageCount = report.PageCount
	record.Tier = report.Tier
	record.Engine = report.Engine
	record.ChunkCount = report.ChunkCount
	record.FailedCount = report.FailedChunks
	record.Report = datatypes.JSON(reportJSON)
	record.FinishedAt = &now

	if err := p.repo.Update(record); err != nil {
		log.WithError(err).Warn("failed to record job finish")
	}
}

// shortID 日志里用的短指纹
func shortID(jobID string) string {
	if len(jobID) > 12 {
		return jobID[:12]
	}
	return jobID
}
