package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/pdf-transcriber/config"
	"github.com/fyerfyer/pdf-transcriber/internal/chunker"
	"github.com/fyerfyer/pdf-transcriber/internal/engine"
	"github.com/fyerfyer/pdf-transcriber/internal/policy"
)

// ChunkStatus 单个分块的执行结果状态
type ChunkStatus string

const (
	StatusSuccess     ChunkStatus = "success"      // 转换成功
	StatusTimeout     ChunkStatus = "timeout"      // 超出单块时限被终止
	StatusEngineError ChunkStatus = "engine_error" // 引擎报错或进程异常退出
	StatusSkipped     ChunkStatus = "skipped"      // 任务被取消，未执行
)

// ChunkArtifact 单个分块的执行产物
// 失败的分块同样产出工件，失败体现在状态而不是错误返回
type ChunkArtifact struct {
	ChunkIndex     int         `json:"chunk_index"`
	StartPage      int         `json:"start_page"` // 0起始，含
	EndPage        int         `json:"end_page"`   // 0起始，不含
	Status         ChunkStatus `json:"status"`
	Engine         string      `json:"engine"`
	Markdown       string      `json:"markdown,omitempty"`
	Warnings       []string    `json:"warnings,omitempty"`
	IgnoredFlags   []string    `json:"ignored_flags,omitempty"`
	Attempts       int         `json:"attempts"`
	ElapsedSeconds float64     `json:"elapsed_seconds"`
	Error          string      `json:"error,omitempty"`
}

// Binding 引擎与其能力交集结果的绑定
type Binding struct {
	Engine       engine.Engine
	Options      map[string]interface{} // 能力交集后可下发的选项
	IgnoredFlags []string               // 请求了但引擎不支持的选项名
}

// Sink 分块工件落盘回调，在每个分块完成时调用
type Sink func(artifact ChunkArtifact) error

// Executor 分块执行器
// 用固定数量的worker并行执行分块，单块失败不会中断整个任务
type Executor struct {
	cfg      *config.Config
	logger   *logrus.Logger
	primary  Binding
	fallback *Binding // native_text失败时的后备引擎，可为nil
}

// NewExecutor 创建分块执行器
func NewExecutor(cfg *config.Config, logger *logrus.Logger, primary Binding, fallback *Binding) *Executor {
	return &Executor{
		cfg:      cfg,
		logger:   logger,
		primary:  primary,
		fallback: fallback,
	}
}

// Run 执行全部分块并按分块序号返回工件
// 返回error仅代表执行器自身的故障，分块失败记录在工件状态里
func (e *Executor) Run(ctx context.Context, pol policy.Policy, inputs []chunker.ChunkInput, outDir string, sink Sink) ([]ChunkArtifact, error) {
	artifacts := make([]ChunkArtifact, len(inputs))

	concurrency := e.cfg.Executor.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > len(inputs) {
		concurrency = len(inputs)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	var sinkMu sync.Mutex
	var sinkErr error

	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				artifact := e.runChunk(ctx, pol, inputs[idx], outDir)
				artifacts[idx] = artifact

				if sink != nil {
					sinkMu.Lock()
					if err := sink(artifact); err != nil && sinkErr == nil {
						sinkErr = err
					}
					sinkMu.Unlock()
				}
			}
		}()
	}

	for idx := range inputs {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()

	if sinkErr != nil {
		return artifacts, fmt.Errorf("failed to persist chunk artifact: %v", sinkErr)
	}
	return artifacts, nil
}

// runChunk 执行单个分块，包含重试和引擎回退
func (e *Executor) runChunk(ctx context.Context, pol policy.Policy, in chunker.ChunkInput, outDir string) ChunkArtifact {
	artifact := ChunkArtifact{
		ChunkIndex:   in.Range.Index,
		StartPage:    in.Range.Start,
		EndPage:      in.Range.End,
		Engine:       e.primary.Engine.Name(),
		IgnoredFlags: e.primary.IgnoredFlags,
	}

	if ctx.Err() != nil {
		artifact.Status = StatusSkipped
		artifact.Error = ctx.Err().Error()
		return artifact
	}

	started := time.Now()
	maxAttempts := 1 + e.cfg.Executor.RetryCount

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		artifact.Attempts = attempt

		if ctx.Err() != nil {
			artifact.Status = StatusSkipped
			artifact.Error = ctx.Err().Error()
			artifact.ElapsedSeconds = time.Since(started).Seconds()
			return artifact
		}

		result, binding, err := e.attempt(ctx, pol, in, outDir)
		if err == nil {
			artifact.Status = StatusSuccess
			artifact.Engine = binding.Engine.Name()
			artifact.IgnoredFlags = binding.IgnoredFlags
			artifact.Markdown = result.Markdown
			artifact.Warnings = result.Warnings
			artifact.ElapsedSeconds = time.Since(started).Seconds()
			return artifact
		}

		lastErr = err
		e.logger.WithFields(logrus.Fields{
			"chunk":   in.Range.Index,
			"attempt": attempt,
		}).WithError(err).Warn("chunk conversion attempt failed")
	}

	artifact.ElapsedSeconds = time.Since(started).Seconds()
	artifact.Error = lastErr.Error()
	if errors.Is(lastErr, context.DeadlineExceeded) {
		artifact.Status = StatusTimeout
	} else {
		artifact.Status = StatusEngineError
	}
	return artifact
}

// attempt 用主引擎执行一次转换，失败且配置了后备引擎时改用后备引擎
// 返回实际产出结果的引擎绑定
func (e *Executor) attempt(ctx context.Context, pol policy.Policy, in chunker.ChunkInput, outDir string) (engine.ConvertResult, Binding, error) {
	chunkCtx := ctx
	if e.cfg.Executor.ChunkTimeoutSeconds > 0 {
		var cancel context.CancelFunc
		chunkCtx, cancel = context.WithTimeout(ctx, time.Duration(e.cfg.Executor.ChunkTimeoutSeconds)*time.Second)
		defer cancel()
	}

	req := engine.ConvertRequest{
		InputPDF:         in.InputPDF,
		OutDir:           outDir,
		ChunkIndex:       in.Range.Index,
		StartPage:        in.Range.Start,
		EndPage:          in.Range.End,
		UsePageRange:     in.UsePageRange,
		DoOCR:            pol.OCRMode != policy.OCROff,
		ForceFullPageOCR: pol.OCRMode == policy.OCRForcedFullPage,
		Options:          e.primary.Options,
	}

	result, err := e.primary.Engine.Convert(chunkCtx, req)
	if err == nil {
		return result, e.primary, nil
	}

	// 超时不回退，后备引擎只接管引擎自身的失败
	if e.fallback == nil || chunkCtx.Err() != nil {
		return engine.ConvertResult{}, e.primary, err
	}

	e.logger.WithFields(logrus.Fields{
		"chunk":    in.Range.Index,
		"primary":  e.primary.Engine.Name(),
		"fallback": e.fallback.Engine.Name(),
	}).WithError(err).Warn("primary engine failed, falling back")

	req.Options = e.fallback.Options
	result, fbErr := e.fallback.Engine.Convert(chunkCtx, req)
	if fbErr != nil {
		return engine.ConvertResult{}, *e.fallback, fmt.Errorf("primary engine: %v, fallback engine: %v", err, fbErr)
	}
	return result, *e.fallback, nil
}
