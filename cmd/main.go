package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fyerfyer/pdf-transcriber/api"
	apihandler "github.com/fyerfyer/pdf-transcriber/api/handler"
	"github.com/fyerfyer/pdf-transcriber/config"
	"github.com/fyerfyer/pdf-transcriber/internal/database"
	"github.com/fyerfyer/pdf-transcriber/internal/models"
	"github.com/fyerfyer/pdf-transcriber/internal/pipeline"
	"github.com/fyerfyer/pdf-transcriber/internal/repository"
	"github.com/fyerfyer/pdf-transcriber/pkg/storage"
	"github.com/fyerfyer/pdf-transcriber/pkg/taskqueue"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// 退出码约定
const (
	exitOK      = 0 // 全部成功
	exitFailed  = 1 // 致命失败或全部分块失败
	exitUsage   = 2 // 参数错误
	exitPartial = 3 // 部分分块失败，产出了尽力而为的结果
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitUsage)
	}

	switch os.Args[1] {
	case "run":
		os.Exit(runCmd(os.Args[2:]))
	case "classify":
		os.Exit(classifyCmd(os.Args[2:]))
	case "plan":
		os.Exit(planCmd(os.Args[2:]))
	case "doctor":
		os.Exit(doctorCmd(os.Args[2:]))
	case "serve":
		os.Exit(serveCmd(os.Args[2:]))
	case "help", "-h", "--help":
		printUsage()
		os.Exit(exitOK)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(exitUsage)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `pdf-transcriber - deterministic PDF transcription orchestrator

Usage:
  pdf-transcriber <command> [flags] [input.pdf]

Commands:
  run       transcribe a PDF into the job directory
  classify  probe a PDF and print the quality classification
  plan      print the chunk plan without executing anything
  doctor    check that the environment is usable
  serve     run the HTTP API server with an async task queue

Common flags:
  -config string     path to config file (default: ./transcriber.yaml)
  -out string        override the output directory
  -log-level string  override the log level (debug/info/warn/error)
`)
}

// commonFlags 各子命令共享的命令行参数
type commonFlags struct {
	ConfigFile string
	OutDir     string
	LogLevel   string
}

func registerCommonFlags(fs *flag.FlagSet) *commonFlags {
	cf := &commonFlags{}
	fs.StringVar(&cf.ConfigFile, "config", "", "Path to config file")
	fs.StringVar(&cf.OutDir, "out", "", "Override output directory")
	fs.StringVar(&cf.LogLevel, "log-level", "", "Override log level (debug/info/warn/error)")
	return cf
}

// setup 加载配置并初始化日志
func setup(cf *commonFlags) (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(cf.ConfigFile)
	if err != nil {
		return nil, nil, err
	}
	if cf.OutDir != "" {
		cfg.Paths.OutDir = cf.OutDir
	}
	if cf.LogLevel != "" {
		cfg.Logging.Level = cf.LogLevel
	}

	logger := setupLogger(cfg)
	return cfg, logger, nil
}

// setupLogger 根据配置初始化日志系统
func setupLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	if cfg.Logging.JSONFormat {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

// buildPipeline 组装转写流水线及其可选依赖
func buildPipeline(cfg *config.Config, logger *logrus.Logger) (*pipeline.Pipeline, repository.JobRepository, error) {
	pipe := pipeline.New(cfg, logger)

	var repo repository.JobRepository
	if cfg.Database.Enable {
		if err := setupDatabase(cfg, logger); err != nil {
			return nil, nil, fmt.Errorf("failed to initialize database: %v", err)
		}
		repo = repository.NewJobRepository()
		pipe = pipe.WithRepository(repo)
	}

	if cfg.Storage.Enable {
		archive, err := setupStorage(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize archive storage: %v", err)
		}
		pipe = pipe.WithArchive(archive)
		logger.WithField("type", cfg.Storage.Type).Info("Artifact archiving enabled")
	}

	return pipe, repo, nil
}

// setupDatabase 初始化任务历史数据库
func setupDatabase(cfg *config.Config, logger *logrus.Logger) error {
	dbConfig := database.DefaultConfig()
	if cfg.Database.Type != "" {
		dbConfig.Type = cfg.Database.Type
	}
	if cfg.Database.DSN != "" {
		dbConfig.DSN = cfg.Database.DSN
	}
	return database.Setup(dbConfig, logger)
}

// setupStorage 初始化产物归档存储
func setupStorage(cfg *config.Config) (storage.Storage, error) {
	switch cfg.Storage.Type {
	case "", "local":
		path := cfg.Storage.Path
		if path == "" {
			path = filepath.Join("data", "archive")
		}
		return storage.NewLocalStorage(storage.LocalConfig{Path: path})
	case "minio":
		return storage.NewMinioStorage(storage.MinioConfig{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			UseSSL:    cfg.Storage.UseSSL,
			Bucket:    cfg.Storage.Bucket,
		})
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}
}

// signalContext 返回在收到终止信号时取消的上下文
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// printJSON 把结果以缩进JSON的形式写到标准输出
func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runCmd(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cf := registerCommonFlags(fs)
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: pdf-transcriber run [flags] <input.pdf>")
		return exitUsage
	}

	cfg, logger, err := setup(cf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitFailed
	}

	pipe, _, err := buildPipeline(cfg, logger)
	if err != nil {
		logger.Errorf("%v", err)
		return exitFailed
	}
	defer database.Close()

	ctx, cancel := signalContext()
	defer cancel()

	result, err := pipe.Run(ctx, fs.Arg(0))
	if err != nil {
		logger.WithError(err).Error("Transcription failed")
		return exitFailed
	}

	if err := printJSON(map[string]interface{}{
		"job_id":          result.JobID,
		"status":          result.Status,
		"job_dir":         result.JobDir,
		"short_circuited": result.ShortCircuited,
	}); err != nil {
		logger.WithError(err).Error("Failed to print result")
		return exitFailed
	}

	switch result.Status {
	case models.JobStatusSuccess:
		return exitOK
	case models.JobStatusPartial:
		return exitPartial
	default:
		return exitFailed
	}
}

func classifyCmd(args []string) int {
	fs := flag.NewFlagSet("classify", flag.ExitOnError)
	cf := registerCommonFlags(fs)
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: pdf-transcriber classify [flags] <input.pdf>")
		return exitUsage
	}

	cfg, logger, err := setup(cf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitFailed
	}

	ctx, cancel := signalContext()
	defer cancel()

	classification, err := pipeline.New(cfg, logger).Classify(ctx, fs.Arg(0))
	if err != nil {
		logger.WithError(err).Error("Classification failed")
		return exitFailed
	}

	if err := printJSON(classification); err != nil {
		logger.WithError(err).Error("Failed to print classification")
		return exitFailed
	}
	return exitOK
}

func planCmd(args []string) int {
	fs := flag.NewFlagSet("plan", flag.ExitOnError)
	cf := registerCommonFlags(fs)
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: pdf-transcriber plan [flags] <input.pdf>")
		return exitUsage
	}

	cfg, logger, err := setup(cf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitFailed
	}

	ctx, cancel := signalContext()
	defer cancel()

	preview, err := pipeline.New(cfg, logger).PlanOnly(ctx, fs.Arg(0))
	if err != nil {
		logger.WithError(err).Error("Planning failed")
		return exitFailed
	}

	if err := printJSON(preview); err != nil {
		logger.WithError(err).Error("Failed to print plan")
		return exitFailed
	}
	return exitOK
}

func doctorCmd(args []string) int {
	fs := flag.NewFlagSet("doctor", flag.ExitOnError)
	cf := registerCommonFlags(fs)
	_ = fs.Parse(args)

	cfg, logger, err := setup(cf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitFailed
	}

	ctx, cancel := signalContext()
	defer cancel()

	checks := pipeline.New(cfg, logger).Doctor(ctx)
	if err := printJSON(checks); err != nil {
		logger.WithError(err).Error("Failed to print checks")
		return exitFailed
	}

	for _, check := range checks {
		if !check.OK {
			return exitFailed
		}
	}
	return exitOK
}

func serveCmd(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	cf := registerCommonFlags(fs)
	port := fs.Int("port", 0, "Override server port")
	_ = fs.Parse(args)

	cfg, logger, err := setup(cf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitFailed
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	gin.SetMode(cfg.Server.Mode)
	logger.Info("Starting PDF transcriber server...")

	pipe, repo, err := buildPipeline(cfg, logger)
	if err != nil {
		logger.Errorf("%v", err)
		return exitFailed
	}
	defer database.Close()

	// 创建任务队列
	queueConfig := taskqueue.DefaultConfig()
	if cfg.Queue.Type != "" {
		queueConfig.Type = cfg.Queue.Type
	}
	queueConfig.RedisAddr = cfg.Queue.RedisAddr
	queueConfig.RedisPassword = cfg.Queue.RedisPassword
	queueConfig.RedisDB = cfg.Queue.RedisDB
	if cfg.Queue.Concurrency > 0 {
		queueConfig.Concurrency = cfg.Queue.Concurrency
	}
	if cfg.Queue.RetryLimit > 0 {
		queueConfig.RetryLimit = cfg.Queue.RetryLimit
	}

	queue, err := taskqueue.NewQueue(queueConfig)
	if err != nil {
		logger.Errorf("Failed to initialize task queue: %v", err)
		return exitFailed
	}
	defer queue.Close()

	// 启动队列worker，转写任务在服务进程内异步执行
	worker, err := setupWorker(queue, queueConfig)
	if err != nil {
		logger.Errorf("Failed to initialize queue worker: %v", err)
		return exitFailed
	}

	transcribeHandler := taskqueue.NewTranscribeHandler(pipe, queue, logger)
	for _, taskType := range transcribeHandler.GetTaskTypes() {
		worker.RegisterHandler(taskType, transcribeHandler)
	}
	if err := worker.Start(); err != nil {
		logger.Errorf("Failed to start queue worker: %v", err)
		return exitFailed
	}
	defer worker.Stop()

	// 设置路由并启动HTTP服务器
	jobHandler := apihandler.NewJobHandler(queue, repo)
	router := api.SetupRouter(jobHandler)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Server is running on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// 等待终止信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Errorf("Failed to start server: %v", err)
		return exitFailed
	case <-quit:
	}
	logger.Info("Shutting down server...")

	// 优雅关闭服务器
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
		return exitFailed
	}

	logger.Info("Server exited")
	return exitOK
}

// setupWorker 为队列创建对应的worker实现
func setupWorker(queue taskqueue.Queue, cfg *taskqueue.Config) (taskqueue.Worker, error) {
	switch q := queue.(type) {
	case *taskqueue.MemoryQueue:
		// 内存队列自身就是worker
		return q, nil
	case *taskqueue.RedisQueue:
		return taskqueue.NewRedisWorker(q, cfg), nil
	default:
		return nil, fmt.Errorf("no worker available for queue type %T", queue)
	}
}
