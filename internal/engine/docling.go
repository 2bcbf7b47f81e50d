package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/pdf-transcriber/config"
	"github.com/fyerfyer/pdf-transcriber/internal/models"
)

// DoclingEngine 通过子进程调用外部docling引擎
// 每次请求向子进程stdin写入一行JSON，从stdout读取一个JSON响应
type DoclingEngine struct {
	cfg    *config.Config
	logger *logrus.Logger
}

// NewDoclingEngine 创建docling引擎实例
func NewDoclingEngine(cfg *config.Config, logger *logrus.Logger) *DoclingEngine {
	return &DoclingEngine{
		cfg:    cfg,
		logger: logger,
	}
}

// Name 返回引擎名称
func (e *DoclingEngine) Name() string {
	return "docling"
}

// wireRequest 引擎线协议请求
type wireRequest struct {
	Cmd string          `json:"cmd"`
	Req *wireConvertReq `json:"req,omitempty"`
}

// wireConvertReq 线协议中的转换请求
// 页码为1起始的闭区间，与内部的0起始左闭右开区间在此转换
type wireConvertReq struct {
	InputPDF         string                 `json:"input_pdf"`
	OutDir           string                 `json:"out_dir"`
	ChunkIndex       int                    `json:"chunk_index"`
	StartPage        int                    `json:"start_page"`
	EndPage          int                    `json:"end_page"`
	DoOCR            bool                   `json:"do_ocr"`
	ForceFullPageOCR bool                   `json:"force_full_page_ocr"`
	PDFBackend       string                 `json:"pdf_backend,omitempty"`
	UsePageRange     bool                   `json:"use_page_range"`
	Options          map[string]interface{} `json:"options,omitempty"`
}

// wireResponse 引擎线协议响应
type wireResponse struct {
	OK               bool                   `json:"ok"`
	Error            string                 `json:"error,omitempty"`
	EngineVersion    string                 `json:"engine_version,omitempty"`
	SupportedOptions []string               `json:"supported_options,omitempty"`
	Markdown         string                 `json:"markdown,omitempty"`
	Warnings         []string               `json:"warnings,omitempty"`
	Meta             map[string]interface{} `json:"meta,omitempty"`
}

// Capabilities 探测引擎能力
func (e *DoclingEngine) Capabilities(ctx context.Context) (Capabilities, error) {
	timeout := time.Duration(e.cfg.Engine.CapabilityTimeoutSeconds) * time.Second
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resp, err := e.run(ctx, wireRequest{Cmd: "capabilities"})
	if err != nil {
		return Capabilities{}, err
	}

	return Capabilities{
		EngineVersion:    resp.EngineVersion,
		SupportedOptions: resp.SupportedOptions,
	}, nil
}

// Convert 转换单个分块
func (e *DoclingEngine) Convert(ctx context.Context, req ConvertRequest) (ConvertResult, error) {
	wire := wireRequest{
		Cmd: "convert",
		Req: &wireConvertReq{
			InputPDF:         req.InputPDF,
			OutDir:           req.OutDir,
			ChunkIndex:       req.ChunkIndex,
			StartPage:        req.StartPage + 1,
			EndPage:          req.EndPage,
			DoOCR:            req.DoOCR,
			ForceFullPageOCR: req.ForceFullPageOCR,
			PDFBackend:       e.cfg.Engine.PDFBackend,
			UsePageRange:     req.UsePageRange,
			Options:          req.Options,
		},
	}

	resp, err := e.run(ctx, wire)
	if err != nil {
		return ConvertResult{}, err
	}

	return ConvertResult{
		Markdown: resp.Markdown,
		Warnings: resp.Warnings,
		Meta:     resp.Meta,
	}, nil
}

// run 启动子进程并完成一次请求/响应交换
func (e *DoclingEngine) run(ctx context.Context, req wireRequest) (*wireResponse, error) {
	command := e.cfg.Engine.Command
	if len(command) == 0 {
		return nil, fmt.Errorf("%w: engine command is empty", models.ErrEngineUnavailable)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal engine request: %v", err)
	}

	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Stdin = bytes.NewReader(append(payload, '\n'))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	cmd.Env = os.Environ()
	for k, v := range e.cfg.Engine.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	e.logger.WithFields(logrus.Fields{
		"engine": e.Name(),
		"cmd":    req.Cmd,
	}).Debug("invoking engine subprocess")

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if _, ok := err.(*exec.ExitError); !ok {
			// 进程根本没能启动
			return nil, fmt.Errorf("%w: %v", models.ErrEngineUnavailable, err)
		}
		return nil, fmt.Errorf("engine process failed: %v, stderr: %s", err, truncate(stderr.String(), 512))
	}

	var resp wireResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("failed to decode engine response: %v", err)
	}

	if !resp.OK {
		msg := resp.Error
		if msg == "" {
			msg = "engine reported failure without message"
		}
		return nil, fmt.Errorf("engine error: %s", msg)
	}

	return &resp, nil
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
