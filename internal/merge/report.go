package merge

import (
	"time"

	"github.com/fyerfyer/pdf-transcriber/internal/executor"
	"github.com/fyerfyer/pdf-transcriber/internal/models"
)

// ChunkReport 报告中的单分块条目
type ChunkReport struct {
	ChunkIndex     int                  `json:"chunk_index"`
	StartPage      int                  `json:"start_page"` // 0起始，含
	EndPage        int                  `json:"end_page"`   // 0起始，不含
	Pages          int                  `json:"pages"`
	Status         executor.ChunkStatus `json:"status"`
	Engine         string               `json:"engine"`
	Attempts       int                  `json:"attempts"`
	ElapsedSeconds float64              `json:"elapsed_seconds"`
	IgnoredFlags   []string             `json:"ignored_flags,omitempty"`
	Warnings       []string             `json:"warnings,omitempty"`
	Error          string               `json:"error,omitempty"`
}

// JobReport 任务级报告，写入final/report.json
type JobReport struct {
	JobID          string             `json:"job_id"`
	Input          string             `json:"input"`
	InputHash      string             `json:"input_hash"`
	ConfigHash     string             `json:"config_hash"`
	PageCount      int                `json:"page_count"`
	FileBytes      int64              `json:"file_bytes"`
	Tier           models.QualityTier `json:"tier"`
	ForcedTier     bool               `json:"forced_tier"`
	Engine         string             `json:"engine"`
	EngineVersion  string             `json:"engine_version,omitempty"`
	Strategy       string             `json:"strategy"`
	ChunkCount     int                `json:"chunk_count"`
	FailedChunks   int                `json:"failed_chunks"`
	Status         models.JobStatus   `json:"status"`
	StartedAt      time.Time          `json:"started_at"`
	FinishedAt     time.Time          `json:"finished_at"`
	ElapsedSeconds float64            `json:"elapsed_seconds"`
	Chunks         []ChunkReport      `json:"chunks"`
}

// BuildChunkReports 把执行工件转换为报告条目
func BuildChunkReports(artifacts []executor.ChunkArtifact) []ChunkReport {
	reports := make([]ChunkReport, 0, len(artifacts))
	for _, a := range artifacts {
		reports = append(reports, ChunkReport{
			ChunkIndex:     a.ChunkIndex,
			StartPage:      a.StartPage,
			EndPage:        a.EndPage,
			Pages:          a.EndPage - a.StartPage,
			Status:         a.Status,
			Engine:         a.Engine,
			Attempts:       a.Attempts,
			ElapsedSeconds: a.ElapsedSeconds,
			IgnoredFlags:   a.IgnoredFlags,
			Warnings:       a.Warnings,
			Error:          a.Error,
		})
	}
	return reports
}

// CountFailed 统计未成功的分块数量
func CountFailed(artifacts []executor.ChunkArtifact) int {
	failed := 0
	for _, a := range artifacts {
		if a.Status != executor.StatusSuccess {
			failed++
		}
	}
	return failed
}

// JobStatusFor 由分块结果推导任务状态
// 全部成功为success，部分失败为partial，全部失败为failed
func JobStatusFor(artifacts []executor.ChunkArtifact) models.JobStatus {
	if len(artifacts) == 0 {
		return models.JobStatusFailed
	}
	failed := CountFailed(artifacts)
	switch {
	case failed == 0:
		return models.JobStatusSuccess
	case failed == len(artifacts):
		return models.JobStatusFailed
	default:
		return models.JobStatusPartial
	}
}
