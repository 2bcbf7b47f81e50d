package jobdir

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/pdf-transcriber/config"
	"github.com/fyerfyer/pdf-transcriber/internal/models"
)

// Layout 单个任务目录的固定布局
type Layout struct {
	Root      string // out/<job-id>
	ChunksDir string // 分块工件目录
	FinalDir  string // 最终产物目录
	LogsDir   string // 任务日志目录
	IndexPath string // 完成标记文件
}

// Index 任务完成标记
// 只有全部产物写完后才落盘，存在即代表任务目录完整
type Index struct {
	JobID      string           `json:"job_id"`
	Status     models.JobStatus `json:"status"`
	FinishedAt time.Time        `json:"finished_at"`
	Files      []string         `json:"files"` // 相对任务目录的产物路径
}

// Manager 任务目录管理器
// 所有JSON写入都先写临时文件再重命名，避免半截文件
type Manager struct {
	cfg    *config.Config
	logger *logrus.Logger
}

// NewManager 创建任务目录管理器
func NewManager(cfg *config.Config, logger *logrus.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		logger: logger,
	}
}

// JobDir 返回任务目录路径
func (m *Manager) JobDir(jobID string) string {
	return filepath.Join(m.cfg.Paths.OutDir, jobID)
}

// EnsureLayout 创建任务目录骨架
func (m *Manager) EnsureLayout(jobID string) (*Layout, error) {
	root := m.JobDir(jobID)
	layout := &Layout{
		Root:      root,
		ChunksDir: filepath.Join(root, "chunks"),
		FinalDir:  filepath.Join(root, "final"),
		LogsDir:   filepath.Join(root, "logs"),
		IndexPath: filepath.Join(root, "index.json"),
	}

	for _, dir := range []string{layout.ChunksDir, layout.FinalDir, layout.LogsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("%w: failed to create job directory %s: %v", models.ErrJobIO, dir, err)
		}
	}

	return layout, nil
}

// WriteJSON 原子写入JSON文件
func (m *Manager) WriteJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: failed to marshal %s: %v", models.ErrJobIO, filepath.Base(path), err)
	}
	return m.writeAtomic(path, append(data, '\n'))
}

// WriteText 原子写入文本文件
func (m *Manager) WriteText(path, content string) error {
	return m.writeAtomic(path, []byte(content))
}

// writeAtomic 写临时文件后重命名到目标路径
func (m *Manager) writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: failed to create temp file for %s: %v", models.ErrJobIO, path, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: failed to write %s: %v", models.ErrJobIO, path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: failed to close %s: %v", models.ErrJobIO, path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: failed to rename %s: %v", models.ErrJobIO, path, err)
	}
	return nil
}

// ChunkArtifactPath 分块工件文件路径
func (m *Manager) ChunkArtifactPath(layout *Layout, index int) string {
	return filepath.Join(layout.ChunksDir, fmt.Sprintf("chunk_%05d.json", index))
}

// WriteChunkArtifact 落盘单个分块工件
func (m *Manager) WriteChunkArtifact(layout *Layout, index int, artifact interface{}) error {
	return m.WriteJSON(m.ChunkArtifactPath(layout, index), artifact)
}

// WriteIndex 写入完成标记，必须在所有产物落盘之后调用
func (m *Manager) WriteIndex(layout *Layout, index *Index) error {
	if err := m.WriteJSON(layout.IndexPath, index); err != nil {
		return err
	}
	m.logger.WithFields(logrus.Fields{
		"job_id": index.JobID,
		"status": index.Status,
	}).Debug("job index written")
	return nil
}

// IsComplete 判断任务目录是否已经完整
func (m *Manager) IsComplete(jobID string) bool {
	_, err := os.Stat(filepath.Join(m.JobDir(jobID), "index.json"))
	return err == nil
}

// ReadIndex 读取完成标记
func (m *Manager) ReadIndex(jobID string) (*Index, error) {
	data, err := os.ReadFile(filepath.Join(m.JobDir(jobID), "index.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, models.ErrJobNotFound
		}
		return nil, fmt.Errorf("%w: failed to read index: %v", models.ErrJobIO, err)
	}

	var index Index
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("%w: corrupt index file: %v", models.ErrJobIO, err)
	}
	return &index, nil
}

// ReadFinalJSON 读取final目录下的JSON产物
func (m *Manager) ReadFinalJSON(jobID, filename string, out interface{}) error {
	path := filepath.Join(m.JobDir(jobID), "final", filename)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return models.ErrJobNotFound
		}
		return fmt.Errorf("%w: failed to read %s: %v", models.ErrJobIO, filename, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: corrupt %s: %v", models.ErrJobIO, filename, err)
	}
	return nil
}

// LogFilePath 任务日志文件路径
func (m *Manager) LogFilePath(layout *Layout) string {
	return filepath.Join(layout.LogsDir, "job.log")
}
