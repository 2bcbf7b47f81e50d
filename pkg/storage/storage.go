package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ObjectInfo 归档对象元数据
type ObjectInfo struct {
	Key      string // 对象键，形如 <job-id>/final/transcript.md
	Size     int64  // 对象大小(字节)
	MimeType string // MIME类型
}

// Storage 产物归档存储接口
// 定义最终产物的归档操作，可以有不同实现(本地文件系统、MinIO等)
type Storage interface {
	// Put 按对象键写入内容
	Put(ctx context.Context, key string, reader io.Reader, size int64) (ObjectInfo, error)

	// Get 获取对象内容
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete 删除对象
	Delete(ctx context.Context, key string) error

	// List 列出指定前缀下的对象
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Exists 检查对象是否存在
	Exists(ctx context.Context, key string) (bool, error)
}

// ArchiveJob 把任务final目录下的全部产物归档到存储
// 对象键为 <job-id>/final/<文件名>，返回归档的对象列表
func ArchiveJob(ctx context.Context, s Storage, jobID, finalDir string) ([]ObjectInfo, error) {
	entries, err := os.ReadDir(finalDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read final directory: %v", err)
	}

	var archived []ObjectInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		path := filepath.Join(finalDir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			return archived, fmt.Errorf("failed to stat %s: %v", entry.Name(), err)
		}

		file, err := os.Open(path)
		if err != nil {
			return archived, fmt.Errorf("failed to open %s: %v", entry.Name(), err)
		}

		key := jobID + "/final/" + entry.Name()
		obj, err := s.Put(ctx, key, file, info.Size())
		file.Close()
		if err != nil {
			return archived, fmt.Errorf("failed to archive %s: %v", entry.Name(), err)
		}
		archived = append(archived, obj)
	}

	return archived, nil
}

// getMimeType 根据文件扩展名推断MIME类型
func getMimeType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md":
		return "text/markdown"
	case ".txt":
		return "text/plain"
	case ".json":
		return "application/json"
	case ".pdf":
		return "application/pdf"
	case ".log":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
