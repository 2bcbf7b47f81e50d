package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/fyerfyer/pdf-transcriber/config"
)

// JobIdentity 任务指纹
// 由输入文件内容哈希和规范化配置哈希派生，相同输入必然产生相同指纹
type JobIdentity struct {
	JobID      string // 任务指纹（sha256十六进制，64位定宽）
	InputHash  string // 输入内容哈希
	ConfigHash string // 规范化配置哈希
}

// Compute 计算任务指纹
// 两次运行只要输入字节与规范化配置完全一致，得到的JobID就一致
func Compute(cfg *config.Config, inputPath string) (*JobIdentity, error) {
	inputHash, err := HashFile(cfg, inputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to hash input file: %w", err)
	}

	normalized, err := cfg.Normalized()
	if err != nil {
		return nil, err
	}
	configHash := SHA256Hex(normalized)

	jobID := SHA256Hex([]byte(configHash + ":" + inputHash))

	return &JobIdentity{
		JobID:      jobID,
		InputHash:  inputHash,
		ConfigHash: configHash,
	}, nil
}

// SHA256Hex 计算字节串的sha256十六进制摘要
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashFile 按配置的模式计算文件内容哈希
// full_sha256读取整个文件；fast_window只读首尾各一个窗口并混入文件大小，
// 用于在超大输入上避免整文件读取
func HashFile(cfg *config.Config, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %v", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat file: %v", err)
	}
	size := info.Size()

	switch cfg.Hashing.Mode {
	case "full_sha256":
		h := sha256.New()
		if _, err := io.Copy(h, f); err != nil {
			return "", fmt.Errorf("failed to read file: %v", err)
		}
		return hex.EncodeToString(h.Sum(nil)), nil

	case "fast_window":
		window := cfg.Hashing.FastWindowBytes
		if window > size {
			window = size
		}

		h := sha256.New()
		if window > 0 {
			head := make([]byte, window)
			if _, err := io.ReadFull(f, head); err != nil {
				return "", fmt.Errorf("failed to read head window: %v", err)
			}
			h.Write(head)

			// 文件比两个窗口大时再补上尾部窗口
			if size > window {
				if _, err := f.Seek(size-window, io.SeekStart); err != nil {
					return "", fmt.Errorf("failed to seek tail window: %v", err)
				}
				tail := make([]byte, window)
				if _, err := io.ReadFull(f, tail); err != nil {
					return "", fmt.Errorf("failed to read tail window: %v", err)
				}
				h.Write(tail)
			}
		}

		// 混入文件大小，避免首尾相同但长度不同的文件发生碰撞
		fmt.Fprintf(h, "%d", size)
		return hex.EncodeToString(h.Sum(nil)), nil

	default:
		return "", fmt.Errorf("unknown hashing mode: %s", cfg.Hashing.Mode)
	}
}
