package pdfinfo

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// SplitRange 把页区间[start,end)（0起半开）物理拆分为独立可打开的子文档
// 子文档只包含该区间的页，保留页内容与结构
func SplitRange(inputPath, outPath string, start, end int) error {
	if end <= start {
		return fmt.Errorf("invalid page range: [%d,%d)", start, end)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %v", err)
	}

	conf := model.NewDefaultConfiguration()
	selected := []string{fmt.Sprintf("%d-%d", start+1, end)}
	if err := api.TrimFile(inputPath, outPath, selected, conf); err != nil {
		return fmt.Errorf("failed to split pages %d-%d: %v", start+1, end, err)
	}

	return nil
}

// ChunkFilename 子文档文件名，按块序号和1起页码命名
func ChunkFilename(index, start, end int) string {
	return fmt.Sprintf("chunk_%05d_p%05d-p%05d.pdf", index, start+1, end)
}
