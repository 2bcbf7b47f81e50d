package model

// 分页请求参数
type PaginationRequest struct {
	Page     int `form:"page" json:"page" binding:"omitempty,min=1"`           // 当前页码，从1开始
	PageSize int `form:"page_size" json:"page_size" binding:"omitempty,min=1"` // 每页记录数
}

// GetPage 获取页码，默认为1
func (p *PaginationRequest) GetPage() int {
	if p.Page <= 0 {
		return 1
	}
	return p.Page
}

// GetPageSize 获取每页记录数，默认为10，最大为100
func (p *PaginationRequest) GetPageSize() int {
	if p.PageSize <= 0 {
		return 10
	}
	if p.PageSize > 100 {
		return 100
	}
	return p.PageSize
}

// SubmitJobRequest 转写任务提交请求
type SubmitJobRequest struct {
	InputPath string `json:"input_path" binding:"required"` // 输入PDF路径
	Classify  bool   `json:"classify" binding:"omitempty"`  // 仅分类不转写
}

// TaskStatusRequest 任务状态查询请求
type TaskStatusRequest struct {
	ID string `uri:"id" binding:"required"` // 任务ID
}

// JobStatusRequest 作业查询请求
type JobStatusRequest struct {
	ID string `uri:"id" binding:"required"` // 作业ID
}

// JobListRequest 作业列表请求
type JobListRequest struct {
	PaginationRequest
	Status string `form:"status" json:"status" binding:"omitempty"` // 作业状态过滤
}
