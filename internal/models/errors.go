package models

import "errors"

var (
	// ErrUnreadableInput 输入文件无法作为PDF解析错误
	// 与"可解析但没有文本"不同，后者是合法的分类结果而不是错误
	ErrUnreadableInput = errors.New("input is not a readable PDF")

	// ErrEngineUnavailable 外部引擎不可用错误
	// 能力探测阶段无法定位或启动引擎时返回，任务在任何分块执行前中止
	ErrEngineUnavailable = errors.New("extraction engine unavailable")

	// ErrJobIO 任务目录写入错误
	// 任务目录不可写时，下游所有结果都不可信
	ErrJobIO = errors.New("job directory io failure")

	// ErrJobExists 任务目录已存在且禁止续跑错误
	ErrJobExists = errors.New("job directory already exists")

	// ErrJobNotFound 任务记录不存在错误
	ErrJobNotFound = errors.New("job not found")
)
