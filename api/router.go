package api

import (
	"github.com/fyerfyer/pdf-transcriber/api/handler"
	"github.com/fyerfyer/pdf-transcriber/api/middleware"
	"github.com/gin-gonic/gin"
)

// SetupRouter 设置API路由
// 配置所有的API端点并应用中间件
func SetupRouter(jobHandler *handler.JobHandler) *gin.Engine {
	// 创建默认的Gin路由引擎
	router := gin.Default()

	// 应用全局中间件
	router.Use(middleware.Logger())
	router.Use(middleware.ErrorMiddleware())
	router.Use(middleware.SetTraceID())

	// 创建API分组
	api := router.Group("/api")
	{
		// 作业管理API
		jobGroup := api.Group("/jobs")
		{
			// 提交转写任务 - POST /api/jobs
			jobGroup.POST("", jobHandler.SubmitJob)

			// 获取作业详情 - GET /api/jobs/:id
			jobGroup.GET("/:id", jobHandler.GetJob)

			// 获取作业列表 - GET /api/jobs
			jobGroup.GET("", jobHandler.ListJobs)
		}

		// 队列任务API
		taskGroup := api.Group("/tasks")
		{
			// 获取任务状态 - GET /api/tasks/:id
			taskGroup.GET("/:id", jobHandler.GetTaskStatus)
		}

		// 健康检查API
		api.GET("/health", func(c *gin.Context) {
			c.JSON(200, gin.H{
				"status": "ok",
			})
		})
	}

	return router
}

// Cors 跨域资源共享中间件
// 如果需要支持跨域请求，可以启用此中间件
func Cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Trace-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
