package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mautops/workflow-gin/internal/auth"
	"github.com/mautops/workflow-gin/internal/config"
	"github.com/mautops/workflow-gin/internal/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RouterDeps 路由依赖
type RouterDeps struct {
	Config        *config.Config
	Logger        logrus.FieldLogger
	DB            *gorm.DB
	Redis         *redis.Client
	Auth          gin.HandlerFunc // 认证中间件,负责把操作人写入请求上下文
	Hub           *websocket.Hub
	Validator     *auth.KeycloakTokenValidator
	Tasks         *TaskController
	Instances     *InstanceController
	Queries       *QueryController
	Definitions   *DefinitionController
	Notifications *NotificationController
}

// SetupRoutes 配置路由
func SetupRoutes(deps RouterDeps) *gin.Engine {
	router := gin.New()

	cfg := deps.Config
	if cfg == nil {
		cfg = config.Default()
	}

	router.Use(RequestIDMiddleware())
	// 追踪中间件在日志之前,日志才能带上 trace_id
	if cfg.Tracing.Enabled {
		router.Use(TracingMiddleware())
	}
	router.Use(RequestLogMiddleware(deps.Logger))
	router.Use(gin.Recovery())
	router.Use(CORSMiddleware(cfg.CORS))
	router.Use(SecurityHeadersMiddleware(config.IsProduction(cfg)))
	if cfg.RateLimit.Enabled {
		router.Use(RateLimitMiddleware(cfg.RateLimit))
	}
	router.Use(ErrorHandlerMiddleware())

	router.GET("/health", NewHealthController(deps.DB, deps.Redis).Check)
	router.GET("/metrics", MetricsHandler)

	// 站内消息推送
	if deps.Hub != nil && deps.Validator != nil {
		upgrader := websocket.NewUpgrader(cfg.CORS.AllowedOrigins)
		router.GET("/ws/notifications", websocket.WebSocketHandler(deps.Hub, deps.Validator, upgrader))
	}

	v1 := router.Group("/api/v1")
	if deps.Auth != nil {
		v1.Use(deps.Auth)
	}

	if c := deps.Definitions; c != nil {
		definitions := v1.Group("/definitions")
		{
			definitions.POST("", c.Deploy)
			definitions.POST("/bindings", c.BindTable)
			definitions.GET("/:key", c.Latest)
			definitions.GET("/:key/nodes", c.NodeConfigs)
			definitions.PUT("/:key/nodes/:node_id", c.SaveNodeConfig)
			definitions.POST("/:key/suspend", c.Suspend)
			definitions.POST("/:key/activate", c.Activate)
		}
	}

	if c := deps.Tasks; c != nil {
		v1.POST("/workflows/start", c.Start)

		tasks := v1.Group("/tasks")
		{
			tasks.PUT("/assignee", c.UpdateAssignee)
			tasks.POST("/:id/complete", c.Complete)
			tasks.POST("/:id/delegate", c.Delegate)
			tasks.POST("/:id/transfer", c.Transfer)
			tasks.POST("/:id/terminate", c.Terminate)
			tasks.POST("/:id/reject", c.Reject)
			tasks.POST("/:id/signers", c.AddSigner)
			tasks.POST("/:id/signers/remove", c.RemoveSigner)
		}
	}

	if c := deps.Queries; c != nil {
		tasks := v1.Group("/tasks")
		{
			tasks.GET("/todo", c.WaitTasks)
			tasks.GET("/todo/all", c.AllWaitTasks)
			tasks.GET("/done", c.FinishTasks)
			tasks.GET("/done/all", c.AllFinishTasks)
			tasks.GET("/copies", c.CopyTasks)
		}
	}

	if c := deps.Instances; c != nil {
		instances := v1.Group("/instances")
		{
			instances.POST("/cancel", c.Cancel)
			instances.POST("/invalidate", c.Invalidate)
			instances.POST("/purge", c.Purge)
			instances.POST("/:id/urge", c.Urge)
			instances.GET("/:id/back-nodes", c.BackNodes)
		}
		v1.GET("/business/:business_key/records", c.HistoryRecords)
		v1.GET("/tasks/:id/variables", c.Variables)
		v1.GET("/tasks/:id/signers", c.AddableApprovers)
		v1.GET("/tasks/:id/signers/removable", c.RemovableApprovers)
	}

	if c := deps.Notifications; c != nil {
		v1.GET("/notifications", c.Inbox)
	}

	router.NoRoute(func(c *gin.Context) {
		Error(c, http.StatusNotFound, "route not found", "the requested route does not exist")
	})

	return router
}
