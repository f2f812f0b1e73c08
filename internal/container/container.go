package container

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mautops/workflow-gin/internal/api"
	"github.com/mautops/workflow-gin/internal/auth"
	"github.com/mautops/workflow-gin/internal/config"
	"github.com/mautops/workflow-gin/internal/database"
	"github.com/mautops/workflow-gin/internal/engine"
	"github.com/mautops/workflow-gin/internal/lock"
	"github.com/mautops/workflow-gin/internal/metrics"
	"github.com/mautops/workflow-gin/internal/multiinstance"
	"github.com/mautops/workflow-gin/internal/repository"
	"github.com/mautops/workflow-gin/internal/service"
	"github.com/mautops/workflow-gin/internal/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Container 依赖注入容器
// 管理数据库、分布式锁、流程引擎、各业务服务与推送组件
type Container struct {
	cfg       *config.Config
	logger    *logrus.Logger
	db        *gorm.DB
	redis     *redis.Client
	hub       *websocket.Hub
	validator *auth.KeycloakTokenValidator
	collector *metrics.Collector

	actions       *service.TaskActionService
	instances     *service.InstanceService
	definitions   *service.DefinitionService
	queries       service.QueryService
	notifications *service.NotificationService
}

// NewContainer 创建依赖注入容器
func NewContainer(cfg *config.Config, logger *logrus.Logger) (*Container, error) {
	// 默认重试 3 次,初始间隔 1 秒,指数退避
	db, err := database.ConnectWithRetry(cfg.Database, 3, time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	c := &Container{cfg: cfg, logger: logger, db: db}

	var workflowLock lock.WorkflowLock
	if cfg.Redis.Addr != "" {
		c.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.redis.Ping(ctx).Err(); err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to connect redis: %w", err)
		}
		workflowLock = lock.NewRedisWorkflowLock(c.redis)
	} else {
		logger.Warn("Redis is not configured, falling back to in-process workflow lock")
		workflowLock = lock.NewLocalWorkflowLock()
	}

	tx := database.NewTxManager(db)
	eng := engine.NewGormEngine(tx, logger)
	resolver := multiinstance.NewResolver(eng)
	configRepo := repository.NewDefinitionConfigRepository(tx)
	nodeCache := service.NewNodeConfigCache(configRepo, cfg.Workflow.ConfigCacheTTL)
	audit := service.NewAuditLogService(repository.NewAuditLogRepository(tx))
	history := service.NewNodeHistoryService(repository.NewNodeHistoryRepository(tx), resolver)

	c.hub = websocket.NewHub()
	channels := []service.NotificationChannel{service.NewSystemChannel(c.hub)}
	if cfg.Workflow.WebhookURL != "" {
		channels = append(channels, service.NewWebhookChannel(cfg.Workflow.WebhookURL, cfg.Workflow.WebhookMaxRetries, &http.Client{Timeout: 10 * time.Second}))
	}
	c.notifications = service.NewNotificationService(repository.NewNotificationRepository(tx), cfg.Workflow, logger, channels...)

	c.actions = service.NewTaskActionService(service.TaskActionDeps{
		Engine:      eng,
		Tx:          tx,
		Lock:        workflowLock,
		Resolver:    resolver,
		History:     history,
		Configs:     configRepo,
		Attachments: service.NewAttachmentService(eng),
		Audit:       audit,
		Notifier:    c.notifications,
		LockTTL:     cfg.Workflow.LockTTL,
		LockWait:    cfg.Workflow.LockWait,
		Logger:      logger,
	})
	c.instances = service.NewInstanceService(c.actions)
	c.definitions = service.NewDefinitionService(eng, tx, workflowLock, configRepo, nodeCache, audit, logger)
	c.queries = service.NewQueryService(eng, repository.NewTaskRepository(tx), resolver, nodeCache)

	c.validator = auth.NewKeycloakTokenValidator(cfg.Keycloak.Issuer, cfg.Keycloak.JWKSURL)
	c.collector = metrics.NewCollector(db, "@every 30s")

	return c, nil
}

// Start 启动后台组件:推送中心、通知投递、指标收集
func (c *Container) Start(ctx context.Context) error {
	go c.hub.Run(ctx)
	c.notifications.Start(ctx)
	return c.collector.Start()
}

// Router 构建 HTTP 路由
func (c *Container) Router() http.Handler {
	return api.SetupRoutes(api.RouterDeps{
		Config:        c.cfg,
		Logger:        c.logger,
		DB:            c.db,
		Redis:         c.redis,
		Auth:          auth.KeycloakAuthMiddleware(c.validator, c.cfg.Workflow.AdminRoles),
		Hub:           c.hub,
		Validator:     c.validator,
		Tasks:         api.NewTaskController(c.actions),
		Instances:     api.NewInstanceController(c.instances),
		Queries:       api.NewQueryController(c.queries),
		Definitions:   api.NewDefinitionController(c.definitions),
		Notifications: api.NewNotificationController(c.notifications),
	})
}

// DB 获取数据库连接
func (c *Container) DB() *gorm.DB {
	return c.db
}

// Definitions 流程定义服务
func (c *Container) Definitions() *service.DefinitionService {
	return c.definitions
}

// Close 停止后台组件并释放连接
func (c *Container) Close() error {
	if c.collector != nil {
		c.collector.Stop()
	}
	if c.notifications != nil {
		c.notifications.Stop()
	}
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			c.logger.WithError(err).Warn("Failed to close redis client")
		}
	}
	if c.db != nil {
		if sqlDB, err := c.db.DB(); err == nil {
			return sqlDB.Close()
		}
	}
	return nil
}
