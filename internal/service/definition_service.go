package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mautops/workflow-gin/internal/database"
	"github.com/mautops/workflow-gin/internal/engine"
	"github.com/mautops/workflow-gin/internal/flowerr"
	"github.com/mautops/workflow-gin/internal/lock"
	"github.com/mautops/workflow-gin/internal/model"
	"github.com/mautops/workflow-gin/internal/repository"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

const (
	actionDeploy         = "deploy"
	actionBindTable      = "bind_table"
	actionSaveNodeConfig = "save_node_config"
	actionSuspend        = "suspend"
	actionActivate       = "activate"
)

// 表单类型
const (
	FormTypeStatic  = "static"
	FormTypeDynamic = "dynamic"
)

// BindTableRequest 绑定业务表
type BindTableRequest struct {
	TableName     string `json:"table_name" validate:"required,max=128"`
	DefinitionKey string `json:"definition_key" validate:"required,max=64"`
	Remark        string `json:"remark" validate:"max=255"`
}

// NodeConfigRequest 节点表单配置
type NodeConfigRequest struct {
	DefinitionKey string `json:"definition_key" validate:"required"`
	NodeID        string `json:"node_id" validate:"required"`
	NodeName      string `json:"node_name"`
	FormType      string `json:"form_type" validate:"omitempty,oneof=static dynamic"`
	FormID        string `json:"form_id"`
	FormPath      string `json:"form_path"`
	ApplyUserTask bool   `json:"apply_user_task"`
}

// NodeConfigCache 节点配置缓存,配置变更时按流程 key 失效
type NodeConfigCache struct {
	repo  repository.DefinitionConfigRepository
	cache *cache.Cache
}

// NewNodeConfigCache 创建节点配置缓存
func NewNodeConfigCache(repo repository.DefinitionConfigRepository, ttl time.Duration) *NodeConfigCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &NodeConfigCache{repo: repo, cache: cache.New(ttl, 2*ttl)}
}

// Get 返回流程定义的节点配置,以节点 ID 为 key
func (c *NodeConfigCache) Get(ctx context.Context, definitionKey string) (map[string]*model.NodeConfigModel, error) {
	if v, ok := c.cache.Get(definitionKey); ok {
		return v.(map[string]*model.NodeConfigModel), nil
	}
	rows, err := c.repo.FindNodeConfigs(ctx, definitionKey)
	if err != nil {
		return nil, err
	}
	byNode := make(map[string]*model.NodeConfigModel, len(rows))
	for _, r := range rows {
		byNode[r.NodeID] = r
	}
	c.cache.SetDefault(definitionKey, byNode)
	return byNode, nil
}

// Invalidate 清除流程定义的缓存
func (c *NodeConfigCache) Invalidate(definitionKey string) {
	c.cache.Delete(definitionKey)
}

// FormFor 返回节点使用的表单:节点自身有配置时使用节点配置,否则使用申请人节点的表单
func FormFor(configs map[string]*model.NodeConfigModel, nodeID string) *model.NodeConfigModel {
	if c, ok := configs[nodeID]; ok && c.FormType != "" {
		return c
	}
	for _, c := range configs {
		if c.ApplyUserTask {
			return c
		}
	}
	return configs[nodeID]
}

// DefinitionService 流程定义部署与业务配置
type DefinitionService struct {
	*actionRunner
	engine  engine.ProcessEngine
	configs repository.DefinitionConfigRepository
	cache   *NodeConfigCache
	audit   AuditLogService
}

// NewDefinitionService 创建流程定义服务
func NewDefinitionService(
	eng engine.ProcessEngine,
	tx *database.TxManager,
	l lock.WorkflowLock,
	configs repository.DefinitionConfigRepository,
	nodeCache *NodeConfigCache,
	audit AuditLogService,
	logger logrus.FieldLogger,
) *DefinitionService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &DefinitionService{
		actionRunner: newActionRunner(tx, l, 0, 0, nil, logger.WithField("component", "definition")),
		engine:       eng,
		configs:      configs,
		cache:        nodeCache,
		audit:        audit,
	}
}

func (s *DefinitionService) recordAudit(ctx context.Context, action, resourceID string, details interface{}) error {
	if s.audit == nil {
		return nil
	}
	actor, err := s.actor(ctx)
	if err != nil {
		return err
	}
	return s.audit.RecordAction(ctx, AuditEntry{
		UserID:       actor.UserID,
		TenantID:     actor.TenantID,
		Action:       action,
		ResourceType: ResourceDefinition,
		ResourceID:   resourceID,
		Details:      details,
	})
}

// Deploy 部署流程定义,同 key 生成新版本;未指定租户时使用操作人租户
func (s *DefinitionService) Deploy(ctx context.Context, def *engine.Definition) (*engine.Definition, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	if def == nil || def.Key == "" {
		return nil, flowerr.InvalidArgument("definition key is required")
	}
	if def.TenantID == "" {
		def.TenantID = actor.TenantID
	}

	var deployed *engine.Definition
	fields := logrus.Fields{"definition_key": def.Key, "user_id": actor.UserID}
	err = s.run(ctx, actionDeploy, lock.DefinitionKey(def.Key), fields, func(ctx context.Context, uow *unitOfWork) error {
		d, err := s.engine.Deploy(ctx, def)
		if err != nil {
			return err
		}
		deployed = d
		return s.recordAudit(ctx, actionDeploy, d.ID, map[string]interface{}{"key": d.Key, "version": d.Version})
	})
	if err != nil {
		return nil, err
	}
	return deployed, nil
}

// BindTable 将业务表绑定到流程定义,发起流程时按表名查找定义
func (s *DefinitionService) BindTable(ctx context.Context, req BindTableRequest) (*model.DefinitionConfigModel, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}

	var binding *model.DefinitionConfigModel
	fields := logrus.Fields{"definition_key": req.DefinitionKey, "table_name": req.TableName}
	err = s.run(ctx, actionBindTable, lock.DefinitionKey(req.DefinitionKey), fields, func(ctx context.Context, uow *unitOfWork) error {
		if _, err := s.engine.LatestDefinition(ctx, req.DefinitionKey, actor.TenantID); err != nil {
			return err
		}
		now := time.Now()
		if err := s.configs.SaveBinding(ctx, &model.DefinitionConfigModel{
			ID:            uuid.NewString(),
			BusinessTable: req.TableName,
			DefinitionKey: req.DefinitionKey,
			TenantID:      actor.TenantID,
			Remark:        req.Remark,
			CreatedAt:     now,
			UpdatedAt:     now,
		}); err != nil {
			return err
		}
		b, err := s.configs.FindByTable(ctx, req.TableName, actor.TenantID)
		if err != nil {
			return err
		}
		binding = b
		return s.recordAudit(ctx, actionBindTable, req.DefinitionKey, map[string]string{"table_name": req.TableName})
	})
	if err != nil {
		return nil, err
	}
	return binding, nil
}

// SaveNodeConfig 保存节点表单配置,节点必须存在于最新版本的定义中
func (s *DefinitionService) SaveNodeConfig(ctx context.Context, req NodeConfigRequest) error {
	if err := s.check(req); err != nil {
		return err
	}
	actor, err := s.actor(ctx)
	if err != nil {
		return err
	}
	fields := logrus.Fields{"definition_key": req.DefinitionKey, "node_id": req.NodeID}
	err = s.run(ctx, actionSaveNodeConfig, lock.DefinitionKey(req.DefinitionKey), fields, func(ctx context.Context, uow *unitOfWork) error {
		def, err := s.engine.LatestDefinition(ctx, req.DefinitionKey, actor.TenantID)
		if err != nil {
			return err
		}
		node, ok := def.Node(req.NodeID)
		if !ok || node.Type != engine.NodeUserTask {
			return flowerr.InvalidArgument("node %s is not a user task of workflow %s", req.NodeID, req.DefinitionKey)
		}
		name := req.NodeName
		if name == "" {
			name = node.Name
		}
		now := time.Now()
		if err := s.configs.SaveNodeConfig(ctx, &model.NodeConfigModel{
			ID:            uuid.NewString(),
			DefinitionKey: req.DefinitionKey,
			NodeID:        req.NodeID,
			NodeName:      name,
			FormType:      req.FormType,
			FormID:        req.FormID,
			FormPath:      req.FormPath,
			ApplyUserTask: req.ApplyUserTask,
			CreatedAt:     now,
			UpdatedAt:     now,
		}); err != nil {
			return err
		}
		uow.onCommit(func() {
			if s.cache != nil {
				s.cache.Invalidate(req.DefinitionKey)
			}
		})
		return s.recordAudit(ctx, actionSaveNodeConfig, req.DefinitionKey, req)
	})
	return err
}

// NodeConfigs 返回流程定义的节点配置
func (s *DefinitionService) NodeConfigs(ctx context.Context, definitionKey string) ([]*model.NodeConfigModel, error) {
	return s.configs.FindNodeConfigs(ctx, definitionKey)
}

// Latest 返回操作人租户下流程定义的最新版本
func (s *DefinitionService) Latest(ctx context.Context, definitionKey string) (*engine.Definition, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	return s.engine.LatestDefinition(ctx, definitionKey, actor.TenantID)
}

// Suspend 挂起流程定义,运行中的实例一并挂起
func (s *DefinitionService) Suspend(ctx context.Context, definitionKey string) error {
	return s.setSuspended(ctx, actionSuspend, definitionKey, true)
}

// Activate 激活流程定义
func (s *DefinitionService) Activate(ctx context.Context, definitionKey string) error {
	return s.setSuspended(ctx, actionActivate, definitionKey, false)
}

func (s *DefinitionService) setSuspended(ctx context.Context, action, definitionKey string, suspended bool) error {
	actor, err := s.actor(ctx)
	if err != nil {
		return err
	}
	fields := logrus.Fields{"definition_key": definitionKey, "user_id": actor.UserID}
	return s.run(ctx, action, lock.DefinitionKey(definitionKey), fields, func(ctx context.Context, uow *unitOfWork) error {
		if err := s.engine.SetDefinitionSuspended(ctx, definitionKey, actor.TenantID, suspended); err != nil {
			return err
		}
		return s.recordAudit(ctx, action, definitionKey, nil)
	})
}
