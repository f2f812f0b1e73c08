package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mautops/workflow-gin/internal/database"
	"github.com/mautops/workflow-gin/internal/flowerr"
	"github.com/mautops/workflow-gin/internal/model"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// GormEngine 基于 gorm 的内嵌流程引擎
// 支持开始/结束事件、用户任务、并行网关以及并行/串行会签
type GormEngine struct {
	tx     *database.TxManager
	logger logrus.FieldLogger
	now    func() time.Time
}

var _ ProcessEngine = (*GormEngine)(nil)

// NewGormEngine 创建内嵌流程引擎
func NewGormEngine(tx *database.TxManager, logger logrus.FieldLogger) *GormEngine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &GormEngine{
		tx:     tx,
		logger: logger.WithField("component", "engine"),
		now:    time.Now,
	}
}

func (e *GormEngine) db(ctx context.Context) *gorm.DB {
	return e.tx.DB(ctx)
}

func newID() string {
	return uuid.NewString()
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// Deploy 部署流程定义,同 key 版本号递增
func (e *GormEngine) Deploy(ctx context.Context, def *Definition) (*Definition, error) {
	if err := def.Validate(); err != nil {
		return nil, flowerr.InvalidArgument("%v", err)
	}

	db := e.db(ctx)
	var latest []model.DefinitionModel
	if err := db.Where("definition_key = ? AND tenant_id = ?", def.Key, def.TenantID).
		Order("version DESC").Limit(1).Find(&latest).Error; err != nil {
		return nil, fmt.Errorf("failed to query definition versions: %w", err)
	}
	version := 1
	if len(latest) > 0 {
		version = latest[0].Version + 1
	}

	body, err := json.Marshal(definitionBody{Nodes: def.Nodes, Flows: def.Flows})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal definition: %w", err)
	}

	name := def.Name
	if name == "" {
		name = def.Key
	}
	now := e.now()
	m := &model.DefinitionModel{
		ID:        fmt.Sprintf("%s:%d:%s", def.Key, version, newID()[:8]),
		Key:       def.Key,
		Name:      name,
		Version:   version,
		TenantID:  def.TenantID,
		Data:      string(body),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.Create(m).Error; err != nil {
		return nil, fmt.Errorf("failed to save definition: %w", err)
	}
	return toDefinition(m)
}

// GetDefinition 按 ID 获取流程定义
func (e *GormEngine) GetDefinition(ctx context.Context, definitionID string) (*Definition, error) {
	var m model.DefinitionModel
	if err := e.db(ctx).Where("id = ?", definitionID).First(&m).Error; err != nil {
		if isNotFound(err) {
			return nil, flowerr.NotFound("workflow definition %s does not exist", definitionID)
		}
		return nil, fmt.Errorf("failed to get definition: %w", err)
	}
	return toDefinition(&m)
}

// LatestDefinition 获取 key 对应的最新版本
func (e *GormEngine) LatestDefinition(ctx context.Context, key, tenantID string) (*Definition, error) {
	var m model.DefinitionModel
	err := e.db(ctx).Where("definition_key = ? AND tenant_id = ?", key, tenantID).
		Order("version DESC").First(&m).Error
	if err != nil {
		if isNotFound(err) {
			return nil, flowerr.NotFound("workflow definition 【%s】 does not exist", key)
		}
		return nil, fmt.Errorf("failed to get latest definition: %w", err)
	}
	return toDefinition(&m)
}

// SetDefinitionSuspended 挂起或激活 key 下全部版本及其运行中的实例
func (e *GormEngine) SetDefinitionSuspended(ctx context.Context, key, tenantID string, suspended bool) error {
	db := e.db(ctx)
	res := db.Model(&model.DefinitionModel{}).
		Where("definition_key = ? AND tenant_id = ?", key, tenantID).
		Updates(map[string]interface{}{"suspended": suspended, "updated_at": e.now()})
	if res.Error != nil {
		return fmt.Errorf("failed to update definition: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return flowerr.NotFound("workflow definition 【%s】 does not exist", key)
	}
	if err := db.Model(&model.ProcessInstanceModel{}).
		Where("definition_key = ? AND tenant_id = ? AND end_time IS NULL", key, tenantID).
		Update("suspended", suspended).Error; err != nil {
		return fmt.Errorf("failed to update instances: %w", err)
	}
	return nil
}

// StartInstance 发起流程实例并推进到第一个等待节点
func (e *GormEngine) StartInstance(ctx context.Context, req StartInstanceRequest) (*Instance, error) {
	def, err := e.LatestDefinition(ctx, req.DefinitionKey, req.TenantID)
	if err != nil {
		return nil, err
	}
	if def.Suspended {
		return nil, flowerr.Suspended()
	}
	start, _ := def.StartNode()

	db := e.db(ctx)
	now := e.now()
	inst := &model.ProcessInstanceModel{
		ID:             newID(),
		DefinitionID:   def.ID,
		DefinitionKey:  def.Key,
		Name:           def.Name,
		BusinessKey:    req.BusinessKey,
		BusinessStatus: req.BusinessStatus,
		Initiator:      req.Initiator,
		TenantID:       req.TenantID,
		StartTime:      now,
		UpdatedAt:      now,
	}
	if err := inst.Validate(); err != nil {
		return nil, flowerr.InvalidArgument("%v", err)
	}
	if err := db.Create(inst).Error; err != nil {
		return nil, fmt.Errorf("failed to create instance: %w", err)
	}

	root := &model.ExecutionModel{
		ID:                inst.ID,
		ProcessInstanceID: inst.ID,
		Kind:              model.ExecutionKindRoot,
		CreatedAt:         now,
	}
	if err := db.Create(root).Error; err != nil {
		return nil, fmt.Errorf("failed to create root execution: %w", err)
	}

	vars := make(map[string]interface{}, len(req.Variables)+1)
	for k, v := range req.Variables {
		vars[k] = v
	}
	if req.Initiator != "" {
		vars[VarInitiator] = req.Initiator
	}
	if err := e.SetInstanceVariables(ctx, inst.ID, vars); err != nil {
		return nil, err
	}

	token, err := e.createExecution(ctx, inst.ID, root.ID, start.ID, model.ExecutionKindToken, true)
	if err != nil {
		return nil, err
	}
	rt := &runtime{engine: e, def: def, inst: inst}
	if err := rt.leave(ctx, token); err != nil {
		return nil, err
	}

	return e.GetInstance(ctx, inst.ID)
}

// GetInstance 获取流程实例(包括已结束的实例)
func (e *GormEngine) GetInstance(ctx context.Context, instanceID string) (*Instance, error) {
	m, err := e.loadInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	return toInstance(m), nil
}

func (e *GormEngine) loadInstance(ctx context.Context, instanceID string) (*model.ProcessInstanceModel, error) {
	var m model.ProcessInstanceModel
	if err := e.db(ctx).Where("id = ?", instanceID).First(&m).Error; err != nil {
		if isNotFound(err) {
			return nil, flowerr.NotFound("process instance %s does not exist", instanceID)
		}
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}
	return &m, nil
}

// FindInstances 查询流程实例,按发起时间倒序
func (e *GormEngine) FindInstances(ctx context.Context, q InstanceQuery) ([]*Instance, error) {
	db := e.db(ctx).Model(&model.ProcessInstanceModel{})
	if q.InstanceID != "" {
		db = db.Where("id = ?", q.InstanceID)
	}
	if q.BusinessKey != "" {
		db = db.Where("business_key = ?", q.BusinessKey)
	}
	if len(q.BusinessKeys) > 0 {
		db = db.Where("business_key IN ?", q.BusinessKeys)
	}
	if q.TenantID != "" {
		db = db.Where("tenant_id = ?", q.TenantID)
	}
	if q.Running != nil {
		if *q.Running {
			db = db.Where("end_time IS NULL")
		} else {
			db = db.Where("end_time IS NOT NULL")
		}
	}

	var rows []model.ProcessInstanceModel
	if err := db.Order("start_time DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query instances: %w", err)
	}
	result := make([]*Instance, 0, len(rows))
	for i := range rows {
		result = append(result, toInstance(&rows[i]))
	}
	return result, nil
}

// UpdateBusinessStatus 更新业务状态
func (e *GormEngine) UpdateBusinessStatus(ctx context.Context, instanceID, status string) error {
	res := e.db(ctx).Model(&model.ProcessInstanceModel{}).Where("id = ?", instanceID).
		Updates(map[string]interface{}{"business_status": status, "updated_at": e.now()})
	if res.Error != nil {
		return fmt.Errorf("failed to update business status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return flowerr.NotFound("process instance %s does not exist", instanceID)
	}
	return nil
}

// DeleteInstance 删除运行中的实例,保留历史
func (e *GormEngine) DeleteInstance(ctx context.Context, instanceID, reason string) error {
	inst, err := e.loadInstance(ctx, instanceID)
	if err != nil {
		return err
	}
	if !inst.Running() {
		return flowerr.NotFound("process instance %s is not running", instanceID)
	}

	var tasks []model.TaskModel
	if err := e.db(ctx).Where("process_instance_id = ?", instanceID).Find(&tasks).Error; err != nil {
		return fmt.Errorf("failed to query tasks: %w", err)
	}
	if err := e.removeTasks(ctx, tasks, reason); err != nil {
		return err
	}
	return e.endInstance(ctx, inst, reason)
}

// endInstance 清理令牌并标记结束
func (e *GormEngine) endInstance(ctx context.Context, inst *model.ProcessInstanceModel, reason string) error {
	db := e.db(ctx)
	if err := db.Where("process_instance_id = ? AND execution_id <> ''", inst.ID).
		Delete(&model.VariableModel{}).Error; err != nil {
		return fmt.Errorf("failed to delete execution variables: %w", err)
	}
	if err := db.Where("process_instance_id = ?", inst.ID).Delete(&model.ExecutionModel{}).Error; err != nil {
		return fmt.Errorf("failed to delete executions: %w", err)
	}
	now := e.now()
	if err := db.Model(&model.ProcessInstanceModel{}).Where("id = ?", inst.ID).
		Updates(map[string]interface{}{"end_time": now, "delete_reason": reason, "updated_at": now}).Error; err != nil {
		return fmt.Errorf("failed to end instance: %w", err)
	}
	inst.EndTime = &now
	return nil
}

// PurgeInstance 彻底删除实例的运行时与历史数据
func (e *GormEngine) PurgeInstance(ctx context.Context, instanceID string) error {
	db := e.db(ctx)
	for _, m := range []interface{}{
		&model.TaskModel{},
		&model.HistoricTaskModel{},
		&model.IdentityLinkModel{},
		&model.VariableModel{},
		&model.ExecutionModel{},
		&model.CommentModel{},
		&model.AttachmentModel{},
	} {
		if err := db.Where("process_instance_id = ?", instanceID).Delete(m).Error; err != nil {
			return fmt.Errorf("failed to purge instance data: %w", err)
		}
	}
	res := db.Where("id = ?", instanceID).Delete(&model.ProcessInstanceModel{})
	if res.Error != nil {
		return fmt.Errorf("failed to purge instance: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return flowerr.NotFound("process instance %s does not exist", instanceID)
	}
	return nil
}

func toDefinition(m *model.DefinitionModel) (*Definition, error) {
	var body definitionBody
	if err := json.Unmarshal([]byte(m.Data), &body); err != nil {
		return nil, fmt.Errorf("failed to unmarshal definition %s: %w", m.ID, err)
	}
	return &Definition{
		ID:        m.ID,
		Key:       m.Key,
		Name:      m.Name,
		Version:   m.Version,
		TenantID:  m.TenantID,
		Suspended: m.Suspended,
		Nodes:     body.Nodes,
		Flows:     body.Flows,
		CreatedAt: m.CreatedAt,
	}, nil
}

func toInstance(m *model.ProcessInstanceModel) *Instance {
	return &Instance{
		ID:             m.ID,
		DefinitionID:   m.DefinitionID,
		DefinitionKey:  m.DefinitionKey,
		Name:           m.Name,
		BusinessKey:    m.BusinessKey,
		BusinessStatus: m.BusinessStatus,
		Initiator:      m.Initiator,
		TenantID:       m.TenantID,
		Suspended:      m.Suspended,
		StartTime:      m.StartTime,
		EndTime:        m.EndTime,
		DeleteReason:   m.DeleteReason,
	}
}
