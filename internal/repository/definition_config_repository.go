package repository

import (
	"context"

	"github.com/mautops/workflow-gin/internal/database"
	"github.com/mautops/workflow-gin/internal/model"
	"gorm.io/gorm/clause"
)

// DefinitionConfigRepository 业务表绑定与节点配置仓储接口
type DefinitionConfigRepository interface {
	SaveBinding(ctx context.Context, m *model.DefinitionConfigModel) error
	FindByTable(ctx context.Context, tableName, tenantID string) (*model.DefinitionConfigModel, error)
	SaveNodeConfig(ctx context.Context, m *model.NodeConfigModel) error
	FindNodeConfigs(ctx context.Context, definitionKey string) ([]*model.NodeConfigModel, error)
}

// definitionConfigRepository 业务表绑定与节点配置仓储实现
type definitionConfigRepository struct {
	tx *database.TxManager
}

// NewDefinitionConfigRepository 创建配置仓储
func NewDefinitionConfigRepository(tx *database.TxManager) DefinitionConfigRepository {
	return &definitionConfigRepository{tx: tx}
}

// SaveBinding 绑定业务表到流程定义,同表同租户覆盖
func (r *definitionConfigRepository) SaveBinding(ctx context.Context, m *model.DefinitionConfigModel) error {
	if err := m.Validate(); err != nil {
		return err
	}
	return r.tx.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "table_name"}, {Name: "tenant_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"definition_key", "remark", "updated_at"}),
	}).Create(m).Error
}

// FindByTable 按业务表查找绑定,不存在时返回 nil
func (r *definitionConfigRepository) FindByTable(ctx context.Context, tableName, tenantID string) (*model.DefinitionConfigModel, error) {
	var rows []*model.DefinitionConfigModel
	if err := r.tx.DB(ctx).Where("table_name = ? AND tenant_id = ?", tableName, tenantID).
		Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// SaveNodeConfig 保存节点表单配置,同节点覆盖
func (r *definitionConfigRepository) SaveNodeConfig(ctx context.Context, m *model.NodeConfigModel) error {
	return r.tx.DB(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "definition_key"}, {Name: "node_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"node_name", "form_type", "form_id", "form_path", "apply_user_task", "updated_at",
		}),
	}).Create(m).Error
}

// FindNodeConfigs 返回流程定义的全部节点配置
func (r *definitionConfigRepository) FindNodeConfigs(ctx context.Context, definitionKey string) ([]*model.NodeConfigModel, error) {
	var rows []*model.NodeConfigModel
	err := r.tx.DB(ctx).Where("definition_key = ?", definitionKey).Order("node_id").Find(&rows).Error
	return rows, err
}
