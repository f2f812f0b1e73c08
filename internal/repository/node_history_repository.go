package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mautops/workflow-gin/internal/database"
	"github.com/mautops/workflow-gin/internal/flowerr"
	"github.com/mautops/workflow-gin/internal/model"
)

// NodeHistoryRepository 已办理节点仓储接口
type NodeHistoryRepository interface {
	Create(ctx context.Context, m *model.NodeHistoryModel) error
	Save(ctx context.Context, m *model.NodeHistoryModel) error
	ListByInstance(ctx context.Context, instanceID string) ([]*model.NodeHistoryModel, error)
	FindByInstanceAndNode(ctx context.Context, instanceID, nodeID string) (*model.NodeHistoryModel, error)
	NextOrder(ctx context.Context, instanceID string) (int, error)
	TrimFrom(ctx context.Context, instanceID string, fromOrder int) error
	DeleteByInstance(ctx context.Context, instanceID string) error
	DeleteByInstances(ctx context.Context, instanceIDs []string) error
}

// nodeHistoryRepository 已办理节点仓储实现
type nodeHistoryRepository struct {
	tx *database.TxManager
}

// NewNodeHistoryRepository 创建已办理节点仓储
func NewNodeHistoryRepository(tx *database.TxManager) NodeHistoryRepository {
	return &nodeHistoryRepository{tx: tx}
}

// Create 新增节点记录
func (r *nodeHistoryRepository) Create(ctx context.Context, m *model.NodeHistoryModel) error {
	if err := m.Validate(); err != nil {
		return flowerr.InvalidArgument("%v", err)
	}
	return r.tx.DB(ctx).Create(m).Error
}

// Save 更新节点记录
func (r *nodeHistoryRepository) Save(ctx context.Context, m *model.NodeHistoryModel) error {
	if err := m.Validate(); err != nil {
		return flowerr.InvalidArgument("%v", err)
	}
	return r.tx.DB(ctx).Save(m).Error
}

// ListByInstance 按顺序号倒序返回实例的节点记录
func (r *nodeHistoryRepository) ListByInstance(ctx context.Context, instanceID string) ([]*model.NodeHistoryModel, error) {
	var rows []*model.NodeHistoryModel
	err := r.tx.DB(ctx).Where("process_instance_id = ?", instanceID).
		Order("order_no DESC").
		Find(&rows).Error
	return rows, err
}

// FindByInstanceAndNode 查找节点记录,不存在时返回 nil
func (r *nodeHistoryRepository) FindByInstanceAndNode(ctx context.Context, instanceID, nodeID string) (*model.NodeHistoryModel, error) {
	var rows []*model.NodeHistoryModel
	if err := r.tx.DB(ctx).Where("process_instance_id = ? AND node_id = ?", instanceID, nodeID).
		Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// NextOrder 返回下一个顺序号,没有记录时为 0
func (r *nodeHistoryRepository) NextOrder(ctx context.Context, instanceID string) (int, error) {
	var maxOrder sql.NullInt64
	row := r.tx.DB(ctx).Model(&model.NodeHistoryModel{}).
		Where("process_instance_id = ?", instanceID).
		Select("MAX(order_no)").Row()
	if err := row.Scan(&maxOrder); err != nil {
		return 0, err
	}
	if !maxOrder.Valid {
		return 0, nil
	}
	return int(maxOrder.Int64) + 1, nil
}

// TrimFrom 删除顺序号不小于 fromOrder 的记录
func (r *nodeHistoryRepository) TrimFrom(ctx context.Context, instanceID string, fromOrder int) error {
	return r.tx.DB(ctx).Where("process_instance_id = ? AND order_no >= ?", instanceID, fromOrder).
		Delete(&model.NodeHistoryModel{}).Error
}

// DeleteByInstance 删除实例的全部节点记录
func (r *nodeHistoryRepository) DeleteByInstance(ctx context.Context, instanceID string) error {
	return r.DeleteByInstances(ctx, []string{instanceID})
}

// DeleteByInstances 批量删除节点记录,删除行数与查询行数不一致时报错
func (r *nodeHistoryRepository) DeleteByInstances(ctx context.Context, instanceIDs []string) error {
	if len(instanceIDs) == 0 {
		return nil
	}
	db := r.tx.DB(ctx)
	var count int64
	if err := db.Model(&model.NodeHistoryModel{}).Where("process_instance_id IN ?", instanceIDs).
		Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return nil
	}
	res := db.Where("process_instance_id IN ?", instanceIDs).Delete(&model.NodeHistoryModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != count {
		return flowerr.Engine(
			fmt.Errorf("expected %d rows, deleted %d", count, res.RowsAffected),
			"node history delete count mismatch",
		)
	}
	return nil
}
