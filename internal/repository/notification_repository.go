package repository

import (
	"context"
	"time"

	"github.com/mautops/workflow-gin/internal/database"
	"github.com/mautops/workflow-gin/internal/model"
)

// NotificationRepository 通知记录仓储接口
type NotificationRepository interface {
	Save(ctx context.Context, n *model.NotificationModel) error
	UpdateStatus(ctx context.Context, id, status string, retryCount int) error
	FindByRecipient(ctx context.Context, recipient string, limit int) ([]*model.NotificationModel, error)
	FindPending(ctx context.Context, limit int) ([]*model.NotificationModel, error)
}

// notificationRepository 通知记录仓储实现
type notificationRepository struct {
	tx *database.TxManager
}

// NewNotificationRepository 创建通知记录仓储
func NewNotificationRepository(tx *database.TxManager) NotificationRepository {
	return &notificationRepository{tx: tx}
}

// Save 保存通知
func (r *notificationRepository) Save(ctx context.Context, n *model.NotificationModel) error {
	if err := n.Validate(); err != nil {
		return err
	}
	return r.tx.DB(ctx).Save(n).Error
}

// UpdateStatus 更新投递状态
func (r *notificationRepository) UpdateStatus(ctx context.Context, id, status string, retryCount int) error {
	return r.tx.DB(ctx).Model(&model.NotificationModel{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      status,
			"retry_count": retryCount,
			"updated_at":  time.Now(),
		}).Error
}

// FindByRecipient 查询用户最近的通知
func (r *notificationRepository) FindByRecipient(ctx context.Context, recipient string, limit int) ([]*model.NotificationModel, error) {
	var rows []*model.NotificationModel
	err := r.tx.DB(ctx).Where("recipient = ?", recipient).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// FindPending 查询未投递成功的通知,按创建时间升序
func (r *notificationRepository) FindPending(ctx context.Context, limit int) ([]*model.NotificationModel, error) {
	var rows []*model.NotificationModel
	err := r.tx.DB(ctx).Where("status = ?", model.NotificationPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
