package engine

import (
	"context"
	"fmt"

	"github.com/mautops/workflow-gin/internal/flowerr"
	"github.com/mautops/workflow-gin/internal/model"
)

// AddComment 添加审批意见
func (e *GormEngine) AddComment(ctx context.Context, c Comment) (*Comment, error) {
	m := &model.CommentModel{
		ID:                newID(),
		TaskID:            c.TaskID,
		ProcessInstanceID: c.ProcessInstanceID,
		Type:              c.Type,
		UserID:            c.UserID,
		Message:           c.Message,
		CreatedAt:         e.now(),
	}
	if err := m.Validate(); err != nil {
		return nil, flowerr.InvalidArgument("%v", err)
	}
	if err := e.db(ctx).Create(m).Error; err != nil {
		return nil, fmt.Errorf("failed to create comment: %w", err)
	}
	return toComment(m), nil
}

// Comments 按时间顺序返回实例的审批意见
func (e *GormEngine) Comments(ctx context.Context, instanceID string) ([]*Comment, error) {
	var rows []model.CommentModel
	if err := e.db(ctx).Where("process_instance_id = ?", instanceID).
		Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query comments: %w", err)
	}
	result := make([]*Comment, 0, len(rows))
	for i := range rows {
		result = append(result, toComment(&rows[i]))
	}
	return result, nil
}

// AddAttachment 添加附件记录
func (e *GormEngine) AddAttachment(ctx context.Context, a Attachment) (*Attachment, error) {
	if a.TaskID == "" || a.FileID == "" {
		return nil, flowerr.InvalidArgument("task ID and file ID are required")
	}
	m := &model.AttachmentModel{
		ID:                newID(),
		TaskID:            a.TaskID,
		ProcessInstanceID: a.ProcessInstanceID,
		FileID:            a.FileID,
		Name:              a.Name,
		UserID:            a.UserID,
		CreatedAt:         e.now(),
	}
	if err := e.db(ctx).Create(m).Error; err != nil {
		return nil, fmt.Errorf("failed to create attachment: %w", err)
	}
	return toAttachment(m), nil
}

// Attachments 返回实例的附件
func (e *GormEngine) Attachments(ctx context.Context, instanceID string) ([]*Attachment, error) {
	var rows []model.AttachmentModel
	if err := e.db(ctx).Where("process_instance_id = ?", instanceID).
		Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query attachments: %w", err)
	}
	result := make([]*Attachment, 0, len(rows))
	for i := range rows {
		result = append(result, toAttachment(&rows[i]))
	}
	return result, nil
}

func toComment(m *model.CommentModel) *Comment {
	return &Comment{
		ID:                m.ID,
		TaskID:            m.TaskID,
		ProcessInstanceID: m.ProcessInstanceID,
		Type:              m.Type,
		UserID:            m.UserID,
		Message:           m.Message,
		CreatedAt:         m.CreatedAt,
	}
}

func toAttachment(m *model.AttachmentModel) *Attachment {
	return &Attachment{
		ID:                m.ID,
		TaskID:            m.TaskID,
		ProcessInstanceID: m.ProcessInstanceID,
		FileID:            m.FileID,
		Name:              m.Name,
		UserID:            m.UserID,
		CreatedAt:         m.CreatedAt,
	}
}
