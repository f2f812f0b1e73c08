package model

import (
	"errors"
	"time"
)

// CommentModel 审批意见数据模型
type CommentModel struct {
	ID                string    `gorm:"primaryKey;type:varchar(64)"`
	TaskID            string    `gorm:"type:varchar(64);not null;index"`
	ProcessInstanceID string    `gorm:"type:varchar(64);not null;index"`
	Type              string    `gorm:"type:varchar(32);not null"` // pass/back/transfer/...
	UserID            string    `gorm:"type:varchar(64)"`
	Message           string    `gorm:"type:text"`
	CreatedAt         time.Time `gorm:"not null;index"`
}

// TableName 指定表名
func (CommentModel) TableName() string {
	return "wf_comments"
}

// Validate 验证审批意见
func (m *CommentModel) Validate() error {
	if m.TaskID == "" {
		return errors.New("task ID is required")
	}
	if m.Type == "" {
		return errors.New("comment type is required")
	}
	return nil
}

// AttachmentModel 任务附件数据模型
type AttachmentModel struct {
	ID                string    `gorm:"primaryKey;type:varchar(64)"`
	TaskID            string    `gorm:"type:varchar(64);not null;index"`
	ProcessInstanceID string    `gorm:"type:varchar(64);not null;index"`
	FileID            string    `gorm:"type:varchar(64);not null"`
	Name              string    `gorm:"type:varchar(255)"`
	UserID            string    `gorm:"type:varchar(64)"`
	CreatedAt         time.Time `gorm:"not null"`
}

// TableName 指定表名
func (AttachmentModel) TableName() string {
	return "wf_attachments"
}
