package model

import (
	"errors"
	"time"
)

// 通知投递状态
const (
	NotificationPending = "pending"
	NotificationSuccess = "success"
	NotificationFailed  = "failed"
)

// NotificationModel 待办/驳回通知数据模型
type NotificationModel struct {
	ID                string    `gorm:"primaryKey;type:varchar(64)"`
	ProcessInstanceID string    `gorm:"type:varchar(64);not null;index"`
	TaskID            string    `gorm:"type:varchar(64);index"`
	Recipient         string    `gorm:"type:varchar(64);not null;index"`
	Channel           string    `gorm:"type:varchar(32);not null"` // system/webhook
	Kind              string    `gorm:"type:varchar(32);not null"` // todo/reject/urge
	Message           string    `gorm:"type:text;not null"`
	Status            string    `gorm:"type:varchar(32);not null;default:'pending'"`
	RetryCount        int       `gorm:"type:int;default:0"`
	CreatedAt         time.Time `gorm:"not null;index"`
	UpdatedAt         time.Time `gorm:"not null"`
}

// TableName 指定表名
func (NotificationModel) TableName() string {
	return "wf_notifications"
}

// Validate 验证通知模型
func (nm *NotificationModel) Validate() error {
	if nm.ID == "" {
		return errors.New("notification ID is required")
	}
	if nm.Recipient == "" {
		return errors.New("recipient is required")
	}
	if nm.Channel == "" {
		return errors.New("channel is required")
	}
	if nm.Message == "" {
		return errors.New("message is required")
	}
	if nm.Status == "" {
		nm.Status = NotificationPending
	}
	return nil
}
