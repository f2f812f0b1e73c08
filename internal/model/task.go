package model

import (
	"errors"
	"time"
)

// 委派状态
const (
	DelegationPending  = "PENDING"
	DelegationResolved = "RESOLVED"
)

// ScopeTypeCopy 抄送任务
const ScopeTypeCopy = "copy"

// TaskModel 运行时任务数据模型
type TaskModel struct {
	ID                string    `gorm:"primaryKey;type:varchar(64)"`
	ProcessInstanceID string    `gorm:"type:varchar(64);not null;index"`
	ExecutionID       string    `gorm:"type:varchar(64);index"`
	DefinitionID      string    `gorm:"type:varchar(64);not null"`
	NodeID            string    `gorm:"type:varchar(64);not null;index"`
	Name              string    `gorm:"type:varchar(255)"`
	Assignee          string    `gorm:"type:varchar(64);index"`
	Owner             string    `gorm:"type:varchar(64)"`
	ParentTaskID      string    `gorm:"type:varchar(64);index"` // 非空表示审计子任务或抄送任务
	DelegationState   string    `gorm:"type:varchar(16)"`
	ScopeType         string    `gorm:"type:varchar(16);index"`
	TenantID          string    `gorm:"type:varchar(64);index"`
	CreatedAt         time.Time `gorm:"not null;index"`
}

// TableName 指定表名
func (TaskModel) TableName() string {
	return "wf_tasks"
}

// Validate 验证任务模型
func (tm *TaskModel) Validate() error {
	if tm.ID == "" {
		return errors.New("task ID is required")
	}
	if tm.ProcessInstanceID == "" {
		return errors.New("process instance ID is required")
	}
	if tm.NodeID == "" {
		return errors.New("node ID is required")
	}
	return nil
}

// HistoricTaskModel 历史任务数据模型
type HistoricTaskModel struct {
	ID                string     `gorm:"primaryKey;type:varchar(64)"`
	ProcessInstanceID string     `gorm:"type:varchar(64);not null;index"`
	ExecutionID       string     `gorm:"type:varchar(64)"`
	DefinitionID      string     `gorm:"type:varchar(64);not null"`
	NodeID            string     `gorm:"type:varchar(64);not null;index"`
	Name              string     `gorm:"type:varchar(255)"`
	Assignee          string     `gorm:"type:varchar(64);index"`
	Owner             string     `gorm:"type:varchar(64)"`
	ParentTaskID      string     `gorm:"type:varchar(64);index"`
	ScopeType         string     `gorm:"type:varchar(16);index"`
	TenantID          string     `gorm:"type:varchar(64);index"`
	StartTime         time.Time  `gorm:"not null;index"`
	EndTime           *time.Time `gorm:"index"`
	DeleteReason      string     `gorm:"type:text"`
}

// TableName 指定表名
func (HistoricTaskModel) TableName() string {
	return "wf_historic_tasks"
}

// 身份关联类型
const (
	IdentityLinkCandidate   = "candidate"
	IdentityLinkParticipant = "participant"
)

// IdentityLinkModel 任务候选人/候选组数据模型
type IdentityLinkModel struct {
	ID                string    `gorm:"primaryKey;type:varchar(64)"`
	TaskID            string    `gorm:"type:varchar(64);index"`
	ProcessInstanceID string    `gorm:"type:varchar(64);index"`
	Type              string    `gorm:"type:varchar(16);not null"`
	UserID            string    `gorm:"type:varchar(64);index"`
	GroupID           string    `gorm:"type:varchar(64);index"`
	CreatedAt         time.Time `gorm:"not null"`
}

// TableName 指定表名
func (IdentityLinkModel) TableName() string {
	return "wf_identity_links"
}
