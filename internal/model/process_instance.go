package model

import (
	"errors"
	"time"
)

// ProcessInstanceModel 流程实例数据模型
// 运行中与历史实例共用一张表,EndTime 为空表示仍在运行
type ProcessInstanceModel struct {
	ID             string     `gorm:"primaryKey;type:varchar(64)"`
	DefinitionID   string     `gorm:"type:varchar(64);not null;index"`
	DefinitionKey  string     `gorm:"type:varchar(64);not null;index"`
	Name           string     `gorm:"type:varchar(255)"`
	BusinessKey    string     `gorm:"type:varchar(64);not null;index"`
	BusinessStatus string     `gorm:"type:varchar(32);not null;index"`
	Initiator      string     `gorm:"type:varchar(64);index"`
	TenantID       string     `gorm:"type:varchar(64);index"`
	Suspended      bool       `gorm:"not null;default:false"`
	StartTime      time.Time  `gorm:"not null;index"`
	EndTime        *time.Time `gorm:"index"`
	DeleteReason   string     `gorm:"type:text"`
	UpdatedAt      time.Time  `gorm:"not null"`
}

// TableName 指定表名
func (ProcessInstanceModel) TableName() string {
	return "wf_process_instances"
}

// Validate 验证流程实例模型
func (m *ProcessInstanceModel) Validate() error {
	if m.ID == "" {
		return errors.New("process instance ID is required")
	}
	if m.DefinitionID == "" {
		return errors.New("definition ID is required")
	}
	if m.BusinessKey == "" {
		return errors.New("business key is required")
	}
	return nil
}

// Running 判断实例是否仍在运行
func (m *ProcessInstanceModel) Running() bool {
	return m.EndTime == nil
}

// 执行(令牌)类型
const (
	ExecutionKindRoot      = "root"    // 流程实例作用域
	ExecutionKindToken     = "token"   // 普通令牌
	ExecutionKindMultiRoot = "mi_root" // 会签根执行
	ExecutionKindMultiItem = "mi_item" // 会签子执行
	ExecutionKindJoin      = "join"    // 在并行网关等待汇聚的令牌
)

// ExecutionModel 执行(令牌)数据模型
type ExecutionModel struct {
	ID                string    `gorm:"primaryKey;type:varchar(64)"`
	ProcessInstanceID string    `gorm:"type:varchar(64);not null;index"`
	ParentID          string    `gorm:"type:varchar(64);index"`
	NodeID            string    `gorm:"type:varchar(64);index"`
	SourceNodeID      string    `gorm:"type:varchar(64)"` // 令牌进入当前节点前所在的节点
	Kind              string    `gorm:"type:varchar(16);not null"`
	Active            bool      `gorm:"not null"`
	CreatedAt         time.Time `gorm:"not null"`
}

// TableName 指定表名
func (ExecutionModel) TableName() string {
	return "wf_executions"
}
