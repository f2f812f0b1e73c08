package model

import (
	"errors"
	"time"
)

// DefinitionModel 流程定义数据模型
type DefinitionModel struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)"`
	Key       string    `gorm:"column:definition_key;type:varchar(64);not null;uniqueIndex:idx_definition_key_version"`
	Name      string    `gorm:"type:varchar(255);not null"`
	Version   int       `gorm:"type:int;not null;uniqueIndex:idx_definition_key_version"`
	TenantID  string    `gorm:"type:varchar(64);uniqueIndex:idx_definition_key_version"`
	Suspended bool      `gorm:"not null;default:false"`
	Data      string    `gorm:"type:text;not null"` // 序列化后的节点与连线
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName 指定表名
func (DefinitionModel) TableName() string {
	return "wf_definitions"
}

// Validate 验证流程定义模型
func (m *DefinitionModel) Validate() error {
	if m.ID == "" {
		return errors.New("definition ID is required")
	}
	if m.Key == "" {
		return errors.New("definition key is required")
	}
	if m.Data == "" {
		return errors.New("definition data is required")
	}
	return nil
}

// DefinitionConfigModel 业务表与流程定义的绑定
type DefinitionConfigModel struct {
	ID            string    `gorm:"primaryKey;type:varchar(64)"`
	BusinessTable string    `gorm:"column:table_name;type:varchar(128);not null;uniqueIndex:idx_definition_config_table"`
	DefinitionKey string    `gorm:"type:varchar(64);not null;index"`
	TenantID      string    `gorm:"type:varchar(64);uniqueIndex:idx_definition_config_table"`
	Remark        string    `gorm:"type:varchar(255)"`
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

// TableName 指定表名
func (DefinitionConfigModel) TableName() string {
	return "wf_definition_config"
}

// Validate 验证绑定配置
func (m *DefinitionConfigModel) Validate() error {
	if m.BusinessTable == "" {
		return errors.New("table name is required")
	}
	if m.DefinitionKey == "" {
		return errors.New("definition key is required")
	}
	return nil
}

// NodeConfigModel 节点表单配置
type NodeConfigModel struct {
	ID            string    `gorm:"primaryKey;type:varchar(64)"`
	DefinitionKey string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_node_config_node"`
	NodeID        string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_node_config_node"`
	NodeName      string    `gorm:"type:varchar(255)"`
	FormType      string    `gorm:"type:varchar(32)"` // static/dynamic
	FormID        string    `gorm:"type:varchar(64)"`
	FormPath      string    `gorm:"type:varchar(255)"`
	ApplyUserTask bool      `gorm:"not null;default:false"` // 是否为申请人节点
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

// TableName 指定表名
func (NodeConfigModel) TableName() string {
	return "wf_node_config"
}
