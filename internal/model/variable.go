package model

import "time"

// VariableModel 流程变量数据模型
// ExecutionID 为空表示实例级变量
type VariableModel struct {
	ID                string    `gorm:"primaryKey;type:varchar(64)"`
	ProcessInstanceID string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_variable_scope_name"`
	ExecutionID       string    `gorm:"type:varchar(64);uniqueIndex:idx_variable_scope_name"`
	Name              string    `gorm:"type:varchar(128);not null;uniqueIndex:idx_variable_scope_name"`
	Value             string    `gorm:"type:text"` // JSON 编码
	UpdatedAt         time.Time `gorm:"not null"`
}

// TableName 指定表名
func (VariableModel) TableName() string {
	return "wf_variables"
}
