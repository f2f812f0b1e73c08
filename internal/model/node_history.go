package model

import (
	"errors"
	"strings"
	"time"
)

// 节点任务类型
const (
	NodeTaskTypeUserTask      = "userTask"
	NodeTaskTypeMultiInstance = "multiInstance"
)

// NodeHistoryModel 已办理节点记录,用于计算可驳回的目标节点
type NodeHistoryModel struct {
	ID                string    `gorm:"primaryKey;type:varchar(64)"`
	ProcessInstanceID string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_back_node_instance_node;uniqueIndex:idx_back_node_instance_order"`
	NodeID            string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_back_node_instance_node"`
	NodeName          string    `gorm:"type:varchar(255)"`
	OrderNo           int       `gorm:"type:int;not null;uniqueIndex:idx_back_node_instance_order"`
	TaskType          string    `gorm:"type:varchar(32);not null"`
	Assignee          string    `gorm:"type:text"` // 逗号分隔的办理人集合
	CreatedAt         time.Time `gorm:"not null"`
	UpdatedAt         time.Time `gorm:"not null"`
}

// TableName 指定表名
func (NodeHistoryModel) TableName() string {
	return "wf_task_back_node"
}

// Validate 验证节点记录
func (m *NodeHistoryModel) Validate() error {
	if m.ProcessInstanceID == "" {
		return errors.New("process instance ID is required")
	}
	if m.NodeID == "" {
		return errors.New("node ID is required")
	}
	if m.OrderNo < 0 {
		return errors.New("order number must not be negative")
	}
	return nil
}

// Assignees 返回办理人集合
func (m *NodeHistoryModel) Assignees() []string {
	if m.Assignee == "" {
		return nil
	}
	return strings.Split(m.Assignee, ",")
}

// AddAssignee 追加办理人,已存在时不重复追加
func (m *NodeHistoryModel) AddAssignee(userID string) bool {
	if userID == "" {
		return false
	}
	for _, a := range m.Assignees() {
		if a == userID {
			return false
		}
	}
	if m.Assignee == "" {
		m.Assignee = userID
	} else {
		m.Assignee = m.Assignee + "," + userID
	}
	return true
}
