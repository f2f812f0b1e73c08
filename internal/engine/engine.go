package engine

import (
	"context"
	"time"
)

// 会签内置变量
const (
	VarNrOfInstances          = "nrOfInstances"
	VarNrOfCompletedInstances = "nrOfCompletedInstances"
	VarNrOfActiveInstances    = "nrOfActiveInstances"
	VarLoopCounter            = "loopCounter"
	VarInitiator              = "initiator"
	VarProcessInstanceID      = "processInstanceId"
	VarBusinessKey            = "businessKey"
)

// 删除原因
const (
	DeleteReasonMultiInstanceEnd = "multi-instance completed"
	DeleteReasonExecutionRemoved = "execution removed"
	DeleteReasonChangeActivity   = "change activity to "
	DeleteReasonSubTaskCleanup   = "sub task deleted"
)

// Instance 流程实例
type Instance struct {
	ID             string
	DefinitionID   string
	DefinitionKey  string
	Name           string
	BusinessKey    string
	BusinessStatus string
	Initiator      string
	TenantID       string
	Suspended      bool
	StartTime      time.Time
	EndTime        *time.Time
	DeleteReason   string
}

// Running 判断实例是否仍在运行
func (i *Instance) Running() bool {
	return i.EndTime == nil
}

// Task 运行时任务
type Task struct {
	ID                string
	ProcessInstanceID string
	ExecutionID       string
	DefinitionID      string
	NodeID            string
	Name              string
	Assignee          string
	Owner             string
	ParentTaskID      string
	DelegationState   string
	ScopeType         string
	TenantID          string
	Suspended         bool
	CreatedAt         time.Time
}

// HistoricTask 历史任务
type HistoricTask struct {
	ID                string
	ProcessInstanceID string
	ExecutionID       string
	DefinitionID      string
	NodeID            string
	Name              string
	Assignee          string
	Owner             string
	ParentTaskID      string
	ScopeType         string
	TenantID          string
	StartTime         time.Time
	EndTime           *time.Time
	DeleteReason      string
}

// Execution 执行(令牌)
type Execution struct {
	ID                string
	ProcessInstanceID string
	ParentID          string
	NodeID            string
	Kind              string
	Active            bool
}

// IdentityLink 任务候选人
type IdentityLink struct {
	TaskID  string
	Type    string
	UserID  string
	GroupID string
}

// Comment 审批意见
type Comment struct {
	ID                string
	TaskID            string
	ProcessInstanceID string
	Type              string
	UserID            string
	Message           string
	CreatedAt         time.Time
}

// Attachment 任务附件
type Attachment struct {
	ID                string
	TaskID            string
	ProcessInstanceID string
	FileID            string
	Name              string
	UserID            string
	CreatedAt         time.Time
}

// StartInstanceRequest 发起实例参数
type StartInstanceRequest struct {
	DefinitionKey  string
	BusinessKey    string
	Initiator      string
	TenantID       string
	BusinessStatus string
	Variables      map[string]interface{}
}

// InstanceQuery 实例查询条件
type InstanceQuery struct {
	InstanceID   string
	BusinessKey  string
	BusinessKeys []string
	TenantID     string
	Running      *bool
}

// Involvement 按办理人或候选人过滤
type Involvement struct {
	UserID string
	Groups []string
}

// TaskQuery 运行时任务查询条件
type TaskQuery struct {
	TaskID            string
	TaskIDs           []string
	ProcessInstanceID string
	BusinessKey       string
	NodeID            string
	ExecutionIDs      []string
	TenantID          string
	Involved          *Involvement // 为空时不校验办理人
	IncludeSubTasks   bool
	OnlySubTasks      bool
}

// HistoricTaskQuery 历史任务查询条件
type HistoricTaskQuery struct {
	TaskIDs           []string
	ProcessInstanceID string
	NodeID            string
	Assignee          string
	ExecutionIDs      []string
	Finished          *bool
	IncludeSubTasks   bool
	IncludeCopies     bool
	OrderByEndDesc    bool
}

// ProcessEngine 流程引擎边界
// 所有方法都在 ctx 携带的事务中执行
type ProcessEngine interface {
	// 流程定义
	Deploy(ctx context.Context, def *Definition) (*Definition, error)
	GetDefinition(ctx context.Context, definitionID string) (*Definition, error)
	LatestDefinition(ctx context.Context, key, tenantID string) (*Definition, error)
	SetDefinitionSuspended(ctx context.Context, key, tenantID string, suspended bool) error

	// 流程实例
	StartInstance(ctx context.Context, req StartInstanceRequest) (*Instance, error)
	GetInstance(ctx context.Context, instanceID string) (*Instance, error)
	FindInstances(ctx context.Context, q InstanceQuery) ([]*Instance, error)
	UpdateBusinessStatus(ctx context.Context, instanceID, status string) error
	DeleteInstance(ctx context.Context, instanceID, reason string) error
	PurgeInstance(ctx context.Context, instanceID string) error

	// 任务
	QueryTasks(ctx context.Context, q TaskQuery) ([]*Task, error)
	QueryHistoricTasks(ctx context.Context, q HistoricTaskQuery) ([]*HistoricTask, error)
	CompleteTask(ctx context.Context, taskID string, variables map[string]interface{}) error
	SetAssignee(ctx context.Context, taskID, userID string) error
	Delegate(ctx context.Context, taskID, userID string) error
	ResolveTask(ctx context.Context, taskID string) error
	NewSubTask(ctx context.Context, parent *Task, assignee string) (*Task, error)
	CreateCopyTasks(ctx context.Context, tasks []*Task, userIDs []string) error
	DeleteTasks(ctx context.Context, taskIDs []string, reason string) error
	DeleteHistoricTasks(ctx context.Context, taskIDs []string) error
	UpdateHistoricTaskAssignee(ctx context.Context, taskID, userID string) error
	IdentityLinks(ctx context.Context, taskID string) ([]IdentityLink, error)

	// 令牌
	GetExecution(ctx context.Context, executionID string) (*Execution, error)
	MoveToken(ctx context.Context, instanceID string, fromNodeIDs []string, toNodeID string) error
	AddParallelExecution(ctx context.Context, instanceID, nodeID string, variables map[string]interface{}) (*Task, error)
	DeleteExecution(ctx context.Context, executionID string) error
	InactiveSiblingExecutions(ctx context.Context, executionID, targetNodeID string) ([]string, error)
	DeleteExecutions(ctx context.Context, executionIDs []string) error

	// 变量
	GetVariable(ctx context.Context, executionID, name string, out interface{}) (bool, error)
	SetVariable(ctx context.Context, executionID, name string, value interface{}) error
	InstanceVariables(ctx context.Context, instanceID string) (map[string]interface{}, error)
	SetInstanceVariables(ctx context.Context, instanceID string, variables map[string]interface{}) error

	// 意见与附件
	AddComment(ctx context.Context, c Comment) (*Comment, error)
	Comments(ctx context.Context, instanceID string) ([]*Comment, error)
	AddAttachment(ctx context.Context, a Attachment) (*Attachment, error)
	Attachments(ctx context.Context, instanceID string) ([]*Attachment, error)
}
