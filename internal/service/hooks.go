package service

import (
	"context"

	"github.com/mautops/workflow-gin/internal/status"
)

// HookEvent 业务侧监听器收到的事件
type HookEvent struct {
	DefinitionKey string
	BusinessKey   string
	InstanceID    string
	TaskID        string
	NodeID        string
	Status        status.BusinessStatus
	FirstNode     bool // 是否为申请人节点
}

// WorkflowHooks 业务侧同步监听器,返回错误时整个操作回滚
type WorkflowHooks interface {
	OnSubmit(ctx context.Context, e HookEvent) error
	OnTaskComplete(ctx context.Context, e HookEvent) error
	OnFinish(ctx context.Context, e HookEvent) error
	OnTerminate(ctx context.Context, e HookEvent) error
	OnReject(ctx context.Context, e HookEvent) error
	OnCancel(ctx context.Context, e HookEvent) error
}

// NoopHooks 不做任何处理的监听器
type NoopHooks struct{}

var _ WorkflowHooks = NoopHooks{}

func (NoopHooks) OnSubmit(context.Context, HookEvent) error       { return nil }
func (NoopHooks) OnTaskComplete(context.Context, HookEvent) error { return nil }
func (NoopHooks) OnFinish(context.Context, HookEvent) error       { return nil }
func (NoopHooks) OnTerminate(context.Context, HookEvent) error    { return nil }
func (NoopHooks) OnReject(context.Context, HookEvent) error       { return nil }
func (NoopHooks) OnCancel(context.Context, HookEvent) error       { return nil }
