package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mautops/workflow-gin/internal/auth"
	"github.com/mautops/workflow-gin/internal/database"
	"github.com/mautops/workflow-gin/internal/engine"
	"github.com/mautops/workflow-gin/internal/flowerr"
	"github.com/mautops/workflow-gin/internal/lock"
	"github.com/mautops/workflow-gin/internal/metrics"
	"github.com/mautops/workflow-gin/internal/model"
	"github.com/mautops/workflow-gin/internal/multiinstance"
	"github.com/mautops/workflow-gin/internal/repository"
	"github.com/mautops/workflow-gin/internal/status"
	"github.com/sirupsen/logrus"
)

// 默认审批意见
const (
	DefaultApproveComment = "approved"
	DefaultRejectComment  = "rejected"
)

// 操作名称,用于指标、审计与日志
const (
	actionStart          = "start"
	actionComplete       = "complete"
	actionResolve        = "resolve"
	actionDelegate       = "delegate"
	actionTerminate      = "terminate"
	actionTransfer       = "transfer"
	actionAddSigner      = "add_signer"
	actionRemoveSigner   = "remove_signer"
	actionReject         = "reject"
	actionUpdateAssignee = "update_assignee"
)

// Participant 用户及显示名
type Participant struct {
	UserID   string `json:"user_id" validate:"required"`
	NickName string `json:"nick_name"`
}

func (p Participant) displayName() string {
	if p.NickName != "" {
		return p.NickName
	}
	return p.UserID
}

// StartRequest 发起流程
type StartRequest struct {
	BusinessKey string                 `json:"business_key" validate:"required"`
	TableName   string                 `json:"table_name" validate:"required"`
	Variables   map[string]interface{} `json:"variables"`
}

// StartResult 发起结果
type StartResult struct {
	ProcessInstanceID string `json:"process_instance_id"`
	TaskID            string `json:"task_id"`
}

// CompleteRequest 办理任务
type CompleteRequest struct {
	TaskID          string                 `json:"task_id" validate:"required"`
	Variables       map[string]interface{} `json:"variables"`
	FileIDs         []string               `json:"file_ids"`
	CCList          []Participant          `json:"cc_list" validate:"dive"`
	MessageChannels []string               `json:"message_channels"`
	Message         string                 `json:"message"`
	Comment         string                 `json:"comment"`
}

// DelegateRequest 委派任务
type DelegateRequest struct {
	TaskID   string `json:"task_id" validate:"required"`
	UserID   string `json:"user_id" validate:"required"`
	NickName string `json:"nick_name"`
	Comment  string `json:"comment"`
}

// TerminateRequest 终止流程
type TerminateRequest struct {
	TaskID  string `json:"task_id" validate:"required"`
	Comment string `json:"comment"`
}

// TransferRequest 转办任务
type TransferRequest struct {
	TaskID  string `json:"task_id" validate:"required"`
	UserID  string `json:"user_id" validate:"required"`
	Comment string `json:"comment"`
}

// AddSignerRequest 会签加签
type AddSignerRequest struct {
	TaskID    string   `json:"task_id" validate:"required"`
	UserIDs   []string `json:"user_ids" validate:"required,min=1,dive,required"`
	NickNames []string `json:"nick_names"`
}

// RemoveSignerRequest 会签减签,并行会签按执行 ID,串行会签按审批人
type RemoveSignerRequest struct {
	TaskID        string   `json:"task_id" validate:"required"`
	ExecutionIDs  []string `json:"execution_ids"`
	AssigneeIDs   []string `json:"assignee_ids"`
	AssigneeNames []string `json:"assignee_names"`
}

// RejectRequest 驳回到已办理过的节点
type RejectRequest struct {
	TaskID          string   `json:"task_id" validate:"required"`
	TargetNodeID    string   `json:"target_node_id" validate:"required"`
	Comment         string   `json:"comment"`
	MessageChannels []string `json:"message_channels"`
	Message         string   `json:"message"`
}

// UpdateAssigneeRequest 批量修改办理人
type UpdateAssigneeRequest struct {
	TaskIDs []string `json:"task_ids" validate:"required,min=1,dive,required"`
	UserID  string   `json:"user_id" validate:"required"`
}

// TaskActionDeps 任务操作服务依赖
type TaskActionDeps struct {
	Engine      engine.ProcessEngine
	Tx          *database.TxManager
	Lock        lock.WorkflowLock
	Resolver    *multiinstance.Resolver
	History     *NodeHistoryService
	Configs     repository.DefinitionConfigRepository
	Attachments AttachmentService
	Audit       AuditLogService
	Hooks       WorkflowHooks
	Notifier    Notifier
	LockTTL     time.Duration
	LockWait    time.Duration
	Logger      logrus.FieldLogger
}

// TaskActionService 任务办理
// 每个操作在实例锁内的单个事务中完成,通知在提交后异步发送
type TaskActionService struct {
	*actionRunner
	engine      engine.ProcessEngine
	resolver    *multiinstance.Resolver
	history     *NodeHistoryService
	configs     repository.DefinitionConfigRepository
	attachments AttachmentService
	audit       AuditLogService
	hooks       WorkflowHooks
}

// NewTaskActionService 创建任务操作服务
func NewTaskActionService(d TaskActionDeps) *TaskActionService {
	hooks := d.Hooks
	if hooks == nil {
		hooks = NoopHooks{}
	}
	logger := d.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &TaskActionService{
		actionRunner: newActionRunner(d.Tx, d.Lock, d.LockTTL, d.LockWait, d.Notifier, logger.WithField("component", "task_action")),
		engine:       d.Engine,
		resolver:     d.Resolver,
		history:      d.History,
		configs:      d.Configs,
		attachments:  d.Attachments,
		audit:        d.Audit,
		hooks:        hooks,
	}
}

// loadActionTask 加载操作人可办理的任务,管理员跳过办理人校验
func (s *TaskActionService) loadActionTask(ctx context.Context, actor auth.Actor, taskID string) (*engine.Task, error) {
	q := engine.TaskQuery{TaskID: taskID, TenantID: actor.TenantID}
	if !actor.Admin {
		q.Involved = &engine.Involvement{UserID: actor.UserID, Groups: actor.Groups}
	}
	tasks, err := s.engine.QueryTasks(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, flowerr.NotFound(flowerr.MessageTaskNotFound)
	}
	if tasks[0].Suspended {
		return nil, flowerr.Suspended()
	}
	return tasks[0], nil
}

// withTask 先在锁外定位任务所属实例,再在实例锁和事务内重新加载任务执行 fn
func (s *TaskActionService) withTask(ctx context.Context, action, taskID string, fn func(ctx context.Context, actor auth.Actor, task *engine.Task, uow *unitOfWork) error) error {
	actor, err := s.actor(ctx)
	if err != nil {
		return err
	}
	task, err := s.loadActionTask(ctx, actor, taskID)
	if err != nil {
		return err
	}
	fields := logrus.Fields{"task_id": taskID, "instance_id": task.ProcessInstanceID, "user_id": actor.UserID}
	return s.run(ctx, action, lock.InstanceKey(task.ProcessInstanceID), fields, func(ctx context.Context, uow *unitOfWork) error {
		// 等锁期间实例可能已被其他请求结束
		task, err := s.loadActionTask(ctx, actor, taskID)
		if err != nil {
			return err
		}
		return fn(ctx, actor, task, uow)
	})
}

// RecordAuditComment 创建审计子任务,写入意见后立即完成,用于委派、转办、加减签、抄送等没有节点流转的操作
func (s *TaskActionService) RecordAuditComment(ctx context.Context, task *engine.Task, kind status.TaskStatus, text string) error {
	actor, err := s.actor(ctx)
	if err != nil {
		return err
	}
	sub, err := s.engine.NewSubTask(ctx, task, actor.UserID)
	if err != nil {
		return err
	}
	if _, err := s.engine.AddComment(ctx, engine.Comment{
		TaskID:            sub.ID,
		ProcessInstanceID: task.ProcessInstanceID,
		Type:              string(kind),
		UserID:            actor.UserID,
		Message:           text,
	}); err != nil {
		return err
	}
	return s.engine.CompleteTask(ctx, sub.ID, nil)
}

func (s *TaskActionService) addComment(ctx context.Context, actor auth.Actor, task *engine.Task, kind status.TaskStatus, text string) error {
	_, err := s.engine.AddComment(ctx, engine.Comment{
		TaskID:            task.ID,
		ProcessInstanceID: task.ProcessInstanceID,
		Type:              string(kind),
		UserID:            actor.UserID,
		Message:           text,
	})
	return err
}

func (s *TaskActionService) recordAudit(ctx context.Context, actor auth.Actor, action, resourceType, resourceID string, details interface{}) error {
	if s.audit == nil {
		return nil
	}
	return s.audit.RecordAction(ctx, AuditEntry{
		UserID:       actor.UserID,
		TenantID:     actor.TenantID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Details:      details,
	})
}

// hookEvent 构造监听器事件,申请人节点为历史中序号 0 的节点
func (s *TaskActionService) hookEvent(ctx context.Context, inst *engine.Instance, task *engine.Task, st status.BusinessStatus) (HookEvent, error) {
	frontier, err := s.history.Frontier(ctx, inst.ID)
	if err != nil {
		return HookEvent{}, err
	}
	return HookEvent{
		DefinitionKey: inst.DefinitionKey,
		BusinessKey:   inst.BusinessKey,
		InstanceID:    inst.ID,
		TaskID:        task.ID,
		NodeID:        task.NodeID,
		Status:        st,
		FirstNode:     frontier == nil || frontier.NodeID == task.NodeID,
	}, nil
}

// notifyTargets 任务有办理人时通知办理人,否则通知候选用户
func (s *TaskActionService) notifyTargets(ctx context.Context, tasks []*engine.Task) ([]NotifyTarget, error) {
	var targets []NotifyTarget
	for _, t := range tasks {
		if t.Assignee != "" {
			targets = append(targets, NotifyTarget{TaskID: t.ID, UserID: t.Assignee})
			continue
		}
		links, err := s.engine.IdentityLinks(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		for _, l := range links {
			if l.UserID != "" {
				targets = append(targets, NotifyTarget{TaskID: t.ID, UserID: l.UserID})
			}
		}
	}
	return targets, nil
}

// StartWorkflow 为业务单据发起流程,单据已有草稿/退回待办时合并变量并返回原待办
func (s *TaskActionService) StartWorkflow(ctx context.Context, req StartRequest) (*StartResult, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}

	var result StartResult
	fields := logrus.Fields{"business_key": req.BusinessKey, "user_id": actor.UserID}
	err = s.run(ctx, actionStart, lock.BusinessKey(req.BusinessKey), fields, func(ctx context.Context, uow *unitOfWork) error {
		instances, err := s.engine.FindInstances(ctx, engine.InstanceQuery{BusinessKey: req.BusinessKey, TenantID: actor.TenantID})
		if err != nil {
			return err
		}
		var prior status.BusinessStatus
		if len(instances) > 0 {
			latest := instances[0]
			prior = status.BusinessStatus(latest.BusinessStatus)
			if latest.Running() && prior.Resubmittable() {
				open, err := s.engine.QueryTasks(ctx, engine.TaskQuery{ProcessInstanceID: latest.ID})
				if err != nil {
					return err
				}
				if len(open) > 0 {
					if err := s.engine.SetInstanceVariables(ctx, latest.ID, req.Variables); err != nil {
						return err
					}
					result = StartResult{ProcessInstanceID: latest.ID, TaskID: open[0].ID}
					return nil
				}
			}
		}
		if err := status.Check(prior, status.ActionStart); err != nil {
			return err
		}

		binding, err := s.configs.FindByTable(ctx, req.TableName, actor.TenantID)
		if err != nil {
			return err
		}
		if binding == nil {
			return flowerr.Misconfigured("no workflow definition bound to table %s", req.TableName)
		}

		inst, err := s.engine.StartInstance(ctx, engine.StartInstanceRequest{
			DefinitionKey:  binding.DefinitionKey,
			BusinessKey:    req.BusinessKey,
			Initiator:      actor.UserID,
			TenantID:       actor.TenantID,
			BusinessStatus: string(status.Draft),
			Variables:      req.Variables,
		})
		if err != nil {
			return err
		}
		tasks, err := s.engine.QueryTasks(ctx, engine.TaskQuery{ProcessInstanceID: inst.ID})
		if err != nil {
			return err
		}
		if len(tasks) != 1 {
			return flowerr.Misconfigured("workflow %s must start with exactly one task, got %d", binding.DefinitionKey, len(tasks))
		}
		if err := s.engine.SetAssignee(ctx, tasks[0].ID, actor.UserID); err != nil {
			return err
		}
		if err := s.engine.SetInstanceVariables(ctx, inst.ID, map[string]interface{}{
			engine.VarProcessInstanceID: inst.ID,
			engine.VarBusinessKey:       req.BusinessKey,
		}); err != nil {
			return err
		}

		result = StartResult{ProcessInstanceID: inst.ID, TaskID: tasks[0].ID}
		uow.onCommit(metrics.RecordInstanceStarted)
		return s.recordAudit(ctx, actor, actionStart, ResourceInstance, inst.ID, map[string]string{
			"business_key":   req.BusinessKey,
			"definition_key": binding.DefinitionKey,
		})
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// CompleteTask 办理任务;委派中的任务只归还给委派人
func (s *TaskActionService) CompleteTask(ctx context.Context, req CompleteRequest) error {
	if err := s.check(req); err != nil {
		return err
	}
	return s.withTask(ctx, actionComplete, req.TaskID, func(ctx context.Context, actor auth.Actor, task *engine.Task, uow *unitOfWork) error {
		comment := req.Comment
		if comment == "" {
			comment = DefaultApproveComment
		}

		if task.DelegationState == model.DelegationPending {
			if err := s.RecordAuditComment(ctx, task, status.TaskPass, comment); err != nil {
				return err
			}
			if err := s.engine.ResolveTask(ctx, task.ID); err != nil {
				return err
			}
			return s.recordAudit(ctx, actor, actionResolve, ResourceTask, task.ID, nil)
		}

		inst, err := s.engine.GetInstance(ctx, task.ProcessInstanceID)
		if err != nil {
			return err
		}
		if s.attachments != nil {
			if err := s.attachments.Attach(ctx, task, req.FileIDs); err != nil {
				return err
			}
		}

		event, err := s.hookEvent(ctx, inst, task, status.BusinessStatus(inst.BusinessStatus))
		if err != nil {
			return err
		}
		if event.Status.Resubmittable() {
			if err := s.hooks.OnSubmit(ctx, event); err != nil {
				return err
			}
		}
		if err := s.engine.UpdateBusinessStatus(ctx, inst.ID, string(status.Waiting)); err != nil {
			return err
		}
		event.Status = status.Waiting
		if err := s.hooks.OnTaskComplete(ctx, event); err != nil {
			return err
		}

		before, err := s.engine.QueryTasks(ctx, engine.TaskQuery{ProcessInstanceID: inst.ID})
		if err != nil {
			return err
		}
		if err := s.addComment(ctx, actor, task, status.TaskPass, comment); err != nil {
			return err
		}
		if err := s.engine.SetAssignee(ctx, task.ID, actor.UserID); err != nil {
			return err
		}
		if err := s.engine.CompleteTask(ctx, task.ID, req.Variables); err != nil {
			return err
		}

		after, err := s.engine.GetInstance(ctx, inst.ID)
		if err != nil {
			return err
		}
		var open []*engine.Task
		if !after.Running() {
			if err := s.engine.UpdateBusinessStatus(ctx, inst.ID, string(status.Finish)); err != nil {
				return err
			}
			event.Status = status.Finish
			if err := s.hooks.OnFinish(ctx, event); err != nil {
				return err
			}
		} else {
			open, err = s.engine.QueryTasks(ctx, engine.TaskQuery{ProcessInstanceID: inst.ID})
			if err != nil {
				return err
			}
			if err := s.checkApprovers(ctx, open); err != nil {
				return err
			}
		}

		if len(req.CCList) > 0 {
			if err := s.copyTo(ctx, actor, task, open, req.CCList); err != nil {
				return err
			}
		}
		if err := s.history.RecordVisit(ctx, task, actor.UserID); err != nil {
			return err
		}

		targets, err := s.notifyTargets(ctx, newTasks(before, open))
		if err != nil {
			return err
		}
		uow.notify(NotifyRequest{
			Kind:              NotifyTodo,
			ProcessInstanceID: inst.ID,
			InstanceName:      inst.Name,
			Targets:           targets,
			Channels:          req.MessageChannels,
			Message:           req.Message,
		})
		return s.recordAudit(ctx, actor, actionComplete, ResourceTask, task.ID, map[string]interface{}{
			"node_id": task.NodeID,
			"comment": comment,
		})
	})
}

// checkApprovers 普通用户任务必须有办理人或候选人
func (s *TaskActionService) checkApprovers(ctx context.Context, open []*engine.Task) error {
	for _, t := range open {
		if t.Assignee != "" {
			continue
		}
		desc, err := s.resolver.Resolve(ctx, t.DefinitionID, t.NodeID)
		if err != nil {
			return err
		}
		if desc.IsMultiInstance() {
			continue
		}
		links, err := s.engine.IdentityLinks(ctx, t.ID)
		if err != nil {
			return err
		}
		if len(links) == 0 {
			return flowerr.Misconfigured("next node 【%s】 has no approver", t.Name)
		}
	}
	return nil
}

// copyTo 记录抄送意见,并为抄送人创建抄送任务;流程已结束时抄送当前任务
func (s *TaskActionService) copyTo(ctx context.Context, actor auth.Actor, task *engine.Task, open []*engine.Task, cc []Participant) error {
	names := make([]string, 0, len(cc))
	userIDs := make([]string, 0, len(cc))
	for _, p := range cc {
		names = append(names, p.displayName())
		userIDs = append(userIDs, p.UserID)
	}
	text := fmt.Sprintf("%s【抄送】给%s", actor.DisplayName(), strings.Join(names, "、"))
	if err := s.RecordAuditComment(ctx, task, status.TaskCopy, text); err != nil {
		return err
	}
	targets := open
	if len(targets) == 0 {
		targets = []*engine.Task{task}
	}
	return s.engine.CreateCopyTasks(ctx, targets, userIDs)
}

// newTasks 返回 after 中新产生的任务
func newTasks(before, after []*engine.Task) []*engine.Task {
	existed := make(map[string]bool, len(before))
	for _, t := range before {
		existed[t.ID] = true
	}
	var result []*engine.Task
	for _, t := range after {
		if !existed[t.ID] {
			result = append(result, t)
		}
	}
	return result
}

// DelegateTask 委派任务,委派人办理后任务自动回到原办理人
func (s *TaskActionService) DelegateTask(ctx context.Context, req DelegateRequest) error {
	if err := s.check(req); err != nil {
		return err
	}
	return s.withTask(ctx, actionDelegate, req.TaskID, func(ctx context.Context, actor auth.Actor, task *engine.Task, uow *unitOfWork) error {
		if req.UserID == task.Assignee {
			return flowerr.InvalidArgument("task is already assigned to %s", req.UserID)
		}
		delegate := Participant{UserID: req.UserID, NickName: req.NickName}
		text := fmt.Sprintf("【%s】委派给【%s】", actor.DisplayName(), delegate.displayName())
		if req.Comment != "" {
			text += "：" + req.Comment
		}
		if err := s.RecordAuditComment(ctx, task, status.TaskPending, text); err != nil {
			return err
		}
		if err := s.engine.Delegate(ctx, task.ID, req.UserID); err != nil {
			return err
		}
		if err := s.notifyInstance(ctx, uow, task, NotifyTodo, []NotifyTarget{{TaskID: task.ID, UserID: req.UserID}}); err != nil {
			return err
		}
		return s.recordAudit(ctx, actor, actionDelegate, ResourceTask, task.ID, map[string]string{"delegate": req.UserID})
	})
}

func (s *TaskActionService) notifyInstance(ctx context.Context, uow *unitOfWork, task *engine.Task, kind string, targets []NotifyTarget) error {
	inst, err := s.engine.GetInstance(ctx, task.ProcessInstanceID)
	if err != nil {
		return err
	}
	uow.notify(NotifyRequest{
		Kind:              kind,
		ProcessInstanceID: inst.ID,
		InstanceName:      inst.Name,
		Targets:           targets,
	})
	return nil
}

// TerminateTask 终止流程,实例被删除后不再有任何令牌
func (s *TaskActionService) TerminateTask(ctx context.Context, req TerminateRequest) error {
	if err := s.check(req); err != nil {
		return err
	}
	err := s.withTask(ctx, actionTerminate, req.TaskID, func(ctx context.Context, actor auth.Actor, task *engine.Task, uow *unitOfWork) error {
		inst, err := s.engine.GetInstance(ctx, task.ProcessInstanceID)
		if err != nil {
			return err
		}
		if err := status.Check(status.BusinessStatus(inst.BusinessStatus), status.ActionTerminate); err != nil {
			return err
		}
		event, err := s.hookEvent(ctx, inst, task, status.Termination)
		if err != nil {
			return err
		}

		text := actor.DisplayName() + "终止了申请"
		if req.Comment != "" {
			text += "：" + req.Comment
		}
		if err := s.addComment(ctx, actor, task, status.TaskTermination, text); err != nil {
			return err
		}

		subs, err := s.engine.QueryTasks(ctx, engine.TaskQuery{ProcessInstanceID: inst.ID, OnlySubTasks: true})
		if err != nil {
			return err
		}
		if len(subs) > 0 {
			ids := make([]string, 0, len(subs))
			for _, t := range subs {
				ids = append(ids, t.ID)
			}
			if err := s.engine.DeleteTasks(ctx, ids, engine.DeleteReasonSubTaskCleanup); err != nil {
				return err
			}
		}

		if err := s.engine.UpdateBusinessStatus(ctx, inst.ID, string(status.Termination)); err != nil {
			return err
		}
		if err := s.engine.DeleteInstance(ctx, inst.ID, text); err != nil {
			return err
		}
		if err := s.hooks.OnTerminate(ctx, event); err != nil {
			return err
		}
		return s.recordAudit(ctx, actor, actionTerminate, ResourceInstance, inst.ID, map[string]string{"task_id": task.ID})
	})
	if flowerr.KindOf(err) == flowerr.KindNotFound {
		if statusErr := s.terminatedStatus(ctx, req.TaskID); statusErr != nil {
			return statusErr
		}
	}
	return err
}

// terminatedStatus 任务已不在运行时,按历史实例的业务状态给出 ILLEGAL_STATUS
func (s *TaskActionService) terminatedStatus(ctx context.Context, taskID string) error {
	actor, err := s.actor(ctx)
	if err != nil {
		return nil
	}
	hist, err := s.engine.QueryHistoricTasks(ctx, engine.HistoricTaskQuery{TaskIDs: []string{taskID}})
	if err != nil || len(hist) == 0 {
		return nil
	}
	if !actor.Admin && hist[0].Assignee != actor.UserID && hist[0].Owner != actor.UserID {
		return nil
	}
	inst, err := s.engine.GetInstance(ctx, hist[0].ProcessInstanceID)
	if err != nil || inst.Running() {
		return nil
	}
	return status.Check(status.BusinessStatus(inst.BusinessStatus), status.ActionTerminate)
}

// TransferTask 转办,任务直接交给新办理人
func (s *TaskActionService) TransferTask(ctx context.Context, req TransferRequest) error {
	if err := s.check(req); err != nil {
		return err
	}
	return s.withTask(ctx, actionTransfer, req.TaskID, func(ctx context.Context, actor auth.Actor, task *engine.Task, uow *unitOfWork) error {
		if req.UserID == task.Assignee {
			return flowerr.InvalidArgument("task is already assigned to %s", req.UserID)
		}
		text := req.Comment
		if text == "" {
			text = fmt.Sprintf("【%s】转办给【%s】", actor.DisplayName(), req.UserID)
		}
		if err := s.RecordAuditComment(ctx, task, status.TaskTransfer, text); err != nil {
			return err
		}
		if err := s.engine.SetAssignee(ctx, task.ID, req.UserID); err != nil {
			return err
		}
		if err := s.notifyInstance(ctx, uow, task, NotifyTodo, []NotifyTarget{{TaskID: task.ID, UserID: req.UserID}}); err != nil {
			return err
		}
		return s.recordAudit(ctx, actor, actionTransfer, ResourceTask, task.ID, map[string]string{"to": req.UserID})
	})
}

// multiInstance 返回任务节点的会签描述,非会签节点返回 NOT_MULTI_INSTANCE
func (s *TaskActionService) multiInstance(ctx context.Context, task *engine.Task) (*multiinstance.Descriptor, error) {
	desc, err := s.resolver.Resolve(ctx, task.DefinitionID, task.NodeID)
	if err != nil {
		return nil, err
	}
	if !desc.IsMultiInstance() {
		return nil, flowerr.NotMultiInstance()
	}
	return desc, nil
}

// AddMultiInstanceApprover 加签:并行会签每人新增一个执行,串行会签追加到审批人列表末尾
func (s *TaskActionService) AddMultiInstanceApprover(ctx context.Context, req AddSignerRequest) error {
	if err := s.check(req); err != nil {
		return err
	}
	return s.withTask(ctx, actionAddSigner, req.TaskID, func(ctx context.Context, actor auth.Actor, task *engine.Task, uow *unitOfWork) error {
		desc, err := s.multiInstance(ctx, task)
		if err != nil {
			return err
		}

		var targets []NotifyTarget
		if desc.Sequential() {
			approvers, err := s.resolver.SequentialApprovers(ctx, task.ExecutionID, desc)
			if err != nil {
				return err
			}
			added := without(req.UserIDs, approvers)
			if len(added) == 0 {
				return flowerr.InvalidArgument("users are already approvers of this node")
			}
			approvers = append(approvers, added...)
			if err := s.engine.SetVariable(ctx, task.ExecutionID, desc.Collection, approvers); err != nil {
				return err
			}
			if err := s.engine.SetVariable(ctx, task.ExecutionID, engine.VarNrOfInstances, len(approvers)); err != nil {
				return err
			}
		} else {
			open, err := s.engine.QueryTasks(ctx, engine.TaskQuery{ProcessInstanceID: task.ProcessInstanceID, NodeID: task.NodeID})
			if err != nil {
				return err
			}
			current := make([]string, 0, len(open))
			for _, t := range open {
				current = append(current, t.Assignee)
			}
			added := without(req.UserIDs, current)
			if len(added) == 0 {
				return flowerr.InvalidArgument("users are already approvers of this node")
			}
			for _, u := range added {
				t, err := s.engine.AddParallelExecution(ctx, task.ProcessInstanceID, task.NodeID, map[string]interface{}{
					desc.ElementVariable: u,
				})
				if err != nil {
					return err
				}
				targets = append(targets, NotifyTarget{TaskID: t.ID, UserID: u})
			}
		}

		names := req.NickNames
		if len(names) != len(req.UserIDs) {
			names = req.UserIDs
		}
		text := fmt.Sprintf("%s加签【%s】", actor.DisplayName(), strings.Join(names, "、"))
		if err := s.RecordAuditComment(ctx, task, status.TaskSign, text); err != nil {
			return err
		}
		if err := s.notifyInstance(ctx, uow, task, NotifyTodo, targets); err != nil {
			return err
		}
		return s.recordAudit(ctx, actor, actionAddSigner, ResourceTask, task.ID, map[string]interface{}{"users": req.UserIDs})
	})
}

// RemoveMultiInstanceApprover 减签:并行会签删除执行及其历史任务,串行会签按位置修改审批人列表
func (s *TaskActionService) RemoveMultiInstanceApprover(ctx context.Context, req RemoveSignerRequest) error {
	if err := s.check(req); err != nil {
		return err
	}
	return s.withTask(ctx, actionRemoveSigner, req.TaskID, func(ctx context.Context, actor auth.Actor, task *engine.Task, uow *unitOfWork) error {
		desc, err := s.multiInstance(ctx, task)
		if err != nil {
			return err
		}

		var removed []string
		if desc.Sequential() {
			removed, err = s.removeSequential(ctx, task, desc, req.AssigneeIDs)
		} else {
			removed, err = s.removeParallel(ctx, task, req.ExecutionIDs)
		}
		if err != nil {
			return err
		}

		names := req.AssigneeNames
		if len(names) == 0 {
			names = removed
		}
		text := fmt.Sprintf("%s减签【%s】", actor.DisplayName(), strings.Join(names, "、"))
		if err := s.RecordAuditComment(ctx, task, status.TaskSignOff, text); err != nil {
			return err
		}
		return s.recordAudit(ctx, actor, actionRemoveSigner, ResourceTask, task.ID, map[string]interface{}{"users": removed})
	})
}

func (s *TaskActionService) removeParallel(ctx context.Context, task *engine.Task, executionIDs []string) ([]string, error) {
	executionIDs = unique(executionIDs)
	if len(executionIDs) == 0 {
		return nil, flowerr.InvalidArgument("execution ids are required")
	}
	for _, id := range executionIDs {
		if id == task.ExecutionID {
			return nil, flowerr.InvalidArgument("cannot remove the current task's approver")
		}
	}

	tasks, err := s.engine.QueryTasks(ctx, engine.TaskQuery{
		ProcessInstanceID: task.ProcessInstanceID,
		NodeID:            task.NodeID,
		ExecutionIDs:      executionIDs,
	})
	if err != nil {
		return nil, err
	}
	if len(tasks) != len(executionIDs) {
		return nil, flowerr.InvalidArgument("some executions are not open approvers of node %s", task.NodeID)
	}

	removed := make([]string, 0, len(tasks))
	taskIDs := make([]string, 0, len(tasks))
	for _, t := range tasks {
		if err := s.engine.DeleteExecution(ctx, t.ExecutionID); err != nil {
			return nil, err
		}
		removed = append(removed, t.Assignee)
		taskIDs = append(taskIDs, t.ID)
	}
	if err := s.engine.DeleteHistoricTasks(ctx, taskIDs); err != nil {
		return nil, err
	}
	return removed, nil
}

func (s *TaskActionService) removeSequential(ctx context.Context, task *engine.Task, desc *multiinstance.Descriptor, assigneeIDs []string) ([]string, error) {
	if len(assigneeIDs) == 0 {
		return nil, flowerr.InvalidArgument("assignee ids are required")
	}
	approvers, err := s.resolver.SequentialApprovers(ctx, task.ExecutionID, desc)
	if err != nil {
		return nil, err
	}
	var current string
	if _, err := s.engine.GetVariable(ctx, task.ExecutionID, desc.ElementVariable, &current); err != nil {
		return nil, err
	}

	drop := make(map[string]bool, len(assigneeIDs))
	for _, id := range assigneeIDs {
		if id == current {
			return nil, flowerr.InvalidArgument("cannot remove the current approver %s", current)
		}
		drop[id] = true
	}

	remaining := make([]string, 0, len(approvers))
	var removed []string
	for _, a := range approvers {
		if drop[a] {
			removed = append(removed, a)
			continue
		}
		remaining = append(remaining, a)
	}
	if len(removed) == 0 {
		return nil, flowerr.InvalidArgument("users are not approvers of node %s", task.NodeID)
	}

	// 串行会签按 loopCounter 取下一位审批人,删除前面的人后需要修正位置
	loop := indexOf(remaining, current)
	if loop < 0 {
		return nil, flowerr.Misconfigured("current approver %s is missing from node %s", current, task.NodeID)
	}
	for name, value := range map[string]interface{}{
		desc.Collection:         remaining,
		engine.VarNrOfInstances: len(remaining),
		engine.VarLoopCounter:   loop,
	} {
		if err := s.engine.SetVariable(ctx, task.ExecutionID, name, value); err != nil {
			return nil, err
		}
	}
	return removed, nil
}

// Reject 驳回到实例已办理过的节点
// 令牌跳转、节点历史裁剪、孤儿执行清理在同一个事务内完成
func (s *TaskActionService) Reject(ctx context.Context, req RejectRequest) error {
	if err := s.check(req); err != nil {
		return err
	}
	return s.withTask(ctx, actionReject, req.TaskID, func(ctx context.Context, actor auth.Actor, task *engine.Task, uow *unitOfWork) error {
		inst, err := s.engine.GetInstance(ctx, task.ProcessInstanceID)
		if err != nil {
			return err
		}
		if err := status.Check(status.BusinessStatus(inst.BusinessStatus), status.ActionReject); err != nil {
			return err
		}
		target, err := s.history.Target(ctx, inst.ID, req.TargetNodeID)
		if err != nil {
			return err
		}
		if target.NodeID == task.NodeID {
			return flowerr.InvalidArgument("cannot reject to the current node")
		}

		open, err := s.engine.QueryTasks(ctx, engine.TaskQuery{ProcessInstanceID: inst.ID})
		if err != nil {
			return err
		}
		def, err := s.engine.GetDefinition(ctx, task.DefinitionID)
		if err != nil {
			return err
		}
		// 只回收目标节点之后会重新产生的任务,其他并行分支保持不动
		var moved []*engine.Task
		for _, t := range open {
			if t.NodeID == task.NodeID || def.Reachable(target.NodeID, t.NodeID) {
				moved = append(moved, t)
			}
		}
		// 令牌跳转前记录会失效的汇聚等待令牌,跳转后引擎不会回收它们
		orphans, err := s.engine.InactiveSiblingExecutions(ctx, task.ExecutionID, target.NodeID)
		if err != nil {
			return err
		}

		comment := req.Comment
		if comment == "" {
			comment = DefaultRejectComment
		}
		if err := s.addComment(ctx, actor, task, status.TaskBack, comment); err != nil {
			return err
		}
		if len(moved) > 1 {
			if err := s.engine.UpdateHistoricTaskAssignee(ctx, task.ID, actor.UserID); err != nil {
				return err
			}
		}

		var fromNodes []string
		seen := make(map[string]bool)
		for _, t := range moved {
			if !seen[t.NodeID] {
				seen[t.NodeID] = true
				fromNodes = append(fromNodes, t.NodeID)
			}
		}
		if err := s.engine.MoveToken(ctx, inst.ID, fromNodes, target.NodeID); err != nil {
			return err
		}

		current, err := s.resolver.Resolve(ctx, task.DefinitionID, task.NodeID)
		if err != nil {
			return err
		}
		if !current.IsMultiInstance() && len(moved) > 1 {
			var others []string
			for _, t := range moved {
				if t.NodeID != task.NodeID {
					others = append(others, t.ID)
				}
			}
			if err := s.engine.DeleteHistoricTasks(ctx, others); err != nil {
				return err
			}
		}

		reopened, err := s.engine.QueryTasks(ctx, engine.TaskQuery{ProcessInstanceID: inst.ID, NodeID: target.NodeID})
		if err != nil {
			return err
		}
		targetDesc, err := s.resolver.Resolve(ctx, task.DefinitionID, target.NodeID)
		if err != nil {
			return err
		}
		if !targetDesc.IsMultiInstance() {
			if err := s.restoreAssignees(ctx, reopened); err != nil {
				return err
			}
		}

		if err := s.engine.DeleteExecutions(ctx, orphans); err != nil {
			return err
		}
		if target.OrderNo == 0 {
			if err := s.engine.UpdateBusinessStatus(ctx, inst.ID, string(status.Back)); err != nil {
				return err
			}
			event, err := s.hookEvent(ctx, inst, task, status.Back)
			if err != nil {
				return err
			}
			event.NodeID = target.NodeID
			event.FirstNode = true
			if err := s.hooks.OnReject(ctx, event); err != nil {
				return err
			}
		}
		if err := s.history.TrimAfter(ctx, target); err != nil {
			return err
		}

		targets, err := s.notifyTargets(ctx, reopened)
		if err != nil {
			return err
		}
		uow.notify(NotifyRequest{
			Kind:              NotifyReject,
			ProcessInstanceID: inst.ID,
			InstanceName:      inst.Name,
			Targets:           targets,
			Channels:          req.MessageChannels,
			Message:           req.Message,
		})
		return s.recordAudit(ctx, actor, actionReject, ResourceTask, task.ID, map[string]interface{}{
			"target_node_id": target.NodeID,
			"target_order":   target.OrderNo,
		})
	})
}

// restoreAssignees 令牌跳转不会恢复原办理人,按节点最近一次办结的历史任务重新指定
func (s *TaskActionService) restoreAssignees(ctx context.Context, tasks []*engine.Task) error {
	finished := true
	for _, t := range tasks {
		hist, err := s.engine.QueryHistoricTasks(ctx, engine.HistoricTaskQuery{
			ProcessInstanceID: t.ProcessInstanceID,
			NodeID:            t.NodeID,
			Finished:          &finished,
			OrderByEndDesc:    true,
		})
		if err != nil {
			return err
		}
		for _, h := range hist {
			if h.ID == t.ID || h.DeleteReason != "" || h.Assignee == "" {
				continue
			}
			if h.Assignee != t.Assignee {
				if err := s.engine.SetAssignee(ctx, t.ID, h.Assignee); err != nil {
					return err
				}
				t.Assignee = h.Assignee
			}
			break
		}
	}
	return nil
}

// UpdateAssignee 批量修改办理人,不校验业务状态
func (s *TaskActionService) UpdateAssignee(ctx context.Context, req UpdateAssigneeRequest) error {
	if err := s.check(req); err != nil {
		return err
	}
	actor, err := s.actor(ctx)
	if err != nil {
		return err
	}
	taskIDs := unique(req.TaskIDs)
	tasks, err := s.accessibleTasks(ctx, actor, taskIDs)
	if err != nil {
		return err
	}
	var instanceIDs []string
	for _, t := range tasks {
		instanceIDs = append(instanceIDs, t.ProcessInstanceID)
	}
	instanceIDs = unique(instanceIDs)

	fields := logrus.Fields{"user_id": actor.UserID, "tasks": len(taskIDs)}
	body := func(ctx context.Context, uow *unitOfWork) error {
		tasks, err := s.accessibleTasks(ctx, actor, taskIDs)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			if err := s.engine.SetAssignee(ctx, t.ID, req.UserID); err != nil {
				return err
			}
			if err := s.notifyInstance(ctx, uow, t, NotifyTodo, []NotifyTarget{{TaskID: t.ID, UserID: req.UserID}}); err != nil {
				return err
			}
			if err := s.recordAudit(ctx, actor, actionUpdateAssignee, ResourceTask, t.ID, map[string]string{"from": t.Assignee, "to": req.UserID}); err != nil {
				return err
			}
		}
		return nil
	}

	keys := make([]string, 0, len(instanceIDs))
	for _, id := range instanceIDs {
		keys = append(keys, lock.InstanceKey(id))
	}
	return s.runAll(ctx, actionUpdateAssignee, keys, fields, body)
}

func (s *TaskActionService) accessibleTasks(ctx context.Context, actor auth.Actor, taskIDs []string) ([]*engine.Task, error) {
	q := engine.TaskQuery{TaskIDs: taskIDs, TenantID: actor.TenantID}
	if !actor.Admin {
		q.Involved = &engine.Involvement{UserID: actor.UserID, Groups: actor.Groups}
	}
	tasks, err := s.engine.QueryTasks(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(tasks) != len(taskIDs) {
		return nil, flowerr.NotFound(flowerr.MessageTaskNotFound)
	}
	return tasks, nil
}

// without 返回 ids 中不在 existing 里的元素,保持顺序并去重
func without(ids, existing []string) []string {
	skip := make(map[string]bool, len(existing))
	for _, e := range existing {
		skip[e] = true
	}
	var result []string
	for _, id := range ids {
		if id == "" || skip[id] {
			continue
		}
		skip[id] = true
		result = append(result, id)
	}
	return result
}

func unique(ids []string) []string {
	return without(ids, nil)
}

func indexOf(list []string, v string) int {
	for i, x := range list {
		if x == v {
			return i
		}
	}
	return -1
}
