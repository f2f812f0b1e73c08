package service

import (
	"context"
	"sort"

	"github.com/mautops/workflow-gin/internal/auth"
	"github.com/mautops/workflow-gin/internal/engine"
	"github.com/mautops/workflow-gin/internal/flowerr"
	"github.com/mautops/workflow-gin/internal/lock"
	"github.com/mautops/workflow-gin/internal/status"
	"github.com/sirupsen/logrus"
)

const (
	actionCancel     = "cancel"
	actionInvalidate = "invalidate"
	actionPurge      = "purge"
	actionUrge       = "urge"
)

// CancelRequest 申请人撤销申请
type CancelRequest struct {
	BusinessKey string `json:"business_key" validate:"required"`
	Comment     string `json:"comment"`
}

// InvalidateRequest 作废单据
type InvalidateRequest struct {
	BusinessKey string `json:"business_key" validate:"required"`
	Reason      string `json:"reason"`
}

// PurgeRequest 删除实例及全部历史
type PurgeRequest struct {
	BusinessKeys []string `json:"business_keys" validate:"required,min=1,dive,required"`
}

// UrgeRequest 催办当前审批人
type UrgeRequest struct {
	ProcessInstanceID string   `json:"process_instance_id" validate:"required"`
	Message           string   `json:"message"`
	MessageChannels   []string `json:"message_channels"`
}

// InstanceService 以业务单据为单位的实例操作
type InstanceService struct {
	*TaskActionService
}

// NewInstanceService 创建实例服务,与任务操作服务共用锁、事务和协作方
func NewInstanceService(actions *TaskActionService) *InstanceService {
	return &InstanceService{TaskActionService: actions}
}

// latestInstance 返回业务单据最近一次发起的实例
func (s *InstanceService) latestInstance(ctx context.Context, actor auth.Actor, businessKey string) (*engine.Instance, error) {
	instances, err := s.engine.FindInstances(ctx, engine.InstanceQuery{BusinessKey: businessKey, TenantID: actor.TenantID})
	if err != nil {
		return nil, err
	}
	if len(instances) == 0 {
		return nil, flowerr.NotFound("no workflow instance for business key %s", businessKey)
	}
	return instances[0], nil
}

// withInstance 在实例锁和事务内重新加载实例,只有申请人或管理员可以操作
func (s *InstanceService) withInstance(ctx context.Context, action, businessKey string, fn func(ctx context.Context, actor auth.Actor, inst *engine.Instance, uow *unitOfWork) error) error {
	actor, err := s.actor(ctx)
	if err != nil {
		return err
	}
	inst, err := s.latestInstance(ctx, actor, businessKey)
	if err != nil {
		return err
	}
	fields := logrus.Fields{"business_key": businessKey, "instance_id": inst.ID, "user_id": actor.UserID}
	return s.run(ctx, action, lock.InstanceKey(inst.ID), fields, func(ctx context.Context, uow *unitOfWork) error {
		inst, err := s.engine.GetInstance(ctx, inst.ID)
		if err != nil {
			return err
		}
		if !actor.Admin && inst.Initiator != actor.UserID {
			return flowerr.NotFound("process instance does not exist or you are not the initiator")
		}
		return fn(ctx, actor, inst, uow)
	})
}

// CancelApply 申请人撤回审批中的单据,令牌回到申请人节点
func (s *InstanceService) CancelApply(ctx context.Context, req CancelRequest) error {
	if err := s.check(req); err != nil {
		return err
	}
	return s.withInstance(ctx, actionCancel, req.BusinessKey, func(ctx context.Context, actor auth.Actor, inst *engine.Instance, uow *unitOfWork) error {
		if err := status.Check(status.BusinessStatus(inst.BusinessStatus), status.ActionCancel); err != nil {
			return err
		}
		if !inst.Running() {
			return flowerr.IllegalStatus("process instance has ended")
		}
		if inst.Suspended {
			return flowerr.Suspended()
		}
		frontier, err := s.history.Frontier(ctx, inst.ID)
		if err != nil {
			return err
		}
		if frontier == nil {
			return flowerr.Misconfigured("process instance %s has no applicant node", inst.ID)
		}

		open, err := s.engine.QueryTasks(ctx, engine.TaskQuery{ProcessInstanceID: inst.ID})
		if err != nil {
			return err
		}
		if len(open) == 0 {
			return flowerr.IllegalStatus("process instance has no open task")
		}

		text := actor.DisplayName() + "撤销了申请"
		if req.Comment != "" {
			text += "：" + req.Comment
		}
		if err := s.RecordAuditComment(ctx, open[0], status.TaskCancel, text); err != nil {
			return err
		}

		var (
			fromNodes []string
			orphans   []string
		)
		seen := make(map[string]bool)
		for _, t := range open {
			if !seen[t.NodeID] {
				seen[t.NodeID] = true
				fromNodes = append(fromNodes, t.NodeID)
			}
			ids, err := s.engine.InactiveSiblingExecutions(ctx, t.ExecutionID, frontier.NodeID)
			if err != nil {
				return err
			}
			orphans = append(orphans, ids...)
		}
		if err := s.engine.MoveToken(ctx, inst.ID, fromNodes, frontier.NodeID); err != nil {
			return err
		}
		reopened, err := s.engine.QueryTasks(ctx, engine.TaskQuery{ProcessInstanceID: inst.ID})
		if err != nil {
			return err
		}
		if err := s.restoreAssignees(ctx, reopened); err != nil {
			return err
		}
		if err := s.engine.DeleteExecutions(ctx, unique(orphans)); err != nil {
			return err
		}

		if err := s.engine.UpdateBusinessStatus(ctx, inst.ID, string(status.Cancel)); err != nil {
			return err
		}
		if err := s.history.TrimAfter(ctx, frontier); err != nil {
			return err
		}
		if err := s.hooks.OnCancel(ctx, HookEvent{
			DefinitionKey: inst.DefinitionKey,
			BusinessKey:   inst.BusinessKey,
			InstanceID:    inst.ID,
			NodeID:        frontier.NodeID,
			Status:        status.Cancel,
			FirstNode:     true,
		}); err != nil {
			return err
		}
		return s.recordAudit(ctx, actor, actionCancel, ResourceInstance, inst.ID, map[string]string{"comment": req.Comment})
	})
}

// Invalidate 作废单据,运行中的实例同时被删除
func (s *InstanceService) Invalidate(ctx context.Context, req InvalidateRequest) error {
	if err := s.check(req); err != nil {
		return err
	}
	return s.withInstance(ctx, actionInvalidate, req.BusinessKey, func(ctx context.Context, actor auth.Actor, inst *engine.Instance, uow *unitOfWork) error {
		if err := status.Check(status.BusinessStatus(inst.BusinessStatus), status.ActionInvalidate); err != nil {
			return err
		}
		text := actor.DisplayName() + "作废了申请"
		if req.Reason != "" {
			text += "：" + req.Reason
		}

		if inst.Running() {
			open, err := s.engine.QueryTasks(ctx, engine.TaskQuery{ProcessInstanceID: inst.ID, IncludeSubTasks: true})
			if err != nil {
				return err
			}
			var (
				subs      []string
				commented bool
			)
			for _, t := range open {
				if t.ParentTaskID != "" {
					subs = append(subs, t.ID)
					continue
				}
				if !commented {
					if err := s.addComment(ctx, actor, t, status.TaskInvalid, text); err != nil {
						return err
					}
					commented = true
				}
			}
			if len(subs) > 0 {
				if err := s.engine.DeleteTasks(ctx, subs, engine.DeleteReasonSubTaskCleanup); err != nil {
					return err
				}
			}
		}
		if err := s.engine.UpdateBusinessStatus(ctx, inst.ID, string(status.Invalid)); err != nil {
			return err
		}
		if inst.Running() {
			if err := s.engine.DeleteInstance(ctx, inst.ID, text); err != nil {
				return err
			}
		}
		return s.recordAudit(ctx, actor, actionInvalidate, ResourceInstance, inst.ID, map[string]string{"reason": req.Reason})
	})
}

// Purge 删除业务单据的全部实例、历史与节点记录,仅管理员可用
func (s *InstanceService) Purge(ctx context.Context, req PurgeRequest) (int, error) {
	if err := s.check(req); err != nil {
		return 0, err
	}
	actor, err := s.actor(ctx)
	if err != nil {
		return 0, err
	}
	if !actor.Admin {
		return 0, flowerr.InvalidArgument("only administrators can purge workflow instances")
	}
	businessKeys := unique(req.BusinessKeys)
	instances, err := s.engine.FindInstances(ctx, engine.InstanceQuery{BusinessKeys: businessKeys, TenantID: actor.TenantID})
	if err != nil {
		return 0, err
	}
	if len(instances) == 0 {
		return 0, flowerr.NotFound("no workflow instance for the given business keys")
	}
	ids := make([]string, 0, len(instances))
	keys := make([]string, 0, len(instances))
	for _, inst := range instances {
		ids = append(ids, inst.ID)
		keys = append(keys, lock.InstanceKey(inst.ID))
	}
	sort.Strings(ids)

	fields := logrus.Fields{"user_id": actor.UserID, "instances": len(ids)}
	err = s.runAll(ctx, actionPurge, keys, fields, func(ctx context.Context, uow *unitOfWork) error {
		for _, id := range ids {
			// 实例不存在时引擎返回 NOT_FOUND,整批回滚
			if err := s.engine.PurgeInstance(ctx, id); err != nil {
				return err
			}
		}
		if err := s.history.DeleteByInstances(ctx, ids); err != nil {
			return err
		}
		return s.recordAudit(ctx, actor, actionPurge, ResourceInstance, ids[0], map[string]interface{}{
			"business_keys": businessKeys,
			"instance_ids":  ids,
		})
	})
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Urge 催办,通知实例当前全部审批人,返回通知人数
func (s *InstanceService) Urge(ctx context.Context, req UrgeRequest) (int, error) {
	if err := s.check(req); err != nil {
		return 0, err
	}
	actor, err := s.actor(ctx)
	if err != nil {
		return 0, err
	}
	var sent int
	fields := logrus.Fields{"instance_id": req.ProcessInstanceID, "user_id": actor.UserID}
	err = s.run(ctx, actionUrge, lock.InstanceKey(req.ProcessInstanceID), fields, func(ctx context.Context, uow *unitOfWork) error {
		inst, err := s.visibleInstance(ctx, actor, req.ProcessInstanceID)
		if err != nil {
			return err
		}
		if !actor.Admin && inst.Initiator != actor.UserID {
			return flowerr.NotFound("process instance does not exist or you are not the initiator")
		}
		if !inst.Running() {
			return flowerr.IllegalStatus("process instance has ended")
		}
		open, err := s.engine.QueryTasks(ctx, engine.TaskQuery{ProcessInstanceID: inst.ID})
		if err != nil {
			return err
		}
		targets, err := s.notifyTargets(ctx, open)
		if err != nil {
			return err
		}
		sent = len(targets)
		uow.notify(NotifyRequest{
			Kind:              NotifyUrge,
			ProcessInstanceID: inst.ID,
			InstanceName:      inst.Name,
			Targets:           targets,
			Channels:          req.MessageChannels,
			Message:           req.Message,
		})
		return s.recordAudit(ctx, actor, actionUrge, ResourceInstance, inst.ID, map[string]int{"targets": sent})
	})
	if err != nil {
		return 0, err
	}
	return sent, nil
}

// visibleInstance 按租户加载实例
func (s *InstanceService) visibleInstance(ctx context.Context, actor auth.Actor, instanceID string) (*engine.Instance, error) {
	inst, err := s.engine.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if inst.TenantID != actor.TenantID {
		return nil, flowerr.NotFound("process instance %s does not exist", instanceID)
	}
	return inst, nil
}
