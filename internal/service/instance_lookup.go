package service

import (
	"context"
	"time"

	"github.com/mautops/workflow-gin/internal/engine"
	"github.com/mautops/workflow-gin/internal/model"
	"github.com/mautops/workflow-gin/internal/status"
)

// RemovableApprover 可减签的审批人,串行会签没有独立执行
type RemovableApprover struct {
	ExecutionID string `json:"execution_id,omitempty"`
	TaskID      string `json:"task_id,omitempty"`
	UserID      string `json:"user_id"`
}

// HistoryRecord 审批记录
type HistoryRecord struct {
	TaskID       string               `json:"task_id"`
	ParentTaskID string               `json:"parent_task_id,omitempty"`
	NodeID       string               `json:"node_id"`
	Name         string               `json:"name"`
	Assignee     string               `json:"assignee"`
	Status       status.TaskStatus    `json:"status,omitempty"`
	StatusLabel  string               `json:"status_label,omitempty"`
	Copy         bool                 `json:"copy"`
	StartTime    time.Time            `json:"start_time"`
	EndTime      *time.Time           `json:"end_time,omitempty"`
	Duration     string               `json:"duration,omitempty"`
	DeleteReason string               `json:"delete_reason,omitempty"`
	Comments     []*engine.Comment    `json:"comments"`
	Attachments  []*engine.Attachment `json:"attachments"`
}

// GetInstanceVariables 返回任务所在实例的流程变量
func (s *InstanceService) GetInstanceVariables(ctx context.Context, taskID string) (map[string]interface{}, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	task, err := s.loadActionTask(ctx, actor, taskID)
	if err != nil {
		return nil, err
	}
	return s.engine.InstanceVariables(ctx, task.ProcessInstanceID)
}

// AddableApprovers 返回会签节点现有审批人,加签时排除这些用户
func (s *InstanceService) AddableApprovers(ctx context.Context, taskID string) ([]string, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	task, err := s.loadActionTask(ctx, actor, taskID)
	if err != nil {
		return nil, err
	}
	desc, err := s.multiInstance(ctx, task)
	if err != nil {
		return nil, err
	}
	if desc.Sequential() {
		return s.resolver.SequentialApprovers(ctx, task.ExecutionID, desc)
	}
	open, err := s.engine.QueryTasks(ctx, engine.TaskQuery{ProcessInstanceID: task.ProcessInstanceID, NodeID: task.NodeID})
	if err != nil {
		return nil, err
	}
	users := make([]string, 0, len(open))
	for _, t := range open {
		users = append(users, t.Assignee)
	}
	return unique(users), nil
}

// RemovableApprovers 返回可减签的审批人,不包含当前办理人
func (s *InstanceService) RemovableApprovers(ctx context.Context, taskID string) ([]RemovableApprover, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	task, err := s.loadActionTask(ctx, actor, taskID)
	if err != nil {
		return nil, err
	}
	desc, err := s.multiInstance(ctx, task)
	if err != nil {
		return nil, err
	}

	var result []RemovableApprover
	if desc.Sequential() {
		approvers, err := s.resolver.SequentialApprovers(ctx, task.ExecutionID, desc)
		if err != nil {
			return nil, err
		}
		var current string
		if _, err := s.engine.GetVariable(ctx, task.ExecutionID, desc.ElementVariable, &current); err != nil {
			return nil, err
		}
		// 已办理过的审批人不能再减签
		for _, a := range approvers[indexOf(approvers, current)+1:] {
			result = append(result, RemovableApprover{UserID: a})
		}
		return result, nil
	}

	open, err := s.engine.QueryTasks(ctx, engine.TaskQuery{ProcessInstanceID: task.ProcessInstanceID, NodeID: task.NodeID})
	if err != nil {
		return nil, err
	}
	for _, t := range open {
		if t.ExecutionID == task.ExecutionID {
			continue
		}
		result = append(result, RemovableApprover{ExecutionID: t.ExecutionID, TaskID: t.ID, UserID: t.Assignee})
	}
	return result, nil
}

// BackNodes 返回可驳回的节点,按办理顺序倒序,不包含正在办理的节点
func (s *InstanceService) BackNodes(ctx context.Context, instanceID string) ([]*model.NodeHistoryModel, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.visibleInstance(ctx, actor, instanceID); err != nil {
		return nil, err
	}
	entries, err := s.history.ListByInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	open, err := s.engine.QueryTasks(ctx, engine.TaskQuery{ProcessInstanceID: instanceID})
	if err != nil {
		return nil, err
	}
	current := make(map[string]bool, len(open))
	for _, t := range open {
		current[t.NodeID] = true
	}
	result := make([]*model.NodeHistoryModel, 0, len(entries))
	for _, e := range entries {
		if !current[e.NodeID] {
			result = append(result, e)
		}
	}
	return result, nil
}

// HistoryRecords 返回业务单据最近一次流程的审批记录,最新的在前
func (s *InstanceService) HistoryRecords(ctx context.Context, businessKey string) ([]*HistoryRecord, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	inst, err := s.latestInstance(ctx, actor, businessKey)
	if err != nil {
		return nil, err
	}
	tasks, err := s.engine.QueryHistoricTasks(ctx, engine.HistoricTaskQuery{
		ProcessInstanceID: inst.ID,
		IncludeSubTasks:   true,
		IncludeCopies:     true,
	})
	if err != nil {
		return nil, err
	}
	comments, err := s.engine.Comments(ctx, inst.ID)
	if err != nil {
		return nil, err
	}
	attachments, err := s.engine.Attachments(ctx, inst.ID)
	if err != nil {
		return nil, err
	}

	commentsByTask := make(map[string][]*engine.Comment)
	for _, c := range comments {
		commentsByTask[c.TaskID] = append(commentsByTask[c.TaskID], c)
	}
	attachmentsByTask := make(map[string][]*engine.Attachment)
	for _, a := range attachments {
		attachmentsByTask[a.TaskID] = append(attachmentsByTask[a.TaskID], a)
	}

	records := make([]*HistoryRecord, 0, len(tasks))
	for i := len(tasks) - 1; i >= 0; i-- {
		t := tasks[i]
		r := &HistoryRecord{
			TaskID:       t.ID,
			ParentTaskID: t.ParentTaskID,
			NodeID:       t.NodeID,
			Name:         t.Name,
			Assignee:     t.Assignee,
			Copy:         t.ScopeType == model.ScopeTypeCopy,
			StartTime:    t.StartTime,
			EndTime:      t.EndTime,
			DeleteReason: t.DeleteReason,
			Comments:     commentsByTask[t.ID],
			Attachments:  attachmentsByTask[t.ID],
		}
		if t.EndTime != nil {
			r.Duration = t.EndTime.Sub(t.StartTime).Round(time.Second).String()
		}
		switch {
		case r.Copy:
			r.Status = status.TaskCopy
		case len(r.Comments) > 0:
			r.Status = status.TaskStatus(r.Comments[len(r.Comments)-1].Type)
		case t.EndTime == nil:
			r.Status = status.TaskWaiting
		}
		r.StatusLabel = r.Status.Label()
		records = append(records, r)
	}
	return records, nil
}
