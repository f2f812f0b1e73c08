package engine

import (
	"context"
	"fmt"

	"github.com/mautops/workflow-gin/internal/flowerr"
	"github.com/mautops/workflow-gin/internal/model"
)

// CopyTaskNamePrefix 抄送任务名称前缀
const CopyTaskNamePrefix = "【抄送】-"

// QueryTasks 查询运行时任务,按创建时间升序
func (e *GormEngine) QueryTasks(ctx context.Context, q TaskQuery) ([]*Task, error) {
	db := e.db(ctx).Model(&model.TaskModel{})
	if q.TaskID != "" {
		db = db.Where("id = ?", q.TaskID)
	}
	if len(q.TaskIDs) > 0 {
		db = db.Where("id IN ?", q.TaskIDs)
	}
	if q.ProcessInstanceID != "" {
		db = db.Where("process_instance_id = ?", q.ProcessInstanceID)
	}
	if q.BusinessKey != "" {
		sub := e.db(ctx).Model(&model.ProcessInstanceModel{}).Select("id").
			Where("business_key = ? AND end_time IS NULL", q.BusinessKey)
		db = db.Where("process_instance_id IN (?)", sub)
	}
	if q.NodeID != "" {
		db = db.Where("node_id = ?", q.NodeID)
	}
	if len(q.ExecutionIDs) > 0 {
		db = db.Where("execution_id IN ?", q.ExecutionIDs)
	}
	if q.TenantID != "" {
		db = db.Where("tenant_id = ?", q.TenantID)
	}
	switch {
	case q.OnlySubTasks:
		db = db.Where("parent_task_id <> ''")
	case !q.IncludeSubTasks:
		db = db.Where("parent_task_id = ''")
	}
	if q.Involved != nil {
		db = db.Where(
			"(assignee = ? OR (assignee = '' AND EXISTS (SELECT 1 FROM wf_identity_links l WHERE l.task_id = wf_tasks.id AND l.type = ? AND (l.user_id = ? OR l.group_id IN ?))))",
			q.Involved.UserID, model.IdentityLinkCandidate, q.Involved.UserID, q.Involved.Groups,
		)
	}

	var rows []model.TaskModel
	if err := db.Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	// 任务的挂起状态继承自流程实例
	instanceIDs := make([]string, 0, len(rows))
	for _, r := range rows {
		instanceIDs = append(instanceIDs, r.ProcessInstanceID)
	}
	var suspendedIDs []string
	if err := e.db(ctx).Model(&model.ProcessInstanceModel{}).
		Where("id IN ? AND suspended = ?", instanceIDs, true).
		Pluck("id", &suspendedIDs).Error; err != nil {
		return nil, fmt.Errorf("failed to query instance suspension: %w", err)
	}
	suspended := make(map[string]bool, len(suspendedIDs))
	for _, id := range suspendedIDs {
		suspended[id] = true
	}

	tasks := make([]*Task, 0, len(rows))
	for i := range rows {
		t := toTask(&rows[i])
		t.Suspended = suspended[t.ProcessInstanceID]
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// QueryHistoricTasks 查询历史任务
func (e *GormEngine) QueryHistoricTasks(ctx context.Context, q HistoricTaskQuery) ([]*HistoricTask, error) {
	db := e.db(ctx).Model(&model.HistoricTaskModel{})
	if len(q.TaskIDs) > 0 {
		db = db.Where("id IN ?", q.TaskIDs)
	}
	if q.ProcessInstanceID != "" {
		db = db.Where("process_instance_id = ?", q.ProcessInstanceID)
	}
	if q.NodeID != "" {
		db = db.Where("node_id = ?", q.NodeID)
	}
	if q.Assignee != "" {
		db = db.Where("assignee = ?", q.Assignee)
	}
	if len(q.ExecutionIDs) > 0 {
		db = db.Where("execution_id IN ?", q.ExecutionIDs)
	}
	if q.Finished != nil {
		if *q.Finished {
			db = db.Where("end_time IS NOT NULL")
		} else {
			db = db.Where("end_time IS NULL")
		}
	}
	// 抄送记录也挂在父任务下,单独控制
	switch {
	case q.IncludeSubTasks && !q.IncludeCopies:
		db = db.Where("scope_type <> ?", model.ScopeTypeCopy)
	case !q.IncludeSubTasks && q.IncludeCopies:
		db = db.Where("(parent_task_id = '' OR scope_type = ?)", model.ScopeTypeCopy)
	case !q.IncludeSubTasks && !q.IncludeCopies:
		db = db.Where("parent_task_id = ''")
	}
	if q.OrderByEndDesc {
		db = db.Order("end_time DESC").Order("start_time DESC")
	} else {
		db = db.Order("start_time ASC")
	}

	var rows []model.HistoricTaskModel
	if err := db.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query historic tasks: %w", err)
	}
	result := make([]*HistoricTask, 0, len(rows))
	for i := range rows {
		result = append(result, toHistoricTask(&rows[i]))
	}
	return result, nil
}

func (e *GormEngine) loadTask(ctx context.Context, taskID string) (*model.TaskModel, error) {
	var m model.TaskModel
	if err := e.db(ctx).Where("id = ?", taskID).First(&m).Error; err != nil {
		if isNotFound(err) {
			return nil, flowerr.NotFound(flowerr.MessageTaskNotFound)
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return &m, nil
}

// CompleteTask 完成任务并推进令牌,变量写入已存在的作用域,否则写入实例
func (e *GormEngine) CompleteTask(ctx context.Context, taskID string, variables map[string]interface{}) error {
	task, err := e.loadTask(ctx, taskID)
	if err != nil {
		return err
	}

	// 审计子任务没有令牌,直接归档
	if task.ParentTaskID != "" {
		return e.removeTasks(ctx, []model.TaskModel{*task}, "")
	}

	if task.DelegationState == model.DelegationPending {
		return flowerr.InvalidArgument("task %s is delegated and must be resolved first", taskID)
	}

	rt, err := e.newRuntime(ctx, task.ProcessInstanceID)
	if err != nil {
		return err
	}
	if rt.inst.Suspended {
		return flowerr.Suspended()
	}

	for name, value := range variables {
		if err := e.SetVariable(ctx, task.ExecutionID, name, value); err != nil {
			return err
		}
	}

	if err := e.removeTasks(ctx, []model.TaskModel{*task}, ""); err != nil {
		return err
	}

	exec, err := e.loadExecution(ctx, task.ExecutionID)
	if err != nil {
		return err
	}
	return rt.signal(ctx, exec)
}

// SetAssignee 设置办理人,同步历史记录
func (e *GormEngine) SetAssignee(ctx context.Context, taskID, userID string) error {
	res := e.db(ctx).Model(&model.TaskModel{}).Where("id = ?", taskID).Update("assignee", userID)
	if res.Error != nil {
		return fmt.Errorf("failed to set assignee: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return flowerr.NotFound(flowerr.MessageTaskNotFound)
	}
	return e.UpdateHistoricTaskAssignee(ctx, taskID, userID)
}

// Delegate 委派任务,原办理人成为 owner
func (e *GormEngine) Delegate(ctx context.Context, taskID, userID string) error {
	task, err := e.loadTask(ctx, taskID)
	if err != nil {
		return err
	}
	owner := task.Owner
	if owner == "" {
		owner = task.Assignee
	}
	updates := map[string]interface{}{
		"owner":            owner,
		"assignee":         userID,
		"delegation_state": model.DelegationPending,
	}
	if err := e.db(ctx).Model(&model.TaskModel{}).Where("id = ?", taskID).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to delegate task: %w", err)
	}
	if err := e.db(ctx).Model(&model.HistoricTaskModel{}).Where("id = ?", taskID).
		Updates(map[string]interface{}{"owner": owner, "assignee": userID}).Error; err != nil {
		return fmt.Errorf("failed to update historic task: %w", err)
	}
	return nil
}

// ResolveTask 委派人办理完成,任务交还 owner
func (e *GormEngine) ResolveTask(ctx context.Context, taskID string) error {
	task, err := e.loadTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.DelegationState != model.DelegationPending {
		return flowerr.InvalidArgument("task %s is not delegated", taskID)
	}
	if err := e.db(ctx).Model(&model.TaskModel{}).Where("id = ?", taskID).
		Updates(map[string]interface{}{"assignee": task.Owner, "delegation_state": model.DelegationResolved}).Error; err != nil {
		return fmt.Errorf("failed to resolve task: %w", err)
	}
	return e.UpdateHistoricTaskAssignee(ctx, taskID, task.Owner)
}

// NewSubTask 基于父任务创建审计子任务
func (e *GormEngine) NewSubTask(ctx context.Context, parent *Task, assignee string) (*Task, error) {
	now := e.now()
	m := &model.TaskModel{
		ID:                newID(),
		ProcessInstanceID: parent.ProcessInstanceID,
		DefinitionID:      parent.DefinitionID,
		NodeID:            parent.NodeID,
		Name:              parent.Name,
		Assignee:          assignee,
		ParentTaskID:      parent.ID,
		TenantID:          parent.TenantID,
		CreatedAt:         now,
	}
	if err := e.insertTask(ctx, m); err != nil {
		return nil, err
	}
	return toTask(m), nil
}

// CreateCopyTasks 为每个待办任务和每个抄送人创建已完成的抄送记录
func (e *GormEngine) CreateCopyTasks(ctx context.Context, tasks []*Task, userIDs []string) error {
	now := e.now()
	var rows []model.HistoricTaskModel
	for _, t := range tasks {
		for _, uid := range userIDs {
			end := now
			rows = append(rows, model.HistoricTaskModel{
				ID:                newID(),
				ProcessInstanceID: t.ProcessInstanceID,
				DefinitionID:      t.DefinitionID,
				NodeID:            t.NodeID,
				Name:              CopyTaskNamePrefix + t.Name,
				Assignee:          uid,
				ParentTaskID:      t.ID,
				ScopeType:         model.ScopeTypeCopy,
				TenantID:          t.TenantID,
				StartTime:         now,
				EndTime:           &end,
			})
		}
	}
	if len(rows) == 0 {
		return nil
	}
	if err := e.db(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("failed to create copy tasks: %w", err)
	}
	return nil
}

// DeleteTasks 删除运行时任务,历史记录标记删除原因
func (e *GormEngine) DeleteTasks(ctx context.Context, taskIDs []string, reason string) error {
	if len(taskIDs) == 0 {
		return nil
	}
	var tasks []model.TaskModel
	if err := e.db(ctx).Where("id IN ?", taskIDs).Find(&tasks).Error; err != nil {
		return fmt.Errorf("failed to query tasks: %w", err)
	}
	return e.removeTasks(ctx, tasks, reason)
}

// DeleteHistoricTasks 删除历史任务记录
func (e *GormEngine) DeleteHistoricTasks(ctx context.Context, taskIDs []string) error {
	if len(taskIDs) == 0 {
		return nil
	}
	if err := e.db(ctx).Where("id IN ?", taskIDs).Delete(&model.HistoricTaskModel{}).Error; err != nil {
		return fmt.Errorf("failed to delete historic tasks: %w", err)
	}
	return nil
}

// UpdateHistoricTaskAssignee 修改历史任务办理人
func (e *GormEngine) UpdateHistoricTaskAssignee(ctx context.Context, taskID, userID string) error {
	if err := e.db(ctx).Model(&model.HistoricTaskModel{}).Where("id = ?", taskID).
		Update("assignee", userID).Error; err != nil {
		return fmt.Errorf("failed to update historic task assignee: %w", err)
	}
	return nil
}

// IdentityLinks 查询任务候选人
func (e *GormEngine) IdentityLinks(ctx context.Context, taskID string) ([]IdentityLink, error) {
	var rows []model.IdentityLinkModel
	if err := e.db(ctx).Where("task_id = ?", taskID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query identity links: %w", err)
	}
	links := make([]IdentityLink, 0, len(rows))
	for _, r := range rows {
		links = append(links, IdentityLink{TaskID: r.TaskID, Type: r.Type, UserID: r.UserID, GroupID: r.GroupID})
	}
	return links, nil
}

// insertTask 同时写入运行时任务和历史任务
func (e *GormEngine) insertTask(ctx context.Context, m *model.TaskModel) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}
	db := e.db(ctx)
	if err := db.Create(m).Error; err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	hist := &model.HistoricTaskModel{
		ID:                m.ID,
		ProcessInstanceID: m.ProcessInstanceID,
		ExecutionID:       m.ExecutionID,
		DefinitionID:      m.DefinitionID,
		NodeID:            m.NodeID,
		Name:              m.Name,
		Assignee:          m.Assignee,
		Owner:             m.Owner,
		ParentTaskID:      m.ParentTaskID,
		ScopeType:         m.ScopeType,
		TenantID:          m.TenantID,
		StartTime:         m.CreatedAt,
	}
	if err := db.Create(hist).Error; err != nil {
		return fmt.Errorf("failed to create historic task: %w", err)
	}
	return nil
}

// removeTasks 删除运行时任务并结束对应历史记录
func (e *GormEngine) removeTasks(ctx context.Context, tasks []model.TaskModel, reason string) error {
	if len(tasks) == 0 {
		return nil
	}
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
	}
	db := e.db(ctx)
	if err := db.Where("id IN ?", ids).Delete(&model.TaskModel{}).Error; err != nil {
		return fmt.Errorf("failed to delete tasks: %w", err)
	}
	if err := db.Model(&model.HistoricTaskModel{}).Where("id IN ? AND end_time IS NULL", ids).
		Updates(map[string]interface{}{"end_time": e.now(), "delete_reason": reason}).Error; err != nil {
		return fmt.Errorf("failed to finish historic tasks: %w", err)
	}
	return nil
}

func toTask(m *model.TaskModel) *Task {
	return &Task{
		ID:                m.ID,
		ProcessInstanceID: m.ProcessInstanceID,
		ExecutionID:       m.ExecutionID,
		DefinitionID:      m.DefinitionID,
		NodeID:            m.NodeID,
		Name:              m.Name,
		Assignee:          m.Assignee,
		Owner:             m.Owner,
		ParentTaskID:      m.ParentTaskID,
		DelegationState:   m.DelegationState,
		ScopeType:         m.ScopeType,
		TenantID:          m.TenantID,
		CreatedAt:         m.CreatedAt,
	}
}

func toHistoricTask(m *model.HistoricTaskModel) *HistoricTask {
	return &HistoricTask{
		ID:                m.ID,
		ProcessInstanceID: m.ProcessInstanceID,
		ExecutionID:       m.ExecutionID,
		DefinitionID:      m.DefinitionID,
		NodeID:            m.NodeID,
		Name:              m.Name,
		Assignee:          m.Assignee,
		Owner:             m.Owner,
		ParentTaskID:      m.ParentTaskID,
		ScopeType:         m.ScopeType,
		TenantID:          m.TenantID,
		StartTime:         m.StartTime,
		EndTime:           m.EndTime,
		DeleteReason:      m.DeleteReason,
	}
}
