package engine

import (
	"context"
	"fmt"

	"github.com/mautops/workflow-gin/internal/flowerr"
	"github.com/mautops/workflow-gin/internal/model"
)

func (e *GormEngine) createExecution(ctx context.Context, instanceID, parentID, nodeID, kind string, active bool) (*model.ExecutionModel, error) {
	m := &model.ExecutionModel{
		ID:                newID(),
		ProcessInstanceID: instanceID,
		ParentID:          parentID,
		NodeID:            nodeID,
		Kind:              kind,
		Active:            active,
		CreatedAt:         e.now(),
	}
	if err := e.db(ctx).Create(m).Error; err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}
	return m, nil
}

func (e *GormEngine) saveExecution(ctx context.Context, m *model.ExecutionModel) error {
	if err := e.db(ctx).Model(&model.ExecutionModel{}).Where("id = ?", m.ID).
		Updates(map[string]interface{}{"node_id": m.NodeID, "source_node_id": m.SourceNodeID, "kind": m.Kind, "active": m.Active}).Error; err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}
	return nil
}

func (e *GormEngine) loadExecution(ctx context.Context, executionID string) (*model.ExecutionModel, error) {
	var m model.ExecutionModel
	if err := e.db(ctx).Where("id = ?", executionID).First(&m).Error; err != nil {
		if isNotFound(err) {
			return nil, flowerr.NotFound("execution %s does not exist", executionID)
		}
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	return &m, nil
}

// deleteExecutions 删除执行及其局部变量
func (e *GormEngine) deleteExecutions(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	db := e.db(ctx)
	if err := db.Where("execution_id IN ?", ids).Delete(&model.VariableModel{}).Error; err != nil {
		return fmt.Errorf("failed to delete execution variables: %w", err)
	}
	if err := db.Where("id IN ?", ids).Delete(&model.ExecutionModel{}).Error; err != nil {
		return fmt.Errorf("failed to delete executions: %w", err)
	}
	return nil
}

// removeExecutionTasks 结束挂在指定执行上的运行时任务
func (e *GormEngine) removeExecutionTasks(ctx context.Context, executionIDs []string, reason string) error {
	if len(executionIDs) == 0 {
		return nil
	}
	var tasks []model.TaskModel
	if err := e.db(ctx).Where("execution_id IN ?", executionIDs).Find(&tasks).Error; err != nil {
		return fmt.Errorf("failed to query execution tasks: %w", err)
	}
	return e.removeTasks(ctx, tasks, reason)
}

// descendants 收集执行的全部后代
func (e *GormEngine) descendants(ctx context.Context, parentIDs []string) ([]model.ExecutionModel, error) {
	var result []model.ExecutionModel
	frontier := parentIDs
	for len(frontier) > 0 {
		var children []model.ExecutionModel
		if err := e.db(ctx).Where("parent_id IN ?", frontier).Find(&children).Error; err != nil {
			return nil, fmt.Errorf("failed to query child executions: %w", err)
		}
		frontier = frontier[:0:0]
		for _, c := range children {
			result = append(result, c)
			frontier = append(frontier, c.ID)
		}
	}
	return result, nil
}

// GetExecution 获取执行
func (e *GormEngine) GetExecution(ctx context.Context, executionID string) (*Execution, error) {
	m, err := e.loadExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	return &Execution{
		ID:                m.ID,
		ProcessInstanceID: m.ProcessInstanceID,
		ParentID:          m.ParentID,
		NodeID:            m.NodeID,
		Kind:              m.Kind,
		Active:            m.Active,
	}, nil
}

// MoveToken 删除来源节点上的任务与令牌,在目标节点创建一个新令牌
func (e *GormEngine) MoveToken(ctx context.Context, instanceID string, fromNodeIDs []string, toNodeID string) error {
	rt, err := e.newRuntime(ctx, instanceID)
	if err != nil {
		return err
	}
	if !rt.inst.Running() {
		return flowerr.NotFound("process instance %s is not running", instanceID)
	}
	target, ok := rt.def.Node(toNodeID)
	if !ok || target.Type != NodeUserTask {
		return flowerr.InvalidArgument("target node %s is not a user task", toNodeID)
	}
	if len(fromNodeIDs) == 0 {
		return flowerr.InvalidArgument("source nodes are required")
	}

	db := e.db(ctx)
	var tasks []model.TaskModel
	if err := db.Where("process_instance_id = ? AND node_id IN ?", instanceID, fromNodeIDs).Find(&tasks).Error; err != nil {
		return fmt.Errorf("failed to query source tasks: %w", err)
	}
	if err := e.removeTasks(ctx, tasks, DeleteReasonChangeActivity+toNodeID); err != nil {
		return err
	}

	var execs []model.ExecutionModel
	if err := db.Where("process_instance_id = ? AND node_id IN ? AND kind <> ?", instanceID, fromNodeIDs, model.ExecutionKindRoot).
		Find(&execs).Error; err != nil {
		return fmt.Errorf("failed to query source executions: %w", err)
	}
	ids := make([]string, 0, len(execs))
	for _, x := range execs {
		ids = append(ids, x.ID)
	}
	children, err := e.descendants(ctx, ids)
	if err != nil {
		return err
	}
	for _, c := range children {
		ids = append(ids, c.ID)
	}
	if err := e.removeExecutionTasks(ctx, ids, DeleteReasonChangeActivity+toNodeID); err != nil {
		return err
	}
	if err := e.deleteExecutions(ctx, ids); err != nil {
		return err
	}

	token, err := e.createExecution(ctx, instanceID, instanceID, toNodeID, model.ExecutionKindToken, true)
	if err != nil {
		return err
	}
	return rt.enter(ctx, token)
}

// AddParallelExecution 为运行中的并行会签增加一个子执行和任务
func (e *GormEngine) AddParallelExecution(ctx context.Context, instanceID, nodeID string, variables map[string]interface{}) (*Task, error) {
	rt, err := e.newRuntime(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	node, err := rt.node(nodeID)
	if err != nil {
		return nil, err
	}
	if node.MultiInstance == nil || node.MultiInstance.Sequential {
		return nil, flowerr.NotMultiInstance()
	}

	var root model.ExecutionModel
	if err := e.db(ctx).Where("process_instance_id = ? AND node_id = ? AND kind = ?", instanceID, nodeID, model.ExecutionKindMultiRoot).
		First(&root).Error; err != nil {
		if isNotFound(err) {
			return nil, flowerr.NotFound("node %s has no active multi-instance", nodeID)
		}
		return nil, fmt.Errorf("failed to get multi-instance root: %w", err)
	}

	var nr, active int
	if _, err := e.GetVariable(ctx, root.ID, VarNrOfInstances, &nr); err != nil {
		return nil, err
	}
	if _, err := e.GetVariable(ctx, root.ID, VarNrOfActiveInstances, &active); err != nil {
		return nil, err
	}

	child, err := e.createExecution(ctx, instanceID, root.ID, nodeID, model.ExecutionKindMultiItem, true)
	if err != nil {
		return nil, err
	}
	local := map[string]interface{}{VarLoopCounter: nr}
	for k, v := range variables {
		local[k] = v
	}
	if err := e.setLocalVariables(ctx, instanceID, child.ID, local); err != nil {
		return nil, err
	}
	if err := e.setLocalVariables(ctx, instanceID, root.ID, map[string]interface{}{
		VarNrOfInstances:       nr + 1,
		VarNrOfActiveInstances: active + 1,
	}); err != nil {
		return nil, err
	}
	if err := rt.createTask(ctx, child, node); err != nil {
		return nil, err
	}

	tasks, err := e.QueryTasks(ctx, TaskQuery{ExecutionIDs: []string{child.ID}})
	if err != nil {
		return nil, err
	}
	if len(tasks) != 1 {
		return nil, fmt.Errorf("expected one task on new execution %s, got %d", child.ID, len(tasks))
	}
	return tasks[0], nil
}

// DeleteExecution 删除并行会签的一个子执行,剩余实例已全部完成时继续流转
func (e *GormEngine) DeleteExecution(ctx context.Context, executionID string) error {
	child, err := e.loadExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if child.Kind != model.ExecutionKindMultiItem {
		return flowerr.InvalidArgument("execution %s is not a multi-instance execution", executionID)
	}
	rt, err := e.newRuntime(ctx, child.ProcessInstanceID)
	if err != nil {
		return err
	}
	root, err := e.loadExecution(ctx, child.ParentID)
	if err != nil {
		return err
	}

	if err := e.removeExecutionTasks(ctx, []string{child.ID}, DeleteReasonExecutionRemoved); err != nil {
		return err
	}
	if err := e.deleteExecutions(ctx, []string{child.ID}); err != nil {
		return err
	}

	var nr, completed, active int
	if _, err := e.GetVariable(ctx, root.ID, VarNrOfInstances, &nr); err != nil {
		return err
	}
	if _, err := e.GetVariable(ctx, root.ID, VarNrOfCompletedInstances, &completed); err != nil {
		return err
	}
	if _, err := e.GetVariable(ctx, root.ID, VarNrOfActiveInstances, &active); err != nil {
		return err
	}
	nr--
	active--
	if err := e.setLocalVariables(ctx, rt.inst.ID, root.ID, map[string]interface{}{
		VarNrOfInstances:       nr,
		VarNrOfActiveInstances: active,
	}); err != nil {
		return err
	}
	if completed >= nr {
		return rt.leaveMultiInstance(ctx, root)
	}
	return nil
}

// InactiveSiblingExecutions 返回令牌跳转到目标节点后会失效的汇聚等待令牌
// 只有来源节点能从目标节点重新到达的等待令牌会被重复产生,其他分支的等待令牌保留
func (e *GormEngine) InactiveSiblingExecutions(ctx context.Context, executionID, targetNodeID string) ([]string, error) {
	exec, err := e.loadExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	rt, err := e.newRuntime(ctx, exec.ProcessInstanceID)
	if err != nil {
		return nil, err
	}

	var joins []model.ExecutionModel
	if err := e.db(ctx).Where("process_instance_id = ? AND kind = ?", exec.ProcessInstanceID, model.ExecutionKindJoin).
		Find(&joins).Error; err != nil {
		return nil, fmt.Errorf("failed to query joining executions: %w", err)
	}
	var ids []string
	for _, j := range joins {
		source := j.SourceNodeID
		if source == "" {
			source = j.NodeID
		}
		if rt.def.Reachable(targetNodeID, source) {
			ids = append(ids, j.ID)
		}
	}
	return ids, nil
}

// DeleteExecutions 删除指定执行及其任务,已不存在的执行忽略
func (e *GormEngine) DeleteExecutions(ctx context.Context, executionIDs []string) error {
	if len(executionIDs) == 0 {
		return nil
	}
	var existing []string
	if err := e.db(ctx).Model(&model.ExecutionModel{}).Where("id IN ? AND kind <> ?", executionIDs, model.ExecutionKindRoot).
		Pluck("id", &existing).Error; err != nil {
		return fmt.Errorf("failed to query executions: %w", err)
	}
	if err := e.removeExecutionTasks(ctx, existing, DeleteReasonExecutionRemoved); err != nil {
		return err
	}
	return e.deleteExecutions(ctx, existing)
}
