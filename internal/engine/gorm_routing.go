package engine

import (
	"context"
	"fmt"

	"github.com/mautops/workflow-gin/internal/model"
)

// runtime 单个实例的令牌推进上下文
type runtime struct {
	engine *GormEngine
	def    *Definition
	inst   *model.ProcessInstanceModel
}

func (e *GormEngine) newRuntime(ctx context.Context, instanceID string) (*runtime, error) {
	inst, err := e.loadInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	def, err := e.GetDefinition(ctx, inst.DefinitionID)
	if err != nil {
		return nil, err
	}
	return &runtime{engine: e, def: def, inst: inst}, nil
}

func (rt *runtime) node(id string) (*Node, error) {
	n, ok := rt.def.Node(id)
	if !ok {
		return nil, fmt.Errorf("node %s does not exist in definition %s", id, rt.def.ID)
	}
	return n, nil
}

// signal 任务完成后推进其令牌
func (rt *runtime) signal(ctx context.Context, exec *model.ExecutionModel) error {
	if exec.Kind == model.ExecutionKindMultiItem {
		return rt.completeMultiInstanceItem(ctx, exec)
	}
	return rt.leave(ctx, exec)
}

// leave 沿出线离开当前节点,多条出线时分叉
func (rt *runtime) leave(ctx context.Context, exec *model.ExecutionModel) error {
	flows := rt.def.Outgoing(exec.NodeID)
	if len(flows) == 0 {
		return fmt.Errorf("node %s has no outgoing flow", exec.NodeID)
	}

	// 先创建全部分支令牌,避免第一个分支到达结束事件时误判实例结束
	tokens := []*model.ExecutionModel{exec}
	for i := 1; i < len(flows); i++ {
		t, err := rt.engine.createExecution(ctx, rt.inst.ID, exec.ParentID, exec.NodeID, model.ExecutionKindToken, true)
		if err != nil {
			return err
		}
		tokens = append(tokens, t)
	}
	for i, f := range flows {
		if err := rt.moveTo(ctx, tokens[i], f.Target); err != nil {
			return err
		}
	}
	return nil
}

func (rt *runtime) moveTo(ctx context.Context, exec *model.ExecutionModel, nodeID string) error {
	exec.SourceNodeID = exec.NodeID
	exec.NodeID = nodeID
	exec.Kind = model.ExecutionKindToken
	exec.Active = true
	if err := rt.engine.saveExecution(ctx, exec); err != nil {
		return err
	}
	return rt.enter(ctx, exec)
}

// enter 令牌进入节点
func (rt *runtime) enter(ctx context.Context, exec *model.ExecutionModel) error {
	node, err := rt.node(exec.NodeID)
	if err != nil {
		return err
	}

	switch node.Type {
	case NodeEndEvent:
		if err := rt.engine.deleteExecutions(ctx, []string{exec.ID}); err != nil {
			return err
		}
		return rt.checkEnd(ctx)
	case NodeParallelGateway:
		return rt.enterGateway(ctx, exec, node)
	case NodeUserTask:
		if node.MultiInstance != nil {
			return rt.startMultiInstance(ctx, exec, node)
		}
		return rt.createTask(ctx, exec, node)
	default:
		return rt.leave(ctx, exec)
	}
}

// enterGateway 并行网关:单入线直接分叉,多入线等待全部到达后汇聚
func (rt *runtime) enterGateway(ctx context.Context, exec *model.ExecutionModel, node *Node) error {
	incoming := len(rt.def.Incoming(node.ID))
	if incoming <= 1 {
		return rt.leave(ctx, exec)
	}

	exec.Kind = model.ExecutionKindJoin
	exec.Active = false
	if err := rt.engine.saveExecution(ctx, exec); err != nil {
		return err
	}

	var waiting []model.ExecutionModel
	if err := rt.engine.db(ctx).
		Where("process_instance_id = ? AND node_id = ? AND kind = ?", rt.inst.ID, node.ID, model.ExecutionKindJoin).
		Find(&waiting).Error; err != nil {
		return fmt.Errorf("failed to query joining executions: %w", err)
	}
	if len(waiting) < incoming {
		return nil
	}

	var others []string
	for _, w := range waiting {
		if w.ID != exec.ID {
			others = append(others, w.ID)
		}
	}
	if err := rt.engine.deleteExecutions(ctx, others); err != nil {
		return err
	}
	return rt.leave(ctx, exec)
}

// checkEnd 没有任何令牌时结束实例
func (rt *runtime) checkEnd(ctx context.Context) error {
	var count int64
	if err := rt.engine.db(ctx).Model(&model.ExecutionModel{}).
		Where("process_instance_id = ? AND kind <> ?", rt.inst.ID, model.ExecutionKindRoot).
		Count(&count).Error; err != nil {
		return fmt.Errorf("failed to count executions: %w", err)
	}
	if count > 0 {
		return nil
	}
	return rt.engine.endInstance(ctx, rt.inst, "")
}

// createTask 在令牌上创建用户任务
func (rt *runtime) createTask(ctx context.Context, exec *model.ExecutionModel, node *Node) error {
	e := rt.engine
	assignee := ""
	if node.Assignee != "" {
		users, err := e.resolveExpression(ctx, exec.ID, node.Assignee)
		if err != nil {
			return err
		}
		if len(users) > 0 {
			assignee = users[0]
		}
	}

	task := &model.TaskModel{
		ID:                newID(),
		ProcessInstanceID: rt.inst.ID,
		ExecutionID:       exec.ID,
		DefinitionID:      rt.def.ID,
		NodeID:            node.ID,
		Name:              node.Name,
		Assignee:          assignee,
		TenantID:          rt.inst.TenantID,
		CreatedAt:         e.now(),
	}
	if err := e.insertTask(ctx, task); err != nil {
		return err
	}

	var links []model.IdentityLinkModel
	for _, expr := range node.CandidateUsers {
		users, err := e.resolveExpression(ctx, exec.ID, expr)
		if err != nil {
			return err
		}
		for _, u := range users {
			links = append(links, model.IdentityLinkModel{ID: newID(), TaskID: task.ID, ProcessInstanceID: rt.inst.ID, Type: model.IdentityLinkCandidate, UserID: u, CreatedAt: task.CreatedAt})
		}
	}
	for _, expr := range node.CandidateGroups {
		groups, err := e.resolveExpression(ctx, exec.ID, expr)
		if err != nil {
			return err
		}
		for _, g := range groups {
			links = append(links, model.IdentityLinkModel{ID: newID(), TaskID: task.ID, ProcessInstanceID: rt.inst.ID, Type: model.IdentityLinkCandidate, GroupID: g, CreatedAt: task.CreatedAt})
		}
	}
	if len(links) > 0 {
		if err := e.db(ctx).Create(&links).Error; err != nil {
			return fmt.Errorf("failed to create identity links: %w", err)
		}
	}
	return nil
}

// startMultiInstance 令牌进入会签节点,自身成为会签根执行
func (rt *runtime) startMultiInstance(ctx context.Context, exec *model.ExecutionModel, node *Node) error {
	e := rt.engine
	mi := node.MultiInstance

	var raw interface{}
	if _, err := e.GetVariable(ctx, exec.ID, mi.Collection, &raw); err != nil {
		return err
	}
	users := toStringList(raw)
	if len(users) == 0 {
		return rt.leave(ctx, exec)
	}

	exec.Kind = model.ExecutionKindMultiRoot
	exec.Active = false
	if err := e.saveExecution(ctx, exec); err != nil {
		return err
	}

	active := len(users)
	if mi.Sequential {
		active = 1
	}
	rootVars := map[string]interface{}{
		VarNrOfInstances:          len(users),
		VarNrOfCompletedInstances: 0,
		VarNrOfActiveInstances:    active,
	}
	if mi.Sequential {
		// 串行会签在根执行上保存审批人列表副本,加减签只修改本节点
		rootVars[mi.Collection] = users
	}
	if err := e.setLocalVariables(ctx, rt.inst.ID, exec.ID, rootVars); err != nil {
		return err
	}

	items := users
	if mi.Sequential {
		items = users[:1]
	}
	for i, u := range items {
		child, err := e.createExecution(ctx, rt.inst.ID, exec.ID, node.ID, model.ExecutionKindMultiItem, true)
		if err != nil {
			return err
		}
		if err := e.setLocalVariables(ctx, rt.inst.ID, child.ID, map[string]interface{}{
			VarLoopCounter:     i,
			mi.ElementVariable: u,
		}); err != nil {
			return err
		}
		if err := rt.createTask(ctx, child, node); err != nil {
			return err
		}
	}
	return nil
}

// completeMultiInstanceItem 会签子执行上的任务完成
func (rt *runtime) completeMultiInstanceItem(ctx context.Context, child *model.ExecutionModel) error {
	e := rt.engine
	node, err := rt.node(child.NodeID)
	if err != nil {
		return err
	}
	root, err := e.loadExecution(ctx, child.ParentID)
	if err != nil {
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
	completed++

	if node.MultiInstance.Sequential {
		if err := e.setLocalVariables(ctx, rt.inst.ID, root.ID, map[string]interface{}{VarNrOfCompletedInstances: completed}); err != nil {
			return err
		}
		var loop int
		if _, err := e.GetVariable(ctx, child.ID, VarLoopCounter, &loop); err != nil {
			return err
		}
		var list []string
		if _, err := e.GetVariable(ctx, child.ID, node.MultiInstance.Collection, &list); err != nil {
			return err
		}
		next := loop + 1
		if next >= nr || next >= len(list) {
			return rt.leaveMultiInstance(ctx, root)
		}
		elem := node.MultiInstance.ElementVariable
		if err := e.setLocalVariables(ctx, rt.inst.ID, child.ID, map[string]interface{}{
			VarLoopCounter: next,
			elem:           list[next],
		}); err != nil {
			return err
		}
		return rt.createTask(ctx, child, node)
	}

	if err := e.setLocalVariables(ctx, rt.inst.ID, root.ID, map[string]interface{}{
		VarNrOfCompletedInstances: completed,
		VarNrOfActiveInstances:    active - 1,
	}); err != nil {
		return err
	}
	if err := e.deleteExecutions(ctx, []string{child.ID}); err != nil {
		return err
	}
	if completed >= nr {
		return rt.leaveMultiInstance(ctx, root)
	}
	return nil
}

// leaveMultiInstance 会签结束,清理子执行后根执行继续流转
func (rt *runtime) leaveMultiInstance(ctx context.Context, root *model.ExecutionModel) error {
	e := rt.engine
	var children []model.ExecutionModel
	if err := e.db(ctx).Where("parent_id = ?", root.ID).Find(&children).Error; err != nil {
		return fmt.Errorf("failed to query multi-instance children: %w", err)
	}
	ids := make([]string, 0, len(children))
	for _, c := range children {
		ids = append(ids, c.ID)
	}
	if err := e.removeExecutionTasks(ctx, ids, DeleteReasonMultiInstanceEnd); err != nil {
		return err
	}
	if err := e.deleteExecutions(ctx, ids); err != nil {
		return err
	}
	if err := e.db(ctx).Where("execution_id = ?", root.ID).Delete(&model.VariableModel{}).Error; err != nil {
		return fmt.Errorf("failed to delete multi-instance variables: %w", err)
	}

	root.Kind = model.ExecutionKindToken
	root.Active = true
	if err := e.saveExecution(ctx, root); err != nil {
		return err
	}
	return rt.leave(ctx, root)
}
