package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/mautops/workflow-gin/internal/engine"
	"github.com/mautops/workflow-gin/internal/flowerr"
	"github.com/mautops/workflow-gin/internal/model"
	"github.com/mautops/workflow-gin/internal/service"
	"github.com/mautops/workflow-gin/internal/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const leaveTable = "leave_request"

// submitted 发起请假单并由 alice 提交,返回实例 ID
func submitted(t *testing.T, f *fixture, businessKey string) string {
	res := f.start(t, "alice", businessKey, leaveTable, map[string]interface{}{"manager": "bob"})
	f.complete(t, "alice", res.TaskID, "submit", nil)
	return res.ProcessInstanceID
}

// TestTaskActionService_StartWorkflow 发起后只有一个分配给申请人的草稿待办
func TestTaskActionService_StartWorkflow(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, leaveDefinition(), leaveTable)

	res := f.start(t, "alice", "LEAVE-1001", leaveTable, map[string]interface{}{"manager": "bob"})
	require.NotEmpty(t, res.ProcessInstanceID)

	task := f.onlyTask(t, res.ProcessInstanceID)
	assert.Equal(t, res.TaskID, task.ID)
	assert.Equal(t, "alice", task.Assignee)
	assert.Equal(t, "apply", task.NodeID)
	assert.Equal(t, status.Draft, f.status(t, res.ProcessInstanceID))

	vars, err := f.engine.InstanceVariables(context.Background(), res.ProcessInstanceID)
	require.NoError(t, err)
	assert.Equal(t, "LEAVE-1001", vars[engine.VarBusinessKey])
	assert.Equal(t, res.ProcessInstanceID, vars[engine.VarProcessInstanceID])

	logs, err := f.audit.ListByResource(context.Background(), service.ResourceInstance, res.ProcessInstanceID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "start", logs[0].Action)
	assert.Equal(t, "alice", logs[0].UserID)
}

// TestTaskActionService_StartWorkflow_Unbound 业务表未绑定流程
func TestTaskActionService_StartWorkflow_Unbound(t *testing.T) {
	f := newFixture(t)
	_, err := f.actions.StartWorkflow(as("alice"), service.StartRequest{BusinessKey: "B-1", TableName: "unknown"})
	assert.ErrorIs(t, err, flowerr.ErrMisconfigured)

	_, err = f.actions.StartWorkflow(context.Background(), service.StartRequest{BusinessKey: "B-1", TableName: "unknown"})
	assert.ErrorIs(t, err, flowerr.ErrInvalidArgument)

	_, err = f.actions.StartWorkflow(as("alice"), service.StartRequest{TableName: leaveTable})
	assert.ErrorIs(t, err, flowerr.ErrInvalidArgument)
}

// TestTaskActionService_StartWorkflow_Idempotent 草稿待办未办理时重复发起返回同一待办并合并变量
func TestTaskActionService_StartWorkflow_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, leaveDefinition(), leaveTable)

	first := f.start(t, "alice", "LEAVE-1", leaveTable, map[string]interface{}{"manager": "bob"})
	second := f.start(t, "alice", "LEAVE-1", leaveTable, map[string]interface{}{"days": 3})
	assert.Equal(t, first.ProcessInstanceID, second.ProcessInstanceID)
	assert.Equal(t, first.TaskID, second.TaskID)

	vars, err := f.engine.InstanceVariables(context.Background(), first.ProcessInstanceID)
	require.NoError(t, err)
	assert.Equal(t, "bob", vars["manager"])
	assert.EqualValues(t, 3, vars["days"])

	instances, err := f.engine.FindInstances(context.Background(), engine.InstanceQuery{BusinessKey: "LEAVE-1"})
	require.NoError(t, err)
	assert.Len(t, instances, 1)
}

// TestTaskActionService_StartWorkflow_RestartGating 审批中不能重新发起,完成后可以
func TestTaskActionService_StartWorkflow_RestartGating(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, leaveDefinition(), leaveTable)

	instanceID := submitted(t, f, "LEAVE-2")
	_, err := f.actions.StartWorkflow(as("alice"), service.StartRequest{BusinessKey: "LEAVE-2", TableName: leaveTable})
	assert.ErrorIs(t, err, flowerr.ErrIllegalStatus)

	f.complete(t, "bob", f.onlyTask(t, instanceID).ID, "", nil)
	require.Equal(t, status.Finish, f.status(t, instanceID))

	again := f.start(t, "alice", "LEAVE-2", leaveTable, map[string]interface{}{"manager": "bob"})
	assert.NotEqual(t, instanceID, again.ProcessInstanceID)
	assert.Equal(t, status.Draft, f.status(t, again.ProcessInstanceID))
}

// TestTaskActionService_CompleteTask 提交后进入待审核,首个节点记为序号 0
func TestTaskActionService_CompleteTask(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, leaveDefinition(), leaveTable)

	instanceID := submitted(t, f, "LEAVE-1001")
	assert.Equal(t, status.Waiting, f.status(t, instanceID))
	assert.Equal(t, map[string]int{"apply": 0}, f.historyOrders(t, instanceID))

	next := f.onlyTask(t, instanceID)
	assert.Equal(t, "audit", next.NodeID)
	assert.Equal(t, "bob", next.Assignee)

	// 新待办的办理人收到通知
	n := f.notifier.last()
	assert.Equal(t, service.NotifyTodo, n.Kind)
	require.Len(t, n.Targets, 1)
	assert.Equal(t, service.NotifyTarget{TaskID: next.ID, UserID: "bob"}, n.Targets[0])

	comments, err := f.engine.Comments(context.Background(), instanceID)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, string(status.TaskPass), comments[0].Type)
	assert.Equal(t, "submit", comments[0].Message)
	assert.Contains(t, f.hooks.events, "submit")
}

// TestTaskActionService_CompleteTask_Finish 最后一个节点使用默认意见并结束流程
func TestTaskActionService_CompleteTask_Finish(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, leaveDefinition(), leaveTable)
	instanceID := submitted(t, f, "LEAVE-1001")

	f.complete(t, "bob", f.onlyTask(t, instanceID).ID, "", nil)

	assert.Equal(t, status.Finish, f.status(t, instanceID))
	assert.Empty(t, f.openTasks(t, instanceID))
	assert.Contains(t, f.hooks.events, "finish")

	comments, err := f.engine.Comments(context.Background(), instanceID)
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, service.DefaultApproveComment, comments[1].Message)
	assert.Equal(t, map[string]int{"apply": 0, "audit": 1}, f.historyOrders(t, instanceID))
}

// TestTaskActionService_CompleteTask_NotAssignee 非办理人不能办理
func TestTaskActionService_CompleteTask_NotAssignee(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, leaveDefinition(), leaveTable)
	instanceID := submitted(t, f, "LEAVE-3")
	task := f.onlyTask(t, instanceID)

	err := f.actions.CompleteTask(as("mallory"), service.CompleteRequest{TaskID: task.ID})
	assert.ErrorIs(t, err, flowerr.ErrNotFound)
	assert.Equal(t, flowerr.MessageTaskNotFound, flowerr.MessageOf(err))

	// 管理员跳过办理人校验
	require.NoError(t, f.actions.CompleteTask(asAdmin(), service.CompleteRequest{TaskID: task.ID}))
	assert.Equal(t, status.Finish, f.status(t, instanceID))
}

// TestTaskActionService_CompleteTask_MissingApprover 下一节点没有办理人时整体回滚
func TestTaskActionService_CompleteTask_MissingApprover(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, leaveDefinition(), leaveTable)
	res := f.start(t, "alice", "LEAVE-4", leaveTable, nil)

	err := f.actions.CompleteTask(as("alice"), service.CompleteRequest{TaskID: res.TaskID})
	assert.ErrorIs(t, err, flowerr.ErrMisconfigured)

	assert.Equal(t, status.Draft, f.status(t, res.ProcessInstanceID))
	task := f.onlyTask(t, res.ProcessInstanceID)
	assert.Equal(t, res.TaskID, task.ID)
	assert.Empty(t, f.historyOrders(t, res.ProcessInstanceID))
}

// TestTaskActionService_CompleteTask_HookRollback 监听器失败时事务回滚
func TestTaskActionService_CompleteTask_HookRollback(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, leaveDefinition(), leaveTable)
	f.hooks.fail = map[string]error{"submit": errors.New("business table locked")}
	res := f.start(t, "alice", "LEAVE-5", leaveTable, map[string]interface{}{"manager": "bob"})

	err := f.actions.CompleteTask(as("alice"), service.CompleteRequest{TaskID: res.TaskID})
	require.Error(t, err)
	assert.Equal(t, flowerr.KindEngine, flowerr.KindOf(err))
	assert.Equal(t, status.Draft, f.status(t, res.ProcessInstanceID))
	assert.Equal(t, res.TaskID, f.onlyTask(t, res.ProcessInstanceID).ID)
}

// TestTaskActionService_CompleteTask_Concurrent 同一任务并发办理只有一次成功
func TestTaskActionService_CompleteTask_Concurrent(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, leaveDefinition(), leaveTable)
	instanceID := submitted(t, f, "LEAVE-6")
	task := f.onlyTask(t, instanceID)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.actions.CompleteTask(as("bob"), service.CompleteRequest{TaskID: task.ID})
		}(i)
	}
	wg.Wait()

	var ok, notFound int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, flowerr.ErrNotFound):
			notFound++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, notFound)
	assert.Equal(t, status.Finish, f.status(t, instanceID))
}

// TestTaskActionService_CompleteTask_Suspended 挂起的流程不能办理
func TestTaskActionService_CompleteTask_Suspended(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, leaveDefinition(), leaveTable)
	instanceID := submitted(t, f, "LEAVE-7")
	task := f.onlyTask(t, instanceID)

	require.NoError(t, f.definitions.Suspend(asAdmin(), "leave"))
	err := f.actions.CompleteTask(as("bob"), service.CompleteRequest{TaskID: task.ID})
	assert.ErrorIs(t, err, flowerr.ErrSuspended)

	require.NoError(t, f.definitions.Activate(asAdmin(), "leave"))
	require.NoError(t, f.actions.CompleteTask(as("bob"), service.CompleteRequest{TaskID: task.ID}))
}

// TestTaskActionService_CompleteTask_CarbonCopy 抄送给指定用户
func TestTaskActionService_CompleteTask_CarbonCopy(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, leaveDefinition(), leaveTable)
	instanceID := submitted(t, f, "LEAVE-8")
	task := f.onlyTask(t, instanceID)

	require.NoError(t, f.actions.CompleteTask(as("bob"), service.CompleteRequest{
		TaskID: task.ID,
		CCList: []service.Participant{{UserID: "frank", NickName: "Frank"}},
	}))

	copies, err := f.queries.CopyTasks(as("frank"), nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), copies.Total)
	assert.Equal(t, engine.CopyTaskNamePrefix+"audit", copies.Items[0].NodeName)
	assert.Equal(t, "LEAVE-8", copies.Items[0].BusinessKey)

	comments, err := f.engine.Comments(context.Background(), instanceID)
	require.NoError(t, err)
	var found bool
	for _, c := range comments {
		if c.Type == string(status.TaskCopy) {
			found = true
			assert.Equal(t, "bob【抄送】给Frank", c.Message)
		}
	}
	assert.True(t, found)
}

// TestTaskActionService_DelegateTask 委派后被委派人办理,任务回到原办理人
func TestTaskActionService_DelegateTask(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, leaveDefinition(), leaveTable)
	instanceID := submitted(t, f, "LEAVE-9")
	task := f.onlyTask(t, instanceID)

	require.NoError(t, f.actions.DelegateTask(as("bob"), service.DelegateRequest{TaskID: task.ID, UserID: "dave", NickName: "Dave"}))
	delegated := f.onlyTask(t, instanceID)
	assert.Equal(t, "dave", delegated.Assignee)
	assert.Equal(t, model.DelegationPending, delegated.DelegationState)
	assert.Equal(t, "dave", f.notifier.last().Targets[0].UserID)

	// 原办理人在委派期间不能办理
	err := f.actions.CompleteTask(as("bob"), service.CompleteRequest{TaskID: task.ID})
	assert.ErrorIs(t, err, flowerr.ErrNotFound)

	require.NoError(t, f.actions.CompleteTask(as("dave"), service.CompleteRequest{TaskID: task.ID, Comment: "ok"}))
	resolved := f.onlyTask(t, instanceID)
	assert.Equal(t, task.ID, resolved.ID)
	assert.Equal(t, "bob", resolved.Assignee)
	assert.Equal(t, status.Waiting, f.status(t, instanceID))

	f.complete(t, "bob", task.ID, "", nil)
	assert.Equal(t, status.Finish, f.status(t, instanceID))
}

// TestTaskActionService_TransferTask 转办直接更换办理人
func TestTaskActionService_TransferTask(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, leaveDefinition(), leaveTable)
	instanceID := submitted(t, f, "LEAVE-10")
	task := f.onlyTask(t, instanceID)

	err := f.actions.TransferTask(as("bob"), service.TransferRequest{TaskID: task.ID, UserID: "bob"})
	assert.ErrorIs(t, err, flowerr.ErrInvalidArgument)

	require.NoError(t, f.actions.TransferTask(as("bob"), service.TransferRequest{TaskID: task.ID, UserID: "erin"}))
	assert.Equal(t, "erin", f.onlyTask(t, instanceID).Assignee)
	assert.Equal(t, "erin", f.notifier.last().Targets[0].UserID)

	records, err := f.instances.HistoryRecords(as("alice"), "LEAVE-10")
	require.NoError(t, err)
	var transfer *service.HistoryRecord
	for _, r := range records {
		if r.Status == status.TaskTransfer {
			transfer = r
		}
	}
	require.NotNil(t, transfer)
	assert.Equal(t, "【bob】转办给【erin】", transfer.Comments[0].Message)
	assert.Equal(t, task.ID, transfer.ParentTaskID)
}

// TestTaskActionService_TerminateTask 终止两次,第二次返回状态不合法
func TestTaskActionService_TerminateTask(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, leaveDefinition(), leaveTable)
	instanceID := submitted(t, f, "LEAVE-11")
	task := f.onlyTask(t, instanceID)

	require.NoError(t, f.actions.TerminateTask(as("bob"), service.TerminateRequest{TaskID: task.ID, Comment: "budget"}))
	assert.Equal(t, status.Termination, f.status(t, instanceID))
	assert.Empty(t, f.openTasks(t, instanceID))
	assert.Contains(t, f.hooks.events, "terminate")

	inst, err := f.engine.GetInstance(context.Background(), instanceID)
	require.NoError(t, err)
	assert.False(t, inst.Running())
	assert.Equal(t, "bob终止了申请：budget", inst.DeleteReason)

	err = f.actions.TerminateTask(as("bob"), service.TerminateRequest{TaskID: task.ID})
	assert.ErrorIs(t, err, flowerr.ErrIllegalStatus)

	// 其他人看不到历史任务,仍然是 NOT_FOUND
	err = f.actions.TerminateTask(as("mallory"), service.TerminateRequest{TaskID: task.ID})
	assert.ErrorIs(t, err, flowerr.ErrNotFound)
}

// TestTaskActionService_Reject_ToFrontier 驳回到申请人节点,状态变为退回
func TestTaskActionService_Reject_ToFrontier(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, leaveDefinition(), leaveTable)
	instanceID := submitted(t, f, "LEAVE-1001")
	task := f.onlyTask(t, instanceID)

	require.NoError(t, f.actions.Reject(as("bob"), service.RejectRequest{TaskID: task.ID, TargetNodeID: "apply"}))

	assert.Equal(t, status.Back, f.status(t, instanceID))
	assert.Equal(t, map[string]int{"apply": 0}, f.historyOrders(t, instanceID))
	reopened := f.onlyTask(t, instanceID)
	assert.Equal(t, "apply", reopened.NodeID)
	assert.Equal(t, "alice", reopened.Assignee)
	assert.Contains(t, f.hooks.events, "reject")

	n := f.notifier.last()
	assert.Equal(t, service.NotifyReject, n.Kind)
	assert.Equal(t, "alice", n.Targets[0].UserID)

	// 重新提交回到待审核,申请节点序号不变
	f.complete(t, "alice", reopened.ID, "resubmit", nil)
	assert.Equal(t, status.Waiting, f.status(t, instanceID))
	assert.Equal(t, map[string]int{"apply": 0}, f.historyOrders(t, instanceID))
	assert.Equal(t, "bob", f.onlyTask(t, instanceID).Assignee)
}

// TestTaskActionService_Reject_TrimsHistory 驳回到中间节点只裁剪之后的记录,状态不变
func TestTaskActionService_Reject_TrimsHistory(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, reviewDefinition(), "review_request")
	res := f.start(t, "alice", "REVIEW-1", "review_request", map[string]interface{}{"manager": "bob", "reviewer": "carol"})
	f.complete(t, "alice", res.TaskID, "", nil)
	f.complete(t, "bob", f.onlyTask(t, res.ProcessInstanceID).ID, "", nil)
	require.Equal(t, map[string]int{"apply": 0, "audit": 1}, f.historyOrders(t, res.ProcessInstanceID))

	review := f.onlyTask(t, res.ProcessInstanceID)
	require.Equal(t, "review", review.NodeID)

	// 未办理过的节点和当前节点都不能作为驳回目标
	err := f.actions.Reject(as("carol"), service.RejectRequest{TaskID: review.ID, TargetNodeID: "review"})
	assert.ErrorIs(t, err, flowerr.ErrNotFound)

	require.NoError(t, f.actions.Reject(as("carol"), service.RejectRequest{TaskID: review.ID, TargetNodeID: "audit"}))
	assert.Equal(t, status.Waiting, f.status(t, res.ProcessInstanceID))
	assert.Equal(t, map[string]int{"apply": 0, "audit": 1}, f.historyOrders(t, res.ProcessInstanceID))

	audit := f.onlyTask(t, res.ProcessInstanceID)
	assert.Equal(t, "audit", audit.NodeID)
	assert.Equal(t, "bob", audit.Assignee)

	require.NoError(t, f.actions.Reject(as("bob"), service.RejectRequest{TaskID: audit.ID, TargetNodeID: "apply"}))
	assert.Equal(t, status.Back, f.status(t, res.ProcessInstanceID))
	assert.Equal(t, map[string]int{"apply": 0}, f.historyOrders(t, res.ProcessInstanceID))
}

// TestTaskActionService_Reject_Finished 已终止的实例不能驳回
func TestTaskActionService_Reject_Finished(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, leaveDefinition(), leaveTable)
	instanceID := submitted(t, f, "LEAVE-12")
	task := f.onlyTask(t, instanceID)
	require.NoError(t, f.actions.TerminateTask(as("bob"), service.TerminateRequest{TaskID: task.ID}))

	err := f.actions.Reject(as("bob"), service.RejectRequest{TaskID: task.ID, TargetNodeID: "apply"})
	assert.ErrorIs(t, err, flowerr.ErrNotFound)
}

// TestTaskActionService_Reject_WithinBranch 在一个并行分支内驳回,另一分支已到达汇聚网关,实例仍能继续结束
func TestTaskActionService_Reject_WithinBranch(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, branchDefinition(), "branch_request")
	res := f.start(t, "alice", "BR-1", "branch_request", nil)
	f.complete(t, "alice", res.TaskID, "", nil)
	id := res.ProcessInstanceID

	f.complete(t, "u3", f.taskAt(t, id, "b").ID, "", nil)
	f.complete(t, "u1", f.taskAt(t, id, "a1").ID, "", nil)
	a2 := f.onlyTask(t, id)
	require.Equal(t, "a2", a2.NodeID)

	require.NoError(t, f.actions.Reject(as("u2"), service.RejectRequest{TaskID: a2.ID, TargetNodeID: "a1"}))
	assert.Equal(t, status.Waiting, f.status(t, id))
	assert.Equal(t, map[string]int{"apply": 0, "b": 1, "a1": 2}, f.historyOrders(t, id))

	a1 := f.onlyTask(t, id)
	assert.Equal(t, "a1", a1.NodeID)
	assert.Equal(t, "u1", a1.Assignee)
	f.complete(t, "u1", a1.ID, "", nil)
	f.complete(t, "u2", f.taskAt(t, id, "a2").ID, "", nil)

	assert.Empty(t, f.openTasks(t, id))
	assert.Equal(t, status.Finish, f.status(t, id))
	inst, err := f.engine.GetInstance(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, inst.Running())
}

// TestTaskActionService_Reject_KeepsOtherBranch 驳回只回收目标节点之后的分支,无关分支的待办不受影响
func TestTaskActionService_Reject_KeepsOtherBranch(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, branchDefinition(), "branch_request")
	res := f.start(t, "alice", "BR-2", "branch_request", nil)
	f.complete(t, "alice", res.TaskID, "", nil)
	id := res.ProcessInstanceID

	b := f.taskAt(t, id, "b")
	f.complete(t, "u1", f.taskAt(t, id, "a1").ID, "", nil)
	a2 := f.taskAt(t, id, "a2")

	require.NoError(t, f.actions.Reject(as("u2"), service.RejectRequest{TaskID: a2.ID, TargetNodeID: "a1"}))
	open := f.openTasks(t, id)
	require.Len(t, open, 2)
	assert.Equal(t, b.ID, f.taskAt(t, id, "b").ID)

	f.complete(t, "u3", b.ID, "", nil)
	f.complete(t, "u1", f.taskAt(t, id, "a1").ID, "", nil)
	f.complete(t, "u2", f.taskAt(t, id, "a2").ID, "", nil)
	assert.Equal(t, status.Finish, f.status(t, id))
}

// TestTaskActionService_Reject_ParallelBranches 从一个分支驳回到申请节点,其他分支的待办和历史一并回收
func TestTaskActionService_Reject_ParallelBranches(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, branchDefinition(), "branch_request")
	res := f.start(t, "alice", "BR-3", "branch_request", nil)
	f.complete(t, "alice", res.TaskID, "", nil)
	id := res.ProcessInstanceID

	f.complete(t, "u1", f.taskAt(t, id, "a1").ID, "", nil)
	a2 := f.taskAt(t, id, "a2")
	b := f.taskAt(t, id, "b")

	require.NoError(t, f.actions.Reject(as("u3"), service.RejectRequest{TaskID: b.ID, TargetNodeID: "apply"}))
	assert.Equal(t, status.Back, f.status(t, id))
	assert.Equal(t, map[string]int{"apply": 0}, f.historyOrders(t, id))

	apply := f.onlyTask(t, id)
	assert.Equal(t, "apply", apply.NodeID)
	assert.Equal(t, "alice", apply.Assignee)

	// 另一分支的待办从历史中删除,驳回人的任务保留并记为本人办理
	gone, err := f.engine.QueryHistoricTasks(context.Background(), engine.HistoricTaskQuery{TaskIDs: []string{a2.ID}})
	require.NoError(t, err)
	assert.Empty(t, gone)
	kept, err := f.engine.QueryHistoricTasks(context.Background(), engine.HistoricTaskQuery{TaskIDs: []string{b.ID}})
	require.NoError(t, err)
	require.Len(t, kept, 1)
	assert.Equal(t, "u3", kept[0].Assignee)

	// 重新提交后两个分支重新开始,全部办完实例结束
	f.complete(t, "alice", apply.ID, "resubmit", nil)
	assert.Len(t, f.openTasks(t, id), 2)
	f.complete(t, "u3", f.taskAt(t, id, "b").ID, "", nil)
	f.complete(t, "u1", f.taskAt(t, id, "a1").ID, "", nil)
	f.complete(t, "u2", f.taskAt(t, id, "a2").ID, "", nil)
	assert.Equal(t, status.Finish, f.status(t, id))
}

// TestTaskActionService_Reject_MultiInstance 从会签节点驳回和驳回到会签节点,会签任务按审批人重建
func TestTaskActionService_Reject_MultiInstance(t *testing.T) {
	for _, sequential := range []bool{false, true} {
		name := "parallel"
		if sequential {
			name = "sequential"
		}
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.deploy(t, signDefinition("countersign", sequential), "contract")
			res := f.start(t, "alice", "MI-"+name, "contract", map[string]interface{}{"approvers": []string{"u1", "u2"}})
			f.complete(t, "alice", res.TaskID, "", nil)
			id := res.ProcessInstanceID

			var first *engine.Task
			for _, task := range f.openTasks(t, id) {
				if task.Assignee == "u1" {
					first = task
				}
			}
			require.NotNil(t, first)
			require.NoError(t, f.actions.Reject(as("u1"), service.RejectRequest{TaskID: first.ID, TargetNodeID: "apply"}))
			assert.Equal(t, status.Back, f.status(t, id))
			assert.Equal(t, map[string]int{"apply": 0}, f.historyOrders(t, id))
			apply := f.onlyTask(t, id)
			assert.Equal(t, "alice", apply.Assignee)

			f.complete(t, "alice", apply.ID, "resubmit", nil)
			for open := f.openTasks(t, id); len(open) > 0 && open[0].NodeID == "sign"; open = f.openTasks(t, id) {
				f.complete(t, open[0].Assignee, open[0].ID, "", nil)
			}
			archive := f.onlyTask(t, id)
			require.Equal(t, "archive", archive.NodeID)
			assert.Equal(t, map[string]int{"apply": 0, "sign": 1}, f.historyOrders(t, id))

			require.NoError(t, f.actions.Reject(as("keeper"), service.RejectRequest{TaskID: archive.ID, TargetNodeID: "sign"}))
			assert.Equal(t, status.Waiting, f.status(t, id))
			assert.Equal(t, map[string]int{"apply": 0, "sign": 1}, f.historyOrders(t, id))

			var assignees []string
			for _, task := range f.openTasks(t, id) {
				assert.Equal(t, "sign", task.NodeID)
				assignees = append(assignees, task.Assignee)
			}
			if sequential {
				assert.Equal(t, []string{"u1"}, assignees)
			} else {
				assert.ElementsMatch(t, []string{"u1", "u2"}, assignees)
			}
		})
	}
}

// TestTaskActionService_HistoryMonotonic 依次办理不同节点,序号连续
func TestTaskActionService_HistoryMonotonic(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, reviewDefinition(), "review_request")
	res := f.start(t, "alice", "REVIEW-2", "review_request", map[string]interface{}{"manager": "bob", "reviewer": "carol"})

	f.complete(t, "alice", res.TaskID, "", nil)
	f.complete(t, "bob", f.onlyTask(t, res.ProcessInstanceID).ID, "", nil)
	f.complete(t, "carol", f.onlyTask(t, res.ProcessInstanceID).ID, "", nil)

	assert.Equal(t, map[string]int{"apply": 0, "audit": 1, "review": 2}, f.historyOrders(t, res.ProcessInstanceID))
	assert.Equal(t, status.Finish, f.status(t, res.ProcessInstanceID))
}

// TestTaskActionService_ParallelSigner 并行会签加签后减签,待办数量恢复
func TestTaskActionService_ParallelSigner(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, signDefinition("countersign", false), "contract")
	res := f.start(t, "alice", "C-1", "contract", map[string]interface{}{"approvers": []string{"u1", "u2"}})
	f.complete(t, "alice", res.TaskID, "", nil)

	open := f.openTasks(t, res.ProcessInstanceID)
	require.Len(t, open, 2)
	var mine *engine.Task
	for _, task := range open {
		if task.Assignee == "u1" {
			mine = task
		}
	}
	require.NotNil(t, mine)

	require.NoError(t, f.actions.AddMultiInstanceApprover(as("u1"), service.AddSignerRequest{
		TaskID:  mine.ID,
		UserIDs: []string{"u3", "u4"},
	}))
	assert.Len(t, f.openTasks(t, res.ProcessInstanceID), 4)

	addable, err := f.instances.AddableApprovers(as("u1"), mine.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u1", "u2", "u3", "u4"}, addable)

	removable, err := f.instances.RemovableApprovers(as("u1"), mine.ID)
	require.NoError(t, err)
	require.Len(t, removable, 3)
	var executions []string
	for _, r := range removable {
		if r.UserID == "u3" || r.UserID == "u4" {
			executions = append(executions, r.ExecutionID)
		}
	}
	require.Len(t, executions, 2)

	err = f.actions.RemoveMultiInstanceApprover(as("u1"), service.RemoveSignerRequest{TaskID: mine.ID, ExecutionIDs: []string{mine.ExecutionID}})
	assert.ErrorIs(t, err, flowerr.ErrInvalidArgument)

	require.NoError(t, f.actions.RemoveMultiInstanceApprover(as("u1"), service.RemoveSignerRequest{TaskID: mine.ID, ExecutionIDs: executions}))
	open = f.openTasks(t, res.ProcessInstanceID)
	require.Len(t, open, 2)

	for _, task := range open {
		f.complete(t, task.Assignee, task.ID, "", nil)
	}
	archive := f.onlyTask(t, res.ProcessInstanceID)
	assert.Equal(t, "archive", archive.NodeID)
	assert.Equal(t, map[string]int{"apply": 0, "sign": 1}, f.historyOrders(t, res.ProcessInstanceID))
}

// TestTaskActionService_SequentialSigner 串行会签加签追加到末尾,减签后按剩余顺序办理
func TestTaskActionService_SequentialSigner(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, signDefinition("sequence", true), "purchase")
	res := f.start(t, "alice", "P-1", "purchase", map[string]interface{}{"approvers": []string{"u1", "u2"}})
	f.complete(t, "alice", res.TaskID, "", nil)

	first := f.onlyTask(t, res.ProcessInstanceID)
	require.Equal(t, "u1", first.Assignee)

	require.NoError(t, f.actions.AddMultiInstanceApprover(as("u1"), service.AddSignerRequest{TaskID: first.ID, UserIDs: []string{"u3"}}))
	addable, err := f.instances.AddableApprovers(as("u1"), first.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2", "u3"}, addable)

	removable, err := f.instances.RemovableApprovers(as("u1"), first.ID)
	require.NoError(t, err)
	assert.Equal(t, []service.RemovableApprover{{UserID: "u2"}, {UserID: "u3"}}, removable)

	err = f.actions.RemoveMultiInstanceApprover(as("u1"), service.RemoveSignerRequest{TaskID: first.ID, AssigneeIDs: []string{"u1"}})
	assert.ErrorIs(t, err, flowerr.ErrInvalidArgument)

	require.NoError(t, f.actions.RemoveMultiInstanceApprover(as("u1"), service.RemoveSignerRequest{TaskID: first.ID, AssigneeIDs: []string{"u2"}}))

	f.complete(t, "u1", first.ID, "", nil)
	next := f.onlyTask(t, res.ProcessInstanceID)
	assert.Equal(t, "u3", next.Assignee)
	f.complete(t, "u3", next.ID, "", nil)
	assert.Equal(t, "archive", f.onlyTask(t, res.ProcessInstanceID).NodeID)
}

// TestTaskActionService_AddSigner_NotMultiInstance 普通节点不能加签
func TestTaskActionService_AddSigner_NotMultiInstance(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, leaveDefinition(), leaveTable)
	instanceID := submitted(t, f, "LEAVE-13")
	task := f.onlyTask(t, instanceID)

	err := f.actions.AddMultiInstanceApprover(as("bob"), service.AddSignerRequest{TaskID: task.ID, UserIDs: []string{"x"}})
	assert.ErrorIs(t, err, flowerr.ErrNotMultiInstance)
}

// TestTaskActionService_UpdateAssignee 批量修改多个实例的办理人
func TestTaskActionService_UpdateAssignee(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, leaveDefinition(), leaveTable)
	first := f.onlyTask(t, submitted(t, f, "LEAVE-14"))
	second := f.onlyTask(t, submitted(t, f, "LEAVE-15"))

	err := f.actions.UpdateAssignee(as("mallory"), service.UpdateAssigneeRequest{TaskIDs: []string{first.ID}, UserID: "grace"})
	assert.ErrorIs(t, err, flowerr.ErrNotFound)

	require.NoError(t, f.actions.UpdateAssignee(asAdmin(), service.UpdateAssigneeRequest{
		TaskIDs: []string{first.ID, second.ID},
		UserID:  "grace",
	}))
	assert.Equal(t, "grace", f.onlyTask(t, first.ProcessInstanceID).Assignee)
	assert.Equal(t, "grace", f.onlyTask(t, second.ProcessInstanceID).Assignee)
}
