package service_test

import (
	"context"
	"testing"

	"github.com/mautops/workflow-gin/internal/engine"
	"github.com/mautops/workflow-gin/internal/flowerr"
	"github.com/mautops/workflow-gin/internal/service"
	"github.com/mautops/workflow-gin/internal/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestInstanceService_CancelApply 撤销后回到申请人节点,可以再次提交
func TestInstanceService_CancelApply(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, leaveDefinition(), leaveTable)
	instanceID := submitted(t, f, "LEAVE-20")

	// 只有发起人能撤销
	err := f.instances.CancelApply(as("bob"), service.CancelRequest{BusinessKey: "LEAVE-20"})
	assert.ErrorIs(t, err, flowerr.ErrNotFound)

	require.NoError(t, f.instances.CancelApply(as("alice"), service.CancelRequest{BusinessKey: "LEAVE-20", Comment: "写错了"}))
	assert.Equal(t, status.Cancel, f.status(t, instanceID))
	assert.Contains(t, f.hooks.events, "cancel")
	assert.Equal(t, map[string]int{"apply": 0}, f.historyOrders(t, instanceID))

	task := f.onlyTask(t, instanceID)
	assert.Equal(t, "apply", task.NodeID)
	assert.Equal(t, "alice", task.Assignee)

	// 撤销后不是待审核状态,不能重复撤销
	err = f.instances.CancelApply(as("alice"), service.CancelRequest{BusinessKey: "LEAVE-20"})
	assert.ErrorIs(t, err, flowerr.ErrIllegalStatus)

	f.complete(t, "alice", task.ID, "", nil)
	assert.Equal(t, status.Waiting, f.status(t, instanceID))
	assert.Equal(t, "bob", f.onlyTask(t, instanceID).Assignee)
}

// TestInstanceService_CancelApply_Draft 草稿不能撤销
func TestInstanceService_CancelApply_Draft(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, leaveDefinition(), leaveTable)
	f.start(t, "alice", "LEAVE-21", leaveTable, map[string]interface{}{"manager": "bob"})

	err := f.instances.CancelApply(as("alice"), service.CancelRequest{BusinessKey: "LEAVE-21"})
	assert.ErrorIs(t, err, flowerr.ErrIllegalStatus)

	err = f.instances.CancelApply(as("alice"), service.CancelRequest{BusinessKey: "MISSING"})
	assert.ErrorIs(t, err, flowerr.ErrNotFound)
}

// TestInstanceService_CancelApply_ParallelSign 会签中撤销,全部会签任务被收回
func TestInstanceService_CancelApply_ParallelSign(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, signDefinition("countersign", false), "contract")
	res := f.start(t, "alice", "C-20", "contract", map[string]interface{}{"approvers": []string{"u1", "u2"}})
	f.complete(t, "alice", res.TaskID, "", nil)
	require.Len(t, f.openTasks(t, res.ProcessInstanceID), 2)

	require.NoError(t, f.instances.CancelApply(as("alice"), service.CancelRequest{BusinessKey: "C-20"}))
	task := f.onlyTask(t, res.ProcessInstanceID)
	assert.Equal(t, "apply", task.NodeID)
	assert.Equal(t, status.Cancel, f.status(t, res.ProcessInstanceID))
}

// TestInstanceService_Invalidate 作废运行中的实例
func TestInstanceService_Invalidate(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, leaveDefinition(), leaveTable)
	instanceID := submitted(t, f, "LEAVE-22")

	require.NoError(t, f.instances.Invalidate(as("alice"), service.InvalidateRequest{BusinessKey: "LEAVE-22", Reason: "重复申请"}))
	assert.Equal(t, status.Invalid, f.status(t, instanceID))
	assert.Empty(t, f.openTasks(t, instanceID))

	inst, err := f.engine.GetInstance(context.Background(), instanceID)
	require.NoError(t, err)
	assert.False(t, inst.Running())
	assert.Equal(t, "alice作废了申请：重复申请", inst.DeleteReason)

	err = f.instances.Invalidate(as("alice"), service.InvalidateRequest{BusinessKey: "LEAVE-22"})
	assert.ErrorIs(t, err, flowerr.ErrIllegalStatus)
}

// TestInstanceService_Invalidate_Finished 已完成的单据不能作废
func TestInstanceService_Invalidate_Finished(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, leaveDefinition(), leaveTable)
	instanceID := submitted(t, f, "LEAVE-23")
	f.complete(t, "bob", f.onlyTask(t, instanceID).ID, "", nil)

	err := f.instances.Invalidate(asAdmin(), service.InvalidateRequest{BusinessKey: "LEAVE-23"})
	assert.ErrorIs(t, err, flowerr.ErrIllegalStatus)
}

// TestInstanceService_Purge 管理员按业务单据删除全部实例与节点记录
func TestInstanceService_Purge(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, leaveDefinition(), leaveTable)
	first := submitted(t, f, "LEAVE-24")
	f.complete(t, "bob", f.onlyTask(t, first).ID, "", nil)
	second := submitted(t, f, "LEAVE-24")

	_, err := f.instances.Purge(as("alice"), service.PurgeRequest{BusinessKeys: []string{"LEAVE-24"}})
	assert.ErrorIs(t, err, flowerr.ErrInvalidArgument)

	_, err = f.instances.Purge(asAdmin(), service.PurgeRequest{})
	assert.ErrorIs(t, err, flowerr.ErrInvalidArgument)

	n, err := f.instances.Purge(asAdmin(), service.PurgeRequest{BusinessKeys: []string{"LEAVE-24", "LEAVE-24"}})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []string{first, second} {
		_, err := f.engine.GetInstance(context.Background(), id)
		assert.ErrorIs(t, err, flowerr.ErrNotFound)
		assert.Empty(t, f.historyOrders(t, id))
	}

	_, err = f.instances.Purge(asAdmin(), service.PurgeRequest{BusinessKeys: []string{"LEAVE-24"}})
	assert.ErrorIs(t, err, flowerr.ErrNotFound)
}

// TestInstanceService_Urge 催办通知全部当前审批人
func TestInstanceService_Urge(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, signDefinition("countersign", false), "contract")
	res := f.start(t, "alice", "C-21", "contract", map[string]interface{}{"approvers": []string{"u1", "u2"}})
	f.complete(t, "alice", res.TaskID, "", nil)

	_, err := f.instances.Urge(as("u1"), service.UrgeRequest{ProcessInstanceID: res.ProcessInstanceID})
	assert.ErrorIs(t, err, flowerr.ErrNotFound)

	n, err := f.instances.Urge(as("alice"), service.UrgeRequest{ProcessInstanceID: res.ProcessInstanceID, Message: "请尽快审批"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	req := f.notifier.last()
	assert.Equal(t, service.NotifyUrge, req.Kind)
	assert.Equal(t, "请尽快审批", req.Message)
	users := make([]string, 0, len(req.Targets))
	for _, target := range req.Targets {
		users = append(users, target.UserID)
	}
	assert.ElementsMatch(t, []string{"u1", "u2"}, users)
}

// TestInstanceService_Urge_Ended 已结束的实例不能催办
func TestInstanceService_Urge_Ended(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, leaveDefinition(), leaveTable)
	instanceID := submitted(t, f, "LEAVE-25")
	f.complete(t, "bob", f.onlyTask(t, instanceID).ID, "", nil)

	_, err := f.instances.Urge(as("alice"), service.UrgeRequest{ProcessInstanceID: instanceID})
	assert.ErrorIs(t, err, flowerr.ErrIllegalStatus)
}

// TestInstanceService_GetInstanceVariables 办理人可以读取实例变量
func TestInstanceService_GetInstanceVariables(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, leaveDefinition(), leaveTable)
	instanceID := submitted(t, f, "LEAVE-26")
	task := f.onlyTask(t, instanceID)

	vars, err := f.instances.GetInstanceVariables(as("bob"), task.ID)
	require.NoError(t, err)
	assert.Equal(t, "bob", vars["manager"])
	assert.Equal(t, "alice", vars[engine.VarInitiator])

	_, err = f.instances.GetInstanceVariables(as("mallory"), task.ID)
	assert.ErrorIs(t, err, flowerr.ErrNotFound)
}

// TestInstanceService_BackNodes 可驳回节点不包含当前节点
func TestInstanceService_BackNodes(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, reviewDefinition(), "review_request")
	res := f.start(t, "alice", "REVIEW-20", "review_request", map[string]interface{}{"manager": "bob", "reviewer": "carol"})
	f.complete(t, "alice", res.TaskID, "", nil)
	f.complete(t, "bob", f.onlyTask(t, res.ProcessInstanceID).ID, "", nil)

	nodes, err := f.instances.BackNodes(as("carol"), res.ProcessInstanceID)
	require.NoError(t, err)
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.NodeID)
	}
	assert.ElementsMatch(t, []string{"apply", "audit"}, ids)

	_, err = f.instances.BackNodes(as("carol"), "missing")
	assert.ErrorIs(t, err, flowerr.ErrNotFound)
}

// TestInstanceService_HistoryRecords 审批记录最新的在前,包含状态与意见
func TestInstanceService_HistoryRecords(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, leaveDefinition(), leaveTable)
	instanceID := submitted(t, f, "LEAVE-27")
	require.NoError(t, f.actions.Reject(as("bob"), service.RejectRequest{
		TaskID:       f.onlyTask(t, instanceID).ID,
		TargetNodeID: "apply",
		Comment:      "补充材料",
	}))

	records, err := f.instances.HistoryRecords(as("alice"), "LEAVE-27")
	require.NoError(t, err)
	require.NotEmpty(t, records)

	var back, pass, waiting *service.HistoryRecord
	for _, r := range records {
		switch r.Status {
		case status.TaskWaiting:
			waiting = r
		case status.TaskBack:
			back = r
		case status.TaskPass:
			pass = r
		}
	}
	// 重新打开的申请节点还在办理中
	require.NotNil(t, waiting)
	assert.Equal(t, "apply", waiting.NodeID)
	assert.Nil(t, waiting.EndTime)

	require.NotNil(t, back)
	assert.Equal(t, "audit", back.NodeID)
	assert.Equal(t, status.TaskBack.Label(), back.StatusLabel)
	require.NotEmpty(t, back.Comments)
	assert.Equal(t, "补充材料", back.Comments[0].Message)

	require.NotNil(t, pass)
	assert.Equal(t, "apply", pass.NodeID)
	assert.NotEmpty(t, pass.Duration)

	_, err = f.instances.HistoryRecords(as("alice"), "MISSING")
	assert.ErrorIs(t, err, flowerr.ErrNotFound)
}
