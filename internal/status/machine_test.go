package status_test

import (
	"errors"
	"testing"

	"github.com/mautops/workflow-gin/internal/flowerr"
	"github.com/mautops/workflow-gin/internal/status"
	"github.com/stretchr/testify/assert"
)

// TestIsLegalTransition_Start 测试发起流程的状态约束
func TestIsLegalTransition_Start(t *testing.T) {
	cases := map[status.BusinessStatus]bool{
		"":                 true,
		status.Draft:       false,
		status.Waiting:     false,
		status.Back:        false,
		status.Finish:      true,
		status.Cancel:      true,
		status.Termination: true,
		status.Invalid:     true,
	}
	for current, want := range cases {
		assert.Equal(t, want, status.IsLegalTransition(current, status.ActionStart), "status %q", current)
	}
}

// TestIsLegalTransition_Terminate 测试终止的状态约束
func TestIsLegalTransition_Terminate(t *testing.T) {
	assert.True(t, status.IsLegalTransition(status.Waiting, status.ActionTerminate))
	assert.True(t, status.IsLegalTransition(status.Draft, status.ActionTerminate))
	assert.True(t, status.IsLegalTransition(status.Back, status.ActionTerminate))
	assert.False(t, status.IsLegalTransition(status.Finish, status.ActionTerminate))
	assert.False(t, status.IsLegalTransition(status.Termination, status.ActionTerminate))
	assert.False(t, status.IsLegalTransition("", status.ActionTerminate))
}

// TestIsLegalTransition_Reject 测试驳回的状态约束
func TestIsLegalTransition_Reject(t *testing.T) {
	assert.True(t, status.IsLegalTransition(status.Waiting, status.ActionReject))
	assert.True(t, status.IsLegalTransition(status.Back, status.ActionReject))
	assert.False(t, status.IsLegalTransition(status.Finish, status.ActionReject))
	assert.False(t, status.IsLegalTransition(status.Termination, status.ActionReject))
	assert.False(t, status.IsLegalTransition(status.Cancel, status.ActionReject))
}

// TestIsLegalTransition_Cancel 测试撤销申请只能在待审核状态下进行
func TestIsLegalTransition_Cancel(t *testing.T) {
	assert.True(t, status.IsLegalTransition(status.Waiting, status.ActionCancel))
	assert.False(t, status.IsLegalTransition(status.Draft, status.ActionCancel))
	assert.False(t, status.IsLegalTransition(status.Finish, status.ActionCancel))
}

// TestCheck 测试非法操作返回 ILLEGAL_STATUS
func TestCheck(t *testing.T) {
	assert.NoError(t, status.Check(status.Waiting, status.ActionReject))

	err := status.Check(status.Finish, status.ActionReject)
	assert.Error(t, err)
	assert.True(t, errors.Is(err, flowerr.ErrIllegalStatus))
	assert.Equal(t, flowerr.KindIllegalStatus, flowerr.KindOf(err))
	assert.Contains(t, err.Error(), "已完成")
}

// TestBusinessStatus_Label 测试状态描述
func TestBusinessStatus_Label(t *testing.T) {
	assert.Equal(t, "草稿", status.Draft.Label())
	assert.Equal(t, "已退回", status.Back.Label())
	assert.Equal(t, "加签", status.TaskSign.Label())
	assert.True(t, status.Cancel.Resubmittable())
	assert.False(t, status.Waiting.Resubmittable())
	assert.False(t, status.BusinessStatus("unknown").Valid())
}
