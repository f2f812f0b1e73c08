package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mautops/workflow-gin/internal/service"
	"github.com/mautops/workflow-gin/internal/utils"
)

// TaskController 任务操作控制器
type TaskController struct {
	actions *service.TaskActionService
}

// NewTaskController 创建任务操作控制器
func NewTaskController(actions *service.TaskActionService) *TaskController {
	return &TaskController{actions: actions}
}

// bindJSON 绑定请求体,空请求体视为全部字段为零值
func bindJSON(ctx *gin.Context, req interface{}) bool {
	if err := ctx.ShouldBindJSON(req); err != nil && !errors.Is(err, io.EOF) {
		_ = ctx.Error(WrapError(err, http.StatusBadRequest, "invalid request"))
		return false
	}
	return true
}

// taskID 读取并校验路径中的任务 ID
func taskID(ctx *gin.Context) (string, bool) {
	id := ctx.Param("id")
	if err := utils.ValidateTaskID(id); err != nil {
		_ = ctx.Error(WrapError(err, http.StatusBadRequest, "invalid task ID"))
		return "", false
	}
	return id, true
}

// respond 按错误类型写出响应,成功时返回 data
func respond(ctx *gin.Context, data interface{}, err error) {
	if err != nil {
		WriteError(ctx, err)
		return
	}
	Success(ctx, data)
}

// Start 发起流程
// @Summary      发起流程
// @Description  按业务表绑定的流程定义发起实例;草稿或退回状态下重复发起返回原待办
// @Tags         任务操作
// @Accept       json
// @Produce      json
// @Param        request body service.StartRequest true "发起信息"
// @Success      200  {object}  Response{data=service.StartResult}
// @Failure      400  {object}  ErrorResponse
// @Failure      409  {object}  ErrorResponse
// @Failure      422  {object}  ErrorResponse
// @Router       /workflows/start [post]
// @Security     BearerAuth
func (c *TaskController) Start(ctx *gin.Context) {
	var req service.StartRequest
	if !bindJSON(ctx, &req) {
		return
	}
	res, err := c.actions.StartWorkflow(ctx.Request.Context(), req)
	respond(ctx, res, err)
}

// Complete 办理任务
// @Summary      办理任务
// @Tags         任务操作
// @Accept       json
// @Produce      json
// @Param        id path string true "任务 ID"
// @Param        request body service.CompleteRequest false "办理信息"
// @Success      200  {object}  Response
// @Failure      404  {object}  ErrorResponse
// @Failure      409  {object}  ErrorResponse
// @Router       /tasks/{id}/complete [post]
// @Security     BearerAuth
func (c *TaskController) Complete(ctx *gin.Context) {
	id, ok := taskID(ctx)
	if !ok {
		return
	}
	var req service.CompleteRequest
	if !bindJSON(ctx, &req) {
		return
	}
	req.TaskID = id
	respond(ctx, nil, c.actions.CompleteTask(ctx.Request.Context(), req))
}

// Delegate 委派任务
// @Summary      委派任务
// @Tags         任务操作
// @Param        id path string true "任务 ID"
// @Param        request body service.DelegateRequest true "被委派人"
// @Router       /tasks/{id}/delegate [post]
// @Security     BearerAuth
func (c *TaskController) Delegate(ctx *gin.Context) {
	id, ok := taskID(ctx)
	if !ok {
		return
	}
	var req service.DelegateRequest
	if !bindJSON(ctx, &req) {
		return
	}
	req.TaskID = id
	respond(ctx, nil, c.actions.DelegateTask(ctx.Request.Context(), req))
}

// Transfer 转办任务
// @Summary      转办任务
// @Tags         任务操作
// @Param        id path string true "任务 ID"
// @Param        request body service.TransferRequest true "新办理人"
// @Router       /tasks/{id}/transfer [post]
// @Security     BearerAuth
func (c *TaskController) Transfer(ctx *gin.Context) {
	id, ok := taskID(ctx)
	if !ok {
		return
	}
	var req service.TransferRequest
	if !bindJSON(ctx, &req) {
		return
	}
	req.TaskID = id
	respond(ctx, nil, c.actions.TransferTask(ctx.Request.Context(), req))
}

// Terminate 终止流程
// @Summary      终止流程
// @Tags         任务操作
// @Param        id path string true "任务 ID"
// @Router       /tasks/{id}/terminate [post]
// @Security     BearerAuth
func (c *TaskController) Terminate(ctx *gin.Context) {
	id, ok := taskID(ctx)
	if !ok {
		return
	}
	var req service.TerminateRequest
	if !bindJSON(ctx, &req) {
		return
	}
	req.TaskID = id
	respond(ctx, nil, c.actions.TerminateTask(ctx.Request.Context(), req))
}

// Reject 驳回到已办理过的节点
// @Summary      驳回
// @Tags         任务操作
// @Param        id path string true "任务 ID"
// @Param        request body service.RejectRequest true "目标节点"
// @Router       /tasks/{id}/reject [post]
// @Security     BearerAuth
func (c *TaskController) Reject(ctx *gin.Context) {
	id, ok := taskID(ctx)
	if !ok {
		return
	}
	var req service.RejectRequest
	if !bindJSON(ctx, &req) {
		return
	}
	req.TaskID = id
	respond(ctx, nil, c.actions.Reject(ctx.Request.Context(), req))
}

// AddSigner 会签加签
// @Summary      会签加签
// @Tags         任务操作
// @Param        id path string true "任务 ID"
// @Param        request body service.AddSignerRequest true "加签人"
// @Router       /tasks/{id}/signers [post]
// @Security     BearerAuth
func (c *TaskController) AddSigner(ctx *gin.Context) {
	id, ok := taskID(ctx)
	if !ok {
		return
	}
	var req service.AddSignerRequest
	if !bindJSON(ctx, &req) {
		return
	}
	req.TaskID = id
	respond(ctx, nil, c.actions.AddMultiInstanceApprover(ctx.Request.Context(), req))
}

// RemoveSigner 会签减签
// @Summary      会签减签
// @Tags         任务操作
// @Param        id path string true "任务 ID"
// @Param        request body service.RemoveSignerRequest true "减签人"
// @Router       /tasks/{id}/signers/remove [post]
// @Security     BearerAuth
func (c *TaskController) RemoveSigner(ctx *gin.Context) {
	id, ok := taskID(ctx)
	if !ok {
		return
	}
	var req service.RemoveSignerRequest
	if !bindJSON(ctx, &req) {
		return
	}
	req.TaskID = id
	respond(ctx, nil, c.actions.RemoveMultiInstanceApprover(ctx.Request.Context(), req))
}

// UpdateAssignee 批量修改办理人
// @Summary      批量修改办理人
// @Tags         任务操作
// @Param        request body service.UpdateAssigneeRequest true "任务与新办理人"
// @Router       /tasks/assignee [put]
// @Security     BearerAuth
func (c *TaskController) UpdateAssignee(ctx *gin.Context) {
	var req service.UpdateAssigneeRequest
	if !bindJSON(ctx, &req) {
		return
	}
	respond(ctx, nil, c.actions.UpdateAssignee(ctx.Request.Context(), req))
}
