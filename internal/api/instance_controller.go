package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mautops/workflow-gin/internal/model"
	"github.com/mautops/workflow-gin/internal/service"
)

// InstanceController 流程实例操作与查询
type InstanceController struct {
	instances *service.InstanceService
}

// NewInstanceController 创建流程实例控制器
func NewInstanceController(instances *service.InstanceService) *InstanceController {
	return &InstanceController{instances: instances}
}

// BackNode 可驳回节点
type BackNode struct {
	NodeID    string    `json:"node_id"`
	NodeName  string    `json:"node_name"`
	OrderNo   int       `json:"order_no"`
	Assignee  string    `json:"assignee"`
	TaskType  string    `json:"task_type"`
	EnteredAt time.Time `json:"entered_at"`
}

func toBackNodes(entries []*model.NodeHistoryModel) []BackNode {
	nodes := make([]BackNode, 0, len(entries))
	for _, e := range entries {
		nodes = append(nodes, BackNode{
			NodeID:    e.NodeID,
			NodeName:  e.NodeName,
			OrderNo:   e.OrderNo,
			Assignee:  e.Assignee,
			TaskType:  e.TaskType,
			EnteredAt: e.CreatedAt,
		})
	}
	return nodes
}

// Cancel 发起人撤销申请
// @Summary      撤销申请
// @Tags         流程实例
// @Param        request body service.CancelRequest true "业务单据"
// @Router       /instances/cancel [post]
// @Security     BearerAuth
func (c *InstanceController) Cancel(ctx *gin.Context) {
	var req service.CancelRequest
	if !bindJSON(ctx, &req) {
		return
	}
	respond(ctx, nil, c.instances.CancelApply(ctx.Request.Context(), req))
}

// Invalidate 作废单据
// @Summary      作废单据
// @Tags         流程实例
// @Param        request body service.InvalidateRequest true "业务单据与原因"
// @Router       /instances/invalidate [post]
// @Security     BearerAuth
func (c *InstanceController) Invalidate(ctx *gin.Context) {
	var req service.InvalidateRequest
	if !bindJSON(ctx, &req) {
		return
	}
	respond(ctx, nil, c.instances.Invalidate(ctx.Request.Context(), req))
}

// Purge 删除业务单据的全部流程数据,仅管理员
// @Summary      删除流程数据
// @Tags         流程实例
// @Param        request body service.PurgeRequest true "业务单据列表"
// @Router       /instances/purge [post]
// @Security     BearerAuth
func (c *InstanceController) Purge(ctx *gin.Context) {
	var req service.PurgeRequest
	if !bindJSON(ctx, &req) {
		return
	}
	n, err := c.instances.Purge(ctx.Request.Context(), req)
	respond(ctx, gin.H{"deleted": n}, err)
}

// Urge 催办
// @Summary      催办
// @Tags         流程实例
// @Param        id path string true "流程实例 ID"
// @Router       /instances/{id}/urge [post]
// @Security     BearerAuth
func (c *InstanceController) Urge(ctx *gin.Context) {
	var req service.UrgeRequest
	if !bindJSON(ctx, &req) {
		return
	}
	req.ProcessInstanceID = ctx.Param("id")
	n, err := c.instances.Urge(ctx.Request.Context(), req)
	respond(ctx, gin.H{"notified": n}, err)
}

// BackNodes 可驳回节点
// @Summary      可驳回节点
// @Tags         流程实例
// @Param        id path string true "流程实例 ID"
// @Success      200  {object}  Response{data=[]BackNode}
// @Router       /instances/{id}/back-nodes [get]
// @Security     BearerAuth
func (c *InstanceController) BackNodes(ctx *gin.Context) {
	entries, err := c.instances.BackNodes(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		WriteError(ctx, err)
		return
	}
	Success(ctx, toBackNodes(entries))
}

// HistoryRecords 审批记录
// @Summary      审批记录
// @Tags         流程实例
// @Param        business_key path string true "业务单据号"
// @Success      200  {object}  Response{data=[]service.HistoryRecord}
// @Router       /business/{business_key}/records [get]
// @Security     BearerAuth
func (c *InstanceController) HistoryRecords(ctx *gin.Context) {
	records, err := c.instances.HistoryRecords(ctx.Request.Context(), ctx.Param("business_key"))
	respond(ctx, records, err)
}

// Variables 任务所在实例的流程变量
// @Summary      流程变量
// @Tags         流程实例
// @Produce      json
// @Param        id path string true "任务 ID"
// @Success      200  {object}  Response
// @Failure      404  {object}  ErrorResponse
// @Router       /tasks/{id}/variables [get]
// @Security     BearerAuth
func (c *InstanceController) Variables(ctx *gin.Context) {
	id, ok := taskID(ctx)
	if !ok {
		return
	}
	vars, err := c.instances.GetInstanceVariables(ctx.Request.Context(), id)
	respond(ctx, vars, err)
}

// AddableApprovers 会签节点现有审批人
// @Summary      会签审批人
// @Description  加签前用于排除已有审批人
// @Tags         流程实例
// @Produce      json
// @Param        id path string true "任务 ID"
// @Success      200  {object}  Response{data=[]string}
// @Failure      422  {object}  ErrorResponse
// @Router       /tasks/{id}/signers [get]
// @Security     BearerAuth
func (c *InstanceController) AddableApprovers(ctx *gin.Context) {
	id, ok := taskID(ctx)
	if !ok {
		return
	}
	users, err := c.instances.AddableApprovers(ctx.Request.Context(), id)
	respond(ctx, users, err)
}

// RemovableApprovers 可减签的审批人
// @Summary      可减签审批人
// @Tags         流程实例
// @Produce      json
// @Param        id path string true "任务 ID"
// @Success      200  {object}  Response{data=[]service.RemovableApprover}
// @Failure      422  {object}  ErrorResponse
// @Router       /tasks/{id}/signers/removable [get]
// @Security     BearerAuth
func (c *InstanceController) RemovableApprovers(ctx *gin.Context) {
	id, ok := taskID(ctx)
	if !ok {
		return
	}
	approvers, err := c.instances.RemovableApprovers(ctx.Request.Context(), id)
	respond(ctx, approvers, err)
}
