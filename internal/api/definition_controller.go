package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mautops/workflow-gin/internal/engine"
	"github.com/mautops/workflow-gin/internal/service"
)

// DefinitionController 流程定义部署与配置
type DefinitionController struct {
	definitions *service.DefinitionService
}

// NewDefinitionController 创建流程定义控制器
func NewDefinitionController(definitions *service.DefinitionService) *DefinitionController {
	return &DefinitionController{definitions: definitions}
}

// Deploy 部署流程定义
// @Summary      部署流程定义
// @Description  同 key 重复部署生成新版本
// @Tags         流程定义
// @Accept       json,application/x-yaml
// @Produce      json
// @Param        request body engine.Definition true "流程定义"
// @Success      200  {object}  Response{data=engine.Definition}
// @Failure      400  {object}  ErrorResponse
// @Router       /definitions [post]
// @Security     BearerAuth
func (c *DefinitionController) Deploy(ctx *gin.Context) {
	def, err := engine.DecodeDefinition(ctx.Request.Body, strings.Contains(ctx.ContentType(), "yaml"))
	if err != nil {
		Error(ctx, http.StatusBadRequest, "invalid definition", err.Error())
		return
	}
	deployed, err := c.definitions.Deploy(ctx.Request.Context(), def)
	respond(ctx, deployed, err)
}

// Latest 流程定义最新版本
// @Summary      获取流程定义
// @Tags         流程定义
// @Produce      json
// @Param        key path string true "流程 key"
// @Success      200  {object}  Response{data=engine.Definition}
// @Failure      404  {object}  ErrorResponse
// @Router       /definitions/{key} [get]
// @Security     BearerAuth
func (c *DefinitionController) Latest(ctx *gin.Context) {
	def, err := c.definitions.Latest(ctx.Request.Context(), ctx.Param("key"))
	respond(ctx, def, err)
}

// BindTable 绑定业务表
// @Summary      绑定业务表
// @Description  发起流程时按业务表名查找流程定义
// @Tags         流程定义
// @Accept       json
// @Produce      json
// @Param        request body service.BindTableRequest true "业务表与流程 key"
// @Success      200  {object}  Response
// @Failure      400  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Router       /definitions/bindings [post]
// @Security     BearerAuth
func (c *DefinitionController) BindTable(ctx *gin.Context) {
	var req service.BindTableRequest
	if !bindJSON(ctx, &req) {
		return
	}
	binding, err := c.definitions.BindTable(ctx.Request.Context(), req)
	if err != nil {
		WriteError(ctx, err)
		return
	}
	Success(ctx, gin.H{
		"table_name":     binding.BusinessTable,
		"definition_key": binding.DefinitionKey,
		"remark":         binding.Remark,
		"updated_at":     binding.UpdatedAt,
	})
}

// SaveNodeConfig 保存节点表单配置
// @Summary      保存节点表单配置
// @Tags         流程定义
// @Accept       json
// @Produce      json
// @Param        key path string true "流程 key"
// @Param        node_id path string true "节点 ID"
// @Param        request body service.NodeConfigRequest true "表单配置"
// @Success      200  {object}  Response
// @Failure      400  {object}  ErrorResponse
// @Router       /definitions/{key}/nodes/{node_id} [put]
// @Security     BearerAuth
func (c *DefinitionController) SaveNodeConfig(ctx *gin.Context) {
	var req service.NodeConfigRequest
	if !bindJSON(ctx, &req) {
		return
	}
	req.DefinitionKey = ctx.Param("key")
	req.NodeID = ctx.Param("node_id")
	respond(ctx, nil, c.definitions.SaveNodeConfig(ctx.Request.Context(), req))
}

// NodeConfigs 节点表单配置列表
// @Summary      节点表单配置列表
// @Tags         流程定义
// @Produce      json
// @Param        key path string true "流程 key"
// @Success      200  {object}  Response
// @Router       /definitions/{key}/nodes [get]
// @Security     BearerAuth
func (c *DefinitionController) NodeConfigs(ctx *gin.Context) {
	configs, err := c.definitions.NodeConfigs(ctx.Request.Context(), ctx.Param("key"))
	if err != nil {
		WriteError(ctx, err)
		return
	}
	items := make([]gin.H, 0, len(configs))
	for _, cfg := range configs {
		items = append(items, gin.H{
			"node_id":         cfg.NodeID,
			"node_name":       cfg.NodeName,
			"form_type":       cfg.FormType,
			"form_id":         cfg.FormID,
			"form_path":       cfg.FormPath,
			"apply_user_task": cfg.ApplyUserTask,
		})
	}
	Success(ctx, items)
}

// Suspend 挂起流程定义
// @Summary      挂起流程定义
// @Description  挂起后该定义下的任务不能办理
// @Tags         流程定义
// @Param        key path string true "流程 key"
// @Success      200  {object}  Response
// @Failure      404  {object}  ErrorResponse
// @Router       /definitions/{key}/suspend [post]
// @Security     BearerAuth
func (c *DefinitionController) Suspend(ctx *gin.Context) {
	respond(ctx, nil, c.definitions.Suspend(ctx.Request.Context(), ctx.Param("key")))
}

// Activate 激活流程定义
// @Summary      激活流程定义
// @Tags         流程定义
// @Param        key path string true "流程 key"
// @Success      200  {object}  Response
// @Failure      404  {object}  ErrorResponse
// @Router       /definitions/{key}/activate [post]
// @Security     BearerAuth
func (c *DefinitionController) Activate(ctx *gin.Context) {
	respond(ctx, nil, c.definitions.Activate(ctx.Request.Context(), ctx.Param("key")))
}
