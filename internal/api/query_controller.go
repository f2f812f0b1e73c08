package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mautops/workflow-gin/internal/service"
)

// QueryController 待办、已办、抄送列表
type QueryController struct {
	queries service.QueryService
}

// NewQueryController 创建查询控制器
func NewQueryController(queries service.QueryService) *QueryController {
	return &QueryController{queries: queries}
}

type pageFunc func(ctx context.Context, filter *service.ListTasksFilter) (*service.TaskPage, error)

func (c *QueryController) list(ctx *gin.Context, find pageFunc) {
	var filter service.ListTasksFilter
	if err := ctx.ShouldBindQuery(&filter); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid query parameters", err.Error())
		return
	}
	page, err := find(ctx.Request.Context(), &filter)
	if err != nil {
		WriteError(ctx, err)
		return
	}
	Paginated(ctx, page.Items, NewPaginationInfo(page.Page, page.PageSize, page.Total))
}

// WaitTasks 我的待办
// @Summary      我的待办
// @Description  包含指派给我的任务和我作为候选人的任务
// @Tags         查询
// @Produce      json
// @Param        business_key query string false "业务单据号"
// @Param        definition_key query string false "流程 key"
// @Param        node_name query string false "节点名称"
// @Param        page query int false "页码" default(1)
// @Param        page_size query int false "每页数量" default(20)
// @Param        sort_by query string false "排序字段" Enums(created_at, start_time, name, business_key)
// @Param        order query string false "排序方向" Enums(asc, desc) default(desc)
// @Success      200  {object}  PaginatedResponse{data=[]service.TaskRow}
// @Failure      400  {object}  ErrorResponse
// @Router       /tasks/todo [get]
// @Security     BearerAuth
func (c *QueryController) WaitTasks(ctx *gin.Context) {
	c.list(ctx, c.queries.WaitTasks)
}

// AllWaitTasks 租户内全部待办
// @Summary      全部待办
// @Tags         查询
// @Produce      json
// @Param        business_key query string false "业务单据号"
// @Param        page query int false "页码" default(1)
// @Param        page_size query int false "每页数量" default(20)
// @Success      200  {object}  PaginatedResponse{data=[]service.TaskRow}
// @Failure      400  {object}  ErrorResponse
// @Router       /tasks/todo/all [get]
// @Security     BearerAuth
func (c *QueryController) AllWaitTasks(ctx *gin.Context) {
	c.list(ctx, c.queries.AllWaitTasks)
}

// FinishTasks 我的已办
// @Summary      我的已办
// @Tags         查询
// @Produce      json
// @Param        business_key query string false "业务单据号"
// @Param        page query int false "页码" default(1)
// @Param        page_size query int false "每页数量" default(20)
// @Success      200  {object}  PaginatedResponse{data=[]service.TaskRow}
// @Failure      400  {object}  ErrorResponse
// @Router       /tasks/done [get]
// @Security     BearerAuth
func (c *QueryController) FinishTasks(ctx *gin.Context) {
	c.list(ctx, c.queries.FinishTasks)
}

// AllFinishTasks 租户内全部已办
// @Summary      全部已办
// @Tags         查询
// @Produce      json
// @Param        business_key query string false "业务单据号"
// @Param        page query int false "页码" default(1)
// @Param        page_size query int false "每页数量" default(20)
// @Success      200  {object}  PaginatedResponse{data=[]service.TaskRow}
// @Failure      400  {object}  ErrorResponse
// @Router       /tasks/done/all [get]
// @Security     BearerAuth
func (c *QueryController) AllFinishTasks(ctx *gin.Context) {
	c.list(ctx, c.queries.AllFinishTasks)
}

// CopyTasks 抄送我的
// @Summary      抄送我的
// @Tags         查询
// @Produce      json
// @Param        business_key query string false "业务单据号"
// @Param        page query int false "页码" default(1)
// @Param        page_size query int false "每页数量" default(20)
// @Success      200  {object}  PaginatedResponse{data=[]service.TaskRow}
// @Failure      400  {object}  ErrorResponse
// @Router       /tasks/copies [get]
// @Security     BearerAuth
func (c *QueryController) CopyTasks(ctx *gin.Context) {
	c.list(ctx, c.queries.CopyTasks)
}
