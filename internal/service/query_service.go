package service

import (
	"context"
	"fmt"
	"time"

	"github.com/mautops/workflow-gin/internal/auth"
	"github.com/mautops/workflow-gin/internal/engine"
	"github.com/mautops/workflow-gin/internal/flowerr"
	"github.com/mautops/workflow-gin/internal/multiinstance"
	"github.com/mautops/workflow-gin/internal/repository"
	"github.com/mautops/workflow-gin/internal/status"
	"golang.org/x/sync/errgroup"
)

// ListTasksFilter 任务列表查询条件
type ListTasksFilter struct {
	BusinessKey   string     `form:"business_key"`
	DefinitionKey string     `form:"definition_key"`
	NodeName      string     `form:"node_name"`
	StartTime     *time.Time `form:"start_time" time_format:"2006-01-02T15:04:05Z07:00"`
	EndTime       *time.Time `form:"end_time" time_format:"2006-01-02T15:04:05Z07:00"`
	Page          int        `form:"page"`
	PageSize      int        `form:"page_size"`
	SortBy        string     `form:"sort_by"`
	Order         string     `form:"order"`
}

// TaskRow 列表行
type TaskRow struct {
	TaskID              string     `json:"task_id"`
	ProcessInstanceID   string     `json:"process_instance_id"`
	ExecutionID         string     `json:"execution_id"`
	NodeID              string     `json:"node_id"`
	NodeName            string     `json:"node_name"`
	BusinessKey         string     `json:"business_key"`
	DefinitionKey       string     `json:"definition_key"`
	InstanceName        string     `json:"instance_name"`
	Initiator           string     `json:"initiator"`
	BusinessStatus      string     `json:"business_status"`
	BusinessStatusLabel string     `json:"business_status_label"`
	Assignee            string     `json:"assignee"`
	Participant         string     `json:"participant"` // 办理人,会签节点为 "已办/总数"
	MultiInstance       bool       `json:"multi_instance"`
	FormType            string     `json:"form_type,omitempty"`
	FormID              string     `json:"form_id,omitempty"`
	FormPath            string     `json:"form_path,omitempty"`
	StartTime           time.Time  `json:"start_time"`
	EndTime             *time.Time `json:"end_time,omitempty"`
}

// TaskPage 分页结果
type TaskPage struct {
	Items    []*TaskRow `json:"items"`
	Total    int64      `json:"total"`
	Page     int        `json:"page"`
	PageSize int        `json:"page_size"`
}

// QueryService 待办、已办、抄送列表查询,只读
type QueryService interface {
	WaitTasks(ctx context.Context, filter *ListTasksFilter) (*TaskPage, error)
	AllWaitTasks(ctx context.Context, filter *ListTasksFilter) (*TaskPage, error)
	FinishTasks(ctx context.Context, filter *ListTasksFilter) (*TaskPage, error)
	AllFinishTasks(ctx context.Context, filter *ListTasksFilter) (*TaskPage, error)
	CopyTasks(ctx context.Context, filter *ListTasksFilter) (*TaskPage, error)
}

// queryService 查询服务实现
type queryService struct {
	engine   engine.ProcessEngine
	tasks    repository.TaskRepository
	resolver *multiinstance.Resolver
	configs  *NodeConfigCache
}

// NewQueryService 创建查询服务
func NewQueryService(eng engine.ProcessEngine, tasks repository.TaskRepository, resolver *multiinstance.Resolver, configs *NodeConfigCache) QueryService {
	return &queryService{
		engine:   eng,
		tasks:    tasks,
		resolver: resolver,
		configs:  configs,
	}
}

type listFunc func(ctx context.Context, filter *repository.TaskFilter) ([]*repository.TaskView, int64, error)

// list 按操作人租户查询一页,mine 为 true 时只查操作人自己的任务
func (s *queryService) list(ctx context.Context, filter *ListTasksFilter, mine, running bool, find listFunc) (*TaskPage, error) {
	actor, err := auth.ActorFromContext(ctx)
	if err != nil {
		return nil, flowerr.Wrap(flowerr.KindInvalidArgument, err, "acting user is required")
	}
	if filter == nil {
		filter = &ListTasksFilter{}
	}
	f := &repository.TaskFilter{
		TenantID:      actor.TenantID,
		BusinessKey:   filter.BusinessKey,
		DefinitionKey: filter.DefinitionKey,
		NodeName:      filter.NodeName,
		StartTime:     filter.StartTime,
		EndTime:       filter.EndTime,
		Page:          filter.Page,
		PageSize:      filter.PageSize,
		SortBy:        filter.SortBy,
		Order:         filter.Order,
	}
	if mine {
		f.UserID = actor.UserID
		f.Groups = actor.Groups
	}
	views, total, err := find(ctx, f)
	if err != nil {
		return nil, err
	}
	rows, err := s.enrich(ctx, views, running)
	if err != nil {
		return nil, err
	}

	page := &TaskPage{Items: rows, Total: total, Page: f.Page, PageSize: f.PageSize}
	if page.Page <= 0 {
		page.Page = 1
	}
	if page.PageSize <= 0 {
		page.PageSize = 20
	}
	return page, nil
}

// WaitTasks 操作人的待办,包含候选任务
func (s *queryService) WaitTasks(ctx context.Context, filter *ListTasksFilter) (*TaskPage, error) {
	return s.list(ctx, filter, true, true, s.tasks.FindWaiting)
}

// AllWaitTasks 租户内全部待办
func (s *queryService) AllWaitTasks(ctx context.Context, filter *ListTasksFilter) (*TaskPage, error) {
	return s.list(ctx, filter, false, true, s.tasks.FindWaiting)
}

// FinishTasks 操作人的已办
func (s *queryService) FinishTasks(ctx context.Context, filter *ListTasksFilter) (*TaskPage, error) {
	return s.list(ctx, filter, true, false, s.tasks.FindFinished)
}

// AllFinishTasks 租户内全部已办
func (s *queryService) AllFinishTasks(ctx context.Context, filter *ListTasksFilter) (*TaskPage, error) {
	return s.list(ctx, filter, false, false, s.tasks.FindFinished)
}

// CopyTasks 抄送给操作人的任务
func (s *queryService) CopyTasks(ctx context.Context, filter *ListTasksFilter) (*TaskPage, error) {
	return s.list(ctx, filter, true, false, s.tasks.FindCopies)
}

// enrich 补充状态描述、会签进度与表单配置,每行独立查询并发执行
func (s *queryService) enrich(ctx context.Context, views []*repository.TaskView, running bool) ([]*TaskRow, error) {
	rows := make([]*TaskRow, len(views))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, v := range views {
		i, v := i, v
		g.Go(func() error {
			row := &TaskRow{
				TaskID:              v.TaskID,
				ProcessInstanceID:   v.ProcessInstanceID,
				ExecutionID:         v.ExecutionID,
				NodeID:              v.NodeID,
				NodeName:            v.NodeName,
				BusinessKey:         v.BusinessKey,
				DefinitionKey:       v.DefinitionKey,
				InstanceName:        v.InstanceName,
				Initiator:           v.Initiator,
				BusinessStatus:      v.BusinessStatus,
				BusinessStatusLabel: status.BusinessStatus(v.BusinessStatus).Label(),
				Assignee:            v.Assignee,
				Participant:         v.Assignee,
				StartTime:           v.StartTime,
				EndTime:             v.EndTime,
			}

			desc, err := s.resolver.Resolve(gctx, v.DefinitionID, v.NodeID)
			if err != nil {
				return err
			}
			row.MultiInstance = desc.IsMultiInstance()
			if row.MultiInstance && running && v.ExecutionID != "" {
				progress, err := s.progress(gctx, v.ExecutionID)
				if err != nil {
					return err
				}
				row.Participant = progress
			}

			if s.configs != nil {
				configs, err := s.configs.Get(gctx, v.DefinitionKey)
				if err != nil {
					return err
				}
				if form := FormFor(configs, v.NodeID); form != nil {
					row.FormType = form.FormType
					row.FormID = form.FormID
					row.FormPath = form.FormPath
				}
			}
			rows[i] = row
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rows, nil
}

// progress 返回会签节点 "已办/总数"
func (s *queryService) progress(ctx context.Context, executionID string) (string, error) {
	var completed, total int
	if _, err := s.engine.GetVariable(ctx, executionID, engine.VarNrOfCompletedInstances, &completed); err != nil {
		return "", err
	}
	if _, err := s.engine.GetVariable(ctx, executionID, engine.VarNrOfInstances, &total); err != nil {
		return "", err
	}
	return fmt.Sprintf("%d/%d", completed, total), nil
}
