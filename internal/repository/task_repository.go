package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/mautops/workflow-gin/internal/database"
	"github.com/mautops/workflow-gin/internal/flowerr"
	"github.com/mautops/workflow-gin/internal/model"
	"github.com/mautops/workflow-gin/internal/utils"
	"gorm.io/gorm"
)

// TaskView 待办/已办列表行,任务与所属实例的联合视图
type TaskView struct {
	TaskID            string
	ProcessInstanceID string
	ExecutionID       string
	DefinitionID      string
	NodeID            string
	NodeName          string
	Assignee          string
	ScopeType         string
	StartTime         time.Time
	EndTime           *time.Time
	BusinessKey       string
	BusinessStatus    string
	DefinitionKey     string
	InstanceName      string
	Initiator         string
}

// TaskFilter 任务列表查询过滤器
type TaskFilter struct {
	TenantID      string
	UserID        string // 为空时不按办理人过滤
	Groups        []string
	BusinessKey   string
	DefinitionKey string
	NodeName      string
	StartTime     *time.Time
	EndTime       *time.Time
	Page          int
	PageSize      int
	SortBy        string
	Order         string
}

// TaskRepository 任务列表查询仓储接口
type TaskRepository interface {
	FindWaiting(ctx context.Context, filter *TaskFilter) ([]*TaskView, int64, error)
	FindFinished(ctx context.Context, filter *TaskFilter) ([]*TaskView, int64, error)
	FindCopies(ctx context.Context, filter *TaskFilter) ([]*TaskView, int64, error)
}

// taskRepository 任务列表查询仓储实现
type taskRepository struct {
	tx *database.TxManager
}

// NewTaskRepository 创建任务列表查询仓储
func NewTaskRepository(tx *database.TxManager) TaskRepository {
	return &taskRepository{tx: tx}
}

// 允许排序的字段,key 为对外字段名
var (
	waitingSortColumns = map[string]string{
		"created_at":   "t.created_at",
		"start_time":   "t.created_at",
		"name":         "t.name",
		"business_key": "p.business_key",
	}
	historicSortColumns = map[string]string{
		"created_at":   "t.start_time",
		"start_time":   "t.start_time",
		"end_time":     "t.end_time",
		"name":         "t.name",
		"business_key": "p.business_key",
	}
)

// FindWaiting 查询运行中的待办任务,指定 UserID 时只返回其为办理人或候选人的任务
func (r *taskRepository) FindWaiting(ctx context.Context, filter *TaskFilter) ([]*TaskView, int64, error) {
	base := func() *gorm.DB {
		db := r.tx.DB(ctx).Table(model.TaskModel{}.TableName()+" AS t").
			Joins("JOIN "+model.ProcessInstanceModel{}.TableName()+" AS p ON p.id = t.process_instance_id").
			Where("t.parent_task_id = ''")
		if filter.UserID != "" {
			candidate := "l.user_id = ?"
			args := []interface{}{filter.UserID, model.IdentityLinkCandidate, filter.UserID}
			if len(filter.Groups) > 0 {
				candidate = "(l.user_id = ? OR l.group_id IN ?)"
				args = append(args, filter.Groups)
			}
			db = db.Where("(t.assignee = ? OR (t.assignee = '' AND EXISTS (SELECT 1 FROM wf_identity_links l WHERE l.task_id = t.id AND l.type = ? AND "+candidate+")))", args...)
		}
		return applyTaskFilter(db, filter, "t.created_at")
	}
	return r.page(base, filter, "created_at", waitingSortColumns,
		"t.id AS task_id, t.process_instance_id, t.execution_id, t.definition_id, t.node_id, t.name AS node_name, "+
			"t.assignee, t.scope_type, t.created_at AS start_time, "+instanceColumns)
}

// FindFinished 查询已办理的历史任务,不包含审计子任务与抄送
func (r *taskRepository) FindFinished(ctx context.Context, filter *TaskFilter) ([]*TaskView, int64, error) {
	base := func() *gorm.DB {
		db := r.historic(ctx).
			Where("t.parent_task_id = '' AND t.end_time IS NOT NULL AND t.delete_reason = ''")
		if filter.UserID != "" {
			db = db.Where("t.assignee = ?", filter.UserID)
		}
		return applyTaskFilter(db, filter, "t.start_time")
	}
	return r.page(base, filter, "end_time", historicSortColumns, historicColumns)
}

// FindCopies 查询抄送给用户的任务
func (r *taskRepository) FindCopies(ctx context.Context, filter *TaskFilter) ([]*TaskView, int64, error) {
	base := func() *gorm.DB {
		db := r.historic(ctx).Where("t.scope_type = ?", model.ScopeTypeCopy)
		if filter.UserID != "" {
			db = db.Where("t.assignee = ?", filter.UserID)
		}
		return applyTaskFilter(db, filter, "t.start_time")
	}
	return r.page(base, filter, "start_time", historicSortColumns, historicColumns)
}

const instanceColumns = "p.business_key, p.business_status, p.definition_key, p.name AS instance_name, p.initiator"

const historicColumns = "t.id AS task_id, t.process_instance_id, t.execution_id, t.definition_id, t.node_id, t.name AS node_name, " +
	"t.assignee, t.scope_type, t.start_time, t.end_time, " + instanceColumns

func (r *taskRepository) historic(ctx context.Context) *gorm.DB {
	return r.tx.DB(ctx).Table(model.HistoricTaskModel{}.TableName()+" AS t").
		Joins("JOIN " + model.ProcessInstanceModel{}.TableName() + " AS p ON p.id = t.process_instance_id")
}

func applyTaskFilter(db *gorm.DB, filter *TaskFilter, timeColumn string) *gorm.DB {
	if filter.TenantID != "" {
		db = db.Where("t.tenant_id = ?", filter.TenantID)
	}
	if filter.BusinessKey != "" {
		db = db.Where("p.business_key = ?", filter.BusinessKey)
	}
	if filter.DefinitionKey != "" {
		db = db.Where("p.definition_key = ?", filter.DefinitionKey)
	}
	if filter.NodeName != "" {
		db = db.Where("t.name LIKE ?", "%"+filter.NodeName+"%")
	}
	if filter.StartTime != nil {
		db = db.Where(timeColumn+" >= ?", *filter.StartTime)
	}
	if filter.EndTime != nil {
		db = db.Where(timeColumn+" <= ?", *filter.EndTime)
	}
	return db
}

// page 统计总数并按排序与分页取一页
func (r *taskRepository) page(base func() *gorm.DB, filter *TaskFilter, defaultSort string, sortColumns map[string]string, columns string) ([]*TaskView, int64, error) {
	var total int64
	if err := base().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count tasks: %w", err)
	}

	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = defaultSort
	}
	// 验证排序字段，防止 SQL 注入
	if err := utils.ValidateSortField(sortBy); err != nil {
		return nil, 0, flowerr.InvalidArgument("invalid sort field: %v", err)
	}
	column, ok := sortColumns[sortBy]
	if !ok {
		return nil, 0, flowerr.InvalidArgument("unsupported sort field: %s", sortBy)
	}
	order := filter.Order
	if order == "" {
		order = "desc"
	}
	if err := utils.ValidateSortOrder(order); err != nil {
		return nil, 0, flowerr.InvalidArgument("invalid sort order: %v", err)
	}

	page, pageSize := filter.Page, filter.PageSize
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 200 {
		pageSize = 200
	}

	var rows []*TaskView
	err := base().Select(columns).
		Order(column + " " + utils.SanitizeSortOrder(order)).
		Order("t.id").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Scan(&rows).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query tasks: %w", err)
	}
	return rows, total, nil
}
