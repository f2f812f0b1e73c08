package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/mautops/workflow-gin/internal/engine"
	"github.com/mautops/workflow-gin/internal/flowerr"
	"github.com/mautops/workflow-gin/internal/model"
	"github.com/mautops/workflow-gin/internal/multiinstance"
	"github.com/mautops/workflow-gin/internal/repository"
	"github.com/pkg/errors"
)

// NodeHistoryService 记录实例已办理的节点,驳回只能回到这些节点
// 所有写操作都要求在实例锁和事务内调用
type NodeHistoryService struct {
	repo     repository.NodeHistoryRepository
	resolver *multiinstance.Resolver
}

// NewNodeHistoryService 创建节点历史服务
func NewNodeHistoryService(repo repository.NodeHistoryRepository, resolver *multiinstance.Resolver) *NodeHistoryService {
	return &NodeHistoryService{repo: repo, resolver: resolver}
}

// RecordVisit 记录任务所在节点被 userID 办理
// 节点已存在时只追加办理人,否则以当前最大序号 +1 插入
func (s *NodeHistoryService) RecordVisit(ctx context.Context, task *engine.Task, userID string) error {
	existing, err := s.repo.FindByInstanceAndNode(ctx, task.ProcessInstanceID, task.NodeID)
	if err != nil {
		return err
	}
	if existing != nil {
		if !existing.AddAssignee(userID) {
			return nil
		}
		return s.repo.Save(ctx, existing)
	}

	desc, err := s.resolver.Resolve(ctx, task.DefinitionID, task.NodeID)
	if err != nil {
		return err
	}
	taskType := model.NodeTaskTypeUserTask
	if desc.IsMultiInstance() {
		taskType = model.NodeTaskTypeMultiInstance
	}

	order, err := s.repo.NextOrder(ctx, task.ProcessInstanceID)
	if err != nil {
		return err
	}
	entry := &model.NodeHistoryModel{
		ID:                uuid.NewString(),
		ProcessInstanceID: task.ProcessInstanceID,
		NodeID:            task.NodeID,
		NodeName:          task.Name,
		OrderNo:           order,
		TaskType:          taskType,
	}
	entry.AddAssignee(userID)
	return s.repo.Create(ctx, entry)
}

// ListByInstance 按序号倒序返回可驳回节点
func (s *NodeHistoryService) ListByInstance(ctx context.Context, instanceID string) ([]*model.NodeHistoryModel, error) {
	return s.repo.ListByInstance(ctx, instanceID)
}

// Frontier 返回序号为 0 的节点,没有记录时返回 nil
func (s *NodeHistoryService) Frontier(ctx context.Context, instanceID string) (*model.NodeHistoryModel, error) {
	entries, err := s.repo.ListByInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.OrderNo == 0 {
			return e, nil
		}
	}
	return nil, nil
}

// Target 查找驳回目标节点,节点未办理过时返回 NOT_FOUND
func (s *NodeHistoryService) Target(ctx context.Context, instanceID, nodeID string) (*model.NodeHistoryModel, error) {
	entry, err := s.repo.FindByInstanceAndNode(ctx, instanceID, nodeID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, flowerr.NotFound("node %s has not been visited by this instance", nodeID)
	}
	return entry, nil
}

// TrimAfter 删除目标节点之后的记录,目标节点成为新的最远可驳回位置
func (s *NodeHistoryService) TrimAfter(ctx context.Context, target *model.NodeHistoryModel) error {
	return s.repo.TrimFrom(ctx, target.ProcessInstanceID, target.OrderNo+1)
}

// DeleteByInstances 清理实例的全部节点记录
func (s *NodeHistoryService) DeleteByInstances(ctx context.Context, instanceIDs []string) error {
	if err := s.repo.DeleteByInstances(ctx, instanceIDs); err != nil {
		return errors.WithMessage(err, "delete node history failed")
	}
	return nil
}
