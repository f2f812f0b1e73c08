package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mautops/workflow-gin/internal/config"
	"github.com/mautops/workflow-gin/internal/database"
	"github.com/mautops/workflow-gin/internal/model"
	"github.com/mautops/workflow-gin/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestTx 创建测试数据库
func setupTestTx(t *testing.T) *database.TxManager {
	db, err := database.Connect(config.DatabaseConfig{Driver: database.DriverSQLite, DBName: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return database.NewTxManager(db)
}

func nodeEntry(instanceID, nodeID string, order int, assignee string) *model.NodeHistoryModel {
	now := time.Now()
	return &model.NodeHistoryModel{
		ID:                uuid.NewString(),
		ProcessInstanceID: instanceID,
		NodeID:            nodeID,
		NodeName:          nodeID,
		OrderNo:           order,
		TaskType:          model.NodeTaskTypeUserTask,
		Assignee:          assignee,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// TestNodeHistoryRepository_Order 测试顺序号与倒序列表
func TestNodeHistoryRepository_Order(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewNodeHistoryRepository(setupTestTx(t))

	next, err := repo.NextOrder(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 0, next)

	for i, node := range []string{"apply", "leader", "finance"} {
		require.NoError(t, repo.Create(ctx, nodeEntry("p1", node, i, "u")))
	}
	next, err = repo.NextOrder(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 3, next)

	rows, err := repo.ListByInstance(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "finance", rows[0].NodeID)
	assert.Equal(t, "apply", rows[2].NodeID)

	found, err := repo.FindByInstanceAndNode(ctx, "p1", "leader")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, 1, found.OrderNo)

	missing, err := repo.FindByInstanceAndNode(ctx, "p1", "ceo")
	require.NoError(t, err)
	assert.Nil(t, missing)

	// 同一节点不能重复插入
	assert.Error(t, repo.Create(ctx, nodeEntry("p1", "leader", 3, "x")))
}

// TestNodeHistoryRepository_TrimFrom 测试从指定顺序号开始截断
func TestNodeHistoryRepository_TrimFrom(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewNodeHistoryRepository(setupTestTx(t))
	for i, node := range []string{"n0", "n1", "n2", "n3"} {
		require.NoError(t, repo.Create(ctx, nodeEntry("p1", node, i, "u")))
	}

	require.NoError(t, repo.TrimFrom(ctx, "p1", 2))
	rows, err := repo.ListByInstance(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "n1", rows[0].NodeID)

	next, err := repo.NextOrder(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, next)
}

// TestNodeHistoryRepository_DeleteByInstances 测试批量删除
func TestNodeHistoryRepository_DeleteByInstances(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewNodeHistoryRepository(setupTestTx(t))
	require.NoError(t, repo.Create(ctx, nodeEntry("p1", "a", 0, "u")))
	require.NoError(t, repo.Create(ctx, nodeEntry("p2", "a", 0, "u")))
	require.NoError(t, repo.Create(ctx, nodeEntry("p3", "a", 0, "u")))

	require.NoError(t, repo.DeleteByInstances(ctx, []string{"p1", "p2", "missing"}))
	require.NoError(t, repo.DeleteByInstance(ctx, "missing"))

	rows, err := repo.ListByInstance(ctx, "p3")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	rows, err = repo.ListByInstance(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

// TestNodeHistoryRepository_Transaction 测试回滚后记录不落库
func TestNodeHistoryRepository_Transaction(t *testing.T) {
	tx := setupTestTx(t)
	repo := repository.NewNodeHistoryRepository(tx)

	err := tx.Transaction(context.Background(), func(ctx context.Context) error {
		if err := repo.Create(ctx, nodeEntry("p1", "a", 0, "u")); err != nil {
			return err
		}
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	rows, err := repo.ListByInstance(context.Background(), "p1")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

// TestAuditLogRepository_Save 测试保存与查询审计日志
func TestAuditLogRepository_Save(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewAuditLogRepository(setupTestTx(t))

	log := &model.AuditLogModel{
		ID:           uuid.NewString(),
		UserID:       "user-001",
		Action:       "complete",
		ResourceType: "task",
		ResourceID:   "task-001",
		Result:       "success",
		CreatedAt:    time.Now(),
	}
	require.NoError(t, repo.Save(ctx, log))
	assert.Error(t, repo.Save(ctx, &model.AuditLogModel{ID: "x"}))

	byUser, err := repo.FindByUserID(ctx, "user-001")
	require.NoError(t, err)
	assert.Len(t, byUser, 1)

	byResource, err := repo.FindByResource(ctx, "task", "task-001")
	require.NoError(t, err)
	require.Len(t, byResource, 1)
	assert.Equal(t, "complete", byResource[0].Action)
}

// TestNotificationRepository_Status 测试通知状态更新
func TestNotificationRepository_Status(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewNotificationRepository(setupTestTx(t))

	n := &model.NotificationModel{
		ID:                uuid.NewString(),
		ProcessInstanceID: "p1",
		Recipient:         "bob",
		Channel:           "system",
		Kind:              "todo",
		Message:           "hello",
		CreatedAt:         time.Now(),
		UpdatedAt:         time.Now(),
	}
	require.NoError(t, repo.Save(ctx, n))

	pending, err := repo.FindPending(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	require.NoError(t, repo.UpdateStatus(ctx, n.ID, model.NotificationSuccess, 1))
	pending, err = repo.FindPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	rows, err := repo.FindByRecipient(ctx, "bob", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, model.NotificationSuccess, rows[0].Status)
	assert.Equal(t, 1, rows[0].RetryCount)
}

// TestDefinitionConfigRepository_Binding 测试业务表绑定覆盖
func TestDefinitionConfigRepository_Binding(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewDefinitionConfigRepository(setupTestTx(t))
	now := time.Now()

	require.NoError(t, repo.SaveBinding(ctx, &model.DefinitionConfigModel{
		ID: uuid.NewString(), BusinessTable: "leave_apply", DefinitionKey: "leave", CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, repo.SaveBinding(ctx, &model.DefinitionConfigModel{
		ID: uuid.NewString(), BusinessTable: "leave_apply", DefinitionKey: "leave_v2", CreatedAt: now, UpdatedAt: now,
	}))

	cfg, err := repo.FindByTable(ctx, "leave_apply", "")
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "leave_v2", cfg.DefinitionKey)

	none, err := repo.FindByTable(ctx, "unknown", "")
	require.NoError(t, err)
	assert.Nil(t, none)
}

// TestDefinitionConfigRepository_NodeConfig 测试节点配置覆盖
func TestDefinitionConfigRepository_NodeConfig(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewDefinitionConfigRepository(setupTestTx(t))
	now := time.Now()

	save := func(formPath string) {
		require.NoError(t, repo.SaveNodeConfig(ctx, &model.NodeConfigModel{
			ID: uuid.NewString(), DefinitionKey: "leave", NodeID: "apply", FormType: "static",
			FormPath: formPath, ApplyUserTask: true, CreatedAt: now, UpdatedAt: now,
		}))
	}
	save("/leave/apply")
	save("/leave/apply/v2")

	rows, err := repo.FindNodeConfigs(ctx, "leave")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "/leave/apply/v2", rows[0].FormPath)
	assert.True(t, rows[0].ApplyUserTask)
}
