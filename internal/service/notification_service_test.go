package service_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mautops/workflow-gin/internal/config"
	"github.com/mautops/workflow-gin/internal/database"
	"github.com/mautops/workflow-gin/internal/model"
	"github.com/mautops/workflow-gin/internal/repository"
	"github.com/mautops/workflow-gin/internal/service"
	"github.com/mautops/workflow-gin/internal/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newNotificationRepo(t *testing.T) repository.NotificationRepository {
	db, err := database.Connect(config.DatabaseConfig{Driver: database.DriverSQLite, DBName: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return repository.NewNotificationRepository(database.NewTxManager(db))
}

// TestNotificationService_System 站内通知推送到在线用户,离线用户保存在收件箱
func TestNotificationService_System(t *testing.T) {
	repo := newNotificationRepo(t)
	hub := websocket.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	client := websocket.NewClient("c1", "bob", hub, nil)
	hub.Register <- client
	require.Eventually(t, func() bool { return hub.Online("bob") }, time.Second, 10*time.Millisecond)

	svc := service.NewNotificationService(repo, config.WorkflowConfig{NotifyWorkers: 2}, nil, service.NewSystemChannel(hub))
	svc.Start(ctx)
	svc.Send(ctx, service.NotifyRequest{
		Kind:              service.NotifyTodo,
		ProcessInstanceID: "inst-1",
		InstanceName:      "请假申请",
		Targets: []service.NotifyTarget{
			{TaskID: "task-1", UserID: "bob"},
			{TaskID: "task-2", UserID: "carol"},
			{TaskID: "task-1", UserID: "bob"},
		},
	})
	svc.Stop()

	select {
	case msg := <-client.Send:
		var payload map[string]interface{}
		require.NoError(t, json.Unmarshal(msg, &payload))
		assert.Equal(t, "有新的【请假申请】单据已经提交至您的待办，请您及时处理。", payload["message"])
		assert.Equal(t, "task-1", payload["task_id"])
	default:
		t.Fatal("online user did not receive the notification")
	}
	assert.Empty(t, client.Send)

	inbox, err := svc.Inbox(ctx, "carol", 0)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, model.NotificationSuccess, inbox[0].Status)
	assert.Equal(t, service.ChannelSystem, inbox[0].Channel)

	inbox, err = svc.Inbox(ctx, "bob", 0)
	require.NoError(t, err)
	assert.Len(t, inbox, 1)
}

// TestNotificationService_Webhook 服务端错误重试,客户端错误直接失败
func TestNotificationService_Webhook(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if payload["recipient"] == "rejected" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ch := service.NewWebhookChannel(server.URL, 3, server.Client())
	ctx := context.Background()

	attempts, err := ch.Deliver(ctx, &model.NotificationModel{ID: "n1", Recipient: "bob", Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	attempts, err = ch.Deliver(ctx, &model.NotificationModel{ID: "n2", Recipient: "rejected", Message: "hi"})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

// TestNotificationService_RedeliverPending 启动时补投未完成的通知
func TestNotificationService_RedeliverPending(t *testing.T) {
	repo := newNotificationRepo(t)
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, repo.Save(ctx, &model.NotificationModel{
		ID:                "pending-1",
		ProcessInstanceID: "inst-1",
		Recipient:         "dave",
		Channel:           service.ChannelSystem,
		Kind:              service.NotifyUrge,
		Message:           "请尽快审批",
		Status:            model.NotificationPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}))
	require.NoError(t, repo.Save(ctx, &model.NotificationModel{
		ID:                "pending-2",
		ProcessInstanceID: "inst-1",
		Recipient:         "dave",
		Channel:           "sms",
		Kind:              service.NotifyUrge,
		Message:           "请尽快审批",
		Status:            model.NotificationPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}))

	svc := service.NewNotificationService(repo, config.WorkflowConfig{}, nil, service.NewSystemChannel(websocket.NewHub()))
	svc.Start(ctx)
	svc.Stop()

	pending, err := repo.FindPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	inbox, err := svc.Inbox(ctx, "dave", 10)
	require.NoError(t, err)
	statuses := map[string]string{}
	for _, n := range inbox {
		statuses[n.ID] = n.Status
	}
	assert.Equal(t, map[string]string{
		"pending-1": model.NotificationSuccess,
		"pending-2": model.NotificationFailed,
	}, statuses)
}

// TestNotifyRequest_Text 未指定文案时按类型生成
func TestNotifyRequest_Text(t *testing.T) {
	assert.Equal(t, "您的【报销】单据已经被驳回，请您注意查收。",
		service.NotifyRequest{Kind: service.NotifyReject, InstanceName: "报销"}.Text())
	assert.Equal(t, "自定义", service.NotifyRequest{Kind: service.NotifyUrge, Message: "自定义"}.Text())
}
