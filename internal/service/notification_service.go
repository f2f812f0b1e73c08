package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/mautops/workflow-gin/internal/config"
	"github.com/mautops/workflow-gin/internal/metrics"
	"github.com/mautops/workflow-gin/internal/model"
	"github.com/mautops/workflow-gin/internal/repository"
	"github.com/mautops/workflow-gin/internal/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// 通知类型
const (
	NotifyTodo   = "todo"
	NotifyReject = "reject"
	NotifyUrge   = "urge"
)

// 通知通道
const (
	ChannelSystem  = "system"
	ChannelWebhook = "webhook"
)

const (
	todoMessageFormat   = "有新的【%s】单据已经提交至您的待办，请您及时处理。"
	rejectMessageFormat = "您的【%s】单据已经被驳回，请您注意查收。"
)

// NotifyTarget 通知接收人及关联任务
type NotifyTarget struct {
	TaskID string
	UserID string
}

// NotifyRequest 一次通知
type NotifyRequest struct {
	Kind              string
	ProcessInstanceID string
	InstanceName      string
	Targets           []NotifyTarget
	Channels          []string
	Message           string // 为空时按类型生成默认文案
}

// Text 返回通知文案
func (r NotifyRequest) Text() string {
	if r.Message != "" {
		return r.Message
	}
	if r.Kind == NotifyReject {
		return fmt.Sprintf(rejectMessageFormat, r.InstanceName)
	}
	return fmt.Sprintf(todoMessageFormat, r.InstanceName)
}

// Notifier 异步通知,调用方在事务提交后调用,Send 不会阻塞也不返回错误
type Notifier interface {
	Send(ctx context.Context, req NotifyRequest)
}

// NotificationChannel 通知投递通道
type NotificationChannel interface {
	Name() string
	// Deliver 投递一条通知,返回尝试次数
	Deliver(ctx context.Context, n *model.NotificationModel) (int, error)
}

// NotificationService 通知服务,落库后由固定数量的 worker 投递
type NotificationService struct {
	repo            repository.NotificationRepository
	channels        map[string]NotificationChannel
	defaultChannels []string
	workers         int
	logger          logrus.FieldLogger

	queue   chan NotifyRequest
	wg      sync.WaitGroup
	mu      sync.RWMutex
	stopped bool
}

var _ Notifier = (*NotificationService)(nil)

// NewNotificationService 创建通知服务
func NewNotificationService(
	repo repository.NotificationRepository,
	cfg config.WorkflowConfig,
	logger logrus.FieldLogger,
	channels ...NotificationChannel,
) *NotificationService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	workers := cfg.NotifyWorkers
	if workers <= 0 {
		workers = 1
	}
	size := cfg.NotifyQueueSize
	if size <= 0 {
		size = 100
	}
	defaults := cfg.DefaultChannels
	if len(defaults) == 0 {
		defaults = []string{ChannelSystem}
	}

	byName := make(map[string]NotificationChannel, len(channels))
	for _, ch := range channels {
		byName[ch.Name()] = ch
	}
	return &NotificationService{
		repo:            repo,
		channels:        byName,
		defaultChannels: defaults,
		workers:         workers,
		logger:          logger.WithField("component", "notification"),
		queue:           make(chan NotifyRequest, size),
	}
}

// Start 启动投递 worker,并补投上次退出时未完成的通知
func (s *NotificationService) Start(ctx context.Context) {
	// 先取出遗留的通知,避免与本次新入库的通知重复投递
	pending, err := s.repo.FindPending(ctx, 500)
	if err != nil {
		s.logger.WithError(err).Warn("Load pending notifications failed")
	}
	if len(pending) > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for _, n := range pending {
				s.deliverOne(ctx, n, false)
			}
		}()
	}

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for req := range s.queue {
				s.deliver(ctx, req)
			}
		}()
	}
}

// Stop 停止接收新通知,等待队列中的通知投递完成
func (s *NotificationService) Stop() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.queue)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Send 通知入队,队列已满时丢弃并记录告警
func (s *NotificationService) Send(_ context.Context, req NotifyRequest) {
	if len(req.Targets) == 0 {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		s.logger.WithField("process_instance_id", req.ProcessInstanceID).Warn("Notification service stopped, dropping notification")
		return
	}
	select {
	case s.queue <- req:
	default:
		metrics.RecordNotification("queue", "dropped")
		s.logger.WithFields(logrus.Fields{
			"process_instance_id": req.ProcessInstanceID,
			"kind":                req.Kind,
			"targets":             len(req.Targets),
		}).Warn("Notification queue is full, dropping notification")
	}
}

// deliver 按接收人与通道扇出投递
func (s *NotificationService) deliver(ctx context.Context, req NotifyRequest) {
	channels := req.Channels
	if len(channels) == 0 {
		channels = s.defaultChannels
	}
	text := req.Text()

	var g errgroup.Group
	g.SetLimit(4)
	seen := make(map[string]bool)
	for _, target := range req.Targets {
		if target.UserID == "" {
			continue
		}
		for _, name := range channels {
			key := target.UserID + "/" + name
			if seen[key] {
				continue
			}
			seen[key] = true

			n := &model.NotificationModel{
				ID:                uuid.NewString(),
				ProcessInstanceID: req.ProcessInstanceID,
				TaskID:            target.TaskID,
				Recipient:         target.UserID,
				Channel:           name,
				Kind:              req.Kind,
				Message:           text,
				Status:            model.NotificationPending,
				CreatedAt:         time.Now(),
				UpdatedAt:         time.Now(),
			}
			g.Go(func() error {
				s.deliverOne(ctx, n, true)
				return nil
			})
		}
	}
	_ = g.Wait()
}

// deliverOne 投递单条通知并更新状态,persist 为 true 时先落库
func (s *NotificationService) deliverOne(ctx context.Context, n *model.NotificationModel, persist bool) {
	log := s.logger.WithFields(logrus.Fields{
		"notification_id": n.ID,
		"recipient":       n.Recipient,
		"channel":         n.Channel,
	})
	if persist {
		if err := s.repo.Save(ctx, n); err != nil {
			log.WithError(err).Error("Save notification failed")
			metrics.RecordNotification(n.Channel, "error")
			return
		}
	}

	ch, ok := s.channels[n.Channel]
	if !ok {
		log.Warn("Unknown notification channel")
		metrics.RecordNotification(n.Channel, "unknown")
		_ = s.repo.UpdateStatus(ctx, n.ID, model.NotificationFailed, n.RetryCount)
		return
	}

	attempts, err := ch.Deliver(ctx, n)
	result := model.NotificationSuccess
	if err != nil {
		result = model.NotificationFailed
		log.WithError(err).WithField("attempts", attempts).Warn("Deliver notification failed")
	}
	metrics.RecordNotification(n.Channel, result)
	if err := s.repo.UpdateStatus(ctx, n.ID, result, n.RetryCount+attempts); err != nil {
		log.WithError(err).Error("Update notification status failed")
	}
}

// Inbox 返回用户最近收到的通知
func (s *NotificationService) Inbox(ctx context.Context, userID string, limit int) ([]*model.NotificationModel, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.FindByRecipient(ctx, userID, limit)
}

// SystemChannel 站内通知,推送到用户的 WebSocket 连接
// 用户不在线时通知仍保存在收件箱中
type SystemChannel struct {
	hub *websocket.Hub
}

// NewSystemChannel 创建站内通知通道
func NewSystemChannel(hub *websocket.Hub) *SystemChannel {
	return &SystemChannel{hub: hub}
}

func (c *SystemChannel) Name() string { return ChannelSystem }

func (c *SystemChannel) Deliver(_ context.Context, n *model.NotificationModel) (int, error) {
	payload, err := json.Marshal(notificationPayload(n))
	if err != nil {
		return 1, err
	}
	c.hub.SendToUser(n.Recipient, payload)
	return 1, nil
}

// WebhookChannel 以 HTTP POST 投递到外部消息网关,失败按指数退避重试
type WebhookChannel struct {
	url        string
	client     *http.Client
	maxRetries int
}

// NewWebhookChannel 创建 webhook 通道
func NewWebhookChannel(url string, maxRetries int, client *http.Client) *WebhookChannel {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &WebhookChannel{url: url, client: client, maxRetries: maxRetries}
}

func (c *WebhookChannel) Name() string { return ChannelWebhook }

func (c *WebhookChannel) Deliver(ctx context.Context, n *model.NotificationModel) (int, error) {
	body, err := json.Marshal(notificationPayload(n))
	if err != nil {
		return 0, err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxElapsedTime = time.Minute

	attempts := 0
	err = backoff.Retry(func() error {
		attempts++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("webhook returned %d", resp.StatusCode)
		case resp.StatusCode >= 400:
			return backoff.Permanent(fmt.Errorf("webhook rejected notification: %d", resp.StatusCode))
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.maxRetries)), ctx))
	return attempts, err
}

func notificationPayload(n *model.NotificationModel) map[string]interface{} {
	return map[string]interface{}{
		"id":                  n.ID,
		"kind":                n.Kind,
		"recipient":           n.Recipient,
		"message":             n.Message,
		"process_instance_id": n.ProcessInstanceID,
		"task_id":             n.TaskID,
		"created_at":          n.CreatedAt,
	}
}
