package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/mautops/workflow-gin/internal/model"
	"github.com/mautops/workflow-gin/internal/repository"
)

// 审计资源类型
const (
	ResourceInstance   = "process_instance"
	ResourceTask       = "task"
	ResourceDefinition = "definition"
)

// 请求信息在 context 中的 key,由 api 层中间件写入
type requestInfoKey string

const (
	requestIDKey requestInfoKey = "request_id"
	clientIPKey  requestInfoKey = "ip"
	userAgentKey requestInfoKey = "user_agent"
)

// WithRequestInfo 将请求 ID、客户端 IP、User Agent 放入 context
func WithRequestInfo(ctx context.Context, requestID, ip, userAgent string) context.Context {
	ctx = context.WithValue(ctx, requestIDKey, requestID)
	ctx = context.WithValue(ctx, clientIPKey, ip)
	return context.WithValue(ctx, userAgentKey, userAgent)
}

func stringValue(ctx context.Context, key requestInfoKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// RequestID 从 context 获取请求 ID
func RequestID(ctx context.Context) string {
	return stringValue(ctx, requestIDKey)
}

// GetClientIP 从 context 获取客户端 IP
func GetClientIP(ctx context.Context) string {
	return stringValue(ctx, clientIPKey)
}

// GetUserAgent 从 context 获取 User Agent
func GetUserAgent(ctx context.Context) string {
	return stringValue(ctx, userAgentKey)
}

// AuditEntry 一条操作审计
type AuditEntry struct {
	UserID       string
	TenantID     string
	Action       string
	ResourceType string
	ResourceID   string
	Result       string // 为空时记为 success
	Details      interface{}
}

// AuditLogService 审计日志服务
type AuditLogService interface {
	RecordAction(ctx context.Context, entry AuditEntry) error
	ListByResource(ctx context.Context, resourceType, resourceID string) ([]*model.AuditLogModel, error)
}

type auditLogService struct {
	auditRepo repository.AuditLogRepository
}

// NewAuditLogService 创建审计日志服务
func NewAuditLogService(auditRepo repository.AuditLogRepository) AuditLogService {
	return &auditLogService{auditRepo: auditRepo}
}

// RecordAction 记录操作审计日志,在调用方的事务中写入
func (s *auditLogService) RecordAction(ctx context.Context, entry AuditEntry) error {
	details := ""
	if entry.Details != nil {
		b, err := json.Marshal(entry.Details)
		if err != nil {
			return err
		}
		details = string(b)
	}
	result := entry.Result
	if result == "" {
		result = "success"
	}

	return s.auditRepo.Save(ctx, &model.AuditLogModel{
		ID:           uuid.New().String(),
		UserID:       entry.UserID,
		TenantID:     entry.TenantID,
		Action:       entry.Action,
		ResourceType: entry.ResourceType,
		ResourceID:   entry.ResourceID,
		Result:       result,
		RequestID:    RequestID(ctx),
		IP:           GetClientIP(ctx),
		UserAgent:    GetUserAgent(ctx),
		Details:      details,
		CreatedAt:    time.Now(),
	})
}

func (s *auditLogService) ListByResource(ctx context.Context, resourceType, resourceID string) ([]*model.AuditLogModel, error) {
	return s.auditRepo.FindByResource(ctx, resourceType, resourceID)
}
