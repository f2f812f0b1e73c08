package service

import (
	"context"

	"github.com/mautops/workflow-gin/internal/auth"
	"github.com/mautops/workflow-gin/internal/engine"
)

// AttachmentService 任务附件
type AttachmentService interface {
	// Attach 将已上传的文件关联到任务与实例
	Attach(ctx context.Context, task *engine.Task, fileIDs []string) error
	List(ctx context.Context, instanceID string) ([]*engine.Attachment, error)
}

type attachmentService struct {
	engine engine.ProcessEngine
}

// NewAttachmentService 创建附件服务
func NewAttachmentService(eng engine.ProcessEngine) AttachmentService {
	return &attachmentService{engine: eng}
}

func (s *attachmentService) Attach(ctx context.Context, task *engine.Task, fileIDs []string) error {
	if len(fileIDs) == 0 {
		return nil
	}
	actor, err := auth.ActorFromContext(ctx)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(fileIDs))
	for _, id := range fileIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if _, err := s.engine.AddAttachment(ctx, engine.Attachment{
			TaskID:            task.ID,
			ProcessInstanceID: task.ProcessInstanceID,
			FileID:            id,
			UserID:            actor.UserID,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *attachmentService) List(ctx context.Context, instanceID string) ([]*engine.Attachment, error) {
	return s.engine.Attachments(ctx, instanceID)
}
