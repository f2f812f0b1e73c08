package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mautops/workflow-gin/internal/auth"
	"github.com/mautops/workflow-gin/internal/service"
)

// NotificationController 站内消息
type NotificationController struct {
	notifications *service.NotificationService
}

// NewNotificationController 创建站内消息控制器
func NewNotificationController(notifications *service.NotificationService) *NotificationController {
	return &NotificationController{notifications: notifications}
}

// Notification 站内消息
type Notification struct {
	ID                string `json:"id"`
	ProcessInstanceID string `json:"process_instance_id"`
	TaskID            string `json:"task_id,omitempty"`
	Channel           string `json:"channel"`
	Kind              string `json:"kind"`
	Message           string `json:"message"`
	Status            string `json:"status"`
	CreatedAt         int64  `json:"created_at"`
}

// Inbox 当前用户最近的消息
// @Summary      我的消息
// @Tags         消息
// @Produce      json
// @Param        limit query int false "条数" default(50)
// @Success      200  {object}  Response{data=[]Notification}
// @Router       /notifications [get]
// @Security     BearerAuth
func (c *NotificationController) Inbox(ctx *gin.Context) {
	actor, err := auth.ActorFromContext(ctx.Request.Context())
	if err != nil {
		Error(ctx, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}
	limit, err := strconv.Atoi(ctx.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		Error(ctx, http.StatusBadRequest, "invalid limit", "limit must be a positive integer")
		return
	}

	items, err := c.notifications.Inbox(ctx.Request.Context(), actor.UserID, limit)
	if err != nil {
		WriteError(ctx, err)
		return
	}
	out := make([]Notification, 0, len(items))
	for _, n := range items {
		out = append(out, Notification{
			ID:                n.ID,
			ProcessInstanceID: n.ProcessInstanceID,
			TaskID:            n.TaskID,
			Channel:           n.Channel,
			Kind:              n.Kind,
			Message:           n.Message,
			Status:            n.Status,
			CreatedAt:         n.CreatedAt.Unix(),
		})
	}
	Success(ctx, out)
}
