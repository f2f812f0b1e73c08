package auth

import (
	"context"
	"errors"
)

// ErrNoActor 上下文中没有当前用户
var ErrNoActor = errors.New("no authenticated actor in context")

// Actor 当前操作人
type Actor struct {
	UserID   string
	Name     string
	TenantID string
	Groups   []string
	Admin    bool // 管理员可跳过办理人校验
}

// DisplayName 返回显示名,没有昵称时使用用户 ID
func (a Actor) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.UserID
}

type actorKey struct{}

// WithActor 将操作人放入上下文
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext 从上下文读取操作人
func ActorFromContext(ctx context.Context) (Actor, error) {
	actor, ok := ctx.Value(actorKey{}).(Actor)
	if !ok || actor.UserID == "" {
		return Actor{}, ErrNoActor
	}
	return actor, nil
}

// ActorFromClaims 由 Keycloak 声明构造操作人
func ActorFromClaims(claims *KeycloakClaims, adminRoles []string) Actor {
	actor := Actor{
		UserID:   claims.PreferredUsername,
		Name:     claims.Name,
		TenantID: claims.TenantID,
		Groups:   claims.Groups,
	}
	if actor.UserID == "" {
		actor.UserID = claims.Sub
	}
	for _, role := range claims.RealmAccess.Roles {
		for _, admin := range adminRoles {
			if role == admin {
				actor.Admin = true
			}
		}
	}
	return actor
}
