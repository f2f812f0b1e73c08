package lock

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mautops/workflow-gin/internal/flowerr"
	"github.com/mautops/workflow-gin/internal/metrics"
	"github.com/pkg/errors"
)

var (
	ErrLockFailed  = errors.New("lock failed")
	ErrLockTimeout = errors.New("wait lock time out")
)

type lockKey string

// WorkflowLock 流程实例锁
type WorkflowLock interface {
	// NonBlockingSynchronized 非阻塞同步块,拿不到锁立刻返回 ErrLockFailed;同一 ctx 链路上可重入
	NonBlockingSynchronized(ctx context.Context, key string, maxLockTimeDuration time.Duration, f func(context.Context) error) error
}

// InstanceKey 返回流程实例对应的锁 key
func InstanceKey(instanceID string) string {
	return "workflow:instance:" + instanceID
}

// BusinessKey 返回业务单据对应的锁 key,发起流程时实例尚不存在
func BusinessKey(businessKey string) string {
	return "workflow:business:" + businessKey
}

// DefinitionKey 流程定义部署锁
func DefinitionKey(key string) string {
	return "workflow:definition:" + key
}

// Synchronized 阻塞同步块,在 wait 时间内按退避策略重试获取锁
// 超时返回 CONFLICT 类型错误
func Synchronized(ctx context.Context, l WorkflowLock, key string, ttl, wait time.Duration, f func(context.Context) error) error {
	start := time.Now()
	acquired := false

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 20 * time.Millisecond
	policy.MaxInterval = 500 * time.Millisecond
	policy.MaxElapsedTime = wait

	var fnErr error
	err := backoff.Retry(func() error {
		err := l.NonBlockingSynchronized(ctx, key, ttl, func(ctx context.Context) error {
			acquired = true
			metrics.ObserveLockWait(time.Since(start))
			fnErr = f(ctx)
			return nil
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrLockFailed) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(policy, ctx))

	if acquired {
		return fnErr
	}
	if errors.Is(err, ErrLockFailed) {
		return flowerr.Wrap(flowerr.KindConflict, ErrLockTimeout, "instance is being processed by another request, please retry")
	}
	return err
}

func randomValue() string {
	return fmt.Sprintf("%d_%d", rand.Int(), time.Now().UnixNano())
}
