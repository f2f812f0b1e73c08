package lock_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/mautops/workflow-gin/internal/flowerr"
	"github.com/mautops/workflow-gin/internal/lock"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisLock(t *testing.T) (lock.WorkflowLock, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return lock.NewRedisWorkflowLock(client), mr
}

func implementations(t *testing.T) map[string]lock.WorkflowLock {
	redisLock, _ := newRedisLock(t)
	return map[string]lock.WorkflowLock{
		"local": lock.NewLocalWorkflowLock(),
		"redis": redisLock,
	}
}

// TestWorkflowLock_NonBlocking 测试锁被占用时立刻失败
func TestWorkflowLock_NonBlocking(t *testing.T) {
	for name, l := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := lock.InstanceKey("p1")

			err := l.NonBlockingSynchronized(ctx, key, time.Second, func(context.Context) error {
				// 不同 ctx 链路无法再次获取
				inner := l.NonBlockingSynchronized(context.Background(), key, time.Second, func(context.Context) error {
					return nil
				})
				assert.True(t, errors.Is(inner, lock.ErrLockFailed))
				return nil
			})
			require.NoError(t, err)

			// 释放后可再次获取
			err = l.NonBlockingSynchronized(ctx, key, time.Second, func(context.Context) error { return nil })
			assert.NoError(t, err)
		})
	}
}

// TestWorkflowLock_Reentrant 测试同一 ctx 链路可重入
func TestWorkflowLock_Reentrant(t *testing.T) {
	for name, l := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			key := lock.InstanceKey("p1")
			called := false
			err := l.NonBlockingSynchronized(context.Background(), key, time.Second, func(ctx context.Context) error {
				return l.NonBlockingSynchronized(ctx, key, time.Second, func(context.Context) error {
					called = true
					return nil
				})
			})
			require.NoError(t, err)
			assert.True(t, called)
		})
	}
}

// TestWorkflowLock_PropagatesError 测试业务错误透传
func TestWorkflowLock_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	for name, l := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			err := l.NonBlockingSynchronized(context.Background(), "k", time.Second, func(context.Context) error {
				return boom
			})
			assert.Equal(t, boom, err)
		})
	}
}

// TestRedisLock_ReleasesKey 测试执行结束后 redis 中的 key 被删除
func TestRedisLock_ReleasesKey(t *testing.T) {
	l, mr := newRedisLock(t)
	key := lock.InstanceKey("p1")
	err := l.NonBlockingSynchronized(context.Background(), key, time.Minute, func(context.Context) error {
		assert.True(t, mr.Exists(key))
		return nil
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists(key))
}

// TestSynchronized_Serializes 测试阻塞锁串行执行
func TestSynchronized_Serializes(t *testing.T) {
	l := lock.NewLocalWorkflowLock()
	key := lock.InstanceKey("p1")

	var running, maxRunning int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := lock.Synchronized(context.Background(), l, key, time.Second, 5*time.Second, func(context.Context) error {
				n := atomic.AddInt32(&running, 1)
				for {
					m := atomic.LoadInt32(&maxRunning)
					if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxRunning)
}

// TestSynchronized_Timeout 测试等待超时返回冲突错误
func TestSynchronized_Timeout(t *testing.T) {
	l := lock.NewLocalWorkflowLock()
	key := lock.InstanceKey("p1")

	hold := make(chan struct{})
	acquired := make(chan struct{})
	go func() {
		_ = l.NonBlockingSynchronized(context.Background(), key, time.Minute, func(context.Context) error {
			close(acquired)
			<-hold
			return nil
		})
	}()
	<-acquired
	defer close(hold)

	err := lock.Synchronized(context.Background(), l, key, time.Second, 100*time.Millisecond, func(context.Context) error {
		return nil
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, flowerr.ErrConflict))
}
