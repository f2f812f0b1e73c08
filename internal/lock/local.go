package lock

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// NewLocalWorkflowLock 创建进程内锁,适用于单实例部署和测试
func NewLocalWorkflowLock() WorkflowLock {
	return &localWorkflowLock{locks: &sync.Map{}}
}

type localWorkflowLock struct {
	locks *sync.Map // key -> *localLockInfo
}

type localLockInfo struct {
	mu    sync.Mutex
	state sync.Mutex // 保护 value/timer
	value string
	timer *time.Timer
}

func (l *localWorkflowLock) NonBlockingSynchronized(ctx context.Context, key string, maxLockTimeDuration time.Duration, f func(context.Context) error) error {
	if _, ok := ctx.Value(lockKey(key)).(string); ok {
		return f(ctx)
	}

	value := randomValue()
	v, _ := l.locks.LoadOrStore(key, &localLockInfo{})
	info := v.(*localLockInfo)

	if !info.mu.TryLock() {
		return errors.WithMessage(ErrLockFailed, "[localWorkflowLock.NonBlockingSynchronized] has been locked")
	}

	info.state.Lock()
	info.value = value
	info.timer = time.AfterFunc(maxLockTimeDuration, func() {
		logrus.WithField("key", key).Warn("local lock expired before release")
		l.release(info, value)
	})
	info.state.Unlock()

	defer l.release(info, value)
	return f(context.WithValue(ctx, lockKey(key), value))
}

func (l *localWorkflowLock) release(info *localLockInfo, value string) {
	info.state.Lock()
	defer info.state.Unlock()
	if info.value != value {
		return
	}
	if info.timer != nil {
		info.timer.Stop()
	}
	info.value = ""
	info.timer = nil
	info.mu.Unlock()
}
