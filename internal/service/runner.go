package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mautops/workflow-gin/internal/auth"
	"github.com/mautops/workflow-gin/internal/database"
	"github.com/mautops/workflow-gin/internal/flowerr"
	"github.com/mautops/workflow-gin/internal/lock"
	"github.com/mautops/workflow-gin/internal/metrics"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/mautops/workflow-gin/internal/service")

// unitOfWork 收集事务提交后才执行的副作用
type unitOfWork struct {
	notifications []NotifyRequest
	afterCommit   []func()
}

func (u *unitOfWork) notify(req NotifyRequest) {
	if len(req.Targets) > 0 {
		u.notifications = append(u.notifications, req)
	}
}

func (u *unitOfWork) onCommit(fn func()) {
	u.afterCommit = append(u.afterCommit, fn)
}

// actionRunner 串行化同一实例上的操作:实例锁 -> 事务 -> 提交后通知
type actionRunner struct {
	tx       *database.TxManager
	lock     lock.WorkflowLock
	lockTTL  time.Duration
	lockWait time.Duration
	notifier Notifier
	validate *validator.Validate
	logger   logrus.FieldLogger
}

func newActionRunner(tx *database.TxManager, l lock.WorkflowLock, ttl, wait time.Duration, notifier Notifier, logger logrus.FieldLogger) *actionRunner {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &actionRunner{
		tx:       tx,
		lock:     l,
		lockTTL:  ttl,
		lockWait: wait,
		notifier: notifier,
		validate: validator.New(),
		logger:   logger,
	}
}

// check 校验请求参数
func (r *actionRunner) check(req interface{}) error {
	if err := r.validate.Struct(req); err != nil {
		return flowerr.InvalidArgument("%v", err)
	}
	return nil
}

// actor 读取当前操作人
func (r *actionRunner) actor(ctx context.Context) (auth.Actor, error) {
	actor, err := auth.ActorFromContext(ctx)
	if err != nil {
		return auth.Actor{}, flowerr.Wrap(flowerr.KindInvalidArgument, err, "acting user is required")
	}
	return actor, nil
}

// run 在 lockKey 对应的锁和一个事务内执行 fn
func (r *actionRunner) run(ctx context.Context, action, lockKey string, fields logrus.Fields, fn func(ctx context.Context, uow *unitOfWork) error) error {
	ctx, span := tracer.Start(ctx, "workflow."+action)
	defer span.End()
	span.SetAttributes(attribute.String("workflow.lock_key", lockKey))

	uow := &unitOfWork{}
	err := lock.Synchronized(ctx, r.lock, lockKey, r.lockTTL, r.lockWait, func(ctx context.Context) error {
		return r.tx.Transaction(ctx, func(ctx context.Context) error {
			return fn(ctx, uow)
		})
	})
	if err != nil {
		err = r.fail(action, fields, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, flowerr.MessageOf(err))
		return err
	}

	metrics.RecordAction(action, "success")
	for _, f := range uow.afterCommit {
		f()
	}
	if r.notifier != nil {
		for _, n := range uow.notifications {
			r.notifier.Send(ctx, n)
		}
	}
	return nil
}

// runAll 操作涉及多个实例时按 key 排序逐个加锁,最后一把锁内开启事务
func (r *actionRunner) runAll(ctx context.Context, action string, lockKeys []string, fields logrus.Fields, fn func(ctx context.Context, uow *unitOfWork) error) error {
	keys := append([]string(nil), lockKeys...)
	sort.Strings(keys)
	var lockFrom func(ctx context.Context, i int) error
	lockFrom = func(ctx context.Context, i int) error {
		if i == len(keys)-1 {
			return r.run(ctx, action, keys[i], fields, fn)
		}
		return lock.Synchronized(ctx, r.lock, keys[i], r.lockTTL, r.lockWait, func(ctx context.Context) error {
			return lockFrom(ctx, i+1)
		})
	}
	if len(keys) == 0 {
		return nil
	}
	return lockFrom(ctx, 0)
}

// fail 记录失败,引擎错误带上下文写日志后包装为服务错误
func (r *actionRunner) fail(action string, fields logrus.Fields, err error) error {
	kind := flowerr.KindOf(err)
	metrics.RecordAction(action, string(kind))

	log := r.logger.WithFields(fields).WithField("action", action)
	if flowerr.IsExpected(err) {
		log.WithError(err).Debug("Workflow action rejected")
		return err
	}
	log.WithError(err).Error("Workflow action failed")
	var fe *flowerr.Error
	if errors.As(err, &fe) {
		return err
	}
	return flowerr.Engine(err, "%s failed", action)
}
