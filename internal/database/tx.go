package database

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

type contextKey string

const transactionContextKey contextKey = "transaction"

// TxManager 基于 context 传递的事务管理
// 同一个 context 链路上嵌套调用 Transaction 时复用外层事务
type TxManager struct {
	db *gorm.DB
}

// NewTxManager 创建事务管理器
func NewTxManager(db *gorm.DB) *TxManager {
	return &TxManager{db: db}
}

// DB 返回当前 context 中的事务,没有事务时返回普通连接
func (m *TxManager) DB(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(transactionContextKey).(*gorm.DB); ok {
		return tx
	}
	return m.db.WithContext(ctx)
}

// InTransaction 判断 context 中是否已开启事务
func InTransaction(ctx context.Context) bool {
	_, ok := ctx.Value(transactionContextKey).(*gorm.DB)
	return ok
}

// Transaction 在事务中执行 fn,fn 返回错误或 panic 时回滚
func (m *TxManager) Transaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if InTransaction(ctx) {
		return fn(ctx)
	}

	tx := m.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return errors.WithMessage(tx.Error, "begin transaction failed")
	}

	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
		if err != nil {
			tx.Rollback()
			return
		}
		if commitErr := tx.Commit().Error; commitErr != nil {
			err = errors.WithMessage(commitErr, "commit transaction failed")
		}
	}()

	return fn(context.WithValue(ctx, transactionContextKey, tx))
}
