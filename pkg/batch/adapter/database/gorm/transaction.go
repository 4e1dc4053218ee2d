package gorm

import (
	"context"
	"database/sql"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
)

// GormTx is a tx.Tx over an open gorm transaction.
type GormTx struct {
	db *gorm.DB
	// source is the connection the transaction was begun on.
	source *gorm.DB
}

// Source returns the connection the transaction was begun on.
func (t *GormTx) Source() *gorm.DB {
	return t.source
}

// On reports whether the transaction runs on the connection db.
func (t *GormTx) On(db *gorm.DB) bool {
	return SameConnection(t.source, db)
}

// DB exposes the transaction handle so gorm-based repositories can join it.
func (t *GormTx) DB() *gorm.DB {
	return t.db
}

func (t *GormTx) ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (int64, error) {
	db := t.db.WithContext(ctx)
	if tableName != "" {
		db = db.Table(tableName)
	}
	onConflict := clause.OnConflict{}
	for _, col := range conflictColumns {
		onConflict.Columns = append(onConflict.Columns, clause.Column{Name: col})
	}
	if len(updateColumns) > 0 {
		onConflict.DoUpdates = clause.AssignmentColumns(updateColumns)
	} else {
		onConflict.DoNothing = true
	}
	result := db.Clauses(onConflict).Create(model)
	return result.RowsAffected, result.Error
}

func (t *GormTx) Savepoint(name string) error {
	return t.db.SavePoint(name).Error
}

func (t *GormTx) RollbackToSavepoint(name string) error {
	return t.db.RollbackTo(name).Error
}

// GormTransactionManager begins transactions on a single gorm connection.
type GormTransactionManager struct {
	db *gorm.DB
}

var _ tx.TransactionManager = (*GormTransactionManager)(nil)

func NewGormTransactionManager(db *gorm.DB) *GormTransactionManager {
	return &GormTransactionManager{db: db}
}

func (m *GormTransactionManager) Begin(ctx context.Context, opts ...*sql.TxOptions) (tx.Tx, error) {
	var txOpts *sql.TxOptions
	if len(opts) > 0 {
		txOpts = opts[0]
	}
	gtx := m.db.WithContext(ctx).Begin(txOpts)
	if gtx.Error != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", gtx.Error)
	}
	return &GormTx{db: gtx, source: m.db}, nil
}

func (m *GormTransactionManager) Commit(t tx.Tx) error {
	g, ok := t.(*GormTx)
	if !ok {
		return fmt.Errorf("invalid transaction type %T, expected *GormTx", t)
	}
	return g.db.Commit().Error
}

func (m *GormTransactionManager) Rollback(t tx.Tx) error {
	g, ok := t.(*GormTx)
	if !ok {
		return fmt.Errorf("invalid transaction type %T, expected *GormTx", t)
	}
	return g.db.Rollback().Error
}

// DBFromContext returns the gorm transaction carried by ctx when it was begun on
// fallback's connection, and fallback otherwise. A transaction on another database is
// never joined.
func DBFromContext(ctx context.Context, fallback *gorm.DB) *gorm.DB {
	if t, ok := tx.FromContext(ctx); ok {
		if g, ok := t.(*GormTx); ok && g.On(fallback) {
			return g.db.WithContext(ctx)
		}
	}
	return fallback.WithContext(ctx)
}

// SameConnection reports whether a and b share one connection pool.
func SameConnection(a, b *gorm.DB) bool {
	if a == nil || b == nil {
		return false
	}
	if a == b {
		return true
	}
	poolA, errA := a.DB()
	poolB, errB := b.DB()
	return errA == nil && errB == nil && poolA == poolB
}
