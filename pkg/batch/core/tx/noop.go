package tx

import (
	"context"
	"database/sql"
	"errors"
)

// ErrNoDatabase is returned by the no-op transaction when a writer tries to use it for SQL.
var ErrNoDatabase = errors.New("no transactional database configured")

// NoOpTransactionManager is used when neither the sink nor the repository is transactional.
// Commit boundaries still exist; they just have nothing to flush.
type NoOpTransactionManager struct{}

func NewNoOpTransactionManager() *NoOpTransactionManager {
	return &NoOpTransactionManager{}
}

func (m *NoOpTransactionManager) Begin(ctx context.Context, opts ...*sql.TxOptions) (Tx, error) {
	return noOpTx{}, nil
}

func (m *NoOpTransactionManager) Commit(Tx) error { return nil }

func (m *NoOpTransactionManager) Rollback(Tx) error { return nil }

type noOpTx struct{}

func (noOpTx) ExecuteUpsert(context.Context, interface{}, string, []string, []string) (int64, error) {
	return 0, ErrNoDatabase
}

func (noOpTx) Savepoint(string) error { return nil }

func (noOpTx) RollbackToSavepoint(string) error { return nil }
