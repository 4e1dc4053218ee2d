// Package tx abstracts the commit boundary of a chunk. The executor begins a Tx and
// hands it to the item writer. When the job repository shares the writer's database the
// step execution is persisted in the same Tx, so a chunk's writes and its recorded
// progress succeed or fail together.
package tx

import (
	"context"
	"database/sql"
)

// TxExecutor is the write surface a Tx offers to item writers.
type TxExecutor interface {
	// ExecuteUpsert inserts model (a struct pointer or slice) into tableName. On a conflict
	// over conflictColumns the updateColumns are overwritten; with no updateColumns the
	// conflicting row is left untouched.
	ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (rowsAffected int64, err error)
}

// Tx is one open transaction.
type Tx interface {
	TxExecutor
	Savepoint(name string) error
	RollbackToSavepoint(name string) error
}

// TransactionManager begins and ends transactions.
type TransactionManager interface {
	Begin(ctx context.Context, opts ...*sql.TxOptions) (Tx, error)
	Commit(tx Tx) error
	Rollback(tx Tx) error
}

// Participant is implemented by stores that can write inside a Tx begun by another
// component. The chunk executor persists step progress inside the chunk transaction
// only when the job repository joins it, and right after the commit otherwise.
type Participant interface {
	Joins(t Tx) bool
}

type txKey struct{}

// WithTx returns a context carrying t, so repositories sharing the same database join it.
func WithTx(ctx context.Context, t Tx) context.Context {
	return context.WithValue(ctx, txKey{}, t)
}

// FromContext returns the transaction carried by ctx.
func FromContext(ctx context.Context) (Tx, bool) {
	t, ok := ctx.Value(txKey{}).(Tx)
	return t, ok && t != nil
}
