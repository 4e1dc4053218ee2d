package test

import (
	"context"
	"database/sql"

	"github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
)

// RecordingTxManager counts transaction boundaries instead of touching a database.
// Chunk tests assert on Begins, Commits and Rollbacks after a step has run.
type RecordingTxManager struct {
	Begins, Commits, Rollbacks int
	// CommitErr fails Commit and leaves Commits unchanged.
	CommitErr error
	// CommitFailures limits CommitErr to that many Commits. Zero fails every Commit.
	CommitFailures int
	failedCommits  int
}

var _ tx.TransactionManager = (*RecordingTxManager)(nil)

func (m *RecordingTxManager) Begin(ctx context.Context, opts ...*sql.TxOptions) (tx.Tx, error) {
	m.Begins++
	return recordingTx{}, nil
}

func (m *RecordingTxManager) Commit(t tx.Tx) error {
	if m.CommitErr != nil && (m.CommitFailures == 0 || m.failedCommits < m.CommitFailures) {
		m.failedCommits++
		return m.CommitErr
	}
	m.Commits++
	return nil
}

func (m *RecordingTxManager) Rollback(t tx.Tx) error {
	m.Rollbacks++
	return nil
}

// recordingTx accepts every statement and affects no rows.
type recordingTx struct{}

func (recordingTx) ExecuteUpsert(context.Context, interface{}, string, []string, []string) (int64, error) {
	return 0, nil
}
func (recordingTx) Savepoint(string) error           { return nil }
func (recordingTx) RollbackToSavepoint(string) error { return nil }
