// Package notification reports the outcome of every job execution to a Notifier.
package notification

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/fx"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// Notifier delivers job results to an external party.
type Notifier interface {
	// NotifyJobCompletion is called once per finished execution, whatever its status.
	NotifyJobCompletion(ctx context.Context, execution *model.JobExecution)
}

// LogNotifier writes the summary of a finished job to the batch logger. Failed and
// stopped executions are logged as warnings.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) NotifyJobCompletion(ctx context.Context, execution *model.JobExecution) {
	message := Summary(execution)
	if execution.Status == model.BatchStatusCompleted {
		logger.Infof("%s", message)
		return
	}
	logger.Warnf("%s", message)
}

var _ Notifier = (*LogNotifier)(nil)

// Summary renders the one-line report of execution.
func Summary(execution *model.JobExecution) string {
	duration := time.Duration(0)
	if execution.EndTime != nil {
		duration = execution.EndTime.Sub(execution.StartTime)
	}
	return fmt.Sprintf(
		"Job Notification: Job '%s' (ID: %s) finished with Status: %s, ExitStatus: %s. Duration: %s, Failures: %d",
		execution.JobName,
		execution.ID,
		execution.Status,
		execution.ExitStatus,
		duration,
		len(execution.Failures),
	)
}

// NotificationListener forwards AfterJob to a Notifier.
type NotificationListener struct {
	notifier Notifier
}

func NewNotificationListener(notifier Notifier) *NotificationListener {
	return &NotificationListener{notifier: notifier}
}

func (l *NotificationListener) BeforeJob(ctx context.Context, jobExecution *model.JobExecution) {}

func (l *NotificationListener) AfterJob(ctx context.Context, jobExecution *model.JobExecution) {
	l.notifier.NotifyJobCompletion(ctx, jobExecution)
}

var _ port.JobExecutionListener = (*NotificationListener)(nil)

// Module provides the log notifier and contributes its listener to the job listeners.
// Applications replace the notifier with fx.Decorate.
var Module = fx.Options(
	fx.Provide(fx.Annotate(NewLogNotifier, fx.As(new(Notifier)))),
	fx.Provide(fx.Annotate(NewNotificationListener, fx.As(new(port.JobExecutionListener)), fx.ResultTags(`group:"jobListeners"`))),
)
