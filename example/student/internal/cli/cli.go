// Package cli is the command line of the student batch application.
package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tigerroll/chunkbatch/example/student/internal/app"
	"github.com/tigerroll/chunkbatch/example/student/internal/job"
	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// JobFailedError reports an execution that ended FAILED, so main can exit non-zero.
type JobFailedError struct {
	Execution *model.JobExecution
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("job '%s' (execution %s) finished with status %s", e.Execution.JobName, e.Execution.ID, e.Execution.Status)
}

type rootOptions struct {
	base       app.Options
	configFile string
	envFile    string
}

func (o *rootOptions) options() app.Options {
	opts := o.base
	if o.configFile != "" {
		opts.ConfigFilePath = o.configFile
	}
	if o.envFile != "" {
		opts.EnvFilePath = o.envFile
	}
	return opts
}

func (o *rootOptions) run(ctx context.Context, fn func(ctx context.Context, cfg *config.Config, s app.Services) error) error {
	opts := o.options()
	cfg, err := app.LoadConfig(opts)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	return app.Run(ctx, cfg, opts, func(ctx context.Context, s app.Services) error {
		return fn(ctx, cfg, s)
	})
}

// BuildCLI returns the root command. base carries the embedded configuration and
// migrations; the flags override its file paths.
func BuildCLI(base app.Options) *cobra.Command {
	o := &rootOptions{base: base}
	rootCmd := &cobra.Command{
		Use:           "studentbatch",
		Short:         "Chunk-oriented batch job over the student roster",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&o.configFile, "config", "c", "", "external configuration file merged over the embedded one")
	rootCmd.PersistentFlags().StringVar(&o.envFile, "env-file", "", ".env file to load (default .env)")

	rootCmd.AddCommand(
		buildRunCommand(o),
		buildRestartCommand(o),
		buildStopCommand(o),
		buildAbandonCommand(o),
		buildStatusCommand(o),
		buildMigrateCommand(o),
	)
	return rootCmd
}

func buildRunCommand(o *rootOptions) *cobra.Command {
	var (
		jobName string
		params  []string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Launch a job and wait for it to finish",
		Example: "  studentbatch run\n" +
			"  studentbatch run --param inputFile=data/students.csv",
		RunE: func(cmd *cobra.Command, args []string) error {
			jobParams, err := model.ParseJobParameters(params)
			if err != nil {
				return err
			}
			return o.run(cmd.Context(), func(ctx context.Context, cfg *config.Config, s app.Services) error {
				name := jobName
				if name == "" {
					name = cfg.Chunkbatch.Batch.JobName
				}
				if name == "" {
					name = job.JobName
				}
				je, err := app.RunJob(ctx, s, name, jobParams)
				if err != nil {
					return err
				}
				return report(cmd.OutOrStdout(), je)
			})
		},
	}
	cmd.Flags().StringVarP(&jobName, "job", "j", "", "job to launch (default batch.job-name, then firstJob)")
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "job parameter as key=value, repeatable")
	return cmd
}

func buildRestartCommand(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "restart <execution-id>",
		Short: "Restart a FAILED or STOPPED execution from its last commit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd.Context(), func(ctx context.Context, cfg *config.Config, s app.Services) error {
				je, err := app.RestartJob(ctx, s, args[0])
				if err != nil {
					return err
				}
				return report(cmd.OutOrStdout(), je)
			})
		},
	}
}

func buildStopCommand(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <execution-id>",
		Short: "Request a running execution to stop at its next chunk boundary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd.Context(), func(ctx context.Context, cfg *config.Config, s app.Services) error {
				if err := s.Operator.Stop(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Stop requested for execution %s.\n", args[0])
				return nil
			})
		},
	}
}

func buildAbandonCommand(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "abandon <execution-id>",
		Short: "Mark a FAILED or STOPPED execution ABANDONED so it is never restarted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd.Context(), func(ctx context.Context, cfg *config.Config, s app.Services) error {
				if err := s.Operator.Abandon(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Execution %s abandoned.\n", args[0])
				return nil
			})
		},
	}
}

func buildStatusCommand(o *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "status [execution-id]",
		Short: "Show an execution, or the latest executions of every job",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd.Context(), func(ctx context.Context, cfg *config.Config, s app.Services) error {
				out := cmd.OutOrStdout()
				if len(args) == 1 {
					je, err := s.Explorer.GetJobExecution(ctx, args[0])
					if err != nil {
						return err
					}
					printExecution(out, je)
					return nil
				}
				return printOverview(ctx, out, s, limit)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 5, "instances listed per job")
	return cmd
}

func buildMigrateCommand(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:       "migrate [up|down|version]",
		Short:     "Manage the student tables of the application database",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			action := "up"
			if len(args) == 1 {
				action = args[0]
			}
			return o.run(cmd.Context(), func(ctx context.Context, cfg *config.Config, s app.Services) error {
				switch action {
				case "down":
					return s.Migrator.Down(ctx)
				case "version":
					version, dirty, err := s.Migrator.Version(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", version, dirty)
					return nil
				default:
					return s.Migrator.Up(ctx)
				}
			})
		},
	}
	return cmd
}

// report prints je and turns a FAILED execution into a JobFailedError.
func report(out io.Writer, je *model.JobExecution) error {
	printExecution(out, je)
	if je.Status == model.BatchStatusFailed {
		return &JobFailedError{Execution: je}
	}
	return nil
}

func printExecution(out io.Writer, je *model.JobExecution) {
	fmt.Fprintf(out, "Job:        %s\n", je.JobName)
	fmt.Fprintf(out, "Execution:  %s (instance %s)\n", je.ID, je.JobInstanceID)
	fmt.Fprintf(out, "Parameters: %s\n", je.Parameters.String())
	fmt.Fprintf(out, "Status:     %s (exit %s)\n", je.Status, je.ExitStatus)
	if len(je.Failures) > 0 {
		fmt.Fprintf(out, "Failures:   %s\n", strings.Join(je.Failures, "; "))
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tSTATUS\tREAD\tWRITE\tFILTER\tSKIP\tCOMMIT\tROLLBACK")
	for _, se := range je.StepExecutions {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\n",
			se.StepName, se.Status, se.ReadCount, se.WriteCount, se.FilterCount, se.SkipCount(), se.CommitCount, se.RollbackCount)
	}
	if err := tw.Flush(); err != nil {
		logger.Warnf("Failed to print step executions: %v", err)
	}
}

func printOverview(ctx context.Context, out io.Writer, s app.Services, limit int) error {
	names, err := s.Explorer.GetJobNames(ctx)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Fprintln(out, "No job has run yet.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tINSTANCE\tEXECUTION\tSTATUS\tSTARTED")
	for _, name := range names {
		instances, err := s.Explorer.GetJobInstances(ctx, name, 0, limit)
		if err != nil {
			return err
		}
		for _, inst := range instances {
			je, err := s.Explorer.GetLastJobExecution(ctx, inst.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", name, inst.ID, je.ID, je.Status, je.StartTime.Format("2006-01-02 15:04:05"))
		}
	}
	return tw.Flush()
}
