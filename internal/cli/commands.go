package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"offlinesync/internal/models"

	"github.com/spf13/cobra"
)

func NewListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pending operations in replay order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.openSession(cmd.Context(), cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}
			defer s.Close()

			ops := s.engine.QueueSnapshot(cmd.Context())
			return opts.formatter(cmd).Success(ops, func(w io.Writer) {
				writeOperations(w, ops, time.Now())
			})
		},
	}
}

func NewStatsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show pending and failed counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.openSession(cmd.Context(), cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}
			defer s.Close()

			stats := s.engine.Stats(cmd.Context())
			return opts.formatter(cmd).Success(stats, func(w io.Writer) {
				fmt.Fprintf(w, "pending: %d\nfailed:  %d\n", stats.TotalPending, stats.FailedCount)
			})
		},
	}
}

type enqueueOptions struct {
	ID           string
	Kind         string
	ResourceType string
	ResourceID   string
	Payload      string
}

func NewEnqueueCommand(opts *RootOptions) *cobra.Command {
	eo := &enqueueOptions{}

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Append an operation to the queue",
		Long: `Append an operation to the queue without replaying it.

Examples:
  syncctl enqueue --kind update --type task --id t-42 --payload '{"status":"done"}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if eo.Payload != "" && !json.Valid([]byte(eo.Payload)) {
				return NewExitError(ExitCommandError, "payload is not valid JSON")
			}

			s, err := opts.openSession(cmd.Context(), cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}
			defer s.Close()

			op := models.SyncOperation{
				ID:           eo.ID,
				Kind:         models.OperationKind(eo.Kind),
				ResourceType: eo.ResourceType,
				ResourceID:   eo.ResourceID,
			}
			if eo.Payload != "" {
				op.Payload = json.RawMessage(eo.Payload)
			}

			stored, err := s.engine.EnqueueAndMaybeSync(cmd.Context(), op)
			if err != nil {
				return WrapExitError(ExitFailure, "enqueue failed", err)
			}
			return opts.formatter(cmd).Success(stored, func(w io.Writer) {
				fmt.Fprintf(w, "enqueued %s\n", stored.ID)
			})
		},
	}

	cmd.Flags().StringVar(&eo.ID, "op-id", "", "operation id (generated when empty)")
	cmd.Flags().StringVar(&eo.Kind, "kind", "", "create, update or delete")
	cmd.Flags().StringVar(&eo.ResourceType, "type", "", "resource type, e.g. task")
	cmd.Flags().StringVar(&eo.ResourceID, "id", "", "resource id")
	cmd.Flags().StringVar(&eo.Payload, "payload", "", "JSON payload")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("id")

	return cmd
}

func NewRemoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <operation-id>...",
		Short: "Remove operations from the queue",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.openSession(cmd.Context(), cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}
			defer s.Close()

			for _, id := range args {
				if err := s.engine.RemoveItem(cmd.Context(), id); err != nil {
					return WrapExitError(ExitFailure, "remove failed", err)
				}
			}
			return opts.formatter(cmd).Success(map[string]any{"removed": args}, func(w io.Writer) {
				fmt.Fprintf(w, "removed %d operation(s)\n", len(args))
			})
		},
	}
}

func NewClearCommand(opts *RootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop every pending operation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return NewExitError(ExitCommandError, "refusing to clear the queue without --yes")
			}

			s, err := opts.openSession(cmd.Context(), cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}
			defer s.Close()

			before := s.engine.Stats(cmd.Context()).TotalPending
			if err := s.engine.ClearQueue(cmd.Context()); err != nil {
				return WrapExitError(ExitFailure, "clear failed", err)
			}
			return opts.formatter(cmd).Success(map[string]int{"cleared": before}, func(w io.Writer) {
				fmt.Fprintf(w, "cleared %d operation(s)\n", before)
			})
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm clearing the queue")
	return cmd
}

func NewSyncCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay the queue against the remote API once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.openSession(cmd.Context(), cmd.ErrOrStderr(), true)
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := s.engine.SyncNow(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "sync failed", err)
			}
			if err := opts.formatter(cmd).Success(res, func(w io.Writer) {
				fmt.Fprintf(w, "succeeded: %d\nfailed:    %d\ndropped:   %d\n", res.Succeeded, res.Failed, res.Dropped)
			}); err != nil {
				return err
			}
			if res.Failed > 0 || res.Dropped > 0 {
				return NewExitError(ExitFailure, "some operations did not sync")
			}
			return nil
		},
	}
}

func NewDeadLetterCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "deadletter",
		Short: "List operations dropped after exhausting retries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.openSession(cmd.Context(), cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}
			defer s.Close()

			dl := s.backend.DeadLetter(s.cfg.Redis.DeadLetterKey)
			if dl == nil {
				return NewExitError(ExitCommandError, "dead-letter list requires redis.address")
			}
			ops, err := dl.List(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "read dead-letter list", err)
			}
			return opts.formatter(cmd).Success(ops, func(w io.Writer) {
				writeOperations(w, ops, time.Now())
			})
		},
	}
}

func writeOperations(w io.Writer, ops []models.SyncOperation, now time.Time) {
	if len(ops) == 0 {
		fmt.Fprintln(w, "queue is empty")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tRESOURCE\tSTATUS\tRETRIES\tAGE\tLAST ERROR")
	for _, op := range ops {
		fmt.Fprintf(tw, "%s\t%s\t%s/%s\t%s\t%d\t%s\t%s\n",
			op.ID, op.Kind, op.ResourceType, op.ResourceID, op.Status, op.RetryCount,
			op.Age(now).Truncate(time.Second), op.LastError)
	}
	_ = tw.Flush()
}
