// Package cli implements syncctl, the support tool for inspecting and
// repairing a device's sync queue.
package cli

import (
	"context"
	"fmt"
	"io"

	"offlinesync/internal/config"
	"offlinesync/internal/logging"
	"offlinesync/internal/network"
	"offlinesync/internal/queue"
	"offlinesync/internal/remote"
	"offlinesync/internal/syncer"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Format     string // "json" | "text"
	Verbose    bool
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "syncctl",
		Short: "Inspect and repair the offline sync queue",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "configs/config.yaml", "path to config file")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log to stderr")

	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))
	cmd.AddCommand(NewEnqueueCommand(opts))
	cmd.AddCommand(NewRemoveCommand(opts))
	cmd.AddCommand(NewClearCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewDeadLetterCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{Format: o.Format, Writer: cmd.OutOrStdout()}
}

// session is the set of components a command works with.
type session struct {
	cfg      *config.Config
	backend  *queue.Backend
	observer *network.Observer
	engine   *syncer.Engine
	logger   *zerolog.Logger
}

// openSession loads config and opens the queue. The engine sees the device as
// offline unless online is set, so commands never replay by accident.
func (o *RootOptions) openSession(ctx context.Context, stderr io.Writer, online bool) (*session, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	logger := zerolog.New(io.Discard)
	if o.Verbose {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: stderr}).With().Timestamp().Logger()
	}
	log := logging.Component(&logger, "syncctl")

	backend, err := queue.Open(ctx, cfg, log)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open queue", err)
	}

	observer := network.NewObserver(network.Status{IsConnected: online, TransportType: cfg.Network.TransportType}, log)

	var deadLetter syncer.DeadLetterSink
	if dl := backend.DeadLetter(cfg.Redis.DeadLetterKey); dl != nil {
		deadLetter = dl
	}

	engine := syncer.NewEngine(backend.Store, remote.NewHTTPExecutor(cfg.Remote, log), observer, syncer.Options{
		Retry:      syncer.RetryPolicyFromConfig(cfg.Sync),
		DeadLetter: deadLetter,
		Logger:     log,
	})

	return &session{cfg: cfg, backend: backend, observer: observer, engine: engine, logger: log}, nil
}

func (s *session) Close() {
	s.engine.Stop()
	_ = s.backend.Close()
}
