// Package cli implements the ttcworker command line.
package cli

import (
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	configpkg "github.com/drblury/ttcflow/internal/runtime/config"
	loggingpkg "github.com/drblury/ttcflow/internal/runtime/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	EnvFiles []string
	Prefix   string
	Format   string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command of ttcworker.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "ttcworker",
		Short: "Participant bookkeeping worker for a message bus transport",
		Long: `ttcworker consumes the control, inbound and event topics of one transport
name and keeps the participant store in step with control messages.

Configuration is read from the environment (TTC_* by default) after loading
the given env files.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringSliceVar(&opts.EnvFiles, "env-file", nil, "env file to load before reading the environment (repeatable)")
	cmd.PersistentFlags().StringVar(&opts.Prefix, "env-prefix", configpkg.DefaultEnvPrefix, "environment variable prefix")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewSendCommand(opts))
	cmd.AddCommand(NewParticipantsCommand(opts))

	return cmd
}

// loadConfig reads and validates the configuration for a command.
func loadConfig(opts *RootOptions) (*configpkg.Config, error) {
	conf, err := configpkg.Load(opts.Prefix, opts.EnvFiles...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	if err := conf.Validate(); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	return conf, nil
}

func newLogger(conf *configpkg.Config, w io.Writer) (loggingpkg.ServiceLogger, error) {
	logger, err := loggingpkg.NewTextServiceLogger(w, conf.LogLevel, conf.LogFormat)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid log configuration", err)
	}
	return logger, nil
}
