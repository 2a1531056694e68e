package cli

import (
	"context"
	"fmt"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/drblury/ttcflow/internal/runtime/store"
)

// NewParticipantsCommand creates the participants command.
func NewParticipantsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "participants",
		Short: "List the participants in the configured store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listParticipants(cmd, rootOpts)
		},
	}
}

func listParticipants(cmd *cobra.Command, opts *RootOptions) error {
	conf, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logger, err := newLogger(conf, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := store.Open(ctx, conf.Store, logger)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to open participant store", err)
	}
	defer func() { _ = st.Close() }()

	participants, err := st.GetAll(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to list participants", err)
	}

	lines := lo.Map(participants, func(p store.Participant, _ int) string {
		return fmt.Sprintf("%d\t%d", p.ID, p.PhoneNumber)
	})
	lines = append(lines, fmt.Sprintf("%d participant(s)", len(participants)))

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return out.Success(participants, lines...)
}
