package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	runtimepkg "github.com/drblury/ttcflow/internal/runtime"
	configpkg "github.com/drblury/ttcflow/internal/runtime/config"
	idspkg "github.com/drblury/ttcflow/internal/runtime/ids"
	messagepkg "github.com/drblury/ttcflow/internal/runtime/message"
)

// SendOptions holds flags shared by the send subcommands.
type SendOptions struct {
	*RootOptions
	ContentType string
}

// SendResult is what a send subcommand reports.
type SendResult struct {
	Topic       string `json:"topic"`
	MessageUUID string `json:"message_uuid"`
}

// NewSendCommand creates the send command and its subcommands.
func NewSendCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SendOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Publish a message to one of the worker's topics",
		Long: `Publish a control, user or event message on the configured transport,
the way an upstream transport would.

Example:
  ttcworker send control --number 27821234567 --program TTC --group week-1
  ttcworker send user --content "hello"
  ttcworker send event --payload '{"event_type":"ack","user_message_id":"1"}'`,
	}
	cmd.PersistentFlags().StringVar(&opts.ContentType, "content-type", messagepkg.ContentTypeJSON, "payload encoding (application/json|application/protobuf)")

	cmd.AddCommand(newSendControlCommand(opts))
	cmd.AddCommand(newSendUserCommand(opts))
	cmd.AddCommand(newSendEventCommand(opts))
	return cmd
}

func newSendControlCommand(opts *SendOptions) *cobra.Command {
	var (
		number  int64
		program string
		group   string
	)
	cmd := &cobra.Command{
		Use:   "control",
		Short: "Announce a participant on the control topic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			msg := runtimepkg.ControlMessage(number, program, group)
			return sendMessage(cmd, opts, msg, (*configpkg.Config).ControlTopic, (*runtimepkg.Sender).SendControl)
		},
	}
	cmd.Flags().Int64Var(&number, "number", 0, "participant phone number (required)")
	cmd.Flags().StringVar(&program, "program", "", "program name")
	cmd.Flags().StringVar(&group, "group", "", "group name")
	_ = cmd.MarkFlagRequired("number")
	return cmd
}

func newSendUserCommand(opts *SendOptions) *cobra.Command {
	var content string
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Publish a user message on the inbound topic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			msg := runtimepkg.UserMessage(content)
			return sendMessage(cmd, opts, msg, (*configpkg.Config).InboundTopic, (*runtimepkg.Sender).SendUser)
		},
	}
	cmd.Flags().StringVar(&content, "content", "", "message content")
	return cmd
}

func newSendEventCommand(opts *SendOptions) *cobra.Command {
	var payload string
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Publish a transport event on the event topic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := messagepkg.DecodePayload(messagepkg.ContentTypeJSON, []byte(payload))
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid --payload", err)
			}
			msg := messagepkg.New(fields)
			return sendMessage(cmd, opts, msg, (*configpkg.Config).EventTopic, (*runtimepkg.Sender).SendEvent)
		},
	}
	cmd.Flags().StringVar(&payload, "payload", "{}", "event fields as a JSON object")
	return cmd
}

type topicFunc func(*configpkg.Config) string

type sendFunc func(*runtimepkg.Sender, context.Context, messagepkg.Message) error

func sendMessage(cmd *cobra.Command, opts *SendOptions, msg messagepkg.Message, topic topicFunc, send sendFunc) error {
	conf, err := loadConfig(opts.RootOptions)
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

	tr, err := runtimepkg.BuildTransport(ctx, conf, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build transport", err)
	}
	defer func() { _ = tr.Close() }()

	sender, err := runtimepkg.NewSender(conf, tr.Publisher, opts.ContentType)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create sender", err)
	}

	if msg.UUID() == "" {
		msg = msg.WithUUID(idspkg.New())
	}
	if err := send(sender, ctx, msg); err != nil {
		return WrapExitError(ExitFailure, "failed to publish", err)
	}

	result := SendResult{Topic: topic(conf), MessageUUID: msg.UUID()}
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return out.Success(result, fmt.Sprintf("Published %s to %s", result.MessageUUID, result.Topic))
}
