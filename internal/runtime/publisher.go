package runtime

import (
	"context"
	"strconv"

	"github.com/ThreeDotsLabs/watermill/message"

	configpkg "github.com/drblury/ttcflow/internal/runtime/config"
	errspkg "github.com/drblury/ttcflow/internal/runtime/errors"
	messagepkg "github.com/drblury/ttcflow/internal/runtime/message"
)

// Publish encodes msg with the given content type and publishes it to topic.
// An empty content type means JSON.
func Publish(ctx context.Context, publisher message.Publisher, topic string, msg messagepkg.Message, contentType string) error {
	if publisher == nil {
		return errspkg.ErrPublisherRequired
	}
	if topic == "" {
		return errspkg.ErrTopicRequired
	}

	busMsg, err := messagepkg.Encode(msg, contentType)
	if err != nil {
		return err
	}
	if ctx != nil {
		busMsg.SetContext(ctx)
	}
	return publisher.Publish(topic, busMsg)
}

// Sender publishes control, user and event messages to the topics of one
// transport name, the way a transport feeding the worker would.
type Sender struct {
	conf        *configpkg.Config
	publisher   message.Publisher
	contentType string
}

// NewSender builds a Sender. An empty content type means JSON.
func NewSender(conf *configpkg.Config, publisher message.Publisher, contentType string) (*Sender, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if conf.TransportName == "" {
		return nil, errspkg.ErrTransportNameRequired
	}
	if publisher == nil {
		return nil, errspkg.ErrPublisherRequired
	}
	return &Sender{conf: conf, publisher: publisher, contentType: contentType}, nil
}

// ControlMessage builds a control message announcing number in the given
// program and group. The number travels as a decimal string so that no
// codec rounds it.
func ControlMessage(number int64, programName, groupName string) messagepkg.Message {
	group := map[string]any{messagepkg.FieldNumber: strconv.FormatInt(number, 10)}
	if groupName != "" {
		group[messagepkg.FieldName] = groupName
	}
	program := map[string]any{messagepkg.FieldGroup: group}
	if programName != "" {
		program[messagepkg.FieldName] = programName
	}
	return messagepkg.New(map[string]any{
		messagepkg.FieldContent: "",
		messagepkg.FieldProgram: program,
	})
}

// UserMessage builds a user-event message carrying content.
func UserMessage(content string) messagepkg.Message {
	return messagepkg.New(map[string]any{messagepkg.FieldContent: content})
}

// SendControl publishes msg on the control topic.
func (s *Sender) SendControl(ctx context.Context, msg messagepkg.Message) error {
	return Publish(ctx, s.publisher, s.conf.ControlTopic(), msg, s.contentType)
}

// SendUser publishes msg on the inbound user topic.
func (s *Sender) SendUser(ctx context.Context, msg messagepkg.Message) error {
	return Publish(ctx, s.publisher, s.conf.InboundTopic(), msg, s.contentType)
}

// SendEvent publishes msg on the event topic.
func (s *Sender) SendEvent(ctx context.Context, msg messagepkg.Message) error {
	return Publish(ctx, s.publisher, s.conf.EventTopic(), msg, s.contentType)
}
