package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	wmmessage "github.com/ThreeDotsLabs/watermill/message"
	"github.com/bytedance/sonic"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	idspkg "github.com/drblury/ttcflow/internal/runtime/ids"
)

// Metadata key and content types understood by Decode and Encode.
const (
	ContentTypeKey      = "content-type"
	ContentTypeJSON     = "application/json"
	ContentTypeProtobuf = "application/protobuf"
)

// Numbers stay json.Number so large phone numbers survive decoding intact.
var jsonAPI = sonic.Config{UseNumber: true}.Froze()

var errNotObject = errors.New("payload is not an object")

// Decode converts a Watermill message into a Message. The content-type
// metadata selects the codec; JSON is assumed when it is absent. Payloads
// that cannot be decoded into a mapping return a *MalformedMessageError.
func Decode(msg *wmmessage.Message) (Message, error) {
	if msg == nil {
		return Message{}, &MalformedMessageError{Err: errors.New("nil message")}
	}
	fields, err := DecodePayload(msg.Metadata.Get(ContentTypeKey), msg.Payload)
	if err != nil {
		return Message{}, &MalformedMessageError{UUID: msg.UUID, Err: err}
	}
	return Message{uuid: msg.UUID, fields: fields}, nil
}

// DecodePayload decodes raw bytes of the given content type into fields.
func DecodePayload(contentType string, payload []byte) (map[string]any, error) {
	switch normalizeContentType(contentType) {
	case "", ContentTypeJSON:
		return decodeJSON(payload)
	case ContentTypeProtobuf, "application/x-protobuf":
		return decodeProtobuf(payload)
	default:
		return nil, fmt.Errorf("unsupported content type %q", contentType)
	}
}

func decodeJSON(payload []byte) (map[string]any, error) {
	var decoded any
	if err := jsonAPI.Unmarshal(payload, &decoded); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	fields, ok := decoded.(map[string]any)
	if !ok {
		return nil, errNotObject
	}
	return fields, nil
}

func decodeProtobuf(payload []byte) (map[string]any, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(payload, &st); err != nil {
		return nil, fmt.Errorf("decode protobuf: %w", err)
	}
	return st.AsMap(), nil
}

// Encode builds a Watermill message carrying m in the given content type.
// The message UUID is m.UUID() when set, otherwise a new ULID.
func Encode(m Message, contentType string) (*wmmessage.Message, error) {
	if contentType == "" {
		contentType = ContentTypeJSON
	}

	fields := m.fields
	if fields == nil {
		fields = map[string]any{}
	}

	var (
		payload []byte
		err     error
	)
	switch normalizeContentType(contentType) {
	case ContentTypeJSON:
		payload, err = marshalJSON(fields)
	case ContentTypeProtobuf, "application/x-protobuf":
		payload, err = encodeProtobuf(fields)
	default:
		err = fmt.Errorf("unsupported content type %q", contentType)
	}
	if err != nil {
		return nil, err
	}

	uuid := m.uuid
	if uuid == "" {
		uuid = idspkg.New()
	}
	msg := wmmessage.NewMessage(uuid, payload)
	msg.Metadata.Set(ContentTypeKey, contentType)
	return msg, nil
}

func marshalJSON(v any) ([]byte, error) {
	return jsonAPI.Marshal(v)
}

func encodeProtobuf(fields map[string]any) ([]byte, error) {
	st, err := structpb.NewStruct(toProtoCompatible(fields))
	if err != nil {
		return nil, fmt.Errorf("encode protobuf: %w", err)
	}
	return proto.Marshal(st)
}

// toProtoCompatible rewrites json.Number values, which structpb rejects.
func toProtoCompatible(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, item := range fields {
		out[k] = toProtoCompatibleValue(item)
	}
	return out
}

func toProtoCompatibleValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		return toProtoCompatible(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = toProtoCompatibleValue(item)
		}
		return out
	default:
		return t
	}
}

func normalizeContentType(contentType string) string {
	base, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(base))
}
