package message

import (
	"encoding/json"
	"maps"
	"slices"
)

// Field names read by the worker.
const (
	FieldContent = "content"
	FieldProgram = "program"
	FieldName    = "name"
	FieldGroup   = "group"
	FieldNumber  = "number"
)

// Message is a read-only view over the decoded fields of a bus message.
// Nested mappings are exposed as map[string]any and lists as []any. The zero
// value is an empty message.
type Message struct {
	uuid   string
	fields map[string]any
}

// New builds a Message from fields. The input is deep-copied, so later
// changes to fields are not visible through the Message.
func New(fields map[string]any) Message {
	return Message{fields: copyMap(fields)}
}

// WithUUID returns a copy of m carrying the given bus message UUID.
func (m Message) WithUUID(uuid string) Message {
	m.uuid = uuid
	return m
}

// UUID is the identifier of the bus message the fields were decoded from.
func (m Message) UUID() string { return m.uuid }

// Len reports the number of top-level fields.
func (m Message) Len() int { return len(m.fields) }

// Keys returns the top-level field names in sorted order.
func (m Message) Keys() []string {
	return slices.Sorted(maps.Keys(m.fields))
}

// Fields returns a deep copy of every field.
func (m Message) Fields() map[string]any {
	if m.fields == nil {
		return map[string]any{}
	}
	return copyMap(m.fields)
}

// Get returns a copy of the top-level field key.
func (m Message) Get(key string) (any, bool) {
	v, ok := m.fields[key]
	if !ok {
		return nil, false
	}
	return copyValue(v), true
}

// Lookup walks nested mappings along path. Any missing level, or a level that
// is not a mapping, reports false.
func (m Message) Lookup(path ...string) (any, bool) {
	if len(path) == 0 {
		return nil, false
	}
	current := any(m.fields)
	for _, key := range path {
		mapping, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = mapping[key]
		if !ok {
			return nil, false
		}
	}
	return copyValue(current), true
}

// Content returns the content field as text. Missing or null content is "".
func (m Message) Content() string {
	v, ok := m.fields[FieldContent]
	if !ok || v == nil {
		return ""
	}
	return stringify(v)
}

// ProgramName returns program.name when it is present.
func (m Message) ProgramName() (string, bool) {
	v, ok := m.Lookup(FieldProgram, FieldName)
	if !ok || v == nil {
		return "", false
	}
	return stringify(v), true
}

// GroupName returns program.group.name when it is present.
func (m Message) GroupName() (string, bool) {
	v, ok := m.Lookup(FieldProgram, FieldGroup, FieldName)
	if !ok || v == nil {
		return "", false
	}
	return stringify(v), true
}

// PhoneNumber extracts program.group.number. It reports false when any level
// is missing or the value is null or blank, and a *MalformedMessageError when
// a value is present but is not a phone number.
func (m Message) PhoneNumber() (int64, bool, error) {
	v, ok := m.Lookup(FieldProgram, FieldGroup, FieldNumber)
	if !ok {
		return 0, false, nil
	}
	number, present, err := ParsePhoneNumber(v)
	if err != nil {
		return 0, false, &MalformedMessageError{UUID: m.uuid, Field: "program.group.number", Err: err}
	}
	return number, present, nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		b, err := marshalJSON(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func copyMap(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = copyValue(v)
	}
	return dst
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case map[string]string:
		out := make(map[string]any, len(t))
		for k, s := range t {
			out[k] = s
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = copyValue(item)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	default:
		return v
	}
}
