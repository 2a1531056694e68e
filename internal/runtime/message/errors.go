package message

import "fmt"

// MalformedMessageError reports a payload that cannot be decoded, or a field
// that is present but holds an unusable value.
type MalformedMessageError struct {
	UUID  string
	Field string
	Err   error
}

func (e *MalformedMessageError) Error() string {
	switch {
	case e.Field != "" && e.UUID != "":
		return fmt.Sprintf("malformed message %s: field %s: %v", e.UUID, e.Field, e.Err)
	case e.Field != "":
		return fmt.Sprintf("malformed message: field %s: %v", e.Field, e.Err)
	case e.UUID != "":
		return fmt.Sprintf("malformed message %s: %v", e.UUID, e.Err)
	default:
		return fmt.Sprintf("malformed message: %v", e.Err)
	}
}

func (e *MalformedMessageError) Unwrap() error { return e.Err }
