package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrConfigRequired        = sterrors.New("ttcflow: configuration is required")
	ErrLoggerRequired        = sterrors.New("ttcflow: logger is required")
	ErrTransportNameRequired = sterrors.New("ttcflow: transport name is required")
	ErrSubscriberRequired    = sterrors.New("ttcflow: subscriber is required")
	ErrPublisherRequired     = sterrors.New("ttcflow: publisher is required")
	ErrWorkerNotStopped      = sterrors.New("ttcflow: worker is not stopped")
	ErrWorkerDraining        = sterrors.New("ttcflow: handlers of the previous run are still in flight")
	ErrTopicRequired         = sterrors.New("ttcflow: topic is required")
)

// ConfigValidationError wraps the joined validation failures of a Config.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return fmt.Sprintf("ttcflow: invalid configuration: %v", e.Err)
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
