package ttcflow

import (
	runtimepkg "github.com/drblury/ttcflow/internal/runtime"
	configpkg "github.com/drblury/ttcflow/internal/runtime/config"
	errspkg "github.com/drblury/ttcflow/internal/runtime/errors"
	idspkg "github.com/drblury/ttcflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/ttcflow/internal/runtime/logging"
	messagepkg "github.com/drblury/ttcflow/internal/runtime/message"
	storepkg "github.com/drblury/ttcflow/internal/runtime/store"
	"github.com/drblury/ttcflow/transport"
)

type (
	Config      = configpkg.Config
	StoreConfig = configpkg.StoreConfig

	Application        = runtimepkg.Application
	Worker             = runtimepkg.Worker
	WorkerDependencies = runtimepkg.WorkerDependencies
	WorkerState        = runtimepkg.WorkerState
	UserEventHandler   = runtimepkg.UserEventHandler
	EventHook          = runtimepkg.EventHook

	Message               = messagepkg.Message
	MalformedMessageError = messagepkg.MalformedMessageError

	Store                     = storepkg.Store
	StoreOpener               = storepkg.Opener
	Participant               = storepkg.Participant
	DuplicateParticipantError = storepkg.DuplicateParticipantError
	StoreUnavailableError     = storepkg.StoreUnavailableError
	StartupError              = runtimepkg.StartupError
	PanicError                = runtimepkg.PanicError
	ConfigValidationError     = errspkg.ConfigValidationError

	Stats          = runtimepkg.Stats
	StreamStats    = runtimepkg.StreamStats
	LatencyMetrics = runtimepkg.LatencyMetrics
	Outcome        = runtimepkg.Outcome
	HealthResponse = runtimepkg.HealthResponse
	StatusServer   = runtimepkg.StatusServer

	Sender = runtimepkg.Sender

	// Message lifecycle hooks
	MessageContext = runtimepkg.MessageContext
	MessageHooks   = runtimepkg.MessageHooks

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	// Transports
	Transport             = transport.Transport
	TransportBuilder      = transport.Builder
	TransportConfig       = transport.Config
	TransportRegistry     = transport.Registry
	TransportCapabilities = transport.Capabilities
)

var (
	LoadConfig     = configpkg.Load
	ValidateConfig = configpkg.ValidateConfig

	NewWorker       = runtimepkg.NewWorker
	NewStatusServer = runtimepkg.NewStatusServer
	BuildTransport  = runtimepkg.BuildTransport

	NewSender      = runtimepkg.NewSender
	Publish        = runtimepkg.Publish
	ControlMessage = runtimepkg.ControlMessage
	UserMessage    = runtimepkg.UserMessage
	NewMessage     = messagepkg.New
	EncodeMessage  = messagepkg.Encode
	DecodeMessage  = messagepkg.Decode

	NewStoreOpener         = storepkg.NewOpener
	IsDuplicateParticipant = storepkg.IsDuplicate
	IsStoreUnavailable     = storepkg.IsUnavailable

	CorrelationIDMiddleware = runtimepkg.CorrelationIDMiddleware
	TracerMiddleware        = runtimepkg.TracerMiddleware
	LogMessagesMiddleware   = runtimepkg.LogMessagesMiddleware

	LoggingHooks  = runtimepkg.LoggingHooks
	MetricsHooks  = runtimepkg.MetricsHooks
	AlertingHooks = runtimepkg.AlertingHooks

	RegisterTransport                 = transport.Register
	GetCapabilities                   = transport.GetCapabilities
	RegisterTransportWithCapabilities = transport.RegisterWithCapabilities

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NewTextServiceLogger = loggingpkg.NewTextServiceLogger
	NewNopLogger         = loggingpkg.NewNopLogger

	NewID = idspkg.New

	ErrNotRunning            = runtimepkg.ErrNotRunning
	ErrConfigRequired        = errspkg.ErrConfigRequired
	ErrLoggerRequired        = errspkg.ErrLoggerRequired
	ErrTransportNameRequired = errspkg.ErrTransportNameRequired
	ErrSubscriberRequired    = errspkg.ErrSubscriberRequired
	ErrPublisherRequired     = errspkg.ErrPublisherRequired
	ErrWorkerNotStopped      = errspkg.ErrWorkerNotStopped
	ErrWorkerDraining        = errspkg.ErrWorkerDraining
	ErrTopicRequired         = errspkg.ErrTopicRequired
)

// Worker lifecycle states.
const (
	StateStopped  = runtimepkg.StateStopped
	StateStarting = runtimepkg.StateStarting
	StateRunning  = runtimepkg.StateRunning
	StateStopping = runtimepkg.StateStopping
)

// Stream names used in stats, metrics and hooks.
const (
	StreamControl = runtimepkg.StreamControl
	StreamUser    = runtimepkg.StreamUser
	StreamEvent   = runtimepkg.StreamEvent
)

// Content types understood by the message codec.
const (
	ContentTypeJSON     = messagepkg.ContentTypeJSON
	ContentTypeProtobuf = messagepkg.ContentTypeProtobuf
)

// Store drivers.
const (
	DriverPostgres = configpkg.DriverPostgres
	DriverPgx      = configpkg.DriverPgx
	DriverSQLite   = configpkg.DriverSQLite
)
