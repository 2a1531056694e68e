package runtime

import (
	"context"

	configpkg "github.com/drblury/ttcflow/internal/runtime/config"
	errspkg "github.com/drblury/ttcflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/ttcflow/internal/runtime/logging"
	"github.com/drblury/ttcflow/transport"
	_ "github.com/drblury/ttcflow/transport/transports"
)

// BuildTransport builds the transport selected by conf.PubSubSystem from the
// default registry, which holds every built-in transport.
func BuildTransport(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger) (transport.Transport, error) {
	if conf == nil {
		return transport.Transport{}, errspkg.ErrConfigRequired
	}
	if log == nil {
		log = loggingpkg.NewNopLogger()
	}
	return transport.Build(ctx, conf, loggingpkg.NewWatermillAdapter(log))
}
