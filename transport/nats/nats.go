// Package nats provides NATS Core and NATS JetStream transports.
package nats

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/drblury/ttcflow/transport"
)

// Registry names of the two flavours.
const (
	TransportName          = "nats"
	JetStreamTransportName = "nats-jetstream"
)

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return nats.NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

// Register registers both NATS flavours with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSCapabilities)
	transport.RegisterWithCapabilities(JetStreamTransportName, BuildJetStream, transport.NATSJetStreamCapabilities)
	transport.Alias("jetstream", JetStreamTransportName)
}

// Build creates a NATS Core transport. Core NATS has no persistence, so
// messages published while no worker is subscribed are lost.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	return build(cfg, logger, nats.JetStreamConfig{Disabled: true}, transport.NATSCapabilities)
}

// BuildJetStream creates a NATS JetStream transport. Streams covering the
// worker's topics must already exist; durable consumers are named after the
// worker's transport name.
func BuildJetStream(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	js := nats.JetStreamConfig{
		AutoProvision: false,
		DurablePrefix: cfg.GetTransportName(),
	}
	return build(cfg, logger, js, transport.NATSJetStreamCapabilities)
}

// ConnectOptions are the nats.go options shared by publisher and subscriber.
func ConnectOptions(cfg transport.Config) []natsgo.Option {
	name := "ttcflow"
	if transportName := cfg.GetTransportName(); transportName != "" {
		name = transportName + "-worker"
	}
	return []natsgo.Option{
		natsgo.Name(name),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
	}
}

func build(cfg transport.Config, logger watermill.LoggerAdapter, js nats.JetStreamConfig, caps transport.Capabilities) (transport.Transport, error) {
	url := cfg.GetNATSURL()
	if url == "" {
		return transport.Transport{}, errors.New("nats URL is required")
	}
	marshaler := &nats.NATSMarshaler{}
	options := ConnectOptions(cfg)

	publisher, err := PublisherFactory(
		nats.PublisherConfig{
			URL:         url,
			NatsOptions: options,
			Marshaler:   marshaler,
			JetStream:   js,
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(
		nats.SubscriberConfig{
			URL:              url,
			QueueGroupPrefix: cfg.GetTransportName(),
			SubscribersCount: 1,
			NatsOptions:      options,
			Unmarshaler:      marshaler,
			JetStream:        js,
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:    publisher,
		Subscriber:   subscriber,
		Capabilities: caps,
	}, nil
}

// Capabilities returns the capabilities of the core NATS transport.
func Capabilities() transport.Capabilities {
	return transport.NATSCapabilities
}
