// Package stream publishes committed operations to NATS JetStream for
// downstream consumers.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"SynthLedger/internal/engine"
	"SynthLedger/internal/observability"
)

// StreamName holds all outbound events.
const StreamName = "SYNTH_LEDGER_EVENTS"

// Publisher drains the engine's publish channel and writes each event to
// JetStream. Publishing is best-effort: a failed publish is logged and
// skipped, since consumers can always replay from the operation log.
type Publisher struct {
	js      jetstream.JetStream
	input   <-chan engine.Output
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewPublisher(js jetstream.JetStream, input <-chan engine.Output, metrics *observability.Metrics, logger zerolog.Logger) *Publisher {
	return &Publisher{js: js, input: input, metrics: metrics, log: logger}
}

// Run publishes until ctx is cancelled or the channel closes.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-p.input:
			if !ok {
				return nil
			}
			if err := p.publish(ctx, out); err != nil {
				p.log.Warn().
					Err(err).
					Int64("sequence", out.Envelope.Sequence).
					Msg("outbound publish failed")
				continue
			}
			if p.metrics != nil {
				p.metrics.EventsPublished.WithLabelValues(out.Envelope.Type.String()).Inc()
			}
		}
	}
}

// publish writes the envelope to synth.ledger.events.{type}[.{asset}].
func (p *Publisher) publish(ctx context.Context, out engine.Output) error {
	env := out.Envelope
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	subject := fmt.Sprintf("synth.ledger.events.%s", env.Type.Subject())
	if env.Asset != "" {
		subject = fmt.Sprintf("%s.%s", subject, env.Asset)
	}
	_, err = p.js.Publish(ctx, subject, data)
	return err
}

// EnsureOutboundStream creates or updates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{"synth.ledger.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream context: %w", err)
	}
	return nc, js, nil
}
