package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"SynthLedger/internal/oracle"
)

// PriceStreamName holds inbound oracle price updates.
const PriceStreamName = "SYNTH_PRICES"

// PriceUpdate is one inbound price tick. Answer is a decimal string at the
// feed's native precision (e.g. 1e8 for Chainlink-style feeds).
type PriceUpdate struct {
	Asset  string `json:"asset"`
	Answer string `json:"answer"`
}

// PriceSubscriber consumes price ticks from JetStream and writes them into
// the in-process feeds backing the oracle adapters.
type PriceSubscriber struct {
	js       jetstream.JetStream
	feeds    map[string]*oracle.StubFeed
	consumer jetstream.ConsumeContext
	log      zerolog.Logger
}

func NewPriceSubscriber(js jetstream.JetStream, feeds map[string]*oracle.StubFeed, logger zerolog.Logger) *PriceSubscriber {
	return &PriceSubscriber{
		js:    js,
		feeds: feeds,
		log:   logger,
	}
}

// Subscribe creates a durable consumer on synth.prices.> with explicit ACK.
func (s *PriceSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := s.js.CreateOrUpdateConsumer(ctx, PriceStreamName, jetstream.ConsumerConfig{
		Durable:       "synth-prices",
		FilterSubject: "synth.prices.>",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create price consumer: %w", err)
	}

	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		if err := s.apply(msg.Data()); err != nil {
			s.log.Warn().Err(err).Str("subject", msg.Subject()).Msg("price update rejected")
			msg.Term()
			return
		}
		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("consume prices: %w", err)
	}

	s.consumer = consumeCtx
	s.log.Info().Str("stream", PriceStreamName).Msg("subscribed to price updates")
	return nil
}

func (s *PriceSubscriber) apply(data []byte) error {
	var u PriceUpdate
	if err := json.Unmarshal(data, &u); err != nil {
		return fmt.Errorf("decode price update: %w", err)
	}

	feed, ok := s.feeds[u.Asset]
	if !ok {
		return fmt.Errorf("price update for unknown asset %q", u.Asset)
	}

	answer, ok := new(big.Int).SetString(u.Answer, 10)
	if !ok || answer.Sign() <= 0 {
		return fmt.Errorf("invalid answer %q for asset %q", u.Answer, u.Asset)
	}

	feed.SetAnswer(answer)
	return nil
}

// Stop drains the consumer.
func (s *PriceSubscriber) Stop() {
	if s.consumer != nil {
		s.consumer.Stop()
	}
}

// EnsurePriceStream creates the inbound price stream if it does not exist.
func EnsurePriceStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      PriceStreamName,
		Subjects:  []string{"synth.prices.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("ensure stream %s: %w", PriceStreamName, err)
	}
	return nil
}
