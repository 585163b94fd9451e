package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"mpesa-stk-mediator/internal/config"
	"mpesa-stk-mediator/internal/domain/model"
	"mpesa-stk-mediator/internal/domain/ports/adapter"
	"mpesa-stk-mediator/internal/infra/logging"
	"mpesa-stk-mediator/internal/infra/metrics"
)

var _ adapter.PaymentEventPublisher = (*KafkaPublisher)(nil)

// KafkaPublisher writes PaymentFinalized events keyed by CheckoutRequestID, so every event
// for one payment lands on the same partition.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	log      *zerolog.Logger
}

func NewKafkaPublisher(cfg config.EventsConfig, logger *zerolog.Logger) (*KafkaPublisher, error) {
	sc := sarama.NewConfig()
	sc.ClientID = cfg.ClientID
	sc.Producer.Return.Successes = true
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	logger.Info().Strs("brokers", cfg.Brokers).Str("topic", cfg.Topic).Msg("kafka producer initialized")
	return newKafkaPublisher(producer, cfg.Topic, logger), nil
}

func newKafkaPublisher(producer sarama.SyncProducer, topic string, logger *zerolog.Logger) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic, log: logger}
}

func (p *KafkaPublisher) PublishFinalized(ctx context.Context, rec *model.PaymentRecord) (err error) {
	defer func() { metrics.IncEventPublished(err) }()

	payload, err := json.Marshal(NewPaymentFinalized(rec))
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(rec.CheckoutRequestID),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(TypePaymentFinalized)},
		},
	}
	if tid := logging.TraceID(ctx); tid != "" {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte("trace_id"), Value: []byte(tid)})
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	logging.With(ctx, p.log).Info().
		Str("topic", p.topic).
		Str("checkout_request_id", rec.CheckoutRequestID).
		Str("status", string(rec.Status)).
		Int32("partition", partition).
		Int64("offset", offset).
		Msg("payment event published")
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// NoopPublisher is used when events are disabled.
type NoopPublisher struct{}

var _ adapter.PaymentEventPublisher = NoopPublisher{}

func (NoopPublisher) PublishFinalized(context.Context, *model.PaymentRecord) error { return nil }
func (NoopPublisher) Close() error                                                 { return nil }
