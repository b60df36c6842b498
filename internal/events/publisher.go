package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// Publisher публикует события жизненного цикла заказа. Публикация
// fire-and-forget: переходы состояний никогда не зависят от брокера.
type Publisher interface {
	Publish(eventType, orderID string, payload any)
}

// NopPublisher используется, когда брокеры не сконфигурированы
type NopPublisher struct{}

func (NopPublisher) Publish(eventType, orderID string, payload any) {}

// KafkaPublisher асинхронный продюсер поверх kafka-go. Inbox никогда не
// закрывается: после остановки Publish отбрасывает события, поэтому
// конкурентные публикации во время shutdown безопасны.
type KafkaPublisher struct {
	w        *kafka.Writer
	inbox    chan kafka.Message
	quit     chan struct{}
	closeCh  chan struct{}
	producer string

	mu       sync.Mutex
	closed   bool
	stopOnce sync.Once
}

func NewKafkaPublisher(brokers []string, producer string, buf int) *KafkaPublisher {
	return &KafkaPublisher{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        TopicOrderLifecycle,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        true,
		},
		inbox:    make(chan kafka.Message, buf),
		quit:     make(chan struct{}),
		closeCh:  make(chan struct{}),
		producer: producer,
	}
}

func (p *KafkaPublisher) Start(ctx context.Context) {
	go func() {
		defer close(p.closeCh)
		for {
			select {
			case <-ctx.Done():
				p.markClosed()
				p.drain()
				_ = p.w.Close()
				return
			case <-p.quit:
				p.drain()
				_ = p.w.Close()
				return
			case m := <-p.inbox:
				if err := p.w.WriteMessages(context.Background(), m); err != nil {
					log.Warn().Err(err).Msg("kafka publish failed")
				}
			}
		}
	}()
}

// drain отправляет всё, что уже лежит в inbox, не дожидаясь новых сообщений
func (p *KafkaPublisher) drain() {
	for {
		select {
		case m := <-p.inbox:
			if err := p.w.WriteMessages(context.Background(), m); err != nil {
				log.Warn().Err(err).Msg("kafka publish failed")
			}
		default:
			return
		}
	}
}

func (p *KafkaPublisher) Publish(eventType, orderID string, payload any) {
	ev := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      p.producer,
		CorrelationID: orderID,
		Payload:       MustMarshal(payload),
	}
	m := kafka.Message{
		Key:   PartitionKey(orderID),
		Value: MustMarshal(ev),
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "x-event-type", Value: []byte(eventType)},
			{Key: "x-event-version", Value: []byte("1")},
		},
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		log.Warn().Str("event", eventType).Msg("publisher stopped, dropping event")
		return
	}
	select {
	case p.inbox <- m:
	default:
		log.Warn().Str("event", eventType).Msg("event inbox full, dropping")
	}
}

func (p *KafkaPublisher) markClosed() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// Close останавливает продюсера; безопасен при повторных вызовах и вместе
// с отменой контекста
func (p *KafkaPublisher) Close() {
	p.markClosed()
	p.stopOnce.Do(func() { close(p.quit) })
}

// WaitClosed ждёт завершения горутины
func (p *KafkaPublisher) WaitClosed() { <-p.closeCh }
