package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Topics for the domain events the ledgers emit.
const (
	TopicAccountRegistered  = "account-registered"
	TopicAccountDeactivated = "account-deactivated"
	TopicPriceUpdated       = "price-updated"
	TopicBillCreated        = "bill-created"
	TopicPaymentReceived    = "payment-received"
	TopicLoanOriginated     = "loan-originated"
	TopicLoanRepaidPartial  = "loan-repaid-partial"
	TopicLoanRepaidFull     = "loan-repaid-full"
	TopicDepositCreated     = "deposit-created"
	TopicDepositWithdrawn   = "deposit-withdrawn"
)

// Event is the envelope published for every successful ledger mutation.
type Event struct {
	ID        string         `json:"id"`
	Topic     string         `json:"topic"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

// Publisher delivers domain events to an external log or indexer. Publishing
// happens after the ledger mutation commits; a publish failure never rolls
// the operation back.
type Publisher interface {
	Publish(topic string, payload map[string]any) error
}

// New builds an event envelope with a fresh ID.
func New(topic string, payload map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		Topic:     topic,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// LogPublisher writes events to a slog logger. Default sink when no broker
// is configured.
type LogPublisher struct {
	Logger *slog.Logger
}

func (p *LogPublisher) Publish(topic string, payload map[string]any) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ev := New(topic, payload)
	logger.Info("domain_event", "event_id", ev.ID, "topic", ev.Topic, "payload", ev.Payload)
	return nil
}

// MemoryPublisher records events in order. Test use.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *MemoryPublisher) Publish(topic string, payload map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, New(topic, payload))
	return nil
}

// Events returns a copy of everything published so far.
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// ByTopic filters recorded events by topic.
func (p *MemoryPublisher) ByTopic(topic string) []Event {
	var out []Event
	for _, ev := range p.Events() {
		if ev.Topic == topic {
			out = append(out, ev)
		}
	}
	return out
}

var (
	_ Publisher = (*LogPublisher)(nil)
	_ Publisher = (*MemoryPublisher)(nil)
)
