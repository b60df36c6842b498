package events

import (
	"encoding/json"
	"time"

	"lumina/internal/domain"
	"lumina/internal/ledger"
)

const (
	EventOrderCreated       = "OrderCreated"
	EventStockReserved      = "StockReserved"
	EventStockRejected      = "StockRejected"
	EventPaymentAuthorized  = "PaymentAuthorized"
	EventOrderFinalized     = "OrderFinalized"
	EventOrderCancelled     = "OrderCancelled"
	EventReservationExpired = "ReservationExpired"
)

// TopicOrderLifecycle единый топик жизненного цикла заказа; ключ партиции —
// order_id, чтобы события одного заказа сохраняли порядок.
const TopicOrderLifecycle = "order.lifecycle"

func PartitionKey(orderID string) []byte { return []byte(orderID) }

// Envelope обёртка события (версионируемая)
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id"` // order_id
	Payload       json.RawMessage `json:"payload"`
}

// ---- Payload-типы по событиям ----

type OrderCreatedPayload struct {
	OrderID    string             `json:"order_id"`
	UserID     string             `json:"user_id"`
	Lines      []domain.OrderLine `json:"lines"`
	TotalCents int64              `json:"total_cents"`
}

type StockReservedPayload struct {
	OrderID       string `json:"order_id"`
	ReservationID string `json:"reservation_id"`
}

type StockRejectedPayload struct {
	OrderID string             `json:"order_id"`
	Reason  string             `json:"reason"` // e.g. OUT_OF_STOCK
	Details []ledger.ShortItem `json:"details,omitempty"`
}

type PaymentAuthorizedPayload struct {
	OrderID     string `json:"order_id"`
	PaymentRef  string `json:"payment_ref"`
	AmountCents int64  `json:"amount_cents"`
}

type OrderFinalizedPayload struct {
	OrderID     string `json:"order_id"`
	FinalStatus string `json:"final_status"`
}

func MustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
