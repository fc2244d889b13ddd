package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderProcessed  = "OrderProcessed"
	EventRefundProcessed = "RefundProcessed"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // salah satu const di atas
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`   // RFC3339
	Producer      string          `json:"producer"`      // e.g., "orders-worker"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // biasanya order_id
	Payload       json.RawMessage `json:"payload"`
}

// ---- Payload tipe per event ----

type OrderProcessedPayload struct {
	OrderID    string `json:"order_id"`
	CustomerID string `json:"customer_id"`
	Status     Status `json:"status"` // PAID | FAILED
	TotalCents int    `json:"total_cents"`
	Succeeded  bool   `json:"succeeded"`
}

type RefundProcessedPayload struct {
	RefundID    string       `json:"refund_id"`
	OrderID     string       `json:"order_id"`
	Status      RefundStatus `json:"status"`
	AmountCents int          `json:"amount_cents"`
}
