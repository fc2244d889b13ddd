package orders

import "time"

type Customer struct {
	ID         string
	ExternalID string
	Email      string
	Name       string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Product struct {
	ID         string    `json:"id"`
	SKU        string    `json:"sku"`
	Name       string    `json:"name"`
	StockQty   int       `json:"stock_qty"`
	PriceCents int       `json:"price_cents"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Order struct {
	ID              string    `json:"id"`
	ExternalOrderID string    `json:"external_order_id"`
	CustomerID      string    `json:"customer_id"`
	Currency        string    `json:"currency"`
	PlacedAt        time.Time `json:"placed_at"`
	Status          Status    `json:"status"` // lihat status.go
	TotalCents      int       `json:"total_cents"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type OrderItem struct {
	ID             string
	OrderID        string
	ProductID      string
	UnitPriceCents int
	Qty            int
}

// SubtotalCents is stored as a generated column in postgres; this mirrors it.
func (it OrderItem) SubtotalCents() int { return it.UnitPriceCents * it.Qty }

type Payment struct {
	ID          string
	OrderID     string
	Provider    string
	ProviderRef string
	AmountCents int
	Status      PaymentStatus
	PaidAt      *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Refund struct {
	ID             string       `json:"id"`
	OrderID        string       `json:"order_id"`
	AmountCents    int          `json:"amount_cents"`
	Reason         string       `json:"reason,omitempty"`
	IdempotencyKey string       `json:"idempotency_key,omitempty"`
	Status         RefundStatus `json:"status"`
	ProcessedAt    *time.Time   `json:"processed_at,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

type Reservation struct {
	ID        string
	OrderID   string
	ProductID string
	Qty       int
	Status    string // RESERVED | RELEASED
	CreatedAt time.Time
}

const (
	ReservationReserved = "RESERVED"
	ReservationReleased = "RELEASED"
)

type NotificationLog struct {
	ID         string
	OrderID    string
	CustomerID string
	Channel    string
	Status     string
	TotalCents int
	Payload    []byte
	Success    bool
	Error      string
	SentAt     time.Time
}

// ImportLine is one validated row of an import file.
type ImportLine struct {
	Line               int
	ExternalOrderID    string
	PlacedAt           time.Time
	Currency           string
	CustomerExternalID string
	CustomerEmail      string
	CustomerName       string
	SKU                string
	ProductName        string
	UnitPriceCents     int
	Qty                int
}

// Shortage describes a product that could not cover the requested quantity.
type Shortage struct {
	ProductID string `json:"product_id"`
	Required  int    `json:"required"`
	Available int    `json:"available"`
}

// ReserveResult is the outcome of an atomic check-and-decrement.
type ReserveResult struct {
	OK              bool
	AlreadyReserved bool
	Shortages       []Shortage
}

// ChargeOutcome is what the payment callback persists.
type ChargeOutcome struct {
	Succeeded   bool
	Provider    string
	ProviderRef string
}
