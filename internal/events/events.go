// Package events defines the outbound events the core emits for downstream
// subscribers (sales aggregation, reporting). Events are values placed on an
// append-only per-organization stream; the core never calls a subscriber
// directly and does not depend on one existing.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types.
const (
	TypeOrderCreated     = "order.created"
	TypeOrderLineAdded   = "order.line_added"
	TypeOrderCompleted   = "order.completed"
	TypeOrderVoided      = "order.voided"
	TypeOrderSplit       = "order.split"
	TypePaymentCompleted = "payment.completed"
	TypePaymentRefunded  = "payment.refunded"
	TypePaymentVoided    = "payment.voided"
)

// OrderCreatedEvent announces a new guest check.
type OrderCreatedEvent struct {
	OrderID     string    `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	SiteID      string    `json:"site_id"`
	TableNumber string    `json:"table_number,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// OrderLineAddedEvent announces an itemization change.
type OrderLineAddedEvent struct {
	OrderID    string          `json:"order_id"`
	LineID     string          `json:"line_id"`
	MenuItemID string          `json:"menu_item_id"`
	Name       string          `json:"name"`
	Quantity   int             `json:"quantity"`
	LineTotal  decimal.Decimal `json:"line_total"`
}

// CompletedLine is the per-line detail carried by OrderCompletedEvent.
type CompletedLine struct {
	MenuItemID string          `json:"menu_item_id"`
	Name       string          `json:"name"`
	Quantity   int             `json:"quantity"`
	LineTotal  decimal.Decimal `json:"line_total"`
}

// OrderCompletedEvent announces a closed check; downstream derives sale
// records from it.
type OrderCompletedEvent struct {
	OrderID      string          `json:"order_id"`
	SiteID       string          `json:"site_id"`
	Lines        []CompletedLine `json:"lines"`
	GrandTotal   decimal.Decimal `json:"grand_total"`
	TipTotal     decimal.Decimal `json:"tip_total"`
	BusinessDate string          `json:"business_date"`
}

// OrderVoidedEvent announces a cancelled check.
type OrderVoidedEvent struct {
	OrderID      string `json:"order_id"`
	SiteID       string `json:"site_id"`
	Reason       string `json:"reason"`
	BusinessDate string `json:"business_date"`
}

// OrderSplitEvent announces a line-ownership transfer to a child order.
type OrderSplitEvent struct {
	SourceOrderID string `json:"source_order_id"`
	NewOrderID    string `json:"new_order_id"`
	NewOrderNum   string `json:"new_order_number"`
	LinesMoved    int    `json:"lines_moved"`
}

// PaymentCompletedEvent announces a settled payment.
type PaymentCompletedEvent struct {
	PaymentID string          `json:"payment_id"`
	OrderID   string          `json:"order_id"`
	Method    string          `json:"method"`
	Amount    decimal.Decimal `json:"amount"`
	Tip       decimal.Decimal `json:"tip"`
}

// PaymentRefundedEvent announces a full or partial refund.
type PaymentRefundedEvent struct {
	PaymentID string          `json:"payment_id"`
	OrderID   string          `json:"order_id"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason"`
}

// PaymentVoidedEvent announces a voided payment.
type PaymentVoidedEvent struct {
	PaymentID string `json:"payment_id"`
	OrderID   string `json:"order_id"`
	Reason    string `json:"reason"`
}

// BusinessDate formats a timestamp as the yyyy-mm-dd business date
// downstream aggregators key on.
func BusinessDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Envelope wraps an event on the stream.
type Envelope struct {
	ID             string          `json:"id"`
	OrganizationID string          `json:"organization_id"`
	Type           string          `json:"type"`
	OccurredAt     time.Time       `json:"occurred_at"`
	Payload        json.RawMessage `json:"payload"`
}

// Publisher places events on a per-organization stream.
type Publisher interface {
	Publish(ctx context.Context, orgID, eventType string, payload any) error
	Close() error
}

// MemoryPublisher is an in-process append-only stream, used by tests and as
// the default when no broker is configured.
type MemoryPublisher struct {
	mu      sync.Mutex
	streams map[string][]Envelope
}

// NewMemoryPublisher creates an empty in-memory stream.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{streams: make(map[string][]Envelope)}
}

// Publish appends the event to the organization's stream.
func (m *MemoryPublisher) Publish(ctx context.Context, orgID, eventType string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	env := Envelope{
		ID:             uuid.New().String(),
		OrganizationID: orgID,
		Type:           eventType,
		OccurredAt:     time.Now().UTC(),
		Payload:        body,
	}

	m.mu.Lock()
	m.streams[orgID] = append(m.streams[orgID], env)
	m.mu.Unlock()
	return nil
}

// Stream returns a copy of the organization's stream in append order.
func (m *MemoryPublisher) Stream(orgID string) []Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Envelope(nil), m.streams[orgID]...)
}

// Close is a no-op for the in-memory stream.
func (m *MemoryPublisher) Close() error { return nil }
