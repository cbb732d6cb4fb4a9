// Package processor defines the uniform contract between a payment entity
// and a card-network backend. Declines are first-class result values, never
// errors; errors are reserved for invalid transactions and business-rule
// violations such as over-capture.
package processor

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidTransaction is returned when a transaction id is unknown to
	// the backend.
	ErrInvalidTransaction = errors.New("invalid_transaction")
	// ErrAmountTooLarge is returned when a capture or refund exceeds the
	// remaining headroom.
	ErrAmountTooLarge = errors.New("amount_too_large")
	// ErrInvalidState is returned when the transaction status does not
	// permit the operation, e.g. voiding a captured transaction.
	ErrInvalidState = errors.New("invalid_state")
	// ErrInvalidSplit is returned when split allocations are malformed or
	// exceed the authorized amount.
	ErrInvalidSplit = errors.New("invalid_split")
	// ErrEventIgnored is returned by HandleWebhook for event types the
	// backend does not process.
	ErrEventIgnored = errors.New("event ignored")
	// ErrProviderNotFound is returned by the registry for an unknown
	// provider name.
	ErrProviderNotFound = errors.New("payment provider not found")
)

// TxStatus enumerates processor-side transaction states. This bookkeeping is
// owned by the backend and is distinct from the payment entity's status: the
// entity is the source of truth for business semantics, the transaction for
// settlement amounts.
type TxStatus string

const (
	TxPendingAction TxStatus = "pending_action"
	TxAuthorized    TxStatus = "authorized"
	TxCaptured      TxStatus = "captured"
	TxRefunded      TxStatus = "refunded"
	TxVoided        TxStatus = "voided"
	TxDisputed      TxStatus = "disputed"
)

// SplitAllocation routes part of a settlement to a sub-account, used for
// marketplace-style fee splitting. Only backends that support split
// settlement honor it.
type SplitAllocation struct {
	AccountID string
	Amount    decimal.Decimal
}

// NextAction tells the caller how to continue an authorization that requires
// a customer challenge (3-D Secure).
type NextAction struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// AuthorizeRequest is the input to Authorize.
type AuthorizeRequest struct {
	IntentID             string
	Amount               decimal.Decimal
	Currency             string
	PaymentMethodToken   string
	CaptureAutomatically bool
	Descriptor           string
	Metadata             map[string]string
	SplitAllocations     []SplitAllocation
}

// AuthResult is the outcome of an authorization attempt. A decline populates
// DeclineCode/DeclineMessage with Approved=false; a challenge populates
// NextAction with the transaction pending.
type AuthResult struct {
	Approved          bool
	TransactionID     string
	AuthorizationCode string
	DeclineCode       string
	DeclineMessage    string
	NextAction        *NextAction
}

// CaptureResult reports the amount settled by a capture.
type CaptureResult struct {
	CapturedAmount decimal.Decimal
}

// RefundResult reports a processed refund.
type RefundResult struct {
	RefundID       string
	RefundedAmount decimal.Decimal
}

// VoidResult reports a released authorization.
type VoidResult struct {
	VoidID string
}

// Processor is the uniform backend contract. Implementations keep their own
// per-transaction authorized/captured/refunded bookkeeping.
type Processor interface {
	Provider() string
	Authorize(ctx context.Context, req AuthorizeRequest) (*AuthResult, error)
	Capture(ctx context.Context, transactionID string, amount decimal.Decimal) (*CaptureResult, error)
	Refund(ctx context.Context, transactionID string, amount decimal.Decimal, reason string) (*RefundResult, error)
	Void(ctx context.Context, transactionID string, reason string) (*VoidResult, error)
	HandleWebhook(ctx context.Context, eventType string, payload []byte) error
}

// Registry resolves processors by provider name.
type Registry struct {
	processors map[string]Processor
}

// NewRegistry builds a registry from the given backends, keyed by their
// lower-cased provider name.
func NewRegistry(processors ...Processor) *Registry {
	r := &Registry{processors: make(map[string]Processor, len(processors))}
	for _, p := range processors {
		if p == nil {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(p.Provider()))
		if name == "" {
			continue
		}
		r.processors[name] = p
	}
	return r
}

// Get returns the processor registered under the given provider name.
func (r *Registry) Get(provider string) (Processor, error) {
	p, ok := r.processors[strings.ToLower(strings.TrimSpace(provider))]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return p, nil
}

// Providers lists the registered provider names.
func (r *Registry) Providers() []string {
	names := make([]string, 0, len(r.processors))
	for name := range r.processors {
		names = append(names, name)
	}
	return names
}
