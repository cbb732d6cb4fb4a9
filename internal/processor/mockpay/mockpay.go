// Package mockpay is the deterministic in-memory processor backend used for
// development and tests. Outcomes are keyed entirely by the payment-method
// token, so the same token always produces the same decline, challenge or
// approval.
package mockpay

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tallyhq/pos-core/internal/processor"
)

// Webhook event types the backend understands.
const (
	EventThreeDSCompleted = "three_ds.completed"
	EventChargeDisputed   = "charge.disputed"
)

type transaction struct {
	id               string
	status           processor.TxStatus
	authorizedAmount decimal.Decimal
	capturedAmount   decimal.Decimal
	refundedAmount   decimal.Decimal
	currency         string
	authCode         string
	events           []string
}

func (t *transaction) record(event string) {
	t.events = append(t.events, time.Now().UTC().Format(time.RFC3339Nano)+" "+event)
}

// Backend implements processor.Processor with in-memory bookkeeping.
type Backend struct {
	mu  sync.Mutex
	txs map[string]*transaction
}

// New creates an empty backend.
func New() *Backend {
	return &Backend{txs: make(map[string]*transaction)}
}

// Provider returns the registry key for this backend.
func (b *Backend) Provider() string { return "mockpay" }

// Authorize screens the token and either declines, issues a 3DS challenge,
// or authorizes. With CaptureAutomatically the transaction settles in the
// same call.
func (b *Backend) Authorize(ctx context.Context, req processor.AuthorizeRequest) (*processor.AuthResult, error) {
	if !req.Amount.IsPositive() {
		return nil, processor.ErrAmountTooLarge
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
		id:               "mp_" + uuid.New().String(),
		authorizedAmount: req.Amount.Round(2),
		currency:         req.Currency,
		authCode:         authCode(req.IntentID),
	}

	if requiresAction {
		tx.status = processor.TxPendingAction
		tx.record("authorization pending 3ds challenge")
		b.store(tx)
		return &processor.AuthResult{
			Approved:      false,
			TransactionID: tx.id,
			NextAction: &processor.NextAction{
				Type: "redirect",
				URL:  "https://mockpay.test/3ds/" + tx.id,
			},
		}, nil
	}

	tx.status = processor.TxAuthorized
	tx.record("authorized " + tx.authorizedAmount.StringFixed(2))
	if req.CaptureAutomatically {
		tx.status = processor.TxCaptured
		tx.capturedAmount = tx.authorizedAmount
		tx.record("captured " + tx.capturedAmount.StringFixed(2))
	}
	b.store(tx)

	return &processor.AuthResult{
		Approved:          true,
		TransactionID:     tx.id,
		AuthorizationCode: tx.authCode,
	}, nil
}

func (b *Backend) store(tx *transaction) {
	b.mu.Lock()
	b.txs[tx.id] = tx
	b.mu.Unlock()
}

// Capture settles an authorization exactly once. A zero amount captures the
// full authorized amount; a partial capture forfeits the remainder of the
// hold, so a follow-up capture has no headroom left.
func (b *Backend) Capture(ctx context.Context, transactionID string, amount decimal.Decimal) (*processor.CaptureResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tx, ok := b.txs[transactionID]
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
	tx.record("captured " + tx.capturedAmount.StringFixed(2))

	return &processor.CaptureResult{CapturedAmount: tx.capturedAmount}, nil
}

// Refund returns up to the captured, not-yet-refunded amount.
func (b *Backend) Refund(ctx context.Context, transactionID string, amount decimal.Decimal, reason string) (*processor.RefundResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tx, ok := b.txs[transactionID]
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
	tx.record("refunded " + amount.StringFixed(2) + " (" + reason + ")")

	return &processor.RefundResult{
		RefundID:       "re_" + uuid.New().String(),
		RefundedAmount: amount.Round(2),
	}, nil
}

// Void releases an authorization. Voiding a captured transaction is illegal.
func (b *Backend) Void(ctx context.Context, transactionID string, reason string) (*processor.VoidResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tx, ok := b.txs[transactionID]
	if !ok {
		return nil, processor.ErrInvalidTransaction
	}
	if tx.status != processor.TxAuthorized && tx.status != processor.TxPendingAction {
		return nil, processor.ErrInvalidState
	}

	tx.status = processor.TxVoided
	tx.record("voided (" + reason + ")")

	return &processor.VoidResult{VoidID: "vd_" + uuid.New().String()}, nil
}

// HandleWebhook applies asynchronous network events: 3DS completion moves a
// pending transaction to authorized, a chargeback moves a captured one to
// disputed. The payload carries the transaction id.
func (b *Backend) HandleWebhook(ctx context.Context, eventType string, payload []byte) error {
	txID, err := transactionIDFromPayload(payload)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	tx, ok := b.txs[txID]
	if !ok {
		return processor.ErrInvalidTransaction
	}

	switch eventType {
	case EventThreeDSCompleted:
		if tx.status != processor.TxPendingAction {
			return processor.ErrInvalidState
		}
		tx.status = processor.TxAuthorized
		tx.record("3ds challenge completed, authorized")
		return nil
	case EventChargeDisputed:
		if tx.status != processor.TxCaptured {
			return processor.ErrInvalidState
		}
		tx.status = processor.TxDisputed
		tx.record("chargeback opened")
		return nil
	default:
		return processor.ErrEventIgnored
	}
}

// Status exposes a transaction's settlement bookkeeping for reconciliation.
func (b *Backend) Status(transactionID string) (status processor.TxStatus, authorized, captured, refunded decimal.Decimal, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tx, ok := b.txs[transactionID]
	if !ok {
		return "", decimal.Zero, decimal.Zero, decimal.Zero, processor.ErrInvalidTransaction
	}
	return tx.status, tx.authorizedAmount, tx.capturedAmount, tx.refundedAmount, nil
}

// AuthorizationCode returns the code issued for a transaction.
func (b *Backend) AuthorizationCode(transactionID string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tx, ok := b.txs[transactionID]
	if !ok {
		return "", processor.ErrInvalidTransaction
	}
	return tx.authCode, nil
}

// authCode derives a stable six-character approval code from the intent id.
func authCode(intentID string) string {
	sum := sha256.Sum256([]byte(intentID))
	return strings.ToUpper(hex.EncodeToString(sum[:3]))
}

// transactionIDFromPayload decodes {"transaction_id": "..."} from a webhook
// payload.
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
