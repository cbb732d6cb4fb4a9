package engine

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tallyhq/pos-core/internal/actor"
	"github.com/tallyhq/pos-core/internal/domain/payment"
	"github.com/tallyhq/pos-core/internal/events"
	"github.com/tallyhq/pos-core/internal/processor"
)

var (
	// ErrPaymentNotFound is returned when the payment id resolves to no live
	// entity.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrProcessorVoidRejected is returned when the entity void succeeded but
	// the processor refused to release the authorization. The payment is
	// voided locally; the gateway side needs manual reconciliation.
	ErrProcessorVoidRejected = errors.New("processor rejected void")
)

// PaymentStore persists payment snapshots, write-behind like OrderStore.
type PaymentStore interface {
	Save(ctx context.Context, p *payment.Payment) error
}

// Payments is the command surface over payment entities. Card operations go
// through the processor registry inside the owning actor's mailbox, so the
// entity transition and the processor call for one payment never interleave.
type Payments struct {
	host       *actor.Host[*payment.Payment]
	ids        *snowflake.Node
	log        *zap.Logger
	events     events.Publisher
	store      PaymentStore
	processors *processor.Registry
	orders     *Orders
}

// NewPayments creates the payment engine. store may be nil.
func NewPayments(ids *snowflake.Node, log *zap.Logger, pub events.Publisher, store PaymentStore, registry *processor.Registry, orders *Orders) *Payments {
	return &Payments{
		host:       actor.NewHost[*payment.Payment](64),
		ids:        ids,
		log:        log.Named("engine.payments"),
		events:     pub,
		store:      store,
		processors: registry,
		orders:     orders,
	}
}

// Shutdown stops all payment actors.
func (s *Payments) Shutdown() { s.host.Close() }

// InitiateCommand starts a payment against an order.
type InitiateCommand struct {
	OrganizationID string
	SiteID         string
	OrderID        string
	Method         payment.Method
	Amount         decimal.Decimal
	Gateway        string
	CashierID      string
}

// InitiateResult identifies the created payment.
type InitiateResult struct {
	ID        string
	Status    payment.Status
	CreatedAt time.Time
}

// Initiate activates a new payment entity in status initiated.
func (s *Payments) Initiate(ctx context.Context, cmd InitiateCommand) (*InitiateResult, error) {
	p, err := payment.Initiate(payment.InitiateParams{
		ID:             s.ids.Generate().String(),
		OrganizationID: cmd.OrganizationID,
		SiteID:         cmd.SiteID,
		OrderID:        cmd.OrderID,
		Method:         cmd.Method,
		Amount:         cmd.Amount,
		Gateway:        cmd.Gateway,
		CashierID:      cmd.CashierID,
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.host.Activate(p.ID, p); err != nil {
		return nil, errors.Wrap(err, "activate payment")
	}
	s.persist(ctx, p.Clone())

	return &InitiateResult{ID: p.ID, Status: p.Status, CreatedAt: p.CreatedAt}, nil
}

// AuthorizeCommand requests a card authorization from the processor.
type AuthorizeCommand struct {
	PaymentMethodToken   string
	CaptureAutomatically bool
	Descriptor           string
	SplitAllocations     []processor.SplitAllocation
}

// AuthorizeResult is the outcome of an authorization. Declines and pending
// challenges come back here, not as errors.
type AuthorizeResult struct {
	Status         payment.Status
	DeclineCode    string
	DeclineMessage string
	NextAction     *processor.NextAction
}

// Authorize runs the authorization round-trip. On decline the payment lands
// in declined with the code recorded; on a required challenge the payment
// stays authorizing and the caller follows NextAction.
func (s *Payments) Authorize(ctx context.Context, paymentID string, cmd AuthorizeCommand) (*AuthorizeResult, error) {
	return callPayment(ctx, s, paymentID, func(p *payment.Payment) (*AuthorizeResult, error) {
		proc, err := s.processors.Get(p.Gateway)
		if err != nil {
			return nil, err
		}
		if err := p.RequestAuthorization(); err != nil {
			return nil, err
		}

		res, err := proc.Authorize(ctx, processor.AuthorizeRequest{
			IntentID:             p.ID,
			Amount:               p.Amount,
			Currency:             "USD",
			PaymentMethodToken:   cmd.PaymentMethodToken,
			CaptureAutomatically: cmd.CaptureAutomatically,
			Descriptor:           cmd.Descriptor,
			SplitAllocations:     cmd.SplitAllocations,
		})
		if err != nil {
			// The request never left the building; put the payment back in
			// initiated so a corrected retry can run.
			if abortErr := p.AbortAuthorization(); abortErr != nil {
				return nil, abortErr
			}
			return nil, errors.Wrap(err, "processor authorize")
		}

		switch {
		case res.Approved:
			card := &payment.CardInfo{
				MaskedNumber: processor.MaskToken(cmd.PaymentMethodToken),
				Brand:        processor.BrandForToken(cmd.PaymentMethodToken),
				EntryMethod:  "keyed",
			}
			if err := p.RecordAuthorization(res.AuthorizationCode, res.TransactionID, card); err != nil {
				return nil, err
			}
			if cmd.CaptureAutomatically {
				if err := p.Capture(decimal.Zero); err != nil {
					return nil, err
				}
			}
		case res.NextAction != nil:
			// Challenge pending; the webhook completes the authorization.
			p.GatewayReference = res.TransactionID
		default:
			if err := p.RecordDecline(res.DeclineCode, res.DeclineMessage); err != nil {
				return nil, err
			}
		}
		s.persist(ctx, p.Clone())

		return &AuthorizeResult{
			Status:         p.Status,
			DeclineCode:    res.DeclineCode,
			DeclineMessage: res.DeclineMessage,
			NextAction:     res.NextAction,
		}, nil
	})
}

// CaptureResult reports a settled capture.
type CaptureResult struct {
	Status         payment.Status
	CapturedAmount decimal.Decimal
}

// Capture settles an authorized payment with the processor and records it on
// the entity. A zero amount captures the full authorized amount.
func (s *Payments) Capture(ctx context.Context, paymentID string, amount decimal.Decimal) (*CaptureResult, error) {
	return callPayment(ctx, s, paymentID, func(p *payment.Payment) (*CaptureResult, error) {
		proc, err := s.processors.Get(p.Gateway)
		if err != nil {
			return nil, err
		}

		res, err := proc.Capture(ctx, p.GatewayReference, amount)
		if err != nil {
			return nil, err
		}
		if err := p.Capture(res.CapturedAmount); err != nil {
			return nil, err
		}
		s.persist(ctx, p.Clone())

		return &CaptureResult{Status: p.Status, CapturedAmount: p.CapturedAmount}, nil
	})
}

// CompleteCashResult reports a cash settlement.
type CompleteCashResult struct {
	Status      payment.Status
	ChangeGiven decimal.Decimal
}

// CompleteCash settles a cash payment and records it on the order. The order
// update is a separate actor call after the payment commit; recording is
// idempotent on the payment id, so a retry after a crash in between cannot
// double-count.
func (s *Payments) CompleteCash(ctx context.Context, paymentID string, tendered, tip decimal.Decimal) (*CompleteCashResult, error) {
	p, err := callPayment(ctx, s, paymentID, func(p *payment.Payment) (*payment.Payment, error) {
		if _, err := p.CompleteCash(tendered, tip); err != nil {
			return nil, err
		}
		s.persist(ctx, p.Clone())
		return p.Clone(), nil
	})
	if err != nil {
		return nil, err
	}

	s.recordOnOrder(ctx, p)
	s.emit(ctx, p.OrganizationID, events.TypePaymentCompleted, events.PaymentCompletedEvent{
		PaymentID: p.ID,
		OrderID:   p.OrderID,
		Method:    string(p.Method),
		Amount:    p.Amount,
		Tip:       p.TipAmount,
	})

	return &CompleteCashResult{Status: p.Status, ChangeGiven: p.ChangeGiven}, nil
}

// CompleteCardCommand finalizes a card payment.
type CompleteCardCommand struct {
	Tip decimal.Decimal
}

// CompleteCard settles a card payment (from initiated for terminal-settled
// cards, or from authorized) and records it on the order.
func (s *Payments) CompleteCard(ctx context.Context, paymentID string, cmd CompleteCardCommand) (*InitiateResult, error) {
	p, err := callPayment(ctx, s, paymentID, func(p *payment.Payment) (*payment.Payment, error) {
		if err := p.CompleteCard(p.GatewayReference, p.AuthorizationCode, p.CardInfo, p.Gateway, cmd.Tip); err != nil {
			return nil, err
		}
		s.persist(ctx, p.Clone())
		return p.Clone(), nil
	})
	if err != nil {
		return nil, err
	}

	s.recordOnOrder(ctx, p)
	s.emit(ctx, p.OrganizationID, events.TypePaymentCompleted, events.PaymentCompletedEvent{
		PaymentID: p.ID,
		OrderID:   p.OrderID,
		Method:    string(p.Method),
		Amount:    p.Amount,
		Tip:       p.TipAmount,
	})

	return &InitiateResult{ID: p.ID, Status: p.Status, CreatedAt: p.CreatedAt}, nil
}

// ConfirmAuthorization commits a pending authorization after the customer
// challenge completed (signalled by the processor webhook). The card token is
// re-supplied for presentation details only; it is not re-screened.
func (s *Payments) ConfirmAuthorization(ctx context.Context, paymentID, authCode, paymentMethodToken string) (*AuthorizeResult, error) {
	return callPayment(ctx, s, paymentID, func(p *payment.Payment) (*AuthorizeResult, error) {
		card := &payment.CardInfo{
			MaskedNumber: processor.MaskToken(paymentMethodToken),
			Brand:        processor.BrandForToken(paymentMethodToken),
			EntryMethod:  "keyed",
		}
		if err := p.RecordAuthorization(authCode, p.GatewayReference, card); err != nil {
			return nil, err
		}
		s.persist(ctx, p.Clone())
		return &AuthorizeResult{Status: p.Status}, nil
	})
}

// RefundResult reports a processed refund.
type RefundResult struct {
	Status          payment.Status
	RefundedAmount  decimal.Decimal
	RemainingAmount decimal.Decimal
}

// Refund returns part or all of a settled payment. The processor settles
// first; the entity transition commits only after the processor accepts, so
// a processor failure leaves the payment refundable.
func (s *Payments) Refund(ctx context.Context, paymentID string, amount decimal.Decimal, reason, approvedBy string) (*RefundResult, error) {
	res, err := callPayment(ctx, s, paymentID, func(p *payment.Payment) (*RefundResult, error) {
		if err := p.CanRefund(amount); err != nil {
			return nil, err
		}

		if p.Method == payment.MethodCard && p.GatewayReference != "" {
			proc, err := s.processors.Get(p.Gateway)
			if err != nil {
				return nil, err
			}
			if _, err := proc.Refund(ctx, p.GatewayReference, amount, reason); err != nil {
				return nil, errors.Wrap(err, "processor refund")
			}
		}

		refunded, remaining, err := p.Refund(amount, reason, approvedBy)
		if err != nil {
			return nil, err
		}
		s.persist(ctx, p.Clone())

		s.emit(ctx, p.OrganizationID, events.TypePaymentRefunded, events.PaymentRefundedEvent{
			PaymentID: p.ID,
			OrderID:   p.OrderID,
			Amount:    refunded,
			Reason:    reason,
		})
		return &RefundResult{Status: p.Status, RefundedAmount: refunded, RemainingAmount: remaining}, nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Void cancels a payment. The entity voids first; if the processor then
// refuses to release the authorization, the local void stands and
// ErrProcessorVoidRejected is returned so the caller can flag reconciliation.
func (s *Payments) Void(ctx context.Context, paymentID, approvedBy, reason string) error {
	p, err := callPayment(ctx, s, paymentID, func(p *payment.Payment) (*payment.Payment, error) {
		if err := p.Void(approvedBy, reason); err != nil {
			return nil, err
		}
		s.persist(ctx, p.Clone())
		return p.Clone(), nil
	})
	if err != nil {
		return err
	}

	s.emit(ctx, p.OrganizationID, events.TypePaymentVoided, events.PaymentVoidedEvent{
		PaymentID: p.ID,
		OrderID:   p.OrderID,
		Reason:    reason,
	})

	if p.Method == payment.MethodCard && p.GatewayReference != "" {
		proc, err := s.processors.Get(p.Gateway)
		if err != nil {
			return ErrProcessorVoidRejected
		}
		if _, err := proc.Void(ctx, p.GatewayReference, reason); err != nil {
			s.log.Warn("processor void rejected after local void",
				zap.String("payment_id", p.ID),
				zap.String("gateway_reference", p.GatewayReference),
				zap.Error(err),
			)
			return ErrProcessorVoidRejected
		}
	}
	return nil
}

// AdjustTip changes the tip on a completed payment.
func (s *Payments) AdjustTip(ctx context.Context, paymentID string, newTip decimal.Decimal, approvedBy string) (*payment.Payment, error) {
	return callPayment(ctx, s, paymentID, func(p *payment.Payment) (*payment.Payment, error) {
		if err := p.AdjustTip(newTip, approvedBy); err != nil {
			return nil, err
		}
		s.persist(ctx, p.Clone())
		return p.Clone(), nil
	})
}

// HandleWebhook routes an asynchronous processor event to its backend.
func (s *Payments) HandleWebhook(ctx context.Context, provider, eventType string, payload []byte) error {
	proc, err := s.processors.Get(provider)
	if err != nil {
		return err
	}
	return proc.HandleWebhook(ctx, eventType, payload)
}

// Get returns a point-in-time snapshot of the payment.
func (s *Payments) Get(ctx context.Context, paymentID string) (*payment.Payment, error) {
	return callPayment(ctx, s, paymentID, func(p *payment.Payment) (*payment.Payment, error) {
		return p.Clone(), nil
	})
}

// recordOnOrder records a settled payment on its order, logging failures.
// The order may be closed or voided concurrently; the payment stands either
// way and the discrepancy surfaces in reconciliation.
func (s *Payments) recordOnOrder(ctx context.Context, p *payment.Payment) {
	if s.orders == nil {
		return
	}
	if _, err := s.orders.RecordPayment(ctx, p.OrderID, p.ID, p.Amount, p.TipAmount, string(p.Method)); err != nil {
		s.log.Error("recording payment on order failed",
			zap.String("payment_id", p.ID),
			zap.String("order_id", p.OrderID),
			zap.Error(err),
		)
	}
}

func callPayment[R any](ctx context.Context, s *Payments, paymentID string, fn func(*payment.Payment) (R, error)) (R, error) {
	ref, ok := s.host.Lookup(paymentID)
	if !ok {
		var zero R
		return zero, ErrPaymentNotFound
	}
	return actor.Call(ctx, ref, fn)
}

func (s *Payments) emit(ctx context.Context, orgID, eventType string, payload any) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, orgID, eventType, payload); err != nil {
		s.log.Warn("event publish failed", zap.String("type", eventType), zap.Error(err))
	}
}

func (s *Payments) persist(ctx context.Context, p *payment.Payment) {
	if s.store == nil {
		return
	}
	if err := s.store.Save(ctx, p); err != nil {
		s.log.Warn("snapshot save failed", zap.String("payment_id", p.ID), zap.Error(err))
	}
}
