// Package payment implements the payment entity state machine. Every
// transition validates the current status against an explicit allow-list and
// either applies fully or not at all. Processor communication is the hosting
// engine's concern; this entity only tracks business state.
package payment

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status enumerates the payment lifecycle states.
type Status string

const (
	StatusInitiated         Status = "initiated"
	StatusAuthorizing       Status = "authorizing"
	StatusAuthorized        Status = "authorized"
	StatusCaptured          Status = "captured"
	StatusCompleted         Status = "completed"
	StatusPartiallyRefunded Status = "partially_refunded"
	StatusRefunded          Status = "refunded"
	StatusVoided            Status = "voided"
	StatusDeclined          Status = "declined"
)

// Method enumerates how the guest pays.
type Method string

const (
	MethodCash     Method = "cash"
	MethodCard     Method = "card"
	MethodGiftCard Method = "gift_card"
)

var (
	// ErrRefundExceedsBalance is returned when a refund would exceed the
	// unrefunded amount.
	ErrRefundExceedsBalance = errors.New("refund exceeds available balance")
	// ErrCaptureExceedsAuthorized is returned when a partial capture exceeds
	// the authorized amount.
	ErrCaptureExceedsAuthorized = errors.New("capture exceeds authorized amount")
	// ErrInvalidAmount is returned for non-positive amounts where a positive
	// one is required.
	ErrInvalidAmount = errors.New("amount must be greater than 0")
	// ErrInsufficientTender is returned when the cash tendered does not
	// cover the amount plus tip.
	ErrInsufficientTender = errors.New("tendered amount does not cover total")
	// ErrNegativeTip is returned when adjusting the tip to a negative value.
	ErrNegativeTip = errors.New("tip must not be negative")
)

// InvalidTransitionError indicates an operation attempted from a status not
// in its allow-list. The message names the required status.
type InvalidTransitionError struct {
	Op       string
	Current  Status
	Required []Status
}

func (e *InvalidTransitionError) Error() string {
	required := make([]string, len(e.Required))
	for i, s := range e.Required {
		required[i] = string(s)
	}
	return fmt.Sprintf("cannot %s payment: status is %s, requires %s",
		e.Op, e.Current, strings.Join(required, " or "))
}

// CardInfo carries the masked presentation details of a card payment.
type CardInfo struct {
	MaskedNumber string `json:"masked_number"`
	Brand        string `json:"brand"`
	EntryMethod  string `json:"entry_method"`
}

// Payment is one tender against an order.
type Payment struct {
	ID                string          `json:"id"`
	OrganizationID    string          `json:"organization_id"`
	SiteID            string          `json:"site_id"`
	OrderID           string          `json:"order_id"`
	Method            Method          `json:"method"`
	Amount            decimal.Decimal `json:"amount"`
	TipAmount         decimal.Decimal `json:"tip_amount"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	Status            Status          `json:"status"`
	Gateway           string          `json:"gateway,omitempty"`
	AuthorizationCode string          `json:"authorization_code,omitempty"`
	GatewayReference  string          `json:"gateway_reference,omitempty"`
	CardInfo          *CardInfo       `json:"card_info,omitempty"`
	CapturedAmount    decimal.Decimal `json:"captured_amount"`
	RefundedAmount    decimal.Decimal `json:"refunded_amount"`
	ChangeGiven       decimal.Decimal `json:"change_given"`
	DeclineCode       string          `json:"decline_code,omitempty"`
	DeclineMessage    string          `json:"decline_message,omitempty"`
	VoidReason        string          `json:"void_reason,omitempty"`
	VoidedBy          string          `json:"voided_by,omitempty"`
	CashierID         string          `json:"cashier_id"`
	CreatedAt         time.Time       `json:"created_at"`
	CapturedAt        *time.Time      `json:"captured_at,omitempty"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
}

// InitiateParams holds the input for creating a payment.
type InitiateParams struct {
	ID             string
	OrganizationID string
	SiteID         string
	OrderID        string
	Method         Method
	Amount         decimal.Decimal
	Gateway        string
	CashierID      string
}

// Initiate creates a payment in status initiated.
func Initiate(p InitiateParams) (*Payment, error) {
	if !p.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	return &Payment{
		ID:             p.ID,
		OrganizationID: p.OrganizationID,
		SiteID:         p.SiteID,
		OrderID:        p.OrderID,
		Method:         p.Method,
		Amount:         p.Amount.Round(2),
		TotalAmount:    p.Amount.Round(2),
		Gateway:        p.Gateway,
		CashierID:      p.CashierID,
		Status:         StatusInitiated,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// require validates the current status against the op's allow-list.
func (p *Payment) require(op string, allowed ...Status) error {
	for _, s := range allowed {
		if p.Status == s {
			return nil
		}
	}
	return &InvalidTransitionError{Op: op, Current: p.Status, Required: allowed}
}

// RequestAuthorization moves the payment into the in-flight authorizing
// state.
func (p *Payment) RequestAuthorization() error {
	if err := p.require("request authorization", StatusInitiated); err != nil {
		return err
	}
	p.Status = StatusAuthorizing
	return nil
}

// AbortAuthorization returns an in-flight authorization to initiated. Used
// when the processor rejects the request outright (bad input, no network
// attempt), so a corrected retry is possible.
func (p *Payment) AbortAuthorization() error {
	if err := p.require("abort authorization", StatusAuthorizing); err != nil {
		return err
	}
	p.Status = StatusInitiated
	return nil
}

// RecordAuthorization stores the processor's approval.
func (p *Payment) RecordAuthorization(code, gatewayRef string, card *CardInfo) error {
	if err := p.require("record authorization", StatusAuthorizing); err != nil {
		return err
	}
	p.AuthorizationCode = code
	p.GatewayReference = gatewayRef
	p.CardInfo = card
	p.Status = StatusAuthorized
	return nil
}

// RecordDecline stores the processor's decline. Declined is terminal.
func (p *Payment) RecordDecline(code, message string) error {
	if err := p.require("record decline", StatusAuthorizing); err != nil {
		return err
	}
	p.DeclineCode = code
	p.DeclineMessage = message
	p.Status = StatusDeclined
	return nil
}

// Capture settles an authorized payment. A zero amount captures the full
// authorized amount; a partial capture must not exceed it.
func (p *Payment) Capture(amount decimal.Decimal) error {
	if err := p.require("capture", StatusAuthorized); err != nil {
		return err
	}
	if amount.IsZero() {
		amount = p.Amount
	}
	if amount.IsNegative() {
		return ErrInvalidAmount
	}
	if amount.GreaterThan(p.Amount) {
		return ErrCaptureExceedsAuthorized
	}
	p.CapturedAmount = amount.Round(2)
	now := time.Now().UTC()
	p.CapturedAt = &now
	p.Status = StatusCaptured
	return nil
}

// CompleteCash settles a cash payment in one step and returns the change.
func (p *Payment) CompleteCash(tendered, tip decimal.Decimal) (change decimal.Decimal, err error) {
	if err := p.require("complete cash", StatusInitiated); err != nil {
		return decimal.Zero, err
	}
	if tip.IsNegative() {
		return decimal.Zero, ErrNegativeTip
	}
	total := p.Amount.Add(tip).Round(2)
	if tendered.LessThan(total) {
		return decimal.Zero, ErrInsufficientTender
	}
	p.TipAmount = tip.Round(2)
	p.TotalAmount = total
	p.ChangeGiven = tendered.Sub(total).Round(2)
	now := time.Now().UTC()
	p.CompletedAt = &now
	p.Status = StatusCompleted
	return p.ChangeGiven, nil
}

// CompleteCard settles a card payment, either directly from initiated (the
// terminal already settled it) or after an authorization.
func (p *Payment) CompleteCard(gatewayRef, authCode string, card *CardInfo, gateway string, tip decimal.Decimal) error {
	if err := p.require("complete card", StatusInitiated, StatusAuthorized); err != nil {
		return err
	}
	if tip.IsNegative() {
		return ErrNegativeTip
	}
	p.GatewayReference = gatewayRef
	p.AuthorizationCode = authCode
	p.CardInfo = card
	if gateway != "" {
		p.Gateway = gateway
	}
	p.TipAmount = tip.Round(2)
	p.TotalAmount = p.Amount.Add(tip).Round(2)
	now := time.Now().UTC()
	p.CompletedAt = &now
	p.Status = StatusCompleted
	return nil
}

// CanRefund checks the refund guards without mutating, so the caller can
// settle with the processor before committing the entity transition.
func (p *Payment) CanRefund(amount decimal.Decimal) error {
	if err := p.require("refund", StatusCompleted, StatusCaptured, StatusPartiallyRefunded); err != nil {
		return err
	}
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if amount.GreaterThan(p.Amount.Sub(p.RefundedAmount)) {
		return ErrRefundExceedsBalance
	}
	return nil
}

// Refund returns part or all of the settled amount. A full refund is
// terminal; a partial one leaves the payment refundable for the remainder.
func (p *Payment) Refund(amount decimal.Decimal, reason, approvedBy string) (refunded, remaining decimal.Decimal, err error) {
	if err := p.CanRefund(amount); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	p.RefundedAmount = p.RefundedAmount.Add(amount).Round(2)
	if p.RefundedAmount.Equal(p.Amount) {
		p.Status = StatusRefunded
	} else {
		p.Status = StatusPartiallyRefunded
	}
	return amount.Round(2), p.Amount.Sub(p.RefundedAmount).Round(2), nil
}

// Void cancels the payment. A completed payment may still be voided (manager
// override); a voided or fully refunded one may not.
func (p *Payment) Void(approvedBy, reason string) error {
	if p.Status == StatusVoided || p.Status == StatusRefunded {
		return &InvalidTransitionError{
			Op:      "void",
			Current: p.Status,
			Required: []Status{
				StatusInitiated, StatusAuthorizing, StatusAuthorized,
				StatusCaptured, StatusCompleted, StatusPartiallyRefunded,
				StatusDeclined,
			},
		}
	}
	p.VoidReason = reason
	p.VoidedBy = approvedBy
	p.Status = StatusVoided
	return nil
}

// AdjustTip changes the tip on a completed payment and recomputes the total.
func (p *Payment) AdjustTip(newTip decimal.Decimal, approvedBy string) error {
	if err := p.require("adjust tip", StatusCompleted); err != nil {
		return err
	}
	if newTip.IsNegative() {
		return ErrNegativeTip
	}
	p.TipAmount = newTip.Round(2)
	p.TotalAmount = p.Amount.Add(p.TipAmount).Round(2)
	return nil
}

// Settled reports whether only refund and void transitions remain.
func (p *Payment) Settled() bool {
	switch p.Status {
	case StatusCompleted, StatusCaptured, StatusPartiallyRefunded:
		return true
	default:
		return false
	}
}

// Clone returns a copy safe to hand out of the owning actor.
func (p *Payment) Clone() *Payment {
	cp := *p
	if p.CardInfo != nil {
		card := *p.CardInfo
		cp.CardInfo = &card
	}
	if p.CapturedAt != nil {
		t := *p.CapturedAt
		cp.CapturedAt = &t
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
