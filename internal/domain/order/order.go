// Package order implements the guest-check ledger: an itemized order with
// discounts, recorded payments, derived totals, and the bill splitting
// operations. The entity is deliberately free of locks; the hosting actor
// serializes all access to a single order.
package order

import (
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tallyhq/pos-core/internal/money"
)

// Status enumerates the order lifecycle states.
type Status string

const (
	StatusOpen          Status = "open"
	StatusSent          Status = "sent"
	StatusPartiallyPaid Status = "partially_paid"
	StatusPaid          Status = "paid"
	StatusClosed        Status = "closed"
	StatusVoided        Status = "voided"
)

// Type enumerates how the guests are being served.
type Type string

const (
	TypeDineIn   Type = "dine_in"
	TypeTakeaway Type = "takeaway"
	TypeDelivery Type = "delivery"
)

// LineStatus enumerates the states of a single order line.
type LineStatus string

const (
	LinePending LineStatus = "pending"
	LineSent    LineStatus = "sent"
	LineVoided  LineStatus = "voided"
)

// DiscountType enumerates the supported discount strategies.
type DiscountType string

const (
	DiscountPercentage  DiscountType = "percentage"
	DiscountFixedAmount DiscountType = "fixed_amount"
)

var (
	// ErrNoPendingLines is returned by Send when every line has already
	// been sent or voided.
	ErrNoPendingLines = errors.New("no pending lines to send")
	// ErrOutstandingBalance is returned by Close while the order still
	// carries a balance due.
	ErrOutstandingBalance = errors.New("outstanding balance")
	// ErrInvalidQuantity is returned when a line quantity is not positive.
	ErrInvalidQuantity = errors.New("quantity must be greater than 0")
	// ErrNegativePrice is returned when a unit or modifier price is negative.
	ErrNegativePrice = errors.New("price must not be negative")
	// ErrInvalidDiscount is returned for a non-positive discount value or a
	// percentage above 100.
	ErrInvalidDiscount = errors.New("invalid discount value")
)

// StatusError indicates an operation attempted while the order is in a
// status that does not permit it.
type StatusError struct {
	Op     string
	Status Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("cannot %s: order is %s", e.Op, e.Status)
}

// LineNotFoundError indicates a referenced line does not exist on the order.
type LineNotFoundError struct {
	LineID string
}

func (e *LineNotFoundError) Error() string {
	return fmt.Sprintf("line %s not found", e.LineID)
}

// Modifier is a priced adjustment attached to a line (extra cheese, no ice).
type Modifier struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

// Line is a single item on the check. Voided lines stay on the order for
// audit but are excluded from totals.
type Line struct {
	ID         string          `json:"id"`
	MenuItemID string          `json:"menu_item_id"`
	Name       string          `json:"name"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Modifiers  []Modifier      `json:"modifiers,omitempty"`
	Status     LineStatus      `json:"status"`
	LineTotal  decimal.Decimal `json:"line_total"`
	VoidedBy   string          `json:"voided_by,omitempty"`
	VoidReason string          `json:"void_reason,omitempty"`
	RecipeID   string          `json:"recipe_id,omitempty"`
}

// Discount is an applied discount rule. Amount is re-derived from the rule on
// every totals recomputation so a percentage tracks the current subtotal.
type Discount struct {
	Label     string          `json:"label"`
	Type      DiscountType    `json:"type"`
	Value     decimal.Decimal `json:"value"`
	Amount    decimal.Decimal `json:"amount"`
	AppliedBy string          `json:"applied_by"`
	AppliedAt time.Time       `json:"applied_at"`
}

// PaymentRef records a settled payment against this order by reference.
// The payment entity itself lives in its own actor.
type PaymentRef struct {
	PaymentID  string          `json:"payment_id"`
	Amount     decimal.Decimal `json:"amount"`
	Tip        decimal.Decimal `json:"tip"`
	Method     string          `json:"method"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// ChildOrder links a split parent to one of its children.
type ChildOrder struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
}

// Totals are derived from the non-voided lines, discounts and payments.
type Totals struct {
	Subtotal      decimal.Decimal `json:"subtotal"`
	DiscountTotal decimal.Decimal `json:"discount_total"`
	TipTotal      decimal.Decimal `json:"tip_total"`
	GrandTotal    decimal.Decimal `json:"grand_total"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	BalanceDue    decimal.Decimal `json:"balance_due"`
}

// Order is one guest check.
type Order struct {
	ID             string       `json:"id"`
	Number         string       `json:"number"`
	OrganizationID string       `json:"organization_id"`
	SiteID         string       `json:"site_id"`
	Type           Type         `json:"type"`
	TableID        string       `json:"table_id,omitempty"`
	TableNumber    string       `json:"table_number,omitempty"`
	GuestCount     int          `json:"guest_count"`
	Status         Status       `json:"status"`
	Lines          []Line       `json:"lines"`
	Discounts      []Discount   `json:"discounts,omitempty"`
	Payments       []PaymentRef `json:"payments,omitempty"`
	ParentOrderID  string       `json:"parent_order_id,omitempty"`
	ChildOrders    []ChildOrder `json:"child_orders,omitempty"`
	ServerID       string       `json:"server_id,omitempty"`
	CustomerID     string       `json:"customer_id,omitempty"`
	CreatedBy      string       `json:"created_by"`
	CreatedAt      time.Time    `json:"created_at"`
	SentAt         *time.Time   `json:"sent_at,omitempty"`
	ClosedAt       *time.Time   `json:"closed_at,omitempty"`
	VoidedAt       *time.Time   `json:"voided_at,omitempty"`
	VoidReason     string       `json:"void_reason,omitempty"`
	Totals         Totals       `json:"totals"`
}

// CreateParams holds the input for opening a new order.
type CreateParams struct {
	ID             string
	Number         string
	OrganizationID string
	SiteID         string
	CreatedBy      string
	Type           Type
	TableID        string
	TableNumber    string
	CustomerID     string
	GuestCount     int
}

// New opens an order in status open with zeroed totals.
func New(p CreateParams) *Order {
	o := &Order{
		ID:             p.ID,
		Number:         p.Number,
		OrganizationID: p.OrganizationID,
		SiteID:         p.SiteID,
		Type:           p.Type,
		TableID:        p.TableID,
		TableNumber:    p.TableNumber,
		GuestCount:     p.GuestCount,
		CustomerID:     p.CustomerID,
		CreatedBy:      p.CreatedBy,
		Status:         StatusOpen,
		CreatedAt:      time.Now().UTC(),
	}
	o.recompute()
	return o
}

// mutable rejects line and discount mutations once the order reached a
// terminal status.
func (o *Order) mutable(op string) error {
	if o.Status == StatusClosed || o.Status == StatusVoided {
		return &StatusError{Op: op, Status: o.Status}
	}
	return nil
}

// AddLineParams holds the input for adding a line.
type AddLineParams struct {
	MenuItemID string
	Name       string
	Quantity   int
	UnitPrice  decimal.Decimal
	Modifiers  []Modifier
	RecipeID   string
}

// AddLine appends a pending line and recomputes totals.
func (o *Order) AddLine(p AddLineParams) (*Line, error) {
	if err := o.mutable("add line"); err != nil {
		return nil, err
	}
	if p.Quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	if p.UnitPrice.IsNegative() {
		return nil, ErrNegativePrice
	}
	for _, m := range p.Modifiers {
		if m.Price.IsNegative() {
			return nil, ErrNegativePrice
		}
	}

	line := Line{
		ID:         uuid.New().String(),
		MenuItemID: p.MenuItemID,
		Name:       p.Name,
		Quantity:   p.Quantity,
		UnitPrice:  p.UnitPrice,
		Modifiers:  p.Modifiers,
		Status:     LinePending,
		RecipeID:   p.RecipeID,
	}
	line.LineTotal = lineTotal(&line)
	o.Lines = append(o.Lines, line)
	o.recompute()

	return &o.Lines[len(o.Lines)-1], nil
}

// UpdateLineParams holds the optional fields of a line update. Nil fields are
// left unchanged.
type UpdateLineParams struct {
	Quantity  *int
	Name      *string
	UnitPrice *decimal.Decimal
	Modifiers *[]Modifier
}

// UpdateLine mutates a line in place and recomputes totals.
func (o *Order) UpdateLine(lineID string, p UpdateLineParams) (*Line, error) {
	if err := o.mutable("update line"); err != nil {
		return nil, err
	}
	line := o.findLine(lineID)
	if line == nil {
		return nil, &LineNotFoundError{LineID: lineID}
	}

	// All fields are validated before any of them is written, so a rejected
	// update leaves the line untouched.
	if p.Quantity != nil && *p.Quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	if p.UnitPrice != nil && p.UnitPrice.IsNegative() {
		return nil, ErrNegativePrice
	}
	if p.Modifiers != nil {
		for _, m := range *p.Modifiers {
			if m.Price.IsNegative() {
				return nil, ErrNegativePrice
			}
		}
	}

	if p.Quantity != nil {
		line.Quantity = *p.Quantity
	}
	if p.Name != nil {
		line.Name = *p.Name
	}
	if p.UnitPrice != nil {
		line.UnitPrice = *p.UnitPrice
	}
	if p.Modifiers != nil {
		line.Modifiers = *p.Modifiers
	}
	line.LineTotal = lineTotal(line)
	o.recompute()
	return line, nil
}

// VoidLine marks a line voided. The line stays on the order for audit but is
// excluded from totals.
func (o *Order) VoidLine(lineID, voidedBy, reason string) error {
	if err := o.mutable("void line"); err != nil {
		return err
	}
	line := o.findLine(lineID)
	if line == nil {
		return &LineNotFoundError{LineID: lineID}
	}
	line.Status = LineVoided
	line.VoidedBy = voidedBy
	line.VoidReason = reason
	o.recompute()
	return nil
}

// RemoveLine deletes a line entirely.
func (o *Order) RemoveLine(lineID string) error {
	if err := o.mutable("remove line"); err != nil {
		return err
	}
	for i := range o.Lines {
		if o.Lines[i].ID == lineID {
			o.Lines = append(o.Lines[:i], o.Lines[i+1:]...)
			o.recompute()
			return nil
		}
	}
	return &LineNotFoundError{LineID: lineID}
}

// Send marks all pending lines sent and moves the order to status sent.
// It fails when there is nothing left to send.
func (o *Order) Send(sentBy string) error {
	if err := o.mutable("send"); err != nil {
		return err
	}
	sent := 0
	for i := range o.Lines {
		if o.Lines[i].Status == LinePending {
			o.Lines[i].Status = LineSent
			sent++
		}
	}
	if sent == 0 {
		return ErrNoPendingLines
	}
	now := time.Now().UTC()
	o.SentAt = &now
	if o.Status == StatusOpen {
		o.Status = StatusSent
	}
	return nil
}

// ApplyDiscount stores a discount rule and recomputes totals. A percentage is
// evaluated against the current subtotal; a fixed amount never exceeds it.
func (o *Order) ApplyDiscount(label string, dtype DiscountType, value decimal.Decimal, appliedBy string) (*Discount, error) {
	if err := o.mutable("apply discount"); err != nil {
		return nil, err
	}
	switch dtype {
	case DiscountPercentage:
		if value.IsNegative() || value.GreaterThan(decimal.NewFromInt(100)) {
			return nil, ErrInvalidDiscount
		}
	case DiscountFixedAmount:
		if !value.IsPositive() {
			return nil, ErrInvalidDiscount
		}
	default:
		return nil, errors.Errorf("unsupported discount type: %q", dtype)
	}

	o.Discounts = append(o.Discounts, Discount{
		Label:     label,
		Type:      dtype,
		Value:     value,
		AppliedBy: appliedBy,
		AppliedAt: time.Now().UTC(),
	})
	o.recompute()
	return &o.Discounts[len(o.Discounts)-1], nil
}

// RecordPayment records a settled payment by reference. The payment id is the
// idempotency key: re-recording an already known payment is a no-op. The
// order moves to paid when the balance reaches zero, partially paid
// otherwise.
func (o *Order) RecordPayment(paymentID string, amount, tip decimal.Decimal, method string) (recorded bool, err error) {
	if err := o.mutable("record payment"); err != nil {
		return false, err
	}
	for _, p := range o.Payments {
		if p.PaymentID == paymentID {
			return false, nil
		}
	}

	o.Payments = append(o.Payments, PaymentRef{
		PaymentID:  paymentID,
		Amount:     amount,
		Tip:        tip,
		Method:     method,
		RecordedAt: time.Now().UTC(),
	})
	o.recompute()

	if o.Totals.BalanceDue.IsZero() {
		o.Status = StatusPaid
	} else {
		o.Status = StatusPartiallyPaid
	}
	return true, nil
}

// Close finalizes a fully paid order.
func (o *Order) Close(closedBy string) error {
	if o.Status == StatusClosed || o.Status == StatusVoided {
		return &StatusError{Op: "close", Status: o.Status}
	}
	if !o.Totals.BalanceDue.IsZero() {
		return ErrOutstandingBalance
	}
	now := time.Now().UTC()
	o.ClosedAt = &now
	o.Status = StatusClosed
	return nil
}

// Void cancels the order. Rejected once closed or already voided.
func (o *Order) Void(voidedBy, reason string) error {
	if o.Status == StatusClosed || o.Status == StatusVoided {
		return &StatusError{Op: "void", Status: o.Status}
	}
	now := time.Now().UTC()
	o.VoidedAt = &now
	o.VoidReason = reason
	o.Status = StatusVoided
	return nil
}

// Reopen reverses a close or void. Permitted only from those statuses; the
// resulting status is re-derived from the recorded payments and lines.
func (o *Order) Reopen(reopenedBy, reason string) error {
	if o.Status != StatusClosed && o.Status != StatusVoided {
		return &StatusError{Op: "reopen", Status: o.Status}
	}
	o.ClosedAt = nil
	o.VoidedAt = nil
	o.VoidReason = ""
	o.recompute()
	o.Status = o.deriveOpenStatus()
	return nil
}

// TransferTable moves the order to another table.
func (o *Order) TransferTable(tableID, tableNumber string) error {
	if err := o.mutable("transfer table"); err != nil {
		return err
	}
	o.TableID = tableID
	o.TableNumber = tableNumber
	return nil
}

// AssignServer associates a server with the order.
func (o *Order) AssignServer(serverID string) error {
	if err := o.mutable("assign server"); err != nil {
		return err
	}
	o.ServerID = serverID
	return nil
}

// AssignCustomer associates a customer with the order.
func (o *Order) AssignCustomer(customerID string) error {
	if err := o.mutable("assign customer"); err != nil {
		return err
	}
	o.CustomerID = customerID
	return nil
}

// ActiveLines returns the non-voided lines.
func (o *Order) ActiveLines() []Line {
	active := make([]Line, 0, len(o.Lines))
	for _, l := range o.Lines {
		if l.Status != LineVoided {
			active = append(active, l)
		}
	}
	return active
}

// Clone returns a deep copy safe to hand out of the owning actor.
func (o *Order) Clone() *Order {
	cp := *o
	cp.Lines = make([]Line, len(o.Lines))
	copy(cp.Lines, o.Lines)
	for i := range cp.Lines {
		if len(o.Lines[i].Modifiers) > 0 {
			cp.Lines[i].Modifiers = append([]Modifier(nil), o.Lines[i].Modifiers...)
		}
	}
	cp.Discounts = append([]Discount(nil), o.Discounts...)
	cp.Payments = append([]PaymentRef(nil), o.Payments...)
	cp.ChildOrders = append([]ChildOrder(nil), o.ChildOrders...)
	if o.SentAt != nil {
		t := *o.SentAt
		cp.SentAt = &t
	}
	if o.ClosedAt != nil {
		t := *o.ClosedAt
		cp.ClosedAt = &t
	}
	if o.VoidedAt != nil {
		t := *o.VoidedAt
		cp.VoidedAt = &t
	}
	return &cp
}

func (o *Order) findLine(lineID string) *Line {
	for i := range o.Lines {
		if o.Lines[i].ID == lineID {
			return &o.Lines[i]
		}
	}
	return nil
}

// deriveOpenStatus picks the non-terminal status matching the current
// payments and lines.
func (o *Order) deriveOpenStatus() Status {
	switch {
	case o.Totals.PaidAmount.IsPositive() && o.Totals.BalanceDue.IsZero():
		return StatusPaid
	case o.Totals.PaidAmount.IsPositive():
		return StatusPartiallyPaid
	case o.SentAt != nil:
		return StatusSent
	default:
		return StatusOpen
	}
}

// recompute re-derives all totals from non-voided lines, discount rules and
// recorded payments. Discount amounts are recalculated so that a percentage
// tracks the current subtotal and the discount total never exceeds it.
func (o *Order) recompute() {
	subtotal := decimal.Zero
	for i := range o.Lines {
		if o.Lines[i].Status == LineVoided {
			continue
		}
		o.Lines[i].LineTotal = lineTotal(&o.Lines[i])
		subtotal = subtotal.Add(o.Lines[i].LineTotal)
	}

	remaining := subtotal
	discountTotal := decimal.Zero
	for i := range o.Discounts {
		var amount decimal.Decimal
		switch o.Discounts[i].Type {
		case DiscountPercentage:
			amount = money.Percentage(subtotal, o.Discounts[i].Value)
		case DiscountFixedAmount:
			amount = money.Round(o.Discounts[i].Value)
		}
		amount = decimal.Min(amount, remaining)
		o.Discounts[i].Amount = amount
		remaining = remaining.Sub(amount)
		discountTotal = discountTotal.Add(amount)
	}

	paid := decimal.Zero
	tips := decimal.Zero
	for _, p := range o.Payments {
		paid = paid.Add(p.Amount)
		tips = tips.Add(p.Tip)
	}

	grand := money.FloorAtZero(subtotal.Sub(discountTotal)).Round(2)
	o.Totals = Totals{
		Subtotal:      subtotal.Round(2),
		DiscountTotal: discountTotal.Round(2),
		TipTotal:      tips.Round(2),
		GrandTotal:    grand,
		PaidAmount:    paid.Round(2),
		BalanceDue:    money.FloorAtZero(grand.Sub(paid)).Round(2),
	}
}

// lineTotal is quantity * (unit price + sum of modifier prices).
func lineTotal(l *Line) decimal.Decimal {
	unit := l.UnitPrice
	for _, m := range l.Modifiers {
		qty := m.Quantity
		if qty <= 0 {
			qty = 1
		}
		unit = unit.Add(m.Price.Mul(decimal.NewFromInt(int64(qty))))
	}
	return unit.Mul(decimal.NewFromInt(int64(l.Quantity))).Round(2)
}
