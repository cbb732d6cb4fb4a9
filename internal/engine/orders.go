// Package engine hosts the order and payment entities on actor mailboxes
// and exposes the command surface clients call. Cross-entity operations
// (splitting, recording a payment on an order) are sequences of independent
// actor calls, not transactions; the inconsistency windows are documented on
// the operations that have them.
package engine

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tallyhq/pos-core/internal/actor"
	"github.com/tallyhq/pos-core/internal/domain/order"
	"github.com/tallyhq/pos-core/internal/events"
)

// ErrOrderNotFound is returned when the order id resolves to no live entity.
var ErrOrderNotFound = errors.New("order not found")

// OrderStore persists order snapshots. Persistence is write-behind and
// best-effort: the actor state is authoritative and a store failure never
// fails the command.
type OrderStore interface {
	Save(ctx context.Context, o *order.Order) error
}

// Orders is the command surface over order entities.
type Orders struct {
	host   *actor.Host[*order.Order]
	ids    *snowflake.Node
	log    *zap.Logger
	events events.Publisher
	store  OrderStore
}

// NewOrders creates the order engine. store may be nil when snapshot
// persistence is not configured.
func NewOrders(ids *snowflake.Node, log *zap.Logger, pub events.Publisher, store OrderStore) *Orders {
	return &Orders{
		host:   actor.NewHost[*order.Order](64),
		ids:    ids,
		log:    log.Named("engine.orders"),
		events: pub,
		store:  store,
	}
}

// Shutdown stops all order actors.
func (s *Orders) Shutdown() { s.host.Close() }

// CreateOrderCommand opens a new guest check.
type CreateOrderCommand struct {
	OrganizationID string
	SiteID         string
	CreatedBy      string
	Type           order.Type
	TableID        string
	TableNumber    string
	CustomerID     string
	GuestCount     int
}

// CreateOrderResult identifies the created order.
type CreateOrderResult struct {
	ID          string
	OrderNumber string
	CreatedAt   time.Time
}

// Create activates a new order entity.
func (s *Orders) Create(ctx context.Context, cmd CreateOrderCommand) (*CreateOrderResult, error) {
	id := s.ids.Generate()
	o := order.New(order.CreateParams{
		ID:             id.String(),
		Number:         "ORD-" + id.Base36(),
		OrganizationID: cmd.OrganizationID,
		SiteID:         cmd.SiteID,
		CreatedBy:      cmd.CreatedBy,
		Type:           cmd.Type,
		TableID:        cmd.TableID,
		TableNumber:    cmd.TableNumber,
		CustomerID:     cmd.CustomerID,
		GuestCount:     cmd.GuestCount,
	})

	if _, err := s.host.Activate(o.ID, o); err != nil {
		return nil, errors.Wrap(err, "activate order")
	}

	s.emit(ctx, o.OrganizationID, events.TypeOrderCreated, events.OrderCreatedEvent{
		OrderID:     o.ID,
		OrderNumber: o.Number,
		SiteID:      o.SiteID,
		TableNumber: o.TableNumber,
		CreatedAt:   o.CreatedAt,
	})
	s.persist(ctx, o.Clone())

	return &CreateOrderResult{ID: o.ID, OrderNumber: o.Number, CreatedAt: o.CreatedAt}, nil
}

// AddLineCommand adds one line to an order.
type AddLineCommand struct {
	MenuItemID string
	Name       string
	Quantity   int
	UnitPrice  decimal.Decimal
	RecipeID   string
	Modifiers  []order.Modifier
}

// AddLineResult identifies the added line.
type AddLineResult struct {
	LineID    string
	LineTotal decimal.Decimal
}

// AddLine appends a line and returns its id and total.
func (s *Orders) AddLine(ctx context.Context, orderID string, cmd AddLineCommand) (*AddLineResult, error) {
	return callOrder(ctx, s, orderID, func(o *order.Order) (*AddLineResult, error) {
		line, err := o.AddLine(order.AddLineParams{
			MenuItemID: cmd.MenuItemID,
			Name:       cmd.Name,
			Quantity:   cmd.Quantity,
			UnitPrice:  cmd.UnitPrice,
			Modifiers:  cmd.Modifiers,
			RecipeID:   cmd.RecipeID,
		})
		if err != nil {
			return nil, err
		}
		s.emit(ctx, o.OrganizationID, events.TypeOrderLineAdded, events.OrderLineAddedEvent{
			OrderID:    o.ID,
			LineID:     line.ID,
			MenuItemID: line.MenuItemID,
			Name:       line.Name,
			Quantity:   line.Quantity,
			LineTotal:  line.LineTotal,
		})
		s.persist(ctx, o.Clone())
		return &AddLineResult{LineID: line.ID, LineTotal: line.LineTotal}, nil
	})
}

// UpdateLine mutates a line.
func (s *Orders) UpdateLine(ctx context.Context, orderID, lineID string, params order.UpdateLineParams) (*AddLineResult, error) {
	return callOrder(ctx, s, orderID, func(o *order.Order) (*AddLineResult, error) {
		line, err := o.UpdateLine(lineID, params)
		if err != nil {
			return nil, err
		}
		s.persist(ctx, o.Clone())
		return &AddLineResult{LineID: line.ID, LineTotal: line.LineTotal}, nil
	})
}

// VoidLine marks a line voided without removing it.
func (s *Orders) VoidLine(ctx context.Context, orderID, lineID, voidedBy, reason string) error {
	return callOrderErr(ctx, s, orderID, func(o *order.Order) error {
		if err := o.VoidLine(lineID, voidedBy, reason); err != nil {
			return err
		}
		s.persist(ctx, o.Clone())
		return nil
	})
}

// RemoveLine deletes a line.
func (s *Orders) RemoveLine(ctx context.Context, orderID, lineID string) error {
	return callOrderErr(ctx, s, orderID, func(o *order.Order) error {
		if err := o.RemoveLine(lineID); err != nil {
			return err
		}
		s.persist(ctx, o.Clone())
		return nil
	})
}

// Send fires all pending lines to the kitchen.
func (s *Orders) Send(ctx context.Context, orderID, sentBy string) error {
	return callOrderErr(ctx, s, orderID, func(o *order.Order) error {
		if err := o.Send(sentBy); err != nil {
			return err
		}
		s.persist(ctx, o.Clone())
		return nil
	})
}

// ApplyDiscount applies a discount rule.
func (s *Orders) ApplyDiscount(ctx context.Context, orderID, label string, dtype order.DiscountType, value decimal.Decimal, appliedBy string) (*order.Totals, error) {
	return callOrder(ctx, s, orderID, func(o *order.Order) (*order.Totals, error) {
		if _, err := o.ApplyDiscount(label, dtype, value, appliedBy); err != nil {
			return nil, err
		}
		s.persist(ctx, o.Clone())
		totals := o.Totals
		return &totals, nil
	})
}

// RecordPayment records a settled payment by reference. The payment id is
// the idempotency key: replaying the same id does not double-count.
func (s *Orders) RecordPayment(ctx context.Context, orderID, paymentID string, amount, tip decimal.Decimal, method string) (*order.Totals, error) {
	return callOrder(ctx, s, orderID, func(o *order.Order) (*order.Totals, error) {
		if _, err := o.RecordPayment(paymentID, amount, tip, method); err != nil {
			return nil, err
		}
		s.persist(ctx, o.Clone())
		totals := o.Totals
		return &totals, nil
	})
}

// Close finalizes a fully paid order and emits the completion event.
func (s *Orders) Close(ctx context.Context, orderID, closedBy string) error {
	return callOrderErr(ctx, s, orderID, func(o *order.Order) error {
		if err := o.Close(closedBy); err != nil {
			return err
		}
		lines := make([]events.CompletedLine, 0, len(o.Lines))
		for _, l := range o.ActiveLines() {
			lines = append(lines, events.CompletedLine{
				MenuItemID: l.MenuItemID,
				Name:       l.Name,
				Quantity:   l.Quantity,
				LineTotal:  l.LineTotal,
			})
		}
		s.emit(ctx, o.OrganizationID, events.TypeOrderCompleted, events.OrderCompletedEvent{
			OrderID:      o.ID,
			SiteID:       o.SiteID,
			Lines:        lines,
			GrandTotal:   o.Totals.GrandTotal,
			TipTotal:     o.Totals.TipTotal,
			BusinessDate: events.BusinessDate(*o.ClosedAt),
		})
		s.persist(ctx, o.Clone())
		return nil
	})
}

// Void cancels an order and emits the void event.
func (s *Orders) Void(ctx context.Context, orderID, voidedBy, reason string) error {
	return callOrderErr(ctx, s, orderID, func(o *order.Order) error {
		if err := o.Void(voidedBy, reason); err != nil {
			return err
		}
		s.emit(ctx, o.OrganizationID, events.TypeOrderVoided, events.OrderVoidedEvent{
			OrderID:      o.ID,
			SiteID:       o.SiteID,
			Reason:       reason,
			BusinessDate: events.BusinessDate(*o.VoidedAt),
		})
		s.persist(ctx, o.Clone())
		return nil
	})
}

// Reopen reverses a close or void.
func (s *Orders) Reopen(ctx context.Context, orderID, reopenedBy, reason string) error {
	return callOrderErr(ctx, s, orderID, func(o *order.Order) error {
		if err := o.Reopen(reopenedBy, reason); err != nil {
			return err
		}
		s.persist(ctx, o.Clone())
		return nil
	})
}

// TransferTable moves the order to another table.
func (s *Orders) TransferTable(ctx context.Context, orderID, tableID, tableNumber string) error {
	return callOrderErr(ctx, s, orderID, func(o *order.Order) error {
		if err := o.TransferTable(tableID, tableNumber); err != nil {
			return err
		}
		s.persist(ctx, o.Clone())
		return nil
	})
}

// AssignServer associates a server.
func (s *Orders) AssignServer(ctx context.Context, orderID, serverID string) error {
	return callOrderErr(ctx, s, orderID, func(o *order.Order) error {
		if err := o.AssignServer(serverID); err != nil {
			return err
		}
		s.persist(ctx, o.Clone())
		return nil
	})
}

// AssignCustomer associates a customer.
func (s *Orders) AssignCustomer(ctx context.Context, orderID, customerID string) error {
	return callOrderErr(ctx, s, orderID, func(o *order.Order) error {
		if err := o.AssignCustomer(customerID); err != nil {
			return err
		}
		s.persist(ctx, o.Clone())
		return nil
	})
}

// SplitByItemsCommand moves lines onto a new order.
type SplitByItemsCommand struct {
	LineIDs          []string
	RequestedBy      string
	LineSuffixNumber int
}

// SplitByItemsResult identifies the child order.
type SplitByItemsResult struct {
	NewOrderID     string
	NewOrderNumber string
	LinesMoved     int
}

// SplitByItems detaches the named lines from the source order and activates
// a new order owning them. The two steps are separate actor operations: the
// source mutation is committed first and is not rolled back if activating
// the child fails, so a failure here requires reconciliation.
func (s *Orders) SplitByItems(ctx context.Context, orderID string, cmd SplitByItemsCommand) (*SplitByItemsResult, error) {
	childID := s.ids.Generate().String()

	child, err := callOrder(ctx, s, orderID, func(o *order.Order) (*order.Order, error) {
		c, err := o.SplitByItems(childID, cmd.LineIDs, cmd.RequestedBy, cmd.LineSuffixNumber)
		if err != nil {
			return nil, err
		}
		s.persist(ctx, o.Clone())
		return c, nil
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.host.Activate(child.ID, child); err != nil {
		s.log.Error("split child activation failed, lines detached from source",
			zap.String("source_order_id", orderID),
			zap.String("child_order_id", child.ID),
			zap.Error(err),
		)
		return nil, errors.Wrap(err, "activate split order")
	}

	s.emit(ctx, child.OrganizationID, events.TypeOrderCreated, events.OrderCreatedEvent{
		OrderID:     child.ID,
		OrderNumber: child.Number,
		SiteID:      child.SiteID,
		TableNumber: child.TableNumber,
		CreatedAt:   child.CreatedAt,
	})
	s.emit(ctx, child.OrganizationID, events.TypeOrderSplit, events.OrderSplitEvent{
		SourceOrderID: orderID,
		NewOrderID:    child.ID,
		NewOrderNum:   child.Number,
		LinesMoved:    len(child.Lines),
	})
	s.persist(ctx, child.Clone())

	return &SplitByItemsResult{
		NewOrderID:     child.ID,
		NewOrderNumber: child.Number,
		LinesMoved:     len(child.Lines),
	}, nil
}

// SplitByPeople previews an even split of the balance due.
func (s *Orders) SplitByPeople(ctx context.Context, orderID string, people int) (*order.SplitPreview, error) {
	return callOrder(ctx, s, orderID, func(o *order.Order) (*order.SplitPreview, error) {
		preview, err := o.CalculateSplitByPeople(people)
		if err != nil {
			return nil, err
		}
		return &preview, nil
	})
}

// SplitByAmounts previews a split into explicit shares.
func (s *Orders) SplitByAmounts(ctx context.Context, orderID string, amounts []decimal.Decimal) (*order.SplitPreview, error) {
	return callOrder(ctx, s, orderID, func(o *order.Order) (*order.SplitPreview, error) {
		preview, err := o.CalculateSplitByAmounts(amounts)
		if err != nil {
			return nil, err
		}
		return &preview, nil
	})
}

// Get returns a point-in-time snapshot of the order.
func (s *Orders) Get(ctx context.Context, orderID string) (*order.Order, error) {
	return callOrder(ctx, s, orderID, func(o *order.Order) (*order.Order, error) {
		return o.Clone(), nil
	})
}

// callOrder resolves the entity ref and runs fn on its mailbox.
func callOrder[R any](ctx context.Context, s *Orders, orderID string, fn func(*order.Order) (R, error)) (R, error) {
	ref, ok := s.host.Lookup(orderID)
	if !ok {
		var zero R
		return zero, ErrOrderNotFound
	}
	return actor.Call(ctx, ref, fn)
}

func callOrderErr(ctx context.Context, s *Orders, orderID string, fn func(*order.Order) error) error {
	_, err := callOrder(ctx, s, orderID, func(o *order.Order) (struct{}, error) {
		return struct{}{}, fn(o)
	})
	return err
}

// emit publishes an event, logging failures instead of failing the command.
func (s *Orders) emit(ctx context.Context, orgID, eventType string, payload any) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, orgID, eventType, payload); err != nil {
		s.log.Warn("event publish failed", zap.String("type", eventType), zap.Error(err))
	}
}

// persist saves a snapshot, logging failures instead of failing the command.
func (s *Orders) persist(ctx context.Context, o *order.Order) {
	if s.store == nil {
		return
	}
	if err := s.store.Save(ctx, o); err != nil {
		s.log.Warn("snapshot save failed", zap.String("order_id", o.ID), zap.Error(err))
	}
}
