package engine

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tallyhq/pos-core/internal/domain/order"
	"github.com/tallyhq/pos-core/internal/events"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func newTestOrders(t *testing.T) (*Orders, *events.MemoryPublisher) {
	t.Helper()
	ids, err := snowflake.NewNode(1)
	require.NoError(t, err)
	pub := events.NewMemoryPublisher()
	orders := NewOrders(ids, zap.NewNop(), pub, nil)
	t.Cleanup(orders.Shutdown)
	return orders, pub
}

func createOrder(t *testing.T, orders *Orders) *CreateOrderResult {
	t.Helper()
	res, err := orders.Create(context.Background(), CreateOrderCommand{
		OrganizationID: "org-1",
		SiteID:         "site-1",
		CreatedBy:      "server-1",
		Type:           order.TypeDineIn,
		TableNumber:    "12",
		GuestCount:     2,
	})
	require.NoError(t, err)
	return res
}

func TestCreateAndGet(t *testing.T) {
	orders, pub := newTestOrders(t)
	res := createOrder(t, orders)

	assert.NotEmpty(t, res.ID)
	assert.Contains(t, res.OrderNumber, "ORD-")

	o, err := orders.Get(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusOpen, o.Status)
	assert.Equal(t, "12", o.TableNumber)

	stream := pub.Stream("org-1")
	require.Len(t, stream, 1)
	assert.Equal(t, events.TypeOrderCreated, stream[0].Type)

	_, err = orders.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestAddLine(t *testing.T) {
	orders, _ := newTestOrders(t)
	res := createOrder(t, orders)

	line, err := orders.AddLine(context.Background(), res.ID, AddLineCommand{
		MenuItemID: "item-1",
		Name:       "Burger",
		Quantity:   2,
		UnitPrice:  d("9.50"),
	})
	require.NoError(t, err)
	assert.True(t, d("19.00").Equal(line.LineTotal))

	o, err := orders.Get(context.Background(), res.ID)
	require.NoError(t, err)
	assert.True(t, d("19.00").Equal(o.Totals.Subtotal))
}

func TestConcurrentAddLines(t *testing.T) {
	orders, _ := newTestOrders(t)
	res := createOrder(t, orders)

	// Hammer one order from many goroutines; the actor serializes them, so
	// no line and no cent may be lost.
	g, ctx := errgroup.WithContext(context.Background())
	for i := range 50 {
		i := i
		g.Go(func() error {
			_, err := orders.AddLine(ctx, res.ID, AddLineCommand{
				MenuItemID: "item-1",
				Name:       "Item",
				Quantity:   1,
				UnitPrice:  d("5.00"),
				RecipeID:   string(rune('a' + i%26)),
			})
			return err
		})
	}
	require.NoError(t, g.Wait())

	o, err := orders.Get(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Len(t, o.Lines, 50)
	assert.True(t, d("250.00").Equal(o.Totals.Subtotal))
	assert.True(t, d("250.00").Equal(o.Totals.BalanceDue))
}

func TestSplitByItemsActivatesChild(t *testing.T) {
	orders, pub := newTestOrders(t)
	res := createOrder(t, orders)

	steak, err := orders.AddLine(context.Background(), res.ID, AddLineCommand{
		MenuItemID: "item-steak", Name: "Steak", Quantity: 1, UnitPrice: d("40.00"),
	})
	require.NoError(t, err)
	_, err = orders.AddLine(context.Background(), res.ID, AddLineCommand{
		MenuItemID: "item-wine", Name: "Wine", Quantity: 1, UnitPrice: d("12.00"),
	})
	require.NoError(t, err)

	split, err := orders.SplitByItems(context.Background(), res.ID, SplitByItemsCommand{
		LineIDs:          []string{steak.LineID},
		RequestedBy:      "server-1",
		LineSuffixNumber: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, res.OrderNumber+"-S1", split.NewOrderNumber)
	assert.Equal(t, 1, split.LinesMoved)

	// The child is live and addressable like any order.
	child, err := orders.Get(context.Background(), split.NewOrderID)
	require.NoError(t, err)
	assert.Equal(t, res.ID, child.ParentOrderID)
	assert.True(t, d("40.00").Equal(child.Totals.Subtotal))

	parent, err := orders.Get(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Len(t, parent.Lines, 1)
	require.Len(t, parent.ChildOrders, 1)
	assert.Equal(t, split.NewOrderID, parent.ChildOrders[0].OrderID)

	var types []string
	for _, env := range pub.Stream("org-1") {
		types = append(types, env.Type)
	}
	assert.Contains(t, types, events.TypeOrderSplit)
}

func TestCloseEmitsCompletion(t *testing.T) {
	orders, pub := newTestOrders(t)
	res := createOrder(t, orders)

	_, err := orders.AddLine(context.Background(), res.ID, AddLineCommand{
		MenuItemID: "item-1", Name: "Pasta", Quantity: 1, UnitPrice: d("20.00"),
	})
	require.NoError(t, err)

	_, err = orders.RecordPayment(context.Background(), res.ID, "pay-1", d("20.00"), d("4.00"), "cash")
	require.NoError(t, err)
	require.NoError(t, orders.Close(context.Background(), res.ID, "server-1"))

	var completed *events.Envelope
	for _, env := range pub.Stream("org-1") {
		if env.Type == events.TypeOrderCompleted {
			env := env
			completed = &env
		}
	}
	require.NotNil(t, completed, "closing must emit the completion event")

	o, err := orders.Get(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusClosed, o.Status)
}

func TestAssignServerAndCustomer(t *testing.T) {
	orders, _ := newTestOrders(t)
	res := createOrder(t, orders)

	require.NoError(t, orders.AssignServer(context.Background(), res.ID, "server-2"))
	require.NoError(t, orders.AssignCustomer(context.Background(), res.ID, "cust-7"))

	o, err := orders.Get(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, "server-2", o.ServerID)
	assert.Equal(t, "cust-7", o.CustomerID)
}

func TestVoidOrder(t *testing.T) {
	orders, pub := newTestOrders(t)
	res := createOrder(t, orders)

	require.NoError(t, orders.Void(context.Background(), res.ID, "manager-1", "test order"))

	o, err := orders.Get(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusVoided, o.Status)

	var types []string
	for _, env := range pub.Stream("org-1") {
		types = append(types, env.Type)
	}
	assert.Contains(t, types, events.TypeOrderVoided)
}
