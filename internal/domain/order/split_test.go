package order

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallyhq/pos-core/internal/money"
)

func TestSplitByItems(t *testing.T) {
	o := newTestOrder(t)
	steak := addLine(t, o, "Steak", "40.00", 1)
	pasta := addLine(t, o, "Pasta", "18.00", 1)
	addLine(t, o, "Wine", "9.00", 2)
	require.NoError(t, o.Send("server-1"))

	child, err := o.SplitByItems("ord-2", []string{steak.ID, pasta.ID}, "server-1", 1)
	require.NoError(t, err)

	// Exclusive ownership: moved lines exist only on the child.
	assert.Len(t, child.Lines, 2)
	assert.Len(t, o.Lines, 1)
	assert.Nil(t, o.findLine(steak.ID))
	assert.NotNil(t, child.findLine(pasta.ID))

	assert.Equal(t, "ORD-1-S1", child.Number)
	assert.Equal(t, o.ID, child.ParentOrderID)
	require.Len(t, o.ChildOrders, 1)
	assert.Equal(t, child.ID, o.ChildOrders[0].OrderID)

	// Totals re-derived on both sides.
	assert.True(t, d("58.00").Equal(child.Totals.Subtotal))
	assert.True(t, d("18.00").Equal(o.Totals.Subtotal))

	// Sent lines keep their fired state on the child.
	assert.Equal(t, StatusSent, child.Status)
	require.NotNil(t, child.SentAt)
}

func TestSplitByItemsValidation(t *testing.T) {
	o := newTestOrder(t)
	steak := addLine(t, o, "Steak", "40.00", 1)
	wine := addLine(t, o, "Wine", "9.00", 1)

	_, err := o.SplitByItems("ord-2", nil, "server-1", 1)
	assert.ErrorIs(t, err, ErrEmptySplit)

	_, err = o.SplitByItems("ord-2", []string{"missing"}, "server-1", 1)
	var notFound *LineNotFoundError
	assert.ErrorAs(t, err, &notFound)

	// Splitting every active line is rejected.
	_, err = o.SplitByItems("ord-2", []string{steak.ID, wine.ID}, "server-1", 1)
	assert.ErrorIs(t, err, ErrSplitAllLines)

	// Voided lines cannot move.
	require.NoError(t, o.VoidLine(wine.ID, "m", "spilled"))
	_, err = o.SplitByItems("ord-2", []string{wine.ID}, "server-1", 1)
	assert.ErrorAs(t, err, &notFound)
}

func TestCalculateSplitByPeople(t *testing.T) {
	o := newTestOrder(t)
	addLine(t, o, "Tasting menu", "100.00", 1)

	preview, err := o.CalculateSplitByPeople(3)
	require.NoError(t, err)
	assert.True(t, preview.IsValid)
	require.Len(t, preview.Shares, 3)

	// 100.00 into 3: 33.34 + 33.33 + 33.33, nothing lost.
	assert.True(t, d("33.34").Equal(preview.Shares[0]))
	assert.True(t, d("33.33").Equal(preview.Shares[1]))
	assert.True(t, d("33.33").Equal(preview.Shares[2]))
	assert.True(t, d("100.00").Equal(money.Sum(preview.Shares)))

	_, err = o.CalculateSplitByPeople(0)
	assert.ErrorIs(t, err, ErrInvalidSplitCount)
}

func TestCalculateSplitByPeopleZeroBalance(t *testing.T) {
	o := newTestOrder(t)
	addLine(t, o, "Coffee", "4.00", 1)
	_, err := o.RecordPayment("pay-1", d("4.00"), decimal.Zero, "cash")
	require.NoError(t, err)

	preview, err := o.CalculateSplitByPeople(2)
	require.NoError(t, err)
	assert.False(t, preview.IsValid)
	assert.Empty(t, preview.Shares)
}

func TestCalculateSplitByAmounts(t *testing.T) {
	o := newTestOrder(t)
	addLine(t, o, "Tasting menu", "100.00", 1)

	preview, err := o.CalculateSplitByAmounts([]decimal.Decimal{d("60.00"), d("40.00")})
	require.NoError(t, err)
	assert.True(t, preview.IsValid)

	// Shares that miss the balance are surfaced but flagged invalid.
	preview, err = o.CalculateSplitByAmounts([]decimal.Decimal{d("60.00"), d("39.99")})
	require.NoError(t, err)
	assert.False(t, preview.IsValid)
	require.Len(t, preview.Shares, 2)
	assert.True(t, d("100.00").Equal(preview.Total))

	_, err = o.CalculateSplitByAmounts(nil)
	assert.ErrorIs(t, err, ErrEmptySplitAmounts)

	_, err = o.CalculateSplitByAmounts([]decimal.Decimal{d("-1")})
	assert.ErrorIs(t, err, ErrNegativeSplitAmount)
}
