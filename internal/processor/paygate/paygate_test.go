package paygate

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallyhq/pos-core/internal/processor"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestAuthorizeSharedTaxonomy(t *testing.T) {
	// The same token declines identically on both backends.
	g := New()
	res, err := g.Authorize(context.Background(), processor.AuthorizeRequest{
		IntentID:           "intent-1",
		Amount:             d("10.00"),
		Currency:           "USD",
		PaymentMethodToken: "tok_4000000000009995",
	})
	require.NoError(t, err)
	assert.False(t, res.Approved)
	assert.Equal(t, processor.DeclineInsufficientFunds, res.DeclineCode)
}

func TestSplitAllocations(t *testing.T) {
	g := New()
	res, err := g.Authorize(context.Background(), processor.AuthorizeRequest{
		IntentID:           "intent-1",
		Amount:             d("100.00"),
		Currency:           "USD",
		PaymentMethodToken: "tok_4242424242424242",
		Descriptor:         "tally pos cafe downtown location",
		SplitAllocations: []processor.SplitAllocation{
			{AccountID: "acct_kitchen", Amount: d("70.00")},
			{AccountID: "acct_platform", Amount: d("10.00")},
		},
	})
	require.NoError(t, err)
	require.True(t, res.Approved)

	allocations, err := g.Allocations(res.TransactionID)
	require.NoError(t, err)
	require.Len(t, allocations, 2)
	assert.Equal(t, "acct_kitchen", allocations[0].AccountID)
	assert.True(t, d("70.00").Equal(allocations[0].Amount))
}

func TestSplitAllocationValidation(t *testing.T) {
	tests := []struct {
		name        string
		allocations []processor.SplitAllocation
	}{
		{
			name: "sum exceeds amount",
			allocations: []processor.SplitAllocation{
				{AccountID: "a", Amount: d("80.00")},
				{AccountID: "b", Amount: d("30.00")},
			},
		},
		{
			name:        "non-positive share",
			allocations: []processor.SplitAllocation{{AccountID: "a", Amount: decimal.Zero}},
		},
		{
			name:        "missing account",
			allocations: []processor.SplitAllocation{{AccountID: "  ", Amount: d("10.00")}},
		},
	}

	g := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.Authorize(context.Background(), processor.AuthorizeRequest{
				IntentID:           "intent-1",
				Amount:             d("100.00"),
				Currency:           "USD",
				PaymentMethodToken: "tok_4242424242424242",
				SplitAllocations:   tt.allocations,
			})
			assert.ErrorIs(t, err, processor.ErrInvalidSplit)
		})
	}
}

func TestNormalizeDescriptor(t *testing.T) {
	assert.Equal(t, "TALLY POS CAFE DOWNTO", normalizeDescriptor(" tally pos cafe downtown "))
	assert.Equal(t, "SHORT", normalizeDescriptor("short"))
}

func TestCaptureRefundLifecycle(t *testing.T) {
	g := New()
	res, err := g.Authorize(context.Background(), processor.AuthorizeRequest{
		IntentID:           "intent-1",
		Amount:             d("60.00"),
		Currency:           "USD",
		PaymentMethodToken: "tok_5500005555555559",
	})
	require.NoError(t, err)
	require.True(t, res.Approved)

	cap, err := g.Capture(context.Background(), res.TransactionID, d("45.00"))
	require.NoError(t, err)
	assert.True(t, d("45.00").Equal(cap.CapturedAmount))

	_, err = g.Capture(context.Background(), res.TransactionID, d("20.00"))
	assert.ErrorIs(t, err, processor.ErrAmountTooLarge)

	ref, err := g.Refund(context.Background(), res.TransactionID, decimal.Zero, "order voided")
	require.NoError(t, err)
	assert.True(t, d("45.00").Equal(ref.RefundedAmount))

	status, _, _, refunded, err := g.Status(res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, processor.TxRefunded, status)
	assert.True(t, d("45.00").Equal(refunded))
}

func TestChallengeWebhook(t *testing.T) {
	g := New()
	res, err := g.Authorize(context.Background(), processor.AuthorizeRequest{
		IntentID:           "intent-1",
		Amount:             d("30.00"),
		Currency:           "USD",
		PaymentMethodToken: "tok_4000000000003155",
	})
	require.NoError(t, err)
	require.NotNil(t, res.NextAction)

	payload := []byte(`{"transaction_id": "` + res.TransactionID + `"}`)
	require.NoError(t, g.HandleWebhook(context.Background(), EventAuthorizationSucceeded, payload))

	status, _, _, _, err := g.Status(res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, processor.TxAuthorized, status)

	assert.ErrorIs(t, g.HandleWebhook(context.Background(), "unknown.event", payload), processor.ErrEventIgnored)
}

func TestRegistryResolution(t *testing.T) {
	registry := processor.NewRegistry(New())

	p, err := registry.Get("PayGate")
	require.NoError(t, err)
	assert.Equal(t, "paygate", p.Provider())

	_, err = registry.Get("stripe")
	assert.ErrorIs(t, err, processor.ErrProviderNotFound)
}
