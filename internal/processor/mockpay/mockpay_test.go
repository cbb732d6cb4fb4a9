package mockpay

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

func authorize(t *testing.T, b *Backend, token, amount string) *processor.AuthResult {
	t.Helper()
	res, err := b.Authorize(context.Background(), processor.AuthorizeRequest{
		IntentID:           "intent-1",
		Amount:             d(amount),
		Currency:           "USD",
		PaymentMethodToken: token,
	})
	require.NoError(t, err)
	return res
}

func TestAuthorizeApproved(t *testing.T) {
	b := New()
	res := authorize(t, b, "tok_4242424242424242", "50.00")

	assert.True(t, res.Approved)
	assert.NotEmpty(t, res.TransactionID)
	assert.Len(t, res.AuthorizationCode, 6)

	status, authorized, captured, _, err := b.Status(res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, processor.TxAuthorized, status)
	assert.True(t, d("50.00").Equal(authorized))
	assert.True(t, captured.IsZero())
}

func TestAuthorizeDeclineTaxonomy(t *testing.T) {
	tests := []struct {
		token    string
		wantCode string
	}{
		{"tok_4000000000000002", processor.DeclineGeneric},
		{"tok_4000000000009995", processor.DeclineInsufficientFunds},
		{"tok_4000000000000069", processor.DeclineExpiredCard},
		{"tok_4000000000000127", processor.DeclineIncorrectCVC},
		{"tok_4000000000000119", processor.DeclineProcessingError},
	}

	b := New()
	for _, tt := range tests {
		t.Run(tt.wantCode, func(t *testing.T) {
			res := authorize(t, b, tt.token, "10.00")
			assert.False(t, res.Approved)
			assert.Equal(t, tt.wantCode, res.DeclineCode)
			assert.NotEmpty(t, res.DeclineMessage)
			assert.Empty(t, res.TransactionID, "declines never create a transaction")
		})
	}
}

func TestAuthorizeWithAutomaticCapture(t *testing.T) {
	b := New()
	res, err := b.Authorize(context.Background(), processor.AuthorizeRequest{
		IntentID:             "intent-1",
		Amount:               d("20.00"),
		Currency:             "USD",
		PaymentMethodToken:   "tok_4242424242424242",
		CaptureAutomatically: true,
	})
	require.NoError(t, err)
	require.True(t, res.Approved)

	status, _, captured, _, err := b.Status(res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, processor.TxCaptured, status)
	assert.True(t, d("20.00").Equal(captured))
}

func TestCaptureConsumesAuthorization(t *testing.T) {
	b := New()
	res := authorize(t, b, "tok_4242424242424242", "100.00")

	// A partial capture settles and releases the rest of the hold.
	cap, err := b.Capture(context.Background(), res.TransactionID, d("75.00"))
	require.NoError(t, err)
	assert.True(t, d("75.00").Equal(cap.CapturedAmount))

	// The authorization is spent; even one more dollar is too large.
	_, err = b.Capture(context.Background(), res.TransactionID, d("1.00"))
	assert.ErrorIs(t, err, processor.ErrAmountTooLarge)

	status, _, captured, _, err := b.Status(res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, processor.TxCaptured, status)
	assert.True(t, d("75.00").Equal(captured))

	_, err = b.Capture(context.Background(), "mp_unknown", d("1.00"))
	assert.ErrorIs(t, err, processor.ErrInvalidTransaction)
}

func TestCaptureZeroTakesFullAuthorization(t *testing.T) {
	b := New()
	res := authorize(t, b, "tok_4242424242424242", "50.00")

	cap, err := b.Capture(context.Background(), res.TransactionID, decimal.Zero)
	require.NoError(t, err)
	assert.True(t, d("50.00").Equal(cap.CapturedAmount))

	_, err = b.Capture(context.Background(), res.TransactionID, d("51.00"))
	assert.ErrorIs(t, err, processor.ErrAmountTooLarge)
}

func TestRefund(t *testing.T) {
	b := New()
	res := authorize(t, b, "tok_4242424242424242", "50.00")

	// Refund before capture is an invalid state.
	_, err := b.Refund(context.Background(), res.TransactionID, d("10.00"), "early")
	assert.ErrorIs(t, err, processor.ErrInvalidState)

	_, err = b.Capture(context.Background(), res.TransactionID, decimal.Zero)
	require.NoError(t, err)

	ref, err := b.Refund(context.Background(), res.TransactionID, d("20.00"), "cold food")
	require.NoError(t, err)
	assert.True(t, d("20.00").Equal(ref.RefundedAmount))
	assert.NotEmpty(t, ref.RefundID)

	// Over-refund rejected.
	_, err = b.Refund(context.Background(), res.TransactionID, d("40.00"), "too much")
	assert.ErrorIs(t, err, processor.ErrAmountTooLarge)

	// Zero refunds the remainder and finishes the transaction.
	_, err = b.Refund(context.Background(), res.TransactionID, decimal.Zero, "rest")
	require.NoError(t, err)
	status, _, _, refunded, err := b.Status(res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, processor.TxRefunded, status)
	assert.True(t, d("50.00").Equal(refunded))
}

func TestVoid(t *testing.T) {
	b := New()
	res := authorize(t, b, "tok_4242424242424242", "50.00")

	void, err := b.Void(context.Background(), res.TransactionID, "order cancelled")
	require.NoError(t, err)
	assert.NotEmpty(t, void.VoidID)

	status, _, _, _, err := b.Status(res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, processor.TxVoided, status)

	// Captured transactions cannot be voided, only refunded.
	res2 := authorize(t, b, "tok_4242424242424242", "10.00")
	_, err = b.Capture(context.Background(), res2.TransactionID, decimal.Zero)
	require.NoError(t, err)
	_, err = b.Void(context.Background(), res2.TransactionID, "late")
	assert.ErrorIs(t, err, processor.ErrInvalidState)
}

func TestThreeDSChallengeFlow(t *testing.T) {
	b := New()
	res := authorize(t, b, "tok_4000000000003155", "25.00")

	assert.False(t, res.Approved)
	require.NotNil(t, res.NextAction)
	assert.Equal(t, "redirect", res.NextAction.Type)
	assert.Contains(t, res.NextAction.URL, res.TransactionID)

	status, _, _, _, err := b.Status(res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, processor.TxPendingAction, status)

	// Completion webhook authorizes the pending transaction.
	payload := []byte(`{"transaction_id": "` + res.TransactionID + `"}`)
	require.NoError(t, b.HandleWebhook(context.Background(), EventThreeDSCompleted, payload))

	status, _, _, _, err = b.Status(res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, processor.TxAuthorized, status)

	// Replaying the completion is an invalid state.
	assert.ErrorIs(t, b.HandleWebhook(context.Background(), EventThreeDSCompleted, payload), processor.ErrInvalidState)
}

func TestDisputeWebhook(t *testing.T) {
	b := New()
	res := authorize(t, b, "tok_4242424242424242", "25.00")
	_, err := b.Capture(context.Background(), res.TransactionID, decimal.Zero)
	require.NoError(t, err)

	payload := []byte(`{"transaction_id": "` + res.TransactionID + `"}`)
	require.NoError(t, b.HandleWebhook(context.Background(), EventChargeDisputed, payload))

	status, _, _, _, err := b.Status(res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, processor.TxDisputed, status)
}

func TestWebhookUnknownEvent(t *testing.T) {
	b := New()
	res := authorize(t, b, "tok_4242424242424242", "25.00")

	payload := []byte(`{"transaction_id": "` + res.TransactionID + `"}`)
	err := b.HandleWebhook(context.Background(), "charge.updated", payload)
	assert.ErrorIs(t, err, processor.ErrEventIgnored)

	err = b.HandleWebhook(context.Background(), EventThreeDSCompleted, []byte(`{}`))
	assert.ErrorIs(t, err, processor.ErrInvalidTransaction)
}
