package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/tallyhq/pos-core/internal/domain/order"
	"github.com/tallyhq/pos-core/internal/domain/payment"
	"github.com/tallyhq/pos-core/internal/engine"
	"github.com/tallyhq/pos-core/internal/processor"
)

// errorResponse is the uniform error body.
type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// respondError maps a domain error to an HTTP status. Validation failures are
// 400, unknown entities 404, state-machine and business-rule rejections 409,
// everything else 500.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		zctx.From(r.Context()).Error("request failed", zap.Error(err))
		respond(w, r, status, errorResponse{Code: status, Message: "internal error"})
		return
	}
	respond(w, r, status, errorResponse{Code: status, Message: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrOrderNotFound),
		errors.Is(err, engine.ErrPaymentNotFound),
		errors.Is(err, processor.ErrProviderNotFound),
		errors.Is(err, processor.ErrInvalidTransaction):
		return http.StatusNotFound

	case errors.Is(err, order.ErrInvalidQuantity),
		errors.Is(err, order.ErrNegativePrice),
		errors.Is(err, order.ErrInvalidDiscount),
		errors.Is(err, order.ErrEmptySplit),
		errors.Is(err, order.ErrInvalidSplitCount),
		errors.Is(err, order.ErrEmptySplitAmounts),
		errors.Is(err, order.ErrNegativeSplitAmount),
		errors.Is(err, payment.ErrInvalidAmount),
		errors.Is(err, payment.ErrNegativeTip),
		errors.Is(err, processor.ErrInvalidSplit):
		return http.StatusBadRequest

	case errors.Is(err, order.ErrNoPendingLines),
		errors.Is(err, order.ErrOutstandingBalance),
		errors.Is(err, order.ErrSplitAllLines),
		errors.Is(err, payment.ErrRefundExceedsBalance),
		errors.Is(err, payment.ErrCaptureExceedsAuthorized),
		errors.Is(err, payment.ErrInsufficientTender),
		errors.Is(err, engine.ErrProcessorVoidRejected),
		errors.Is(err, processor.ErrInvalidState),
		errors.Is(err, processor.ErrAmountTooLarge):
		return http.StatusConflict
	}

	var lineErr *order.LineNotFoundError
	if errors.As(err, &lineErr) {
		return http.StatusNotFound
	}
	var statusErr *order.StatusError
	if errors.As(err, &statusErr) {
		return http.StatusConflict
	}
	var transitionErr *payment.InvalidTransitionError
	if errors.As(err, &transitionErr) {
		return http.StatusConflict
	}

	return http.StatusInternalServerError
}
