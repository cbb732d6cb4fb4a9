package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/tallyhq/pos-core/internal/domain/payment"
	"github.com/tallyhq/pos-core/internal/engine"
	"github.com/tallyhq/pos-core/internal/processor"
)

// maxWebhookBody bounds webhook payload reads.
const maxWebhookBody = 1 << 20

// PaymentHandler serves the payment command API and processor webhooks.
type PaymentHandler struct {
	engine *engine.Payments
}

// NewPaymentHandler constructs a PaymentHandler over the payment engine.
func NewPaymentHandler(payments *engine.Payments) *PaymentHandler {
	return &PaymentHandler{engine: payments}
}

type initiatePaymentRequest struct {
	OrganizationID string          `json:"organization_id"`
	SiteID         string          `json:"site_id"`
	OrderID        string          `json:"order_id"`
	Method         string          `json:"method"`
	Amount         decimal.Decimal `json:"amount"`
	Gateway        string          `json:"gateway"`
	CashierID      string          `json:"cashier_id"`
}

type paymentStatusResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Initiate starts a payment against an order.
func (h *PaymentHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	var req initiatePaymentRequest
	if err := decode(r, &req); err != nil {
		respond(w, r, http.StatusBadRequest, errorResponse{Code: 400, Message: "invalid request body"})
		return
	}

	res, err := h.engine.Initiate(r.Context(), engine.InitiateCommand{
		OrganizationID: req.OrganizationID,
		SiteID:         req.SiteID,
		OrderID:        req.OrderID,
		Method:         payment.Method(req.Method),
		Amount:         req.Amount,
		Gateway:        req.Gateway,
		CashierID:      req.CashierID,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	respond(w, r, http.StatusCreated, paymentStatusResponse{ID: res.ID, Status: string(res.Status)})
}

// Get returns the payment snapshot.
func (h *PaymentHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.engine.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, p)
}

type authorizeRequest struct {
	PaymentMethodToken   string `json:"payment_method_token"`
	CaptureAutomatically bool   `json:"capture_automatically"`
	Descriptor           string `json:"descriptor"`
	SplitAllocations     []struct {
		AccountID string          `json:"account_id"`
		Amount    decimal.Decimal `json:"amount"`
	} `json:"split_allocations"`
}

type authorizeResponse struct {
	Status         string                `json:"status"`
	DeclineCode    string                `json:"decline_code,omitempty"`
	DeclineMessage string                `json:"decline_message,omitempty"`
	NextAction     *processor.NextAction `json:"next_action,omitempty"`
}

// Authorize requests a card authorization. Declines come back as a 200 with
// the decline code in the body; only transport and validation failures error.
func (h *PaymentHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	var req authorizeRequest
	if err := decode(r, &req); err != nil {
		respond(w, r, http.StatusBadRequest, errorResponse{Code: 400, Message: "invalid request body"})
		return
	}

	allocations := make([]processor.SplitAllocation, len(req.SplitAllocations))
	for i, a := range req.SplitAllocations {
		allocations[i] = processor.SplitAllocation{AccountID: a.AccountID, Amount: a.Amount}
	}

	res, err := h.engine.Authorize(r.Context(), r.PathValue("id"), engine.AuthorizeCommand{
		PaymentMethodToken:   req.PaymentMethodToken,
		CaptureAutomatically: req.CaptureAutomatically,
		Descriptor:           req.Descriptor,
		SplitAllocations:     allocations,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	respond(w, r, http.StatusOK, authorizeResponse{
		Status:         string(res.Status),
		DeclineCode:    res.DeclineCode,
		DeclineMessage: res.DeclineMessage,
		NextAction:     res.NextAction,
	})
}

type captureRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type captureResponse struct {
	Status         string          `json:"status"`
	CapturedAmount decimal.Decimal `json:"captured_amount"`
}

// Capture settles an authorized payment. A zero or omitted amount captures
// the full authorized amount.
func (h *PaymentHandler) Capture(w http.ResponseWriter, r *http.Request) {
	var req captureRequest
	if err := decode(r, &req); err != nil {
		respond(w, r, http.StatusBadRequest, errorResponse{Code: 400, Message: "invalid request body"})
		return
	}

	res, err := h.engine.Capture(r.Context(), r.PathValue("id"), req.Amount)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respond(w, r, http.StatusOK, captureResponse{
		Status:         string(res.Status),
		CapturedAmount: res.CapturedAmount,
	})
}

type confirmAuthorizationRequest struct {
	AuthorizationCode  string `json:"authorization_code"`
	PaymentMethodToken string `json:"payment_method_token"`
}

// ConfirmAuthorization commits an authorization after the customer challenge
// completed.
func (h *PaymentHandler) ConfirmAuthorization(w http.ResponseWriter, r *http.Request) {
	var req confirmAuthorizationRequest
	if err := decode(r, &req); err != nil {
		respond(w, r, http.StatusBadRequest, errorResponse{Code: 400, Message: "invalid request body"})
		return
	}

	res, err := h.engine.ConfirmAuthorization(r.Context(), r.PathValue("id"), req.AuthorizationCode, req.PaymentMethodToken)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respond(w, r, http.StatusOK, paymentStatusResponse{ID: r.PathValue("id"), Status: string(res.Status)})
}

type completeCashRequest struct {
	Tendered decimal.Decimal `json:"tendered"`
	Tip      decimal.Decimal `json:"tip"`
}

type completeCashResponse struct {
	Status      string          `json:"status"`
	ChangeGiven decimal.Decimal `json:"change_given"`
}

// CompleteCash settles a cash payment and returns the change due.
func (h *PaymentHandler) CompleteCash(w http.ResponseWriter, r *http.Request) {
	var req completeCashRequest
	if err := decode(r, &req); err != nil {
		respond(w, r, http.StatusBadRequest, errorResponse{Code: 400, Message: "invalid request body"})
		return
	}

	res, err := h.engine.CompleteCash(r.Context(), r.PathValue("id"), req.Tendered, req.Tip)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respond(w, r, http.StatusOK, completeCashResponse{
		Status:      string(res.Status),
		ChangeGiven: res.ChangeGiven,
	})
}

type completeCardRequest struct {
	Tip decimal.Decimal `json:"tip"`
}

// CompleteCard finalizes a card payment.
func (h *PaymentHandler) CompleteCard(w http.ResponseWriter, r *http.Request) {
	var req completeCardRequest
	if err := decode(r, &req); err != nil {
		respond(w, r, http.StatusBadRequest, errorResponse{Code: 400, Message: "invalid request body"})
		return
	}

	res, err := h.engine.CompleteCard(r.Context(), r.PathValue("id"), engine.CompleteCardCommand{Tip: req.Tip})
	if err != nil {
		respondError(w, r, err)
		return
	}

	respond(w, r, http.StatusOK, paymentStatusResponse{ID: res.ID, Status: string(res.Status)})
}

type refundRequest struct {
	Amount     decimal.Decimal `json:"amount"`
	Reason     string          `json:"reason"`
	ApprovedBy string          `json:"approved_by"`
}

type refundResponse struct {
	Status          string          `json:"status"`
	RefundedAmount  decimal.Decimal `json:"refunded_amount"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
}

// Refund returns part or all of a settled payment.
func (h *PaymentHandler) Refund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := decode(r, &req); err != nil {
		respond(w, r, http.StatusBadRequest, errorResponse{Code: 400, Message: "invalid request body"})
		return
	}

	res, err := h.engine.Refund(r.Context(), r.PathValue("id"), req.Amount, req.Reason, req.ApprovedBy)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respond(w, r, http.StatusOK, refundResponse{
		Status:          string(res.Status),
		RefundedAmount:  res.RefundedAmount,
		RemainingAmount: res.RemainingAmount,
	})
}

type voidPaymentRequest struct {
	ApprovedBy string `json:"approved_by"`
	Reason     string `json:"reason"`
}

// Void cancels a payment.
func (h *PaymentHandler) Void(w http.ResponseWriter, r *http.Request) {
	var req voidPaymentRequest
	if err := decode(r, &req); err != nil {
		respond(w, r, http.StatusBadRequest, errorResponse{Code: 400, Message: "invalid request body"})
		return
	}

	if err := h.engine.Void(r.Context(), r.PathValue("id"), req.ApprovedBy, req.Reason); err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, r, http.StatusNoContent, nil)
}

type adjustTipRequest struct {
	Tip        decimal.Decimal `json:"tip"`
	ApprovedBy string          `json:"approved_by"`
}

// AdjustTip changes the tip on a completed payment.
func (h *PaymentHandler) AdjustTip(w http.ResponseWriter, r *http.Request) {
	var req adjustTipRequest
	if err := decode(r, &req); err != nil {
		respond(w, r, http.StatusBadRequest, errorResponse{Code: 400, Message: "invalid request body"})
		return
	}

	p, err := h.engine.AdjustTip(r.Context(), r.PathValue("id"), req.Tip, req.ApprovedBy)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, p)
}

// Webhook routes an asynchronous processor event to its backend. The event
// type travels in the X-Event-Type header; the raw body is handed to the
// backend untouched. Ignored event types are acknowledged with 202 so the
// sender does not retry them.
func (h *PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		respond(w, r, http.StatusBadRequest, errorResponse{Code: 400, Message: "unreadable payload"})
		return
	}

	err = h.engine.HandleWebhook(r.Context(), r.PathValue("provider"), r.Header.Get("X-Event-Type"), payload)
	if err != nil {
		if errors.Is(err, processor.ErrEventIgnored) {
			respond(w, r, http.StatusAccepted, nil)
			return
		}
		respondError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, nil)
}
