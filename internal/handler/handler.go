// Package handler exposes the order and payment engines over HTTP. Handlers
// decode the request, delegate to the engine, and map domain errors to status
// codes; no business rules live here.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Handler routes API requests to the engines.
type Handler struct {
	orders   *OrderHandler
	payments *PaymentHandler
}

// New constructs a Handler with the required engine dependencies.
func New(orders *OrderHandler, payments *PaymentHandler) *Handler {
	return &Handler{orders: orders, payments: payments}
}

// Routes registers every API route on the mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/orders", h.orders.Create)
	mux.HandleFunc("GET /v1/orders/{id}", h.orders.Get)
	mux.HandleFunc("POST /v1/orders/{id}/lines", h.orders.AddLine)
	mux.HandleFunc("PATCH /v1/orders/{id}/lines/{lineID}", h.orders.UpdateLine)
	mux.HandleFunc("DELETE /v1/orders/{id}/lines/{lineID}", h.orders.RemoveLine)
	mux.HandleFunc("POST /v1/orders/{id}/lines/{lineID}/void", h.orders.VoidLine)
	mux.HandleFunc("POST /v1/orders/{id}/send", h.orders.Send)
	mux.HandleFunc("POST /v1/orders/{id}/discounts", h.orders.ApplyDiscount)
	mux.HandleFunc("POST /v1/orders/{id}/close", h.orders.Close)
	mux.HandleFunc("POST /v1/orders/{id}/void", h.orders.Void)
	mux.HandleFunc("POST /v1/orders/{id}/reopen", h.orders.Reopen)
	mux.HandleFunc("POST /v1/orders/{id}/transfer", h.orders.TransferTable)
	mux.HandleFunc("POST /v1/orders/{id}/assign/server", h.orders.AssignServer)
	mux.HandleFunc("POST /v1/orders/{id}/assign/customer", h.orders.AssignCustomer)
	mux.HandleFunc("POST /v1/orders/{id}/split/items", h.orders.SplitByItems)
	mux.HandleFunc("POST /v1/orders/{id}/split/people", h.orders.SplitByPeople)
	mux.HandleFunc("POST /v1/orders/{id}/split/amounts", h.orders.SplitByAmounts)

	mux.HandleFunc("POST /v1/payments", h.payments.Initiate)
	mux.HandleFunc("GET /v1/payments/{id}", h.payments.Get)
	mux.HandleFunc("POST /v1/payments/{id}/authorize", h.payments.Authorize)
	mux.HandleFunc("POST /v1/payments/{id}/capture", h.payments.Capture)
	mux.HandleFunc("POST /v1/payments/{id}/confirm", h.payments.ConfirmAuthorization)
	mux.HandleFunc("POST /v1/payments/{id}/complete/cash", h.payments.CompleteCash)
	mux.HandleFunc("POST /v1/payments/{id}/complete/card", h.payments.CompleteCard)
	mux.HandleFunc("POST /v1/payments/{id}/refund", h.payments.Refund)
	mux.HandleFunc("POST /v1/payments/{id}/void", h.payments.Void)
	mux.HandleFunc("POST /v1/payments/{id}/tip", h.payments.AdjustTip)

	mux.HandleFunc("POST /v1/webhooks/{provider}", h.payments.Webhook)
}

// decode parses the JSON request body into dst.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// respond writes a JSON response with the given status.
func respond(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zctx.From(r.Context()).Error("encoding response", zap.Error(err))
	}
}
