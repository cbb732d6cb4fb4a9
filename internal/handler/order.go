package handler

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/tallyhq/pos-core/internal/domain/order"
	"github.com/tallyhq/pos-core/internal/engine"
)

// OrderHandler serves the order command API.
type OrderHandler struct {
	engine *engine.Orders
}

// NewOrderHandler constructs an OrderHandler over the order engine.
func NewOrderHandler(orders *engine.Orders) *OrderHandler {
	return &OrderHandler{engine: orders}
}

type createOrderRequest struct {
	OrganizationID string `json:"organization_id"`
	SiteID         string `json:"site_id"`
	CreatedBy      string `json:"created_by"`
	Type           string `json:"type"`
	TableID        string `json:"table_id"`
	TableNumber    string `json:"table_number"`
	CustomerID     string `json:"customer_id"`
	GuestCount     int    `json:"guest_count"`
}

type createOrderResponse struct {
	ID          string `json:"id"`
	OrderNumber string `json:"order_number"`
	CreatedAt   string `json:"created_at"`
}

// Create opens a new order.
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decode(r, &req); err != nil {
		respond(w, r, http.StatusBadRequest, errorResponse{Code: 400, Message: "invalid request body"})
		return
	}

	res, err := h.engine.Create(r.Context(), engine.CreateOrderCommand{
		OrganizationID: req.OrganizationID,
		SiteID:         req.SiteID,
		CreatedBy:      req.CreatedBy,
		Type:           order.Type(req.Type),
		TableID:        req.TableID,
		TableNumber:    req.TableNumber,
		CustomerID:     req.CustomerID,
		GuestCount:     req.GuestCount,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	respond(w, r, http.StatusCreated, createOrderResponse{
		ID:          res.ID,
		OrderNumber: res.OrderNumber,
		CreatedAt:   res.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}

// Get returns the order snapshot.
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	o, err := h.engine.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, o)
}

type addLineRequest struct {
	MenuItemID string           `json:"menu_item_id"`
	Name       string           `json:"name"`
	Quantity   int              `json:"quantity"`
	UnitPrice  decimal.Decimal  `json:"unit_price"`
	RecipeID   string           `json:"recipe_id"`
	Modifiers  []order.Modifier `json:"modifiers"`
}

type lineResponse struct {
	LineID    string          `json:"line_id"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// AddLine appends a line to the order.
func (h *OrderHandler) AddLine(w http.ResponseWriter, r *http.Request) {
	var req addLineRequest
	if err := decode(r, &req); err != nil {
		respond(w, r, http.StatusBadRequest, errorResponse{Code: 400, Message: "invalid request body"})
		return
	}

	res, err := h.engine.AddLine(r.Context(), r.PathValue("id"), engine.AddLineCommand{
		MenuItemID: req.MenuItemID,
		Name:       req.Name,
		Quantity:   req.Quantity,
		UnitPrice:  req.UnitPrice,
		RecipeID:   req.RecipeID,
		Modifiers:  req.Modifiers,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	respond(w, r, http.StatusCreated, lineResponse{LineID: res.LineID, LineTotal: res.LineTotal})
}

type updateLineRequest struct {
	Quantity  *int              `json:"quantity"`
	Name      *string           `json:"name"`
	UnitPrice *decimal.Decimal  `json:"unit_price"`
	Modifiers *[]order.Modifier `json:"modifiers"`
}

// UpdateLine mutates a line.
func (h *OrderHandler) UpdateLine(w http.ResponseWriter, r *http.Request) {
	var req updateLineRequest
	if err := decode(r, &req); err != nil {
		respond(w, r, http.StatusBadRequest, errorResponse{Code: 400, Message: "invalid request body"})
		return
	}

	res, err := h.engine.UpdateLine(r.Context(), r.PathValue("id"), r.PathValue("lineID"), order.UpdateLineParams{
		Quantity:  req.Quantity,
		Name:      req.Name,
		UnitPrice: req.UnitPrice,
		Modifiers: req.Modifiers,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	respond(w, r, http.StatusOK, lineResponse{LineID: res.LineID, LineTotal: res.LineTotal})
}

type voidLineRequest struct {
	VoidedBy string `json:"voided_by"`
	Reason   string `json:"reason"`
}

// VoidLine marks a line voided.
func (h *OrderHandler) VoidLine(w http.ResponseWriter, r *http.Request) {
	var req voidLineRequest
	if err := decode(r, &req); err != nil {
		respond(w, r, http.StatusBadRequest, errorResponse{Code: 400, Message: "invalid request body"})
		return
	}

	if err := h.engine.VoidLine(r.Context(), r.PathValue("id"), r.PathValue("lineID"), req.VoidedBy, req.Reason); err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, r, http.StatusNoContent, nil)
}

// RemoveLine deletes a line.
func (h *OrderHandler) RemoveLine(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.RemoveLine(r.Context(), r.PathValue("id"), r.PathValue("lineID")); err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, r, http.StatusNoContent, nil)
}

type sendRequest struct {
	SentBy string `json:"sent_by"`
}

// Send fires pending lines to the kitchen.
func (h *OrderHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decode(r, &req); err != nil {
		respond(w, r, http.StatusBadRequest, errorResponse{Code: 400, Message: "invalid request body"})
		return
	}

	if err := h.engine.Send(r.Context(), r.PathValue("id"), req.SentBy); err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, r, http.StatusNoContent, nil)
}

type applyDiscountRequest struct {
	Label     string          `json:"label"`
	Type      string          `json:"type"`
	Value     decimal.Decimal `json:"value"`
	AppliedBy string          `json:"applied_by"`
}

// ApplyDiscount applies a discount rule and returns the new totals.
func (h *OrderHandler) ApplyDiscount(w http.ResponseWriter, r *http.Request) {
	var req applyDiscountRequest
	if err := decode(r, &req); err != nil {
		respond(w, r, http.StatusBadRequest, errorResponse{Code: 400, Message: "invalid request body"})
		return
	}

	totals, err := h.engine.ApplyDiscount(r.Context(), r.PathValue("id"),
		req.Label, order.DiscountType(req.Type), req.Value, req.AppliedBy)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, totals)
}

type closeOrderRequest struct {
	ClosedBy string `json:"closed_by"`
}

// Close finalizes a fully paid order.
func (h *OrderHandler) Close(w http.ResponseWriter, r *http.Request) {
	var req closeOrderRequest
	if err := decode(r, &req); err != nil {
		respond(w, r, http.StatusBadRequest, errorResponse{Code: 400, Message: "invalid request body"})
		return
	}

	if err := h.engine.Close(r.Context(), r.PathValue("id"), req.ClosedBy); err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, r, http.StatusNoContent, nil)
}

type voidOrderRequest struct {
	VoidedBy string `json:"voided_by"`
	Reason   string `json:"reason"`
}

// Void cancels the order.
func (h *OrderHandler) Void(w http.ResponseWriter, r *http.Request) {
	var req voidOrderRequest
	if err := decode(r, &req); err != nil {
		respond(w, r, http.StatusBadRequest, errorResponse{Code: 400, Message: "invalid request body"})
		return
	}

	if err := h.engine.Void(r.Context(), r.PathValue("id"), req.VoidedBy, req.Reason); err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, r, http.StatusNoContent, nil)
}

type reopenRequest struct {
	ReopenedBy string `json:"reopened_by"`
	Reason     string `json:"reason"`
}

// Reopen reverses a close or void.
func (h *OrderHandler) Reopen(w http.ResponseWriter, r *http.Request) {
	var req reopenRequest
	if err := decode(r, &req); err != nil {
		respond(w, r, http.StatusBadRequest, errorResponse{Code: 400, Message: "invalid request body"})
		return
	}

	if err := h.engine.Reopen(r.Context(), r.PathValue("id"), req.ReopenedBy, req.Reason); err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, r, http.StatusNoContent, nil)
}

type transferTableRequest struct {
	TableID     string `json:"table_id"`
	TableNumber string `json:"table_number"`
}

// TransferTable moves the order to another table.
func (h *OrderHandler) TransferTable(w http.ResponseWriter, r *http.Request) {
	var req transferTableRequest
	if err := decode(r, &req); err != nil {
		respond(w, r, http.StatusBadRequest, errorResponse{Code: 400, Message: "invalid request body"})
		return
	}

	if err := h.engine.TransferTable(r.Context(), r.PathValue("id"), req.TableID, req.TableNumber); err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, r, http.StatusNoContent, nil)
}

type assignServerRequest struct {
	ServerID string `json:"server_id"`
}

// AssignServer associates a server with the order.
func (h *OrderHandler) AssignServer(w http.ResponseWriter, r *http.Request) {
	var req assignServerRequest
	if err := decode(r, &req); err != nil {
		respond(w, r, http.StatusBadRequest, errorResponse{Code: 400, Message: "invalid request body"})
		return
	}

	if err := h.engine.AssignServer(r.Context(), r.PathValue("id"), req.ServerID); err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, r, http.StatusNoContent, nil)
}

type assignCustomerRequest struct {
	CustomerID string `json:"customer_id"`
}

// AssignCustomer associates a customer with the order.
func (h *OrderHandler) AssignCustomer(w http.ResponseWriter, r *http.Request) {
	var req assignCustomerRequest
	if err := decode(r, &req); err != nil {
		respond(w, r, http.StatusBadRequest, errorResponse{Code: 400, Message: "invalid request body"})
		return
	}

	if err := h.engine.AssignCustomer(r.Context(), r.PathValue("id"), req.CustomerID); err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, r, http.StatusNoContent, nil)
}

type splitByItemsRequest struct {
	LineIDs          []string `json:"line_ids"`
	RequestedBy      string   `json:"requested_by"`
	LineSuffixNumber int      `json:"line_suffix_number"`
}

type splitByItemsResponse struct {
	NewOrderID     string `json:"new_order_id"`
	NewOrderNumber string `json:"new_order_number"`
	LinesMoved     int    `json:"lines_moved"`
}

// SplitByItems moves lines onto a new order.
func (h *OrderHandler) SplitByItems(w http.ResponseWriter, r *http.Request) {
	var req splitByItemsRequest
	if err := decode(r, &req); err != nil {
		respond(w, r, http.StatusBadRequest, errorResponse{Code: 400, Message: "invalid request body"})
		return
	}

	res, err := h.engine.SplitByItems(r.Context(), r.PathValue("id"), engine.SplitByItemsCommand{
		LineIDs:          req.LineIDs,
		RequestedBy:      req.RequestedBy,
		LineSuffixNumber: req.LineSuffixNumber,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	respond(w, r, http.StatusCreated, splitByItemsResponse{
		NewOrderID:     res.NewOrderID,
		NewOrderNumber: res.NewOrderNumber,
		LinesMoved:     res.LinesMoved,
	})
}

type splitByPeopleRequest struct {
	People int `json:"people"`
}

type splitPreviewResponse struct {
	IsValid bool              `json:"is_valid"`
	Shares  []decimal.Decimal `json:"shares"`
	Total   decimal.Decimal   `json:"total"`
}

// SplitByPeople previews an even split of the balance due.
func (h *OrderHandler) SplitByPeople(w http.ResponseWriter, r *http.Request) {
	var req splitByPeopleRequest
	if err := decode(r, &req); err != nil {
		respond(w, r, http.StatusBadRequest, errorResponse{Code: 400, Message: "invalid request body"})
		return
	}

	preview, err := h.engine.SplitByPeople(r.Context(), r.PathValue("id"), req.People)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respond(w, r, http.StatusOK, splitPreviewResponse{
		IsValid: preview.IsValid,
		Shares:  preview.Shares,
		Total:   preview.Total,
	})
}

type splitByAmountsRequest struct {
	Amounts []decimal.Decimal `json:"amounts"`
}

// SplitByAmounts previews a split into explicit shares.
func (h *OrderHandler) SplitByAmounts(w http.ResponseWriter, r *http.Request) {
	var req splitByAmountsRequest
	if err := decode(r, &req); err != nil {
		respond(w, r, http.StatusBadRequest, errorResponse{Code: 400, Message: "invalid request body"})
		return
	}

	preview, err := h.engine.SplitByAmounts(r.Context(), r.PathValue("id"), req.Amounts)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respond(w, r, http.StatusOK, splitPreviewResponse{
		IsValid: preview.IsValid,
		Shares:  preview.Shares,
		Total:   preview.Total,
	})
}
