package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tallyhq/pos-core/internal/engine"
	"github.com/tallyhq/pos-core/internal/events"
	"github.com/tallyhq/pos-core/internal/processor"
	"github.com/tallyhq/pos-core/internal/processor/mockpay"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	ids, err := snowflake.NewNode(3)
	require.NoError(t, err)

	pub := events.NewMemoryPublisher()
	orders := engine.NewOrders(ids, zap.NewNop(), pub, nil)
	t.Cleanup(orders.Shutdown)
	registry := processor.NewRegistry(mockpay.New())
	payments := engine.NewPayments(ids, zap.NewNop(), pub, nil, registry, orders)
	t.Cleanup(payments.Shutdown)

	h := New(NewOrderHandler(orders), NewPaymentHandler(payments))
	mux := http.NewServeMux()
	h.Routes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, srv *httptest.Server, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	var decoded map[string]any
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	}
	return resp, decoded
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	resp, created := post(t, srv, "/v1/orders", `{
		"organization_id": "org-1",
		"site_id": "site-1",
		"created_by": "server-1",
		"type": "dine_in",
		"table_number": "7",
		"guest_count": 2
	}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	orderID := created["id"].(string)
	require.NotEmpty(t, orderID)

	resp, line := post(t, srv, "/v1/orders/"+orderID+"/lines", `{
		"menu_item_id": "item-1",
		"name": "Burger",
		"quantity": 2,
		"unit_price": "9.50"
	}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, line["line_id"])

	resp, _ = post(t, srv, "/v1/orders/"+orderID+"/assign/server", `{"server_id": "server-2"}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Closing with a balance due is a business-rule conflict.
	resp, body := post(t, srv, "/v1/orders/"+orderID+"/close", `{"closed_by": "server-1"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, body["message"], "outstanding balance")

	// Unknown orders are 404.
	resp, _ = post(t, srv, "/v1/orders/missing/close", `{"closed_by": "server-1"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Invalid input is 400.
	resp, _ = post(t, srv, "/v1/orders/"+orderID+"/lines", `{
		"menu_item_id": "item-2",
		"name": "Nothing",
		"quantity": 0,
		"unit_price": "1.00"
	}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeclineSurfacesInBody(t *testing.T) {
	srv := newTestServer(t)

	_, created := post(t, srv, "/v1/orders", `{
		"organization_id": "org-1",
		"site_id": "site-1",
		"created_by": "server-1",
		"type": "takeaway"
	}`)
	orderID := created["id"].(string)

	_, _ = post(t, srv, "/v1/orders/"+orderID+"/lines", `{
		"menu_item_id": "item-1", "name": "Coffee", "quantity": 1, "unit_price": "4.00"
	}`)

	resp, pay := post(t, srv, "/v1/payments", `{
		"organization_id": "org-1",
		"site_id": "site-1",
		"order_id": "`+orderID+`",
		"method": "card",
		"amount": "4.00",
		"gateway": "mockpay",
		"cashier_id": "cashier-1"
	}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	payID := pay["id"].(string)

	// A decline is a 200 with the code in the body, never an error status.
	resp, body := post(t, srv, "/v1/payments/"+payID+"/authorize", `{
		"payment_method_token": "tok_4000000000000002"
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "declined", body["status"])
	assert.Equal(t, "card_declined", body["decline_code"])
}

func TestCashPaymentOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	_, created := post(t, srv, "/v1/orders", `{
		"organization_id": "org-1", "site_id": "site-1", "created_by": "s", "type": "dine_in"
	}`)
	orderID := created["id"].(string)
	_, _ = post(t, srv, "/v1/orders/"+orderID+"/lines", `{
		"menu_item_id": "item-1", "name": "Pasta", "quantity": 1, "unit_price": "18.50"
	}`)

	_, pay := post(t, srv, "/v1/payments", `{
		"organization_id": "org-1", "site_id": "site-1", "order_id": "`+orderID+`",
		"method": "cash", "amount": "18.50", "cashier_id": "c"
	}`)
	payID := pay["id"].(string)

	resp, body := post(t, srv, "/v1/payments/"+payID+"/complete/cash", `{
		"tendered": "20.00", "tip": "1.00"
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, "0.5", body["change_given"])

	// Fully paid order can now close.
	resp, _ = post(t, srv, "/v1/orders/"+orderID+"/close", `{"closed_by": "s"}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}
