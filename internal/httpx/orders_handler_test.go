package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/fulfillment"
	"github.com/ariefcatur/go-order-fulfillment/internal/kpi"
	"github.com/ariefcatur/go-order-fulfillment/internal/memory"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/redisx"
	"github.com/ariefcatur/go-order-fulfillment/internal/refunds"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type api struct {
	store    *memory.Store
	q        *memory.Queue
	cache    *memory.Cache
	counters *memory.Counters
	router   *chi.Mux
	product  orders.Product
	order    orders.Order
}

func newAPI(t *testing.T) *api {
	log := zaptest.NewLogger(t)
	a := &api{store: memory.NewStore(), q: memory.NewQueue(), cache: &memory.Cache{}, counters: memory.NewCounters()}
	k := kpi.New(a.counters)
	h := &OrdersHandler{
		Repo:    a.store,
		Refunds: &refunds.Service{Store: a.store, Queue: a.q, KPI: k, Log: log},
		KPI:     k,
		Queue:   a.q,
		Cache:   a.cache,
		Log:     log,
	}
	a.router = NewRouter(log)
	h.Register(a.router)

	c := a.store.PutCustomer("C-1", "ana@example.com", "Ana")
	a.product = a.store.PutProduct("SKU-A", "Widget", 500, 10)
	a.order = a.store.PutOrder("EXT-1", c.ID, memory.ItemSpec{ProductID: a.product.ID, Qty: 2, UnitPrice: 500})
	return a
}

func (a *api) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	a := newAPI(t)
	rec := a.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestGetOrderCachesOnlyTerminalStatus(t *testing.T) {
	a := newAPI(t)
	ctx := context.Background()

	rec := a.do(t, http.MethodGet, "/orders/"+a.order.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp OrderStatusResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, orders.StatusPending, resp.Status)
	assert.Equal(t, 1000, resp.TotalCents)

	_, ok, _ := a.cache.Get(ctx, redisx.OrderStatus(a.order.ID))
	assert.False(t, ok, "pending is not cached")

	_, err := a.store.ReserveStock(ctx, a.order.ID, map[string]int{a.product.ID: 2})
	require.NoError(t, err)
	_, _, err = a.store.SettlePayment(ctx, a.order.ID, orders.ChargeOutcome{Succeeded: true, Provider: "fake"})
	require.NoError(t, err)

	rec = a.do(t, http.MethodGet, "/orders/"+a.order.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cached, ok, _ := a.cache.Get(ctx, redisx.OrderStatus(a.order.ID))
	require.True(t, ok)
	assert.JSONEq(t, rec.Body.String(), cached)
}

func TestGetOrderServedFromCache(t *testing.T) {
	a := newAPI(t)
	require.NoError(t, a.cache.Set(context.Background(), redisx.OrderStatus("cached-id"), `{"order_id":"cached-id","status":"PAID","total_cents":5}`, time.Minute))

	rec := a.do(t, http.MethodGet, "/orders/cached-id", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"order_id":"cached-id","status":"PAID","total_cents":5}`, rec.Body.String())
}

func TestGetOrderNotFound(t *testing.T) {
	a := newAPI(t)
	rec := a.do(t, http.MethodGet, "/orders/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListProducts(t *testing.T) {
	a := newAPI(t)
	rec := a.do(t, http.MethodGet, "/products", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var ps []orders.Product
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ps))
	require.Len(t, ps, 1)
	assert.Equal(t, "SKU-A", ps[0].SKU)
	assert.Equal(t, 10, ps[0].StockQty)
}

func TestRequestRefund(t *testing.T) {
	a := newAPI(t)
	body := RefundReq{AmountCents: 300, IdempotencyKey: "k-1", Reason: "late"}

	rec := a.do(t, http.MethodPost, "/orders/"+a.order.ID+"/refunds", body)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var first RefundResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	assert.False(t, first.Idempotent)
	assert.Equal(t, orders.RefundRequested, first.Refund.Status)

	rec = a.do(t, http.MethodPost, "/orders/"+a.order.ID+"/refunds", body)
	require.Equal(t, http.StatusOK, rec.Code)
	var again RefundResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &again))
	assert.True(t, again.Idempotent)
	assert.Equal(t, first.Refund.ID, again.Refund.ID)

	assert.Len(t, a.q.Pending(), 1)
}

func TestRequestRefundErrors(t *testing.T) {
	a := newAPI(t)

	rec := a.do(t, http.MethodPost, "/orders/"+a.order.ID+"/refunds", RefundReq{AmountCents: 5000})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = a.do(t, http.MethodPost, "/orders/unknown/refunds", RefundReq{AmountCents: 10})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/orders/"+a.order.ID+"/refunds", bytes.NewBufferString("{"))
	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestPaymentCallbackQueuesTask(t *testing.T) {
	a := newAPI(t)

	rec := a.do(t, http.MethodPost, "/payments/callback", CallbackReq{OrderID: a.order.ID, Succeeded: true, ProviderRef: "X-1"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	pending := a.q.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, fulfillment.TaskPaymentCallback, pending[0].Type)
	var p fulfillment.CallbackPayload
	require.NoError(t, pending[0].Decode(&p))
	assert.True(t, p.Succeeded)
	assert.Equal(t, "X-1", p.ProviderRef)
}

func TestPaymentCallbackErrors(t *testing.T) {
	a := newAPI(t)

	rec := a.do(t, http.MethodPost, "/payments/callback", CallbackReq{OrderID: "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(t, http.MethodPost, "/payments/callback", CallbackReq{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	a.q.FailOn = assert.AnError
	rec = a.do(t, http.MethodPost, "/payments/callback", CallbackReq{OrderID: a.order.ID})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetKPI(t *testing.T) {
	a := newAPI(t)
	k := kpi.New(a.counters)
	require.NoError(t, k.RecordSuccess(context.Background(), "o-1", "cust-1", 1200))

	rec := a.do(t, http.MethodGet, "/kpi", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp KPIResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.EqualValues(t, 1200, resp.Today.RevenueCents)
	require.Len(t, resp.Leaderboard, 1)
	assert.Equal(t, "cust-1", resp.Leaderboard[0].CustomerID)
}
