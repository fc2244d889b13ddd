package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/fulfillment"
	"github.com/ariefcatur/go-order-fulfillment/internal/kpi"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/queue"
	"github.com/ariefcatur/go-order-fulfillment/internal/redisx"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type OrderReader interface {
	GetOrder(ctx context.Context, orderID string) (orders.Order, error)
	ListProducts(ctx context.Context) ([]orders.Product, error)
}

type RefundRequester interface {
	Request(ctx context.Context, orderRef string, amountCents int, key, reason string) (orders.Refund, bool, error)
}

type KPIReader interface {
	Today(ctx context.Context) (kpi.Snapshot, error)
	Leaderboard(ctx context.Context, n int) ([]kpi.Entry, error)
}

type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

type OrdersHandler struct {
	Repo    OrderReader
	Refunds RefundRequester
	KPI     KPIReader
	Queue   queue.Enqueuer
	Cache   Cache // optional
	Log     *zap.Logger
}

type RefundReq struct {
	AmountCents    int    `json:"amount_cents"`
	IdempotencyKey string `json:"idempotency_key"`
	Reason         string `json:"reason"`
}

type RefundResp struct {
	Refund     orders.Refund `json:"refund"`
	Idempotent bool          `json:"idempotent"`
}

type CallbackReq struct {
	OrderID     string `json:"order_id"`
	Succeeded   bool   `json:"succeeded"`
	Provider    string `json:"provider"`
	ProviderRef string `json:"provider_ref"`
}

type OrderStatusResp struct {
	OrderID    string        `json:"order_id"`
	Status     orders.Status `json:"status"`
	TotalCents int           `json:"total_cents"`
}

type KPIResp struct {
	Today       kpi.Snapshot `json:"today"`
	Leaderboard []kpi.Entry  `json:"leaderboard"`
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/orders/{id}/refunds", h.requestRefund)
	r.Get("/products", h.listProducts)
	r.Post("/payments/callback", h.paymentCallback)
	r.Get("/kpi", h.getKPI)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// 1) coba cache
	key := redisx.OrderStatus(orderID)
	if h.Cache != nil {
		if s, ok, err := h.Cache.Get(ctx, key); err == nil && ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(s))
			return
		}
	}

	// 2) fallback DB
	o, err := h.Repo.GetOrder(ctx, orderID)
	if errors.Is(err, orders.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	b, _ := json.Marshal(OrderStatusResp{OrderID: o.ID, Status: o.Status, TotalCents: o.TotalCents})
	// hanya status terminal yang di-cache, PENDING masih bisa berubah
	if h.Cache != nil && o.Status.Terminal() {
		_ = h.Cache.Set(ctx, key, string(b), redisx.TTLStatusCache)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func (h *OrdersHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Repo.ListProducts(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if ps == nil {
		ps = []orders.Product{}
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *OrdersHandler) requestRefund(w http.ResponseWriter, r *http.Request) {
	var req RefundReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	rf, created, err := h.Refunds.Request(ctx, chi.URLParam(r, "id"), req.AmountCents, req.IdempotencyKey, req.Reason)
	switch {
	case errors.Is(err, orders.ErrNotFound):
		writeError(w, http.StatusNotFound, "order not found")
		return
	case orders.IsValidation(err):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		h.Log.Error("refund request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	code := http.StatusAccepted
	if !created {
		code = http.StatusOK
	}
	writeJSON(w, code, RefundResp{Refund: rf, Idempotent: !created})
}

func (h *OrdersHandler) paymentCallback(w http.ResponseWriter, r *http.Request) {
	var req CallbackReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.OrderID == "" {
		writeError(w, http.StatusBadRequest, "missing order_id")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if _, err := h.Repo.GetOrder(ctx, req.OrderID); errors.Is(err, orders.ErrNotFound) {
		writeError(w, http.StatusNotFound, "order not found")
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	err := fulfillment.EnqueueCallback(ctx, h.Queue, req.OrderID, fulfillment.CallbackPayload{
		Succeeded:   req.Succeeded,
		Provider:    req.Provider,
		ProviderRef: req.ProviderRef,
	})
	if err != nil {
		h.Log.Error("enqueue callback failed", zap.String("order_id", req.OrderID), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"order_id": req.OrderID, "status": "queued"})
}

func (h *OrdersHandler) getKPI(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	today, err := h.KPI.Today(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	top, err := h.KPI.Leaderboard(ctx, 10)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, KPIResp{Today: today, Leaderboard: top})
}
