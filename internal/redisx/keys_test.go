package redisx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "lock:stock:product:p1", StockLock("p1"))
	assert.Equal(t, "lock:overlap:charge_order:o1", Overlap("charge_order", "o1"))
	assert.Equal(t, "order_status:o1", OrderStatus("o1"))
	assert.Equal(t, "kpi:applied:refund:r1", KPIApplied("refund", "r1"))
	assert.Equal(t, "kpi:2025-01-02:revenue_cents", KPI(time.Date(2025, 1, 2, 23, 0, 0, 0, time.UTC), "revenue_cents"))
}
