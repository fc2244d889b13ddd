package redisx

import (
	"fmt"
	"time"
)

const (
	// Cache status order: order_status:{order_id} -> {"status": "..."}
	KeyOrderStatus = "order_status:%s"

	// Lock stok per product: lock:stock:product:{product_id}
	KeyStockLock = "lock:stock:product:%s"

	// Overlap guard per task: lock:overlap:{task_type}:{entity_id}
	KeyOverlap = "lock:overlap:%s:%s"

	// KPI harian: kpi:{YYYY-MM-DD}:{metric}
	KeyKPI = "kpi:%s:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Marker KPI sudah diterapkan: kpi:applied:{kind}:{entity_id}
	KeyKPIApplied = "kpi:applied:%s:%s"

	// ZSET customer_id -> revenue
	KeyLeaderboard = "leaderboard:customers"

	// Task queue: ZSET (score = run at, unix nano) + HASH task_id -> task json
	// + ZSET task_id -> claimed at
	KeyTaskQueue      = "orders:tasks:queue"
	KeyTaskProcessing = "orders:tasks:processing"
	KeyTaskClaimed    = "orders:tasks:claimed"
)

var (
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
	TTLKPIApplied  = 7 * 24 * time.Hour
)

func StockLock(productID string) string { return fmt.Sprintf(KeyStockLock, productID) }

func Overlap(taskType, entityID string) string { return fmt.Sprintf(KeyOverlap, taskType, entityID) }

func OrderStatus(orderID string) string { return fmt.Sprintf(KeyOrderStatus, orderID) }

func KPI(day time.Time, metric string) string {
	return fmt.Sprintf(KeyKPI, day.Format("2006-01-02"), metric)
}

func KPIApplied(kind, entityID string) string { return fmt.Sprintf(KeyKPIApplied, kind, entityID) }
