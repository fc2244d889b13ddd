package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/fulfillment"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/queue"
	"go.uber.org/zap"
)

const DefaultBatchSize = 500

var ErrMissingColumns = errors.New("missing required columns")

var requiredColumns = []string{
	"external_order_id",
	"order_placed_at",
	"currency",
	"customer_id",
	"customer_email",
	"customer_name",
	"product_sku",
	"product_name",
	"unit_price_cents",
	"qty",
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

type Store interface {
	ImportLine(ctx context.Context, ln orders.ImportLine, shouldReset func(orderID string) bool) (string, bool, error)
	RecomputeTotals(ctx context.Context, orderIDs []string) error
}

type Importer struct {
	Store     Store
	Queue     queue.Enqueuer
	BatchSize int
	Log       *zap.Logger
}

type Result struct {
	Imported int
	Skipped  int
	Queued   int
}

// Run is the state of one import: which orders already had their items
// cleared and which orders get a processing task at the end.
type Run struct {
	reset     map[string]bool
	toEnqueue []string
}

func newRun() *Run { return &Run{reset: map[string]bool{}} }

func (r *Run) shouldReset(orderID string) bool { return !r.reset[orderID] }

func (r *Run) markReset(orderID string) {
	if r.reset[orderID] {
		return
	}
	r.reset[orderID] = true
	r.toEnqueue = append(r.toEnqueue, orderID)
}

func (im *Importer) ImportFile(ctx context.Context, path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("file not readable: %w", err)
	}
	defer f.Close()
	return im.Import(ctx, f)
}

// Import reads CSV rows from src. Bad rows are skipped and counted; only an
// unreadable header or a missing column fails the whole run.
func (im *Importer) Import(ctx context.Context, src io.Reader) (Result, error) {
	r := csv.NewReader(src)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return Result{}, fmt.Errorf("read header: %w", err)
	}
	cols, err := normalizeHeader(header)
	if err != nil {
		return Result{}, err
	}

	run := newRun()
	var res Result
	line := 1
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			im.Log.Warn("unreadable row, skipping", zap.Int("line", line), zap.Error(err))
			res.Skipped++
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		ln, err := parseRow(cols, rec, line)
		if err != nil {
			im.Log.Warn("invalid row, skipping", zap.Int("line", line), zap.Error(err))
			res.Skipped++
			continue
		}

		orderID, reset, err := im.Store.ImportLine(ctx, ln, run.shouldReset)
		if err != nil {
			im.Log.Error("import row failed", zap.Int("line", line), zap.String("external_order_id", ln.ExternalOrderID), zap.Error(err))
			res.Skipped++
			continue
		}
		if reset {
			run.markReset(orderID)
		}
		res.Imported++
	}

	queued, err := im.finalize(ctx, run)
	res.Queued = queued
	if err != nil {
		return res, err
	}
	im.Log.Info("import complete", zap.Int("imported", res.Imported), zap.Int("skipped", res.Skipped), zap.Int("queued", res.Queued))
	return res, nil
}

// finalize recomputes totals per batch, then enqueues one task per order.
func (im *Importer) finalize(ctx context.Context, run *Run) (int, error) {
	size := im.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	queued := 0
	for start := 0; start < len(run.toEnqueue); start += size {
		end := min(start+size, len(run.toEnqueue))
		batch := run.toEnqueue[start:end]
		if err := im.Store.RecomputeTotals(ctx, batch); err != nil {
			return queued, fmt.Errorf("recompute totals: %w", err)
		}
		for _, id := range batch {
			if err := queue.Dispatch(ctx, im.Queue, fulfillment.TaskProcessOrder, id, nil, 0); err != nil {
				return queued, err
			}
			queued++
		}
	}
	return queued, nil
}

func normalizeHeader(header []string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := cols[h]; !dup {
			cols[h] = i
		}
	}
	var missing []string
	for _, c := range requiredColumns {
		if _, ok := cols[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}
	return cols, nil
}

func parseRow(cols map[string]int, rec []string, line int) (orders.ImportLine, error) {
	get := func(name string) string {
		i := cols[name]
		if i >= len(rec) {
			return "" // baris pendek dianggap kosong
		}
		return strings.TrimSpace(rec[i])
	}
	for _, c := range requiredColumns {
		if get(c) == "" {
			return orders.ImportLine{}, orders.Invalid(c, "missing value")
		}
	}

	price, err := strconv.Atoi(get("unit_price_cents"))
	if err != nil || price < 0 {
		return orders.ImportLine{}, orders.Invalid("unit_price_cents", "want integer >= 0, got %q", get("unit_price_cents"))
	}
	qty, err := strconv.Atoi(get("qty"))
	if err != nil || qty < 1 {
		return orders.ImportLine{}, orders.Invalid("qty", "want integer >= 1, got %q", get("qty"))
	}
	placedAt, err := parseTime(get("order_placed_at"))
	if err != nil {
		return orders.ImportLine{}, orders.Invalid("order_placed_at", "unparsable %q", get("order_placed_at"))
	}

	return orders.ImportLine{
		Line:               line,
		ExternalOrderID:    get("external_order_id"),
		PlacedAt:           placedAt,
		Currency:           get("currency"),
		CustomerExternalID: get("customer_id"),
		CustomerEmail:      get("customer_email"),
		CustomerName:       get("customer_name"),
		SKU:                get("product_sku"),
		ProductName:        get("product_name"),
		UnitPriceCents:     price,
		Qty:                qty,
	}, nil
}

func parseTime(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
