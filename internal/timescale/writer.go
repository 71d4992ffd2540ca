// Package timescale mirrors cycle outcomes and order events into Postgres
// (Timescale when the extension is available). Writes are queued and never
// block the trading loop.
package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"funding-arb-bot/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

type CycleRow struct {
	Time           time.Time
	RateA          float64
	RateB          float64
	HasRates       bool
	Differential   float64
	Opportunity    bool
	Rebalanced     bool
	PriceDeviation float64
	DeviationFlag  bool
	SizeA          float64
	SizeB          float64
	Failed         bool
}

type OrderEvent struct {
	Time     time.Time
	Venue    string
	Action   string
	Side     string
	ClientID string
	OrderID  string
	Status   string
	Size     float64
	Price    float64
	Error    string
}

type Writer struct {
	db         *sql.DB
	log        *zap.Logger
	schema     string
	cycles     chan CycleRow
	orders     chan OrderEvent
	started    atomic.Bool
	dropCycle  atomic.Uint64
	dropOrders atomic.Uint64
}

// New returns a nil writer when the sink is disabled; every method is safe on nil.
func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	writer := newWriter(db, cfg.Schema, cfg.QueueSize, log)
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func newWriter(db *sql.DB, schema string, queueSize int, log *zap.Logger) *Writer {
	if log == nil {
		log = zap.NewNop()
	}
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = "public"
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Writer{
		db:     db,
		log:    log,
		schema: schema,
		cycles: make(chan CycleRow, queueSize),
		orders: make(chan OrderEvent, queueSize),
	}
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) EnqueueCycle(row CycleRow) {
	if w == nil {
		return
	}
	select {
	case w.cycles <- row:
	default:
		if w.dropCycle.Add(1) == 1 {
			w.log.Warn("timescale cycle queue full")
		}
	}
}

func (w *Writer) EnqueueOrder(event OrderEvent) {
	if w == nil {
		return
	}
	select {
	case w.orders <- event:
	default:
		if w.dropOrders.Add(1) == 1 {
			w.log.Warn("timescale order queue full")
		}
	}
}

// Dropped returns how many cycle rows and order events were discarded.
func (w *Writer) Dropped() (cycles, orders uint64) {
	if w == nil {
		return 0, 0
	}
	return w.dropCycle.Load(), w.dropOrders.Load()
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case row := <-w.cycles:
			w.writeCycle(ctx, row)
		case event := <-w.orders:
			w.writeOrder(ctx, event)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		rate_a DOUBLE PRECISION NOT NULL,
		rate_b DOUBLE PRECISION NOT NULL,
		has_rates BOOLEAN NOT NULL,
		differential DOUBLE PRECISION NOT NULL,
		opportunity BOOLEAN NOT NULL,
		rebalanced BOOLEAN NOT NULL,
		price_deviation DOUBLE PRECISION NOT NULL,
		deviation_flag BOOLEAN NOT NULL,
		size_a DOUBLE PRECISION NOT NULL,
		size_b DOUBLE PRECISION NOT NULL,
		failed BOOLEAN NOT NULL
	)`, w.table("cycle_snapshots"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		venue TEXT NOT NULL,
		action TEXT NOT NULL,
		side TEXT NOT NULL,
		client_id TEXT NOT NULL,
		order_id TEXT NOT NULL,
		status TEXT NOT NULL,
		size DOUBLE PRECISION NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		error TEXT NOT NULL DEFAULT ''
	)`, w.table("order_events"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		w.log.Warn("timescale extension ensure failed", zap.Error(err))
		return nil
	}
	for _, name := range []string{"cycle_snapshots", "order_events"} {
		if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table(name))); err != nil {
			w.log.Warn("timescale hypertable create failed", zap.String("table", name), zap.Error(err))
		}
	}
	return nil
}

func (w *Writer) writeCycle(ctx context.Context, row CycleRow) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, rate_a, rate_b, has_rates, differential, opportunity, rebalanced,
		price_deviation, deviation_flag, size_a, size_b, failed
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`, w.table("cycle_snapshots"))
	if _, err := w.db.ExecContext(ctx, query,
		row.Time,
		row.RateA,
		row.RateB,
		row.HasRates,
		row.Differential,
		row.Opportunity,
		row.Rebalanced,
		row.PriceDeviation,
		row.DeviationFlag,
		row.SizeA,
		row.SizeB,
		row.Failed,
	); err != nil {
		w.log.Warn("timescale cycle insert failed", zap.Error(err))
	}
}

func (w *Writer) writeOrder(ctx context.Context, event OrderEvent) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, venue, action, side, client_id, order_id, status, size, price, error
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`, w.table("order_events"))
	if _, err := w.db.ExecContext(ctx, query,
		event.Time,
		event.Venue,
		event.Action,
		event.Side,
		event.ClientID,
		event.OrderID,
		event.Status,
		event.Size,
		event.Price,
		event.Error,
	); err != nil {
		w.log.Warn("timescale order insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
