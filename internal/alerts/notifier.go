package alerts

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"funding-arb-bot/internal/config"

	"github.com/alitto/pond"
	"go.uber.org/zap"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

const pushTimeout = 10 * time.Second

type Sender interface {
	Send(ctx context.Context, message string) error
}

// Notifier logs every message synchronously and pushes selected messages to
// the sender on a bounded worker pool. Push delivery never blocks the caller;
// a full queue or a failed send is only logged.
type Notifier struct {
	sender     Sender
	log        *zap.Logger
	pool       *pond.WorkerPool
	notifyInfo bool
}

func NewNotifier(sender Sender, cfg config.TelegramConfig, log *zap.Logger) *Notifier {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	queue := cfg.QueueSize
	if queue <= 0 {
		queue = 16
	}
	if log == nil {
		log = zap.NewNop()
	}
	n := &Notifier{
		sender:     sender,
		log:        log,
		notifyInfo: cfg.NotifyInfo,
	}
	n.pool = pond.New(workers, queue,
		pond.MinWorkers(0),
		pond.IdleTimeout(time.Minute),
		pond.PanicHandler(func(p interface{}) {
			log.Error("notification worker panic", zap.Any("panic", p))
		}),
	)
	return n
}

func (n *Notifier) Info(message string, fields ...zap.Field) {
	n.log.Info(message, fields...)
	if n.notifyInfo {
		n.push(SeverityInfo, message)
	}
}

func (n *Notifier) Warning(message string, fields ...zap.Field) {
	n.log.Warn(message, fields...)
	n.push(SeverityWarning, message)
}

func (n *Notifier) Error(message string, fields ...zap.Field) {
	n.log.Error(message, fields...)
	n.push(SeverityError, message)
}

func (n *Notifier) Critical(message string, fields ...zap.Field) {
	n.log.Error(message, append(fields, zap.String("severity", string(SeverityCritical)))...)
	n.push(SeverityCritical, message)
}

func (n *Notifier) OpportunityFound(venueA, venueB string, rateA, rateB, differential float64) {
	n.log.Info("funding opportunity found",
		zap.String("venue_a", venueA), zap.Float64("rate_a", rateA),
		zap.String("venue_b", venueB), zap.Float64("rate_b", rateB),
		zap.Float64("differential", differential),
	)
	n.pushText(fmt.Sprintf("Opportunity found: %s %.6f%%, %s %.6f%%, diff %.6f%%",
		venueA, rateA*100, venueB, rateB*100, differential*100))
}

func (n *Notifier) PositionOpened(venue, side string, size, price float64) {
	n.log.Info("position opened",
		zap.String("venue", venue), zap.String("side", side),
		zap.Float64("size", size), zap.Float64("price", price),
	)
	n.pushText(fmt.Sprintf("Position opened on %s: %s %g @ %g", venue, side, size, price))
}

// PositionClosed reports a close; pnl is optional.
func (n *Notifier) PositionClosed(venue, side string, size, price float64, pnl *float64) {
	fields := []zap.Field{
		zap.String("venue", venue), zap.String("side", side),
		zap.Float64("size", size), zap.Float64("price", price),
	}
	text := fmt.Sprintf("Position closed on %s: %s %g @ %g", venue, side, size, price)
	if pnl != nil {
		fields = append(fields, zap.Float64("pnl", *pnl))
		text += fmt.Sprintf(", PnL: %g", *pnl)
	}
	n.log.Info("position closed", fields...)
	n.pushText(text)
}

func (n *Notifier) DailySummary(balances map[string]float64, totalPnl float64) {
	venues := make([]string, 0, len(balances))
	for venue := range balances {
		venues = append(venues, venue)
	}
	sort.Strings(venues)
	parts := make([]string, 0, len(venues)+1)
	fields := make([]zap.Field, 0, len(venues)+1)
	for _, venue := range venues {
		parts = append(parts, fmt.Sprintf("%s balance: %g", venue, balances[venue]))
		fields = append(fields, zap.Float64(venue+"_balance", balances[venue]))
	}
	parts = append(parts, fmt.Sprintf("total unrealized PnL: %g", totalPnl))
	fields = append(fields, zap.Float64("total_pnl", totalPnl))
	n.log.Info("daily summary", fields...)
	n.pushText("Daily summary - " + strings.Join(parts, ", "))
}

// Close waits for queued deliveries to finish.
func (n *Notifier) Close() {
	n.pool.StopAndWait()
}

func (n *Notifier) push(severity Severity, message string) {
	n.pushText(strings.ToUpper(string(severity)) + ": " + message)
}

func (n *Notifier) pushText(text string) {
	if n.sender == nil {
		n.log.Debug("push notification not configured", zap.String("message", text))
		return
	}
	sender := n.sender
	log := n.log
	ok := n.pool.TrySubmit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
		defer cancel()
		if err := sender.Send(ctx, text); err != nil {
			log.Warn("push notification failed", zap.Error(err))
		}
	})
	if !ok {
		n.log.Warn("push notification dropped: queue full", zap.String("message", text))
	}
}
