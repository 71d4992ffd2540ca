package app

import (
	"context"
	"time"

	"funding-arb-bot/internal/alerts"
	"funding-arb-bot/internal/venue"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const summaryTimeout = 30 * time.Second

// SummaryJob reports balances and unrealised P&L across venues. Nothing is
// sent when every read fails.
type SummaryJob struct {
	venues   []venue.Client
	notifier *alerts.Notifier
	log      *zap.Logger
}

func NewSummaryJob(notifier *alerts.Notifier, log *zap.Logger, venues ...venue.Client) *SummaryJob {
	if log == nil {
		log = zap.NewNop()
	}
	return &SummaryJob{venues: venues, notifier: notifier, log: log}
}

func (s *SummaryJob) Run(ctx context.Context) {
	balances := make(map[string]float64, len(s.venues))
	totalPnl := 0.0
	answered := 0
	for _, client := range s.venues {
		name := string(client.Name())
		if balance, err := venue.Balance(ctx, client); err != nil {
			s.log.Warn("summary balance unavailable", zap.String("venue", name), zap.Error(err))
		} else {
			balances[name] = balance
			answered++
		}
		if pos, err := client.FetchPosition(ctx); err != nil {
			s.log.Warn("summary position unavailable", zap.String("venue", name), zap.Error(err))
		} else {
			totalPnl += pos.UnrealizedPnl
			answered++
		}
	}
	if answered == 0 {
		s.log.Warn("daily summary skipped; no venue answered")
		return
	}
	if s.notifier != nil {
		s.notifier.DailySummary(balances, totalPnl)
	}
}

// Schedule registers the job on a cron scheduler bound to ctx.
func (s *SummaryJob) Schedule(ctx context.Context, spec string) (*cron.Cron, error) {
	scheduler := cron.New(cron.WithChain(cron.Recover(cronLogger{s.log})))
	_, err := scheduler.AddFunc(spec, func() {
		runCtx, cancel := context.WithTimeout(ctx, summaryTimeout)
		defer cancel()
		s.Run(runCtx)
	})
	if err != nil {
		return nil, err
	}
	return scheduler, nil
}

// cronLogger adapts zap to the cron.Logger interface.
type cronLogger struct {
	log *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, zap.Any("details", keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}
