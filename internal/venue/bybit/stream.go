package bybit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"funding-arb-bot/internal/config"
	"funding-arb-bot/internal/ws"

	"go.uber.org/zap"
)

// TickerStream caches the mark price pushed on the public tickers topic.
type TickerStream struct {
	ws     *ws.Client
	topic  string
	maxAge time.Duration
	log    *zap.Logger
	now    func() time.Time

	mu        sync.RWMutex
	mark      float64
	updatedAt time.Time
}

func NewTickerStream(cfg config.BybitConfig, log *zap.Logger) *TickerStream {
	if log == nil {
		log = zap.NewNop()
	}
	return &TickerStream{
		ws: ws.New(ws.Options{
			URL:            cfg.WSURL,
			ReconnectDelay: cfg.ReconnectDelay,
			PingInterval:   cfg.PingInterval,
			PingMessage:    map[string]string{"op": "ping"},
		}, log),
		topic:  "tickers." + cfg.Symbol,
		maxAge: cfg.PriceMaxAge,
		log:    log.With(zap.String("venue", string(Name))),
		now:    time.Now,
	}
}

// Run subscribes and blocks until ctx is cancelled.
func (s *TickerStream) Run(ctx context.Context) error {
	sub := map[string]any{"op": "subscribe", "args": []string{s.topic}}
	if err := s.ws.Subscribe(ctx, sub); err != nil {
		return err
	}
	return s.ws.Run(ctx, s.handle)
}

// MarkPrice returns the cached mark price if it is fresh enough.
func (s *TickerStream) MarkPrice() (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.mark <= 0 {
		return 0, false
	}
	if s.maxAge > 0 && s.now().Sub(s.updatedAt) > s.maxAge {
		return 0, false
	}
	return s.mark, true
}

func (s *TickerStream) handle(msg json.RawMessage) {
	var frame struct {
		Topic string `json:"topic"`
		Data  struct {
			MarkPrice string `json:"markPrice"`
		} `json:"data"`
	}
	if err := json.Unmarshal(msg, &frame); err != nil {
		s.log.Debug("ignoring undecodable ticker frame", zap.Error(err))
		return
	}
	// deltas omit unchanged fields
	if frame.Topic != s.topic || frame.Data.MarkPrice == "" {
		return
	}
	price := parseFloat(frame.Data.MarkPrice)
	if price <= 0 {
		return
	}
	s.mu.Lock()
	s.mark = price
	s.updatedAt = s.now()
	s.mu.Unlock()
}
