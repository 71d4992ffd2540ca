package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"funding-arb-bot/internal/config"
	"funding-arb-bot/internal/logging"
	"funding-arb-bot/internal/strategy"
	"funding-arb-bot/internal/venue"
	"funding-arb-bot/internal/venue/bybit"
	"funding-arb-bot/internal/venue/drift"

	"go.uber.org/zap"
)

const defaultVerifyTimeout = 30 * time.Second

type venueReport struct {
	Venue       strategy.Venue     `json:"venue"`
	FundingRate *float64           `json:"funding_rate,omitempty"`
	Position    *strategy.Position `json:"position,omitempty"`
	Balance     *float64           `json:"balance,omitempty"`
	Errors      []string           `json:"errors,omitempty"`
}

type report struct {
	Venues       []venueReport         `json:"venues"`
	Differential *float64              `json:"differential,omitempty"`
	Opportunity  bool                  `json:"opportunity"`
	Intent       *strategy.HedgeIntent `json:"intent,omitempty"`
}

// verify performs read-only calls against both venues with the bot's
// configuration and prints what a cycle would see. It never places orders.
func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	envPath := flag.String("env", ".env", "path to env file")
	timeout := flag.Duration("timeout", defaultVerifyTimeout, "overall deadline")
	flag.Parse()

	if err := config.LoadEnv(*envPath); err != nil {
		fatal(err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	clients := []venue.Client{
		drift.New(cfg.Drift, cfg.Venue.CallTimeout, log),
		bybit.New(cfg.Bybit, cfg.Venue.CallTimeout, nil, log),
	}
	out := report{Venues: make([]venueReport, 0, len(clients))}
	rates := make([]*strategy.FundingRate, len(clients))
	for i, client := range clients {
		rep, rate := probe(ctx, client, log)
		rates[i] = rate
		out.Venues = append(out.Venues, rep)
	}

	opp := strategy.EvaluateOpportunity(rates[0], rates[1], cfg.Thresholds.FundingRate)
	if opp.HasRates {
		out.Differential = &opp.Differential
	}
	out.Opportunity = opp.HasOpportunity
	if opp.HasOpportunity {
		intent := strategy.IntentFor(opp, cfg.Strategy.PositionSizeUSD)
		out.Intent = &intent
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fatal(err)
	}
	for _, rep := range out.Venues {
		if len(rep.Errors) > 0 {
			os.Exit(1)
		}
	}
}

func probe(ctx context.Context, client venue.Client, log *zap.Logger) (venueReport, *strategy.FundingRate) {
	rep := venueReport{Venue: client.Name()}
	var rate *strategy.FundingRate
	if fr, err := client.FetchFundingRate(ctx); err != nil {
		rep.Errors = append(rep.Errors, fmt.Sprintf("funding rate: %v", err))
	} else {
		rate = &fr
		rep.FundingRate = &fr.Rate
	}
	if pos, err := client.FetchPosition(ctx); err != nil {
		rep.Errors = append(rep.Errors, fmt.Sprintf("position: %v", err))
	} else {
		rep.Position = &pos
	}
	if bal, err := venue.Balance(ctx, client); err != nil {
		rep.Errors = append(rep.Errors, fmt.Sprintf("balance: %v", err))
	} else {
		rep.Balance = &bal
	}
	log.Info("venue probed", zap.String("venue", string(rep.Venue)), zap.Int("errors", len(rep.Errors)))
	return rep, rate
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
