// Package venue defines the boundary every exchange client implements and the
// decorators applied around it.
package venue

import (
	"context"
	"errors"

	"funding-arb-bot/internal/strategy"
)

var ErrBalanceUnsupported = errors.New("venue does not report balances")

// Client is one perpetual-futures venue trading a single market.
type Client interface {
	Name() strategy.Venue
	// FetchFundingRate returns the current funding rate as a fraction.
	FetchFundingRate(ctx context.Context) (strategy.FundingRate, error)
	// FetchPosition returns a flat position, not an error, when nothing is open.
	FetchPosition(ctx context.Context) (strategy.Position, error)
	OpenPosition(ctx context.Context, req strategy.OpenRequest) (strategy.OrderResult, error)
	// ClosePosition closes the whole leg held on side. A venue holding nothing
	// answers with OrderStatusNoPosition.
	ClosePosition(ctx context.Context, side strategy.Side) (strategy.OrderResult, error)
}

// BalanceReader is implemented by clients that can report account equity in USD.
type BalanceReader interface {
	FetchBalance(ctx context.Context) (float64, error)
}

// PriceReader is implemented by clients that can quote a current mark or
// reference price for their market.
type PriceReader interface {
	FetchMarkPrice(ctx context.Context) (float64, error)
}

// Balance reads the account balance when the client supports it.
func Balance(ctx context.Context, c Client) (float64, error) {
	reader, ok := c.(BalanceReader)
	if !ok {
		return 0, ErrBalanceUnsupported
	}
	return reader.FetchBalance(ctx)
}
