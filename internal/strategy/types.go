package strategy

import (
	"errors"
	"time"
)

type Venue string

type Side string

type OrderStatus string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
	SideFlat  Side = "FLAT"
)

const (
	OrderStatusFilled     OrderStatus = "FILLED"
	OrderStatusUnknown    OrderStatus = "UNKNOWN"
	OrderStatusNoPosition OrderStatus = "NO_POSITION"
	OrderStatusFailed     OrderStatus = "FAILED"
)

var (
	ErrSampleFailure = errors.New("sample failure")
	ErrOrderFailure  = errors.New("order failure")
)

// Opposite returns the other direction. Flat has no opposite.
func (s Side) Opposite() Side {
	switch s {
	case SideLong:
		return SideShort
	case SideShort:
		return SideLong
	}
	return SideFlat
}

// Conflicts reports whether holding s while targeting target requires a close first.
func (s Side) Conflicts(target Side) bool {
	return s != SideFlat && target != SideFlat && s != target
}

type FundingRate struct {
	Venue     Venue
	Rate      float64
	FetchedAt time.Time
}

// Position is a single venue leg. Size and EntryPrice are magnitudes; Side
// carries the direction.
type Position struct {
	Venue            Venue
	Side             Side
	Size             float64
	EntryPrice       float64
	Leverage         float64
	LiquidationPrice float64
	UnrealizedPnl    float64
	Margin           float64
}

func FlatPosition(venue Venue) Position {
	return Position{Venue: venue, Side: SideFlat}
}

func (p Position) IsFlat() bool {
	return p.Side == SideFlat || p.Size == 0
}

type OrderResult struct {
	OrderID      string
	Status       OrderStatus
	FilledSize   float64
	AveragePrice float64
}

func (r OrderResult) OK() bool {
	return r.Status != OrderStatusFailed
}

// OpenRequest sizes an order either by quote notional or by base size.
// Exactly one of Notional and Size is set.
type OpenRequest struct {
	Side       Side
	Notional   float64
	Size       float64
	LimitPrice float64
}

type Thresholds struct {
	FundingRate       float64
	PriceDeviation    float64
	BalanceAdjustment float64
}

type HedgeIntent struct {
	SideA    Side
	SideB    Side
	Notional float64
}
