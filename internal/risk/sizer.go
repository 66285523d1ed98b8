package risk

import (
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"
)

var (
	ErrCapitalExhausted    = errors.New("remaining capital below minimum")
	ErrInsufficientCapital = errors.New("requested amount exceeds remaining capital")
)

// FixedCapitalSizer enforces a hard dollar ceiling across all concurrent
// entries. Allocated capital is the sum of qty x entry price over filled
// buys plus the notional of pending buys.
type FixedCapitalSizer struct {
	Capital float64
	Amount  float64 // per-trade dollar amount
}

// Approve checks the fixed per-trade amount against remaining capital and
// returns the approved notional.
func (s *FixedCapitalSizer) Approve(allocated float64) (float64, error) {
	remaining := s.Capital - allocated
	if remaining < 1 {
		return 0, fmt.Errorf("%w: $%.2f of $%.2f allocated", ErrCapitalExhausted, allocated, s.Capital)
	}
	if s.Amount > remaining {
		return 0, fmt.Errorf("%w: want $%.2f, $%.2f remaining", ErrInsufficientCapital, s.Amount, remaining)
	}
	return s.Amount, nil
}

// DynamicInputs feed the multiplier chain of the dynamic sizer
type DynamicInputs struct {
	PortfolioValue float64
	AvailableFunds float64
	Price          float64
	RSI            float64
	BandWidthRatio float64 // Bollinger width / middle
}

// DynamicSizer scales a base position value by market and account
// conditions, then applies the mode and portfolio caps.
type DynamicSizer struct {
	logger  zerolog.Logger
	mode    TradingMode
	params  ModeParams
	basePct float64 // base position as percent of portfolio
}

// NewDynamicSizer creates a sizer for the given mode
func NewDynamicSizer(logger zerolog.Logger, mode TradingMode) *DynamicSizer {
	return &DynamicSizer{
		logger:  logger.With().Str("component", "sizer").Logger(),
		mode:    mode,
		params:  ParamsFor(mode),
		basePct: 5.0,
	}
}

// PositionValue returns the dollar value to commit to one entry. The
// combined multiplier is clamped to [0.1, 2.0] before the caps apply.
func (s *DynamicSizer) PositionValue(in DynamicInputs) float64 {
	base := in.PortfolioValue * s.basePct / 100

	mult := s.volatilityMultiplier(in.BandWidthRatio) *
		s.accountMultiplier(in.PortfolioValue) *
		s.rsiMultiplier(in.RSI) *
		s.priceMultiplier(in.Price)
	if s.mode == ModeAggressive {
		mult *= 1.3
	}
	mult = math.Min(2.0, math.Max(0.1, mult))

	value := base * mult

	cap := math.Min(0.05*in.PortfolioValue*s.params.PositionMultiplier, MaxPositionValue(in.PortfolioValue))
	cap = math.Min(cap, 0.10*in.PortfolioValue)
	if value > cap {
		value = cap
	}
	if max := 0.95 * in.AvailableFunds; value > max {
		value = max
	}

	s.logger.Debug().
		Float64("base", base).
		Float64("multiplier", mult).
		Float64("value", value).
		Msg("Dynamic position sized")

	return value
}

// volatilityMultiplier shrinks size in wide bands and grows it in calm ones
func (s *DynamicSizer) volatilityMultiplier(bandWidthRatio float64) float64 {
	switch {
	case bandWidthRatio > 0.15:
		return 0.7
	case bandWidthRatio > 0.10:
		return 0.85
	case bandWidthRatio > 0 && bandWidthRatio < 0.05:
		return 1.2
	default:
		return 1.0
	}
}

func (s *DynamicSizer) accountMultiplier(portfolioValue float64) float64 {
	switch {
	case portfolioValue > 50000:
		return 1.1
	case portfolioValue < 10000:
		return 0.8
	default:
		return 1.0
	}
}

// rsiMultiplier trims size at RSI extremes and adds to it mid-range
func (s *DynamicSizer) rsiMultiplier(rsi float64) float64 {
	if math.IsNaN(rsi) {
		return 1.0
	}
	switch {
	case rsi > 75 || rsi < 25:
		return 0.8
	case rsi >= 45 && rsi <= 55:
		return 1.1
	default:
		return 1.0
	}
}

func (s *DynamicSizer) priceMultiplier(price float64) float64 {
	switch {
	case price > 200:
		return 0.8
	case price > 100:
		return 0.9
	case price > 0 && price < 20:
		return 1.2
	default:
		return 1.0
	}
}
