package strategy

import (
	"fmt"
	"math"
	"time"
)

// ExitConfig holds the thresholds the exit chain depends on. Stop-loss,
// take-profit and RSI overbought come from the active trading mode.
type ExitConfig struct {
	StopLossPct            float64 `json:"stop_loss_pct"`
	TakeProfitPct          float64 `json:"take_profit_pct"` // base, scaled dynamically
	RSIOverbought          float64 `json:"rsi_overbought"`
	MinProfitForTrailing   float64 `json:"min_profit_for_trailing"`
	TrailingStopPct        float64 `json:"trailing_stop_pct"`
	ResistanceThresholdPct float64 `json:"resistance_threshold_pct"`
}

// DefaultExitConfig fills the mode-independent exit parameters
func DefaultExitConfig() ExitConfig {
	return ExitConfig{
		MinProfitForTrailing:   0.5,
		TrailingStopPct:        1.0,
		ResistanceThresholdPct: 1.5,
	}
}

// PositionInfo is what the exit rules need to know about an open position
type PositionInfo struct {
	Symbol       string    `json:"symbol"`
	EntryPrice   float64   `json:"entry_price"`
	Qty          float64   `json:"qty"`
	HighestPrice float64   `json:"highest_price"`
	EntryTime    time.Time `json:"entry_time"`
}

// ExitSignal is a decision to close a position
type ExitSignal struct {
	Symbol    string  `json:"symbol"`
	Rule      string  `json:"rule"`
	Reason    string  `json:"reason"`
	ExitPrice float64 `json:"exit_price"` // bid price
}

// EvaluateExit walks the exit rules in fixed order and returns the first
// that fires, or nil to hold. Exits price at the bid.
func EvaluateExit(snap *Snapshot, pos PositionInfo, cfg ExitConfig) *ExitSignal {
	price := snap.Quote.BidPrice
	if price <= 0 {
		price = snap.Price
	}
	if pos.EntryPrice <= 0 {
		return nil
	}

	ind := snap.Indicators
	gainPct := (price - pos.EntryPrice) / pos.EntryPrice * 100

	// Once the high-water mark shows enough profit, the trailing stop
	// replaces the hard stop
	trailArmed := false
	if pos.HighestPrice > 0 {
		highGainPct := (pos.HighestPrice - pos.EntryPrice) / pos.EntryPrice * 100
		trailArmed = highGainPct >= cfg.MinProfitForTrailing
	}

	// 1. Hard stop-loss
	if !trailArmed {
		stopPrice := pos.EntryPrice * (1 - cfg.StopLossPct/100)
		if price <= stopPrice {
			return exit(pos.Symbol, "stop_loss", price,
				fmt.Sprintf("price %.2f breached stop %.2f", price, stopPrice))
		}
	}

	// 2. Trailing stop
	if trailArmed {
		trailStop := pos.HighestPrice * (1 - cfg.TrailingStopPct/100)
		if price <= trailStop {
			return exit(pos.Symbol, "trailing_stop", price,
				fmt.Sprintf("price %.2f fell to trailing stop %.2f (high %.2f)", price, trailStop, pos.HighestPrice))
		}
	}

	// 3. Dynamic take-profit
	target := dynamicTakeProfit(cfg.TakeProfitPct, ind, price)
	if gainPct >= target {
		return exit(pos.Symbol, "take_profit", price,
			fmt.Sprintf("gain %.2f%% reached target %.2f%%", gainPct, target))
	}

	// 4. Resistance proximity, only when momentum is weakening
	if resistance, ok := NearestResistance(snap.Resistances, price); ok {
		distPct := (resistance.Price - price) / price * 100
		if distPct <= cfg.ResistanceThresholdPct && momentumWeakening(ind, price) {
			return exit(pos.Symbol, "resistance", price,
				fmt.Sprintf("within %.2f%% of resistance %.2f with fading momentum", distPct, resistance.Price))
		}
	}

	// 5. RSI overbought, tightened by 5 points once the trade is profitable
	if !math.IsNaN(ind.RSI) {
		threshold := cfg.RSIOverbought
		if gainPct > 1.0 {
			threshold -= 5
		}
		if ind.RSI >= threshold {
			return exit(pos.Symbol, "rsi_overbought", price,
				fmt.Sprintf("RSI %.1f above %.1f", ind.RSI, threshold))
		}
	}

	// 6. Upper Bollinger band
	if !math.IsNaN(ind.BollingerUpper) && price >= ind.BollingerUpper*0.99 {
		return exit(pos.Symbol, "upper_band", price,
			fmt.Sprintf("price %.2f within 1%% of upper band %.2f", price, ind.BollingerUpper))
	}

	return nil
}

func exit(symbol, rule string, price float64, reason string) *ExitSignal {
	return &ExitSignal{Symbol: symbol, Rule: rule, Reason: reason, ExitPrice: price}
}

// dynamicTakeProfit scales the base target by RSI strength and band
// position, clamped to [1%, 5%]
func dynamicTakeProfit(basePct float64, ind Indicators, price float64) float64 {
	target := basePct

	if !math.IsNaN(ind.RSI) {
		if ind.RSI > 60 {
			target *= 1.2
		} else if ind.RSI < 40 {
			target *= 0.8
		}
	}

	if !math.IsNaN(ind.BollingerUpper) && !math.IsNaN(ind.BollingerLower) {
		span := ind.BollingerUpper - ind.BollingerLower
		if span > 0 && (price-ind.BollingerLower)/span > 0.7 {
			target *= 1.15
		}
	}

	return math.Min(5.0, math.Max(1.0, target))
}

// momentumWeakening gates the resistance exit: RSI above 70, or above 65
// while pressing into the upper band
func momentumWeakening(ind Indicators, price float64) bool {
	if math.IsNaN(ind.RSI) {
		return false
	}
	if ind.RSI > 70 {
		return true
	}
	if ind.RSI > 65 && !math.IsNaN(ind.BollingerUpper) && price >= ind.BollingerUpper*0.98 {
		return true
	}
	return false
}
