package strategy

import (
	"fmt"
	"math"
	"strings"
)

// EntryConfig holds the thresholds entry evaluation depends on. RSIOversold
// and MinScore come from the active trading mode.
type EntryConfig struct {
	RSIOversold      float64 `json:"rsi_oversold"`
	MinScore         int     `json:"min_score"`
	SupportThreshold float64 `json:"support_threshold"` // percent above support that counts as "near"
}

// Action is the decision for a symbol
type Action string

const (
	ActionBuy  Action = "buy"
	ActionNone Action = "none"
)

// Condition is one met entry condition and its weight
type Condition struct {
	Name   string `json:"name"`
	Weight int    `json:"weight"`
}

// EntrySignal is the outcome of scoring one symbol
type EntrySignal struct {
	Symbol     string      `json:"symbol"`
	Action     Action      `json:"action"`
	Score      int         `json:"score"`
	Conditions []Condition `json:"conditions"`
	Reason     string      `json:"reason"`
	EntryPrice float64     `json:"entry_price"` // ask price
}

// EvaluateEntry scores the snapshot against the weighted entry conditions.
// A BUY needs the market gate to pass, at least two conditions met, and a
// total score at or above the mode minimum. Entries price at the ask.
func EvaluateEntry(snap *Snapshot, cfg EntryConfig) *EntrySignal {
	signal := &EntrySignal{
		Symbol:     snap.Symbol,
		Action:     ActionNone,
		EntryPrice: snap.Quote.AskPrice,
	}

	if ok, reason := marketFavorable(snap); !ok {
		signal.Reason = reason
		return signal
	}

	ind := snap.Indicators
	price := snap.Price

	support, hasSupport := NearestSupport(snap.Supports, price)
	resistance, hasResistance := NearestResistance(snap.Resistances, price)

	if hasSupport && (price-support.Price)/support.Price*100 <= cfg.SupportThreshold {
		signal.add("near_support", 3)
	}

	if !math.IsNaN(ind.RSI) {
		if ind.RSI <= cfg.RSIOversold {
			signal.add("rsi_oversold", 2)
		} else if ind.RSI <= cfg.RSIOversold+5 {
			signal.add("rsi_near_oversold", 1)
		}
	}

	if !math.IsNaN(ind.BollingerLower) && price <= ind.BollingerLower*1.02 {
		signal.add("near_lower_band", 2)
	}

	if !math.IsNaN(ind.SMA20) && price >= ind.SMA20*0.98 {
		signal.add("above_sma", 1)
	}

	if bandSqueezing(ind) {
		signal.add("band_squeeze", 1)
	}

	if hasSupport && hasResistance {
		risk := price - support.Price
		reward := resistance.Price - price
		if risk > 0 && reward/risk >= 2.0 {
			signal.add("reward_risk", 2)
		}
	}

	if len(signal.Conditions) >= 2 && signal.Score >= cfg.MinScore {
		signal.Action = ActionBuy
		signal.Reason = describeConditions(signal.Conditions, signal.Score)
	} else {
		signal.Reason = fmt.Sprintf("score %d below minimum %d (%d conditions)",
			signal.Score, cfg.MinScore, len(signal.Conditions))
	}
	return signal
}

func (s *EntrySignal) add(name string, weight int) {
	s.Conditions = append(s.Conditions, Condition{Name: name, Weight: weight})
	s.Score += weight
}

// marketFavorable vetoes entries in hostile conditions regardless of score
func marketFavorable(snap *Snapshot) (bool, string) {
	ind := snap.Indicators
	price := snap.Price

	if bandWidthRatio(ind) > 0.25 {
		return false, "volatility too high (band width > 25% of middle)"
	}
	if !math.IsNaN(ind.RSI) && (ind.RSI > 80 || ind.RSI < 15) {
		return false, fmt.Sprintf("RSI %.1f at an extreme", ind.RSI)
	}
	if snap.Quote.BidPrice > 0 {
		spread := (snap.Quote.AskPrice - snap.Quote.BidPrice) / snap.Quote.BidPrice
		if spread > 0.01 {
			return false, fmt.Sprintf("spread %.2f%% too wide", spread*100)
		}
	}
	if !math.IsNaN(ind.SMA20) && ind.SMA20 > 0 {
		if math.Abs(price-ind.SMA20)/ind.SMA20 > 0.05 {
			return false, "price more than 5% away from SMA20"
		}
	}
	return true, ""
}

// bandWidthRatio returns Bollinger band width relative to the middle band,
// zero when the bands are undefined
func bandWidthRatio(ind Indicators) float64 {
	if math.IsNaN(ind.BollingerUpper) || math.IsNaN(ind.BollingerLower) ||
		math.IsNaN(ind.BollingerMiddle) || ind.BollingerMiddle <= 0 {
		return 0
	}
	return (ind.BollingerUpper - ind.BollingerLower) / ind.BollingerMiddle
}

func bandSqueezing(ind Indicators) bool {
	ratio := bandWidthRatio(ind)
	return ratio > 0 && ratio < 0.10
}

func describeConditions(conditions []Condition, score int) string {
	names := make([]string, len(conditions))
	for i, c := range conditions {
		names[i] = c.Name
	}
	return fmt.Sprintf("score %d: %s", score, strings.Join(names, ", "))
}
