package strategy

import (
	"math"
	"sort"
	"time"

	"alpaca-trading-bot/internal/alpaca"
)

// LevelKind distinguishes support from resistance
type LevelKind string

const (
	LevelSupport    LevelKind = "support"
	LevelResistance LevelKind = "resistance"
)

// Level is a clustered price level built from local extrema
type Level struct {
	Price     float64   `json:"price"`
	Touches   int       `json:"touches"`
	Strength  float64   `json:"strength"`
	Kind      LevelKind `json:"kind"`
	FirstSeen time.Time `json:"first_seen"`
	LastTouch time.Time `json:"last_touch"`
}

// LevelConfig holds level detection parameters
type LevelConfig struct {
	Window       int     `json:"window"`        // bars on each side of a local extremum
	MinTouches   int     `json:"min_touches"`   // minimum extrema per level
	TolerancePct float64 `json:"tolerance_pct"` // cluster width as percent of the level price
}

// DefaultLevelConfig returns the standard detection parameters
func DefaultLevelConfig() LevelConfig {
	return LevelConfig{
		Window:       10,
		MinTouches:   1,
		TolerancePct: 1.0,
	}
}

// touch is one local extremum: the price and the bar it occurred on
type touch struct {
	price float64
	at    time.Time
}

// DetectLevels finds support levels from local lows and resistance levels
// from local highs. Extrema are clustered purely by price proximity; the
// bars they came from only contribute the first-seen and last-touch
// timestamps.
func DetectLevels(bars []alpaca.Bar, cfg LevelConfig) (supports, resistances []Level) {
	lows := make([]touch, 0)
	highs := make([]touch, 0)

	for i := cfg.Window; i < len(bars)-cfg.Window; i++ {
		if isLocalMin(bars, i, cfg.Window) {
			lows = append(lows, touch{price: bars[i].Low, at: bars[i].Timestamp})
		}
		if isLocalMax(bars, i, cfg.Window) {
			highs = append(highs, touch{price: bars[i].High, at: bars[i].Timestamp})
		}
	}

	supports = clusterLevels(lows, cfg, LevelSupport)
	resistances = clusterLevels(highs, cfg, LevelResistance)
	return supports, resistances
}

func isLocalMin(bars []alpaca.Bar, i, window int) bool {
	for j := i - window; j <= i+window; j++ {
		if bars[j].Low < bars[i].Low {
			return false
		}
	}
	return true
}

func isLocalMax(bars []alpaca.Bar, i, window int) bool {
	for j := i - window; j <= i+window; j++ {
		if bars[j].High > bars[i].High {
			return false
		}
	}
	return true
}

// clusterLevels greedily merges price-sorted extrema: a touch joins the
// current group while its price stays within tolerance of the group's
// running average.
func clusterLevels(touches []touch, cfg LevelConfig, kind LevelKind) []Level {
	if len(touches) == 0 {
		return nil
	}

	sorted := make([]touch, len(touches))
	copy(sorted, touches)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].price != sorted[j].price {
			return sorted[i].price < sorted[j].price
		}
		return sorted[i].at.Before(sorted[j].at)
	})

	levels := make([]Level, 0)
	group := []touch{sorted[0]}
	groupSum := sorted[0].price

	flush := func() {
		if level, ok := buildLevel(group, cfg.MinTouches, kind); ok {
			levels = append(levels, level)
		}
	}

	for _, t := range sorted[1:] {
		avg := groupSum / float64(len(group))
		if math.Abs(t.price-avg) <= avg*cfg.TolerancePct/100.0 {
			group = append(group, t)
			groupSum += t.price
			continue
		}
		flush()
		group = []touch{t}
		groupSum = t.price
	}
	flush()

	sort.Slice(levels, func(i, j int) bool { return levels[i].Price < levels[j].Price })
	return levels
}

// buildLevel averages a cluster into a level. Strength blends how tight the
// cluster is with how often it was touched, each on [0, 1]. First-seen and
// last-touch are the earliest and latest bar timestamps in the cluster.
func buildLevel(group []touch, minTouches int, kind LevelKind) (Level, bool) {
	if len(group) < minTouches {
		return Level{}, false
	}

	avg := 0.0
	firstSeen := group[0].at
	lastTouch := group[0].at
	for _, t := range group {
		avg += t.price
		if t.at.Before(firstSeen) {
			firstSeen = t.at
		}
		if t.at.After(lastTouch) {
			lastTouch = t.at
		}
	}
	avg /= float64(len(group))

	variance := 0.0
	for _, t := range group {
		d := t.price - avg
		variance += d * d
	}
	std := math.Sqrt(variance / float64(len(group)))

	consistency := 0.0
	if avg > 0 {
		consistency = math.Max(0, 1.0-std/avg)
	}
	touchFactor := math.Min(1.0, float64(len(group))/5.0)

	return Level{
		Price:     avg,
		Touches:   len(group),
		Strength:  (consistency + touchFactor) / 2.0,
		Kind:      kind,
		FirstSeen: firstSeen,
		LastTouch: lastTouch,
	}, true
}

// NearestSupport returns the highest support strictly below price
func NearestSupport(supports []Level, price float64) (Level, bool) {
	var best Level
	found := false
	for _, lvl := range supports {
		if lvl.Price < price && (!found || lvl.Price > best.Price) {
			best = lvl
			found = true
		}
	}
	return best, found
}

// NearestResistance returns the lowest resistance strictly above price
func NearestResistance(resistances []Level, price float64) (Level, bool) {
	var best Level
	found := false
	for _, lvl := range resistances {
		if lvl.Price > price && (!found || lvl.Price < best.Price) {
			best = lvl
			found = true
		}
	}
	return best, found
}
