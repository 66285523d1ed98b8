package strategy

import (
	"testing"

	"alpaca-trading-bot/internal/alpaca"
)

func conservativeEntryConfig() EntryConfig {
	return EntryConfig{RSIOversold: 30, MinScore: 3, SupportThreshold: 2.0}
}

func calmSnapshot(price float64) *Snapshot {
	return &Snapshot{
		Symbol: "AAPL",
		Price:  price,
		Quote:  alpaca.Quote{Symbol: "AAPL", BidPrice: price - 0.05, AskPrice: price + 0.05},
		Indicators: Indicators{
			SMA20:           price,
			EMA9:            price,
			RSI:             50,
			BollingerUpper:  price * 1.06,
			BollingerMiddle: price,
			BollingerLower:  price * 0.94,
		},
	}
}

// TestEntryBuyOnOversoldNearSupport covers the scored buy path: near
// support plus oversold RSI clears the conservative minimum
func TestEntryBuyOnOversoldNearSupport(t *testing.T) {
	snap := calmSnapshot(100)
	snap.Indicators.RSI = 28
	snap.Supports = []Level{{Price: 99, Touches: 2, Kind: LevelSupport}}

	signal := EvaluateEntry(snap, conservativeEntryConfig())

	if signal.Action != ActionBuy {
		t.Fatalf("Expected buy, got %s (%s)", signal.Action, signal.Reason)
	}
	if signal.Score < 5 {
		t.Errorf("Expected score of at least 5, got %d", signal.Score)
	}
	if !hasCondition(signal, "near_support") || !hasCondition(signal, "rsi_oversold") {
		t.Errorf("Expected near_support and rsi_oversold conditions, got %+v", signal.Conditions)
	}
	if signal.EntryPrice != snap.Quote.AskPrice {
		t.Errorf("Entry price should be the ask, got %f", signal.EntryPrice)
	}
}

// TestEntryNearOversoldHalfWeight verifies RSI just above the threshold
// scores one instead of two
func TestEntryNearOversoldHalfWeight(t *testing.T) {
	snap := calmSnapshot(100)
	snap.Indicators.RSI = 33
	snap.Supports = []Level{{Price: 99, Touches: 2, Kind: LevelSupport}}

	signal := EvaluateEntry(snap, conservativeEntryConfig())

	if hasCondition(signal, "rsi_oversold") {
		t.Error("RSI 33 should not count as fully oversold at threshold 30")
	}
	if !hasCondition(signal, "rsi_near_oversold") {
		t.Errorf("Expected rsi_near_oversold, got %+v", signal.Conditions)
	}
}

// TestEntryRequiresTwoConditions verifies a lone condition never buys even
// when its weight reaches the minimum score
func TestEntryRequiresTwoConditions(t *testing.T) {
	snap := calmSnapshot(100)
	snap.Indicators.SMA20 = 103 // price below SMA threshold but inside the gate
	snap.Supports = []Level{{Price: 99.5, Touches: 3, Kind: LevelSupport}}

	signal := EvaluateEntry(snap, conservativeEntryConfig())

	if signal.Action != ActionNone {
		t.Fatalf("Expected no buy with a single condition, got %s", signal.Action)
	}
	if len(signal.Conditions) != 1 {
		t.Errorf("Expected exactly one condition, got %+v", signal.Conditions)
	}
}

// TestEntryVetoes covers the favorable-market gate
func TestEntryVetoes(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Snapshot)
	}{
		{"rsi too high", func(s *Snapshot) { s.Indicators.RSI = 85 }},
		{"rsi too low", func(s *Snapshot) { s.Indicators.RSI = 10 }},
		{"bands too wide", func(s *Snapshot) {
			s.Indicators.BollingerUpper = s.Price * 1.20
			s.Indicators.BollingerLower = s.Price * 0.80
		}},
		{"spread too wide", func(s *Snapshot) {
			s.Quote.BidPrice = s.Price
			s.Quote.AskPrice = s.Price * 1.02
		}},
		{"price far from sma", func(s *Snapshot) { s.Indicators.SMA20 = s.Price * 0.90 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := calmSnapshot(100)
			// Strong setup that would otherwise buy
			snap.Supports = []Level{{Price: 99, Touches: 2, Kind: LevelSupport}}
			snap.Indicators.RSI = 28
			tt.mutate(snap)

			signal := EvaluateEntry(snap, conservativeEntryConfig())
			if signal.Action != ActionNone {
				t.Errorf("Expected veto, got %s", signal.Action)
			}
			if signal.Reason == "" {
				t.Error("Expected a veto reason")
			}
		})
	}
}

// TestEntryRewardRiskCondition verifies the 2:1 reward-to-risk check
func TestEntryRewardRiskCondition(t *testing.T) {
	snap := calmSnapshot(100)
	snap.Supports = []Level{{Price: 99, Kind: LevelSupport}}
	snap.Resistances = []Level{{Price: 103, Kind: LevelResistance}}

	signal := EvaluateEntry(snap, conservativeEntryConfig())
	if !hasCondition(signal, "reward_risk") {
		t.Errorf("Expected reward_risk with 3:1 setup, got %+v", signal.Conditions)
	}

	snap.Resistances = []Level{{Price: 101, Kind: LevelResistance}}
	signal = EvaluateEntry(snap, conservativeEntryConfig())
	if hasCondition(signal, "reward_risk") {
		t.Errorf("Expected no reward_risk with 1:1 setup, got %+v", signal.Conditions)
	}
}

// TestEntryBandSqueeze verifies tight bands add a point
func TestEntryBandSqueeze(t *testing.T) {
	snap := calmSnapshot(100)
	snap.Indicators.BollingerUpper = 102
	snap.Indicators.BollingerLower = 98

	signal := EvaluateEntry(snap, conservativeEntryConfig())
	if !hasCondition(signal, "band_squeeze") {
		t.Errorf("Expected band_squeeze with 4%% width, got %+v", signal.Conditions)
	}
}

func hasCondition(signal *EntrySignal, name string) bool {
	for _, c := range signal.Conditions {
		if c.Name == name {
			return true
		}
	}
	return false
}
