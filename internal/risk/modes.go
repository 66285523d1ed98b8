package risk

// TradingMode selects how aggressively the bot trades
type TradingMode string

const (
	ModeUltraSafe    TradingMode = "ultra_safe"
	ModeConservative TradingMode = "conservative"
	ModeAggressive   TradingMode = "aggressive"
)

// ModeParams are the per-mode strategy parameters
type ModeParams struct {
	StopLossPct        float64 `json:"stop_loss_pct"`
	TakeProfitPct      float64 `json:"take_profit_pct"`
	RSIOversold        float64 `json:"rsi_oversold"`
	RSIOverbought      float64 `json:"rsi_overbought"`
	MaxDailyTrades     int     `json:"max_daily_trades"`
	MinEntryScore      int     `json:"min_entry_score"`
	PositionMultiplier float64 `json:"position_multiplier"`
}

// ParamsFor returns the parameter set for a mode, defaulting to conservative
func ParamsFor(mode TradingMode) ModeParams {
	switch mode {
	case ModeUltraSafe:
		return ModeParams{
			StopLossPct:        0.5,
			TakeProfitPct:      1.0,
			RSIOversold:        25,
			RSIOverbought:      75,
			MaxDailyTrades:     10,
			MinEntryScore:      4,
			PositionMultiplier: 0.5,
		}
	case ModeAggressive:
		return ModeParams{
			StopLossPct:        2.0,
			TakeProfitPct:      3.0,
			RSIOversold:        35,
			RSIOverbought:      65,
			MaxDailyTrades:     50,
			MinEntryScore:      2,
			PositionMultiplier: 1.5,
		}
	default:
		return ModeParams{
			StopLossPct:        1.0,
			TakeProfitPct:      1.5,
			RSIOversold:        30,
			RSIOverbought:      70,
			MaxDailyTrades:     20,
			MinEntryScore:      3,
			PositionMultiplier: 1.0,
		}
	}
}

// portfolioTier caps position value by account size. Small accounts get a
// larger share of the portfolio but a tighter absolute ceiling.
type portfolioTier struct {
	upTo       float64 // portfolio value upper bound, inclusive
	multiplier float64
	ceiling    float64
}

var portfolioTiers = []portfolioTier{
	{100, 0.90, 90},
	{500, 0.50, 250},
	{1000, 0.35, 350},
	{5000, 0.25, 1000},
	{25000, 0.15, 2500},
}

// MaxPositionValue returns the tiered cap for one position
func MaxPositionValue(portfolioValue float64) float64 {
	for _, tier := range portfolioTiers {
		if portfolioValue <= tier.upTo {
			return minFloat(tier.ceiling, tier.multiplier*portfolioValue)
		}
	}
	return minFloat(5000, 0.10*portfolioValue)
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
