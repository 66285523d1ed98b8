package strategy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"alpaca-trading-bot/internal/alpaca"
	"alpaca-trading-bot/internal/resilience"
)

const (
	rsiPeriod        = 14
	smaPeriod        = 20
	bollingerPeriod  = 20
	bollingerStdDev  = 2.0
	macdFastPeriod   = 12
	macdSlowPeriod   = 26
	macdSignalPeriod = 9

	lookbackDays = 5
	barLimit     = 100
	minBars      = 20

	snapshotTTL = time.Minute
)

// Indicators holds the latest value of each indicator series
type Indicators struct {
	SMA20           float64 `json:"sma_20"`
	EMA9            float64 `json:"ema_9"`
	RSI             float64 `json:"rsi"`
	MACD            float64 `json:"macd"`
	MACDSignal      float64 `json:"macd_signal"`
	MACDHistogram   float64 `json:"macd_histogram"`
	BollingerUpper  float64 `json:"bollinger_upper"`
	BollingerMiddle float64 `json:"bollinger_middle"`
	BollingerLower  float64 `json:"bollinger_lower"`
}

// Snapshot bundles everything the strategy needs to decide on one symbol
type Snapshot struct {
	Symbol      string        `json:"symbol"`
	Quote       alpaca.Quote  `json:"quote"`
	Bars        []alpaca.Bar  `json:"bars"`
	Price       float64       `json:"price"` // latest close
	Indicators  Indicators    `json:"indicators"`
	Supports    []Level       `json:"supports"`
	Resistances []Level       `json:"resistances"`
	TakenAt     time.Time     `json:"taken_at"`
}

// Analyzer assembles market snapshots with a short per-symbol cache so the
// polling loop does not refetch the same minute of data.
type Analyzer struct {
	logger zerolog.Logger
	data   alpaca.MarketDataClient
	guard  *resilience.Guard
	levels LevelConfig

	mu    sync.RWMutex
	cache map[string]*Snapshot
}

// NewAnalyzer creates a snapshot assembler
func NewAnalyzer(logger zerolog.Logger, data alpaca.MarketDataClient, guard *resilience.Guard, levels LevelConfig) *Analyzer {
	return &Analyzer{
		logger: logger.With().Str("component", "analyzer").Logger(),
		data:   data,
		guard:  guard,
		levels: levels,
		cache:  make(map[string]*Snapshot),
	}
}

// Analyze returns the current snapshot for symbol, served from cache when it
// is less than a minute old. Fewer than 20 bars means the symbol cannot be
// analyzed this cycle.
func (a *Analyzer) Analyze(ctx context.Context, symbol string) (*Snapshot, error) {
	a.mu.RLock()
	cached, ok := a.cache[symbol]
	a.mu.RUnlock()
	if ok && time.Since(cached.TakenAt) < snapshotTTL {
		return cached, nil
	}

	snap, err := a.assemble(ctx, symbol)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.cache[symbol] = snap
	a.mu.Unlock()
	return snap, nil
}

// Invalidate drops the cached snapshot for symbol
func (a *Analyzer) Invalidate(symbol string) {
	a.mu.Lock()
	delete(a.cache, symbol)
	a.mu.Unlock()
}

func (a *Analyzer) assemble(ctx context.Context, symbol string) (*Snapshot, error) {
	var quote *alpaca.Quote
	err := a.guard.Execute(ctx, symbol, func() error {
		q, err := a.data.GetLatestQuote(ctx, symbol)
		if err != nil {
			return err
		}
		quote = q
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get quote %s: %w", symbol, err)
	}

	end := time.Now()
	start := end.AddDate(0, 0, -lookbackDays)
	var bars []alpaca.Bar
	err = a.guard.Execute(ctx, symbol, func() error {
		b, err := a.data.GetBars(ctx, symbol, start, end, barLimit)
		if err != nil {
			return err
		}
		bars = b
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get bars %s: %w", symbol, err)
	}

	if len(bars) < minBars {
		return nil, resilience.DataUnavailable("analyze", symbol,
			fmt.Sprintf("only %d bars, need %d", len(bars), minBars))
	}

	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}

	macd, macdSignal, macdHist := MACD(closes, macdFastPeriod, macdSlowPeriod, macdSignalPeriod)
	upper, middle, lower := BollingerBands(closes, bollingerPeriod, bollingerStdDev)
	supports, resistances := DetectLevels(bars, a.levels)

	snap := &Snapshot{
		Symbol: symbol,
		Quote:  *quote,
		Bars:   bars,
		Price:  closes[len(closes)-1],
		Indicators: Indicators{
			SMA20:           lastValue(SMA(closes, smaPeriod)),
			EMA9:            lastValue(EMA(closes, 9)),
			RSI:             lastValue(RSI(closes, rsiPeriod)),
			MACD:            lastValue(macd),
			MACDSignal:      lastValue(macdSignal),
			MACDHistogram:   lastValue(macdHist),
			BollingerUpper:  lastValue(upper),
			BollingerMiddle: lastValue(middle),
			BollingerLower:  lastValue(lower),
		},
		Supports:    supports,
		Resistances: resistances,
		TakenAt:     time.Now(),
	}

	a.logger.Debug().
		Str("symbol", symbol).
		Float64("price", snap.Price).
		Float64("rsi", snap.Indicators.RSI).
		Int("supports", len(supports)).
		Int("resistances", len(resistances)).
		Msg("Snapshot assembled")

	return snap, nil
}
