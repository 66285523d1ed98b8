package bot

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"alpaca-trading-bot/config"
	"alpaca-trading-bot/internal/alpaca"
	"alpaca-trading-bot/internal/events"
	"alpaca-trading-bot/internal/orders"
	"alpaca-trading-bot/internal/resilience"
	"alpaca-trading-bot/internal/risk"
	"alpaca-trading-bot/internal/strategy"
)

// Bot runs the polling strategy loop: reconcile broker state, evaluate
// exits, then evaluate entries, once per interval. Errors on one symbol
// never stop the others.
type Bot struct {
	logger    zerolog.Logger
	cfg       *config.Config
	client    alpaca.Client
	guard     *resilience.Guard
	analyzer  *strategy.Analyzer
	lifecycle *orders.Manager
	bus       *events.EventBus

	params   risk.ModeParams
	entryCfg strategy.EntryConfig
	exitCfg  strategy.ExitConfig
	sizer    *risk.DynamicSizer
	fixed    *risk.FixedCapitalSizer // nil unless fixed-capital sizing is enabled

	mu          sync.Mutex
	dailyTrades int
	dailyReset  time.Time

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New wires the orchestrator from its collaborators
func New(cfg *config.Config, logger zerolog.Logger, client alpaca.Client, guard *resilience.Guard,
	analyzer *strategy.Analyzer, lifecycle *orders.Manager, bus *events.EventBus) *Bot {

	mode := risk.TradingMode(cfg.TradingConfig.Mode)
	params := risk.ParamsFor(mode)

	exitCfg := strategy.DefaultExitConfig()
	exitCfg.StopLossPct = params.StopLossPct
	exitCfg.TakeProfitPct = params.TakeProfitPct
	exitCfg.RSIOverbought = params.RSIOverbought

	b := &Bot{
		logger:    logger.With().Str("component", "bot").Logger(),
		cfg:       cfg,
		client:    client,
		guard:     guard,
		analyzer:  analyzer,
		lifecycle: lifecycle,
		bus:       bus,
		params:    params,
		entryCfg: strategy.EntryConfig{
			RSIOversold:      params.RSIOversold,
			MinScore:         params.MinEntryScore,
			SupportThreshold: 2.0,
		},
		exitCfg:    exitCfg,
		sizer:      risk.NewDynamicSizer(logger, mode),
		dailyReset: nextMidnight(time.Now()),
		stopChan:   make(chan struct{}),
	}

	if cfg.RiskConfig.UseFixedCapital {
		b.fixed = &risk.FixedCapitalSizer{
			Capital: cfg.RiskConfig.FixedCapital,
			Amount:  cfg.RiskConfig.FixedAmount,
		}
	}
	return b
}

// Start recovers lifecycle state from the broker and launches the loop
func (b *Bot) Start(ctx context.Context) error {
	if err := b.recover(ctx); err != nil {
		return fmt.Errorf("startup recovery: %w", err)
	}

	b.bus.Publish(events.Event{Type: events.EventBotStarted, Data: map[string]interface{}{
		"mode":    b.cfg.TradingConfig.Mode,
		"symbols": b.cfg.TradingConfig.Symbols,
		"dry_run": b.cfg.TradingConfig.DryRun,
	}})

	b.logger.Info().
		Str("mode", b.cfg.TradingConfig.Mode).
		Strs("symbols", b.cfg.TradingConfig.Symbols).
		Bool("dry_run", b.cfg.TradingConfig.DryRun).
		Msg("Bot started")

	b.wg.Add(1)
	go b.run(ctx)
	return nil
}

// Stop halts the loop and waits for the current cycle to finish
func (b *Bot) Stop() {
	b.stopOnce.Do(func() { close(b.stopChan) })
	b.wg.Wait()
	b.bus.Publish(events.Event{Type: events.EventBotStopped, Data: map[string]interface{}{}})
	b.logger.Info().Msg("Bot stopped")
}

func (b *Bot) run(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.TradingConfig.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := b.runCycle(ctx); err != nil {
				if resilience.Fatal(err) {
					b.logger.Error().Err(err).Msg("Fatal broker error, stopping")
					b.bus.PublishError("bot", "fatal broker error", err)
					go b.Stop()
					return
				}
				b.logger.Warn().Err(err).Msg("Cycle failed")
			}
		case <-b.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// recover rebuilds lifecycle state from broker positions and open orders
func (b *Bot) recover(ctx context.Context) error {
	var positions []alpaca.Position
	err := b.guard.Execute(ctx, "broker", func() error {
		p, err := b.client.GetPositions(ctx)
		if err != nil {
			return err
		}
		positions = p
		return nil
	})
	if err != nil {
		return err
	}

	var openOrders []alpaca.Order
	err = b.guard.Execute(ctx, "broker", func() error {
		o, err := b.client.GetOpenOrders(ctx)
		if err != nil {
			return err
		}
		openOrders = o
		return nil
	})
	if err != nil {
		return err
	}

	b.lifecycle.Recover(ctx, positions, openOrders)
	return nil
}

// runCycle is one pass of the loop: clock gate, account refresh, order
// reconciliation, exits, entries.
func (b *Bot) runCycle(ctx context.Context) error {
	var clock *alpaca.Clock
	err := b.guard.Execute(ctx, "broker", func() error {
		c, err := b.client.GetClock(ctx)
		if err != nil {
			return err
		}
		clock = c
		return nil
	})
	if err != nil {
		return err
	}
	if !clock.IsOpen {
		b.logger.Debug().Time("next_open", clock.NextOpen).Msg("Market closed, skipping cycle")
		return nil
	}

	var account *alpaca.Account
	err = b.guard.Execute(ctx, "broker", func() error {
		a, err := b.client.GetAccount(ctx)
		if err != nil {
			return err
		}
		account = a
		return nil
	})
	if err != nil {
		return err
	}
	b.bus.PublishAccountChanged(account.PortfolioValue, account.BuyingPower)

	b.reconcileOrders(ctx)
	b.evaluateExits(ctx)
	b.evaluateEntries(ctx, account)
	return nil
}

// reconcileOrders polls every pending order and feeds the broker's view
// into the state machine before any new decisions are made
func (b *Bot) reconcileOrders(ctx context.Context) {
	for _, symbol := range b.lifecycle.PendingSymbols() {
		st := b.lifecycle.State(symbol)
		if st.PendingOrderID == "" {
			continue
		}

		var order *alpaca.Order
		err := b.guard.Execute(ctx, symbol, func() error {
			o, err := b.client.GetOrder(ctx, st.PendingOrderID)
			if err != nil {
				return err
			}
			order = o
			return nil
		})
		if err != nil {
			b.symbolError(symbol, "reconcile", err)
			continue
		}
		b.lifecycle.ApplyOrderUpdate(ctx, order)
	}
}

func (b *Bot) evaluateExits(ctx context.Context) {
	for _, symbol := range b.lifecycle.ActiveSymbols() {
		if err := b.evaluateExit(ctx, symbol); err != nil {
			b.symbolError(symbol, "exit", err)
		}
	}
}

func (b *Bot) evaluateExit(ctx context.Context, symbol string) error {
	st := b.lifecycle.State(symbol)
	if st.State != orders.StateActive {
		return nil // sell already pending
	}

	snap, err := b.analyzer.Analyze(ctx, symbol)
	if err != nil {
		return err
	}

	if bid := snap.Quote.BidPrice; bid > 0 {
		b.lifecycle.UpdateHighest(ctx, symbol, bid)
		st = b.lifecycle.State(symbol)
	}

	signal := strategy.EvaluateExit(snap, strategy.PositionInfo{
		Symbol:       symbol,
		EntryPrice:   st.EntryPrice,
		Qty:          st.Qty,
		HighestPrice: st.HighestPrice,
		EntryTime:    st.EntryTime,
	}, b.exitCfg)
	if signal == nil {
		return nil
	}

	b.logger.Info().
		Str("symbol", symbol).
		Str("rule", signal.Rule).
		Str("reason", signal.Reason).
		Msg("Exit signal")

	if b.cfg.TradingConfig.DryRun {
		b.logger.Info().Str("symbol", symbol).Msg("Dry run, sell not placed")
		return nil
	}

	var order *alpaca.Order
	err = b.guard.Execute(ctx, symbol, func() error {
		o, err := b.client.PlaceOrder(ctx, alpaca.OrderRequest{
			Symbol:        symbol,
			Side:          alpaca.SideSell,
			Type:          alpaca.OrderMarket,
			Qty:           st.Qty,
			TimeInForce:   "day",
			ClientOrderID: uuid.NewString(),
		})
		if err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return err
	}
	return b.lifecycle.RecordSellPlaced(ctx, order, signal.Rule)
}

func (b *Bot) evaluateEntries(ctx context.Context, account *alpaca.Account) {
	for _, symbol := range b.cfg.TradingConfig.Symbols {
		if !b.lifecycle.CanEnter(symbol) {
			continue
		}
		if !b.underDailyLimit() {
			b.logger.Debug().Int("trades", b.params.MaxDailyTrades).Msg("Daily trade limit reached")
			return
		}
		if err := b.evaluateEntry(ctx, symbol, account); err != nil {
			b.symbolError(symbol, "entry", err)
		}
	}
}

func (b *Bot) evaluateEntry(ctx context.Context, symbol string, account *alpaca.Account) error {
	snap, err := b.analyzer.Analyze(ctx, symbol)
	if err != nil {
		return err
	}

	signal := strategy.EvaluateEntry(snap, b.entryCfg)
	if signal.Action != strategy.ActionBuy {
		return nil
	}

	b.bus.PublishSignal(symbol, string(signal.Action), signal.Reason, signal.Score, signal.EntryPrice)
	b.logger.Info().
		Str("symbol", symbol).
		Int("score", signal.Score).
		Str("reason", signal.Reason).
		Msg("Entry signal")

	amount, err := b.positionAmount(snap, account)
	if err != nil {
		b.logger.Info().Err(err).Str("symbol", symbol).Msg("Entry rejected by sizing")
		return nil
	}
	if amount <= 0 {
		return nil
	}

	if b.cfg.TradingConfig.DryRun {
		b.logger.Info().Str("symbol", symbol).Float64("amount", amount).Msg("Dry run, buy not placed")
		return nil
	}

	req := alpaca.OrderRequest{
		Symbol:        symbol,
		Side:          alpaca.SideBuy,
		Type:          alpaca.OrderMarket,
		TimeInForce:   "day",
		ClientOrderID: uuid.NewString(),
	}
	if b.cfg.RiskConfig.WholeShares {
		qty := math.Floor(amount / signal.EntryPrice)
		if qty < 1 {
			b.logger.Debug().Str("symbol", symbol).Msg("Amount below one share, skipping")
			return nil
		}
		req.Qty = qty
		amount = qty * signal.EntryPrice
	} else {
		req.Notional = amount
	}

	var order *alpaca.Order
	err = b.guard.Execute(ctx, symbol, func() error {
		o, err := b.client.PlaceOrder(ctx, req)
		if err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return err
	}

	if err := b.lifecycle.RecordBuyPlaced(ctx, order, amount); err != nil {
		return err
	}
	b.countTrade()
	return nil
}

// positionAmount picks the notional for an entry from the configured sizer
func (b *Bot) positionAmount(snap *strategy.Snapshot, account *alpaca.Account) (float64, error) {
	if b.fixed != nil {
		return b.fixed.Approve(b.lifecycle.AllocatedCapital())
	}

	ind := snap.Indicators
	width := 0.0
	if !math.IsNaN(ind.BollingerUpper) && !math.IsNaN(ind.BollingerLower) &&
		!math.IsNaN(ind.BollingerMiddle) && ind.BollingerMiddle > 0 {
		width = (ind.BollingerUpper - ind.BollingerLower) / ind.BollingerMiddle
	}

	return b.sizer.PositionValue(risk.DynamicInputs{
		PortfolioValue: account.PortfolioValue,
		AvailableFunds: account.BuyingPower,
		Price:          snap.Price,
		RSI:            ind.RSI,
		BandWidthRatio: width,
	}), nil
}

func (b *Bot) underDailyLimit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if now.After(b.dailyReset) {
		b.dailyTrades = 0
		b.dailyReset = nextMidnight(now)
	}
	return b.dailyTrades < b.params.MaxDailyTrades
}

func (b *Bot) countTrade() {
	b.mu.Lock()
	b.dailyTrades++
	b.mu.Unlock()
}

// symbolError logs a per-symbol failure at the right level and keeps going
func (b *Bot) symbolError(symbol, phase string, err error) {
	switch {
	case resilience.IsDataUnavailable(err):
		b.logger.Debug().Str("symbol", symbol).Str("phase", phase).Err(err).Msg("Symbol skipped, insufficient data")
	case resilience.IsCircuitOpen(err):
		b.logger.Debug().Str("symbol", symbol).Str("phase", phase).Err(err).Msg("Symbol skipped, circuit open")
	case resilience.Fatal(err):
		b.logger.Error().Str("symbol", symbol).Str("phase", phase).Err(err).Msg("Fatal broker error, stopping")
		b.bus.PublishError("bot", "fatal broker error", err)
		go b.Stop()
	default:
		b.logger.Warn().Str("symbol", symbol).Str("phase", phase).Err(err).Msg("Symbol cycle failed")
		b.bus.PublishError("bot", fmt.Sprintf("%s failed for %s", phase, symbol), err)
	}
}

func nextMidnight(now time.Time) time.Time {
	year, month, day := now.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, now.Location()).Add(24 * time.Hour)
}
