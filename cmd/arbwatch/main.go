// Command arbwatch launches the market-data ingestion and notification runtime.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/csisgpt/arbwatch/config"
	"github.com/csisgpt/arbwatch/internal/adapters"
	"github.com/csisgpt/arbwatch/internal/adapters/binance"
	"github.com/csisgpt/arbwatch/internal/adapters/bitfinex"
	"github.com/csisgpt/arbwatch/internal/adapters/bitget"
	"github.com/csisgpt/arbwatch/internal/adapters/bitstamp"
	"github.com/csisgpt/arbwatch/internal/adapters/bybit"
	"github.com/csisgpt/arbwatch/internal/adapters/coinbase"
	"github.com/csisgpt/arbwatch/internal/adapters/coingecko"
	"github.com/csisgpt/arbwatch/internal/adapters/cryptocom"
	"github.com/csisgpt/arbwatch/internal/adapters/exchangerate"
	"github.com/csisgpt/arbwatch/internal/adapters/gateio"
	"github.com/csisgpt/arbwatch/internal/adapters/htx"
	"github.com/csisgpt/arbwatch/internal/adapters/kraken"
	"github.com/csisgpt/arbwatch/internal/adapters/kucoin"
	"github.com/csisgpt/arbwatch/internal/adapters/mexc"
	"github.com/csisgpt/arbwatch/internal/adapters/okx"
	"github.com/csisgpt/arbwatch/internal/detect/arb"
	"github.com/csisgpt/arbwatch/internal/detect/signals"
	"github.com/csisgpt/arbwatch/internal/kv"
	"github.com/csisgpt/arbwatch/internal/notify"
	"github.com/csisgpt/arbwatch/internal/observability"
	"github.com/csisgpt/arbwatch/internal/queue"
	"github.com/csisgpt/arbwatch/internal/registry"
	"github.com/csisgpt/arbwatch/internal/scheduler"
	"github.com/csisgpt/arbwatch/internal/schema"
	"github.com/csisgpt/arbwatch/internal/snapshot"
	"github.com/csisgpt/arbwatch/internal/store"
	"github.com/csisgpt/arbwatch/internal/store/postgres"
	"github.com/csisgpt/arbwatch/internal/symbols"
	"github.com/csisgpt/arbwatch/internal/telegram"
)

const (
	defaultConfigPath        = "config/arbwatch.yaml"
	serviceName              = "arbwatch"
	bootstrapTimeout         = 30 * time.Second
	seedTimeout              = 20 * time.Second
	seedCandleLimit          = 120
	shutdownTimeout          = 30 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
	healthLogInterval        = time.Minute
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := parseFlags()
	ctx, cancel := newSignalContext()
	defer cancel()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := observability.NewZapLogger(serviceName, cfg.Debug)
	if err != nil {
		return fmt.Errorf("initialise logger: %w", err)
	}
	defer logger.Sync()
	observability.SetLogger(logger)

	logger.Info("configuration initialised",
		observability.F("environment", string(cfg.Environment)),
		observability.F("symbols", len(cfg.Symbols)),
		observability.F("providers", len(cfg.Enabled)))

	telemetry, err := initTelemetry(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}

	bootCtx, bootCancel := context.WithTimeout(ctx, bootstrapTimeout)
	defer bootCancel()

	backend, closeStore, err := openStore(bootCtx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	counters := kv.NewMemoryStore()
	defer counters.Close()
	snapshots := snapshot.New(cfg.Snapshot.TTL, cfg.Snapshot.StalenessThreshold)
	defer snapshots.Close()

	reg := registry.New(cfg.Enabled, buildAdapters(cfg))
	reg.SetActiveSymbols(cfg.Symbols)
	if err := backend.UpsertInstruments(bootCtx, reg.Instruments()); err != nil {
		return fmt.Errorf("persist instruments: %w", err)
	}

	scale := buildScalePolicy(cfg)
	for _, adapter := range reg.EnabledProviders() {
		adapter.SetScale(scale)
	}

	timeframes := parseTimeframes(cfg.Scan.Timeframes)
	reg.ApplySubscriptions(timeframes)

	var ingest conc.WaitGroup
	for _, adapter := range reg.EnabledProviders() {
		if err := adapter.Start(ctx); err != nil {
			logger.Warn("adapter start failed",
				observability.F("provider", adapter.Name()),
				observability.F("error", err.Error()))
			continue
		}
		a := adapter
		ingest.Go(func() { drainEvents(a, snapshots) })
	}

	seedCtx, seedCancel := context.WithTimeout(ctx, seedTimeout)
	seedSnapshots(seedCtx, reg, snapshots, timeframes, scale)
	seedCancel()

	jobQueue := queue.New(backend, queue.Options{
		Workers:        cfg.Queue.Workers,
		MaxAttempts:    cfg.Queue.Attempts,
		RetryBackoff:   cfg.Queue.Backoff,
		ReplayInterval: cfg.Queue.ReplayInterval,
	})
	deliverer := notify.NewDeliverer(buildSender(cfg), backend, cfg.Notify.ChunkLimit)
	deliverer.Register(jobQueue)

	digest := notify.NewDigest(jobQueue, cfg.Notify.DigestFlushInterval)
	orchestrator := notify.NewOrchestrator(backend, counters, jobQueue, digest, cfg.Notify.RateWindow)

	jobQueue.Start()
	digest.Start()

	arbEngine, err := buildArbEngine(cfg, counters)
	if err != nil {
		return fmt.Errorf("initialise arbitrage engine: %w", err)
	}
	signalEngine := signals.NewEngine(snapshots, counters, cfg.Scan.DedupTTL)

	sched := scheduler.New()
	sched.Add("arb-scan", cfg.Scan.Interval, func(scanCtx context.Context) {
		scanArbitrage(scanCtx, arbEngine, snapshots, backend, orchestrator)
	})
	sched.Add("signal-scan", cfg.Scan.Interval, func(scanCtx context.Context) {
		scanSignals(scanCtx, signalEngine, reg, timeframes, backend, orchestrator)
	})
	sched.Add("health-report", healthLogInterval, func(context.Context) {
		logHealth(reg)
	})
	sched.Start()

	logger.Info("arbwatch started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Info("shutdown signal received, initiating graceful shutdown")

	shutdownStart := time.Now()
	sched.Stop()
	for _, adapter := range reg.EnabledProviders() {
		if err := adapter.Stop(); err != nil {
			logger.Warn("adapter stop failed",
				observability.F("provider", adapter.Name()),
				observability.F("error", err.Error()))
		}
	}
	ingest.Wait()
	digest.Stop()
	jobQueue.Stop()
	shutdownTelemetry(telemetry)
	logger.Info("shutdown completed",
		observability.F("elapsed", time.Since(shutdownStart).String()))
	return nil
}

func parseFlags() string {
	cfgPath := flag.String("config", defaultConfigPath, "Path to application configuration file")
	flag.Parse()
	return *cfgPath
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func initTelemetry(ctx context.Context, cfg config.Settings) (*observability.OTelProvider, error) {
	provider, err := observability.NewOTelProvider(ctx, observability.OTelConfig{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		ServiceName: serviceName,
		Environment: string(cfg.Environment),
	})
	if err != nil {
		return nil, err
	}
	observability.SetMetrics(provider)
	if cfg.Telemetry.Enabled {
		observability.Log().Info("telemetry initialised",
			observability.F("endpoint", cfg.Telemetry.Endpoint))
	}
	return provider, nil
}

func shutdownTelemetry(provider *observability.OTelProvider) {
	if provider == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
	defer cancel()
	if err := provider.Shutdown(ctx); err != nil {
		observability.Log().Warn("telemetry shutdown failed",
			observability.F("error", err.Error()))
	}
}

// openStore selects the persistence backend: PostgreSQL when a DSN is
// configured, an in-process store otherwise. Migrations run before the pool
// opens so a schema mismatch fails the boot, not the first query.
func openStore(ctx context.Context, cfg config.Settings) (store.Store, func(), error) {
	dsn := strings.TrimSpace(cfg.DatabaseDSN)
	if dsn == "" {
		observability.Log().Warn("no database configured; state will not survive restarts")
		return store.NewMemory(), func() {}, nil
	}
	if err := postgres.Migrate(ctx, dsn); err != nil {
		return nil, nil, err
	}
	pool, err := postgres.Connect(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	pg := postgres.New(pool)
	return pg, pg.Close, nil
}

func buildAdapters(cfg config.Settings) []adapters.Adapter {
	return []adapters.Adapter{
		binance.New(cfg.Provider("binance")),
		bybit.New(cfg.Provider("bybit")),
		okx.New(cfg.Provider("okx")),
		kucoin.New(cfg.Provider("kucoin")),
		gateio.New(cfg.Provider("gateio")),
		mexc.New(cfg.Provider("mexc")),
		bitget.New(cfg.Provider("bitget")),
		htx.New(cfg.Provider("htx")),
		kraken.New(cfg.Provider("kraken")),
		coinbase.New(cfg.Provider("coinbase")),
		bitfinex.New(cfg.Provider("bitfinex")),
		bitstamp.New(cfg.Provider("bitstamp")),
		cryptocom.New(cfg.Provider("cryptocom")),
		coingecko.New(cfg.Provider("coingecko")),
		exchangerate.New(cfg.Provider("exchangerate")),
	}
}

// buildSender returns the Telegram client when a token is configured, or a
// log-only sender so the pipeline stays exercisable without credentials.
func buildSender(cfg config.Settings) telegram.Sender {
	token := strings.TrimSpace(cfg.Telegram.Token)
	if token == "" {
		observability.Log().Warn("no telegram token configured; deliveries will be logged only")
		return logSender{}
	}
	client, err := telegram.New(token)
	if err != nil {
		observability.Log().Warn("telegram client unavailable; deliveries will be logged only",
			observability.F("error", err.Error()))
		return logSender{}
	}
	return client
}

func buildArbEngine(cfg config.Settings, dedup kv.Store) (*arb.Engine, error) {
	fees := make(map[string]float64, len(cfg.Providers))
	for name, provider := range cfg.Providers {
		fees[name] = provider.TakerFeeBps
	}
	strategies := []arb.Strategy{arb.NewCrossExchangeSpread(arb.SpreadConfig{
		MinSpreadPct: cfg.Scan.MinSpreadPct,
		MinNetPct:    cfg.Scan.MinNetPct,
		TakerFeeBps:  fees,
	})}
	if cfg.Scan.ScriptDir != "" {
		scripted, err := arb.LoadScripts(cfg.Scan.ScriptDir)
		if err != nil {
			return nil, err
		}
		strategies = append(strategies, scripted...)
	}
	return arb.NewEngine(dedup, cfg.Scan.DedupTTL, strategies...), nil
}

// buildScalePolicy turns per-provider price_scale settings into the unit
// conversion applied at the adapter boundary.
func buildScalePolicy(cfg config.Settings) *symbols.ScalePolicy {
	factors := make(map[string]float64)
	for name, provider := range cfg.Providers {
		if provider.PriceScale > 0 && provider.PriceScale != 1 {
			factors[name] = provider.PriceScale
		}
	}
	return symbols.NewScalePolicy(factors)
}

// seedSnapshots runs the cold-start pass: one REST ticker fetch per provider
// plus a candle history backfill, so the first scan cycle sees prices and the
// signal detectors have enough closes to evaluate immediately. Fetch results
// are provider-native, so the scale policy applies here.
func seedSnapshots(ctx context.Context, reg *registry.Registry, snapshots *snapshot.Store, timeframes []schema.Timeframe, scale *symbols.ScalePolicy) {
	var seeds conc.WaitGroup
	for _, adapter := range reg.EnabledProviders() {
		a := adapter
		seeds.Go(func() { seedProvider(ctx, a, reg, snapshots, timeframes, scale) })
	}
	seeds.Wait()
}

func seedProvider(ctx context.Context, adapter adapters.Adapter, reg *registry.Registry, snapshots *snapshot.Store, timeframes []schema.Timeframe, scale *symbols.ScalePolicy) {
	mappings := reg.MappingsForProvider(adapter.Name())
	if len(mappings) == 0 {
		return
	}
	tickers, err := adapter.FetchTickers(ctx, mappings)
	if err != nil {
		observability.Log().Warn("cold-start ticker fetch failed",
			observability.F("provider", adapter.Name()),
			observability.F("error", err.Error()))
	}
	for _, t := range tickers {
		snapshots.PutTicker(scale.ApplyTicker(t))
	}
	for _, mapping := range mappings {
		for _, tf := range timeframes {
			candles, err := adapter.FetchCandles(ctx, mapping, tf, seedCandleLimit)
			if err != nil {
				observability.Log().Warn("cold-start candle fetch failed",
					observability.F("provider", adapter.Name()),
					observability.F("symbol", mapping.Symbol),
					observability.F("timeframe", string(tf)),
					observability.F("error", err.Error()))
				continue
			}
			for _, c := range candles {
				snapshots.PutCandle(scale.ApplyCandle(c))
			}
		}
	}
}

func parseTimeframes(raw []string) []schema.Timeframe {
	out := make([]schema.Timeframe, 0, len(raw))
	for _, value := range raw {
		tf := schema.Timeframe(value)
		if !tf.Valid() {
			observability.Log().Warn("skipping unknown timeframe",
				observability.F("timeframe", value))
			continue
		}
		out = append(out, tf)
	}
	return out
}

// drainEvents consumes one adapter's event channel until the adapter closes
// it on Stop.
func drainEvents(adapter adapters.Adapter, snapshots *snapshot.Store) {
	for event := range adapter.Events() {
		switch {
		case event.Ticker != nil:
			snapshots.PutTicker(*event.Ticker)
		case event.Candle != nil:
			snapshots.PutCandle(*event.Candle)
		}
	}
}

func scanArbitrage(ctx context.Context, engine *arb.Engine, snapshots *snapshot.Store, backend store.Store, orchestrator *notify.Orchestrator) {
	opportunities, err := engine.Scan(ctx, snapshots.Snapshot())
	if err != nil {
		observability.Log().Warn("arbitrage scan failed",
			observability.F("error", err.Error()))
	}
	for _, opportunity := range opportunities {
		if err := backend.SaveOpportunity(ctx, &opportunity); err != nil {
			observability.Log().Error("persist opportunity failed",
				observability.F("symbol", opportunity.Symbol),
				observability.F("error", err.Error()))
			continue
		}
		if _, err := orchestrator.NotifyOpportunity(ctx, opportunity); err != nil {
			observability.Log().Error("opportunity fan-out failed",
				observability.F("symbol", opportunity.Symbol),
				observability.F("error", err.Error()))
		}
	}
}

func scanSignals(ctx context.Context, engine *signals.Engine, reg *registry.Registry, timeframes []schema.Timeframe, backend store.Store, orchestrator *notify.Orchestrator) {
	providers := make([]string, 0)
	for _, adapter := range reg.EnabledProviders() {
		providers = append(providers, adapter.Name())
	}
	detected, err := engine.Scan(ctx, reg.ActiveSymbols(), providers, timeframes)
	if err != nil {
		observability.Log().Warn("signal scan failed",
			observability.F("error", err.Error()))
	}
	for _, signal := range detected {
		if err := backend.SaveSignal(ctx, &signal); err != nil {
			observability.Log().Error("persist signal failed",
				observability.F("symbol", signal.Symbol),
				observability.F("error", err.Error()))
			continue
		}
		if _, err := orchestrator.NotifySignal(ctx, signal); err != nil {
			observability.Log().Error("signal fan-out failed",
				observability.F("symbol", signal.Symbol),
				observability.F("error", err.Error()))
		}
	}
}

func logHealth(reg *registry.Registry) {
	for _, health := range reg.HealthReport() {
		observability.Telemetry().SetGauge(observability.MetricProviderUp, boolGauge(health.Connected),
			map[string]string{"provider": health.Provider})
		if !health.Connected {
			observability.Log().Warn("provider disconnected",
				observability.F("provider", health.Provider),
				observability.F("error", health.LastError))
		}
	}
}

func boolGauge(up bool) float64 {
	if up {
		return 1
	}
	return 0
}

// logSender stands in for the chat platform when no token is configured.
type logSender struct{}

func (logSender) SendMessage(_ context.Context, chatID int64, text string, _ telegram.FormatOptions) (string, error) {
	observability.Log().Info("delivery (dry run)",
		observability.F("chat_id", chatID),
		observability.F("chars", len(text)))
	return "", nil
}
