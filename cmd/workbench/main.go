// Command workbench boots the trading core: it loads configuration,
// wires the broker/data-source/strategy factories into a
// runtime.Runtime (or, in -backtest mode, an internal/backtest.Engine),
// serves /healthz and /metrics, and shuts down gracefully on SIGINT/
// SIGTERM. Grounded on the teacher's main.go boot sequence (flags,
// env/config load, broker switch, promhttp server, signal.NotifyContext,
// mode dispatch, timed Shutdown).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/astraquant/workbench/internal/backtest"
	"github.com/astraquant/workbench/internal/broker"
	"github.com/astraquant/workbench/internal/config"
	"github.com/astraquant/workbench/internal/fanout"
	"github.com/astraquant/workbench/internal/logging"
	"github.com/astraquant/workbench/internal/model"
	"github.com/astraquant/workbench/internal/runtime"
	"github.com/astraquant/workbench/internal/strategy"
)

func main() {
	backtestCSV := flag.String("backtest", config.EnvOr("WORKBENCH_BACKTEST_CSV", ""), "run a single-code backtest against this CSV file instead of starting the live runtime")
	assignFlag := flag.String("assign", config.EnvOr("WORKBENCH_ASSIGN", "000001=dual-ma"), "comma-separated code=strategy assignments for live mode, e.g. 000001=dual-ma,600000=rsi")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel, os.Stdout)

	if *backtestCSV != "" {
		if err := runBacktest(log, cfg, *backtestCSV); err != nil {
			log.Fatal().Err(err).Msg("backtest failed")
		}
		return
	}

	if err := runLive(log, cfg, *assignFlag); err != nil {
		log.Fatal().Err(err).Msg("live runtime failed")
	}
}

func runBacktest(log zerolog.Logger, cfg config.Config, csvPath string) error {
	bars, err := backtest.LoadCSV(csvPath)
	if err != nil {
		return fmt.Errorf("loading csv: %w", err)
	}
	code := strings.TrimSuffix(strings.ToUpper(csvPath[strings.LastIndexAny(csvPath, "/\\")+1:]), ".CSV")

	base, err := newStrategyBase(code, "dual-ma", decimal.NewFromFloat(cfg.Trading.InitialCapital))
	if err != nil {
		return err
	}
	engine := backtest.NewEngine(map[string]*strategy.Base{code: base}, cfg.Trading.CommissionRate, cfg.Trading.Slippage)
	result := engine.Run(map[string][]model.Bar{code: bars})

	log.Info().
		Float64("total_return", result.TotalReturn).
		Float64("max_drawdown", result.MaxDrawdown).
		Float64("sharpe", result.Sharpe).
		Int("total_trades", result.TotalTrades).
		Float64("win_rate", result.WinRate).
		Msg("backtest complete")
	return nil
}

func runLive(log zerolog.Logger, cfg config.Config, assignFlag string) error {
	assignments, err := parseAssignments(assignFlag)
	if err != nil {
		return err
	}

	rt := runtime.New(runtime.Config{
		Hub:             fanout.New(log),
		StrategyFactory: strategyFactory(cfg.Trading.InitialCapital),
		BrokerFactory:   brokerFactory(cfg, log),
		SourceFactory:   sourceFactory(cfg, log),
		InitialCapital:  decimal.NewFromFloat(cfg.Trading.InitialCapital),
		RiskConfig:      riskConfigFromKeys(cfg.Risk),
		RiskJournal:     cfg.Risk.JournalPath,
		AutoExecute:     cfg.Trading.StrategyAutoExec,
		Log:             log,
	})
	rt.OnRiskAlert = func(a model.RiskAlert) {
		log.Warn().Str("level", string(a.Level)).Str("code", a.Code).Str("message", a.Message).Msg("risk alert")
	}
	rt.OnSemiAutoOrder = func(o model.Order) {
		log.Info().Str("order_id", o.ID).Str("code", o.Code).Msg("order parked for manual confirmation")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rt.Start(ctx, assignments); err != nil {
		return fmt.Errorf("starting runtime: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if rt.IsRunning() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("stopped"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server error")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("workbench listening")

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")
	rt.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

// parseAssignments turns "code=strategy,code=strategy" into the map
// Runtime.Start expects.
func parseAssignments(raw string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 || kv[0] == "" || kv[1] == "" {
			return nil, fmt.Errorf("invalid assignment %q, want code=strategy", pair)
		}
		out[kv[0]] = kv[1]
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no strategy assignments given")
	}
	return out, nil
}

// newStrategyBase resolves a strategy name to a concrete
// strategy.UserStrategy (the example library of §4.B) and wraps it in a
// fresh strategy.Base with the given starting capital.
func newStrategyBase(code, name string, capital decimal.Decimal) (*strategy.Base, error) {
	user, err := resolveStrategy(name)
	if err != nil {
		return nil, err
	}
	base := strategy.NewBase(code, user)
	base.SetCapital(capital)
	return base, nil
}

func resolveStrategy(name string) (strategy.UserStrategy, error) {
	switch name {
	case "dual-ma":
		return &strategy.DualMA{Fast: 5, Slow: 20, SizePct: 20}, nil
	case "macd":
		return &strategy.MACDStrategy{Fast: 12, Slow: 26, Signal: 9, SizePct: 20}, nil
	case "kdj":
		return &strategy.KDJStrategy{N: 9, M1: 3, M2: 3, Oversold: 20, Overbought: 80, SizePct: 20}, nil
	case "rsi":
		return &strategy.RSIStrategy{Period: 14, Oversold: 30, Overbought: 70, SizePct: 20}, nil
	case "boll":
		return &strategy.BollStrategy{Period: 20, K: 2, SizePct: 20}, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}

func strategyFactory(initialCapital float64) runtime.StrategyFactory {
	return func(code, name string) (strategy.UserStrategy, error) {
		return resolveStrategy(name)
	}
}

func brokerFactory(cfg config.Config, log zerolog.Logger) runtime.BrokerFactory {
	return func() (broker.Broker, error) {
		restCfg := broker.RESTConfig{
			BaseURL:      cfg.Broker.APIURL,
			Account:      cfg.Broker.Account,
			Password:     cfg.Broker.Password,
			APIKey:       cfg.Broker.APIKey,
			APISecret:    cfg.Broker.APISecret,
			PollInterval: time.Duration(cfg.Broker.PollIntervalMS) * time.Millisecond,
			Timeout:      time.Duration(cfg.Broker.TimeoutMS) * time.Millisecond,
		}
		switch cfg.Broker.Type {
		case "simulated":
			return broker.NewSimulated(decimal.NewFromFloat(cfg.Trading.InitialCapital), cfg.Trading.CommissionRate, cfg.Trading.Slippage, log), nil
		case "huatai":
			return broker.NewHuatai(restCfg, log), nil
		case "zhongxin":
			return broker.NewZhongxin(restCfg, log), nil
		case "guotaijunan":
			return broker.NewGuotaijunan(restCfg, log), nil
		case "haitong":
			return broker.NewHaitong(restCfg, log), nil
		case "guangfa":
			return broker.NewGuangfa(restCfg, log), nil
		default:
			return nil, fmt.Errorf("unknown broker type %q", cfg.Broker.Type)
		}
	}
}

func sourceFactory(cfg config.Config, log zerolog.Logger) runtime.SourceFactory {
	return func(codes []string, hub *fanout.Hub) (fanout.Source, error) {
		switch cfg.DataSource.Kind {
		case "simulated":
			seed := make(map[string]decimal.Decimal, len(codes))
			for _, c := range codes {
				seed[c] = decimal.NewFromInt(10)
			}
			interval := time.Duration(cfg.DataSource.SimInterval * float64(time.Second))
			return fanout.NewSimulated(hub, interval, seed), nil
		case "csv":
			if len(codes) != 1 {
				return nil, fmt.Errorf("csv data source supports exactly one code, got %d", len(codes))
			}
			bars, err := backtest.LoadCSV(cfg.DataSource.CSVDataPath)
			if err != nil {
				return nil, fmt.Errorf("loading replay csv: %w", err)
			}
			return fanout.NewCSVReplay(hub, codes[0], bars, cfg.DataSource.CSVSpeed, cfg.DataSource.CSVLoop), nil
		case "akshare", "tushare", "multisource":
			interval := time.Duration(cfg.DataSource.HTTPDataInterval * float64(time.Second))
			return fanout.NewRemotePoll(hub, newVendorFetcher(cfg.DataSource), interval, codes), nil
		default:
			return nil, fmt.Errorf("unknown data source %q", cfg.DataSource.Kind)
		}
	}
}

func riskConfigFromKeys(k config.RiskConfigKeys) model.RiskConfig {
	rc := model.DefaultRiskConfig()
	rc.MaxPositionPct = k.MaxPositionPct
	rc.MaxTotalPositionPct = k.MaxTotalPositionPct
	rc.StopLossPct = k.StopLossPct
	rc.TakeProfitPct = k.TakeProfitPct
	rc.TrailingStopPct = k.TrailingStopPct
	rc.MaxDrawdownPct = k.MaxDrawdownPct
	rc.MaxDailyTrades = k.MaxDailyTrades
	rc.MaxDailyLoss = k.MaxDailyLoss
	rc.MinTradeIntervalSec = k.MinTradeInterval
	rc.MaxPriceDeviation = k.MaxPriceDeviation
	return rc
}
