// Package config loads the workbench's runtime configuration. It follows
// the teacher's loadBotEnv()+loadConfigFromEnv() two-step shape (env.go,
// config.go) but replaces the hand-rolled .env scanner and flat struct
// with github.com/joho/godotenv (ingest) and github.com/spf13/viper
// (bind/default/validate) — the ecosystem libraries the rest of the
// corpus reaches for (poorman-SynapseStrike, 0xtitan6-polymarket-mm) —
// grouped the way §6 groups them: data source, broker, trading, risk.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DataSourceConfig is §6's "Data source" group.
type DataSourceConfig struct {
	Kind             string // akshare | tushare | csv | multisource | simulated
	TushareToken     string
	CSVDataPath      string
	CSVLoop          bool
	CSVSpeed         float64
	SimInterval      float64
	SimVolatility    float64
	HTTPDataInterval float64
}

// BrokerConfig is §6's "Broker" group.
type BrokerConfig struct {
	Type           string // simulated | huatai | zhongxin | guotaijunan | haitong | guangfa
	Account        string
	Password       string
	APIURL         string
	APIKey         string
	APISecret      string
	APIVerifySSL   bool
	APIClientCert  string
	PollIntervalMS int
	TimeoutMS      int
}

// TradingConfig is §6's "Trading" group.
type TradingConfig struct {
	InitialCapital    float64
	CommissionRate    float64
	Slippage          float64
	StrategyAutoExec  bool
}

// RiskConfigKeys is §6's "Risk" group (mirrors model.RiskConfig plus the
// journal path, which is an external-interfaces concern, not a domain
// invariant, so it lives here rather than in internal/model).
type RiskConfigKeys struct {
	MaxPositionPct      float64
	MaxTotalPositionPct float64
	StopLossPct         float64
	TakeProfitPct       float64
	TrailingStopPct     float64
	MaxDrawdownPct      float64
	MaxDailyTrades      int
	MaxDailyLoss        float64
	MinTradeInterval    int
	MaxPriceDeviation   float64
	JournalPath         string
}

// Config is the full, typed configuration surface the core consumes.
type Config struct {
	DataSource DataSourceConfig
	Broker     BrokerConfig
	Trading    TradingConfig
	Risk       RiskConfigKeys
	Port       int
	LogLevel   string
}

// Load ingests ./.env and ../.env (best-effort, missing files are not an
// error) via godotenv, then binds every §6 key through viper with the
// defaults below. Environment variables always win over .env file values
// because godotenv.Load never overwrites an already-set variable.
func Load() (Config, error) {
	for _, p := range []string{".env", "../.env"} {
		_ = godotenv.Load(p) // best-effort; absence is normal outside dev
	}

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("data_source", "simulated")
	v.SetDefault("tushare_token", "")
	v.SetDefault("csv_data_path", "")
	v.SetDefault("csv_loop", false)
	v.SetDefault("csv_speed", 1.0)
	v.SetDefault("sim_interval", 1.0)
	v.SetDefault("sim_volatility", 0.01)
	v.SetDefault("http_data_interval", 3.0)

	v.SetDefault("broker_type", "simulated")
	v.SetDefault("broker_account", "")
	v.SetDefault("broker_password", "")
	v.SetDefault("broker_api_url", "")
	v.SetDefault("broker_api_key", "")
	v.SetDefault("broker_api_secret", "")
	v.SetDefault("broker_api_verify_ssl", true)
	v.SetDefault("broker_api_client_cert", "")
	v.SetDefault("api_poll_interval", 3000)
	v.SetDefault("api_timeout", 5000)

	v.SetDefault("initial_capital", 1000000.0)
	v.SetDefault("commission_rate", 0.0003)
	v.SetDefault("slippage", 0.0)
	v.SetDefault("strategy_auto_execute", true)

	v.SetDefault("max_position_pct", 30.0)
	v.SetDefault("max_total_position_pct", 80.0)
	v.SetDefault("stop_loss_pct", 5.0)
	v.SetDefault("take_profit_pct", 10.0)
	v.SetDefault("trailing_stop_pct", 0.0)
	v.SetDefault("max_drawdown_pct", 20.0)
	v.SetDefault("max_daily_trades", 50)
	v.SetDefault("max_daily_loss", 50000.0)
	v.SetDefault("min_trade_interval", 60)
	v.SetDefault("max_price_deviation", 3.0)
	v.SetDefault("risk_journal_path", "risk_alerts.csv")

	v.SetDefault("port", 8090)
	v.SetDefault("log_level", "info")

	cfg := Config{
		DataSource: DataSourceConfig{
			Kind:             v.GetString("data_source"),
			TushareToken:     v.GetString("tushare_token"),
			CSVDataPath:      v.GetString("csv_data_path"),
			CSVLoop:          v.GetBool("csv_loop"),
			CSVSpeed:         v.GetFloat64("csv_speed"),
			SimInterval:      v.GetFloat64("sim_interval"),
			SimVolatility:    v.GetFloat64("sim_volatility"),
			HTTPDataInterval: v.GetFloat64("http_data_interval"),
		},
		Broker: BrokerConfig{
			Type:           v.GetString("broker_type"),
			Account:        v.GetString("broker_account"),
			Password:       v.GetString("broker_password"),
			APIURL:         v.GetString("broker_api_url"),
			APIKey:         v.GetString("broker_api_key"),
			APISecret:      v.GetString("broker_api_secret"),
			APIVerifySSL:   v.GetBool("broker_api_verify_ssl"),
			APIClientCert:  v.GetString("broker_api_client_cert"),
			PollIntervalMS: v.GetInt("api_poll_interval"),
			TimeoutMS:      v.GetInt("api_timeout"),
		},
		Trading: TradingConfig{
			InitialCapital:   v.GetFloat64("initial_capital"),
			CommissionRate:   v.GetFloat64("commission_rate"),
			Slippage:         v.GetFloat64("slippage"),
			StrategyAutoExec: v.GetBool("strategy_auto_execute"),
		},
		Risk: RiskConfigKeys{
			MaxPositionPct:      v.GetFloat64("max_position_pct"),
			MaxTotalPositionPct: v.GetFloat64("max_total_position_pct"),
			StopLossPct:         v.GetFloat64("stop_loss_pct"),
			TakeProfitPct:       v.GetFloat64("take_profit_pct"),
			TrailingStopPct:     v.GetFloat64("trailing_stop_pct"),
			MaxDrawdownPct:      v.GetFloat64("max_drawdown_pct"),
			MaxDailyTrades:      v.GetInt("max_daily_trades"),
			MaxDailyLoss:        v.GetFloat64("max_daily_loss"),
			MinTradeInterval:    v.GetInt("min_trade_interval"),
			MaxPriceDeviation:   v.GetFloat64("max_price_deviation"),
			JournalPath:         v.GetString("risk_journal_path"),
		},
		Port:     v.GetInt("port"),
		LogLevel: v.GetString("log_level"),
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.DataSource.Kind {
	case "akshare", "tushare", "csv", "multisource", "simulated":
	default:
		return fmt.Errorf("config: unsupported data_source %q", c.DataSource.Kind)
	}
	switch c.Broker.Type {
	case "simulated", "huatai", "zhongxin", "guotaijunan", "haitong", "guangfa":
	default:
		return fmt.Errorf("config: unsupported broker_type %q", c.Broker.Type)
	}
	if c.Broker.Type != "simulated" && (c.Broker.Account == "" || c.Broker.Password == "") {
		return fmt.Errorf("config: broker_type %q requires broker_account and broker_password", c.Broker.Type)
	}
	return nil
}

// EnvOr is a small escape hatch kept from the teacher's getEnv() for the
// handful of call sites (flag defaults) that run before Load().
func EnvOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
