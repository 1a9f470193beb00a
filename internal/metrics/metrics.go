// Package metrics exposes the workbench's Prometheus instrumentation.
// Grounded on the teacher's metrics.go (CounterVec/GaugeVec pattern,
// registered in init(), helper setter functions), generalized from a
// single-bot vocabulary (orders/decisions/equity) to the workbench's
// eight components.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "workbench_orders_total", Help: "Orders submitted, by side and broker"},
		[]string{"side", "broker"},
	)
	FillsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "workbench_fills_total", Help: "Fills applied, by side"},
		[]string{"side"},
	)
	RiskRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "workbench_risk_rejections_total", Help: "Orders rejected by the risk gate, by reason"},
		[]string{"reason"},
	)
	RiskAlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "workbench_risk_alerts_total", Help: "Risk alerts emitted, by level"},
		[]string{"level"},
	)
	FanoutEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "workbench_fanout_events_total", Help: "Market data events dispatched, by kind"},
		[]string{"kind"},
	)
	BrokerSyncTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "workbench_broker_sync_total", Help: "Background broker sync cycles, by broker and outcome"},
		[]string{"broker", "outcome"},
	)
	EquityUSD = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "workbench_equity_usd", Help: "Current total account value"},
	)
	DrawdownPct = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "workbench_drawdown_pct", Help: "Current drawdown from peak equity, percent"},
	)
	TradingAllowed = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "workbench_trading_allowed", Help: "1 if the risk gate currently allows trading, else 0"},
	)
)

func init() {
	prometheus.MustRegister(
		OrdersTotal, FillsTotal, RiskRejectionsTotal, RiskAlertsTotal,
		FanoutEventsTotal, BrokerSyncTotal, EquityUSD, DrawdownPct, TradingAllowed,
	)
}

func SetTradingAllowed(allowed bool) {
	if allowed {
		TradingAllowed.Set(1)
	} else {
		TradingAllowed.Set(0)
	}
}
