package broker

import (
	"time"

	"github.com/rs/zerolog"
)

// The five broker specializations below each only override the
// endpoint path table, default base URL, and (where the vendor
// requires it) the default sign method; everything else (transport,
// polling, security headers, wire parsing) is inherited from
// RESTBroker. Grounded on original_source/core/trader/{huatai,
// zhongxin,guotaijunan,haitong,guangfa}.py, each of which is a thin
// RestBrokerBase subclass overriding only its endpoint table and
// constructor defaults.

func withDefaults(cfg RESTConfig, defaultBaseURL string, endpoints Endpoints) RESTConfig {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.Endpoints = endpoints
	return cfg
}

// NewHuatai builds a RESTBroker preconfigured for Huatai Securities'
// xtquant gateway.
func NewHuatai(cfg RESTConfig, log zerolog.Logger) *RESTBroker {
	cfg = withDefaults(cfg, "http://127.0.0.1:7001", Endpoints{
		Ping: "/xtquant/ping", Login: "/xtquant/auth/login", Logout: "/xtquant/auth/logout",
		Order: "/xtquant/order", Cancel: "/xtquant/order/%s/cancel", Modify: "/xtquant/order/%s",
		Account: "/xtquant/account", Positions: "/xtquant/positions", Orders: "/xtquant/orders", Trades: "/xtquant/trades",
	})
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 2 * time.Second // matching the original's shorter poll_interval
	}
	return NewRESTBroker("huatai", cfg, log)
}

// NewZhongxin builds a RESTBroker preconfigured for CITIC Securities'
// zttrade gateway.
func NewZhongxin(cfg RESTConfig, log zerolog.Logger) *RESTBroker {
	cfg = withDefaults(cfg, "http://127.0.0.1:7002", Endpoints{
		Ping: "/zttrade/api/ping", Login: "/zttrade/api/login", Logout: "/zttrade/api/logout",
		Order: "/zttrade/api/orders", Cancel: "/zttrade/api/orders/%s/cancel", Modify: "/zttrade/api/orders/%s",
		Account: "/zttrade/api/account", Positions: "/zttrade/api/positions", Orders: "/zttrade/api/orders", Trades: "/zttrade/api/trades",
	})
	return NewRESTBroker("zhongxin", cfg, log)
}

// NewGuotaijunan builds a RESTBroker preconfigured for Guotai Junan
// Securities' gtja gateway.
func NewGuotaijunan(cfg RESTConfig, log zerolog.Logger) *RESTBroker {
	cfg = withDefaults(cfg, "http://127.0.0.1:7003", Endpoints{
		Ping: "/gtja/api/v1/ping", Login: "/gtja/api/v1/login", Logout: "/gtja/api/v1/logout",
		Order: "/gtja/api/v1/orders", Cancel: "/gtja/api/v1/orders/%s/cancel", Modify: "/gtja/api/v1/orders/%s",
		Account: "/gtja/api/v1/account", Positions: "/gtja/api/v1/positions", Orders: "/gtja/api/v1/orders", Trades: "/gtja/api/v1/trades",
	})
	if cfg.Timeout == 0 {
		cfg.Timeout = 8 * time.Second // matching the original's longer timeout
	}
	return NewRESTBroker("guotaijunan", cfg, log)
}

// NewHaitong builds a RESTBroker preconfigured for Haitong Securities'
// gateway, which defaults to HMAC-SHA512 signing.
func NewHaitong(cfg RESTConfig, log zerolog.Logger) *RESTBroker {
	cfg = withDefaults(cfg, "https://127.0.0.1:7004", Endpoints{
		Ping: "/haitong/api/v1/ping", Login: "/haitong/api/v1/login", Logout: "/haitong/api/v1/logout",
		Order: "/haitong/api/v1/orders", Cancel: "/haitong/api/v1/orders/%s/cancel", Modify: "/haitong/api/v1/orders/%s",
		Account: "/haitong/api/v1/account", Positions: "/haitong/api/v1/positions", Orders: "/haitong/api/v1/orders", Trades: "/haitong/api/v1/trades",
	})
	if cfg.SignMethod == "" {
		cfg.SignMethod = SignHMACSHA512
	}
	return NewRESTBroker("haitong", cfg, log)
}

// NewGuangfa builds a RESTBroker preconfigured for GF Securities' gf
// gateway.
func NewGuangfa(cfg RESTConfig, log zerolog.Logger) *RESTBroker {
	cfg = withDefaults(cfg, "https://127.0.0.1:7005", Endpoints{
		Ping: "/gf/api/ping", Login: "/gf/api/login", Logout: "/gf/api/logout",
		Order: "/gf/api/orders", Cancel: "/gf/api/orders/%s/cancel", Modify: "/gf/api/orders/%s",
		Account: "/gf/api/account", Positions: "/gf/api/positions", Orders: "/gf/api/orders", Trades: "/gf/api/trades",
	})
	return NewRESTBroker("guangfa", cfg, log)
}
