package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/astraquant/workbench/internal/cache"
	"github.com/astraquant/workbench/internal/config"
	"github.com/astraquant/workbench/internal/fanout"
	"github.com/astraquant/workbench/internal/model"
)

// newVendorFetcher builds the fanout.FetchFunc the RemotePoll source
// calls once per code per interval. "tushare" speaks tushare pro's
// single HTTP JSON endpoint (api_name + token, described in
// original_source/core/data/data_source.py's TushareDataSource);
// "akshare"/"multisource" fall back to the same realtime-quote shape
// akshare's HTTP mirror (aktools) exposes, since akshare itself is a
// Python package with no native Go client.
//
// Every call passes through a per-vendor cache.Throttle (§4.H) so a
// tight RemotePoll interval can never hammer the vendor faster than its
// own rate limit, and transient failures are retried via
// cache.RetryLinear under the §7 TransportError retry budget.
func newVendorFetcher(cfg config.DataSourceConfig) fanout.FetchFunc {
	client := resty.New().SetTimeout(5 * time.Second)
	throttle := cache.NewThrottle(250 * time.Millisecond)

	fetchOne := func(ctx context.Context, code string) (model.Snapshot, error) {
		vendorCode := cache.WithMarketPrefix(code)
		if cfg.Kind == "tushare" {
			vendorCode = tushareCode(code)
		}
		if err := throttle.Wait(ctx, cfg.Kind); err != nil {
			return model.Snapshot{}, err
		}
		var snap model.Snapshot
		err := cache.RetryLinear(ctx, 2, 200*time.Millisecond, func() error {
			var fetchErr error
			if cfg.Kind == "tushare" {
				snap, fetchErr = fetchTushareQuote(ctx, client, cfg.TushareToken, vendorCode)
			} else { // akshare, multisource
				snap, fetchErr = fetchAkshareQuote(ctx, client, vendorCode)
			}
			return fetchErr
		})
		if err != nil {
			return model.Snapshot{}, err
		}
		snap.Code = code
		return snap, nil
	}
	return fetchOne
}

// tushareCode renders a bare 6-digit code as tushare's "ts_code"
// (code.EXCHANGE), e.g. "000001" -> "000001.SZ".
func tushareCode(code string) string {
	norm := cache.NormalizeCode(code)
	if norm == "" {
		return code
	}
	if norm[0] == '5' || norm[0] == '6' || norm[0] == '9' {
		return norm + ".SH"
	}
	return norm + ".SZ"
}

type tushareEnvelope struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		Fields []string        `json:"fields"`
		Items  [][]interface{} `json:"items"`
	} `json:"data"`
}

// fetchTushareQuote calls tushare pro's "realtime_quote" api_name, the
// HTTP JSON surface that stands in for the SDK the Python original
// imports via `import tushare as ts; ts.pro_api(token)`.
func fetchTushareQuote(ctx context.Context, client *resty.Client, token, code string) (model.Snapshot, error) {
	if token == "" {
		return model.Snapshot{}, fmt.Errorf("vendorfetch: tushare_token is required for data_source=tushare")
	}
	var env tushareEnvelope
	resp, err := client.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"api_name": "realtime_quote",
			"token":    token,
			"params":   map[string]any{"ts_code": code},
			"fields":   "ts_code,name,price,open,high,low,pre_close,vol,amount",
		}).
		SetResult(&env).
		Post("https://api.tushare.pro")
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("vendorfetch: tushare request for %s: %w", code, err)
	}
	if resp.IsError() || env.Code != 0 {
		return model.Snapshot{}, fmt.Errorf("vendorfetch: tushare error for %s: %s", code, env.Msg)
	}
	if len(env.Data.Items) == 0 {
		return model.Snapshot{}, fmt.Errorf("vendorfetch: tushare returned no rows for %s", code)
	}
	return snapshotFromFields(code, env.Data.Fields, env.Data.Items[0]), nil
}

// fetchAkshareQuote mirrors the field shape of akshare's
// stock_zh_a_spot_em() (used by original_source's AkShareDataSource),
// via aktools' HTTP passthrough of the same Eastmoney quote payload.
func fetchAkshareQuote(ctx context.Context, client *resty.Client, code string) (model.Snapshot, error) {
	var rows []map[string]any
	resp, err := client.R().
		SetContext(ctx).
		SetQueryParam("code", code).
		SetResult(&rows).
		Get("http://127.0.0.1:8080/api/public/stock_zh_a_spot_em")
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("vendorfetch: akshare request for %s: %w", code, err)
	}
	if resp.IsError() || len(rows) == 0 {
		return model.Snapshot{}, fmt.Errorf("vendorfetch: akshare returned no rows for %s", code)
	}
	row := rows[0]
	dec := func(key string) decimal.Decimal {
		v, ok := row[key]
		if !ok {
			return decimal.Zero
		}
		d, _ := decimal.NewFromString(fmt.Sprint(v))
		return d
	}
	return model.Snapshot{
		Code:       code,
		Name:       fmt.Sprint(row["名称"]),
		Last:       dec("最新价"),
		Open:       dec("今开"),
		High:       dec("最高"),
		Low:        dec("最低"),
		PriorClose: dec("昨收"),
		CumVolume:  dec("成交量"),
		Timestamp:  time.Now(),
	}, nil
}

func snapshotFromFields(code string, fields []string, row []interface{}) model.Snapshot {
	idx := make(map[string]int, len(fields))
	for i, f := range fields {
		idx[f] = i
	}
	dec := func(name string) decimal.Decimal {
		i, ok := idx[name]
		if !ok || i >= len(row) {
			return decimal.Zero
		}
		d, _ := decimal.NewFromString(fmt.Sprint(row[i]))
		return d
	}
	str := func(name string) string {
		i, ok := idx[name]
		if !ok || i >= len(row) {
			return ""
		}
		return fmt.Sprint(row[i])
	}
	return model.Snapshot{
		Code:        code,
		Name:        str("name"),
		Last:        dec("price"),
		Open:        dec("open"),
		High:        dec("high"),
		Low:         dec("low"),
		PriorClose:  dec("pre_close"),
		CumVolume:   dec("vol"),
		CumTurnover: dec("amount"),
		Timestamp:   time.Now(),
	}
}
