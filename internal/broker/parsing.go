package broker

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/astraquant/workbench/internal/model"
)

// This file carries the wide-tolerance wire parsers rest_client.py
// leans on (_parse_side/_parse_status/_parse_order_type/_parse_datetime):
// every REST gateway encodes these fields a little differently, so the
// adapter is deliberately permissive rather than brittle.

func orderTypeString(t model.OrderType) string {
	return t.String()
}

func parseOrderTypeAny(v any) model.OrderType {
	switch s := strings.ToLower(anyToString(v)); s {
	case "market", "1":
		return model.Market
	default:
		return model.Limit
	}
}

func parseSideAny(v any) model.Side {
	return parseSideAnyOr(v, model.SideBuy)
}

func parseSideAnyOr(v any, fallback model.Side) model.Side {
	s := anyToString(v)
	if s == "" {
		return fallback
	}
	if side, ok := model.ParseSide(s); ok {
		return side
	}
	return fallback
}

func parseStatusAnyOr(v any, fallback model.OrderStatus) model.OrderStatus {
	s := anyToString(v)
	if s == "" {
		return fallback
	}
	return model.ParseOrderStatus(s)
}

func parseTimeAny(v any) time.Time {
	switch t := v.(type) {
	case nil:
		return time.Now()
	case string:
		if t == "" {
			return time.Now()
		}
		layouts := []string{"2006-01-02 15:04:05", "2006/01/02 15:04:05", time.RFC3339, "2006-01-02"}
		for _, layout := range layouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed
			}
		}
		return time.Now()
	case float64:
		if t > 1e12 {
			return time.UnixMilli(int64(t))
		}
		return time.Unix(int64(t), 0)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return time.Now()
		}
		return parseTimeAny(f)
	default:
		return time.Now()
	}
}

func anyToString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

func parseIntAny(v any) int64 {
	switch t := v.(type) {
	case nil:
		return 0
	case json.Number:
		i, err := t.Int64()
		if err == nil {
			return i
		}
		f, _ := t.Float64()
		return int64(f)
	case float64:
		return int64(t)
	case string:
		i, err := strconv.ParseInt(t, 10, 64)
		if err == nil {
			return i
		}
		f, _ := strconv.ParseFloat(t, 64)
		return int64(f)
	default:
		return 0
	}
}

func parseIntNumber(n json.Number) int64 {
	if n == "" {
		return 0
	}
	return parseIntAny(n)
}

func parseDecimalNumber(n json.Number) decimal.Decimal {
	if n == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Zero
	}
	return d
}

func firstNonEmpty(values ...string) string {
	return firstNonEmptyStr(values...)
}

func firstNonEmptyStr(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstNonEmptyNumber(values ...json.Number) json.Number {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstNonEmptyAny(values ...any) any {
	for _, v := range values {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		return v
	}
	return nil
}
