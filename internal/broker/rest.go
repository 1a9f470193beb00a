package broker

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/astraquant/workbench/internal/model"
)

// Endpoints is the overridable REST path table a broker specialization
// may customize. Grounded on rest_client.py's RestEndpoints.
type Endpoints struct {
	Ping      string
	Login     string
	Logout    string
	Order     string
	Cancel    string // must contain "%s" for the order id
	Modify    string // must contain "%s" for the order id
	Account   string
	Positions string
	Orders    string
	Trades    string
}

// DefaultEndpoints mirrors rest_client.py's defaults.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Ping:      "/api/ping",
		Login:     "/api/auth/login",
		Logout:    "/api/auth/logout",
		Order:     "/api/orders",
		Cancel:    "/api/orders/%s/cancel",
		Modify:    "/api/orders/%s",
		Account:   "/api/account",
		Positions: "/api/positions",
		Orders:    "/api/orders",
		Trades:    "/api/trades",
	}
}

// SignMethod selects the HMAC digest used for request signing.
type SignMethod string

const (
	SignHMACSHA256 SignMethod = "hmac_sha256"
	SignHMACSHA512 SignMethod = "hmac_sha512"
)

// RESTConfig configures a RESTBroker.
type RESTConfig struct {
	BaseURL      string
	Account      string
	Password     string
	Server       string
	Port         int
	Timeout      time.Duration
	PollInterval time.Duration

	APIKey    string
	APISecret string
	SignMethod SignMethod

	Endpoints Endpoints
}

// RESTBroker is the REST gateway adapter of §4.E.2: resty-based
// transport, bearer-token login, optional HMAC request signing, and a
// background errgroup-driven sync loop. Grounded directly on
// original_source/core/trader/rest_client.py's RestBrokerBase.
type RESTBroker struct {
	mu sync.Mutex

	cfg    RESTConfig
	http   *resty.Client
	log    zerolog.Logger

	token     string
	connected bool
	loggedIn  bool

	positions map[string]model.Position
	orders    map[string]model.Order
	trades    []model.Trade

	cb     Callbacks
	clock  func() time.Time
	cancel context.CancelFunc
	group  *errgroup.Group

	brokerLabel string // used in log lines, e.g. "huatai"
}

// NewRESTBroker builds a RESTBroker with the given label (for logging)
// and config; Endpoints defaults to DefaultEndpoints() when unset.
func NewRESTBroker(label string, cfg RESTConfig, log zerolog.Logger) *RESTBroker {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.Endpoints == (Endpoints{}) {
		cfg.Endpoints = DefaultEndpoints()
	}
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", "workbench-trader/1.0")

	return &RESTBroker{
		cfg:         cfg,
		http:        httpClient,
		log:         log,
		positions:   make(map[string]model.Position),
		orders:      make(map[string]model.Order),
		clock:       time.Now,
		brokerLabel: label,
	}
}

func (r *RESTBroker) SetCallbacks(cb Callbacks) { r.cb = cb }

// Client exposes the underlying resty client so specializations can
// attach request middleware (e.g. vendor-specific headers) without
// reimplementing the transport.
func (r *RESTBroker) Client() *resty.Client { return r.http }

func (r *RESTBroker) Connect(ctx context.Context) error {
	r.log.Info().Str("broker", r.brokerLabel).Msg("connecting to REST gateway")
	if _, err := r.doRequest(ctx, "GET", r.cfg.Endpoints.Ping, false, nil, nil); err != nil {
		r.log.Error().Err(err).Str("broker", r.brokerLabel).Msg("connect failed")
		return fmt.Errorf("%w: %v", model.ErrTransport, err)
	}
	r.mu.Lock()
	r.connected = true
	r.mu.Unlock()
	r.cb.fireConnected()
	return nil
}

func (r *RESTBroker) Disconnect() error {
	r.stopPolling()
	r.mu.Lock()
	r.connected = false
	r.loggedIn = false
	r.mu.Unlock()
	r.cb.fireDisconnected()
	return nil
}

type loginResponse struct {
	Token       string `json:"token"`
	AccessToken string `json:"access_token"`
}

func (r *RESTBroker) Login(ctx context.Context) error {
	r.mu.Lock()
	connected := r.connected
	r.mu.Unlock()
	if !connected {
		return model.ErrState
	}

	payload := map[string]any{
		"account":  r.cfg.Account,
		"password": r.cfg.Password,
		"server":   r.cfg.Server,
		"port":     r.cfg.Port,
	}
	var resp loginResponse
	if _, err := r.doRequest(ctx, "POST", r.cfg.Endpoints.Login, false, payload, &resp); err != nil {
		return fmt.Errorf("%w: login: %v", model.ErrTransport, err)
	}
	token := resp.Token
	if token == "" {
		token = resp.AccessToken
	}
	if token == "" {
		return fmt.Errorf("%w: login response carried no token", model.ErrParse)
	}

	r.mu.Lock()
	r.token = token
	r.loggedIn = true
	r.mu.Unlock()
	r.cb.fireLogin()

	_, _ = r.QueryAccount(ctx)
	_, _ = r.QueryPositions(ctx)
	_, _ = r.QueryOrders(ctx, nil)

	r.startPolling(ctx)
	return nil
}

func (r *RESTBroker) Logout() {
	r.mu.Lock()
	loggedIn := r.loggedIn
	r.mu.Unlock()
	if !loggedIn {
		return
	}
	_, _ = r.doRequest(context.Background(), "POST", r.cfg.Endpoints.Logout, true, map[string]any{"account": r.cfg.Account}, nil)
	r.stopPolling()
	r.mu.Lock()
	r.loggedIn = false
	r.token = ""
	r.mu.Unlock()
	r.cb.fireLogout()
}

func (r *RESTBroker) IsConnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

func (r *RESTBroker) IsLoggedIn() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loggedIn
}

func (r *RESTBroker) startPolling(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	group, gctx := errgroup.WithContext(ctx)
	r.group = group
	group.Go(func() error {
		ticker := time.NewTicker(r.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if !r.IsLoggedIn() {
					continue
				}
				_, _ = r.QueryAccount(gctx)
				_, _ = r.QueryPositions(gctx)
				_, _ = r.QueryOrders(gctx, nil)
				_, _ = r.QueryTrades(gctx)
			}
		}
	})
}

func (r *RESTBroker) stopPolling() {
	if r.cancel != nil {
		r.cancel()
	}
	if r.group != nil {
		_ = r.group.Wait()
	}
}

type orderEnvelope struct {
	Code      string `json:"code"`
	Side      string `json:"side"`
	Price     string `json:"price"`
	Quantity  int64  `json:"quantity"`
	OrderType string `json:"order_type"`
}

type orderResponse struct {
	Order *wireOrder `json:"order"`
	wireOrder
}

type wireOrder struct {
	OrderID        string      `json:"order_id"`
	ID             string      `json:"id"`
	Code           string      `json:"code"`
	Side           any         `json:"side"`
	Price          json.Number `json:"price"`
	Quantity       any         `json:"quantity"`
	Volume         any         `json:"volume"`
	OrderType      any         `json:"order_type"`
	Status         any         `json:"status"`
	FilledQuantity any         `json:"filled_quantity"`
	FilledPrice    json.Number `json:"filled_price"`
	CreateTime     any         `json:"create_time"`
	UpdateTime     any         `json:"update_time"`
}

func (r *RESTBroker) SendOrder(ctx context.Context, code string, side model.Side, price float64, quantity int64, orderType model.OrderType) model.OrderResult {
	if !r.IsLoggedIn() {
		return model.OrderResult{Success: false, Message: "not logged in"}
	}
	payload := orderEnvelope{
		Code:      code,
		Side:      side.String(),
		Price:     strconv.FormatFloat(price, 'f', -1, 64),
		Quantity:  quantity,
		OrderType: orderTypeString(orderType),
	}
	var resp orderResponse
	if _, err := r.doRequest(ctx, "POST", r.cfg.Endpoints.Order, true, payload, &resp); err != nil {
		return model.OrderResult{Success: false, Message: err.Error()}
	}
	wire := resp.wireOrder
	if resp.Order != nil {
		wire = *resp.Order
	}
	order := r.parseOrder(wire, code, side, price, quantity)
	r.storeOrder(order)
	r.cb.notifyOrder(order)
	return model.OrderResult{Success: true, Order: &order, Message: "submitted"}
}

func (r *RESTBroker) CancelOrder(orderID string) bool {
	if !r.IsLoggedIn() {
		return false
	}
	path := fmt.Sprintf(r.cfg.Endpoints.Cancel, orderID)
	if _, err := r.doRequest(context.Background(), "POST", path, true, nil, nil); err != nil {
		r.log.Error().Err(err).Msg("cancel failed")
		return false
	}
	r.mu.Lock()
	o, ok := r.orders[orderID]
	if ok {
		o.Status = model.Cancelled
		o.UpdatedAt = r.clock()
		r.orders[orderID] = o
	}
	r.mu.Unlock()
	if ok {
		r.cb.notifyOrder(o)
	}
	return true
}

func (r *RESTBroker) ModifyOrder(orderID string, price *float64, quantity *int64) bool {
	if !r.IsLoggedIn() {
		return false
	}
	payload := map[string]any{}
	if price != nil {
		payload["price"] = *price
	}
	if quantity != nil {
		payload["quantity"] = *quantity
	}
	if len(payload) == 0 {
		return false
	}
	path := fmt.Sprintf(r.cfg.Endpoints.Modify, orderID)
	_, err := r.doRequest(context.Background(), "PUT", path, true, payload, nil)
	return err == nil
}

type accountResponse struct {
	AccountID    string      `json:"account_id"`
	Cash         json.Number `json:"cash"`
	Frozen       json.Number `json:"frozen"`
	MarketValue  json.Number `json:"market_value"`
	TotalValue   json.Number `json:"total_value"`
	Profit       json.Number `json:"profit"`
	ProfitPct    json.Number `json:"profit_pct"`
}

func (r *RESTBroker) QueryAccount(ctx context.Context) (model.AccountInfo, error) {
	if !r.IsLoggedIn() {
		return model.AccountInfo{}, model.ErrState
	}
	var resp accountResponse
	if _, err := r.doRequest(ctx, "GET", r.cfg.Endpoints.Account, true, nil, &resp); err != nil {
		return model.AccountInfo{}, err
	}
	acc := model.AccountInfo{
		BrokerID:        firstNonEmpty(resp.AccountID, r.cfg.Account),
		Cash:            parseDecimalNumber(resp.Cash),
		Frozen:          parseDecimalNumber(resp.Frozen),
		MarketValue:     parseDecimalNumber(resp.MarketValue),
		TotalValue:      parseDecimalNumber(resp.TotalValue),
		IntradayProfit:  parseDecimalNumber(resp.Profit),
		IntradayPercent: parseDecimalNumber(resp.ProfitPct),
	}
	r.cb.notifyAccount(acc)
	return acc, nil
}

type positionEntry struct {
	Code         string      `json:"code"`
	StockCode    string      `json:"stock_code"`
	Quantity     json.Number `json:"quantity"`
	Volume       json.Number `json:"volume"`
	AvgCost      json.Number `json:"avg_cost"`
	CostPrice    json.Number `json:"cost_price"`
	CurrentPrice json.Number `json:"current_price"`
	Price        json.Number `json:"price"`
}

func (r *RESTBroker) QueryPositions(ctx context.Context) ([]model.Position, error) {
	if !r.IsLoggedIn() {
		return nil, model.ErrState
	}
	var entries []positionEntry
	if _, err := r.doRequestList(ctx, r.cfg.Endpoints.Positions, "positions", &entries); err != nil {
		return nil, err
	}
	out := make([]model.Position, 0, len(entries))
	for _, e := range entries {
		code := firstNonEmptyStr(e.Code, e.StockCode)
		avgCost := parseDecimalNumber(firstNonEmptyNumber(e.AvgCost, e.CostPrice))
		price := parseDecimalNumber(firstNonEmptyNumber(e.CurrentPrice, e.Price))
		if price.IsZero() {
			price = avgCost
		}
		out = append(out, model.Position{
			Code:        code,
			Quantity:    parseIntNumber(firstNonEmptyNumber(e.Quantity, e.Volume)),
			AverageCost: avgCost,
			Price:       price,
		})
	}
	r.mu.Lock()
	r.positions = make(map[string]model.Position, len(out))
	for _, p := range out {
		r.positions[p.Code] = p
	}
	r.mu.Unlock()
	for _, p := range out {
		r.cb.notifyPosition(p)
	}
	return out, nil
}

func (r *RESTBroker) QueryOrders(ctx context.Context, status *model.OrderStatus) ([]model.Order, error) {
	if !r.IsLoggedIn() {
		return nil, model.ErrState
	}
	var params map[string]string
	if status != nil {
		params = map[string]string{"status": status.String()}
	}
	var entries []wireOrder
	if _, err := r.doRequestListParams(ctx, r.cfg.Endpoints.Orders, "orders", params, &entries); err != nil {
		return nil, err
	}
	orders := make([]model.Order, 0, len(entries))
	for _, e := range entries {
		orders = append(orders, r.parseOrder(e, "", model.SideBuy, 0, 0))
	}
	for _, o := range orders {
		r.storeOrder(o)
	}
	for _, o := range orders {
		r.cb.notifyOrder(o)
	}
	return orders, nil
}

type tradeEntry struct {
	TradeID    string      `json:"trade_id"`
	ID         string      `json:"id"`
	OrderID    string      `json:"order_id"`
	ClOrdID    string      `json:"cl_ord_id"`
	Code       string      `json:"code"`
	StockCode  string      `json:"stock_code"`
	Side       any         `json:"side"`
	Price      json.Number `json:"price"`
	Quantity   json.Number `json:"quantity"`
	Volume     json.Number `json:"volume"`
	Commission json.Number `json:"commission"`
	TradeTime  any         `json:"trade_time"`
	Time       any         `json:"time"`
}

func (r *RESTBroker) QueryTrades(ctx context.Context) ([]model.Trade, error) {
	if !r.IsLoggedIn() {
		return nil, model.ErrState
	}
	var entries []tradeEntry
	if _, err := r.doRequestList(ctx, r.cfg.Endpoints.Trades, "trades", &entries); err != nil {
		return nil, err
	}
	trades := make([]model.Trade, 0, len(entries))
	for _, e := range entries {
		trades = append(trades, model.Trade{
			ID:         firstNonEmptyStr(e.TradeID, e.ID),
			OrderID:    firstNonEmptyStr(e.OrderID, e.ClOrdID),
			Code:       firstNonEmptyStr(e.Code, e.StockCode),
			Side:       parseSideAny(e.Side),
			Price:      parseDecimalNumber(e.Price),
			Quantity:   parseIntNumber(firstNonEmptyNumber(e.Quantity, e.Volume)),
			Commission: parseDecimalNumber(e.Commission),
			ExecutedAt: parseTimeAny(firstNonEmptyAny(e.TradeTime, e.Time)),
		})
	}
	r.mu.Lock()
	r.trades = trades
	r.mu.Unlock()
	for _, t := range trades {
		r.cb.notifyTrade(t)
	}
	return trades, nil
}

// SellableQuantity has no T+1 meaning for a broker whose gateway
// already enforces settlement server-side; it reports the held
// quantity (T+0 passthrough), matching original_source's REST-adapter
// fallback.
func (r *RESTBroker) SellableQuantity(code string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.positions[code].Quantity
}

func (r *RESTBroker) storeOrder(o model.Order) {
	r.mu.Lock()
	r.orders[o.ID] = o
	r.mu.Unlock()
}

func (r *RESTBroker) parseOrder(w wireOrder, fallbackCode string, fallbackSide model.Side, fallbackPrice float64, fallbackQty int64) model.Order {
	id := firstNonEmptyStr(w.OrderID, w.ID)
	price := fallbackPrice
	if f, err := w.Price.Float64(); err == nil && w.Price != "" {
		price = f
	}
	qty := fallbackQty
	if q := firstNonEmptyAny(w.Quantity, w.Volume); q != nil {
		qty = parseIntAny(q)
	}
	filledQty := parseIntAny(w.FilledQuantity)
	filledPrice := price
	if f, err := w.FilledPrice.Float64(); err == nil && w.FilledPrice != "" {
		filledPrice = f
	}
	return model.Order{
		ID:             id,
		Code:           firstNonEmptyStr(w.Code, fallbackCode),
		Side:           parseSideAnyOr(w.Side, fallbackSide),
		Price:          decimal.NewFromFloat(price),
		Quantity:       qty,
		Type:           parseOrderTypeAny(w.OrderType),
		Status:         parseStatusAnyOr(w.Status, model.Submitted),
		FilledQuantity: filledQty,
		FilledAvgPrice: decimal.NewFromFloat(filledPrice),
		CreatedAt:      parseTimeAny(w.CreateTime),
		UpdatedAt:      parseTimeAny(w.UpdateTime),
	}
}

// ==================== security headers ====================

// applySecurityHeaders attaches X-API-Key/X-Timestamp/X-Signature
// headers when APIKey/APISecret are configured. Grounded bit-for-bit
// on rest_client.py's _apply_security_headers/_canonical_payload/
// _build_signature.
func (r *RESTBroker) applySecurityHeaders(req *resty.Request, method, path string, params map[string]string, body any) {
	if r.cfg.APIKey == "" {
		return
	}
	timestamp := r.clock().UTC().Format(time.RFC3339)
	payload := canonicalPayload(params, body)
	signature := r.buildSignature(method, path, payload, timestamp)
	req.SetHeader("X-API-Key", r.cfg.APIKey)
	req.SetHeader("X-Timestamp", timestamp)
	req.SetHeader("X-Signature", signature)
}

// canonicalPayload mirrors _canonical_payload: "<sorted query params>|<json body>",
// where the params half is "k=v&k2=v2" over the params sorted by key
// (empty string when there are none) and the body half is the
// sort-keys-compact JSON encoding of body (empty string when nil).
func canonicalPayload(params map[string]string, body any) string {
	var paramsRepr string
	if len(params) > 0 {
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+"="+params[k])
		}
		paramsRepr = strings.Join(parts, "&")
	}

	var bodyRepr string
	if body != nil {
		b, _ := json.Marshal(sortedJSON(body))
		bodyRepr = string(b)
	}
	return paramsRepr + "|" + bodyRepr
}

// sortedJSON re-marshals body through a map so object keys serialize in
// sorted order, matching Python's json.dumps(sort_keys=True).
func sortedJSON(body any) any {
	raw, err := json.Marshal(body)
	if err != nil {
		return body
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return body
	}
	return sortKeysRecursive(generic)
}

func sortKeysRecursive(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := make(map[string]any, len(t))
		for _, k := range keys {
			ordered[k] = sortKeysRecursive(t[k])
		}
		return ordered
	case []any:
		for i, item := range t {
			t[i] = sortKeysRecursive(item)
		}
		return t
	default:
		return v
	}
}

func (r *RESTBroker) buildSignature(method, path, payload, timestamp string) string {
	if r.cfg.APISecret == "" {
		return ""
	}
	message := strings.Join([]string{strings.ToUpper(method), path, payload, timestamp}, "|")
	var mac hash.Hash
	if r.cfg.SignMethod == SignHMACSHA512 {
		mac = hmac.New(sha512.New, []byte(r.cfg.APISecret))
	} else {
		mac = hmac.New(sha256.New, []byte(r.cfg.APISecret))
	}
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// ==================== transport ====================

type apiEnvelope struct {
	Data json.RawMessage `json:"data"`
}

func (r *RESTBroker) doRequest(ctx context.Context, method, path string, requireAuth bool, body any, out any) (*resty.Response, error) {
	return r.doRequestParams(ctx, method, path, requireAuth, nil, body, out)
}

func (r *RESTBroker) doRequestParams(ctx context.Context, method, path string, requireAuth bool, params map[string]string, body any, out any) (*resty.Response, error) {
	req := r.http.R().SetContext(ctx)
	if requireAuth {
		r.mu.Lock()
		token := r.token
		r.mu.Unlock()
		if token != "" {
			req.SetAuthToken(token)
		}
	}
	if len(params) > 0 {
		req.SetQueryParams(params)
	}
	if body != nil {
		req.SetBody(body)
	}
	r.applySecurityHeaders(req, method, path, params, body)

	resp, err := req.Execute(strings.ToUpper(method), path)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return resp, fmt.Errorf("%w: status %d: %s", model.ErrTransport, resp.StatusCode(), resp.String())
	}
	if out != nil && len(resp.Body()) > 0 {
		var env apiEnvelope
		if err := json.Unmarshal(resp.Body(), &env); err == nil && len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, out); err != nil {
				return resp, fmt.Errorf("%w: %v", model.ErrParse, err)
			}
			return resp, nil
		}
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return resp, fmt.Errorf("%w: %v", model.ErrParse, err)
		}
	}
	return resp, nil
}

func (r *RESTBroker) doRequestList(ctx context.Context, path, keyHint string, out any) (*resty.Response, error) {
	return r.doRequestListParams(ctx, path, keyHint, nil, out)
}

func (r *RESTBroker) doRequestListParams(ctx context.Context, path, keyHint string, params map[string]string, out any) (*resty.Response, error) {
	req := r.http.R().SetContext(ctx)
	r.mu.Lock()
	token := r.token
	r.mu.Unlock()
	if token != "" {
		req.SetAuthToken(token)
	}
	if len(params) > 0 {
		req.SetQueryParams(params)
	}
	r.applySecurityHeaders(req, "GET", path, params, nil)

	resp, err := req.Get(path)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return resp, fmt.Errorf("%w: status %d: %s", model.ErrTransport, resp.StatusCode(), resp.String())
	}

	var wrapped struct {
		Items json.RawMessage `json:"items"`
	}
	_ = json.Unmarshal(resp.Body(), &wrapped)
	if len(wrapped.Items) > 0 {
		return resp, json.Unmarshal(wrapped.Items, out)
	}

	generic := map[string]json.RawMessage{}
	if err := json.Unmarshal(resp.Body(), &generic); err == nil {
		if raw, ok := generic[keyHint]; ok {
			return resp, json.Unmarshal(raw, out)
		}
	}
	return resp, json.Unmarshal(resp.Body(), out)
}

var _ Broker = (*RESTBroker)(nil)
