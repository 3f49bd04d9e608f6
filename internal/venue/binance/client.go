// Package binance is a thin Binance spot REST adapter.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"multi-exchange-trading-bot/internal/venue"
)

const DefaultBaseURL = "https://api.binance.com"

type Client struct {
	apiKey     string
	secretKey  string
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
	now        func() time.Time
}

func NewClient(apiKey, secretKey, baseURL string, logger zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		apiKey:     apiKey,
		secretKey:  secretKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With().Str("component", "binance").Logger(),
		now:        time.Now,
	}
}

// OrderResponse represents a response from placing an order
type OrderResponse struct {
	Symbol              string  `json:"symbol"`
	OrderId             int64   `json:"orderId"`
	ClientOrderId       string  `json:"clientOrderId"`
	TransactTime        int64   `json:"transactTime"`
	OrigQty             float64 `json:"origQty,string"`
	ExecutedQty         float64 `json:"executedQty,string"`
	CummulativeQuoteQty float64 `json:"cummulativeQuoteQty,string"`
	Status              string  `json:"status"`
	Side                string  `json:"side"`
	Fills               []struct {
		Price           float64 `json:"price,string"`
		Qty             float64 `json:"qty,string"`
		Commission      float64 `json:"commission,string"`
		CommissionAsset string  `json:"commissionAsset"`
	} `json:"fills"`
}

// AccountInfo represents spot account information
type AccountInfo struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

type tradeFee struct {
	Symbol          string `json:"symbol"`
	MakerCommission string `json:"makerCommission"`
	TakerCommission string `json:"takerCommission"`
}

// Symbol converts "BTC/USDT" to "BTCUSDT"
func Symbol(s string) string {
	return strings.ToUpper(strings.NewReplacer("/", "", "-", "").Replace(s))
}

// FetchCandles fetches klines, oldest first
func (c *Client) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]venue.Candle, error) {
	params := url.Values{}
	params.Set("symbol", Symbol(symbol))
	params.Set("interval", timeframe)
	params.Set("limit", strconv.Itoa(limit))

	body, err := c.do(ctx, http.MethodGet, "/api/v3/klines", params, false)
	if err != nil {
		return nil, err
	}

	var rawKlines [][]interface{}
	if err := json.Unmarshal(body, &rawKlines); err != nil {
		return nil, fmt.Errorf("%w: error parsing klines: %v", venue.ErrMalformed, err)
	}

	candles := make([]venue.Candle, 0, len(rawKlines))
	for _, raw := range rawKlines {
		if len(raw) < 6 {
			return nil, fmt.Errorf("%w: short kline row", venue.ErrMalformed)
		}
		openTime, ok := raw[0].(float64)
		if !ok {
			return nil, fmt.Errorf("%w: kline open time", venue.ErrMalformed)
		}
		candles = append(candles, venue.Candle{
			Time:   time.UnixMilli(int64(openTime)).UTC(),
			Open:   parseFloat(raw[1]),
			High:   parseFloat(raw[2]),
			Low:    parseFloat(raw[3]),
			Close:  parseFloat(raw[4]),
			Volume: parseFloat(raw[5]),
		})
	}
	return candles, nil
}

// FetchBalance returns free balances per asset
func (c *Client) FetchBalance(ctx context.Context) (map[string]float64, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/v3/account", url.Values{}, true)
	if err != nil {
		return nil, err
	}

	var info AccountInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("%w: error parsing account: %v", venue.ErrMalformed, err)
	}

	out := make(map[string]float64, len(info.Balances))
	for _, b := range info.Balances {
		out[strings.ToUpper(b.Asset)] = parseFloat(b.Free)
	}
	return out, nil
}

// FetchFees returns the account's maker/taker rates for a symbol
func (c *Client) FetchFees(ctx context.Context, symbol string) (venue.Fees, error) {
	params := url.Values{}
	params.Set("symbol", Symbol(symbol))

	body, err := c.do(ctx, http.MethodGet, "/sapi/v1/asset/tradeFee", params, true)
	if err != nil {
		return venue.Fees{}, err
	}

	var fees []tradeFee
	if err := json.Unmarshal(body, &fees); err != nil || len(fees) == 0 {
		return venue.Fees{}, fmt.Errorf("%w: error parsing trade fee", venue.ErrMalformed)
	}
	return venue.Fees{Maker: parseFloat(fees[0].MakerCommission), Taker: parseFloat(fees[0].TakerCommission)}, nil
}

// PlaceMarketBuy buys a base quantity
func (c *Client) PlaceMarketBuy(ctx context.Context, symbol string, order venue.Order) (venue.OrderFill, error) {
	return c.placeOrder(ctx, symbol, "BUY", order)
}

// PlaceMarketSell sells a base quantity
func (c *Client) PlaceMarketSell(ctx context.Context, symbol string, order venue.Order) (venue.OrderFill, error) {
	return c.placeOrder(ctx, symbol, "SELL", order)
}

func (c *Client) placeOrder(ctx context.Context, symbol, side string, order venue.Order) (venue.OrderFill, error) {
	clientID := order.ClientOrderID
	if clientID == "" {
		clientID = uuid.NewString()
	}
	params := url.Values{}
	params.Set("symbol", Symbol(symbol))
	params.Set("side", side)
	params.Set("type", "MARKET")
	params.Set("quantity", strconv.FormatFloat(order.Base, 'f', -1, 64))
	params.Set("newOrderRespType", "FULL")
	params.Set("newClientOrderId", clientID)

	body, err := c.do(ctx, http.MethodPost, "/api/v3/order", params, true)
	if err != nil {
		return venue.OrderFill{}, err
	}

	var resp OrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return venue.OrderFill{}, fmt.Errorf("%w: error parsing order response: %v", venue.ErrMalformed, err)
	}

	fill := venue.OrderFill{
		OrderID:   strconv.FormatInt(resp.OrderId, 10),
		Filled:    resp.ExecutedQty,
		QuoteCost: resp.CummulativeQuoteQty,
	}
	if resp.ExecutedQty > 0 {
		fill.AvgPrice = resp.CummulativeQuoteQty / resp.ExecutedQty
	}
	for _, f := range resp.Fills {
		fill.Fee += f.Commission
	}

	c.logger.Info().Str("symbol", resp.Symbol).Str("side", side).Str("status", resp.Status).
		Float64("executed_qty", resp.ExecutedQty).Msg("Order placed")
	return fill, nil
}

// do performs a request and classifies failures into the venue error taxonomy
func (c *Client) do(ctx context.Context, method, path string, params url.Values, signed bool) ([]byte, error) {
	if signed {
		if c.apiKey == "" || c.secretKey == "" {
			return nil, venue.ErrNoAuth
		}
		params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
		params.Set("signature", c.sign(params))
	}

	endpoint := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.URL.RawQuery = encodeSorted(params)
	if signed {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", venue.ErrNetwork, method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: error reading response: %v", venue.ErrNetwork, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusTeapot:
		return nil, fmt.Errorf("%w: %s", venue.ErrRateLimited, string(body))
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d: %s", venue.ErrNetwork, resp.StatusCode, string(body))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: API error %d: %s", venue.ErrExchange, resp.StatusCode, string(body))
	}
	return body, nil
}

// encodeSorted encodes params with signature last, as Binance verifies the exact query
func encodeSorted(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k != "signature" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		if sb.Len() > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(k) + "=" + url.QueryEscape(params.Get(k)))
	}
	if sig := params.Get("signature"); sig != "" {
		sb.WriteString("&signature=" + sig)
	}
	return sb.String()
}

// sign creates a signature for authenticated requests
func (c *Client) sign(params url.Values) string {
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(encodeSorted(withoutSignature(params))))
	return hex.EncodeToString(mac.Sum(nil))
}

func withoutSignature(params url.Values) url.Values {
	cp := url.Values{}
	for k, v := range params {
		if k != "signature" {
			cp[k] = v
		}
	}
	return cp
}

func parseFloat(val interface{}) float64 {
	switch v := val.(type) {
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	case float64:
		return v
	default:
		return 0
	}
}

var _ venue.Adapter = (*Client)(nil)
