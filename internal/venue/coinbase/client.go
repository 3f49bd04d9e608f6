// Package coinbase is a thin Coinbase Advanced Trade REST adapter.
// Market buys are quote-sized.
package coinbase

import (
	"bytes"
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"multi-exchange-trading-bot/internal/venue"
)

const DefaultBaseURL = "https://api.coinbase.com"

// market buys are sized in quote currency to the cent
const (
	quoteDecimals = 2
	minQuoteSize  = "0.01"
)

// Credentials select the auth mode: a fixed bearer token, or a key name plus RSA key for per-request JWTs
type Credentials struct {
	KeyName       string
	PrivateKeyPEM string
	BearerToken   string
}

type Client struct {
	apiBase   string
	hc        *http.Client
	creds     Credentials
	logger    zerolog.Logger
	now       func() time.Time
	fillPolls int
	fillPause time.Duration
}

func NewClient(creds Credentials, baseURL string, logger zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	creds.PrivateKeyPEM = normalizeMultiline(creds.PrivateKeyPEM)
	return &Client{
		apiBase:   strings.TrimRight(baseURL, "/"),
		hc:        &http.Client{Timeout: 15 * time.Second},
		creds:     creds,
		logger:    logger.With().Str("component", "coinbase").Logger(),
		now:       time.Now,
		fillPolls: 6,
		fillPause: 250 * time.Millisecond,
	}
}

type candleRow struct {
	Start  string `json:"start"`
	Open   string `json:"open"`
	High   string `json:"high"`
	Low    string `json:"low"`
	Close  string `json:"close"`
	Volume string `json:"volume"`
}

// granularity maps a timeframe to the Advanced Trade enum and its length in seconds
func granularity(tf string) (string, int) {
	switch tf {
	case "1m":
		return "ONE_MINUTE", 60
	case "5m":
		return "FIVE_MINUTE", 5 * 60
	case "15m":
		return "FIFTEEN_MINUTE", 15 * 60
	case "30m":
		return "THIRTY_MINUTE", 30 * 60
	case "1h":
		return "ONE_HOUR", 60 * 60
	case "2h":
		return "TWO_HOUR", 2 * 60 * 60
	case "6h":
		return "SIX_HOUR", 6 * 60 * 60
	case "1d":
		return "ONE_DAY", 24 * 60 * 60
	}
	return "", 0
}

// FetchCandles returns candles oldest first; the venue caps a request at 350 bars
func (c *Client) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]venue.Candle, error) {
	if limit <= 0 || limit > 350 {
		limit = 350
	}
	gran, sec := granularity(timeframe)
	if sec == 0 {
		return nil, fmt.Errorf("%w: unsupported timeframe %s", venue.ErrExchange, timeframe)
	}
	end := c.now().UTC()
	start := end.Add(-time.Duration((limit+2)*sec) * time.Second)

	qs := url.Values{
		"granularity": []string{gran},
		"start":       []string{strconv.FormatInt(start.Unix(), 10)},
		"end":         []string{strconv.FormatInt(end.Unix(), 10)},
		"limit":       []string{strconv.Itoa(limit)},
	}
	path := fmt.Sprintf("/api/v3/brokerage/products/%s/candles", url.PathEscape(symbol))

	body, err := c.do(ctx, http.MethodGet, path, qs, nil, false)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Candles []candleRow `json:"candles"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: error parsing candles: %v", venue.ErrMalformed, err)
	}

	out := make([]venue.Candle, 0, len(payload.Candles))
	for _, r := range payload.Candles {
		ts, _ := strconv.ParseInt(strings.TrimSpace(r.Start), 10, 64)
		if ts <= 0 {
			continue
		}
		out = append(out, venue.Candle{
			Time:   time.Unix(ts, 0).UTC(),
			Open:   parseFloat(r.Open),
			High:   parseFloat(r.High),
			Low:    parseFloat(r.Low),
			Close:  parseFloat(r.Close),
			Volume: parseFloat(r.Volume),
		})
	}
	// the venue answers newest first
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// FetchBalance sums available balances per currency across accounts
func (c *Client) FetchBalance(ctx context.Context) (map[string]float64, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/v3/brokerage/accounts", url.Values{"limit": []string{"250"}}, nil, true)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Accounts []struct {
			Currency         string `json:"currency"`
			AvailableBalance struct {
				Value    string `json:"value"`
				Currency string `json:"currency"`
			} `json:"available_balance"`
		} `json:"accounts"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: error parsing accounts: %v", venue.ErrMalformed, err)
	}

	out := make(map[string]float64)
	for _, a := range payload.Accounts {
		cur := strings.ToUpper(firstNonEmpty(a.AvailableBalance.Currency, a.Currency))
		if cur == "" {
			continue
		}
		out[cur] += parseFloat(a.AvailableBalance.Value)
	}
	return out, nil
}

// FetchFees reads the account fee tier
func (c *Client) FetchFees(ctx context.Context, symbol string) (venue.Fees, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/v3/brokerage/transaction_summary", url.Values{}, nil, true)
	if err != nil {
		return venue.Fees{}, err
	}

	var payload struct {
		FeeTier struct {
			MakerFeeRate string `json:"maker_fee_rate"`
			TakerFeeRate string `json:"taker_fee_rate"`
		} `json:"fee_tier"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return venue.Fees{}, fmt.Errorf("%w: error parsing fee tier: %v", venue.ErrMalformed, err)
	}
	taker := parseFloat(payload.FeeTier.TakerFeeRate)
	if taker <= 0 {
		return venue.Fees{}, fmt.Errorf("%w: missing taker fee rate", venue.ErrMalformed)
	}
	return venue.Fees{Maker: parseFloat(payload.FeeTier.MakerFeeRate), Taker: taker}, nil
}

// PlaceMarketBuy spends order.Quote of the quote currency
func (c *Client) PlaceMarketBuy(ctx context.Context, symbol string, order venue.Order) (venue.OrderFill, error) {
	quote, err := quoteSize(order.Quote)
	if err != nil {
		return venue.OrderFill{}, err
	}
	return c.placeOrder(ctx, symbol, "BUY", order.ClientOrderID, map[string]string{"quote_size": quote})
}

// PlaceMarketSell sells order.Base of the base currency
func (c *Client) PlaceMarketSell(ctx context.Context, symbol string, order venue.Order) (venue.OrderFill, error) {
	if order.Base <= 0 {
		return venue.OrderFill{}, fmt.Errorf("%w: invalid base size %f", venue.ErrExchange, order.Base)
	}
	return c.placeOrder(ctx, symbol, "SELL", order.ClientOrderID, map[string]string{"base_size": strconv.FormatFloat(order.Base, 'f', -1, 64)})
}

// quoteSize formats a quote amount to the cent, rejecting amounts that round to zero
func quoteSize(q float64) (string, error) {
	s := strconv.FormatFloat(q, 'f', quoteDecimals, 64)
	if v, _ := strconv.ParseFloat(s, 64); v <= 0 {
		return "", fmt.Errorf("%w: quote size %g below minimum %s", venue.ErrExchange, q, minQuoteSize)
	}
	return s, nil
}

func (c *Client) placeOrder(ctx context.Context, symbol, side, clientID string, sizing map[string]string) (venue.OrderFill, error) {
	if clientID == "" {
		clientID = uuid.NewString()
	}
	reqBody := map[string]any{
		"client_order_id": clientID,
		"product_id":      symbol,
		"side":            side,
		"order_configuration": map[string]any{
			"market_market_ioc": sizing,
		},
	}
	bs, _ := json.Marshal(reqBody)

	body, err := c.do(ctx, http.MethodPost, "/api/v3/brokerage/orders", nil, bs, true)
	if err != nil {
		return venue.OrderFill{}, err
	}

	var resp struct {
		Success         bool `json:"success"`
		SuccessResponse struct {
			OrderID string `json:"order_id"`
		} `json:"success_response"`
		ErrorResponse struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		} `json:"error_response"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return venue.OrderFill{}, fmt.Errorf("%w: error parsing order response: %v", venue.ErrMalformed, err)
	}
	if !resp.Success {
		return venue.OrderFill{}, fmt.Errorf("%w: order rejected: %s %s", venue.ErrExchange, resp.ErrorResponse.Error, resp.ErrorResponse.Message)
	}

	orderID := firstNonEmpty(resp.SuccessResponse.OrderID, clientID)
	fill := venue.OrderFill{OrderID: orderID}

	// fills settle shortly after the IOC order is accepted
	for i := 0; i < c.fillPolls; i++ {
		f, err := c.fetchOrderFill(ctx, orderID)
		if err == nil && f.Filled > 0 && f.AvgPrice > 0 {
			f.OrderID = orderID
			fill = f
			break
		}
		select {
		case <-ctx.Done():
			i = c.fillPolls
		case <-time.After(c.fillPause):
		}
	}

	c.logger.Info().Str("product", symbol).Str("side", side).Str("order_id", orderID).
		Float64("filled", fill.Filled).Msg("Order placed")
	return fill, nil
}

func (c *Client) fetchOrderFill(ctx context.Context, orderID string) (venue.OrderFill, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/v3/brokerage/orders/historical/fills", url.Values{"order_id": []string{orderID}}, nil, true)
	if err != nil {
		return venue.OrderFill{}, err
	}

	var payload struct {
		Fills []struct {
			Price       string `json:"price"`
			Size        string `json:"size"`
			Commission  string `json:"commission"`
			SizeInQuote bool   `json:"size_in_quote"`
		} `json:"fills"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return venue.OrderFill{}, fmt.Errorf("%w: error parsing fills: %v", venue.ErrMalformed, err)
	}

	var fill venue.OrderFill
	for _, f := range payload.Fills {
		price, size := parseFloat(f.Price), parseFloat(f.Size)
		base, notional := size, size*price
		if f.SizeInQuote && price > 0 {
			base, notional = size/price, size
		}
		fill.Filled += base
		fill.QuoteCost += notional
		fill.Fee += parseFloat(f.Commission)
	}
	if fill.Filled > 0 {
		fill.AvgPrice = fill.QuoteCost / fill.Filled
	}
	return fill, nil
}

func (c *Client) do(ctx context.Context, method, path string, qs url.Values, body []byte, auth bool) ([]byte, error) {
	u := c.apiBase + path
	if len(qs) > 0 {
		u += "?" + qs.Encode()
	}

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "multi-exchange-trading-bot")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		if err := c.addAuth(req); err != nil {
			return nil, err
		}
	} else {
		c.addAuthIfAvailable(req)
	}

	res, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", venue.ErrNetwork, method, path, err)
	}
	defer res.Body.Close()

	rb, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: error reading response: %v", venue.ErrNetwork, err)
	}

	switch {
	case res.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: %s", venue.ErrRateLimited, string(rb))
	case res.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d: %s", venue.ErrNetwork, res.StatusCode, string(rb))
	case res.StatusCode >= 300:
		return nil, fmt.Errorf("%w: %s %d: %s", venue.ErrExchange, path, res.StatusCode, string(rb))
	}
	return rb, nil
}

func (c *Client) addAuthIfAvailable(req *http.Request) {
	if c.creds.BearerToken != "" || (c.creds.KeyName != "" && c.creds.PrivateKeyPEM != "") {
		_ = c.addAuth(req)
	}
}

func (c *Client) addAuth(req *http.Request) error {
	if c.creds.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.creds.BearerToken)
		return nil
	}
	if c.creds.KeyName == "" || c.creds.PrivateKeyPEM == "" {
		return venue.ErrNoAuth
	}
	token, err := mintJWT(c.creds.KeyName, c.creds.PrivateKeyPEM, c.now(), 25*time.Second)
	if err != nil {
		return fmt.Errorf("%w: %v", venue.ErrNoAuth, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("CB-ACCESS-KEY", c.creds.KeyName)
	return nil
}

// mintJWT signs a short-lived RS256 token for the retail REST audience
func mintJWT(keyName, privatePEM string, now time.Time, ttl time.Duration) (string, error) {
	priv, err := parseRSAKey(privatePEM)
	if err != nil {
		return "", err
	}
	now = now.UTC()
	claims := jwt.MapClaims{
		"sub": keyName,
		"aud": "retail_rest_api",
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
		"nbf": now.Add(-5 * time.Second).Unix(),
		"jti": uuid.NewString(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(priv)
}

func parseRSAKey(privatePEM string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(privatePEM))
	if block == nil {
		return nil, errors.New("invalid private key (no PEM block)")
	}
	switch block.Type {
	case "PRIVATE KEY":
		k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		priv, ok := k.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("not RSA private key")
		}
		return priv, nil
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	}
	return nil, fmt.Errorf("unsupported key type: %s", block.Type)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}

func normalizeMultiline(s string) string {
	if strings.Contains(s, `\n`) {
		return strings.ReplaceAll(s, `\n`, "\n")
	}
	return s
}

var _ venue.Adapter = (*Client)(nil)
