// Package binance implements the Binance spot exchange client (USDT-quoted leg).
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/DaleTiley-AirCapital/CryptArb/internal/config"
	"github.com/DaleTiley-AirCapital/CryptArb/internal/core"
	"github.com/DaleTiley-AirCapital/CryptArb/internal/exchange/base"
	apperrors "github.com/DaleTiley-AirCapital/CryptArb/pkg/errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Client talks to the Binance spot REST API. The base URL is resolved once
// per session by a liveness probe across the configured fallbacks.
type Client struct {
	*base.Adapter

	mu      sync.Mutex
	baseURL string // sticky URL chosen by ResolveBaseURL
}

// NewClient creates a Binance client from the exchange configuration.
func NewClient(cfg *config.ExchangeConfig, logger core.ILogger) *Client {
	c := &Client{
		Adapter: base.NewAdapter("binance", cfg, logger),
		baseURL: cfg.BaseURL,
	}
	c.SignRequestFunc = c.signRequest
	c.ParseError = c.parseError
	return c
}

// signRequest adds the API key header. Signed endpoints carry their
// signature in the query string, added by signQuery before dispatch.
func (c *Client) signRequest(req *http.Request, _ []byte) error {
	if c.Config.APIKey != "" {
		req.Header.Set("X-MBX-APIKEY", string(c.Config.APIKey))
	}
	return nil
}

// signQuery encodes the params with a timestamp and returns the final query
// string: the HMAC-SHA256 signature goes last, outside the sorted payload
// it covers.
func (c *Client) signQuery(params url.Values) string {
	if params.Get("timestamp") == "" {
		params.Set("timestamp", fmt.Sprintf("%d", time.Now().UnixMilli()))
	}
	queryString := params.Encode()
	mac := hmac.New(sha256.New, []byte(c.Config.APISecret))
	mac.Write([]byte(queryString))
	return queryString + "&signature=" + hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) parseError(status int, body []byte) error {
	var errResp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil {
		return fmt.Errorf("binance error (unmarshal failed): %s", string(body))
	}

	// Map Binance error codes
	switch errResp.Code {
	case -2015:
		return apperrors.ErrAuthenticationFailed
	case -1013, -1111:
		return apperrors.ErrInvalidOrderParameter
	case -2010:
		return apperrors.ErrInsufficientFunds
	case -2011:
		return apperrors.ErrOrderNotFound
	case -1003:
		return apperrors.ErrRateLimitExceeded
	case -1021:
		return apperrors.ErrTimestampOutOfBounds
	}

	return fmt.Errorf("binance error %d: %s", errResp.Code, errResp.Msg)
}

// BaseURL returns the sticky base URL chosen for this session.
func (c *Client) BaseURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.baseURL
}

// ResolveBaseURL probes the configured URL and its fallbacks with /api/v3/ping
// and keeps the first host that answers 200 within 5 s.
func (c *Client) ResolveBaseURL(ctx context.Context) string {
	candidates := append([]string{c.Config.BaseURL}, c.Config.FallbackURLs...)

	probe := &http.Client{Timeout: 5 * time.Second}
	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, candidate+"/api/v3/ping", nil)
		if err != nil {
			continue
		}
		resp, err := probe.Do(req)
		if err != nil {
			c.Logger.Warn("liveness probe failed", "url", candidate, "error", err)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			c.mu.Lock()
			c.baseURL = candidate
			c.mu.Unlock()
			c.Logger.Info("base URL selected", "url", candidate)
			return candidate
		}
	}

	c.Logger.Warn("no base URL passed the liveness probe, keeping configured URL",
		"url", c.Config.BaseURL)
	return c.BaseURL()
}

// GetPrice fetches the best bid/ask for the configured pair. Last is the
// mid price since bookTicker carries no trade price.
func (c *Client) GetPrice(ctx context.Context) (core.PriceQuote, error) {
	endpoint := fmt.Sprintf("%s/api/v3/ticker/bookTicker?symbol=%s", c.BaseURL(), url.QueryEscape(c.Config.Pair))
	body, err := c.GetWithRetry(ctx, endpoint)
	if err != nil {
		return core.PriceQuote{}, err
	}

	var raw struct {
		BidPrice string `json:"bidPrice"`
		AskPrice string `json:"askPrice"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return core.PriceQuote{}, fmt.Errorf("failed to parse bookTicker: %w", err)
	}
	if raw.BidPrice == "" || raw.AskPrice == "" {
		return core.PriceQuote{}, apperrors.ErrNoPrice
	}

	bid := c.ParseDecimal(raw.BidPrice)
	ask := c.ParseDecimal(raw.AskPrice)
	quote := core.PriceQuote{
		Bid:       bid.InexactFloat64(),
		Ask:       ask.InexactFloat64(),
		Last:      bid.Add(ask).Div(decimal.NewFromInt(2)).InexactFloat64(),
		Exchange:  c.Name,
		Pair:      c.Config.Pair,
		Timestamp: time.Now().UTC(),
	}
	if !quote.Valid() {
		return core.PriceQuote{}, apperrors.ErrNoPrice
	}
	return quote, nil
}

// GetTickerPrice returns the last price of an arbitrary symbol. Used by the
// FX service for the stablecoin cross rates.
func (c *Client) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	endpoint := fmt.Sprintf("%s/api/v3/ticker/price?symbol=%s", c.BaseURL(), url.QueryEscape(symbol))
	body, err := c.GetWithRetry(ctx, endpoint)
	if err != nil {
		return 0, err
	}

	var raw struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return 0, fmt.Errorf("failed to parse ticker price: %w", err)
	}
	price := c.ParseDecimal(raw.Price).InexactFloat64()
	if price <= 0 {
		return 0, apperrors.ErrNoPrice
	}
	return price, nil
}

// GetBalance returns the free/locked balance of one asset.
func (c *Client) GetBalance(ctx context.Context, currency string) (core.Balance, error) {
	if !c.HasCredentials() {
		return core.Balance{}, apperrors.ErrAuthenticationFailed
	}

	endpoint := fmt.Sprintf("%s/api/v3/account?%s", c.BaseURL(), c.signQuery(url.Values{}))
	body, err := c.GetWithRetry(ctx, endpoint)
	if err != nil {
		return core.Balance{}, err
	}

	var raw struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return core.Balance{}, fmt.Errorf("failed to parse account: %w", err)
	}

	for _, b := range raw.Balances {
		if b.Asset != currency {
			continue
		}
		free := c.ParseDecimal(b.Free)
		locked := c.ParseDecimal(b.Locked)
		return core.Balance{
			Currency:  currency,
			Available: free.InexactFloat64(),
			Reserved:  locked.InexactFloat64(),
			Total:     free.Add(locked).InexactFloat64(),
		}, nil
	}

	return core.Balance{Currency: currency}, nil
}

// PlaceMarketBuy buys a BTC quantity at market.
func (c *Client) PlaceMarketBuy(ctx context.Context, baseAmount float64) (core.OrderResult, error) {
	return c.placeMarketOrder(ctx, "BUY", baseAmount)
}

// PlaceMarketSell sells a BTC quantity at market.
func (c *Client) PlaceMarketSell(ctx context.Context, baseAmount float64) (core.OrderResult, error) {
	return c.placeMarketOrder(ctx, "SELL", baseAmount)
}

func (c *Client) placeMarketOrder(ctx context.Context, side string, baseAmount float64) (core.OrderResult, error) {
	if !c.HasCredentials() {
		return core.OrderResult{Success: false, Error: "API key not configured"}, nil
	}

	params := url.Values{}
	params.Set("symbol", c.Config.Pair)
	params.Set("side", side)
	params.Set("type", "MARKET")
	params.Set("quantity", decimal.NewFromFloat(baseAmount).Round(6).String())
	params.Set("newClientOrderId", uuid.NewString())

	endpoint := fmt.Sprintf("%s/api/v3/order?%s", c.BaseURL(), c.signQuery(params))
	body, err := c.ExecuteRequest(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return core.OrderResult{Success: false, Error: err.Error()}, err
	}

	var raw struct {
		OrderID     int64  `json:"orderId"`
		ExecutedQty string `json:"executedQty"`
		Fills       []struct {
			Price string `json:"price"`
		} `json:"fills"`
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return core.OrderResult{Success: false, Error: "unparseable order response"},
			fmt.Errorf("failed to parse order response: %w", err)
	}

	if raw.OrderID == 0 {
		msg := raw.Msg
		if msg == "" {
			msg = "no orderId in response"
		}
		c.Logger.Error("market order rejected", "side", side, "error", msg)
		return core.OrderResult{Success: false, Error: msg}, nil
	}

	result := core.OrderResult{
		Success:      true,
		OrderID:      fmt.Sprintf("%d", raw.OrderID),
		FilledAmount: c.ParseDecimal(raw.ExecutedQty).InexactFloat64(),
	}
	if len(raw.Fills) > 0 {
		result.FilledPrice = c.ParseDecimal(raw.Fills[0].Price).InexactFloat64()
	}

	c.Logger.Info("market order placed",
		"side", side,
		"order_id", result.OrderID,
		"executed_qty", result.FilledAmount)

	return result, nil
}
