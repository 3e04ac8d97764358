// Package luno implements the Luno spot exchange client (ZAR-quoted leg).
package luno

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/DaleTiley-AirCapital/CryptArb/internal/config"
	"github.com/DaleTiley-AirCapital/CryptArb/internal/core"
	"github.com/DaleTiley-AirCapital/CryptArb/internal/exchange/base"
	apperrors "github.com/DaleTiley-AirCapital/CryptArb/pkg/errors"

	"github.com/shopspring/decimal"
)

// Client talks to the Luno REST API. Market buys are counter-denominated
// (ZAR amount), market sells are base-denominated (BTC amount).
type Client struct {
	*base.Adapter
}

// NewClient creates a Luno client from the exchange configuration.
func NewClient(cfg *config.ExchangeConfig, logger core.ILogger) *Client {
	c := &Client{
		Adapter: base.NewAdapter("luno", cfg, logger),
	}
	c.SignRequestFunc = c.signRequest
	c.ParseError = c.parseError
	return c
}

// signRequest applies HTTP basic auth (key:secret). Requests with a body
// are form submissions.
func (c *Client) signRequest(req *http.Request, body []byte) error {
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if c.HasCredentials() {
		req.SetBasicAuth(string(c.Config.APIKey), string(c.Config.APISecret))
	}
	return nil
}

func (c *Client) parseError(status int, body []byte) error {
	if status == http.StatusTooManyRequests {
		return apperrors.ErrRateLimitExceeded
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return apperrors.ErrAuthenticationFailed
	}

	var errResp struct {
		Error     string `json:"error"`
		ErrorCode string `json:"error_code"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return nil
	}
	return fmt.Errorf("luno error %s: %s", errResp.ErrorCode, errResp.Error)
}

// GetPrice fetches the public ticker for the configured pair.
func (c *Client) GetPrice(ctx context.Context) (core.PriceQuote, error) {
	endpoint := fmt.Sprintf("%s/ticker?pair=%s", c.Config.BaseURL, url.QueryEscape(c.Config.Pair))
	body, err := c.GetWithRetry(ctx, endpoint)
	if err != nil {
		return core.PriceQuote{}, err
	}

	var raw struct {
		Bid       string `json:"bid"`
		Ask       string `json:"ask"`
		LastTrade string `json:"last_trade"`
		Timestamp int64  `json:"timestamp"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return core.PriceQuote{}, fmt.Errorf("failed to parse ticker: %w", err)
	}

	// Missing price fields are a failure, never a zero quote.
	if raw.Bid == "" || raw.Ask == "" || raw.LastTrade == "" {
		return core.PriceQuote{}, apperrors.ErrNoPrice
	}

	quote := core.PriceQuote{
		Bid:       c.ParseDecimal(raw.Bid).InexactFloat64(),
		Ask:       c.ParseDecimal(raw.Ask).InexactFloat64(),
		Last:      c.ParseDecimal(raw.LastTrade).InexactFloat64(),
		Exchange:  c.Name,
		Pair:      c.Config.Pair,
		Timestamp: time.Now().UTC(),
	}
	if !quote.Valid() {
		return core.PriceQuote{}, apperrors.ErrNoPrice
	}
	return quote, nil
}

// GetBalance returns the available balance of one currency. Luno reports
// BTC under the asset code XBT.
func (c *Client) GetBalance(ctx context.Context, currency string) (core.Balance, error) {
	if !c.HasCredentials() {
		return core.Balance{}, apperrors.ErrAuthenticationFailed
	}

	asset := currency
	if currency == "BTC" {
		asset = "XBT"
	}

	endpoint := fmt.Sprintf("%s/balance", c.Config.BaseURL)
	body, err := c.GetWithRetry(ctx, endpoint)
	if err != nil {
		return core.Balance{}, err
	}

	var raw struct {
		Balance []struct {
			Asset    string `json:"asset"`
			Balance  string `json:"balance"`
			Reserved string `json:"reserved"`
		} `json:"balance"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return core.Balance{}, fmt.Errorf("failed to parse balances: %w", err)
	}

	for _, b := range raw.Balance {
		if b.Asset != asset {
			continue
		}
		total := c.ParseDecimal(b.Balance)
		reserved := c.ParseDecimal(b.Reserved)
		return core.Balance{
			Currency:  currency,
			Available: total.Sub(reserved).InexactFloat64(),
			Reserved:  reserved.InexactFloat64(),
			Total:     total.InexactFloat64(),
		}, nil
	}

	return core.Balance{Currency: currency}, nil
}

// PlaceMarketBuy spends a ZAR amount at market.
func (c *Client) PlaceMarketBuy(ctx context.Context, counterAmount float64) (core.OrderResult, error) {
	params := url.Values{}
	params.Set("type", "BUY")
	params.Set("counter_volume", decimal.NewFromFloat(counterAmount).Round(2).String())
	return c.placeMarketOrder(ctx, params)
}

// PlaceMarketSell sells a BTC amount at market.
func (c *Client) PlaceMarketSell(ctx context.Context, baseAmount float64) (core.OrderResult, error) {
	params := url.Values{}
	params.Set("type", "SELL")
	params.Set("base_volume", decimal.NewFromFloat(baseAmount).Round(6).String())
	return c.placeMarketOrder(ctx, params)
}

func (c *Client) placeMarketOrder(ctx context.Context, params url.Values) (core.OrderResult, error) {
	if !c.HasCredentials() {
		return core.OrderResult{Success: false, Error: "API key not configured"}, nil
	}

	params.Set("pair", c.Config.Pair)
	endpoint := fmt.Sprintf("%s/marketorder", c.Config.BaseURL)

	// Luno takes order parameters form-encoded in the body.
	body, err := c.ExecuteRequest(ctx, http.MethodPost, endpoint, []byte(params.Encode()))
	if err != nil {
		return core.OrderResult{Success: false, Error: err.Error()}, err
	}

	var raw struct {
		OrderID string `json:"order_id"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return core.OrderResult{Success: false, Error: "unparseable order response"},
			fmt.Errorf("failed to parse order response: %w", err)
	}

	if raw.OrderID == "" {
		msg := raw.Error
		if msg == "" {
			msg = "no order_id in response"
		}
		c.Logger.Error("market order rejected", "type", params.Get("type"), "error", msg)
		return core.OrderResult{Success: false, Error: msg}, nil
	}

	c.Logger.Info("market order placed",
		"type", params.Get("type"),
		"order_id", raw.OrderID)

	return core.OrderResult{
		Success: true,
		OrderID: raw.OrderID,
	}, nil
}
