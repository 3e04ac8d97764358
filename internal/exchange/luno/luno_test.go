package luno

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DaleTiley-AirCapital/CryptArb/internal/config"
	"github.com/DaleTiley-AirCapital/CryptArb/internal/core"
	apperrors "github.com/DaleTiley-AirCapital/CryptArb/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockLogger struct{}

func (m *MockLogger) Debug(msg string, fields ...interface{})               {}
func (m *MockLogger) Info(msg string, fields ...interface{})                {}
func (m *MockLogger) Warn(msg string, fields ...interface{})                {}
func (m *MockLogger) Error(msg string, fields ...interface{})               {}
func (m *MockLogger) Fatal(msg string, fields ...interface{})               {}
func (m *MockLogger) WithField(key string, value interface{}) core.ILogger  { return m }
func (m *MockLogger) WithFields(fields map[string]interface{}) core.ILogger { return m }

func newTestClient(baseURL string, withCreds bool) *Client {
	cfg := &config.ExchangeConfig{
		BaseURL: baseURL,
		Pair:    "XBTZAR",
		FeeRate: 0.001,
	}
	if withCreds {
		cfg.APIKey = "key"
		cfg.APISecret = "secret"
	}
	return NewClient(cfg, &MockLogger{})
}

func TestGetPrice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ticker", r.URL.Path)
		assert.Equal(t, "XBTZAR", r.URL.Query().Get("pair"))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"bid":        "1890000.00",
			"ask":        "1892500.00",
			"last_trade": "1891000.00",
			"timestamp":  1719830000000,
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL, false)
	quote, err := client.GetPrice(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1890000.0, quote.Bid)
	assert.Equal(t, 1892500.0, quote.Ask)
	assert.Equal(t, 1891000.0, quote.Last)
	assert.Equal(t, "luno", quote.Exchange)
	assert.True(t, quote.Valid())
}

func TestGetPrice_MissingFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"timestamp": 1719830000000})
	}))
	defer server.Close()

	client := newTestClient(server.URL, false)
	_, err := client.GetPrice(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrNoPrice)
}

func TestGetPrice_RateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestClient(server.URL, false)
	_, err := client.GetPrice(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrRateLimitExceeded)
}

func TestGetBalance(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok, "expected basic auth")
		assert.Equal(t, "key", user)
		assert.Equal(t, "secret", pass)

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"balance": []map[string]string{
				{"asset": "ZAR", "balance": "5000.00", "reserved": "100.00"},
				{"asset": "XBT", "balance": "0.02", "reserved": "0"},
			},
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL, true)

	zar, err := client.GetBalance(context.Background(), "ZAR")
	require.NoError(t, err)
	assert.Equal(t, 4900.0, zar.Available)
	assert.Equal(t, 5000.0, zar.Total)

	// BTC maps to Luno's XBT asset code
	btc, err := client.GetBalance(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, 0.02, btc.Available)
}

func TestPlaceMarketBuy_CounterDenominated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/marketorder", r.URL.Path)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))

		// Order parameters travel in the form body, not the query string
		require.NoError(t, r.ParseForm())
		assert.Empty(t, r.URL.RawQuery)
		assert.Equal(t, "BUY", r.PostFormValue("type"))
		assert.Equal(t, "2500", r.PostFormValue("counter_volume"))
		assert.Empty(t, r.PostFormValue("base_volume"))

		_ = json.NewEncoder(w).Encode(map[string]string{"order_id": "BXMC2CJ7HNB88U4"})
	}))
	defer server.Close()

	client := newTestClient(server.URL, true)
	result, err := client.PlaceMarketBuy(context.Background(), 2500.0)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "BXMC2CJ7HNB88U4", result.OrderID)
}

func TestPlaceMarketSell_BaseDenominated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "SELL", r.PostFormValue("type"))
		assert.Equal(t, "0.0025", r.PostFormValue("base_volume"))
		assert.Empty(t, r.PostFormValue("counter_volume"))

		_ = json.NewEncoder(w).Encode(map[string]string{"order_id": "BXMC2CJ7HNB88U5"})
	}))
	defer server.Close()

	client := newTestClient(server.URL, true)
	result, err := client.PlaceMarketSell(context.Background(), 0.0025)
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestPlaceMarketOrder_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "insufficient balance"})
	}))
	defer server.Close()

	client := newTestClient(server.URL, true)
	result, err := client.PlaceMarketBuy(context.Background(), 2500.0)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "insufficient balance", result.Error)
}

func TestPlaceMarketOrder_NoCredentials(t *testing.T) {
	client := newTestClient("http://127.0.0.1:0", false)
	result, err := client.PlaceMarketBuy(context.Background(), 2500.0)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "API key not configured", result.Error)
}
