// Package base provides common functionality for exchange adapters
package base

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/DaleTiley-AirCapital/CryptArb/internal/config"
	"github.com/DaleTiley-AirCapital/CryptArb/internal/core"
	apperrors "github.com/DaleTiley-AirCapital/CryptArb/pkg/errors"
	"github.com/DaleTiley-AirCapital/CryptArb/pkg/retry"

	"github.com/shopspring/decimal"
)

// SignRequestFunc is a function type for exchange-specific request signing
type SignRequestFunc func(req *http.Request, body []byte) error

// ParseErrorFunc is a function type for exchange-specific error parsing.
// It receives the HTTP status so venues that signal failures purely via
// status codes (e.g. 429) can map them.
type ParseErrorFunc func(status int, body []byte) error

// Adapter provides common functionality for all exchange adapters
type Adapter struct {
	Name       string
	Config     *config.ExchangeConfig
	Logger     core.ILogger
	HTTPClient *http.Client

	// Exchange-specific functions to be set by concrete implementations
	SignRequestFunc SignRequestFunc
	ParseError      ParseErrorFunc
}

// NewAdapter creates a new base adapter with common configuration
func NewAdapter(name string, cfg *config.ExchangeConfig, logger core.ILogger) *Adapter {
	return &Adapter{
		Name:   name,
		Config: cfg,
		Logger: logger.WithField("exchange", name),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				DisableKeepAlives:   false,
			},
		},
	}
}

// GetName returns the exchange name
func (b *Adapter) GetName() string {
	return b.Name
}

// HasCredentials reports whether API credentials are configured.
func (b *Adapter) HasCredentials() bool {
	return b.Config.APIKey != "" && b.Config.APISecret != ""
}

// ExecuteRequest executes an HTTP request with common error handling
func (b *Adapter) ExecuteRequest(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Call exchange-specific signing if set
	if b.SignRequestFunc != nil {
		if err := b.SignRequestFunc(req, body); err != nil {
			return nil, fmt.Errorf("failed to sign request: %w", err)
		}
	}

	resp, err := b.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		// Call exchange-specific error parser if set
		if b.ParseError != nil {
			if parseErr := b.ParseError(resp.StatusCode, respBody); parseErr != nil {
				return nil, parseErr
			}
		}
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

// isTransient classifies errors worth retrying on read-only endpoints.
func isTransient(err error) bool {
	return errors.Is(err, apperrors.ErrRateLimitExceeded) ||
		errors.Is(err, apperrors.ErrNetwork) ||
		errors.Is(err, apperrors.ErrExchangeMaintenance)
}

// GetWithRetry executes an idempotent GET, retrying transient failures with
// jittered backoff. Order placement must never go through this path.
func (b *Adapter) GetWithRetry(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	err := retry.Do(ctx, retry.DefaultPolicy, isTransient, func() error {
		var reqErr error
		body, reqErr = b.ExecuteRequest(ctx, http.MethodGet, url, nil)
		return reqErr
	})
	return body, err
}

// ParseDecimal safely parses a string to decimal
func (b *Adapter) ParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		b.Logger.Warn("failed to parse decimal", "value", s, "error", err)
		return decimal.Zero
	}
	return d
}

// ParseTimestamp safely parses a timestamp in milliseconds
func (b *Adapter) ParseTimestamp(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
