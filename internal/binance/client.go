// Package binance fetches spot ticker prices from the Binance REST API.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rewired-gh/pricewatch/internal/errs"
)

const tickerPricePath = "/api/v3/ticker/price"

// maxBodySize bounds how much of a response is read.
const maxBodySize = 1 << 20

// Client provides access to the Binance ticker endpoint
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// tickerPrice is the /api/v3/ticker/price payload. Price is a pointer so a
// missing field is distinguishable from zero.
type tickerPrice struct {
	Symbol string           `json:"symbol"`
	Price  *decimal.Decimal `json:"price"`
}

// apiError is the body Binance returns with non-2xx responses.
type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// NewClient creates a new Binance client
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// FetchPrice returns the latest trade price for symbol.
// Transport failures, non-2xx statuses and malformed payloads fail with
// distinct errs codes.
func (c *Client) FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	const op = "binance.FetchPrice"

	u, err := url.Parse(c.baseURL + tickerPricePath)
	if err != nil {
		return decimal.Zero, errs.Wrap(errs.CodeFetchTransport, op, fmt.Errorf("failed to parse URL: %w", err))
	}
	q := u.Query()
	q.Set("symbol", symbol)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return decimal.Zero, errs.Wrap(errs.CodeFetchTransport, op, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, errs.Wrap(errs.CodeFetchTransport, op, fmt.Errorf("request for %s failed: %w", symbol, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return decimal.Zero, errs.Wrap(errs.CodeFetchTransport, op, fmt.Errorf("failed to read response for %s: %w", symbol, err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Msg != "" {
			return decimal.Zero, errs.Wrap(errs.CodeFetchStatus, op,
				fmt.Errorf("status %d for %s: %s (code %d)", resp.StatusCode, symbol, apiErr.Msg, apiErr.Code))
		}
		return decimal.Zero, errs.Wrap(errs.CodeFetchStatus, op, fmt.Errorf("status %d for %s", resp.StatusCode, symbol))
	}

	var tp tickerPrice
	if err := json.Unmarshal(body, &tp); err != nil {
		return decimal.Zero, errs.Wrap(errs.CodeFetchMalformed, op, fmt.Errorf("failed to decode ticker for %s: %w", symbol, err))
	}
	if tp.Price == nil {
		return decimal.Zero, errs.New(errs.CodeFetchMalformed, op, "missing price field for "+symbol)
	}
	if tp.Symbol != "" && tp.Symbol != symbol {
		return decimal.Zero, errs.New(errs.CodeFetchMalformed, op,
			fmt.Sprintf("ticker symbol mismatch: asked %s, got %s", symbol, tp.Symbol))
	}
	if !tp.Price.IsPositive() {
		return decimal.Zero, errs.New(errs.CodeFetchMalformed, op,
			fmt.Sprintf("non-positive price %s for %s", tp.Price, symbol))
	}

	return *tp.Price, nil
}
