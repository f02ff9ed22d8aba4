package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"hybridbot/internal/domain"
)

// Binance API Constants
const (
	BaseURLSpot    = "https://api.binance.com"
	BaseURLFutures = "https://fapi.binance.com"
)

// Binance business error codes mapped to rejection reasons.
const (
	codeInsufficientBalance = -2010
	codeMarginInsufficient  = -2019
	codeInvalidLeverage     = -4028
	codeTooManyRequests     = -1003
)

// Client is the Binance REST API client (boundary layer). One instance
// serves both the spot and the USD-M futures hosts.
type Client struct {
	spotURL    string
	futuresURL string
	httpClient *http.Client
	signer     *Signer
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
}

// Options tunes the client; zero values get sane defaults.
type Options struct {
	SpotURL         string
	FuturesURL      string
	Timeout         time.Duration
	RateLimitPerSec int
	RateLimitBurst  int
}

// NewClient creates a new Binance API client.
func NewClient(apiKey, apiSecret string, opts Options) *Client {
	if opts.SpotURL == "" {
		opts.SpotURL = BaseURLSpot
	}
	if opts.FuturesURL == "" {
		opts.FuturesURL = BaseURLFutures
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RateLimitPerSec <= 0 {
		opts.RateLimitPerSec = 10
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = 2 * opts.RateLimitPerSec
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "binance",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Client{
		spotURL:    opts.SpotURL,
		futuresURL: opts.FuturesURL,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		signer:  NewSigner(apiKey, apiSecret),
		limiter: rate.NewLimiter(rate.Limit(opts.RateLimitPerSec), opts.RateLimitBurst),
		breaker: breaker,
		logger:  slog.Default().With("module", "binance_client"),
	}
}

func (c *Client) hostFor(venue domain.Venue) string {
	if venue == domain.VenueFutures {
		return c.futuresURL
	}
	return c.spotURL
}

// GetQuote fetches the spot and futures last prices plus 24h spot volume.
func (c *Client) GetQuote(ctx context.Context, symbol domain.Symbol) (domain.Quote, error) {
	var spot struct {
		LastPrice decimal.Decimal `json:"lastPrice"`
		Volume    decimal.Decimal `json:"volume"`
	}
	params := url.Values{"symbol": {string(symbol)}}
	if err := c.get(ctx, c.spotURL, "/api/v3/ticker/24hr", params, false, &spot); err != nil {
		return domain.Quote{}, fmt.Errorf("spot ticker %s: %w", symbol, err)
	}

	var fut struct {
		Price decimal.Decimal `json:"price"`
	}
	params = url.Values{"symbol": {string(symbol)}}
	if err := c.get(ctx, c.futuresURL, "/fapi/v1/ticker/price", params, false, &fut); err != nil {
		return domain.Quote{}, fmt.Errorf("futures ticker %s: %w", symbol, err)
	}

	return domain.Quote{
		Symbol:       symbol,
		SpotPrice:    spot.LastPrice,
		FuturesPrice: fut.Price,
		SpotVolume:   spot.Volume,
	}, nil
}

// GetHistory fetches the most recent closed 1m klines for a venue.
func (c *Client) GetHistory(ctx context.Context, symbol domain.Symbol, venue domain.Venue, window int) ([]domain.Candle, error) {
	path := "/api/v3/klines"
	if venue == domain.VenueFutures {
		path = "/fapi/v1/klines"
	}
	params := url.Values{
		"symbol":   {string(symbol)},
		"interval": {"1m"},
		"limit":    {fmt.Sprintf("%d", window)},
	}

	// Klines come as positional JSON arrays.
	var raw [][]json.RawMessage
	if err := c.get(ctx, c.hostFor(venue), path, params, false, &raw); err != nil {
		return nil, fmt.Errorf("klines %s %s: %w", symbol, venue, err)
	}

	candles := make([]domain.Candle, 0, len(raw))
	for _, k := range raw {
		if len(k) < 6 {
			continue
		}
		var openTime int64
		var closeStr, volStr string
		if err := json.Unmarshal(k[0], &openTime); err != nil {
			continue
		}
		if err := json.Unmarshal(k[4], &closeStr); err != nil {
			continue
		}
		if err := json.Unmarshal(k[5], &volStr); err != nil {
			continue
		}
		closePx, err := decimal.NewFromString(closeStr)
		if err != nil {
			continue
		}
		vol, err := decimal.NewFromString(volStr)
		if err != nil {
			vol = decimal.Zero
		}
		candles = append(candles, domain.Candle{
			OpenTime: time.UnixMilli(openTime),
			Close:    closePx,
			Volume:   vol,
		})
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("klines %s %s: empty response", symbol, venue)
	}
	return candles, nil
}

// SubmitOrder places a market order and reports the fill. Futures orders set
// leverage first; leverage failures surface as typed rejections.
func (c *Client) SubmitOrder(ctx context.Context, spec domain.OrderSpec) (domain.FillResult, error) {
	if spec.Venue == domain.VenueFutures && !spec.ReduceOnly {
		if err := c.setLeverage(ctx, spec.Symbol, spec.Leverage); err != nil {
			return domain.FillResult{}, err
		}
	}

	path := "/api/v3/order"
	if spec.Venue == domain.VenueFutures {
		path = "/fapi/v1/order"
	}
	params := url.Values{
		"symbol":           {string(spec.Symbol)},
		"side":             {orderSide(spec.Side)},
		"type":             {"MARKET"},
		"quantity":         {spec.Size.String()},
		"newClientOrderId": {spec.ClientID},
	}
	if spec.Venue == domain.VenueFutures {
		params.Set("newOrderRespType", "RESULT")
		if spec.ReduceOnly {
			params.Set("reduceOnly", "true")
		}
	} else {
		params.Set("newOrderRespType", "FULL")
	}

	var resp struct {
		ExecutedQty decimal.Decimal `json:"executedQty"`
		AvgPrice    decimal.Decimal `json:"avgPrice"` // futures RESULT
		CumQuote    decimal.Decimal `json:"cummulativeQuoteQty"`
		Fills       []struct {
			Price decimal.Decimal `json:"price"`
			Qty   decimal.Decimal `json:"qty"`
		} `json:"fills"`
	}
	if err := c.send(ctx, c.hostFor(spec.Venue), http.MethodPost, path, params, &resp); err != nil {
		return domain.FillResult{}, c.asRejection(spec.Symbol, err)
	}

	avg := resp.AvgPrice
	if avg.IsZero() && len(resp.Fills) > 0 {
		avg = weightedAvg(resp.Fills)
	}
	if avg.IsZero() && resp.ExecutedQty.IsPositive() {
		avg = resp.CumQuote.Div(resp.ExecutedQty)
	}
	return domain.FillResult{FilledSize: resp.ExecutedQty, AvgPrice: avg}, nil
}

// CancelOrder cancels by client order id on both hosts; a missing order on
// either host is not an error.
func (c *Client) CancelOrder(ctx context.Context, symbol domain.Symbol, clientID string) error {
	var lastErr error
	for _, venue := range []domain.Venue{domain.VenueSpot, domain.VenueFutures} {
		path := "/api/v3/order"
		if venue == domain.VenueFutures {
			path = "/fapi/v1/order"
		}
		params := url.Values{
			"symbol":            {string(symbol)},
			"origClientOrderId": {clientID},
		}
		err := c.send(ctx, c.hostFor(venue), http.MethodDelete, path, params, nil)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return lastErr
}

// GetAccountBalances reads USDT equity on both wallets.
func (c *Client) GetAccountBalances(ctx context.Context) (domain.AccountBalances, error) {
	var spot struct {
		Balances []struct {
			Asset  string          `json:"asset"`
			Free   decimal.Decimal `json:"free"`
			Locked decimal.Decimal `json:"locked"`
		} `json:"balances"`
	}
	if err := c.get(ctx, c.spotURL, "/api/v3/account", url.Values{}, true, &spot); err != nil {
		return domain.AccountBalances{}, fmt.Errorf("spot account: %w", err)
	}

	var fut struct {
		TotalMarginBalance decimal.Decimal `json:"totalMarginBalance"`
	}
	if err := c.get(ctx, c.futuresURL, "/fapi/v2/account", url.Values{}, true, &fut); err != nil {
		return domain.AccountBalances{}, fmt.Errorf("futures account: %w", err)
	}

	var spotEquity decimal.Decimal
	for _, b := range spot.Balances {
		if b.Asset == "USDT" {
			spotEquity = b.Free.Add(b.Locked)
			break
		}
	}
	return domain.AccountBalances{
		SpotEquity:    spotEquity,
		FuturesEquity: fut.TotalMarginBalance,
	}, nil
}

// Transfer moves USDT between the spot and USD-M futures wallets.
func (c *Client) Transfer(ctx context.Context, from, to domain.Venue, amount decimal.Decimal) error {
	transferType := "1" // spot -> futures
	if from == domain.VenueFutures {
		transferType = "2"
	}
	params := url.Values{
		"asset":  {"USDT"},
		"amount": {amount.String()},
		"type":   {transferType},
	}
	if err := c.send(ctx, c.spotURL, http.MethodPost, "/sapi/v1/futures/transfer", params, nil); err != nil {
		return fmt.Errorf("wallet transfer %s -> %s: %w", from, to, err)
	}
	c.logger.Info("wallet transfer done",
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.String("amount", amount.String()))
	return nil
}

func (c *Client) setLeverage(ctx context.Context, symbol domain.Symbol, leverage int) error {
	params := url.Values{
		"symbol":   {string(symbol)},
		"leverage": {fmt.Sprintf("%d", leverage)},
	}
	if err := c.send(ctx, c.futuresURL, http.MethodPost, "/fapi/v1/leverage", params, nil); err != nil {
		return c.asRejection(symbol, err)
	}
	return nil
}

// get runs a GET request; signed requests carry the timestamp and signature.
func (c *Client) get(ctx context.Context, host, path string, params url.Values, signed bool, out interface{}) error {
	return c.do(ctx, host, http.MethodGet, path, params, signed, out)
}

// send runs a signed mutating request.
func (c *Client) send(ctx context.Context, host, method, path string, params url.Values, out interface{}) error {
	return c.do(ctx, host, method, path, params, true, out)
}

func (c *Client) do(ctx context.Context, host, method, path string, params url.Values, signed bool, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := c.breaker.Execute(func() (interface{}, error) {
		if signed {
			params = c.signer.Sign(params)
		}
		reqURL := host + path
		if len(params) > 0 {
			reqURL += "?" + params.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
		if err != nil {
			return nil, err
		}
		if signed {
			req.Header.Set("X-MBX-APIKEY", c.signer.APIKey())
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return nil, newAPIError(resp.StatusCode, raw)
		}
		return raw, nil
	})
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body.([]byte), out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// apiError carries the HTTP status and Binance business code.
type apiError struct {
	Status int
	Code   int
	Msg    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("binance api error: status=%d code=%d msg=%s", e.Status, e.Code, e.Msg)
}

func newAPIError(status int, body []byte) *apiError {
	e := &apiError{Status: status}
	var payload struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if json.Unmarshal(body, &payload) == nil {
		e.Code = payload.Code
		e.Msg = payload.Msg
	} else {
		e.Msg = strings.TrimSpace(string(body))
	}
	return e
}

// asRejection maps transport and business failures to the typed rejection
// the execution layer switches on.
func (c *Client) asRejection(symbol domain.Symbol, err error) error {
	var api *apiError
	if !errors.As(err, &api) {
		return domain.NewRejection(symbol, domain.RejectNetwork, err)
	}
	switch {
	case api.Status == http.StatusTooManyRequests || api.Status == http.StatusTeapot || api.Code == codeTooManyRequests:
		return domain.NewRejection(symbol, domain.RejectRateLimit, err)
	case api.Code == codeInsufficientBalance || api.Code == codeMarginInsufficient:
		return domain.NewRejection(symbol, domain.RejectInsufficientBalance, err)
	case api.Code == codeInvalidLeverage:
		return domain.NewRejection(symbol, domain.RejectInvalidLeverage, err)
	default:
		return domain.NewRejection(symbol, domain.RejectUnknown, err)
	}
}

func orderSide(side domain.Side) string {
	if side == domain.SideShort {
		return "SELL"
	}
	return "BUY"
}

func weightedAvg(fills []struct {
	Price decimal.Decimal `json:"price"`
	Qty   decimal.Decimal `json:"qty"`
}) decimal.Decimal {
	var notional, qty decimal.Decimal
	for _, f := range fills {
		notional = notional.Add(f.Price.Mul(f.Qty))
		qty = qty.Add(f.Qty)
	}
	if qty.IsZero() {
		return decimal.Zero
	}
	return notional.Div(qty)
}
