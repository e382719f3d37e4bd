// Package etherscan fetches verified contract ABIs from an Etherscan-style
// explorer API.
package etherscan

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/evmtools/abiget/contract"
)

// DefaultBaseURL is the Ethereum mainnet API endpoint.
const DefaultBaseURL = "https://api.etherscan.io/api"

// APIKeyEnv is the environment variable the default API key is read from.
const APIKeyEnv = "ETHERSCAN_API_KEY"

var rateLimitRe = regexp.MustCompile(`^Max rate limit reached`)

// RetryPolicy decides whether a failed request should be retried. NextDelay
// receives the zero-based attempt number and the classified error, and
// returns the delay before the next attempt, or false to give up.
//
// The Client performs no retries unless a policy is supplied.
type RetryPolicy interface {
	NextDelay(attempt int, err error) (time.Duration, bool)
}

// BackoffSchedule is a RetryPolicy that retries rate-limited requests only,
// waiting the scheduled duration between attempts and giving up when the
// schedule is exhausted.
type BackoffSchedule []time.Duration

func (s BackoffSchedule) NextDelay(attempt int, err error) (time.Duration, bool) {
	if !IsRateLimited(err) || attempt >= len(s) {
		return 0, false
	}
	return s[attempt], true
}

// Client looks up contract ABIs by address. Its configuration is fixed at
// construction, so a single Client is safe for any number of concurrent
// lookups.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	retry      RetryPolicy
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a different API endpoint.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = baseURL }
}

// WithAPIKey sets the API key sent with every request.
func WithAPIKey(apiKey string) Option {
	return func(c *Client) { c.apiKey = apiKey }
}

// WithHTTPClient replaces the underlying HTTP client. This is the hook for
// custom transports and client-wide timeouts.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryPolicy installs a retry policy consulted after failed requests.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

// WithLogger sets the logger. The default is a nop logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client. Without options it targets the mainnet API with the
// key from the ETHERSCAN_API_KEY environment variable. Construction always
// succeeds; a missing key surfaces as an API error on the first lookup.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		apiKey:     os.Getenv(APIKeyEnv),
		httpClient: &http.Client{},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetABI fetches and parses the ABI of the verified contract at address.
// It performs a single request per call; the caller's context carries any
// deadline or cancellation.
func (c *Client) GetABI(ctx context.Context, address string) (*contract.Document, error) {
	raw, err := c.RawABI(ctx, address)
	if err != nil {
		return nil, err
	}
	doc, err := contract.Parse([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("parse ABI for %s: %w", address, err)
	}
	return doc, nil
}

// RawABI is GetABI without the parsing step: it returns the ABI JSON exactly
// as the API served it.
func (c *Client) RawABI(ctx context.Context, address string) (string, error) {
	if !common.IsHexAddress(address) {
		return "", &InvalidAddressError{Address: address}
	}

	for attempt := 0; ; attempt++ {
		raw, err := c.fetchABI(ctx, address)
		if err == nil {
			return raw, nil
		}
		if c.retry == nil {
			return "", err
		}
		delay, retry := c.retry.NextDelay(attempt, err)
		if !retry {
			return "", err
		}
		c.logger.Sugar().Infow("Retrying Etherscan request",
			zap.String("address", address),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (c *Client) fetchABI(ctx context.Context, address string) (string, error) {
	values := url.Values{
		"module":  []string{"contract"},
		"action":  []string{"getabi"},
		"address": []string{address},
		"apikey":  []string{c.apiKey},
	}
	fullURL := c.baseURL + "?" + values.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, http.NoBody)
	if err != nil {
		return "", &RequestError{URL: fullURL, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "abiget")

	res, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Sugar().Errorw("Failed to perform the Etherscan HTTP request",
			zap.Error(err),
			zap.String("address", address),
		)
		return "", &RequestError{URL: fullURL, Err: err}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", &RequestError{URL: fullURL, Err: err}
	}

	var parsed struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		Result  string `json:"result"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		c.logger.Sugar().Errorw("Failed to parse the Etherscan response body",
			zap.Error(err),
			zap.Int("statusCode", res.StatusCode),
		)
		return "", fmt.Errorf("decode etherscan response: %w", err)
	}

	if res.StatusCode != http.StatusOK {
		return "", &APIError{
			Status:  res.Status,
			Message: parsed.Message,
			Result:  parsed.Result,
		}
	}

	if parsed.Status != "1" {
		return "", c.classifyRejection(address, parsed.Status, parsed.Message, parsed.Result)
	}

	c.logger.Sugar().Debugw("Fetched ABI from Etherscan",
		zap.String("address", address),
	)
	return parsed.Result, nil
}

// classifyRejection maps the API's status-0 replies onto error kinds, so
// callers can tell "no such contract" from "you are being throttled".
func (c *Client) classifyRejection(address, status, message, result string) error {
	switch {
	case strings.Contains(result, "not verified"):
		return &NotFoundError{Address: address}
	case strings.Contains(result, "Invalid Address format"):
		return &InvalidAddressError{Address: address}
	case rateLimitRe.MatchString(result):
		return &APIError{Status: status, Message: message, Result: result, RateLimited: true}
	default:
		return &APIError{Status: status, Message: message, Result: result}
	}
}
