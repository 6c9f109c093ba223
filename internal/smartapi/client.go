// Package smartapi is a REST client for the broker's SmartAPI market data endpoints.
package smartapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/rewired-gh/momentumscan/internal/logger"
)

const (
	DefaultBaseURL = "https://apiconnect.angelone.in"

	pathLogin       = "/rest/auth/angelbroking/user/v1/loginByPassword"
	pathMovers      = "/rest/secure/angelbroking/marketData/v1/gainersLosers"
	pathSearchScrip = "/rest/secure/angelbroking/order/v1/searchScrip"
	pathQuote       = "/rest/secure/angelbroking/market/v1/quote"
	pathCandles     = "/rest/secure/angelbroking/historical/v1/getCandleData"
)

// ErrAPI is wrapped by every error the API reports in its response envelope.
var ErrAPI = errors.New("smartapi error")

// ErrNotAuthenticated is returned by secure calls made before a session exists.
var ErrNotAuthenticated = errors.New("smartapi session not established")

// ClientConfig holds connection settings.
type ClientConfig struct {
	BaseURL        string
	APIKey         string
	Timeout        time.Duration
	RequestsPerSec float64
	Burst          int
	ClientLocalIP  string
	ClientPublicIP string
	MACAddress     string
}

// envelope is the common response wrapper.
type envelope struct {
	Status    bool            `json:"status"`
	Message   string          `json:"message"`
	ErrorCode string          `json:"errorcode"`
	Data      json.RawMessage `json:"data"`
}

// Client talks to SmartAPI. It is safe for concurrent use.
type Client struct {
	client  *resty.Client
	limiter *rate.Limiter

	mu       sync.RWMutex
	jwtToken string
}

// NewClient creates a client. Call Login or SetToken before any secure call.
func NewClient(config ClientConfig) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	if config.RequestsPerSec <= 0 {
		config.RequestsPerSec = 3
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}

	client := resty.New().
		SetBaseURL(strings.TrimSuffix(config.BaseURL, "/")).
		SetTimeout(config.Timeout).
		SetHeaders(map[string]string{
			"Content-Type":     "application/json",
			"Accept":           "application/json",
			"X-UserType":       "USER",
			"X-SourceID":       "WEB",
			"X-PrivateKey":     config.APIKey,
			"X-ClientLocalIP":  valueOr(config.ClientLocalIP, "127.0.0.1"),
			"X-ClientPublicIP": valueOr(config.ClientPublicIP, "127.0.0.1"),
			"X-MACAddress":     valueOr(config.MACAddress, "00:00:00:00:00:00"),
		})

	return &Client{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(config.RequestsPerSec), config.Burst),
	}
}

// SetToken installs an existing session token.
func (c *Client) SetToken(jwtToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jwtToken = strings.TrimPrefix(jwtToken, "Bearer ")
}

func (c *Client) token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.jwtToken
}

// Session is the result of a successful login.
type Session struct {
	JWTToken     string `json:"jwtToken"`
	RefreshToken string `json:"refreshToken"`
	FeedToken    string `json:"feedToken"`
}

// Login exchanges credentials and a one-time code for a session and keeps its
// token for later calls.
func (c *Client) Login(ctx context.Context, clientCode, password, totp string) (*Session, error) {
	body := map[string]string{
		"clientcode": clientCode,
		"password":   password,
		"totp":       totp,
	}

	var session Session
	if err := c.post(ctx, pathLogin, body, false, &session); err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}
	if session.JWTToken == "" {
		return nil, fmt.Errorf("login failed: %w: empty jwt token", ErrAPI)
	}
	c.SetToken(session.JWTToken)
	logger.Info("SmartAPI session established for %s", clientCode)
	return &session, nil
}

// post sends body to path and decodes the envelope's data into out when out is
// non-nil.
func (c *Client) post(ctx context.Context, path string, body any, secure bool, out any) error {
	raw, err := c.postRaw(ctx, path, body, secure)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode %s data: %w", path, err)
	}
	return nil
}

// postRaw returns the envelope's raw data field.
func (c *Client) postRaw(ctx context.Context, path string, body any, secure bool) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req := c.client.R().SetContext(ctx).SetBody(body)
	if secure {
		token := c.token()
		if token == "" {
			return nil, ErrNotAuthenticated
		}
		req.SetAuthToken(token)
	}

	resp, err := req.Post(path)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", path, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: %s returned status %d: %s", ErrAPI, path, resp.StatusCode(), truncate(resp.String(), 200))
	}

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	if !env.Status {
		return nil, fmt.Errorf("%w: %s: %s (%s)", ErrAPI, path, env.Message, env.ErrorCode)
	}
	return env.Data, nil
}

func valueOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
