package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jonwraymond/callgate/cache"
	"github.com/jonwraymond/callgate/gateway"
	"github.com/jonwraymond/callgate/resilience"
)

// Kind labels chat completion calls in gateway telemetry and cache keys.
const Kind = "chat.completions"

const defaultBaseURL = "https://api.openai.com/v1"

// Config configures a Client.
type Config struct {
	// BaseURL is the API root; /chat/completions is appended.
	// Default: https://api.openai.com/v1
	BaseURL string `mapstructure:"base_url" json:"base_url"`

	// APIKey is sent as a bearer token. It may be a secretref.
	APIKey string `mapstructure:"api_key" json:"-"`

	// Model is used when a request names none.
	Model string `mapstructure:"model" json:"model"`

	// Gateway names the gateway calls go through.
	// Default: "llm"
	Gateway string `mapstructure:"gateway" json:"gateway"`

	// Timeout bounds each HTTP attempt. Zero leaves it to the gateway.
	// Default: 0
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"`
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.HTTPClient = hc }
}

// WithCache answers repeated requests from m.
func WithCache(m *cache.Middleware) Option {
	return func(c *Client) { c.cache = m }
}

// Client calls an OpenAI-compatible chat completions endpoint through a
// gateway. It is safe for concurrent use.
type Client struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
	Timeout    time.Duration

	gateway *gateway.Gateway
	cache   *cache.Middleware
	now     func() time.Time
}

// NewClient builds a client that sends every request through gw.
func NewClient(cfg Config, gw *gateway.Gateway, opts ...Option) (*Client, error) {
	if gw == nil {
		return nil, ErrNoGateway
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	c := &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Model:   cfg.Model,
		Timeout: cfg.Timeout,
		gateway: gw,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	return c, nil
}

// Gateway returns the gateway the client calls through.
func (c *Client) Gateway() *gateway.Gateway { return c.gateway }

// Complete sends a chat completion request. Its errors are classified by
// resilience.Classify; the provider's *ProviderError is reachable through
// errors.As.
func (c *Client) Complete(ctx context.Context, req *Request) (*Response, error) {
	payload, err := c.buildRequest(req)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("llm: encode request: %w", err)
	}

	var fetched atomic.Bool
	call := func(ctx context.Context) ([]byte, error) {
		fetched.Store(true)
		return gateway.Do(ctx, c.gateway, Kind, func(ctx context.Context) ([]byte, error) {
			return c.send(ctx, body)
		})
	}

	var raw []byte
	if c.cache != nil {
		raw, err = c.cache.Execute(ctx, Kind, payload, call)
	} else {
		raw, err = call(ctx)
	}
	if err != nil {
		return nil, err
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("llm: decode response: %w", err)
	}
	resp, err := parsed.toResponse()
	if err != nil {
		return nil, err
	}
	// Cached also covers responses shared from a concurrent identical request
	resp.Cached = !fetched.Load()
	return resp, nil
}

func (c *Client) buildRequest(req *Request) (*chatCompletionRequest, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, fmt.Errorf("%w: messages are required", ErrInvalidRequest)
	}
	model := req.Model
	if model == "" {
		model = c.Model
	}
	if model == "" {
		return nil, fmt.Errorf("%w: model is required", ErrInvalidRequest)
	}
	return &chatCompletionRequest{
		Model:       model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}, nil
}

// send performs one HTTP attempt and returns the validated response body.
func (c *Client) send(ctx context.Context, body []byte) ([]byte, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, resilience.Permanent(fmt.Errorf("llm: build request: %w", err))
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("llm: request failed: %w", err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("llm: read response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, providerError(resp, respBody, c.now())
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, resilience.Permanent(fmt.Errorf("llm: decode response: %w", err))
	}
	if len(parsed.Choices) == 0 {
		return nil, resilience.Permanent(ErrEmptyResponse)
	}
	return respBody, nil
}
