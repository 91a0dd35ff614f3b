// Package agmarknet is a client for the data.gov.in "current daily price of
// various commodities from various markets" resource, the public Agmarknet
// mandi price feed.
package agmarknet

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/annabazaar/pricingengine/internal/domain"
)

// maxPages bounds pagination for one commodity.
const maxPages = 50

// Config configures a Client.
type Config struct {
	BaseURL    string
	ResourceID string
	APIKey     string
	PageLimit  int
	Timeout    time.Duration
}

// Client fetches mandi prices for one commodity at a time.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    domain.RateLimiter
	logger     *slog.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithRateLimiter paces page requests through limiter.Wait. The feed throttles
// aggressive callers.
func WithRateLimiter(l domain.RateLimiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// NewClient creates a Client.
func NewClient(cfg Config, logger *slog.Logger, opts ...Option) *Client {
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = 500
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With(slog.String("component", "agmarknet")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Result is everything fetched for one commodity. Payload is a single
// Response holding every raw record, suitable for archiving and for Decode.
type Result struct {
	Commodity string
	Prices    []domain.MandiPrice
	Skipped   int
	Payload   []byte
	FetchedAt time.Time
}

// Fetch pages through the feed for commodity.
func (c *Client) Fetch(ctx context.Context, commodity string) (Result, error) {
	var all []Record
	offset := 0

	for page := 0; page < maxPages; page++ {
		resp, err := c.fetchPage(ctx, commodity, offset)
		if err != nil {
			return Result{}, fmt.Errorf("agmarknet: fetch %s offset %d: %w", commodity, offset, err)
		}
		all = append(all, resp.Records...)
		offset += len(resp.Records)

		if len(resp.Records) < c.cfg.PageLimit || (resp.Total > 0 && offset >= resp.Total) {
			break
		}
	}

	payload, err := json.Marshal(Response{Total: len(all), Count: len(all), Records: all})
	if err != nil {
		return Result{}, fmt.Errorf("agmarknet: encode payload %s: %w", commodity, err)
	}

	prices, skipped := convert(all)
	if skipped > 0 {
		c.logger.WarnContext(ctx, "skipped malformed mandi rows",
			slog.String("commodity", commodity),
			slog.Int("skipped", skipped),
		)
	}
	return Result{
		Commodity: commodity,
		Prices:    prices,
		Skipped:   skipped,
		Payload:   payload,
		FetchedAt: time.Now().UTC(),
	}, nil
}

func (c *Client) fetchPage(ctx context.Context, commodity string, offset int) (Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, "agmarknet"); err != nil {
			return Response{}, err
		}
	}

	params := url.Values{}
	params.Set("api-key", c.cfg.APIKey)
	params.Set("format", "json")
	params.Set("limit", strconv.Itoa(c.cfg.PageLimit))
	params.Set("offset", strconv.Itoa(offset))
	params.Set("filters[commodity]", commodity)

	body, err := c.doGet(ctx, "/resource/"+url.PathEscape(c.cfg.ResourceID)+"?"+params.Encode())
	if err != nil {
		return Response{}, err
	}

	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return Response{}, fmt.Errorf("decode page: %w", err)
	}
	return resp, nil
}

func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(body) > 256 {
			body = body[:256]
		}
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return nil, fmt.Errorf("status %d: %w", resp.StatusCode, domain.ErrUnauthorized)
		case http.StatusTooManyRequests:
			return nil, fmt.Errorf("status %d: %w", resp.StatusCode, domain.ErrRateLimited)
		}
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
