// Package pnw talks to the Politics & War GraphQL API.
package pnw

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/time/rate"

	"resetwatch/core/utils"
)

const (
	DefaultURL      = "https://api.politicsandwar.com/graphql"
	DefaultPageSize = 100
	DefaultTimeout  = 30 * time.Second

	maxResponseBody = 8 << 20
)

var (
	ErrEntityNotFound = errors.New("nation not found")
	ErrUpstream       = errors.New("upstream error")
	ErrMalformed      = errors.New("malformed upstream response")
)

type Config struct {
	URL               string
	APIKey            string
	UserAgent         string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	PageSize          int
}

type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  *utils.Logger
}

func New(cfg Config, logger *utils.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		cfg.URL = DefaultURL
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("upstream url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "resetwatch"
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 4
	if err := http2.ConfigureTransport(transport); err != nil {
		return nil, fmt.Errorf("configure http2: %w", err)
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Transport: transport, Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}, nil
}

func (c *Client) HTTPClient() *http.Client {
	return c.http
}

func (c *Client) PageSize() int {
	return c.cfg.PageSize
}

const nationFields = `id nation_name alliance_id alliance { id name } score num_cities vacation_mode_turns beige_turns espionage_available last_active`

// FetchEntityBatch returns one page of the nation population, 1-based.
func (c *Client) FetchEntityBatch(ctx context.Context, page, size int) (NationPage, error) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = c.cfg.PageSize
	}
	query := fmt.Sprintf(`{ nations(first: %d, page: %d, orderBy: {column: ID, order: ASC}) { paginatorInfo { hasMorePages currentPage } data { %s } } }`, size, page, nationFields)
	nations, err := c.queryNations(ctx, query)
	if err != nil {
		return NationPage{}, fmt.Errorf("page %d: %w", page, err)
	}
	out := NationPage{Nations: convertNations(nations.Data)}
	if nations.PaginatorInfo != nil {
		out.HasMorePages = nations.PaginatorInfo.HasMorePages
	}
	return out, nil
}

func (c *Client) FetchEntityStatus(ctx context.Context, id int64) (Nation, error) {
	query := fmt.Sprintf(`{ nations(id: [%d], first: 1) { data { %s } } }`, id, nationFields)
	nations, err := c.queryNations(ctx, query)
	if err != nil {
		return Nation{}, fmt.Errorf("nation %d: %w", id, err)
	}
	for _, n := range nations.Data {
		if int64(n.ID) == id {
			if n.EspionageAvailable == nil {
				return Nation{}, fmt.Errorf("nation %d: %w: espionage_available missing", id, ErrMalformed)
			}
			return n.toNation(), nil
		}
	}
	return Nation{}, fmt.Errorf("nation %d: %w", id, ErrEntityNotFound)
}

// FetchEntitiesSince returns nations with an id above watermark, oldest first.
// Pages are keyed by the last id returned, so the walk always reaches the end
// of the population; a page that does not advance the cursor is an error.
func (c *Client) FetchEntitiesSince(ctx context.Context, watermark int64) ([]Nation, error) {
	var out []Nation
	cursor := watermark
	for {
		query := fmt.Sprintf(`{ nations(min_id: %d, first: %d, orderBy: {column: ID, order: ASC}) { paginatorInfo { hasMorePages currentPage } data { %s } } }`, cursor+1, c.cfg.PageSize, nationFields)
		nations, err := c.queryNations(ctx, query)
		if err != nil {
			return out, fmt.Errorf("since %d after %d: %w", watermark, cursor, err)
		}
		last := cursor
		for _, n := range convertNations(nations.Data) {
			if n.ID <= cursor {
				continue
			}
			out = append(out, n)
			if n.ID > last {
				last = n.ID
			}
		}
		if nations.PaginatorInfo == nil || !nations.PaginatorInfo.HasMorePages {
			return out, nil
		}
		if last == cursor {
			return out, fmt.Errorf("since %d: %w: page after %d did not advance", watermark, ErrUpstream, cursor)
		}
		cursor = last
	}
}

func convertNations(items []gqlNation) []Nation {
	out := make([]Nation, 0, len(items))
	for _, item := range items {
		out = append(out, item.toNation())
	}
	return out
}

func (c *Client) queryNations(ctx context.Context, query string) (*gqlNations, error) {
	resp, err := c.do(ctx, query)
	if err != nil {
		return nil, err
	}
	if resp.Data == nil || resp.Data.Nations == nil {
		return nil, fmt.Errorf("%w: missing data.nations", ErrMalformed)
	}
	return resp.Data.Nations, nil
}

func (c *Client) do(ctx context.Context, query string) (*gqlResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	body, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return nil, err
	}
	endpoint, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, err
	}
	params := endpoint.Query()
	params.Set("api_key", c.cfg.APIKey)
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUpstream, err)
	}
	c.logger.Debugf("pnw query status=%d bytes=%d took=%s", res.StatusCode, len(raw), time.Since(start))
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: http %d", ErrUpstream, res.StatusCode)
	}
	var out gqlResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(out.Errors) > 0 {
		msgs := make([]string, 0, len(out.Errors))
		for _, e := range out.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, fmt.Errorf("%w: %s", ErrUpstream, strings.Join(msgs, "; "))
	}
	return &out, nil
}
