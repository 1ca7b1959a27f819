// Package github fetches repository search pages from the GitHub GraphQL API.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/repo-harvester/internal/harvest"
)

// DefaultEndpoint is the public GitHub GraphQL endpoint.
const DefaultEndpoint = "https://api.github.com/graphql"

const (
	maxErrorBody = 4 << 10
	tracerName   = "github.com/JakeFAU/repo-harvester/internal/github"
)

// Config controls the GraphQL client.
type Config struct {
	Token     string
	Endpoint  string
	Query     string
	UserAgent string
	Timeout   time.Duration

	// RequestsPerSecond caps the request rate on top of the crawl pause.
	// Zero disables the cap.
	RequestsPerSecond float64
	Burst             int

	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
}

// Client implements harvest.Fetcher against the GraphQL search endpoint.
type Client struct {
	http      *http.Client
	endpoint  string
	query     string
	userAgent string
	limiter   *rate.Limiter
	tracer    trace.Tracer
	logger    *zap.Logger
}

// New builds a Client whose requests carry the token as a Bearer credential.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.Token == "" {
		return nil, errors.New("github token is required")
	}
	if cfg.Query == "" {
		return nil, errors.New("github search query is required")
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"})
	httpClient := oauth2.NewClient(ctx, ts)
	httpClient.Timeout = cfg.Timeout
	return NewWithHTTPClient(httpClient, cfg, logger), nil
}

// NewWithHTTPClient builds a Client around an already authenticated client.
func NewWithHTTPClient(httpClient *http.Client, cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "repo-harvester"
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Client{
		http:      httpClient,
		endpoint:  endpoint,
		query:     cfg.Query,
		userAgent: ua,
		limiter:   newLimiter(cfg.RequestsPerSecond, cfg.Burst),
		tracer:    tp.Tracer(tracerName),
		logger:    logger,
	}
}

func newLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// Fetch requests one page of search results after cursor. An empty cursor
// requests the first page.
func (c *Client) Fetch(ctx context.Context, cursor string, pageSize int) (harvest.Page, error) {
	ctx, span := c.tracer.Start(ctx, "github.Fetch", trace.WithAttributes(
		attribute.String("harvest.cursor", cursor),
		attribute.Int("harvest.page_size", pageSize),
	))
	defer span.End()

	page, err := c.fetch(ctx, cursor, pageSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return page, err
	}
	span.SetAttributes(
		attribute.Int("harvest.repositories", page.Len()),
		attribute.Int("github.rate_limit_remaining", page.RateLimit.Remaining),
	)
	return page, nil
}

func (c *Client) fetch(ctx context.Context, cursor string, pageSize int) (harvest.Page, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return harvest.Page{}, &harvest.TransportError{Cause: fmt.Errorf("request rate limit: %w", err)}
		}
	}

	vars := map[string]any{
		"q":      c.query,
		"limit":  pageSize,
		"cursor": nil,
	}
	if cursor != "" {
		vars["cursor"] = cursor
	}
	body, err := json.Marshal(graphQLRequest{Query: searchQuery, Variables: vars})
	if err != nil {
		return harvest.Page{}, fmt.Errorf("encode graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return harvest.Page{}, fmt.Errorf("build graphql request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return harvest.Page{}, &harvest.TransportError{Cause: ctxErr}
		}
		return harvest.Page{}, &harvest.TransportError{Cause: err}
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("Failed to close response body", zap.Error(cerr))
		}
	}()

	if err := classifyStatus(resp); err != nil {
		return harvest.Page{}, err
	}

	var payload graphQLResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return harvest.Page{}, &harvest.TransportError{
			StatusCode: resp.StatusCode,
			Cause:      fmt.Errorf("decode graphql response: %w", err),
		}
	}
	if len(payload.Errors) > 0 {
		return harvest.Page{}, remoteErrorFrom(resp.StatusCode, payload.Errors)
	}
	if payload.Data == nil {
		return harvest.Page{}, &harvest.TransportError{
			StatusCode: resp.StatusCode,
			Cause:      errors.New("graphql response has no data"),
		}
	}
	page, err := c.toPage(payload.Data)
	if err != nil {
		return harvest.Page{}, &harvest.TransportError{StatusCode: resp.StatusCode, Cause: err}
	}
	return page, nil
}

// classifyStatus maps non-2xx responses onto the harvest error kinds.
// Secondary rate limits surface as 403 or 429 and are worth retrying.
func classifyStatus(resp *http.Response) error {
	code := resp.StatusCode
	if code >= 200 && code < 300 {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	switch {
	case code >= 500, code == http.StatusForbidden, code == http.StatusTooManyRequests:
		return &harvest.TransportError{
			StatusCode: code,
			Cause:      fmt.Errorf("unexpected status %s: %s", resp.Status, bytes.TrimSpace(snippet)),
		}
	default:
		var body struct {
			Message string `json:"message"`
		}
		msg := string(bytes.TrimSpace(snippet))
		if json.Unmarshal(snippet, &body) == nil && body.Message != "" {
			msg = body.Message
		}
		if msg == "" {
			msg = resp.Status
		}
		return &harvest.RemoteError{
			StatusCode: code,
			Details:    []harvest.RemoteErrorDetail{{Message: msg}},
		}
	}
}

func remoteErrorFrom(status int, errs []graphQLError) *harvest.RemoteError {
	details := make([]harvest.RemoteErrorDetail, 0, len(errs))
	for _, e := range errs {
		details = append(details, harvest.RemoteErrorDetail{Type: e.Type, Message: e.Message, Path: e.Path})
	}
	return &harvest.RemoteError{StatusCode: status, Details: details}
}

// toPage maps the response onto a harvest.Page. A page that claims more
// results without a cursor, or a malformed timestamp, is rejected so the
// engine retries the same cursor instead of storing bad data.
func (c *Client) toPage(data *searchData) (harvest.Page, error) {
	page := harvest.Page{
		Repositories: make([]harvest.Repository, 0, len(data.Search.Edges)),
		HasNext:      data.Search.PageInfo.HasNextPage,
	}
	if data.Search.PageInfo.EndCursor != nil {
		page.NextCursor = *data.Search.PageInfo.EndCursor
	}
	if page.HasNext && page.NextCursor == "" {
		return harvest.Page{}, errors.New("graphql response has hasNextPage without endCursor")
	}
	if data.RateLimit != nil {
		resetAt, err := parseTime(data.RateLimit.ResetAt)
		if err != nil {
			return harvest.Page{}, fmt.Errorf("rateLimit.resetAt: %w", err)
		}
		page.RateLimit.Remaining = data.RateLimit.Remaining
		page.RateLimit.ResetAt = resetAt
	}

	for _, edge := range data.Search.Edges {
		node := edge.Node
		// Search can return non-repository nodes, which decode without an ID.
		if node.DatabaseID == nil {
			c.logger.Debug("Skipping search result without databaseId", zap.String("name", node.NameWithOwner))
			continue
		}
		createdAt, err := parseTime(node.CreatedAt)
		if err != nil {
			return harvest.Page{}, fmt.Errorf("repository %d createdAt: %w", *node.DatabaseID, err)
		}
		updatedAt, err := parseTime(node.UpdatedAt)
		if err != nil {
			return harvest.Page{}, fmt.Errorf("repository %d updatedAt: %w", *node.DatabaseID, err)
		}
		page.Repositories = append(page.Repositories, harvest.Repository{
			ID:         *node.DatabaseID,
			Name:       node.Name,
			FullName:   node.NameWithOwner,
			OwnerLogin: node.Owner.Login,
			StarCount:  node.StargazerCount,
			CreatedAt:  createdAt,
			UpdatedAt:  updatedAt,
		})
	}
	return page, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("missing timestamp")
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
