package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/knowledge-engine/siteqa/internal/config"
	"github.com/knowledge-engine/siteqa/internal/observability"
	"github.com/knowledge-engine/siteqa/internal/search"
)

const (
	postFields     = "id,title,content,link,excerpt,date"
	maxBodyBytes   = 16 << 20
	defaultPerPage = 20
)

var (
	ErrRelayEmpty   = errors.New("relay returned no contents")
	ErrRelayDecode  = errors.New("relay response could not be decoded")
	ErrRelayStatus  = errors.New("relay returned non-2xx status")
	ErrRelayNetwork = errors.New("relay request failed")
)

// StatusError is returned when the posts endpoint answers with a non-2xx status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("posts endpoint %s returned status %d", e.URL, e.StatusCode)
}

// Gate admits outbound requests. *politeness.PolitenessManager satisfies it.
type Gate interface {
	Acquire(ctx context.Context, rawURL string) (func(), error)
}

// Client retrieves candidate posts from a WordPress REST API, falling back to
// a CORS relay when the site cannot be reached directly.
type Client struct {
	cfg     config.SourceConfig
	client  *http.Client
	gate    Gate
	metrics *observability.Metrics
	logger  *logrus.Entry
}

// wpPost is the subset of a WordPress post object requested via _fields
type wpPost struct {
	ID      int64    `json:"id"`
	Date    string   `json:"date"`
	Link    string   `json:"link"`
	Title   rendered `json:"title"`
	Content rendered `json:"content"`
	Excerpt rendered `json:"excerpt"`
}

type rendered struct {
	Rendered string `json:"rendered"`
}

type relayEnvelope struct {
	Contents *string `json:"contents"`
}

// NewClient builds a transport client. gate and metrics may be nil.
func NewClient(cfg config.SourceConfig, gate Gate, metrics *observability.Metrics, logger *logrus.Entry) *Client {
	if logger == nil {
		logger = logrus.WithField("component", "fetcher")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.PerPage <= 0 {
		cfg.PerPage = defaultPerPage
	}
	if cfg.PostsPath == "" {
		cfg.PostsPath = "/wp-json/wp/v2/posts"
	}

	return &Client{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		gate:    gate,
		metrics: metrics,
		logger:  logger,
	}
}

// PostsURL builds the search request for query against the configured site.
func (c *Client) PostsURL(query string) string {
	params := url.Values{}
	params.Set("search", query)
	params.Set("per_page", strconv.Itoa(c.cfg.PerPage))
	params.Set("_fields", postFields)
	params.Set("status", "publish")

	return strings.TrimRight(c.cfg.BaseURL, "/") + c.cfg.PostsPath + "?" + params.Encode()
}

// FetchCandidates returns the published posts matching query. A non-2xx
// answer from the site is an error. If the site is unreachable the relay is
// tried once; a failing relay yields an empty result and no error.
func (c *Client) FetchCandidates(ctx context.Context, query string) (docs []search.Document, err error) {
	ctx, span := observability.StartSpan(ctx, "fetcher.FetchCandidates",
		attribute.Int("query.length", len(query)),
	)
	defer func() {
		span.SetAttributes(attribute.Int("documents", len(docs)))
		observability.EndSpan(span, err)
	}()

	primaryURL := c.PostsURL(query)
	log := c.logger.WithField("url", primaryURL)

	body, status, err := c.get(ctx, primaryURL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, errGate) {
			return nil, err
		}
		log.WithError(err).Warn("Posts endpoint unreachable, retrying through relay")
		c.metrics.IncFallback()
		return c.fetchViaRelay(ctx, primaryURL), nil
	}

	if status < 200 || status > 299 {
		return nil, &StatusError{URL: primaryURL, StatusCode: status}
	}

	docs, err = decodePosts(body)
	if err != nil {
		return nil, fmt.Errorf("decode posts: %w", err)
	}

	log.WithField("documents", len(docs)).Debug("Fetched candidates")
	return docs, nil
}

func (c *Client) fetchViaRelay(ctx context.Context, primaryURL string) []search.Document {
	relayURL := c.cfg.RelayURL + url.QueryEscape(primaryURL)

	docs, err := c.relay(ctx, relayURL)
	if err != nil {
		c.logger.WithError(err).WithField("relay_url", relayURL).Warn("Relay fallback failed, continuing with no documents")
		c.metrics.IncRelayFailure(relayReason(err))
		return []search.Document{}
	}

	c.logger.WithField("documents", len(docs)).Debug("Fetched candidates through relay")
	return docs
}

func (c *Client) relay(ctx context.Context, relayURL string) ([]search.Document, error) {
	body, status, err := c.get(ctx, relayURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRelayNetwork, err)
	}
	if status < 200 || status > 299 {
		return nil, fmt.Errorf("%w: %d", ErrRelayStatus, status)
	}

	var envelope relayEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: envelope: %v", ErrRelayDecode, err)
	}
	if envelope.Contents == nil || *envelope.Contents == "" {
		return nil, ErrRelayEmpty
	}

	docs, err := decodePosts([]byte(*envelope.Contents))
	if err != nil {
		return nil, fmt.Errorf("%w: contents: %v", ErrRelayDecode, err)
	}
	return docs, nil
}

var errGate = errors.New("request refused by gate")

// get performs a gated GET and returns the body and status code
func (c *Client) get(ctx context.Context, rawURL string) ([]byte, int, error) {
	if c.gate != nil {
		release, err := c.gate.Acquire(ctx, rawURL)
		if err != nil {
			if ctx.Err() != nil {
				return nil, 0, err
			}
			return nil, 0, fmt.Errorf("%w: %v", errGate, err)
		}
		defer release()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("network error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	return body, resp.StatusCode, nil
}

func decodePosts(body []byte) ([]search.Document, error) {
	var posts []wpPost
	if err := json.Unmarshal(body, &posts); err != nil {
		return nil, err
	}

	docs := make([]search.Document, 0, len(posts))
	for _, p := range posts {
		docs = append(docs, search.Document{
			ID:      p.ID,
			Title:   p.Title.Rendered,
			Content: p.Content.Rendered,
			Excerpt: p.Excerpt.Rendered,
			Link:    p.Link,
			Date:    p.Date,
		})
	}
	return docs, nil
}

func relayReason(err error) string {
	switch {
	case errors.Is(err, ErrRelayEmpty):
		return "empty"
	case errors.Is(err, ErrRelayDecode):
		return "decode"
	case errors.Is(err, ErrRelayStatus):
		return "status"
	default:
		return "network"
	}
}
