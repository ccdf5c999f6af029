package versions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/imagetea/internal/httputil"
	"github.com/dunamismax/imagetea/internal/ratelimit"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const DefaultBaseURL = "https://api.github.com"

var (
	// ErrNotFound is a 404 from GitHub, for example a repo without releases.
	ErrNotFound = errors.New("github resource not found")
	// ErrQuotaExhausted means the local token bucket refused the call.
	ErrQuotaExhausted = errors.New("github request quota exhausted")
)

// quotaSubject is GitHub's rate limit resource for the REST endpoints used here.
const quotaSubject = "core"

// Limiter guards outbound API quota. ratelimit.RedisTokenBucket and
// ratelimit.LocalTokenBucket satisfy it.
type Limiter interface {
	Allow(ctx context.Context, subject string) (ratelimit.Decision, error)
}

// quotaObserver is implemented by limiters that accept GitHub's own quota headers.
type quotaObserver interface {
	Observe(ctx context.Context, subject string, obs ratelimit.Observation) error
}

// Repo names a GitHub repository.
type Repo struct {
	Owner string
	Name  string
}

func (r Repo) String() string {
	return r.Owner + "/" + r.Name
}

// HTMLURL is the repository page on github.com.
func (r Repo) HTMLURL() string {
	return "https://github.com/" + r.String()
}

// ParseRepo reads "owner/name".
func ParseRepo(in string) (Repo, error) {
	owner, name, ok := strings.Cut(strings.TrimSpace(in), "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return Repo{}, fmt.Errorf("invalid repo %q: want owner/name", in)
	}
	return Repo{Owner: owner, Name: name}, nil
}

type Release struct {
	TagName     string `json:"tag_name"`
	Name        string `json:"name"`
	PublishedAt string `json:"published_at"`
	ZipballURL  string `json:"zipball_url"`
	TarballURL  string `json:"tarball_url"`
	HTMLURL     string `json:"html_url"`
	Body        string `json:"body"`
}

type Tag struct {
	Name       string `json:"name"`
	ZipballURL string `json:"zipball_url"`
	TarballURL string `json:"tarball_url"`
	Commit     struct {
		SHA string `json:"sha"`
		URL string `json:"url"`
	} `json:"commit"`
}

type commitResponse struct {
	Commit struct {
		Committer struct {
			Date string `json:"date"`
		} `json:"committer"`
	} `json:"commit"`
}

type ClientConfig struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	MaxRetries int
	UserAgent  string
}

// Client is a read-only GitHub REST client for releases, tags and commits.
type Client struct {
	baseURL    string
	token      string
	userAgent  string
	maxRetries int
	httpClient *http.Client
	limiter    Limiter
	cache      *Cache
	tracer     trace.Tracer
}

// NewClient builds a client. limiter and cache may be nil.
func NewClient(cfg ClientConfig, limiter Limiter, cache *Cache) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "imagetea"
	}

	return &Client{
		baseURL:    baseURL,
		token:      cfg.Token,
		userAgent:  userAgent,
		maxRetries: cfg.MaxRetries,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		cache:      cache,
		tracer:     otel.Tracer("imagetea/versions"),
	}
}

func (c *Client) LatestRelease(ctx context.Context, repo Repo) (Release, error) {
	var out Release
	err := c.getJSON(ctx, "github.latest_release", fmt.Sprintf("%s/repos/%s/releases/latest", c.baseURL, repo), &out)
	return out, err
}

func (c *Client) Tags(ctx context.Context, repo Repo, perPage int) ([]Tag, error) {
	if perPage <= 0 {
		perPage = 30
	}
	var out []Tag
	endpoint := fmt.Sprintf("%s/repos/%s/tags?per_page=%s", c.baseURL, repo, strconv.Itoa(perPage))
	err := c.getJSON(ctx, "github.tags", endpoint, &out)
	return out, err
}

// CommitDate returns commit.committer.date for a commit API URL taken from a tag.
func (c *Client) CommitDate(ctx context.Context, commitURL string) (string, error) {
	if strings.TrimSpace(commitURL) == "" {
		return "", errors.New("commit url is required")
	}
	var out commitResponse
	if err := c.getJSON(ctx, "github.commit", commitURL, &out); err != nil {
		return "", err
	}
	return out.Commit.Committer.Date, nil
}

func (c *Client) getJSON(ctx context.Context, op, endpoint string, dst any) error {
	ctx, span := c.tracer.Start(ctx, op, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(attribute.String("http.url", endpoint))
	defer span.End()

	body, err := c.fetch(ctx, endpoint)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "github request failed")
		return err
	}

	if err := json.Unmarshal(body, dst); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode failed")
		return fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return nil
}

func (c *Client) fetch(ctx context.Context, endpoint string) ([]byte, error) {
	if body, ok := c.cache.Get(endpoint); ok {
		trace.SpanFromContext(ctx).SetAttributes(attribute.Bool("cache.hit", true))
		return body, nil
	}

	if c.limiter != nil {
		decision, err := c.limiter.Allow(ctx, quotaSubject)
		if err != nil {
			return nil, fmt.Errorf("check github quota: %w", err)
		}
		if !decision.Allowed {
			return nil, fmt.Errorf("%w: retry after %s", ErrQuotaExhausted, decision.RetryAfter)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := httputil.DoWithRetry(ctx, c.httpClient, req, c.maxRetries)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	c.observeQuota(ctx, resp.Header)

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("get %s: %w", endpoint, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("get %s: status=%d", endpoint, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", endpoint, err)
	}
	c.cache.Put(endpoint, body)
	return body, nil
}

// observeQuota hands the X-RateLimit headers to the limiter so the local bucket never
// runs ahead of the allowance GitHub reports.
func (c *Client) observeQuota(ctx context.Context, h http.Header) {
	observer, ok := c.limiter.(quotaObserver)
	if !ok {
		return
	}
	obs, ok := quotaFromHeaders(h)
	if !ok {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.Int64("github.quota.remaining", obs.Remaining))
	if err := observer.Observe(ctx, quotaSubject, obs); err != nil {
		span.RecordError(err)
	}
}

func quotaFromHeaders(h http.Header) (ratelimit.Observation, bool) {
	remaining, err := strconv.ParseInt(h.Get("X-RateLimit-Remaining"), 10, 64)
	if err != nil {
		return ratelimit.Observation{}, false
	}
	obs := ratelimit.Observation{Remaining: remaining}
	if reset, err := strconv.ParseInt(h.Get("X-RateLimit-Reset"), 10, 64); err == nil {
		obs.ResetAt = time.Unix(reset, 0).UTC()
	}
	return obs, true
}
