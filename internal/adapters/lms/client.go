// Package lms is the REST client of the grading platform. Every request is
// retried on transient failures and bracketed by the shared quota tracker.
package lms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/rubricsync/internal/backoff"
	"github.com/okian/rubricsync/internal/pagination"
	"github.com/okian/rubricsync/internal/quota"
	"github.com/okian/rubricsync/pkg/logger"
	"github.com/okian/rubricsync/pkg/metrics"
)

// Default client configuration constants.
const (
	defaultPerPage      = 100
	defaultPollInterval = 5 * time.Second
	defaultTimeout      = 30 * time.Second

	acceptHeader = "application/json+canvas-string-ids"
)

type credential struct {
	baseURL string
	token   string
}

// Client talks to the grading platform. It is safe for concurrent use.
type Client struct {
	mu   sync.RWMutex
	cred credential

	http         *http.Client
	perPage      int
	pollInterval time.Duration
	backoff      *backoff.Executor
	backoffOpts  []backoff.Option
	quota        *quota.Tracker
	logger       logger.Logger
	inFlight     atomic.Int64
}

// Option applies a configuration option to the Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithPerPage sets the page size requested from listing endpoints.
func WithPerPage(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.perPage = n
		}
	}
}

// WithPollInterval sets how often batch jobs are polled.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithBackoffOptions tunes the retry policy applied to every request.
func WithBackoffOptions(opts ...backoff.Option) Option {
	return func(c *Client) {
		c.backoffOpts = append(c.backoffOpts, opts...)
	}
}

// WithQuota shares an existing quota tracker.
func WithQuota(q *quota.Tracker) Option {
	return func(c *Client) {
		if q != nil {
			c.quota = q
		}
	}
}

// WithLogger sets a custom logger for the client.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates an unconfigured client; call Configure before issuing requests.
func New(opts ...Option) *Client {
	c := &Client{
		http:         &http.Client{Timeout: defaultTimeout},
		perPage:      defaultPerPage,
		pollInterval: defaultPollInterval,
		logger:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.quota == nil {
		c.quota = quota.New()
	}
	bopts := []backoff.Option{
		backoff.WithLogger(c.logger),
		backoff.WithOnRetry(func(attempt int, delay time.Duration, err error) {
			metrics.RecordAPIRetry()
			c.logger.Warn(context.Background(), "Fail to communicate with the platform. Retrying...",
				logger.Int("attempt", attempt),
				logger.Duration("delay", delay),
				logger.Error(err),
			)
		}),
	}
	c.backoff = backoff.New(append(bopts, c.backoffOpts...)...)
	return c
}

// Configure sets the credential used by subsequent requests and resets the
// quota estimate.
func (c *Client) Configure(baseURL, token string) {
	c.mu.Lock()
	c.cred = credential{baseURL: trimBase(baseURL), token: token}
	c.mu.Unlock()
	c.quota.Reset()
}

// Clear forgets the credential.
func (c *Client) Clear() {
	c.Configure("", "")
}

// Configured reports whether a credential is set.
func (c *Client) Configured() bool {
	cred := c.credential()
	return cred.baseURL != "" && cred.token != ""
}

// Quota returns the tracker shared by every request of this client.
func (c *Client) Quota() *quota.Tracker {
	return c.quota
}

func (c *Client) credential() credential {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cred
}

// response is a successful, fully read HTTP response.
type response struct {
	status int
	header http.Header
	body   []byte
}

// call issues one logical request: retried with backoff on transient
// failures, each attempt debited from the quota.
func (c *Client) call(ctx context.Context, cred credential, kind, method, rawURL string, payload any) (response, error) {
	if cred.baseURL == "" || cred.token == "" {
		return response{}, ErrNotConfigured
	}
	var body []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return response{}, fmt.Errorf("encode %s request: %w", kind, err)
		}
		body = b
	}
	return backoff.Execute(ctx, c.backoff, func(ctx context.Context) (response, error) {
		return c.attempt(ctx, cred, kind, method, rawURL, body)
	}, func(_ response, err error) bool {
		return ctx.Err() != nil || !IsTransient(err)
	})
}

func (c *Client) attempt(ctx context.Context, cred credential, kind, method, rawURL string, body []byte) (response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, rd)
	if err != nil {
		return response{}, err
	}
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("Authorization", "Bearer "+cred.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	tok := c.quota.Start()
	metrics.UpdateAPIInFlight(int(c.inFlight.Add(1)))
	start := time.Now()
	defer func() {
		metrics.UpdateAPIInFlight(int(c.inFlight.Add(-1)))
		metrics.RecordAPIRequestDuration(kind, method, float64(time.Since(start).Milliseconds()))
	}()

	resp, err := c.http.Do(req)
	if err != nil {
		c.quota.Finish(tok, quota.Report{})
		metrics.RecordAPIRequest(kind, method, "error")
		return response{}, err
	}
	defer resp.Body.Close()
	c.quota.Finish(tok, quota.ReportFromHeader(resp.Header))
	metrics.RecordAPIRequest(kind, method, strconv.Itoa(resp.StatusCode))

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return response{}, fmt.Errorf("read %s response: %w", kind, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return response{}, &HTTPError{
			Method:     method,
			URL:        redact(rawURL),
			StatusCode: resp.StatusCode,
			Body:       b,
			Header:     resp.Header.Clone(),
		}
	}
	c.logger.Debug(ctx, "platform request finished",
		logger.String("kind", kind),
		logger.String("method", method),
		logger.Int("status", resp.StatusCode),
	)
	return response{status: resp.StatusCode, header: resp.Header, body: b}, nil
}

func (c *Client) endpoint(cred credential, path string, q url.Values) string {
	u := cred.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func (c *Client) pageQuery() url.Values {
	q := url.Values{}
	q.Set("per_page", strconv.Itoa(c.perPage))
	return q
}

// list fetches the first page eagerly and returns a cursor over the rest.
// Follow-up pages go through the same retry and quota bracket.
func list[T any](ctx context.Context, c *Client, kind, path string, q url.Values, decode pagination.DecodeFunc[T], joins ...pagination.Join) (*pagination.Cursor[T], error) {
	cred := c.credential()
	first, err := c.call(ctx, cred, kind, http.MethodGet, c.endpoint(cred, path, q), nil)
	if err != nil {
		return nil, err
	}
	fetch := func(ctx context.Context, next string) (pagination.Page, error) {
		resp, err := c.call(ctx, c.credential(), kind, http.MethodGet, next, nil)
		if err != nil {
			return pagination.Page{}, err
		}
		return toPage(resp), nil
	}
	return pagination.New(toPage(first), fetch, pagination.NewUnwrapper(decode, joins...)), nil
}

func toPage(r response) pagination.Page {
	return pagination.Page{Body: r.body, NextURL: pagination.NextLink(r.header)}
}

func trimBase(baseURL string) string {
	return strings.TrimRight(strings.TrimSpace(baseURL), "/")
}

func segment(id string) string {
	return url.PathEscape(id)
}

// redact drops the query string from URLs reported in errors.
func redact(rawURL string) string {
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}
