package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/nao1215/marketcrawler/internal/budget"
	"github.com/nao1215/marketcrawler/internal/network"
)

const (
	// DefaultUserAgent mimics Tor Browser so requests blend in with ordinary visitors.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; rv:128.0) Gecko/20100101 Firefox/128.0"

	// DefaultTimeout is the fixed per-request timeout.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxBodySize limits how much of a response body is read.
	DefaultMaxBodySize = 5 * 1024 * 1024
)

// ClientSource picks the HTTP client for a URL.
type ClientSource interface {
	ClientFor(rawURL string) (*http.Client, network.Kind, error)
}

// CookieFunc fetches fresh cookies for a market. It may block for as long
// as an operator needs to log in.
type CookieFunc func(ctx context.Context, market string) (map[string]string, error)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Session performs requests for one market on behalf of concurrent fetchers.
type Session struct {
	budget  *budget.Budget
	clients ClientSource

	cookieSource CookieFunc

	// mu guards cookies. Auth replaces the map wholesale, so a request
	// copies the reference once under the read lock.
	mu      sync.RWMutex
	cookies map[string]string

	userAgent   string
	headers     map[string]string
	timeout     time.Duration
	maxBodySize int64
	sleep       Sleeper
	logger      *slog.Logger
}

// Option configures a Session.
type Option func(*Session)

// WithCookieSource sets the callback Auth uses to obtain cookies.
func WithCookieSource(fn CookieFunc) Option {
	return func(s *Session) {
		s.cookieSource = fn
	}
}

// WithCookies sets the initial cookies.
func WithCookies(cookies map[string]string) Option {
	return func(s *Session) {
		s.cookies = maps.Clone(cookies)
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(s *Session) {
		if ua != "" {
			s.userAgent = ua
		}
	}
}

// WithHeaders adds headers to every request.
func WithHeaders(headers map[string]string) Option {
	return func(s *Session) {
		s.headers = maps.Clone(headers)
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithMaxBodySize limits how many body bytes are read.
func WithMaxBodySize(n int64) Option {
	return func(s *Session) {
		if n > 0 {
			s.maxBodySize = n
		}
	}
}

// WithSleeper replaces the delay implementation.
func WithSleeper(fn Sleeper) Option {
	return func(s *Session) {
		s.sleep = fn
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// New creates a session paced by b that sends requests through clients.
func New(b *budget.Budget, clients ClientSource, opts ...Option) *Session {
	s := &Session{
		budget:      b,
		clients:     clients,
		cookies:     map[string]string{},
		userAgent:   DefaultUserAgent,
		timeout:     DefaultTimeout,
		maxBodySize: DefaultMaxBodySize,
		sleep:       sleepContext,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Budget returns the budget pacing this session.
func (s *Session) Budget() *budget.Budget {
	return s.budget
}

// Connections returns how many concurrent fetches the budget currently allows.
func (s *Session) Connections() int {
	return s.budget.Connections()
}

// Cookies returns a copy of the current cookies.
func (s *Session) Cookies() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.cookies)
}

// Request fetches rawURL. Transport failures come back as *NetworkError.
func (s *Session) Request(ctx context.Context, rawURL string) Response {
	rec := s.budget.Consume()
	delay := s.budget.Delay()

	if err := s.sleep(ctx, delay); err != nil {
		return &NetworkError{URL: rawURL, Cause: err}
	}

	client, kind, err := s.clients.ClientFor(rawURL)
	if err != nil {
		return &NetworkError{URL: rawURL, Cause: err}
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return &NetworkError{URL: rawURL, Cause: fmt.Errorf("failed to build request: %w", err)}
	}
	req.Header.Set("User-Agent", s.userAgent)
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	s.mu.RLock()
	cookies := s.cookies
	s.mu.RUnlock()
	for _, name := range slices.Sorted(maps.Keys(cookies)) {
		req.AddCookie(&http.Cookie{Name: name, Value: cookies[name]})
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		s.logger.Debug("request failed", "url", rawURL, "network", string(kind), "error", err)
		return &NetworkError{URL: rawURL, Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBodySize))
	if err != nil {
		return &NetworkError{URL: rawURL, Cause: fmt.Errorf("failed to read body: %w", err)}
	}
	elapsed := time.Since(start)

	fetched := &Fetched{
		URL:        rawURL,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		Elapsed:    elapsed,
	}

	err = s.budget.Record(ctx, budget.Outcome{
		URL:              rawURL,
		StatusCode:       resp.StatusCode,
		Delay:            delay,
		RespondTime:      elapsed,
		RecommendationID: rec.ID,
	})
	if err != nil {
		s.logger.Warn("failed to record outcome", "url", rawURL, "error", err)
	}

	s.logger.Debug("fetched",
		"url", rawURL,
		"network", string(kind),
		"status", resp.StatusCode,
		"bytes", len(body),
		"elapsed", elapsed,
	)
	return fetched
}

// Auth asks the cookie source for fresh cookies for market. A non-empty
// result replaces the session cookies wholesale and Auth reports true.
func (s *Session) Auth(ctx context.Context, market string) (bool, error) {
	if s.cookieSource == nil {
		return false, ErrNoCookieSource
	}

	cookies, err := s.cookieSource(ctx, market)
	if err != nil {
		return false, fmt.Errorf("failed to fetch cookies for %s: %w", market, err)
	}
	if len(cookies) == 0 {
		return false, nil
	}

	replacement := maps.Clone(cookies)
	s.mu.Lock()
	s.cookies = replacement
	s.mu.Unlock()

	s.logger.Info("session authenticated", "market", market, "count", len(replacement))
	return true, nil
}
