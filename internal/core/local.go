package core

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

const (
	// CookiesFile is the cookie file name inside a market directory.
	CookiesFile = "cookies.json"

	// skipAnswer at the cookie prompt continues without new cookies.
	skipAnswer = "skip"
)

// Local talks to an operator through a reader and a writer.
//
// Concurrent fetches that fail validation at the same time share a single
// cookie prompt.
type Local struct {
	dir string
	out io.Writer

	// mu serializes reads from in.
	mu sync.Mutex
	in *bufio.Reader

	group  singleflight.Group
	logger *slog.Logger
}

// LocalOption configures a Local core.
type LocalOption func(*Local)

// WithLocalLogger sets a custom logger.
func WithLocalLogger(logger *slog.Logger) LocalOption {
	return func(l *Local) {
		l.logger = logger
	}
}

// NewLocal creates a core that reads answers from in, writes prompts to
// out and reads cookies from <dir>/markets/<market>/cookies.json.
func NewLocal(in io.Reader, out io.Writer, dir string, opts ...LocalOption) *Local {
	l := &Local{
		dir:    dir,
		out:    out,
		in:     bufio.NewReader(in),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CookiesPath returns the cookie file of market.
func (l *Local) CookiesPath(market string) string {
	return filepath.Join(l.dir, "markets", market, CookiesFile)
}

// Market asks for the next market. An empty answer or end of input returns "".
func (l *Local) Market(ctx context.Context) (string, error) {
	_, _ = fmt.Fprint(l.out, "Market to crawl (empty to quit)\n> ")
	line, err := l.readLine(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "", nil
		}
		return "", err
	}
	return line, nil
}

// Cookies asks the operator to log in to market and save the cookies, then
// reads them. Answering "skip" returns no cookies.
func (l *Local) Cookies(ctx context.Context, market string) (map[string]string, error) {
	v, err, shared := l.group.Do(market, func() (any, error) {
		path := l.CookiesPath(market)
		if err := ensureCookiesFile(path); err != nil {
			return nil, err
		}

		_, _ = fmt.Fprintf(l.out,
			"Market %s needs authentication.\nSave its cookies to %s and press enter, or type %q to continue without.\n> ",
			market, path, skipAnswer)

		answer, err := l.readLine(ctx)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		if answer == skipAnswer {
			return map[string]string{}, nil
		}
		return ReadCookiesFile(path)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		l.logger.Debug("shared cookie prompt", "market", market)
	}

	cookies, _ := v.(map[string]string)
	out := make(map[string]string, len(cookies))
	for k, val := range cookies {
		out[k] = val
	}
	return out, nil
}

// readLine reads one trimmed line. A cancelled ctx abandons the read.
func (l *Local) readLine(ctx context.Context) (string, error) {
	type result struct {
		line string
		err  error
	}
	done := make(chan result, 1)

	go func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		line, err := l.in.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			done <- result{err: err}
			return
		}
		done <- result{line: strings.TrimSpace(line)}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		return r.line, r.err
	}
}

func ensureCookiesFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create market directory: %w", err)
	}
	if err := os.WriteFile(path, []byte("{}\n"), 0600); err != nil {
		return fmt.Errorf("failed to create cookies file: %w", err)
	}
	return nil
}

// ReadCookiesFile reads a cookies file. Both a {"name": "value"} object and
// a browser export list of {"name", "value"} entries are accepted.
func ReadCookiesFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is built from the data directory
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}

	var flat map[string]string
	if err := json.Unmarshal(data, &flat); err == nil {
		return flat, nil
	}

	var entries []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCookies, path)
	}
	cookies := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.Name != "" {
			cookies[e.Name] = e.Value
		}
	}
	return cookies, nil
}
