package strategy

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nao1215/marketcrawler/internal/model"
	"github.com/nao1215/marketcrawler/internal/plan"
	"github.com/nao1215/marketcrawler/internal/session"
)

const testDomain = "http://market.onion"

const testPlan = `
meta:
  market: market
  domain: http://market.onion/
models:
  all:
    validators:
      status: {invalid: 400}
  category:
    elements:
      - {name: listing, selector: "a.listing", attr: href, many: true}
      - {name: next_page, selector: "a.next", attr: href}
`

func parseTestPlan(t *testing.T, doc string) *plan.Plan {
	t.Helper()

	p, err := plan.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("failed to parse plan: %v", err)
	}
	return p
}

// fakeSession serves pages by path and records every request.
type fakeSession struct {
	mu        sync.Mutex
	pages     map[string]string
	dynamic   func(path string, n int) (string, bool)
	requested []string
	conns     int
	onRequest func(path string, n int)
}

func (f *fakeSession) Request(_ context.Context, rawURL string) session.Response {
	path := strings.TrimPrefix(rawURL, testDomain)

	f.mu.Lock()
	f.requested = append(f.requested, path)
	n := len(f.requested)
	hook := f.onRequest
	body, ok := f.pages[path]
	if !ok && f.dynamic != nil {
		body, ok = f.dynamic(path, n)
	}
	f.mu.Unlock()

	if hook != nil {
		hook(path, n)
	}
	if !ok {
		return &session.NetworkError{URL: rawURL, Cause: errors.New("connection refused")}
	}
	return &session.Fetched{URL: rawURL, StatusCode: 200, Body: []byte(body)}
}

func (f *fakeSession) Auth(context.Context, string) (bool, error) {
	return false, nil
}

func (f *fakeSession) Connections() int {
	if f.conns == 0 {
		return 5
	}
	return f.conns
}

func (f *fakeSession) requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.requested)
}

// memStorage keeps pages in memory keyed by model and url.
type memStorage struct {
	mu         sync.Mutex
	fetched    map[string]bool
	attempts   map[string]int
	chunks     []int
	contentLen []int
	failStores int
	failChecks int
}

func newMemStorage() *memStorage {
	return &memStorage{
		fetched:  make(map[string]bool),
		attempts: make(map[string]int),
	}
}

func key(modelName, url string) string {
	return modelName + "|" + url
}

func (m *memStorage) Store(_ context.Context, _, modelName string, pages []*model.Page) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failStores > 0 {
		m.failStores--
		return false, errors.New("database is locked")
	}

	m.chunks = append(m.chunks, len(pages))
	for _, p := range pages {
		m.contentLen = append(m.contentLen, len(p.Content()))
		k := key(modelName, p.URL)
		if p.Crawled() {
			m.fetched[k] = true
			continue
		}
		if _, ok := m.fetched[k]; !ok {
			m.fetched[k] = false
		}
		m.attempts[k]++
	}
	return true, nil
}

func (m *memStorage) Pending(_ context.Context, _, modelName string) ([]*model.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var urls []string
	for k, done := range m.fetched {
		name, url, _ := strings.Cut(k, "|")
		if name == modelName && !done && m.attempts[k] < 3 {
			urls = append(urls, url)
		}
	}
	slices.Sort(urls)

	pages := make([]*model.Page, len(urls))
	for i, u := range urls {
		pages[i] = model.NewPage(u, nil)
	}
	return pages, nil
}

func (m *memStorage) Check(_ context.Context, _, modelName string, urls []string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failChecks > 0 {
		m.failChecks--
		return nil, errors.New("database is locked")
	}

	var existing []string
	for _, u := range urls {
		if _, ok := m.fetched[key(modelName, u)]; ok {
			existing = append(existing, u)
		}
	}
	for _, u := range urls {
		k := key(modelName, u)
		if _, ok := m.fetched[k]; !ok {
			m.fetched[k] = false
		}
	}
	return existing, nil
}

func (m *memStorage) isFetched(modelName, url string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetched[key(modelName, url)]
}

func testDeps(t *testing.T, sess *fakeSession, store *memStorage) Deps {
	t.Helper()

	return Deps{
		Session:      sess,
		Storage:      store,
		DataDir:      t.TempDir(),
		RetryBackoff: time.Millisecond,
		Out:          &syncBuffer{},
		Run:          model.NewRun("market"),
	}
}

// syncBuffer is a strings.Builder safe for concurrent writers.
type syncBuffer struct {
	mu sync.Mutex
	b  strings.Builder
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

// categoryPage renders a listing page.
func categoryPage(next string, listings ...string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, l := range listings {
		fmt.Fprintf(&b, `<a class="listing" href="%s">item</a>`, l)
	}
	if next != "" {
		fmt.Fprintf(&b, `<a class="next" href="%s">next</a>`, next)
	}
	b.WriteString("</body></html>")
	return b.String()
}
