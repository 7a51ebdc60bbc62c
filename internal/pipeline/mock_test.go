package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nao1215/marketcrawler/internal/budget"
	"github.com/nao1215/marketcrawler/internal/database"
	"github.com/nao1215/marketcrawler/internal/model"
	"github.com/nao1215/marketcrawler/internal/plan"
	"github.com/nao1215/marketcrawler/internal/session"
	"github.com/nao1215/marketcrawler/internal/strategy"
)

const shopDomain = "http://shop.onion"

const shopPlan = `
meta:
  market: shop
  domain: http://shop.onion/
models:
  all:
    validators:
      status: {invalid: 400}
  category:
    pages:
      - name: drugs
        path: /c/${id}
        vars: {list: [1]}
    elements:
      - {name: listing, selector: "a.listing", attr: href, many: true}
      - {name: next_page, selector: "a.next", attr: href}
`

// shopPages serves one category page listing two items.
func shopPages() map[string]string {
	return map[string]string{
		"/c/1":    `<html><body><a class="listing" href="/item/1">1</a><a class="listing" href="/item/2">2</a></body></html>`,
		"/item/1": `<html><body><h1>one</h1></body></html>`,
		"/item/2": `<html><body><h1>two</h1></body></html>`,
	}
}

// fakeSession serves pages by path and counts authentications.
type fakeSession struct {
	mu        sync.Mutex
	pages     map[string]string
	requested []string
	auths     int
	authOK    bool
	authErr   error
	cookies   func(ctx context.Context, market string) (map[string]string, error)
	budget    *budget.Budget
}

func newFakeSession(t *testing.T, pages map[string]string) *fakeSession {
	t.Helper()

	b, err := budget.New(budget.PolicySimple)
	if err != nil {
		t.Fatalf("failed to create budget: %v", err)
	}
	return &fakeSession{pages: pages, authOK: true, budget: b}
}

func (f *fakeSession) Request(_ context.Context, rawURL string) session.Response {
	path := strings.TrimPrefix(rawURL, shopDomain)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.requested = append(f.requested, path)
	f.budget.Consume()

	body, ok := f.pages[path]
	if !ok {
		return &session.NetworkError{URL: rawURL, Cause: errors.New("connection refused")}
	}
	return &session.Fetched{URL: rawURL, StatusCode: 200, Body: []byte(body)}
}

func (f *fakeSession) Auth(ctx context.Context, market string) (bool, error) {
	f.mu.Lock()
	f.auths++
	cookies := f.cookies
	f.mu.Unlock()

	if cookies != nil {
		got, err := cookies(ctx, market)
		if err != nil {
			return false, err
		}
		return len(got) > 0, nil
	}
	return f.authOK, f.authErr
}

func (f *fakeSession) Connections() int {
	return 2
}

func (f *fakeSession) Budget() *budget.Budget {
	return f.budget
}

func (f *fakeSession) requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.requested)
}

func (f *fakeSession) authCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.auths
}

// fakeCore hands out markets from a queue.
type fakeCore struct {
	mu      sync.Mutex
	markets []string
	err     error
	cookies map[string]string
}

func (c *fakeCore) Market(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return "", c.err
	}
	if len(c.markets) == 0 {
		return "", nil
	}
	next := c.markets[0]
	c.markets = c.markets[1:]
	return next, nil
}

func (c *fakeCore) Cookies(context.Context, string) (map[string]string, error) {
	return c.cookies, nil
}

// fakePlanner parses plans from YAML documents keyed by market.
type fakePlanner struct {
	docs map[string]string
}

func (p *fakePlanner) Plan(_ context.Context, market string) (*plan.Plan, error) {
	doc, ok := p.docs[market]
	if !ok {
		return nil, fmt.Errorf("%w: %s", plan.ErrPlanNotFound, market)
	}
	return plan.Parse([]byte(doc))
}

// recordingWriter keeps the summaries it was asked to write.
type recordingWriter struct {
	runs []*model.Run
}

func (w *recordingWriter) Write(run *model.Run) (int, error) {
	w.runs = append(w.runs, run)
	return 0, nil
}

func setupTestDB(t *testing.T) *database.CrawlDB {
	t.Helper()

	db, err := database.Open(t.TempDir(), database.DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func parsePlan(t *testing.T, doc string) *plan.Plan {
	t.Helper()

	p, err := plan.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("failed to parse plan: %v", err)
	}
	return p
}

func testDeps(t *testing.T) strategy.Deps {
	t.Helper()

	return strategy.Deps{
		DataDir:      t.TempDir(),
		RetryBackoff: time.Millisecond,
	}
}

// newMarket builds the shared market state the steps run on.
func newMarket(t *testing.T, doc string, sess *fakeSession, storage strategy.Storage) *Market {
	t.Helper()

	run := model.NewRun("shop")
	deps := testDeps(t)
	deps.Session = sess
	deps.Storage = storage
	deps.Market = "shop"
	deps.Run = run
	return &Market{Name: "shop", Plan: parsePlan(t, doc), Deps: deps, Run: run}
}

func countsFor(t *testing.T, db *database.CrawlDB, modelName string) database.ModelCount {
	t.Helper()

	counts, err := db.Counts(context.Background(), "shop")
	if err != nil {
		t.Fatalf("failed to count pages: %v", err)
	}
	for _, c := range counts {
		if c.Model == modelName {
			return c
		}
	}
	return database.ModelCount{Model: modelName}
}
