package strategy

import (
	"context"
	"log/slog"
	"time"

	"github.com/nao1215/marketcrawler/internal/crawler"
	"github.com/nao1215/marketcrawler/internal/model"
	"github.com/nao1215/marketcrawler/internal/session"
	"golang.org/x/sync/errgroup"
)

// PageStrategy fetches pages chunk by chunk and stores every chunk.
type PageStrategy struct {
	model   string
	crawler *crawler.Crawler
	session Session
	storage Storage

	backoff time.Duration
	console *console
	run     *model.Run
	logger  *slog.Logger
}

func newPageStrategy(name string, c *crawler.Crawler, deps Deps) *PageStrategy {
	deps = deps.withDefaults()
	return &PageStrategy{
		model:   name,
		crawler: c,
		session: deps.Session,
		storage: deps.Storage,
		backoff: deps.RetryBackoff,
		console: newConsole(deps.Out),
		run:     deps.Run,
		logger:  deps.Logger,
	}
}

// Model returns the content model the strategy stores pages as.
func (s *PageStrategy) Model() string {
	return s.model
}

// Start crawls the pages that storage does not know yet.
func (s *PageStrategy) Start(ctx context.Context, pages []*model.Page) ([]*model.Page, error) {
	return s.Run(ctx, pages, true)
}

// Run crawls pages and returns those that were fetched and stored. With
// check set, pages the filter rejects, pages storage already knows and
// duplicates are dropped first. On cancellation it returns what was stored
// so far together with ctx.Err().
func (s *PageStrategy) Run(ctx context.Context, pages []*model.Page, check bool) ([]*model.Page, error) {
	if check {
		var err error
		pages, err = s.newPages(ctx, s.allowed(pages))
		if err != nil {
			return nil, err
		}
	}

	var stored []*model.Page
	for len(pages) > 0 {
		if err := ctx.Err(); err != nil {
			return stored, err
		}

		n := min(max(s.session.Connections(), 1), len(pages))
		chunk := pages[:n]
		pages = pages[n:]

		kept, err := s.runChunk(ctx, chunk)
		stored = append(stored, kept...)
		if err != nil {
			return stored, err
		}
	}
	return stored, nil
}

// runChunk fetches chunk concurrently, then stores it. The bodies are
// released on every return path.
func (s *PageStrategy) runChunk(ctx context.Context, chunk []*model.Page) ([]*model.Page, error) {
	defer model.ReleaseAll(chunk)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(chunk))
	for _, page := range chunk {
		g.Go(func() error {
			s.fetch(gctx, page)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ok, err := retry(ctx, s.backoff, s.logger, "store", func(ctx context.Context) (bool, error) {
		return s.storage.Store(ctx, s.crawler.Market(), s.model, chunk)
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		s.logger.Warn("storage rejected chunk", "market", s.crawler.Market(), "model", s.model, "pages", len(chunk))
		return nil, nil
	}

	var stored []*model.Page
	for _, page := range chunk {
		if page.Crawled() {
			stored = append(stored, page)
		}
	}
	s.run.Stored(s.model, len(stored))
	return stored, nil
}

func (s *PageStrategy) fetch(ctx context.Context, page *model.Page) {
	if page.Crawled() {
		return
	}

	resp := s.crawler.Crawl(ctx, s.session, page.URL, true)
	fetched, ok := resp.(*session.Fetched)
	if ok {
		page.SetContent(fetched.StatusCode, fetched.Body)
	}
	s.run.Attempt(s.model, ok)
	s.console.result(ok, page.URL)
}

// allowed drops pages the crawler's filter rejects.
func (s *PageStrategy) allowed(pages []*model.Page) []*model.Page {
	out := make([]*model.Page, 0, len(pages))
	for _, page := range pages {
		if !s.crawler.Allowed(page.URL) {
			s.logger.Debug("skipping filtered url", "url", page.URL)
			continue
		}
		out = append(out, page)
	}
	return out
}

// newPages drops pages storage already knows and duplicates within pages.
func (s *PageStrategy) newPages(ctx context.Context, pages []*model.Page) ([]*model.Page, error) {
	if len(pages) == 0 {
		return nil, nil
	}

	urls := make([]string, len(pages))
	for i, page := range pages {
		urls[i] = page.URL
	}

	existing, err := retry(ctx, s.backoff, s.logger, "check", func(ctx context.Context) ([]string, error) {
		return s.storage.Check(ctx, s.crawler.Market(), s.model, urls)
	})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(existing)+len(pages))
	for _, u := range existing {
		seen[u] = struct{}{}
	}

	fresh := make([]*model.Page, 0, len(pages))
	for _, page := range pages {
		if _, dup := seen[page.URL]; dup {
			continue
		}
		seen[page.URL] = struct{}{}
		fresh = append(fresh, page)
	}

	s.run.Checked(s.model, len(pages), len(fresh))
	s.console.printf("New items: %d\nFound items: %d\n", len(fresh), len(pages))
	return fresh, nil
}
