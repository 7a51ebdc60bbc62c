package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nao1215/marketcrawler/internal/crawler"
	"github.com/nao1215/marketcrawler/internal/extract"
	"github.com/nao1215/marketcrawler/internal/model"
	"github.com/nao1215/marketcrawler/internal/plan"
	"github.com/nao1215/marketcrawler/internal/session"
	"github.com/nao1215/marketcrawler/internal/state"
	"github.com/nao1215/marketcrawler/internal/validator"
)

const (
	// ItemModel is the model listings are stored as.
	ItemModel = "item"

	elementListing  = "listing"
	elementNextPage = "next_page"
)

// CategoryStrategy walks paginated category listings and crawls the
// listings it discovers.
//
// A single coordinator goroutine drives it, so the CrawlState needs no
// locking. Concurrency only happens inside the item PageStrategy.
type CategoryStrategy struct {
	model   string
	crawler *crawler.Crawler
	listing extract.Descriptor
	next    extract.Descriptor
	items   *PageStrategy

	deps  Deps
	state *state.CrawlState

	console *console
	logger  *slog.Logger
}

func newCategoryStrategy(name string, c *crawler.Crawler, elements []extract.Descriptor, deps Deps) (*CategoryStrategy, error) {
	deps = deps.withDefaults()

	listing, ok := extract.Lookup(elements, elementListing)
	if !ok {
		return nil, fmt.Errorf("%w: model %q has no %q element", plan.ErrMalformedPlan, name, elementListing)
	}
	next, ok := extract.Lookup(elements, elementNextPage)
	if !ok {
		return nil, fmt.Errorf("%w: model %q has no %q element", plan.ErrMalformedPlan, name, elementNextPage)
	}

	// Listings are validated against the shared section only.
	itemCrawler := c.With(crawler.WithValidators(c.Validators().Only(plan.AllModels)))

	return &CategoryStrategy{
		model:   name,
		crawler: c,
		listing: listing,
		next:    next,
		items:   newPageStrategy(ItemModel, itemCrawler, deps),
		deps:    deps,
		console: newConsole(deps.Out),
		logger:  deps.Logger,
	}, nil
}

// State returns the crawl state, loading it on first use.
func (s *CategoryStrategy) State() (*state.CrawlState, error) {
	if s.state != nil {
		return s.state, nil
	}
	st, err := state.New(s.deps.DataDir, s.crawler.Market(), s.deps.StateOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to open crawl state: %w", err)
	}
	s.state = st
	return st, nil
}

// Start resumes every seed page in order and returns all listings stored.
func (s *CategoryStrategy) Start(ctx context.Context, seeds []*model.Page) ([]*model.Page, error) {
	var all []*model.Page
	for _, seed := range seeds {
		stored, err := s.Resume(ctx, seed)
		all = append(all, stored...)
		if err != nil {
			return all, err
		}
	}
	return all, nil
}

// Resume crawls the category of page until a pass finds no new listings,
// then stamps the category as crawled. A pass that found listings starts
// over with a fresh window. When MaxRescans is set and reached, Resume
// returns without stamping so the next run picks the category up again.
func (s *CategoryStrategy) Resume(ctx context.Context, page *model.Page) ([]*model.Page, error) {
	st, err := s.State()
	if err != nil {
		return nil, err
	}
	category := page.Category()

	var all []*model.Page
	for pass := 1; ; pass++ {
		status, err := st.Status(category, page.URL)
		if err != nil {
			return all, err
		}
		window := st.Window(status)

		s.console.printf("Resuming category crawl: %s (window %d, pass %d)\n", category, window, pass)

		listings, err := s.crawl(ctx, st, window, status, category)
		all = append(all, listings...)
		s.deps.Run.AddCategoryPass(model.CategoryPass{
			Category: category,
			Path:     page.URL,
			Pass:     pass,
			Window:   window,
			Listings: len(listings),
			Finished: time.Now(),
		})
		if err != nil {
			return all, err
		}

		if len(listings) == 0 {
			return all, st.Finish(status)
		}
		if s.deps.MaxRescans > 0 && pass >= s.deps.MaxRescans {
			s.logger.Warn("category still yields new listings, giving up for this run",
				"market", s.crawler.Market(),
				"category", category,
				"passes", pass,
			)
			return all, nil
		}
	}
}

// crawl follows the pagination of one category for at most window pages
// without new listings. The cursor is saved after every page so an
// interrupted crawl resumes where it stopped.
func (s *CategoryStrategy) crawl(ctx context.Context, st *state.CrawlState, window int, status *state.Status, category string) ([]*model.Page, error) {
	var listings []*model.Page

	for window > 0 {
		if err := ctx.Err(); err != nil {
			return listings, err
		}

		target := status.Target()
		s.console.printf("- %s\n", target)

		resp := s.crawler.Crawl(ctx, s.deps.Session, target, true)
		fetched, ok := resp.(*session.Fetched)
		s.deps.Run.Attempt(s.model, ok)
		if !ok {
			s.logger.Warn("category page unreachable", "category", category, "url", target)
			return listings, ctx.Err()
		}

		found, next, err := s.extract(fetched.Body)
		if err != nil {
			return listings, err
		}

		status.Last = target
		status.URL = next
		if err := st.Save(); err != nil {
			return listings, err
		}

		stored, err := s.crawlListings(ctx, found, category)
		listings = append(listings, stored...)
		if err != nil {
			return listings, err
		}

		if len(stored) > 0 {
			window = st.Window(status)
		} else {
			window--
		}

		if next == "" {
			break
		}
	}
	return listings, nil
}

// extract returns the listing urls and the next page of a category page.
// A page that cannot be parsed has neither.
func (s *CategoryStrategy) extract(body []byte) ([]string, string, error) {
	doc, err := extract.Parse(body)
	if err != nil {
		s.logger.Warn("failed to parse category page", "error", err)
		return nil, "", nil
	}

	found, err := doc.Find(s.listing)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", plan.ErrMalformedPlan, err)
	}

	nexts, err := doc.Find(s.next)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", plan.ErrMalformedPlan, err)
	}
	var next string
	if len(nexts) > 0 {
		next = nexts[0]
	}
	return found, next, nil
}

func (s *CategoryStrategy) crawlListings(ctx context.Context, urls []string, category string) ([]*model.Page, error) {
	if len(urls) == 0 {
		return nil, nil
	}
	pages := make([]*model.Page, len(urls))
	for i, u := range urls {
		pages[i] = model.NewPage(u, map[string]any{plan.CategoryModel: category})
	}
	return s.items.Start(ctx, pages)
}

// Validators returns the validators the item strategy applies to listings.
func (s *CategoryStrategy) Validators() validator.Set {
	return s.items.crawler.Validators()
}
