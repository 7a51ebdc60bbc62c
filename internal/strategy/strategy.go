package strategy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/nao1215/marketcrawler/internal/crawler"
	"github.com/nao1215/marketcrawler/internal/model"
	"github.com/nao1215/marketcrawler/internal/plan"
	"github.com/nao1215/marketcrawler/internal/state"
	"github.com/nao1215/marketcrawler/internal/validator"
)

// Storage persists pages and tracks which URLs a market already knows.
type Storage interface {
	// Store persists pages. Pages without content count as a failed fetch.
	Store(ctx context.Context, market, model string, pages []*model.Page) (bool, error)
	// Pending returns a bounded batch of known but not yet fetched pages.
	Pending(ctx context.Context, market, model string) ([]*model.Page, error)
	// Check returns the urls that already exist and records the rest as placeholders.
	Check(ctx context.Context, market, model string, urls []string) ([]string, error)
}

// Session fetches pages and reports the allowed concurrency.
type Session interface {
	crawler.Fetcher
	Connections() int
}

// Strategy crawls a list of pages and returns those that were stored.
type Strategy interface {
	Start(ctx context.Context, pages []*model.Page) ([]*model.Page, error)
}

// Kind names a strategy implementation.
type Kind string

const (
	// KindPage crawls a flat list of pages.
	KindPage Kind = "page"
	// KindCategory walks paginated category listings.
	KindCategory Kind = "category"
)

// KindForModel returns the strategy kind that crawls model.
func KindForModel(name string) Kind {
	if name == plan.CategoryModel {
		return KindCategory
	}
	return KindPage
}

// Deps are the collaborators and settings shared by every strategy of a market.
type Deps struct {
	Session Session
	Storage Storage

	// Market is used when the plan meta has no market name.
	Market string
	// Domain overrides the plan domain, e.g. to crawl a mirror.
	Domain string
	// Suffix is used when neither the plan meta nor the model options set a path.
	Suffix string

	// DataDir holds the per-market state documents.
	DataDir string
	// DiagnosticsDir receives dumps of rejected responses.
	DiagnosticsDir string
	// StateOptions configure the category state (window bounds, clock).
	StateOptions []state.Option
	// MaxRescans bounds the re-scans of a category that keeps yielding new
	// listings. Zero means unbounded.
	MaxRescans int
	// Filter restricts which discovered URLs are crawled.
	Filter *crawler.Filter

	// RetryBackoff is the pause between failed storage calls.
	RetryBackoff time.Duration
	// Out receives progress lines.
	Out io.Writer
	// Run collects the summary of the market crawl.
	Run    *model.Run
	Logger *slog.Logger
}

func (d Deps) withDefaults() Deps {
	if d.RetryBackoff <= 0 {
		d.RetryBackoff = DefaultRetryBackoff
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return d
}

// constructors maps every kind to its constructor.
var constructors = map[Kind]func(name string, c *crawler.Crawler, p *plan.Plan, deps Deps) (Strategy, error){
	KindPage: func(name string, c *crawler.Crawler, _ *plan.Plan, deps Deps) (Strategy, error) {
		return newPageStrategy(name, c, deps), nil
	},
	KindCategory: func(name string, c *crawler.Crawler, p *plan.Plan, deps Deps) (Strategy, error) {
		elements, err := p.Elements(name)
		if err != nil {
			return nil, err
		}
		return newCategoryStrategy(name, c, elements, deps)
	},
}

// Build assembles the strategy of kind for model from the plan: validators
// from the model and "all" sections, the crawler from the plan meta and the
// model options. A plan without meta fails with plan.ErrMalformedPlan.
func Build(kind Kind, name string, p *plan.Plan, deps Deps) (Strategy, error) {
	ctor, ok := constructors[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	deps = deps.withDefaults()

	c, err := buildCrawler(name, p, deps)
	if err != nil {
		return nil, err
	}
	return ctor(name, c, p, deps)
}

func buildCrawler(name string, p *plan.Plan, deps Deps) (*crawler.Crawler, error) {
	sections, err := p.Validators(name)
	if err != nil {
		return nil, err
	}
	validators, err := validator.FromSections(sections, deps.Logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", plan.ErrMalformedPlan, err)
	}

	meta, err := p.Meta()
	if err != nil {
		return nil, err
	}
	opts, err := p.Options(name)
	if err != nil {
		return nil, err
	}

	market := meta.Market
	if market == "" {
		market = deps.Market
	}
	domain := meta.Domain
	if deps.Domain != "" {
		domain = deps.Domain
	}
	suffix := opts.Path
	if suffix == "" {
		suffix = meta.Path
	}
	if suffix == "" {
		suffix = deps.Suffix
	}

	c, err := crawler.New(market, domain,
		crawler.WithSuffix(suffix),
		crawler.WithValidators(validators),
		crawler.WithDiagnosticsDir(deps.DiagnosticsDir),
		crawler.WithFilter(deps.Filter),
		crawler.WithLogger(deps.Logger),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", plan.ErrMalformedPlan, err)
	}
	return c, nil
}

// DrainPending crawls the pending pages of model until storage has none
// left. Pending pages skip the existence check. It returns the number of
// pages stored.
func DrainPending(ctx context.Context, name string, p *plan.Plan, deps Deps) (int, error) {
	deps = deps.withDefaults()

	c, err := buildCrawler(name, p, deps)
	if err != nil {
		return 0, err
	}
	strat := newPageStrategy(name, c, deps)

	total := 0
	for {
		pending, err := retry(ctx, deps.RetryBackoff, deps.Logger, "pending", func(ctx context.Context) ([]*model.Page, error) {
			return deps.Storage.Pending(ctx, c.Market(), name)
		})
		if err != nil {
			return total, err
		}
		if len(pending) == 0 {
			return total, nil
		}

		deps.Logger.Info("crawling pending pages", "market", c.Market(), "model", name, "count", len(pending))
		stored, err := strat.Run(ctx, pending, false)
		total += len(stored)
		if err != nil {
			return total, err
		}
	}
}
