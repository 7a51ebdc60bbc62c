package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nao1215/marketcrawler/internal/budget"
	"github.com/nao1215/marketcrawler/internal/model"
	"github.com/nao1215/marketcrawler/internal/plan"
	"github.com/nao1215/marketcrawler/internal/session"
	"github.com/nao1215/marketcrawler/internal/strategy"
)

// Core picks the markets to crawl and supplies their cookies.
type Core interface {
	// Market returns the next market, or "" when there is nothing left.
	Market(ctx context.Context) (string, error)
	// Cookies returns fresh authentication cookies for market.
	Cookies(ctx context.Context, market string) (map[string]string, error)
}

// Planner loads the plan of a market.
type Planner interface {
	Plan(ctx context.Context, market string) (*plan.Plan, error)
}

// Session is the per-market session the steps crawl through.
type Session interface {
	strategy.Session
	Budget() *budget.Budget
}

// SessionFactory builds a fresh session for market that obtains cookies
// from cookies.
type SessionFactory func(market string, cookies session.CookieFunc) (Session, error)

// ReportWriter writes the summary of a market crawl.
type ReportWriter interface {
	Write(run *model.Run) (int, error)
}

// Runner crawls markets until the core runs out of them.
type Runner struct {
	core     Core
	planner  Planner
	sessions SessionFactory
	storage  strategy.Storage

	deps       strategy.Deps
	marketDeps func(market string, deps strategy.Deps) strategy.Deps
	steps      []Step
	writer     ReportWriter
	logger     *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithDeps sets the strategy settings shared by every market. Session,
// Storage, Market and Run are filled in per market.
func WithDeps(deps strategy.Deps) RunnerOption {
	return func(r *Runner) {
		r.deps = deps
	}
}

// WithMarketDeps adjusts the shared settings for one market, e.g. to
// apply its configured domain or URL filter.
func WithMarketDeps(fn func(market string, deps strategy.Deps) strategy.Deps) RunnerOption {
	return func(r *Runner) {
		r.marketDeps = fn
	}
}

// WithSteps replaces DefaultSteps.
func WithSteps(steps ...Step) RunnerOption {
	return func(r *Runner) {
		r.steps = steps
	}
}

// WithReportWriter sets where market summaries go.
func WithReportWriter(w ReportWriter) RunnerOption {
	return func(r *Runner) {
		r.writer = w
	}
}

// WithRunnerLogger sets a custom logger.
func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// NewRunner creates a runner.
func NewRunner(core Core, planner Planner, sessions SessionFactory, storage strategy.Storage, opts ...RunnerOption) *Runner {
	r := &Runner{
		core:     core,
		planner:  planner,
		sessions: sessions,
		storage:  storage,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.steps == nil {
		r.steps = DefaultSteps(r.logger)
	}
	if r.deps.Logger == nil {
		r.deps.Logger = r.logger
	}
	return r
}

// Run crawls markets until the core returns none or ctx is cancelled. It
// returns the summaries of the markets that were crawled.
//
// A market without a plan is skipped. A market whose steps fail is logged
// and the next market is requested.
func (r *Runner) Run(ctx context.Context) ([]*model.Run, error) {
	var runs []*model.Run
	for {
		if err := ctx.Err(); err != nil {
			return runs, err
		}

		name, err := r.core.Market(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return runs, ctxErr
			}
			return runs, fmt.Errorf("failed to get next market: %w", err)
		}
		if name == "" {
			r.logger.Info("no more markets")
			return runs, nil
		}

		run, err := r.crawlMarket(ctx, name)
		if run != nil {
			runs = append(runs, run)
			r.write(run)
		}
		if err == nil {
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return runs, ctxErr
		}
		if errors.Is(err, plan.ErrPlanNotFound) {
			r.logger.Warn("skipping market without plan", "market", name, "error", err)
			continue
		}
		r.logger.Error("market crawl failed", "market", name, "error", err)
	}
}

func (r *Runner) crawlMarket(ctx context.Context, name string) (*model.Run, error) {
	p, err := r.planner.Plan(ctx, name)
	if err != nil {
		return nil, err
	}

	sess, err := r.sessions(name, r.core.Cookies)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	run := model.NewRun(name)
	deps := r.deps
	if r.marketDeps != nil {
		deps = r.marketDeps(name, deps)
	}
	deps.Session = sess
	deps.Storage = r.storage
	deps.Market = name
	deps.Run = run

	m := &Market{Name: name, Plan: p, Deps: deps, Run: run}

	pl := New(WithLogger(r.logger), WithContinueOnError(true))
	pl.AddSteps(r.steps...)
	err = pl.Execute(ctx, m)

	run.Finish(sess.Budget().Recalculations())
	return run, err
}

func (r *Runner) write(run *model.Run) {
	if r.writer == nil {
		return
	}
	if _, err := r.writer.Write(run); err != nil {
		r.logger.Warn("failed to write run summary", "market", run.Market, "error", err)
	}
}
