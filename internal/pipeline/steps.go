package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nao1215/marketcrawler/internal/plan"
	"github.com/nao1215/marketcrawler/internal/strategy"
)

// Models drained by the default pending steps, in order.
const (
	VendorModel = "vendor"
	ItemModel   = "item"
)

// DefaultSteps returns the steps of a market crawl: authenticate, drain
// pending vendors, drain pending items, walk the categories.
func DefaultSteps(logger *slog.Logger) []Step {
	if logger == nil {
		logger = slog.Default()
	}
	return []Step{
		&AuthStep{logger: logger},
		&PendingStep{Model: VendorModel, logger: logger},
		&PendingStep{Model: ItemModel, logger: logger},
		&CategoryStep{logger: logger},
	}
}

// AuthStep fetches cookies for the market before anything is requested.
type AuthStep struct {
	logger *slog.Logger
}

// Name returns the step name.
func (s *AuthStep) Name() string {
	return "auth"
}

// Do authenticates the market session.
func (s *AuthStep) Do(ctx context.Context, m *Market) error {
	ok, err := m.Deps.Session.Auth(ctx, m.Name)
	if err != nil {
		return fmt.Errorf("failed to authenticate: %w", err)
	}
	if !ok {
		logOrDefault(s.logger).Warn("no cookies for market, crawling anonymously", "market", m.Name)
	}
	return nil
}

// PendingStep crawls the pages of Model that storage knows but has not
// fetched yet.
type PendingStep struct {
	Model  string
	logger *slog.Logger
}

// Name returns the step name.
func (s *PendingStep) Name() string {
	return "pending_" + s.Model
}

// Do drains the pending pages of the step's model.
func (s *PendingStep) Do(ctx context.Context, m *Market) error {
	n, err := strategy.DrainPending(ctx, s.Model, m.Plan, m.Deps)
	if err != nil {
		return fmt.Errorf("failed to drain pending %s: %w", s.Model, err)
	}
	logOrDefault(s.logger).Info("pending drained", "market", m.Name, "model", s.Model, "stored", n)
	return nil
}

// CategoryStep walks every category seed of the plan.
type CategoryStep struct {
	logger *slog.Logger
}

// Name returns the step name.
func (s *CategoryStep) Name() string {
	return "categories"
}

// Do expands the seeds and resumes each category.
func (s *CategoryStep) Do(ctx context.Context, m *Market) error {
	seeds, err := m.Plan.SeedPages()
	if err != nil {
		return err
	}
	if len(seeds) == 0 {
		logOrDefault(s.logger).Warn("plan has no category pages", "market", m.Name)
		return nil
	}

	strat, err := strategy.Build(strategy.KindForModel(plan.CategoryModel), plan.CategoryModel, m.Plan, m.Deps)
	if err != nil {
		return err
	}
	stored, err := strat.Start(ctx, seeds)
	if err != nil {
		return fmt.Errorf("failed to crawl categories: %w", err)
	}
	logOrDefault(s.logger).Info("categories crawled", "market", m.Name, "stored", len(stored))
	return nil
}

func logOrDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
