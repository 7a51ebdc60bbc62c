package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/nao1215/marketcrawler/internal/model"
	"github.com/nao1215/marketcrawler/internal/plan"
	"github.com/nao1215/marketcrawler/internal/strategy"
)

// Market is the state shared by the steps crawling one market.
type Market struct {
	// Name is the market name handed out by the core.
	Name string
	// Plan describes the market's content models.
	Plan *plan.Plan
	// Deps are passed to every strategy built for the market.
	Deps strategy.Deps
	// Run collects the summary.
	Run *model.Run
}

// Step is one stage of a market crawl.
type Step interface {
	// Do runs the step. An error that is not plan.ErrMalformedPlan lets the
	// following steps run when the pipeline continues on error.
	Do(ctx context.Context, m *Market) error

	// Name returns the step's name for logging purposes.
	Name() string
}

// Pipeline orchestrates the execution of multiple steps.
type Pipeline struct {
	steps []Step

	logger *slog.Logger

	// continueOnError determines whether to continue executing steps
	// after one fails.
	continueOnError bool
}

// Option is a function that configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets a custom logger for the pipeline.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithContinueOnError configures the pipeline to run the remaining steps
// after one fails. A malformed plan still stops the pipeline.
func WithContinueOnError(continueOnError bool) Option {
	return func(p *Pipeline) {
		p.continueOnError = continueOnError
	}
}

// New creates a new Pipeline with the given options.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		steps: make([]Step, 0),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// AddStep appends a step to the pipeline.
func (p *Pipeline) AddStep(step Step) {
	p.steps = append(p.steps, step)
}

// AddSteps appends multiple steps to the pipeline.
func (p *Pipeline) AddSteps(steps ...Step) {
	p.steps = append(p.steps, steps...)
}

// Execute runs all steps in order on m.
//
// Cancellation is checked before each step; a running step watches ctx
// itself. The first error is returned unless the pipeline continues on
// error, in which case the last error is returned after all steps ran.
func (p *Pipeline) Execute(ctx context.Context, m *Market) error {
	var lastErr error
	for _, step := range p.steps {
		if err := ctx.Err(); err != nil {
			p.logger.Warn("pipeline cancelled",
				"step", step.Name(),
				"market", m.Name,
				"reason", err,
			)
			m.Run.Fail(err)
			return err
		}

		p.logger.Info("executing step",
			"step", step.Name(),
			"market", m.Name,
		)

		err := step.Do(ctx, m)
		m.Run.AddStep(step.Name())
		if err == nil {
			p.logger.Debug("step completed",
				"step", step.Name(),
				"market", m.Name,
			)
			continue
		}

		p.logger.Error("step failed",
			"step", step.Name(),
			"market", m.Name,
			"error", err,
		)
		m.Run.Fail(err)

		if !p.continueOnError || errors.Is(err, plan.ErrMalformedPlan) || ctx.Err() != nil {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// StepCount returns the number of steps in the pipeline.
func (p *Pipeline) StepCount() int {
	return len(p.steps)
}

// StepNames returns the names of all steps in execution order.
func (p *Pipeline) StepNames() []string {
	names := make([]string, len(p.steps))
	for i, step := range p.steps {
		names[i] = step.Name()
	}
	return names
}
