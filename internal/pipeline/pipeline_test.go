package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/nao1215/marketcrawler/internal/model"
	"github.com/nao1215/marketcrawler/internal/plan"
)

// mockStep is a test helper that implements the Step interface.
type mockStep struct {
	name      string
	doFunc    func(ctx context.Context, m *Market) error
	callCount int
}

func (m *mockStep) Do(ctx context.Context, market *Market) error {
	m.callCount++
	if m.doFunc != nil {
		return m.doFunc(ctx, market)
	}
	return nil
}

func (m *mockStep) Name() string {
	return m.name
}

func emptyMarket() *Market {
	return &Market{Name: "shop", Run: model.NewRun("shop")}
}

func TestPipelineNew(t *testing.T) {
	t.Parallel()

	t.Run("creates pipeline with default settings", func(t *testing.T) {
		t.Parallel()

		p := New()
		if p.StepCount() != 0 {
			t.Errorf("expected 0 steps, got %d", p.StepCount())
		}
		if p.continueOnError {
			t.Error("expected continueOnError to default to false")
		}
	})

	t.Run("applies WithContinueOnError option", func(t *testing.T) {
		t.Parallel()

		p := New(WithContinueOnError(true))
		if !p.continueOnError {
			t.Error("expected continueOnError to be true")
		}
	})
}

func TestPipelineAddStep(t *testing.T) {
	t.Parallel()

	p := New()
	p.AddStep(&mockStep{name: "first"})
	p.AddSteps(&mockStep{name: "second"}, &mockStep{name: "third"})

	if p.StepCount() != 3 {
		t.Fatalf("expected 3 steps, got %d", p.StepCount())
	}
	expected := []string{"first", "second", "third"}
	for i, name := range p.StepNames() {
		if name != expected[i] {
			t.Errorf("step %d: got %q, expected %q", i, name, expected[i])
		}
	}
}

func TestPipelineExecute(t *testing.T) {
	t.Parallel()

	t.Run("executes all steps in order", func(t *testing.T) {
		t.Parallel()

		var order []string
		record := func(name string) func(context.Context, *Market) error {
			return func(context.Context, *Market) error {
				order = append(order, name)
				return nil
			}
		}

		p := New()
		p.AddSteps(
			&mockStep{name: "step-1", doFunc: record("step-1")},
			&mockStep{name: "step-2", doFunc: record("step-2")},
		)

		m := emptyMarket()
		if err := p.Execute(context.Background(), m); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(order) != 2 || order[0] != "step-1" || order[1] != "step-2" {
			t.Errorf("wrong execution order: %v", order)
		}
		if len(m.Run.Steps) != 2 {
			t.Errorf("expected steps recorded in the run, got %v", m.Run.Steps)
		}
	})

	t.Run("stops on first error by default", func(t *testing.T) {
		t.Parallel()

		expectedErr := errors.New("step failed")
		second := &mockStep{name: "should-not-run"}

		p := New()
		p.AddSteps(
			&mockStep{name: "failing", doFunc: func(context.Context, *Market) error { return expectedErr }},
			second,
		)

		m := emptyMarket()
		err := p.Execute(context.Background(), m)
		if !errors.Is(err, expectedErr) {
			t.Errorf("expected %v, got %v", expectedErr, err)
		}
		if second.callCount != 0 {
			t.Error("second step should not have been called")
		}
		if !errors.Is(m.Run.Error, expectedErr) || m.Run.ErrorMessage != "step failed" {
			t.Errorf("expected error recorded in the run, got %v", m.Run.Error)
		}
	})

	t.Run("continues on error when configured", func(t *testing.T) {
		t.Parallel()

		second := &mockStep{name: "should-run"}

		p := New(WithContinueOnError(true))
		p.AddSteps(
			&mockStep{name: "failing", doFunc: func(context.Context, *Market) error { return errors.New("auth failed") }},
			second,
		)

		err := p.Execute(context.Background(), emptyMarket())
		if err == nil {
			t.Error("expected the step error to be returned")
		}
		if second.callCount != 1 {
			t.Error("second step should have been called")
		}
	})

	t.Run("malformed plan aborts even when continuing on error", func(t *testing.T) {
		t.Parallel()

		second := &mockStep{name: "should-not-run"}

		p := New(WithContinueOnError(true))
		p.AddSteps(
			&mockStep{name: "pending", doFunc: func(context.Context, *Market) error {
				return fmt.Errorf("failed to drain pending item: %w", plan.ErrMalformedPlan)
			}},
			second,
		)

		err := p.Execute(context.Background(), emptyMarket())
		if !errors.Is(err, plan.ErrMalformedPlan) {
			t.Errorf("expected ErrMalformedPlan, got %v", err)
		}
		if second.callCount != 0 {
			t.Error("second step should not have been called")
		}
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		second := &mockStep{name: "after-cancel"}

		p := New(WithContinueOnError(true))
		p.AddSteps(
			&mockStep{name: "cancels", doFunc: func(context.Context, *Market) error {
				cancel()
				return nil
			}},
			second,
		)

		m := emptyMarket()
		err := p.Execute(ctx, m)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		if second.callCount != 0 {
			t.Error("step after cancellation should not run")
		}
		if !errors.Is(m.Run.Error, context.Canceled) {
			t.Errorf("expected cancellation recorded, got %v", m.Run.Error)
		}
	})

	t.Run("empty pipeline succeeds", func(t *testing.T) {
		t.Parallel()

		if err := New().Execute(context.Background(), emptyMarket()); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}
