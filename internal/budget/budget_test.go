package budget

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"sync"
	"testing"
	"time"
)

// mockOutcomeLog records appended outcomes for verification.
type mockOutcomeLog struct {
	mu       sync.Mutex
	outcomes []Outcome
	err      error
}

func (m *mockOutcomeLog) AppendOutcome(_ context.Context, o Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.outcomes = append(m.outcomes, o)
	return nil
}

func newTestBudget(t *testing.T, policy Policy, opts ...Option) *Budget {
	t.Helper()

	opts = append([]Option{WithRand(rand.New(rand.NewPCG(1, 2)))}, opts...)
	b, err := New(policy, opts...)
	if err != nil {
		t.Fatalf("failed to create budget: %v", err)
	}
	return b
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("unknown policy is rejected", func(t *testing.T) {
		t.Parallel()

		_, err := New(Policy("aggressive"))
		if !errors.Is(err, ErrUnknownPolicy) {
			t.Errorf("expected ErrUnknownPolicy, got %v", err)
		}
	})

	t.Run("inverted limits are rejected", func(t *testing.T) {
		t.Parallel()

		_, err := New(PolicySimple, WithLimits(Limits{
			MinConnections: 5, MaxConnections: 1,
			MinDelay: time.Second, MaxDelay: 2 * time.Second,
		}))
		if !errors.Is(err, ErrInvalidLimits) {
			t.Errorf("expected ErrInvalidLimits, got %v", err)
		}
	})

	t.Run("initial recommendation uses minimums", func(t *testing.T) {
		t.Parallel()

		b := newTestBudget(t, PolicySimple)
		cur := b.Current()
		if cur.Connections != DefaultMinConnections {
			t.Errorf("expected %d connections, got %d", DefaultMinConnections, cur.Connections)
		}
		if cur.Delay != DefaultMinDelay {
			t.Errorf("expected %s delay, got %s", DefaultMinDelay, cur.Delay)
		}
		if b.RequesterID() == "" {
			t.Error("expected a generated requester id")
		}
	})
}

func TestParsePolicy(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		input   string
		want    Policy
		wantErr bool
	}{
		{name: "simple", input: "simple", want: PolicySimple},
		{name: "logarithmic", input: "logarithmic", want: PolicyLogarithmic},
		{name: "unknown", input: "linear", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParsePolicy(tc.input)
			if tc.wantErr {
				if !errors.Is(err, ErrUnknownPolicy) {
					t.Errorf("expected ErrUnknownPolicy, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("expected %q, got %q", tc.want, got)
			}
		})
	}

	if names := Policies(); len(names) != 2 || names[0] != "logarithmic" || names[1] != "simple" {
		t.Errorf("unexpected policies: %v", names)
	}
}

// TestConsumeRefreshesExhaustedRecommendation pins the connection count at two
// and consumes three times. The third call finds zero connections, refreshes
// to the simple ceiling of five and takes one.
func TestConsumeRefreshesExhaustedRecommendation(t *testing.T) {
	t.Parallel()

	b := newTestBudget(t, PolicySimple, WithLimits(Limits{
		MinConnections: 1, MaxConnections: 5,
		MinDelay: time.Second, MaxDelay: 5 * time.Second,
	}))
	b.current.Connections = 2

	first := b.Consume()
	second := b.Consume()
	if b.Recalculations() != 0 {
		t.Fatalf("expected no recalculation yet, got %d", b.Recalculations())
	}
	third := b.Consume()

	if first.Connections != 1 || second.Connections != 0 {
		t.Errorf("expected 1 then 0, got %d then %d", first.Connections, second.Connections)
	}
	if b.Recalculations() != 1 {
		t.Errorf("expected one recalculation, got %d", b.Recalculations())
	}
	if third.Connections != 5-1 {
		t.Errorf("expected max_connections-1 after refresh, got %d", third.Connections)
	}
	if third.ID == first.ID {
		t.Error("expected a new recommendation id after refresh")
	}
}

// TestConsumeNeverDropsBelowFloorWithoutRecalculation consumes repeatedly and
// checks that every time the count was below the floor a recalculation happened.
func TestConsumeNeverDropsBelowFloorWithoutRecalculation(t *testing.T) {
	t.Parallel()

	for _, policy := range []Policy{PolicySimple, PolicyLogarithmic} {
		b := newTestBudget(t, policy)

		for i := 0; i < 200; i++ {
			before := b.current.Connections
			recalcs := b.Recalculations()

			got := b.Consume()

			if before < DefaultMinConnections && b.Recalculations() != recalcs+1 {
				t.Fatalf("%s: consumed below floor without recalculation at step %d", policy, i)
			}
			if got.Connections < DefaultMinConnections-1 {
				t.Fatalf("%s: connections dropped to %d", policy, got.Connections)
			}
		}
	}
}

func TestConnectionsRecalculatesWhenExhausted(t *testing.T) {
	t.Parallel()

	b := newTestBudget(t, PolicySimple)
	b.Consume()

	if got := b.Connections(); got != DefaultMaxConnections {
		t.Errorf("expected refreshed %d connections, got %d", DefaultMaxConnections, got)
	}
}

func TestDelayJitterWithinBounds(t *testing.T) {
	t.Parallel()

	b := newTestBudget(t, PolicySimple)
	b.Calculate()
	cur := b.Current()

	for i := 0; i < 100; i++ {
		d := b.Delay()
		if d < DefaultMinDelay || d > cur.Delay {
			t.Fatalf("delay %s outside [%s, %s]", d, DefaultMinDelay, cur.Delay)
		}
	}
}

func TestSimpleCalculate(t *testing.T) {
	t.Parallel()

	b := newTestBudget(t, PolicySimple)
	for i := 0; i < 50; i++ {
		rec := b.Calculate()
		if rec.Connections != DefaultMaxConnections {
			t.Fatalf("expected %d connections, got %d", DefaultMaxConnections, rec.Connections)
		}
		if rec.Delay < DefaultMinDelay || rec.Delay > DefaultMaxDelay {
			t.Fatalf("delay %s outside limits", rec.Delay)
		}
	}
	if got := len(b.History()); got != 50 {
		t.Errorf("expected 50 past recommendations, got %d", got)
	}
}

func TestLogarithmicCalculate(t *testing.T) {
	t.Parallel()

	t.Run("no history uses unit medians", func(t *testing.T) {
		t.Parallel()

		b := newTestBudget(t, PolicyLogarithmic)
		rec := b.Calculate()

		// Current {1 conn, 1s} equals both unit medians, so the squashed value is 0.5.
		if rec.Connections != 3 {
			t.Errorf("expected 3 connections, got %d", rec.Connections)
		}
		if rec.Delay != 3*time.Second {
			t.Errorf("expected 3s delay, got %s", rec.Delay)
		}
	})

	t.Run("slow responses push delay toward the maximum", func(t *testing.T) {
		t.Parallel()

		b := newTestBudget(t, PolicyLogarithmic)
		id := b.Current().ID
		for i := 0; i < 3; i++ {
			err := b.Record(context.Background(), Outcome{
				URL:              "http://example.onion/",
				StatusCode:       http.StatusOK,
				RespondTime:      10 * time.Second,
				RecommendationID: id,
			})
			if err != nil {
				t.Fatalf("record failed: %v", err)
			}
		}
		b.Calculate()
		rec := b.Calculate()

		if rec.Delay <= 4*time.Second {
			t.Errorf("expected delay near maximum, got %s", rec.Delay)
		}
		if rec.Connections < DefaultMinConnections || rec.Connections > DefaultMaxConnections {
			t.Errorf("connections %d outside limits", rec.Connections)
		}
	})
}

func TestRecord(t *testing.T) {
	t.Parallel()

	t.Run("appends to log and owning recommendation", func(t *testing.T) {
		t.Parallel()

		log := &mockOutcomeLog{}
		b := newTestBudget(t, PolicySimple, WithOutcomeLog(log), WithRequesterID("crawler-1"))
		rec := b.Consume()

		err := b.Record(context.Background(), Outcome{
			URL:              "http://example.onion/a",
			StatusCode:       http.StatusOK,
			RecommendationID: rec.ID,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		b.Calculate()

		if len(log.outcomes) != 1 {
			t.Fatalf("expected 1 logged outcome, got %d", len(log.outcomes))
		}
		got := log.outcomes[0]
		if got.Budget != "simple" || got.RequesterID != "crawler-1" || got.Timestamp.IsZero() {
			t.Errorf("outcome not stamped: %+v", got)
		}
		history := b.History()
		if len(history) != 1 || len(history[0].History) != 1 {
			t.Errorf("expected outcome in recommendation history, got %+v", history)
		}
	})

	t.Run("log failure is returned and history untouched", func(t *testing.T) {
		t.Parallel()

		log := &mockOutcomeLog{err: errors.New("disk full")}
		b := newTestBudget(t, PolicySimple, WithOutcomeLog(log))
		rec := b.Consume()

		err := b.Record(context.Background(), Outcome{RecommendationID: rec.ID, StatusCode: 200})
		if err == nil {
			t.Fatal("expected error")
		}
		b.Calculate()
		if len(b.History()[0].History) != 0 {
			t.Error("expected no history after failed log write")
		}
	})
}

func TestHistorySizeBound(t *testing.T) {
	t.Parallel()

	b := newTestBudget(t, PolicySimple, WithHistorySize(3))
	for i := 0; i < 10; i++ {
		b.Calculate()
	}
	if got := len(b.History()); got != 3 {
		t.Errorf("expected 3 past recommendations, got %d", got)
	}
	if got := len(b.byID); got != 4 {
		t.Errorf("expected 4 tracked recommendations, got %d", got)
	}
}

func TestConsumeConcurrent(t *testing.T) {
	t.Parallel()

	b := newTestBudget(t, PolicySimple)

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := b.Consume()
			_ = b.Delay()
			_ = b.Record(context.Background(), Outcome{RecommendationID: rec.ID, StatusCode: 200})
		}()
	}
	wg.Wait()

	// 64 consumes: one from the initial recommendation, then 13 refreshes of 5.
	if got := b.Recalculations(); got != 13 {
		t.Errorf("expected 13 recalculations, got %d", got)
	}
}

func TestMedians(t *testing.T) {
	t.Parallel()

	values := []float64{4, 1, 3, 2}
	if got := medianLow(values); got != 2 {
		t.Errorf("expected low median 2, got %v", got)
	}
	if got := medianHigh(values); got != 3 {
		t.Errorf("expected high median 3, got %v", got)
	}
	if values[0] != 4 {
		t.Error("median must not reorder its input")
	}
	if got := deviation(3, 1); got >= 0 {
		t.Errorf("expected negative deviation, got %v", got)
	}
}
