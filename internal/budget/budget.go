package budget

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultHistorySize is how many past recommendations feed the medians.
const DefaultHistorySize = 100

// OutcomeLog durably stores outcomes.
type OutcomeLog interface {
	AppendOutcome(ctx context.Context, o Outcome) error
}

// Budget issues recommendations for how many concurrent connections a
// session may open and how long it waits before each request.
//
// Every fetch in a chunk consumes from the same Budget concurrently, so all
// reads and writes of the current recommendation happen under mu.
type Budget struct {
	mu sync.Mutex

	policy Policy
	calc   calculator
	limits Limits

	current  *Recommendation
	previous []*Recommendation
	byID     map[uuid.UUID]*Recommendation

	recalculations int
	historySize    int

	log         OutcomeLog
	rng         *rand.Rand
	requesterID string
	logger      *slog.Logger
}

// Option configures a Budget.
type Option func(*Budget)

// WithLimits sets the connection and delay bounds.
func WithLimits(l Limits) Option {
	return func(b *Budget) {
		b.limits = l
	}
}

// WithOutcomeLog sets the durable outcome log.
func WithOutcomeLog(log OutcomeLog) Option {
	return func(b *Budget) {
		b.log = log
	}
}

// WithRand sets the random source used for jitter.
func WithRand(rng *rand.Rand) Option {
	return func(b *Budget) {
		b.rng = rng
	}
}

// WithRequesterID sets the identity stamped on outcomes.
func WithRequesterID(id string) Option {
	return func(b *Budget) {
		b.requesterID = id
	}
}

// WithHistorySize bounds how many past recommendations are kept.
func WithHistorySize(n int) Option {
	return func(b *Budget) {
		b.historySize = n
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Budget) {
		b.logger = logger
	}
}

// New creates a Budget for policy. The first recommendation grants the
// minimum connections at the minimum delay.
func New(policy Policy, opts ...Option) (*Budget, error) {
	ctor, ok := calculators[policy]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, policy)
	}

	b := &Budget{
		policy:      policy,
		calc:        ctor(),
		limits:      DefaultLimits(),
		byID:        make(map[uuid.UUID]*Recommendation),
		historySize: DefaultHistorySize,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}

	if err := b.limits.Validate(); err != nil {
		return nil, err
	}
	if b.rng == nil {
		b.rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x6d61726b6574)) //nolint:gosec // jitter only
	}
	if b.requesterID == "" {
		b.requesterID = uuid.NewString()
	}

	b.current = newRecommendation(b.limits.MinDelay, b.limits.MinConnections)
	b.byID[b.current.ID] = b.current
	return b, nil
}

// Policy returns the budget's policy.
func (b *Budget) Policy() Policy {
	return b.policy
}

// Limits returns the configured bounds.
func (b *Budget) Limits() Limits {
	return b.limits
}

// RequesterID returns the identity stamped on outcomes.
func (b *Budget) RequesterID() string {
	return b.requesterID
}

// Calculate replaces the current recommendation with a freshly computed one.
func (b *Budget) Calculate() Recommendation {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calculateLocked().snapshot()
}

func (b *Budget) calculateLocked() *Recommendation {
	next := b.calc.calculate(b.current, b.previous, b.limits, b.rng)

	b.previous = append(b.previous, b.current)
	if b.historySize > 0 && len(b.previous) > b.historySize {
		drop := len(b.previous) - b.historySize
		for _, old := range b.previous[:drop] {
			delete(b.byID, old.ID)
		}
		b.previous = append([]*Recommendation(nil), b.previous[drop:]...)
	}

	b.current = next
	b.byID[next.ID] = next
	b.recalculations++

	b.logger.Debug("budget recalculated",
		"policy", string(b.policy),
		"connections", next.Connections,
		"delay", next.Delay,
		"recommendation", next.ID.String(),
	)
	return next
}

// Consume takes one connection from the current recommendation, recalculating
// first when fewer than the minimum remain. It returns a snapshot of the
// recommendation the connection was taken from.
func (b *Budget) Consume() Recommendation {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.current.Connections < b.limits.MinConnections {
		b.calculateLocked()
	}
	b.current.Connections--
	return b.current.snapshot()
}

// Connections returns the connections left in the current recommendation,
// recalculating first when fewer than the minimum remain.
func (b *Budget) Connections() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.current.Connections < b.limits.MinConnections {
		b.calculateLocked()
	}
	return b.current.Connections
}

// Delay samples a jittered delay from [MinDelay, current delay].
func (b *Budget) Delay() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return uniform(b.rng, b.limits.MinDelay, b.current.Delay)
}

// Current returns a snapshot of the current recommendation.
func (b *Budget) Current() Recommendation {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current.snapshot()
}

// Recalculations returns how many times the recommendation was replaced.
func (b *Budget) Recalculations() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.recalculations
}

// Record appends o to the durable log and then to the history of the
// recommendation it was issued under. Outcomes for recommendations that
// have aged out of the history are logged but not kept in memory.
func (b *Budget) Record(ctx context.Context, o Outcome) error {
	if o.Budget == "" {
		o.Budget = string(b.policy)
	}
	if o.RequesterID == "" {
		o.RequesterID = b.requesterID
	}
	if o.Timestamp.IsZero() {
		o.Timestamp = time.Now()
	}

	if b.log != nil {
		if err := b.log.AppendOutcome(ctx, o); err != nil {
			return fmt.Errorf("failed to append outcome: %w", err)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if rec, ok := b.byID[o.RecommendationID]; ok {
		rec.History = append(rec.History, o)
	}
	return nil
}

// History returns snapshots of the past recommendations including their
// outcomes, oldest first.
func (b *Budget) History() []Recommendation {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Recommendation, len(b.previous))
	for i, r := range b.previous {
		out[i] = r.snapshot()
		out[i].History = append([]Outcome(nil), r.History...)
	}
	return out
}
