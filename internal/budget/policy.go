package budget

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"time"
)

// Policy names a budget calculation strategy.
type Policy string

const (
	// PolicySimple ignores history and always grants the maximum connections.
	PolicySimple Policy = "simple"

	// PolicyLogarithmic adapts connections and delay to the observed success
	// rate and response time of previous recommendations.
	PolicyLogarithmic Policy = "logarithmic"
)

// calculator produces the next recommendation.
type calculator interface {
	calculate(current *Recommendation, previous []*Recommendation, limits Limits, rng *rand.Rand) *Recommendation
}

// calculators maps every policy to its constructor.
var calculators = map[Policy]func() calculator{
	PolicySimple:      func() calculator { return simpleCalculator{} },
	PolicyLogarithmic: func() calculator { return logarithmicCalculator{} },
}

// ParsePolicy converts a configuration value into a Policy.
func ParsePolicy(name string) (Policy, error) {
	p := Policy(name)
	if _, ok := calculators[p]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
	}
	return p, nil
}

// Policies returns the known policy names, sorted.
func Policies() []string {
	names := make([]string, 0, len(calculators))
	for p := range calculators {
		names = append(names, string(p))
	}
	sort.Strings(names)
	return names
}

// Limits bounds every recommendation a budget issues.
type Limits struct {
	MinConnections int
	MaxConnections int
	MinDelay       time.Duration
	MaxDelay       time.Duration
}

// Default limits.
const (
	DefaultMinConnections = 1
	DefaultMaxConnections = 5
	DefaultMinDelay       = 1 * time.Second
	DefaultMaxDelay       = 5 * time.Second
)

// DefaultLimits returns the default bounds.
func DefaultLimits() Limits {
	return Limits{
		MinConnections: DefaultMinConnections,
		MaxConnections: DefaultMaxConnections,
		MinDelay:       DefaultMinDelay,
		MaxDelay:       DefaultMaxDelay,
	}
}

// Validate checks that the bounds are ordered.
func (l Limits) Validate() error {
	if l.MinConnections < 1 || l.MaxConnections < l.MinConnections {
		return fmt.Errorf("%w: connections [%d, %d]", ErrInvalidLimits, l.MinConnections, l.MaxConnections)
	}
	if l.MinDelay < 0 || l.MaxDelay < l.MinDelay {
		return fmt.Errorf("%w: delay [%s, %s]", ErrInvalidLimits, l.MinDelay, l.MaxDelay)
	}
	return nil
}

// uniform draws a duration from [lo, hi].
func uniform(rng *rand.Rand, lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rng.Int64N(int64(hi-lo)+1))
}

type simpleCalculator struct{}

func (simpleCalculator) calculate(_ *Recommendation, _ []*Recommendation, limits Limits, rng *rand.Rand) *Recommendation {
	return newRecommendation(uniform(rng, limits.MinDelay, limits.MaxDelay), limits.MaxConnections)
}

// logarithmicCalculator squashes the deviation of the current setting from the
// historical medians into the configured range. A value worse than the median
// moves the recommendation toward fewer connections and longer delays.
type logarithmicCalculator struct{}

func (logarithmicCalculator) calculate(current *Recommendation, previous []*Recommendation, limits Limits, _ *rand.Rand) *Recommendation {
	var rates, times []float64
	for _, r := range previous {
		if v, ok := r.SuccessRate(); ok {
			rates = append(rates, v)
		}
		if v, ok := r.RespondTime(); ok {
			times = append(times, v)
		}
	}
	if len(rates) == 0 {
		rates = []float64{1}
	}
	if len(times) == 0 {
		times = []float64{1}
	}

	connDev := deviation(medianLow(rates), float64(current.Connections))
	delayDev := deviation(medianHigh(times), current.Delay.Seconds())

	minC, maxC := float64(limits.MinConnections), float64(limits.MaxConnections)
	conns := int(math.Floor(minC + sigmoid(connDev)*(maxC-minC)))
	conns = min(max(conns, limits.MinConnections), limits.MaxConnections)

	minD, maxD := limits.MinDelay.Seconds(), limits.MaxDelay.Seconds()
	seconds := maxD - sigmoid(delayDev)*(maxD-minD)
	delay := time.Duration(seconds * float64(time.Second))
	delay = min(max(delay, limits.MinDelay), limits.MaxDelay)

	return newRecommendation(delay, conns)
}

// deviation is the sample standard deviation of the pair (median, value),
// negative when value is below the median.
func deviation(median, value float64) float64 {
	d := math.Abs(value-median) / math.Sqrt2
	if value < median {
		return -d
	}
	return d
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
