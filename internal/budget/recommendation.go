package budget

import (
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Outcome is one completed fetch, as seen by the budget.
// It is immutable once created.
type Outcome struct {
	RequesterID      string        `json:"requester_id"`
	URL              string        `json:"url"`
	StatusCode       int           `json:"status_code"`
	Budget           string        `json:"budget"`
	Delay            time.Duration `json:"delay"`
	RespondTime      time.Duration `json:"respond_time"`
	RecommendationID uuid.UUID     `json:"recommendation_id"`
	Timestamp        time.Time     `json:"timestamp"`
}

// Recommendation is the permitted concurrency and delay issued by a Budget.
//
// Recommendations returned to callers are snapshots. The Budget keeps the
// authoritative copy and appends outcomes to it under its lock.
type Recommendation struct {
	ID          uuid.UUID
	Delay       time.Duration
	Connections int
	History     []Outcome
}

func newRecommendation(delay time.Duration, connections int) *Recommendation {
	return &Recommendation{
		ID:          uuid.New(),
		Delay:       delay,
		Connections: connections,
	}
}

// snapshot copies r without its history.
func (r *Recommendation) snapshot() Recommendation {
	return Recommendation{
		ID:          r.ID,
		Delay:       r.Delay,
		Connections: r.Connections,
	}
}

// SuccessRate is the fraction of outcomes with status 200.
// The second result is false when there is no history.
func (r *Recommendation) SuccessRate() (float64, bool) {
	if len(r.History) == 0 {
		return 0, false
	}
	ok := 0
	for _, o := range r.History {
		if o.StatusCode == http.StatusOK {
			ok++
		}
	}
	return float64(ok) / float64(len(r.History)), true
}

// RespondTime is the high median of the recorded response times in seconds.
// The second result is false when there is no history.
func (r *Recommendation) RespondTime() (float64, bool) {
	if len(r.History) == 0 {
		return 0, false
	}
	times := make([]float64, len(r.History))
	for i, o := range r.History {
		times[i] = o.RespondTime.Seconds()
	}
	return medianHigh(times), true
}

// medianLow returns the lower of the two middle values for even-length input.
func medianLow(values []float64) float64 {
	s := slices.Clone(values)
	slices.Sort(s)
	return s[(len(s)-1)/2]
}

// medianHigh returns the higher of the two middle values for even-length input.
func medianHigh(values []float64) float64 {
	s := slices.Clone(values)
	slices.Sort(s)
	return s[len(s)/2]
}
