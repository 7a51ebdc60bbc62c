package plan

import "errors"

var (
	// ErrMalformedPlan is returned when a plan lacks a section the crawl requires
	// or a section has the wrong shape.
	ErrMalformedPlan = errors.New("malformed plan")

	// ErrPlanNotFound is returned when no plan exists for a market.
	ErrPlanNotFound = errors.New("plan not found")
)
