// Package pipeline runs the crawl of each market as a sequence of steps.
//
// A Runner asks the core for the next market, loads its plan, builds a
// session and runs the steps: authenticate, drain the pending vendors and
// items, then walk the categories. A summary of every market is written
// once its steps finish.
//
// Design decision: steps stay behind an interface so the order and the set
// of models drained can change without touching the runner. A malformed
// plan aborts the market even when the pipeline continues on error, since
// every later step reads the same plan.
package pipeline
