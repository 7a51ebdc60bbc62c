// Package plan reads the per-market crawl plans.
//
// A plan is a YAML document with a meta section (market, domain, optional
// path suffix) and a models section keyed by content model. Each model may
// carry validators, options, elements and, for the category model, the
// seed pages. The special model "all" applies to every model when a query
// asks for it.
//
// Plans are read-only. A query against a section that the crawl cannot do
// without returns ErrMalformedPlan, which aborts the market.
package plan
