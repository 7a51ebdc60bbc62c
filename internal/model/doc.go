// Package model defines the data structures shared across the crawler.
//
// This package contains the following main types:
//   - Page: a URL in flight with its owned body buffer and content key
//   - Run: the per-market run summary rendered by the report package
//
// Design decision: We separate models into their own package to avoid circular
// dependencies. The strategy, database and report packages all need Page and
// Run, so centralizing them prevents import cycles.
package model
