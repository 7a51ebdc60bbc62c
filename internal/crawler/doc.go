// Package crawler fetches a single market URL with validation and one
// re-authentication retry.
//
// # Retry policy
//
// A crawl runs at most two attempts. The first is validated against the
// plan's validators. If the response fails validation, the body is written
// to a diagnostics file, the session re-authenticates, and a second attempt
// is made without validation. If the first attempt produced no response at
// all, the second attempt is made directly. Whatever the second attempt
// returns is final.
//
// # URL cleaning
//
// Plan and page URLs are usually relative. Clean strips one leading slash,
// appends the optional market suffix, and resolves the result against the
// market domain.
//
// # Filtering
//
// Ignore and follow patterns from the configuration are matched against URL
// paths with glob syntax. Strategies skip URLs the filter rejects.
package crawler
