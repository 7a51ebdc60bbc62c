// Package database provides SQLite-based storage for marketcrawler.
//
// This package implements the CrawlDB, which stores:
//   - Pages per market and content model, either fetched with their body
//     or as placeholders for URLs that are known but not fetched yet
//   - Outcomes of every request, the durable log behind the rate budget
//
// Design decision: Placeholders make the existence check monotonic. Once
// a URL was checked it counts as known, so a later discovery of the same
// listing is not crawled twice, and the pending query can hand the
// placeholder out again until it was fetched or ran out of attempts.
//
// SQLite via modernc.org/sqlite keeps the store a single CGO-free file. WAL
// mode lets the state command read while a crawl writes.
package database
