// Package state persists the resumable pagination cursor of every market.
//
// A CrawlState maps a category name to a list of Status entries, one for
// each seed path of the category. The document lives at
// <data>/markets/<market>/state.yaml. It is loaded on first use and written
// back after every mutation, so an interrupted crawl resumes at the last
// page it reached instead of the category anchor.
//
// The window policy decides how many listing pages of a category are
// crawled before freshness is re-checked. A category that was never fully
// crawled gets the maximum window. Otherwise the window is the number of
// days since the last complete crawl, clamped to [min, max].
package state
