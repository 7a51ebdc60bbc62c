// Package strategy drives the crawl of one content model.
//
// PageStrategy fetches a list of pages in chunks. The chunk size is the
// number of connections the session's budget currently allows, and every
// chunk is a fork-join: all pages are fetched concurrently, then the chunk
// is stored and its bodies are released before the next one starts.
//
// CategoryStrategy walks the paginated listing pages of each category. It
// keeps a resumable cursor in a state.CrawlState, hands the listings it
// finds to a PageStrategy for the item model, and stops a category when the
// freshness window closes.
//
// Storage calls are retried with a fixed backoff until they succeed or the
// context is cancelled.
package strategy
