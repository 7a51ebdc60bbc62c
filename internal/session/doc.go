// Package session executes crawl requests for one market.
//
// A Session is shared by every concurrent fetch of a strategy. Before each
// request it consumes a connection from the rate budget and sleeps for the
// budget's jittered delay. It then picks the egress network for the URL and
// sends the market cookies. After a response it records the outcome back
// into the budget.
//
// Requests never return Go errors. The result is a Response, which is either
// *Fetched or *NetworkError, so callers can switch on it exhaustively.
package session
