// Package budget implements the adaptive rate budget that paces a crawl.
//
// A Budget hands out Recommendations: how many connections may be opened
// and how long to wait before each request. Sessions call Consume before
// every fetch and Record after every fetch that produced a response. When a
// recommendation runs out of connections the budget asks its policy for a
// new one.
//
// Two policies exist:
//   - simple: a static ceiling with a random delay, the safe default
//   - logarithmic: moves connections and delay toward the conservative end
//     when the current setting is worse than the historical medians
package budget
