// Package report renders the summary of a market run.
//
// Three formats are available:
//   - SimpleWriter: plain text for the terminal
//   - MarkdownWriter: GitHub-flavored markdown with a mermaid chart
//   - JSONWriter: structured output for other tools
//
// Design decision: the run summary lives in the model package and is
// filled by the strategies while they crawl. Writers only read it, so a
// new format never touches the crawl path.
package report
