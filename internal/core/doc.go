// Package core implements the collaborator that decides which market to
// crawl next and supplies its authentication cookies.
//
// Two implementations exist:
//   - Local prompts an operator on a terminal and reads cookies.json files
//   - Redis pops markets from a list and reads cookies from a hash that an
//     external login service fills on request
package core
