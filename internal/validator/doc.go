// Package validator decides whether a fetched response is acceptable.
//
// Plans group validators per content model ("vendor", "item", "all"). A
// response is valid only when every validator of every applicable group
// passes, so a logged-out page or a block notice sends the crawler into its
// re-authentication path.
package validator
