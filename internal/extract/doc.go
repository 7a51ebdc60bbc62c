// Package extract pulls values out of HTML pages using element descriptors
// from a market plan.
//
// A Descriptor names a CSS selector, an optional attribute to read instead
// of the text, and whether every match or only the first one is wanted.
// Parsing and selection are delegated to goquery.
package extract
