// Package main provides the entry point for the marketcrawler CLI.
//
// marketcrawler crawls darknet marketplaces over Tor and I2P following a
// per-market plan, adapting its request rate to how the market responds.
//
// Usage:
//
//	marketcrawler crawl
//	marketcrawler crawl --core redis --redis-addr 127.0.0.1:6379
//	marketcrawler state <market>
//
// See --help for all available options.
package main

func main() {
	Execute()
}
