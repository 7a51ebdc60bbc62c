// Package network selects the egress path for a crawl request.
//
// Markets live on anonymity networks. A URL's top-level domain decides
// which network carries it: ".onion" goes through a Tor SOCKS5 proxy,
// ".i2p" goes through an I2P HTTP proxy, and everything else is dialed
// directly. A Registry maps each network to a preconfigured *http.Client
// and is what sessions ask for a client per request.
//
// The Tor proxy can be an external daemon or an embedded one started with
// tornago.
package network
