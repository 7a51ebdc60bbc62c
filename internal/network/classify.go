package network

import (
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Kind identifies an egress network.
type Kind string

const (
	// KindTor carries ".onion" hosts.
	KindTor Kind = "tor"
	// KindI2P carries ".i2p" hosts.
	KindI2P Kind = "i2p"
	// KindClearnet carries everything else.
	KindClearnet Kind = "clearnet"
)

// Classify returns the network a URL must travel over, decided by the
// public suffix of its host. Unparsable URLs classify as clearnet and fail
// later at request time.
func Classify(rawURL string) Kind {
	u, err := url.Parse(rawURL)
	if err != nil {
		return KindClearnet
	}
	return ClassifyHost(u.Hostname())
}

// ClassifyHost classifies a bare hostname.
func ClassifyHost(host string) Kind {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "" {
		return KindClearnet
	}

	// Unlisted TLDs such as "onion" and "i2p" fall back to the last label.
	suffix, _ := publicsuffix.PublicSuffix(host)
	switch suffix {
	case "onion":
		return KindTor
	case "i2p":
		return KindI2P
	default:
		return KindClearnet
	}
}
