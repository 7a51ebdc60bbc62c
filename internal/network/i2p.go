package network

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"golang.org/x/net/publicsuffix"
)

// DefaultI2PProxyAddress is the default HTTP proxy of an I2P router.
const DefaultI2PProxyAddress = "127.0.0.1:4444"

// NewI2PHTTPClient returns an HTTP client that sends every request through
// the I2P router's HTTP proxy at proxyAddress ("host:port").
func NewI2PHTTPClient(proxyAddress string, timeout time.Duration) (*http.Client, error) {
	if !isValidProxyAddress(proxyAddress) {
		return nil, ErrInvalidProxyAddress
	}
	proxyURL := &url.URL{Scheme: "http", Host: proxyAddress}

	return &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyURL(proxyURL),
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 5,
			IdleConnTimeout:     30 * time.Second,
			DisableCompression:  true,
		},
		Timeout:       timeout,
		CheckRedirect: limitRedirects,
	}, nil
}

// NewClearnetHTTPClient returns a direct HTTP client. Cookies set by
// responses are kept per registrable domain.
func NewClearnetHTTPClient(timeout time.Duration) *http.Client {
	// cookiejar.New never returns an error.
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	return &http.Client{
		Jar:           jar,
		Timeout:       timeout,
		CheckRedirect: limitRedirects,
	}
}
