package httputil

import (
	"crypto/tls"
	"net/http"
	"net/url"

	"cpi_pulse/config"
)

type Clients struct {
	Source *http.Client // optionally proxied, for the statistics portal
}

// NewClients builds the download client. The portal sits behind a redirect
// to the workbook, so redirects are followed.
func NewClients(cfg config.SourceConfig) *Clients {
	transport := &http.Transport{
		Proxy:             http.ProxyFromEnvironment,
		ForceAttemptHTTP2: false,
		TLSNextProto:      make(map[string]func(string, *tls.Conn) http.RoundTripper),
	}
	if cfg.ProxyURL != "" {
		if proxyURL, err := url.Parse(cfg.ProxyURL); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	return &Clients{
		Source: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
	}
}
