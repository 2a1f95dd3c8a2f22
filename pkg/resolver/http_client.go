package resolver

import (
	"net/http"
	"time"
)

// NewHTTPClient builds the *http.Client the Remote Fetcher (§4.4) passes
// into fetcher.New, so hostname lookups for remote blocklist URLs go
// through r's upstream DNS servers instead of the host resolver — on a
// machine where duskhole itself is the system resolver, falling back to it
// to resolve a blocklist URL's hostname would recurse into this process.
//
// The Fetcher downloads one URL at a time, never in parallel, so the
// transport is tuned for that: one idle connection kept warm per host is
// enough, and HTTP/2 buys nothing for small plain-text list downloads.
func (r *Resolver) NewHTTPClient(timeout time.Duration) *http.Client {
	if len(r.upstreams) == 0 {
		r.logger.Debug("building fetcher HTTP client with system default DNS resolver")
		return &http.Client{Timeout: timeout}
	}

	r.logger.Debug("building fetcher HTTP client with upstream DNS resolution",
		"upstream", r.upstreams[0],
		"timeout", timeout,
	)

	transport := &http.Transport{
		DialContext:           r.DialContext,
		MaxIdleConns:          1,
		MaxIdleConnsPerHost:   1,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}
