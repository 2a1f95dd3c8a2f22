// Package resolver gives the Remote Fetcher (§4.4) a way to look up a
// blocklist URL's hostname through duskhole's own configured upstream DNS
// servers rather than the host resolver. A server that is itself the
// system resolver can't safely ask the system resolver to look anything up
// for it without risking a loop back into its own listener.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"duskhole/pkg/logging"
)

// Resolver resolves hostnames via a fixed ordered list of upstream DNS
// servers, trying each in turn on failure (RFC 1035 §7.2). It never does
// any query classification or blocking of its own; it exists purely so the
// Fetcher's outbound HTTPS requests don't depend on /etc/resolv.conf.
type Resolver struct {
	logger    *logging.Logger
	dialer    *net.Dialer
	upstreams []string
	strict    bool // when true, never fall back to system resolver
}

// New builds a Resolver over upstreams, falling back to the system
// resolver if every configured upstream fails (or none are configured).
func New(upstreams []string, logger *logging.Logger) *Resolver {
	return newWithOptions(upstreams, logger, false)
}

// NewStrict creates a resolver that will NOT fall back to the system
// resolver when upstreams fail. The Remote Fetcher uses this: on a host
// where this process is itself the system resolver, falling back to it to
// resolve a blocklist URL's hostname would recurse into the very server
// being built.
func NewStrict(upstreams []string, logger *logging.Logger) *Resolver {
	return newWithOptions(upstreams, logger, true)
}

func newWithOptions(upstreams []string, logger *logging.Logger, strict bool) *Resolver {
	if len(upstreams) == 0 {
		logger.Warn("fetcher resolver has no configured upstreams, falling back to the system resolver")
	} else {
		logger.Info("fetcher resolver initialized", "upstreams", upstreams, "strict", strict)
	}

	return &Resolver{
		upstreams: upstreams,
		logger:    logger,
		strict:    strict,
		dialer: &net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		},
	}
}

// LookupIP resolves host against each configured upstream in order,
// returning the first success.
func (r *Resolver) LookupIP(ctx context.Context, network, host string) ([]net.IP, error) {
	if len(r.upstreams) == 0 {
		return net.DefaultResolver.LookupIP(ctx, network, host)
	}

	var lastErr error
	for idx, upstream := range r.upstreams {
		// RFC 1035 §7.2 requires resolvers to retry alternate name servers on failure.
		netResolver := &net.Resolver{
			PreferGo: true,
			Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
				return r.dialer.DialContext(ctx, "udp", upstream)
			},
		}

		ips, err := netResolver.LookupIP(ctx, network, host)
		if err != nil {
			lastErr = err
			r.logger.Warn("DNS resolution attempt failed",
				"host", host,
				"upstream", upstream,
				"attempt", idx+1,
				"error", err,
			)
			continue
		}

		r.logger.Debug("DNS resolution successful",
			"host", host,
			"upstream", upstream,
			"ips", ips,
		)
		return ips, nil
	}

	// All upstreams failed
	if r.strict && len(r.upstreams) > 0 {
		return nil, fmt.Errorf("failed to resolve %s via configured upstreams (strict mode): %w", host, lastErr)
	}

	r.logger.Warn("All upstream DNS servers failed, falling back to system resolver",
		"host", host,
		"attempts", len(r.upstreams),
		"error", lastErr,
	)
	ips, err := net.DefaultResolver.LookupIP(ctx, network, host)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s via configured upstreams: %w", host, errors.Join(lastErr, err))
	}
	return ips, nil
}

// DialContext satisfies http.Transport.DialContext, resolving addr's
// hostname (if it isn't already a literal IP) through r before dialing.
func (r *Resolver) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address %s: %w", addr, err)
	}

	if net.ParseIP(host) != nil {
		return r.dialer.DialContext(ctx, network, addr)
	}

	ips, err := r.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("no IP addresses found for %s", host)
	}

	resolvedAddr := net.JoinHostPort(ips[0].String(), port)
	return r.dialer.DialContext(ctx, network, resolvedAddr)
}

// Upstreams returns the configured upstream DNS servers.
func (r *Resolver) Upstreams() []string {
	return r.upstreams
}
