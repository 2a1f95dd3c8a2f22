// Package forwarder implements the Upstream Forwarder (§4.5): strict,
// ordered failover across the configured upstream list, with a per-attempt
// timeout, an overall deadline, and a same-upstream TCP retry on UDP
// truncation.
package forwarder

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"duskhole/pkg/logging"

	"github.com/miekg/dns"
)

// Default timeouts (§4.5).
const (
	DefaultAttemptTimeout = 2 * time.Second
	DefaultTotalTimeout   = 5 * time.Second
)

// Forwarder forwards a parsed query to one of the configured upstream
// resolvers, in list order, never racing or load-balancing across them
// (§9's Open Question resolves this in favor of strict ordered failover).
type Forwarder struct {
	udpPool   sync.Pool
	tcpPool   sync.Pool
	logger    *logging.Logger
	upstreams []string
	health    *Health

	attemptTimeout time.Duration
	totalTimeout   time.Duration
}

// New creates a Forwarder for upstreams, tried strictly in the order given.
// attemptTimeout and totalTimeout default to DefaultAttemptTimeout and
// DefaultTotalTimeout when zero.
func New(upstreams []string, logger *logging.Logger, attemptTimeout, totalTimeout time.Duration) *Forwarder {
	normalized := make([]string, len(upstreams))
	for i, u := range upstreams {
		if _, _, err := net.SplitHostPort(u); err != nil {
			normalized[i] = net.JoinHostPort(u, "53")
		} else {
			normalized[i] = u
		}
	}

	if attemptTimeout <= 0 {
		attemptTimeout = DefaultAttemptTimeout
	}
	if totalTimeout <= 0 {
		totalTimeout = DefaultTotalTimeout
	}

	f := &Forwarder{
		upstreams:      normalized,
		logger:         logger,
		health:         NewHealth(normalized),
		attemptTimeout: attemptTimeout,
		totalTimeout:   totalTimeout,
	}
	f.udpPool.New = func() any { return &dns.Client{Net: "udp", Timeout: attemptTimeout} }
	f.tcpPool.New = func() any { return &dns.Client{Net: "tcp", Timeout: attemptTimeout} }

	logger.Info("forwarder initialized",
		"upstreams", normalized,
		"attempt_timeout", attemptTimeout,
		"total_timeout", totalTimeout,
	)

	return f
}

// Upstreams returns the configured upstream list, in the fixed order they
// are tried.
func (f *Forwarder) Upstreams() []string {
	return f.upstreams
}

// Health returns the per-upstream telemetry recorder. It never affects
// selection order — see Health's doc comment.
func (f *Forwarder) Health() *Health {
	return f.health
}

// ErrNoUpstreams is returned when no upstream resolvers are configured.
var ErrNoUpstreams = errors.New("no upstream DNS servers configured")

// Forward tries each upstream in list order, bounded overall by
// f.totalTimeout and per-attempt by f.attemptTimeout. UDP is attempted
// first; a truncated (TC-bit) UDP response triggers exactly one TCP retry
// against the same upstream before moving on. An upstream that answers
// SERVFAIL counts as a failed attempt, and the next one is tried. It never reorders or skips
// upstreams based on recorded health — see Health.
func (f *Forwarder) Forward(ctx context.Context, r *dns.Msg) (*dns.Msg, error) {
	if len(f.upstreams) == 0 {
		return nil, ErrNoUpstreams
	}

	ctx, cancel := context.WithTimeout(ctx, f.totalTimeout)
	defer cancel()

	var lastErr error
	for _, upstream := range f.upstreams {
		resp, err := f.tryUpstream(ctx, r, upstream)
		if err == nil && resp.Rcode == dns.RcodeServerFailure {
			err = fmt.Errorf("%s answered SERVFAIL", upstream)
		}
		if err == nil {
			f.health.RecordSuccess(upstream)
			return resp, nil
		}
		f.health.RecordFailure(upstream)
		f.logger.Warn("upstream query failed, advancing to next upstream",
			"upstream", upstream, "error", err)
		lastErr = err

		if ctx.Err() != nil {
			break
		}
	}

	if lastErr != nil {
		return nil, fmt.Errorf("all upstreams failed: %w", lastErr)
	}
	return nil, errors.New("all upstreams failed")
}

// tryUpstream performs one upstream attempt: UDP first, with a single
// same-upstream TCP retry if the UDP response is truncated.
func (f *Forwarder) tryUpstream(ctx context.Context, r *dns.Msg, upstream string) (*dns.Msg, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, f.attemptTimeout)
	defer cancel()

	udpClient := f.udpPool.Get().(*dns.Client)
	defer f.udpPool.Put(udpClient)

	resp, _, err := udpClient.ExchangeContext(attemptCtx, r, upstream)
	if err != nil {
		return nil, fmt.Errorf("udp %s: %w", upstream, err)
	}
	if resp == nil {
		return nil, fmt.Errorf("udp %s: empty response", upstream)
	}

	if !resp.Truncated && !exceedsAnnouncedBuffer(r, resp) {
		return resp, nil
	}

	f.logger.Debug("udp response truncated, retrying over tcp", "upstream", upstream)

	tcpCtx, tcpCancel := context.WithTimeout(ctx, f.attemptTimeout)
	defer tcpCancel()

	tcpClient := f.tcpPool.Get().(*dns.Client)
	defer f.tcpPool.Put(tcpClient)

	resp, _, err = tcpClient.ExchangeContext(tcpCtx, r, upstream)
	if err != nil {
		return nil, fmt.Errorf("tcp retry %s: %w", upstream, err)
	}
	if resp == nil {
		return nil, fmt.Errorf("tcp retry %s: empty response", upstream)
	}
	return resp, nil
}

// exceedsAnnouncedBuffer reports whether resp's wire size exceeds the
// client's EDNS(0)-announced UDP payload size, which per §4.5/§6 is also a
// truncation signal even when the TC bit itself was not set.
func exceedsAnnouncedBuffer(req, resp *dns.Msg) bool {
	opt := req.IsEdns0()
	if opt == nil {
		return false
	}
	size := opt.UDPSize()
	if size == 0 {
		return false
	}
	packed, err := resp.Pack()
	if err != nil {
		return false
	}
	return len(packed) > int(size)
}
