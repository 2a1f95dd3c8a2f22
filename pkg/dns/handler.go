// Package dns contains the request handler and server lifecycle: parsing an
// incoming query, classifying it against the published blocklist snapshot,
// and either synthesizing a blocked response or forwarding it upstream.
package dns

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"duskhole/pkg/blocklist"
	"duskhole/pkg/config"
	"duskhole/pkg/dnsname"
	"duskhole/pkg/forwarder"
	"duskhole/pkg/logging"
	"duskhole/pkg/registry"
	"duskhole/pkg/telemetry"

	"github.com/miekg/dns"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// msgPool provides object pooling for dns.Msg to reduce allocations.
var msgPool = sync.Pool{
	New: func() interface{} {
		return new(dns.Msg)
	},
}

// Handler implements the core request pipeline: parse -> normalize ->
// classify -> synthesize-or-forward.
type Handler struct {
	Registry        *registry.Registry
	Forwarder       *forwarder.Forwarder
	BlockedResponse string // refused, nxdomain, zero (config.BlockedResponse*)
	Metrics         *telemetry.Metrics
	Logger          *logging.Logger
}

// NewHandler creates a new DNS handler reading from reg and forwarding
// allowed queries through fwd.
func NewHandler(reg *registry.Registry, fwd *forwarder.Forwarder, blockedResponse string, logger *logging.Logger) *Handler {
	if blockedResponse == "" {
		blockedResponse = config.BlockedNXDomain
	}
	return &Handler{
		Registry:        reg,
		Forwarder:       fwd,
		BlockedResponse: blockedResponse,
		Logger:          logger,
	}
}

// SetMetrics wires a metrics collector.
func (h *Handler) SetMetrics(m *telemetry.Metrics) {
	h.Metrics = m
}

// writeMsg writes a DNS message to the response writer. A write failure
// (e.g. client disconnected) can't be reported to anyone, so it's dropped.
func (h *Handler) writeMsg(w dns.ResponseWriter, msg *dns.Msg) {
	if err := w.WriteMsg(msg); err != nil {
		_ = err
	}
}

// ServeDNS implements dns.Handler: §4.6's pipeline.
func (h *Handler) ServeDNS(ctx context.Context, w dns.ResponseWriter, r *dns.Msg) {
	startTime := time.Now()
	clientIP := getClientIP(w)

	msg := msgPool.Get().(*dns.Msg)
	defer msgPool.Put(msg)

	*msg = dns.Msg{}
	msg.SetReply(r)
	msg.Authoritative = true
	msg.RecursionAvailable = true
	HandleEDNS0(r, msg)

	if len(r.Question) != 1 {
		msg.SetRcode(r, dns.RcodeFormatError)
		h.writeMsg(w, msg)
		return
	}

	question := r.Question[0]
	qtype := question.Qtype
	qtypeLabel := dnsTypeLabel(qtype)

	if h.Metrics != nil {
		h.Metrics.DNSQueriesTotal.Add(ctx, 1)
		h.Metrics.DNSQueriesByType.Add(ctx, 1, metric.WithAttributes(attribute.String("qtype", qtypeLabel)))
	}

	name, err := dnsname.Normalize(question.Name)
	if err != nil {
		msg.SetRcode(r, dns.RcodeFormatError)
		h.writeMsg(w, msg)
		h.logQuery(startTime, question.Name, clientIP, qtypeLabel, "invalid", "")
		return
	}

	snap := h.currentSnapshot()
	classification := snap.Classify(name)

	if classification != blocklist.Allowed {
		h.respondBlocked(r, msg, question)
		if h.Metrics != nil {
			h.Metrics.DNSBlockedQueries.Add(ctx, 1)
		}
		if h.Logger != nil && h.Logger.LogBlocked() {
			h.Logger.Info("query.blocked",
				"qname", string(name),
				"qtype", qtypeLabel,
				"source_ip", clientIP,
				"match_kind", classification.String(),
			)
		}
		h.writeMsg(w, msg)
		return
	}

	if h.Forwarder == nil {
		msg.SetRcode(r, dns.RcodeServerFailure)
		h.writeMsg(w, msg)
		return
	}

	resp, err := h.Forwarder.Forward(ctx, r)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("query.forward_failed", "qname", string(name), "error", err)
		}
		msg.SetRcode(r, dns.RcodeServerFailure)
		h.writeMsg(w, msg)
		return
	}

	if h.Metrics != nil {
		h.Metrics.DNSForwardedQueries.Add(ctx, 1)
	}
	h.writeMsg(w, resp)
}

func (h *Handler) currentSnapshot() *blocklist.Snapshot {
	if h.Registry == nil {
		return blocklist.Empty()
	}
	return h.Registry.Current()
}

func (h *Handler) logQuery(startTime time.Time, qname, clientIP, qtypeLabel, outcome, detail string) {
	if h.Logger == nil {
		return
	}
	h.Logger.Debug("query.processed",
		"qname", qname,
		"qtype", qtypeLabel,
		"source_ip", clientIP,
		"outcome", outcome,
		"detail", detail,
		"duration_ms", time.Since(startTime).Milliseconds(),
	)
}

// dnsTypeLabel returns a human-readable string for the query type, falling
// back to TYPE#### per RFC 3597 when unknown.
func dnsTypeLabel(qtype uint16) string {
	if label := dns.TypeToString[qtype]; label != "" {
		return label
	}
	return "TYPE" + strconv.FormatUint(uint64(qtype), 10)
}

// getClientIP extracts the client IP from the DNS request.
func getClientIP(w dns.ResponseWriter) string {
	if w.RemoteAddr() != nil {
		host, _, err := net.SplitHostPort(w.RemoteAddr().String())
		if err == nil {
			return host
		}
		return w.RemoteAddr().String()
	}
	return "unknown"
}
