package dns

import (
	"github.com/miekg/dns"
)

// EDNS0 buffer-size bounds for responses this server synthesizes itself
// (blocked answers and FORMERR), per RFC 6891. Genuinely forwarded answers
// carry the upstream's own OPT record untouched; HandleEDNS0 is never
// called on those, so these bounds only ever apply to duskhole's own
// synthesized traffic.
const (
	// DefaultEDNSBufferSize is advertised when the client's OPT record
	// requested size 0.
	DefaultEDNSBufferSize = 4096

	// MaxEDNSBufferSize caps what duskhole will advertise for a synthesized
	// response. The Forwarder's truncation check
	// (forwarder.exceedsAnnouncedBuffer) does not use this cap: it compares
	// against the client's requested size exactly as read off the wire.
	MaxEDNSBufferSize = 4096

	// MinEDNSBufferSize is the smallest buffer size duskhole will honor.
	MinEDNSBufferSize = 512
)

// ednsRequest is what duskhole cares about from a client's OPT record when
// building a synthesized response.
type ednsRequest struct {
	present    bool
	bufferSize uint16
}

// parseEDNSRequest extracts the pieces of req's OPT record that
// HandleEDNS0 needs. The DNSSEC OK bit is deliberately not carried through:
// duskhole has no DNSSEC component (§2 Non-goals), so nothing it synthesizes
// is ever signed, and echoing DO=1 back on an unsigned answer would be a
// false promise to a validating resolver sitting upstream of duskhole.
func parseEDNSRequest(req *dns.Msg) ednsRequest {
	if req == nil {
		return ednsRequest{}
	}
	opt := req.IsEdns0()
	if opt == nil {
		return ednsRequest{}
	}
	return ednsRequest{present: true, bufferSize: opt.UDPSize()}
}

// HandleEDNS0 attaches an EDNS0 OPT record to a response msg is about to
// synthesize (a blocked answer or a FORMERR), mirroring whether the client
// asked for EDNS0 at all and negotiating a buffer size, but never setting
// the DO bit. Responses produced by Forward bypass this entirely and keep
// the upstream's own OPT record as-is.
func HandleEDNS0(req, resp *dns.Msg) {
	reqEDNS := parseEDNSRequest(req)
	if resp == nil || !reqEDNS.present {
		return
	}
	if resp.IsEdns0() != nil {
		return
	}

	opt := &dns.OPT{
		Hdr: dns.RR_Header{
			Name:   ".",
			Rrtype: dns.TypeOPT,
		},
	}
	opt.SetUDPSize(negotiateBufferSize(reqEDNS.bufferSize))
	resp.Extra = append(resp.Extra, opt)
}

// negotiateBufferSize clamps a client's requested EDNS0 buffer size into
// duskhole's supported range, defaulting to DefaultEDNSBufferSize when the
// client didn't request a specific size.
func negotiateBufferSize(requested uint16) uint16 {
	switch {
	case requested == 0:
		return DefaultEDNSBufferSize
	case requested < MinEDNSBufferSize:
		return MinEDNSBufferSize
	case requested > MaxEDNSBufferSize:
		return MaxEDNSBufferSize
	default:
		return requested
	}
}
