package dns

import (
	"duskhole/pkg/config"

	"github.com/miekg/dns"
)

// respondBlocked synthesizes the response for a blocked query per
// server.blocked_response: refused answers with RCODE REFUSED and AA/RA
// both cleared (§4.6: "QR=1, AA=0, RA=0"), nxdomain (the default) answers
// with RCODE NXDOMAIN, and zero answers NOERROR with a zeroed A/AAAA record
// (0.0.0.0 / ::) for address queries and an empty answer section for
// anything else. All three echo the question section and preserve the
// transaction ID via msg.SetReply, already done by the caller.
func (h *Handler) respondBlocked(r, msg *dns.Msg, question dns.Question) {
	switch h.BlockedResponse {
	case config.BlockedRefused:
		msg.SetRcode(r, dns.RcodeRefused)
		msg.Authoritative = false
		msg.RecursionAvailable = false
	case config.BlockedZero:
		msg.SetRcode(r, dns.RcodeSuccess)
		addZeroedRecord(msg, question)
	default: // config.BlockedNXDomain
		msg.SetRcode(r, dns.RcodeNameError)
	}
}

func addZeroedRecord(msg *dns.Msg, question dns.Question) {
	const zeroTTL = 0
	switch question.Qtype {
	case dns.TypeA:
		msg.Answer = append(msg.Answer, &dns.A{
			Hdr: dns.RR_Header{Name: question.Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: zeroTTL},
			A:   net4Zero,
		})
	case dns.TypeAAAA:
		msg.Answer = append(msg.Answer, &dns.AAAA{
			Hdr:  dns.RR_Header{Name: question.Name, Rrtype: dns.TypeAAAA, Class: dns.ClassINET, Ttl: zeroTTL},
			AAAA: net6Zero,
		})
	}
	// Any other qtype: NOERROR with an empty answer section.
}
