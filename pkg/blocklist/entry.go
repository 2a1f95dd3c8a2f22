package blocklist

import (
	"strings"

	"duskhole/pkg/dnsname"
)

// Kind is the closed enumeration of entry variants (§9: "a closed
// three-variant enumeration... implement as a tagged variant, not
// polymorphism" — the same discipline applies here to the two-variant
// Entry, and to the blocked-response policy in pkg/dns).
type Kind int

const (
	KindExact Kind = iota
	KindWildcard
)

func (k Kind) String() string {
	if k == KindWildcard {
		return "wildcard"
	}
	return "exact"
}

// Entry is one parsed blocklist line: either an exact name or a wildcard
// matching any proper descendant of Name.
type Entry struct {
	Kind Kind
	Name dnsname.Name
}

// DroppedToken records a token that failed to parse into an Entry, for the
// caller to emit as a debug-level event without aborting the rest of the
// line or file.
type DroppedToken struct {
	Source string
	Line   int
	Token  string
	Reason string
}

// ParseLine parses one source line per the textual syntax in §3:
//   - "# ..." and blank lines are ignored.
//   - "ip name [name ...]" (hosts-file): each name becomes Exact(name); ip
//     is discarded regardless of its value.
//   - "localhost" and "localhost.localdomain" are skipped, in either form.
//   - "*.name" becomes Wildcard(name); bare "*" or "*." is rejected.
//   - "name" becomes Exact(name).
//   - allowWildcards, when false, discards wildcard entries at parse time
//     (blocklist.enable_wildcards = false).
//
// Tokens that fail name validation are dropped and reported via dropped;
// the rest of the line is still parsed.
func ParseLine(line string, allowWildcards bool) (entries []Entry, dropped []DroppedToken) {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = line[:i]
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, nil
	}

	if len(fields) >= 2 {
		// hosts-file form: fields[0] is an IP, discarded unconditionally.
		for _, tok := range fields[1:] {
			if tok == "localhost" || tok == "localhost.localdomain" {
				continue
			}
			name, err := dnsname.Normalize(tok)
			if err != nil {
				dropped = append(dropped, DroppedToken{Token: tok, Reason: err.Error()})
				continue
			}
			entries = append(entries, Entry{Kind: KindExact, Name: name})
		}
		return entries, dropped
	}

	tok := fields[0]
	if tok == "*" || tok == "*." {
		dropped = append(dropped, DroppedToken{Token: tok, Reason: "bare wildcard is not a valid entry"})
		return nil, dropped
	}
	if strings.HasPrefix(tok, "*.") {
		if !allowWildcards {
			return nil, nil
		}
		name, err := dnsname.Normalize(strings.TrimPrefix(tok, "*."))
		if err != nil {
			dropped = append(dropped, DroppedToken{Token: tok, Reason: err.Error()})
			return nil, dropped
		}
		return []Entry{{Kind: KindWildcard, Name: name}}, dropped
	}
	if tok == "localhost" || tok == "localhost.localdomain" {
		return nil, nil
	}
	name, err := dnsname.Normalize(tok)
	if err != nil {
		dropped = append(dropped, DroppedToken{Token: tok, Reason: err.Error()})
		return nil, dropped
	}
	return []Entry{{Kind: KindExact, Name: name}}, dropped
}
