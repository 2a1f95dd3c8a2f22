// Package dnsname canonicalizes domain names into the lookup key shared by
// the blocklist, the request handler, and the forwarder.
package dnsname

import (
	"errors"
	"strings"
)

// MaxNameLength is the maximum length, in bytes, of a canonical name
// (dot-joined, no trailing dot).
const MaxNameLength = 253

// MaxLabelLength is the maximum length of a single label.
const MaxLabelLength = 63

// Reason enumerates why a raw name failed to normalize.
type Reason string

const (
	ReasonEmpty    Reason = "Empty"
	ReasonTooLong  Reason = "TooLong"
	ReasonBadLabel Reason = "BadLabel"
)

// InvalidNameError is returned by Normalize when raw does not canonicalize.
type InvalidNameError struct {
	Reason Reason
	Raw    string
}

func (e *InvalidNameError) Error() string {
	return "invalid name (" + string(e.Reason) + "): " + e.Raw
}

// Is allows errors.Is(err, ErrInvalidName) to match any InvalidNameError.
func (e *InvalidNameError) Is(target error) bool {
	return target == ErrInvalidName
}

// ErrInvalidName is the sentinel matched by InvalidNameError.Is.
var ErrInvalidName = errors.New("invalid name")

// Name is a canonical domain name: lower-case, no trailing dot, validated
// label structure. The zero value is not a valid Name; always obtain one
// through Normalize.
type Name string

// String implements fmt.Stringer.
func (n Name) String() string { return string(n) }

// Normalize canonicalizes a wire-format or textual domain name: strips one
// trailing dot, lower-cases ASCII, validates label and total length bounds,
// and rejects the empty name. It is idempotent: Normalize(Normalize(x)) ==
// Normalize(x) for any x that normalizes successfully.
func Normalize(raw string) (Name, error) {
	s := raw
	if s == "." {
		return "", &InvalidNameError{Reason: ReasonEmpty, Raw: raw}
	}
	s = strings.TrimSuffix(s, ".")
	if s == "" {
		return "", &InvalidNameError{Reason: ReasonEmpty, Raw: raw}
	}

	s = strings.ToLower(s)

	labels := strings.Split(s, ".")
	total := 0
	for _, label := range labels {
		if err := validateLabel(label); err != nil {
			return "", &InvalidNameError{Reason: ReasonBadLabel, Raw: raw}
		}
		total += len(label) + 1
	}
	total--
	if total > MaxNameLength || len(labels) > 127 {
		return "", &InvalidNameError{Reason: ReasonTooLong, Raw: raw}
	}

	return Name(s), nil
}

func validateLabel(label string) error {
	if label == "" || len(label) > MaxLabelLength {
		return ErrInvalidName
	}
	if label[0] == '-' || label[len(label)-1] == '-' {
		return ErrInvalidName
	}
	for i := 0; i < len(label); i++ {
		c := label[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '-':
		default:
			return ErrInvalidName
		}
	}
	return nil
}

// Parent returns the immediate parent of n and true, or ("", false) if n is
// a single label (has no parent).
func (n Name) Parent() (Name, bool) {
	s := string(n)
	i := strings.IndexByte(s, '.')
	if i < 0 {
		return "", false
	}
	return Name(s[i+1:]), true
}

// Ancestors yields every proper ancestor of n, from the immediate parent up
// to and including the TLD (the root "" is never yielded), matching the
// classification walk in §4.2: a.b.c -> b.c -> c.
func (n Name) Ancestors() []Name {
	var out []Name
	cur := n
	for {
		parent, ok := cur.Parent()
		if !ok {
			return out
		}
		out = append(out, parent)
		cur = parent
	}
}
