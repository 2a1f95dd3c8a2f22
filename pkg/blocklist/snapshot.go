// Package blocklist implements the immutable, atomically-swapped blocklist
// snapshot and the builder that produces it from heterogeneous sources.
package blocklist

import (
	"strings"

	"github.com/bits-and-blooms/bloom/v3"

	"duskhole/pkg/dnsname"
)

// Classification is the outcome of classifying a name against a Snapshot.
type Classification int

const (
	Allowed Classification = iota
	BlockedExact
	BlockedWildcard
)

func (c Classification) String() string {
	switch c {
	case BlockedExact:
		return "BlockedExact"
	case BlockedWildcard:
		return "BlockedWildcard"
	default:
		return "Allowed"
	}
}

// Stats summarizes a Snapshot's contents.
type Stats struct {
	ExactCount         int
	WildcardCount      int
	TotalBytesEstimate int64
}

// wildcardNode is one node of the reverse-label trie described in §4.2: the
// root represents the TLD level, and Terminal means every strictly deeper
// descendant of the name this node represents is blocked. entry holds the
// original Wildcard(x) name so a match can report which list entry fired.
type wildcardNode struct {
	children map[string]*wildcardNode
	terminal bool
	entry    dnsname.Name
}

// Snapshot is an immutable, read-optimized blocklist. It is built once by a
// Builder and never mutated after that; a rebuild produces a new Snapshot
// value entirely.
type Snapshot struct {
	exact         map[dnsname.Name]struct{}
	wildcardRoot  *wildcardNode
	wildcardCount int
	bloom         *bloom.BloomFilter
}

// bloomFPRate is the target false-positive rate for the optional negative
// accelerator (§4.2: "target false-positive rate ≤ 1%").
const bloomFPRate = 0.01

// bloomMinEntries is the smallest exact-set size worth accelerating; below
// this the filter's own memory and hashing overhead dominates (§9's open
// question on bloom utility: "marginal... only include when it can be
// proved to reduce p99 classification latency").
const bloomMinEntries = 10_000

// newSnapshot constructs a Snapshot from a fully-deduplicated entry set. It
// performs no I/O and never mutates its inputs.
func newSnapshot(exactNames map[dnsname.Name]struct{}, wildcardNames map[dnsname.Name]struct{}, useBloom bool) *Snapshot {
	s := &Snapshot{
		exact:        exactNames,
		wildcardRoot: &wildcardNode{children: make(map[string]*wildcardNode)},
	}

	for name := range wildcardNames {
		s.insertWildcard(name)
		s.wildcardCount++
	}

	if useBloom && len(exactNames) >= bloomMinEntries {
		filter := bloom.NewWithEstimates(uint(len(exactNames)), bloomFPRate)
		for name := range exactNames {
			filter.Add([]byte(name))
		}
		s.bloom = filter
	}

	return s
}

func (s *Snapshot) insertWildcard(name dnsname.Name) {
	labels := reversedLabels(name)
	node := s.wildcardRoot
	for _, lbl := range labels {
		child, ok := node.children[lbl]
		if !ok {
			child = &wildcardNode{children: make(map[string]*wildcardNode)}
			node.children[lbl] = child
		}
		node = child
	}
	node.terminal = true
	node.entry = name
}

// Classify implements the classification order fixed by §4.2:
//  1. probe the exact set; a hit is BlockedExact.
//  2. walk ancestors a.b.c -> b.c -> c (excluding the name itself); an
//     ancestor present in the wildcard set is BlockedWildcard.
//  3. otherwise Allowed.
//
// It is pure and safe for concurrent use by many goroutines.
func (s *Snapshot) Classify(name dnsname.Name) Classification {
	c, _ := s.classify(name)
	return c
}

// ClassifyMatch is Classify plus the specific list entry that produced a
// blocked verdict, for the `test` CLI command's decision trace. The DNS
// server's hot path never needs the matched entry and calls Classify
// instead, so it doesn't pay for threading it through.
func (s *Snapshot) ClassifyMatch(name dnsname.Name) (Classification, dnsname.Name) {
	return s.classify(name)
}

func (s *Snapshot) classify(name dnsname.Name) (Classification, dnsname.Name) {
	if entry, ok := s.probeExact(name); ok {
		return BlockedExact, entry
	}
	if entry, ok := s.matchWildcard(name); ok {
		return BlockedWildcard, entry
	}
	return Allowed, ""
}

func (s *Snapshot) probeExact(name dnsname.Name) (dnsname.Name, bool) {
	if s.bloom != nil && !s.bloom.Test([]byte(name)) {
		// Definite negative: the bloom filter never alters the outcome,
		// only whether the exact-set probe below is worth taking.
		return "", false
	}
	_, ok := s.exact[name]
	if !ok {
		return "", false
	}
	return name, true
}

// matchWildcard walks the reverse-label trie once, label by label from the
// TLD down. Hitting a terminal node before consuming the last label means
// name is a strict descendant of some Wildcard(x) entry. Consuming every
// label to reach a terminal node means name equals the wildcard's own base,
// which §9 explicitly excludes from the match.
func (s *Snapshot) matchWildcard(name dnsname.Name) (dnsname.Name, bool) {
	labels := reversedLabels(name)
	node := s.wildcardRoot
	for i, lbl := range labels {
		child, ok := node.children[lbl]
		if !ok {
			return "", false
		}
		node = child
		if node.terminal && i < len(labels)-1 {
			return node.entry, true
		}
	}
	return "", false
}

// Stats reports the shape of the snapshot for the `list`/`status` CLI
// commands and the scheduler's publish log event.
func (s *Snapshot) Stats() Stats {
	var bytes int64
	for name := range s.exact {
		bytes += int64(len(name)) + 16
	}
	bytes += int64(s.wildcardCount) * 48

	return Stats{
		ExactCount:         len(s.exact),
		WildcardCount:      s.wildcardCount,
		TotalBytesEstimate: bytes,
	}
}

func reversedLabels(name dnsname.Name) []string {
	labels := strings.Split(string(name), ".")
	for i, j := 0, len(labels)-1; i < j; i, j = i+1, j-1 {
		labels[i], labels[j] = labels[j], labels[i]
	}
	return labels
}

// Empty returns the initial, all-Allowed snapshot published before the
// first build completes.
func Empty() *Snapshot {
	return newSnapshot(map[dnsname.Name]struct{}{}, map[dnsname.Name]struct{}{}, false)
}
