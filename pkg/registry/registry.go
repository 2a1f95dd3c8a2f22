// Package registry holds the single currently-published blocklist snapshot
// and publishes new ones atomically (§4.8).
package registry

import (
	"sync/atomic"

	"duskhole/pkg/blocklist"
)

// Registry is a single-slot atomic holder for the active Snapshot. Current
// is wait-free and safe for any number of concurrent callers; Publish is a
// single atomic store. Readers never observe a half-initialized snapshot,
// and no reader holds a lock a writer also needs — the initial state (set
// by New) is the empty, all-Allowed snapshot.
type Registry struct {
	slot atomic.Pointer[blocklist.Snapshot]
}

// New creates a Registry whose initial published snapshot is empty, per
// §3 ("Snapshot Registry... initial state is the empty snapshot").
func New() *Registry {
	r := &Registry{}
	r.slot.Store(blocklist.Empty())
	return r
}

// Current returns the currently published snapshot. The returned pointer is
// immutable and remains valid for the caller's use even after a later
// Publish call swaps in a new one; Go's garbage collector reclaims the old
// snapshot once the last holder of it drops the reference, so there is no
// explicit release step.
func (r *Registry) Current() *blocklist.Snapshot {
	return r.slot.Load()
}

// Publish atomically installs snap as the current snapshot. Every query
// that begins classification after Publish returns observes snap or a
// later one; queries already past their classify call may still complete
// against the snapshot that was current when they started.
func (r *Registry) Publish(snap *blocklist.Snapshot) {
	r.slot.Store(snap)
}
