// Package objectstore defines the shared-object abstraction the Grace
// Coordinator is built on: a CAS-guarded (C, R) header plus a per-node
// member omap, and a watch/notify channel over the same named object.
//
// This is the boundary the specification treats as an external
// collaborator — "the object-store client library (connection, read/write-op
// builders, omap access, watch/notify, CAS)". Everything above this
// interface is store-agnostic; pkg/objectstore/postgres and
// pkg/objectstore/memstore are the two concrete bindings this repository
// ships.
package objectstore

import (
	"context"

	"github.com/marmos91/gracecoord/pkg/epoch"
)

// MaxItems bounds the number of omap entries a single Read may return. A
// store that would need to truncate the enumeration to stay under this
// bound must instead fail the read with ErrCorrupt — the coordinator must
// never act on a partial member list.
const MaxItems = 1024

// Member is one entry in the grace object's per-node omap.
type Member struct {
	NodeID    string
	Enforcing bool
}

// Snapshot is the result of a Read: the header, the full member list (never
// longer than MaxItems), and the version token a subsequent Write must
// present to CompareAndSwap against.
type Snapshot struct {
	Header  epoch.Header
	Members []Member
	Version uint64
}

// Mutation describes the write half of a read-modify-write cycle: the new
// header value, members to upsert (insert or change enforcement flag), and
// node ids to remove entirely.
type Mutation struct {
	Header epoch.Header
	Upsert []Member
	Remove []string
}

// Notification is delivered to a Subscription when any writer successfully
// commits a Write against the watched object.
type Notification struct {
	Object string
}

// Subscription is a live watch registration against one object.
type Subscription interface {
	// Events yields a Notification each time the watched object changes.
	// It is closed when the Subscription is closed or the underlying
	// watch is lost and cannot be transparently re-established.
	Events() <-chan Notification
	// Cookie identifies this registration to the underlying store, for
	// diagnostics and explicit unwatch.
	Cookie() string
	Close(ctx context.Context) error
}

// Store is the CAS-guarded shared object abstraction every Grace
// Coordinator verb is built from.
type Store interface {
	// Create creates the named object exclusively with header {C: 1, R: 0}
	// and an empty member omap. Returns a StoreError with ErrAlreadyExists
	// if the object already exists; callers treat that as success.
	Create(ctx context.Context, object string) error

	// Read returns the current header, up to MaxItems member entries, and
	// the version token for a subsequent CompareAndSwap. Returns
	// ErrCorrupt if enumerating the omap would exceed MaxItems.
	Read(ctx context.Context, object string) (Snapshot, error)

	// CompareAndSwap applies mutation atomically, guarded by the version
	// read alongside it. Returns ErrVersionMismatch if the object has been
	// modified since; callers (the Coordinator) retry from Read on that
	// error and never surface it further. On success, the implementation
	// best-effort notifies all current Subscriptions on this object.
	CompareAndSwap(ctx context.Context, object string, version uint64, mutation Mutation) error

	// ReadOmap reads a plain key/value omap with no 16-byte header
	// attached, used for the cluster-map object. Returns ErrCorrupt if
	// enumeration would exceed maxItems.
	ReadOmap(ctx context.Context, object string, maxItems int) (map[string][]byte, error)

	// Watch registers a subscription to change notifications on object.
	// The bundled implementations do not re-register a lost watch
	// themselves: its Events channel is closed and the caller (the watch
	// Dispatcher) subscribes again.
	Watch(ctx context.Context, object string) (Subscription, error)
}
