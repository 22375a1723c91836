package recovery

import "context"

// ClientRecord is one opaque key/value entry in a per-node recovery
// database. The core treats the blob format as opaque and delegates
// encoding/decoding to the external client-record module.
type ClientRecord struct {
	Key []byte
	Val []byte
}

// AddEntryFunc is invoked once per traversed ClientRecord. The client-record
// module decides, from the key's own framing, whether an entry describes a
// client id or a revoked file handle, and routes it to the matching hook.
type AddEntryFunc func(key, val []byte) error

// ClientStore is the external collaborator that owns the per-node recovery
// database object's contents. The backend only ever creates, clears,
// populates, traverses, or removes a database by name; it never interprets
// an entry.
type ClientStore interface {
	// CreateEmpty idempotently creates oid and clears its omap, leaving an
	// empty recovery database ready to be populated.
	CreateEmpty(ctx context.Context, oid string) error

	// WriteAll idempotently creates oid, clears its omap, and writes
	// entries in a single write-op.
	WriteAll(ctx context.Context, oid string, entries []ClientRecord) error

	// Traverse reads every entry in oid's omap, invoking addClid or addRfh
	// for each one as the module's own key framing dictates.
	Traverse(ctx context.Context, oid string, addClid, addRfh AddEntryFunc) error

	// Remove deletes oid entirely. A missing oid is not an error.
	Remove(ctx context.Context, oid string) error
}

// ConfirmedClientSnapshotter captures the in-process confirmed-client table
// as a list of opaque records, for seeding a fresh recovery database when a
// cluster-wide grace period begins. The snapshot must be taken under the
// table's own read lock and must not retain references across the call.
type ConfirmedClientSnapshotter interface {
	Snapshot(ctx context.Context) ([]ClientRecord, error)
}
