// Package recovery implements the per-node recovery backend: the glue that
// connects a single NFS server's reclaim machinery to the cluster-wide
// Grace Coordinator. It resolves the node identifier, verifies cluster
// membership, joins grace on startup, seeds reclaim from the previous
// epoch's recovery database, and drives enforcement transitions.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/gracecoord/pkg/epoch"
	"github.com/marmos91/gracecoord/pkg/grace"
	"github.com/marmos91/gracecoord/pkg/objectstore"
	"github.com/marmos91/gracecoord/pkg/watch"
)

// MaxClusterMembers bounds a single get_replicas read of the cluster-map
// omap. The Linux client only ever addresses up to 10 servers; 16 leaves
// comfortable headroom.
const MaxClusterMembers = 16

// MaxClientSnapshot bounds how many confirmed-client records
// MaybeStartGrace will seed into a fresh recovery database in one write. A
// snapshot above this cap is truncated and logged -- an acknowledged
// limitation, not a silent correctness issue, since a node that misses
// entries here will simply have fewer clients eligible to reclaim.
const MaxClientSnapshot = 1024

// ErrTakeoverUnsupported is returned (after being logged, not before) when
// ReadClids is invoked with a takeover hint; failover of one node's client
// set to another is out of scope.
var ErrTakeoverUnsupported = errors.New("recovery: takeover is not supported")

// Config configures a Backend. NodeID, GraceObject, ClusterMapObject are
// optional; zero values apply the documented defaults.
type Config struct {
	// NodeID identifies this node in the grace cohort. If empty, the
	// platform host name is used.
	NodeID string
	// GraceObject names the shared grace object. Defaults to "grace".
	GraceObject string
	// ClusterMapObject names the cluster-map object consulted by
	// GetReplicas. Defaults to "clustermap".
	ClusterMapObject string
	// WatchMinBackoff and WatchMaxBackoff bound the watch dispatcher's
	// reconnect backoff. Zero leaves the dispatcher's own defaults.
	WatchMinBackoff time.Duration
	WatchMaxBackoff time.Duration
}

func (c *Config) applyDefaults() {
	if c.GraceObject == "" {
		c.GraceObject = "grace"
	}
	if c.ClusterMapObject == "" {
		c.ClusterMapObject = "clustermap"
	}
}

// Replica is one entry returned by GetReplicas: a peer node's address, or a
// zero-length Address for the local node per the wire convention that an
// empty address means "the current address".
type Replica struct {
	NodeID  string
	Address []byte
}

// Backend is the per-node recovery backend. Create one with New, call Init
// before driving any other method, and Shutdown when the node is going
// down.
type Backend struct {
	cfg         Config
	coordinator *grace.Coordinator
	store       objectstore.Store
	clients     ClientStore
	snapshotter ConfirmedClientSnapshotter
	log         *slog.Logger

	// OnWake is invoked by the watch dispatcher to kick the local reaper
	// thread. OnGraceTransition is invoked to wake callers blocked on a
	// grace-period transition. OnStartGrace is invoked by MaybeStartGrace
	// once the fresh recovery database has been written, to enter the
	// node-local grace-period state machine. All three are owned by the
	// surrounding server and must be non-nil before Init is called.
	OnWake            func()
	OnGraceTransition func()
	OnStartGrace      func()

	mu          sync.Mutex
	nodeID      string
	recovOID    string
	recovOldOID string
	dispatcher  *watch.Dispatcher
}

// New constructs a Backend. clients and snapshotter are the external
// client-record collaborators; store is the shared grace/cluster-map
// object store.
func New(store objectstore.Store, clients ClientStore, snapshotter ConfirmedClientSnapshotter, cfg Config, log *slog.Logger) *Backend {
	cfg.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Backend{
		cfg:         cfg,
		coordinator: grace.New(store),
		store:       store,
		clients:     clients,
		snapshotter: snapshotter,
		log:         log,
	}
}

// Init resolves the node identifier, verifies cluster membership, and
// registers the watch. Any failure releases everything acquired so far.
func (b *Backend) Init(ctx context.Context) error {
	nodeID := b.cfg.NodeID
	if nodeID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			b.log.Warn("failed to resolve node id from hostname, falling back to a generated id", "error", err)
			hostname = uuid.NewString()
		}
		nodeID = hostname
	}

	member, err := b.coordinator.Member(ctx, b.cfg.GraceObject, nodeID)
	if err != nil {
		return fmt.Errorf("recovery: membership check for %q: %w", nodeID, err)
	}
	if !member {
		return &objectstore.StoreError{Code: objectstore.ErrNotMember, Object: b.cfg.GraceObject, Message: nodeID + " is not a cluster member"}
	}

	dispatcher := watch.New(b.store, b.cfg.GraceObject, b.log, b.wake, b.notifyWaiters,
		watch.WithBackoff(b.cfg.WatchMinBackoff, b.cfg.WatchMaxBackoff))
	if err := dispatcher.Start(ctx); err != nil {
		return fmt.Errorf("recovery: register watch: %w", err)
	}

	b.mu.Lock()
	b.nodeID = nodeID
	b.dispatcher = dispatcher
	b.mu.Unlock()
	return nil
}

func (b *Backend) wake() {
	if b.OnWake != nil {
		b.OnWake()
	}
}

func (b *Backend) notifyWaiters() {
	if b.OnGraceTransition != nil {
		b.OnGraceTransition()
	}
}

// NodeID returns the resolved node identifier. Valid only after Init.
func (b *Backend) NodeID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nodeID
}

// ReadClids joins the cluster-wide grace period (forcing a new epoch if
// none is active -- a node that just restarted must always bring the
// cluster into grace) and seeds reclaim from the previous epoch's recovery
// database. takeover must be false; takeover scenarios are unsupported and
// this logs and returns ErrTakeoverUnsupported without touching any state.
func (b *Backend) ReadClids(ctx context.Context, takeover bool, addClid, addRfh AddEntryFunc) error {
	if takeover {
		b.log.Error("clustered recovery backend does not support takeover")
		return ErrTakeoverUnsupported
	}

	nodeID := b.NodeID()
	header, err := b.coordinator.Start(ctx, b.cfg.GraceObject, []string{nodeID}, true)
	if err != nil {
		return fmt.Errorf("recovery: join grace period: %w", err)
	}

	recovOID := DBName(header.C, nodeID)
	recovOldOID := DBName(header.R, nodeID)

	if err := b.clients.CreateEmpty(ctx, recovOID); err != nil {
		return fmt.Errorf("recovery: create recovery database %q: %w", recovOID, err)
	}

	b.mu.Lock()
	b.recovOID = recovOID
	if header.R != 0 {
		b.recovOldOID = recovOldOID
	} else {
		b.recovOldOID = ""
	}
	b.mu.Unlock()

	if header.R == 0 {
		return nil
	}

	if err := b.clients.Traverse(ctx, recovOldOID, addClid, addRfh); err != nil {
		return fmt.Errorf("recovery: traverse recovery database %q: %w", recovOldOID, err)
	}
	return nil
}

// EndGrace clears this node's enforcement flag and removes the previous
// recovery database, once the local grace period has been fully lifted.
func (b *Backend) EndGrace(ctx context.Context) error {
	if err := b.coordinator.EnforcingOff(ctx, b.cfg.GraceObject, b.NodeID()); err != nil {
		return fmt.Errorf("recovery: clear enforcing flag: %w", err)
	}

	b.mu.Lock()
	oldOID := b.recovOldOID
	b.recovOldOID = ""
	b.mu.Unlock()

	if oldOID == "" {
		return nil
	}
	if err := b.clients.Remove(ctx, oldOID); err != nil {
		return fmt.Errorf("recovery: remove old recovery database %q: %w", oldOID, err)
	}
	return nil
}

// MaybeStartGrace checks whether a peer has started a cluster-wide grace
// period and, if so, joins it locally: seeds a fresh recovery database from
// the confirmed-client table and enters the node-local grace state machine.
func (b *Backend) MaybeStartGrace(ctx context.Context) error {
	header, err := b.coordinator.Epochs(ctx, b.cfg.GraceObject)
	if err != nil {
		return fmt.Errorf("recovery: read epochs: %w", err)
	}
	if header.R == 0 {
		return nil
	}

	nodeID := b.NodeID()
	recovOID := DBName(header.C, nodeID)
	recovOldOID := DBName(header.R, nodeID)

	records, err := b.snapshotter.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("recovery: snapshot confirmed clients: %w", err)
	}
	if len(records) > MaxClientSnapshot {
		b.log.Warn("confirmed client table exceeds snapshot cap, truncating",
			"count", len(records), "cap", MaxClientSnapshot)
		records = records[:MaxClientSnapshot]
	}

	if err := b.clients.WriteAll(ctx, recovOID, records); err != nil {
		return fmt.Errorf("recovery: write recovery database %q: %w", recovOID, err)
	}

	b.mu.Lock()
	b.recovOID = recovOID
	b.recovOldOID = recovOldOID
	b.mu.Unlock()

	if b.OnStartGrace != nil {
		b.OnStartGrace()
	}
	return nil
}

// TryLiftGrace calls done for this node and reports whether the grace
// period is now fully lifted cluster-wide.
func (b *Backend) TryLiftGrace(ctx context.Context) (bool, error) {
	header, err := b.coordinator.Done(ctx, b.cfg.GraceObject, b.NodeID())
	if err != nil {
		return false, fmt.Errorf("recovery: lift grace: %w", err)
	}
	return header.R == 0, nil
}

// SetEnforcing sets this node's enforcement flag.
func (b *Backend) SetEnforcing(ctx context.Context) error {
	return b.coordinator.EnforcingOn(ctx, b.cfg.GraceObject, b.NodeID())
}

// GraceEnforcing reports whether this node's enforcement flag is set.
func (b *Backend) GraceEnforcing(ctx context.Context) (bool, error) {
	return b.coordinator.EnforcingCheck(ctx, b.cfg.GraceObject, b.NodeID())
}

// IsMember reports whether this node is still present in the grace cohort.
func (b *Backend) IsMember(ctx context.Context) (bool, error) {
	return b.coordinator.Member(ctx, b.cfg.GraceObject, b.NodeID())
}

// GetReplicas reads up to MaxClusterMembers entries from the cluster-map
// object, reporting each peer's address verbatim and a zero-length address
// for the local node.
func (b *Backend) GetReplicas(ctx context.Context) ([]Replica, error) {
	kv, err := b.store.ReadOmap(ctx, b.cfg.ClusterMapObject, MaxClusterMembers)
	if err != nil {
		return nil, fmt.Errorf("recovery: read cluster map: %w", err)
	}

	nodeID := b.NodeID()
	replicas := make([]Replica, 0, len(kv))
	for id, addr := range kv {
		if id == nodeID {
			replicas = append(replicas, Replica{NodeID: id, Address: nil})
			continue
		}
		replicas = append(replicas, Replica{NodeID: id, Address: addr})
	}
	return replicas, nil
}

// Epochs returns the current (C, R) header, for callers that need it
// directly rather than through a verb wrapper.
func (b *Backend) Epochs(ctx context.Context) (epoch.Header, error) {
	return b.coordinator.Epochs(ctx, b.cfg.GraceObject)
}

// Shutdown preemptively requests grace for this node (so the cohort shows
// it as requesting grace before the session ends) and tears down the
// watch.
func (b *Backend) Shutdown(ctx context.Context) error {
	nodeID := b.NodeID()
	if _, err := b.coordinator.Start(ctx, b.cfg.GraceObject, []string{nodeID}, true); err != nil {
		b.log.Warn("failed to request grace period on shutdown", "node_id", nodeID, "error", err)
	}

	b.mu.Lock()
	dispatcher := b.dispatcher
	b.dispatcher = nil
	b.mu.Unlock()

	if dispatcher != nil {
		dispatcher.Stop(ctx)
	}
	return nil
}
