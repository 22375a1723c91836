// Package grace implements the cluster-wide grace period verbs as a
// stateless CAS-retry loop over an objectstore.Store object: create, epochs,
// dump, start/join, lift/done, and the enforcing/member queries. Every verb
// that mutates state retries on ErrVersionMismatch internally and never
// surfaces it to the caller.
package grace

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/marmos91/gracecoord/internal/telemetry"
	"github.com/marmos91/gracecoord/pkg/epoch"
	"github.com/marmos91/gracecoord/pkg/metrics"
	"github.com/marmos91/gracecoord/pkg/objectstore"
)

// Coordinator performs grace period verbs against a single named object in
// an objectstore.Store.
type Coordinator struct {
	store   objectstore.Store
	metrics *metrics.Metrics
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMetrics attaches m to the Coordinator. A nil m (the default) disables
// instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// New returns a Coordinator bound to store.
func New(store objectstore.Store, opts ...Option) *Coordinator {
	c := &Coordinator{store: store}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func isVersionMismatch(err error) bool {
	var se *objectstore.StoreError
	return errors.As(err, &se) && se.Code == objectstore.ErrVersionMismatch
}

// Create creates the grace object with header {C: 1, R: 0} and an empty
// member omap. ErrAlreadyExists is treated as success, matching the
// source's exclusive-create-is-idempotent-to-the-caller convention.
func (c *Coordinator) Create(ctx context.Context, oid string) error {
	err := c.store.Create(ctx, oid)
	var se *objectstore.StoreError
	if errors.As(err, &se) && se.Code == objectstore.ErrAlreadyExists {
		return nil
	}
	return err
}

// Epochs returns the current (C, R) header without touching the omap.
func (c *Coordinator) Epochs(ctx context.Context, oid string) (epoch.Header, error) {
	snap, err := c.store.Read(ctx, oid)
	if err != nil {
		return epoch.Header{}, err
	}
	return snap.Header, nil
}

// Dump returns the header plus the current member omap, for diagnostics.
func (c *Coordinator) Dump(ctx context.Context, oid string) (epoch.Header, []objectstore.Member, error) {
	snap, err := c.store.Read(ctx, oid)
	if err != nil {
		return epoch.Header{}, nil, err
	}
	return snap.Header, snap.Members, nil
}

// Start begins (or, with force=false, joins) a grace period for nodeIDs.
//
// With force=true (the administrative "start" verb) a new epoch is always
// established if none is in force: R==0 becomes R=C, C+=1. With force=false
// (the per-node "join" verb issued at boot) the call is a pure no-op -- no
// epoch change, no omap write -- unless a grace period is already in force,
// in which case the node is added to the member omap under the current
// epoch without perturbing (C, R).
func (c *Coordinator) Start(ctx context.Context, oid string, nodeIDs []string, force bool) (epoch.Header, error) {
	op := "join"
	if force {
		op = "start"
	}
	ctx, span := telemetry.StartSpan(ctx, "grace."+op, trace.WithAttributes(telemetry.Object(oid)))
	defer span.End()

	start := time.Now()
	retries := 0
	header, err := c.start(ctx, oid, nodeIDs, force, &retries)
	c.metrics.ObserveCAS(oid, op, retries, time.Since(start), err)
	telemetry.SetAttributes(ctx, telemetry.Epochs(header.C, header.R)...)
	telemetry.RecordError(ctx, err)
	return header, err
}

func (c *Coordinator) start(ctx context.Context, oid string, nodeIDs []string, force bool, retries *int) (epoch.Header, error) {
	for {
		snap, err := c.store.Read(ctx, oid)
		if err != nil {
			return epoch.Header{}, err
		}

		if snap.Header.R == 0 && !force {
			return snap.Header, nil
		}

		header := snap.Header
		if snap.Header.R == 0 {
			header.R = header.C
			header.C++
		}

		upserts := make([]objectstore.Member, len(nodeIDs))
		for i, id := range nodeIDs {
			upserts[i] = objectstore.Member{NodeID: id, Enforcing: false}
		}

		err = c.store.CompareAndSwap(ctx, oid, snap.Version, objectstore.Mutation{Header: header, Upsert: upserts})
		if err == nil {
			return header, nil
		}
		if isVersionMismatch(err) {
			*retries++
			continue
		}
		return epoch.Header{}, err
	}
}

// Join is Start with force=false for a single node.
func (c *Coordinator) Join(ctx context.Context, oid string, nodeID string) (epoch.Header, error) {
	return c.Start(ctx, oid, []string{nodeID}, false)
}

// Lift clears nodeIDs from the member omap. If every current member is
// cleared by this call, the grace period is fully lifted in the same CAS
// (R set to 0); there is never an observable intermediate state with an
// empty omap and R != 0.
func (c *Coordinator) Lift(ctx context.Context, oid string, nodeIDs []string) (epoch.Header, error) {
	ctx, span := telemetry.StartSpan(ctx, "grace.lift", trace.WithAttributes(telemetry.Object(oid)))
	defer span.End()

	start := time.Now()
	retries := 0
	header, err := c.lift(ctx, oid, nodeIDs, &retries)
	c.metrics.ObserveCAS(oid, "lift", retries, time.Since(start), err)
	telemetry.SetAttributes(ctx, telemetry.Epochs(header.C, header.R)...)
	telemetry.RecordError(ctx, err)
	return header, err
}

func (c *Coordinator) lift(ctx context.Context, oid string, nodeIDs []string, retries *int) (epoch.Header, error) {
	matches := make(map[string]struct{}, len(nodeIDs))
	for _, id := range nodeIDs {
		matches[id] = struct{}{}
	}

	for {
		snap, err := c.store.Read(ctx, oid)
		if err != nil {
			return epoch.Header{}, err
		}

		if snap.Header.R == 0 {
			if len(snap.Members) != 0 {
				return epoch.Header{}, &objectstore.StoreError{
					Code: objectstore.ErrCorrupt, Object: oid,
					Message: "grace period not in force but member omap is non-empty",
				}
			}
			return snap.Header, nil
		}

		var toRemove []string
		for _, m := range snap.Members {
			if _, ok := matches[m.NodeID]; ok {
				toRemove = append(toRemove, m.NodeID)
			}
		}
		if len(toRemove) == 0 {
			return snap.Header, nil
		}

		header := snap.Header
		if len(toRemove) == len(snap.Members) {
			header.R = 0
		}

		err = c.store.CompareAndSwap(ctx, oid, snap.Version, objectstore.Mutation{Header: header, Remove: toRemove})
		if err == nil {
			return header, nil
		}
		if isVersionMismatch(err) {
			*retries++
			continue
		}
		return epoch.Header{}, err
	}
}

// Done is Lift for a single node.
func (c *Coordinator) Done(ctx context.Context, oid string, nodeID string) (epoch.Header, error) {
	return c.Lift(ctx, oid, []string{nodeID})
}

// EnforcingOn sets the enforcement flag for nodeID. A no-op, not an error,
// if nodeID is not currently a member; it never implicitly creates
// membership.
func (c *Coordinator) EnforcingOn(ctx context.Context, oid string, nodeID string) error {
	return c.setEnforcing(ctx, oid, nodeID, true)
}

// EnforcingOff clears the enforcement flag for nodeID. Same no-op rule as
// EnforcingOn.
func (c *Coordinator) EnforcingOff(ctx context.Context, oid string, nodeID string) error {
	return c.setEnforcing(ctx, oid, nodeID, false)
}

func (c *Coordinator) setEnforcing(ctx context.Context, oid string, nodeID string, enforcing bool) error {
	for {
		snap, err := c.store.Read(ctx, oid)
		if err != nil {
			return err
		}

		var found bool
		for _, m := range snap.Members {
			if m.NodeID == nodeID {
				found = true
				break
			}
		}
		if !found {
			return nil
		}

		err = c.store.CompareAndSwap(ctx, oid, snap.Version, objectstore.Mutation{
			Header: snap.Header,
			Upsert: []objectstore.Member{{NodeID: nodeID, Enforcing: enforcing}},
		})
		if err == nil {
			return nil
		}
		if isVersionMismatch(err) {
			continue
		}
		return err
	}
}

// EnforcingCheck reports whether nodeID is a member whose enforcement flag
// is set. A non-member reports false with no error.
func (c *Coordinator) EnforcingCheck(ctx context.Context, oid string, nodeID string) (bool, error) {
	snap, err := c.store.Read(ctx, oid)
	if err != nil {
		return false, err
	}
	for _, m := range snap.Members {
		if m.NodeID == nodeID {
			return m.Enforcing, nil
		}
	}
	return false, nil
}

// Member reports whether nodeID currently has an entry in the member omap.
func (c *Coordinator) Member(ctx context.Context, oid string, nodeID string) (bool, error) {
	snap, err := c.store.Read(ctx, oid)
	if err != nil {
		return false, err
	}
	for _, m := range snap.Members {
		if m.NodeID == nodeID {
			return true, nil
		}
	}
	return false, nil
}

// Watch registers a change subscription on the grace object, used by the
// watch dispatcher to wake node agents when another node mutates it.
func (c *Coordinator) Watch(ctx context.Context, oid string) (objectstore.Subscription, error) {
	return c.store.Watch(ctx, oid)
}
