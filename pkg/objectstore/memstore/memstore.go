// Package memstore is an in-process objectstore.Store used by unit tests and
// local development. It has no persistence and no real network round trip,
// but preserves the CAS-and-notify contract exactly: every write is guarded
// by the version read alongside it, and every successful write fans a
// Notification out to current subscribers.
package memstore

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/marmos91/gracecoord/pkg/epoch"
	"github.com/marmos91/gracecoord/pkg/objectstore"
)

type object struct {
	mu      sync.Mutex
	exists  bool
	header  epoch.Header
	members map[string]objectstore.Member
	version uint64
	subs    map[*subscription]struct{}
}

// Store is an in-memory objectstore.Store.
type Store struct {
	mu      sync.Mutex
	objects map[string]*object
	omaps   map[string]map[string][]byte
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		objects: make(map[string]*object),
		omaps:   make(map[string]map[string][]byte),
	}
}

func (s *Store) objectFor(name string) *object {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[name]
	if !ok {
		o = &object{members: make(map[string]objectstore.Member), subs: make(map[*subscription]struct{})}
		s.objects[name] = o
	}
	return o
}

// SeedOmap installs a plain key/value omap for ReadOmap, used by tests to
// populate a cluster-map object without going through CompareAndSwap.
func (s *Store) SeedOmap(name string, kv map[string][]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.omaps[name] = kv
}

// Create implements objectstore.Store.
func (s *Store) Create(ctx context.Context, name string) error {
	o := s.objectFor(name)
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.exists {
		return &objectstore.StoreError{Code: objectstore.ErrAlreadyExists, Object: name, Message: "object exists"}
	}
	o.exists = true
	o.header = epoch.Header{C: 1, R: 0}
	o.version = 1
	return nil
}

// Read implements objectstore.Store.
func (s *Store) Read(ctx context.Context, name string) (objectstore.Snapshot, error) {
	o := s.objectFor(name)
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.exists {
		return objectstore.Snapshot{}, &objectstore.StoreError{Code: objectstore.ErrStoreUnavailable, Object: name, Message: "no such object"}
	}
	if len(o.members) > objectstore.MaxItems {
		return objectstore.Snapshot{}, &objectstore.StoreError{Code: objectstore.ErrCorrupt, Object: name, Message: "omap exceeds MaxItems"}
	}
	members := make([]objectstore.Member, 0, len(o.members))
	for _, m := range o.members {
		members = append(members, m)
	}
	return objectstore.Snapshot{Header: o.header, Members: members, Version: o.version}, nil
}

// CompareAndSwap implements objectstore.Store.
func (s *Store) CompareAndSwap(ctx context.Context, name string, version uint64, mutation objectstore.Mutation) error {
	o := s.objectFor(name)
	o.mu.Lock()
	if !o.exists {
		o.mu.Unlock()
		return &objectstore.StoreError{Code: objectstore.ErrStoreUnavailable, Object: name, Message: "no such object"}
	}
	if o.version != version {
		o.mu.Unlock()
		return &objectstore.StoreError{Code: objectstore.ErrVersionMismatch, Object: name, Message: "version skew"}
	}
	o.header = mutation.Header
	for _, m := range mutation.Upsert {
		o.members[m.NodeID] = m
	}
	for _, id := range mutation.Remove {
		delete(o.members, id)
	}
	o.version++
	subs := make([]*subscription, 0, len(o.subs))
	for sub := range o.subs {
		subs = append(subs, sub)
	}
	o.mu.Unlock()

	for _, sub := range subs {
		sub.deliver(objectstore.Notification{Object: name})
	}
	return nil
}

// ReadOmap implements objectstore.Store.
func (s *Store) ReadOmap(ctx context.Context, name string, maxItems int) (map[string][]byte, error) {
	s.mu.Lock()
	kv, ok := s.omaps[name]
	s.mu.Unlock()
	if !ok {
		return map[string][]byte{}, nil
	}
	if len(kv) > maxItems {
		return nil, &objectstore.StoreError{Code: objectstore.ErrCorrupt, Object: name, Message: "omap exceeds max items"}
	}
	out := make(map[string][]byte, len(kv))
	for k, v := range kv {
		out[k] = v
	}
	return out, nil
}

// Watch implements objectstore.Store.
func (s *Store) Watch(ctx context.Context, name string) (objectstore.Subscription, error) {
	o := s.objectFor(name)
	sub := &subscription{events: make(chan objectstore.Notification, 16), owner: o, cookie: uuid.NewString()}
	o.mu.Lock()
	o.subs[sub] = struct{}{}
	o.mu.Unlock()
	return sub, nil
}

type subscription struct {
	events chan objectstore.Notification
	owner  *object
	once   sync.Once
	cookie string
}

func (s *subscription) deliver(n objectstore.Notification) {
	select {
	case s.events <- n:
	default:
		// Slow subscriber; drop the notification. Matches the spec's
		// "notifications are best-effort and may be dropped" guarantee.
	}
}

func (s *subscription) Events() <-chan objectstore.Notification { return s.events }

func (s *subscription) Cookie() string { return s.cookie }

func (s *subscription) Close(ctx context.Context) error {
	s.once.Do(func() {
		s.owner.mu.Lock()
		delete(s.owner.subs, s)
		s.owner.mu.Unlock()
		close(s.events)
	})
	return nil
}
