// Package postgres implements objectstore.Store on top of PostgreSQL.
//
// The shared grace object's (C, R) header lives in a single row of the
// grace_objects table, exactly the shape of the teacher's server_epoch
// table generalized from a single counter to a (current, recoverable) pair;
// the member omap lives in a child table keyed by (object, node_id); CAS is
// an UPDATE guarded by the row's version column, and the pub/sub watch
// primitive is Postgres LISTEN/NOTIFY on a per-object channel derived from
// the object name.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marmos91/gracecoord/pkg/epoch"
	"github.com/marmos91/gracecoord/pkg/objectstore"
)

// Config configures the connection pool backing a Store.
type Config struct {
	DSN               string
	MaxConns          int32
	MinConns          int32
	ChannelPrefix     string // NOTIFY channel is ChannelPrefix + object name
}

func (c *Config) applyDefaults() {
	if c.MaxConns == 0 {
		c.MaxConns = 8
	}
	if c.ChannelPrefix == "" {
		c.ChannelPrefix = "gracecoord_"
	}
}

// Store is a PostgreSQL-backed objectstore.Store.
type Store struct {
	pool    *pgxpool.Pool
	log     *slog.Logger
	channel func(object string) string
}

// New creates a connection pool per cfg and verifies connectivity. Mirrors
// the teacher's createConnectionPool: parse config, apply pool limits, ping,
// fail loudly rather than lazily on first use.
func New(ctx context.Context, cfg Config, log *slog.Logger) (*Store, error) {
	cfg.applyDefaults()
	if log == nil {
		log = slog.Default()
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("objectstore/postgres: parse dsn: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns

	log.Info("creating postgresql connection pool for grace object store",
		"max_conns", cfg.MaxConns, "min_conns", cfg.MinConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("objectstore/postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("objectstore/postgres: ping: %w", err)
	}

	return &Store{
		pool: pool,
		log:  log,
		channel: func(object string) string {
			return cfg.ChannelPrefix + object
		},
	}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.log.Info("closing postgresql connection pool for grace object store")
	s.pool.Close()
}

// Pool returns the underlying connection pool, for collaborators that share
// the same database (e.g. a ClientStore backed by the same omap_entries
// table as the cluster-map object).
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Create implements objectstore.Store.
func (s *Store) Create(ctx context.Context, name string) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO grace_objects (name, cur, rec, version)
		VALUES ($1, 1, 0, 1)
		ON CONFLICT (name) DO NOTHING
	`, name)
	if err != nil {
		return &objectstore.StoreError{Code: objectstore.ErrStoreUnavailable, Object: name, Message: err.Error()}
	}
	if tag.RowsAffected() == 0 {
		return &objectstore.StoreError{Code: objectstore.ErrAlreadyExists, Object: name, Message: "object exists"}
	}
	return nil
}

// Read implements objectstore.Store.
func (s *Store) Read(ctx context.Context, name string) (objectstore.Snapshot, error) {
	var h epoch.Header
	var version uint64
	err := s.pool.QueryRow(ctx, `SELECT cur, rec, version FROM grace_objects WHERE name = $1`, name).
		Scan(&h.C, &h.R, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return objectstore.Snapshot{}, &objectstore.StoreError{Code: objectstore.ErrStoreUnavailable, Object: name, Message: "no such object"}
	}
	if err != nil {
		return objectstore.Snapshot{}, &objectstore.StoreError{Code: objectstore.ErrStoreUnavailable, Object: name, Message: err.Error()}
	}

	rows, err := s.pool.Query(ctx, `SELECT node_id, enforcing FROM grace_members WHERE object = $1 LIMIT $2`,
		name, objectstore.MaxItems+1)
	if err != nil {
		return objectstore.Snapshot{}, &objectstore.StoreError{Code: objectstore.ErrStoreUnavailable, Object: name, Message: err.Error()}
	}
	defer rows.Close()

	members := make([]objectstore.Member, 0, objectstore.MaxItems)
	for rows.Next() {
		var m objectstore.Member
		if err := rows.Scan(&m.NodeID, &m.Enforcing); err != nil {
			return objectstore.Snapshot{}, &objectstore.StoreError{Code: objectstore.ErrStoreUnavailable, Object: name, Message: err.Error()}
		}
		members = append(members, m)
	}
	if rows.Err() != nil {
		return objectstore.Snapshot{}, &objectstore.StoreError{Code: objectstore.ErrStoreUnavailable, Object: name, Message: rows.Err().Error()}
	}
	if len(members) > objectstore.MaxItems {
		return objectstore.Snapshot{}, &objectstore.StoreError{Code: objectstore.ErrCorrupt, Object: name, Message: "member omap exceeds MaxItems"}
	}

	return objectstore.Snapshot{Header: h, Members: members, Version: version}, nil
}

// CompareAndSwap implements objectstore.Store.
func (s *Store) CompareAndSwap(ctx context.Context, name string, version uint64, mutation objectstore.Mutation) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &objectstore.StoreError{Code: objectstore.ErrStoreUnavailable, Object: name, Message: err.Error()}
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, `
		UPDATE grace_objects SET cur = $1, rec = $2, version = version + 1
		WHERE name = $3 AND version = $4
	`, mutation.Header.C, mutation.Header.R, name, version)
	if err != nil {
		return &objectstore.StoreError{Code: objectstore.ErrStoreUnavailable, Object: name, Message: err.Error()}
	}
	if tag.RowsAffected() == 0 {
		return &objectstore.StoreError{Code: objectstore.ErrVersionMismatch, Object: name, Message: "version skew"}
	}

	for _, m := range mutation.Upsert {
		if _, err := tx.Exec(ctx, `
			INSERT INTO grace_members (object, node_id, enforcing) VALUES ($1, $2, $3)
			ON CONFLICT (object, node_id) DO UPDATE SET enforcing = EXCLUDED.enforcing
		`, name, m.NodeID, m.Enforcing); err != nil {
			return &objectstore.StoreError{Code: objectstore.ErrStoreUnavailable, Object: name, Message: err.Error()}
		}
	}
	for _, nodeID := range mutation.Remove {
		if _, err := tx.Exec(ctx, `DELETE FROM grace_members WHERE object = $1 AND node_id = $2`, name, nodeID); err != nil {
			return &objectstore.StoreError{Code: objectstore.ErrStoreUnavailable, Object: name, Message: err.Error()}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return &objectstore.StoreError{Code: objectstore.ErrStoreUnavailable, Object: name, Message: err.Error()}
	}

	// Notify is best-effort and issued after the commit, so a failed
	// notify is logged as a warning and never fails the CAS itself.
	if _, err := s.pool.Exec(ctx, `SELECT pg_notify($1, '')`, s.channel(name)); err != nil {
		s.log.Warn("grace object notify failed", "object", name, "error", err)
	}
	return nil
}

// ReadOmap implements objectstore.Store, used for the cluster-map object.
func (s *Store) ReadOmap(ctx context.Context, name string, maxItems int) (map[string][]byte, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, value FROM omap_entries WHERE object = $1 LIMIT $2`, name, maxItems+1)
	if err != nil {
		return nil, &objectstore.StoreError{Code: objectstore.ErrStoreUnavailable, Object: name, Message: err.Error()}
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var k string
		var v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return nil, &objectstore.StoreError{Code: objectstore.ErrStoreUnavailable, Object: name, Message: err.Error()}
		}
		out[k] = v
	}
	if rows.Err() != nil {
		return nil, &objectstore.StoreError{Code: objectstore.ErrStoreUnavailable, Object: name, Message: rows.Err().Error()}
	}
	if len(out) > maxItems {
		return nil, &objectstore.StoreError{Code: objectstore.ErrCorrupt, Object: name, Message: "omap exceeds max items"}
	}
	return out, nil
}

// Watch implements objectstore.Store using a dedicated connection that
// issues LISTEN and blocks in WaitForNotification. Unlike the source's
// synchronous 3000ms rados_notify2, Postgres NOTIFY is inherently
// fire-and-forget: the writer never blocks on a watcher's delivery.
func (s *Store) Watch(ctx context.Context, name string) (objectstore.Subscription, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, &objectstore.StoreError{Code: objectstore.ErrStoreUnavailable, Object: name, Message: err.Error()}
	}

	channel := s.channel(name)
	if _, err := conn.Exec(ctx, "LISTEN \""+channel+"\""); err != nil {
		conn.Release()
		return nil, &objectstore.StoreError{Code: objectstore.ErrStoreUnavailable, Object: name, Message: err.Error()}
	}

	sub := &subscription{
		conn:    conn,
		channel: channel,
		object:  name,
		events:  make(chan objectstore.Notification, 16),
		log:     s.log,
	}
	go sub.loop()
	return sub, nil
}

type subscription struct {
	conn    *pgxpool.Conn
	channel string
	object  string
	events  chan objectstore.Notification
	log     *slog.Logger
	closeMu sync.Mutex
	closed  bool
	cancel  context.CancelFunc
}

func (s *subscription) loop() {
	ctx, cancel := context.WithCancel(context.Background())
	s.closeMu.Lock()
	s.cancel = cancel
	s.closeMu.Unlock()
	defer close(s.events)

	for {
		_, err := s.conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("grace object watch lost, not re-registering", "object", s.object, "error", err)
			return
		}
		select {
		case s.events <- objectstore.Notification{Object: s.object}:
		default:
			// best-effort: a slow consumer misses this one and will
			// observe the transition on its next verb call instead.
		}
	}
}

func (s *subscription) Events() <-chan objectstore.Notification { return s.events }

func (s *subscription) Cookie() string { return s.channel }

func (s *subscription) Close(ctx context.Context) error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	_, _ = s.conn.Exec(ctx, "UNLISTEN \""+s.channel+"\"")
	s.conn.Release()
	return nil
}
