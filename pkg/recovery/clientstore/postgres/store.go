// Package postgres provides a default, standalone implementation of
// recovery.ClientStore and recovery.ConfirmedClientSnapshotter on top of
// the same omap_entries table the object store uses for the cluster-map
// object. The real client-record module -- the thing that actually tracks
// NFSv4 client ids and revoked file handles -- is an external collaborator
// the recovery backend only ever treats as an opaque key/value blob; this
// package exists so cmd/graced has something concrete to run against when
// no such module is wired in, not as a substitute for one.
//
// Key framing here is a minimal convention, not a protocol requirement: a
// single leading byte, 'c' for a client id entry or 'r' for a revoked file
// handle entry, distinguishes which AddEntryFunc a Traverse call invokes.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marmos91/gracecoord/pkg/recovery"
)

const (
	kindClid byte = 'c'
	kindRfh  byte = 'r'
)

// Store implements recovery.ClientStore on the shared omap_entries table.
type Store struct {
	pool *pgxpool.Pool
}

// New returns a Store sharing pool with the caller's object store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// CreateEmpty implements recovery.ClientStore.
func (s *Store) CreateEmpty(ctx context.Context, oid string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM omap_entries WHERE object = $1`, oid)
	if err != nil {
		return fmt.Errorf("clientstore: create empty %s: %w", oid, err)
	}
	return nil
}

// WriteAll implements recovery.ClientStore.
func (s *Store) WriteAll(ctx context.Context, oid string, entries []recovery.ClientRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("clientstore: write all %s: begin: %w", oid, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM omap_entries WHERE object = $1`, oid); err != nil {
		return fmt.Errorf("clientstore: write all %s: clear: %w", oid, err)
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`INSERT INTO omap_entries (object, key, value) VALUES ($1, $2, $3)
			ON CONFLICT (object, key) DO UPDATE SET value = EXCLUDED.value`,
			oid, string(e.Key), e.Val)
	}
	br := tx.SendBatch(ctx, batch)
	for range entries {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("clientstore: write all %s: insert: %w", oid, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("clientstore: write all %s: close batch: %w", oid, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("clientstore: write all %s: commit: %w", oid, err)
	}
	return nil
}

// Traverse implements recovery.ClientStore.
func (s *Store) Traverse(ctx context.Context, oid string, addClid, addRfh recovery.AddEntryFunc) error {
	rows, err := s.pool.Query(ctx, `SELECT key, value FROM omap_entries WHERE object = $1`, oid)
	if err != nil {
		return fmt.Errorf("clientstore: traverse %s: %w", oid, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var val []byte
		if err := rows.Scan(&key, &val); err != nil {
			return fmt.Errorf("clientstore: traverse %s: scan: %w", oid, err)
		}
		if len(key) == 0 {
			continue
		}

		keyBytes := []byte(key)
		switch keyBytes[0] {
		case kindRfh:
			if err := addRfh(keyBytes[1:], val); err != nil {
				return err
			}
		default:
			if err := addClid(keyBytes[1:], val); err != nil {
				return err
			}
		}
	}
	return rows.Err()
}

// Remove implements recovery.ClientStore.
func (s *Store) Remove(ctx context.Context, oid string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM omap_entries WHERE object = $1`, oid)
	if err != nil {
		return fmt.Errorf("clientstore: remove %s: %w", oid, err)
	}
	return nil
}

// EncodeClid prefixes a client id key with its framing byte, for callers
// that build ClientRecord slices to pass to WriteAll.
func EncodeClid(key []byte) []byte {
	return append([]byte{kindClid}, key...)
}

// EncodeRfh prefixes a revoked file handle key with its framing byte.
func EncodeRfh(key []byte) []byte {
	return append([]byte{kindRfh}, key...)
}

// NullSnapshotter is a ConfirmedClientSnapshotter that always reports no
// in-process confirmed clients. Standalone node agents with no in-process
// NFS state machine to snapshot use this; a real server wires its own
// confirmed-client table instead.
type NullSnapshotter struct{}

// Snapshot implements recovery.ConfirmedClientSnapshotter.
func (NullSnapshotter) Snapshot(ctx context.Context) ([]recovery.ClientRecord, error) {
	return nil, nil
}
