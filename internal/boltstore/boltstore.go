// Package boltstore is an embedded, file-backed implementation of the
// knowledge store, used by the offline CLI and in tests. Values are
// msgpack-encoded definitions keyed so that every lookup the resolver needs
// is a prefix scan over one bucket.
package boltstore

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"

	"github.com/apittopti/diagflow/internal/knowledge"
)

var definitionsBucket = []byte("definitions")

// Store implements knowledge.Store on a bbolt file.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the store file and ensures the bucket exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(definitionsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying file.
func (s *Store) Close() error {
	return s.db.Close()
}

// defKey orders key fields level, scope, kind, identifier, address, version
// so that Find, FindCandidates and FindMany are each one prefix scan. Fields
// are separated by a zero byte, which cannot appear in any of them.
func defKey(def *knowledge.Definition) []byte {
	key := defPrefix(string(def.Level), def.ScopeID, string(def.Kind), def.Identifier, def.ECUAddress)
	return append(key, []byte(fmt.Sprintf("%06d", def.Version))...)
}

func defPrefix(fields ...string) []byte {
	var key []byte
	for _, f := range fields {
		key = append(key, f...)
		key = append(key, 0)
	}
	return key
}

// Upsert inserts the definition unless a row for the same (kind, identifier,
// level, scopeId, ecuAddress, version) tuple exists; the existing row is
// left untouched. Timestamps are stamped on insert.
func (s *Store) Upsert(ctx context.Context, def *knowledge.Definition) (bool, error) {
	if def.ID == uuid.Nil {
		def.ID = uuid.New()
	}
	if def.Version <= 0 {
		def.Version = 1
	}
	key := defKey(def)

	inserted := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(definitionsBucket)
		if b.Get(key) != nil {
			return nil
		}
		now := time.Now().UTC()
		if def.CreatedAt.IsZero() {
			def.CreatedAt = now
		}
		def.UpdatedAt = now
		data, err := msgpack.Marshal(def)
		if err != nil {
			return fmt.Errorf("encode definition: %w", err)
		}
		inserted = true
		return b.Put(key, data)
	})
	return inserted, err
}

// Find returns the latest version for the exact tuple, or nil.
func (s *Store) Find(ctx context.Context, kind knowledge.Kind, identifier string, level knowledge.Level, scopeID, ecuAddress string) (*knowledge.Definition, error) {
	prefix := defPrefix(string(level), scopeID, string(kind), identifier, ecuAddress)

	var found *knowledge.Definition
	err := s.scan(prefix, func(def knowledge.Definition) {
		d := def
		found = &d
	})
	return found, err
}

// FindCandidates returns every row for kind+identifier at one level and
// scope, across all addresses and versions.
func (s *Store) FindCandidates(ctx context.Context, kind knowledge.Kind, identifier string, level knowledge.Level, scopeID string) ([]knowledge.Definition, error) {
	prefix := defPrefix(string(level), scopeID, string(kind), identifier)

	var defs []knowledge.Definition
	err := s.scan(prefix, func(def knowledge.Definition) {
		defs = append(defs, def)
	})
	return defs, err
}

// FindMany returns every definition of one kind at a level and scope.
func (s *Store) FindMany(ctx context.Context, level knowledge.Level, scopeID string, kind knowledge.Kind) ([]knowledge.Definition, error) {
	prefix := defPrefix(string(level), scopeID, string(kind))

	var defs []knowledge.Definition
	err := s.scan(prefix, func(def knowledge.Definition) {
		defs = append(defs, def)
	})
	return defs, err
}

// scan visits rows under prefix in key order, so versions arrive ascending.
func (s *Store) scan(prefix []byte, visit func(knowledge.Definition)) error {
	return s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(definitionsBucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var def knowledge.Definition
			if err := msgpack.Unmarshal(v, &def); err != nil {
				return fmt.Errorf("decode definition: %w", err)
			}
			visit(def)
		}
		return nil
	})
}
