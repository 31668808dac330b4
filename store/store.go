// Package store implements the property/metadata persistence contract of
// §4.B: a file-backed Store whose Transaction batches per-component writes
// and commits with an atomic rename, the same write-then-rename idiom the
// teacher's resources.Manager uses for spilled pages, extended here to a
// single consolidated document rather than one file per key so metadata for
// untouched properties is trivially carried forward on every commit.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/seangreaves-90/hydrogarden/models"
)

// ErrRolledBack is returned by operations attempted after rollback.
var ErrRolledBack = errors.New("store: transaction rolled back")

// ErrAlreadyResolved is returned when commit or rollback is called twice.
var ErrAlreadyResolved = errors.New("store: transaction already resolved")

// Record is the persisted state for one component.
type Record struct {
	Properties map[string]any                     `json:"properties"`
	Metadata   map[string]models.PropertyMetadata `json:"metadata"`
}

type document struct {
	Components map[string]Record `json:"components"`
}

// Store is a durable key/value and metadata store with transactional writes,
// serialized by a single-writer semaphore as required by §4.B.
type Store struct {
	path string

	mu   sync.Mutex // single-writer serialization per store instance
	doc  document
	txMu sync.Mutex // admits one in-flight transaction at a time
}

// Open loads (or creates) the JSON document backing the store at path.
func Open(path string) (*Store, error) {
	s := &Store{path: path, doc: document{Components: make(map[string]Record)}}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.doc); err != nil {
		return nil, err
	}
	if s.doc.Components == nil {
		s.doc.Components = make(map[string]Record)
	}
	return s, nil
}

// Load returns the persisted properties for id, if any.
func (s *Store) Load(ctx context.Context, id string) (map[string]any, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.doc.Components[id]
	if !ok {
		return nil, false, nil
	}
	return cloneProps(rec.Properties), true, nil
}

// LoadMetadata returns the persisted metadata for id, if any.
func (s *Store) LoadMetadata(ctx context.Context, id string) (map[string]models.PropertyMetadata, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.doc.Components[id]
	if !ok {
		return nil, false, nil
	}
	return cloneMeta(rec.Metadata), true, nil
}

// Save persists props for id in its own one-shot transaction.
func (s *Store) Save(ctx context.Context, id string, props map[string]any) error {
	return s.SaveWithMetadata(ctx, id, props, nil)
}

// SaveWithMetadata persists props and, when non-nil, merges metadata over
// the on-disk metadata for id; a nil metadata argument never drops
// previously saved metadata for untouched keys.
func (s *Store) SaveWithMetadata(ctx context.Context, id string, props map[string]any, metadata map[string]models.PropertyMetadata) error {
	tx, err := s.BeginTransaction(ctx)
	if err != nil {
		return err
	}
	if err := tx.SaveWithMetadata(id, props, metadata); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// BeginTransaction starts a new Transaction, blocking until the store's
// single in-flight transaction slot is free or ctx is cancelled.
func (s *Store) BeginTransaction(ctx context.Context) (*Transaction, error) {
	acquired := make(chan struct{})
	go func() { s.txMu.Lock(); close(acquired) }()
	select {
	case <-acquired:
	case <-ctx.Done():
		go func() { <-acquired; s.txMu.Unlock() }()
		return nil, ctx.Err()
	}
	return &Transaction{store: s, pending: make(map[string]pendingWrite)}, nil
}

type pendingWrite struct {
	props    map[string]any
	metadata map[string]models.PropertyMetadata
}

// Transaction batches per-component writes until Commit or Rollback.
type Transaction struct {
	store *Store

	mu        sync.Mutex
	pending   map[string]pendingWrite
	resolved  bool
	rolledBack bool
}

// Save stages a property write for id, equivalent to SaveWithMetadata with a
// nil metadata delta.
func (t *Transaction) Save(id string, props map[string]any) error {
	return t.SaveWithMetadata(id, props, nil)
}

// SaveWithMetadata stages a property and metadata write for id. Multiple
// calls for the same id within one transaction merge into a single pending
// write.
func (t *Transaction) SaveWithMetadata(id string, props map[string]any, metadata map[string]models.PropertyMetadata) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.resolved {
		if t.rolledBack {
			return ErrRolledBack
		}
		return ErrAlreadyResolved
	}
	pw, ok := t.pending[id]
	if !ok {
		pw = pendingWrite{props: make(map[string]any), metadata: make(map[string]models.PropertyMetadata)}
	}
	for k, v := range props {
		pw.props[k] = v
	}
	for k, v := range metadata {
		pw.metadata[k] = v
	}
	t.pending[id] = pw
	return nil
}

// Commit merges every staged write against the current on-disk record —
// preserving metadata for properties untouched in this batch — then writes
// the whole document out via a temp-file-then-rename so a crash mid-write
// never leaves a half-updated document visible.
func (t *Transaction) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.resolved {
		if t.rolledBack {
			return ErrRolledBack
		}
		return ErrAlreadyResolved
	}

	s := t.store
	s.mu.Lock()
	defer func() {
		s.mu.Unlock()
		s.txMu.Unlock()
	}()

	if err := ctx.Err(); err != nil {
		return err
	}

	for id, pw := range t.pending {
		current := s.doc.Components[id]
		mergedProps := cloneProps(current.Properties)
		if mergedProps == nil {
			mergedProps = make(map[string]any)
		}
		for k, v := range pw.props {
			mergedProps[k] = v
		}
		mergedMeta := cloneMeta(current.Metadata)
		if mergedMeta == nil {
			mergedMeta = make(map[string]models.PropertyMetadata)
		}
		for k, v := range pw.metadata {
			mergedMeta[k] = v
		}
		s.doc.Components[id] = Record{Properties: mergedProps, Metadata: mergedMeta}
	}

	t.resolved = true
	if err := s.flushLocked(); err != nil {
		return err
	}
	return nil
}

// Rollback discards every staged write. A Transaction has no dispose step:
// one that is neither committed nor rolled back keeps the store's
// transaction slot held, and later BeginTransaction calls wait for it.
func (t *Transaction) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.resolved {
		return nil
	}
	t.resolved = true
	t.rolledBack = true
	t.store.txMu.Unlock()
	return nil
}

func (s *Store) flushLocked() error {
	data, err := json.Marshal(s.doc)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp, err := os.CreateTemp(dir, ".store-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

func cloneProps(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneMeta(m map[string]models.PropertyMetadata) map[string]models.PropertyMetadata {
	if m == nil {
		return nil
	}
	out := make(map[string]models.PropertyMetadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
