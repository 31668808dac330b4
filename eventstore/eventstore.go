// Package eventstore implements the §6 event store collaborator used by the
// bus to persist routed events and retrieve failed ones for retry. The
// JSON-lines-on-disk format and mutex-guarded in-memory index follow the
// same append/flush discipline as the teacher's checkpoint loop in
// engine/internal/resources/manager.go, simplified to synchronous file I/O
// since event volume here is per-device rather than per-crawled-page.
package eventstore

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/seangreaves-90/hydrogarden/models"
)

// Store persists events durably and tracks which are still pending retry.
type Store struct {
	path string

	mu      sync.Mutex
	pending []models.Event
}

// Open loads any previously persisted pending events from path (a
// JSON-lines file), creating it on first use.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev models.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		s.pending = append(s.pending, ev)
	}
	return s, scanner.Err()
}

// Persist appends ev to the durable failed-event queue.
func (s *Store) Persist(ctx context.Context, ev models.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.pending = append(s.pending, ev)
	err := s.flushLocked()
	s.mu.Unlock()
	return err
}

// RetrieveFailed pops and returns the oldest pending event, if any.
func (s *Store) RetrieveFailed(ctx context.Context) (models.Event, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.Event{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return models.Event{}, false, nil
	}
	ev := s.pending[0]
	s.pending = s.pending[1:]
	if err := s.flushLocked(); err != nil {
		return models.Event{}, false, err
	}
	return ev, true, nil
}

// Requeue puts ev back at the tail of the pending queue. The bus retry loop
// does not call it: an event its retry policy declines is dropped.
func (s *Store) Requeue(ctx context.Context, ev models.Event) error {
	return s.Persist(ctx, ev)
}

// Len reports the number of currently pending events.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Store) flushLocked() error {
	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp, err := os.CreateTemp(dir, ".eventstore-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	w := bufio.NewWriter(tmp)
	for _, ev := range s.pending {
		data, err := json.Marshal(ev)
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return err
		}
		if _, err := w.Write(data); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return err
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, s.path)
}
