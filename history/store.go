// Package history journals accepted rewrites in a local pebble store. The
// journal is diagnostic and feeds few-shot examples; the rewriter itself
// never reads it on the hot path, and losing it costs nothing but history.
package history

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/guileen/heimdall/prompt"
)

// Entry is one accepted rewrite.
type Entry struct {
	OriginalSQL      string    `json:"original_sql"`
	OptimizedSQL     string    `json:"optimized_sql"`
	ImprovementRatio float64   `json:"improvement_ratio"`
	RecordedAt       time.Time `json:"recorded_at"`
}

// Store is an append-only journal of accepted rewrites. Keys are big-endian
// sequence numbers so iteration returns entries in insertion order.
type Store struct {
	db  *pebble.DB
	seq atomic.Uint64
}

// Open opens (or creates) the journal at dir and resumes the sequence from
// the last stored key.
func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}
	s := &Store{db: db}

	iter, err := db.NewIter(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open history iterator: %w", err)
	}
	if iter.Last() && len(iter.Key()) == 8 {
		s.seq.Store(binary.BigEndian.Uint64(iter.Key()))
	}
	if err := iter.Close(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close flushes and closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record implements optimizer.HistoryRecorder.
func (s *Store) Record(_ context.Context, original, optimized string, improvementRatio float64) error {
	entry := Entry{
		OriginalSQL:      original,
		OptimizedSQL:     optimized,
		ImprovementRatio: improvementRatio,
		RecordedAt:       time.Now().UTC(),
	}
	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal history entry: %w", err)
	}
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, s.seq.Add(1))
	if err := s.db.Set(key, value, pebble.Sync); err != nil {
		return fmt.Errorf("write history entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(limit int) ([]Entry, error) {
	iter, err := s.db.NewIter(nil)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []Entry
	for ok := iter.Last(); ok && len(out) < limit; ok = iter.Prev() {
		var entry Entry
		if err := json.Unmarshal(iter.Value(), &entry); err != nil {
			return nil, fmt.Errorf("decode history entry: %w", err)
		}
		out = append(out, entry)
	}
	return out, iter.Error()
}

// FewShotExamples converts the best recent rewrites into prompt examples,
// keeping only entries whose improvement cleared minRatio.
func (s *Store) FewShotExamples(limit int, minRatio float64) ([]prompt.FewShotExample, error) {
	entries, err := s.Recent(limit * 4)
	if err != nil {
		return nil, err
	}
	var out []prompt.FewShotExample
	for _, e := range entries {
		if e.ImprovementRatio < minRatio {
			continue
		}
		out = append(out, prompt.FewShotExample{
			OriginalSQL:  e.OriginalSQL,
			OptimizedSQL: e.OptimizedSQL,
			Explanation:  "Previously accepted rewrite",
			SpeedupRatio: e.ImprovementRatio,
		})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}
