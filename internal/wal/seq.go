package wal

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/wardsync/internal/queryir"
	"github.com/roach88/wardsync/internal/store"
)

// sequence is the WAL's monotonic logical clock.
//
// Every entry is stamped with a strictly increasing seq. The counter resumes
// from the highest seq on disk the first time it is used, so values stay
// unique across restarts. A seq consumed by a rolled back transaction is
// simply skipped.
type sequence struct {
	mu     sync.Mutex
	loaded bool
	seq    int64
}

// next returns the next sequence number, loading the persisted maximum
// through tx on first use.
func (s *sequence) next(ctx context.Context, tx *store.Tx) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		max, err := maxSeq(ctx, tx)
		if err != nil {
			return 0, err
		}
		if max > s.seq {
			s.seq = max
		}
		s.loaded = true
	}
	s.seq++
	return s.seq, nil
}

func maxSeq(ctx context.Context, tx *store.Tx) (int64, error) {
	keys, err := tx.KeysByIndex(ctx, queryir.Query{
		Collection: Collection,
		Index:      indexSeq,
		Limit:      1,
		Descending: true,
	})
	if err != nil {
		return 0, fmt.Errorf("load max seq: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	doc, err := tx.Get(ctx, Collection, keys[0])
	if err != nil {
		return 0, fmt.Errorf("load max seq: %w", err)
	}
	rec, err := decodeRecord(doc)
	if err != nil {
		return 0, fmt.Errorf("load max seq: %w", err)
	}
	return rec.Seq, nil
}
