package store

import (
	"errors"

	"zhiminhu/p2p-stream/pkg/protocol"
)

// ErrNotFound is returned when a chunk id is absent from the store.
var ErrNotFound = errors.New("chunk not found")

// Store holds locally-known chunk payloads. The key set IS the authoritative
// local bitmap. Chunks are immutable once stored; content is positional
// (frame id + fragment index), so the first writer wins and duplicates from
// other sources are assumed identical.
//
// The store is not internally synchronized: all access happens on the node's
// event-loop goroutine.
type Store struct {
	chunks map[uint32][]byte
}

func New() *Store {
	return &Store{chunks: make(map[uint32][]byte)}
}

// Put inserts a chunk payload. Re-inserting an already-held chunk is a
// no-op; the return reports whether the chunk was new.
func (s *Store) Put(chunkID uint32, payload []byte) bool {
	if _, ok := s.chunks[chunkID]; ok {
		return false
	}
	s.chunks[chunkID] = payload
	return true
}

func (s *Store) Has(chunkID uint32) bool {
	_, ok := s.chunks[chunkID]
	return ok
}

func (s *Store) Get(chunkID uint32) ([]byte, error) {
	payload, ok := s.chunks[chunkID]
	if !ok {
		return nil, ErrNotFound
	}
	return payload, nil
}

func (s *Store) Len() int {
	return len(s.chunks)
}

// Bitmap returns the set of held chunk ids as a fresh map the caller may
// mutate.
func (s *Store) Bitmap() map[uint32]struct{} {
	set := make(map[uint32]struct{}, len(s.chunks))
	for id := range s.chunks {
		set[id] = struct{}{}
	}
	return set
}

// Range of held ids, for bitmap summaries. ok is false when empty.
func (s *Store) Range() (min, max uint32, ok bool) {
	first := true
	for id := range s.chunks {
		if first {
			min, max, first = id, id, false
			continue
		}
		if id < min {
			min = id
		}
		if id > max {
			max = id
		}
	}
	return min, max, !first
}

// EvictFramesBefore drops every chunk belonging to a frame older than
// frameID, bounding memory to the playback horizon. Eviction is
// caller-driven: the fragmentation layer decides the horizon.
func (s *Store) EvictFramesBefore(frameID uint32) int {
	removed := 0
	for id := range s.chunks {
		if protocol.FrameOf(id) < frameID {
			delete(s.chunks, id)
			removed++
		}
	}
	return removed
}
