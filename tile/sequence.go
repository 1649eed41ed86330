// Package tile merges a live local source with a remote cursor-paginated
// source into one ordered, page-addressable sequence.
//
// The sequence is partitioned into tiles, one per page query. Tiles are
// keyed by the query that produced them, not by absolute position, so
// reloading a page replaces exactly its own tile and never shifts its
// neighbors.
package tile

// Tile is one contiguous chunk of the sequence, tagged with the query
// that produced it.
type Tile[Q comparable, T any] struct {
	Query Q
	Items []T
}

// Sequence is an ordered list of tiles. The zero value is empty and
// ready to use. Sequence is not safe for concurrent use; the Paginator
// guards its sequence with its own lock.
type Sequence[Q comparable, T any] struct {
	tiles []Tile[Q, T]
	index map[Q]int
}

// Len returns the number of tiles.
func (s *Sequence[Q, T]) Len() int {
	return len(s.tiles)
}

// Has reports whether query already has a tile.
func (s *Sequence[Q, T]) Has(query Q) bool {
	_, ok := s.index[query]
	return ok
}

// Apply sets the tile for query. An existing tile's contents are replaced
// in place; a new query's tile is appended after the current last tile.
func (s *Sequence[Q, T]) Apply(query Q, items []T) {
	if s.index == nil {
		s.index = make(map[Q]int)
	}
	if i, ok := s.index[query]; ok {
		s.tiles[i].Items = items
		return
	}
	s.tiles = append(s.tiles, Tile[Q, T]{Query: query, Items: items})
	s.index[query] = len(s.tiles) - 1
}

// Boundaries returns the tile queries in sequence order.
func (s *Sequence[Q, T]) Boundaries() []Q {
	queries := make([]Q, len(s.tiles))
	for i, t := range s.tiles {
		queries[i] = t.Query
	}
	return queries
}

// Tiles returns a shallow copy of the tile list.
func (s *Sequence[Q, T]) Tiles() []Tile[Q, T] {
	out := make([]Tile[Q, T], len(s.tiles))
	copy(out, s.tiles)
	return out
}

// Reset discards every tile.
func (s *Sequence[Q, T]) Reset() {
	s.tiles = nil
	s.index = nil
}

// Combine merges other into s by tile identity: tiles for queries s
// already holds have their contents replaced, and other's remaining tiles
// are appended in other's order.
func (s *Sequence[Q, T]) Combine(other *Sequence[Q, T]) {
	for _, t := range other.tiles {
		s.Apply(t.Query, t.Items)
	}
}

// Flatten enumerates every item in tile order, deduplicated by identity.
// The first occurrence by tile order wins.
func (s *Sequence[Q, T]) Flatten(identity func(T) string) []T {
	seen := make(map[string]struct{})
	var out []T
	for _, t := range s.tiles {
		for _, item := range t.Items {
			key := identity(item)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, item)
		}
	}
	return out
}
