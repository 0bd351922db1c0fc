// Package types implements the type representation used by the inference
// engine: arena-allocated type objects, union-find type variables, the
// unifier, type schemes and the lexically nested type environment.
//
// All non-primitive type objects are owned by an Arena and are released
// together when the compilation unit is done; type objects form cycles
// through union-find instances, and the arena lets inference ignore
// ownership entirely. Primitive types are process-wide singletons.
package types

import "unsafe"

// chunkBytes is the size of one arena chunk.
const chunkBytes = 64 * 1024

// An Arena is a bump allocator with linked 64 KiB chunks that owns every
// type object created during the inference of one compilation unit; the
// union-find nodes themselves are held by the Unifier. There is no per-object free; Reset releases everything
// at once.
type Arena struct {
	types typeSlab
	stats ArenaStats
}

// ArenaStats reports the arena's allocation counters.
type ArenaStats struct {
	TypesAllocated  int
	ChunksAllocated int
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{}
}

// Stats returns a copy of the arena's allocation counters.
func (a *Arena) Stats() ArenaStats { return a.stats }

// Reset releases every object allocated from the arena. Any *Type obtained
// from it must not be used afterwards.
func (a *Arena) Reset() {
	a.types.chunks = nil
	a.stats = ArenaStats{}
}

// newType allocates a type object in the arena, copying t into it.
func (a *Arena) newType(t Type) *Type {
	p := a.types.alloc(a)
	*p = t
	return p
}

// typeSlab holds chunked Type storage. Each chunk is sized so that its
// backing array occupies one arena chunk; allocation bumps within the
// current chunk and links a new one when it is full.
type typeSlab struct {
	chunks [][]Type
}

func (s *typeSlab) alloc(a *Arena) *Type {
	perChunk := chunkBytes / int(unsafe.Sizeof(Type{}))
	if perChunk < 1 {
		perChunk = 1
	}
	if n := len(s.chunks); n == 0 || len(s.chunks[n-1]) == cap(s.chunks[n-1]) {
		s.chunks = append(s.chunks, make([]Type, 0, perChunk))
		a.stats.ChunksAllocated++
	}
	cur := &s.chunks[len(s.chunks)-1]
	*cur = append(*cur, Type{})
	a.stats.TypesAllocated++
	return &(*cur)[len(*cur)-1]
}
