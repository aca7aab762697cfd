package tensor

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-cnn/internal/device"
)

const (
	// Align is the element alignment of every Scratch allocation.
	Align = 4
	// DefaultChunkElems is the chunk size used when NewArena gets 0.
	DefaultChunkElems = 1 << 16

	elemBytes  = int64(unsafe.Sizeof(float64(0)))
	alignBytes = Align * uintptr(elemBytes)
)

// Arena is a pool of aligned float64 chunks shared by many Scratch
// scopes. It is safe for concurrent use.
type Arena struct {
	mu        sync.Mutex
	chunk     int
	limit     int64
	free      [][]float64
	resident  int64
	allocated int
}

// NewArena returns an arena handing out chunks of chunkElems elements.
// limitBytes caps resident memory; 0 means unbounded.
func NewArena(chunkElems int, limitBytes int64) *Arena {
	if chunkElems <= 0 {
		chunkElems = DefaultChunkElems
	}
	return &Arena{chunk: roundUp(chunkElems), limit: limitBytes}
}

// ChunkElems returns the size of a regular chunk.
func (a *Arena) ChunkElems() int { return a.chunk }

// ResidentBytes returns the bytes held by the arena, in use or free.
func (a *Arena) ResidentBytes() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.resident
}

// FreeChunks returns the number of pooled chunks ready for reuse.
func (a *Arena) FreeChunks() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.free)
}

// NewScratch opens a scope that borrows chunks from the arena.
func (a *Arena) NewScratch(name string) *Scratch {
	return &Scratch{arena: a, name: name, cur: -1}
}

func (a *Arena) get(n int) []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n <= a.chunk && len(a.free) > 0 {
		c := a.free[len(a.free)-1]
		a.free = a.free[:len(a.free)-1]
		arenaChunkReuses.Inc()
		return c
	}
	size := a.chunk
	if n > size {
		size = roundUp(n)
	}
	bytes := int64(size) * elemBytes
	if a.limit > 0 && a.resident+bytes > a.limit {
		panic(fmt.Errorf("%w: %d resident + %d requested > %d limit", ErrArenaExhausted, a.resident, bytes, a.limit))
	}
	a.resident += bytes
	a.allocated++
	arenaChunkAllocs.Inc()
	arenaResidentBytes.Add(float64(bytes))
	log.Debug().Int("elems", size).Int64("resident_bytes", a.resident).Msg("arena grew")
	return alignedSlice(size)
}

func (a *Arena) put(chunks [][]float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, c := range chunks {
		if len(c) == a.chunk {
			a.free = append(a.free, c)
			continue
		}
		// oversized chunks are not pooled
		bytes := int64(len(c)) * elemBytes
		a.resident -= bytes
		arenaResidentBytes.Sub(float64(bytes))
	}
}

// Scratch is a bump allocator over arena chunks. Everything it hands out
// stays valid until Free, or until Rewind to a mark taken before it. A
// Scratch has a single owner.
type Scratch struct {
	arena  *Arena
	name   string
	chunks [][]float64
	cur    int // index of the chunk being bumped, -1 if none
	off    int
	used   int
}

// Mark is a position of a Scratch.
type Mark struct {
	chunks int
	cur    int
	off    int
	used   int
}

// Name returns the label the scope was opened with.
func (s *Scratch) Name() string { return s.name }

// Used returns the number of elements handed out since the last Free.
func (s *Scratch) Used() int { return s.used }

// Chunks returns the number of chunks currently borrowed.
func (s *Scratch) Chunks() int { return len(s.chunks) }

// Allocate returns n zeroed elements starting on an Align boundary.
func (s *Scratch) Allocate(n int) []float64 {
	if n < 0 {
		panic(fmt.Sprintf("tensor: scratch %q: negative allocation %d", s.name, n))
	}
	if n == 0 {
		return []float64{}
	}
	padded := roundUp(n)
	if s.cur < 0 || s.off+padded > len(s.chunks[s.cur]) {
		c := s.arena.get(padded)
		s.chunks = append(s.chunks, c)
		if len(c) != s.arena.chunk {
			// dedicated chunk; keep bumping the current one afterwards
			s.used += n
			out := c[:n:n]
			clear(out)
			return out
		}
		s.cur, s.off = len(s.chunks)-1, 0
	}
	cur := s.chunks[s.cur]
	out := cur[s.off : s.off+n : s.off+n]
	s.off += padded
	s.used += n
	clear(out)
	return out
}

// Tensor allocates a zeroed tensor of shape d from the scope.
func (s *Scratch) Tensor(d Dim, dev device.ID) *Tensor {
	return &Tensor{D: d, V: s.Allocate(d.Size()), Device: dev}
}

// Mark returns the current position.
func (s *Scratch) Mark() Mark {
	return Mark{chunks: len(s.chunks), cur: s.cur, off: s.off, used: s.used}
}

// Rewind releases everything allocated after m. Chunks borrowed since
// then go back to the arena.
func (s *Scratch) Rewind(m Mark) {
	if m.chunks > len(s.chunks) {
		panic(fmt.Sprintf("tensor: scratch %q: rewind to a mark past the current position", s.name))
	}
	if extra := s.chunks[m.chunks:]; len(extra) > 0 {
		s.arena.put(extra)
	}
	s.chunks = s.chunks[:m.chunks]
	s.cur, s.off, s.used = m.cur, m.off, m.used
}

// Free returns every borrowed chunk to the arena. Slices handed out
// before Free must not be used afterwards.
func (s *Scratch) Free() {
	if len(s.chunks) > 0 {
		s.arena.put(s.chunks)
		scratchFrees.Inc()
	}
	s.chunks = nil
	s.cur = -1
	s.off = 0
	s.used = 0
}

func roundUp(n int) int {
	return (n + Align - 1) / Align * Align
}

func alignedSlice(n int) []float64 {
	raw := make([]float64, n+Align)
	p := uintptr(unsafe.Pointer(&raw[0]))
	skip := 0
	if r := p % alignBytes; r != 0 {
		skip = int((alignBytes - r) / uintptr(elemBytes))
	}
	return raw[skip : skip+n : skip+n]
}
