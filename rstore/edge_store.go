package rstore

import "github.com/cpmech/gosl/chk"

// Lanes is the AoSoA lane width: scalar elements are grouped into
// quads so a whole W-vector for 4 elements at once can be loaded
// contiguously.
const Lanes = 4

// EdgeStore is an AoSoA-packed (W, E') array, E' = roundUp4(capacity). For a
// quad q = e/Lanes, the block [q*W*Lanes, q*W*Lanes+W*Lanes) holds
// component 0 of the 4 elements in the quad, then component 1 of the
// 4 elements, and so on — a lane-aligned load of that block yields a
// vector of W 4-lane groups in one pass.
type EdgeStore struct {
	W      int
	E      int // logical (unpadded) element count in use
	Padded int // allocated capacity rounded up to a multiple of Lanes
	data   []float64
}

func roundUp4(e int) int {
	if r := e % Lanes; r != 0 {
		return e + (Lanes - r)
	}
	return e
}

// NewEdgeStore allocates a zeroed (W, E) AoSoA store with capacity
// for up to `capacity` elements; elements beyond the logical E are
// zero/one-initialized padding, never read by any consumer.
func NewEdgeStore(w, capacity int) *EdgeStore {
	if w <= 0 || capacity < 0 {
		chk.Panic("rstore: invalid EdgeStore shape (%d,%d)", w, capacity)
	}
	padded := roundUp4(capacity)
	return &EdgeStore{W: w, E: 0, Padded: padded, data: make([]float64, w*padded)}
}

// SetLogicalCount updates the number of in-use elements. It must not
// exceed the padded capacity the store was allocated with.
func (s *EdgeStore) SetLogicalCount(n int) {
	if n > s.Padded {
		chk.Panic("rstore: EdgeStore logical count %d exceeds padded capacity %d", n, s.Padded)
	}
	s.E = n
}

// index returns the flat offset of (comp, elem):
// x[(e-e%Lanes)*W + comp*Lanes + e%Lanes].
func (s *EdgeStore) index(comp, elem int) int {
	q4 := elem - elem%Lanes
	return q4*s.W + comp*Lanes + elem%Lanes
}

// Get returns the scalar value at (comp, elem).
func (s *EdgeStore) Get(comp, elem int) float64 {
	return s.data[s.index(comp, elem)]
}

// Set writes the scalar value at (comp, elem).
func (s *EdgeStore) Set(comp, elem int, v float64) {
	s.data[s.index(comp, elem)] = v
}

// Mul multiplies the scalar value at (comp, elem) in place by v.
func (s *EdgeStore) Mul(comp, elem int, v float64) {
	s.data[s.index(comp, elem)] *= v
}

// Column reads the W values for one element into out.
func (s *EdgeStore) Column(elem int, out []float64) {
	for c := 0; c < s.W; c++ {
		out[c] = s.Get(c, elem)
	}
}

// SetColumn writes the W values for one element from in.
func (s *EdgeStore) SetColumn(elem int, in []float64) {
	for c := 0; c < s.W; c++ {
		s.Set(c, elem, in[c])
	}
}

// LoadQuad copies component comp of the Lanes elements in quad
// q = elem/Lanes into out, with a single contiguous copy out of the
// backing slice — the vectorized hot-path load described in the AoSoA
// design note.
func (s *EdgeStore) LoadQuad(q int, out *[Lanes]float64, comp int) {
	base := q*s.W*Lanes + comp*Lanes
	copy(out[:], s.data[base:base+Lanes])
}

// Fill sets every entry, including padding, to v.
func (s *EdgeStore) Fill(v float64) {
	for i := range s.data {
		s.data[i] = v
	}
}
