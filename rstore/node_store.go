// package rstore implements the dense and AoSoA-packed buffers that
// back node and edge holders. It knows nothing about rotamers; it is
// pure index arithmetic over flat float64 slices, the way
// ele/auxiliary.go's BuildCoordsMatrix allocates its dense coordinate
// matrix, but flattened to a single slice so the AoSoA layout used by
// EdgeStore (see edge_store.go) can share the same allocation style.
package rstore

import "github.com/cpmech/gosl/chk"

// NodeStore is a dense (R, E) array: R components per element, E
// elements, laid out row-major over R — data[comp*E+elem].
type NodeStore struct {
	R, E int
	data []float64
}

// NewNodeStore allocates a zeroed (R,E) store.
func NewNodeStore(r, e int) *NodeStore {
	if r <= 0 || e < 0 {
		chk.Panic("rstore: invalid NodeStore shape (%d,%d)", r, e)
	}
	return &NodeStore{R: r, E: e, data: make([]float64, r*e)}
}

// Get returns the value at (comp, elem).
func (s *NodeStore) Get(comp, elem int) float64 {
	return s.data[comp*s.E+elem]
}

// Set writes the value at (comp, elem).
func (s *NodeStore) Set(comp, elem int, v float64) {
	s.data[comp*s.E+elem] = v
}

// Mul multiplies the value at (comp, elem) in place by v.
func (s *NodeStore) Mul(comp, elem int, v float64) {
	s.data[comp*s.E+elem] *= v
}

// Column copies the R values for one element into the caller's out
// slice, used by the small-R BP kernels where R is 1 or 3.
func (s *NodeStore) Column(elem int, out []float64) {
	for r := 0; r < s.R; r++ {
		out[r] = s.data[r*s.E+elem]
	}
}

// SetColumn writes the R values for one element back from in.
func (s *NodeStore) SetColumn(elem int, in []float64) {
	for r := 0; r < s.R; r++ {
		s.data[r*s.E+elem] = in[r]
	}
}

// Fill sets every entry to v.
func (s *NodeStore) Fill(v float64) {
	for i := range s.data {
		s.data[i] = v
	}
}

// CopyFrom copies another store's contents into s; shapes must match.
func (s *NodeStore) CopyFrom(o *NodeStore) {
	if s.R != o.R || s.E != o.E {
		chk.Panic("rstore: CopyFrom shape mismatch (%d,%d) <- (%d,%d)", s.R, s.E, o.R, o.E)
	}
	copy(s.data, o.data)
}
