package rsolver

import (
	"math"

	"github.com/cpmech/gosl/la"
)

// residueOrder returns every residue seen by the most recent Compute
// call, ordered by the position of its first rot=0 bead in the
// interaction graph's bead list.
func (s *Solver) residueOrder() []residueKey {
	seen := make(map[residueKey]bool)
	var order []residueKey
	for bead, rot := range s.lastRotOf {
		if rot != 0 {
			continue
		}
		k := residueKey{s.lastNrotOf[bead], s.lastResidueOf[bead]}
		if seen[k] {
			continue
		}
		seen[k] = true
		order = append(order, k)
	}
	return order
}

// residueEnergyCol indices into the matrix ResidueEnergyBreakdown
// returns: the node's own Bethe term and its share of incident edges.
const (
	residueEnergyColNode = iota
	residueEnergyColEdge
	residueEnergyNumCols
)

// ResidueEnergyBreakdown returns a dense [residue][2] matrix, one row
// per residue in residueOrder, separating each residue's own node free
// energy from its accumulated half-share of incident edge free energy
// — the same two terms ResidueFreeEnergies sums, kept apart here for
// callers that want to attribute energy by source. Allocated with
// la.MatAlloc, matching msolid/driver.go's use of la.MatAlloc for its
// dense per-step result matrices (D, Eps).
func (s *Solver) ResidueEnergyBreakdown() [][]float64 {
	order := s.residueOrder()
	pos := make(map[residueKey]int, len(order))
	m := la.MatAlloc(len(order), residueEnergyNumCols)
	for i, k := range order {
		pos[k] = i
		m[i][residueEnergyColNode] = s.holderFor(k.NRot).NodeFreeEnergy(k.Residue)
	}
	addHalf := func(nrot, residue int, e float64) {
		if i, ok := pos[residueKey{nrot, residue}]; ok {
			m[i][residueEnergyColEdge] += 0.5 * e
		}
	}
	for e := 0; e < s.Edges11.NEdge; e++ {
		v := -math.Log(s.Edges11.Prob.Get(0, e))
		addHalf(s.Edges11.R1, s.Edges11.EdgeIndices1[e], v) // R1==1==the n_rot of both endpoints
		addHalf(s.Edges11.R2, s.Edges11.EdgeIndices2[e], v)
	}
	for e := 0; e < s.Edges33.NEdge; e++ {
		v := s.Edges33.EdgeFreeEnergy(e)
		addHalf(s.Edges33.R1, s.Edges33.EdgeIndices1[e], v)
		addHalf(s.Edges33.R2, s.Edges33.EdgeIndices2[e], v)
	}
	return m
}

// ResidueFreeEnergies returns one entry per residue, the row sum of
// ResidueEnergyBreakdown. edges13 never appears in either
// because move_edge_prob_to_node2 already folded it into the node
// prior during fillHolders; counting it again here would double-count
// exactly the energy calculate_energy_from_marginals is careful to
// exclude.
func (s *Solver) ResidueFreeEnergies() []float64 {
	m := s.ResidueEnergyBreakdown()
	energies := make([]float64, len(m))
	for i, row := range m {
		energies[i] = row[residueEnergyColNode] + row[residueEnergyColEdge]
	}
	return energies
}

// Rotamer1BodyEnergy returns, per residue in the same order as
// ResidueFreeEnergies, the expected one-body energy contributed by
// probNodes[probNodeIndex] under the converged marginal: sum_r
// belief[r,i] * value(bead representing residue i in rotamer r).
// A residue with no bead recorded for some rotamer (never observed in
// the current evaluation) simply skips that term.
func (s *Solver) Rotamer1BodyEnergy(probNodeIndex int) []float64 {
	pn := s.probNodes[probNodeIndex]
	order := s.residueOrder()
	energies := make([]float64, len(order))
	for i, k := range order {
		h := s.holderFor(k.NRot)
		slots := s.lastBeadOfRot[k]
		e := 0.0
		for r := 0; r < k.NRot; r++ {
			bead := slots[r]
			if bead < 0 {
				continue
			}
			e += h.CurBelief.Get(r, k.Residue) * pn.Value(0, s.igraph.Loc1(bead).Index)
		}
		energies[i] = e
	}
	return energies
}
