// package rsolver implements RotamerSolver: the orchestration of one
// evaluation cycle (fill_holders -> solve_for_marginals ->
// propagate_derivatives -> calculate_energy_from_marginals), grounded
// on msolid/driver.go's Driver.Run sweep loop and fem/main.go's
// Main.Run stage loop.
package rsolver

import (
	"fmt"
	"math"

	"github.com/cpmech/gosl/chk"
	"github.com/cpmech/gosl/io"
	"github.com/cpmech/gosl/utl"

	"github.com/pengxd/upside-md-1/redge"
	"github.com/pengxd/upside-md-1/rgraph"
	"github.com/pengxd/upside-md-1/rnode"
	"github.com/pengxd/upside-md-1/rotid"
)

// Mode selects what compute_value computes.
type Mode int

const (
	// MarginalsOnly runs fill_holders, solve_for_marginals, and
	// propagate_derivatives but skips the potential readout.
	MarginalsOnly Mode = iota
	// WithPotential additionally computes the Bethe free energy.
	WithPotential
)

// ConvergenceReport gives callers visibility into solveForMarginals's
// outcome: how many iterations ran and whether the deviation measure
// settled under tolerance.
type ConvergenceReport struct {
	Iterations   int
	MaxDeviation float64
	Converged    bool
}

// Solver is RotamerSolver: it owns the node holders for the two
// supported alphabet sizes and the three edge holders between them,
// and mutates an external InteractionGraph and a set of ProbNodes on
// each Compute call. Not safe for concurrent or overlapping calls.
type Solver struct {
	cfg Config

	probNodes []rgraph.ProbNode
	igraph    rgraph.InteractionGraph

	Nodes1 *rnode.Holder // n_rot == 1
	Nodes3 *rnode.Holder // n_rot == 3

	Edges11 *redge.Holder // (1,1)
	Edges13 *redge.Holder // (1,3), folded into Nodes3 before BP
	Edges33 *redge.Holder // (3,3), the only holder BP actually iterates

	lastReport ConvergenceReport

	// diagnostic bookkeeping populated by fillHolders, consumed by
	// ResidueFreeEnergies / Rotamer1BodyEnergy.
	lastResidueOf []int
	lastNrotOf    []int
	lastRotOf     []int
	lastBeadOfRot map[residueKey][rotid.UpperRot]int
}

// residueKey identifies one residue within its alphabet class.
type residueKey struct {
	NRot    int
	Residue int
}

// NewSolver allocates a solver for up to n1 size-1 residues, n3 size-3
// residues, and up to maxEdges distinct pairs per alphabet combination,
// sized once at construction to avoid per-call allocation in the hot
// loop. igraph and probNodes are external collaborators this package
// does not own.
func NewSolver(cfg Config, igraph rgraph.InteractionGraph, probNodes []rgraph.ProbNode, n1, n3, maxEdges int) (*Solver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if igraph == nil {
		return nil, fmt.Errorf("%w: interaction graph is nil", ErrShapeMismatch)
	}
	if len(probNodes) == 0 {
		return nil, fmt.Errorf("%w: at least one prob_node is required", ErrShapeMismatch)
	}
	n1elem := igraph.NElem1()
	for i, pn := range probNodes {
		if pn.NElem() != n1elem {
			return nil, fmt.Errorf("%w: prob_node %d has NElem=%d, position node has NElem1=%d", ErrShapeMismatch, i, pn.NElem(), n1elem)
		}
	}
	s := &Solver{
		cfg:       cfg,
		probNodes: probNodes,
		igraph:    igraph,
		Nodes1:    rnode.NewHolder(rotid.Rot1, n1),
		Nodes3:    rnode.NewHolder(rotid.Rot3, n3),
	}
	s.Edges11 = redge.NewHolder(rotid.Rot1, rotid.Rot1, s.Nodes1, s.Nodes1, maxEdges)
	s.Edges13 = redge.NewHolder(rotid.Rot1, rotid.Rot3, s.Nodes1, s.Nodes3, maxEdges)
	s.Edges33 = redge.NewHolder(rotid.Rot3, rotid.Rot3, s.Nodes3, s.Nodes3, maxEdges)
	return s, nil
}

// Encode/Decode document that the solver has no persisted state beyond
// construction-time parameters; mirrors ele.Element's Encode/Decode
// no-op pattern on elements with nothing to snapshot.
func (s *Solver) Encode(enc utl.Encoder) (err error) { return }
func (s *Solver) Decode(dec utl.Decoder) (err error) { return }

// LastReport returns the ConvergenceReport from the most recent
// Compute call.
func (s *Solver) LastReport() ConvergenceReport { return s.lastReport }

// canonicalize swaps (id1,rot1) with (id2,rot2) so that the endpoint
// with the smaller n_rot becomes id1, per add_to_edge's precondition.
func canonicalize(res1, nrot1, rot1, res2, nrot2, rot2 int) (a, an, ar, b, bn, br int) {
	if nrot1 <= nrot2 {
		return res1, nrot1, rot1, res2, nrot2, rot2
	}
	return res2, nrot2, rot2, res1, nrot1, rot1
}

func (s *Solver) holderFor(nrot int) *rnode.Holder {
	switch nrot {
	case rotid.Rot1:
		return s.Nodes1
	case rotid.Rot3:
		return s.Nodes3
	default:
		chk.Panic("rsolver: unsupported n_rot=%d", nrot)
		return nil
	}
}

func (s *Solver) edgeHolderFor(nrot1, nrot2 int) *redge.Holder {
	switch {
	case nrot1 == rotid.Rot1 && nrot2 == rotid.Rot1:
		return s.Edges11
	case nrot1 == rotid.Rot1 && nrot2 == rotid.Rot3:
		return s.Edges13
	case nrot1 == rotid.Rot3 && nrot2 == rotid.Rot3:
		return s.Edges33
	default:
		chk.Panic("rsolver: unreachable edge class (%d,%d)", nrot1, nrot2)
		return nil
	}
}

// fillHolders decodes every bead id, multiplies its one-body factor
// into the right node holder's prior, and routes every reported edge
// into the right edge holder, folding singleton-rotamer edges into
// their size-3 endpoint's prior before returning.
func (s *Solver) fillHolders() error {
	s.Nodes1.Reset()
	s.Nodes3.Reset()
	s.Edges11.Reset()
	s.Edges13.Reset()
	s.Edges33.Reset()

	n := s.igraph.NElem1()
	residueOf := make([]int, n)
	nrotOf := make([]int, n)
	rotOf := make([]int, n)
	beadOfRot := make(map[residueKey][rotid.UpperRot]int, n)
	for bead := 0; bead < n; bead++ {
		id := rotid.ID(s.igraph.ID1(bead))
		residue, nrot, rot, err := id.Validate()
		if err != nil {
			return err
		}
		residueOf[bead], nrotOf[bead], rotOf[bead] = residue, nrot, rot

		k := residueKey{nrot, residue}
		slots, ok := beadOfRot[k]
		if !ok {
			for i := range slots {
				slots[i] = -1
			}
		}
		if slots[rot] < 0 {
			slots[rot] = bead
		}
		beadOfRot[k] = slots

		e1 := 0.0
		for _, pn := range s.probNodes {
			e1 += pn.Value(0, s.igraph.Loc1(bead).Index)
		}
		s.holderFor(nrot).Prob.Mul(rot, residue, math.Exp(-e1))
	}
	s.lastResidueOf, s.lastNrotOf, s.lastRotOf, s.lastBeadOfRot = residueOf, nrotOf, rotOf, beadOfRot

	endpoints1, endpoints2, edgeValue := s.igraph.ComputeEdges()
	for e := range edgeValue {
		b1, b2 := endpoints1[e], endpoints2[e]
		res1, nrot1, rot1 := residueOf[b1], nrotOf[b1], rotOf[b1]
		res2, nrot2, rot2 := residueOf[b2], nrotOf[b2], rotOf[b2]
		aRes, aNrot, aRot, bRes, bNrot, bRot := canonicalize(res1, nrot1, rot1, res2, nrot2, rot2)
		prob := math.Exp(-edgeValue[e])
		s.edgeHolderFor(aNrot, bNrot).AddToEdge(e, prob, aRes, aRot, bRes, bRot)
	}

	s.Edges11.StandardizeProbs()
	s.Edges13.StandardizeProbs()
	s.Edges33.StandardizeProbs()
	s.Edges13.MoveEdgeProbToNode2()
	s.Nodes1.StandardizeProbs()
	s.Nodes3.StandardizeProbs()
	return nil
}

// solveForMarginals runs the warm-up sweep and the damped BP loop
// until the deviation measure falls under the configured tolerance or
// max_iter is exhausted, then reads off the converged marginals.
func (s *Solver) solveForMarginals() ConvergenceReport {
	s.Nodes3.SeedBeliefFromProb()
	s.Edges33.SeedBeliefOnes()

	// warm-up sweep: accumulate node beliefs from their priors once,
	// then swap node beliefs so both endpoint sides and edges carry
	// consistent values going into the main loop.
	s.Nodes3.CurBelief.CopyFrom(s.Nodes3.Prob)
	s.Edges33.UpdateBeliefs(warmupDamping)
	s.Nodes3.SwapBeliefs()

	iter := 0
	maxDev := math.Inf(1)
	for iter < s.cfg.MaxIter {
		for c := 0; c < s.cfg.IterationChunkSize && iter < s.cfg.MaxIter; c++ {
			s.Nodes3.SwapBeliefs()
			s.Edges33.SwapBeliefs()
			s.Nodes3.CurBelief.CopyFrom(s.Nodes3.Prob)
			s.Edges33.UpdateBeliefs(s.cfg.Damping)
			s.Nodes3.FinishBeliefUpdate(s.cfg.Damping)
			iter++
		}
		maxDev = math.Max(s.Nodes3.MaxDeviation(), s.Edges33.MaxDeviation())
		if maxDev <= s.cfg.Tol {
			break
		}
	}

	s.Nodes3.CalculateMarginals()
	s.Edges33.CalculateMarginals()

	report := ConvergenceReport{Iterations: iter, MaxDeviation: maxDev, Converged: maxDev <= s.cfg.Tol}
	if !report.Converged {
		io.Pfred("rsolver: BP did not converge after %d iterations (max_deviation=%v > tol=%v); using last iterate\n",
			iter, maxDev, s.cfg.Tol)
	}
	s.lastReport = report
	return report
}

// propagateDerivatives writes each contributing edge's sensitivity
// back into the interaction graph and each bead's occupation
// probability back into its prob nodes' derivative slots.
func (s *Solver) propagateDerivatives() {
	for _, loc := range s.Edges11.EdgeLoc {
		s.igraph.SetEdgeSensitivity(loc.SourceEdgeNum, 1)
	}
	for _, loc := range s.Edges13.EdgeLoc {
		n2 := s.Edges13.EdgeIndices2[loc.EdgeIndex]
		rot := loc.FlatIndex % s.Edges13.R2
		s.igraph.SetEdgeSensitivity(loc.SourceEdgeNum, s.Nodes3.CurBelief.Get(rot, n2))
	}
	for _, loc := range s.Edges33.EdgeLoc {
		s.igraph.SetEdgeSensitivity(loc.SourceEdgeNum, s.Edges33.Marginal.Get(loc.FlatIndex, loc.EdgeIndex))
	}

	n := s.igraph.NElem1()
	for bead := 0; bead < n; bead++ {
		id := rotid.ID(s.igraph.ID1(bead))
		residue, nrot, rot, err := id.Validate()
		if err != nil {
			chk.Panic("rsolver: invalid id during derivative propagation: %v", err)
		}
		occ := s.holderFor(nrot).CurBelief.Get(rot, residue)
		for _, pn := range s.probNodes {
			pn.SetDeriv(0, s.igraph.Loc1(bead).Index, occ)
		}
	}
}

// calculateEnergyFromMarginals sums the Bethe free energy over every
// node and edge currently holding a converged marginal.
func (s *Solver) calculateEnergyFromMarginals() float64 {
	energy := 0.0
	for i := 0; i < s.Nodes1.E; i++ {
		energy += s.Nodes1.NodeFreeEnergy(i)
	}
	for i := 0; i < s.Nodes3.E; i++ {
		energy += s.Nodes3.NodeFreeEnergy(i)
	}
	for e := 0; e < s.Edges11.NEdge; e++ {
		energy += -math.Log(s.Edges11.Prob.Get(0, e))
	}
	for e := 0; e < s.Edges33.NEdge; e++ {
		energy += s.Edges33.EdgeFreeEnergy(e)
	}
	return energy
}

// Compute runs one full evaluation cycle and, when mode requests it,
// returns the total Bethe free energy.
func (s *Solver) Compute(mode Mode) (potential float64, report ConvergenceReport, err error) {
	if err = s.fillHolders(); err != nil {
		return 0, ConvergenceReport{}, err
	}
	s.Nodes1.CurBelief.CopyFrom(s.Nodes1.Prob)
	s.Nodes1.CalculateMarginals()

	report = s.solveForMarginals()
	s.propagateDerivatives()

	if mode == WithPotential {
		potential = s.calculateEnergyFromMarginals()
	}
	return potential, report, nil
}
