// package redge implements EdgeHolder: the pairwise potential tables,
// BP messages, and the belief-propagation inner kernel between two
// residue classes. The sweep/update/converge shape is grounded on
// msolid/driver.go's Driver.Run increment loop (sequential update of a
// running state from a previous-step snapshot, with an optional
// consistency check).
package redge

import (
	"math"

	"github.com/cpmech/gosl/chk"

	"github.com/pengxd/upside-md-1/rnode"
	"github.com/pengxd/upside-md-1/rstore"
)

const epsilon = 1e-10

// maxAlphabet bounds the small-alphabet specialization (R ∈ {1,3});
// scratch arrays in the hot kernel are fixed-size to avoid per-call
// heap allocation, per the "no per-call allocation in hot loop"
// resource contract.
const maxAlphabet = 3

// Loc is one entry of edge_loc: an inverse map from a raw contributing
// bead pair back to the (flat index, edge index) it fused into.
type Loc struct {
	SourceEdgeNum int
	FlatIndex     int
	EdgeIndex     int
}

// Holder wraps the potential, belief, and marginal EdgeStores for the
// pairs between two NodeHolders of sizes R1 and R2. It holds
// non-owning references to both holders, per the design note on
// ownership of cross-references.
type Holder struct {
	R1, R2 int
	Nodes1 *rnode.Holder
	Nodes2 *rnode.Holder

	Prob      *rstore.EdgeStore // width R1*R2
	CurBelief *rstore.EdgeStore // width R1+R2
	OldBelief *rstore.EdgeStore // width R1+R2
	Marginal  *rstore.EdgeStore // width R1*R2

	NEdge        int
	EdgeIndices1 []int
	EdgeIndices2 []int
	EdgeLoc      []Loc

	nodesToEdge map[uint64]int
}

// NewHolder allocates a holder for edges between nodes1 (size R1) and
// nodes2 (size R2), with scratch capacity for up to maxEdges distinct
// pairs, sized once by the caller from the maximum possible edge count
// of the input id set (see solver construction).
func NewHolder(r1, r2 int, nodes1, nodes2 *rnode.Holder, maxEdges int) *Holder {
	if r1 <= 0 || r2 <= 0 {
		chk.Panic("redge: invalid alphabet sizes (%d,%d)", r1, r2)
	}
	return &Holder{
		R1: r1, R2: r2,
		Nodes1: nodes1, Nodes2: nodes2,
		Prob:         rstore.NewEdgeStore(r1*r2, maxEdges),
		CurBelief:    rstore.NewEdgeStore(r1+r2, maxEdges),
		OldBelief:    rstore.NewEdgeStore(r1+r2, maxEdges),
		Marginal:     rstore.NewEdgeStore(r1*r2, maxEdges),
		EdgeIndices1: make([]int, maxEdges),
		EdgeIndices2: make([]int, maxEdges),
		EdgeLoc:      make([]Loc, 0, maxEdges),
		nodesToEdge:  make(map[uint64]int, maxEdges),
	}
}

// Reset clears n_edge, the dedup map, and edge_loc ahead of a fresh
// evaluation.
func (h *Holder) Reset() {
	h.NEdge = 0
	h.EdgeLoc = h.EdgeLoc[:0]
	for k := range h.nodesToEdge {
		delete(h.nodesToEdge, k)
	}
}

func compositeKey(id1, id2 int) uint64 {
	return uint64(uint32(id1))<<32 | uint64(uint32(id2))
}

// AddToEdge folds one contributing bead pair into the edge between
// node slots id1 (in Nodes1) and id2 (in Nodes2), deduplicating
// repeated pairs by accumulating prob_value multiplicatively into the
// existing slot. Caller must have already canonicalized so the
// smaller-n_rot residue is id1.
func (h *Holder) AddToEdge(sourceEdgeNum int, probValue float64, id1, rot1, id2, rot2 int) {
	key := compositeKey(id1, id2)
	idx, ok := h.nodesToEdge[key]
	if !ok {
		idx = h.NEdge
		if idx >= len(h.EdgeIndices1) {
			chk.Panic("redge: edge capacity %d exceeded", len(h.EdgeIndices1))
		}
		h.NEdge++
		h.Prob.SetLogicalCount(h.NEdge)
		h.CurBelief.SetLogicalCount(h.NEdge)
		h.OldBelief.SetLogicalCount(h.NEdge)
		h.Marginal.SetLogicalCount(h.NEdge)
		h.nodesToEdge[key] = idx
		h.EdgeIndices1[idx] = id1
		h.EdgeIndices2[idx] = id2
		for k := 0; k < h.R1*h.R2; k++ {
			h.Prob.Set(k, idx, 1)
		}
	}
	flat := rot1*h.R2 + rot2
	h.Prob.Mul(flat, idx, probValue)
	h.EdgeLoc = append(h.EdgeLoc, Loc{SourceEdgeNum: sourceEdgeNum, FlatIndex: flat, EdgeIndex: idx})
}

// MoveEdgeProbToNode2 folds a singleton-rotamer (R1=1) edge's factor
// into node 2's prior, eliminating the edge from BP.
func (h *Holder) MoveEdgeProbToNode2() {
	if h.R1 != 1 {
		chk.Panic("redge: MoveEdgeProbToNode2 requires R1=1, got %d", h.R1)
	}
	for e := 0; e < h.NEdge; e++ {
		n2 := h.EdgeIndices2[e]
		for r := 0; r < h.R2; r++ {
			h.Nodes2.Prob.Mul(r, n2, h.Prob.Get(r, e))
		}
	}
}

// StandardizeProbs divides every edge's R1*R2 entries by their max.
func (h *Holder) StandardizeProbs() {
	w := h.R1 * h.R2
	for e := 0; e < h.NEdge; e++ {
		max := epsilon
		for c := 0; c < w; c++ {
			if v := h.Prob.Get(c, e); v > max {
				max = v
			}
		}
		for c := 0; c < w; c++ {
			h.Prob.Mul(c, e, 1/max)
		}
	}
}

// SeedBeliefOnes fills OldBelief with 1, the initial state before the
// warm-up sweep.
func (h *Holder) SeedBeliefOnes() {
	h.OldBelief.Fill(1)
}

// SwapBeliefs exchanges CurBelief and OldBelief.
func (h *Holder) SwapBeliefs() {
	h.CurBelief, h.OldBelief = h.OldBelief, h.CurBelief
}

// MaxDeviation is the signed-difference stopping heuristic over the
// R1+R2 belief components of every live edge (padding excluded).
func (h *Holder) MaxDeviation() float64 {
	acc := 0.0
	w := h.R1 + h.R2
	for e := 0; e < h.NEdge; e++ {
		for c := 0; c < w; c++ {
			d := h.CurBelief.Get(c, e) - h.OldBelief.Get(c, e)
			if d > acc {
				acc = d
			}
		}
	}
	return acc
}

func rescale(v []float64) {
	max := epsilon
	for _, x := range v {
		if x > max {
			max = x
		}
	}
	for i := range v {
		v[i] /= max
	}
}

// UpdateBeliefs runs one asynchronous (Gauss-Seidel) sweep over edges
// in ascending index order. Callers must have reset
// Nodes1.CurBelief/Nodes2.CurBelief to their priors immediately before
// calling this, so the per-edge multiply at
// step 7 accumulates the product of incoming messages from scratch
// for this sweep.
func (h *Holder) UpdateBeliefs(damping float64) {
	var oldNode1, oldNode2, mOld1, mOld2, cavity1, cavity2, mCur1, mCur2 [maxAlphabet]float64
	for e := 0; e < h.NEdge; e++ {
		n1 := h.EdgeIndices1[e]
		n2 := h.EdgeIndices2[e]

		for j := 0; j < h.R1; j++ {
			oldNode1[j] = h.Nodes1.OldBelief.Get(j, n1)
			mOld1[j] = h.OldBelief.Get(j, e)
		}
		for k := 0; k < h.R2; k++ {
			oldNode2[k] = h.Nodes2.OldBelief.Get(k, n2)
			mOld2[k] = h.OldBelief.Get(h.R1+k, e)
		}

		for j := 0; j < h.R1; j++ {
			cavity1[j] = oldNode1[j] / (mOld1[j] + epsilon)
		}
		for k := 0; k < h.R2; k++ {
			cavity2[k] = oldNode2[k] / (mOld2[k] + epsilon)
		}

		for j := 0; j < h.R1; j++ {
			sum := 0.0
			for k := 0; k < h.R2; k++ {
				sum += h.Prob.Get(j*h.R2+k, e) * cavity2[k]
			}
			mCur1[j] = sum
		}
		for k := 0; k < h.R2; k++ {
			sum := 0.0
			for j := 0; j < h.R1; j++ {
				sum += cavity1[j] * h.Prob.Get(j*h.R2+k, e)
			}
			mCur2[k] = sum
		}
		rescale(mCur1[:h.R1])
		rescale(mCur2[:h.R2])

		for j := 0; j < h.R1; j++ {
			h.CurBelief.Set(j, e, (1-damping)*mCur1[j]+damping*mOld1[j])
		}
		for k := 0; k < h.R2; k++ {
			h.CurBelief.Set(h.R1+k, e, (1-damping)*mCur2[k]+damping*mOld2[k])
		}

		for j := 0; j < h.R1; j++ {
			h.Nodes1.CurBelief.Mul(j, n1, mCur1[j])
		}
		h.Nodes1.ApproxNormalize(n1)
		for k := 0; k < h.R2; k++ {
			h.Nodes2.CurBelief.Mul(k, n2, mCur2[k])
		}
		h.Nodes2.ApproxNormalize(n2)
	}
}

// CalculateMarginals reads the (by now converged) node current
// beliefs at each edge's endpoints, removes this edge's own
// contribution via the ε-guarded cavity division, folds in the
// potential, and L1-normalizes into Marginal.
func (h *Holder) CalculateMarginals() {
	var m1, m2, bc1, bc2 [maxAlphabet]float64
	for e := 0; e < h.NEdge; e++ {
		n1 := h.EdgeIndices1[e]
		n2 := h.EdgeIndices2[e]
		for j := 0; j < h.R1; j++ {
			m1[j] = h.CurBelief.Get(j, e)
			bc1[j] = h.Nodes1.CurBelief.Get(j, n1) / (m1[j] + epsilon)
		}
		for k := 0; k < h.R2; k++ {
			m2[k] = h.CurBelief.Get(h.R1+k, e)
			bc2[k] = h.Nodes2.CurBelief.Get(k, n2) / (m2[k] + epsilon)
		}
		sum := 0.0
		for j := 0; j < h.R1; j++ {
			for k := 0; k < h.R2; k++ {
				v := h.Prob.Get(j*h.R2+k, e) * bc1[j] * bc2[k]
				h.Marginal.Set(j*h.R2+k, e, v)
				sum += v
			}
		}
		if sum > 0 {
			for c := 0; c < h.R1*h.R2; c++ {
				h.Marginal.Mul(c, e, 1/sum)
			}
		}
	}
}

// EdgeFreeEnergy returns the Bethe pair contribution for edge e, using
// the node current beliefs as already-normalized marginals.
func (h *Holder) EdgeFreeEnergy(e int) float64 {
	n1 := h.EdgeIndices1[e]
	n2 := h.EdgeIndices2[e]
	energy := 0.0
	for j := 0; j < h.R1; j++ {
		b1 := h.Nodes1.CurBelief.Get(j, n1)
		for k := 0; k < h.R2; k++ {
			b2 := h.Nodes2.CurBelief.Get(k, n2)
			mu := h.Marginal.Get(j*h.R2+k, e)
			psi := h.Prob.Get(j*h.R2+k, e)
			energy += mu * math.Log((mu+epsilon)/(psi*b1*b2+epsilon))
		}
	}
	return energy
}
