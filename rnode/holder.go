// package rnode implements NodeHolder: the per-alphabet-size storage
// and belief-propagation node operations for one residue class. The
// lifecycle (reset/swap/standardize/converge) mirrors the way
// msolid/solid.go's Model and mdl/retention/model.go's Update carry a
// prior, a running state, and a previous-iteration snapshot.
package rnode

import (
	"math"

	"github.com/cpmech/gosl/chk"

	"github.com/pengxd/upside-md-1/rstore"
)

// epsilon is the numerical floor used throughout the Bethe free-energy
// and normalization arithmetic; see design note on the ε convention.
const epsilon = 1e-10

// Holder owns the dense stores for one residue-alphabet size: the
// unnormalized prior (Prob), the running belief (CurBelief), and the
// previous-iteration snapshot (OldBelief).
type Holder struct {
	R          int
	E          int
	Prob       *rstore.NodeStore
	CurBelief  *rstore.NodeStore
	OldBelief  *rstore.NodeStore
}

// NewHolder allocates a holder for r rotamers across e residue slots.
func NewHolder(r, e int) *Holder {
	if r <= 0 {
		chk.Panic("rnode: invalid alphabet size %d", r)
	}
	return &Holder{
		R:         r,
		E:         e,
		Prob:      rstore.NewNodeStore(r, e),
		CurBelief: rstore.NewNodeStore(r, e),
		OldBelief: rstore.NewNodeStore(r, e),
	}
}

// Reset sets every Prob entry to 1, ready for multiplicative
// accumulation of one-body factors during fill_holders.
func (h *Holder) Reset() {
	h.Prob.Fill(1)
}

// SeedBeliefFromProb copies Prob into OldBelief, the seed step at the
// start of solve_for_marginals.
func (h *Holder) SeedBeliefFromProb() {
	h.OldBelief.CopyFrom(h.Prob)
}

// SwapBeliefs exchanges CurBelief and OldBelief in constant time.
func (h *Holder) SwapBeliefs() {
	h.CurBelief, h.OldBelief = h.OldBelief, h.CurBelief
}

// StandardizeProbs divides every element's R components by the max of
// that element's components (floored at 1e-10), to keep numerics in
// [0,1] without changing the argmax.
func (h *Holder) StandardizeProbs() {
	for i := 0; i < h.E; i++ {
		max := epsilon
		for r := 0; r < h.R; r++ {
			if v := h.Prob.Get(r, i); v > max {
				max = v
			}
		}
		for r := 0; r < h.R; r++ {
			h.Prob.Mul(r, i, 1/max)
		}
	}
}

// FinishBeliefUpdate replaces CurBelief elementwise with
// (1-d)*b_cur/max(b_cur) + d*b_old.
func (h *Holder) FinishBeliefUpdate(damping float64) {
	for i := 0; i < h.E; i++ {
		max := epsilon
		for r := 0; r < h.R; r++ {
			if v := h.CurBelief.Get(r, i); v > max {
				max = v
			}
		}
		for r := 0; r < h.R; r++ {
			cur := h.CurBelief.Get(r, i)
			old := h.OldBelief.Get(r, i)
			h.CurBelief.Set(r, i, (1-damping)*cur/max+damping*old)
		}
	}
}

// MaxDeviation returns the max over all (r,i) of CurBelief-OldBelief,
// clamped below by 0 by the 0-initialized accumulator — intentionally
// a signed-difference test, not an L-infinity norm; see design note.
func (h *Holder) MaxDeviation() float64 {
	acc := 0.0
	for i := 0; i < h.E; i++ {
		for r := 0; r < h.R; r++ {
			d := h.CurBelief.Get(r, i) - h.OldBelief.Get(r, i)
			if d > acc {
				acc = d
			}
		}
	}
	return acc
}

// CalculateMarginals L1-normalizes CurBelief in place.
func (h *Holder) CalculateMarginals() {
	for i := 0; i < h.E; i++ {
		sum := 0.0
		for r := 0; r < h.R; r++ {
			sum += h.CurBelief.Get(r, i)
		}
		if sum <= 0 {
			continue
		}
		for r := 0; r < h.R; r++ {
			h.CurBelief.Mul(r, i, 1/sum)
		}
	}
}

// NodeFreeEnergy returns the Bethe single-node contribution for
// element i: sum_r bhat*log((bhat+eps)/(p+eps)), bhat = b/sum(b).
func (h *Holder) NodeFreeEnergy(i int) float64 {
	sum := 0.0
	for r := 0; r < h.R; r++ {
		sum += h.CurBelief.Get(r, i)
	}
	if sum <= 0 {
		sum = epsilon
	}
	energy := 0.0
	for r := 0; r < h.R; r++ {
		bhat := h.CurBelief.Get(r, i) / sum
		p := h.Prob.Get(r, i)
		energy += bhat * math.Log((bhat+epsilon)/(p+epsilon))
	}
	return energy
}

// ApproxNormalize divides the R values at element i by a cheap
// rescaler (the max component), deferring exact L1 normalization to
// CalculateMarginals.
func (h *Holder) ApproxNormalize(i int) {
	max := epsilon
	for r := 0; r < h.R; r++ {
		if v := h.CurBelief.Get(r, i); v > max {
			max = v
		}
	}
	for r := 0; r < h.R; r++ {
		h.CurBelief.Mul(r, i, 1/max)
	}
}
