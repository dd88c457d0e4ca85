package rsolver_test

import (
	"errors"
	"math"
	"testing"

	"github.com/cpmech/gosl/chk"
	"github.com/cpmech/gosl/num"

	"github.com/pengxd/upside-md-1/rgraph"
	"github.com/pengxd/upside-md-1/rotid"
	"github.com/pengxd/upside-md-1/rsolver"
)

// fakeProbNode is a test-double one-body probability provider.
type fakeProbNode struct {
	e1     []float64
	derivs []float64
}

func newFakeProbNode(e1 []float64) *fakeProbNode {
	return &fakeProbNode{e1: e1, derivs: make([]float64, len(e1))}
}
func (f *fakeProbNode) NElem() int                              { return len(f.e1) }
func (f *fakeProbNode) Value(order, slot int) float64           { return f.e1[slot] }
func (f *fakeProbNode) SetDeriv(order, slot int, value float64) { f.derivs[slot] = value }

// fakeGraph is a test-double interaction graph.
type fakeGraph struct {
	ids   []uint64
	locs  []rgraph.Loc
	ep1   []int
	ep2   []int
	evals []float64
	sens  []float64
}

func (g *fakeGraph) NElem1() int             { return len(g.ids) }
func (g *fakeGraph) ID1(n int) uint64        { return g.ids[n] }
func (g *fakeGraph) Loc1(n int) rgraph.Loc   { return g.locs[n] }
func (g *fakeGraph) ComputeEdges() (e1, e2 []int, v []float64) {
	return g.ep1, g.ep2, g.evals
}
func (g *fakeGraph) SetEdgeSensitivity(src int, value float64) {
	if src >= len(g.sens) {
		grown := make([]float64, src+1)
		copy(grown, g.sens)
		g.sens = grown
	}
	g.sens[src] = value
}

func identityLocs(n int) []rgraph.Loc {
	locs := make([]rgraph.Loc, n)
	for i := range locs {
		locs[i] = rgraph.Loc{Index: i}
	}
	return locs
}

func defaultConfig() rsolver.Config {
	return rsolver.Config{Damping: 0.1, MaxIter: 200, Tol: 1e-10, IterationChunkSize: 5}
}

func Test_S1_trivial_single_node(tst *testing.T) {
	chk.PrintTitle("S1_trivial_single_node")

	g := &fakeGraph{
		ids:  []uint64{uint64(rotid.Pack(0, rotid.Rot1, 0))},
		locs: identityLocs(1),
		sens: []float64{},
	}
	pn := newFakeProbNode([]float64{0})
	s, err := rsolver.NewSolver(defaultConfig(), g, []rgraph.ProbNode{pn}, 1, 0, 4)
	if err != nil {
		tst.Fatalf("NewSolver: %v", err)
	}
	potential, _, err := s.Compute(rsolver.WithPotential)
	if err != nil {
		tst.Fatalf("Compute: %v", err)
	}
	if math.Abs(potential) > 1e-6 {
		tst.Errorf("expected potential ~0, got %v", potential)
	}
	if math.Abs(pn.derivs[0]-1) > 1e-9 {
		tst.Errorf("expected deriv slot = 1, got %v", pn.derivs[0])
	}
}

func Test_S2_two_three_rot_no_edge(tst *testing.T) {
	chk.PrintTitle("S2_two_three_rot_no_edge")

	ids := []uint64{
		uint64(rotid.Pack(0, rotid.Rot3, 0)), uint64(rotid.Pack(0, rotid.Rot3, 1)), uint64(rotid.Pack(0, rotid.Rot3, 2)),
		uint64(rotid.Pack(1, rotid.Rot3, 0)), uint64(rotid.Pack(1, rotid.Rot3, 1)), uint64(rotid.Pack(1, rotid.Rot3, 2)),
	}
	e1 := []float64{0, math.Log(2), math.Log(4), 0, math.Log(2), math.Log(4)}
	g := &fakeGraph{ids: ids, locs: identityLocs(6)}
	pn := newFakeProbNode(e1)
	s, err := rsolver.NewSolver(defaultConfig(), g, []rgraph.ProbNode{pn}, 0, 2, 4)
	if err != nil {
		tst.Fatalf("NewSolver: %v", err)
	}
	potential, _, err := s.Compute(rsolver.WithPotential)
	if err != nil {
		tst.Fatalf("Compute: %v", err)
	}
	want := -2 * math.Log(1+0.5+0.25)
	if math.Abs(potential-want) > 1e-6 {
		tst.Errorf("potential = %v, want %v", potential, want)
	}
	wantMarg := []float64{4.0 / 7.0, 2.0 / 7.0, 1.0 / 7.0}
	for i, w := range wantMarg {
		if math.Abs(pn.derivs[i]-w) > 1e-6 {
			tst.Errorf("deriv[%d] = %v, want %v", i, pn.derivs[i], w)
		}
		if math.Abs(pn.derivs[i+3]-w) > 1e-6 {
			tst.Errorf("deriv[%d] = %v, want %v", i+3, pn.derivs[i+3], w)
		}
	}
}

func Test_S3_singleton_edge_folds_into_node(tst *testing.T) {
	chk.PrintTitle("S3_singleton_edge_folds_into_node")

	// bead 0: residue A, n_rot=1; beads 1-3: residue B, n_rot=3
	ids := []uint64{
		uint64(rotid.Pack(0, rotid.Rot1, 0)),
		uint64(rotid.Pack(0, rotid.Rot3, 0)),
		uint64(rotid.Pack(0, rotid.Rot3, 1)),
		uint64(rotid.Pack(0, rotid.Rot3, 2)),
	}
	g := &fakeGraph{
		ids:  ids,
		locs: identityLocs(4),
		ep1:  []int{0, 0, 0},
		ep2:  []int{1, 2, 3},
		evals: []float64{
			-math.Log(10), // favors B rotamer 0
			0,
			0,
		},
	}
	pn := newFakeProbNode([]float64{0, 0, 0, 0})
	s, err := rsolver.NewSolver(defaultConfig(), g, []rgraph.ProbNode{pn}, 1, 1, 4)
	if err != nil {
		tst.Fatalf("NewSolver: %v", err)
	}
	if _, _, err := s.Compute(rsolver.MarginalsOnly); err != nil {
		tst.Fatalf("Compute: %v", err)
	}
	want := []float64{10.0 / 12.0, 1.0 / 12.0, 1.0 / 12.0}
	for i, w := range want {
		if math.Abs(pn.derivs[i+1]-w) > 1e-6 {
			tst.Errorf("B marginal[%d] = %v, want %v", i, pn.derivs[i+1], w)
		}
	}
	if math.Abs(pn.derivs[0]-1) > 1e-9 {
		tst.Errorf("A (singleton) marginal = %v, want 1", pn.derivs[0])
	}
	if len(g.sens) != 3 {
		tst.Fatalf("expected 3 sensitivities, got %d", len(g.sens))
	}
	if math.Abs(g.sens[0]-want[0]) > 1e-6 {
		tst.Errorf("sensitivity[0] = %v, want %v", g.sens[0], want[0])
	}
}

func Test_S5_nonconvergence_is_reported(tst *testing.T) {
	chk.PrintTitle("S5_nonconvergence_is_reported")

	ids := []uint64{
		uint64(rotid.Pack(0, rotid.Rot3, 0)), uint64(rotid.Pack(0, rotid.Rot3, 1)), uint64(rotid.Pack(0, rotid.Rot3, 2)),
		uint64(rotid.Pack(1, rotid.Rot3, 0)), uint64(rotid.Pack(1, rotid.Rot3, 1)), uint64(rotid.Pack(1, rotid.Rot3, 2)),
	}
	// a single coupling edge, enough to require more than one sweep
	g := &fakeGraph{
		ids:  ids,
		locs: identityLocs(6),
		ep1:  []int{0, 1, 2},
		ep2:  []int{3, 4, 5},
		evals: []float64{
			0, -1, -1,
		},
	}
	pn := newFakeProbNode(make([]float64, 6))
	// max_iter=1 with an impossibly tight tolerance forces the cap to bind.
	cfg := rsolver.Config{Damping: 0.1, MaxIter: 1, Tol: 1e-15, IterationChunkSize: 1}
	s, err := rsolver.NewSolver(cfg, g, []rgraph.ProbNode{pn}, 0, 2, 4)
	if err != nil {
		tst.Fatalf("NewSolver: %v", err)
	}
	_, report, err := s.Compute(rsolver.WithPotential)
	if err != nil {
		tst.Fatalf("Compute: %v", err)
	}
	if report.Converged {
		tst.Errorf("expected non-convergence with max_iter=1 and tol=1e-15")
	}
	if report.Iterations != 1 {
		tst.Errorf("expected iterations to hit the cap (1), got %d", report.Iterations)
	}
	// even without convergence, marginals must stay sane (L1-normalized).
	for _, d := range pn.derivs {
		if d < 0 || math.IsNaN(d) {
			tst.Errorf("non-convergent marginal is not sane: %v", d)
		}
	}
}

func Test_S6_derivative_matches_finite_difference(tst *testing.T) {
	chk.PrintTitle("S6_derivative_matches_finite_difference")

	ids := []uint64{
		uint64(rotid.Pack(0, rotid.Rot3, 0)), uint64(rotid.Pack(0, rotid.Rot3, 1)), uint64(rotid.Pack(0, rotid.Rot3, 2)),
	}
	base := []float64{0.3, 1.1, 0.7}

	compute := func(e1 []float64) float64 {
		g := &fakeGraph{ids: ids, locs: identityLocs(3)}
		pn := newFakeProbNode(e1)
		s, err := rsolver.NewSolver(defaultConfig(), g, []rgraph.ProbNode{pn}, 0, 1, 4)
		if err != nil {
			tst.Fatalf("NewSolver: %v", err)
		}
		potential, _, err := s.Compute(rsolver.WithPotential)
		if err != nil {
			tst.Fatalf("Compute: %v", err)
		}
		return potential
	}

	// recorded analytic derivative at the unperturbed point
	g := &fakeGraph{ids: ids, locs: identityLocs(3)}
	pn := newFakeProbNode(base)
	s, err := rsolver.NewSolver(defaultConfig(), g, []rgraph.ProbNode{pn}, 0, 1, 4)
	if err != nil {
		tst.Fatalf("NewSolver: %v", err)
	}
	if _, _, err := s.Compute(rsolver.WithPotential); err != nil {
		tst.Fatalf("Compute: %v", err)
	}

	for bead := 0; bead < 3; bead++ {
		dnum := num.DerivCen(func(x float64, args ...interface{}) float64 {
			e1 := append([]float64{}, base...)
			e1[bead] = x
			return compute(e1)
		}, base[bead])
		analytic := pn.derivs[bead]
		if math.Abs(dnum-analytic) > 1e-4*math.Max(1, math.Abs(analytic)) {
			tst.Errorf("bead %d: finite-diff=%v analytic=%v", bead, dnum, analytic)
		}
	}
}

func Test_config_missing_is_reported(tst *testing.T) {
	chk.PrintTitle("config_missing_is_reported")
	cfg := rsolver.Config{Damping: 0.1} // max_iter, tol, iteration_chunk_size all zero
	if err := cfg.Validate(); !errors.Is(err, rsolver.ErrConfigMissing) {
		tst.Errorf("expected ErrConfigMissing, got %v", err)
	}
}

func Test_shape_mismatch_nil_graph(tst *testing.T) {
	chk.PrintTitle("shape_mismatch_nil_graph")
	_, err := rsolver.NewSolver(defaultConfig(), nil, nil, 1, 1, 4)
	if !errors.Is(err, rsolver.ErrShapeMismatch) {
		tst.Errorf("expected ErrShapeMismatch, got %v", err)
	}
}

func Test_shape_mismatch_prob_node_element_count(tst *testing.T) {
	chk.PrintTitle("shape_mismatch_prob_node_element_count")
	g := &fakeGraph{
		ids:  []uint64{uint64(rotid.Pack(0, rotid.Rot1, 0)), uint64(rotid.Pack(1, rotid.Rot1, 0))},
		locs: identityLocs(2),
	}
	pn := newFakeProbNode([]float64{0}) // only one slot; graph reports two beads
	_, err := rsolver.NewSolver(defaultConfig(), g, []rgraph.ProbNode{pn}, 2, 0, 4)
	if !errors.Is(err, rsolver.ErrShapeMismatch) {
		tst.Errorf("expected ErrShapeMismatch, got %v", err)
	}
}
