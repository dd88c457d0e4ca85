// Command rotamer-demo exercises one evaluation cycle of the rotamer
// belief-propagation solver against a small synthetic position node,
// the way main.go drives fem.Main for a single .sim file.
package main

import (
	"flag"
	"math"

	"github.com/cpmech/gosl/chk"
	"github.com/cpmech/gosl/io"

	"github.com/pengxd/upside-md-1/rgraph"
	"github.com/pengxd/upside-md-1/rotamer"
	"github.com/pengxd/upside-md-1/rotid"
	"github.com/pengxd/upside-md-1/rsolver"
)

func main() {
	defer func() {
		if err := recover(); err != nil {
			chk.Verbose = true
			io.PfRed("ERROR: %v\n", err)
		}
	}()

	dir := flag.String("dir", ".", "directory containing the config file")
	fn := flag.String("config", "rotamer.json", "config filename (JSON, damping/max_iter/tol/iteration_chunk_size)")
	flag.Parse()

	io.PfWhite("\nrotamer-demo -- loopy BP sidechain rotamer evaluation\n\n")

	cfg, err := rsolver.ReadConfig(*dir, *fn)
	if err != nil {
		chk.Panic("cannot read config: %v", err)
	}

	g, pn := demoSystem()
	solver, err := rotamer.New("rotamer", cfg, g, pn)
	if err != nil {
		chk.Panic("cannot allocate solver: %v", err)
	}

	potential, report, err := solver.Compute(rsolver.WithPotential)
	if err != nil {
		chk.Panic("compute failed: %v", err)
	}

	io.Pf("converged      = %v\n", report.Converged)
	io.Pf("iterations     = %d\n", report.Iterations)
	io.Pf("max_deviation  = %v\n", report.MaxDeviation)
	io.Pf("potential      = %v\n", potential)
	for i, e := range solver.ResidueFreeEnergies() {
		io.Pf("residue[%d] free energy = %v\n", i, e)
	}
}

// demoSystem builds a two-residue fixture: a size-1 residue anchoring a
// size-3 residue through a single favorable pairwise contact, just
// large enough to exercise fill_holders, the fold-in, and one BP sweep.
func demoSystem() (rgraph.InteractionGraph, rgraph.ProbNode) {
	ids := []uint64{
		uint64(rotid.Pack(0, rotid.Rot1, 0)),
		uint64(rotid.Pack(0, rotid.Rot3, 0)),
		uint64(rotid.Pack(0, rotid.Rot3, 1)),
		uint64(rotid.Pack(0, rotid.Rot3, 2)),
	}
	locs := make([]rgraph.Loc, len(ids))
	for i := range locs {
		locs[i] = rgraph.Loc{Index: i}
	}
	return &demoGraph{
			ids:  ids,
			locs: locs,
			ep1:  []int{0},
			ep2:  []int{1},
			eval: []float64{-math.Log(3)},
		}, &demoProbNode{
			e1: []float64{0, 0, 0.2, 0.5},
		}
}

type demoGraph struct {
	ids  []uint64
	locs []rgraph.Loc
	ep1  []int
	ep2  []int
	eval []float64
	sens []float64
}

func (g *demoGraph) NElem1() int           { return len(g.ids) }
func (g *demoGraph) ID1(n int) uint64      { return g.ids[n] }
func (g *demoGraph) Loc1(n int) rgraph.Loc { return g.locs[n] }
func (g *demoGraph) ComputeEdges() (e1, e2 []int, v []float64) {
	return g.ep1, g.ep2, g.eval
}
func (g *demoGraph) SetEdgeSensitivity(src int, value float64) {
	if g.sens == nil {
		g.sens = make([]float64, len(g.eval))
	}
	g.sens[src] = value
}

type demoProbNode struct {
	e1     []float64
	derivs []float64
}

func (p *demoProbNode) NElem() int                    { return len(p.e1) }
func (p *demoProbNode) Value(order, slot int) float64 { return p.e1[slot] }
func (p *demoProbNode) SetDeriv(order, slot int, value float64) {
	if p.derivs == nil {
		p.derivs = make([]float64, len(p.e1))
	}
	p.derivs[slot] = value
}
