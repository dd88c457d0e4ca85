// package rotamer is the registration surface for bead types: a
// named-allocator table mirroring ele/factory.go's SetAllocator/New
// pair, plus the default "rotamer" bead type wiring rsolver.NewSolver.
package rotamer

import (
	"github.com/cpmech/gosl/chk"

	"github.com/pengxd/upside-md-1/rgraph"
	"github.com/pengxd/upside-md-1/rotid"
	"github.com/pengxd/upside-md-1/rsolver"
)

// PositionNode is the position_node collaborator: the bead/interaction
// graph structure a registered allocator queries for ids, slot
// locations, and pairwise edges. Identical in shape to rgraph.InteractionGraph;
// named separately here to match the registration surface's own vocabulary.
type PositionNode = rgraph.InteractionGraph

// AllocatorType allocates a solver for one registered bead type, given
// the construction-time config, the position node, and zero or more
// one-body probability providers.
type AllocatorType func(cfg rsolver.Config, posNode PositionNode, probNodes ...rgraph.ProbNode) (*rsolver.Solver, error)

var allocators = make(map[string]AllocatorType)

// SetAllocator registers fcn under name. Panics if name is already
// registered, matching ele/factory.go's duplicate-registration policy.
func SetAllocator(name string, fcn AllocatorType) {
	if _, ok := allocators[name]; ok {
		chk.Panic("rotamer: cannot set allocator for %q because it is already registered", name)
	}
	allocators[name] = fcn
}

// GetAllocator returns the allocator registered under name, panicking
// if none is registered.
func GetAllocator(name string) AllocatorType {
	if fcn, ok := allocators[name]; ok {
		return fcn
	}
	chk.Panic("rotamer: cannot get allocator for %q", name)
	return nil
}

// New looks up name in the factory table and invokes it.
func New(name string, cfg rsolver.Config, posNode PositionNode, probNodes ...rgraph.ProbNode) (*rsolver.Solver, error) {
	fcn, ok := allocators[name]
	if !ok {
		return nil, chk.Err("rotamer: cannot get allocator for %q", name)
	}
	return fcn(cfg, posNode, probNodes...)
}

func init() {
	SetAllocator("rotamer", defaultAllocator)
}

// defaultAllocator implements the "rotamer" bead type: it sizes a
// Solver's holders by scanning posNode once for residue counts per
// alphabet class and once for the raw edge count, then delegates to
// rsolver.NewSolver. fillHolders re-walks posNode on every Compute
// call; this pass only determines allocation sizes.
func defaultAllocator(cfg rsolver.Config, posNode PositionNode, probNodes ...rgraph.ProbNode) (*rsolver.Solver, error) {
	if posNode == nil {
		return nil, chk.Err("rotamer: position_node is nil")
	}
	n := posNode.NElem1()
	residues1 := map[int]bool{}
	residues3 := map[int]bool{}
	for i := 0; i < n; i++ {
		id := rotid.ID(posNode.ID1(i))
		residue, nrot, _, err := id.Validate()
		if err != nil {
			return nil, err
		}
		switch nrot {
		case rotid.Rot1:
			residues1[residue] = true
		case rotid.Rot3:
			residues3[residue] = true
		default:
			return nil, chk.Err("rotamer: unsupported n_rot=%d for bead %d", nrot, i)
		}
	}
	_, _, edgeValue := posNode.ComputeEdges()
	maxEdges := len(edgeValue)
	if maxEdges == 0 {
		maxEdges = 1
	}
	return rsolver.NewSolver(cfg, posNode, probNodes, len(residues1), len(residues3), maxEdges)
}
