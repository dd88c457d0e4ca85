// package rotid implements the packed rotamer id used to address beads
// reported by the external interaction graph.
package rotid

import "github.com/cpmech/gosl/chk"

// BitsPerField is the width, in bits, of each of the three sub-fields
// packed into an ID: rot, n_rot, residue_index, from least to most
// significant.
const BitsPerField = 16

// UpperRot is the exclusive upper bound on n_rot; only n_rot values
// strictly below UpperRot are representable, and of those only
// Rot1 and Rot3 are supported by this solver.
const UpperRot = 4

// supported rotamer-alphabet sizes
const (
	Rot1 = 1
	Rot3 = 3
)

const fieldMask = uint64(1)<<BitsPerField - 1

// ID is a packed bead identifier: rot | n_rot<<B | residue_index<<2B
type ID uint64

// Pack builds an ID from its three fields. It does not validate them;
// use Validate on the caller side once the ID reaches the
// solver, mirroring the way gofem cell tags are packed by callers and
// validated by the consumer.
func Pack(residueIndex, nRot, rot int) ID {
	return ID(uint64(rot)&fieldMask | (uint64(nRot)&fieldMask)<<BitsPerField | (uint64(residueIndex)&fieldMask)<<(2*BitsPerField))
}

// Decode splits an ID into its three fields without validating them.
func (id ID) Decode() (residueIndex, nRot, rot int) {
	u := uint64(id)
	rot = int(u & fieldMask)
	nRot = int((u >> BitsPerField) & fieldMask)
	residueIndex = int(u >> (2 * BitsPerField))
	return
}

// Validate decodes id and checks it against the invariants of §3:
// rot < n_rot, and n_rot is one of the supported alphabet sizes.
func (id ID) Validate() (residueIndex, nRot, rot int, err error) {
	residueIndex, nRot, rot = id.Decode()
	if nRot >= UpperRot {
		return 0, 0, 0, chk.Err("rotid: n_rot=%d exceeds UpperRot=%d for id=%d", nRot, UpperRot, id)
	}
	if nRot != Rot1 && nRot != Rot3 {
		return 0, 0, 0, chk.Err("rotid: unsupported n_rot=%d for id=%d (only {%d,%d} are supported)", nRot, id, Rot1, Rot3)
	}
	if rot >= nRot {
		return 0, 0, 0, chk.Err("rotid: rot=%d >= n_rot=%d for id=%d", rot, nRot, id)
	}
	return
}
