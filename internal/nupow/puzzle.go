package nupow

import (
	"github.com/Klingon-tech/crystal/pkg/crypto"
	"github.com/Klingon-tech/crystal/pkg/types"
	"github.com/holiman/uint256"
)

// GenesisTip is the tip every round starts from: the largest 256-bit value,
// so the first attempt of a round passes unless its candidate is all ones.
var GenesisTip = types.MaxHash

// Candidate computes the puzzle hash for a seed submitted by solver against tip.
//
// Layout (96 bytes, Keccak-256):
//
//	[0:32]   seed, big-endian
//	[32:64]  solver address, left-padded with zeros
//	[64:96]  tip, big-endian
func Candidate(tip types.Hash, seed *uint256.Int, solver types.Address) types.Hash {
	seedWord := seed.Bytes32()
	solverWord := solver.Word()
	return crypto.Keccak256Hash(seedWord[:], solverWord[:], tip[:])
}

// Evaluate returns the candidate and whether it beats tip (candidate < tip).
func Evaluate(tip types.Hash, seed *uint256.Int, solver types.Address) (types.Hash, bool) {
	c := Candidate(tip, seed, solver)
	return c, c.Less(tip)
}
