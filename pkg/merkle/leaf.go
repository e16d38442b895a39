package merkle

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Leaf encoders. Both variants produce the same 32-byte digest type from an
// (index, identifier, amount) tuple, packed the way Solidity's
// abi.encodePacked would lay it out. The only difference is what the
// identifier is: a 20-byte account address, or the 32-byte hash of an
// opaque string. The raw string never appears in a leaf.
//
// Amounts are encoded by magnitude (uint256 layout has no sign), so -X and
// +X produce the same leaf. Callers must reject non-positive amounts before
// encoding.

// AddressLeaf encodes keccak256(uint256(index) || account || uint256(amount)).
func AddressLeaf(index uint64, account common.Address, amount *big.Int) [32]byte {
	data := make([]byte, 0, 32+20+32)
	data = append(data, indexBytes(index)...)
	data = append(data, account.Bytes()...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)

	return [32]byte(crypto.Keccak256Hash(data))
}

// IdentifierLeaf encodes keccak256(uint256(index) || identifierHash || uint256(amount)).
func IdentifierLeaf(index uint64, identifierHash common.Hash, amount *big.Int) [32]byte {
	data := make([]byte, 0, 32+32+32)
	data = append(data, indexBytes(index)...)
	data = append(data, identifierHash.Bytes()...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)

	return [32]byte(crypto.Keccak256Hash(data))
}

// HashIdentifier reduces an opaque string identifier (a UUID, a handle) to
// the 32-byte digest that stands in for it everywhere downstream.
func HashIdentifier(identifier string) common.Hash {
	return crypto.Keccak256Hash([]byte(identifier))
}

func indexBytes(index uint64) []byte {
	return common.LeftPadBytes(new(big.Int).SetUint64(index).Bytes(), 32)
}
