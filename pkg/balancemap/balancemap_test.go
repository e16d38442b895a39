package balancemap

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropforge/merkledrop-go/pkg/merkle"
)

func testAddress(i int) common.Address {
	return common.BigToAddress(big.NewInt(int64(i + 1)))
}

// TestParseAddressMapRoundTrip tests that every emitted claim verifies
// against the emitted root, across set sizes including odd ones
func TestParseAddressMapRoundTrip(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5, 8, 33, 100} {
		t.Run(fmt.Sprintf("%d_entries", n), func(t *testing.T) {
			balances := make(map[string]string, n)
			for i := 0; i < n; i++ {
				balances[testAddress(i).Hex()] = fmt.Sprintf("%d", 100+i)
			}

			bundle, err := ParseAddressMap(balances)
			require.NoError(t, err)
			require.Len(t, bundle.Claims, n)
			require.Equal(t, uint64(n), bundle.LeafCount())

			for id, claim := range bundle.Claims {
				leaf := merkle.AddressLeaf(claim.Index, common.HexToAddress(id), (*big.Int)(claim.Amount))
				siblings := make([][32]byte, len(claim.Proof))
				for j, h := range claim.Proof {
					siblings[j] = h
				}
				require.True(t,
					merkle.VerifyProof(claim.Index, bundle.LeafCount(), leaf, siblings, [32]byte(bundle.MerkleRoot)),
					"claim for %s should verify", id)
			}
		})
	}
}

// TestParseIdentifierMapRoundTrip tests the string-keyed (UUID) variant
func TestParseIdentifierMapRoundTrip(t *testing.T) {
	balances := make(map[string]string, 25)
	for i := 0; i < 25; i++ {
		balances[uuid.NewString()] = fmt.Sprintf("0x%x", 1000+i)
	}

	bundle, err := ParseIdentifierMap(balances)
	require.NoError(t, err)
	require.Len(t, bundle.Claims, 25)

	for id, claim := range bundle.Claims {
		leaf := merkle.IdentifierLeaf(claim.Index, merkle.HashIdentifier(id), (*big.Int)(claim.Amount))
		siblings := make([][32]byte, len(claim.Proof))
		for j, h := range claim.Proof {
			siblings[j] = h
		}
		require.True(t,
			merkle.VerifyProof(claim.Index, bundle.LeafCount(), leaf, siblings, [32]byte(bundle.MerkleRoot)))
	}
}

// TestParseDeterminism tests that parsing the same map twice yields the same
// root, indices and proofs
func TestParseDeterminism(t *testing.T) {
	balances := map[string]string{}
	for i := 0; i < 17; i++ {
		balances[testAddress(i).Hex()] = fmt.Sprintf("%d", 7*(i+1))
	}

	bundle1, err := ParseAddressMap(balances)
	require.NoError(t, err)
	bundle2, err := ParseAddressMap(balances)
	require.NoError(t, err)

	require.Equal(t, bundle1.MerkleRoot, bundle2.MerkleRoot)
	require.Equal(t, (*big.Int)(bundle1.TokenTotal), (*big.Int)(bundle2.TokenTotal))
	for id, claim := range bundle1.Claims {
		other := bundle2.Claims[id]
		require.NotNil(t, other)
		assert.Equal(t, claim.Index, other.Index)
		assert.Equal(t, claim.Proof, other.Proof)
	}
}

// TestParseSumInvariant tests tokenTotal == sum of all amounts
func TestParseSumInvariant(t *testing.T) {
	balances := map[string]string{}
	expected := new(big.Int)
	for i := 0; i < 12; i++ {
		amount := big.NewInt(int64(1000 + 13*i))
		balances[testAddress(i).Hex()] = amount.String()
		expected.Add(expected, amount)
	}

	bundle, err := ParseAddressMap(balances)
	require.NoError(t, err)
	require.Zero(t, expected.Cmp((*big.Int)(bundle.TokenTotal)))
}

// TestParseDenseIndices tests that indices are a dense 0..N-1 permutation in
// canonical identifier order
func TestParseDenseIndices(t *testing.T) {
	balances := map[string]string{}
	for i := 0; i < 9; i++ {
		balances[testAddress(i).Hex()] = "1"
	}

	bundle, err := ParseAddressMap(balances)
	require.NoError(t, err)

	seen := make(map[uint64]bool)
	for _, claim := range bundle.Claims {
		require.Less(t, claim.Index, uint64(9))
		require.False(t, seen[claim.Index], "index %d assigned twice", claim.Index)
		seen[claim.Index] = true
	}

	// Addresses 1..9 sort by byte value, so indices follow construction order
	for i := 0; i < 9; i++ {
		require.Equal(t, uint64(i), bundle.Claims[testAddress(i).Hex()].Index)
	}
}

// TestParseRejectsNonPositiveAmounts tests the fail-fast validation path
func TestParseRejectsNonPositiveAmounts(t *testing.T) {
	for _, bad := range []string{"0", "-5"} {
		t.Run("amount_"+bad, func(t *testing.T) {
			balances := map[string]string{
				testAddress(0).Hex(): "100",
				testAddress(1).Hex(): bad,
			}
			bundle, err := ParseAddressMap(balances)
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrNonPositiveAmount))
			require.Nil(t, bundle, "no partial artifact on failure")
		})
	}
}

// TestParseRejectsDuplicateAddresses tests that case variants of one address
// are caught as duplicates
func TestParseRejectsDuplicateAddresses(t *testing.T) {
	checksummed := common.HexToAddress("0xdeadbeef00000000000000000000000000000001").Hex()
	balances := map[string]string{
		checksummed:                  "100",
		strings.ToLower(checksummed): "200",
	}
	require.Len(t, balances, 2, "keys must differ in case for this test")

	bundle, err := ParseAddressMap(balances)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrDuplicateIdentifier))
	require.Nil(t, bundle)
}

// TestParseRejectsInvalidAddress tests malformed identifier keys
func TestParseRejectsInvalidAddress(t *testing.T) {
	bundle, err := ParseAddressMap(map[string]string{"not-an-address": "100"})
	require.Error(t, err)
	require.Nil(t, bundle)
}

// TestParseRejectsEmptyMap tests that an empty entitlement set is an error
func TestParseRejectsEmptyMap(t *testing.T) {
	bundle, err := ParseAddressMap(map[string]string{})
	require.Error(t, err)
	require.Nil(t, bundle)
}

// TestNormalizeInput tests old-format and new-format input shapes
func TestNormalizeInput(t *testing.T) {
	t.Run("Old format with numbers", func(t *testing.T) {
		raw := []byte(`{"0x0000000000000000000000000000000000000001": 100, "0x0000000000000000000000000000000000000002": 200}`)
		out, err := NormalizeInput(raw)
		require.NoError(t, err)
		require.Equal(t, "100", out["0x0000000000000000000000000000000000000001"])
		require.Equal(t, "200", out["0x0000000000000000000000000000000000000002"])
	})

	t.Run("Old format with string amounts", func(t *testing.T) {
		raw := []byte(`{"0x0000000000000000000000000000000000000001": "0x64"}`)
		out, err := NormalizeInput(raw)
		require.NoError(t, err)
		require.Equal(t, "0x64", out["0x0000000000000000000000000000000000000001"])
	})

	t.Run("New format list", func(t *testing.T) {
		raw := []byte(`[{"address": "0x0000000000000000000000000000000000000001", "earnings": "0x64", "reasons": ""}]`)
		out, err := NormalizeInput(raw)
		require.NoError(t, err)
		require.Equal(t, "0x64", out["0x0000000000000000000000000000000000000001"])
	})

	t.Run("New format rejects duplicates", func(t *testing.T) {
		raw := []byte(`[
			{"address": "0x0000000000000000000000000000000000000001", "earnings": "0x64"},
			{"address": "0x0000000000000000000000000000000000000001", "earnings": "0x65"}
		]`)
		_, err := NormalizeInput(raw)
		require.Error(t, err)
		require.True(t, errors.Is(err, ErrDuplicateIdentifier))
	})

	t.Run("Garbage input", func(t *testing.T) {
		_, err := NormalizeInput([]byte("not json"))
		require.Error(t, err)
	})
}

// TestProofBundleJSONFormat tests that the artifact round-trips through JSON
// with the published field names and hex encodings intact
func TestProofBundleJSONFormat(t *testing.T) {
	balances := map[string]string{
		testAddress(0).Hex(): "100",
		testAddress(1).Hex(): "101",
	}
	bundle, err := ParseAddressMap(balances)
	require.NoError(t, err)

	encoded, err := json.Marshal(bundle)
	require.NoError(t, err)

	var shape map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(encoded, &shape))
	require.Contains(t, shape, "merkleRoot")
	require.Contains(t, shape, "tokenTotal")
	require.Contains(t, shape, "claims")

	var total string
	require.NoError(t, json.Unmarshal(shape["tokenTotal"], &total))
	require.Equal(t, "0xc9", total) // 100 + 101 = 201

	var decoded ProofBundle
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	require.Equal(t, bundle.MerkleRoot, decoded.MerkleRoot)
	require.Len(t, decoded.Claims, 2)
	for id, claim := range bundle.Claims {
		require.Equal(t, claim.Index, decoded.Claims[id].Index)
		require.Equal(t, claim.Proof, decoded.Claims[id].Proof)
		require.Zero(t, (*big.Int)(claim.Amount).Cmp((*big.Int)(decoded.Claims[id].Amount)))
	}
}
