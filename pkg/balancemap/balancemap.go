// Package balancemap turns a raw identifier→amount entitlement map into the
// published proof-bundle artifact: a merkle root, the token total, and one
// {index, amount, proof} claim per identifier.
//
// Parsing is all-or-nothing: any invalid entry aborts generation and no
// partial artifact is produced.
package balancemap

import (
	"bytes"
	"encoding/json"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"

	"github.com/dropforge/merkledrop-go/pkg/merkle"
)

var (
	// ErrDuplicateIdentifier is returned when the same identifier appears more
	// than once in the input (for addresses, case variants count).
	ErrDuplicateIdentifier = errors.New("duplicate identifier")

	// ErrNonPositiveAmount is returned when an entitlement amount is zero or
	// negative.
	ErrNonPositiveAmount = errors.New("amount must be positive")
)

// ClaimInfo is one identifier's entry in the published artifact.
type ClaimInfo struct {
	Index  uint64        `json:"index"`
	Amount *hexutil.Big  `json:"amount"`
	Proof  []common.Hash `json:"proof"`
}

// ProofBundle is the persisted artifact consumed by claim-submission
// clients. Field names and hex encodings are part of the published format
// and must not change.
type ProofBundle struct {
	MerkleRoot common.Hash           `json:"merkleRoot"`
	TokenTotal *hexutil.Big          `json:"tokenTotal"`
	Claims     map[string]*ClaimInfo `json:"claims"`
}

// LeafCount returns the number of entitlements committed to by MerkleRoot.
func (b *ProofBundle) LeafCount() uint64 {
	return uint64(len(b.Claims))
}

// ParseAddressMap builds the artifact for an address-keyed entitlement map.
// Keys must be hex addresses; amounts are hex (0x-prefixed) or decimal
// strings. Claims are keyed by the checksummed address.
func ParseAddressMap(balances map[string]string) (*ProofBundle, error) {
	type entry struct {
		account common.Address
		amount  *big.Int
	}

	entries := make([]entry, 0, len(balances))
	seen := make(map[common.Address]string, len(balances))

	for key, rawAmount := range balances {
		if !common.IsHexAddress(key) {
			return nil, errors.Errorf("invalid address %q", key)
		}
		account := common.HexToAddress(key)
		if prev, ok := seen[account]; ok {
			return nil, errors.Wrapf(ErrDuplicateIdentifier, "%q and %q", prev, key)
		}
		seen[account] = key

		amount, err := parseAmount(rawAmount)
		if err != nil {
			return nil, errors.Wrapf(err, "identifier %q", key)
		}
		entries = append(entries, entry{account: account, amount: amount})
	}

	// Canonical order: byte order of the 20-byte address
	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].account[:], entries[j].account[:]) < 0
	})

	identifiers := make([]string, len(entries))
	amounts := make([]*big.Int, len(entries))
	leaves := make([][32]byte, len(entries))
	for i, e := range entries {
		identifiers[i] = e.account.Hex()
		amounts[i] = e.amount
		leaves[i] = merkle.AddressLeaf(uint64(i), e.account, e.amount)
	}

	return assemble(identifiers, amounts, leaves)
}

// ParseIdentifierMap builds the artifact for a string-keyed entitlement map
// (identifiers are opaque handles such as UUIDs). Claims are keyed by the
// raw identifier; only its hash ends up in the tree.
func ParseIdentifierMap(balances map[string]string) (*ProofBundle, error) {
	identifiers := make([]string, 0, len(balances))
	for id := range balances {
		identifiers = append(identifiers, id)
	}
	// Canonical order: lexicographic over the identifier bytes
	sort.Strings(identifiers)

	amounts := make([]*big.Int, len(identifiers))
	leaves := make([][32]byte, len(identifiers))
	for i, id := range identifiers {
		amount, err := parseAmount(balances[id])
		if err != nil {
			return nil, errors.Wrapf(err, "identifier %q", id)
		}
		amounts[i] = amount
		leaves[i] = merkle.IdentifierLeaf(uint64(i), merkle.HashIdentifier(id), amount)
	}

	return assemble(identifiers, amounts, leaves)
}

// assemble builds the tree and emits the bundle. Every generated proof is
// re-verified against the root before the artifact is returned.
func assemble(identifiers []string, amounts []*big.Int, leaves [][32]byte) (*ProofBundle, error) {
	tree, err := merkle.BuildTree(leaves)
	if err != nil {
		return nil, err
	}

	total := new(big.Int)
	claims := make(map[string]*ClaimInfo, len(identifiers))

	for i, id := range identifiers {
		proof, err := tree.GenerateProof(uint64(i))
		if err != nil {
			return nil, err
		}
		if !proof.Verify(tree.LeafCount(), tree.Root) {
			return nil, errors.Errorf("generated proof for %q does not verify", id)
		}

		hashes := make([]common.Hash, len(proof.Siblings))
		for j, sib := range proof.Siblings {
			hashes[j] = common.Hash(sib)
		}
		claims[id] = &ClaimInfo{
			Index:  uint64(i),
			Amount: (*hexutil.Big)(new(big.Int).Set(amounts[i])),
			Proof:  hashes,
		}
		total.Add(total, amounts[i])
	}

	return &ProofBundle{
		MerkleRoot: common.Hash(tree.Root),
		TokenTotal: (*hexutil.Big)(total),
		Claims:     claims,
	}, nil
}

// NormalizeInput collapses the two accepted input shapes into one
// identifier→amount map at the boundary. The old format is a plain JSON
// object {identifier: amount}; the new format is a list of
// {address, earnings} records. Amounts may be hex or decimal strings, or
// bare JSON numbers in the old format.
func NormalizeInput(raw []byte) (map[string]string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, errors.New("empty input")
	}

	if trimmed[0] == '[' {
		var records []struct {
			Address  string `json:"address"`
			Earnings string `json:"earnings"`
		}
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, errors.Wrap(err, "decoding entitlement list")
		}
		out := make(map[string]string, len(records))
		for _, rec := range records {
			if _, ok := out[rec.Address]; ok {
				return nil, errors.Wrapf(ErrDuplicateIdentifier, "%q", rec.Address)
			}
			out[rec.Address] = rec.Earnings
		}
		return out, nil
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()
	var object map[string]json.Number
	if err := decoder.Decode(&object); err != nil {
		// Amounts may be quoted strings rather than numbers
		var asStrings map[string]string
		if err2 := json.Unmarshal(trimmed, &asStrings); err2 != nil {
			return nil, errors.Wrap(err, "decoding entitlement map")
		}
		return asStrings, nil
	}
	out := make(map[string]string, len(object))
	for id, amount := range object {
		out[id] = amount.String()
	}
	return out, nil
}

// parseAmount accepts 0x-prefixed hex or plain decimal and enforces
// positivity.
func parseAmount(raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)

	var amount *big.Int
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		decoded, err := hexutil.DecodeBig(strings.ToLower(raw))
		if err != nil {
			return nil, errors.Wrapf(err, "invalid hex amount %q", raw)
		}
		amount = decoded
	} else {
		parsed, ok := new(big.Int).SetString(raw, 10)
		if !ok {
			return nil, errors.Errorf("invalid decimal amount %q", raw)
		}
		amount = parsed
	}

	if amount.Sign() <= 0 {
		return nil, errors.Wrapf(ErrNonPositiveAmount, "got %s", amount)
	}
	return amount, nil
}
