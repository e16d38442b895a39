package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/dropforge/merkledrop-go/pkg/balancemap"
	"github.com/dropforge/merkledrop-go/pkg/logger"
	"github.com/dropforge/merkledrop-go/pkg/merkle"
)

// Environment variable fallbacks for the CLI flags.
const (
	EnvInput             = "MERKLEDROP_INPUT"
	EnvOutput            = "MERKLEDROP_OUTPUT"
	EnvBundle            = "MERKLEDROP_BUNDLE"
	EnvStringIdentifiers = "MERKLEDROP_STRING_IDENTIFIERS"
	EnvVerbose           = "MERKLEDROP_VERBOSE"
)

func main() {
	app := &cli.App{
		Name:  "merkledrop",
		Usage: "Generate and verify merkle distribution proof bundles",
		Description: `Turns an identifier→amount entitlement map into a publishable proof
bundle (merkle root, token total, per-identifier claims), and re-verifies
existing bundles claim by claim.`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Usage:   "Enable verbose logging",
				EnvVars: []string{EnvVerbose},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "generate",
				Usage: "Build a proof bundle from a balances JSON file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "input",
						Aliases:  []string{"i"},
						Usage:    "Balances JSON file (list or object format)",
						EnvVars:  []string{EnvInput},
						Required: true,
					},
					&cli.StringFlag{
						Name:     "output",
						Aliases:  []string{"o"},
						Usage:    "Proof bundle output file (stdout if omitted)",
						EnvVars:  []string{EnvOutput},
					},
					&cli.BoolFlag{
						Name:    "string-identifiers",
						Usage:   "Treat identifiers as opaque strings instead of hex addresses",
						EnvVars: []string{EnvStringIdentifiers},
					},
				},
				Action: runGenerate,
			},
			{
				Name:  "verify",
				Usage: "Re-verify every claim in an existing proof bundle",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "bundle",
						Aliases:  []string{"b"},
						Usage:    "Proof bundle JSON file",
						EnvVars:  []string{EnvBundle},
						Required: true,
					},
					&cli.BoolFlag{
						Name:    "string-identifiers",
						Usage:   "Treat identifiers as opaque strings instead of hex addresses",
						EnvVars: []string{EnvStringIdentifiers},
					},
				},
				Action: runVerify,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func runGenerate(c *cli.Context) error {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: c.Bool("verbose")})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = l.Sync() }()

	raw, err := os.ReadFile(c.String("input"))
	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	balances, err := balancemap.NormalizeInput(raw)
	if err != nil {
		return fmt.Errorf("parsing input: %w", err)
	}
	l.Debug("parsed balances", zap.Int("entries", len(balances)))

	var bundle *balancemap.ProofBundle
	if c.Bool("string-identifiers") {
		bundle, err = balancemap.ParseIdentifierMap(balances)
	} else {
		bundle, err = balancemap.ParseAddressMap(balances)
	}
	if err != nil {
		return fmt.Errorf("building proof bundle: %w", err)
	}

	encoded, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding bundle: %w", err)
	}

	if out := c.String("output"); out != "" {
		if err := os.WriteFile(out, encoded, 0o644); err != nil {
			return fmt.Errorf("writing bundle: %w", err)
		}
	} else {
		fmt.Println(string(encoded))
	}

	l.Info("proof bundle generated",
		zap.String("merkleRoot", bundle.MerkleRoot.Hex()),
		zap.Uint64("leafCount", bundle.LeafCount()),
		zap.String("tokenTotal", bundle.TokenTotal.ToInt().String()),
	)
	return nil
}

func runVerify(c *cli.Context) error {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: c.Bool("verbose")})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = l.Sync() }()

	raw, err := os.ReadFile(c.String("bundle"))
	if err != nil {
		return fmt.Errorf("reading bundle: %w", err)
	}

	var bundle balancemap.ProofBundle
	if err := json.Unmarshal(raw, &bundle); err != nil {
		return fmt.Errorf("decoding bundle: %w", err)
	}

	leafCount := bundle.LeafCount()
	stringIdentifiers := c.Bool("string-identifiers")

	seen := make(map[uint64]bool, leafCount)
	for identifier, claim := range bundle.Claims {
		if claim.Index >= leafCount {
			return fmt.Errorf("claim %q: index %d out of range for %d leaves", identifier, claim.Index, leafCount)
		}
		if seen[claim.Index] {
			return fmt.Errorf("claim %q: duplicate index %d", identifier, claim.Index)
		}
		seen[claim.Index] = true

		var leaf [32]byte
		if stringIdentifiers {
			leaf = merkle.IdentifierLeaf(claim.Index, merkle.HashIdentifier(identifier), claim.Amount.ToInt())
		} else {
			if !common.IsHexAddress(identifier) {
				return fmt.Errorf("claim %q: not a hex address (use --string-identifiers?)", identifier)
			}
			leaf = merkle.AddressLeaf(claim.Index, common.HexToAddress(identifier), claim.Amount.ToInt())
		}

		siblings := make([][32]byte, len(claim.Proof))
		for i, h := range claim.Proof {
			siblings[i] = h
		}
		if !merkle.VerifyProof(claim.Index, leafCount, leaf, siblings, [32]byte(bundle.MerkleRoot)) {
			return fmt.Errorf("claim %q: proof does not verify against root %s", identifier, bundle.MerkleRoot.Hex())
		}
		l.Debug("claim verified", zap.String("identifier", identifier), zap.Uint64("index", claim.Index))
	}

	l.Info("bundle verified",
		zap.String("merkleRoot", bundle.MerkleRoot.Hex()),
		zap.Uint64("claims", leafCount),
	)
	return nil
}
