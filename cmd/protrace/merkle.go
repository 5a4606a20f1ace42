package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/protrace/protrace/internal/registry/model"
	"github.com/protrace/protrace/pkg/dna"
	"github.com/protrace/protrace/pkg/merkle"
)

var (
	merkleOut     string
	merkleNoProof bool
	expectRoot    string
)

var merkleCmd = &cobra.Command{
	Use:   "merkle",
	Short: "Build, inspect and verify Merkle manifests",
}

func init() {
	merkleBuildCmd.Flags().StringVarP(&merkleOut, "out", "o", "", "write the manifest to this file instead of stdout")
	merkleBuildCmd.Flags().BoolVar(&merkleNoProof, "no-proofs", false, "omit per-leaf proofs from the manifest")
	merkleVerifyProofCmd.Flags().StringVar(&expectRoot, "root", "", "expected root hash (hex)")

	merkleCmd.AddCommand(merkleBuildCmd)
	merkleCmd.AddCommand(merkleProofCmd)
	merkleCmd.AddCommand(merkleVerifyCmd)
	merkleCmd.AddCommand(merkleVerifyProofCmd)
}

// ── merkle build ─────────────────────────────────────────────────────────────

var merkleBuildCmd = &cobra.Command{
	Use:   "build <image> [image...]",
	Short: "Fingerprint images and commit them into a Merkle manifest",
	Long: `build fingerprints every image, assigns each a uuid: pointer and
commits the leaves in argument order. The manifest carries the root and,
unless --no-proofs is set, one inclusion proof per leaf.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ext := dna.NewExtractor(dna.WithWorkers(dnaWorkers))
		platform := platformID
		if platform == "" {
			platform = model.DefaultPlatformID
		}
		m, err := buildManifest(cmd.Context(), ext, args, platform, !merkleNoProof, time.Now())
		if err != nil {
			return err
		}
		data, err := m.Marshal()
		if err != nil {
			return err
		}
		if merkleOut == "" {
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		}
		if err := os.WriteFile(merkleOut, data, 0o644); err != nil {
			return fmt.Errorf("write manifest: %w", err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Root:     %s\n", m.Root)
		fmt.Fprintf(out, "Leaves:   %d\n", m.TotalLeaves)
		fmt.Fprintf(out, "Manifest: %s\n", merkleOut)
		return nil
	},
}

func buildManifest(ctx context.Context, ext *dna.Extractor, paths []string, platform string, withProofs bool, now time.Time) (*merkle.Manifest, error) {
	results := ext.ExtractFiles(ctx, paths)
	tree := merkle.New()
	for i, r := range results {
		if r.Err != nil {
			return nil, fmt.Errorf("fingerprint %s: %w", paths[i], r.Err)
		}
		if _, err := tree.Add(merkle.Leaf{
			DNAHex:     r.DNA.Hex(),
			Pointer:    "uuid:" + uuid.NewString(),
			PlatformID: platform,
			Timestamp:  uint64(now.Unix()),
		}); err != nil {
			return nil, err
		}
	}
	snap, err := tree.Build()
	if err != nil {
		return nil, err
	}
	return snap.Manifest(withProofs)
}

func readManifest(path string) (*merkle.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return merkle.ParseManifest(data)
}

// ── merkle proof ─────────────────────────────────────────────────────────────

var merkleProofCmd = &cobra.Command{
	Use:   "proof <manifest.json> <index>",
	Short: "Print the inclusion proof bundle for one leaf",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("index must be an integer: %w", err)
		}
		m, err := readManifest(args[0])
		if err != nil {
			return err
		}
		b, err := proofBundle(m, idx)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), b)
	},
}

func proofBundle(m *merkle.Manifest, idx int) (*model.ProofBundle, error) {
	_, snap, err := merkle.ImportManifest(m)
	if err != nil {
		return nil, err
	}
	proof, err := snap.Proof(idx)
	if err != nil {
		return nil, err
	}
	leaf, err := snap.Leaf(idx)
	if err != nil {
		return nil, err
	}
	lh, err := snap.LeafHash(idx)
	if err != nil {
		return nil, err
	}
	return &model.ProofBundle{
		LeafIndex: idx,
		Leaf:      leaf,
		LeafHash:  lh,
		Proof:     proof,
		Root:      snap.Root(),
		LeafCount: snap.Len(),
	}, nil
}

// ── merkle verify ────────────────────────────────────────────────────────────

var merkleVerifyCmd = &cobra.Command{
	Use:   "verify <manifest.json>",
	Short: "Recompute a manifest's root and check every included proof",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := readManifest(args[0])
		if err != nil {
			return err
		}
		return verifyManifest(cmd.OutOrStdout(), m)
	},
}

func verifyManifest(w io.Writer, m *merkle.Manifest) error {
	if _, _, err := merkle.ImportManifest(m); err != nil {
		return err
	}
	checked := 0
	for i := range m.Leaves {
		if _, ok := m.Proofs[strconv.Itoa(i)]; !ok {
			continue
		}
		ok, err := m.VerifyLeaf(i)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("proof for leaf %d does not match root %s", i, m.Root)
		}
		checked++
	}
	fmt.Fprintf(w, "✓ root %s matches %d leaves (%d proofs checked)\n", m.Root, m.TotalLeaves, checked)
	return nil
}

// ── merkle verify-proof ──────────────────────────────────────────────────────

var merkleVerifyProofCmd = &cobra.Command{
	Use:   "verify-proof <bundle.json>",
	Short: "Check a single proof bundle without the tree",
	Long: `verify-proof reads a bundle as printed by "protrace merkle proof" or
returned by GET /api/v1/registrations/:id/proof and checks it against the
root it carries. Use --root to require a specific root.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read bundle: %w", err)
		}
		var b model.ProofBundle
		if err := json.Unmarshal(data, &b); err != nil {
			return fmt.Errorf("decode bundle: %w", err)
		}
		root := b.Root
		if expectRoot != "" {
			if root, err = merkle.ParseHash(expectRoot); err != nil {
				return err
			}
		}
		ok, err := merkle.VerifyProofStandalone(b.Leaf, b.Proof, root)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("proof for %s does not match root %s", b.Leaf.Pointer, root)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ %s is included under root %s\n", b.Leaf.Pointer, root)
		return nil
	},
}
