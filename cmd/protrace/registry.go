package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/protrace/protrace/internal/anchor"
	"github.com/protrace/protrace/internal/blobstore"
	"github.com/protrace/protrace/internal/registry/model"
	"github.com/protrace/protrace/internal/registry/repository"
	"github.com/protrace/protrace/internal/registry/service"
	"github.com/protrace/protrace/pkg/merkle"
)

// localRegistry is the offline registry under --registry: a SQLite database
// holding fingerprints and the anchor ledger, with manifests stored next to it.
type localRegistry struct {
	db     *sql.DB
	svc    *service.RegistrationService
	ledger *anchor.SQLiteLedger
	blobs  *blobstore.FileStore
}

func openLocalRegistry(ctx context.Context, path string, logger *zap.Logger) (*localRegistry, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create registry dir: %w", err)
	}
	db, err := repository.OpenSQLite(path, logger)
	if err != nil {
		return nil, err
	}
	svc := service.NewRegistrationService(repository.NewSQLiteStore(db), logger)
	if err := svc.Restore(ctx); err != nil {
		db.Close()
		return nil, err
	}
	ledger, err := anchor.NewSQLiteLedger(ctx, db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	blobs, err := blobstore.NewFileStore(filepath.Join(dir, "manifests"))
	if err != nil {
		db.Close()
		return nil, err
	}
	return &localRegistry{db: db, svc: svc, ledger: ledger, blobs: blobs}, nil
}

func (r *localRegistry) Close() error { return r.db.Close() }

func (r *localRegistry) anchorer() *anchor.Anchorer {
	return anchor.NewAnchorer(r.svc, r.blobs, anchor.LedgerSink{Ledger: r.ledger}, logger)
}

func thresholdOverride(bits int) *int {
	if bits < 0 {
		return nil
	}
	return &bits
}

// ── register ─────────────────────────────────────────────────────────────────

var (
	regIdentifier string
	regThreshold  int
)

var registerCmd = &cobra.Command{
	Use:   "register <image> [image...]",
	Short: "Register images in the local registry",
	Long: `register fingerprints each image and adds it to the local registry
unless it is within the duplicate threshold of an existing entry. Accepted
images are committed as Merkle leaves in argument order.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if regIdentifier != "" && len(args) > 1 {
			return errors.New("--identifier can only be used with a single image")
		}
		reg, err := openLocalRegistry(cmd.Context(), registryPath, logger)
		if err != nil {
			return err
		}
		defer reg.Close()

		items, err := registerFiles(cmd.Context(), reg.svc, args, regIdentifier, platformID, thresholdOverride(regThreshold))
		if err != nil {
			return err
		}
		return printRegistrations(cmd.OutOrStdout(), outputFormat, args, items)
	},
}

func init() {
	registerCmd.Flags().StringVar(&regIdentifier, "identifier", "", "identifier for the image (default uuid:<random>)")
	registerCmd.Flags().IntVar(&regThreshold, "threshold", -1, "duplicate threshold in bits (default 26)")
}

func registerFiles(ctx context.Context, svc *service.RegistrationService, paths []string, identifier, platform string, threshold *int) ([]model.BatchItem, error) {
	reqs := make([]model.RegisterRequest, len(paths))
	for i, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		reqs[i] = model.RegisterRequest{
			Image:         data,
			Identifier:    identifier,
			PlatformID:    platform,
			ThresholdBits: threshold,
		}
	}
	return svc.RegisterBatch(ctx, reqs), nil
}

type registrationRow struct {
	Path string `json:"path"`
	model.BatchItem
}

func printRegistrations(w io.Writer, format string, paths []string, items []model.BatchItem) error {
	if format == "json" {
		rows := make([]registrationRow, len(items))
		for i, it := range items {
			rows[i] = registrationRow{Path: paths[i], BatchItem: it}
		}
		return printJSON(w, rows)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "IMAGE\tSTATUS\tIDENTIFIER\tLEAF\tCLOSEST")
	for i, it := range items {
		if it.Err != nil {
			fmt.Fprintf(tw, "%s\terror\t\t\t%s\n", paths[i], it.Error)
			continue
		}
		res := it.Result
		leaf := "-"
		if res.LeafIndex != nil {
			leaf = fmt.Sprint(*res.LeafIndex)
		}
		closest := "-"
		if res.BestMatch != nil {
			closest = fmt.Sprintf("%s (%d bits, %.4f)", res.BestMatch.Identifier, res.BestMatch.Distance, res.BestMatch.Similarity)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", paths[i], res.Status, res.Identifier, leaf, closest)
	}
	return tw.Flush()
}

// ── check ────────────────────────────────────────────────────────────────────

var checkThreshold int

var checkCmd = &cobra.Command{
	Use:   "check <image>",
	Short: "Check an image against the local registry without registering it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read %s: %w", args[0], err)
		}
		reg, err := openLocalRegistry(cmd.Context(), registryPath, logger)
		if err != nil {
			return err
		}
		defer reg.Close()

		res, err := reg.svc.Check(cmd.Context(), data, checkThreshold)
		if err != nil {
			return err
		}
		return printCheck(cmd.OutOrStdout(), outputFormat, res)
	},
}

func init() {
	checkCmd.Flags().IntVar(&checkThreshold, "threshold", -1, "duplicate threshold in bits (default 26)")
}

func printCheck(w io.Writer, format string, res *model.CheckResult) error {
	if format == "json" {
		return printJSON(w, res)
	}
	fmt.Fprintf(w, "Fingerprint: %s\n", res.Fingerprint)
	fmt.Fprintf(w, "Scanned:     %d entries (threshold %d bits)\n", res.Scanned, res.ThresholdBits)
	if res.BestMatch != nil {
		fmt.Fprintf(w, "Closest:     %s (%d bits, %.4f)\n", res.BestMatch.Identifier, res.BestMatch.Distance, res.BestMatch.Similarity)
	}
	if res.Duplicate {
		fmt.Fprintln(w, "Result:      duplicate")
	} else {
		fmt.Fprintln(w, "Result:      unique")
	}
	return nil
}

// ── anchor ───────────────────────────────────────────────────────────────────

var anchorCmd = &cobra.Command{
	Use:   "anchor",
	Short: "Anchor the local registry's current Merkle root",
	Long: `anchor stores the current manifest next to the registry and appends
the root to the local hash-chained anchor ledger. An unchanged root is not
anchored twice.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := openLocalRegistry(cmd.Context(), registryPath, logger)
		if err != nil {
			return err
		}
		defer reg.Close()
		return anchorLocal(cmd.Context(), cmd.OutOrStdout(), outputFormat, reg)
	},
}

func init() {
	anchorCmd.AddCommand(anchorLogCmd)
}

func anchorLocal(ctx context.Context, w io.Writer, format string, reg *localRegistry) error {
	a := reg.anchorer()
	if err := a.ResumeFrom(ctx, reg.ledger); err != nil {
		return err
	}
	res, err := a.Anchor(ctx)
	switch {
	case errors.Is(err, anchor.ErrNothingToAnchor):
		fmt.Fprintln(w, "Root unchanged since the last anchor; nothing to do.")
		return nil
	case errors.Is(err, merkle.ErrEmptyTree):
		return errors.New("registry is empty; register images first")
	case err != nil:
		return err
	}

	if format == "json" {
		return printJSON(w, res)
	}
	fmt.Fprintf(w, "✓ Root anchored\n\n")
	fmt.Fprintf(w, "  Root:         %s\n", res.Payload.Root)
	fmt.Fprintf(w, "  Leaves:       %d\n", res.Payload.LeafCount)
	fmt.Fprintf(w, "  Manifest:     %s\n", res.Payload.ManifestRef)
	fmt.Fprintf(w, "  Confirmation: %s (%s)\n", res.Confirmation.ID, res.Confirmation.Sink)
	return nil
}

var anchorLogCmd = &cobra.Command{
	Use:   "log",
	Short: "List and verify the local anchor ledger",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := openLocalRegistry(cmd.Context(), registryPath, logger)
		if err != nil {
			return err
		}
		defer reg.Close()
		return printAnchorLog(cmd.Context(), cmd.OutOrStdout(), outputFormat, reg.ledger)
	},
}

func printAnchorLog(ctx context.Context, w io.Writer, format string, l anchor.Ledger) error {
	n, err := l.Len(ctx)
	if err != nil {
		return err
	}
	entries := make([]*anchor.Entry, 0, n)
	for i := 0; i < n; i++ {
		e, err := l.Get(ctx, i)
		if err != nil {
			return err
		}
		entries = append(entries, e)
	}
	verr := l.Verify(ctx)

	if format == "json" {
		out := struct {
			Entries []*anchor.Entry `json:"entries"`
			Valid   bool            `json:"valid"`
			Reason  string          `json:"reason,omitempty"`
		}{Entries: entries, Valid: verr == nil}
		if verr != nil {
			out.Reason = verr.Error()
		}
		return printJSON(w, out)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "IDX\tANCHORED\tLEAVES\tROOT")
	for _, e := range entries {
		if e.Index == 0 {
			continue
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", e.Index, e.AnchoredAt.Format("2006-01-02 15:04:05"), e.LeafCount, e.Root)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if verr != nil {
		return fmt.Errorf("anchor ledger integrity check failed: %w", verr)
	}
	fmt.Fprintf(w, "✓ ledger verified (%d anchors)\n", n-1)
	return nil
}
