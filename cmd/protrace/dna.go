package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/protrace/protrace/pkg/dna"
)

var (
	dnaWorkers   int
	dnaThreshold int
)

var dnaCmd = &cobra.Command{
	Use:   "dna",
	Short: "Compute and compare image fingerprints",
}

func init() {
	dnaCmd.PersistentFlags().IntVar(&dnaWorkers, "workers", 0, "parallel extraction workers (default GOMAXPROCS)")
	dnaBatchCmd.Flags().IntVar(&dnaThreshold, "threshold", dna.DefaultThresholdBits, "duplicate threshold in bits")

	dnaCmd.AddCommand(dnaHashCmd)
	dnaCmd.AddCommand(dnaCompareCmd)
	dnaCmd.AddCommand(dnaBatchCmd)
}

// ── dna hash ─────────────────────────────────────────────────────────────────

var dnaHashCmd = &cobra.Command{
	Use:   "hash <image> [image...]",
	Short: "Print the fingerprint of one or more images",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ext := dna.NewExtractor(dna.WithWorkers(dnaWorkers))
		results := ext.ExtractFiles(cmd.Context(), args)
		return printHashes(cmd.OutOrStdout(), outputFormat, args, results)
	},
}

type hashRow struct {
	Path  string   `json:"path"`
	DNA   *dna.DNA `json:"dna,omitempty"`
	Error string   `json:"error,omitempty"`
}

func printHashes(w io.Writer, format string, paths []string, results []dna.Result) error {
	rows := make([]hashRow, len(results))
	failed := 0
	for i, r := range results {
		rows[i].Path = paths[i]
		if r.Err != nil {
			rows[i].Error = r.Err.Error()
			failed++
			continue
		}
		d := r.DNA
		rows[i].DNA = &d
	}

	if format == "json" {
		var v any = rows
		if len(rows) == 1 {
			v = rows[0]
		}
		if err := printJSON(w, v); err != nil {
			return err
		}
	} else {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, r := range rows {
			if r.DNA == nil {
				fmt.Fprintf(tw, "%s\terror: %s\n", r.Path, r.Error)
				continue
			}
			fmt.Fprintf(tw, "%s\t%s\n", r.Path, r.DNA)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d images could not be fingerprinted", failed, len(results))
	}
	return nil
}

// ── dna compare ──────────────────────────────────────────────────────────────

var dnaCompareCmd = &cobra.Command{
	Use:   "compare <a> <b>",
	Short: "Compare two fingerprints or images",
	Long: `compare accepts either 64-character hex fingerprints or image paths
and reports the Hamming distance, similarity and verdict.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ext := dna.NewExtractor()
		a, err := fingerprintArg(ext, args[0])
		if err != nil {
			return err
		}
		b, err := fingerprintArg(ext, args[1])
		if err != nil {
			return err
		}
		return printComparison(cmd.OutOrStdout(), outputFormat, a, b)
	},
}

// fingerprintArg parses s as a hex fingerprint, or fingerprints the file at s.
func fingerprintArg(ext *dna.Extractor, s string) (dna.DNA, error) {
	if d, err := dna.Parse(s); err == nil {
		return d, nil
	}
	d, err := ext.ExtractFile(s)
	if err != nil {
		return dna.DNA{}, fmt.Errorf("fingerprint %s: %w", s, err)
	}
	return d, nil
}

type comparison struct {
	A          dna.DNA           `json:"a"`
	B          dna.DNA           `json:"b"`
	Distance   int               `json:"hamming_distance"`
	Similarity float64           `json:"similarity"`
	Verdict    dna.Verdict       `json:"verdict"`
	Components dna.ComponentDiff `json:"components"`
}

func printComparison(w io.Writer, format string, a, b dna.DNA) error {
	diff := dna.CompareComponents(a, b)
	c := comparison{
		A:          a,
		B:          b,
		Distance:   diff.Total,
		Similarity: diff.Similarity,
		Verdict:    dna.Classify(diff.Similarity),
		Components: diff,
	}
	if format == "json" {
		return printJSON(w, c)
	}
	fmt.Fprintf(w, "Distance:   %d / %d bits\n", c.Distance, dna.Bits)
	fmt.Fprintf(w, "Similarity: %.4f\n", c.Similarity)
	fmt.Fprintf(w, "Verdict:    %s\n", c.Verdict)
	fmt.Fprintf(w, "  dhash:    %d bits\n", diff.DHash)
	fmt.Fprintf(w, "  grid:     %d bits\n", diff.Grid)
	return nil
}

// ── dna batch ────────────────────────────────────────────────────────────────

var dnaBatchCmd = &cobra.Command{
	Use:   "batch <image> [image...]",
	Short: "Fingerprint images in parallel and list near-duplicate pairs",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if dnaThreshold < 0 || dnaThreshold > dna.Bits {
			return fmt.Errorf("--threshold must be between 0 and %d", dna.Bits)
		}
		ext := dna.NewExtractor(dna.WithWorkers(dnaWorkers))
		results := ext.ExtractFiles(cmd.Context(), args)
		return printDuplicatePairs(cmd.OutOrStdout(), outputFormat, args, results, dnaThreshold)
	},
}

type pairRow struct {
	A          string  `json:"a"`
	B          string  `json:"b"`
	Distance   int     `json:"hamming_distance"`
	Similarity float64 `json:"similarity"`
}

type batchReport struct {
	Fingerprinted int       `json:"fingerprinted"`
	Failed        []hashRow `json:"failed,omitempty"`
	Pairs         []pairRow `json:"pairs"`
	ThresholdBits int       `json:"threshold_bits"`
}

func printDuplicatePairs(w io.Writer, format string, paths []string, results []dna.Result, threshold int) error {
	var (
		fps    []dna.DNA
		names  []string
		report = batchReport{Pairs: []pairRow{}, ThresholdBits: threshold}
	)
	for i, r := range results {
		if r.Err != nil {
			if errors.Is(r.Err, context.Canceled) {
				return r.Err
			}
			report.Failed = append(report.Failed, hashRow{Path: paths[i], Error: r.Err.Error()})
			continue
		}
		fps = append(fps, r.DNA)
		names = append(names, paths[i])
	}
	report.Fingerprinted = len(fps)
	for _, p := range dna.FindDuplicatePairs(fps, threshold) {
		report.Pairs = append(report.Pairs, pairRow{
			A:          names[p.I],
			B:          names[p.J],
			Distance:   p.Distance,
			Similarity: dna.SimilarityFromDistance(p.Distance),
		})
	}

	if format == "json" {
		return printJSON(w, report)
	}
	fmt.Fprintf(w, "Fingerprinted %d image(s), threshold %d bits\n", report.Fingerprinted, threshold)
	for _, f := range report.Failed {
		fmt.Fprintf(w, "  skipped %s: %s\n", f.Path, f.Error)
	}
	if len(report.Pairs) == 0 {
		fmt.Fprintln(w, "No near-duplicate pairs.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "A\tB\tDISTANCE\tSIMILARITY")
	for _, p := range report.Pairs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%.4f\n", p.A, p.B, p.Distance, p.Similarity)
	}
	return tw.Flush()
}
