package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/protrace/protrace/pkg/client"
)

var (
	submitIdentifier string
	submitThreshold  int
	submitToken      string
	submitCheckOnly  bool
)

var submitCmd = &cobra.Command{
	Use:   "submit <image>",
	Short: "Register an image with a protrace-server",
	Long: `submit uploads an image to the server at --server. The bearer token is
read from --token, then the token config key, then ~/.protrace/token.
With --check the server only reports the closest match.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		image, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read %s: %w", args[0], err)
		}

		opts := []client.Option{}
		if tok := resolveToken(); tok != "" {
			opts = append(opts, client.WithBearerToken(tok))
		}
		c, err := client.New(serverURL, opts...)
		if err != nil {
			return err
		}

		if submitCheckOnly {
			res, err := c.Check(cmd.Context(), image, submitThreshold)
			if err != nil {
				return fmt.Errorf("check: %w", err)
			}
			return printRemoteCheck(cmd.OutOrStdout(), outputFormat, res)
		}

		res, err := c.Register(cmd.Context(), image, client.RegisterOptions{
			Identifier:    submitIdentifier,
			PlatformID:    platformID,
			ThresholdBits: thresholdOverride(submitThreshold),
		})
		if err != nil {
			return fmt.Errorf("register: %w", err)
		}
		return printRemoteRegistration(cmd.OutOrStdout(), outputFormat, res)
	},
}

func init() {
	submitCmd.Flags().StringVar(&submitIdentifier, "identifier", "", "identifier for the image (default uuid:<random>)")
	submitCmd.Flags().IntVar(&submitThreshold, "threshold", -1, "duplicate threshold in bits (default: server setting)")
	submitCmd.Flags().StringVar(&submitToken, "token", "", "platform bearer token")
	submitCmd.Flags().BoolVar(&submitCheckOnly, "check", false, "only check for duplicates, do not register")
}

func resolveToken() string {
	if submitToken != "" {
		return submitToken
	}
	if tok := viper.GetString("token"); tok != "" {
		return tok
	}
	tok, err := client.LoadToken(filepath.Join(protraceDir(), "token"))
	if err != nil {
		return ""
	}
	return tok
}

func printRemoteRegistration(w io.Writer, format string, res *client.RegisterResult) error {
	if format == "json" {
		return printJSON(w, res)
	}
	if res.Status == client.StatusAccepted {
		fmt.Fprintf(w, "✓ Image registered\n\n")
		fmt.Fprintf(w, "  Identifier: %s\n", res.Identifier)
		fmt.Fprintf(w, "  DNA:        %s\n", res.Fingerprint)
		if res.LeafIndex != nil {
			fmt.Fprintf(w, "  Leaf:       %d\n", *res.LeafIndex)
		}
		return nil
	}
	fmt.Fprintf(w, "✗ Rejected as a duplicate\n\n")
	fmt.Fprintf(w, "  DNA:        %s\n", res.Fingerprint)
	if m := res.BestMatch; m != nil {
		fmt.Fprintf(w, "  Matches:    %s (%s), %d bits, similarity %.4f\n", m.Identifier, m.PlatformID, m.Distance, m.Similarity)
	}
	return nil
}

func printRemoteCheck(w io.Writer, format string, res *client.CheckResult) error {
	if format == "json" {
		return printJSON(w, res)
	}
	fmt.Fprintf(w, "Fingerprint: %s\n", res.Fingerprint)
	fmt.Fprintf(w, "Scanned:     %d entries (threshold %d bits)\n", res.Scanned, res.ThresholdBits)
	if m := res.BestMatch; m != nil {
		fmt.Fprintf(w, "Closest:     %s (%d bits, %.4f)\n", m.Identifier, m.Distance, m.Similarity)
	}
	fmt.Fprintf(w, "Duplicate:   %v\n", res.Duplicate)
	return nil
}
