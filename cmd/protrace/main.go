package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile      string
	serverURL    string
	registryPath string
	platformID   string
	outputFormat string
	verbose      bool

	logger = zap.NewNop()
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "protrace",
	Short: "Image provenance: fingerprints, duplicate detection and Merkle commitments",
	Long: `protrace fingerprints images with a 256-bit perceptual hash, detects
near-duplicates against a registry, and commits registrations into a Merkle
tree whose root can be anchored.

Local commands (dna, merkle, register, check, anchor) work offline against
a SQLite registry. submit talks to a protrace-server.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			viper.AddConfigPath(protraceDir())
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
		if registryPath == "" {
			registryPath = viper.GetString("registry_path")
		}
		if registryPath == "" {
			registryPath = filepath.Join(protraceDir(), "registry.db")
		}
		if platformID == "" {
			platformID = viper.GetString("platform")
		}

		if outputFormat != "text" && outputFormat != "json" {
			return fmt.Errorf("--format must be text or json, got %q", outputFormat)
		}
		if verbose {
			l, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			logger = l
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.protrace/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "protrace-server URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&registryPath, "registry", "", "local SQLite registry (default ~/.protrace/registry.db)")
	rootCmd.PersistentFlags().StringVar(&platformID, "platform", "", "platform identifier recorded with registrations")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "text", "Output format: text or json")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log to stderr")

	rootCmd.AddCommand(dnaCmd)
	rootCmd.AddCommand(merkleCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(anchorCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(versionCmd)
}

// protraceDir is ~/.protrace, or .protrace when the home directory is unknown.
func protraceDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".protrace"
	}
	return filepath.Join(home, ".protrace")
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the protrace version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "protrace %s\n", version)
	},
}
