package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vango-dev/localstore/internal/config"
	"github.com/vango-dev/localstore/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// globalFlags are shared by every command.
type globalFlags struct {
	configPath string
	verbose    bool
	noColor    bool
}

func main() {
	var flags globalFlags

	rootCmd := &cobra.Command{
		Use:   "localstore",
		Short: "Typed, cached key-value store with cross-context change propagation",
		Long: `localstore reads, writes and watches JSON values in a shared store.

Supported backends:

  • memory  process-local (useful with serve)
  • sql     SQLite via database/sql
  • redis   Redis with pub/sub change messages
  • nats    NATS JetStream key-value bucket
  • s3      one S3 object per key

Backends without a change feed (sql, s3) can announce writes through
a relay started with 'localstore serve'.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flags.noColor {
				color.NoColor = true
				errors.DisableColors()
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to localstore.json (default: ./localstore.json if present)")
	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&flags.noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(
		getCmd(&flags),
		setCmd(&flags),
		removeCmd(&flags),
		watchCmd(&flags),
		serveCmd(&flags),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		errors.PrintError(err)
		os.Exit(1)
	}
}

// loadConfig resolves the configuration: an explicit --config file, else
// ./localstore.json when present, else defaults. LOCALSTORE_* variables
// apply in every case.
func loadConfig(flags *globalFlags) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	switch {
	case flags.configPath != "":
		cfg, err = config.LoadFile(flags.configPath)
	case config.Exists("."):
		cfg, err = config.Load(".")
	default:
		cfg, err = config.FromEnv()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// success prints a success message.
func success(format string, args ...any) {
	fmt.Printf("%s %s\n", color.GreenString("✓"), fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}

// warn prints a warning message.
func warn(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s %s\n", color.YellowString("⚠"), fmt.Sprintf(format, args...))
}
