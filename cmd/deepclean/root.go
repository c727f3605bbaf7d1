package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jamesainslie/deepclean/pkg/deepclean/logging"
	"github.com/jamesainslie/deepclean/pkg/deepclean/output"
)

var (
	cfgFile    string
	policyFile string
	rootCmd    = &cobra.Command{
		Use:   "deepclean",
		Short: "Policy-driven file cleanup with verifiable proof bundles",
		Long: `Deepclean tidies directories according to a policy: it quarantines
suspicious files, moves duplicates aside, extracts archives and prefixes
file names with their modification date.

Every run produces a proof bundle: a zip archive holding the manifest,
file trees before and after, the action log and a diff, committed to by
its SHA-256.

Examples:
  deepclean plan ~/Downloads           # Show what would happen
  deepclean run --dry-run=false        # Clean every configured root
  deepclean status                     # List recent runs
  deepclean verify <run-id>            # Check a bundle against its hash
  deepclean restore --all --root .     # Put quarantined files back`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: initializeLogging,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: search for deepclean.config.json)")
	rootCmd.PersistentFlags().StringVar(&policyFile, "policy", "", "policy file (overrides the config)")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "minimal output")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug output")
	rootCmd.PersistentFlags().StringP("output", "o", "pretty", "output format: pretty, plain, json, yaml, paths")

	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))
}

// Execute runs the root command.
func Execute() error {
	defer func() { _ = logging.Close() }()

	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		return err
	}
	return nil
}

// getVerbose returns true if verbose mode is enabled.
func getVerbose() bool {
	return viper.GetBool("verbose")
}

// getQuiet returns true if quiet mode is enabled.
func getQuiet() bool {
	return viper.GetBool("quiet")
}

// outputFormat returns the selected formatter name.
func outputFormat() string {
	if f := viper.GetString("output"); f != "" {
		return f
	}
	return "pretty"
}

// formatter resolves the -o flag.
func formatter() (output.Formatter, error) {
	name := outputFormat()
	f, err := output.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unknown output format %q: available formats are %v", name, output.Available())
	}
	return f, nil
}

// printVerbose prints a message if verbose mode is enabled.
func printVerbose(format string, args ...interface{}) {
	if getVerbose() && !getQuiet() {
		fmt.Fprintf(os.Stderr, "[DEBUG] "+format+"\n", args...)
	}
}

// printInfo prints a message to stderr if quiet mode is not enabled.
// Stdout is reserved for formatted reports.
func printInfo(format string, args ...interface{}) {
	if !getQuiet() {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}

// printError prints an error message to stderr.
func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}
