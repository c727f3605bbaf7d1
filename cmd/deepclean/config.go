package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jamesainslie/deepclean/pkg/deepclean/config"
	"github.com/jamesainslie/deepclean/pkg/deepclean/policy"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `Manage deepclean configuration.

Configuration is read from deepclean.config.json in the working directory
or one of its parents, then from $XDG_CONFIG_HOME/deepclean/.

Environment variables override file settings using the DEEPCLEAN_ prefix:
  DEEPCLEAN_PROOFSDIR=/var/lib/deepclean/proofs
  DEEPCLEAN_DRYRUNBYDEFAULT=false`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the effective configuration after defaults, file and environment.`,
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Create default configuration file",
	Long: `Write a starter deepclean.config.json (default: ./deepclean.config.json).
With --with-policy a default policy file is written beside it.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file path",
	RunE:  runConfigPath,
}

var withPolicy bool

func init() {
	configInitCmd.Flags().BoolVar(&withPolicy, "with-policy", false, "also write deepclean.policy.json")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if cfg.File != "" {
		printInfo("Config file: %s", cfg.File)
	} else {
		printInfo("Config file: (using defaults, no file found)")
	}

	var data []byte
	if outputFormat() == "json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
		data = append(data, '\n')
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	_, err = stdout.Write(data)
	return err
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := config.FileName
	if len(args) == 1 {
		path = args[0]
	}

	if err := config.WriteDefault(path); err != nil {
		return err
	}
	printInfo("Created default config file: %s", path)

	if withPolicy {
		policyPath := filepath.Join(filepath.Dir(path), "deepclean.policy.json")
		if _, err := os.Stat(policyPath); err == nil {
			printInfo("Policy file already exists: %s", policyPath)
			return nil
		}
		if err := policy.Write(policyPath, policy.Default()); err != nil {
			return err
		}
		printInfo("Created default policy file: %s", policyPath)
	}
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.File == "" {
		printInfo("No config file found; searched:")
		for _, dir := range config.SearchPaths() {
			printInfo("  %s", dir)
		}
		return nil
	}
	_, err = fmt.Fprintln(stdout, cfg.File)
	return err
}
