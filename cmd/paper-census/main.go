// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the paper-census CLI.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pdiddy/paper-census/internal/checkpoint"
	"github.com/pdiddy/paper-census/internal/logging"
	"github.com/pdiddy/paper-census/internal/state"
	"github.com/pdiddy/paper-census/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

// logger is built by the root PersistentPreRunE and shared by every
// subcommand.
var logger = zap.NewNop()

// defaultBaseDir holds the sessions tree and the paper catalog unless
// --base-dir or the config file says otherwise.
const defaultBaseDir = "census"

// rootCmd is the base command for the paper-census CLI.
var rootCmd = &cobra.Command{
	Use:   "paper-census",
	Short: "Durable, resumable collection of academic paper metadata",
	Long: `paper-census runs long collection sessions against bibliographic APIs
(OpenAlex, Semantic Scholar) and keeps their progress durable: every state
transition is checkpointed, an interrupted session can be analyzed to
reconstruct what happened, and a recovery plan restores it to a safe point
before collection continues.

Collection targets are venue/year pairs read from a YAML plan. Collected
papers land in a local SQLite catalog; session state and checkpoints live
on disk under the base directory.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbose, _ := cmd.Flags().GetBool("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		level := "warn"
		if verbose {
			level = "debug"
		}
		l, err := logging.New(level, jsonLogs)
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./paper-census.yaml or ~/.config/paper-census/config.yaml)")
	rootCmd.PersistentFlags().String("base-dir", "", "base directory for session state and the paper catalog (default \"census\")")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable debug logging")
	rootCmd.PersistentFlags().Bool("json-logs", false, "emit logs as JSON instead of console lines")
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("paper-census")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "paper-census"))
		}
	}

	viper.SetEnvPrefix("PAPER_CENSUS")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// engineConfig resolves the effective configuration: library defaults,
// then the keys operators actually tune via config file or environment,
// then --base-dir.
func engineConfig(cmd *cobra.Command) types.EngineConfig {
	baseDir, _ := cmd.Flags().GetString("base-dir")
	if baseDir == "" {
		baseDir = viper.GetString("base_dir")
	}
	if baseDir == "" {
		baseDir = defaultBaseDir
	}

	cfg := types.DefaultEngineConfig(baseDir)

	if v := viper.GetInt("orchestrator.max_concurrent_venues"); v > 0 {
		cfg.Orchestrator.MaxConcurrentVenues = v
	}
	if v := viper.GetInt("orchestrator.max_retry_attempts"); v > 0 {
		cfg.Orchestrator.MaxRetryAttempts = v
	}
	if v := viper.GetDuration("orchestrator.checkpoint_interval"); v > 0 {
		cfg.Orchestrator.CheckpointInterval = v
	}
	if v := viper.GetFloat64("collection.rate_per_second"); v > 0 {
		cfg.Collection.RatePerSecond = v
	}
	if v := viper.GetInt("collection.burst"); v > 0 {
		cfg.Collection.Burst = v
	}
	if v := viper.GetDuration("collection.timeout"); v > 0 {
		cfg.Collection.Timeout = v
	}
	if viper.IsSet("collection.enable_openalex") {
		cfg.Collection.EnableOpenAlex = viper.GetBool("collection.enable_openalex")
	}
	if viper.IsSet("collection.enable_semantic_scholar") {
		cfg.Collection.EnableSemanticScholar = viper.GetBool("collection.enable_semantic_scholar")
	}
	return cfg
}

// newStore opens the session state store rooted at the configured base
// directory.
func newStore(cfg types.EngineConfig) (*state.Store, error) {
	return state.NewStore(cfg.Storage, nil, logger)
}

func newManager(store *state.Store, cfg types.EngineConfig) *checkpoint.Manager {
	return checkpoint.NewManager(store, cfg.Storage, logger)
}

// catalogPath is the SQLite paper catalog location under the base directory.
func catalogPath(cfg types.EngineConfig) string {
	return filepath.Join(cfg.Storage.BaseDir, "papers.db")
}

func main() {
	err := rootCmd.Execute()
	_ = logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}
