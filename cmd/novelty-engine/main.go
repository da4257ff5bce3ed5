// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the novelty-engine CLI.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/novelty-engine/internal/secrets"
	"github.com/pdiddy/novelty-engine/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

// loadedSecrets holds API keys loaded from .secrets/ at startup.
var loadedSecrets secrets.Secrets

// rootCmd is the base command for the novelty-engine CLI.
var rootCmd = &cobra.Command{
	Use:   "novelty-engine",
	Short: "Manuscript novelty analysis with progressive prior-art search",
	Long: `novelty-engine classifies manuscripts, turns disclosed inventions into
structured prior-art queries, searches OpenAlex, Semantic Scholar, PatentsView
and arXiv, and writes a final novelty report.

Manuscripts move through classification, analysis and aggregation stages
recorded in a local SQLite ledger. Use ingest to add manuscripts and worker to
process them; search runs the progressive search on its own.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		slog.SetDefault(logger)

		dir, _ := cmd.Flags().GetString("secrets-dir")
		s, err := secrets.Load(dir, logger)
		if err != nil {
			return err
		}
		loadedSecrets = s
		if len(s) > 0 {
			logger.Debug("loaded secrets", "keys", s.Keys())
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./novelty-engine.yaml or ~/.config/novelty-engine/novelty-engine.yaml)")
	rootCmd.PersistentFlags().String("secrets-dir", secrets.DefaultDir, "directory of API key files")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn or error")
	rootCmd.PersistentFlags().Bool("log-json", false, "write logs as JSON")
	rootCmd.PersistentFlags().Bool("trace", false, "log a record for every finished trace span")

	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log.json", rootCmd.PersistentFlags().Lookup("log-json"))
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("novelty-engine")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "novelty-engine"))
		}
	}

	viper.SetEnvPrefix("NOVELTY_ENGINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := registerDefaults(viper.GetViper()); err != nil {
		fmt.Fprintln(os.Stderr, "warning: config defaults:", err)
	}

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// registerDefaults makes every field of the default configuration a known
// viper key, so environment variables such as NOVELTY_ENGINE_SEARCH_TARGET
// reach Unmarshal. Keys that are empty by default are bound explicitly.
func registerDefaults(v *viper.Viper) error {
	data, err := yaml.Marshal(types.DefaultPipelineConfig())
	if err != nil {
		return err
	}
	var defaults map[string]any
	if err := yaml.Unmarshal(data, &defaults); err != nil {
		return err
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	for _, key := range []string{
		"search.openalex_email",
		"search.semantic_scholar_api_key",
		"search.patentsview_api_key",
		"oracle.api_key",
	} {
		if err := v.BindEnv(key); err != nil {
			return err
		}
	}
	return nil
}

// loadConfig decodes the merged configuration and fills API keys that the
// config leaves empty from the secrets directory.
func loadConfig() (types.PipelineConfig, error) {
	cfg := types.DefaultPipelineConfig()
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decoding config: %w", err)
	}
	cfg.Search.OpenAlexEmail = loadedSecrets.Get(secrets.OpenAlexEmail, cfg.Search.OpenAlexEmail)
	cfg.Search.SemanticScholarAPIKey = loadedSecrets.Get(secrets.SemanticScholarAPIKey, cfg.Search.SemanticScholarAPIKey)
	cfg.Search.PatentsViewAPIKey = loadedSecrets.Get(secrets.PatentsViewAPIKey, cfg.Search.PatentsViewAPIKey)
	cfg.Oracle.APIKey = loadedSecrets.Get(secrets.AnthropicAPIKey, cfg.Oracle.APIKey)
	return cfg, nil
}

// newLogger builds the process logger from the log.level and log.json settings.
func newLogger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log.level"))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", viper.GetString("log.level"), err)
	}
	opts := &slog.HandlerOptions{Level: level}
	if viper.GetBool("log.json") {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
