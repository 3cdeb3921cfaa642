// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the lesson-engine CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/lesson-engine/internal/secrets"
)

// version is set at build time via ldflags.
var version = "dev"

// loadedSecrets holds API keys loaded from .secrets/ at startup.
var loadedSecrets secrets.Secrets

// rootCmd is the base command for the lesson-engine CLI.
var rootCmd = &cobra.Command{
	Use:   "lesson-engine",
	Short: "Research-backed lesson generation with a shared content store",
	Long: `lesson-engine serves programming lessons from a fingerprint-keyed content
store. On a miss it researches the topic across documentation, Q&A, code
search, community blogs and video, then generates the lesson through an
ordered chain of rate-limited generation providers and persists it for every
later learner who asks for the same topic, sequence and style.

Subcommands: lesson, research, fingerprint, show, vote, verify, export.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("secrets-dir")
		s, skipped, err := secrets.Load(dir)
		if err != nil {
			return err
		}
		for _, msg := range skipped {
			fmt.Fprintf(os.Stderr, "Skipping unreadable secret %s\n", msg)
		}
		loadedSecrets = s
		if len(s) > 0 {
			fmt.Fprintf(os.Stderr, "Loaded secrets: %v\n", s.Names())
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "config file (default: ./lesson-engine.yaml or ~/.config/lesson-engine/lesson-engine.yaml)")
	pf.String("secrets-dir", ".secrets/", "directory of API key files")
	pf.String("log-mode", "", "logger mode: dev or prod (overrides log_mode)")
	pf.Bool("trace", false, "export OpenTelemetry spans (stderr, or trace_endpoint when set)")
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("lesson-engine")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "lesson-engine"))
		}
	}

	viper.SetEnvPrefix("LESSON_ENGINE")
	viper.SetEnvKeyReplacer(envKeyReplacer)
	viper.AutomaticEnv()
	setDefaults(viper.GetViper())

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
