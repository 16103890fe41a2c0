package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"followcast/internal/config"
	"followcast/internal/logging"
	"followcast/internal/theme"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	configPath string
	accountArg string
)

var rootCmd = &cobra.Command{
	Use:   "followcast",
	Short: "Follower cache and paced direct-message campaigns for X",
	Long: theme.Banner() + `
followcast mirrors an account's followers into a local cache, answers
tag and ordering queries over it, and sends rate-limited direct-message
campaigns to the matching followers.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "./followcast.yaml", "path to the config file")
	rootCmd.PersistentFlags().StringVar(&accountArg, "account", "", "followee user id (overrides account.id)")

	rootCmd.AddCommand(initCmd, serveCmd, buildCmd, statusCmd, queryCmd, sendCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig reads .env and the config file, then sets up logging.
func loadConfig() (config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return config.Config{}, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load(configPath)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = config.Default()
		cfg.ResolveEnv()
		err = cfg.Validate()
	}
	if err != nil {
		return cfg, fmt.Errorf("config %s: %w", configPath, err)
	}
	if err := logging.Setup(logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	}); err != nil {
		return cfg, fmt.Errorf("logging: %w", err)
	}
	return cfg, nil
}
