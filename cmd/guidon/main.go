package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"guidon/internal/config"
	"guidon/internal/registry"
)

var rootCmd = &cobra.Command{
	Use:   "guidon",
	Short: "Command dispatch with asynchronous result delivery",
	Long: `guidon accepts chat and web interactions, answers fast commands inline
and runs slow ones on worker pools, delivering results by webhook,
chat follow-up or polling.`,
	SilenceUsage: true,
}

var envFile string

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	rootCmd.AddCommand(serveCmd, commandsCmd)
}

// loadConfig reads the dotenv file, when present, then the environment.
func loadConfig() (*config.Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	cfg, err := config.Parse()
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func loadRegistry(cfg *config.Config) (*registry.Registry, error) {
	if cfg.CommandsFile == "" {
		return registry.Default(), nil
	}
	return registry.Load(cfg.CommandsFile)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
