// Command forge runs the Laravel project generator.
//
// Usage:
//
//	export GEMINI_API_KEY="your-api-key"
//	forge serve
//	forge chat
package main

import (
	"fmt"
	"os"

	"github.com/nstogner/forge/pkg/config"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "forge",
	Short: "Generate Laravel applications by chatting with an agent",
	Long: `forge pairs an LLM agent with a sandboxed Laravel container per project.

Run "forge serve" to start the API, then "forge chat" to talk to it.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: ~/.forge/config.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: TRACE, DEBUG, INFO, WARN or ERROR")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(modelsCmd)
}

// loadConfig reads the config file and applies command-line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
