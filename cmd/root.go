package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jesspig/micro-agent/internal/config"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "micro-agent",
	Short: "Personal AI assistant runtime",
	Long: `micro-agent is a single-process personal AI assistant: a ReAct agent
loop over OpenAI-compatible providers, with complexity-based model routing,
long-term memory, skills, and MCP tool integration.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		})))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"config file (default ~/.micro-agent/config.json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("MICROAGENT_CONFIG")
	}
	if path == "" {
		path = config.ExpandHome("~/.micro-agent/config.json")
	}
	return config.Load(path)
}

// Execute runs the CLI. Errors are reported and mapped to exit code 1.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}
