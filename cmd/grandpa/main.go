// grandpa - local chat assistant: CLI front-end and HTTP server.
package main

import (
	"fmt"
	"os"

	"github.com/grandpa-ai/grandpa/internal/config"
	"github.com/spf13/cobra"
)

// version is injected via ldflags:
// go build -ldflags "-X main.version=0.2.0"
var version = "dev"

var cfgPath string

func main() {
	root := &cobra.Command{
		Use:           "grandpa",
		Short:         "Local chat assistant backed by a remote LLM",
		Long:          "grandpa runs a local HTTP server that proxies prompts to an LLM API,\nstreams responses back, and keeps per-day conversation history on disk.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file path (default ~/.grandpa/config.yaml)")

	root.AddCommand(
		newServeCmd(),
		newChatCmd(),
		newHistoryCmd(),
		newInitCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig resolves the --config flag (or the default location) into a
// validated configuration.
func loadConfig() (*config.Config, error) {
	path := cfgPath
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			return nil, err
		}
	}
	return config.Load(path)
}
