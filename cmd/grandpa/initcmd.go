package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/grandpa-ai/grandpa/internal/config"
	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfgPath
			if path == "" {
				var err error
				path, err = config.DefaultPath()
				if err != nil {
					return err
				}
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
			}

			cfg := config.Default(filepath.Dir(path))
			if err := cfg.Write(path); err != nil {
				return err
			}

			fmt.Printf("Wrote default config to %s\n", path)
			fmt.Println("Set your API key via the OPENAI_API_KEY environment variable,")
			fmt.Println("or edit ai.api_key in the config file.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}
