package main

import (
	"fmt"
	"os"

	"warren/pkg/config"
	"warren/pkg/protocol"
	"warren/pkg/store"

	"github.com/spf13/cobra"
)

// newInitCmd creates the "warren init" subcommand.
func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the coordination directory",
		Long: `Creates the .warren coordination directory tree and writes the
default config.toml. Safe to re-run; existing records are never touched.

Use --force to overwrite an existing config.toml with the defaults.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := resolveWarrenDir()
			if err != nil {
				return err
			}
			dir, err := store.Init(root)
			if err != nil {
				return err
			}

			cfgPath := dir.Path(protocol.ConfigFile)
			if _, err := os.Stat(cfgPath); os.IsNotExist(err) || force {
				if err := config.Write(cfgPath, config.Default()); err != nil {
					return err
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "initialized %s\n", root)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config.toml with defaults")

	return cmd
}
