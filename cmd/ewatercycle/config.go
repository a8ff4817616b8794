package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ewatercycle/ewatercycle-go/internal/config"
)

func (a *app) configCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Show or write the eWaterCycle configuration."}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the active configuration as YAML.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.store.Get()
			text, err := cfg.Dump()
			if err != nil {
				return err
			}
			if cfg.Source != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "# loaded from %s\n", cfg.Source)
			}
			fmt.Fprint(cmd.OutOrStdout(), text)
			return nil
		},
	}

	var path string
	var defaults bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Save the configuration, by default to the user config file.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if defaults {
				a.store.Overwrite(config.Default())
			}
			if path == "" {
				path = config.UserConfigPath()
			}
			saved, err := a.store.Save(path)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), saved)
			return nil
		},
	}
	initCmd.Flags().StringVar(&path, "path", "", "file to write")
	initCmd.Flags().BoolVar(&defaults, "defaults", false, "write the built in defaults instead of the active configuration")

	cmd.AddCommand(show, initCmd)
	return cmd
}
