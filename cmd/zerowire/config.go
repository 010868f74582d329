package main

import (
	"fmt"

	"github.com/ajitpratap0/zerowire/pkg/config"
	"github.com/spf13/cobra"
)

func newConfigCommand() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration files",
	}

	var table, output string
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with default settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Save(output, config.DefaultConfig(table)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", output)
			return nil
		},
	}
	initCmd.Flags().StringVar(&table, "table", "", "Destination table")
	initCmd.Flags().StringVarP(&output, "output", "o", "zerowire.yaml", "Path of the file to write")
	configCmd.AddCommand(initCmd)

	var file string
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Load a configuration file with environment overrides and validate it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(file)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration for %s is valid\n", cfg.Table)
			return nil
		},
	}
	validateCmd.Flags().StringVarP(&file, "config", "c", "zerowire.yaml", "Path to configuration file")
	configCmd.AddCommand(validateCmd)
	return configCmd
}
