package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var uninstallEnvFlag string

var uninstallCmd = &cobra.Command{
	Use:   "uninstall PKG",
	Short: "Remove an installed package from an environment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prefix, err := resolveEnvPrefix(uninstallEnvFlag)
		if err != nil {
			return err
		}
		env, err := openEnv(prefix)
		if err != nil {
			return err
		}

		if err := env.Uninstall(args[0]); err != nil {
			return err
		}
		fmt.Printf("Uninstalled %s from %s\n", args[0], env.Prefix)
		return nil
	},
}

func init() {
	uninstallCmd.Flags().StringVarP(&uninstallEnvFlag, "environment", "e", "", "Environment prefix")
}
