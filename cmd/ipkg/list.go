package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var listEnvFlag string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List packages installed in an environment",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		prefix, err := resolveEnvPrefix(listEnvFlag)
		if err != nil {
			return err
		}
		env, err := openEnv(prefix)
		if err != nil {
			return err
		}

		for _, meta := range env.InstalledPackages() {
			fmt.Printf("%s %s:%d (%s)\n", meta.Name, meta.Version, meta.Revision, meta.Platform)
		}
		return nil
	},
}

func init() {
	listCmd.Flags().StringVarP(&listEnvFlag, "environment", "e", "", "Environment prefix")
}
