package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pmuller/ipkg/internal/environment"
	"github.com/pmuller/ipkg/internal/ipkglog"
)

var mkenvCmd = &cobra.Command{
	Use:   "mkenv ENV",
	Short: "Create a new environment at the given prefix",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := environment.New(args[0], environment.Options{
			InheritEnv: true,
			Log:        ipkglog.Default(),
		})
		if err != nil {
			return err
		}
		fmt.Printf("Created environment %s\n", env.Prefix)
		return nil
	},
}
