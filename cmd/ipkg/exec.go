package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/pmuller/ipkg/internal/environment"
)

var execCmd = &cobra.Command{
	Use:   "exec ENV COMMAND [ARG...]",
	Short: "Run a command inside an environment",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openEnv(args[0])
		if err != nil {
			return err
		}

		code, err := env.Execute(globalCtx, args[1:], environment.ExecOptions{
			Stdin:  os.Stdin,
			Stdout: os.Stdout,
			Stderr: os.Stderr,
		})
		if err != nil {
			if code > 0 {
				// The child ran and failed; propagate its exit code
				// without wrapping it in our own taxonomy.
				os.Exit(code)
			}
			return err
		}
		return nil
	},
}
