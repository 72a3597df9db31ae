package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/pmuller/ipkg/internal/environment"
)

var shellFlag string

var shellCmd = &cobra.Command{
	Use:   "shell ENV",
	Short: "Start an interactive shell inside an environment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openEnv(args[0])
		if err != nil {
			return err
		}

		shell := shellFlag
		if shell == "" {
			shell = os.Getenv("SHELL")
		}
		if shell == "" {
			shell = "/bin/sh"
		}

		code, err := env.Execute(globalCtx, []string{shell}, environment.ExecOptions{
			Stdin:  os.Stdin,
			Stdout: os.Stdout,
			Stderr: os.Stderr,
		})
		if err != nil && code > 0 {
			os.Exit(code)
		}
		return err
	},
}

func init() {
	shellCmd.Flags().StringVarP(&shellFlag, "shell", "s", "", "Shell to start (default $SHELL, then /bin/sh)")
}
