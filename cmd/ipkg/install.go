package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	installEnvFlag  string
	installRepoFlag string
)

var installCmd = &cobra.Command{
	Use:   "install PKG",
	Short: "Install a package into an environment",
	Long: `Install a package into an environment. PKG is a local artifact
file path or a package spec (name[==version[:revision]]) resolved
against the repository given with -r.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prefix, err := resolveEnvPrefix(installEnvFlag)
		if err != nil {
			return err
		}
		env, err := openEnv(prefix)
		if err != nil {
			return err
		}
		repo, err := openPackageRepo(installRepoFlag)
		if err != nil {
			return err
		}

		if err := env.Install(globalCtx, args[0], repoOrNil(repo)); err != nil {
			return err
		}
		fmt.Printf("Installed %s into %s\n", args[0], env.Prefix)
		return nil
	},
}

func init() {
	installCmd.Flags().StringVarP(&installEnvFlag, "environment", "e", "", "Environment prefix")
	installCmd.Flags().StringVarP(&installRepoFlag, "repository", "r", "", "Package repository path or URL")
}
