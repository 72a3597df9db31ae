package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pmuller/ipkg/internal/ipkgbuild"
	"github.com/pmuller/ipkg/internal/ipkglog"
	"github.com/pmuller/ipkg/internal/platform"
	"github.com/pmuller/ipkg/internal/recipe"
)

var (
	buildEnvFlag     string
	buildRepoFlag    string
	buildPkgDirFlag  string
	buildKeepFlag    bool
	buildInstallFlag bool
)

var buildCmd = &cobra.Command{
	Use:   "build RECIPE_FILE",
	Short: "Build a recipe into a binary artifact",
	Long: `Build a recipe into a platform-tagged binary artifact. Build-time
dependencies are resolved against the environment and the repository
given with -r; the artifact is written under the package directory
given with -p.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := recipe.ParseFile(args[0])
		if err != nil {
			return err
		}

		fetcher, err := newFetcher()
		if err != nil {
			return err
		}
		repo, err := openPackageRepo(buildRepoFlag)
		if err != nil {
			return err
		}

		builder := ipkgbuild.New(fetcher, platform.Current(), ipkglog.Default())
		opts := ipkgbuild.Options{
			Repo:         repoOrNil(repo),
			KeepBuildDir: buildKeepFlag,
		}
		if buildEnvFlag != "" {
			env, err := openEnv(buildEnvFlag)
			if err != nil {
				return err
			}
			opts.Env = env
		}

		artifactPath, err := builder.Build(globalCtx, r, buildPkgDirFlag, opts)
		if err != nil {
			return err
		}
		fmt.Printf("Built %s\n", artifactPath)

		if buildInstallFlag {
			prefix, err := resolveEnvPrefix(buildEnvFlag)
			if err != nil {
				return err
			}
			env, err := openEnv(prefix)
			if err != nil {
				return err
			}
			if err := env.Install(globalCtx, artifactPath, repoOrNil(repo)); err != nil {
				return err
			}
			fmt.Printf("Installed %s into %s\n", r.Name, env.Prefix)
		}
		return nil
	},
}

func init() {
	buildCmd.Flags().StringVarP(&buildEnvFlag, "environment", "e", "", "Environment to build inside (default: ephemeral)")
	buildCmd.Flags().StringVarP(&buildRepoFlag, "repository", "r", "", "Package repository for build dependencies")
	buildCmd.Flags().StringVarP(&buildPkgDirFlag, "package-dir", "p", ".", "Directory to write the artifact into")
	buildCmd.Flags().BoolVarP(&buildKeepFlag, "keep-build-dir", "k", false, "Keep the temporary build directory")
	buildCmd.Flags().BoolVarP(&buildInstallFlag, "use", "u", false, "Install the built artifact into the environment afterwards")
}
