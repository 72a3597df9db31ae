package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pmuller/ipkg/internal/environment"
	"github.com/pmuller/ipkg/internal/ipkgbuild"
	"github.com/pmuller/ipkg/internal/ipkglog"
	"github.com/pmuller/ipkg/internal/platform"
	"github.com/pmuller/ipkg/internal/repository"
)

var buildRepoEnvFlag string

var buildRepositoryCmd = &cobra.Command{
	Use:   "build-repository PACKAGE_REPO RECIPE_REPO",
	Short: "Build every recipe not yet present as a package",
	Long: `Walk a recipe repository and build each recipe whose exact
(name, version, revision) is missing from the package repository,
dependencies first.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pkgRepo, err := openPackageRepo(args[0])
		if err != nil {
			return err
		}
		recipeRepo, err := repository.OpenRecipes(args[1], ipkglog.Default())
		if err != nil {
			return err
		}
		fetcher, err := newFetcher()
		if err != nil {
			return err
		}

		var env *environment.Environment
		if buildRepoEnvFlag != "" {
			env, err = openEnv(buildRepoEnvFlag)
			if err != nil {
				return err
			}
		}

		builder := ipkgbuild.New(fetcher, platform.Current(), ipkglog.Default())
		built, err := pkgRepo.BuildFormulas(globalCtx, recipeRepo, builder, env)
		if err != nil {
			return err
		}

		for _, path := range built {
			fmt.Println(path)
		}
		fmt.Printf("Built %d package(s)\n", len(built))
		return nil
	},
}

func init() {
	buildRepositoryCmd.Flags().StringVarP(&buildRepoEnvFlag, "environment", "e", "", "Environment to build inside")
}
