package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pmuller/ipkg/internal/ipkglog"
	"github.com/pmuller/ipkg/internal/ipkgversion"
	"github.com/pmuller/ipkg/internal/repository"
)

var outdatedCmd = &cobra.Command{
	Use:   "outdated RECIPE_REPO",
	Short: "Check recipes against their upstream version source",
	Long: `Walk a recipe repository and, for every recipe that declares a
version_source, compare its version with the newest matching upstream
release tag. Recipes without a version_source are skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		recipeRepo, err := repository.OpenRecipes(args[0], ipkglog.Default())
		if err != nil {
			return err
		}

		lister := ipkgversion.NewGitHubTagLister()
		stale := 0
		for _, r := range recipeRepo.All() {
			if r.VersionSource == nil {
				continue
			}
			vs := r.VersionSource
			latest, err := lister.Latest(globalCtx, vs.GitHubRepo, vs.TagPrefix, vs.Format)
			if err != nil {
				ipkglog.Default().Warn("version check failed",
					"recipe", r.Name, "repo", vs.GitHubRepo, "error", err)
				continue
			}
			current := ipkgversion.Parse(r.Version)
			if current.Less(latest) {
				fmt.Printf("%s %s -> %s (%s)\n", r.Name, r.Version, latest.String(), vs.GitHubRepo)
				stale++
			}
		}
		if stale == 0 {
			fmt.Println("All recipes are up to date.")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(outdatedCmd)
}
