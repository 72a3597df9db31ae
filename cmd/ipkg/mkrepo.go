package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pmuller/ipkg/internal/repository"
)

var mkrepoCmd = &cobra.Command{
	Use:   "mkrepo PATH",
	Short: "Create an empty package repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := repository.Create(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Created repository %s\n", repo.Base())
		return nil
	},
}
