package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var printenvExportFlag bool

var printenvCmd = &cobra.Command{
	Use:   "printenv ENV",
	Short: "Print an environment's computed variables",
	Long: `Print the variable set an environment computes from its canonical
overlays and installed packages, one KEY=value per line. With -x each
line is prefixed with "export " so the output can be eval'd by a
shell.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openEnv(args[0])
		if err != nil {
			return err
		}

		for _, entry := range env.Vars().Environ() {
			if printenvExportFlag {
				key, value, _ := strings.Cut(entry, "=")
				fmt.Printf("export %s=%q\n", key, value)
			} else {
				fmt.Println(entry)
			}
		}
		return nil
	},
}

func init() {
	printenvCmd.Flags().BoolVarP(&printenvExportFlag, "export", "x", false, "Prefix each line with 'export'")
}
