// Command ipkg is the command-line front-end: it parses flags, builds
// the core objects, and maps error kinds to exit codes. All actual
// behavior lives in the internal packages.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pmuller/ipkg/internal/ipkgerr"
	"github.com/pmuller/ipkg/internal/ipkglog"
)

var (
	quietFlag   bool
	verboseFlag bool
	debugFlag   bool
)

// globalCtx is canceled on SIGINT/SIGTERM so child processes and
// downloads stop with the user.
var (
	globalCtx    context.Context
	globalCancel context.CancelFunc
)

var rootCmd = &cobra.Command{
	Use:   "ipkg",
	Short: "A source-to-binary package manager for relocatable environments",
	Long: `ipkg builds packages from recipes into platform-tagged binary
artifacts and installs them into self-contained, relocatable
environments, resolving dependencies against package and recipe
repositories.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Show errors only")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Show verbose output")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Show debug output")

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) { initLogger() }

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
	rootCmd.AddCommand(mkenvCmd)
	rootCmd.AddCommand(printenvCmd)
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(shellCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(mkrepoCmd)
	rootCmd.AddCommand(buildRepositoryCmd)
}

// initLogger wires the verbosity flags to the process-wide logger.
func initLogger() {
	var level slog.Level
	switch {
	case debugFlag:
		level = slog.LevelDebug
	case verboseFlag:
		level = slog.LevelInfo
	case quietFlag:
		level = slog.LevelError
	default:
		level = slog.LevelWarn
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:     level,
		AddSource: debugFlag,
	})
	ipkglog.SetDefault(ipkglog.New(handler))
}

func main() {
	globalCtx, globalCancel = context.WithCancel(context.Background())
	defer globalCancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		globalCancel()
	}()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ipkgerr.Format(err, debugFlag, nil))
		os.Exit(exitCodeFor(err))
	}
}
