// Package cmd defines the harvester command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-harvester/internal/app"
	"github.com/JakeFAU/article-harvester/internal/config"
	"github.com/JakeFAU/article-harvester/internal/crawler"
	"github.com/JakeFAU/article-harvester/internal/harvest"
)

// Exit codes returned by Execute.
const (
	ExitOK              = 0
	ExitError           = 1
	ExitSeedUnreachable = 2
	ExitNoArticles      = 3
	ExitInterrupted     = 130
)

// Runner is the part of app.App the commands depend on.
type Runner interface {
	Run(ctx context.Context) (harvest.Result, error)
	Close() error
}

// newApp is the application factory. It's a variable so tests can replace
// the real pipeline.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (Runner, error) {
	return app.New(ctx, cfg, logger)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Harvests articles from paginated news listings.",
		Long: `harvester walks the listing pages of a news or announcement site,
fetches every article it links to with a bounded pool of workers and stores
each article as a text or JSON record, plus an optional aggregate file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().String("config", "", "path to a YAML config file")
	cmd.AddCommand(newCrawlCmd())
	return cmd
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return execute(ctx, os.Args[1:], os.Stderr)
}

func execute(ctx context.Context, args []string, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}
	fmt.Fprintf(stderr, "harvester: %v\n", err)
	return exitCode(err)
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	case errors.Is(err, crawler.ErrSeedUnreachable):
		return ExitSeedUnreachable
	case errors.Is(err, crawler.ErrNoArticles):
		return ExitNoArticles
	default:
		return ExitError
	}
}
