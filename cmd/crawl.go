package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-harvester/internal/config"
	"github.com/JakeFAU/article-harvester/internal/logging"
)

// newCrawlCmd creates the 'crawl' subcommand. Flags override HARVESTER_*
// environment variables, which override the config file.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Harvest one batch of articles",
		Long: `Enumerates listing pages either by following the "next page" link from
--seed, or by expanding --template for --pages numbered pages, then fetches
and stores every unique article found.`,
		Example: `  harvester crawl --seed https://example.com/news/index.html
  harvester crawl --template 'https://example.com/news/index_{page}.html' \
    --first-page https://example.com/news/index.html --pages 5 --format json`,
		Args: cobra.NoArgs,
		RunE: runCrawlCommand,
	}

	flags := cmd.Flags()
	flags.String("seed", "", "first listing page; later pages are found via the next-page link")
	flags.String("template", "", "listing URL template containing {page} or %d")
	flags.String("first-page", "", "URL of page 1 when it differs from the template")
	flags.Int("pages", 0, "number of template pages to visit")
	flags.Int("workers", 0, "maximum concurrent article fetches")
	flags.Int("max-articles", 0, "stop submitting after this many articles (0 = unlimited)")
	flags.String("output", "", "directory for per-article files")
	flags.String("format", "", "per-article file format: txt or json")
	flags.String("batch", "", "batch name used for the aggregate file")
	flags.String("parser", "", "page parser: generic or newslist")
	cmd.MarkFlagsMutuallyExclusive("seed", "template")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	cfgPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("read --config: %w", err)
	}
	cfg, err := config.Load(cfgPath, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush

	ctx := cmd.Context()
	runner, err := newApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize harvester: %w", err)
	}
	defer func() {
		if cerr := runner.Close(); cerr != nil {
			logger.Warn("close harvester", zap.Error(cerr))
		}
	}()

	if _, err := runner.Run(ctx); err != nil {
		return fmt.Errorf("harvest: %w", err)
	}
	return nil
}
