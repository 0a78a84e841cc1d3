package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/semret/internal/cli"
	"github.com/hyperjump/semret/internal/config"
	"github.com/hyperjump/semret/internal/models"
	"github.com/hyperjump/semret/internal/server"
	"github.com/hyperjump/semret/internal/storage"
	"github.com/hyperjump/semret/pkg/utils"
)

// setup loads the config, builds a logger and wires the components. serve
// logs at info level; one-shot commands only show warnings unless --debug.
func setup(ctx context.Context, opts *globalOptions, serve bool) (*Components, *zap.Logger, string, error) {
	cfg, path, err := loadConfig(opts.configPath)
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to load config: %w", err)
	}
	debug := cfg.Debug || opts.debug
	var logger *zap.Logger
	if serve {
		logger, err = utils.NewLogger(debug)
	} else {
		logger, err = utils.NewCLILogger(debug)
	}
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Debug("config loaded", zap.String("config_path", path))

	c, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, "", err
	}
	return c, logger, path, nil
}

func newServeCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and watch the configured directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, logger, configPath, err := setup(ctx, opts, true)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer c.Close()

			watch := newWatcher(c, logger)
			if err := watch.Start(ctx); err != nil {
				return fmt.Errorf("failed to start watcher: %w", err)
			}
			defer watch.Stop()
			go watch.SyncExistingFiles()

			srv := server.NewServer(c.Search, c.Indexer, c.Pair, c.Config, logger, watch, configPath)
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server failed: %w", err)
				}
			case <-ctx.Done():
			}

			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Stop(shutdownCtx)
		},
	}
}

func newIngestCmd(opts *globalOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "ingest <path>...",
		Short: "Ingest files or directories",
		Long: `Ingest files or directories into the index. Directories are walked
recursively; hidden entries, ignore patterns and files whose extension is not
in ingest.extensions are skipped. Paths already in the index are skipped.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, logger, _, err := setup(ctx, opts, false)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer c.Close()

			summary, err := c.Indexer.IndexPaths(ctx, args)
			if summary != nil {
				if werr := cli.WriteRunSummary(cmd.OutOrStdout(), summary, cli.FormatFor(asJSON)); werr != nil {
					return werr
				}
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output the run summary as JSON")
	return cmd
}

func newSearchCmd(opts *globalOptions) *cobra.Command {
	var (
		queries   []string
		k         int
		asJSON    bool
		serverURL string
	)
	cmd := &cobra.Command{
		Use:   "search [query...]",
		Short: "Search ingested files",
		Long: `Search ingested files by meaning. Positional arguments are joined into
one query; each -q adds another query to the batch. Results are printed per
query, most relevant file first.

Examples:
  semret search machine learning
  semret search -q "invoice" -q "receipt" -k 5
  semret search "budget" --server http://localhost:8080`,
		RunE: func(cmd *cobra.Command, args []string) error {
			all := buildQueries(queries, args)
			if len(all) == 0 {
				return errors.New("at least one query is required")
			}
			format := cli.FormatFor(asJSON)

			if serverURL != "" {
				// The server holds the index open; ask it instead of opening a second copy.
				results, err := searchViaHTTP(cmd.Context(), serverURL, all, k)
				if err != nil {
					return err
				}
				return cli.WriteSearchResults(cmd.OutOrStdout(), results, format)
			}

			c, logger, _, err := setup(cmd.Context(), opts, false)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer c.Close()

			results, err := c.Search.SearchHits(cmd.Context(), all, k)
			if err != nil {
				return err
			}
			return cli.WriteSearchResults(cmd.OutOrStdout(), results, format)
		},
	}
	cmd.Flags().StringArrayVarP(&queries, "query", "q", nil, "query text (repeatable)")
	cmd.Flags().IntVarP(&k, "k", "k", 0, "chunks to retrieve per query (0 = search.default_k)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output results as JSON")
	cmd.Flags().StringVar(&serverURL, "server", "", "send the search to a running semret server at this URL")
	return cmd
}

// buildQueries returns the -q queries followed by the positional words
// joined into one query.
func buildQueries(flagQueries, args []string) []string {
	out := make([]string, 0, len(flagQueries)+1)
	for _, q := range flagQueries {
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
	}
	if q := strings.TrimSpace(strings.Join(args, " ")); q != "" {
		out = append(out, q)
	}
	return out
}

func searchViaHTTP(ctx context.Context, serverURL string, queries []string, k int) ([]*models.QueryResult, error) {
	body, err := json.Marshal(models.SearchRequest{Query: queries, K: k})
	if err != nil {
		return nil, err
	}
	endpoint := strings.TrimRight(serverURL, "/") + "/api/v1/search"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return nil, fmt.Errorf("server returned %s: %s", resp.Status, apiErr.Error)
	}
	var out struct {
		Results []*models.QueryResult `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return out.Results, nil
}

func newDeleteCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <path>",
		Short: "Remove an ingested file from the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, logger, _, err := setup(cmd.Context(), opts, false)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer c.Close()

			alloc, err := c.Indexer.DeleteFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s (%d chunks)\n", args[0], len(alloc.ChunkIDs))
			return nil
		},
	}
}

func newStatusCmd(opts *globalOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index counts, alignment and disk usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, logger, _, err := setup(cmd.Context(), opts, false)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer c.Close()

			stats, err := c.Pair.Stats(cmd.Context())
			if err != nil {
				return err
			}
			st := &cli.Status{Stats: stats, IndexType: c.Index.Type(), Dimensions: c.Index.Dimensions()}
			st.Disk, err = storage.MeasureFootprint(c.Config.Storage.DatabasePath, c.Config.Storage.IndexPath)
			if err != nil {
				logger.Warn("failed to measure disk usage", zap.Error(err))
			}
			return cli.WriteStatus(cmd.OutOrStdout(), st, cli.FormatFor(asJSON))
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output status as JSON")
	return cmd
}

func newReconcileCmd(opts *globalOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Remove orphan vectors and orphan chunk rows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, logger, _, err := setup(cmd.Context(), opts, false)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer c.Close()

			// setup already swept once; a second pass reports what is left.
			report, err := c.Pair.Reconcile(cmd.Context())
			if err != nil {
				return err
			}
			return cli.WriteReconcileReport(cmd.OutOrStdout(), report, cli.FormatFor(asJSON))
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output the report as JSON")
	return cmd
}

func newInitCmd(opts *globalOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.configPath
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
			}
			cfg := &config.Config{}
			config.ApplyDefaults(cfg)
			if err := config.Save(path, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}
