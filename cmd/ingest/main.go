// Package main is the ingest command. Each invocation runs one cycle of one
// stream and exits; an external timer decides when to run it.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"gridprice/internal/config"
	"gridprice/internal/logger"
	"gridprice/internal/models"
	"gridprice/internal/provider"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	envFile     string
	streamsFile string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "ingest",
		Short:         "Ingest ERCOT settlement point prices",
		Long:          "Fetches ERCOT real-time and day-ahead prices and writes them to the primary store and the time-series store.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env", ".env", "Path to env file")
	rootCmd.PersistentFlags().StringVar(&opts.streamsFile, "streams", "", "Path to a TOML file overriding stream settings")

	rootCmd.AddCommand(newRunCmd(opts), newStatusCmd(opts), newStreamsCmd(opts))
	return rootCmd
}

// loadConfig seeds the environment from the env file and loads the config.
// A missing default env file is only a warning.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (*config.Config, zerolog.Logger, error) {
	if err := godotenv.Load(opts.envFile); err != nil {
		if cmd.Flags().Changed("env") {
			return nil, zerolog.Nop(), fmt.Errorf("failed to load env file: %w", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", err)
	}
	if opts.streamsFile != "" {
		if err := os.Setenv("STREAMS_FILE", opts.streamsFile); err != nil {
			return nil, zerolog.Nop(), err
		}
	}

	cfg := &config.Config{}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, logger.SetupWriter(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format), nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	var (
		since    string
		maxPages int
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "run <stream>",
		Short: "Run one ingestion cycle of a stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}

			runOpts, err := parseRunOptions(since, maxPages, cfg.ERCOT.Location())
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			summary, runErr := a.run(ctx, args[0], runOpts)
			if summary != nil {
				if err := printSummary(cmd.OutOrStdout(), summary, asJSON); err != nil {
					return err
				}
			}
			if runErr != nil {
				log.Error().Err(runErr).Msg("cycle failed")
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "Start of the fetch window (RFC3339 or YYYY-MM-DD in the market zone), overrides the stored cursor")
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "Stop after this many pages (0 uses the stream setting)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the cycle summary as JSON")
	return cmd
}

func parseRunOptions(since string, maxPages int, loc *time.Location) (*provider.RunOptions, error) {
	if maxPages < 0 {
		return nil, errors.New("--max-pages must not be negative")
	}
	if since == "" && maxPages == 0 {
		return nil, nil
	}

	opts := &provider.RunOptions{MaxPages: maxPages}
	if since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			t, err = time.ParseInLocation("2006-01-02", since, loc)
			if err != nil {
				return nil, fmt.Errorf("invalid --since %q: want RFC3339 or YYYY-MM-DD", since)
			}
		}
		opts.Since = &t
	}
	return opts, nil
}

func printSummary(w io.Writer, s *models.CycleSummary, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}

	_, err := fmt.Fprintf(w, "%s %s: %d pages, %d fetched, %d rejected, %d primary, %d derived (%d failed chunks) in %s\n",
		s.Stream, s.Outcome, s.PagesFetched, s.RecordsFetched, s.RecordsRejected,
		s.Write.PrimaryWritten, s.Write.DerivedWritten, len(s.Write.FailedDerivedChunks()), s.Elapsed.Round(time.Millisecond))
	if err == nil && s.Error != "" {
		_, err = fmt.Fprintf(w, "  failed at %s: %s\n", s.FailedAt, s.Error)
	}
	return err
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show record counts and time ranges of the primary store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STREAM\tTABLE\tRECORDS\tFIRST\tLAST")
			for _, p := range a.manager.Providers() {
				stats, err := a.repo.Stats(cmd.Context(), p.GetConfig().Kind)
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", p.Name(), stats.Table, stats.Count, formatTime(stats.First), formatTime(stats.Last))
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			if a.sink != nil {
				ok, err := a.sink.Ping(cmd.Context())
				switch {
				case err != nil:
					fmt.Fprintf(cmd.OutOrStdout(), "\ntime-series store: unreachable (%v)\n", err)
				case !ok:
					fmt.Fprintln(cmd.OutOrStdout(), "\ntime-series store: not ready")
				default:
					fmt.Fprintln(cmd.OutOrStdout(), "\ntime-series store: ok")
				}
			}
			return nil
		},
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func newStreamsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "streams",
		Short: "List configured streams",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STREAM\tENABLED\tLOOKBACK\tPAGE SIZE\tMAX PAGES\tMEASUREMENT\tALLOW LIST")
			for _, name := range streamNames(cfg) {
				s := cfg.Streams[name]
				fmt.Fprintf(tw, "%s\t%t\t%s\t%d\t%d\t%s\t%d points\n", s.Name, s.Enabled, s.Lookback, s.PageSize, s.MaxPages, s.Measurement, len(s.AllowList))
			}
			return tw.Flush()
		},
	}
}

func streamNames(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Streams))
	for name := range cfg.Streams {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
