package main

import (
	"context"
	"fmt"
	"net/http"

	"gridprice/internal/api"
	"gridprice/internal/config"
	"gridprice/internal/database"
	"gridprice/internal/influx"
	"gridprice/internal/ingest"
	"gridprice/internal/metrics"
	"gridprice/internal/models"
	"gridprice/internal/normalize"
	"gridprice/internal/provider"
	"gridprice/internal/provider/cdr"
	"gridprice/internal/provider/ercot"
	"gridprice/internal/repository"

	"github.com/rs/zerolog"
)

// app holds the components shared by every command
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	repo    repository.PriceRepository
	sink    *influx.Sink
	pusher  *metrics.Pusher
	manager *provider.Manager
}

// newApp opens the primary store and wires every configured stream
func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	repo, err := database.OpenPriceRepository(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		repo:    repo,
		pusher:  metrics.NewPusher(cfg.Metrics.PushgatewayURL, cfg.Metrics.Job),
		manager: provider.NewManager(),
	}

	var derived ingest.DerivedSink
	if cfg.Influx.Enabled {
		a.sink = influx.NewSink(influx.Config{
			URL:     cfg.Influx.URL,
			Token:   cfg.Influx.Token,
			Org:     cfg.Influx.Org,
			Bucket:  cfg.Influx.Bucket,
			Timeout: cfg.Influx.Timeout,
		})
		derived = a.sink
	} else {
		logger.Warn().Msg("derived store disabled")
	}

	writer := ingest.NewWriter(repo, derived, ingest.WriterConfig{
		PrimaryChunkSize: cfg.Primary.ChunkSize,
		Primary: ingest.RetryPolicy{
			MaxAttempts: cfg.Primary.MaxAttempts,
			BaseDelay:   cfg.Primary.RetryBaseDelay,
			MaxDelay:    cfg.Primary.RetryMaxDelay,
		},
		DerivedChunkSize: cfg.Influx.MaxPointsPerWrite,
		WritesPerMinute:  cfg.Influx.WritesPerMinute,
		Derived: ingest.RetryPolicy{
			MaxAttempts: cfg.Influx.MaxAttempts,
			BaseDelay:   cfg.Influx.RetryBaseDelay,
			MaxDelay:    cfg.Influx.RetryMaxDelay,
		},
		BreakerThreshold: cfg.Influx.BreakerThreshold,
	}, ingest.WithWriterLogger(logger.With().Str("component", "writer").Logger()))

	loc := cfg.ERCOT.Location()
	tokens := api.NewTokenManager(
		api.Credentials{Username: cfg.ERCOT.Username, Password: cfg.ERCOT.Password},
		api.WithTokenURL(cfg.ERCOT.TokenURL),
		api.WithClientID(cfg.ERCOT.ClientID),
		api.WithSafetyMargin(cfg.ERCOT.TokenSafetyMargin),
		api.WithTokenHTTPClient(&http.Client{Timeout: cfg.ERCOT.HTTPTimeout}),
		api.WithTokenLogger(logger),
	)
	client := api.NewClient(cfg.ERCOT.BaseURL, cfg.ERCOT.SubscriptionKey, tokens,
		api.WithTimeout(cfg.ERCOT.HTTPTimeout),
		api.WithRetryPolicy(cfg.ERCOT.MaxAttempts, cfg.ERCOT.RetryBaseDelay, cfg.ERCOT.RetryMaxDelay),
		api.WithRequestsPerMinute(cfg.ERCOT.RequestsPerMinute),
		api.WithLocation(loc),
		api.WithLogger(logger),
	)

	cursor := ingest.NewCursorResolver(repo)
	normalizer := normalize.New(loc)

	for _, kind := range models.StreamKinds() {
		sc, ok := cfg.Stream(kind.String())
		if !ok {
			continue
		}

		var source ingest.Source
		switch kind {
		case models.StreamRealTimeCDR:
			source = cdr.NewScraper(cfg.ERCOT.CDRURL,
				cdr.WithHTTPClient(&http.Client{Timeout: cfg.ERCOT.HTTPTimeout}),
				cdr.WithLocation(loc),
				cdr.WithLogger(logger),
			)
		default:
			pageSize := sc.PageSize
			if pageSize == 0 {
				pageSize = cfg.ERCOT.PageSize
			}
			src, err := ercot.NewSource(client, kind, pageSize)
			if err != nil {
				a.Close()
				return nil, err
			}
			source = src
		}

		a.manager.RegisterProvider(ingest.NewDriver(sc, source, cursor, normalizer, writer,
			ingest.WithDriverLogger(logger.With().Str("component", "driver").Str("stream", sc.Name).Logger()),
			ingest.WithRecorder(a.pusher),
		))
	}

	return a, nil
}

// run executes one cycle of the named stream and pushes its metrics
func (a *app) run(ctx context.Context, stream string, opts *provider.RunOptions) (*models.CycleSummary, error) {
	summary, err := a.manager.RunProvider(ctx, stream, opts)
	if perr := a.pusher.Push(ctx); perr != nil {
		a.logger.Warn().Err(perr).Msg("failed to push cycle metrics")
	}
	if err != nil {
		return summary, fmt.Errorf("stream %s: %w", stream, err)
	}
	return summary, nil
}

// Close releases the stores
func (a *app) Close() {
	if a.sink != nil {
		a.sink.Close()
	}
	if err := a.repo.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("failed to close primary store")
	}
}
