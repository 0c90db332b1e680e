package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/tbourn/fieldops-backend/internal/ai"
	httpapi "github.com/tbourn/fieldops-backend/internal/http"
	"github.com/tbourn/fieldops-backend/internal/observability"
	"github.com/tbourn/fieldops-backend/internal/repo"
	"github.com/tbourn/fieldops-backend/internal/services"
	"github.com/tbourn/fieldops-backend/internal/store"
	"github.com/tbourn/fieldops-backend/internal/store/docstore"
	"github.com/tbourn/fieldops-backend/internal/store/sheets"
	"github.com/tbourn/fieldops-backend/internal/syncer"
	"github.com/tbourn/fieldops-backend/internal/sysutil"
)

const (
	purgeEvery      = time.Hour
	shutdownTimeout = 15 * time.Second
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `serve starts the API with the local store authoritative. Clients switch
to the configured remote store (STORE_BACKEND) with POST /sync/connect.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := sysutil.NotifyShutdown(cmd.Context())
			defer stop()
			return serve(ctx)
		},
	}
}

// connector picks the remote store implementation for backend.
func connector(backend string) (store.Connector, error) {
	switch backend {
	case sheets.BackendName:
		return sheets.Connector, nil
	case docstore.BackendName:
		return docstore.Connector, nil
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", backend)
	}
}

func serve(ctx context.Context) error {
	shutdownTracing, err := observability.SetupTracing(ctx, cfg.OTEL, version, observability.BackendAttr(cfg.Remote.Backend))
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn().Err(err).Msg("tracing shutdown")
		}
	}()

	return withDB(ctx, func(ctx context.Context, db *gorm.DB) error {
		remote, err := connector(cfg.Remote.Backend)
		if err != nil {
			return err
		}
		co := syncer.New(store.NewLocal(db), remote)
		if err := co.Load(ctx); err != nil {
			return fmt.Errorf("load local records: %w", err)
		}
		kb := services.NewKnowledgeService(db)
		if err := kb.Rebuild(ctx); err != nil {
			return fmt.Errorf("build knowledge index: %w", err)
		}
		gw := ai.FromConfig(cfg.AI)
		if !gw.Enabled() {
			log.Warn().Msg("AI_API_KEY not set; AI assist endpoints answer 503")
		}

		gin.SetMode(cfg.GinMode)
		r := gin.New()
		httpapi.RegisterRoutes(r, httpapi.Deps{
			DB:        db,
			Records:   services.NewRecordService(co, db),
			Knowledge: kb,
			AI:        gw,
		}, cfg)

		srv := &http.Server{
			Addr:              net.JoinHostPort("", cfg.Port),
			Handler:           r,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
			MaxHeaderBytes:    cfg.MaxHeaderBytes,
			BaseContext:       func(net.Listener) context.Context { return ctx },
		}

		go purgeIdempotency(ctx, db)

		errCh := make(chan error, 1)
		go func() {
			log.Info().Str("addr", srv.Addr).Str("remote", cfg.Remote.Backend).Str("version", version).Msg("listening")
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
		}

		log.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
}

// purgeIdempotency drops expired idempotency keys until ctx ends.
func purgeIdempotency(ctx context.Context, db *gorm.DB) {
	t := time.NewTicker(purgeEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := repo.PurgeExpiredIdempotency(ctx, db, now.UTC())
			if err != nil {
				log.Warn().Err(err).Msg("purge idempotency keys")
				continue
			}
			if n > 0 {
				log.Debug().Int64("purged", n).Msg("expired idempotency keys removed")
			}
		}
	}
}
