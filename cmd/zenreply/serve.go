package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/zenreply/zenreply/internal/api"
	"github.com/zenreply/zenreply/internal/cancel"
	"github.com/zenreply/zenreply/internal/capture"
	"github.com/zenreply/zenreply/internal/config"
	"github.com/zenreply/zenreply/internal/events"
	"github.com/zenreply/zenreply/internal/jetstream"
	"github.com/zenreply/zenreply/internal/llm"
	"github.com/zenreply/zenreply/internal/platform"
	"github.com/zenreply/zenreply/internal/storage"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the backend the desktop UI talks to",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, cfg *config.Config) error {
	store := config.NewStore(cfg, configPath)

	natsServer, err := jetstream.NewServer(cfg.NATSStoreDir, cfg.NATSPort)
	if err != nil {
		return err
	}
	defer natsServer.Shutdown()

	nc, err := natsServer.Connect()
	if err != nil {
		return err
	}
	defer nc.Drain()

	js, err := nc.JetStream()
	if err != nil {
		return err
	}
	if err := jetstream.EnsureStream(js, cfg.NATSStoreDir != ""); err != nil {
		return err
	}
	emitter := events.NewNATSEmitter(nc)

	client := llm.New(cancel.NewRegistry(), emitter, func() config.API {
		return store.Get().API
	})

	if cfg.DatabaseURL != "" {
		writer, closeDB, err := storage.Open(ctx, cfg.DatabaseURL, cfg.WriterBufferSize, cfg.WriterBatchSize, cfg.WriterFlushMs)
		if err != nil {
			return err
		}
		defer closeDB()
		client.SetRecorder(storage.NewHistoryRecorder(writer))
	}

	clip := platform.SystemClipboard{}
	engine := capture.NewEngine(clip, platform.NewExecKeystroker(), cfg.Capture, cfg.IsMac())
	worker := capture.NewWorker(engine, emitter)

	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: api.NewHandler(client, worker, clip),
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().
			Str("addr", cfg.Addr).
			Str("nats", natsServer.ClientURL()).
			Bool("history", cfg.DatabaseURL != "").
			Msg("zenreply started")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := store.Watch(gctx); err != nil {
			log.Warn().Err(err).Str("path", configPath).Msg("config watcher stopped")
		}
		return nil
	})
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	log.Info().Msg("shutdown complete")
	return err
}
