package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/thebtf/mnemo/internal/config"
	"github.com/thebtf/mnemo/internal/vector/chroma"
	"github.com/thebtf/mnemo/internal/vocabulary"
	"github.com/thebtf/mnemo/internal/watcher"
	"github.com/thebtf/mnemo/internal/worker"
)

const (
	shutdownTimeout  = 10 * time.Second
	orphanSessionAge = 24 * time.Hour
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the worker HTTP API and queue processor",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, cfg *config.Config) error {
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	vocab, err := vocabulary.NewHolder(cfg.VocabularyPath)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.VocabularyPath).Msg("Invalid vocabulary file, using built-in vocabulary")
	}

	client, closeClient := connectVector(ctx, cfg)
	defer closeClient()

	svc := worker.NewService(worker.Options{
		Config:     cfg,
		Store:      store,
		Vector:     vectorClient(client),
		Vocabulary: vocab,
		Version:    Version,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopWatchers := startWatchers(cfg, vocab, cancel)
	defer stopWatchers()

	addr := net.JoinHostPort(cfg.WorkerHost, strconv.Itoa(cfg.WorkerPort))
	server := &http.Server{
		Addr:              addr,
		Handler:           svc.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Str("version", Version).Msg("Worker listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return svc.Processor().Run(gctx)
	})
	if client != nil {
		g.Go(func() error {
			return client.Supervise(gctx, chroma.DefaultSuperviseInterval)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := svc.CleanupOrphans(ctx, orphanSessionAge); err != nil {
		log.Warn().Err(err).Msg("Failed to clean up orphaned sessions")
	}
	svc.SetReady(true)
	err = g.Wait()
	log.Info().Msg("Worker stopped")
	return err
}

// startWatchers reacts to on-disk changes: a settings edit restarts the
// process, a vocabulary edit reloads in place, and a deleted database shuts
// the worker down. It returns a func that stops them.
func startWatchers(cfg *config.Config, vocab *vocabulary.Holder, shutdown context.CancelFunc) func() {
	var started []*watcher.Watcher
	watch := func(path string, handlers watcher.Handlers) {
		w, err := watcher.New(path, handlers)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Failed to create file watcher")
			return
		}
		if err := w.Start(); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Failed to start file watcher")
			return
		}
		started = append(started, w)
	}

	settingsPath := config.SettingsPath()
	watch(settingsPath, watcher.Handlers{
		OnChange: func() {
			log.Warn().Str("path", settingsPath).Msg("Config file changed, exiting for restart...")
			time.Sleep(100 * time.Millisecond) // let logs flush
			os.Exit(0)
		},
	})

	reload := func() {
		if err := vocab.Reload(); err != nil {
			log.Warn().Err(err).Msg("Vocabulary reload failed, keeping previous vocabulary")
			return
		}
		log.Info().Str("path", vocab.Path()).Msg("Vocabulary reloaded")
	}
	watch(vocab.Path(), watcher.Handlers{OnChange: reload, OnDelete: reload})

	watch(cfg.DBPath, watcher.Handlers{
		OnDelete: func() {
			log.Error().Str("path", cfg.DBPath).Msg("Database file deleted, shutting down")
			shutdown()
		},
	})

	return func() {
		for _, w := range started {
			_ = w.Stop()
		}
	}
}
