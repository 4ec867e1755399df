package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/netutil"

	"github.com/dgallion1/pagemerge/internal/api"
	"github.com/dgallion1/pagemerge/internal/config"
	"github.com/dgallion1/pagemerge/internal/pdfout"
	"github.com/dgallion1/pagemerge/internal/session"
	"github.com/dgallion1/pagemerge/internal/source"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if cfg.PdftoppmPath == "" {
		log.Warn("pdftoppm not found, document pages will export but not preview")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Collaborators.
	deps := session.Deps{
		Documents: &source.PDFDecoder{PdftoppmPath: cfg.PdftoppmPath},
		Images:    source.StdImageDecoder{},
		Encoder:   pdfout.NewEncoder("pagemerge"),
	}

	svc := session.NewService(cfg, deps, log)
	svc.Start(ctx)

	srv := api.NewServer(svc, log, cfg)

	httpServer := &http.Server{
		Handler:     srv,
		ReadTimeout: 5 * time.Minute,
		IdleTimeout: 60 * time.Second,
	}

	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		log.Error("listen failed", "error", err)
		os.Exit(1)
	}
	ln = netutil.LimitListener(ln, cfg.MaxConnections)

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		svc.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	log.Info("starting pagemerge", "port", cfg.Port, "max_connections", cfg.MaxConnections)
	if err := httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
