// Command srx-server runs the RPKI/BGPsec/ASPA Origin Validation Cache
// daemon: it accepts proxy client connections, feeds validated ROA/ASPA
// state in from an RTR cache, and answers VerifyRequest/SignRequest PDUs.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/usnistgov/NIST-BGP-SRx-sub000/internal/aspa"
	"github.com/usnistgov/NIST-BGP-SRx-sub000/internal/config"
	"github.com/usnistgov/NIST-BGP-SRx-sub000/internal/crypto"
	"github.com/usnistgov/NIST-BGP-SRx-sub000/internal/metrics"
	"github.com/usnistgov/NIST-BGP-SRx-sub000/internal/prefixcache"
	"github.com/usnistgov/NIST-BGP-SRx-sub000/internal/rpkiqueue"
	"github.com/usnistgov/NIST-BGP-SRx-sub000/internal/rtrfeed"
	"github.com/usnistgov/NIST-BGP-SRx-sub000/internal/server"
	"github.com/usnistgov/NIST-BGP-SRx-sub000/internal/updatecache"
)

func addFlags() *pflag.FlagSet {
	f := pflag.NewFlagSet("srx-server", pflag.ExitOnError)
	f.SortFlags = false
	f.StringP("config", "c", "", "path to config YAML file")
	f.Int("server.port", 179, "proxy client listen port")
	f.String("rpki.host", "", "RTR cache host")
	f.Int("rpki.port", 323, "RTR cache port")
	f.String("loglevel", "info", "log level (debug/info/warn/error)")
	return f
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "srx-server:", err)
		os.Exit(1)
	}
}

func run() error {
	f := addFlags()
	if err := f.Parse(os.Args[1:]); err != nil {
		return fmt.Errorf("parsing flags: %w", err)
	}

	path, _ := f.GetString("config")
	cfg, err := config.Load(path, f)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("parsing loglevel: %w", err)
	}
	log := zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}).Level(lvl).With().Timestamp().Logger()

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel(fmt.Errorf("received %s", sig))
	}()

	var cryptoProvider crypto.Provider
	if cfg.BGPsec.SigningKeyPath != "" {
		cryptoProvider = crypto.NewLocalProvider(crypto.Options{})
	} else {
		cryptoProvider = crypto.UnavailableProvider{}
		log.Warn().Msg("bgpsec.signing_key_path not set: BGPsec requests will always report Invalid")
	}

	rpkiQueue := rpkiqueue.New(4096)

	srv := server.New(log, server.Config{
		ListenAddr:               fmt.Sprintf(":%d", cfg.Server.Port),
		DefaultKeepWindow:        cfg.Server.DefaultKeepWindow,
		HandshakeTimeout:         cfg.Server.HandshakeTimeout,
		SyncAfterConnEstablished: cfg.Server.SyncAfterConnEstablished,
		ExpectedProxies:          cfg.Server.ExpectedProxies,
		MappingRouterID:          cfg.Mapping.RouterID,
		ModeNoSendQueue:          cfg.Server.ModeNoSendQueue,
		ModeNoReceiveQueue:       cfg.Server.ModeNoReceiveQueue,
		SigningKeyPath:           cfg.BGPsec.SigningKeyPath,
	}, cryptoProvider, rpkiQueue)

	uc := updatecache.New(log, server.NewUpdateCacheListener(srv))
	pc := prefixcache.New(log, server.NewPrefixCacheListener(srv))
	store := aspa.NewStore()
	av := aspa.NewValidator(log, store, server.NewASPAChangeListener(srv))
	srv.Attach(uc, pc, av)

	feed := rtrfeed.New(rtrfeed.Config{
		Addr:            fmt.Sprintf("%s:%d", cfg.RPKI.Host, cfg.RPKI.Port),
		TLS:             cfg.RPKI.TLS,
		InsecureSkipTLS: cfg.RPKI.Insecure,
		RefreshInterval: cfg.RPKI.RefreshInterval,
		RetryInterval:   cfg.RPKI.RetryInterval,
		ExpireInterval:  cfg.RPKI.ExpireInterval,
		SessionID:       cfg.RPKI.SessionID,
		CacheID:         cfg.RPKI.CacheID,
	}, log, rpkiQueue)

	metrics.Register()
	metricsSrv := &http.Server{
		Addr:    cfg.Metrics.Listen,
		Handler: promhttp.Handler(),
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	go feed.Run(ctx)

	err = srv.Run(ctx)
	if cause := context.Cause(ctx); cause != nil && cause != context.Canceled {
		log.Info().Err(cause).Msg("server stopped")
	}
	return err
}
