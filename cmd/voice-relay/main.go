package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/GeanToroDevFS/RealTimeVoiceBackend/internal/config"
	"github.com/GeanToroDevFS/RealTimeVoiceBackend/internal/httpserver"
	"github.com/GeanToroDevFS/RealTimeVoiceBackend/internal/meeting"
	"github.com/GeanToroDevFS/RealTimeVoiceBackend/internal/metrics"
	"github.com/GeanToroDevFS/RealTimeVoiceBackend/internal/voice"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	// .env is a local development convenience; a missing file is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting voice-relay",
		"listen_addr", cfg.ListenAddr,
		"public_base_url", cfg.PublicBaseURL,
		"mode", cfg.Mode,
		"auth_mode", cfg.AuthMode,
		"max_connections", cfg.MaxConnections,
		"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
		"max_signaling_messages_per_second", cfg.MaxSignalingMessagesPerSecond,
		"meeting_service_url_set", cfg.MeetingServiceURL != "",
		"turn_rest_enabled", cfg.TURNREST.Enabled(),
	)

	validator, err := newMeetingValidator(cfg)
	if err != nil {
		logger.Error("failed to configure meeting validation", "err", err)
		os.Exit(2)
	}

	logStartupSecurityWarnings(logger, cfg)

	m := metrics.New()

	hub := voice.NewHub(voice.HubConfig{
		Log:       logger,
		Metrics:   m,
		Validator: validator,
		MaxConns:  cfg.MaxConnections,
	})

	voiceSrv, err := voice.NewServer(cfg, hub, logger)
	if err != nil {
		logger.Error("failed to configure signaling", "err", err)
		os.Exit(2)
	}

	commit, built := resolveBuildInfo(buildCommit, buildTime)
	srv, err := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built}, m)
	if err != nil {
		logger.Error("failed to configure http server", "err", err)
		os.Exit(2)
	}
	srv.RegisterVoice(voiceSrv)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}
	hub.CloseAll()

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

// newMeetingValidator picks the meeting status source. Without a configured
// meeting service every meeting counts as active, which is only acceptable in
// dev; config.Load rejects that combination in prod.
func newMeetingValidator(cfg config.Config) (meeting.Validator, error) {
	if cfg.MeetingServiceURL == "" {
		return meeting.StaticValidator{Active: true}, nil
	}
	hv, err := meeting.NewHTTPValidator(cfg.MeetingServiceURL, cfg.MeetingLookupTimeout)
	if err != nil {
		return nil, err
	}
	if cfg.MeetingStatusCacheTTL > 0 {
		return meeting.NewCachedValidator(hv, cfg.MeetingStatusCacheTTL), nil
	}
	return hv, nil
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
