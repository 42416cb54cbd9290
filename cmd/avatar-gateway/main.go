package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/DaDanny/rpm-avatar/internal/dotenv"
	"github.com/DaDanny/rpm-avatar/pkg/gateway/config"
	gatewayserver "github.com/DaDanny/rpm-avatar/pkg/gateway/server"
	"github.com/DaDanny/rpm-avatar/pkg/llm"
	"github.com/DaDanny/rpm-avatar/pkg/voice/stt"
	"github.com/DaDanny/rpm-avatar/pkg/voice/tts"
)

type providers struct {
	transcriber stt.Transcriber
	responder   llm.Responder
	synthesizer tts.Synthesizer
}

type gatewayDeps struct {
	loadConfig   func() (config.Config, error)
	newProviders func(context.Context, config.Config) (providers, func(), error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultGatewayDeps() gatewayDeps {
	return gatewayDeps{
		loadConfig: func() (config.Config, error) {
			return config.Load(os.Getenv("AVATAR_CONFIG_FILE"))
		},
		newProviders: defaultProviders,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func defaultProviders(ctx context.Context, cfg config.Config) (providers, func(), error) {
	transcriber, err := stt.NewGoogle(ctx, stt.GoogleOptions{
		Language:        cfg.STTLanguage,
		CredentialsFile: cfg.GoogleCredentialsFile,
	})
	if err != nil {
		return providers{}, nil, fmt.Errorf("speech-to-text: %w", err)
	}
	synthesizer, err := tts.NewGoogle(ctx, tts.GoogleOptions{
		Voice: tts.Voice{
			LanguageCode: cfg.VoiceLanguage,
			Name:         cfg.VoiceName,
			SpeakingRate: cfg.SpeakingRate,
			Pitch:        cfg.Pitch,
		},
		CredentialsFile: cfg.GoogleCredentialsFile,
	})
	if err != nil {
		_ = transcriber.Close()
		return providers{}, nil, fmt.Errorf("text-to-speech: %w", err)
	}
	responder, err := llm.NewGemini(ctx, llm.GeminiOptions{
		APIKey: cfg.GeminiAPIKey,
		Model:  cfg.GeminiModel,
	})
	if err != nil {
		_ = transcriber.Close()
		_ = synthesizer.Close()
		return providers{}, nil, fmt.Errorf("gemini: %w", err)
	}

	cleanup := func() {
		_ = transcriber.Close()
		_ = synthesizer.Close()
	}
	return providers{
		transcriber: transcriber,
		responder:   responder,
		synthesizer: synthesizer,
	}, cleanup, nil
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func runGateway(ctx context.Context, logger *slog.Logger, deps gatewayDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.newProviders == nil {
		return errors.New("missing newProviders dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	p, cleanup, err := deps.newProviders(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init providers: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	gw := gatewayserver.New(cfg, logger, gatewayserver.Options{
		Transcriber: p.transcriber,
		Responder:   p.responder,
		Synthesizer: p.synthesizer,
	})
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	logger.Info("starting avatar gateway", "addr", cfg.Addr, "environment", cfg.Environment, "model", cfg.GeminiModel)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	gw.SetDraining()
	if warned := gw.WarnSessionsDraining(); warned > 0 {
		logger.Info("warned live sessions", "count", warned)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !gw.WaitSessions(waitCtx) {
		canceled := gw.CancelSessions()
		logger.Warn("canceled sessions that exceeded the grace period", "count", canceled)
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("avatar gateway stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps gatewayDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "avatar-gateway: %v\n", err)
		return 1
	}

	if err := runGateway(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "avatar-gateway: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultGatewayDeps()))
}
