// Parlato is a realtime voice language tutor. It captures microphone audio,
// streams it to the Gemini Live API, plays the tutor's speech back gaplessly,
// and meters call time against a credit balance. A local websocket gateway
// exposes the call to the UI.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/parlato-app/parlato/pkg/audio"
	"github.com/parlato-app/parlato/pkg/audio/capture"
	"github.com/parlato-app/parlato/pkg/audio/playback"
	"github.com/parlato-app/parlato/pkg/billing"
	"github.com/parlato-app/parlato/pkg/call"
	"github.com/parlato-app/parlato/pkg/gateway"
	"github.com/parlato-app/parlato/pkg/gemini"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is a local-dev convenience; absence is fine.
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel()}))
	slog.SetDefault(logger)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, cleanup, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	topUp := billing.NewTopUp(cfg.StripeSecretKey, cfg.StripePriceID, cfg.TopUpSuccessURL, cfg.TopUpCancelURL)
	if topUp == nil {
		logger.Warn("stripe not configured; billing notices will carry no payment link")
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", gateway.NewServer(sessionFactory(cfg, store, topUp, logger), gateway.Config{
		PingInterval: cfg.WSPingInterval,
		WriteTimeout: cfg.WSWriteTimeout,
		Logger:       logger,
	}))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", cfg.Addr, "model", cfg.Model, "language", cfg.TargetLanguage)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("gateway: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func logLevel() slog.Level {
	if os.Getenv("PARLATO_DEBUG") != "" {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// openStore selects the credit store. With a database URL the store is
// Postgres, migrated on startup; without one it is an in-memory store seeded
// with starter credits, enough for local development.
func openStore(ctx context.Context, cfg config, logger *slog.Logger) (billing.CreditStore, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("no database configured, using in-memory credit store",
			"starter_credits", cfg.StarterCredits)
		store := billing.NewMemoryStore()
		store.Grant(cfg.UserID, cfg.StarterCredits)
		return store, func() {}, nil
	}

	if err := billing.Migrate(ctx, cfg.DatabaseURL); err != nil {
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping: %w", err)
	}
	logger.Info("using postgres credit store")
	return billing.NewPostgresStore(pool), pool.Close, nil
}

// sessionFactory builds one call session per start_call. Each session owns
// its devices and its connection; nothing is shared between calls.
func sessionFactory(cfg config, store billing.CreditStore, topUp *billing.TopUp, logger *slog.Logger) gateway.SessionFactory {
	instruction := tutorInstruction(cfg.TargetLanguage, cfg.CEFRLevel)

	return func(onStatus func(call.Status), onNotice func(call.Notice)) (gateway.Call, error) {
		speaker, err := playback.NewSpeaker(audio.ModelOutputRate)
		if err != nil {
			return nil, fmt.Errorf("speaker: %w", err)
		}

		mic := capture.New(capture.Config{
			RequestedRate: cfg.CaptureRate,
			Logger:        logger,
		})

		dial := func(ctx context.Context, apiKey string) (call.LiveConn, error) {
			return gemini.Dial(ctx, apiKey, gemini.Config{
				Model:             cfg.Model,
				Voice:             cfg.Voice,
				SystemInstruction: instruction,
				Logger:            logger,
			})
		}

		sess, err := call.New(call.Config{
			UserID:         cfg.UserID,
			Credentials:    cfg.APIKeys,
			LevelStride:    cfg.LevelStride,
			ConnectTimeout: cfg.ConnectTimeout,
		}, call.Dependencies{
			Dial: dial,
			Mic:  mic,
			Speaker: &player{
				Scheduler: playback.NewScheduler(playback.Config{Sink: speaker, Logger: logger}),
				speaker:   speaker,
			},
			Store:    store,
			TopUp:    topUp,
			OnStatus: onStatus,
			OnNotice: onNotice,
			Logger:   logger,
		})
		if err != nil {
			_ = speaker.Close()
			_ = mic.Close()
			return nil, err
		}
		return sess, nil
	}
}

// player pairs a scheduler with the speaker it feeds so the session's Close
// releases both.
type player struct {
	*playback.Scheduler
	speaker *playback.Speaker
}

func (p *player) Close() error {
	_ = p.Scheduler.Close()
	return p.speaker.Close()
}

func tutorInstruction(language, level string) string {
	return fmt.Sprintf(
		"You are a friendly %s tutor. Hold a spoken conversation entirely in %s, "+
			"pitched at CEFR level %s. Keep your turns short, ask questions to keep "+
			"the student talking, and gently correct mistakes by restating the "+
			"student's sentence correctly before moving on.",
		language, language, level)
}
