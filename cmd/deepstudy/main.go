// Deepstudy is a Telegram bot that turns queued topics into long form study
// articles, one per user per day, published on Telegraph.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
	"github.com/sethvargo/go-retry"
	_ "golang.org/x/crypto/x509roots/fallback"
	"golang.org/x/sync/errgroup"
	_ "time/tzdata"

	"github.com/jdholdren/deepstudy/internal/api"
	"github.com/jdholdren/deepstudy/internal/bot"
	"github.com/jdholdren/deepstudy/internal/deepstudy"
	"github.com/jdholdren/deepstudy/internal/generate"
	"github.com/jdholdren/deepstudy/internal/logger"
	"github.com/jdholdren/deepstudy/internal/processor"
	"github.com/jdholdren/deepstudy/internal/scheduler"
	"github.com/jdholdren/deepstudy/internal/sqlite"
	"github.com/jdholdren/deepstudy/internal/telegram"
	"github.com/jdholdren/deepstudy/internal/telegraph"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// A missing .env is fine, the environment may be set already
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("error loading .env: %s", err)
	}

	// Parse the config
	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		log.Fatalf("error parsing config: %s", err)
	}

	slog.SetDefault(logger.New(cfg.LoggerFormat, os.Stderr))

	loc, err := cfg.validate()
	if err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Start the application
	if err := run(ctx, cfg, loc); err != nil {
		slog.Error("error running", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config, loc *time.Location) error {
	slog.Info("running", "config", cfg)

	dbx, err := sqlite.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("error opening database: %s", err)
	}
	defer dbx.Close()

	var (
		repo      = sqlite.New(dbx)
		queue     = deepstudy.NewQueue(repo)
		schedules = deepstudy.NewSchedules(repo)
		tg        = telegram.NewClient(cfg.TelegramToken, "")
	)

	token, err := telegraphToken(ctx, cfg)
	if err != nil {
		return err
	}

	proc := processor.New(
		queue,
		newGenerator(cfg),
		telegraph.NewPublisher(telegraph.NewClient(""), token, cfg.TelegraphAuthorName),
		telegram.NewNotifier(tg),
		processor.Config{
			GenerateTimeout: cfg.GenerateTimeout,
			PublishTimeout:  cfg.PublishTimeout,
		},
	)

	b, err := bot.New(tg, queue, schedules, proc, bot.Config{TimezoneLabel: tzLabel(loc, time.Now())})
	if err != nil {
		return err
	}

	sched := scheduler.New(schedules, queue, proc, loc)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("error starting scheduler: %s", err)
	}

	var srv *api.Server
	if cfg.Port != 0 {
		srv = api.NewServer(api.ServerConfig{Port: cfg.Port, CorsOrigin: cfg.CorsOrigin}, queue, schedules, proc)
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := b.Run(gCtx); err != nil {
			return fmt.Errorf("error running bot: %s", err)
		}

		return nil
	})
	if srv != nil {
		g.Go(func() error {
			slog.Info("api listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("error listening: %s", err)
			}

			return nil
		})
		g.Go(func() error {
			// Block from shutting down until the group is canceled
			<-gCtx.Done()

			downCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(downCtx); err != nil {
				slog.Error("error shutting down server", "error", err)
			}

			return nil
		})
	}

	runErr := g.Wait()

	// Let in flight generations finish so their topics are archived.
	downCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer cancel()
	if err := sched.Stop(downCtx); err != nil {
		slog.Error("error stopping scheduler", "error", err)
	}
	if err := b.Wait(downCtx); err != nil {
		slog.Error("error waiting on bot generations", "error", err)
	}
	if srv != nil {
		if err := srv.Wait(downCtx); err != nil {
			slog.Error("error waiting on api generations", "error", err)
		}
	}

	if runErr != nil {
		return fmt.Errorf("error running: %s", runErr)
	}

	return nil
}

func newGenerator(cfg config) processor.Generator {
	opts := generate.Options{MaxTokens: cfg.MaxTokens, Temperature: &cfg.Temperature}
	if cfg.Generator == generatorAnthropic {
		opts.Model = cfg.AnthropicModel
		return generate.NewClaude(cfg.AnthropicAPIKey, opts)
	}

	opts.Model = cfg.DeepSeekModel
	return generate.NewDeepSeek(cfg.DeepSeekAPIKey, cfg.DeepSeekBaseURL, opts)
}

// Uses the configured token, or creates an account with a few retries.
func telegraphToken(ctx context.Context, cfg config) (string, error) {
	if cfg.TelegraphToken != "" {
		return cfg.TelegraphToken, nil
	}

	var (
		client = telegraph.NewClient("")
		token  string
	)
	backoff := retry.WithMaxRetries(5, retry.NewFibonacci(time.Second))
	if err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		acc, err := client.CreateAccount(ctx, cfg.TelegraphShortName, cfg.TelegraphAuthorName)
		if err != nil {
			slog.Warn("error creating telegraph account", "error", err)
			return retry.RetryableError(err)
		}
		token = acc.AccessToken

		return nil
	}); err != nil {
		return "", fmt.Errorf("error creating telegraph account: %w", err)
	}

	slog.Info("created telegraph account", "short_name", cfg.TelegraphShortName)
	return token, nil
}
