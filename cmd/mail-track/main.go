// Package main is the entry point for the mail tracking proxy.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/shineum/mail-track-lite/internal/config"
	"github.com/shineum/mail-track-lite/internal/events"
	"github.com/shineum/mail-track-lite/internal/feedback"
	"github.com/shineum/mail-track-lite/internal/provider"
	"github.com/shineum/mail-track-lite/internal/provider/ses"
	"github.com/shineum/mail-track-lite/internal/provider/stdout"
	"github.com/shineum/mail-track-lite/internal/retention"
	"github.com/shineum/mail-track-lite/internal/smtp"
	"github.com/shineum/mail-track-lite/internal/store"
	smtptls "github.com/shineum/mail-track-lite/internal/tls"
	"github.com/shineum/mail-track-lite/internal/tracking"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	flag.Parse()

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	setupLogger(cfg.Logging.Level)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		sig := <-sigCh
		slog.Info("received signal, initiating shutdown", "signal", sig)
		cancel()
	}()

	// Load or generate TLS certificates
	tlsConfig, err := smtptls.LoadOrGenerateTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.SMTP.Hostname)
	if err != nil {
		slog.Error("failed to setup TLS", "error", err)
		os.Exit(1)
	}

	// Correlation store
	st, cleanup, err := selectStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to setup correlation store", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	// Event sink
	sink, sinkCleanup, err := selectSink(cfg)
	if err != nil {
		slog.Error("failed to setup event sink", "error", err)
		os.Exit(1)
	}
	defer sinkCleanup()

	// Send-path instrumentation
	injector := tracking.NewInjector(
		tracking.Endpoints{
			OpenURL:  cfg.Tracking.OpenURL,
			ClickURL: cfg.Tracking.ClickURL,
			SiteRoot: cfg.Tracking.SiteRoot,
		},
		tracking.Options{
			InjectPixel: cfg.Tracking.InjectPixel,
			InjectLinks: cfg.Tracking.InjectLinks,
		},
	)
	tracker := tracking.NewTracker(
		tracking.NewAllocator(st, cfg.Tracking.TokenLength),
		tracking.NewRewriter(injector),
		st,
	)

	// Select email delivery provider
	prov := selectProvider(ctx, cfg)

	// Create SMTP server
	server := smtp.New(smtp.ServerConfig{
		ListenAddr:     cfg.SMTP.Listen,
		Hostname:       cfg.SMTP.Hostname,
		Provider:       prov,
		Tracker:        tracker,
		MaxMessageSize: cfg.SMTP.MaxMessageSize,
		TLSConfig:      tlsConfig,
		AuthUsername:   cfg.SMTP.Username,
		AuthPassword:   cfg.SMTP.Password,
	})

	slog.Info("starting mail-track-lite",
		"listen", cfg.SMTP.Listen,
		"provider", prov.Name(),
		"auth_enabled", cfg.AuthEnabled(),
		"feedback_enabled", cfg.FeedbackConfigured(),
	)

	var wg sync.WaitGroup

	// Feedback consumer
	if cfg.FeedbackConfigured() {
		consumer, err := buildFeedbackConsumer(ctx, cfg, st, sink)
		if err != nil {
			slog.Error("failed to setup feedback consumer", "error", err)
			os.Exit(1)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Run(ctx); err != nil {
				slog.Error("feedback consumer error", "error", err)
			}
		}()
	}

	// Retention sweeper
	sweeper := retention.NewSweeper(st, time.Duration(cfg.Tracking.RetentionDays)*24*time.Hour)
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()

	// Start the server (blocks until context is cancelled)
	if err := server.ListenAndServe(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	wg.Wait()
	slog.Info("mail-track-lite stopped")
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level.
func setupLogger(level string) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// selectStore opens the Postgres correlation store when a DSN is configured
// and falls back to the in-memory store otherwise.
func selectStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	if cfg.PostgresConfigured() {
		pg, err := store.NewPostgres(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("using postgres correlation store")
		return pg, pg.Close, nil
	}

	slog.Warn("no postgres DSN configured, using in-memory correlation store")
	return store.NewMemory(), func() {}, nil
}

// selectSink connects the AMQP event sink when a broker is configured and
// falls back to logging events otherwise.
func selectSink(cfg *config.Config) (events.Sink, func(), error) {
	if cfg.EventsConfigured() {
		sink, err := events.NewAMQPSink(cfg.Events.AMQPURL, cfg.Events.Exchange)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("using AMQP event sink", "exchange", cfg.Events.Exchange)
		return sink, func() { sink.Close() }, nil
	}

	slog.Info("no broker configured, logging domain events")
	return events.LogSink{}, func() {}, nil
}

// buildFeedbackConsumer wires the SQS client and processor for the
// delivery-feedback queue.
func buildFeedbackConsumer(ctx context.Context, cfg *config.Config, st store.Store, sink events.Sink) (*feedback.Consumer, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Feedback.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Feedback.Region))
	} else if cfg.SES.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.SES.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	processor := feedback.NewProcessor(st, sink)
	return feedback.NewConsumer(sqs.NewFromConfig(awsCfg), cfg.Feedback.QueueURL, processor), nil
}

// selectProvider chooses the email delivery backend based on configuration.
// If the PROVIDER env var is set, it takes precedence.
// Otherwise, it falls back to auto-detection (SES if configured, else stdout).
func selectProvider(ctx context.Context, cfg *config.Config) provider.Provider {
	switch cfg.Provider {
	case "ses":
		if !cfg.SESConfigured() {
			slog.Error("SES provider selected but SES_REGION and SES_SENDER are required")
			os.Exit(1)
		}
		slog.Info("using AWS SES provider",
			"region", cfg.SES.Region,
			"sender", cfg.SES.Sender,
		)
		p, err := ses.New(ctx, ses.SESProviderConfig{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
			Sender:          cfg.SES.Sender,
		})
		if err != nil {
			slog.Error("failed to create SES provider", "error", err)
			os.Exit(1)
		}
		return p

	case "stdout":
		slog.Info("using stdout provider")
		return stdout.New()

	case "":
		// Auto-detection fallback
		if cfg.SESConfigured() {
			slog.Info("using AWS SES provider (auto-detected)",
				"region", cfg.SES.Region,
				"sender", cfg.SES.Sender,
			)
			p, err := ses.New(ctx, ses.SESProviderConfig{
				Region:          cfg.SES.Region,
				AccessKeyID:     cfg.SES.AccessKeyID,
				SecretAccessKey: cfg.SES.SecretAccessKey,
				Sender:          cfg.SES.Sender,
			})
			if err != nil {
				slog.Error("failed to create SES provider", "error", err)
				os.Exit(1)
			}
			return p
		}
		slog.Info("no provider configured, using stdout provider")
		return stdout.New()

	default:
		slog.Error("unknown provider", "provider", cfg.Provider)
		os.Exit(1)
		return nil
	}
}
