package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/stephenadei/tutorbot/internal/api"
	"github.com/stephenadei/tutorbot/internal/chatwoot"
	"github.com/stephenadei/tutorbot/internal/flow"
	"github.com/stephenadei/tutorbot/internal/genai"
	"github.com/stephenadei/tutorbot/internal/lockfile"
	"github.com/stephenadei/tutorbot/internal/messaging"
	"github.com/stephenadei/tutorbot/internal/metrics"
	"github.com/stephenadei/tutorbot/internal/store"
	"github.com/stephenadei/tutorbot/internal/twiliowhatsapp"
	"github.com/stephenadei/tutorbot/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for tutorbot state data
	DefaultStateDir = "/var/lib/tutorbot"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "tutorbot.db"
	// MemoryDSN selects the in-memory store
	MemoryDSN = "memory"

	ChannelChatwoot = "chatwoot"
	ChannelTwilio   = "twilio"
	BackendChatwoot = "chatwoot"
	BackendDB       = "db"

	dedupPurgeJob   = "dedup_purge"
	dedupPurgeEvery = time.Hour
	shutdownTimeout = 30 * time.Second
)

// Config holds environment configuration
type Config struct {
	StateDir         string
	DatabaseURL      string
	APIAddr          string
	LogLevel         string
	LogFormat        string
	Channel          string
	AttributeBackend string

	ChatwootURL       string
	ChatwootAccountID string
	ChatwootToken     string
	ChatwootSecret    string
	HumanAssigneeID   int
	BotAssigneeID     int

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
	TwilioWebhookURL string

	OpenAIKey   string
	OpenAIModel string

	NATSURL            string
	NATSHandoffSubject string

	AgeTTL              time.Duration
	DedupRetention      time.Duration
	ExternalCallTimeout time.Duration
	CorrectionBudget    int
	NameMaxEmojiRatio   float64
	NameMaxDigitRatio   float64
	Timezone            string
	OutboxEnabled       bool
	RateLimitPerMinute  int
}

func main() {
	config := loadEnvironmentConfig()

	config, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	initializeLogger(config.LogLevel, config.LogFormat)

	if err := validateConfig(config); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Bootstrapping tutorbot",
		"channel", config.Channel,
		"attribute_backend", config.AttributeBackend,
		"state_dir", config.StateDir,
		"dsn_type", dsnType(config.DatabaseURL),
		"api_addr", config.APIAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config); err != nil {
		slog.Error("tutorbot failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("tutorbot exited successfully")
}

// initializeLogger installs the default slog handler. Unknown levels fall back to debug.
func initializeLogger(level, format string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:         util.EnvOr("TUTORBOT_STATE_DIR", DefaultStateDir),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		APIAddr:          util.EnvOr("API_ADDR", api.DefaultAddr),
		LogLevel:         util.EnvOr("LOG_LEVEL", "debug"),
		LogFormat:        util.EnvOr("LOG_FORMAT", "text"),
		Channel:          strings.ToLower(util.EnvOr("CHANNEL", ChannelChatwoot)),
		AttributeBackend: strings.ToLower(util.EnvOr("ATTRIBUTE_BACKEND", BackendChatwoot)),

		ChatwootURL:       os.Getenv("CW_URL"),
		ChatwootAccountID: os.Getenv("CW_ACC_ID"),
		ChatwootToken:     os.Getenv("CW_TOKEN"),
		ChatwootSecret:    os.Getenv("CW_HMAC_SECRET"),
		HumanAssigneeID:   util.ParseIntEnv("CW_HUMAN_ASSIGNEE_ID", 0),
		BotAssigneeID:     util.ParseIntEnv("CW_BOT_ASSIGNEE_ID", 0),

		TwilioAccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber: os.Getenv("TWILIO_FROM_NUMBER"),
		TwilioWebhookURL: os.Getenv("TWILIO_WEBHOOK_URL"),

		OpenAIKey:   os.Getenv("OPENAI_API_KEY"),
		OpenAIModel: util.EnvOr("OPENAI_MODEL", genai.DefaultModel),

		NATSURL:            os.Getenv("NATS_URL"),
		NATSHandoffSubject: util.EnvOr("NATS_HANDOFF_SUBJECT", messaging.DefaultHandoffSubject),

		AgeTTL:              util.ParseDurationEnv("AGE_TTL", flow.DefaultAgeTTL),
		DedupRetention:      util.ParseDurationEnv("DEDUP_RETENTION", store.DefaultDedupRetention),
		ExternalCallTimeout: util.ParseDurationEnv("EXTERNAL_CALL_TIMEOUT", flow.DefaultCallTimeout),
		CorrectionBudget:    util.ParseIntEnv("CORRECTION_BUDGET", flow.DefaultCorrectionBudget),
		NameMaxEmojiRatio:   util.ParseFloatEnv("NAME_MAX_EMOJI_RATIO", flow.DefaultNameMaxEmojiRatio),
		NameMaxDigitRatio:   util.ParseFloatEnv("NAME_MAX_DIGIT_RATIO", flow.DefaultNameMaxDigitRatio),
		Timezone:            util.EnvOr("TIMEZONE", flow.DefaultTimezone),
		OutboxEnabled:       util.ParseBoolEnv("OUTBOX_ENABLED", true),
		RateLimitPerMinute:  util.ParseIntEnv("RATE_LIMIT_PER_MINUTE", api.DefaultRateLimitPerMinute),
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No DATABASE_URL provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"TUTORBOT_STATE_DIR", config.StateDir,
		"DATABASE_URL_TYPE", dsnType(config.DatabaseURL),
		"CHANNEL", config.Channel,
		"ATTRIBUTE_BACKEND", config.AttributeBackend,
		"CW_HMAC_SECRET_SET", config.ChatwootSecret != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"NATS_URL_SET", config.NATSURL != "")

	return config
}

// parseCommandLineFlags applies command line overrides on top of the environment.
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) (Config, error) {
	envStateDir := config.StateDir
	envDSN := config.DatabaseURL

	fs.StringVar(&config.StateDir, "state-dir", config.StateDir, "state directory for tutorbot data (overrides $TUTORBOT_STATE_DIR)")
	fs.StringVar(&config.DatabaseURL, "db-dsn", config.DatabaseURL, "SQLite path, Postgres DSN or \"memory\" (overrides $DATABASE_URL)")
	fs.StringVar(&config.APIAddr, "api-addr", config.APIAddr, "API server address (overrides $API_ADDR)")
	fs.StringVar(&config.Channel, "channel", config.Channel, "reply channel: chatwoot or twilio (overrides $CHANNEL)")
	fs.StringVar(&config.AttributeBackend, "attribute-backend", config.AttributeBackend, "attribute store: chatwoot or db (overrides $ATTRIBUTE_BACKEND)")
	fs.StringVar(&config.LogLevel, "log-level", config.LogLevel, "debug, info, warn or error (overrides $LOG_LEVEL)")
	fs.StringVar(&config.OpenAIKey, "openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)")
	if err := fs.Parse(args); err != nil {
		return config, err
	}

	// Follow a state directory override when the DSN was the derived default.
	if config.DatabaseURL == envDSN && envDSN == filepath.Join(envStateDir, DefaultDBFileName) && config.StateDir != envStateDir {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
	}
	config.Channel = strings.ToLower(config.Channel)
	config.AttributeBackend = strings.ToLower(config.AttributeBackend)
	return config, nil
}

func validateConfig(config Config) error {
	var errs []error
	if config.Channel != ChannelChatwoot && config.Channel != ChannelTwilio {
		errs = append(errs, fmt.Errorf("unknown channel %q", config.Channel))
	}
	if config.AttributeBackend != BackendChatwoot && config.AttributeBackend != BackendDB {
		errs = append(errs, fmt.Errorf("unknown attribute backend %q", config.AttributeBackend))
	}
	if config.AttributeBackend == BackendDB && config.DatabaseURL == MemoryDSN {
		slog.Warn("Attribute backend db with the in-memory store loses all state on restart")
	}
	if config.CorrectionBudget < 1 {
		errs = append(errs, fmt.Errorf("CORRECTION_BUDGET must be at least 1, got %d", config.CorrectionBudget))
	}
	return errors.Join(errs...)
}

func dsnType(dsn string) string {
	if dsn == MemoryDSN {
		return MemoryDSN
	}
	return store.DetectDSNType(dsn)
}

func needsChatwoot(config Config) bool {
	return config.Channel == ChannelChatwoot || config.AttributeBackend == BackendChatwoot ||
		config.HumanAssigneeID != 0 || config.BotAssigneeID != 0
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(config Config) []store.Option {
	opts := []store.Option{store.WithDedupRetention(config.DedupRetention)}
	switch dsnType(config.DatabaseURL) {
	case "postgres":
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_set", true)
		opts = append(opts, store.WithPostgresDSN(config.DatabaseURL))
	case "sqlite":
		slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", config.DatabaseURL)
		opts = append(opts, store.WithSQLiteDSN(config.DatabaseURL))
	default:
		slog.Debug("Using in-memory store")
	}
	return opts
}

// buildChatwootOptions constructs Chatwoot client options
func buildChatwootOptions(config Config) []chatwoot.Option {
	return []chatwoot.Option{
		chatwoot.WithBaseURL(config.ChatwootURL),
		chatwoot.WithAccountID(config.ChatwootAccountID),
		chatwoot.WithToken(config.ChatwootToken),
		chatwoot.WithTimeout(config.ExternalCallTimeout),
	}
}

// buildTwilioOptions constructs Twilio client options
func buildTwilioOptions(config Config) []twiliowhatsapp.Option {
	return []twiliowhatsapp.Option{
		twiliowhatsapp.WithAccountSID(config.TwilioAccountSID),
		twiliowhatsapp.WithAuthToken(config.TwilioAuthToken),
		twiliowhatsapp.WithFromWhats(config.TwilioFromNumber),
	}
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(config Config) []genai.Option {
	var opts []genai.Option
	if config.OpenAIKey != "" {
		opts = append(opts, genai.WithAPIKey(config.OpenAIKey))
	}
	if config.OpenAIModel != "" {
		opts = append(opts, genai.WithModel(config.OpenAIModel))
	}
	return opts
}

// buildEngineOptions constructs dialogue engine options
func buildEngineOptions(config Config) []flow.Option {
	names := flow.DefaultNameValidator()
	names.MaxEmojiRatio = config.NameMaxEmojiRatio
	names.MaxDigitRatio = config.NameMaxDigitRatio

	retry := flow.DefaultRetrier()
	retry.Timeout = config.ExternalCallTimeout

	return []flow.Option{
		flow.WithAgeTTL(config.AgeTTL),
		flow.WithCorrectionBudget(config.CorrectionBudget),
		flow.WithNameValidator(names),
		flow.WithLocation(flow.LoadLocation(config.Timezone)),
		flow.WithRetrier(retry),
	}
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(config Config) []api.Option {
	opts := []api.Option{
		api.WithAddr(config.APIAddr),
		api.WithRateLimit(config.RateLimitPerMinute),
	}
	if config.ChatwootSecret != "" {
		opts = append(opts, api.WithChatwootSecret(config.ChatwootSecret))
	} else {
		slog.Warn("CW_HMAC_SECRET not set, Chatwoot webhook signatures are not verified")
	}
	if config.TwilioAuthToken != "" && config.TwilioWebhookURL != "" {
		opts = append(opts, api.WithTwilioValidation(twiliowhatsapp.NewValidator(config.TwilioAuthToken), config.TwilioWebhookURL))
	} else if config.Channel == ChannelTwilio {
		slog.Warn("TWILIO_WEBHOOK_URL or TWILIO_AUTH_TOKEN not set, Twilio webhook signatures are not verified")
	}
	return opts
}

// run wires every component and serves until ctx is cancelled.
func run(ctx context.Context, config Config) error {
	lock, err := lockfile.AcquireLock(config.StateDir, config.APIAddr)
	if err != nil {
		return err
	}
	defer lock.Release()

	if dsnType(config.DatabaseURL) == MemoryDSN {
		config.DatabaseURL = ""
	}
	st, err := store.Open(buildStoreOptions(config)...)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	var cw *chatwoot.Client
	if needsChatwoot(config) {
		if cw, err = chatwoot.NewClient(buildChatwootOptions(config)...); err != nil {
			return fmt.Errorf("failed to create Chatwoot client: %w", err)
		}
	}

	var attrs store.AttributeStore = st
	if config.AttributeBackend == BackendChatwoot {
		attrs = cw
	}

	var channel messaging.Gateway
	switch config.Channel {
	case ChannelTwilio:
		tw, err := twiliowhatsapp.NewClient(buildTwilioOptions(config)...)
		if err != nil {
			return fmt.Errorf("failed to create Twilio client: %w", err)
		}
		channel = messaging.NewTwilioGateway(tw)
	default:
		channel = messaging.NewChatwootGateway(cw)
	}

	gateway := channel
	if pp, ok := st.(store.PersistenceProvider); ok {
		if config.OutboxEnabled {
			gateway = messaging.NewOutboxGateway(pp.OutboxRepo())
			sender := store.NewOutboxSender(pp.OutboxRepo(), messaging.DeliverFunc(channel), 0)
			sender.OnResult(metrics.RecordOutboxResult)
			if err := sender.RecoverStaleMessages(ctx); err != nil {
				slog.Warn("Failed to recover stale outbox messages", "error", err)
			}
			go sender.Run(ctx)
		}

		runner := store.NewJobRunner(pp.JobRepo(), 0)
		if err := runner.RecoverStaleJobs(ctx); err != nil {
			slog.Warn("Failed to recover stale jobs", "error", err)
		}
		dedup := pp.DedupRepo()
		err := runner.Every(ctx, dedupPurgeJob, dedupPurgeEvery, func(ctx context.Context, _ string) error {
			n, err := dedup.PurgeInboundBefore(ctx, time.Now().Add(-config.DedupRetention))
			if err != nil {
				return err
			}
			slog.Debug("Purged inbound message ids", "count", n, "retention", config.DedupRetention)
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to schedule %s: %w", dedupPurgeJob, err)
		}
		go runner.Run(ctx)
	}

	var routers messaging.MultiRouter
	if config.NATSURL != "" {
		nc, err := messaging.ConnectNATS(config.NATSURL)
		if err != nil {
			return err
		}
		defer nc.Drain()
		routers = append(routers, messaging.NewNATSPublisher(nc, config.NATSHandoffSubject))
	}
	if cw != nil && (config.HumanAssigneeID != 0 || config.BotAssigneeID != 0) {
		routers = append(routers, messaging.NewChatwootAssigner(cw, config.HumanAssigneeID, config.BotAssigneeID))
	}
	if len(routers) == 0 {
		routers = append(routers, messaging.NopRouter{})
	}

	engineOpts := append(buildEngineOptions(config), flow.WithHandoffRouter(routers))
	if config.OpenAIKey != "" {
		extractor, err := genai.NewClient(buildGenAIOptions(config)...)
		if err != nil {
			return fmt.Errorf("failed to create GenAI client: %w", err)
		}
		engineOpts = append(engineOpts, flow.WithExtractor(extractor))
	} else {
		slog.Info("OPENAI_API_KEY not set, opening messages are not pre-filled")
	}

	retry := flow.DefaultRetrier()
	retry.Timeout = config.ExternalCallTimeout
	engine := flow.NewEngine(flow.NewStoreBasedStateManager(attrs, retry), gateway, engineOpts...)

	srv := api.NewServer(engine, st.DedupRepo(), buildAPIOptions(config)...)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutdown signal received, draining HTTP server", "timeout", shutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return <-errCh
}
