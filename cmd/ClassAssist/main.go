package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/gops/agent"
	"github.com/joho/godotenv"

	"github.com/BTreeMap/ClassAssist/internal/api"
	"github.com/BTreeMap/ClassAssist/internal/backend"
	"github.com/BTreeMap/ClassAssist/internal/controller"
	"github.com/BTreeMap/ClassAssist/internal/flow"
	"github.com/BTreeMap/ClassAssist/internal/genai"
	"github.com/BTreeMap/ClassAssist/internal/lockfile"
	"github.com/BTreeMap/ClassAssist/internal/messaging"
	"github.com/BTreeMap/ClassAssist/internal/models"
	"github.com/BTreeMap/ClassAssist/internal/store"
	"github.com/BTreeMap/ClassAssist/internal/twiliowhatsapp"
	"github.com/BTreeMap/ClassAssist/internal/util"
	"github.com/BTreeMap/ClassAssist/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for ClassAssist state data
	DefaultStateDir = "/var/lib/classassist"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "classassist.db"
	// DefaultWhatsAppDBFileName is the default whatsmeow device store filename
	DefaultWhatsAppDBFileName = "whatsmeow.db"
)

// Channel names accepted by -channel.
const (
	channelNone     = "none"
	channelWhatsApp = "whatsapp"
	channelTwilio   = "twilio"
)

func main() {
	// .env may carry LOG_LEVEL, so it is loaded before the logger exists
	envErr := godotenv.Load()
	initializeLogger(util.GetenvDefault("LOG_LEVEL", "info"))
	if envErr != nil {
		slog.Debug("failed to load .env file", "error", envErr)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := run(flags); err != nil {
		slog.Error("ClassAssist failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("ClassAssist exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir      string
	DatabaseURL   string
	RedisURL      string
	WhatsAppDSN   string
	APIAddr       string
	TuningFile    string
	Channel       string
	ChannelRoles  []string
	Classifier    string
	OpenAIKey     string
	WebhookURL    string
	BackendTenant models.Tenant
	Gops          bool
}

// Flags holds command line flag values
type Flags struct {
	stateDir    *string
	dbDSN       *string
	redisURL    *string
	waDSN       *string
	qrOutput    *string
	numeric     *bool
	apiAddr     *string
	tuningFile  *string
	channel     *string
	classifier  *string
	openaiKey   *string
	webhookURL  *string
	roles       []string
	tenant      models.Tenant
	gops        bool
	dbDefaulted bool
}

// initializeLogger sets up structured logging at the configured level
func initializeLogger(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables
func loadEnvironmentConfig() Config {
	config := Config{
		StateDir:     util.GetenvDefault("CLASSASSIST_STATE_DIR", DefaultStateDir),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		RedisURL:     os.Getenv("REDIS_URL"),
		WhatsAppDSN:  os.Getenv("WHATSAPP_DB_DSN"),
		APIAddr:      util.GetenvDefault("API_ADDR", api.DefaultAddr),
		TuningFile:   os.Getenv("TUNING_FILE"),
		Channel:      util.GetenvDefault("CHANNEL", channelNone),
		ChannelRoles: util.ParseListEnv("CHANNEL_ROLES", []string{"teacher"}),
		Classifier:   util.GetenvDefault("CLASSIFIER", "backend"),
		OpenAIKey:    os.Getenv("OPENAI_API_KEY"),
		WebhookURL:   os.Getenv("TWILIO_WEBHOOK_URL"),
		BackendTenant: models.Tenant{
			Token:           os.Getenv("BACKEND_TOKEN"),
			AcademicSession: os.Getenv("ACADEMIC_SESSION"),
			BranchToken:     os.Getenv("BRANCH_TOKEN"),
		},
		Gops: util.ParseBoolEnv("GOPS", false),
	}

	slog.Debug("environment variables loaded",
		"CLASSASSIST_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"REDIS_URL_SET", config.RedisURL != "",
		"API_ADDR", config.APIAddr,
		"CHANNEL", config.Channel,
		"CLASSIFIER", config.Classifier,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "")
	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:   flag.String("state-dir", config.StateDir, "state directory for ClassAssist data (overrides $CLASSASSIST_STATE_DIR)"),
		dbDSN:      flag.String("db-dsn", config.DatabaseURL, "session store DSN, PostgreSQL or SQLite path (overrides $DATABASE_URL)"),
		redisURL:   flag.String("redis-url", config.RedisURL, "Redis URL for attendance snapshots (overrides $REDIS_URL)"),
		waDSN:      flag.String("whatsapp-db-dsn", config.WhatsAppDSN, "whatsmeow device store DSN (overrides $WHATSAPP_DB_DSN)"),
		qrOutput:   flag.String("qr-output", "", "path to write login QR code"),
		numeric:    flag.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		apiAddr:    flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		tuningFile: flag.String("tuning-file", config.TuningFile, "YAML tuning file, reloaded on change (overrides $TUNING_FILE)"),
		channel:    flag.String("channel", config.Channel, "messaging channel: none, whatsapp or twilio (overrides $CHANNEL)"),
		classifier: flag.String("classifier", config.Classifier, "intent classifier: backend or openai (overrides $CLASSIFIER)"),
		openaiKey:  flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		webhookURL: flag.String("twilio-webhook-url", config.WebhookURL, "public URL Twilio signs webhook requests with (overrides $TWILIO_WEBHOOK_URL)"),
		roles:      config.ChannelRoles,
		tenant:     config.BackendTenant,
		gops:       config.Gops,
	}
	flag.Parse()

	if *flags.dbDSN == "" {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		flags.dbDefaulted = true
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", *flags.dbDSN)
	}
	if *flags.waDSN == "" {
		*flags.waDSN = filepath.Join(*flags.stateDir, DefaultWhatsAppDBFileName)
	}

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", !flags.dbDefaulted,
		"redisURL_set", *flags.redisURL != "",
		"apiAddr", *flags.apiAddr,
		"tuningFile", *flags.tuningFile,
		"channel", *flags.channel,
		"classifier", *flags.classifier,
		"openaiKeySet", *flags.openaiKey != "")
	return flags
}

func run(flags Flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if flags.gops {
		if err := agent.Listen(agent.Options{}); err != nil {
			slog.Warn("gops agent failed to start", "error", err)
		} else {
			defer agent.Close()
		}
	}

	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	tuning, err := loadTuning(ctx, *flags.tuningFile)
	if err != nil {
		return err
	}

	st, err := store.Open(ctx, buildStoreOptions(flags)...)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer st.Close()

	be, err := backend.NewClient(buildBackendOptions(flags)...)
	if err != nil {
		return fmt.Errorf("create backend client: %w", err)
	}

	classifier, speaker, err := buildModelClients(flags, be)
	if err != nil {
		return err
	}

	timer := flow.NewSimpleTimer()
	defer timer.Stop()

	ctrl := controller.NewController(st, flow.NewRouter(classifier, tuning), flow.NewDefaultDispatcher(be, tuning), be,
		controller.WithTimer(timer),
		controller.WithTuning(tuning),
		controller.WithSectionProgress(flow.NewCourseProgressHandler(be)),
		controller.WithSpeaker(speaker),
	)

	apiOpts := []api.Option{api.WithAddr(*flags.apiAddr)}
	handler, cleanup, err := startChannel(ctx, flags, ctrl)
	if err != nil {
		return err
	}
	defer cleanup()
	if handler != nil {
		apiOpts = append(apiOpts, api.WithTwilioWebhook(handler))
	}

	slog.Info("Bootstrapping ClassAssist with configured modules", "channel", *flags.channel, "classifier", *flags.classifier)
	return api.NewServer(ctrl, apiOpts...).Run(ctx)
}

// loadTuning reads the tuning file when one is configured and watches it for changes.
func loadTuning(ctx context.Context, path string) (*flow.TuningStore, error) {
	if path == "" {
		return flow.NewTuningStore(flow.DefaultTuning()), nil
	}
	t, err := flow.LoadTuningFile(path)
	if err != nil {
		return nil, fmt.Errorf("load tuning file: %w", err)
	}
	tuning := flow.NewTuningStore(t)
	go func() {
		if err := tuning.Watch(ctx, path); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("Tuning watcher stopped", "path", path, "error", err)
		}
	}()
	return tuning, nil
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql")
		storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
	} else {
		slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.dbDSN)
		storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
	}
	if *flags.redisURL != "" {
		storeOpts = append(storeOpts,
			store.WithRedisURL(*flags.redisURL),
			store.WithSnapshotTTL(util.ParseDurationEnv("SNAPSHOT_TTL", 24*time.Hour)))
	}
	return storeOpts
}

// buildBackendOptions constructs backend client options; base URL and API key fall back to env.
func buildBackendOptions(flags Flags) []backend.Option {
	return []backend.Option{
		backend.WithTimeout(util.ParseDurationEnv("BACKEND_TIMEOUT", backend.DefaultTimeout)),
		backend.WithTenantDefaults(flags.tenant),
	}
}

// buildModelClients picks the classifier and speech provider.
func buildModelClients(flags Flags, be *backend.Client) (flow.Classifier, controller.Speaker, error) {
	if *flags.openaiKey == "" {
		if *flags.classifier == "openai" {
			return nil, nil, errors.New("classifier openai requires an OpenAI API key")
		}
		return be, be, nil
	}
	gc, err := genai.NewClient(genai.WithAPIKey(*flags.openaiKey))
	if err != nil {
		return nil, nil, fmt.Errorf("create OpenAI client: %w", err)
	}
	if *flags.classifier == "openai" {
		return gc, gc, nil
	}
	return be, gc, nil
}

// startChannel connects the configured messaging channel to ctrl. It returns the Twilio
// webhook handler when one should be mounted, and a cleanup func that is always non-nil.
func startChannel(ctx context.Context, flags Flags, ctrl *controller.Controller) (http.HandlerFunc, func(), error) {
	var (
		svc     messaging.Service
		webhook http.HandlerFunc
		closers []func()
	)
	switch strings.ToLower(*flags.channel) {
	case "", channelNone:
		return nil, func() {}, nil
	case channelWhatsApp:
		var waOpts []whatsapp.Option
		waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.waDSN))
		if *flags.qrOutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
		}
		if *flags.numeric {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		client, err := whatsapp.NewClient(ctx, waOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("connect WhatsApp: %w", err)
		}
		closers = append(closers, client.Disconnect)
		svc = messaging.NewWhatsAppService(client)
	case channelTwilio:
		client, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, nil, fmt.Errorf("create Twilio client: %w", err)
		}
		tw := messaging.NewTwilioService(client,
			messaging.WithWebhookAuthToken(os.Getenv("TWILIO_AUTH_TOKEN")),
			messaging.WithWebhookURL(*flags.webhookURL))
		webhook = tw.TwilioWebhookHandler
		svc = tw
	default:
		return nil, nil, fmt.Errorf("unknown channel %q", *flags.channel)
	}

	if err := svc.Start(ctx); err != nil {
		for _, c := range closers {
			c()
		}
		return nil, nil, fmt.Errorf("start %s service: %w", *flags.channel, err)
	}
	rh := messaging.NewResponseHandler(svc, ctrl,
		messaging.WithSessionTemplate(models.StartSessionRequest{
			Roles:           flags.roles,
			Token:           flags.tenant.Token,
			AcademicSession: flags.tenant.AcademicSession,
			BranchToken:     flags.tenant.BranchToken,
		}))
	rh.Start(ctx)

	cleanup := func() {
		if err := svc.Stop(); err != nil {
			slog.Warn("Messaging service stop failed", "error", err)
		}
		rh.Wait()
		for _, c := range closers {
			c()
		}
	}
	return webhook, cleanup, nil
}
