package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/BTreeMap/Paradiso/internal/api"
	"github.com/BTreeMap/Paradiso/internal/genai"
	"github.com/BTreeMap/Paradiso/internal/store"
	"github.com/BTreeMap/Paradiso/internal/twiliowhatsapp"
	"github.com/BTreeMap/Paradiso/internal/util"
	"github.com/BTreeMap/Paradiso/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultWhatsAppDBFileName is the whatsmeow device database inside the state dir
	DefaultWhatsAppDBFileName = "whatsmeow.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := os.MkdirAll(*flags.stateDir, 0755); err != nil {
		slog.Error("Failed to create state directory", "error", err, "state_dir", *flags.stateDir)
		os.Exit(1)
	}

	waOpts := buildWhatsAppOptions(flags)
	twOpts := buildTwilioOptions(flags)
	storeOpts := buildStoreOptions(flags)
	genaiOpts := buildGenAIOptions(flags)
	apiOpts := buildAPIOptions(flags)

	slog.Info("Bootstrapping Paradiso", "transport", *flags.transport, "store", *flags.storeKind)
	slog.Debug("Module options counts", "whatsapp", len(waOpts), "twilio", len(twOpts), "store", len(storeOpts), "genai", len(genaiOpts), "api", len(apiOpts))
	if err := api.Run(context.Background(), waOpts, twOpts, storeOpts, genaiOpts, apiOpts); err != nil {
		slog.Error("Paradiso failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Paradiso exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir      string
	DatabaseURL   string
	StoreKind     string
	ItemsTable    string
	VotesTable    string
	Transport     string
	WhatsAppDSN   string
	QROutput      string
	NumericCode   bool
	TwilioSID     string
	TwilioToken   string
	TwilioFrom    string
	OpenAIKey     string
	OpenAIModel   string
	APIAddr       string
	SSMPrefix     string
	SweepSchedule string
	VoteWait      time.Duration
	SessionTTL    time.Duration
	DirectReplies bool
}

// Flags holds command line flag values
type Flags struct {
	stateDir      *string
	dbDSN         *string
	storeKind     *string
	itemsTable    *string
	votesTable    *string
	transport     *string
	waDSN         *string
	qrOutput      *string
	numeric       *bool
	twilioSID     *string
	twilioToken   *string
	twilioFrom    *string
	openaiKey     *string
	openaiModel   *string
	apiAddr       *string
	ssmPrefix     *string
	sweep         *string
	voteWait      *time.Duration
	sessionTTL    *time.Duration
	directReplies *bool
}

func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:      os.Getenv("PARADISO_STATE_DIR"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		StoreKind:     os.Getenv("PARADISO_STORE"),
		ItemsTable:    os.Getenv("DYNAMODB_ITEMS_TABLE"),
		VotesTable:    os.Getenv("DYNAMODB_VOTES_TABLE"),
		Transport:     os.Getenv("PARADISO_TRANSPORT"),
		WhatsAppDSN:   os.Getenv("WHATSAPP_DB_DSN"),
		QROutput:      os.Getenv("WHATSAPP_QR_OUTPUT"),
		NumericCode:   util.ParseBoolEnv("WHATSAPP_NUMERIC_CODE", false),
		TwilioSID:     os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:   os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:    os.Getenv("TWILIO_FROM_NUMBER"),
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:   os.Getenv("OPENAI_MODEL"),
		APIAddr:       os.Getenv("API_ADDR"),
		SSMPrefix:     os.Getenv("PARADISO_SSM_PREFIX"),
		SweepSchedule: os.Getenv("PARADISO_SWEEP_SCHEDULE"),
		VoteWait:      util.ParseDurationEnv("PARADISO_VOTE_WAIT", 0),
		SessionTTL:    util.ParseDurationEnv("PARADISO_SESSION_TTL", 0),
		DirectReplies: util.ParseBoolEnv("PARADISO_DIRECT_REPLIES", false),
	}

	if config.StateDir == "" {
		config.StateDir = api.DefaultStateDir
		slog.Debug("No PARADISO_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = whatsAppDSN(config.StateDir)
		slog.Debug("No WHATSAPP_DB_DSN set, defaulting to SQLite in the state dir", "dsn", config.WhatsAppDSN)
	}

	slog.Debug("environment variables loaded",
		"PARADISO_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"PARADISO_STORE", config.StoreKind,
		"PARADISO_TRANSPORT", config.Transport,
		"TWILIO_AUTH_TOKEN_SET", config.TwilioToken != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"PARADISO_SSM_PREFIX", config.SSMPrefix)

	return config
}

func whatsAppDSN(stateDir string) string {
	return "file:" + filepath.Join(stateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:      flag.String("state-dir", config.StateDir, "state directory for the lock and SQLite files (overrides $PARADISO_STATE_DIR)"),
		dbDSN:         flag.String("db-dsn", config.DatabaseURL, "item store DSN, SQLite path or postgres URL (overrides $DATABASE_URL)"),
		storeKind:     flag.String("store", config.StoreKind, "store backend: memory, sql or dynamodb (overrides $PARADISO_STORE)"),
		itemsTable:    flag.String("dynamodb-items-table", config.ItemsTable, "DynamoDB items table (overrides $DYNAMODB_ITEMS_TABLE)"),
		votesTable:    flag.String("dynamodb-votes-table", config.VotesTable, "DynamoDB votes table (overrides $DYNAMODB_VOTES_TABLE)"),
		transport:     flag.String("transport", config.Transport, "chat transport: whatsapp or twilio (overrides $PARADISO_TRANSPORT)"),
		waDSN:         flag.String("whatsapp-db-dsn", config.WhatsAppDSN, "whatsmeow device database DSN (overrides $WHATSAPP_DB_DSN)"),
		qrOutput:      flag.String("qr-output", config.QROutput, "path to write login QR code (overrides $WHATSAPP_QR_OUTPUT)"),
		numeric:       flag.Bool("numeric-code", config.NumericCode, "use numeric login code instead of QR code (overrides $WHATSAPP_NUMERIC_CODE)"),
		twilioSID:     flag.String("twilio-account-sid", config.TwilioSID, "Twilio account SID (overrides $TWILIO_ACCOUNT_SID)"),
		twilioToken:   flag.String("twilio-auth-token", config.TwilioToken, "Twilio auth token (overrides $TWILIO_AUTH_TOKEN)"),
		twilioFrom:    flag.String("twilio-from", config.TwilioFrom, "Twilio WhatsApp sender number (overrides $TWILIO_FROM_NUMBER)"),
		openaiKey:     flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		openaiModel:   flag.String("openai-model", config.OpenAIModel, "model for plot descriptions (overrides $OPENAI_MODEL)"),
		apiAddr:       flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		ssmPrefix:     flag.String("ssm-prefix", config.SSMPrefix, "SSM parameter path holding missing secrets (overrides $PARADISO_SSM_PREFIX)"),
		sweep:         flag.String("sweep-schedule", config.SweepSchedule, "cron expression for the idle-session sweep (overrides $PARADISO_SWEEP_SCHEDULE)"),
		voteWait:      flag.Duration("vote-wait", config.VoteWait, "how long a vote waits for the store to apply it (overrides $PARADISO_VOTE_WAIT)"),
		sessionTTL:    flag.Duration("session-ttl", config.SessionTTL, "idle time before a guided add expires (overrides $PARADISO_SESSION_TTL)"),
		directReplies: flag.Bool("direct-replies", config.DirectReplies, "continue guided adds in a direct chat (overrides $PARADISO_DIRECT_REPLIES)"),
	}

	flag.Parse()

	// Follow a moved state dir unless the whatsmeow DSN was set explicitly.
	if *flags.waDSN == config.WhatsAppDSN && config.WhatsAppDSN == whatsAppDSN(config.StateDir) && *flags.stateDir != config.StateDir {
		*flags.waDSN = whatsAppDSN(*flags.stateDir)
		slog.Debug("Updated WhatsApp DSN based on state directory", "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"store", *flags.storeKind,
		"transport", *flags.transport,
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"apiAddr", *flags.apiAddr,
		"sweep", *flags.sweep,
		"directReplies", *flags.directReplies)

	return flags
}

func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if *flags.waDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.waDSN))
	}
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	return waOpts
}

func buildTwilioOptions(flags Flags) []twiliowhatsapp.Option {
	var twOpts []twiliowhatsapp.Option
	if *flags.twilioSID != "" {
		twOpts = append(twOpts, twiliowhatsapp.WithAccountSID(*flags.twilioSID))
	}
	if *flags.twilioToken != "" {
		twOpts = append(twOpts, twiliowhatsapp.WithAuthToken(*flags.twilioToken))
	}
	if *flags.twilioFrom != "" {
		twOpts = append(twOpts, twiliowhatsapp.WithFromWhats(*flags.twilioFrom))
	}
	return twOpts
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		if store.DetectDSNType(*flags.dbDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_set", true)
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
		} else {
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
		}
	}
	if *flags.itemsTable != "" || *flags.votesTable != "" {
		storeOpts = append(storeOpts, store.WithDynamoTables(*flags.itemsTable, *flags.votesTable))
	}
	return storeOpts
}

func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	if *flags.openaiModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(*flags.openaiModel))
	}
	return genaiOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	apiOpts := []api.Option{
		api.WithStateDir(*flags.stateDir),
		api.WithDirectReplies(*flags.directReplies),
	}
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.storeKind != "" {
		apiOpts = append(apiOpts, api.WithStore(*flags.storeKind))
	}
	if *flags.transport != "" {
		apiOpts = append(apiOpts, api.WithTransport(*flags.transport))
	}
	if *flags.ssmPrefix != "" {
		apiOpts = append(apiOpts, api.WithSSMPrefix(*flags.ssmPrefix))
	}
	if *flags.sweep != "" {
		apiOpts = append(apiOpts, api.WithSweepSchedule(*flags.sweep))
	}
	if *flags.voteWait > 0 {
		apiOpts = append(apiOpts, api.WithVoteWait(*flags.voteWait))
	}
	if *flags.sessionTTL > 0 {
		apiOpts = append(apiOpts, api.WithSessionTTL(*flags.sessionTTL))
	}
	return apiOpts
}
