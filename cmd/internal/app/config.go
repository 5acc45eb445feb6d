package app

import (
	"errors"
	"time"
)

var (
	errConfigTwoTransports = errors.New("app: RIPPLE_CHANGEFEED_URL and RIPPLE_NATS_URL are mutually exclusive")
	errConfigNoTopics      = errors.New("app: no topics configured")
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogPretty bool

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	// Postgres backend when set; in-memory backend otherwise.
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	DBSchema    string

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// Hosted identity and media when set; static viewer and in-memory
	// media otherwise.
	SupabaseURL string
	SupabaseKey string
	AccessToken string

	// ViewerID is the static viewer used when hosted identity is not
	// configured.
	ViewerID string

	// At most one change transport. Both empty disables realtime; the
	// windows then move only through pagination and local mutations.
	ChangefeedURL string
	NATSURL       string

	// Topics this process keeps a window for.
	Topics []string

	PageSize              int
	NotificationsPageSize int
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("RIPPLE_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("RIPPLE_LOG_LEVEL", "info"),
		LogPretty: EnvBool("RIPPLE_LOG_PRETTY", false),

		ReadHeaderTimeout: EnvDuration("RIPPLE_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("RIPPLE_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("RIPPLE_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("RIPPLE_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("RIPPLE_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("RIPPLE_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("RIPPLE_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("RIPPLE_DB_MIN_CONNS", 0),
		DBSchema:    EnvString("RIPPLE_DB_SCHEMA", "ripple"),

		ReadinessRequireDB: EnvBool("RIPPLE_READINESS_REQUIRE_DB", false),

		SupabaseURL: EnvString("RIPPLE_SUPABASE_URL", ""),
		SupabaseKey: EnvString("RIPPLE_SUPABASE_KEY", ""),
		AccessToken: EnvString("RIPPLE_ACCESS_TOKEN", ""),

		ViewerID: EnvString("RIPPLE_VIEWER_ID", "dev-viewer"),

		ChangefeedURL: EnvString("RIPPLE_CHANGEFEED_URL", ""),
		NATSURL:       EnvString("RIPPLE_NATS_URL", ""),

		Topics: EnvStringSlice("RIPPLE_TOPICS", []string{"posts"}),

		PageSize:              EnvInt("RIPPLE_PAGE_SIZE", 10),
		NotificationsPageSize: EnvInt("RIPPLE_NOTIFICATIONS_PAGE_SIZE", 50),
	}
}

// Validate rejects configurations the app cannot start with.
func (c Config) Validate() error {
	if c.ChangefeedURL != "" && c.NATSURL != "" {
		return errConfigTwoTransports
	}
	if len(c.Topics) == 0 {
		return errConfigNoTopics
	}
	return nil
}
