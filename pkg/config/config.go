package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Stripe       StripeConfig
	Reservation  ReservationConfig
	Issuance     IssuanceConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.Reservation.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"TICKETBOOTH_APP_ENV" required:"true"`
	Port         string `envconfig:"TICKETBOOTH_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"TICKETBOOTH_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"TICKETBOOTH_LOG_WARN_STACK" default:"false"`

	CORSAllowedOrigins []string `envconfig:"TICKETBOOTH_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"TICKETBOOTH_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"TICKETBOOTH_DB_DSN"`
	Driver string `envconfig:"TICKETBOOTH_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"TICKETBOOTH_DB_HOST"`
	LegacyPort     int    `envconfig:"TICKETBOOTH_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"TICKETBOOTH_DB_USER"`
	LegacyPassword string `envconfig:"TICKETBOOTH_DB_PASSWORD"`
	LegacyName     string `envconfig:"TICKETBOOTH_DB_NAME"`
	LegacySSLMode  string `envconfig:"TICKETBOOTH_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"TICKETBOOTH_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"TICKETBOOTH_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"TICKETBOOTH_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"TICKETBOOTH_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	// LockTimeout bounds how long a reservation waits on a contended tier row.
	LockTimeout time.Duration `envconfig:"TICKETBOOTH_DB_LOCK_TIMEOUT" default:"5s"`
	// SlowQuery is the duration above which a statement is logged at warn.
	SlowQuery time.Duration `envconfig:"TICKETBOOTH_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"TICKETBOOTH_REDIS_URL" required:"true"`
	Address      string        `envconfig:"TICKETBOOTH_REDIS_ADDR"`
	Password     string        `envconfig:"TICKETBOOTH_REDIS_PASSWORD"`
	DB           int           `envconfig:"TICKETBOOTH_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"TICKETBOOTH_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"TICKETBOOTH_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"TICKETBOOTH_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"TICKETBOOTH_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"TICKETBOOTH_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"TICKETBOOTH_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"TICKETBOOTH_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"TICKETBOOTH_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"TICKETBOOTH_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"TICKETBOOTH_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL  time.Duration `envconfig:"TICKETBOOTH_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	WebhookIdempotencyTTL time.Duration `envconfig:"TICKETBOOTH_WEBHOOK_IDEMPOTENCY_TTL" default:"168h"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"TICKETBOOTH_GCP_PROJECT_ID" required:"true"`
}

type PubSubConfig struct {
	OrdersTopic              string `envconfig:"TICKETBOOTH_PUBSUB_ORDERS_TOPIC" required:"true"`
	IssuanceTopic            string `envconfig:"TICKETBOOTH_PUBSUB_ISSUANCE_TOPIC" required:"true"`
	IssuanceSubscription     string `envconfig:"TICKETBOOTH_PUBSUB_ISSUANCE_SUBSCRIPTION" required:"true"`
	NotificationTopic        string `envconfig:"TICKETBOOTH_PUBSUB_NOTIFICATION_TOPIC" default:"tb-notification-events"`
	NotificationSubscription string `envconfig:"TICKETBOOTH_PUBSUB_NOTIFICATION_SUBSCRIPTION" required:"true"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"TICKETBOOTH_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"TICKETBOOTH_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"TICKETBOOTH_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"TICKETBOOTH_OUTBOX_RETENTION_DAYS" default:"30"`
	RetentionBatch int `envconfig:"TICKETBOOTH_OUTBOX_RETENTION_BATCH" default:"500"`
}

type StripeConfig struct {
	APIKey     string `envconfig:"TICKETBOOTH_STRIPE_API_KEY"`
	Secret     string `envconfig:"TICKETBOOTH_STRIPE_SECRET"`
	Env        string `envconfig:"TICKETBOOTH_STRIPE_ENV" default:"test"`
	SuccessURL string `envconfig:"TICKETBOOTH_STRIPE_SUCCESS_URL" default:"http://localhost:3000/orders/success"`
	CancelURL  string `envconfig:"TICKETBOOTH_STRIPE_CANCEL_URL" default:"http://localhost:3000/orders/cancelled"`
	Currency   string `envconfig:"TICKETBOOTH_STRIPE_CURRENCY" default:"usd"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

// Payment sessions cannot close sooner than 30 minutes (plus a minute of
// clock slack and one for the reserve-to-session round trip) or later than
// 24 hours after they open.
const (
	minPaymentHold = 32 * time.Minute
	maxPendingTTL  = 23 * time.Hour
)

// ReservationConfig bounds pending orders. The sweep may expire an order once
// it is PendingTTL+SessionGrace old; its payment session closes before then.
type ReservationConfig struct {
	MaxSeatsPerOrder int           `envconfig:"TICKETBOOTH_RESERVATION_MAX_SEATS" default:"10"`
	PendingTTL       time.Duration `envconfig:"TICKETBOOTH_RESERVATION_PENDING_TTL" default:"30m"`
	SessionGrace     time.Duration `envconfig:"TICKETBOOTH_RESERVATION_SESSION_GRACE" default:"5m"`
	SweepInterval    time.Duration `envconfig:"TICKETBOOTH_RESERVATION_SWEEP_INTERVAL" default:"5m"`
	SweepBatchSize   int           `envconfig:"TICKETBOOTH_RESERVATION_SWEEP_BATCH" default:"100"`
}

func (r ReservationConfig) validate() error {
	if r.MaxSeatsPerOrder <= 0 {
		return fmt.Errorf("%s must be positive", EnvReservationMaxSeats)
	}
	if r.PendingTTL <= 0 {
		return fmt.Errorf("%s must be positive", EnvReservationPendingTTL)
	}
	if r.PendingTTL > maxPendingTTL {
		return fmt.Errorf("%s must not exceed %s", EnvReservationPendingTTL, maxPendingTTL)
	}
	if r.SessionGrace < 0 {
		return fmt.Errorf("%s must not be negative", EnvReservationGrace)
	}
	if hold := r.PendingTTL + r.SessionGrace; hold < minPaymentHold {
		return fmt.Errorf("%s plus %s is %s; payment sessions need at least %s",
			EnvReservationPendingTTL, EnvReservationGrace, hold, minPaymentHold)
	}
	return nil
}

type IssuanceConfig struct {
	QRSigningKey string `envconfig:"TICKETBOOTH_ISSUANCE_QR_SIGNING_KEY"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if useSQLite || strings.EqualFold(db.Driver, DBDriverSQLite) {
		db.Driver = DBDriverSQLite
		if db.DSN == "" {
			db.DSN = DefaultSQLiteDSN
		}
		return nil
	}
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}
	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}
	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
