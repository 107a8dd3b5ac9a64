package config

// EnvPrefix is empty because every field tag already carries the full
// TICKETBOOTH_ name; envconfig falls back to the tag when the prefixed key is unset.
const EnvPrefix = ""

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"
	DefaultSQLiteDSN = "file:ticketbooth.db?cache=shared&_foreign_keys=on"
)

const (
	EnvAppEnv   = "TICKETBOOTH_APP_ENV"
	EnvPort     = "TICKETBOOTH_APP_PORT"
	EnvLogLevel = "TICKETBOOTH_LOG_LEVEL"

	EnvDBDSN    = "TICKETBOOTH_DB_DSN"
	EnvDBDriver = "TICKETBOOTH_DB_DRIVER"
	EnvDBHost   = "TICKETBOOTH_DB_HOST"
	EnvDBUser   = "TICKETBOOTH_DB_USER"
	EnvDBName   = "TICKETBOOTH_DB_NAME"

	EnvRedisURL  = "TICKETBOOTH_REDIS_URL"
	EnvJWTSecret = "TICKETBOOTH_JWT_SECRET"
	EnvJWTIssuer = "TICKETBOOTH_JWT_ISSUER"
	EnvUseSQLite = "TICKETBOOTH_USE_SQLITE"

	EnvGCPProjectID           = "TICKETBOOTH_GCP_PROJECT_ID"
	EnvPubSubOrdersTopic      = "TICKETBOOTH_PUBSUB_ORDERS_TOPIC"
	EnvPubSubIssuanceTopic    = "TICKETBOOTH_PUBSUB_ISSUANCE_TOPIC"
	EnvPubSubIssuanceSub      = "TICKETBOOTH_PUBSUB_ISSUANCE_SUBSCRIPTION"
	EnvPubSubNotificationSub  = "TICKETBOOTH_PUBSUB_NOTIFICATION_SUBSCRIPTION"
	EnvReservationMaxSeats    = "TICKETBOOTH_RESERVATION_MAX_SEATS"
	EnvReservationPendingTTL  = "TICKETBOOTH_RESERVATION_PENDING_TTL"
	EnvReservationGrace       = "TICKETBOOTH_RESERVATION_SESSION_GRACE"
	EnvReservationSweepPeriod = "TICKETBOOTH_RESERVATION_SWEEP_INTERVAL"
	EnvIssuanceQRSigningKey   = "TICKETBOOTH_ISSUANCE_QR_SIGNING_KEY"
	EnvWorkerID               = "TICKETBOOTH_WORKER_ID"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
