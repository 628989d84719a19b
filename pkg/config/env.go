package config

const (
	EnvPrefix = "LOCAD"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DefaultCurrency = "usd"

	EnvAppEnv              = "LOCAD_APP_ENV"
	EnvPort                = "LOCAD_APP_PORT"
	EnvRequestTimeout      = "LOCAD_REQUEST_TIMEOUT"
	EnvDBDSN               = "LOCAD_DB_DSN"
	EnvDBHost              = "LOCAD_DB_HOST"
	EnvDBPort              = "LOCAD_DB_PORT"
	EnvDBUser              = "LOCAD_DB_USER"
	EnvDBPassword          = "LOCAD_DB_PASSWORD"
	EnvDBName              = "LOCAD_DB_NAME"
	EnvRedisURL            = "LOCAD_REDIS_URL"
	EnvJWTSecret           = "LOCAD_JWT_SECRET"
	EnvJWTIssuer           = "LOCAD_JWT_ISSUER"
	EnvStripeAPIKey        = "LOCAD_STRIPE_API_KEY"
	EnvStripeWebhookSecret = "LOCAD_STRIPE_WEBHOOK_SECRET"
	EnvStripeCurrency      = "LOCAD_STRIPE_CURRENCY"
	EnvGCPProjectID        = "LOCAD_GCP_PROJECT_ID"
	EnvPubSubPayments      = "LOCAD_PUBSUB_PAYMENTS_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
