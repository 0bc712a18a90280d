package config

const (
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"

	PaymentGatewayStripe = "stripe"
	PaymentGatewayLocal  = "local"

	NotificationTransportSendgrid = "sendgrid"
	NotificationTransportSMTP     = "smtp"
	NotificationTransportLog      = "log"
)

const (
	EnvAppEnv         = "SAFETRANSIT_APP_ENV"
	EnvPort           = "SAFETRANSIT_APP_PORT"
	EnvDBDSN          = "SAFETRANSIT_DB_DSN"
	EnvDBDriver       = "SAFETRANSIT_DB_DRIVER"
	EnvDBHost         = "SAFETRANSIT_DB_HOST"
	EnvDBUser         = "SAFETRANSIT_DB_USER"
	EnvDBName         = "SAFETRANSIT_DB_NAME"
	EnvDBPassword     = "SAFETRANSIT_DB_PASSWORD"
	EnvRedisURL       = "SAFETRANSIT_REDIS_URL"
	EnvJWTSecret      = "SAFETRANSIT_JWT_SECRET"
	EnvPaymentGateway = "SAFETRANSIT_PAYMENT_GATEWAY"
	EnvNotification   = "SAFETRANSIT_NOTIFICATION_TRANSPORT"
	EnvExpiredCron    = "SAFETRANSIT_SCHEDULER_EXPIRED_CRON"
)

var discreteDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
