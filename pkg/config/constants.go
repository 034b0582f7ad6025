package config

const EnvPrefix = "HOUSING"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"
)

const (
	EnvAppEnv       = "HOUSING_APP_ENV"
	EnvPort         = "HOUSING_APP_PORT"
	EnvDBDSN        = "HOUSING_DB_DSN"
	EnvDBDriver     = "HOUSING_DB_DRIVER"
	EnvDBHost       = "HOUSING_DB_HOST"
	EnvDBUser       = "HOUSING_DB_USER"
	EnvDBName       = "HOUSING_DB_NAME"
	EnvRedisURL     = "HOUSING_REDIS_URL"
	EnvJWTSecret    = "HOUSING_JWT_SECRET"
	EnvJWTIssuer    = "HOUSING_JWT_ISSUER"
	EnvStripeKey    = "HOUSING_STRIPE_API_KEY"
	EnvStrictCredit = "HOUSING_BILLING_STRICT_CREDIT"
	EnvUseSQLite    = "HOUSING_USE_SQLITE"
)

var discreteDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
