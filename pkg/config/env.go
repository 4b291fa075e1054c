package config

const (
	// EnvPrefix is the envconfig prefix shared by every variable.
	EnvPrefix = "RENTIVA"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv     = "RENTIVA_APP_ENV"
	EnvPort       = "RENTIVA_APP_PORT"
	EnvDBDSN      = "RENTIVA_DB_DSN"
	EnvDBHost     = "RENTIVA_DB_HOST"
	EnvDBUser     = "RENTIVA_DB_USER"
	EnvDBName     = "RENTIVA_DB_NAME"
	EnvRedisURL   = "RENTIVA_REDIS_URL"
	EnvJWTSecret  = "RENTIVA_JWT_SECRET"
	EnvJWTIssuer  = "RENTIVA_JWT_ISSUER"
	EnvJWTExpMins = "RENTIVA_JWT_EXPIRATION_MINUTES"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
