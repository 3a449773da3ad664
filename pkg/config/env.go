package config

// EnvPrefix is passed to envconfig; individual fields carry explicit names so
// the prefix mostly matters for ad-hoc overrides.
const EnvPrefix = "STAGEPASS"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

// Environment variable names referenced outside struct tags.
const (
	EnvAppEnv     = "STAGEPASS_APP_ENV"
	EnvPort       = "STAGEPASS_APP_PORT"
	EnvDBDSN      = "STAGEPASS_DB_DSN"
	EnvDBHost     = "STAGEPASS_DB_HOST"
	EnvDBUser     = "STAGEPASS_DB_USER"
	EnvDBName     = "STAGEPASS_DB_NAME"
	EnvRedisURL   = "STAGEPASS_REDIS_URL"
	EnvJWTSecret  = "STAGEPASS_JWT_SECRET"
	EnvJWTIssuer  = "STAGEPASS_JWT_ISSUER"
	EnvJWTExpMins = "STAGEPASS_JWT_EXPIRATION_MINUTES"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
