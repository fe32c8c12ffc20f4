package config

// EnvPrefix is the envconfig prefix shared by every service binary.
const EnvPrefix = "TIERSHOP"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvDBDSN  = "TIERSHOP_DB_DSN"
	EnvDBHost = "TIERSHOP_DB_HOST"
	EnvDBUser = "TIERSHOP_DB_USER"
	EnvDBName = "TIERSHOP_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
