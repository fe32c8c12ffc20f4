package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App        AppConfig
	Service    ServiceConfig
	DB         DBConfig
	Redis      RedisConfig
	Payment    PaymentConfig
	Settlement SettlementConfig
	Cron       CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"TIERSHOP_APP_ENV" required:"true"`
	Port         string `envconfig:"TIERSHOP_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"TIERSHOP_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"TIERSHOP_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"TIERSHOP_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"TIERSHOP_DB_DSN"`
	Driver string `envconfig:"TIERSHOP_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"TIERSHOP_DB_HOST"`
	LegacyPort     int    `envconfig:"TIERSHOP_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"TIERSHOP_DB_USER"`
	LegacyPassword string `envconfig:"TIERSHOP_DB_PASSWORD"`
	LegacyName     string `envconfig:"TIERSHOP_DB_NAME"`
	LegacySSLMode  string `envconfig:"TIERSHOP_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"TIERSHOP_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"TIERSHOP_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"TIERSHOP_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"TIERSHOP_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"TIERSHOP_REDIS_URL"`
	Address      string        `envconfig:"TIERSHOP_REDIS_ADDR"`
	Password     string        `envconfig:"TIERSHOP_REDIS_PASSWORD"`
	DB           int           `envconfig:"TIERSHOP_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"TIERSHOP_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"TIERSHOP_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"TIERSHOP_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"TIERSHOP_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"TIERSHOP_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// PaymentConfig covers the signed gateway callback surface.
type PaymentConfig struct {
	CallbackSecret     string        `envconfig:"TIERSHOP_PAYMENT_CALLBACK_SECRET" required:"true"`
	AmountToleranceFen int64         `envconfig:"TIERSHOP_PAYMENT_AMOUNT_TOLERANCE_FEN" default:"1"`
	IdempotencyTTL     time.Duration `envconfig:"TIERSHOP_PAYMENT_IDEMPOTENCY_TTL" default:"720h"`
}

// SettlementConfig holds the clock-driven windows of the order and
// commission lifecycle.
type SettlementConfig struct {
	AutoCancelAfter     time.Duration `envconfig:"TIERSHOP_SETTLE_AUTO_CANCEL_AFTER" default:"240h"`
	AutoConfirmAfter    time.Duration `envconfig:"TIERSHOP_SETTLE_AUTO_CONFIRM_AFTER" default:"168h"`
	RefundWindow        time.Duration `envconfig:"TIERSHOP_SETTLE_REFUND_WINDOW" default:"168h"`
	ApprovalDelay       time.Duration `envconfig:"TIERSHOP_SETTLE_APPROVAL_DELAY" default:"24h"`
	ReservationTTL      time.Duration `envconfig:"TIERSHOP_SETTLE_RESERVATION_TTL" default:"5m"`
	AgentClaimTimeout   time.Duration `envconfig:"TIERSHOP_SETTLE_AGENT_CLAIM_TIMEOUT" default:"24h"`
	SweepBatchSize      int           `envconfig:"TIERSHOP_SETTLE_SWEEP_BATCH_SIZE" default:"200"`
	FullRefundTolerance float64       `envconfig:"TIERSHOP_SETTLE_FULL_REFUND_TOLERANCE" default:"0.99"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"TIERSHOP_CRON_INTERVAL" default:"1m"`
	LockTTL  time.Duration `envconfig:"TIERSHOP_CRON_LOCK_TTL" default:"10m"`
}

func (db *DBConfig) ensureDSN() error {
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
