package config

import (
	"time"

	"github.com/credstack/credstack/internal/logger"
	"github.com/credstack/credstack/internal/tracing"
)

type AppConfig struct {
	APIPort     string `env:"PORT,required" envDefault:"12222"`
	APIKey      string `env:"API_KEY,required"`
	RabbitMQURL string `env:"RABBITMQ_URL"`
	Logger      *logger.Config
	Tracing     *tracing.JaegerConfig
}

type CredstackDatabaseConfig struct {
	Host            string `env:"CREDSTACK_POSTGRES_HOST,required"`
	Port            string `env:"CREDSTACK_POSTGRES_PORT,required"`
	User            string `env:"CREDSTACK_POSTGRES_USER,required"`
	DBName          string `env:"CREDSTACK_POSTGRES_DB_NAME,required"`
	Password        string `env:"CREDSTACK_POSTGRES_PASSWORD,required"`
	MaxConn         int    `env:"CREDSTACK_POSTGRES_DB_MAX_CONN"`
	MaxIdleConn     int    `env:"CREDSTACK_POSTGRES_DB_MAX_IDLE_CONN"`
	ConnMaxLifetime int    `env:"CREDSTACK_POSTGRES_DB_CONN_MAX_LIFETIME"`
	LogLevel        string `env:"CREDSTACK_POSTGRES_LOG_LEVEL" envDefault:"WARN"`
	SSLMode         string `env:"CREDSTACK_POSTGRES_SSL_MODE" envDefault:"disable"`
}

// SchedulerConfig tunes the OTP polling loops. Poll concurrency stays small
// to respect provider rate limits across many linked mailboxes.
type SchedulerConfig struct {
	PollWorkers      int           `env:"OTP_POLL_WORKERS" envDefault:"4"`
	FailureThreshold int           `env:"OTP_LINK_FAILURE_THRESHOLD" envDefault:"5"`
	OtpValidity      time.Duration `env:"OTP_VALIDITY" envDefault:"10m"`
	MessageLookback  time.Duration `env:"OTP_MESSAGE_LOOKBACK" envDefault:"2h"`
	FetchTimeout     time.Duration `env:"OTP_FETCH_TIMEOUT" envDefault:"30s"`
	SenderFilter     string        `env:"OTP_SENDER_FILTER" envDefault:"noreply@battle.net"`
	SubjectFilter    string        `env:"OTP_SUBJECT_FILTER" envDefault:"Account Verification"`
}
