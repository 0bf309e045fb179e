package config

import (
	"log"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"

	"github.com/credstack/credstack/internal/crypto"
	"github.com/credstack/credstack/internal/logger"
	"github.com/credstack/credstack/internal/tracing"
)

type Config struct {
	AppConfig               *AppConfig
	Logger                  *logger.Config
	Tracing                 *tracing.JaegerConfig
	CredstackDatabaseConfig *CredstackDatabaseConfig
	EncryptionConfig        *crypto.Config
	SchedulerConfig         *SchedulerConfig
}

func InitConfig() (*Config, error) {
	config := &Config{
		AppConfig:               &AppConfig{},
		Logger:                  &logger.Config{},
		Tracing:                 &tracing.JaegerConfig{},
		CredstackDatabaseConfig: &CredstackDatabaseConfig{},
		EncryptionConfig:        &crypto.Config{},
		SchedulerConfig:         &SchedulerConfig{},
	}

	err := godotenv.Load()
	if err != nil {
		log.Print("Unable to load .env file")
	}

	err = env.Parse(config)
	if err != nil {
		log.Fatalf("Error loading credstack config: %v", err)
	}

	return config, nil
}
