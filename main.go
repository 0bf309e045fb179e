package main

import (
	"fmt"
	"log"
	"os"

	"github.com/credstack/credstack/config"
	"github.com/credstack/credstack/internal/crypto"
	"github.com/credstack/credstack/internal/database"
	"github.com/credstack/credstack/internal/repository"
	"github.com/credstack/credstack/server"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: credstack <command>")
		fmt.Println("Commands:")
		fmt.Println("  migrate   Run database migrations")
		fmt.Println("  server    Start the application server")
		os.Exit(1)
	}

	cfg, err := config.InitConfig()
	if err != nil {
		log.Fatalf("Config initialization failed: %v", err)
	}
	if cfg == nil {
		log.Fatalf("config is empty")
	}

	// Setup the database
	credstackDB, err := database.InitCredstackDatabase(&database.DatabaseConfig{
		DBName:          cfg.CredstackDatabaseConfig.DBName,
		Host:            cfg.CredstackDatabaseConfig.Host,
		Port:            cfg.CredstackDatabaseConfig.Port,
		User:            cfg.CredstackDatabaseConfig.User,
		Password:        cfg.CredstackDatabaseConfig.Password,
		MaxConn:         cfg.CredstackDatabaseConfig.MaxConn,
		MaxIdleConn:     cfg.CredstackDatabaseConfig.MaxIdleConn,
		ConnMaxLifetime: cfg.CredstackDatabaseConfig.ConnMaxLifetime,
		LogLevel:        cfg.CredstackDatabaseConfig.LogLevel,
		SSLMode:         cfg.CredstackDatabaseConfig.SSLMode,
	})
	if err != nil {
		log.Fatalf("Credstack database initialization failed: %v", err)
	}

	switch os.Args[1] {
	case "migrate":

		if err := repository.MigrateDB(credstackDB); err != nil {
			log.Fatalf("Database migration failed: %v", err)
		}

		cipher, err := crypto.NewCipher(cfg.EncryptionConfig)
		if err != nil {
			log.Fatalf("Cipher initialization failed: %v", err)
		}
		upgraded, err := repository.EncryptLegacyAccounts(credstackDB, cipher)
		if err != nil {
			log.Fatalf("Legacy account encryption failed after %d rows: %v", upgraded, err)
		}
		if upgraded > 0 {
			log.Printf("Encrypted %d legacy account rows", upgraded)
		}
		log.Println("Database migration completed successfully")

	case "server":

		log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
		log.Println("CredStack starting up...")

		srv, err := server.NewServer(cfg, credstackDB)
		if err != nil {
			log.Fatalf("Server setup failed: %v", err)
		}

		if err := srv.Run(); err != nil {
			log.Fatalf("Server startup failed: %v", err)
		}

		log.Println("Shutdown complete")

	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		fmt.Println("Usage: credstack <command>")
		fmt.Println("Commands:")
		fmt.Println("  migrate   Run database migrations")
		fmt.Println("  server    Start the application server")
		os.Exit(1)
	}
}
