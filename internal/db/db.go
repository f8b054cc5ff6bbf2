package db

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shinyyama/messaging-backend/internal/config"
	"github.com/shinyyama/messaging-backend/internal/model"
	"github.com/shinyyama/messaging-backend/internal/repository"
	"github.com/shinyyama/messaging-backend/internal/store"
	"github.com/shinyyama/messaging-backend/internal/store/memstore"
	"github.com/shinyyama/messaging-backend/internal/store/mongostore"
	"github.com/shinyyama/messaging-backend/internal/store/sqlstore"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func BuildDSN(cfg *config.Config) string {
	addr := cfg.DBHost

	// Prefer Cloud SQL unix socket when INSTANCE_CONNECTION_NAME is provided.
	switch {
	case cfg.InstanceConnectionName != "":
		addr = fmt.Sprintf("unix(/cloudsql/%s)", cfg.InstanceConnectionName)
	case strings.HasPrefix(cfg.DBHost, "tcp("), strings.HasPrefix(cfg.DBHost, "unix("):
		// already includes tcp() or unix()
	case strings.HasPrefix(cfg.DBHost, "/"):
		addr = fmt.Sprintf("unix(%s)", cfg.DBHost)
	default:
		addr = fmt.Sprintf("tcp(%s:%s)", cfg.DBHost, cfg.DBPort)
	}

	return fmt.Sprintf("%s:%s@%s/%s?charset=utf8mb4&parseTime=True&loc=UTC", cfg.DBUser, cfg.DBPassword, addr, cfg.DBName)
}

// Connect opens the MySQL database holding the document tables.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	if cfg.DBUser == "" || cfg.DBHost == "" || cfg.DBName == "" {
		return nil, fmt.Errorf("DB_USER, DB_HOST and DB_NAME are required for the mysql driver")
	}
	gcfg := &gorm.Config{
		PrepareStmt:    true,
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	}
	db, err := gorm.Open(mysql.Open(BuildDSN(cfg)), gcfg)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetConnMaxLifetime(5 * time.Minute)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)

	return db, nil
}

// ConnectSQLite opens a single-file database for local runs. SQLite allows
// one writer, so the pool holds one connection.
func ConnectSQLite(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// Open returns the backend selected by cfg.StoreDriver.
func Open(ctx context.Context, cfg *config.Config) (store.Backend, error) {
	switch strings.ToLower(cfg.StoreDriver) {
	case "memory":
		log.Printf("[db] using in-memory store")
		return memstore.New(), nil
	case "", "mongo", "mongodb":
		return mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
	case "mysql":
		gdb, err := Connect(cfg)
		if err != nil {
			return nil, err
		}
		return sqlstore.New(gdb)
	case "sqlite":
		log.Printf("[db] using sqlite at %s", cfg.SQLitePath)
		gdb, err := ConnectSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return sqlstore.New(gdb)
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}

// NewClient opens the configured backend, builds the engine over the message
// schema and makes sure every unique index exists.
func NewClient(ctx context.Context, cfg *config.Config) (*repository.Client, error) {
	backend, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	client := repository.New(backend, model.Schema(), repository.Options{
		TxMaxWait:       cfg.TxMaxWait,
		TxTimeout:       cfg.TxTimeout,
		MaxConcurrentTx: cfg.TxMaxConcurrent,
		LogQueries:      cfg.LogQueries,
	})
	if err := client.EnsureIndexes(ctx); err != nil {
		_ = client.Close(context.Background())
		return nil, err
	}
	return client, nil
}
