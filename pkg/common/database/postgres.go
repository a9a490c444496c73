package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/checkeligibility/platform/pkg/common/config"
	"github.com/checkeligibility/platform/pkg/common/logger"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var (
	db     *gorm.DB
	dbErr  error
	dbOnce sync.Once
)

// DSN renders the libpq connection string. Sessions run in UTC so stored timestamps compare
// consistently across the API and the worker.
func DSN(cfg *config.Config) string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		cfg.PostgresHost,
		cfg.PostgresPort,
		cfg.PostgresUser,
		cfg.PostgresPassword,
		cfg.PostgresDB,
		cfg.PostgresSSLMode,
	)
}

// GetPostgres opens the shared pool once per process and verifies it with a ping.
func GetPostgres(cfg *config.Config) (*gorm.DB, error) {
	dbOnce.Do(func() {
		db, dbErr = open(cfg)
		if dbErr != nil {
			logger.Log.WithError(dbErr).WithFields(map[string]interface{}{
				"host":     cfg.PostgresHost,
				"database": cfg.PostgresDB,
			}).Error("Failed to connect to PostgreSQL")
			return
		}
		logger.Log.WithField("database", cfg.PostgresDB).Info("Connected to PostgreSQL")
	})
	return db, dbErr
}

func open(cfg *config.Config) (*gorm.DB, error) {
	conn, err := gorm.Open(postgres.Open(DSN(cfg)), &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Warn),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	if cfg.PostgresMaxOpen > 0 {
		sqlDB.SetMaxOpenConns(cfg.PostgresMaxOpen)
	}
	if cfg.PostgresMaxIdle > 0 {
		sqlDB.SetMaxIdleConns(cfg.PostgresMaxIdle)
	}
	if cfg.PostgresConnTTL > 0 {
		sqlDB.SetConnMaxLifetime(cfg.PostgresConnTTL)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return conn, nil
}

func ClosePostgres() error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
