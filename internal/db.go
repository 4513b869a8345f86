package internal

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenDB opens the configured store. The returned func releases it.
func OpenDB(ctx context.Context, cf *Config) (*gorm.DB, func(), error) {
	gcfg := &gorm.Config{Logger: logger.Default.LogMode(sqlLogLevel(cf.Env))}

	switch cf.DBType {
	case DBPostgres:
		pool, err := pgxpool.New(ctx, cf.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		sqlDB := stdlib.OpenDBFromPool(pool)
		g, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), gcfg)
		if err != nil {
			sqlDB.Close()
			pool.Close()
			return nil, nil, err
		}
		return g, func() {
			sqlDB.Close()
			pool.Close()
		}, nil

	case DBSqlite, "":
		return openSqlite(cf.SqlitePath, gcfg)
	}
	return nil, nil, fmt.Errorf("unknown database %q", cf.DBType)
}

// sqlLogLevel keeps slow query warnings out of production logs.
func sqlLogLevel(env ENVType) logger.LogLevel {
	if env == PROD {
		return logger.Error
	}
	return logger.Warn
}

func openSqlite(path string, gcfg *gorm.Config) (*gorm.DB, func(), error) {
	g, err := gorm.Open(sqlite.Open(path), gcfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	sqlDB, err := g.DB()
	if err != nil {
		return nil, nil, err
	}
	// sqlite allows one writer; the indexer and trigger share this handle.
	sqlDB.SetMaxOpenConns(1)
	return g, func() { sqlDB.Close() }, nil
}

// SyncSchema creates or updates the tables.
func SyncSchema(g *gorm.DB) error {
	return g.AutoMigrate(&Bet{})
}
