// Package db opens the mock backend's database and migrates its schema.
package db

import (
	"fmt"
	"strconv"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/zulandar/chaatu/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Supported drivers.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// MySQLDSN builds a go-sql-driver DSN for the configured server.
func MySQLDSN(cfg config.DatabaseConfig) string {
	dc := gomysql.NewConfig()
	dc.User = cfg.User
	dc.Passwd = cfg.Password
	dc.Net = "tcp"
	dc.Addr = cfg.Host + ":" + strconv.Itoa(cfg.Port)
	dc.DBName = cfg.Name
	dc.ParseTime = true
	return dc.FormatDSN()
}

// Connect opens a GORM connection for cfg.Driver.
func Connect(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gcfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}

	switch cfg.Driver {
	case DriverSQLite, "":
		path := cfg.Path
		if path == "" {
			path = ":memory:"
		}
		db, err := gorm.Open(sqlite.Open(path), gcfg)
		if err != nil {
			return nil, fmt.Errorf("db: open sqlite %s: %w", path, err)
		}
		// One connection keeps :memory: databases shared and serializes
		// writers on file databases.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("db: sqlite handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
		return db, nil

	case DriverMySQL:
		db, err := gorm.Open(mysql.Open(MySQLDSN(cfg)), gcfg)
		if err != nil {
			return nil, fmt.Errorf("db: connect to %s:%d/%s: %w", cfg.Host, cfg.Port, cfg.Name, err)
		}
		return db, nil

	default:
		return nil, fmt.Errorf("db: unsupported driver %q", cfg.Driver)
	}
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("db: close: %w", err)
	}
	return sqlDB.Close()
}
