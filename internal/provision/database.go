package provision

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"regexp"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"regtest/internal/config"
)

// Databases creates the per-worker databases tests run against.
type Databases interface {
	Ensure(ctx context.Context, workerCount int) ([]int, error)
}

// DatabaseManager manages test databases on a MySQL server
type DatabaseManager struct {
	cfg    config.DatabaseConfig
	nameOf func(workerID int) string
	log    *zap.Logger
}

var _ Databases = (*DatabaseManager)(nil)

// NewDatabaseManager creates a new DatabaseManager
func NewDatabaseManager(cfg *config.Config, log *zap.Logger) *DatabaseManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &DatabaseManager{
		cfg:    cfg.Database,
		nameOf: cfg.GetDatabaseName,
		log:    log.With(zap.String("component", "provision")),
	}
}

// DSN returns the server DSN, without a database.
func (dm *DatabaseManager) DSN() string {
	mc := mysql.NewConfig()
	mc.User = dm.cfg.User
	mc.Passwd = dm.cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(dm.cfg.Host, dm.cfg.Port)
	return mc.FormatDSN()
}

// Ensure checks that the databases of workers 1..workerCount exist and
// creates the missing ones. It returns the worker IDs that have a database.
func (dm *DatabaseManager) Ensure(ctx context.Context, workerCount int) ([]int, error) {
	db, err := sql.Open("mysql", dm.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database server: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database server: %w", err)
	}

	available := make([]int, 0, workerCount)
	for i := 1; i <= workerCount; i++ {
		name := dm.nameOf(i)

		exists, err := databaseExists(ctx, db, name)
		if err != nil {
			return nil, fmt.Errorf("failed to check database %s: %w", name, err)
		}
		if !exists {
			if err := createDatabase(ctx, db, name); err != nil {
				return nil, fmt.Errorf("failed to create database %s: %w", name, err)
			}
			dm.log.Info("Created worker database", zap.Int("worker", i), zap.String("database", name))
		}
		available = append(available, i)
	}
	return available, nil
}

func databaseExists(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var exists bool
	query := "SELECT EXISTS(SELECT SCHEMA_NAME FROM INFORMATION_SCHEMA.SCHEMATA WHERE SCHEMA_NAME = ?)"
	err := db.QueryRowContext(ctx, query, name).Scan(&exists)
	return exists, err
}

func createDatabase(ctx context.Context, db *sql.DB, name string) error {
	if !ValidDatabaseName(name) {
		return fmt.Errorf("invalid database name: %s", name)
	}
	_, err := db.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", name))
	return err
}

var databaseName = regexp.MustCompile(`^[A-Za-z0-9_$]{1,64}$`)

// ValidDatabaseName reports whether name is safe to place inside
// backticks: letters, digits, '_' and '$', at most 64 characters.
func ValidDatabaseName(name string) bool {
	return databaseName.MatchString(name)
}
