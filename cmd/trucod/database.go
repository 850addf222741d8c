package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	driverPostgres    = "postgres"
	driverSQLite      = "sqlite"
	sqliteScheme      = "sqlite://"
	sqliteMemory      = ":memory:"
	defaultSQLiteFile = "truco.db"
)

var postgresSchemes = []string{"postgres://", "postgresql://"}

// databaseTarget is a parsed --database-url. DSN is the postgres connection
// string or the sqlite file location.
type databaseTarget struct {
	Driver string
	DSN    string
}

// parseDatabaseURL classifies raw. Anything that is not a postgres URL names
// a sqlite database, with or without the sqlite:// scheme.
func parseDatabaseURL(raw string) (databaseTarget, error) {
	trimmed := strings.TrimSpace(raw)
	lowered := strings.ToLower(trimmed)
	for _, scheme := range postgresSchemes {
		if strings.HasPrefix(lowered, scheme) {
			return databaseTarget{Driver: driverPostgres, DSN: trimmed}, nil
		}
	}
	location := trimmed
	if strings.HasPrefix(lowered, sqliteScheme) {
		parsed, err := url.Parse(trimmed)
		if err != nil {
			return databaseTarget{}, fmt.Errorf("parse sqlite url: %w", err)
		}
		location = parsed.Host + parsed.Path
	}
	if location == "" || location == "/" {
		location = defaultSQLiteFile
	}
	if location != sqliteMemory {
		location = filepath.Clean(location)
	}
	return databaseTarget{Driver: driverSQLite, DSN: location}, nil
}

func (target databaseTarget) ensureDirectory() error {
	if target.Driver != driverSQLite || target.DSN == sqliteMemory {
		return nil
	}
	return os.MkdirAll(filepath.Dir(target.DSN), 0o755)
}

// openGormDatabase opens target through gorm and returns the closer of the
// underlying pool. sqlite gets a single connection since it allows one writer.
func openGormDatabase(ctx context.Context, target databaseTarget) (*gorm.DB, func() error, error) {
	var dialector gorm.Dialector
	switch target.Driver {
	case driverPostgres:
		dialector = postgres.Open(target.DSN)
	case driverSQLite:
		if err := target.ensureDirectory(); err != nil {
			return nil, nil, fmt.Errorf("sqlite directory: %w", err)
		}
		dialector = sqlite.Open(target.DSN)
	default:
		return nil, nil, fmt.Errorf("unsupported database driver %q", target.Driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	if target.Driver == driverSQLite {
		sqlDB.SetMaxOpenConns(1)
	}
	return db.WithContext(ctx), sqlDB.Close, nil
}
