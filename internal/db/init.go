package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"

	"github.com/RezaEskandarii/csvimport/internal/constants"
	"github.com/RezaEskandarii/csvimport/internal/lock"
	_ "github.com/lib/pq"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrations embed.FS

// Open returns a connection pool for the dialect. SQLite is limited to a single
// connection so that in-memory databases are shared and writers never contend.
func Open(dialect Dialect, dsn string) (*sql.DB, error) {
	switch dialect {
	case Postgres:
		return sql.Open("postgres", dsn)
	case SQLite:
		conn, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, err
		}
		conn.SetMaxOpenConns(1)
		conn.SetMaxIdleConns(1)
		conn.SetConnMaxLifetime(0)
		if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
			_ = conn.Close()
			return nil, err
		}
		return conn, nil
	default:
		return nil, fmt.Errorf("unsupported database dialect %q", dialect)
	}
}

// Init verifies the connection and runs the schema scripts of the dialect.
// It ensures that only one instance of the application runs the migration logic at a time by using a distributed lock.
//
// The function performs the following steps:
//  1. Acquires a distributed lock to prevent concurrent migrations.
//  2. Pings the database to verify the connection.
//  3. Reads the embedded scripts of the dialect in file name order and executes them.
//
// Every script is idempotent, so Init is safe to run on each start.
func Init(ctx context.Context, conn *sql.DB, dialect Dialect, distributedLock lock.DistributedLockManager) error {
	scripts, err := readSQLScripts(dialect)
	if err != nil {
		return err
	}

	migrationLock := constants.MigrationLock

	if err = distributedLock.Acquire(migrationLock); err != nil {
		return err
	}
	defer func() {
		if err := distributedLock.Release(migrationLock); err != nil {
			log.Warnf("release migration lock: %v", err)
		}
	}()

	if err = conn.PingContext(ctx); err != nil {
		return err
	}

	for _, script := range scripts {
		log.WithField("script", script.name).Debug("running migration")
		if _, err := conn.ExecContext(ctx, script.body); err != nil {
			return fmt.Errorf("migration %s: %w", script.name, err)
		}
	}

	return nil
}

type sqlScript struct {
	name string
	body string
}

func readSQLScripts(dialect Dialect) ([]sqlScript, error) {
	dir := path.Join("migrations", string(dialect))

	entries, err := fs.ReadDir(migrations, dir)
	if err != nil {
		return nil, fmt.Errorf("unsupported database dialect %q: %w", dialect, err)
	}

	var scripts []sqlScript
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := path.Join(dir, entry.Name())
		content, err := fs.ReadFile(migrations, name)
		if err != nil {
			return nil, err
		}

		scripts = append(scripts, sqlScript{name: entry.Name(), body: string(content)})
	}

	return scripts, nil
}
