// Package db opens target databases and owns the per-dialect SQL the ledger
// needs: table DDL, placeholder style and timestamp decoding.
package db

import (
	"database/sql"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// Open connects to dsn using the named dialect ("mysql", "postgres", "sqlite").
func Open(dialect, dsn string) (*sql.DB, Dialect, error) {
	d, err := Lookup(dialect)
	if err != nil {
		return nil, Dialect{}, err
	}
	switch d.Name {
	case MySQL:
		dsn = mysqlDSN(dsn)
	case SQLite:
		dsn = sqliteDSN(dsn)
	}
	db, err := sql.Open(d.DriverName, dsn)
	if err != nil {
		return nil, Dialect{}, errors.Wrapf(err, "open %s", d.Name)
	}
	if d.Name == SQLite && strings.Contains(dsn, ":memory:") {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
	}
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, d, nil
}

// mysqlDSN ensures parseTime is on and multi-statement scripts are allowed.
func mysqlDSN(dsn string) string {
	lower := strings.ToLower(dsn)
	for _, opt := range []string{"parseTime=true", "multiStatements=true"} {
		key := strings.ToLower(strings.SplitN(opt, "=", 2)[0]) + "="
		if strings.Contains(lower, key) {
			continue
		}
		if strings.Contains(dsn, "?") {
			dsn += "&" + opt
		} else {
			dsn += "?" + opt
		}
	}
	return dsn
}

// sqliteDSN adds a busy timeout so a reader does not fail while a migration
// transaction holds the write lock.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "busy_timeout") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)"
}
