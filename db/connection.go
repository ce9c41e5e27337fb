package db

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	// necessary import to wire up the postgres driver
	_ "github.com/lib/pq"
	// necessary import to wire up the sqlite driver
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// NewConnection opens a postgres or sqlite database depending on the URL:
// postgres:// and postgresql:// use lib/pq, sqlite://<path>, file:<path> and
// :memory: use modernc sqlite.
func NewConnection(databaseURL string) (*sqlx.DB, error) {
	driver, dsn, err := ParseDatabaseURL(databaseURL)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == DriverSQLite {
		// every sqlite connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

func ParseDatabaseURL(databaseURL string) (string, string, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return DriverPostgres, databaseURL, nil
	case databaseURL == ":memory:":
		return DriverSQLite, "file::memory:?_pragma=foreign_keys(1)", nil
	case strings.HasPrefix(databaseURL, "sqlite://"):
		path := strings.TrimPrefix(databaseURL, "sqlite://")
		if path == "" {
			return "", "", fmt.Errorf("sqlite url is missing a path")
		}
		return DriverSQLite, "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", nil
	case strings.HasPrefix(databaseURL, "file:"):
		return DriverSQLite, databaseURL, nil
	default:
		return "", "", fmt.Errorf("unsupported database url scheme: %q", databaseURL)
	}
}

// IsPostgres reports whether db talks to postgres.
func IsPostgres(db *sqlx.DB) bool {
	return db.DriverName() == DriverPostgres
}
