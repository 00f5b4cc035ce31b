package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	// Registered SQL drivers. Postgres is the primary deployment
	// target; MySQL/MariaDB are supported for installations that
	// already run one.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
)

// driverMap normalizes configured database types onto driver names.
var driverMap = map[string]string{
	"postgresql": "postgres",
	"postgres":   "postgres",
	"mysql":      "mysql",
	"mariadb":    "mysql",
}

// Open connects to the credential database and verifies the connection.
// The returned driver name is normalized ("postgres" or "mysql") and is
// what the store uses to pick placeholder style and schema dialect.
func Open(ctx context.Context, dbType, dsn string) (*sql.DB, string, error) {
	driver, ok := driverMap[strings.ToLower(dbType)]
	if !ok {
		return nil, "", fmt.Errorf("unsupported database type: %s", dbType)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open database connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, "", fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, driver, nil
}

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS credentials (
	id              UUID PRIMARY KEY,
	parent_id       UUID NULL,
	provider        TEXT NOT NULL,
	name            TEXT NOT NULL,
	payload         BYTEA NOT NULL,
	version         INTEGER NOT NULL CHECK (version >= 1),
	active          BOOLEAN NOT NULL DEFAULT FALSE,
	status          TEXT NOT NULL DEFAULT 'active',
	last_rotated_at TIMESTAMPTZ NULL,
	expires_at      TIMESTAMPTZ NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL,
	created_by      TEXT NULL,
	updated_by      TEXT NULL
);
CREATE INDEX IF NOT EXISTS idx_credentials_provider_active ON credentials (provider, active);
`

const schemaMySQL = `
CREATE TABLE IF NOT EXISTS credentials (
	id              CHAR(36) PRIMARY KEY,
	parent_id       CHAR(36) NULL,
	provider        VARCHAR(64) NOT NULL,
	name            VARCHAR(255) NOT NULL,
	payload         BLOB NOT NULL,
	version         INT NOT NULL,
	active          BOOLEAN NOT NULL DEFAULT FALSE,
	status          VARCHAR(16) NOT NULL DEFAULT 'active',
	last_rotated_at TIMESTAMP NULL,
	expires_at      TIMESTAMP NULL,
	created_at      TIMESTAMP NOT NULL,
	updated_at      TIMESTAMP NOT NULL,
	created_by      VARCHAR(255) NULL,
	updated_by      VARCHAR(255) NULL,
	INDEX idx_credentials_provider_active (provider, active)
);
`

// Migrate creates the credentials table when absent. The single-active
// invariant is enforced by the store's check-then-act logic under a
// per-provider lock, not by a database constraint.
func Migrate(ctx context.Context, db *sql.DB, driver string) error {
	schema := schemaPostgres
	if driver == "mysql" {
		schema = schemaMySQL
	}
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate credentials table: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $1..$n for postgres. Queries are
// written once with ? and rebound per driver.
func rebind(driver, query string) string {
	if driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
