package db

import (
	"database/sql"
	"embed"

	libdb "fleetride/backend/libs/db"
)

//go:embed migrations/*.sql
var migrations embed.FS

// NewPostgres returns shared DB connection.
func NewPostgres(dsn string) (*sql.DB, error) {
	return libdb.NewPostgresDB(dsn)
}

// Migrate brings the trip history schema up to date.
func Migrate(dsn string) error {
	return libdb.Migrate(dsn, migrations, "migrations")
}
