// Package sql opens the privileged postgres connection used by admin commands.
package sql

import (
	"database/sql"
	"errors"

	_ "github.com/lib/pq"

	"github.com/soapboxsocial/glimpse/pkg/conf"
)

var ErrNoDSN = errors.New("no database dsn configured")

// Open connects to the database described by config.
func Open(config conf.PostgresConf) (*sql.DB, error) {
	if config.DSN == "" {
		return nil, ErrNoDSN
	}

	db, err := sql.Open("postgres", config.DSN)
	if err != nil {
		return nil, err
	}

	err = db.Ping()
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}
