package stories

import (
	"database/sql"
	"time"

	"github.com/rs/zerolog/log"
)

// Sweeper removes expired stories directly in the database, it needs the privileged connection.
type Sweeper struct {
	db *sql.DB
}

func NewSweeper(db *sql.DB) *Sweeper {
	return &Sweeper{db: db}
}

// DeleteExpired deletes all stories where the expires_at time has passed and returns their media urls.
func (s *Sweeper) DeleteExpired(now time.Time) ([]string, error) {
	stmt, err := s.db.Prepare("DELETE FROM stories WHERE expires_at <= $1 RETURNING media_url;")
	if err != nil {
		return nil, err
	}

	defer stmt.Close()

	rows, err := stmt.Query(now.UTC())
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	result := make([]string, 0)
	for rows.Next() {
		var url string

		err := rows.Scan(&url)
		if err != nil {
			log.Warn().Err(err).Msg("failed to scan expired story")
			continue
		}

		result = append(result, url)
	}

	return result, rows.Err()
}
