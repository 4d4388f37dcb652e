package blacklist

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	authdomain "github.com/AlibekovAA/authcore/internal/auth/domain"
	"github.com/AlibekovAA/authcore/internal/common/constants"
	"github.com/AlibekovAA/authcore/internal/common/db"
)

type PgDenylist struct {
	pool *pgxpool.Pool
}

func NewPgDenylist(pool *pgxpool.Pool) *PgDenylist {
	return &PgDenylist{pool: pool}
}

func (d *PgDenylist) Put(ctx context.Context, entry authdomain.BlacklistEntry) error {
	ctx, cancel := context.WithTimeout(ctx, constants.DBQueryTimeout)
	defer cancel()

	start := time.Now()
	_, err := d.pool.Exec(
		ctx,
		`INSERT INTO blacklisted_tokens (token_hash, user_id, reason, blacklisted_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (token_hash) DO NOTHING`,
		entry.TokenHash,
		entry.UserID,
		string(entry.Reason),
		entry.BlacklistedAt,
		entry.ExpiresAt,
	)
	return db.HandleExecError(err, "insert blacklist entry", start)
}

func (d *PgDenylist) Contains(ctx context.Context, tokenHash string, now time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DBQueryTimeout)
	defer cancel()

	start := time.Now()
	row := d.pool.QueryRow(
		ctx,
		`SELECT EXISTS(
			SELECT 1 FROM blacklisted_tokens
			WHERE token_hash = $1 AND expires_at > $2
		)`,
		tokenHash,
		now,
	)

	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, db.HandleQueryError(err, nil, "check blacklist entry", start)
	}
	db.MeasureQueryDuration("check blacklist entry", start)
	return exists, nil
}

func (d *PgDenylist) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DBQueryTimeout)
	defer cancel()

	start := time.Now()
	res, err := d.pool.Exec(ctx, `DELETE FROM blacklisted_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, db.HandleExecError(err, "delete expired blacklist entries", start)
	}
	db.MeasureQueryDuration("delete expired blacklist entries", start)
	return res.RowsAffected(), nil
}
