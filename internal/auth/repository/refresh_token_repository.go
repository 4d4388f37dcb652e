package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgconn"
	pgx "github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	authdomain "github.com/AlibekovAA/authcore/internal/auth/domain"
	"github.com/AlibekovAA/authcore/internal/common/constants"
	"github.com/AlibekovAA/authcore/internal/common/db"
)

var (
	ErrRefreshTokenNotFound = pgx.ErrNoRows

	// ErrRefreshTokenNotConsumed means the conditional consume matched no usable
	// row, typically because a concurrent rotation got there first.
	ErrRefreshTokenNotConsumed = errors.New("refresh token not consumed")

	// ErrRefreshFamilyRevoked means the token itself was usable but another
	// member of its family is revoked, so the family must not grow.
	ErrRefreshFamilyRevoked = errors.New("refresh token family revoked")

	ErrRefreshTokenDuplicate = errors.New("refresh token hash already exists")
)

type RefreshTokenRepository interface {
	Create(ctx context.Context, token authdomain.RefreshToken) error
	FindByTokenHash(ctx context.Context, hash string) (authdomain.RefreshToken, error)
	FindByFamilyID(ctx context.Context, familyID string) ([]authdomain.RefreshToken, error)
	FindByUserID(ctx context.Context, userID string) ([]authdomain.RefreshToken, error)
	// ConsumeAndReplace marks the token with hash as used if it is still
	// usable at now and stores successor, atomically. It returns
	// ErrRefreshTokenNotConsumed when nothing was consumed and
	// ErrRefreshFamilyRevoked when the successor's family has a revoked member.
	ConsumeAndReplace(ctx context.Context, hash string, now time.Time, successor authdomain.RefreshToken) error
	RevokeFamily(ctx context.Context, familyID string) (int64, error)
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

const refreshTokenColumns = `id, token_hash, user_id, user_type, family_id, is_used, is_revoked, expires_at, created_at`

type PgRefreshTokenRepository struct {
	pool  *pgxpool.Pool
	txMgr db.TxManager
}

func NewPgRefreshTokenRepository(pool *pgxpool.Pool) *PgRefreshTokenRepository {
	return &PgRefreshTokenRepository{
		pool:  pool,
		txMgr: db.NewPgTxManager(pool),
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRefreshToken(row rowScanner) (authdomain.RefreshToken, error) {
	var (
		token    authdomain.RefreshToken
		userType string
	)
	err := row.Scan(
		&token.ID,
		&token.TokenHash,
		&token.UserID,
		&userType,
		&token.FamilyID,
		&token.IsUsed,
		&token.IsRevoked,
		&token.ExpiresAt,
		&token.CreatedAt,
	)
	token.UserType = authdomain.UserType(userType)
	return token, err
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertRefreshToken(ctx context.Context, q execer, token authdomain.RefreshToken) error {
	_, err := q.Exec(
		ctx,
		`INSERT INTO refresh_tokens (`+refreshTokenColumns+`)
		 VALUES ($1, $2, $3, $4, $5, FALSE, FALSE, $6, $7)`,
		token.ID,
		token.TokenHash,
		token.UserID,
		string(token.UserType),
		token.FamilyID,
		token.ExpiresAt,
		token.CreatedAt,
	)
	return err
}

func (r *PgRefreshTokenRepository) Create(ctx context.Context, token authdomain.RefreshToken) error {
	ctx, cancel := context.WithTimeout(ctx, constants.DBQueryTimeout)
	defer cancel()

	start := time.Now()
	err := insertRefreshToken(ctx, r.pool, token)
	if db.IsUniqueViolation(err) {
		db.MeasureQueryDuration("create refresh token", start)
		return ErrRefreshTokenDuplicate
	}
	return db.HandleExecError(err, "create refresh token", start)
}

func (r *PgRefreshTokenRepository) FindByTokenHash(ctx context.Context, hash string) (authdomain.RefreshToken, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DBQueryTimeout)
	defer cancel()

	start := time.Now()
	row := r.pool.QueryRow(
		ctx,
		`SELECT `+refreshTokenColumns+`
		 FROM refresh_tokens
		 WHERE token_hash = $1`,
		hash,
	)

	token, err := scanRefreshToken(row)
	if err := db.HandleQueryError(err, ErrRefreshTokenNotFound, "find refresh token", start); err != nil {
		return authdomain.RefreshToken{}, err
	}
	return token, nil
}

func (r *PgRefreshTokenRepository) FindByFamilyID(ctx context.Context, familyID string) ([]authdomain.RefreshToken, error) {
	return r.findMany(ctx, "find refresh token family", `WHERE family_id = $1`, familyID)
}

func (r *PgRefreshTokenRepository) FindByUserID(ctx context.Context, userID string) ([]authdomain.RefreshToken, error) {
	return r.findMany(ctx, "find refresh tokens by user", `WHERE user_id = $1`, userID)
}

func (r *PgRefreshTokenRepository) findMany(ctx context.Context, operation, where string, arg string) ([]authdomain.RefreshToken, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DBQueryTimeout)
	defer cancel()

	start := time.Now()
	rows, err := r.pool.Query(
		ctx,
		`SELECT `+refreshTokenColumns+`
		 FROM refresh_tokens `+where+`
		 ORDER BY created_at ASC`,
		arg,
	)
	if err != nil {
		return nil, db.HandleQueryError(err, nil, operation, start)
	}
	defer rows.Close()

	var tokens []authdomain.RefreshToken
	for rows.Next() {
		token, err := scanRefreshToken(rows)
		if err != nil {
			return nil, db.HandleQueryError(err, nil, operation, start)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, db.HandleQueryError(err, nil, operation, start)
	}
	db.MeasureQueryDuration(operation, start)
	return tokens, nil
}

// Rotation and revocation of one family serialize on a transaction-scoped
// advisory lock keyed by family_id. Without it a revocation running under
// READ COMMITTED can miss a successor inserted by a concurrent rotation.
const (
	lockFamilySQL = `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`

	lockUserFamiliesSQL = `SELECT pg_advisory_xact_lock(hashtextextended(f.family_id, 0))
		 FROM (SELECT DISTINCT family_id FROM refresh_tokens WHERE user_id = $1 AND is_revoked = FALSE) f
		 ORDER BY f.family_id`
)

func (r *PgRefreshTokenRepository) ConsumeAndReplace(ctx context.Context, hash string, now time.Time, successor authdomain.RefreshToken) error {
	start := time.Now()
	err := r.txMgr.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, lockFamilySQL, successor.FamilyID); err != nil {
			return err
		}

		tag, err := tx.Exec(
			ctx,
			`UPDATE refresh_tokens
			 SET is_used = TRUE
			 WHERE token_hash = $1
			   AND is_used = FALSE
			   AND is_revoked = FALSE
			   AND expires_at > $2`,
			hash,
			now,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrRefreshTokenNotConsumed
		}

		var familyRevoked bool
		err = tx.QueryRow(
			ctx,
			`SELECT EXISTS(SELECT 1 FROM refresh_tokens WHERE family_id = $1 AND is_revoked = TRUE)`,
			successor.FamilyID,
		).Scan(&familyRevoked)
		if err != nil {
			return err
		}
		if familyRevoked {
			return ErrRefreshFamilyRevoked
		}

		return insertRefreshToken(ctx, tx, successor)
	})
	if errors.Is(err, ErrRefreshTokenNotConsumed) || errors.Is(err, ErrRefreshFamilyRevoked) {
		db.MeasureQueryDuration("rotate refresh token", start)
		return err
	}
	if db.IsUniqueViolation(err) {
		db.MeasureQueryDuration("rotate refresh token", start)
		return ErrRefreshTokenDuplicate
	}
	return db.HandleExecError(err, "rotate refresh token", start)
}

func (r *PgRefreshTokenRepository) RevokeFamily(ctx context.Context, familyID string) (int64, error) {
	return r.revoke(ctx, "revoke refresh token family", lockFamilySQL, `family_id = $1`, familyID)
}

func (r *PgRefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	return r.revoke(ctx, "revoke refresh tokens for user", lockUserFamiliesSQL, `user_id = $1`, userID)
}

func (r *PgRefreshTokenRepository) revoke(ctx context.Context, operation, lockSQL, where, arg string) (int64, error) {
	start := time.Now()
	var revoked int64
	err := r.txMgr.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, lockSQL, arg); err != nil {
			return err
		}
		tag, err := tx.Exec(
			ctx,
			`UPDATE refresh_tokens SET is_revoked = TRUE WHERE `+where+` AND is_revoked = FALSE`,
			arg,
		)
		if err != nil {
			return err
		}
		revoked = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, db.HandleExecError(err, operation, start)
	}
	db.MeasureQueryDuration(operation, start)
	return revoked, nil
}

func (r *PgRefreshTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DBQueryTimeout)
	defer cancel()

	start := time.Now()
	res, err := r.pool.Exec(
		ctx,
		`DELETE FROM refresh_tokens WHERE expires_at < $1`,
		now,
	)
	if err != nil {
		return 0, db.HandleExecError(err, "delete expired refresh tokens", start)
	}
	db.MeasureQueryDuration("delete expired refresh tokens", start)
	return res.RowsAffected(), nil
}
