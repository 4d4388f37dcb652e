package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	pgx "github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	authdomain "github.com/AlibekovAA/authcore/internal/auth/domain"
	"github.com/AlibekovAA/authcore/internal/common/constants"
	"github.com/AlibekovAA/authcore/internal/common/db"
)

var (
	ErrPrincipalNotFound = pgx.ErrNoRows
	ErrUnknownUserType   = errors.New("unknown user type")
)

type PrincipalRepository interface {
	FindByIdentifier(ctx context.Context, userType authdomain.UserType, identifier string) (authdomain.Principal, error)
	FindByID(ctx context.Context, userType authdomain.UserType, id string) (authdomain.Principal, error)
	UpdateLastLogin(ctx context.Context, userType authdomain.UserType, id string, at time.Time) error
	UpdatePasswordHash(ctx context.Context, userType authdomain.UserType, id string, hash string) error
}

// PgPrincipalRepository reads the user tables owned by the sync and
// registration pipelines. Only last_login_at and password_hash are written.
type PgPrincipalRepository struct {
	pool *pgxpool.Pool
}

func NewPgPrincipalRepository(pool *pgxpool.Pool) *PgPrincipalRepository {
	return &PgPrincipalRepository{pool: pool}
}

func tableFor(userType authdomain.UserType) (string, error) {
	switch userType {
	case authdomain.UserTypeInternal:
		return "internal_users", nil
	case authdomain.UserTypeExternal:
		return "external_users", nil
	default:
		return "", ErrUnknownUserType
	}
}

const principalColumns = `id, username, COALESCE(email, ''), COALESCE(full_name, ''), COALESCE(password_hash, ''), is_active, last_login_at, created_at`

func scanPrincipal(row rowScanner, userType authdomain.UserType) (authdomain.Principal, error) {
	p := authdomain.Principal{UserType: userType}
	err := row.Scan(
		&p.ID,
		&p.Username,
		&p.Email,
		&p.FullName,
		&p.PasswordHash,
		&p.IsActive,
		&p.LastLoginAt,
		&p.CreatedAt,
	)
	return p, err
}

func (r *PgPrincipalRepository) FindByIdentifier(ctx context.Context, userType authdomain.UserType, identifier string) (authdomain.Principal, error) {
	table, err := tableFor(userType)
	if err != nil {
		return authdomain.Principal{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, constants.DBQueryTimeout)
	defer cancel()

	start := time.Now()
	row := r.pool.QueryRow(
		ctx,
		`SELECT `+principalColumns+`
		 FROM `+table+`
		 WHERE LOWER(username) = $1 OR LOWER(email) = $1
		 LIMIT 1`,
		strings.ToLower(strings.TrimSpace(identifier)),
	)

	p, err := scanPrincipal(row, userType)
	if err := db.HandleQueryError(err, ErrPrincipalNotFound, "find "+string(userType)+" user by identifier", start); err != nil {
		return authdomain.Principal{}, err
	}
	return p, nil
}

func (r *PgPrincipalRepository) FindByID(ctx context.Context, userType authdomain.UserType, id string) (authdomain.Principal, error) {
	table, err := tableFor(userType)
	if err != nil {
		return authdomain.Principal{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, constants.DBQueryTimeout)
	defer cancel()

	start := time.Now()
	row := r.pool.QueryRow(
		ctx,
		`SELECT `+principalColumns+` FROM `+table+` WHERE id = $1`,
		id,
	)

	p, err := scanPrincipal(row, userType)
	if err := db.HandleQueryError(err, ErrPrincipalNotFound, "find "+string(userType)+" user by id", start); err != nil {
		return authdomain.Principal{}, err
	}
	return p, nil
}

func (r *PgPrincipalRepository) UpdateLastLogin(ctx context.Context, userType authdomain.UserType, id string, at time.Time) error {
	table, err := tableFor(userType)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, constants.DBQueryTimeout)
	defer cancel()

	start := time.Now()
	_, err = r.pool.Exec(ctx, `UPDATE `+table+` SET last_login_at = $2 WHERE id = $1`, id, at)
	return db.HandleExecError(err, "update "+string(userType)+" user last login", start)
}

func (r *PgPrincipalRepository) UpdatePasswordHash(ctx context.Context, userType authdomain.UserType, id string, hash string) error {
	if userType != authdomain.UserTypeExternal {
		return ErrUnknownUserType
	}

	ctx, cancel := context.WithTimeout(ctx, constants.DBQueryTimeout)
	defer cancel()

	start := time.Now()
	tag, err := r.pool.Exec(
		ctx,
		`UPDATE external_users SET password_hash = $2, updated_at = NOW() WHERE id = $1`,
		id,
		hash,
	)
	if err != nil {
		return db.HandleExecError(err, "update external user password", start)
	}
	db.MeasureQueryDuration("update external user password", start)
	if tag.RowsAffected() == 0 {
		return ErrPrincipalNotFound
	}
	return nil
}
