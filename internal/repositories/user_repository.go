package repositories

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"messenger-service/internal/models"
)

const userColumns = `username, display_name, avatar, public_id, push_token, password_hash, created_at`

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// CreateUser inserts a user. Collisions on the lower-cased username or the
// public id are reported as distinct sentinel errors.
func (r *UserRepo) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO users (username, username_lower, display_name, avatar, public_id, push_token, password_hash, created_at)
        VALUES ($1, LOWER($1), $2, $3, $4, $5, $6, $7)`,
		user.Username, user.DisplayName, user.Avatar, user.PublicID, user.PushToken, user.PasswordHash, user.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			if strings.Contains(pqErr.Constraint, "public_id") {
				return models.User{}, ErrPublicIDTaken
			}
			return models.User{}, ErrUsernameTaken
		}
		return models.User{}, err
	}
	return user, nil
}

// GetUserByUsername fetches a user ignoring case.
func (r *UserRepo) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE username_lower = LOWER($1)`, username)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// GetUsersByUsernames fetches the users that exist among usernames.
func (r *UserRepo) GetUsersByUsernames(ctx context.Context, usernames []string) ([]models.User, error) {
	if len(usernames) == 0 {
		return []models.User{}, nil
	}
	var users []models.User
	err := r.db.SelectContext(ctx, &users, `SELECT `+userColumns+` FROM users WHERE username = ANY($1)`, pq.Array(usernames))
	return users, err
}

// SearchUsers matches a case-insensitive substring of username, display name or public id.
func (r *UserRepo) SearchUsers(ctx context.Context, query string, limit int) ([]models.User, error) {
	var users []models.User
	pattern := likePattern(query)
	err := r.db.SelectContext(ctx, &users, `SELECT `+userColumns+` FROM users
        WHERE username_lower LIKE $1 OR LOWER(display_name) LIKE $1 OR public_id LIKE $1
        ORDER BY username_lower ASC LIMIT $2`, pattern, limit)
	return users, err
}

// UpdatePushToken replaces the device token of a user.
func (r *UserRepo) UpdatePushToken(ctx context.Context, username, token string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET push_token=$2 WHERE username_lower = LOWER($1)`, username, token)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrUserNotFound
	}
	return nil
}

func likePattern(query string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(strings.ToLower(query))
	return "%" + escaped + "%"
}
