package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go-chat-sync/internal/chat"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// CreateUser stores the credentials and the public profile together.
func (r *Repository) CreateUser(ctx context.Context, user *User) (*User, error) {
	user.ID = uuid.NewString()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	query := "INSERT INTO users (id, email, password) VALUES ($1, $2, $3)"
	if _, err := tx.ExecContext(ctx, query, user.ID, user.Email, user.Password); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	query = "INSERT INTO profiles (user_id, display_name, email) VALUES ($1, $2, $3)"
	if _, err := tx.ExecContext(ctx, query, user.ID, user.DisplayName, user.Email); err != nil {
		return nil, fmt.Errorf("insert profile: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return user, nil
}

func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	u := &User{}
	query := `
		SELECT u.id, u.email, u.password, COALESCE(p.display_name, '')
		FROM users u
		LEFT JOIN profiles p ON p.user_id = u.id
		WHERE u.email = $1
	`
	err := r.db.QueryRowContext(ctx, query, email).Scan(&u.ID, &u.Email, &u.Password, &u.DisplayName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return u, nil
}

// SearchUsers matches display name or email, leaving out the caller.
func (r *Repository) SearchUsers(ctx context.Context, query, exclude string) ([]chat.Profile, error) {
	// We limit to 20 to keep it fast
	q := `
		SELECT user_id, display_name, email, status, last_seen
		FROM profiles
		WHERE (display_name ILIKE $1 OR email ILIKE $1) AND user_id <> $2
		ORDER BY display_name
		LIMIT 20
	`
	rows, err := r.db.QueryContext(ctx, q, "%"+query+"%", exclude)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []chat.Profile
	for rows.Next() {
		var p chat.Profile
		var lastSeen sql.NullTime
		if err := rows.Scan(&p.UserID, &p.DisplayName, &p.Email, &p.Status, &lastSeen); err != nil {
			return nil, err
		}
		if lastSeen.Valid {
			p.LastSeen = &lastSeen.Time
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// MarkActive records a presence heartbeat.
func (r *Repository) MarkActive(ctx context.Context, id string, at time.Time) error {
	return r.setStatus(ctx, id, chat.StatusOnline, at)
}

// MarkInactive records that the user left; last_seen keeps the time.
func (r *Repository) MarkInactive(ctx context.Context, id string, at time.Time) error {
	return r.setStatus(ctx, id, chat.StatusOffline, at)
}

func (r *Repository) setStatus(ctx context.Context, id string, status chat.Status, at time.Time) error {
	query := "UPDATE profiles SET status = $2, last_seen = $3, updated_at = $3 WHERE user_id = $1"
	res, err := r.db.ExecContext(ctx, query, id, string(status), at)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}
