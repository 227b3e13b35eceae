package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres error codes the repository translates.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
	pgInvalidText         = "22P02"
)

// Repository is the Postgres-backed Store.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var _ Store = (*Repository)(nil)

const conversationColumns = "id, user1_id, user2_id, last_message_at, created_at"

func (r *Repository) ConversationsFor(ctx context.Context, identity string) ([]Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE user1_id = $1 OR user2_id = $1
		ORDER BY last_message_at DESC NULLS LAST, created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, identity)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

func (r *Repository) FindConversation(ctx context.Context, a, b string) (Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE (user1_id = $1 AND user2_id = $2) OR (user1_id = $2 AND user2_id = $1)
		LIMIT 1
	`
	return scanConversation(r.db.QueryRowContext(ctx, query, a, b))
}

func (r *Repository) CreateConversation(ctx context.Context, a, b string) (Conversation, error) {
	c := Conversation{ID: uuid.NewString(), User1ID: a, User2ID: b}
	query := "INSERT INTO conversations (id, user1_id, user2_id) VALUES ($1, $2, $3) RETURNING created_at"
	if err := r.db.QueryRowContext(ctx, query, c.ID, a, b).Scan(&c.CreatedAt); err != nil {
		return Conversation{}, translate(err)
	}
	return c, nil
}

func (r *Repository) Conversation(ctx context.Context, id string) (Conversation, error) {
	query := "SELECT " + conversationColumns + " FROM conversations WHERE id = $1"
	return scanConversation(r.db.QueryRowContext(ctx, query, id))
}

func (r *Repository) Profile(ctx context.Context, identity string) (Profile, error) {
	p := Profile{}
	var lastSeen sql.NullTime
	query := "SELECT user_id, display_name, email, status, last_seen FROM profiles WHERE user_id = $1"
	err := r.db.QueryRowContext(ctx, query, identity).Scan(&p.UserID, &p.DisplayName, &p.Email, &p.Status, &lastSeen)
	if err != nil {
		return Profile{}, translate(err)
	}
	if lastSeen.Valid {
		p.LastSeen = &lastSeen.Time
	}
	return p, nil
}

func (r *Repository) LastMessage(ctx context.Context, conversationID string) (Message, error) {
	query := `
		SELECT id, conversation_id, sender_id, content, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	m := Message{}
	err := r.db.QueryRowContext(ctx, query, conversationID).Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.CreatedAt)
	if err != nil {
		return Message{}, translate(err)
	}
	return m, nil
}

func (r *Repository) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	query := `
		SELECT id, conversation_id, sender_id, content, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		m := Message{}
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (r *Repository) InsertMessage(ctx context.Context, nm NewMessage) (Message, error) {
	m := Message{
		ID:             uuid.NewString(),
		ConversationID: nm.ConversationID,
		SenderID:       nm.SenderID,
		Content:        nm.Content,
	}
	query := "INSERT INTO messages (id, conversation_id, sender_id, content) VALUES ($1, $2, $3, $4) RETURNING created_at"
	if err := r.db.QueryRowContext(ctx, query, m.ID, m.ConversationID, m.SenderID, m.Content).Scan(&m.CreatedAt); err != nil {
		return Message{}, translate(err)
	}
	return m, nil
}

func (r *Repository) TouchConversation(ctx context.Context, conversationID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, "UPDATE conversations SET last_message_at = $2 WHERE id = $1", conversationID, at)
	if err != nil {
		return translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (Conversation, error) {
	c := Conversation{}
	var last sql.NullTime
	if err := row.Scan(&c.ID, &c.User1ID, &c.User2ID, &last, &c.CreatedAt); err != nil {
		return Conversation{}, translate(err)
	}
	if last.Valid {
		c.LastMessageAt = &last.Time
	}
	return c, nil
}

// translate maps driver errors onto the package sentinels.
func translate(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
		case pgForeignKeyViolation:
			return fmt.Errorf("%w: %s", ErrNotFound, pgErr.ConstraintName)
		case pgCheckViolation, pgInvalidText:
			return fmt.Errorf("%w: %s", ErrInvalidArgument, pgErr.Message)
		}
	}
	return err
}
