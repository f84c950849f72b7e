package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/resume-builder/internal/types"
)

const userColumns = `id, email, name, phone, address, socials, password_hash, knowledge_graph, kg_revision, created_at, updated_at`

// CreateUser inserts a new user. ID, timestamps and an empty graph are filled in when unset.
func (db *DB) CreateUser(ctx context.Context, u *User) error {
	prepareNewUser(u, time.Now().UTC())

	socials, err := json.Marshal(u.Socials)
	if err != nil {
		return fmt.Errorf("failed to marshal socials: %w", err)
	}
	kg, err := json.Marshal(u.KnowledgeGraph)
	if err != nil {
		return fmt.Errorf("failed to marshal knowledge graph: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO users (id, email, name, phone, address, socials, password_hash, knowledge_graph, kg_revision, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		u.ID, u.Email, u.Name, u.Phone, u.Address, socials, u.PasswordHash, kg, u.KGRevision, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUserByID retrieves a user by ID. Returns nil, nil when no user exists.
func (db *DB) GetUserByID(ctx context.Context, id string) (*User, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, nil
	}
	row := db.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, uid)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// GetUserByEmail retrieves a user by email, case-insensitively. Returns nil, nil when no user exists.
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, nil
	}
	row := db.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return u, nil
}

// SaveKnowledgeGraph replaces a user's graph if its revision is still expectedRevision.
// Returns the new revision, or ErrRevisionMismatch when another writer got there first.
func (db *DB) SaveKnowledgeGraph(ctx context.Context, userID string, kg *types.KnowledgeGraph, expectedRevision int64) (int64, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return 0, fmt.Errorf("invalid user id %q: %w", userID, err)
	}
	data, err := json.Marshal(kg)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal knowledge graph: %w", err)
	}

	var newRevision int64
	err = db.pool.QueryRow(ctx,
		`UPDATE users
		 SET knowledge_graph = $1, kg_revision = kg_revision + 1, updated_at = NOW()
		 WHERE id = $2 AND kg_revision = $3
		 RETURNING kg_revision`,
		data, uid, expectedRevision,
	).Scan(&newRevision)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrRevisionMismatch
		}
		return 0, fmt.Errorf("failed to save knowledge graph: %w", err)
	}
	return newRevision, nil
}

// DeleteUser removes a user and, through the foreign key, their sessions
func (db *DB) DeleteUser(ctx context.Context, id string) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid user id %q: %w", id, err)
	}
	if _, err := db.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, uid); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return nil
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	var socials, kg []byte
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Phone, &u.Address, &socials, &u.PasswordHash,
		&kg, &u.KGRevision, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	if len(socials) > 0 {
		if err := json.Unmarshal(socials, &u.Socials); err != nil {
			return nil, fmt.Errorf("failed to unmarshal socials: %w", err)
		}
	}
	u.KnowledgeGraph = &types.KnowledgeGraph{}
	if len(kg) > 0 {
		if err := json.Unmarshal(kg, u.KnowledgeGraph); err != nil {
			return nil, fmt.Errorf("failed to unmarshal knowledge graph: %w", err)
		}
	}
	u.KnowledgeGraph.Normalize()
	return &u, nil
}

// NormalizeEmail lowercases and trims an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func prepareNewUser(u *User, now time.Time) {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.Email = NormalizeEmail(u.Email)
	if u.Socials == nil {
		u.Socials = map[string]string{}
	}
	if u.KnowledgeGraph == nil {
		u.KnowledgeGraph = types.NewKnowledgeGraph()
	}
	u.KnowledgeGraph.Normalize()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = u.CreatedAt
}
