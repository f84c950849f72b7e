package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/resume-builder/internal/types"
)

const sessionColumns = `id, user_id, job_details, resume_state, questionnaire, revision, created_at, last_active`

// CreateSession inserts a new session at revision 0
func (db *DB) CreateSession(ctx context.Context, s *types.ResumeSession) error {
	id, userID, err := sessionIDs(s)
	if err != nil {
		return err
	}
	s.Normalize()
	job, state, quest, err := marshalSessionDocs(s)
	if err != nil {
		return err
	}
	s.Revision = 0

	_, err = db.pool.Exec(ctx,
		`INSERT INTO resume_sessions (id, user_id, job_details, resume_state, questionnaire, revision, created_at, last_active)
		 VALUES ($1, $2, $3, $4, $5, 0, $6, $7)`,
		id, userID, job, state, quest, s.CreatedAt, s.LastActive,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID. Returns nil, nil when no session exists.
func (db *DB) GetSession(ctx context.Context, id string) (*types.ResumeSession, error) {
	sid, err := uuid.Parse(id)
	if err != nil {
		return nil, nil
	}
	row := db.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM resume_sessions WHERE id = $1`, sid)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

// ListSessions returns a user's sessions, most recently active first
func (db *DB) ListSessions(ctx context.Context, userID string) ([]types.ResumeSession, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return []types.ResumeSession{}, nil
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM resume_sessions WHERE user_id = $1 ORDER BY last_active DESC`, uid)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []types.ResumeSession{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return sessions, nil
}

// SaveSession writes s if the stored revision still equals s.Revision, then bumps s.Revision.
// Returns ErrRevisionMismatch when another writer got there first.
func (db *DB) SaveSession(ctx context.Context, s *types.ResumeSession) error {
	id, _, err := sessionIDs(s)
	if err != nil {
		return err
	}
	s.Normalize()
	job, state, quest, err := marshalSessionDocs(s)
	if err != nil {
		return err
	}
	lastActive := time.Now().UTC()

	var newRevision int64
	err = db.pool.QueryRow(ctx,
		`UPDATE resume_sessions
		 SET job_details = $1, resume_state = $2, questionnaire = $3, revision = revision + 1, last_active = $4
		 WHERE id = $5 AND revision = $6
		 RETURNING revision`,
		job, state, quest, lastActive, id, s.Revision,
	).Scan(&newRevision)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrRevisionMismatch
		}
		return fmt.Errorf("failed to save session: %w", err)
	}
	s.Revision = newRevision
	s.LastActive = lastActive
	return nil
}

func scanSession(row pgx.Row) (*types.ResumeSession, error) {
	var s types.ResumeSession
	var id, userID uuid.UUID
	var job, state, quest []byte
	if err := row.Scan(&id, &userID, &job, &state, &quest, &s.Revision, &s.CreatedAt, &s.LastActive); err != nil {
		return nil, err
	}
	s.ID = id.String()
	s.UserID = userID.String()
	if err := json.Unmarshal(job, &s.JobDetails); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job_details: %w", err)
	}
	if err := json.Unmarshal(state, &s.ResumeState); err != nil {
		return nil, fmt.Errorf("failed to unmarshal resume_state: %w", err)
	}
	if err := json.Unmarshal(quest, &s.Questionnaire); err != nil {
		return nil, fmt.Errorf("failed to unmarshal questionnaire: %w", err)
	}
	s.Normalize()
	return &s, nil
}

func sessionIDs(s *types.ResumeSession) (uuid.UUID, uuid.UUID, error) {
	id, err := uuid.Parse(s.ID)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("invalid session id %q: %w", s.ID, err)
	}
	userID, err := uuid.Parse(s.UserID)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("invalid user id %q: %w", s.UserID, err)
	}
	return id, userID, nil
}

func marshalSessionDocs(s *types.ResumeSession) (job, state, quest []byte, err error) {
	if job, err = json.Marshal(s.JobDetails); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal job_details: %w", err)
	}
	if state, err = json.Marshal(s.ResumeState); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal resume_state: %w", err)
	}
	if quest, err = json.Marshal(s.Questionnaire); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal questionnaire: %w", err)
	}
	return job, state, quest, nil
}
