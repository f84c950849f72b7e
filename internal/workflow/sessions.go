package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/jonathan/resume-builder/internal/ingestion"
	"github.com/jonathan/resume-builder/internal/knowledge"
	"github.com/jonathan/resume-builder/internal/types"
)

// CreateSession starts an empty session in the init stage
func (s *Service) CreateSession(ctx context.Context, userID string, req types.CreateSessionRequest) (*types.ResumeSession, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, &PreconditionError{Message: "user id is required"}
	}
	sess := types.NewResumeSession(s.newID(), userID, types.JobDetails{
		Role:        strings.TrimSpace(req.JobRole),
		Company:     strings.TrimSpace(req.CompanyName),
		CompanyURL:  strings.TrimSpace(req.CompanyURL),
		Description: ingestion.CleanText(req.JobDescription),
	}, s.now())
	sess.ResumeState.LastAction = "session_created"

	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	log.Info().Str("session_id", sess.ID).Str("user_id", userID).Msg("session created")
	return sess, nil
}

// GetSession returns a session owned by userID
func (s *Service) GetSession(ctx context.Context, userID, sessionID string) (*types.ResumeSession, error) {
	return s.loadSession(ctx, userID, sessionID)
}

// ListSessions returns userID's sessions, most recently active first
func (s *Service) ListSessions(ctx context.Context, userID string) ([]types.ResumeSession, error) {
	sessions, err := s.store.ListSessions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	for i := range sessions {
		sessions[i].Normalize()
	}
	return sessions, nil
}

// UpdateSession edits the job details of a session. Analysis results are left alone; re-run
// analyze to refresh them after changing the description.
func (s *Service) UpdateSession(ctx context.Context, userID, sessionID string, req types.UpdateSessionRequest) (*types.ResumeSession, error) {
	release, err := s.lockSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	sess, err := s.loadSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	job := &sess.JobDetails
	if req.JobRole != nil {
		job.Role = strings.TrimSpace(*req.JobRole)
	}
	if req.CompanyName != nil {
		job.Company = strings.TrimSpace(*req.CompanyName)
	}
	if req.CompanyURL != nil {
		job.CompanyURL = strings.TrimSpace(*req.CompanyURL)
	}
	if req.JobDescription != nil {
		job.Description = ingestion.CleanText(*req.JobDescription)
	}
	sess.ResumeState.LastAction = "job_details_updated"

	if err := s.saveSession(ctx, sess, sess.ResumeState.Stage); err != nil {
		return nil, err
	}
	return sess, nil
}

// CompleteSession marks a session ready for resume as completed
func (s *Service) CompleteSession(ctx context.Context, userID, sessionID string) (*types.ResumeSession, error) {
	release, err := s.lockSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	sess, err := s.loadSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	prev := sess.ResumeState.Stage
	if prev != types.StageReadyForResume {
		return nil, &PreconditionError{Message: fmt.Sprintf("only a session in stage %s can be completed, got %s", types.StageReadyForResume, prev)}
	}
	sess.ResumeState.Stage = types.StageCompleted
	sess.ResumeState.LastAction = "session_completed"

	if err := s.saveSession(ctx, sess, prev); err != nil {
		return nil, err
	}
	log.Info().Str("session_id", sess.ID).Str("user_id", userID).Msg("session completed")
	return sess, nil
}

// GraphView is a knowledge graph together with the revision it was read at
type GraphView struct {
	KnowledgeGraph *types.KnowledgeGraph `json:"knowledge_graph"`
	Revision       int64                 `json:"revision"`
}

// GetKnowledgeGraph returns userID's knowledge graph
func (s *Service) GetKnowledgeGraph(ctx context.Context, userID string) (*GraphView, error) {
	u, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &GraphView{KnowledgeGraph: u.KnowledgeGraph, Revision: u.KGRevision}, nil
}

// ReplaceKnowledgeGraph validates raw against the graph schema and stores it. When
// expectedRevision is set and the stored graph has moved on, a ConflictError is returned.
func (s *Service) ReplaceKnowledgeGraph(ctx context.Context, userID string, raw []byte, expectedRevision *int64) (*GraphView, error) {
	kg, err := knowledge.ParseDocument(raw)
	if err != nil {
		return nil, err
	}

	release, err := s.lockUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer release()

	u, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if expectedRevision != nil && *expectedRevision != u.KGRevision {
		return nil, &ConflictError{
			Document: "knowledge graph",
			Cause:    fmt.Errorf("expected revision %d, stored revision is %d", *expectedRevision, u.KGRevision),
		}
	}
	if err := s.saveGraph(ctx, u, kg); err != nil {
		return nil, err
	}
	log.Info().Str("user_id", userID).Int64("revision", u.KGRevision).Msg("knowledge graph replaced")
	return &GraphView{KnowledgeGraph: u.KnowledgeGraph, Revision: u.KGRevision}, nil
}
