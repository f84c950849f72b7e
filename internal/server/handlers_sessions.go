package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/jonathan/resume-builder/internal/types"
)

// handleCreateSession starts a new resume session for the caller
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	userID, err := s.userID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req types.CreateSessionRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	sess, err := s.workflow.CreateSession(r.Context(), userID, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusCreated, sess)
}

// handleListSessions returns the caller's sessions, most recent first
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	userID, err := s.userID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sessions, err := s.workflow.ListSessions(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	userID, err := s.userID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.workflow.GetSession(r.Context(), userID, pathID(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, sess)
}

// handleUpdateSession edits the job details of a session
func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	userID, err := s.userID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req types.UpdateSessionRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	sess, err := s.workflow.UpdateSession(r.Context(), userID, pathID(r, "id"), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, sess)
}

func (s *Server) handleCompleteSession(w http.ResponseWriter, r *http.Request) {
	userID, err := s.userID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.workflow.CompleteSession(r.Context(), userID, pathID(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, sess)
}

// handleGetKnowledgeGraph returns the caller's knowledge graph and its revision
func (s *Server) handleGetKnowledgeGraph(w http.ResponseWriter, r *http.Request) {
	userID, err := s.userID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	view, err := s.workflow.GetKnowledgeGraph(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, view)
}

// handleReplaceKnowledgeGraph stores a whole graph. The body is either the graph itself or
// {"knowledge_graph": {...}, "expected_revision": n}.
func (s *Server) handleReplaceKnowledgeGraph(w http.ResponseWriter, r *http.Request) {
	userID, err := s.userID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, r, &ErrValidation{Message: "request body too large"})
		return
	}
	graph, expected, err := splitGraphBody(raw)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	view, err := s.workflow.ReplaceKnowledgeGraph(r.Context(), userID, graph, expected)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, view)
}

func splitGraphBody(raw []byte) ([]byte, *int64, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil, &ErrValidation{Message: "request body is required"}
	}
	var envelope struct {
		KnowledgeGraph   json.RawMessage `json:"knowledge_graph"`
		ExpectedRevision *int64          `json:"expected_revision"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, nil, &ErrValidation{Message: "invalid request body: " + err.Error()}
	}
	if len(envelope.KnowledgeGraph) == 0 {
		return raw, nil, nil
	}
	return envelope.KnowledgeGraph, envelope.ExpectedRevision, nil
}
