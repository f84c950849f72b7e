package server

import (
	"net/http"
	"sort"
	"strings"

	"github.com/jonathan/resume-builder/internal/types"
	"github.com/jonathan/resume-builder/internal/workflow"
)

// SessionRequest names the session a workflow step runs against
type SessionRequest struct {
	SessionID string `json:"session_id" validate:"required"`
}

// AnswerRequest carries one answer or a batch. Answers maps question id to answer text and
// is applied in questionnaire order.
type AnswerRequest struct {
	SessionID  string            `json:"session_id" validate:"required"`
	QuestionID string            `json:"question_id,omitempty"`
	Answer     string            `json:"answer,omitempty"`
	Answers    map[string]string `json:"answers,omitempty"`
}

// ParseTextRequest is free text describing one professional fact
type ParseTextRequest struct {
	Text string `json:"text" validate:"required,max=20000"`
}

func (s *Server) handleCustomPrompt(w http.ResponseWriter, r *http.Request) {
	var req workflow.CustomPromptRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.workflow.CustomPrompt(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, res)
}

// handleAnalyze extracts requirements from a job description
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	userID, err := s.userID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req workflow.AnalyzeRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.workflow.AnalyzeJob(r.Context(), userID, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, res)
}

// handleCompare matches a session's requirements against the caller's knowledge graph
func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := s.sessionTarget(w, r)
	if !ok {
		return
	}
	res, err := s.workflow.CompareRequirements(r.Context(), userID, sessionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, res)
}

func (s *Server) handleGenerateQuestionnaire(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := s.sessionTarget(w, r)
	if !ok {
		return
	}
	res, err := s.workflow.GenerateQuestionnaire(r.Context(), userID, sessionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, res)
}

// handleAnswerQuestion merges one or more questionnaire answers into the knowledge graph
func (s *Server) handleAnswerQuestion(w http.ResponseWriter, r *http.Request) {
	userID, err := s.userID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req AnswerRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	var answers []workflow.Answer
	switch {
	case len(req.Answers) > 0:
		if req.QuestionID != "" {
			s.writeError(w, r, &ErrValidation{Message: "send either question_id with answer or answers, not both"})
			return
		}
		sess, err := s.workflow.GetSession(r.Context(), userID, req.SessionID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		answers = orderAnswers(req.Answers, sess.Questionnaire.Questions)
	case req.QuestionID != "":
		answers = []workflow.Answer{{QuestionID: req.QuestionID, Answer: req.Answer}}
	default:
		s.writeError(w, r, &ErrValidation{Field: "answers", Message: "required"})
		return
	}

	res, err := s.workflow.AnswerQuestions(r.Context(), userID, req.SessionID, answers)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, res)
}

// orderAnswers lays out a question id to answer map in questionnaire order. Ids the
// questionnaire does not know follow in sorted order so they are reported deterministically.
func orderAnswers(byID map[string]string, questions []types.QuestionItem) []workflow.Answer {
	out := make([]workflow.Answer, 0, len(byID))
	placed := make(map[string]bool, len(byID))
	for _, q := range questions {
		if a, ok := byID[q.ID]; ok && !placed[q.ID] {
			out = append(out, workflow.Answer{QuestionID: q.ID, Answer: a})
			placed[q.ID] = true
		}
	}
	var rest []string
	for id := range byID {
		if !placed[id] {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	for _, id := range rest {
		out = append(out, workflow.Answer{QuestionID: id, Answer: byID[id]})
	}
	return out
}

// handleOptimize restructures the caller's knowledge graph
func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	userID, err := s.userID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.workflow.OptimizeGraph(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, res)
}

func (s *Server) handleParseText(w http.ResponseWriter, r *http.Request) {
	userID, err := s.userID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req ParseTextRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.workflow.ParseText(r.Context(), userID, req.Text)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, res)
}

// handleCompanySummary scrapes and summarizes a company page
func (s *Server) handleCompanySummary(w http.ResponseWriter, r *http.Request) {
	userID, err := s.userID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req workflow.CompanySummaryRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	res, err := s.workflow.SummarizeCompany(r.Context(), userID, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, res)
}

// sessionTarget reads the caller and the session_id body field
func (s *Server) sessionTarget(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	userID, err := s.userID(r)
	if err != nil {
		s.writeError(w, r, err)
		return "", "", false
	}
	var req SessionRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return "", "", false
	}
	return userID, strings.TrimSpace(req.SessionID), true
}
