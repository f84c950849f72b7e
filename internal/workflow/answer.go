package workflow

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/resume-builder/internal/db"
	"github.com/jonathan/resume-builder/internal/knowledge"
	"github.com/jonathan/resume-builder/internal/llm"
	"github.com/jonathan/resume-builder/internal/types"
)

// defaultAnswerConfidence is used when the model omits a confidence
const defaultAnswerConfidence = 0.5

// Item statuses in an answer batch
const (
	ItemAnswered = "answered"
	ItemFailed   = "failed"
)

// Answer is one submitted answer to a questionnaire question
type Answer struct {
	QuestionID string `json:"question_id"`
	Answer     string `json:"answer"`
}

// AnswerItemResult reports what happened to one answer of a batch
type AnswerItemResult struct {
	QuestionID string                 `json:"question_id"`
	Status     string                 `json:"status"`
	Confidence float64                `json:"confidence"`
	Summary    string                 `json:"summary,omitempty"`
	Category   types.Category         `json:"category,omitempty"`
	Merge      *knowledge.MergeResult `json:"merge,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

// AnswerResult is the outcome of AnswerQuestions
type AnswerResult struct {
	SessionID             string             `json:"session_id"`
	TotalQuestions        int                `json:"total_questions"`
	AnsweredCount         int                `json:"answered_count"`
	Completion            float64            `json:"completion"`
	KnowledgeGraphUpdated bool               `json:"knowledge_graph_updated"`
	Results               []AnswerItemResult `json:"results"`
	Warnings              []string           `json:"warnings"`
	AllAnswered           bool               `json:"all_questions_answered"`
	Stage                 types.ResumeStage  `json:"stage"`
}

// ProcessedAnswer is the model's structured reading of one answer
type ProcessedAnswer struct {
	Updates struct {
		Category types.Category `json:"category"`
		Data     any            `json:"data"`
	} `json:"knowledge_graph_updates"`
	Confidence any    `json:"confidence"`
	Summary    string `json:"summary"`
}

type answerJob struct {
	index    int // position in the questionnaire
	answer   string
	raw      string
	err      error
	resultAt int // position in the results slice
}

// AnswerQuestions records a batch of answers, folds each into the user's knowledge graph and
// recomputes completion. Unknown question ids are skipped with a warning and a failing item
// never aborts its siblings. The call only fails as a whole when every processed answer hit a
// gateway failure, in which case the session moves to the error stage.
func (s *Service) AnswerQuestions(ctx context.Context, userID, sessionID string, answers []Answer) (*AnswerResult, error) {
	if len(answers) == 0 {
		return nil, &PreconditionError{Message: "at least one answer is required"}
	}

	release, err := s.lockSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	sess, err := s.loadSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if err := rejectStages(sess, "answer questions of", types.StageError, types.StageCompleted); err != nil {
		return nil, err
	}
	questions := sess.Questionnaire.Questions
	if len(questions) == 0 {
		return nil, &PreconditionError{Message: "no questionnaire found in this session"}
	}
	snapshot, err := sess.Clone()
	if err != nil {
		return nil, err
	}

	logger := log.With().Str("operation", OpAnswer).Str("user_id", userID).Str("session_id", sessionID).Logger()

	result := &AnswerResult{
		SessionID: sessionID,
		Results:   []AnswerItemResult{},
		Warnings:  []string{},
	}
	var jobs []*answerJob
	seen := make(map[string]struct{}, len(answers))
	for _, a := range answers {
		idx := sess.FindQuestion(a.QuestionID)
		if idx < 0 {
			logger.Warn().Str("question_id", a.QuestionID).Msg("question not found, skipping")
			result.Warnings = append(result.Warnings, fmt.Sprintf("question %s not found", a.QuestionID))
			continue
		}
		if _, dup := seen[a.QuestionID]; dup {
			result.Warnings = append(result.Warnings, fmt.Sprintf("question %s answered more than once, later answers ignored", a.QuestionID))
			continue
		}
		seen[a.QuestionID] = struct{}{}

		if strings.TrimSpace(a.Answer) == "" {
			result.Results = append(result.Results, AnswerItemResult{
				QuestionID: a.QuestionID,
				Status:     ItemFailed,
				Error:      "answer is empty",
			})
			continue
		}
		result.Results = append(result.Results, AnswerItemResult{QuestionID: a.QuestionID})
		jobs = append(jobs, &answerJob{index: idx, answer: a.Answer, resultAt: len(result.Results) - 1})
	}
	sort.Strings(result.Warnings)

	var u *db.User
	if len(jobs) > 0 {
		releaseUser, err := s.lockUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		defer releaseUser()
		if u, err = s.loadUser(ctx, userID); err != nil {
			return nil, err
		}
	}

	logger.Info().Int("answers", len(answers)).Int("processing", len(jobs)).Msg("processing answers")
	s.runAnswerJobs(ctx, questions, jobs)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var upstreamErr error
	upstreamFailures := 0
	graphChanged := false
	for _, job := range jobs {
		item := &result.Results[job.resultAt]
		q := &questions[job.index]

		if job.err != nil {
			if llm.IsUpstreamFailure(job.err) {
				upstreamFailures++
				if upstreamErr == nil {
					upstreamErr = job.err
				}
			}
			item.Status = ItemFailed
			item.Error = job.err.Error()
			logger.Error().Err(job.err).Str("question_id", q.ID).Msg("failed to process answer")
			continue
		}

		answer := job.answer
		q.Answer = &answer
		q.Status = types.QuestionAnswered
		item.Status = ItemAnswered

		var processed ProcessedAnswer
		if !decode(OpAnswer, job.raw, &processed) {
			zero := 0.0
			q.Confidence = &zero
			item.Error = llm.ParseFailureMarker
			continue
		}

		confidence := defaultAnswerConfidence
		if c, ok := types.LooseFloat(processed.Confidence); ok {
			confidence = clampUnit(c)
		}
		q.Confidence = &confidence
		item.Confidence = confidence
		item.Summary = processed.Summary
		item.Category = processed.Updates.Category

		merge, err := knowledge.Merge(u.KnowledgeGraph, processed.Updates.Category, processed.Updates.Data, s.now())
		if err != nil {
			item.Error = fmt.Sprintf("knowledge graph merge failed: %v", err)
			logger.Warn().Err(err).Str("question_id", q.ID).Str("category", string(processed.Updates.Category)).Msg("knowledge graph merge failed")
			continue
		}
		item.Merge = &merge
		graphChanged = graphChanged || merge.Applied
	}

	if len(jobs) > 0 && upstreamFailures == len(jobs) {
		return nil, s.failSession(ctx, sess, OpAnswer, upstreamErr)
	}

	prev := sess.ResumeState.Stage
	answered := sess.AnsweredCount()
	completion := Completion(answered, len(questions))
	sess.Questionnaire.Completion = completion
	if completion >= 100 {
		sess.ResumeState.Stage = types.StageReadyForResume
	}
	summaries := make([]string, 0, len(result.Results))
	for _, r := range result.Results {
		if r.Summary != "" {
			summaries = append(summaries, r.Summary)
		}
	}
	sess.ResumeState.AIContext = map[string]any{
		"summary":            fmt.Sprintf("Answered %d/%d questions", answered, len(questions)),
		"total_questions":    len(questions),
		"questions_answered": answered,
		"last_batch_summary": summaries,
	}
	sess.ResumeState.LastAction = "questions_batch_answered"

	// The session is written before the graph. A failed session write leaves both documents
	// untouched, and a failed graph write puts the session back, so a retry merges exactly once.
	if err := s.saveSession(ctx, sess, prev); err != nil {
		return nil, err
	}
	if graphChanged {
		if err := s.saveGraph(ctx, u, u.KnowledgeGraph); err != nil {
			s.restoreSession(ctx, snapshot, sess.Revision)
			return nil, err
		}
		result.KnowledgeGraphUpdated = true
	}

	result.TotalQuestions = len(questions)
	result.AnsweredCount = answered
	result.Completion = completion
	result.AllAnswered = completion >= 100
	result.Stage = sess.ResumeState.Stage
	logger.Info().
		Int("answered", answered).
		Int("total", len(questions)).
		Bool("knowledge_graph_updated", result.KnowledgeGraphUpdated).
		Msg("answers processed")
	return result, nil
}

// restoreSession writes snapshot back over a session saved at revision rev
func (s *Service) restoreSession(ctx context.Context, snapshot *types.ResumeSession, rev int64) {
	snapshot.Revision = rev
	if err := s.store.SaveSession(ctx, snapshot); err != nil {
		log.Error().Err(err).Str("session_id", snapshot.ID).Msg("failed to restore session after knowledge graph write failed")
	}
}

// runAnswerJobs calls the model for every job, at most batchLimit at a time.
// Failures are kept on the job so one bad answer cannot cancel the others.
func (s *Service) runAnswerJobs(ctx context.Context, questions []types.QuestionItem, jobs []*answerJob) {
	var g errgroup.Group
	g.SetLimit(s.batchLimit)
	for _, job := range jobs {
		q := questions[job.index]
		g.Go(func() error {
			job.raw, job.err = s.complete(ctx, OpAnswer, "process-answer", llm.TierStandard, map[string]string{
				"Question":     q.Question,
				"Answer":       job.answer,
				"RelatedField": q.RelatedField,
				"FieldType":    orDefault(q.FieldType, string(types.CategoryMisc)),
			})
			return nil
		})
	}
	_ = g.Wait()
}

// Completion is the answered percentage of a questionnaire, 0 when it is empty
func Completion(answered, total int) float64 {
	if total <= 0 {
		return 0
	}
	return 100 * float64(answered) / float64(total)
}

func clampUnit(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
