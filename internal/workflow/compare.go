package workflow

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/jonathan/resume-builder/internal/llm"
	"github.com/jonathan/resume-builder/internal/types"
)

// FillSuggestion is advice on how to address one missing requirement
type FillSuggestion struct {
	FieldName  string `json:"field_name"`
	Suggestion string `json:"suggestion"`
	Category   string `json:"category,omitempty"`
}

// Comparison classifies job requirements against a knowledge graph
type Comparison struct {
	MissingFields   []types.FieldMetadata `json:"missing_fields"`
	MatchedFields   []types.FieldMetadata `json:"matched_fields"`
	FillSuggestions []FillSuggestion      `json:"fill_suggestions"`
	Error           string                `json:"error,omitempty"`
}

// CompareResult is the outcome of CompareRequirements
type CompareResult struct {
	Comparison
	SessionID    string            `json:"session_id"`
	TotalMissing int               `json:"total_missing"`
	TotalMatched int               `json:"total_matched"`
	Stage        types.ResumeStage `json:"stage"`
}

// CompareRequirements classifies the session's parsed requirements as matched or missing against
// the user's knowledge graph. With nothing missing the session moves straight to ready_for_resume
// and unanswered questions are pruned; otherwise it moves to requirements_identified.
func (s *Service) CompareRequirements(ctx context.Context, userID, sessionID string) (*CompareResult, error) {
	release, err := s.lockSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	sess, err := s.loadSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if err := rejectStages(sess, "compare requirements of", types.StageError, types.StageCompleted); err != nil {
		return nil, err
	}
	if len(sess.JobDetails.ParsedRequirements) == 0 {
		return nil, &PreconditionError{Message: "session has no parsed requirements; analyze the job first"}
	}
	u, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	logger := log.With().Str("operation", OpCompare).Str("user_id", userID).Str("session_id", sessionID).Logger()
	logger.Info().Int("requirements", len(sess.JobDetails.ParsedRequirements)).Msg("comparing requirements")

	raw, err := s.complete(ctx, OpCompare, "compare-requirements", llm.TierStandard, map[string]string{
		"Requirements":   toJSON(sess.JobDetails.ParsedRequirements),
		"KnowledgeGraph": toJSON(u.KnowledgeGraph),
	})
	if err != nil {
		return nil, s.failSession(ctx, sess, OpCompare, err)
	}

	result := &CompareResult{SessionID: sessionID, Stage: sess.ResumeState.Stage}
	var parsed Comparison
	if !decode(OpCompare, raw, &parsed) {
		result.Comparison = Comparison{
			MissingFields:   []types.FieldMetadata{},
			MatchedFields:   []types.FieldMetadata{},
			FillSuggestions: []FillSuggestion{},
			Error:           llm.ParseFailureMarker,
		}
		return result, nil
	}
	missing, matched := reconcile(parsed.MissingFields, parsed.MatchedFields, u.KnowledgeGraph)
	if parsed.FillSuggestions == nil {
		parsed.FillSuggestions = []FillSuggestion{}
	}
	result.Comparison = Comparison{
		MissingFields:   missing,
		MatchedFields:   matched,
		FillSuggestions: parsed.FillSuggestions,
	}
	result.TotalMissing = len(missing)
	result.TotalMatched = len(matched)

	prev := sess.ResumeState.Stage
	state := &sess.ResumeState
	state.MissingFields = missing
	if len(missing) == 0 {
		state.Stage = types.StageReadyForResume
		pruneUnanswered(&sess.Questionnaire)
	} else {
		state.Stage = types.StageRequirementsIdentified
	}
	state.AIContext = map[string]any{
		"summary":          "Compared job requirements with user profile",
		"total_missing":    len(missing),
		"total_matched":    len(matched),
		"fill_suggestions": parsed.FillSuggestions,
	}
	state.LastAction = "requirements_compared"

	if err := s.saveSession(ctx, sess, prev); err != nil {
		return nil, err
	}
	result.Stage = state.Stage

	logger.Info().
		Int("missing", result.TotalMissing).
		Int("matched", result.TotalMatched).
		Str("stage", string(result.Stage)).
		Msg("comparison completed")
	return result, nil
}

// reconcile range checks both lists and moves a missing requirement that names a skill the graph
// already holds over to matched. Only exact, case-insensitive skill names count.
func reconcile(missing, matched []types.FieldMetadata, kg *types.KnowledgeGraph) ([]types.FieldMetadata, []types.FieldMetadata) {
	skills := make(map[string]string, len(kg.Skills))
	for _, sk := range kg.Skills {
		skills[strings.ToLower(strings.TrimSpace(sk))] = sk
	}

	outMatched := cleanFields(withSource(matched, types.SourceUserKnowledgeGraph))
	outMissing := make([]types.FieldMetadata, 0, len(missing))
	for _, f := range cleanFields(missing) {
		if sk, ok := skills[strings.ToLower(f.Name)]; ok {
			f.Source = types.SourceUserKnowledgeGraph
			f.Value = sk
			outMatched = append(outMatched, f)
			continue
		}
		outMissing = append(outMissing, f)
	}
	return outMissing, outMatched
}

func withSource(fields []types.FieldMetadata, src types.FieldSource) []types.FieldMetadata {
	out := make([]types.FieldMetadata, len(fields))
	for i, f := range fields {
		if f.Source == "" {
			f.Source = src
		}
		out[i] = f
	}
	return out
}

// pruneUnanswered drops unanswered questions; completion is 100 if any question is left, else 0
func pruneUnanswered(q *types.Questionnaire) {
	kept := make([]types.QuestionItem, 0, len(q.Questions))
	for _, item := range q.Questions {
		if item.IsAnswered() {
			kept = append(kept, item)
		}
	}
	q.Questions = kept
	if len(kept) > 0 {
		q.Completion = 100
	} else {
		q.Completion = 0
	}
}
