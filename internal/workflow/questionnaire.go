package workflow

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/jonathan/resume-builder/internal/llm"
	"github.com/jonathan/resume-builder/internal/types"
)

// QuestionnaireResult is the outcome of GenerateQuestionnaire
type QuestionnaireResult struct {
	SessionID      string               `json:"session_id"`
	Questions      []types.QuestionItem `json:"questions"`
	TotalQuestions int                  `json:"total_questions"`
	Completion     float64              `json:"completion"`
	Stage          types.ResumeStage    `json:"stage"`
	Error          string               `json:"error,omitempty"`
}

type generatedQuestion struct {
	Question        string `json:"question"`
	RelatedField    string `json:"related_field"`
	FieldType       string `json:"field_type"`
	Priority        any    `json:"priority"`
	SuggestedFormat string `json:"suggested_format"`
}

// GenerateQuestionnaire writes one clarifying question per missing field of the session,
// highest priority first, and replaces the session's questionnaire with them.
func (s *Service) GenerateQuestionnaire(ctx context.Context, userID, sessionID string) (*QuestionnaireResult, error) {
	release, err := s.lockSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	sess, err := s.loadSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if err := rejectStages(sess, "generate a questionnaire for", types.StageError, types.StageCompleted); err != nil {
		return nil, err
	}
	missing := sess.ResumeState.MissingFields
	if len(missing) == 0 {
		return nil, &PreconditionError{Message: "session has no missing fields; compare requirements first"}
	}

	logger := log.With().Str("operation", OpQuestionnaire).Str("user_id", userID).Str("session_id", sessionID).Logger()
	logger.Info().Int("missing_fields", len(missing)).Msg("generating questionnaire")

	raw, err := s.complete(ctx, OpQuestionnaire, "generate-questionnaire", llm.TierStandard, map[string]string{
		"MissingFields": toJSON(missing),
	})
	if err != nil {
		return nil, s.failSession(ctx, sess, OpQuestionnaire, err)
	}

	result := &QuestionnaireResult{SessionID: sessionID, Stage: sess.ResumeState.Stage}
	var parsed struct {
		Questions []generatedQuestion `json:"questions"`
	}
	if !decode(OpQuestionnaire, raw, &parsed) {
		result.Questions = []types.QuestionItem{}
		result.Error = llm.ParseFailureMarker
		return result, nil
	}

	questions := s.buildQuestions(parsed.Questions, missing)

	prev := sess.ResumeState.Stage
	sess.Questionnaire = types.Questionnaire{Questions: questions, Completion: 0}
	state := &sess.ResumeState
	state.Stage = types.StageQuestionnairePending
	state.AIContext = map[string]any{
		"summary":            fmt.Sprintf("Generated questionnaire with %d questions", len(questions)),
		"total_questions":    len(questions),
		"questions_answered": 0,
	}
	state.LastAction = "questionnaire_generated"

	if err := s.saveSession(ctx, sess, prev); err != nil {
		return nil, err
	}

	result.Questions = questions
	result.TotalQuestions = len(questions)
	result.Stage = state.Stage
	logger.Info().Int("questions", len(questions)).Msg("questionnaire generated")
	return result, nil
}

// buildQuestions turns model output into question items. Every missing field ends up with a
// question: fields the model skipped get a templated one.
func (s *Service) buildQuestions(generated []generatedQuestion, missing []types.FieldMetadata) []types.QuestionItem {
	byName := make(map[string]types.FieldMetadata, len(missing))
	for _, f := range missing {
		byName[strings.ToLower(strings.TrimSpace(f.Name))] = f
	}

	type ranked struct {
		item     types.QuestionItem
		priority int
	}
	var items []ranked
	covered := make(map[string]struct{}, len(missing))

	for _, g := range generated {
		text := strings.TrimSpace(g.Question)
		if text == "" {
			continue
		}
		related := strings.TrimSpace(g.RelatedField)
		key := strings.ToLower(related)
		field, known := byName[key]

		fieldType := strings.TrimSpace(g.FieldType)
		if fieldType == "" && known {
			fieldType = string(field.Type)
		}
		priority, ok := priorityOf(g.Priority)
		if !ok && known {
			priority = field.Priority
		}
		covered[key] = struct{}{}
		items = append(items, ranked{
			item: types.QuestionItem{
				ID:              s.newID(),
				Question:        text,
				RelatedField:    related,
				FieldType:       fieldType,
				SuggestedFormat: strings.TrimSpace(g.SuggestedFormat),
				Status:          types.QuestionUnanswered,
			},
			priority: priority,
		})
	}

	for _, f := range missing {
		key := strings.ToLower(strings.TrimSpace(f.Name))
		if _, ok := covered[key]; ok || key == "" {
			continue
		}
		covered[key] = struct{}{}
		items = append(items, ranked{
			item: types.QuestionItem{
				ID:           s.newID(),
				Question:     templateQuestion(f),
				RelatedField: f.Name,
				FieldType:    string(f.Type),
				Status:       types.QuestionUnanswered,
			},
			priority: f.Priority,
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].priority > items[j].priority
	})
	out := make([]types.QuestionItem, len(items))
	for i, r := range items {
		out[i] = r.item
	}
	return out
}

func priorityOf(v any) (int, bool) {
	n, ok := types.LooseFloat(v)
	return int(math.Round(n)), ok
}

func templateQuestion(f types.FieldMetadata) string {
	switch f.Type {
	case types.FieldTypeSkill:
		return fmt.Sprintf("What is your experience level with %s?", f.Name)
	case types.FieldTypeEducation:
		return fmt.Sprintf("Do you have a degree in %s, and from which institution?", f.Name)
	case types.FieldTypeCertification:
		return fmt.Sprintf("Do you hold the %s certification?", f.Name)
	case types.FieldTypeExperience:
		return fmt.Sprintf("Do you have work experience with %s?", f.Name)
	case types.FieldTypeProject:
		return fmt.Sprintf("Have you worked on any projects involving %s?", f.Name)
	default:
		return fmt.Sprintf("Can you describe your background with %s?", f.Name)
	}
}
