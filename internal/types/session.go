package types

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ResumeStage is a session's coarse workflow position
type ResumeStage string

// Resume stages in their usual order, plus the error state
const (
	StageInit                   ResumeStage = "init"
	StageJobAnalyzed            ResumeStage = "job_analyzed"
	StageRequirementsIdentified ResumeStage = "requirements_identified"
	StageQuestionnairePending   ResumeStage = "questionnaire_pending"
	StageReadyForResume         ResumeStage = "ready_for_resume"
	StageCompleted              ResumeStage = "completed"
	StageError                  ResumeStage = "error"
)

// Valid reports whether s is a known stage
func (s ResumeStage) Valid() bool {
	switch s {
	case StageInit, StageJobAnalyzed, StageRequirementsIdentified, StageQuestionnairePending,
		StageReadyForResume, StageCompleted, StageError:
		return true
	}
	return false
}

// FieldType is the kind of requirement a FieldMetadata describes
type FieldType string

// Field types produced by requirement extraction
const (
	FieldTypeSkill         FieldType = "skill"
	FieldTypeEducation     FieldType = "education"
	FieldTypeCertification FieldType = "certification"
	FieldTypeExperience    FieldType = "experience"
	FieldTypeProject       FieldType = "project"
)

// FieldSource records where a FieldMetadata came from
type FieldSource string

// Field sources
const (
	SourceAIInferred         FieldSource = "ai_inferred"
	SourceUserKnowledgeGraph FieldSource = "user_knowledge_graph"
)

// FieldMetadata describes one job requirement
type FieldMetadata struct {
	Name        string      `json:"name"`
	Type        FieldType   `json:"type"`
	Description string      `json:"description,omitempty"`
	Priority    int         `json:"priority"`
	Confidence  float64     `json:"confidence"`
	Source      FieldSource `json:"source,omitempty"`
	Value       any         `json:"value,omitempty"`
}

// Clamp forces priority into [1,5] and confidence into [0,1], and defaults the source.
// LLM output is only range checked, nothing else about it is trusted.
func (f *FieldMetadata) Clamp() {
	switch {
	case f.Priority < 1:
		f.Priority = 1
	case f.Priority > 5:
		f.Priority = 5
	}
	switch {
	case math.IsNaN(f.Confidence), f.Confidence < 0:
		f.Confidence = 0
	case f.Confidence > 1:
		f.Confidence = 1
	}
	if f.Source == "" {
		f.Source = SourceAIInferred
	}
}

// UnmarshalJSON accepts priority and confidence as numbers or numeric strings.
// Priority floats are rounded to the nearest integer.
func (f *FieldMetadata) UnmarshalJSON(data []byte) error {
	type alias FieldMetadata
	aux := struct {
		*alias
		Priority   any `json:"priority"`
		Confidence any `json:"confidence"`
	}{alias: (*alias)(f)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if p, ok := LooseFloat(aux.Priority); ok {
		f.Priority = int(math.Round(p))
	}
	if c, ok := LooseFloat(aux.Confidence); ok {
		f.Confidence = c
	}
	return nil
}

// LooseFloat reads a number or numeric string. NaN and infinities count as absent.
func LooseFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// QuestionStatus tracks whether a question has been answered
type QuestionStatus string

// Question statuses
const (
	QuestionUnanswered QuestionStatus = "unanswered"
	QuestionAnswered   QuestionStatus = "answered"
	QuestionReviewed   QuestionStatus = "reviewed"
)

// QuestionItem is one clarifying question in a session questionnaire
type QuestionItem struct {
	ID              string         `json:"id"`
	Question        string         `json:"question"`
	RelatedField    string         `json:"related_field"`
	FieldType       string         `json:"field_type,omitempty"`
	SuggestedFormat string         `json:"suggested_format,omitempty"`
	Answer          *string        `json:"answer,omitempty"`
	Confidence      *float64       `json:"confidence,omitempty"`
	Status          QuestionStatus `json:"status"`
}

// IsAnswered reports whether the question counts toward completion
func (q QuestionItem) IsAnswered() bool {
	return q.Status == QuestionAnswered || q.Status == QuestionReviewed
}

// JobDetails is the target job of a session
type JobDetails struct {
	Role               string          `json:"role"`
	Company            string          `json:"company"`
	CompanyURL         string          `json:"company_url,omitempty"`
	Description        string          `json:"description"`
	ParsedRequirements []FieldMetadata `json:"parsed_requirements"`
	ExtractedKeywords  []string        `json:"extracted_keywords"`
	CompanyContext     map[string]any  `json:"company_context,omitempty"`
}

// ResumeState is the workflow state of a session
type ResumeState struct {
	Stage          ResumeStage     `json:"stage"`
	RequiredFields []FieldMetadata `json:"required_fields"`
	MissingFields  []FieldMetadata `json:"missing_fields"`
	AIContext      map[string]any  `json:"ai_context"`
	LastAction     string          `json:"last_action,omitempty"`
}

// Questionnaire holds the clarifying questions of a session
type Questionnaire struct {
	Questions  []QuestionItem `json:"questions"`
	Completion float64        `json:"completion"`
}

// ResumeSession is one job application workflow instance
type ResumeSession struct {
	ID            string        `json:"session_id"`
	UserID        string        `json:"user_id"`
	JobDetails    JobDetails    `json:"job_details"`
	ResumeState   ResumeState   `json:"resume_state"`
	Questionnaire Questionnaire `json:"questionnaire"`
	Revision      int64         `json:"revision"`
	CreatedAt     time.Time     `json:"created_at"`
	LastActive    time.Time     `json:"last_active"`
}

// NewResumeSession returns an empty session in the init stage
func NewResumeSession(id, userID string, job JobDetails, now time.Time) *ResumeSession {
	s := &ResumeSession{
		ID:         id,
		UserID:     userID,
		JobDetails: job,
		ResumeState: ResumeState{
			Stage: StageInit,
		},
		CreatedAt:  now,
		LastActive: now,
	}
	s.Normalize()
	return s
}

// Normalize replaces nil collections with empty ones
func (s *ResumeSession) Normalize() {
	if s.JobDetails.ParsedRequirements == nil {
		s.JobDetails.ParsedRequirements = []FieldMetadata{}
	}
	if s.JobDetails.ExtractedKeywords == nil {
		s.JobDetails.ExtractedKeywords = []string{}
	}
	if s.ResumeState.RequiredFields == nil {
		s.ResumeState.RequiredFields = []FieldMetadata{}
	}
	if s.ResumeState.MissingFields == nil {
		s.ResumeState.MissingFields = []FieldMetadata{}
	}
	if s.ResumeState.AIContext == nil {
		s.ResumeState.AIContext = map[string]any{}
	}
	if s.ResumeState.Stage == "" {
		s.ResumeState.Stage = StageInit
	}
	if s.Questionnaire.Questions == nil {
		s.Questionnaire.Questions = []QuestionItem{}
	}
}

// Clone returns a deep copy of the session via a JSON round trip
func (s *ResumeSession) Clone() (*ResumeSession, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}
	out := &ResumeSession{}
	if err := json.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	out.Normalize()
	return out, nil
}

// FindQuestion returns the index of the question with the given id, or -1
func (s *ResumeSession) FindQuestion(id string) int {
	for i, q := range s.Questionnaire.Questions {
		if q.ID == id {
			return i
		}
	}
	return -1
}

// AnsweredCount returns how many questions are answered
func (s *ResumeSession) AnsweredCount() int {
	n := 0
	for _, q := range s.Questionnaire.Questions {
		if q.IsAnswered() {
			n++
		}
	}
	return n
}

// CreateSessionRequest starts a new session
type CreateSessionRequest struct {
	JobRole        string `json:"job_role" validate:"max=200"`
	CompanyName    string `json:"company_name" validate:"max=200"`
	CompanyURL     string `json:"company_url" validate:"omitempty,url"`
	JobDescription string `json:"job_description" validate:"max=50000"`
}

// UpdateSessionRequest edits the job details of a session. Nil fields are left unchanged.
type UpdateSessionRequest struct {
	JobRole        *string `json:"job_role" validate:"omitempty,max=200"`
	CompanyName    *string `json:"company_name" validate:"omitempty,max=200"`
	CompanyURL     *string `json:"company_url" validate:"omitempty,url"`
	JobDescription *string `json:"job_description" validate:"omitempty,max=50000"`
}
