package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/jonathan/resume-builder/internal/ingestion"
	"github.com/jonathan/resume-builder/internal/llm"
	"github.com/jonathan/resume-builder/internal/types"
)

// AnalyzeRequest asks for the requirements of a job description
type AnalyzeRequest struct {
	JobDescription string `json:"job_description" validate:"max=50000"`
	JobRole        string `json:"job_role" validate:"max=200"`
	CompanyName    string `json:"company_name" validate:"max=200"`
	// SessionID optionally binds the analysis to a session
	SessionID string `json:"session_id"`
}

// JobAnalysis is the structured form of a job description
type JobAnalysis struct {
	ParsedRequirements []types.FieldMetadata `json:"parsed_requirements"`
	ExtractedKeywords  []string              `json:"extracted_keywords"`
	Error              string                `json:"error,omitempty"`
}

// AnalyzeResult is the outcome of AnalyzeJob
type AnalyzeResult struct {
	JobAnalysis
	SessionID      string `json:"session_id,omitempty"`
	SessionUpdated bool   `json:"session_updated"`
}

// AnalyzeJob extracts requirements and keywords from a job description. When a session is given
// the results replace its job analysis and the session moves to job_analyzed from any stage,
// including error. An unparseable model response yields an empty analysis with Error set and
// leaves the session untouched.
func (s *Service) AnalyzeJob(ctx context.Context, userID string, req AnalyzeRequest) (*AnalyzeResult, error) {
	var sess *types.ResumeSession
	if req.SessionID != "" {
		release, err := s.lockSession(ctx, req.SessionID)
		if err != nil {
			return nil, err
		}
		defer release()

		if sess, err = s.loadSession(ctx, userID, req.SessionID); err != nil {
			return nil, err
		}
		// fall back to what the session was created with
		if strings.TrimSpace(req.JobDescription) == "" {
			req.JobDescription = sess.JobDetails.Description
		}
		if req.JobRole == "" {
			req.JobRole = sess.JobDetails.Role
		}
		if req.CompanyName == "" {
			req.CompanyName = sess.JobDetails.Company
		}
	}
	req.JobDescription = ingestion.CleanText(req.JobDescription)
	if req.JobDescription == "" {
		return nil, &PreconditionError{Message: "job description is required"}
	}

	logger := log.With().Str("operation", OpAnalyze).Str("user_id", userID).Str("session_id", req.SessionID).Logger()
	logger.Info().Int("description_length", len(req.JobDescription)).Msg("analyzing job description")

	raw, err := s.complete(ctx, OpAnalyze, "analyze-job", llm.TierStandard, map[string]string{
		"JobRole":        orDefault(req.JobRole, "not specified"),
		"CompanyName":    orDefault(req.CompanyName, "not specified"),
		"JobDescription": req.JobDescription,
	})
	if err != nil {
		return nil, s.failSession(ctx, sess, OpAnalyze, err)
	}

	result := &AnalyzeResult{SessionID: req.SessionID}
	var parsed JobAnalysis
	if !decode(OpAnalyze, raw, &parsed) {
		result.JobAnalysis = JobAnalysis{
			ParsedRequirements: []types.FieldMetadata{},
			ExtractedKeywords:  []string{},
			Error:              llm.ParseFailureMarker,
		}
		return result, nil
	}
	result.ParsedRequirements = cleanFields(parsed.ParsedRequirements)
	result.ExtractedKeywords = uniqueStrings(parsed.ExtractedKeywords)

	if sess != nil {
		prev := sess.ResumeState.Stage
		job := &sess.JobDetails
		job.Description = req.JobDescription
		job.Role = req.JobRole
		job.Company = req.CompanyName
		job.ParsedRequirements = result.ParsedRequirements
		job.ExtractedKeywords = result.ExtractedKeywords

		state := &sess.ResumeState
		state.Stage = types.StageJobAnalyzed
		state.RequiredFields = append([]types.FieldMetadata{}, result.ParsedRequirements...)
		state.MissingFields = []types.FieldMetadata{}
		state.AIContext = map[string]any{
			"summary":            fmt.Sprintf("Analyzed job for %s at %s", orDefault(req.JobRole, "position"), orDefault(req.CompanyName, "company")),
			"total_requirements": len(result.ParsedRequirements),
		}
		state.LastAction = "job_analyzed"

		if err := s.saveSession(ctx, sess, prev); err != nil {
			return nil, err
		}
		result.SessionUpdated = true
	}

	logger.Info().
		Int("requirements", len(result.ParsedRequirements)).
		Int("keywords", len(result.ExtractedKeywords)).
		Bool("session_updated", result.SessionUpdated).
		Msg("job analysis completed")
	return result, nil
}

// cleanFields drops unnamed entries and range checks the rest
func cleanFields(fields []types.FieldMetadata) []types.FieldMetadata {
	out := make([]types.FieldMetadata, 0, len(fields))
	for _, f := range fields {
		f.Name = strings.TrimSpace(f.Name)
		if f.Name == "" {
			continue
		}
		f.Clamp()
		out = append(out, f)
	}
	return out
}

// uniqueStrings trims values and drops blanks and exact duplicates, keeping first occurrence order
func uniqueStrings(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
