package workflow

import (
	"context"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/jonathan/resume-builder/internal/fetch"
	"github.com/jonathan/resume-builder/internal/llm"
	"github.com/jonathan/resume-builder/internal/types"
)

// CompanySummaryRequest asks for a summary of a company web page
type CompanySummaryRequest struct {
	// URL defaults to the session's company_url
	URL         string `json:"url" validate:"omitempty,url"`
	CompanyName string `json:"company_name" validate:"max=200"`
	// SessionID optionally stores the summary as the session's company context
	SessionID string `json:"session_id"`
}

// CompanySummary is what an applicant should know about a company
type CompanySummary struct {
	URL            string   `json:"url"`
	CompanyName    string   `json:"company_name,omitempty"`
	Title          string   `json:"title,omitempty"`
	Summary        string   `json:"summary"`
	Industry       string   `json:"industry,omitempty"`
	Products       []string `json:"products"`
	Values         []string `json:"values"`
	Keywords       []string `json:"keywords"`
	ContentLength  int      `json:"content_length"`
	SessionUpdated bool     `json:"session_updated"`
	Error          string   `json:"error,omitempty"`
}

// SummarizeCompany scrapes a company page and summarizes it through the gateway. With a
// session the parsed summary is stored under job_details.company_context.
func (s *Service) SummarizeCompany(ctx context.Context, userID string, req CompanySummaryRequest) (*CompanySummary, error) {
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
		if req.URL == "" {
			req.URL = sess.JobDetails.CompanyURL
		}
		if req.CompanyName == "" {
			req.CompanyName = sess.JobDetails.Company
		}
	}
	target := strings.TrimSpace(req.URL)
	if err := checkPageURL(target); err != nil {
		return nil, err
	}

	logger := log.With().Str("operation", OpCompanySummary).Str("user_id", userID).Str("session_id", req.SessionID).Str("url", target).Logger()
	logger.Info().Msg("summarizing company page")

	page, err := s.fetcher.Fetch(ctx, target)
	if err != nil {
		return nil, &FetchError{URL: target, Cause: err}
	}
	content := fetch.SummaryInput(page)
	if strings.TrimSpace(content) == "" {
		return nil, &PreconditionError{Message: "no meaningful content found to summarize at " + target}
	}

	raw, err := s.complete(ctx, OpCompanySummary, "company-summary", llm.TierLite, map[string]string{
		"CompanyName":     orDefault(req.CompanyName, "not specified"),
		"URL":             target,
		"Title":           page.Title,
		"MetaDescription": page.MetaDescription,
		"Text":            content,
	})
	if err != nil {
		return nil, s.failSession(ctx, sess, OpCompanySummary, err)
	}

	result := &CompanySummary{
		URL:           target,
		CompanyName:   req.CompanyName,
		Title:         page.Title,
		ContentLength: len(content),
	}
	var parsed struct {
		Summary  string `json:"summary"`
		Industry string `json:"industry"`
		Products []any  `json:"products"`
		Values   []any  `json:"values"`
		Keywords []any  `json:"keywords"`
	}
	if !decode(OpCompanySummary, raw, &parsed) {
		result.Summary = strings.TrimSpace(raw)
		result.Products, result.Values, result.Keywords = []string{}, []string{}, []string{}
		result.Error = llm.ParseFailureMarker
		return result, nil
	}
	result.Summary = strings.TrimSpace(parsed.Summary)
	result.Industry = strings.TrimSpace(parsed.Industry)
	result.Products = textList(parsed.Products)
	result.Values = textList(parsed.Values)
	result.Keywords = textList(parsed.Keywords)

	if sess != nil {
		sess.JobDetails.CompanyURL = target
		sess.JobDetails.CompanyContext = map[string]any{
			"url":      target,
			"summary":  result.Summary,
			"industry": result.Industry,
			"products": result.Products,
			"values":   result.Values,
			"keywords": result.Keywords,
		}
		sess.ResumeState.LastAction = "company_summarized"
		if err := s.saveSession(ctx, sess, sess.ResumeState.Stage); err != nil {
			return nil, err
		}
		result.SessionUpdated = true
	}

	logger.Info().Int("content_length", result.ContentLength).Bool("session_updated", result.SessionUpdated).Msg("company page summarized")
	return result, nil
}

func checkPageURL(raw string) error {
	if raw == "" {
		return &PreconditionError{Message: "company url is required"}
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &PreconditionError{Message: "company url must be an absolute http or https url"}
	}
	return nil
}
