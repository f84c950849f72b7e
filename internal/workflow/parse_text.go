package workflow

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/jonathan/resume-builder/internal/ingestion"
	"github.com/jonathan/resume-builder/internal/knowledge"
	"github.com/jonathan/resume-builder/internal/llm"
	"github.com/jonathan/resume-builder/internal/types"
)

// ParseTextResult is the outcome of ParseText
type ParseTextResult struct {
	Category              types.Category         `json:"category"`
	Data                  any                    `json:"data"`
	Confidence            float64                `json:"confidence"`
	Reasoning             string                 `json:"reasoning,omitempty"`
	KnowledgeGraphUpdated bool                   `json:"knowledge_graph_updated"`
	Merge                 *knowledge.MergeResult `json:"merge,omitempty"`
	Revision              int64                  `json:"revision"`
	Error                 string                 `json:"error,omitempty"`
}

// ParseText classifies free text describing one fact into a knowledge graph category and merges
// it into userID's graph. An unparseable model response is reported without touching the graph.
func (s *Service) ParseText(ctx context.Context, userID, text string) (*ParseTextResult, error) {
	text = ingestion.CleanText(text)
	if text == "" {
		return nil, &PreconditionError{Message: "text is required"}
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

	logger := log.With().Str("operation", OpParseText).Str("user_id", userID).Logger()
	logger.Info().Int("text_length", len(text)).Msg("parsing free text")

	raw, err := s.complete(ctx, OpParseText, "parse-text", llm.TierLite, map[string]string{
		"Text": text,
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Category   types.Category `json:"category"`
		Data       any            `json:"data"`
		Confidence any            `json:"confidence"`
		Reasoning  string         `json:"reasoning"`
	}
	if !decode(OpParseText, raw, &parsed) {
		return &ParseTextResult{
			Category: types.CategoryMisc,
			Data:     map[string]any{},
			Revision: u.KGRevision,
			Error:    llm.ParseFailureMarker,
		}, nil
	}

	result := &ParseTextResult{
		Category:  types.Category(strings.TrimSpace(string(parsed.Category))),
		Data:      parsed.Data,
		Reasoning: parsed.Reasoning,
		Revision:  u.KGRevision,
	}
	if c, ok := types.LooseFloat(parsed.Confidence); ok {
		result.Confidence = clampUnit(c)
	}

	merge, err := knowledge.Merge(u.KnowledgeGraph, result.Category, result.Data, s.now())
	if err != nil {
		logger.Warn().Err(err).Str("category", string(result.Category)).Msg("knowledge graph merge failed")
		result.Error = err.Error()
		return result, nil
	}
	result.Merge = &merge
	if merge.Applied {
		if err := s.saveGraph(ctx, u, u.KnowledgeGraph); err != nil {
			return nil, err
		}
		result.KnowledgeGraphUpdated = true
		result.Revision = u.KGRevision
	}

	logger.Info().
		Str("category", string(result.Category)).
		Bool("knowledge_graph_updated", result.KnowledgeGraphUpdated).
		Msg("free text parsed")
	return result, nil
}
