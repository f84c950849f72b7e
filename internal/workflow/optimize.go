package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/jonathan/resume-builder/internal/knowledge"
	"github.com/jonathan/resume-builder/internal/llm"
	"github.com/jonathan/resume-builder/internal/types"
)

// OptimizeResult is the outcome of OptimizeGraph
type OptimizeResult struct {
	OptimizedGraph        *types.KnowledgeGraph `json:"optimized_graph"`
	ChangesMade           []string              `json:"changes_made"`
	TotalChanges          int                   `json:"total_changes"`
	Suggestions           []string              `json:"suggestions"`
	KnowledgeGraphUpdated bool                  `json:"knowledge_graph_updated"`
	Revision              int64                 `json:"revision"`
	Error                 string                `json:"error,omitempty"`
}

// OptimizeGraph asks the model to move misplaced knowledge graph items into their proper
// categories. The restructured graph is stored only when it passes schema validation, keeps
// every value of the original (see knowledge.CheckConservation), reports at least one change
// and actually differs from the stored graph. A conservation failure is returned as an error.
func (s *Service) OptimizeGraph(ctx context.Context, userID string) (*OptimizeResult, error) {
	release, err := s.lockUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer release()

	u, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	before := u.KnowledgeGraph
	if before.IsEmpty() {
		return nil, &PreconditionError{Message: "knowledge graph is empty; add some data first"}
	}

	logger := log.With().Str("operation", OpOptimize).Str("user_id", userID).Logger()
	logger.Info().Msg("optimizing knowledge graph")

	raw, err := s.complete(ctx, OpOptimize, "optimize-graph", llm.TierAdvanced, map[string]string{
		"KnowledgeGraph": toJSON(before),
	})
	if err != nil {
		return nil, err
	}

	fallback := func(reason string) *OptimizeResult {
		return &OptimizeResult{
			OptimizedGraph: before,
			ChangesMade:    []string{},
			Suggestions:    []string{},
			Revision:       u.KGRevision,
			Error:          reason,
		}
	}

	var parsed struct {
		RestructuredGraph any   `json:"restructured_graph"`
		ChangesMade       []any `json:"changes_made"`
		Suggestions       []any `json:"suggestions"`
	}
	if !decode(OpOptimize, raw, &parsed) || parsed.RestructuredGraph == nil {
		return fallback(llm.ParseFailureMarker), nil
	}
	after, err := knowledge.ParseValue(parsed.RestructuredGraph)
	if err != nil {
		logger.Warn().Err(err).Msg("restructured graph failed validation, keeping the stored graph")
		return fallback(fmt.Sprintf("%s: %v", llm.ParseFailureMarker, err)), nil
	}
	if err := knowledge.CheckConservation(before, after); err != nil {
		logger.Error().Err(err).Msg("restructured graph dropped data, keeping the stored graph")
		return nil, err
	}

	result := &OptimizeResult{
		OptimizedGraph: after,
		ChangesMade:    textList(parsed.ChangesMade),
		Suggestions:    textList(parsed.Suggestions),
		Revision:       u.KGRevision,
	}
	result.TotalChanges = len(result.ChangesMade)

	if result.TotalChanges == 0 || knowledge.Equal(before, after) {
		logger.Info().Msg("knowledge graph is already well structured")
		result.OptimizedGraph = before
		return result, nil
	}
	if err := s.saveGraph(ctx, u, after); err != nil {
		return nil, err
	}
	result.KnowledgeGraphUpdated = true
	result.Revision = u.KGRevision

	logger.Info().Int("changes", result.TotalChanges).Int64("revision", u.KGRevision).Msg("knowledge graph optimized")
	return result, nil
}

// textList keeps the non-blank entries of a model list, rendering non-strings as text
func textList(items []any) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		var text string
		switch v := item.(type) {
		case nil:
			continue
		case string:
			text = v
		default:
			text = toCompactJSON(v)
		}
		if text = strings.TrimSpace(text); text != "" {
			out = append(out, text)
		}
	}
	return out
}
