package workflow

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/jonathan/resume-builder/internal/llm"
)

// CustomPromptRequest runs an arbitrary prompt through the gateway
type CustomPromptRequest struct {
	Prompt       string `json:"prompt" validate:"max=100000"`
	SystemPrompt string `json:"system_prompt,omitempty" validate:"max=20000"`
	// Model overrides the configured model
	Model string `json:"model,omitempty" validate:"max=100"`
}

// CustomPromptResult is the raw model reply
type CustomPromptResult struct {
	Response       string `json:"response"`
	Model          string `json:"model"`
	PromptLength   int    `json:"prompt_length"`
	ResponseLength int    `json:"response_length"`
}

// CustomPrompt sends req to the gateway unchanged and returns the raw text
func (s *Service) CustomPrompt(ctx context.Context, req CustomPromptRequest) (*CustomPromptResult, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, &PreconditionError{Message: "prompt is required"}
	}
	llmReq := llm.Request{
		Operation: OpCustomPrompt,
		System:    req.SystemPrompt,
		Prompt:    req.Prompt,
		Tier:      llm.TierStandard,
		Model:     strings.TrimSpace(req.Model),
	}
	model := s.llm.ModelFor(llmReq)
	log.Info().Str("operation", OpCustomPrompt).Str("model", model).Int("prompt_length", len(req.Prompt)).Msg("running custom prompt")

	text, err := s.llm.Complete(ctx, llmReq)
	if err != nil {
		return nil, err
	}
	return &CustomPromptResult{
		Response:       text,
		Model:          model,
		PromptLength:   len(req.Prompt),
		ResponseLength: len(text),
	}, nil
}
