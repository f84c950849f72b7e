package workflow

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/resume-builder/internal/llm"
	"github.com/jonathan/resume-builder/internal/types"
)

func TestParseText_AppendsProject(t *testing.T) {
	fx := newFixture(t)
	fx.setGraph(t, &types.KnowledgeGraph{Projects: []types.ProjectRecord{{Name: "Old project", Description: "• kept"}}})
	_, revBefore := fx.graph(t)
	fx.llm.reply(OpParseText, `{
		"category": "projects",
		"data": {"name": "AI Resume Builder", "description": "• Generates tailored resumes", "technologies": ["Go", "Gemini"], "start_date": "2024-01"},
		"confidence": 0.85,
		"reasoning": "describes a side project"
	}`)

	res, err := fx.svc.ParseText(fx.ctx, fx.userID(), "Built an AI resume builder in Go with Gemini in Jan 2024")
	require.NoError(t, err)
	assert.Equal(t, types.CategoryProjects, res.Category)
	assert.InDelta(t, 0.85, res.Confidence, 0.0001)
	assert.Equal(t, "describes a side project", res.Reasoning)
	assert.True(t, res.KnowledgeGraphUpdated)
	require.NotNil(t, res.Merge)
	assert.Equal(t, 1, res.Merge.Added)

	kg, rev := fx.graph(t)
	assert.Equal(t, revBefore+1, rev)
	assert.Equal(t, rev, res.Revision)
	require.Len(t, kg.Projects, 2)
	assert.Equal(t, "Old project", kg.Projects[0].Name, "existing entries keep their position")
	assert.Equal(t, "AI Resume Builder", kg.Projects[1].Name)
	assert.Equal(t, []string{"Go", "Gemini"}, kg.Projects[1].Technologies)

	calls := fx.llm.callsFor(OpParseText)
	require.Len(t, calls, 1)
	assert.Equal(t, llm.TierLite, calls[0].Tier)
	assert.Contains(t, calls[0].Prompt, "Built an AI resume builder")
}

func TestParseText_NonFiniteConfidence(t *testing.T) {
	fx := newFixture(t)
	fx.llm.reply(OpParseText, `{"category": "skills", "data": ["Rust"], "confidence": "-Inf"}`)

	res, err := fx.svc.ParseText(fx.ctx, fx.userID(), "I write Rust")
	require.NoError(t, err)
	assert.Zero(t, res.Confidence)
	assert.True(t, res.KnowledgeGraphUpdated)
	_, err = json.Marshal(res)
	assert.NoError(t, err)
}

func TestParseText_ParseFailureDoesNotMerge(t *testing.T) {
	fx := newFixture(t)
	fx.llm.reply(OpParseText, "This sounds like a project.")

	res, err := fx.svc.ParseText(fx.ctx, fx.userID(), "I like building things")
	require.NoError(t, err)
	assert.Equal(t, llm.ParseFailureMarker, res.Error)
	assert.Equal(t, types.CategoryMisc, res.Category)
	assert.Zero(t, res.Confidence)
	assert.False(t, res.KnowledgeGraphUpdated)

	kg, rev := fx.graph(t)
	assert.Zero(t, rev)
	assert.True(t, kg.IsEmpty())
}

func TestParseText_UnknownCategoryIsNoop(t *testing.T) {
	fx := newFixture(t)
	fx.llm.reply(OpParseText, `{"category": "hobbies", "data": {"name": "chess"}, "confidence": 0.4}`)

	res, err := fx.svc.ParseText(fx.ctx, fx.userID(), "I play chess")
	require.NoError(t, err)
	assert.False(t, res.KnowledgeGraphUpdated)
	require.NotNil(t, res.Merge)
	assert.Contains(t, res.Merge.Reason, "unknown category")
}

func TestParseText_Errors(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.svc.ParseText(fx.ctx, fx.userID(), " ")
	var pe *PreconditionError
	assert.True(t, errors.As(err, &pe))

	_, err = fx.svc.ParseText(fx.ctx, "no-such-user", "text")
	var nf *NotFoundError
	assert.True(t, errors.As(err, &nf))

	fx.llm.fail(OpParseText, &llm.TransportError{Message: "down"})
	_, err = fx.svc.ParseText(fx.ctx, fx.userID(), "text")
	assert.True(t, llm.IsUpstreamFailure(err))
}
