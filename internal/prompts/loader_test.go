package prompts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet_ValidPrompt(t *testing.T) {
	ClearCache()

	prompt, err := Get(WorkflowFile, "analyze-job")
	require.NoError(t, err)
	assert.NotEmpty(t, prompt.System)
	assert.Contains(t, prompt.User, "{{.JobDescription}}")
}

func TestGet_InvalidFile(t *testing.T) {
	ClearCache()

	_, err := Get("nonexistent.json", "some-key")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read prompt file")
}

func TestGet_InvalidKey(t *testing.T) {
	ClearCache()

	_, err := Get(WorkflowFile, "nonexistent-key")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestMustGet_Panics(t *testing.T) {
	ClearCache()

	assert.Panics(t, func() {
		MustGet("nonexistent.json", "some-key")
	})
}

func TestWorkflowPrompts_AllPresent(t *testing.T) {
	ClearCache()

	keys, err := List(WorkflowFile)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"analyze-job",
		"category-schemas",
		"company-summary",
		"compare-requirements",
		"generate-questionnaire",
		"optimize-graph",
		"parse-text",
		"process-answer",
	}, keys)

	for _, key := range keys {
		p := MustGet(WorkflowFile, key)
		assert.NotEmpty(t, p.User, key)
		if key != "category-schemas" {
			assert.Contains(t, p.User, "Return ONLY the JSON object", key)
		}
	}
}

func TestFormat(t *testing.T) {
	template := "Hello {{.Name}}, welcome to {{.Company}}!"
	data := map[string]string{
		"Name":    "Alice",
		"Company": "Acme Corp",
	}

	assert.Equal(t, "Hello Alice, welcome to Acme Corp!", Format(template, data))
}

func TestFormat_EmptyData(t *testing.T) {
	template := "Hello {{.Name}}"
	assert.Equal(t, template, Format(template, map[string]string{}))
}

func TestFormat_ValuesAreNotReexpanded(t *testing.T) {
	out := Format("{{.A}} and {{.B}}", map[string]string{
		"A": "literal {{.B}}",
		"B": "bee",
	})
	assert.Equal(t, "literal {{.B}} and bee", out)
}

func TestTemplate_Render(t *testing.T) {
	tmpl := MustGet(WorkflowFile, "parse-text")
	out := tmpl.Render(map[string]string{"Text": "I know Go", "Schemas": "SCHEMAS"})

	assert.Contains(t, out.User, "I know Go")
	assert.Contains(t, out.User, "SCHEMAS")
	assert.False(t, strings.Contains(out.User, "{{.Text}}"))
	assert.Equal(t, tmpl.System, out.System)
}

func TestCaching(t *testing.T) {
	ClearCache()

	prompt1, err := Get(WorkflowFile, "compare-requirements")
	require.NoError(t, err)
	prompt2, err := Get(WorkflowFile, "compare-requirements")
	require.NoError(t, err)

	assert.Equal(t, prompt1, prompt2)
}
