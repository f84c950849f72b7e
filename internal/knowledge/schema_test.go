package knowledge

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDocument(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr bool
	}{
		{"empty object", `{}`, false},
		{"full graph", `{
			"education": [{"institution": "MIT", "degree": "BS", "gpa": 3.9}],
			"work_experience": [{"company": "Acme", "position": "SRE", "team": "infra"}],
			"projects": [{"name": "cli", "description": "tool", "technologies": ["Go"]}],
			"certifications": [{"name": "CKA"}],
			"research_work": [{"title": "Paper"}],
			"skills": ["Go", "SQL"],
			"misc": {"languages": ["en"]}
		}`, false},
		{"unknown top level key", `{"hobbies": []}`, true},
		{"skills must be strings", `{"skills": [1, 2]}`, true},
		{"records must be objects", `{"education": ["MIT"]}`, true},
		{"misc must be an object", `{"misc": ["a"]}`, true},
		{"not an object", `[]`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDocument([]byte(tt.doc))
			if tt.wantErr {
				require.Error(t, err)
				var valErr *ValidationError
				assert.True(t, errors.As(err, &valErr))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestValidateDocument_FieldPaths(t *testing.T) {
	err := ValidateDocument([]byte(`{"skills": ["Go", 3]}`))
	require.Error(t, err)

	var valErr *ValidationError
	require.True(t, errors.As(err, &valErr))
	require.NotEmpty(t, valErr.Errors)
	assert.Equal(t, "skills.1", valErr.Errors[0].Field)
}

func TestParseDocument(t *testing.T) {
	kg, err := ParseDocument([]byte(`{"skills": ["Go"], "education": [{"institution": "MIT", "degree": "BS"}]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"Go"}, kg.Skills)
	assert.Equal(t, "MIT", kg.Education[0].Institution)
	assert.NotNil(t, kg.Misc)
	assert.NotNil(t, kg.Projects)

	_, err = ParseDocument([]byte(`{not json`))
	require.Error(t, err)
}

func TestParseValue(t *testing.T) {
	kg, err := ParseValue(map[string]any{"misc": map[string]any{"a": "b"}})
	require.NoError(t, err)
	assert.Equal(t, "b", kg.Misc["a"])

	_, err = ParseValue(nil)
	assert.Error(t, err)
}
