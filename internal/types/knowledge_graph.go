// Package types provides type definitions for structured data used throughout the resume-builder system.
//
//nolint:revive // types is a standard Go package name pattern
package types

import (
	"encoding/json"
	"fmt"
)

// Category names a section of the knowledge graph
type Category string

// Knowledge graph categories
const (
	CategoryEducation      Category = "education"
	CategoryWorkExperience Category = "work_experience"
	CategoryProjects       Category = "projects"
	CategoryCertifications Category = "certifications"
	CategoryResearchWork   Category = "research_work"
	CategorySkills         Category = "skills"
	CategoryMisc           Category = "misc"
)

// RecordCategories lists the categories stored as ordered record lists, in document order.
var RecordCategories = []Category{
	CategoryEducation,
	CategoryWorkExperience,
	CategoryProjects,
	CategoryCertifications,
	CategoryResearchWork,
}

// IsRecordCategory reports whether c holds an ordered list of records
func (c Category) IsRecordCategory() bool {
	for _, rc := range RecordCategories {
		if c == rc {
			return true
		}
	}
	return false
}

// Valid reports whether c is one of the known categories
func (c Category) Valid() bool {
	return c.IsRecordCategory() || c == CategorySkills || c == CategoryMisc
}

// KnowledgeGraph is a user's accumulated professional facts.
// Despite the name it is a flat categorized record store.
type KnowledgeGraph struct {
	Education      []EducationRecord      `json:"education"`
	WorkExperience []WorkExperienceRecord `json:"work_experience"`
	Projects       []ProjectRecord        `json:"projects"`
	Certifications []CertificationRecord  `json:"certifications"`
	ResearchWork   []ResearchRecord       `json:"research_work"`
	Skills         []string               `json:"skills"`
	Misc           map[string]any         `json:"misc"`
}

// NewKnowledgeGraph returns an empty graph with non-nil collections so it serializes as
// empty arrays and an empty object rather than nulls.
func NewKnowledgeGraph() *KnowledgeGraph {
	kg := &KnowledgeGraph{}
	kg.Normalize()
	return kg
}

// Normalize replaces nil collections with empty ones
func (kg *KnowledgeGraph) Normalize() {
	if kg.Education == nil {
		kg.Education = []EducationRecord{}
	}
	if kg.WorkExperience == nil {
		kg.WorkExperience = []WorkExperienceRecord{}
	}
	if kg.Projects == nil {
		kg.Projects = []ProjectRecord{}
	}
	if kg.Certifications == nil {
		kg.Certifications = []CertificationRecord{}
	}
	if kg.ResearchWork == nil {
		kg.ResearchWork = []ResearchRecord{}
	}
	if kg.Skills == nil {
		kg.Skills = []string{}
	}
	if kg.Misc == nil {
		kg.Misc = map[string]any{}
	}
}

// IsEmpty reports whether the graph holds no facts at all
func (kg *KnowledgeGraph) IsEmpty() bool {
	if kg == nil {
		return true
	}
	return len(kg.Education) == 0 &&
		len(kg.WorkExperience) == 0 &&
		len(kg.Projects) == 0 &&
		len(kg.Certifications) == 0 &&
		len(kg.ResearchWork) == 0 &&
		len(kg.Skills) == 0 &&
		len(kg.Misc) == 0
}

// Clone returns a deep copy of the graph via a JSON round trip
func (kg *KnowledgeGraph) Clone() (*KnowledgeGraph, error) {
	data, err := json.Marshal(kg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal knowledge graph: %w", err)
	}
	out := &KnowledgeGraph{}
	if err := json.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal knowledge graph: %w", err)
	}
	out.Normalize()
	return out, nil
}

// EducationRecord is an entry in the education category
type EducationRecord struct {
	Institution string         `json:"institution"`
	Degree      string         `json:"degree"`
	Field       string         `json:"field,omitempty"`
	StartDate   string         `json:"start_date,omitempty"`
	EndDate     string         `json:"end_date,omitempty"`
	GPA         string         `json:"gpa,omitempty"`
	Extra       map[string]any `json:"-"`
}

// WorkExperienceRecord is an entry in the work_experience category
type WorkExperienceRecord struct {
	Company     string         `json:"company"`
	Position    string         `json:"position"`
	StartDate   string         `json:"start_date,omitempty"`
	EndDate     string         `json:"end_date,omitempty"`
	Description string         `json:"description,omitempty"`
	Extra       map[string]any `json:"-"`
}

// ProjectRecord is an entry in the projects category
type ProjectRecord struct {
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	Technologies []string       `json:"technologies,omitempty"`
	URL          string         `json:"url,omitempty"`
	StartDate    string         `json:"start_date,omitempty"`
	EndDate      string         `json:"end_date,omitempty"`
	Extra        map[string]any `json:"-"`
}

// CertificationRecord is an entry in the certifications category
type CertificationRecord struct {
	Name         string         `json:"name"`
	Issuer       string         `json:"issuer,omitempty"`
	Date         string         `json:"date,omitempty"`
	CredentialID string         `json:"credential_id,omitempty"`
	URL          string         `json:"url,omitempty"`
	Extra        map[string]any `json:"-"`
}

// ResearchRecord is an entry in the research_work category
type ResearchRecord struct {
	Title       string         `json:"title"`
	Venue       string         `json:"venue,omitempty"`
	Date        string         `json:"date,omitempty"`
	Description string         `json:"description,omitempty"`
	URL         string         `json:"url,omitempty"`
	Extra       map[string]any `json:"-"`
}

// Records carry convention-only schemas. Keys outside the known set are kept in Extra and
// written back inline so no user data is lost across a round trip.

type educationAlias EducationRecord

// UnmarshalJSON implements json.Unmarshaler
func (r *EducationRecord) UnmarshalJSON(data []byte) error {
	extra, err := decodeWithExtra(data, (*educationAlias)(r),
		"institution", "degree", "field", "start_date", "end_date", "gpa")
	r.Extra = extra
	return err
}

// MarshalJSON implements json.Marshaler
func (r EducationRecord) MarshalJSON() ([]byte, error) {
	return encodeWithExtra(educationAlias(r), r.Extra)
}

type workExperienceAlias WorkExperienceRecord

// UnmarshalJSON implements json.Unmarshaler
func (r *WorkExperienceRecord) UnmarshalJSON(data []byte) error {
	extra, err := decodeWithExtra(data, (*workExperienceAlias)(r),
		"company", "position", "start_date", "end_date", "description")
	r.Extra = extra
	return err
}

// MarshalJSON implements json.Marshaler
func (r WorkExperienceRecord) MarshalJSON() ([]byte, error) {
	return encodeWithExtra(workExperienceAlias(r), r.Extra)
}

type projectAlias ProjectRecord

// UnmarshalJSON implements json.Unmarshaler
func (r *ProjectRecord) UnmarshalJSON(data []byte) error {
	extra, err := decodeWithExtra(data, (*projectAlias)(r),
		"name", "description", "technologies", "url", "start_date", "end_date")
	r.Extra = extra
	return err
}

// MarshalJSON implements json.Marshaler
func (r ProjectRecord) MarshalJSON() ([]byte, error) {
	return encodeWithExtra(projectAlias(r), r.Extra)
}

type certificationAlias CertificationRecord

// UnmarshalJSON implements json.Unmarshaler
func (r *CertificationRecord) UnmarshalJSON(data []byte) error {
	extra, err := decodeWithExtra(data, (*certificationAlias)(r),
		"name", "issuer", "date", "credential_id", "url")
	r.Extra = extra
	return err
}

// MarshalJSON implements json.Marshaler
func (r CertificationRecord) MarshalJSON() ([]byte, error) {
	return encodeWithExtra(certificationAlias(r), r.Extra)
}

type researchAlias ResearchRecord

// UnmarshalJSON implements json.Unmarshaler
func (r *ResearchRecord) UnmarshalJSON(data []byte) error {
	extra, err := decodeWithExtra(data, (*researchAlias)(r),
		"title", "venue", "date", "description", "url")
	r.Extra = extra
	return err
}

// MarshalJSON implements json.Marshaler
func (r ResearchRecord) MarshalJSON() ([]byte, error) {
	return encodeWithExtra(researchAlias(r), r.Extra)
}

// decodeWithExtra decodes data into v and returns any keys not listed in known.
// Scalar values under known keys are coerced to the field's shape first, so a numeric
// gpa or a comma separated technologies string still decode.
func decodeWithExtra(data []byte, v any, known ...string) (map[string]any, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	knownVals := make(map[string]any, len(known))
	for _, k := range known {
		val, ok := raw[k]
		if !ok {
			continue
		}
		delete(raw, k)
		knownVals[k] = coerceField(k, val)
	}
	coerced, err := json.Marshal(knownVals)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(coerced, v); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return raw, nil
}

func coerceField(key string, val any) any {
	if key == "technologies" {
		switch t := val.(type) {
		case string:
			if t == "" {
				return []string{}
			}
			return []string{t}
		case []any:
			out := make([]string, 0, len(t))
			for _, item := range t {
				if s := scalarString(item); s != "" {
					out = append(out, s)
				}
			}
			return out
		default:
			return []string{}
		}
	}
	return scalarString(val)
}

func scalarString(val any) string {
	switch t := val.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64, bool:
		return fmt.Sprint(t)
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

// encodeWithExtra encodes v and folds extra keys into the resulting object.
// Known fields win over extra keys with the same name.
func encodeWithExtra(v any, extra map[string]any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if len(extra) == 0 {
		return data, nil
	}
	merged := make(map[string]any, len(extra))
	for k, val := range extra {
		merged[k] = val
	}
	var known map[string]any
	if err := json.Unmarshal(data, &known); err != nil {
		return nil, err
	}
	for k, val := range known {
		merged[k] = val
	}
	return json.Marshal(merged)
}
