package knowledge

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jonathan/resume-builder/internal/types"
)

// MergeResult describes what a merge did to the graph
type MergeResult struct {
	Category types.Category `json:"category"`
	Applied  bool           `json:"applied"`
	Added    int            `json:"added"`
	Reason   string         `json:"reason,omitempty"`
}

// Merge folds one structured extraction into kg in place.
//
// skills are unioned with exact string dedup, existing entries first. Record categories get at
// most one appended entry and existing entries are never touched. misc is shallow merged with
// new keys winning; non-object misc data is stored under item_<unix seconds>. Empty category or
// data is a no-op, and so is a category the graph does not know.
func Merge(kg *types.KnowledgeGraph, category types.Category, data any, now time.Time) (MergeResult, error) {
	res := MergeResult{Category: category}
	if category == "" || isEmptyData(data) {
		res.Reason = "empty category or data"
		return res, nil
	}
	kg.Normalize()

	switch {
	case category == types.CategorySkills:
		res.Added = mergeSkills(kg, skillList(data))
		res.Applied = res.Added > 0
		if !res.Applied {
			res.Reason = "no new skills"
		}
		return res, nil

	case category.IsRecordCategory():
		obj, ok := data.(map[string]any)
		if !ok {
			return res, fmt.Errorf("%s entry must be an object, got %T", category, data)
		}
		if err := appendRecord(kg, category, obj); err != nil {
			return res, err
		}
		res.Applied = true
		res.Added = 1
		return res, nil

	case category == types.CategoryMisc:
		if obj, ok := data.(map[string]any); ok {
			for k, v := range obj {
				kg.Misc[k] = v
			}
			res.Added = len(obj)
		} else {
			kg.Misc[fmt.Sprintf("item_%d", now.Unix())] = data
			res.Added = 1
		}
		res.Applied = true
		return res, nil

	default:
		res.Reason = fmt.Sprintf("unknown category %q", category)
		return res, nil
	}
}

func mergeSkills(kg *types.KnowledgeGraph, incoming []string) int {
	seen := make(map[string]struct{}, len(kg.Skills)+len(incoming))
	for _, s := range kg.Skills {
		seen[s] = struct{}{}
	}
	added := 0
	for _, s := range incoming {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		kg.Skills = append(kg.Skills, s)
		added++
	}
	return added
}

// skillList accepts a list of names, a single name, or an object carrying a name or skills key
func skillList(data any) []string {
	switch v := data.(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			switch s := item.(type) {
			case string:
				out = append(out, s)
			case map[string]any:
				if name, ok := s["name"].(string); ok {
					out = append(out, name)
				}
			}
		}
		return out
	case map[string]any:
		if nested, ok := v["skills"]; ok {
			return skillList(nested)
		}
		if name, ok := v["name"].(string); ok {
			return []string{name}
		}
	}
	return nil
}

func appendRecord(kg *types.KnowledgeGraph, category types.Category, obj map[string]any) error {
	raw, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("failed to encode %s entry: %w", category, err)
	}
	switch category {
	case types.CategoryEducation:
		var rec types.EducationRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("invalid %s entry: %w", category, err)
		}
		kg.Education = append(kg.Education, rec)
	case types.CategoryWorkExperience:
		var rec types.WorkExperienceRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("invalid %s entry: %w", category, err)
		}
		kg.WorkExperience = append(kg.WorkExperience, rec)
	case types.CategoryProjects:
		var rec types.ProjectRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("invalid %s entry: %w", category, err)
		}
		kg.Projects = append(kg.Projects, rec)
	case types.CategoryCertifications:
		var rec types.CertificationRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("invalid %s entry: %w", category, err)
		}
		kg.Certifications = append(kg.Certifications, rec)
	case types.CategoryResearchWork:
		var rec types.ResearchRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("invalid %s entry: %w", category, err)
		}
		kg.ResearchWork = append(kg.ResearchWork, rec)
	}
	return nil
}

func isEmptyData(data any) bool {
	switch v := data.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []any:
		return len(v) == 0
	case []string:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	}
	return false
}
