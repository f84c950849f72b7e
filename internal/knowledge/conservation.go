package knowledge

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/jonathan/resume-builder/internal/types"
)

// CheckConservation verifies that every leaf value of before can still be found in after.
// A value counts as found when it occurs, case-insensitively, anywhere in the text of after's
// keys and values, so a fact may move between categories or be folded into a description.
// Returns *ConservationError listing the values that went missing.
func CheckConservation(before, after *types.KnowledgeGraph) error {
	oldLeaves, err := leaves(before)
	if err != nil {
		return err
	}
	haystack, err := flattenText(after)
	if err != nil {
		return err
	}

	var missing []string
	seen := make(map[string]struct{})
	for _, v := range oldLeaves {
		needle := strings.ToLower(strings.TrimSpace(v))
		if needle == "" {
			continue
		}
		if _, dup := seen[needle]; dup {
			continue
		}
		seen[needle] = struct{}{}
		if !strings.Contains(haystack, needle) {
			missing = append(missing, v)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &ConservationError{Missing: missing}
	}
	return nil
}

// Equal reports whether two graphs hold the same document
func Equal(a, b *types.KnowledgeGraph) bool {
	ab, err := canonical(a)
	if err != nil {
		return false
	}
	bb, err := canonical(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

// canonical encodes a graph through a generic map so key order is stable
func canonical(kg *types.KnowledgeGraph) ([]byte, error) {
	c := types.NewKnowledgeGraph()
	if kg != nil {
		var err error
		if c, err = kg.Clone(); err != nil {
			return nil, err
		}
	}
	generic, err := toGeneric(c)
	if err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

func toGeneric(kg *types.KnowledgeGraph) (any, error) {
	if kg == nil {
		kg = types.NewKnowledgeGraph()
	}
	data, err := json.Marshal(kg)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func leaves(kg *types.KnowledgeGraph) ([]string, error) {
	generic, err := toGeneric(kg)
	if err != nil {
		return nil, err
	}
	var out []string
	walk(generic, func(s string, isKey bool) {
		if !isKey {
			out = append(out, s)
		}
	})
	return out, nil
}

func flattenText(kg *types.KnowledgeGraph) (string, error) {
	generic, err := toGeneric(kg)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	walk(generic, func(s string, _ bool) {
		sb.WriteString(strings.ToLower(s))
		sb.WriteByte('\n')
	})
	return sb.String(), nil
}

// walk visits every string and number in v, keys included
func walk(v any, visit func(s string, isKey bool)) {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			visit(k, true)
			walk(val, visit)
		}
	case []any:
		for _, val := range t {
			walk(val, visit)
		}
	case string:
		visit(t, false)
	case float64:
		visit(strconv.FormatFloat(t, 'f', -1, 64), false)
	}
}
