package schema

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ParseInput turns a command-line or prompt string into a value of f's kind.
// Input that is valid JSON of the right shape is taken as is; task lists
// also accept "a; [x] b" shorthand.
func (f FieldDef) ParseInput(s string) (any, error) {
	switch f.Kind {
	case KindNumber, KindInteger:
		n := json.Number(strings.TrimSpace(s))
		if _, err := n.Float64(); err != nil {
			return nil, invalid("field %q: %q is not a number", f.Name, s)
		}
		return n, nil
	case KindBoolean:
		b, err := strconv.ParseBool(strings.TrimSpace(s))
		if err != nil {
			return nil, invalid("field %q: %q is not a boolean", f.Name, s)
		}
		return b, nil
	case KindTaskList:
		var v []any
		if err := json.Unmarshal([]byte(s), &v); err == nil {
			return v, nil
		}
		var tasks []any
		for _, part := range strings.Split(s, ";") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			done := false
			if rest, ok := strings.CutPrefix(part, "[x]"); ok {
				done, part = true, strings.TrimSpace(rest)
			} else if rest, ok := strings.CutPrefix(part, "[ ]"); ok {
				part = strings.TrimSpace(rest)
			}
			tasks = append(tasks, map[string]any{"text": part, "done": done})
		}
		return tasks, nil
	default:
		return s, nil
	}
}
