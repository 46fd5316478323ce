package schema

import (
	"bytes"
	"encoding/json"
	"regexp"
	"slices"
	"time"
	"unicode/utf8"
)

type validatorFunc func(f FieldDef, v any, extraEnum []string) error

var validators = map[Kind]validatorFunc{
	KindText:     validateText,
	KindString:   validateText,
	KindNumber:   validateNumber,
	KindInteger:  validateInteger,
	KindBoolean:  validateBoolean,
	KindDate:     validateDate,
	KindDateTime: validateDateTime,
	KindEnum:     validateEnum,
	KindTaskList: validateTaskList,
}

// Decode parses entry data into a map, keeping numbers as json.Number.
func Decode(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, invalid("entry data is not valid JSON: %v", err)
	}
	if dec.More() {
		return nil, invalid("entry data has trailing content")
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, invalid("entry data must be a JSON object")
	}
	return obj, nil
}

func validateText(f FieldDef, v any, _ []string) error {
	s, ok := v.(string)
	if !ok {
		return invalid("field %q must be a string", f.Name)
	}
	if f.MaxLength > 0 && utf8.RuneCountInString(s) > f.MaxLength {
		return invalid("field %q exceeds %d characters", f.Name, f.MaxLength)
	}
	if f.Pattern != "" {
		re, err := regexp.Compile(f.Pattern)
		if err != nil {
			return invalid("field %q pattern: %v", f.Name, err)
		}
		if !re.MatchString(s) {
			return invalid("field %q does not match %q", f.Name, f.Pattern)
		}
	}
	return nil
}

func checkRange(f FieldDef, x float64) error {
	if f.Min != nil && x < *f.Min {
		return invalid("field %q is below %v", f.Name, *f.Min)
	}
	if f.Max != nil && x > *f.Max {
		return invalid("field %q is above %v", f.Name, *f.Max)
	}
	return nil
}

func validateNumber(f FieldDef, v any, _ []string) error {
	n, ok := v.(json.Number)
	if !ok {
		return invalid("field %q must be a number", f.Name)
	}
	x, err := n.Float64()
	if err != nil {
		return invalid("field %q must be a number", f.Name)
	}
	return checkRange(f, x)
}

func validateInteger(f FieldDef, v any, _ []string) error {
	n, ok := v.(json.Number)
	if !ok {
		return invalid("field %q must be an integer", f.Name)
	}
	i, err := n.Int64()
	if err != nil {
		return invalid("field %q must be an integer", f.Name)
	}
	return checkRange(f, float64(i))
}

func validateBoolean(f FieldDef, v any, _ []string) error {
	if _, ok := v.(bool); !ok {
		return invalid("field %q must be a boolean", f.Name)
	}
	return nil
}

func validateDate(f FieldDef, v any, _ []string) error {
	s, ok := v.(string)
	if !ok {
		return invalid("field %q must be a date string", f.Name)
	}
	if _, err := time.Parse(time.DateOnly, s); err != nil {
		return invalid("field %q must be a date (YYYY-MM-DD)", f.Name)
	}
	return nil
}

func validateDateTime(f FieldDef, v any, _ []string) error {
	s, ok := v.(string)
	if !ok {
		return invalid("field %q must be a datetime string", f.Name)
	}
	if _, err := time.Parse(time.RFC3339, s); err != nil {
		return invalid("field %q must be an RFC 3339 datetime", f.Name)
	}
	return nil
}

func validateEnum(f FieldDef, v any, extra []string) error {
	s, ok := v.(string)
	if !ok {
		return invalid("field %q must be a string", f.Name)
	}
	if slices.Contains(f.Values, s) || slices.Contains(extra, s) {
		return nil
	}
	return invalid("field %q must be one of %v", f.Name, append(slices.Clone(f.Values), extra...))
}

func validateTaskList(f FieldDef, v any, _ []string) error {
	items, ok := v.([]any)
	if !ok {
		return invalid("field %q must be a list of tasks", f.Name)
	}
	for i, item := range items {
		task, ok := item.(map[string]any)
		if !ok {
			return invalid("field %q task %d must be an object", f.Name, i)
		}
		text, ok := task["text"].(string)
		if !ok || text == "" {
			return invalid("field %q task %d needs text", f.Name, i)
		}
		for k, val := range task {
			switch k {
			case "text":
			case "done":
				if _, ok := val.(bool); !ok {
					return invalid("field %q task %d done must be a boolean", f.Name, i)
				}
			default:
				return invalid("field %q task %d has unknown key %q", f.Name, i, k)
			}
		}
	}
	return nil
}
