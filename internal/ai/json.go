package ai

import (
	"encoding/json"
	"errors"
	"strings"
)

// Validator is implemented by skill outputs that check their own schema.
type Validator interface {
	Validate() error
}

// StripFences removes a surrounding markdown code fence (``` or ```json)
// and any prose around the outermost JSON object or array.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		} else {
			s = strings.TrimPrefix(strings.TrimSpace(s), "json")
		}
		if end := strings.LastIndex(s, "```"); end >= 0 {
			s = s[:end]
		}
		s = strings.TrimSpace(s)
	}
	if json.Valid([]byte(s)) {
		return s
	}
	return outermostJSON(s)
}

// outermostJSON returns the span from the first '{' or '[' to the last
// matching closer, or s unchanged when there is none.
func outermostJSON(s string) string {
	obj, arr := strings.IndexByte(s, '{'), strings.IndexByte(s, '[')
	start, closer := obj, byte('}')
	if obj < 0 || (arr >= 0 && arr < obj) {
		start, closer = arr, ']'
	}
	if start < 0 {
		return s
	}
	end := strings.LastIndexByte(s, closer)
	if end <= start {
		return s
	}
	return s[start : end+1]
}

// decodeJSON strips fences, unmarshals into out and runs its validation.
// Every failure is a *MalformedOutputError.
func decodeJSON(raw string, out any) error {
	body := StripFences(raw)
	if body == "" {
		return &MalformedOutputError{Raw: raw, Err: errors.New("empty body")}
	}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return &MalformedOutputError{Raw: raw, Err: err}
	}
	if v, ok := out.(Validator); ok {
		if err := v.Validate(); err != nil {
			return &MalformedOutputError{Raw: raw, Err: err}
		}
	}
	return nil
}
