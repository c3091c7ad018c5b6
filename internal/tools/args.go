package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ArgumentError reports a call whose arguments do not fit the declared
// signature.
type ArgumentError struct {
	Operation string
	Param     string
	Reason    string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("%s: argument %s %s", e.Operation, e.Param, e.Reason)
}

// Args carries the bound arguments of a call. Declared parameters have
// already been converted: Integer to int64, Date to time.Time, everything
// else to string.
type Args map[string]any

// String returns a string argument, or "" when absent.
func (a Args) String(name string) string {
	switch v := a[name].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Int returns an integer argument.
func (a Args) Int(name string) (int64, bool) {
	n, err := toInt(a[name])
	return n, err == nil
}

// Date returns a calendar-day argument.
func (a Args) Date(name string) (time.Time, bool) {
	switch v := a[name].(type) {
	case time.Time:
		return v, true
	case string:
		d, err := parseDate(v)
		return d, err == nil
	}
	return time.Time{}, false
}

// bind checks raw arguments against the spec and converts declared ones.
// Operations without a signature receive the raw values untouched.
// Undeclared extra arguments are dropped.
func bind(s Spec, raw map[string]any) (Args, error) {
	if s.Signature == nil {
		return Args(raw), nil
	}

	args := make(Args, len(s.Signature.Params))
	for _, p := range s.Signature.Params {
		v, present := raw[p.Name]
		if !present || v == nil {
			if p.Required {
				return nil, &ArgumentError{Operation: s.Name, Param: p.Name, Reason: "is required"}
			}
			continue
		}

		conv, err := convert(p, v)
		if err != nil {
			return nil, &ArgumentError{Operation: s.Name, Param: p.Name, Reason: err.Error()}
		}
		args[p.Name] = conv
	}
	return args, nil
}

func convert(p Param, v any) (any, error) {
	switch p.Kind {
	case Integer:
		return toInt(v)
	case Date:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("must be a date string, got %T", v)
		}
		return parseDate(s)
	case Enum:
		for _, allowed := range p.Values {
			if fmt.Sprint(allowed) == fmt.Sprint(v) {
				return allowed, nil
			}
		}
		return nil, fmt.Errorf("must be one of %v, got %v", p.Values, v)
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	return fmt.Sprint(v), nil
}

func toInt(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, fmt.Errorf("must be a whole number, got %v", n)
		}
		return int64(n), nil
	case json.Number:
		return n.Int64()
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("must be an integer, got %q", n)
		}
		return i, nil
	}
	return 0, fmt.Errorf("must be an integer, got %T", v)
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if d, err := time.Parse(time.DateOnly, s); err == nil {
		return d, nil
	}
	// models occasionally send a full timestamp
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		y, m, d := t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	}
	return time.Time{}, fmt.Errorf("must be a YYYY-MM-DD date, got %q", s)
}
