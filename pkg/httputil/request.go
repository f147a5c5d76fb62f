package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
)

// DateLayout is the calendar-day form accepted for date query parameters
const DateLayout = "2006-01-02"

// ParamError reports a malformed or missing request parameter
type ParamError struct {
	Name  string
	Value string
	Want  string
}

func (e *ParamError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("missing parameter %s", e.Name)
	}
	return fmt.Sprintf("parameter %s must be %s, got %q", e.Name, e.Want, e.Value)
}

// ParseJSON decodes a single JSON object from the body, rejecting unknown fields
func ParseJSON(r *http.Request, dest interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// ParseJSONOrError is ParseJSON that answers 400 itself; callers return on false
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := ParseJSON(r, dest); err != nil {
		WriteBadRequest(w, err.Error())
		return false
	}
	return true
}

func pathVar(r *http.Request, key string) (string, error) {
	if v := mux.Vars(r)[key]; v != "" {
		return v, nil
	}
	return "", &ParamError{Name: key}
}

// ParsePathInt64OrError reads an integer route variable, answering 400 when it is bad
func ParsePathInt64OrError(w http.ResponseWriter, r *http.Request, key string) (int64, bool) {
	raw, err := pathVar(r, key)
	if err == nil {
		var v int64
		if v, err = strconv.ParseInt(raw, 10, 64); err == nil {
			return v, true
		}
		err = &ParamError{Name: key, Value: raw, Want: "an integer"}
	}
	WriteBadRequest(w, err.Error())
	return 0, false
}

// ParsePathStringOrError reads a route variable, answering 400 when it is empty
func ParsePathStringOrError(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	v, err := pathVar(r, key)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return "", false
	}
	return v, true
}

// queryValue parses the named query parameter with parse, returning def when
// the parameter is absent.
func queryValue[T any](r *http.Request, key string, def T, want string, parse func(string) (T, error)) (T, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := parse(raw)
	if err != nil {
		var zero T
		return zero, &ParamError{Name: key, Value: raw, Want: want}
	}
	return v, nil
}

func parseInt64(s string) (int64, error) { return strconv.ParseInt(s, 10, 64) }

func ParseQueryInt(r *http.Request, key string, def int) (int, error) {
	return queryValue(r, key, def, "an integer", strconv.Atoi)
}

func ParseQueryInt64(r *http.Request, key string, def int64) (int64, error) {
	return queryValue(r, key, def, "an integer", parseInt64)
}

func ParseQueryBool(r *http.Request, key string, def bool) (bool, error) {
	return queryValue(r, key, def, "a boolean", strconv.ParseBool)
}

// ParseQueryTime accepts RFC 3339 or a bare YYYY-MM-DD date (UTC midnight).
// An absent parameter yields the zero time.
func ParseQueryTime(r *http.Request, key string) (time.Time, error) {
	return queryValue(r, key, time.Time{}, "RFC 3339 or "+DateLayout, func(s string) (time.Time, error) {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t, nil
		}
		return time.Parse(DateLayout, s)
	})
}

// ParseQueryInt64List merges every occurrence of key, each a comma-separated
// list of integers. Empty items are skipped.
func ParseQueryInt64List(r *http.Request, key string) ([]int64, error) {
	var ids []int64
	for _, raw := range r.URL.Query()[key] {
		for _, item := range strings.Split(raw, ",") {
			if item = strings.TrimSpace(item); item == "" {
				continue
			}
			v, err := parseInt64(item)
			if err != nil {
				return nil, &ParamError{Name: key, Value: item, Want: "a list of integers"}
			}
			ids = append(ids, v)
		}
	}
	return ids, nil
}
